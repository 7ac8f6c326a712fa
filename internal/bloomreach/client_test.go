package bloomreach_test

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"shopfeed/internal/bloomreach"
)

// ─────────────────────────────────────────────────────────────
// Catalog publisher tests
// ─────────────────────────────────────────────────────────────

func TestHostname(t *testing.T) {
	cases := []struct {
		env  string
		want string
	}{
		{"staging", "api-staging.connect.bloomreach.com"},
		{"production", "api.connect.bloomreach.com"},
	}
	for _, c := range cases {
		got, err := bloomreach.Hostname(c.env)
		if err != nil {
			t.Fatalf("Hostname(%q): %v", c.env, err)
		}
		if got != c.want {
			t.Errorf("Hostname(%q) = %q, want %q", c.env, got, c.want)
		}
	}
	if _, err := bloomreach.Hostname("qa"); err == nil {
		t.Error("unknown environment should error")
	}
}

func testClient(baseURL string) *bloomreach.Client {
	c := bloomreach.NewClient("staging", "1234", "main", "tok", nil)
	c.BaseURL = baseURL
	c.PollInterval = time.Millisecond
	c.PollTimeout = time.Second
	return c
}

func TestPutProducts(t *testing.T) {
	patch := filepath.Join(t.TempDir(), "patch.jsonl.gz")
	f, err := os.Create(patch)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	io.WriteString(gz, `{"op":"add","path":"/products/shirt","value":{}}`+"\n")
	gz.Close()
	f.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/accounts/1234/catalogs/main/products" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json-patch+jsonlines" {
			t.Errorf("content type = %q", got)
		}
		if got := r.Header.Get("Content-Encoding"); got != "gzip" {
			t.Errorf("content encoding = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testClient(srv.URL).PutProducts(context.Background(), patch); err != nil {
		t.Fatalf("PutProducts: %v", err)
	}
}

func TestPutProducts_HTTPError(t *testing.T) {
	patch := filepath.Join(t.TempDir(), "patch.jsonl.gz")
	if err := os.WriteFile(patch, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad feed", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	if err := testClient(srv.URL).PutProducts(context.Background(), patch); err == nil {
		t.Fatal("expected error on 422")
	}
}

func TestRunIndex_PollsToSuccess(t *testing.T) {
	var checks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			fmt.Fprint(w, `{"jobId":"job-7"}`)
		case r.URL.Path == "/jobs/job-7":
			if checks.Add(1) < 3 {
				fmt.Fprint(w, `{"status":"running"}`)
			} else {
				fmt.Fprint(w, `{"status":"success"}`)
			}
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	if err := testClient(srv.URL).RunIndex(context.Background()); err != nil {
		t.Fatalf("RunIndex: %v", err)
	}
	if checks.Load() < 3 {
		t.Errorf("expected at least 3 status checks, got %d", checks.Load())
	}
}

func TestRunIndex_TerminalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"jobId":"job-8"}`)
			return
		}
		fmt.Fprint(w, `{"status":"killed"}`)
	}))
	defer srv.Close()

	err := testClient(srv.URL).RunIndex(context.Background())
	if err == nil {
		t.Fatal("expected error for killed index job")
	}
}
