package service_test

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopfeed/internal/bloomreach"
	"shopfeed/internal/config"
	"shopfeed/internal/service"
	"shopfeed/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// FeedService tests
// ─────────────────────────────────────────────────────────────

func TestFeedService_New(t *testing.T) {
	svc := service.NewFeedService(&config.Config{}, nil, nil, nil, nil, nil)
	if svc == nil {
		t.Fatal("expected non-nil FeedService")
	}
}

func TestFeedService_Stop_Idempotent(t *testing.T) {
	svc := service.NewFeedService(&config.Config{}, nil, nil, nil, nil, nil)
	svc.Stop()
	svc.Stop() // second call should also be safe
}

func TestFeedService_WaitRunning_Immediate(t *testing.T) {
	svc := service.NewFeedService(&config.Config{}, nil, nil, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		svc.WaitRunning(ctx)
		close(done)
	}()

	select {
	case <-done:
		// expected — nothing running
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitRunning hung with no runs in flight")
	}
}

// TestFeedService_RunFromFile exercises the whole run against a local
// feed API: pre-downloaded export in, patch upload and index job out.
func TestFeedService_RunFromFile(t *testing.T) {
	dir := t.TempDir()

	bulk := filepath.Join(dir, "export.jsonl.gz")
	f, err := os.Create(bulk)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	io.WriteString(gz, `{"id":"gid://shopify/Product/1","handle":"shirt","title":"Shirt","status":"ACTIVE","totalInventory":2}
{"id":"gid://shopify/ProductVariant/11","sku":"SH-1","price":"10.00","availableForSale":true,"__parentId":"gid://shopify/Product/1"}
`)
	gz.Close()
	f.Close()

	var gotUpload bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut:
			gotUpload = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			fmt.Fprint(w, `{"jobId":"job-1"}`)
		default:
			fmt.Fprint(w, `{"status":"success"}`)
		}
	}))
	defer srv.Close()

	db, err := storage.New(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := &config.Config{
		ShopURL:     "xyz.myshopify.com",
		CatalogName: "main",
		AccountID:   "1234",
		Environment: "staging",
		OutputDir:   dir,
	}
	catalog := bloomreach.NewClient(cfg.Environment, cfg.AccountID, cfg.CatalogName, "tok", nil)
	catalog.BaseURL = srv.URL
	catalog.PollInterval = time.Millisecond

	emitter := &service.MockEmitter{}
	svc := service.NewFeedService(cfg, nil, catalog, storage.NewRunStore(db), emitter, nil)

	run, err := svc.Run(context.Background(), service.RunOptions{
		Trigger:   "manual",
		InputFile: bulk,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != "success" {
		t.Errorf("status = %q (%s)", run.Status, run.Error)
	}
	if run.Products != 1 || run.Patched != 1 {
		t.Errorf("counts = %d/%d", run.Products, run.Patched)
	}
	if !gotUpload {
		t.Error("patch was never uploaded")
	}

	// The recorded history must match the returned run.
	stored, err := storage.NewRunStore(db).GetRun(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != "success" || stored.Products != 1 {
		t.Errorf("stored run = %+v", stored)
	}

	last := emitter.Events[len(emitter.Events)-1]
	if last.Event != "feed:run-completed" {
		t.Errorf("last event = %q", last.Event)
	}
}

// TestFeedService_RunRecordsFailure verifies a failing publish leaves an
// error row behind instead of vanishing.
func TestFeedService_RunRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	bulk := filepath.Join(dir, "export.jsonl.gz")
	if err := os.WriteFile(bulk, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	db, err := storage.New(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := &config.Config{CatalogName: "main", AccountID: "1234", Environment: "staging", OutputDir: dir}
	catalog := bloomreach.NewClient(cfg.Environment, cfg.AccountID, cfg.CatalogName, "tok", nil)
	catalog.BaseURL = srv.URL

	svc := service.NewFeedService(cfg, nil, catalog, storage.NewRunStore(db), nil, nil)

	run, err := svc.Run(context.Background(), service.RunOptions{InputFile: bulk})
	if err == nil {
		t.Fatal("expected publish failure")
	}
	if run.Status != "error" || run.Error == "" {
		t.Errorf("run = %+v", run)
	}
}
