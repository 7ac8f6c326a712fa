package shopify

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ── Export client ──────────────────────────────────────────
// Thin wrapper over the Admin GraphQL API: submit a bulk operation,
// poll it to completion, download the resulting JSONL. All transform
// logic lives elsewhere; this package is network I/O only.

// ErrJobInProgress is returned by Submit when the shop already has a
// bulk operation running; callers retry after a delay.
var ErrJobInProgress = fmt.Errorf("another bulk operation is already in progress")

// ExportKind selects which bulk query to run.
type ExportKind int

const (
	ExportFull ExportKind = iota
	ExportTranslations
	ExportDelta
	ExportMarkets
)

// ExportOptions parameterizes a bulk export.
type ExportOptions struct {
	Kind      ExportKind
	Language  string // translations export locale
	StartDate string // delta export lower bound, ISO 8601
}

// Client talks to one shop's Admin API.
type Client struct {
	ShopURL    string // hostname, e.g. xyz.myshopify.com
	Token      string
	APIVersion string

	HTTP         *http.Client
	PollInterval time.Duration
	PollTimeout  time.Duration

	Log *zap.SugaredLogger
}

// NewClient builds a client with the default poll policy (20s step,
// 2h timeout — bulk operations on large stores are slow).
func NewClient(shopURL, token, apiVersion string, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		ShopURL:      shopURL,
		Token:        token,
		APIVersion:   apiVersion,
		HTTP:         &http.Client{Timeout: 60 * time.Second},
		PollInterval: 20 * time.Second,
		PollTimeout:  2 * time.Hour,
		Log:          log,
	}
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("https://%s/admin/api/%s/graphql.json", c.ShopURL, c.APIVersion)
}

// execute posts one GraphQL document and decodes the response.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any) (map[string]any, error) {
	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("graphql http %d: %s", resp.StatusCode, snippet)
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if errs, ok := decoded["errors"]; ok {
		return nil, fmt.Errorf("graphql errors: %v", errs)
	}
	return decoded, nil
}

// Submit starts a bulk export and returns the operation id. Returns
// ErrJobInProgress when the shop is busy with another operation.
func (c *Client) Submit(ctx context.Context, opts ExportOptions) (string, error) {
	var query string
	switch opts.Kind {
	case ExportTranslations:
		query = renderQuery(exportDataJobTranslations, map[string]string{"language": opts.Language})
	case ExportDelta:
		query = renderQuery(exportDataJobDelta, map[string]string{"start_date": opts.StartDate})
	case ExportMarkets:
		query = marketProductsJob
	default:
		query = exportDataJob
	}

	decoded, err := c.execute(ctx, query, nil)
	if err != nil {
		if strings.Contains(err.Error(), "already in progress") {
			return "", ErrJobInProgress
		}
		return "", err
	}

	data, _ := decoded["data"].(map[string]any)
	run, _ := data["bulkOperationRunQuery"].(map[string]any)
	op, _ := run["bulkOperation"].(map[string]any)
	if op == nil {
		if raw, _ := json.Marshal(run); strings.Contains(string(raw), "already in progress") {
			return "", ErrJobInProgress
		}
		return "", fmt.Errorf("bulk operation was not started: %v", run)
	}
	jobID, _ := op["id"].(string)
	c.Log.Infow("bulk operation submitted", "job_id", jobID)
	return jobID, nil
}

// SubmitAndWaitSlot retries Submit until the shop accepts the job or
// the poll timeout elapses.
func (c *Client) SubmitAndWaitSlot(ctx context.Context, opts ExportOptions) (string, error) {
	deadline := time.Now().Add(c.PollTimeout)
	for {
		jobID, err := c.Submit(ctx, opts)
		if err == nil {
			return jobID, nil
		}
		if err != ErrJobInProgress {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for a bulk operation slot")
		}
		c.Log.Infow("bulk operation slot busy, retrying", "interval", c.PollInterval)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// Result is the terminal state of a completed bulk operation.
type Result struct {
	URL         string // empty when the query matched nothing
	ObjectCount int
}

// Wait polls the operation until COMPLETED. A terminal failure state
// (CANCELED, CANCELING, EXPIRED, FAILED) is an error.
func (c *Client) Wait(ctx context.Context, jobID string) (*Result, error) {
	deadline := time.Now().Add(c.PollTimeout)
	for {
		res, done, err := c.check(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if done {
			return res, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("bulk operation %s did not complete within %s", jobID, c.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

func (c *Client) check(ctx context.Context, jobID string) (*Result, bool, error) {
	decoded, err := c.execute(ctx, getJob, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, false, err
	}
	data, _ := decoded["data"].(map[string]any)
	node, _ := data["node"].(map[string]any)
	if node == nil {
		return nil, false, fmt.Errorf("bulk operation %s not found", jobID)
	}

	status, _ := node["status"].(string)
	count := parseCount(node["objectCount"])
	c.Log.Infow("bulk operation status", "job_id", jobID, "status", status, "objects", count)

	switch status {
	case "COMPLETED":
		url, _ := node["url"].(string)
		if count == 0 || url == "" {
			c.Log.Warnw("bulk operation completed with no objects", "job_id", jobID)
			return &Result{ObjectCount: count}, true, nil
		}
		return &Result{URL: url, ObjectCount: count}, true, nil
	case "CANCELED", "CANCELING", "EXPIRED", "FAILED":
		return nil, false, fmt.Errorf("bulk operation %s ended in state %s", jobID, status)
	default:
		return nil, false, nil
	}
}

// objectCount arrives as a JSON string from the Admin API.
func parseCount(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		var count int
		fmt.Sscanf(n, "%d", &count)
		return count
	default:
		return 0
	}
}

// Download fetches the operation result into a gzip file at dest. An
// empty URL (no objects) produces an empty file so downstream stages
// see a valid, empty stream.
func (c *Client) Download(ctx context.Context, url, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("download http %d", resp.StatusCode)
	}

	gz := gzip.NewWriter(f)
	if _, err := io.Copy(gz, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return gz.Close()
}

// FetchExport runs submit → wait → download and returns the object
// count. The destination file always exists afterwards, possibly empty.
func (c *Client) FetchExport(ctx context.Context, opts ExportOptions, dest string) (int, error) {
	jobID, err := c.SubmitAndWaitSlot(ctx, opts)
	if err != nil {
		return 0, err
	}
	res, err := c.Wait(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if err := c.Download(ctx, res.URL, dest); err != nil {
		return 0, err
	}
	c.Log.Infow("export downloaded", "job_id", jobID, "objects", res.ObjectCount, "dest", dest)
	return res.ObjectCount, nil
}

// JobIDShort returns the numeric tail of a bulk operation GID, used in
// run file names.
func JobIDShort(jobID string) string {
	if i := strings.LastIndex(jobID, "/"); i >= 0 {
		return jobID[i+1:]
	}
	return jobID
}
