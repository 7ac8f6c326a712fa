package bloomreach

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// ── Catalog publisher ──────────────────────────────────────
// Thin client for the discovery feed API: upload the patch file in
// full-feed mode, then trigger an index job and poll it to completion.
// No transform logic lives here.

const dcEndpoint = "dataconnect/api/v1"

var hostnames = map[string]string{
	"staging":    "api-staging.connect.bloomreach.com",
	"production": "api.connect.bloomreach.com",
}

// Hostname resolves the API host for an environment name.
func Hostname(environment string) (string, error) {
	h, ok := hostnames[environment]
	if !ok {
		return "", fmt.Errorf("invalid environment: %s", environment)
	}
	return h, nil
}

// Client publishes one catalog.
type Client struct {
	Environment string
	AccountID   string
	CatalogName string
	Token       string

	// BaseURL overrides the environment-resolved endpoint when non-empty.
	BaseURL string

	HTTP         *http.Client
	PollInterval time.Duration
	PollTimeout  time.Duration

	Log *zap.SugaredLogger
}

// NewClient builds a client with the default poll policy (10s step,
// 2h timeout, matching the index job SLAs).
func NewClient(environment, accountID, catalogName, token string, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		Environment:  environment,
		AccountID:    accountID,
		CatalogName:  catalogName,
		Token:        token,
		HTTP:         &http.Client{Timeout: 10 * time.Minute},
		PollInterval: 10 * time.Second,
		PollTimeout:  2 * time.Hour,
		Log:          log,
	}
}

func (c *Client) baseURL() (string, error) {
	if c.BaseURL != "" {
		return c.BaseURL, nil
	}
	host, err := Hostname(c.Environment)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://%s/%s", host, dcEndpoint), nil
}

// PutProducts uploads the gzip patch file as a full feed.
func (c *Client) PutProducts(ctx context.Context, patchPath string) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/accounts/%s/catalogs/%s/products", base, c.AccountID, c.CatalogName)

	f, err := os.Open(patchPath)
	if err != nil {
		return fmt.Errorf("open patch: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json-patch+jsonlines")
	req.Header.Set("Content-Encoding", "gzip")

	c.Log.Infow("uploading feed patch", "url", url, "file", patchPath)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("upload patch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload patch http %d: %s", resp.StatusCode, snippet)
	}
	c.Log.Infow("feed patch accepted", "status", resp.StatusCode)
	return nil
}

// TriggerIndex starts an indexing job and returns its id.
func (c *Client) TriggerIndex(ctx context.Context) (string, error) {
	base, err := c.baseURL()
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/accounts/%s/catalogs/%s/indexes", base, c.AccountID, c.CatalogName)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	c.Log.Infow("triggering index job", "url", url)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("trigger index http %d: %s", resp.StatusCode, snippet)
	}

	var body struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode index response: %w", err)
	}
	c.Log.Infow("index job triggered", "job_id", body.JobID)
	return body.JobID, nil
}

// CheckIndex reports whether the index job finished. "failed" and
// "killed" are terminal errors.
func (c *Client) CheckIndex(ctx context.Context, jobID string) (bool, error) {
	base, err := c.baseURL()
	if err != nil {
		return false, err
	}
	url := fmt.Sprintf("%s/jobs/%s", base, jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("check index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("check index http %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	c.Log.Infow("index job status", "job_id", jobID, "status", body.Status)

	switch body.Status {
	case "success":
		return true, nil
	case "failed", "killed":
		return false, fmt.Errorf("index job %s ended in state %s", jobID, body.Status)
	default:
		return false, nil
	}
}

// RunIndex triggers an index job and waits for it to succeed.
func (c *Client) RunIndex(ctx context.Context) error {
	jobID, err := c.TriggerIndex(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.PollTimeout)
	for {
		done, err := c.CheckIndex(ctx, jobID)
		if err != nil {
			return err
		}
		if done {
			c.Log.Infow("index job completed", "job_id", jobID)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("index job %s did not complete within %s", jobID, c.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}
