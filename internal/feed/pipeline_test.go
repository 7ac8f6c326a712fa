package feed_test

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"shopfeed/internal/feed"
)

// ─────────────────────────────────────────────────────────────
// Pipeline tests — full export file to patch file
// ─────────────────────────────────────────────────────────────

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func readGzipLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	r, closeFn, err := feed.OpenGzipLines(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	lines, err := feed.ReadLines[map[string]any](r)
	if err != nil {
		t.Fatal(err)
	}
	return lines
}

func TestStagePaths(t *testing.T) {
	p := feed.StagePaths("/out", "20260831_120000", "/out/bulk.jsonl.gz")
	if p.Bulk != "/out/bulk.jsonl.gz" {
		t.Errorf("Bulk = %q", p.Bulk)
	}
	if p.Products != filepath.Join("/out", "20260831_120000_1_products.jsonl.gz") {
		t.Errorf("Products = %q", p.Products)
	}
	if p.Patch != filepath.Join("/out", "20260831_120000_3_patch.jsonl.gz") {
		t.Errorf("Patch = %q", p.Patch)
	}
}

func TestPipeline_Run(t *testing.T) {
	dir := t.TempDir()
	bulk := filepath.Join(dir, "bulk.jsonl.gz")
	writeGzip(t, bulk, `{"id":"gid://shopify/Product/1","handle":"shirt","title":"Shirt","status":"ACTIVE","totalInventory":4}
{"id":"gid://shopify/ProductVariant/11","sku":"SH-1","price":"10.00","availableForSale":true,"__parentId":"gid://shopify/Product/1"}
{"id":"gid://shopify/Product/2","handle":"hat","title":"Hat","status":"DRAFT","totalInventory":0}
`)

	p := &feed.Pipeline{
		Derive:  feed.DeriveConfig{StorefrontHost: "shop.example.com"},
		Workers: 2,
	}
	paths := feed.StagePaths(dir, "run1", bulk)
	stats, err := p.Run(context.Background(), paths, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Products != 2 || stats.Patched != 2 {
		t.Errorf("stats = %+v", stats)
	}

	// Stage outputs all exist and line up.
	if got := len(readGzipLines(t, paths.Products)); got != 2 {
		t.Errorf("products stage lines = %d", got)
	}

	patches := readGzipLines(t, paths.Patch)
	if len(patches) != 2 {
		t.Fatalf("patch lines = %d", len(patches))
	}
	// Derivation fan-out must not disturb reconstruction order.
	if patches[0]["path"] != "/products/shirt" || patches[1]["path"] != "/products/hat" {
		t.Errorf("patch order/path wrong: %v, %v", patches[0]["path"], patches[1]["path"])
	}
	if patches[0]["op"] != "add" {
		t.Errorf("op = %v", patches[0]["op"])
	}
	value := patches[0]["value"].(map[string]any)
	attrs := value["attributes"].(map[string]any)
	if attrs["availability"] != true {
		t.Errorf("shirt availability = %v", attrs["availability"])
	}
	variants := value["variants"].(map[string]any)
	if _, ok := variants["SH-1"]; !ok {
		t.Errorf("variants = %v", variants)
	}
}

func TestPipeline_EmptyExport(t *testing.T) {
	dir := t.TempDir()
	bulk := filepath.Join(dir, "empty.jsonl.gz")
	// An export that matched nothing is written as an empty file.
	if err := os.WriteFile(bulk, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	p := &feed.Pipeline{}
	paths := feed.StagePaths(dir, "run2", bulk)
	stats, err := p.Run(context.Background(), paths, nil)
	if err != nil {
		t.Fatalf("Run on empty export: %v", err)
	}
	if stats.Products != 0 || stats.Patched != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if got := len(readGzipLines(t, paths.Patch)); got != 0 {
		t.Errorf("patch lines = %d, want 0", got)
	}
}
