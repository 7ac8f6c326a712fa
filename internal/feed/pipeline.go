package feed

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ── Pipeline driver ────────────────────────────────────────
// Sequences the transform stages over the export stream:
//
//	bulk export → aggregate (graph reconstruction)
//	            → derive   (namespacing + flattening + catalog fields)
//	            → patch    (feed API operations)
//
// Every stage reads and writes gzip JSONL, saving its output as a
// numbered intermediate for debugging, exactly one file per stage.

// Stats summarizes one pipeline run.
type Stats struct {
	Products int `json:"products"`
	Patched  int `json:"patched"`
}

// Paths names the intermediate files of one run inside the output dir.
type Paths struct {
	Bulk     string // input: raw bulk export
	Products string // stage 1: aggregated product trees
	Feed     string // stage 2: derived catalog records
	Patch    string // stage 3: feed patch operations
}

// StagePaths derives the numbered intermediate names for a run,
// following the {run}_{n}_{stage} convention.
func StagePaths(dir, runName, bulkPath string) Paths {
	prefix := filepath.Join(dir, runName)
	return Paths{
		Bulk:     bulkPath,
		Products: prefix + "_1_products.jsonl.gz",
		Feed:     prefix + "_2_feed.jsonl.gz",
		Patch:    prefix + "_3_patch.jsonl.gz",
	}
}

// Pipeline runs the transform stages.
type Pipeline struct {
	Derive  DeriveConfig
	Flatten *Flattener // nil for default policy
	Workers int        // derive fan-out; <= 0 means GOMAXPROCS
	Log     *zap.SugaredLogger
}

func (p *Pipeline) logger() *zap.SugaredLogger {
	if p.Log == nil {
		return zap.NewNop().Sugar()
	}
	return p.Log
}

// Run executes all stages. markets may be nil (no enrichment).
func (p *Pipeline) Run(ctx context.Context, paths Paths, markets *MarketStore) (*Stats, error) {
	if err := p.AggregateFile(ctx, paths.Bulk, paths.Products); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	stats, err := p.DeriveFile(ctx, paths.Products, paths.Feed, markets)
	if err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	patched, err := p.PatchFile(ctx, paths.Feed, paths.Patch)
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	stats.Patched = patched
	return stats, nil
}

// AggregateFile reconstructs product trees from the raw export.
func (p *Pipeline) AggregateFile(ctx context.Context, inPath, outPath string) error {
	in, closeIn, err := OpenGzipLines(inPath)
	if err != nil {
		return err
	}
	defer closeIn()

	products, err := NewReconstructor(p.logger()).Reconstruct(in)
	if err != nil {
		return err
	}

	out, err := NewLineWriter(outPath)
	if err != nil {
		return err
	}
	for _, product := range products {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		if err := out.Write(product); err != nil {
			out.Close()
			return err
		}
	}
	p.logger().Infow("aggregated products", "count", out.Count(), "out", outPath)
	return out.Close()
}

// DeriveFile turns aggregated product trees into catalog records.
// Derivation is independent per product, so it fans out across a
// bounded worker group; the output is written back in input order by a
// single writer.
func (p *Pipeline) DeriveFile(ctx context.Context, inPath, outPath string, markets *MarketStore) (*Stats, error) {
	in, closeIn, err := OpenGzipLines(inPath)
	if err != nil {
		return nil, err
	}
	products, err := ReadLines[RawRecord](in)
	closeIn()
	if err != nil {
		return nil, err
	}

	deriver := NewDeriver(p.Derive, p.Flatten, p.logger())
	results := make([]OutputProduct, len(products))

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range products {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = deriver.Derive(products[i], markets)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out, err := NewLineWriter(outPath)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if err := out.Write(results[i]); err != nil {
			out.Close()
			return nil, err
		}
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	stats := &Stats{Products: len(results)}
	p.logger().Infow("derived catalog records", "count", stats.Products, "out", outPath)
	return stats, nil
}

// patchOp is one feed API operation line.
type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// PatchFile converts derived records into feed patch operations
// ("add" per product, full-feed semantics).
func (p *Pipeline) PatchFile(ctx context.Context, inPath, outPath string) (int, error) {
	in, closeIn, err := OpenGzipLines(inPath)
	if err != nil {
		return 0, err
	}
	defer closeIn()

	records, err := ReadLines[OutputProduct](in)
	if err != nil {
		return 0, err
	}

	out, err := NewLineWriter(outPath)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			out.Close()
			return 0, err
		}
		op := patchOp{
			Op:   "add",
			Path: "/products/" + rec.ID,
			Value: map[string]any{
				"attributes": rec.Attributes,
				"variants":   rec.Variants,
			},
		}
		if err := out.Write(op); err != nil {
			out.Close()
			return 0, err
		}
	}
	p.logger().Infow("built feed patch", "ops", out.Count(), "out", outPath)
	n := out.Count()
	return n, out.Close()
}
