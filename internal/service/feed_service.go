package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shopfeed/internal/bloomreach"
	"shopfeed/internal/config"
	"shopfeed/internal/feed"
	"shopfeed/internal/shopify"
	"shopfeed/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// FeedService — export → reconstruct → derive → publish
// ─────────────────────────────────────────────────────────────

// FeedService orchestrates one catalog's end-to-end feed runs:
// bulk export (or a pre-downloaded file), the transform pipeline,
// and publication to the catalog plus the follow-up index job.
// Runs are serialized per catalog and recorded in the run store.
type FeedService struct {
	cfg     *config.Config
	shop    *shopify.Client
	catalog *bloomreach.Client
	runs    *storage.RunStore
	emitter EventEmitter
	log     *zap.SugaredLogger

	runningFeeds runningFeedsGuard

	// watcher / cron lifecycle
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewFeedService wires a service from its collaborators. emitter and
// log may be nil.
func NewFeedService(
	cfg *config.Config,
	shop *shopify.Client,
	catalog *bloomreach.Client,
	runs *storage.RunStore,
	emitter EventEmitter,
	log *zap.SugaredLogger,
) *FeedService {
	if emitter == nil {
		emitter = &MockEmitter{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FeedService{
		cfg:     cfg,
		shop:    shop,
		catalog: catalog,
		runs:    runs,
		emitter: emitter,
		log:     log,
	}
}

// ── Run ────────────────────────────────────────────────────

// RunOptions parameterizes one feed run.
type RunOptions struct {
	Trigger   string // "manual" | "schedule" | "file_watch"
	Delta     bool   // export only products updated since the last success
	InputFile string // pre-downloaded bulk export; skips the export step
}

// Run executes a single feed run synchronously.
func (s *FeedService) Run(ctx context.Context, opts RunOptions) (*storage.FeedRun, error) {
	// One run per catalog at a time.
	if !s.runningFeeds.TryLock(s.cfg.CatalogName) {
		return nil, fmt.Errorf("a feed run for catalog %s is already in progress", s.cfg.CatalogName)
	}
	defer s.runningFeeds.Unlock(s.cfg.CatalogName)

	if opts.Trigger == "" {
		opts.Trigger = "manual"
	}
	kind := "full"
	if opts.Delta {
		kind = "delta"
	}

	run := &storage.FeedRun{
		RunName: time.Now().UTC().Format("20060102_150405"),
		Trigger: opts.Trigger,
		Kind:    kind,
	}
	if err := s.runs.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create feed run: %w", err)
	}
	s.log.Infow("feed run started", "run", run.RunName, "trigger", run.Trigger, "kind", run.Kind)
	s.emitter.Emit(ctx, "feed:run-started", run.ID)

	stats, exported, runErr := s.execute(ctx, run, opts)

	status := "success"
	errMsg := ""
	if runErr != nil {
		status = "error"
		errMsg = runErr.Error()
	}
	if stats == nil {
		stats = &feed.Stats{}
	}
	if err := s.runs.FinishRun(run.ID, status, errMsg, exported, stats.Products, stats.Patched); err != nil {
		s.log.Warnw("failed to record run result", "run", run.RunName, "error", err)
	}
	run.Status = status
	run.Error = errMsg
	run.ExportedObjects = exported
	run.Products = stats.Products
	run.Patched = stats.Patched

	if runErr != nil {
		s.emitter.Emit(ctx, "feed:run-failed", run.ID)
		return run, runErr
	}
	s.log.Infow("feed run finished",
		"run", run.RunName, "exported", exported,
		"products", stats.Products, "patched", stats.Patched)
	s.emitter.Emit(ctx, "feed:run-completed", run.ID)
	return run, nil
}

func (s *FeedService) execute(ctx context.Context, run *storage.FeedRun, opts RunOptions) (*feed.Stats, int, error) {
	bulkPath := opts.InputFile
	exported := 0

	if bulkPath == "" {
		exportOpts, err := s.exportOptions(opts)
		if err != nil {
			return nil, 0, err
		}
		bulkPath = filepath.Join(s.cfg.OutputDir, run.RunName+"_0_bulk.jsonl.gz")

		jobID, err := s.shop.SubmitAndWaitSlot(ctx, exportOpts)
		if err != nil {
			return nil, 0, fmt.Errorf("submit export: %w", err)
		}
		if err := s.runs.SetExportJob(run.ID, shopify.JobIDShort(jobID)); err != nil {
			s.log.Warnw("failed to record export job id", "run", run.RunName, "error", err)
		}
		res, err := s.shop.Wait(ctx, jobID)
		if err != nil {
			return nil, 0, fmt.Errorf("wait export: %w", err)
		}
		if err := s.shop.Download(ctx, res.URL, bulkPath); err != nil {
			return nil, 0, fmt.Errorf("download export: %w", err)
		}
		exported = res.ObjectCount
	}

	markets := s.loadMarkets(ctx, run.RunName)

	pipe := &feed.Pipeline{
		Derive: feed.DeriveConfig{
			ProductIDProps: config.SplitProps(s.cfg.ProductIDProps),
			VariantIDProps: config.SplitProps(s.cfg.VariantIDProps),
			StorefrontHost: s.cfg.ShopURL,
			Market:         s.cfg.Market,
			Language:       s.cfg.Language,
		},
		Workers: s.cfg.Workers,
		Log:     s.log,
	}
	paths := feed.StagePaths(s.cfg.OutputDir, run.RunName, bulkPath)
	stats, err := pipe.Run(ctx, paths, markets)
	if err != nil {
		return nil, exported, err
	}

	if err := s.catalog.PutProducts(ctx, paths.Patch); err != nil {
		return stats, exported, fmt.Errorf("publish feed: %w", err)
	}
	if err := s.catalog.RunIndex(ctx); err != nil {
		return stats, exported, fmt.Errorf("index feed: %w", err)
	}
	return stats, exported, nil
}

// exportOptions resolves which bulk query variant a run needs.
func (s *FeedService) exportOptions(opts RunOptions) (shopify.ExportOptions, error) {
	if opts.Delta {
		last, err := s.runs.LastSuccessfulRun()
		if err != nil {
			return shopify.ExportOptions{}, fmt.Errorf("resolve delta start: %w", err)
		}
		if last == nil {
			// No baseline yet: fall through to a full export.
			s.log.Infow("no prior successful run, forcing full export")
		} else {
			return shopify.ExportOptions{
				Kind:      shopify.ExportDelta,
				StartDate: last.StartedAt.UTC().Format(time.RFC3339),
			}, nil
		}
	}
	if s.cfg.Language != "" {
		return shopify.ExportOptions{
			Kind:     shopify.ExportTranslations,
			Language: s.cfg.Language,
		}, nil
	}
	return shopify.ExportOptions{Kind: shopify.ExportFull}, nil
}

// loadMarkets exports and parses market metadata. Enrichment is
// best-effort: any failure logs a warning and the run continues
// without markets.
func (s *FeedService) loadMarkets(ctx context.Context, runName string) *feed.MarketStore {
	if !s.cfg.MultiMarket {
		return nil
	}
	marketsPath := filepath.Join(s.cfg.OutputDir, runName+"_0_markets.jsonl.gz")
	if _, err := s.shop.FetchExport(ctx, shopify.ExportOptions{Kind: shopify.ExportMarkets}, marketsPath); err != nil {
		s.log.Warnw("market export failed, continuing without enrichment", "error", err)
		return nil
	}
	loader := feed.NewMarketLoader(s.cfg.MarketCache, s.log)
	store, err := loader.Load(func() (io.ReadCloser, error) {
		return feed.OpenGzipFile(marketsPath)
	})
	if err != nil {
		s.log.Warnw("market parse failed, continuing without enrichment", "error", err)
		return nil
	}
	return store
}

// ── Run history ────────────────────────────────────────────

// ListRuns returns the last 50 recorded runs.
func (s *FeedService) ListRuns() ([]storage.FeedRun, error) {
	return s.runs.ListRuns(50)
}

// ── Triggers (cron + drop directory) ───────────────────────

// StartSchedule runs delta feeds on the given cron expression until
// Stop is called.
func (s *FeedService) StartSchedule(ctx context.Context, expr string) error {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		s.log.Infow("scheduled feed run")
		if _, err := s.Run(ctx, RunOptions{Trigger: "schedule", Delta: true}); err != nil {
			s.log.Errorw("scheduled feed run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	c.Start()
	s.cronSched = c
	s.log.Infow("feed schedule active", "cron", expr)
	return nil
}

// WatchDir feeds pre-downloaded export files dropped into dir. Each
// new .jsonl.gz file triggers one full run with that file as input,
// debounced so a file still being written settles first.
func (s *FeedService) WatchDir(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel

	go func() {
		timers := make(map[string]*time.Timer)
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !strings.HasSuffix(event.Name, ".jsonl.gz") {
					continue
				}
				path := event.Name
				if t, exists := timers[path]; exists {
					t.Stop()
				}
				timers[path] = time.AfterFunc(2*time.Second, func() {
					s.log.Infow("export file dropped", "file", path)
					if _, err := s.Run(ctx, RunOptions{Trigger: "file_watch", InputFile: path}); err != nil {
						s.log.Errorw("file-triggered run failed", "file", path, "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warnw("watcher error", "error", err)
			}
		}
	}()

	s.log.Infow("watching drop directory", "dir", dir)
	return nil
}

// WaitRunning blocks until in-flight runs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *FeedService) WaitRunning(ctx context.Context) {
	s.runningFeeds.WaitAll(ctx)
}

// Stop tears down the watcher and scheduler.
func (s *FeedService) Stop() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
