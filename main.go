package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopfeed/internal/bloomreach"
	"shopfeed/internal/config"
	"shopfeed/internal/logging"
	"shopfeed/internal/service"
	"shopfeed/internal/shopify"
	"shopfeed/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shopfeed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	// Flags override the environment, matching the env var names.
	flag.StringVar(&cfg.ShopURL, "shopify-url", cfg.ShopURL, "shop hostname, e.g. xyz.myshopify.com")
	flag.StringVar(&cfg.ShopToken, "shopify-pat", cfg.ShopToken, "admin API access token")
	flag.StringVar(&cfg.APIVersion, "shopify-api-version", cfg.APIVersion, "admin API version")
	flag.StringVar(&cfg.Environment, "br-environment", cfg.Environment, "feed environment: staging or production")
	flag.StringVar(&cfg.AccountID, "br-account-id", cfg.AccountID, "4-digit account id")
	flag.StringVar(&cfg.CatalogName, "br-catalog-name", cfg.CatalogName, "catalog name")
	flag.StringVar(&cfg.APIToken, "br-api-token", cfg.APIToken, "feed API token")
	flag.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for run files")
	flag.StringVar(&cfg.ProductIDProps, "pid-props", cfg.ProductIDProps, "product identifier candidates, comma-separated")
	flag.StringVar(&cfg.VariantIDProps, "vid-props", cfg.VariantIDProps, "variant identifier candidates, comma-separated")
	flag.BoolVar(&cfg.MultiMarket, "multi-market", cfg.MultiMarket, "enrich products with market metadata")
	flag.StringVar(&cfg.Market, "shopify-market", cfg.Market, "primary market handle")
	flag.StringVar(&cfg.Language, "shopify-language", cfg.Language, "primary locale")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "derivation fan-out, 0 = GOMAXPROCS")

	inputFile := flag.String("input-file", "", "pre-downloaded bulk export file (skips the export step)")
	delta := flag.Bool("delta", false, "export only products updated since the last successful run")
	schedule := flag.String("schedule", "", "cron expression: run delta feeds on this schedule instead of once")
	watchDir := flag.String("watch-dir", "", "feed every .jsonl.gz export file dropped into this directory")
	dbPath := flag.String("db", "", "run history database path (default {output-dir}/feed_runs.db)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	path := *dbPath
	if path == "" {
		path = cfg.OutputDir + "/feed_runs.db"
	}
	db, err := storage.New(path)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer db.Close()

	svc := service.NewFeedService(
		cfg,
		shopify.NewClient(cfg.ShopURL, cfg.ShopToken, cfg.APIVersion, log),
		bloomreach.NewClient(cfg.Environment, cfg.AccountID, cfg.CatalogName, cfg.APIToken, log),
		storage.NewRunStore(db),
		logEmitter{log},
		log,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Long-running modes: stay up until interrupted, then drain.
	if *schedule != "" || *watchDir != "" {
		if *schedule != "" {
			if err := svc.StartSchedule(ctx, *schedule); err != nil {
				return err
			}
		}
		if *watchDir != "" {
			if err := svc.WatchDir(ctx, *watchDir); err != nil {
				return err
			}
		}
		<-ctx.Done()
		log.Infow("shutting down, waiting for in-flight runs")
		svc.Stop()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer drainCancel()
		svc.WaitRunning(drainCtx)
		return nil
	}

	_, err = svc.Run(ctx, service.RunOptions{
		Trigger:   "manual",
		Delta:     *delta,
		InputFile: *inputFile,
	})
	return err
}

// logEmitter forwards run events to the logger; there is no frontend
// in CLI mode.
type logEmitter struct {
	log interface {
		Infow(msg string, kv ...any)
	}
}

func (e logEmitter) Emit(_ context.Context, event string, data any) {
	e.log.Infow("event", "name", event, "data", data)
}
