package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ── Configuration ──────────────────────────────────────────
// Everything the job needs comes from the environment (optionally via a
// .env file) with flag overrides applied by main. The core packages
// never read ambient state; they receive these values explicitly.

// Valid feed environments and their API hostnames live in the
// bloomreach client; config only validates the name.
var validEnvironments = map[string]bool{
	"staging":    true,
	"production": true,
}

// Config is the full job configuration.
type Config struct {
	// Storefront export side.
	ShopURL    string // hostname, e.g. xyz.myshopify.com
	ShopToken  string // admin API access token
	APIVersion string

	// Catalog feed side.
	Environment string // "staging" | "production"
	AccountID   string // exactly 4 digits
	CatalogName string
	APIToken    string

	OutputDir string

	// Identifier resolution (comma-separated candidate lists).
	ProductIDProps string
	VariantIDProps string

	// Multi-market enrichment.
	MultiMarket bool
	Market      string // primary market handle
	Language    string // primary locale
	MarketCache int    // max cached product→market entries, 0 unbounded

	// Derivation fan-out.
	Workers int

	LogMode  string
	LogLevel string
}

// Load reads configuration from a .env file (if present) and the
// environment. It does not validate; call Validate after flag
// overrides are applied.
func Load() *Config {
	// Missing .env is the normal case in containers.
	_ = godotenv.Load()

	return &Config{
		ShopURL:        os.Getenv("SHOPIFY_URL"),
		ShopToken:      os.Getenv("SHOPIFY_PAT"),
		APIVersion:     envDefault("SHOPIFY_API_VERSION", "2025-04"),
		Environment:    os.Getenv("BR_ENVIRONMENT_NAME"),
		AccountID:      os.Getenv("BR_ACCOUNT_ID"),
		CatalogName:    os.Getenv("BR_CATALOG_NAME"),
		APIToken:       os.Getenv("BR_API_TOKEN"),
		OutputDir:      envDefault("BR_OUTPUT_DIR", "/export"),
		ProductIDProps: envDefault("BR_PID_PROPS", "handle"),
		VariantIDProps: envDefault("BR_VID_PROPS", "sku,id"),
		MultiMarket:    envBool("BR_MULTI_MARKET"),
		Market:         os.Getenv("SHOPIFY_MARKET"),
		Language:       os.Getenv("SHOPIFY_LANGUAGE"),
		MarketCache:    envInt("BR_MARKET_CACHE", 0),
		Workers:        envInt("BR_WORKERS", 0),
		LogMode:        envDefault("LOG_MODE", "dev"),
		LogLevel:       envDefault("LOGLEVEL", "info"),
	}
}

// Validate checks the cross-field rules the feed API and export API
// enforce anyway, so misconfiguration fails before any network call.
func (c *Config) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"SHOPIFY_URL", c.ShopURL},
		{"SHOPIFY_PAT", c.ShopToken},
		{"BR_ENVIRONMENT_NAME", c.Environment},
		{"BR_ACCOUNT_ID", c.AccountID},
		{"BR_CATALOG_NAME", c.CatalogName},
		{"BR_API_TOKEN", c.APIToken},
		{"BR_OUTPUT_DIR", c.OutputDir},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if !validEnvironments[strings.ToLower(c.Environment)] {
		return fmt.Errorf("BR_ENVIRONMENT_NAME must be one of: staging, production (got %q)", c.Environment)
	}

	if len(c.AccountID) != 4 || !isDigits(c.AccountID) {
		return fmt.Errorf("BR_ACCOUNT_ID must be exactly 4 digits (got %q)", c.AccountID)
	}

	if c.MultiMarket {
		if c.Market == "" {
			return fmt.Errorf("SHOPIFY_MARKET is required when multi-market is enabled")
		}
		if c.Language == "" {
			return fmt.Errorf("SHOPIFY_LANGUAGE is required when multi-market is enabled")
		}
	}
	return nil
}

// SplitProps parses a comma-separated candidate list, dropping blanks.
func SplitProps(props string) []string {
	var out []string
	for _, p := range strings.Split(props, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
