package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Worker modes, one per pipeline stage.
const (
	ModeIngestion  = "ingestion"
	ModeProcessing = "processing"
	ModeFeatures   = "features"
)

// Modes accepted by Validate besides the worker modes.
const (
	ModeServe    = "serve"
	ModeSchedule = "schedule"
	ModeMigrate  = "migrate"
)

// IsWorkerMode reports whether mode names a pipeline stage.
func IsWorkerMode(mode string) bool {
	switch mode {
	case ModeIngestion, ModeProcessing, ModeFeatures:
		return true
	}
	return false
}

// Validate checks the settings the given mode depends on. All problems are
// reported together.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch mode {
	case ModeIngestion, ModeProcessing, ModeFeatures, ModeServe, ModeSchedule, ModeMigrate:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}
	if mode == ModeMigrate {
		return joined(errs)
	}

	if c.Worker.BatchSize < 1 {
		add("worker.batch_size must be > 0")
	}
	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
		add("worker.concurrency must be between 1 and 64")
	}
	if c.Worker.StaleAfterMin < 1 {
		add("worker.stale_after_mins must be > 0")
	}

	needs := func(stage string) bool {
		return mode == stage || mode == ModeServe || mode == ModeSchedule
	}
	if needs(ModeIngestion) {
		if c.HTML.RequestTimeoutSecs < 1 || c.Feeds.RequestTimeoutSecs < 1 {
			add("feeds and html request_timeout_secs must be > 0")
		}
	}
	if needs(ModeProcessing) {
		if c.Embedding.BaseURL == "" {
			add("embedding.base_url is required")
		}
		if c.Embedding.Dimension < 1 {
			add("embedding.dimension must be > 0")
		}
		if c.Embedding.BatchSize < 1 {
			add("embedding.batch_size must be > 0")
		}
		if c.Chunking.Size < 1 {
			add("chunking.size must be > 0")
		}
		if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
			add("chunking.overlap must be >= 0 and < chunking.size")
		}
	}
	if needs(ModeFeatures) {
		if c.Extraction.CompanyWindow < 1 || c.Extraction.DateWindow < 1 {
			add("extraction.company_window and extraction.date_window must be > 0")
		}
		if c.Extraction.MaxAmountUSD <= 0 {
			add("extraction.max_amount_usd must be > 0")
		}
		if c.Extraction.EURRate <= 0 || c.Extraction.GBPRate <= 0 {
			add("extraction.eur_rate and extraction.gbp_rate must be > 0")
		}
	}
	if mode == ModeServe && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port must be > 0 and <= 65535")
	}

	return joined(errs)
}

func joined(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return eris.New("config: " + strings.Join(errs, "; "))
}
