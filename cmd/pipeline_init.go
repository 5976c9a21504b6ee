package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/dealflow/internal/chunk"
	"github.com/sells-group/dealflow/internal/config"
	"github.com/sells-group/dealflow/internal/content"
	"github.com/sells-group/dealflow/internal/entity"
	"github.com/sells-group/dealflow/internal/extract"
	"github.com/sells-group/dealflow/internal/feed"
	"github.com/sells-group/dealflow/internal/fetcher"
	"github.com/sells-group/dealflow/internal/funding"
	"github.com/sells-group/dealflow/internal/lifecycle"
	"github.com/sells-group/dealflow/internal/metrics"
	"github.com/sells-group/dealflow/internal/resilience"
	"github.com/sells-group/dealflow/internal/store"
	"github.com/sells-group/dealflow/pkg/embedding"
)

const (
	feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"
	htmlAccept = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"
)

// pipelineEnv holds the initialized store and controller shared by the
// stage commands, the server and the scheduler.
type pipelineEnv struct {
	Store      store.Store
	Controller *lifecycle.Controller
}

// Close releases the store.
func (e *pipelineEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.DatabaseURL
		if path == "" {
			path = "dealflow.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns:      cfg.Store.MaxConns,
			MinConns:      cfg.Store.MinConns,
			EmbeddingDims: cfg.Embedding.Dimension,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline validates the config for mode, opens and migrates the store
// and wires every collaborator.
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	ctrl, err := buildController(cfg, st)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	zap.L().Info("pipeline initialized",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.Int("concurrency", cfg.Worker.Concurrency),
	)
	return &pipelineEnv{Store: st, Controller: ctrl}, nil
}

func buildController(c *config.Config, st store.Store) (*lifecycle.Controller, error) {
	feedFetcher := fetcher.NewHTTPFetcher(fetchOptions("feed", feedAccept, c.Feeds))
	pageFetcher := fetcher.NewHTTPFetcher(fetchOptions("html", htmlAccept, c.HTML))

	chunker, err := chunk.New(c.Chunking.Size, c.Chunking.Overlap)
	if err != nil {
		return nil, eris.Wrap(err, "init chunker")
	}

	engine, err := newEngine(c.Extraction.PatternsFile)
	if err != nil {
		return nil, err
	}

	return lifecycle.New(lifecycle.Deps{
		Store:    st,
		Feeds:    feed.NewParser(feedFetcher),
		Content:  content.NewExtractor(pageFetcher),
		Chunker:  chunker,
		Embedder: newEmbedder(c),
		Resolver: entity.NewResolver(st),
		Engine:   engine,
		Linker: funding.NewLinker(funding.Config{
			CompanyWindow: c.Extraction.CompanyWindow,
			DateWindow:    c.Extraction.DateWindow,
			MaxAmountUSD:  c.Extraction.MaxAmountUSD,
			EURRate:       c.Extraction.EURRate,
			GBPRate:       c.Extraction.GBPRate,
		}),
	},
		lifecycle.WithConcurrency(c.Worker.Concurrency),
		lifecycle.WithStaleAfter(c.Worker.StaleAfter()),
	)
}

func fetchOptions(name, accept string, fc config.FetchConfig) fetcher.Options {
	ua := fc.UserAgent
	if ua == "" {
		ua = config.DefaultUserAgent
	}
	return fetcher.Options{
		Name:        name,
		UserAgent:   ua,
		Accept:      accept,
		Timeout:     time.Duration(fc.RequestTimeoutSecs) * time.Second,
		MaxRetries:  fc.MaxRetries,
		RetryDelay:  time.Duration(fc.RetryDelayMs) * time.Millisecond,
		RatePerHost: rate.Limit(fc.RatePerSec),
		OnRetry:     func(int, error) { metrics.ObserveRetry(name) },
	}
}

func newEngine(patternsFile string) (*extract.Engine, error) {
	if patternsFile == "" {
		return extract.NewDefault()
	}
	ps, err := extract.LoadPatterns(patternsFile)
	if err != nil {
		return nil, eris.Wrap(err, "load extraction patterns")
	}
	return extract.New(ps)
}

func newEmbedder(c *config.Config) embedding.Client {
	ec := c.Embedding
	breaker := resilience.NewBreaker("embedding", ec.BreakerThreshold,
		time.Duration(ec.BreakerCooldownS)*time.Second,
		resilience.WithStateHook(func(name string, _, to resilience.State) {
			metrics.SetBreakerState(name, int(to))
		}),
	)
	return embedding.NewClient(ec.BaseURL,
		embedding.WithHTTPClient(&http.Client{Timeout: time.Duration(ec.TimeoutSecs) * time.Second}),
		embedding.WithProvider(ec.Provider),
		embedding.WithUserID(c.Worker.SystemUserID),
		embedding.WithBatchSize(ec.BatchSize),
		embedding.WithDimension(ec.Dimension),
		embedding.WithRetry(ec.MaxRetries, time.Duration(ec.RetryDelayMs)*time.Millisecond),
		embedding.WithBreaker(breaker),
		embedding.WithOnRetry(func(int, error) { metrics.ObserveRetry("embedding") }),
	)
}
