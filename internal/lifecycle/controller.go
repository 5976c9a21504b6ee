// Package lifecycle moves documents through ingestion, processing and
// feature extraction. Every stage works on a bounded batch, fans out with a
// fixed concurrency window and isolates failures per document: a stage only
// returns an error when it cannot list its candidates.
package lifecycle

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/extract"
	"github.com/sells-group/dealflow/internal/funding"
	"github.com/sells-group/dealflow/internal/model"
)

// FeedSource parses a feed into entries.
type FeedSource interface {
	ParseFeed(ctx context.Context, url string) ([]model.Entry, error)
}

// ContentExtractor returns the readable text of an article page.
type ContentExtractor interface {
	ExtractMainText(ctx context.Context, url string) (string, error)
}

// Chunker splits document text into chunks.
type Chunker interface {
	Chunk(text string, metadata map[string]any) []model.Chunk
}

// Embedder embeds texts in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Resolver maps a display name to a stable entity.
type Resolver interface {
	Resolve(ctx context.Context, kind model.EntityKind, displayName string) (*model.Entity, bool, error)
}

// Store is the persistence surface the stages need.
type Store interface {
	ListActiveFeeds(ctx context.Context) ([]model.Feed, error)
	UpdateFeedIngested(ctx context.Context, feedID string, added int, at time.Time) error
	MarkFeedError(ctx context.Context, feedID string, msg string) error

	GetDocumentByDedupKey(ctx context.Context, key string) (*model.Document, error)
	CreateDocument(ctx context.Context, d *model.Document) error
	ListProcessable(ctx context.Context, limit int, staleBefore time.Time) ([]model.Document, error)
	ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	CompleteProcessing(ctx context.Context, docID string, chunks []model.Chunk) error
	FailDocument(ctx context.Context, id string, msg string) error

	ListReadyForFeatures(ctx context.Context, limit int) ([]model.Document, error)
	SaveFeatures(ctx context.Context, docID string, rounds []model.FundingRound, feats *model.DocumentFeatures) error
}

// Deps wires the collaborators. Only the ones a stage uses need to be set.
type Deps struct {
	Store    Store
	Feeds    FeedSource
	Content  ContentExtractor
	Chunker  Chunker
	Embedder Embedder
	Resolver Resolver
	Engine   *extract.Engine
	Linker   *funding.Linker
}

// Option configures a Controller.
type Option func(*Controller)

// WithConcurrency bounds the number of documents in flight per stage.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithStaleAfter sets how long a processing claim is honored.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller runs the pipeline stages.
type Controller struct {
	deps        Deps
	concurrency int
	staleAfter  time.Duration
	now         func() time.Time
}

// New returns a Controller. The store is required; other collaborators are
// checked when the stage that needs them runs.
func New(deps Deps, opts ...Option) (*Controller, error) {
	if deps.Store == nil {
		return nil, eris.New("lifecycle: store is required")
	}
	c := &Controller{
		deps:        deps,
		concurrency: 5,
		staleAfter:  30 * time.Minute,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// guard runs fn and turns a panic into an error so one document cannot take
// down its batch.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("lifecycle: panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

// IngestSummary reports one ingestion batch.
type IngestSummary struct {
	Feeds    int           `json:"feeds_processed"`
	Ingested int           `json:"documents_ingested"`
	Skipped  int           `json:"documents_skipped"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// ProcessSummary reports one processing batch.
type ProcessSummary struct {
	Processed     int           `json:"documents_processed"`
	ChunksCreated int           `json:"chunks_created"`
	Skipped       int           `json:"documents_skipped"`
	Errors        int           `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

// FeaturesSummary reports one feature-extraction batch.
type FeaturesSummary struct {
	Processed        int           `json:"documents_processed"`
	EntitiesCreated  int           `json:"entities_created"`
	CompaniesCreated int           `json:"companies_created"`
	InvestorsCreated int           `json:"investors_created"`
	RoundsCreated    int           `json:"funding_rounds_created"`
	Errors           int           `json:"errors"`
	Duration         time.Duration `json:"duration"`
}

func (s IngestSummary) String() string {
	return fmt.Sprintf("feeds=%d ingested=%d skipped=%d errors=%d duration=%s",
		s.Feeds, s.Ingested, s.Skipped, s.Errors, s.Duration.Round(time.Millisecond))
}

func (s ProcessSummary) String() string {
	return fmt.Sprintf("processed=%d chunks=%d skipped=%d errors=%d duration=%s",
		s.Processed, s.ChunksCreated, s.Skipped, s.Errors, s.Duration.Round(time.Millisecond))
}

func (s FeaturesSummary) String() string {
	return fmt.Sprintf("processed=%d entities=%d rounds=%d errors=%d duration=%s",
		s.Processed, s.EntitiesCreated, s.RoundsCreated, s.Errors, s.Duration.Round(time.Millisecond))
}

// errorMessage bounds what is stored on a failed document.
func errorMessage(err error) string {
	msg := err.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return msg
}
