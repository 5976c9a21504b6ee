package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
)

// ErrDuplicate is returned unwrapped by inserts that hit a unique key.
var ErrDuplicate = eris.New("store: duplicate key")

// ErrNotProcessing is wrapped by CompleteProcessing and FailDocument when the
// document is no longer in processing, i.e. the caller's claim was lost.
var ErrNotProcessing = eris.New("store: document is no longer processing")

// Stats summarizes pipeline progress for status reporting.
type Stats struct {
	ByStatus        map[model.DocumentStatus]int `json:"by_status"`
	FeaturesPending int                          `json:"features_pending"`
	FeaturesDone    int                          `json:"features_done"`
	Companies       int                          `json:"companies"`
	Investors       int                          `json:"investors"`
	FundingRounds   int                          `json:"funding_rounds"`
}

// Store defines the persistence interface for the document pipeline.
type Store interface {
	// Feeds
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListActiveFeeds(ctx context.Context) ([]model.Feed, error)
	UpsertFeed(ctx context.Context, f *model.Feed) error
	UpdateFeedIngested(ctx context.Context, feedID string, added int, at time.Time) error
	MarkFeedError(ctx context.Context, feedID string, msg string) error

	// Documents
	GetDocumentByDedupKey(ctx context.Context, key string) (*model.Document, error)
	CreateDocument(ctx context.Context, d *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListProcessable(ctx context.Context, limit int, staleBefore time.Time) ([]model.Document, error)
	ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (bool, error)
	CompleteProcessing(ctx context.Context, docID string, chunks []model.Chunk) error
	FailDocument(ctx context.Context, id string, msg string) error
	ListChunks(ctx context.Context, docID string) ([]model.Chunk, error)

	// Features
	ListReadyForFeatures(ctx context.Context, limit int) ([]model.Document, error)
	SaveFeatures(ctx context.Context, docID string, rounds []model.FundingRound, feats *model.DocumentFeatures) error
	ListFundingRounds(ctx context.Context, docID string) ([]model.FundingRound, error)
	GetDocumentFeatures(ctx context.Context, docID string) (*model.DocumentFeatures, error)

	// Entities
	GetEntityByNormalizedName(ctx context.Context, kind model.EntityKind, normalized string) (*model.Entity, error)
	CreateEntity(ctx context.Context, e *model.Entity) error

	Stats(ctx context.Context) (*Stats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
