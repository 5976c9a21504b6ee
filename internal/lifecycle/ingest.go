package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealflow/internal/content"
	"github.com/sells-group/dealflow/internal/metrics"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

const stageIngest = "ingest"

// Target is a parsed feed and the entries to admit from it.
type Target struct {
	Feed    model.Feed
	Entries []model.Entry
	// Err is set when the feed could not be parsed.
	Err error
}

// Admission is the outcome of admitting one entry.
type Admission int

const (
	// Admitted means a new pending document was created.
	Admitted Admission = iota
	// Duplicate means a document with the same dedup key already exists.
	Duplicate
	// NoContent means neither the page nor the entry had any text.
	NoContent
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case NoContent:
		return "no_content"
	}
	return "unknown"
}

// SelectIngestionTargets parses every active feed. At most limit entries are
// kept per feed; limit <= 0 keeps them all. A feed that fails to parse is
// returned with Err set so the caller can record it.
func (c *Controller) SelectIngestionTargets(ctx context.Context, limit int) ([]Target, error) {
	if c.deps.Feeds == nil {
		return nil, eris.New("lifecycle: ingest stage needs a feed source")
	}
	feeds, err := c.deps.Store.ListActiveFeeds(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: list active feeds")
	}

	targets := make([]Target, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, f := range feeds {
		g.Go(func() error {
			t := Target{Feed: f}
			entries, err := c.deps.Feeds.ParseFeed(gctx, f.URL)
			if err != nil {
				t.Err = eris.Wrapf(err, "lifecycle: parse feed %s", f.Name)
			} else {
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
				t.Entries = entries
			}
			targets[i] = t
			return nil
		})
	}
	_ = g.Wait()
	return targets, nil
}

// AdmitDocument creates a pending document for entry unless one with the same
// dedup key exists. Losing an insert race to a concurrent admit is reported
// as Duplicate, not as an error. Page text comes from the content extractor,
// falling back to the entry description.
func (c *Controller) AdmitDocument(ctx context.Context, feed model.Feed, entry model.Entry) (*model.Document, Admission, error) {
	identity := CanonicalURL(entry.Link)
	if identity == "" {
		identity = strings.TrimSpace(entry.ID)
	}
	if identity == "" {
		return nil, NoContent, eris.New("lifecycle: entry has neither link nor id")
	}
	key := DedupKey(feed.ID, identity)

	existing, err := c.deps.Store.GetDocumentByDedupKey(ctx, key)
	if err != nil {
		return nil, 0, eris.Wrapf(err, "lifecycle: lookup %s", key)
	}
	if existing != nil {
		return existing, Duplicate, nil
	}

	text := c.articleText(ctx, entry)
	if text == "" {
		return nil, NoContent, nil
	}

	name := strings.TrimSpace(entry.Title)
	if name == "" {
		name = "Untitled"
	}
	doc := &model.Document{
		DedupKey: key,
		Name:     name,
		Status:   model.DocumentStatusPending,
		RawText:  text,
		Metadata: model.DocumentMetadata{
			Title:      entry.Title,
			ArticleURL: entry.Link,
			FeedID:     feed.ID,
			FeedName:   feed.Name,
			FeedURL:    feed.URL,
			EntryID:    entry.ID,
		},
	}
	if entry.PublishedDate != nil {
		doc.Metadata.PublishedDate = entry.PublishedDate.UTC().Format(time.RFC3339)
	}

	if err := c.deps.Store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, Duplicate, nil
		}
		return nil, 0, eris.Wrapf(err, "lifecycle: create document %s", key)
	}
	return doc, Admitted, nil
}

func (c *Controller) articleText(ctx context.Context, entry model.Entry) string {
	if c.deps.Content != nil && entry.Link != "" {
		text, err := c.deps.Content.ExtractMainText(ctx, entry.Link)
		if err != nil {
			zap.L().Debug("lifecycle: content extraction failed, using description",
				zap.String("url", entry.Link),
				zap.Error(err),
			)
		}
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return content.PlainText(entry.Description)
}

// Ingest admits new entries from every active feed and records per-feed
// bookkeeping. limit caps the entries taken from each feed.
func (c *Controller) Ingest(ctx context.Context, limit int) (*IngestSummary, error) {
	start := c.now()
	targets, err := c.SelectIngestionTargets(ctx, limit)
	if err != nil {
		return nil, err
	}

	sum := &IngestSummary{}
	for _, t := range targets {
		log := zap.L().With(zap.String("feed_id", t.Feed.ID), zap.String("feed", t.Feed.Name))
		sum.Feeds++
		if t.Err != nil {
			sum.Errors++
			log.Error("lifecycle: feed failed", zap.Error(t.Err))
			if err := c.deps.Store.MarkFeedError(ctx, t.Feed.ID, errorMessage(t.Err)); err != nil {
				log.Warn("lifecycle: mark feed error", zap.Error(err))
			}
			continue
		}

		var ingested, skipped, failed atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		for _, e := range t.Entries {
			g.Go(func() error {
				var outcome Admission
				err := guard(func() error {
					var err error
					_, outcome, err = c.AdmitDocument(gctx, t.Feed, e)
					return err
				})
				switch {
				case err != nil:
					failed.Add(1)
					metrics.ObserveDocument(stageIngest, metrics.OutcomeError)
					log.Warn("lifecycle: admit failed", zap.String("link", e.Link), zap.Error(err))
				case outcome == Admitted:
					ingested.Add(1)
					metrics.ObserveDocument(stageIngest, metrics.OutcomeSuccess)
				default:
					skipped.Add(1)
					metrics.ObserveDocument(stageIngest, metrics.OutcomeSkipped)
					log.Debug("lifecycle: entry skipped", zap.String("link", e.Link), zap.Stringer("reason", outcome))
				}
				return nil
			})
		}
		_ = g.Wait()

		n := int(ingested.Load())
		sum.Ingested += n
		sum.Skipped += int(skipped.Load())
		sum.Errors += int(failed.Load())
		if err := c.deps.Store.UpdateFeedIngested(ctx, t.Feed.ID, n, c.now()); err != nil {
			sum.Errors++
			log.Warn("lifecycle: update feed bookkeeping", zap.Error(err))
		}
		log.Info("lifecycle: feed ingested",
			zap.Int("ingested", n),
			zap.Int64("skipped", skipped.Load()),
			zap.Int64("failed", failed.Load()),
		)
	}

	sum.Duration = c.now().Sub(start)
	metrics.ObserveStage(stageIngest, sum.Duration)
	zap.L().Info("lifecycle: ingestion complete", zap.Stringer("summary", sum))
	return sum, nil
}
