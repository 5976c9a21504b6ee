package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealflow/internal/metrics"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

const stageProcess = "process"

// ProcessPending claims up to limit pending (or failed, or stale processing)
// documents and chunks, embeds and stores each one. A document either
// reaches ready with all of its chunks or is marked error with the cause.
// A worker whose claim was taken over leaves the document to the new owner.
func (c *Controller) ProcessPending(ctx context.Context, limit int) (*ProcessSummary, error) {
	if c.deps.Chunker == nil || c.deps.Embedder == nil {
		return nil, eris.New("lifecycle: process stage needs a chunker and an embedder")
	}
	start := c.now()
	staleBefore := start.Add(-c.staleAfter)

	docs, err := c.deps.Store.ListProcessable(ctx, limit, staleBefore)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: list processable documents")
	}

	var processed, chunks, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, d := range docs {
		g.Go(func() error {
			log := zap.L().With(zap.String("document_id", d.ID))

			if !d.Status.CanTransitionTo(model.DocumentStatusProcessing) {
				skipped.Add(1)
				metrics.ObserveDocument(stageProcess, metrics.OutcomeSkipped)
				log.Warn("lifecycle: document cannot enter processing", zap.String("status", string(d.Status)))
				return nil
			}

			claimed, err := c.deps.Store.ClaimDocument(gctx, d.ID, staleBefore)
			if err != nil {
				failed.Add(1)
				metrics.ObserveDocument(stageProcess, metrics.OutcomeError)
				log.Warn("lifecycle: claim failed", zap.Error(err))
				return nil
			}
			if !claimed {
				skipped.Add(1)
				metrics.ObserveDocument(stageProcess, metrics.OutcomeSkipped)
				log.Debug("lifecycle: document claimed elsewhere")
				return nil
			}

			var n int
			err = guard(func() error {
				var err error
				n, err = c.processOne(gctx, &d)
				return err
			})
			if errors.Is(err, store.ErrNotProcessing) {
				skipped.Add(1)
				metrics.ObserveDocument(stageProcess, metrics.OutcomeSkipped)
				log.Info("lifecycle: claim taken over, dropping result", zap.Error(err))
				return nil
			}
			if err != nil {
				// The batch context may be done; the failure must still land.
				ferr := c.deps.Store.FailDocument(context.WithoutCancel(gctx), d.ID, errorMessage(err))
				if errors.Is(ferr, store.ErrNotProcessing) {
					skipped.Add(1)
					metrics.ObserveDocument(stageProcess, metrics.OutcomeSkipped)
					log.Info("lifecycle: claim taken over, failure not recorded", zap.Error(err))
					return nil
				}
				failed.Add(1)
				metrics.ObserveDocument(stageProcess, metrics.OutcomeError)
				log.Error("lifecycle: processing failed", zap.Error(err))
				if ferr != nil {
					log.Warn("lifecycle: record failure", zap.Error(ferr))
				}
				return nil
			}

			processed.Add(1)
			chunks.Add(int64(n))
			metrics.ObserveDocument(stageProcess, metrics.OutcomeSuccess)
			metrics.AddChunks(n)
			log.Debug("lifecycle: document ready", zap.Int("chunks", n))
			return nil
		})
	}
	_ = g.Wait()

	sum := &ProcessSummary{
		Processed:     int(processed.Load()),
		ChunksCreated: int(chunks.Load()),
		Skipped:       int(skipped.Load()),
		Errors:        int(failed.Load()),
		Duration:      c.now().Sub(start),
	}
	metrics.ObserveStage(stageProcess, sum.Duration)
	zap.L().Info("lifecycle: processing complete", zap.Stringer("summary", sum))
	return sum, nil
}

// processOne runs chunk, embed and store for a claimed document.
func (c *Controller) processOne(ctx context.Context, d *model.Document) (int, error) {
	if strings.TrimSpace(d.RawText) == "" {
		return 0, eris.New("no raw content")
	}

	md := d.Metadata.Map()
	md["document_id"] = d.ID
	md["document_name"] = d.Name
	chunks := c.deps.Chunker.Chunk(d.RawText, md)
	if len(chunks) == 0 {
		return 0, eris.New("no chunks generated")
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := c.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, eris.Wrap(err, "embed chunks")
	}
	if len(vectors) != len(chunks) {
		return 0, eris.Errorf("embedding count mismatch: %d chunks, %d embeddings", len(chunks), len(vectors))
	}
	for i := range chunks {
		chunks[i].DocumentID = d.ID
		chunks[i].Embedding = vectors[i]
	}

	if err := c.deps.Store.CompleteProcessing(ctx, d.ID, chunks); err != nil {
		return 0, eris.Wrap(err, "store chunks")
	}
	return len(chunks), nil
}
