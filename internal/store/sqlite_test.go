package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createDoc(t *testing.T, st *SQLiteStore, key string) *model.Document {
	t.Helper()
	d := &model.Document{
		DedupKey: key,
		Name:     "Doc " + key,
		RawText:  "Acme Labs raised $10 million.",
		Metadata: model.DocumentMetadata{Title: "Doc " + key, PublishedDate: "2024-03-01"},
	}
	require.NoError(t, st.CreateDocument(context.Background(), d))
	return d
}

// --- Documents ---

func TestSQLite_CreateDocument_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d := createDoc(t, st, "rss://f1/abc")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, model.DocumentStatusPending, d.Status)

	err := st.CreateDocument(ctx, &model.Document{DedupKey: "rss://f1/abc", Name: "again"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := st.GetDocumentByDedupKey(ctx, "rss://f1/abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, "2024-03-01", got.Metadata.PublishedDate)
	assert.False(t, got.FeaturesExtracted)
}

func TestSQLite_GetDocument_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetDocument(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ClaimDocument(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	d := createDoc(t, st, "k1")
	stale := time.Now().Add(-time.Hour)

	ok, err := st.ClaimDocument(ctx, d.ID, stale)
	require.NoError(t, err)
	assert.True(t, ok)

	// A fresh processing claim cannot be taken again.
	ok, err = st.ClaimDocument(ctx, d.ID, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	// Once the claim is older than the stale cutoff it can be taken over.
	ok, err = st.ClaimDocument(ctx, d.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_ListProcessable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	stale := time.Now().Add(-time.Hour)

	failed := createDoc(t, st, "failed")
	claimed := createDoc(t, st, "claimed")
	ready := createDoc(t, st, "ready")
	pending := createDoc(t, st, "pending")

	_, err := st.ClaimDocument(ctx, failed.ID, stale)
	require.NoError(t, err)
	require.NoError(t, st.FailDocument(ctx, failed.ID, "boom"))
	_, err = st.ClaimDocument(ctx, claimed.ID, stale)
	require.NoError(t, err)
	_, err = st.ClaimDocument(ctx, ready.ID, stale)
	require.NoError(t, err)
	require.NoError(t, st.CompleteProcessing(ctx, ready.ID, []model.Chunk{{Index: 0, Content: "x"}}))

	docs, err := st.ListProcessable(ctx, 10, stale)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, pending.ID, docs[0].ID)
	assert.Equal(t, failed.ID, docs[1].ID)
	assert.Equal(t, "boom", docs[1].ErrorMessage)
}

func TestSQLite_CompleteProcessing_ReplacesChunks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	stale := time.Now().Add(-time.Hour)
	d := createDoc(t, st, "k1")

	_, err := st.ClaimDocument(ctx, d.ID, stale)
	require.NoError(t, err)
	first := []model.Chunk{
		{Index: 0, Content: "one", Embedding: []float32{0.1, 0.2}, TokenCount: 1},
		{Index: 1, Content: "two", Embedding: []float32{0.3, 0.4}, TokenCount: 1},
	}
	require.NoError(t, st.CompleteProcessing(ctx, d.ID, first))

	// A ready document cannot be failed; requeue it by hand and reprocess.
	require.ErrorIs(t, st.FailDocument(ctx, d.ID, "retry"), ErrNotProcessing)
	_, err = st.db.ExecContext(ctx, `UPDATE documents SET status = 'error' WHERE id = ?`, d.ID)
	require.NoError(t, err)
	_, err = st.ClaimDocument(ctx, d.ID, stale)
	require.NoError(t, err)
	require.NoError(t, st.CompleteProcessing(ctx, d.ID, []model.Chunk{{Index: 0, Content: "only", TokenCount: 1}}))

	chunks, err := st.ListChunks(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only", chunks[0].Content)
	assert.Nil(t, chunks[0].Embedding)

	got, err := st.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusReady, got.Status)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Empty(t, got.ErrorMessage)
}

func TestSQLite_CompleteProcessing_RequiresClaim(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	d := createDoc(t, st, "k1")

	err := st.CompleteProcessing(ctx, d.ID, []model.Chunk{{Index: 0, Content: "x"}})
	require.ErrorIs(t, err, ErrNotProcessing)
	assert.Contains(t, err.Error(), "no longer processing")

	chunks, err := st.ListChunks(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSQLite_FailDocument_RequiresClaim(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	stale := time.Now().Add(-time.Hour)

	assert.ErrorIs(t, st.FailDocument(ctx, "missing", "x"), ErrNotProcessing)

	pending := createDoc(t, st, "pending")
	assert.ErrorIs(t, st.FailDocument(ctx, pending.ID, "x"), ErrNotProcessing)

	ready := createDoc(t, st, "ready")
	_, err := st.ClaimDocument(ctx, ready.ID, stale)
	require.NoError(t, err)
	require.NoError(t, st.CompleteProcessing(ctx, ready.ID, nil))
	assert.ErrorIs(t, st.FailDocument(ctx, ready.ID, "late failure"), ErrNotProcessing)

	for id, want := range map[string]model.DocumentStatus{
		pending.ID: model.DocumentStatusPending,
		ready.ID:   model.DocumentStatusReady,
	} {
		got, err := st.GetDocument(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
		assert.Empty(t, got.ErrorMessage)
	}
}

// --- Entities ---

func TestSQLite_Entities(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	e := &model.Entity{Kind: model.EntityCompany, DisplayName: "Acme Inc", NormalizedName: "acme inc"}
	require.NoError(t, st.CreateEntity(ctx, e))
	assert.NotEmpty(t, e.ID)

	dup := &model.Entity{Kind: model.EntityCompany, DisplayName: "ACME, Inc.", NormalizedName: "acme inc"}
	assert.ErrorIs(t, st.CreateEntity(ctx, dup), ErrDuplicate)

	// Same key under another kind is a distinct entity.
	inv := &model.Entity{Kind: model.EntityInvestor, DisplayName: "Acme Inc", NormalizedName: "acme inc"}
	require.NoError(t, st.CreateEntity(ctx, inv))

	got, err := st.GetEntityByNormalizedName(ctx, model.EntityCompany, "acme inc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "Acme Inc", got.DisplayName)
	assert.Empty(t, got.Aliases)

	missing, err := st.GetEntityByNormalizedName(ctx, model.EntityInvestor, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// --- Features ---

func TestSQLite_SaveFeatures_ReplacesRounds(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	d := createDoc(t, st, "k1")

	company := &model.Entity{Kind: model.EntityCompany, DisplayName: "Acme Labs", NormalizedName: "acme labs"}
	require.NoError(t, st.CreateEntity(ctx, company))
	lead := &model.Entity{Kind: model.EntityInvestor, DisplayName: "Foo Ventures", NormalizedName: "foo ventures"}
	require.NoError(t, st.CreateEntity(ctx, lead))

	usd := 10_000_000.0
	round := "Seed"
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rounds := []model.FundingRound{{
		CompanyID:      &company.ID,
		AmountUSD:      &usd,
		AmountOriginal: 10,
		Currency:       "USD",
		RoundType:      &round,
		RoundDate:      &date,
		LeadInvestorID: &lead.ID,
		InvestorIDs:    []string{lead.ID},
		SourceMetadata: map[string]any{"raw": "$10 million"},
	}}
	feats := &model.DocumentFeatures{
		CompanyIDs:  []string{company.ID},
		InvestorIDs: []string{lead.ID},
		Sectors:     []string{"FinTech"},
	}
	require.NoError(t, st.SaveFeatures(ctx, d.ID, rounds, feats))
	require.Len(t, feats.FundingRoundIDs, 1)

	got, err := st.ListFundingRounds(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, company.ID, *got[0].CompanyID)
	assert.InDelta(t, usd, *got[0].AmountUSD, 0.001)
	assert.Equal(t, "Seed", *got[0].RoundType)
	assert.True(t, date.Equal(*got[0].RoundDate))
	assert.Equal(t, []string{lead.ID}, got[0].InvestorIDs)
	assert.Equal(t, "$10 million", got[0].SourceMetadata["raw"])

	// Re-extraction supersedes the previous rounds.
	require.NoError(t, st.SaveFeatures(ctx, d.ID, nil, &model.DocumentFeatures{Sectors: []string{"AI"}}))
	got, err = st.ListFundingRounds(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	f, err := st.GetDocumentFeatures(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, []string{"AI"}, f.Sectors)
	assert.Empty(t, f.FundingRoundIDs)
	assert.Empty(t, f.CompanyIDs)

	doc, err := st.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, doc.FeaturesExtracted)
}

func TestSQLite_ListReadyForFeatures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	stale := time.Now().Add(-time.Hour)

	a := createDoc(t, st, "a")
	b := createDoc(t, st, "b")
	createDoc(t, st, "pending")
	for _, d := range []*model.Document{a, b} {
		_, err := st.ClaimDocument(ctx, d.ID, stale)
		require.NoError(t, err)
		require.NoError(t, st.CompleteProcessing(ctx, d.ID, nil))
	}
	require.NoError(t, st.SaveFeatures(ctx, b.ID, nil, &model.DocumentFeatures{}))

	docs, err := st.ListReadyForFeatures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, a.ID, docs[0].ID)

	none, err := st.GetDocumentFeatures(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

// --- Feeds ---

func TestSQLite_Feeds(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	f := &model.Feed{Name: "TechCrunch", URL: "https://techcrunch.com/feed/"}
	require.NoError(t, st.UpsertFeed(ctx, f))
	id := f.ID
	assert.Equal(t, model.FeedStatusActive, f.Status)

	// Upserting the same URL keeps the ID and renames.
	again := &model.Feed{Name: "TC", URL: "https://techcrunch.com/feed/"}
	require.NoError(t, st.UpsertFeed(ctx, again))
	assert.Equal(t, id, again.ID)
	assert.Equal(t, "TC", again.Name)

	paused := &model.Feed{Name: "Paused", URL: "https://paused.example/rss", Status: model.FeedStatusPaused}
	require.NoError(t, st.UpsertFeed(ctx, paused))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkFeedError(ctx, id, "parse failed"))
	require.NoError(t, st.UpdateFeedIngested(ctx, id, 3, at))
	require.NoError(t, st.UpdateFeedIngested(ctx, id, 2, at))

	active, err := st.ListActiveFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 5, active[0].ArticleCount)
	assert.Equal(t, model.FeedStatusActive, active[0].Status)
	assert.Empty(t, active[0].ErrorMessage)
	require.NotNil(t, active[0].LastIngestedAt)
	assert.True(t, at.Equal(*active[0].LastIngestedAt))

	all, err := st.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.Error(t, st.UpdateFeedIngested(ctx, "missing", 1, at))
}

func TestSQLite_Stats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	stale := time.Now().Add(-time.Hour)

	a := createDoc(t, st, "a")
	createDoc(t, st, "b")
	_, err := st.ClaimDocument(ctx, a.ID, stale)
	require.NoError(t, err)
	require.NoError(t, st.CompleteProcessing(ctx, a.ID, nil))
	require.NoError(t, st.CreateEntity(ctx, &model.Entity{Kind: model.EntityCompany, DisplayName: "A", NormalizedName: "a"}))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[model.DocumentStatusPending])
	assert.Equal(t, 1, stats.ByStatus[model.DocumentStatusReady])
	assert.Equal(t, 1, stats.FeaturesPending)
	assert.Equal(t, 0, stats.FeaturesDone)
	assert.Equal(t, 1, stats.Companies)
	assert.Equal(t, 0, stats.Investors)
}
