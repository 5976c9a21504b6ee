package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/db"
	"github.com/sells-group/dealflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	dims    int
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns      int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns      int32 `yaml:"min_conns" mapstructure:"min_conns"`
	EmbeddingDims int   `yaml:"embedding_dims" mapstructure:"embedding_dims"`
}

const defaultEmbeddingDims = 1536

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	dims := defaultEmbeddingDims
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
		if poolCfg.EmbeddingDims > 0 {
			dims = poolCfg.EmbeddingDims
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, dims: dims, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS feeds (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	url              TEXT NOT NULL UNIQUE,
	status           TEXT NOT NULL DEFAULT 'active',
	article_count    INTEGER NOT NULL DEFAULT 0,
	last_ingested_at TIMESTAMPTZ,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id                 TEXT PRIMARY KEY,
	dedup_key          TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	features_extracted BOOLEAN NOT NULL DEFAULT false,
	raw_text           TEXT NOT NULL DEFAULT '',
	metadata           JSONB NOT NULL DEFAULT '{}',
	chunk_count        INTEGER NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_documents_features ON documents(status, features_extracted);

CREATE TABLE IF NOT EXISTS document_chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   vector(%d),
	token_count INTEGER NOT NULL DEFAULT 0,
	metadata    JSONB NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS entities (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	aliases         TEXT[] NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (kind, normalized_name)
);

CREATE TABLE IF NOT EXISTS funding_rounds (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	company_id       TEXT REFERENCES entities(id),
	amount_usd       DOUBLE PRECISION,
	amount_original  DOUBLE PRECISION NOT NULL,
	currency         TEXT NOT NULL,
	round_type       TEXT,
	round_date       DATE,
	lead_investor_id TEXT REFERENCES entities(id),
	investor_ids     TEXT[] NOT NULL DEFAULT '{}',
	metadata         JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (amount_usd IS NULL OR (amount_usd > 0 AND amount_usd <= 50000000000))
);

CREATE INDEX IF NOT EXISTS idx_funding_rounds_document ON funding_rounds(document_id);
CREATE INDEX IF NOT EXISTS idx_funding_rounds_company ON funding_rounds(company_id);

CREATE TABLE IF NOT EXISTS document_features (
	document_id       TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
	company_ids       TEXT[] NOT NULL DEFAULT '{}',
	investor_ids      TEXT[] NOT NULL DEFAULT '{}',
	funding_round_ids TEXT[] NOT NULL DEFAULT '{}',
	sectors           TEXT[] NOT NULL DEFAULT '{}',
	keywords          TEXT[] NOT NULL DEFAULT '{}',
	metadata          JSONB NOT NULL DEFAULT '{}',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	dims := s.dims
	if dims <= 0 {
		dims = defaultEmbeddingDims
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(postgresMigration, dims))
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Feeds ---

const feedColumns = `id, name, url, status, article_count, last_ingested_at, error_message, created_at`

func scanFeed(row rowScanner) (model.Feed, error) {
	var f model.Feed
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.Status, &f.ArticleCount, &f.LastIngestedAt, &f.ErrorMessage, &f.CreatedAt)
	return f, err
}

func (s *PostgresStore) queryFeeds(ctx context.Context, query string, args ...any) ([]model.Feed, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feeds")
	}
	defer rows.Close()

	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan feed")
		}
		feeds = append(feeds, f)
	}
	return feeds, eris.Wrap(rows.Err(), "postgres: list feeds iterate")
}

func (s *PostgresStore) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	return s.queryFeeds(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY name`)
}

func (s *PostgresStore) ListActiveFeeds(ctx context.Context) ([]model.Feed, error) {
	return s.queryFeeds(ctx, `SELECT `+feedColumns+` FROM feeds WHERE status <> $1 ORDER BY name`, string(model.FeedStatusPaused))
}

// UpsertFeed inserts a feed or renames the existing feed with the same URL.
// The stored ID, status and counters are written back into f.
func (s *PostgresStore) UpsertFeed(ctx context.Context, f *model.Feed) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = model.FeedStatusActive
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feeds (id, name, url, status, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (url) DO UPDATE SET name = EXCLUDED.name
		 RETURNING `+feedColumns,
		f.ID, f.Name, f.URL, string(f.Status), time.Now().UTC(),
	).Scan(&f.ID, &f.Name, &f.URL, &f.Status, &f.ArticleCount, &f.LastIngestedAt, &f.ErrorMessage, &f.CreatedAt)
	return eris.Wrapf(err, "postgres: upsert feed %s", f.URL)
}

func (s *PostgresStore) UpdateFeedIngested(ctx context.Context, feedID string, added int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feeds SET article_count = article_count + $1, last_ingested_at = $2, status = $3, error_message = ''
		 WHERE id = $4`,
		added, at.UTC(), string(model.FeedStatusActive), feedID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update feed %s", feedID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("feed not found: %s", feedID)
	}
	return nil
}

func (s *PostgresStore) MarkFeedError(ctx context.Context, feedID string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feeds SET status = $1, error_message = $2 WHERE id = $3`,
		string(model.FeedStatusError), msg, feedID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark feed error %s", feedID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("feed not found: %s", feedID)
	}
	return nil
}

// --- Documents ---

const documentColumns = `id, dedup_key, name, status, features_extracted, raw_text, metadata, chunk_count, error_message, created_at, updated_at`

func scanDocument(row rowScanner) (*model.Document, error) {
	var d model.Document
	var metaJSON []byte
	if err := row.Scan(&d.ID, &d.DedupKey, &d.Name, &d.Status, &d.FeaturesExtracted, &d.RawText,
		&metaJSON, &d.ChunkCount, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &d.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal document metadata")
		}
	}
	return &d, nil
}

func (s *PostgresStore) getDocument(ctx context.Context, where string, arg any) (*model.Document, error) {
	d, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get document")
	}
	return d, nil
}

func (s *PostgresStore) GetDocumentByDedupKey(ctx context.Context, key string) (*model.Document, error) {
	return s.getDocument(ctx, `dedup_key = $1`, key)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return s.getDocument(ctx, `id = $1`, id)
}

// CreateDocument inserts a new pending document. It returns ErrDuplicate when
// the dedup key already exists.
func (s *PostgresStore) CreateDocument(ctx context.Context, d *model.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DocumentStatusPending
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	metaJSON, err := json.Marshal(d.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal document metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, dedup_key, name, status, features_extracted, raw_text, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.DedupKey, d.Name, string(d.Status), d.FeaturesExtracted, d.RawText, metaJSON, now, now,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return eris.Wrapf(err, "postgres: insert document %s", d.DedupKey)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, op, query string, args ...any) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

// ListProcessable returns pending and errored documents, plus processing
// documents whose claim is older than staleBefore. Pending documents come first.
func (s *PostgresStore) ListProcessable(ctx context.Context, limit int, staleBefore time.Time) ([]model.Document, error) {
	return s.queryDocuments(ctx, "list processable",
		`SELECT `+documentColumns+` FROM documents
		 WHERE status IN ('pending', 'error') OR (status = 'processing' AND updated_at < $1)
		 ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, updated_at
		 LIMIT $2`,
		staleBefore.UTC(), limit,
	)
}

// ClaimDocument moves a document into processing. It reports false when
// another worker holds a fresh claim or the document already finished.
func (s *PostgresStore) ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = 'processing', error_message = '', updated_at = $1
		 WHERE id = $2 AND (status IN ('pending', 'error') OR (status = 'processing' AND updated_at < $3))`,
		time.Now().UTC(), id, staleBefore.UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim document %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func embeddingArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

// CompleteProcessing replaces the document's chunks and marks it ready in one
// transaction.
func (s *PostgresStore) CompleteProcessing(ctx context.Context, docID string, chunks []model.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin complete processing")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, docID); err != nil {
		return eris.Wrapf(err, "postgres: delete chunks %s", docID)
	}

	now := time.Now().UTC()
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.DocumentID = docID
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal chunk metadata")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, token_count, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, docID, c.Index, c.Content, embeddingArg(c.Embedding), c.TokenCount, metaJSON, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert chunk %d of %s", c.Index, docID)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET status = 'ready', chunk_count = $1, error_message = '', updated_at = $2
		 WHERE id = $3 AND status = 'processing'`,
		len(chunks), now, docID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark ready %s", docID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotProcessing, "postgres: complete processing %s", docID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit complete processing")
}

// FailDocument moves a processing document to error. It wraps
// ErrNotProcessing when the document is in any other state.
func (s *PostgresStore) FailDocument(ctx context.Context, id string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = 'error', error_message = $1, updated_at = $2
		 WHERE id = $3 AND status = 'processing'`,
		msg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail document %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotProcessing, "postgres: fail document %s", id)
	}
	return nil
}

// ListChunks returns a document's chunks in order. Embeddings are not loaded.
func (s *PostgresStore) ListChunks(ctx context.Context, docID string) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, chunk_index, content, token_count, metadata
		 FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list chunks")
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var metaJSON []byte
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.TokenCount, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal chunk metadata")
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: list chunks iterate")
}

// --- Features ---

func (s *PostgresStore) ListReadyForFeatures(ctx context.Context, limit int) ([]model.Document, error) {
	return s.queryDocuments(ctx, "list ready for features",
		`SELECT `+documentColumns+` FROM documents
		 WHERE status = 'ready' AND features_extracted = false
		 ORDER BY updated_at LIMIT $1`,
		limit,
	)
}

// SaveFeatures replaces the document's funding rounds, upserts its feature
// summary and sets features_extracted, all in one transaction. Round IDs are
// assigned here and copied into feats.FundingRoundIDs.
func (s *PostgresStore) SaveFeatures(ctx context.Context, docID string, rounds []model.FundingRound, feats *model.DocumentFeatures) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save features")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM funding_rounds WHERE document_id = $1`, docID); err != nil {
		return eris.Wrapf(err, "postgres: delete funding rounds %s", docID)
	}

	now := time.Now().UTC()
	roundIDs := make([]string, 0, len(rounds))
	for i := range rounds {
		r := &rounds[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.DocumentID = docID
		r.CreatedAt = now
		metaJSON, err := json.Marshal(r.SourceMetadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal round metadata")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO funding_rounds
			 (id, document_id, company_id, amount_usd, amount_original, currency, round_type, round_date,
			  lead_investor_id, investor_ids, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			r.ID, docID, r.CompanyID, r.AmountUSD, r.AmountOriginal, r.Currency, r.RoundType, r.RoundDate,
			r.LeadInvestorID, nonNil(r.InvestorIDs), metaJSON, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert funding round for %s", docID)
		}
		roundIDs = append(roundIDs, r.ID)
	}

	feats.DocumentID = docID
	feats.FundingRoundIDs = roundIDs
	feats.UpdatedAt = now
	featMeta, err := json.Marshal(feats.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal features metadata")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO document_features
		 (document_id, company_ids, investor_ids, funding_round_ids, sectors, keywords, metadata, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (document_id) DO UPDATE SET
		   company_ids = $2, investor_ids = $3, funding_round_ids = $4,
		   sectors = $5, keywords = $6, metadata = $7, updated_at = $8`,
		docID, nonNil(feats.CompanyIDs), nonNil(feats.InvestorIDs), roundIDs,
		nonNil(feats.Sectors), nonNil(feats.Keywords), featMeta, now,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert features %s", docID)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE documents SET features_extracted = true, updated_at = $1 WHERE id = $2`,
		now, docID,
	); err != nil {
		return eris.Wrapf(err, "postgres: mark features extracted %s", docID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save features")
}

func (s *PostgresStore) ListFundingRounds(ctx context.Context, docID string) ([]model.FundingRound, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, company_id, amount_usd, amount_original, currency, round_type, round_date,
		        lead_investor_id, investor_ids, metadata, created_at
		 FROM funding_rounds WHERE document_id = $1 ORDER BY created_at, id`,
		docID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list funding rounds")
	}
	defer rows.Close()

	var rounds []model.FundingRound
	for rows.Next() {
		var r model.FundingRound
		var metaJSON []byte
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.CompanyID, &r.AmountUSD, &r.AmountOriginal, &r.Currency,
			&r.RoundType, &r.RoundDate, &r.LeadInvestorID, &r.InvestorIDs, &metaJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan funding round")
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &r.SourceMetadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal round metadata")
			}
		}
		rounds = append(rounds, r)
	}
	return rounds, eris.Wrap(rows.Err(), "postgres: list funding rounds iterate")
}

func (s *PostgresStore) GetDocumentFeatures(ctx context.Context, docID string) (*model.DocumentFeatures, error) {
	var f model.DocumentFeatures
	var metaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document_id, company_ids, investor_ids, funding_round_ids, sectors, keywords, metadata, updated_at
		 FROM document_features WHERE document_id = $1`,
		docID,
	).Scan(&f.DocumentID, &f.CompanyIDs, &f.InvestorIDs, &f.FundingRoundIDs, &f.Sectors, &f.Keywords, &metaJSON, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get document features")
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &f.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal features metadata")
		}
	}
	return &f, nil
}

// --- Entities ---

func (s *PostgresStore) GetEntityByNormalizedName(ctx context.Context, kind model.EntityKind, normalized string) (*model.Entity, error) {
	var e model.Entity
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, display_name, normalized_name, aliases, created_at
		 FROM entities WHERE kind = $1 AND normalized_name = $2`,
		string(kind), normalized,
	).Scan(&e.ID, &e.Kind, &e.DisplayName, &e.NormalizedName, &e.Aliases, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get %s entity", kind)
	}
	return &e, nil
}

// CreateEntity inserts a new entity. It returns ErrDuplicate when the
// (kind, normalized_name) key already exists.
func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entities (id, kind, display_name, normalized_name, aliases, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, string(e.Kind), e.DisplayName, e.NormalizedName, nonNil(e.Aliases), e.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return eris.Wrapf(err, "postgres: insert %s entity", e.Kind)
}

// --- Stats ---

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: make(map[model.DocumentStatus]int)}

	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count documents")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan document count")
		}
		st.ByStatus[model.DocumentStatus(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: count documents iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE status = 'ready' AND NOT features_extracted),
		        count(*) FILTER (WHERE features_extracted)
		 FROM documents`,
	).Scan(&st.FeaturesPending, &st.FeaturesDone)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count features")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE kind = 'company'),
		        count(*) FILTER (WHERE kind = 'investor'),
		        (SELECT count(*) FROM funding_rounds)
		 FROM entities`,
	).Scan(&st.Companies, &st.Investors, &st.FundingRounds)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count entities")
	}
	return st, nil
}
