package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealflow/internal/model"
)

// SQLiteStore implements Store using sqlx over modernc.org/sqlite. Timestamps
// are stored as fixed-width UTC text so range filters compare lexically.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database at the given path with WAL journaling.
// SQLite allows one writer, so the pool is pinned to a single connection.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS feeds (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	url              TEXT NOT NULL UNIQUE,
	status           TEXT NOT NULL DEFAULT 'active',
	article_count    INTEGER NOT NULL DEFAULT 0,
	last_ingested_at TEXT,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id                 TEXT PRIMARY KEY,
	dedup_key          TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	features_extracted INTEGER NOT NULL DEFAULT 0,
	raw_text           TEXT NOT NULL DEFAULT '',
	metadata           TEXT NOT NULL DEFAULT '{}',
	chunk_count        INTEGER NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status, updated_at);

CREATE TABLE IF NOT EXISTS document_chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   TEXT,
	token_count INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TEXT NOT NULL,
	UNIQUE (document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS entities (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	display_name    TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	aliases         TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL,
	UNIQUE (kind, normalized_name)
);

CREATE TABLE IF NOT EXISTS funding_rounds (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	company_id       TEXT REFERENCES entities(id),
	amount_usd       REAL,
	amount_original  REAL NOT NULL,
	currency         TEXT NOT NULL,
	round_type       TEXT,
	round_date       TEXT,
	lead_investor_id TEXT REFERENCES entities(id),
	investor_ids     TEXT NOT NULL DEFAULT '[]',
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       TEXT NOT NULL,
	CHECK (amount_usd IS NULL OR (amount_usd > 0 AND amount_usd <= 50000000000))
);

CREATE INDEX IF NOT EXISTS idx_funding_rounds_document ON funding_rounds(document_id);

CREATE TABLE IF NOT EXISTS document_features (
	document_id       TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
	company_ids       TEXT NOT NULL DEFAULT '[]',
	investor_ids      TEXT NOT NULL DEFAULT '[]',
	funding_round_ids TEXT NOT NULL DEFAULT '[]',
	sectors           TEXT NOT NULL DEFAULT '[]',
	keywords          TEXT NOT NULL DEFAULT '[]',
	metadata          TEXT NOT NULL DEFAULT '{}',
	updated_at        TEXT NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- Feeds ---

type feedRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	URL            string         `db:"url"`
	Status         string         `db:"status"`
	ArticleCount   int            `db:"article_count"`
	LastIngestedAt sql.NullString `db:"last_ingested_at"`
	ErrorMessage   string         `db:"error_message"`
	CreatedAt      string         `db:"created_at"`
}

func (r feedRow) toModel() model.Feed {
	f := model.Feed{
		ID:           r.ID,
		Name:         r.Name,
		URL:          r.URL,
		Status:       model.FeedStatus(r.Status),
		ArticleCount: r.ArticleCount,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    parseSQLiteTime(r.CreatedAt),
	}
	if r.LastIngestedAt.Valid {
		t := parseSQLiteTime(r.LastIngestedAt.String)
		f.LastIngestedAt = &t
	}
	return f
}

func (s *SQLiteStore) selectFeeds(ctx context.Context, query string, args ...any) ([]model.Feed, error) {
	var rows []feedRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrap(err, "sqlite: list feeds")
	}
	feeds := make([]model.Feed, 0, len(rows))
	for _, r := range rows {
		feeds = append(feeds, r.toModel())
	}
	return feeds, nil
}

func (s *SQLiteStore) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	return s.selectFeeds(ctx, `SELECT * FROM feeds ORDER BY name`)
}

func (s *SQLiteStore) ListActiveFeeds(ctx context.Context) ([]model.Feed, error) {
	return s.selectFeeds(ctx, `SELECT * FROM feeds WHERE status <> ? ORDER BY name`, string(model.FeedStatusPaused))
}

func (s *SQLiteStore) UpsertFeed(ctx context.Context, f *model.Feed) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = model.FeedStatusActive
	}
	var row feedRow
	err := s.db.GetContext(ctx, &row,
		`INSERT INTO feeds (id, name, url, status, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET name = excluded.name
		 RETURNING *`,
		f.ID, f.Name, f.URL, string(f.Status), sqliteTime(time.Now()),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert feed %s", f.URL)
	}
	*f = row.toModel()
	return nil
}

func (s *SQLiteStore) UpdateFeedIngested(ctx context.Context, feedID string, added int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET article_count = article_count + ?, last_ingested_at = ?, status = ?, error_message = ''
		 WHERE id = ?`,
		added, sqliteTime(at), string(model.FeedStatusActive), feedID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update feed %s", feedID)
	}
	return checkRowsAffected(res, "feed", feedID)
}

func (s *SQLiteStore) MarkFeedError(ctx context.Context, feedID string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET status = ?, error_message = ? WHERE id = ?`,
		string(model.FeedStatusError), msg, feedID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark feed error %s", feedID)
	}
	return checkRowsAffected(res, "feed", feedID)
}

// --- Documents ---

type documentRow struct {
	ID                string `db:"id"`
	DedupKey          string `db:"dedup_key"`
	Name              string `db:"name"`
	Status            string `db:"status"`
	FeaturesExtracted bool   `db:"features_extracted"`
	RawText           string `db:"raw_text"`
	Metadata          string `db:"metadata"`
	ChunkCount        int    `db:"chunk_count"`
	ErrorMessage      string `db:"error_message"`
	CreatedAt         string `db:"created_at"`
	UpdatedAt         string `db:"updated_at"`
}

func (r documentRow) toModel() (model.Document, error) {
	d := model.Document{
		ID:                r.ID,
		DedupKey:          r.DedupKey,
		Name:              r.Name,
		Status:            model.DocumentStatus(r.Status),
		FeaturesExtracted: r.FeaturesExtracted,
		RawText:           r.RawText,
		ChunkCount:        r.ChunkCount,
		ErrorMessage:      r.ErrorMessage,
		CreatedAt:         parseSQLiteTime(r.CreatedAt),
		UpdatedAt:         parseSQLiteTime(r.UpdatedAt),
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &d.Metadata); err != nil {
			return d, eris.Wrap(err, "sqlite: unmarshal document metadata")
		}
	}
	return d, nil
}

func (s *SQLiteStore) getDocument(ctx context.Context, where string, arg any) (*model.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get document")
	}
	d, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) GetDocumentByDedupKey(ctx context.Context, key string) (*model.Document, error) {
	return s.getDocument(ctx, `dedup_key = ?`, key)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return s.getDocument(ctx, `id = ?`, id)
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, d *model.Document) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DocumentStatusPending
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now

	meta, err := marshalText(d.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal document metadata")
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO documents (id, dedup_key, name, status, features_extracted, raw_text, metadata, chunk_count, error_message, created_at, updated_at)
		 VALUES (:id, :dedup_key, :name, :status, :features_extracted, :raw_text, :metadata, :chunk_count, :error_message, :created_at, :updated_at)`,
		documentRow{
			ID:                d.ID,
			DedupKey:          d.DedupKey,
			Name:              d.Name,
			Status:            string(d.Status),
			FeaturesExtracted: d.FeaturesExtracted,
			RawText:           d.RawText,
			Metadata:          meta,
			CreatedAt:         sqliteTime(now),
			UpdatedAt:         sqliteTime(now),
		},
	)
	if isSQLiteUnique(err) {
		return ErrDuplicate
	}
	return eris.Wrapf(err, "sqlite: insert document %s", d.DedupKey)
}

func (s *SQLiteStore) selectDocuments(ctx context.Context, op, query string, args ...any) ([]model.Document, error) {
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	docs := make([]model.Document, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (s *SQLiteStore) ListProcessable(ctx context.Context, limit int, staleBefore time.Time) ([]model.Document, error) {
	return s.selectDocuments(ctx, "list processable",
		`SELECT * FROM documents
		 WHERE status IN ('pending', 'error') OR (status = 'processing' AND updated_at < ?)
		 ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, updated_at
		 LIMIT ?`,
		sqliteTime(staleBefore), limit,
	)
}

func (s *SQLiteStore) ClaimDocument(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = 'processing', error_message = '', updated_at = ?
		 WHERE id = ? AND (status IN ('pending', 'error') OR (status = 'processing' AND updated_at < ?))`,
		sqliteTime(time.Now()), id, sqliteTime(staleBefore),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim document %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompleteProcessing(ctx context.Context, docID string, chunks []model.Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete processing")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, docID); err != nil {
		return eris.Wrapf(err, "sqlite: delete chunks %s", docID)
	}

	now := sqliteTime(time.Now())
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.DocumentID = docID
		meta, err := marshalText(c.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal chunk metadata")
		}
		var embedding sql.NullString
		if len(c.Embedding) > 0 {
			v, err := marshalText(c.Embedding)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal embedding")
			}
			embedding = sql.NullString{String: v, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, token_count, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, docID, c.Index, c.Content, embedding, c.TokenCount, meta, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert chunk %d of %s", c.Index, docID)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE documents SET status = 'ready', chunk_count = ?, error_message = '', updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		len(chunks), now, docID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark ready %s", docID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotProcessing, "sqlite: complete processing %s", docID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit complete processing")
}

// FailDocument moves a processing document to error. It wraps
// ErrNotProcessing when the document is in any other state.
func (s *SQLiteStore) FailDocument(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = 'error', error_message = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		msg, sqliteTime(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail document %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotProcessing, "sqlite: fail document %s", id)
	}
	return nil
}

type chunkRow struct {
	ID         string         `db:"id"`
	DocumentID string         `db:"document_id"`
	Index      int            `db:"chunk_index"`
	Content    string         `db:"content"`
	Embedding  sql.NullString `db:"embedding"`
	TokenCount int            `db:"token_count"`
	Metadata   string         `db:"metadata"`
	CreatedAt  string         `db:"created_at"`
}

func (s *SQLiteStore) ListChunks(ctx context.Context, docID string) ([]model.Chunk, error) {
	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`, docID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: list chunks")
	}
	chunks := make([]model.Chunk, 0, len(rows))
	for _, r := range rows {
		c := model.Chunk{
			ID:         r.ID,
			DocumentID: r.DocumentID,
			Index:      r.Index,
			Content:    r.Content,
			TokenCount: r.TokenCount,
		}
		if r.Embedding.Valid {
			if err := json.Unmarshal([]byte(r.Embedding.String), &c.Embedding); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
			}
		}
		if err := json.Unmarshal([]byte(r.Metadata), &c.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal chunk metadata")
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// --- Features ---

func (s *SQLiteStore) ListReadyForFeatures(ctx context.Context, limit int) ([]model.Document, error) {
	return s.selectDocuments(ctx, "list ready for features",
		`SELECT * FROM documents WHERE status = 'ready' AND features_extracted = 0
		 ORDER BY updated_at LIMIT ?`,
		limit,
	)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (s *SQLiteStore) SaveFeatures(ctx context.Context, docID string, rounds []model.FundingRound, feats *model.DocumentFeatures) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save features")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM funding_rounds WHERE document_id = ?`, docID); err != nil {
		return eris.Wrapf(err, "sqlite: delete funding rounds %s", docID)
	}

	nowT := time.Now().UTC()
	now := sqliteTime(nowT)
	roundIDs := make([]string, 0, len(rounds))
	for i := range rounds {
		r := &rounds[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.DocumentID = docID
		r.CreatedAt = nowT

		investors, err := marshalText(nonNil(r.InvestorIDs))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal investor ids")
		}
		meta, err := marshalText(r.SourceMetadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal round metadata")
		}
		var amountUSD sql.NullFloat64
		if r.AmountUSD != nil {
			amountUSD = sql.NullFloat64{Float64: *r.AmountUSD, Valid: true}
		}
		var roundDate sql.NullString
		if r.RoundDate != nil {
			roundDate = sql.NullString{String: r.RoundDate.Format("2006-01-02"), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO funding_rounds
			 (id, document_id, company_id, amount_usd, amount_original, currency, round_type, round_date,
			  lead_investor_id, investor_ids, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, docID, nullString(r.CompanyID), amountUSD, r.AmountOriginal, r.Currency,
			nullString(r.RoundType), roundDate, nullString(r.LeadInvestorID), investors, meta, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert funding round for %s", docID)
		}
		roundIDs = append(roundIDs, r.ID)
	}

	feats.DocumentID = docID
	feats.FundingRoundIDs = roundIDs
	feats.UpdatedAt = nowT
	cols := make([]string, 0, 6)
	for _, v := range []any{nonNil(feats.CompanyIDs), nonNil(feats.InvestorIDs), roundIDs,
		nonNil(feats.Sectors), nonNil(feats.Keywords), feats.Metadata} {
		text, err := marshalText(v)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal features")
		}
		cols = append(cols, text)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO document_features
		 (document_id, company_ids, investor_ids, funding_round_ids, sectors, keywords, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (document_id) DO UPDATE SET
		   company_ids = excluded.company_ids, investor_ids = excluded.investor_ids,
		   funding_round_ids = excluded.funding_round_ids, sectors = excluded.sectors,
		   keywords = excluded.keywords, metadata = excluded.metadata, updated_at = excluded.updated_at`,
		docID, cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], now,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert features %s", docID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET features_extracted = 1, updated_at = ? WHERE id = ?`, now, docID,
	); err != nil {
		return eris.Wrapf(err, "sqlite: mark features extracted %s", docID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save features")
}

type fundingRoundRow struct {
	ID             string          `db:"id"`
	DocumentID     string          `db:"document_id"`
	CompanyID      sql.NullString  `db:"company_id"`
	AmountUSD      sql.NullFloat64 `db:"amount_usd"`
	AmountOriginal float64         `db:"amount_original"`
	Currency       string          `db:"currency"`
	RoundType      sql.NullString  `db:"round_type"`
	RoundDate      sql.NullString  `db:"round_date"`
	LeadInvestorID sql.NullString  `db:"lead_investor_id"`
	InvestorIDs    string          `db:"investor_ids"`
	Metadata       string          `db:"metadata"`
	CreatedAt      string          `db:"created_at"`
}

func (s *SQLiteStore) ListFundingRounds(ctx context.Context, docID string) ([]model.FundingRound, error) {
	var rows []fundingRoundRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM funding_rounds WHERE document_id = ? ORDER BY created_at, rowid`, docID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: list funding rounds")
	}
	rounds := make([]model.FundingRound, 0, len(rows))
	for _, r := range rows {
		fr := model.FundingRound{
			ID:             r.ID,
			DocumentID:     r.DocumentID,
			CompanyID:      stringPtr(r.CompanyID),
			AmountOriginal: r.AmountOriginal,
			Currency:       r.Currency,
			RoundType:      stringPtr(r.RoundType),
			LeadInvestorID: stringPtr(r.LeadInvestorID),
			CreatedAt:      parseSQLiteTime(r.CreatedAt),
		}
		if r.AmountUSD.Valid {
			v := r.AmountUSD.Float64
			fr.AmountUSD = &v
		}
		if r.RoundDate.Valid {
			if t, err := time.Parse("2006-01-02", r.RoundDate.String); err == nil {
				fr.RoundDate = &t
			}
		}
		if err := json.Unmarshal([]byte(r.InvestorIDs), &fr.InvestorIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal investor ids")
		}
		if err := json.Unmarshal([]byte(r.Metadata), &fr.SourceMetadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal round metadata")
		}
		rounds = append(rounds, fr)
	}
	return rounds, nil
}

type featuresRow struct {
	DocumentID      string `db:"document_id"`
	CompanyIDs      string `db:"company_ids"`
	InvestorIDs     string `db:"investor_ids"`
	FundingRoundIDs string `db:"funding_round_ids"`
	Sectors         string `db:"sectors"`
	Keywords        string `db:"keywords"`
	Metadata        string `db:"metadata"`
	UpdatedAt       string `db:"updated_at"`
}

func (s *SQLiteStore) GetDocumentFeatures(ctx context.Context, docID string) (*model.DocumentFeatures, error) {
	var row featuresRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM document_features WHERE document_id = ?`, docID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get document features")
	}
	f := &model.DocumentFeatures{DocumentID: row.DocumentID, UpdatedAt: parseSQLiteTime(row.UpdatedAt)}
	for _, p := range []struct {
		src string
		dst any
	}{
		{row.CompanyIDs, &f.CompanyIDs},
		{row.InvestorIDs, &f.InvestorIDs},
		{row.FundingRoundIDs, &f.FundingRoundIDs},
		{row.Sectors, &f.Sectors},
		{row.Keywords, &f.Keywords},
		{row.Metadata, &f.Metadata},
	} {
		if err := json.Unmarshal([]byte(p.src), p.dst); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal features")
		}
	}
	return f, nil
}

// --- Entities ---

type entityRow struct {
	ID             string `db:"id"`
	Kind           string `db:"kind"`
	DisplayName    string `db:"display_name"`
	NormalizedName string `db:"normalized_name"`
	Aliases        string `db:"aliases"`
	CreatedAt      string `db:"created_at"`
}

func (s *SQLiteStore) GetEntityByNormalizedName(ctx context.Context, kind model.EntityKind, normalized string) (*model.Entity, error) {
	var row entityRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM entities WHERE kind = ? AND normalized_name = ?`, string(kind), normalized,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get %s entity", kind)
	}
	e := &model.Entity{
		ID:             row.ID,
		Kind:           model.EntityKind(row.Kind),
		DisplayName:    row.DisplayName,
		NormalizedName: row.NormalizedName,
		CreatedAt:      parseSQLiteTime(row.CreatedAt),
	}
	if err := json.Unmarshal([]byte(row.Aliases), &e.Aliases); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal aliases")
	}
	return e, nil
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()
	aliases, err := marshalText(nonNil(e.Aliases))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT INTO entities (id, kind, display_name, normalized_name, aliases, created_at)
		 VALUES (:id, :kind, :display_name, :normalized_name, :aliases, :created_at)`,
		entityRow{
			ID:             e.ID,
			Kind:           string(e.Kind),
			DisplayName:    e.DisplayName,
			NormalizedName: e.NormalizedName,
			Aliases:        aliases,
			CreatedAt:      sqliteTime(e.CreatedAt),
		},
	)
	if isSQLiteUnique(err) {
		return ErrDuplicate
	}
	return eris.Wrapf(err, "sqlite: insert %s entity", e.Kind)
}

// --- Stats ---

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: make(map[model.DocumentStatus]int)}

	var counts []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &counts, `SELECT status, count(*) AS n FROM documents GROUP BY status`); err != nil {
		return nil, eris.Wrap(err, "sqlite: count documents")
	}
	for _, c := range counts {
		st.ByStatus[model.DocumentStatus(c.Status)] = c.N
	}

	err := s.db.QueryRowxContext(ctx,
		`SELECT
		   (SELECT count(*) FROM documents WHERE status = 'ready' AND features_extracted = 0),
		   (SELECT count(*) FROM documents WHERE features_extracted = 1),
		   (SELECT count(*) FROM entities WHERE kind = 'company'),
		   (SELECT count(*) FROM entities WHERE kind = 'investor'),
		   (SELECT count(*) FROM funding_rounds)`,
	).Scan(&st.FeaturesPending, &st.FeaturesDone, &st.Companies, &st.Investors, &st.FundingRounds)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count features")
	}
	return st, nil
}
