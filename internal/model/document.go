package model

import "time"

// DocumentStatus represents where a document sits in the processing lifecycle.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusError      DocumentStatus = "error"
)

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing, DocumentStatusReady, DocumentStatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Status only moves forward; error may re-enter processing, and a stale
// processing claim may be taken over by another worker.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case DocumentStatusPending:
		return next == DocumentStatusProcessing
	case DocumentStatusProcessing:
		return next == DocumentStatusReady || next == DocumentStatusError || next == DocumentStatusProcessing
	case DocumentStatusError:
		return next == DocumentStatusProcessing
	default:
		return false
	}
}

// DocumentMetadata carries the article identity recorded at admission.
type DocumentMetadata struct {
	Title         string `json:"title,omitempty"`
	ArticleURL    string `json:"article_url,omitempty"`
	PublishedDate string `json:"published_date,omitempty"`
	FeedID        string `json:"feed_id,omitempty"`
	FeedName      string `json:"feed_name,omitempty"`
	FeedURL       string `json:"feed_url,omitempty"`
	EntryID       string `json:"entry_id,omitempty"`
}

// Map flattens the metadata for chunk metadata and feature audit records.
func (m DocumentMetadata) Map() map[string]any {
	out := map[string]any{}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("title", m.Title)
	put("article_url", m.ArticleURL)
	put("published_date", m.PublishedDate)
	put("feed_id", m.FeedID)
	put("feed_name", m.FeedName)
	put("feed_url", m.FeedURL)
	put("entry_id", m.EntryID)
	return out
}

// Document is one admitted article moving through the pipeline.
type Document struct {
	ID                string           `json:"id"`
	DedupKey          string           `json:"dedup_key"`
	Name              string           `json:"name"`
	Status            DocumentStatus   `json:"status"`
	FeaturesExtracted bool             `json:"features_extracted"`
	RawText           string           `json:"-"`
	Metadata          DocumentMetadata `json:"metadata"`
	ChunkCount        int              `json:"chunk_count"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Chunk is an embedded window of a document's text.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Index      int            `json:"chunk_index"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"-"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
