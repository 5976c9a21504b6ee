package model

import "time"

// FeedStatus is the ingestion state of a configured feed.
type FeedStatus string

const (
	FeedStatusActive FeedStatus = "active"
	FeedStatusPaused FeedStatus = "paused"
	FeedStatusError  FeedStatus = "error"
)

// Feed is a configured RSS or Atom source.
type Feed struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	URL            string     `json:"url"`
	Status         FeedStatus `json:"status"`
	ArticleCount   int        `json:"article_count"`
	LastIngestedAt *time.Time `json:"last_ingested_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Entry is one item parsed from a feed.
type Entry struct {
	ID            string     `json:"id"`
	Link          string     `json:"link"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
}
