package model

import "time"

// EntityKind distinguishes the shared entity tables.
type EntityKind string

const (
	EntityCompany  EntityKind = "company"
	EntityInvestor EntityKind = "investor"
)

// Entity is a company or investor keyed by its normalized name.
type Entity struct {
	ID             string     `json:"id"`
	Kind           EntityKind `json:"kind"`
	DisplayName    string     `json:"display_name"`
	NormalizedName string     `json:"normalized_name"`
	Aliases        []string   `json:"aliases,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// FundingRound is one financing event extracted from a document.
type FundingRound struct {
	ID             string         `json:"id"`
	DocumentID     string         `json:"document_id"`
	CompanyID      *string        `json:"company_id,omitempty"`
	AmountUSD      *float64       `json:"amount_usd,omitempty"`
	AmountOriginal float64        `json:"amount_original"`
	Currency       string         `json:"currency"`
	RoundType      *string        `json:"round_type,omitempty"`
	RoundDate      *time.Time     `json:"round_date,omitempty"`
	LeadInvestorID *string        `json:"lead_investor_id,omitempty"`
	InvestorIDs    []string       `json:"investor_ids"`
	SourceMetadata map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DocumentFeatures summarizes everything extracted from one document.
type DocumentFeatures struct {
	DocumentID      string         `json:"document_id"`
	CompanyIDs      []string       `json:"company_ids"`
	InvestorIDs     []string       `json:"investor_ids"`
	FundingRoundIDs []string       `json:"funding_round_ids"`
	Sectors         []string       `json:"sectors"`
	Keywords        []string       `json:"keywords"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
