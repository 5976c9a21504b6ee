// Package extract pulls candidate companies, funding amounts, investors,
// dates and sectors out of article text with a fixed battery of patterns.
// An Engine is immutable once built and safe for concurrent use.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Role is an investor's part in a round.
type Role string

const (
	RoleLead        Role = "lead"
	RoleParticipant Role = "participant"
)

// Company is a company-name candidate and its first case-insensitive
// byte offset in the text.
type Company struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
}

// Amount is a funding amount in millions of Currency.
type Amount struct {
	Value    float64 `json:"amount_millions"`
	Currency string  `json:"currency"`
	Round    *string `json:"round,omitempty"`
	Offset   int     `json:"position"`
	Raw      string  `json:"raw"`
}

// Investor is an investor-name candidate.
type Investor struct {
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Offset int    `json:"offset"`
}

// Date is a calendar date found in the text.
type Date struct {
	ISO    string    `json:"iso"`
	Time   time.Time `json:"-"`
	Offset int       `json:"offset"`
	Raw    string    `json:"raw"`
}

// Sector is a vocabulary label with its occurrence-based confidence.
type Sector struct {
	Name       string  `json:"sector"`
	Confidence float64 `json:"confidence"`
	Count      int     `json:"count"`
}

// Result holds every candidate list for one text.
type Result struct {
	Companies []Company  `json:"companies"`
	Amounts   []Amount   `json:"funding_amounts"`
	Investors []Investor `json:"investors"`
	Dates     []Date     `json:"dates"`
	Sectors   []Sector   `json:"sectors"`
}

// Engine runs a compiled PatternSet.
type Engine struct {
	companies companyMatcher
	amounts   amountMatcher
	investors investorMatcher
	dates     dateMatcher
	sectors   sectorScorer
}

// Option configures an Engine.
type Option func(*Engine)

// WithDateParser replaces the default date parser.
func WithDateParser(p DateParser) Option {
	return func(e *Engine) {
		e.dates.parser = p
	}
}

// New compiles ps into an Engine.
func New(ps *PatternSet, opts ...Option) (*Engine, error) {
	if ps == nil {
		return nil, eris.New("extract: nil pattern set")
	}
	e := &Engine{}
	var err error
	if e.companies, err = compileCompanies(ps.Companies); err != nil {
		return nil, err
	}
	if e.amounts, err = compileAmounts(ps.Amounts); err != nil {
		return nil, err
	}
	if e.investors, err = compileInvestors(ps.Investors); err != nil {
		return nil, err
	}
	if e.dates, err = compileDates(ps.Dates); err != nil {
		return nil, err
	}
	e.sectors = compileSectors(ps.Sectors)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewDefault builds an Engine from the built-in pattern tables.
func NewDefault(opts ...Option) (*Engine, error) {
	ps, err := DefaultPatterns()
	if err != nil {
		return nil, err
	}
	return New(ps, opts...)
}

// Extract runs every extractor over text.
func (e *Engine) Extract(text string) Result {
	return Result{
		Companies: e.Companies(text),
		Amounts:   e.Amounts(text),
		Investors: e.Investors(text),
		Dates:     e.Dates(text),
		Sectors:   e.Sectors(text),
	}
}

func compileAll(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: compile %s pattern %d", kind, i)
		}
		out = append(out, re)
	}
	return out, nil
}

func toSet(words []string, fold bool) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if fold {
			w = strings.ToLower(w)
		}
		set[w] = struct{}{}
	}
	return set
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func capped[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
