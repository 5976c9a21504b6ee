package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
)

// DateParser turns a matched date phrase into a calendar date.
type DateParser interface {
	Parse(s string) (time.Time, error)
}

// DefaultDateParser tries fixed layouts, then falls back to dateparse.
type DefaultDateParser struct{}

var dateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

func (DefaultDateParser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "extract: parse date %q", s)
	}
	return t, nil
}

type dateMatcher struct {
	patterns []*regexp.Regexp
	parser   DateParser
	limit    int
}

func compileDates(p DatePatterns) (dateMatcher, error) {
	res, err := compileAll("date", p.Patterns)
	if err != nil {
		return dateMatcher{}, err
	}
	return dateMatcher{patterns: res, parser: DefaultDateParser{}, limit: orDefault(p.Limit, 10)}, nil
}

// Dates returns parsed dates, deduplicated by calendar day. Phrases the
// parser rejects are dropped.
func (e *Engine) Dates(text string) []Date {
	m := &e.dates
	seen := make(map[string]struct{})
	var out []Date
	for _, re := range m.patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			raw := text[loc[0]:loc[1]]
			t, err := m.parser.Parse(raw)
			if err != nil {
				continue
			}
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			iso := day.Format("2006-01-02")
			if _, dup := seen[iso]; dup {
				continue
			}
			seen[iso] = struct{}{}
			out = append(out, Date{ISO: iso, Time: day, Offset: loc[0], Raw: raw})
		}
	}
	return capped(out, m.limit)
}
