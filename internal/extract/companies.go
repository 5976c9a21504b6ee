package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

type companyMatcher struct {
	patterns    []*regexp.Regexp
	stoplist    map[string]struct{}
	leading     map[string]struct{}
	verbPhrases []string
	dateShape   *regexp.Regexp
	minLength   int
	maxWords    int
	limit       int
}

func compileCompanies(p CompanyPatterns) (companyMatcher, error) {
	patterns, err := compileAll("company", p.Patterns)
	if err != nil {
		return companyMatcher{}, err
	}
	for i, re := range patterns {
		if re.NumSubexp() < 1 {
			return companyMatcher{}, eris.Errorf("extract: company pattern %d has no capture group", i)
		}
	}
	m := companyMatcher{
		patterns:  patterns,
		stoplist:  toSet(p.Stoplist, false),
		leading:   toSet(p.LeadingWords, true),
		minLength: orDefault(p.MinLength, 3),
		maxWords:  orDefault(p.MaxWords, 3),
		limit:     orDefault(p.Limit, 15),
	}
	for _, vp := range p.VerbPhrases {
		m.verbPhrases = append(m.verbPhrases, strings.ToLower(vp))
	}
	if p.DateShape != "" {
		if m.dateShape, err = regexp.Compile(p.DateShape); err != nil {
			return companyMatcher{}, eris.Wrap(err, "extract: compile company date shape")
		}
	}
	return m, nil
}

// Companies returns company-name candidates ordered by first appearance.
func (e *Engine) Companies(text string) []Company {
	m := &e.companies
	seen := make(map[string]struct{})
	var out []Company
	for _, re := range m.patterns {
		for _, sub := range re.FindAllStringSubmatch(text, -1) {
			name := strings.TrimSpace(sub[1])
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if !m.accept(name) {
				continue
			}
			out = append(out, Company{Name: name, Offset: FirstIndexFold(text, name)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Offset != out[j].Offset {
			return out[i].Offset < out[j].Offset
		}
		return out[i].Name < out[j].Name
	})
	return capped(out, m.limit)
}

func (m *companyMatcher) accept(name string) bool {
	if len(name) < m.minLength {
		return false
	}
	if _, stop := m.stoplist[name]; stop {
		return false
	}
	words := strings.Fields(name)
	if len(words) == 0 || len(words) > m.maxWords {
		return false
	}
	if len(words) > 1 {
		short := true
		for _, w := range words {
			if len(w) > 3 {
				short = false
				break
			}
		}
		if short {
			return false
		}
	}
	if _, lead := m.leading[strings.ToLower(words[0])]; lead {
		return false
	}
	if m.dateShape != nil && m.dateShape.MatchString(name) {
		return false
	}
	lower := strings.ToLower(name)
	for _, vp := range m.verbPhrases {
		if strings.HasPrefix(lower, vp) {
			return false
		}
	}
	return true
}

// FirstIndexFold returns the byte offset of the first case-insensitive
// occurrence of sub in text, or -1.
func FirstIndexFold(text, sub string) int {
	if sub == "" {
		return -1
	}
	if lower := strings.ToLower(text); len(lower) == len(text) {
		return strings.Index(lower, strings.ToLower(sub))
	}
	// Lowercasing changed byte lengths, so offsets in lower are not offsets in text.
	for i := range text {
		if j := i + len(sub); j <= len(text) && strings.EqualFold(text[i:j], sub) {
			return i
		}
	}
	return -1
}
