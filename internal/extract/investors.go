package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

type investorMatcher struct {
	re          *regexp.Regexp
	marker      int
	names       int
	split       *regexp.Regexp
	leadMarkers map[string]struct{}
	limit       int
}

var spaceRun = regexp.MustCompile(`\s+`)

func compileInvestors(p InvestorPatterns) (investorMatcher, error) {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return investorMatcher{}, eris.Wrap(err, "extract: compile investor pattern")
	}
	m := investorMatcher{
		re:     re,
		marker: re.SubexpIndex("marker"),
		names:  re.SubexpIndex("names"),
		limit:  orDefault(p.Limit, 20),
	}
	if m.marker < 0 || m.names < 0 {
		return investorMatcher{}, eris.New(`extract: investor pattern needs "marker" and "names" groups`)
	}
	if m.split, err = regexp.Compile(p.Split); err != nil {
		return investorMatcher{}, eris.Wrap(err, "extract: compile investor split")
	}
	m.leadMarkers = make(map[string]struct{}, len(p.LeadMarkers))
	for _, lm := range p.LeadMarkers {
		m.leadMarkers[normalizeMarker(lm)] = struct{}{}
	}
	return m, nil
}

func normalizeMarker(s string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// Investors returns investor names split out of "led by"-style phrases.
// The first name after the first lead marker is the lead and is listed first;
// the rest follow in text order.
func (e *Engine) Investors(text string) []Investor {
	m := &e.investors
	seen := make(map[string]int)
	var out []Investor
	leadFound := false
	for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
		marker, _ := group(text, loc, m.marker)
		_, isLead := m.leadMarkers[normalizeMarker(marker)]
		namesStart := loc[2*m.names]
		names, _ := group(text, loc, m.names)

		cursor := 0
		first := true
		for _, part := range m.split.Split(names, -1) {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			idx := strings.Index(names[cursor:], name)
			offset := namesStart + cursor + idx
			cursor += idx + len(name)

			role := RoleParticipant
			if isLead && first && !leadFound {
				role = RoleLead
				leadFound = true
			}
			first = false

			if i, dup := seen[name]; dup {
				if role == RoleLead {
					out[i].Role = RoleLead
				}
				continue
			}
			seen[name] = len(out)
			out = append(out, Investor{Name: name, Role: role, Offset: offset})
		}
	}
	leadFirst(out)
	return capped(out, m.limit)
}

// leadFirst moves the lead investor to the front, keeping the others in order.
func leadFirst(investors []Investor) {
	for i, inv := range investors {
		if inv.Role != RoleLead {
			continue
		}
		copy(investors[1:i+1], investors[:i])
		investors[0] = inv
		return
	}
}
