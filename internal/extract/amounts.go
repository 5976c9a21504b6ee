package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

type amountPattern struct {
	re     *regexp.Regexp
	amount int
	symbol int
	value  int
	unit   int
}

type roundRule struct {
	re    *regexp.Regexp
	label string
}

type amountMatcher struct {
	patterns        []amountPattern
	currencies      map[string]string
	defaultCurrency string
	roundWindow     int
	rounds          []roundRule
	limit           int
}

func compileAmounts(p AmountPatterns) (amountMatcher, error) {
	res, err := compileAll("amount", p.Patterns)
	if err != nil {
		return amountMatcher{}, err
	}
	m := amountMatcher{
		currencies:      p.Currencies,
		defaultCurrency: p.DefaultCurrency,
		roundWindow:     orDefault(p.Rounds.Window, 50),
		limit:           orDefault(p.Limit, 5),
	}
	if m.defaultCurrency == "" {
		m.defaultCurrency = "USD"
	}
	for i, re := range res {
		ap := amountPattern{
			re:     re,
			amount: re.SubexpIndex("amount"),
			symbol: re.SubexpIndex("symbol"),
			value:  re.SubexpIndex("value"),
			unit:   re.SubexpIndex("unit"),
		}
		if ap.amount < 0 || ap.value < 0 {
			return amountMatcher{}, eris.Errorf("extract: amount pattern %d needs \"amount\" and \"value\" groups", i)
		}
		m.patterns = append(m.patterns, ap)
	}
	for i, r := range p.Rounds.Labels {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return amountMatcher{}, eris.Wrapf(err, "extract: compile round pattern %d", i)
		}
		m.rounds = append(m.rounds, roundRule{re: re, label: r.Label})
	}
	return m, nil
}

func group(text string, loc []int, idx int) (string, bool) {
	if idx < 0 || loc[2*idx] < 0 {
		return "", false
	}
	return text[loc[2*idx]:loc[2*idx+1]], true
}

type amountKey struct {
	value    float64
	currency string
	round    string
}

// Amounts returns funding amounts normalized to millions of their currency,
// deduplicated by (value, currency, round label).
func (e *Engine) Amounts(text string) []Amount {
	m := &e.amounts
	seen := make(map[amountKey]struct{})
	var out []Amount
	for _, p := range m.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			raw, _ := group(text, loc, p.amount)
			valueText, _ := group(text, loc, p.value)
			value, err := strconv.ParseFloat(valueText, 64)
			if err != nil {
				continue
			}
			unit, _ := group(text, loc, p.unit)
			switch strings.ToLower(unit) {
			case "billion", "b":
				value *= 1000
			case "k":
				value /= 1000
			}

			currency := m.defaultCurrency
			if sym, ok := group(text, loc, p.symbol); ok {
				if c, known := m.currencies[sym]; known {
					currency = c
				}
			}

			start, end := loc[2*p.amount], loc[2*p.amount+1]
			round := m.roundNear(text, start, end)
			key := amountKey{value: value, currency: currency}
			if round != nil {
				key.round = *round
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Amount{Value: value, Currency: currency, Round: round, Offset: start, Raw: raw})
		}
	}
	return capped(out, m.limit)
}

// roundNear looks for a round label within the window around [start, end).
func (m *amountMatcher) roundNear(text string, start, end int) *string {
	lo := max(0, start-m.roundWindow)
	hi := min(len(text), end+m.roundWindow)
	window := text[lo:hi]
	for _, r := range m.rounds {
		sub := r.re.FindStringSubmatch(window)
		if sub == nil {
			continue
		}
		label := r.label
		if len(sub) > 1 {
			label = strings.ReplaceAll(label, "$1", strings.ToUpper(sub[1]))
		}
		return &label
	}
	return nil
}
