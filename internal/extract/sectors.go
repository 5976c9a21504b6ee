package extract

import (
	"math"
	"sort"
	"strings"
)

type sectorScorer struct {
	vocabulary []string
	base       float64
	step       float64
	limit      int
}

func compileSectors(p SectorPatterns) sectorScorer {
	s := sectorScorer{
		vocabulary: p.Vocabulary,
		base:       p.BaseConfidence,
		step:       p.Step,
		limit:      orDefault(p.Limit, 10),
	}
	if s.base == 0 {
		s.base = 0.5
	}
	if s.step == 0 {
		s.step = 0.1
	}
	return s
}

// Sectors scores each vocabulary label by its case-insensitive substring
// count. Confidence is min(1, base + step*count); ties keep vocabulary order.
func (e *Engine) Sectors(text string) []Sector {
	s := &e.sectors
	lower := strings.ToLower(text)
	var out []Sector
	for _, label := range s.vocabulary {
		n := strings.Count(lower, strings.ToLower(label))
		if n == 0 {
			continue
		}
		out = append(out, Sector{
			Name:       label,
			Confidence: math.Min(1.0, s.base+s.step*float64(n)),
			Count:      n,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return capped(out, s.limit)
}
