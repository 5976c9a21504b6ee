package extract

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// PatternSet is the full battery of extraction rules.
type PatternSet struct {
	Companies CompanyPatterns  `yaml:"companies"`
	Amounts   AmountPatterns   `yaml:"amounts"`
	Investors InvestorPatterns `yaml:"investors"`
	Dates     DatePatterns     `yaml:"dates"`
	Sectors   SectorPatterns   `yaml:"sectors"`
}

// CompanyPatterns configures company candidate matching and filtering.
type CompanyPatterns struct {
	Limit        int      `yaml:"limit"`
	MinLength    int      `yaml:"min_length"`
	MaxWords     int      `yaml:"max_words"`
	Patterns     []string `yaml:"patterns"` // first capture group is the name
	Stoplist     []string `yaml:"stoplist"`
	LeadingWords []string `yaml:"leading_words"`
	VerbPhrases  []string `yaml:"verb_phrases"`
	DateShape    string   `yaml:"date_shape"`
}

// AmountPatterns configures funding amount matching.
type AmountPatterns struct {
	Limit           int               `yaml:"limit"`
	Patterns        []string          `yaml:"patterns"`
	Currencies      map[string]string `yaml:"currencies"`
	DefaultCurrency string            `yaml:"default_currency"`
	Rounds          RoundPatterns     `yaml:"rounds"`
}

// RoundPatterns configures round-label lookup around an amount.
type RoundPatterns struct {
	Window int         `yaml:"window"`
	Labels []RoundRule `yaml:"labels"`
}

// RoundRule maps a pattern to a label. "$1" in the label is replaced by the
// upper-cased first capture group.
type RoundRule struct {
	Pattern string `yaml:"pattern"`
	Label   string `yaml:"label"`
}

// InvestorPatterns configures investor matching.
type InvestorPatterns struct {
	Limit       int      `yaml:"limit"`
	Pattern     string   `yaml:"pattern"`
	Split       string   `yaml:"split"`
	LeadMarkers []string `yaml:"lead_markers"`
}

// DatePatterns configures date matching.
type DatePatterns struct {
	Limit    int      `yaml:"limit"`
	Patterns []string `yaml:"patterns"`
}

// SectorPatterns configures sector scoring.
type SectorPatterns struct {
	Limit          int      `yaml:"limit"`
	BaseConfidence float64  `yaml:"base_confidence"`
	Step           float64  `yaml:"step"`
	Vocabulary     []string `yaml:"vocabulary"`
}

// DefaultPatterns returns the built-in pattern tables.
func DefaultPatterns() (*PatternSet, error) {
	return ParsePatterns(defaultPatterns)
}

// LoadPatterns reads pattern tables from a YAML file. An empty path yields
// the built-in tables.
func LoadPatterns(path string) (*PatternSet, error) {
	if path == "" {
		return DefaultPatterns()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read patterns %s", path)
	}
	return ParsePatterns(data)
}

// ParsePatterns decodes pattern tables. The YAML has a top-level "extraction" key.
func ParsePatterns(data []byte) (*PatternSet, error) {
	var wrapper struct {
		Extraction PatternSet `yaml:"extraction"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "extract: parse patterns")
	}
	return &wrapper.Extraction, nil
}
