// Package funding turns extracted amounts into funding-round drafts. It
// converts amounts to USD, drops implausible figures, and links each amount
// to the nearest company and date by character offset.
package funding

import (
	"github.com/sells-group/dealflow/internal/extract"
)

// Config holds the linkage windows, the plausibility ceiling and the fixed
// conversion rates.
type Config struct {
	CompanyWindow int     `mapstructure:"company_window"`
	DateWindow    int     `mapstructure:"date_window"`
	MaxAmountUSD  float64 `mapstructure:"max_amount_usd"`
	EURRate       float64 `mapstructure:"eur_rate"`
	GBPRate       float64 `mapstructure:"gbp_rate"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CompanyWindow: 200,
		DateWindow:    500,
		MaxAmountUSD:  5e10,
		EURRate:       1.1,
		GBPRate:       1.25,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CompanyWindow <= 0 {
		c.CompanyWindow = def.CompanyWindow
	}
	if c.DateWindow <= 0 {
		c.DateWindow = def.DateWindow
	}
	if c.MaxAmountUSD <= 0 {
		c.MaxAmountUSD = def.MaxAmountUSD
	}
	if c.EURRate <= 0 {
		c.EURRate = def.EURRate
	}
	if c.GBPRate <= 0 {
		c.GBPRate = def.GBPRate
	}
	return c
}

// ToUSD converts an amount in millions of its currency to whole US dollars.
// Currencies other than EUR and GBP are taken at par.
func (c Config) ToUSD(a extract.Amount) float64 {
	usd := a.Value * 1_000_000
	switch a.Currency {
	case "EUR":
		usd *= c.EURRate
	case "GBP":
		usd *= c.GBPRate
	}
	return usd
}

// Plausible reports whether usd is a believable round size.
func (c Config) Plausible(usd float64) bool {
	return usd > 0 && usd <= c.MaxAmountUSD
}
