package funding

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/extract"
	"github.com/sells-group/dealflow/internal/model"
)

// Input is everything the linker needs for one document.
type Input struct {
	Result extract.Result
	// CompanyIDs maps an extracted company name to its entity id. Names
	// missing from the map link to no entity.
	CompanyIDs map[string]string
	// InvestorIDs are the resolved investor entity ids in resolution order.
	InvestorIDs   []string
	PublishedDate *time.Time
}

// Draft is a funding round ready to be persisted.
type Draft struct {
	Amount         extract.Amount
	AmountUSD      float64
	Company        *extract.Company
	CompanyID      *string
	RoundDate      *time.Time
	LeadInvestorID *string
	InvestorIDs    []string
}

// Round converts the draft into a FundingRound owned by documentID.
func (d Draft) Round(documentID string) model.FundingRound {
	usd := d.AmountUSD
	r := model.FundingRound{
		DocumentID:     documentID,
		CompanyID:      d.CompanyID,
		AmountUSD:      &usd,
		AmountOriginal: d.Amount.Value,
		Currency:       d.Amount.Currency,
		RoundType:      d.Amount.Round,
		RoundDate:      d.RoundDate,
		LeadInvestorID: d.LeadInvestorID,
		InvestorIDs:    append([]string(nil), d.InvestorIDs...),
		SourceMetadata: map[string]any{
			"amount_millions": d.Amount.Value,
			"currency":        d.Amount.Currency,
			"position":        d.Amount.Offset,
			"raw":             d.Amount.Raw,
		},
	}
	if d.Amount.Round != nil {
		r.SourceMetadata["round"] = *d.Amount.Round
	}
	if d.Company != nil {
		r.SourceMetadata["company"] = d.Company.Name
	}
	return r
}

// Linker builds funding-round drafts from extraction results.
type Linker struct {
	cfg Config
}

// NewLinker returns a Linker. Zero fields in cfg take their defaults.
func NewLinker(cfg Config) *Linker {
	return &Linker{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (l *Linker) Config() Config { return l.cfg }

// Link returns one draft per plausible amount, in extraction order.
func (l *Linker) Link(in Input) []Draft {
	var lead *string
	if hasLead(in.Result.Investors) && len(in.InvestorIDs) > 0 {
		id := in.InvestorIDs[0]
		lead = &id
	}

	var drafts []Draft
	for _, amt := range in.Result.Amounts {
		usd := l.cfg.ToUSD(amt)
		if !l.cfg.Plausible(usd) {
			zap.L().Debug("funding: dropping implausible amount",
				zap.String("raw", amt.Raw),
				zap.Float64("amount_usd", usd),
			)
			continue
		}

		d := Draft{
			Amount:         amt,
			AmountUSD:      usd,
			LeadInvestorID: lead,
			InvestorIDs:    in.InvestorIDs,
		}
		if c := l.nearestCompany(in.Result.Companies, amt.Offset); c != nil {
			d.Company = c
			if id, ok := in.CompanyIDs[c.Name]; ok {
				d.CompanyID = &id
			}
		}
		d.RoundDate = l.nearestDate(in.Result.Dates, amt.Offset, in.PublishedDate)
		drafts = append(drafts, d)
	}
	return drafts
}

// nearestCompany picks the company closest to offset when it lies inside the
// window, otherwise the first company.
func (l *Linker) nearestCompany(companies []extract.Company, offset int) *extract.Company {
	if len(companies) == 0 {
		return nil
	}
	best, bestDist := -1, 0
	for i, c := range companies {
		if c.Offset < 0 {
			continue
		}
		dist := abs(c.Offset - offset)
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best >= 0 && bestDist < l.cfg.CompanyWindow {
		c := companies[best]
		return &c
	}
	c := companies[0]
	return &c
}

// nearestDate picks the date closest to offset inside the window, then the
// first date, then published.
func (l *Linker) nearestDate(dates []extract.Date, offset int, published *time.Time) *time.Time {
	best, bestDist := -1, 0
	for i, d := range dates {
		dist := abs(d.Offset - offset)
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	switch {
	case best >= 0 && bestDist < l.cfg.DateWindow:
		t := dates[best].Time
		return &t
	case len(dates) > 0:
		t := dates[0].Time
		return &t
	case published != nil:
		t := *published
		return &t
	}
	return nil
}

func hasLead(investors []extract.Investor) bool {
	for _, inv := range investors {
		if inv.Role == extract.RoleLead {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
