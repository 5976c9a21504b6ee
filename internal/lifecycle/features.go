package lifecycle

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dealflow/internal/extract"
	"github.com/sells-group/dealflow/internal/funding"
	"github.com/sells-group/dealflow/internal/metrics"
	"github.com/sells-group/dealflow/internal/model"
)

const stageFeatures = "features"

// FeatureResult is what one document contributed.
type FeatureResult struct {
	CompaniesCreated int
	InvestorsCreated int
	Rounds           []model.FundingRound
	Features         *model.DocumentFeatures
}

// ExtractFeatures runs extraction on up to limit ready documents whose
// features have not been extracted. A document with no text, or whose text
// yields nothing, still gets an empty features record and is marked extracted. A document whose results cannot
// be persisted stays unmarked and is picked up by the next batch.
func (c *Controller) ExtractFeatures(ctx context.Context, limit int) (*FeaturesSummary, error) {
	if c.deps.Engine == nil || c.deps.Linker == nil || c.deps.Resolver == nil {
		return nil, eris.New("lifecycle: features stage needs an engine, a linker and a resolver")
	}
	start := c.now()

	docs, err := c.deps.Store.ListReadyForFeatures(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "lifecycle: list documents ready for features")
	}

	var processed, companies, investors, rounds, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, d := range docs {
		g.Go(func() error {
			log := zap.L().With(zap.String("document_id", d.ID))

			var res *FeatureResult
			err := guard(func() error {
				var err error
				res, err = c.ExtractDocument(gctx, &d)
				return err
			})
			if err != nil {
				failed.Add(1)
				metrics.ObserveDocument(stageFeatures, metrics.OutcomeError)
				log.Error("lifecycle: feature extraction failed", zap.Error(err))
				return nil
			}

			processed.Add(1)
			companies.Add(int64(res.CompaniesCreated))
			investors.Add(int64(res.InvestorsCreated))
			rounds.Add(int64(len(res.Rounds)))
			metrics.ObserveDocument(stageFeatures, metrics.OutcomeSuccess)
			metrics.AddFundingRounds(len(res.Rounds))
			return nil
		})
	}
	_ = g.Wait()

	sum := &FeaturesSummary{
		Processed:        int(processed.Load()),
		CompaniesCreated: int(companies.Load()),
		InvestorsCreated: int(investors.Load()),
		RoundsCreated:    int(rounds.Load()),
		Errors:           int(failed.Load()),
		Duration:         c.now().Sub(start),
	}
	sum.EntitiesCreated = sum.CompaniesCreated + sum.InvestorsCreated
	metrics.ObserveStage(stageFeatures, sum.Duration)
	zap.L().Info("lifecycle: feature extraction complete", zap.Stringer("summary", sum))
	return sum, nil
}

// ExtractDocument extracts, resolves, links and persists the features of one
// document. Previous funding rounds of the document are replaced.
func (c *Controller) ExtractDocument(ctx context.Context, d *model.Document) (*FeatureResult, error) {
	res := &FeatureResult{}
	if strings.TrimSpace(d.RawText) == "" {
		zap.L().Warn("lifecycle: no raw text, saving empty features", zap.String("document_id", d.ID))
		res.Features = &model.DocumentFeatures{DocumentID: d.ID, Metadata: map[string]any{}}
		if err := c.deps.Store.SaveFeatures(ctx, d.ID, nil, res.Features); err != nil {
			return nil, eris.Wrap(err, "lifecycle: save empty features")
		}
		return res, nil
	}

	result := c.deps.Engine.Extract(d.RawText)

	companyIDs := make(map[string]string, len(result.Companies))
	var companyList []string
	for _, co := range result.Companies {
		e, created := c.resolve(ctx, d.ID, model.EntityCompany, co.Name)
		if e == nil {
			continue
		}
		companyIDs[co.Name] = e.ID
		companyList = appendUnique(companyList, e.ID)
		if created {
			res.CompaniesCreated++
		}
	}

	var investorList []string
	for _, inv := range result.Investors {
		e, created := c.resolve(ctx, d.ID, model.EntityInvestor, inv.Name)
		if e == nil {
			continue
		}
		investorList = appendUnique(investorList, e.ID)
		if created {
			res.InvestorsCreated++
		}
	}

	drafts := c.deps.Linker.Link(funding.Input{
		Result:        result,
		CompanyIDs:    companyIDs,
		InvestorIDs:   investorList,
		PublishedDate: publishedDate(d.Metadata.PublishedDate),
	})
	res.Rounds = make([]model.FundingRound, 0, len(drafts))
	for _, dr := range drafts {
		res.Rounds = append(res.Rounds, dr.Round(d.ID))
	}

	res.Features = &model.DocumentFeatures{
		DocumentID:  d.ID,
		CompanyIDs:  companyList,
		InvestorIDs: investorList,
		Sectors:     sectorNames(result.Sectors),
		Keywords:    roundLabels(result.Amounts),
		Metadata:    featureMetadata(result),
	}
	if err := c.deps.Store.SaveFeatures(ctx, d.ID, res.Rounds, res.Features); err != nil {
		return nil, eris.Wrap(err, "lifecycle: save features")
	}
	return res, nil
}

// resolve returns nil when the entity cannot be resolved; the rest of the
// document is still extracted.
func (c *Controller) resolve(ctx context.Context, docID string, kind model.EntityKind, name string) (*model.Entity, bool) {
	e, created, err := c.deps.Resolver.Resolve(ctx, kind, name)
	if err != nil {
		zap.L().Warn("lifecycle: resolve entity",
			zap.String("document_id", docID),
			zap.String("kind", string(kind)),
			zap.String("name", name),
			zap.Error(err),
		)
		return nil, false
	}
	if created {
		metrics.ObserveEntityCreated(string(kind))
	}
	return e, created
}

func publishedDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func sectorNames(sectors []extract.Sector) []string {
	out := make([]string, 0, len(sectors))
	for _, s := range sectors {
		out = append(out, s.Name)
	}
	return out
}

// roundLabels lists the distinct round labels in amount order.
func roundLabels(amounts []extract.Amount) []string {
	var out []string
	for _, a := range amounts {
		if a.Round != nil {
			out = appendUnique(out, *a.Round)
		}
	}
	return out
}

func featureMetadata(r extract.Result) map[string]any {
	names := func(n int, get func(int) string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = get(i)
		}
		return out
	}
	return map[string]any{
		"companies":       names(len(r.Companies), func(i int) string { return r.Companies[i].Name }),
		"investors":       r.Investors,
		"funding_amounts": r.Amounts,
		"dates":           names(len(r.Dates), func(i int) string { return r.Dates[i].ISO }),
		"sectors":         r.Sectors,
	}
}
