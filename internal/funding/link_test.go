package funding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealflow/internal/extract"
)

func ptr[T any](v T) *T { return &v }

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestToUSD(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		amt  extract.Amount
		want float64
	}{
		{"usd", extract.Amount{Value: 10, Currency: "USD"}, 10_000_000},
		{"eur", extract.Amount{Value: 10, Currency: "EUR"}, 11_000_000},
		{"gbp", extract.Amount{Value: 2, Currency: "GBP"}, 2_500_000},
		{"unknown at par", extract.Amount{Value: 1, Currency: "JPY"}, 1_000_000},
		{"thousands", extract.Amount{Value: 0.5, Currency: "USD"}, 500_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cfg.ToUSD(tt.amt), 1e-6)
		})
	}
}

func TestPlausible(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Plausible(75_000_000))
	assert.True(t, cfg.Plausible(5e10))
	assert.False(t, cfg.Plausible(75_000_000_000))
	assert.False(t, cfg.Plausible(0))
	assert.False(t, cfg.Plausible(-1))
}

func TestLink_AmountGate(t *testing.T) {
	l := NewLinker(Config{})
	drafts := l.Link(Input{Result: extract.Result{Amounts: []extract.Amount{
		{Value: 75000, Currency: "USD", Raw: "$75 billion"},
		{Value: 75, Currency: "USD", Raw: "$75 million"},
	}}})

	require.Len(t, drafts, 1)
	assert.Equal(t, "$75 million", drafts[0].Amount.Raw)
	assert.InDelta(t, 75_000_000, drafts[0].AmountUSD, 1e-6)
}

func TestLink_GateAppliesAfterConversion(t *testing.T) {
	l := NewLinker(DefaultConfig())
	// 46,000M EUR is under the ceiling in euros but over it in dollars.
	drafts := l.Link(Input{Result: extract.Result{Amounts: []extract.Amount{
		{Value: 46000, Currency: "EUR"},
	}}})
	assert.Empty(t, drafts)
}

func TestLink_CompanyProximity(t *testing.T) {
	l := NewLinker(DefaultConfig())
	in := Input{
		Result: extract.Result{
			Companies: []extract.Company{{Name: "Far Co", Offset: 500}, {Name: "Near Co", Offset: 10}},
			Amounts:   []extract.Amount{{Value: 5, Currency: "USD", Offset: 60}},
		},
		CompanyIDs: map[string]string{"Far Co": "c-far", "Near Co": "c-near"},
	}

	drafts := l.Link(in)
	require.Len(t, drafts, 1)
	require.NotNil(t, drafts[0].CompanyID)
	assert.Equal(t, "c-near", *drafts[0].CompanyID)
	assert.Equal(t, "Near Co", drafts[0].Company.Name)
}

func TestLink_CompanyFallsBackToFirst(t *testing.T) {
	l := NewLinker(DefaultConfig())
	tests := []struct {
		name      string
		companies []extract.Company
		want      string
	}{
		{"all out of window", []extract.Company{{Name: "First", Offset: 1000}, {Name: "Second", Offset: 900}}, "First"},
		{"exactly at window", []extract.Company{{Name: "First", Offset: 1000}, {Name: "Edge", Offset: 200}}, "First"},
		{"just inside window", []extract.Company{{Name: "First", Offset: 1000}, {Name: "Inside", Offset: 199}}, "Inside"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drafts := l.Link(Input{Result: extract.Result{
				Companies: tt.companies,
				Amounts:   []extract.Amount{{Value: 1, Currency: "USD", Offset: 0}},
			}})
			require.Len(t, drafts, 1)
			require.NotNil(t, drafts[0].Company)
			assert.Equal(t, tt.want, drafts[0].Company.Name)
			assert.Nil(t, drafts[0].CompanyID)
		})
	}
}

func TestLink_NoCompanies(t *testing.T) {
	l := NewLinker(DefaultConfig())
	drafts := l.Link(Input{Result: extract.Result{Amounts: []extract.Amount{{Value: 1, Currency: "USD"}}}})
	require.Len(t, drafts, 1)
	assert.Nil(t, drafts[0].Company)
	assert.Nil(t, drafts[0].CompanyID)
}

func TestLink_DateFallbackChain(t *testing.T) {
	l := NewLinker(DefaultConfig())
	published := day("2024-03-01")
	amount := []extract.Amount{{Value: 1, Currency: "USD", Offset: 1000}}

	tests := []struct {
		name      string
		dates     []extract.Date
		published *time.Time
		want      *time.Time
	}{
		{
			name: "nearest within window",
			dates: []extract.Date{
				{ISO: "2023-01-01", Time: day("2023-01-01"), Offset: 0},
				{ISO: "2023-06-01", Time: day("2023-06-01"), Offset: 900},
			},
			published: &published,
			want:      ptr(day("2023-06-01")),
		},
		{
			name:      "first date when none nearby",
			dates:     []extract.Date{{ISO: "2023-01-01", Time: day("2023-01-01"), Offset: 0}, {ISO: "2023-02-01", Time: day("2023-02-01"), Offset: 2000}},
			published: &published,
			want:      ptr(day("2023-01-01")),
		},
		{
			name:      "exactly at window is not nearby",
			dates:     []extract.Date{{ISO: "2022-01-01", Time: day("2022-01-01"), Offset: 10}, {ISO: "2023-02-01", Time: day("2023-02-01"), Offset: 500}},
			published: &published,
			want:      ptr(day("2022-01-01")),
		},
		{
			name:      "published date when no dates",
			published: &published,
			want:      ptr(day("2024-03-01")),
		},
		{name: "unset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drafts := l.Link(Input{
				Result:        extract.Result{Amounts: amount, Dates: tt.dates},
				PublishedDate: tt.published,
			})
			require.Len(t, drafts, 1)
			if tt.want == nil {
				assert.Nil(t, drafts[0].RoundDate)
				return
			}
			require.NotNil(t, drafts[0].RoundDate)
			assert.True(t, tt.want.Equal(*drafts[0].RoundDate), "got %s", drafts[0].RoundDate)
		})
	}
}

func TestLink_LeadInvestor(t *testing.T) {
	l := NewLinker(DefaultConfig())
	amounts := []extract.Amount{{Value: 1, Currency: "USD"}}

	withLead := l.Link(Input{
		Result: extract.Result{
			Amounts:   amounts,
			Investors: []extract.Investor{{Name: "A", Role: extract.RoleLead}, {Name: "B", Role: extract.RoleParticipant}},
		},
		InvestorIDs: []string{"i-a", "i-b"},
	})
	require.Len(t, withLead, 1)
	require.NotNil(t, withLead[0].LeadInvestorID)
	assert.Equal(t, "i-a", *withLead[0].LeadInvestorID)
	assert.Equal(t, []string{"i-a", "i-b"}, withLead[0].InvestorIDs)

	noLead := l.Link(Input{
		Result: extract.Result{
			Amounts:   amounts,
			Investors: []extract.Investor{{Name: "B", Role: extract.RoleParticipant}},
		},
		InvestorIDs: []string{"i-b"},
	})
	require.Len(t, noLead, 1)
	assert.Nil(t, noLead[0].LeadInvestorID)

	unresolved := l.Link(Input{
		Result: extract.Result{
			Amounts:   amounts,
			Investors: []extract.Investor{{Name: "A", Role: extract.RoleLead}},
		},
	})
	require.Len(t, unresolved, 1)
	assert.Nil(t, unresolved[0].LeadInvestorID)
}

func TestLink_FundingSentence(t *testing.T) {
	engine, err := extract.NewDefault()
	require.NoError(t, err)
	res := engine.Extract("Acme Labs, a fintech startup, raised $10 million led by Foo Ventures on March 1, 2024.")

	drafts := NewLinker(DefaultConfig()).Link(Input{
		Result:      res,
		CompanyIDs:  map[string]string{"Acme Labs": "acme"},
		InvestorIDs: []string{"foo"},
	})
	require.Len(t, drafts, 1)

	round := drafts[0].Round("doc-1")
	assert.Equal(t, "doc-1", round.DocumentID)
	require.NotNil(t, round.AmountUSD)
	assert.InDelta(t, 10_000_000, *round.AmountUSD, 1e-6)
	assert.InDelta(t, 10, round.AmountOriginal, 1e-9)
	assert.Equal(t, "USD", round.Currency)
	require.NotNil(t, round.CompanyID)
	assert.Equal(t, "acme", *round.CompanyID)
	require.NotNil(t, round.LeadInvestorID)
	assert.Equal(t, "foo", *round.LeadInvestorID)
	require.NotNil(t, round.RoundDate)
	assert.Equal(t, "2024-03-01", round.RoundDate.Format("2006-01-02"))
	assert.Nil(t, round.RoundType)
	assert.Equal(t, "$10 million", round.SourceMetadata["raw"])
	assert.Equal(t, "Acme Labs", round.SourceMetadata["company"])
}

func TestDraftRound_CopiesInvestors(t *testing.T) {
	ids := []string{"a", "b"}
	round := Draft{Amount: extract.Amount{Value: 1, Currency: "USD", Round: ptr("Seed")}, AmountUSD: 1e6, InvestorIDs: ids}.Round("d")
	ids[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, round.InvestorIDs)
	require.NotNil(t, round.RoundType)
	assert.Equal(t, "Seed", *round.RoundType)
	assert.Equal(t, "Seed", round.SourceMetadata["round"])
}

func TestNewLinker_Defaults(t *testing.T) {
	cfg := NewLinker(Config{CompanyWindow: 50}).Config()
	assert.Equal(t, 50, cfg.CompanyWindow)
	assert.Equal(t, 500, cfg.DateWindow)
	assert.InDelta(t, 5e10, cfg.MaxAmountUSD, 1)
	assert.InDelta(t, 1.1, cfg.EURRate, 1e-9)
	assert.InDelta(t, 1.25, cfg.GBPRate, 1e-9)
}
