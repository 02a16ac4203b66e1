package opportunity_test

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingintel/internal/db"
	"listingintel/internal/domain"
	"listingintel/internal/ledger"
	"listingintel/internal/migrate"
	"listingintel/internal/opportunity"
)

var base = time.Date(2025, 7, 4, 8, 0, 0, 0, time.UTC)

func newTestScorer(t *testing.T) opportunity.Scorer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	s := opportunity.New(ledger.New(conn, 0), opportunity.DefaultThresholds())
	s.Now = func() time.Time { return base }
	return s
}

func TestScoreScenario(t *testing.T) {
	s := newTestScorer(t)
	ctx := context.Background()
	url := "https://www.facebook.com/marketplace/item/42"

	_, err := s.Ledger.Record(ctx, url, 5000, base)
	require.NoError(t, err)
	a, err := s.Score(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendInsufficientData, a.Trend)
	assert.Equal(t, domain.TierNone, a.Tier)
	assert.Zero(t, a.Score)
	assert.Nil(t, s.Alert(a, ""))

	_, err = s.Ledger.Record(ctx, url, 4000, base.Add(time.Hour))
	require.NoError(t, err)
	a, err = s.Score(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDropping, a.Trend)
	assert.InDelta(t, 0.20, a.PercentDelta, 1e-9)
	assert.Equal(t, domain.TierUrgent, a.Tier)
	assert.InDelta(t, 0.667, a.Score, 0.001)
	assert.Equal(t, "urgent_buy_signal", a.Recommendation)

	alert := s.Alert(a, "sub-1")
	require.NotNil(t, alert)
	assert.Equal(t, url, alert.URL)
	assert.Equal(t, 5000.0, alert.PreviousPrice)
	assert.Equal(t, 4000.0, alert.LatestPrice)
	assert.Equal(t, "sub-1", alert.SubmissionID)
	assert.Equal(t, "2025-07-04T08:00:00Z", alert.EmittedAt)
}

func TestScoreUnknownListing(t *testing.T) {
	s := newTestScorer(t)
	a, err := s.Score(context.Background(), "https://example.com/none")
	require.NoError(t, err)
	assert.Equal(t, domain.TrendInsufficientData, a.Trend)
	assert.Equal(t, domain.TierNone, a.Tier)
}

func TestEvaluateTiers(t *testing.T) {
	th := opportunity.DefaultThresholds()
	cases := []struct {
		prev, latest float64
		tier         string
		rec          string
	}{
		{1000, 800, domain.TierUrgent, "urgent_buy_signal"},
		{1000, 850, domain.TierMedium, "buy_opportunity"},
		{1000, 900, domain.TierMedium, "buy_opportunity"},
		{1000, 950, domain.TierMonitor, "positive_signal"},
		{1000, 990, domain.TierMonitor, "positive_signal"},
	}
	for _, tc := range cases {
		a := opportunity.Evaluate(tc.prev, tc.latest, ledger.Direction(tc.prev, tc.latest, 0), th)
		assert.Equal(t, tc.tier, a.Tier, "%v -> %v", tc.prev, tc.latest)
		assert.Equal(t, tc.rec, a.Recommendation)
	}
	assert.Equal(t, 1.0, opportunity.Evaluate(1000, 500, domain.TrendDropping, th).Score)
}

func TestEvaluateNonDropping(t *testing.T) {
	th := opportunity.DefaultThresholds()
	rising := opportunity.Evaluate(1000, 1200, domain.TrendRising, th)
	assert.Zero(t, rising.Score)
	assert.Equal(t, domain.TierNone, rising.Tier)
	assert.Equal(t, "pass", rising.Recommendation)
	assert.Equal(t, "monitor", opportunity.Evaluate(1000, 1050, domain.TrendRising, th).Recommendation)

	stable := opportunity.Evaluate(1000, 1000, domain.TrendStable, th)
	assert.Zero(t, stable.Score)
	assert.Equal(t, "skip_update", stable.Recommendation)

	insufficient := opportunity.Evaluate(1000, 500, domain.TrendInsufficientData, th)
	assert.Zero(t, insufficient.Score)
	assert.Equal(t, domain.TierNone, insufficient.Tier)
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, opportunity.DefaultThresholds().Validate())
	assert.Error(t, opportunity.Thresholds{Urgent: 0.05, Medium: 0.15, Saturation: 0.3}.Validate())
	assert.Error(t, opportunity.Thresholds{Urgent: 0.15, Medium: 0.05}.Validate())
}

func TestAlertsAndInsights(t *testing.T) {
	s := newTestScorer(t)
	ctx := context.Background()
	series := map[string][]float64{
		"https://x.test/big-drop":   {10000, 7000},
		"https://x.test/small-drop": {10000, 9700},
		"https://x.test/rise":       {5000, 5600},
		"https://x.test/flat":       {3000, 3000},
		"https://x.test/new":        {4500},
	}
	for url, prices := range series {
		for i, p := range prices {
			_, err := s.Ledger.Record(ctx, url, p, base.Add(time.Duration(i)*time.Hour))
			require.NoError(t, err)
		}
	}

	alerts, err := s.Alerts(ctx, 0.10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "https://x.test/big-drop", alerts[0].URL)
	assert.Equal(t, 1.0, alerts[0].Score)

	all, err := s.Alerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.GreaterOrEqual(t, all[0].Score, all[1].Score)

	in, err := s.Insights(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, in.TrackedListings)
	assert.Equal(t, 2, in.Dropping)
	assert.Equal(t, 1, in.Rising)
	assert.Equal(t, 1, in.Stable)
	assert.Equal(t, 1, in.InsufficientData)
	require.Len(t, in.TopOpportunities, 1)
	assert.Equal(t, "https://x.test/big-drop", in.TopOpportunities[0].URL)
	assert.NotEmpty(t, in.Notes)
}

func TestScoreProperties(t *testing.T) {
	th := opportunity.DefaultThresholds()
	properties := gopter.NewProperties(nil)

	properties.Property("score is monotonic in percent drop", prop.ForAll(
		func(a, b float64) bool {
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			return th.Score(lo) <= th.Score(hi)
		},
		gen.Float64Range(0, 1), gen.Float64Range(0, 1),
	))

	properties.Property("score stays within [0,1]", prop.ForAll(
		func(prev, latest float64) bool {
			a := opportunity.Evaluate(prev, latest, ledger.Direction(prev, latest, 0), th)
			return a.Score >= 0 && a.Score <= 1
		},
		gen.Float64Range(1, 1e6), gen.Float64Range(1, 1e6),
	))

	properties.Property("no score unless dropping", prop.ForAll(
		func(prev, latest float64, trend string) bool {
			a := opportunity.Evaluate(prev, latest, trend, th)
			return a.Score == 0 && a.Tier == domain.TierNone
		},
		gen.Float64Range(1, 1e6), gen.Float64Range(1, 1e6),
		gen.OneConstOf(domain.TrendRising, domain.TrendStable, domain.TrendInsufficientData),
	))

	properties.TestingRun(t)
}
