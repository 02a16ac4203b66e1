// Package opportunity grades price drops into buy scores and alert tiers.
package opportunity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"listingintel/internal/domain"
	"listingintel/internal/ledger"
)

type Thresholds struct {
	Urgent     float64 `yaml:"urgent"`
	Medium     float64 `yaml:"medium"`
	Saturation float64 `yaml:"saturation"`
	// RisePass is the rise above which a duplicate is marked "pass".
	RisePass float64 `yaml:"rise_pass"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Urgent: 0.15, Medium: 0.05, Saturation: 0.30, RisePass: 0.10}
}

func (t Thresholds) Validate() error {
	if t.Medium < 0 || t.Urgent < t.Medium {
		return fmt.Errorf("thresholds must satisfy 0 <= medium <= urgent (got medium=%v urgent=%v)", t.Medium, t.Urgent)
	}
	if t.Saturation <= 0 {
		return fmt.Errorf("saturation must be positive (got %v)", t.Saturation)
	}
	return nil
}

// Tier grades a positive percent drop.
func (t Thresholds) Tier(delta float64) string {
	switch {
	case delta > t.Urgent:
		return domain.TierUrgent
	case delta > t.Medium:
		return domain.TierMedium
	case delta > 0:
		return domain.TierMonitor
	default:
		return domain.TierNone
	}
}

// Score maps a percent drop linearly onto [0,1], saturating at t.Saturation.
func (t Thresholds) Score(delta float64) float64 {
	if delta <= 0 || t.Saturation <= 0 {
		return 0
	}
	return math.Min(1, delta/t.Saturation)
}

// Evaluate grades the move from previous to latest given its trend. Only a
// dropping trend produces a score.
func Evaluate(previous, latest float64, trend string, t Thresholds) domain.OpportunityAssessment {
	a := domain.OpportunityAssessment{
		Tier:          domain.TierNone,
		Trend:         trend,
		PreviousPrice: previous,
		LatestPrice:   latest,
	}
	switch trend {
	case domain.TrendDropping:
		if previous <= 0 {
			return a
		}
		a.PercentDelta = (previous - latest) / previous
		a.Tier = t.Tier(a.PercentDelta)
		a.Score = t.Score(a.PercentDelta)
	case domain.TrendRising:
		if previous > 0 {
			a.PercentDelta = (previous - latest) / previous
		}
	}
	a.Recommendation = recommend(a, t)
	return a
}

func recommend(a domain.OpportunityAssessment, t Thresholds) string {
	switch a.Trend {
	case domain.TrendDropping:
		switch a.Tier {
		case domain.TierUrgent:
			return "urgent_buy_signal"
		case domain.TierMedium:
			return "buy_opportunity"
		default:
			return "positive_signal"
		}
	case domain.TrendRising:
		if -a.PercentDelta > t.RisePass {
			return "pass"
		}
		return "monitor"
	case domain.TrendStable:
		return "skip_update"
	default:
		return ""
	}
}

type Scorer struct {
	Ledger     *ledger.Ledger
	Thresholds Thresholds
	Now        func() time.Time
}

func New(l *ledger.Ledger, t Thresholds) Scorer {
	return Scorer{Ledger: l, Thresholds: t, Now: time.Now}
}

// Score assesses the latest price move recorded for url.
func (s Scorer) Score(ctx context.Context, url string) (domain.OpportunityAssessment, error) {
	history, err := s.Ledger.History(ctx, url)
	if err != nil {
		return domain.OpportunityAssessment{}, err
	}
	return s.assessHistory(url, history), nil
}

func (s Scorer) assessHistory(url string, history []domain.PriceObservation) domain.OpportunityAssessment {
	trend := ledger.Classify(history, s.Ledger.Epsilon)
	var a domain.OpportunityAssessment
	if n := len(history); n >= 2 {
		a = Evaluate(history[n-2].Price, history[n-1].Price, trend, s.Thresholds)
	} else {
		a = domain.OpportunityAssessment{Tier: domain.TierNone, Trend: trend}
		if n == 1 {
			a.LatestPrice = history[0].Price
		}
	}
	a.URL = url
	return a
}

// Alert builds the notifier payload for a, or nil when the tier is none.
func (s Scorer) Alert(a domain.OpportunityAssessment, submissionID string) *domain.Alert {
	if a.Tier == domain.TierNone || a.Tier == "" {
		return nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return &domain.Alert{
		SubmissionID:  submissionID,
		URL:           a.URL,
		Tier:          a.Tier,
		Score:         a.Score,
		PercentDelta:  a.PercentDelta,
		PreviousPrice: a.PreviousPrice,
		LatestPrice:   a.LatestPrice,
		EmittedAt:     now().UTC().Format(time.RFC3339),
	}
}

// Assessments scores every tracked listing.
func (s Scorer) Assessments(ctx context.Context) ([]domain.OpportunityAssessment, error) {
	urls, err := s.Ledger.Listings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OpportunityAssessment, 0, len(urls))
	for _, u := range urls {
		history, err := s.Ledger.History(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, s.assessHistory(u, history))
	}
	return out, nil
}

// Alerts lists current drops of at least minDrop (a fraction), best score first.
func (s Scorer) Alerts(ctx context.Context, minDrop float64) ([]domain.Alert, error) {
	all, err := s.Assessments(ctx)
	if err != nil {
		return nil, err
	}
	var alerts []domain.Alert
	for _, a := range all {
		if a.Trend != domain.TrendDropping || a.PercentDelta < minDrop {
			continue
		}
		if alert := s.Alert(a, ""); alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].Score > alerts[j].Score })
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	return alerts, nil
}

// Insights summarizes trend direction across all tracked listings.
func (s Scorer) Insights(ctx context.Context, top int) (domain.MarketInsights, error) {
	all, err := s.Assessments(ctx)
	if err != nil {
		return domain.MarketInsights{}, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	in := domain.MarketInsights{
		GeneratedAt:      now().UTC().Format(time.RFC3339),
		TrackedListings:  len(all),
		TopOpportunities: []domain.OpportunityAssessment{},
	}
	var opportunities []domain.OpportunityAssessment
	urgent := 0
	for _, a := range all {
		switch a.Trend {
		case domain.TrendDropping:
			in.Dropping++
			if a.Tier == domain.TierUrgent {
				urgent++
			}
			if a.Tier != domain.TierNone {
				opportunities = append(opportunities, a)
			}
		case domain.TrendRising:
			in.Rising++
		case domain.TrendStable:
			in.Stable++
		default:
			in.InsufficientData++
		}
	}
	sort.SliceStable(opportunities, func(i, j int) bool { return opportunities[i].Score > opportunities[j].Score })
	if top > 0 && len(opportunities) > top {
		opportunities = opportunities[:top]
	}
	in.TopOpportunities = append(in.TopOpportunities, opportunities...)
	if urgent > 0 {
		in.Notes = append(in.Notes, fmt.Sprintf("%d listings dropped more than %.0f%%", urgent, s.Thresholds.Urgent*100))
	}
	if in.Rising > in.Dropping {
		in.Notes = append(in.Notes, "more listings are rising than dropping")
	}
	return in, nil
}
