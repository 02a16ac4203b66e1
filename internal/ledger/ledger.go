// Package ledger keeps the append-only price history of every tracked listing.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"listingintel/internal/domain"
	"listingintel/internal/events"
	"listingintel/internal/repo"
)

// ErrIntegrity marks a listing that is tracked but has no stored observations.
var ErrIntegrity = errors.New("ledger integrity violation")

var ErrInvalidPrice = errors.New("price must be a positive finite number")

type Ledger struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Epsilon float64
	Now     func() time.Time
	Log     *slog.Logger

	mu sync.Mutex
}

func New(db *sql.DB, epsilon float64) *Ledger {
	return &Ledger{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Epsilon: epsilon,
		Now:     time.Now,
		Log:     slog.Default(),
	}
}

func (l *Ledger) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// Entry is a single price sighting. Title and SubmissionID are optional.
type Entry struct {
	URL          string
	Price        float64
	At           time.Time
	Title        string
	SubmissionID string
}

// Record appends a price observation for url.
func (l *Ledger) Record(ctx context.Context, url string, price float64, at time.Time) (domain.RecordResult, error) {
	return l.RecordEntry(ctx, Entry{URL: url, Price: price, At: at})
}

// RecordEntry appends e atomically. The first observation for a URL is never a
// duplicate; every later one is, and carries the observation it follows.
// An entry older than the latest observation is recorded at the latest
// observation's time so history order matches arrival order. Recording the
// same SubmissionID twice returns the stored observation.
func (l *Ledger) RecordEntry(ctx context.Context, e Entry) (domain.RecordResult, error) {
	url := strings.TrimSpace(e.URL)
	if url == "" {
		return domain.RecordResult{}, errors.New("listing url is required")
	}
	if e.Price <= 0 || math.IsNaN(e.Price) || math.IsInf(e.Price, 0) {
		return domain.RecordResult{}, ErrInvalidPrice
	}
	at := e.At
	if at.IsZero() {
		at = l.Now()
	}
	at = at.UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RecordResult{}, err
	}
	defer tx.Rollback()

	if e.SubmissionID != "" {
		res, err := l.replay(ctx, tx, url, e.SubmissionID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.RecordResult{}, err
		}
	}

	var res domain.RecordResult
	obs := domain.PriceObservation{URL: url, Price: e.Price, ObservedAt: at, ChangeType: domain.ChangeNew, SubmissionID: e.SubmissionID}

	tracked, err := l.Repo.GetTrackedListing(ctx, tx, url)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return domain.RecordResult{}, err
	default:
		prev, err := l.Repo.LatestObservation(ctx, tx, url)
		if errors.Is(err, repo.ErrNotFound) {
			l.logger().Error("tracked listing has no price history", "url", url, "observation_count", tracked.ObservationCount)
			return domain.RecordResult{}, fmt.Errorf("%w: %s is tracked with %d observations but none are stored", ErrIntegrity, url, tracked.ObservationCount)
		}
		if err != nil {
			return domain.RecordResult{}, err
		}
		if at.Before(prev.ObservedAt) {
			l.logger().Warn("observation older than history; clamping", "url", url, "at", at, "latest", prev.ObservedAt)
			at = prev.ObservedAt
			obs.ObservedAt = at
		}
		res.IsDuplicate = true
		res.Previous = &prev
		diff := e.Price - prev.Price
		previousPrice := prev.Price
		obs.PreviousPrice = &previousPrice
		obs.PriceChange = &diff
		obs.ChangeType = domain.ChangeSame
		if diff != 0 {
			obs.ChangeType = domain.ChangePrice
		}
	}

	seq, err := l.Repo.InsertObservation(ctx, tx, obs)
	if err != nil {
		return domain.RecordResult{}, fmt.Errorf("insert observation: %w", err)
	}
	obs.Seq = seq
	if err := l.Repo.TouchTrackedListing(ctx, tx, url, e.Title, at); err != nil {
		return domain.RecordResult{}, fmt.Errorf("track listing: %w", err)
	}
	payload := events.EventPayload{"price": e.Price, "change_type": obs.ChangeType, "duplicate": res.IsDuplicate}
	if obs.PriceChange != nil {
		payload["price_change"] = *obs.PriceChange
	}
	if err := l.Events.Append(ctx, tx, events.PriceRecorded, "listing", url, payload); err != nil {
		return domain.RecordResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RecordResult{}, err
	}
	res.Observation = obs
	return res, nil
}

func (l *Ledger) replay(ctx context.Context, tx *sql.Tx, url, submissionID string) (domain.RecordResult, error) {
	obs, err := l.Repo.SubmissionObservation(ctx, tx, url, submissionID)
	if err != nil {
		return domain.RecordResult{}, err
	}
	res := domain.RecordResult{Observation: obs}
	if obs.ChangeType == domain.ChangeNew {
		return res, nil
	}
	prev, err := l.Repo.ObservationBefore(ctx, tx, obs)
	if err != nil {
		return domain.RecordResult{}, fmt.Errorf("%w: previous observation for %s: %v", ErrIntegrity, url, err)
	}
	res.IsDuplicate = true
	res.Previous = &prev
	return res, nil
}

// History returns every observation for url, oldest first. Each call reads a fresh copy.
func (l *Ledger) History(ctx context.Context, url string) ([]domain.PriceObservation, error) {
	items, err := l.Repo.ListObservations(ctx, nil, strings.TrimSpace(url))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.PriceObservation{}
	}
	return items, nil
}

// Trend classifies the two most recent observations for url.
func (l *Ledger) Trend(ctx context.Context, url string) (string, error) {
	history, err := l.History(ctx, url)
	if err != nil {
		return "", err
	}
	return Classify(history, l.Epsilon), nil
}

// Latest returns the last two observations for url; previous is nil with fewer than two.
func (l *Ledger) Latest(ctx context.Context, url string) (previous, latest *domain.PriceObservation, err error) {
	history, err := l.History(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	n := len(history)
	if n == 0 {
		return nil, nil, nil
	}
	latest = &history[n-1]
	if n > 1 {
		previous = &history[n-2]
	}
	return previous, latest, nil
}

// Classify compares the latest two observations in history order. Differences
// within epsilon are stable.
func Classify(history []domain.PriceObservation, epsilon float64) string {
	n := len(history)
	if n < 2 {
		return domain.TrendInsufficientData
	}
	return Direction(history[n-2].Price, history[n-1].Price, epsilon)
}

// Direction classifies a move from previous to latest.
func Direction(previous, latest, epsilon float64) string {
	if epsilon < 0 {
		epsilon = 0
	}
	diff := latest - previous
	switch {
	case math.Abs(diff) <= epsilon:
		return domain.TrendStable
	case diff < 0:
		return domain.TrendDropping
	default:
		return domain.TrendRising
	}
}

// Summary aggregates the history of one listing.
func (l *Ledger) Summary(ctx context.Context, url string) (domain.ListingSummary, error) {
	url = strings.TrimSpace(url)
	tracked, err := l.Repo.GetTrackedListing(ctx, nil, url)
	if err != nil {
		return domain.ListingSummary{}, err
	}
	history, err := l.History(ctx, url)
	if err != nil {
		return domain.ListingSummary{}, err
	}
	if len(history) == 0 {
		return domain.ListingSummary{}, fmt.Errorf("%w: %s has no observations", ErrIntegrity, url)
	}
	return summarize(tracked, history, l.Epsilon), nil
}

func summarize(tracked repo.TrackedListing, history []domain.PriceObservation, epsilon float64) domain.ListingSummary {
	first, last := history[0], history[len(history)-1]
	s := domain.ListingSummary{
		URL:           tracked.URL,
		Title:         tracked.Title,
		OriginalPrice: first.Price,
		CurrentPrice:  last.Price,
		LowestPrice:   first.Price,
		HighestPrice:  first.Price,
		Observations:  len(history),
		FirstSeen:     first.ObservedAt,
		LastSeen:      last.ObservedAt,
		Trend:         Classify(history, epsilon),
	}
	for _, o := range history {
		s.LowestPrice = math.Min(s.LowestPrice, o.Price)
		s.HighestPrice = math.Max(s.HighestPrice, o.Price)
		if o.ChangeType == domain.ChangePrice {
			s.PriceChanges++
		}
	}
	s.DaysTracked = int(last.ObservedAt.Sub(first.ObservedAt).Hours() / 24)
	return s
}

// Listings returns every tracked listing URL, most recently seen first.
func (l *Ledger) Listings(ctx context.Context) ([]string, error) {
	items, err := l.Repo.ListTrackedListings(ctx)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(items))
	for _, it := range items {
		urls = append(urls, it.URL)
	}
	return urls, nil
}
