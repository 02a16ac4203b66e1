// Package notify fans opportunity alerts out to configured sinks.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"listingintel/internal/domain"
)

type Notifier interface {
	Notify(ctx context.Context, alert domain.Alert) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, alert domain.Alert) error

func (f Func) Notify(ctx context.Context, alert domain.Alert) error { return f(ctx, alert) }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, alert domain.Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filter drops alerts whose tier Allow rejects.
type Filter struct {
	Next  Notifier
	Allow func(tier string) bool
}

func (f Filter) Notify(ctx context.Context, alert domain.Alert) error {
	if f.Next == nil || (f.Allow != nil && !f.Allow(alert.Tier)) {
		return nil
	}
	return f.Next.Notify(ctx, alert)
}

// Log writes each alert as a structured log record.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, alert domain.Alert) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if alert.Tier == domain.TierUrgent {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "price drop alert",
		"url", alert.URL,
		"tier", alert.Tier,
		"score", alert.Score,
		"percent_delta", alert.PercentDelta,
		"previous_price", alert.PreviousPrice,
		"latest_price", alert.LatestPrice,
		"submission_id", alert.SubmissionID,
	)
	return nil
}
