package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"listingintel/internal/completeness"
	"listingintel/internal/config"
	"listingintel/internal/domain"
	"listingintel/internal/events"
	"listingintel/internal/fields"
	"listingintel/internal/ledger"
	"listingintel/internal/notify"
	"listingintel/internal/opportunity"
	"listingintel/internal/queue"
	"listingintel/internal/repo"
)

const (
	StepLedger      = "ledger"
	StepOpportunity = "opportunity"
	StepAlert       = "alert"
)

// StepError reports a pipeline step that failed while the submission was
// still processed. Complete joins one per failed step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Partial reports whether err only carries step failures, meaning the
// submission reached processed.
func Partial(err error) bool {
	var se *StepError
	return err != nil && errors.As(err, &se)
}

type Engine struct {
	DB           *sql.DB
	Repo         repo.Repo
	Queue        *queue.Store
	Ledger       *ledger.Ledger
	Opportunity  opportunity.Scorer
	Completeness completeness.Scorer
	Notifier     notify.Notifier
	Events       events.Writer
	Config       *config.Config
	Now          func() time.Time
	Log          *slog.Logger
}

// New wires the stores and scorers over db. cfg may be nil for defaults.
func New(db *sql.DB, cfg *config.Config, log *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	scorer := completeness.New(fields.Default())

	q := queue.New(db, cfg.Queue.HighVolumeDomains)
	q.Scorer = scorer
	q.Log = log.With("component", "queue")

	l := ledger.New(db, cfg.Ledger.StableEpsilon)
	l.Log = log.With("component", "ledger")

	thresholds := opportunity.Thresholds{
		Urgent:     cfg.Opportunity.Urgent,
		Medium:     cfg.Opportunity.Medium,
		Saturation: cfg.Opportunity.Saturation,
		RisePass:   cfg.Opportunity.RisePass,
	}

	return Engine{
		DB:           db,
		Repo:         repo.Repo{DB: db},
		Queue:        q,
		Ledger:       l,
		Opportunity:  opportunity.New(l, thresholds),
		Completeness: scorer,
		Notifier:     notify.Log{Logger: log.With("component", "notify")},
		Config:       cfg,
		Now:          time.Now,
		Log:          log,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Submit enqueues a captured URL.
func (e Engine) Submit(ctx context.Context, rawURL, origin string) (domain.Submission, error) {
	return e.Queue.Enqueue(ctx, rawURL, origin)
}

// Complete runs the pipeline for an extracted listing: ledger record, then
// opportunity and alert for duplicates, then completeness, ending in processed.
// A failed step is attached to the payload and returned as a *StepError
// alongside the processed submission. If the processed state cannot be stored
// the submission is marked failed instead.
func (e Engine) Complete(ctx context.Context, id string, rec domain.ListingRecord) (domain.Submission, error) {
	sub, err := e.Queue.Get(ctx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	switch sub.Status {
	case domain.StatusPending:
		if sub, err = e.Queue.SetStatus(ctx, id, domain.StatusProcessing, queue.StatusUpdate{}); err != nil {
			return domain.Submission{}, err
		}
	case domain.StatusProcessing:
	default:
		return domain.Submission{}, queue.TransitionError{From: sub.Status, To: domain.StatusProcessed}
	}
	if strings.TrimSpace(rec.URL) == "" {
		rec.URL = sub.URL
	}

	payload := domain.ProcessedPayload{Listing: rec}
	var failed []error

	res, err := e.Ledger.RecordEntry(ctx, ledger.Entry{
		URL:          rec.URL,
		Price:        rec.Price,
		At:           e.now(),
		Title:        rec.Title,
		SubmissionID: id,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrIntegrity) {
			e.reportIntegrity(ctx, id, rec.URL, err)
		}
		failed = append(failed, &StepError{Step: StepLedger, Err: err})
	} else {
		payload.Ledger = &res
		if res.IsDuplicate {
			if stepErr := e.assess(ctx, id, rec.URL, &payload); stepErr != nil {
				failed = append(failed, stepErr)
			}
		}
	}

	for _, f := range failed {
		payload.StepErrors = append(payload.StepErrors, f.Error())
	}
	sub, err = e.Queue.Complete(ctx, id, payload)
	if err != nil {
		// The observation is committed; a redelivery finds it by submission id.
		e.logger().Error("persist processed submission", "id", id, "err", err)
		failedSub, ferr := e.Queue.SetStatus(ctx, id, domain.StatusFailed, queue.StatusUpdate{Error: "complete: " + err.Error()})
		if ferr != nil {
			return domain.Submission{}, errors.Join(err, ferr)
		}
		return failedSub, err
	}
	e.logger().Info("submission processed",
		"id", id,
		"duplicate", payload.Ledger != nil && payload.Ledger.IsDuplicate,
		"completeness_pct", sub.Completeness.CompletenessPct,
		"step_errors", len(payload.StepErrors),
	)
	return sub, errors.Join(failed...)
}

func (e Engine) assess(ctx context.Context, id, url string, payload *domain.ProcessedPayload) *StepError {
	a, err := e.Opportunity.Score(ctx, url)
	if err != nil {
		return &StepError{Step: StepOpportunity, Err: err}
	}
	payload.Opportunity = &a
	alert := e.Opportunity.Alert(a, id)
	if alert == nil {
		return nil
	}
	payload.Alert = alert
	if err := e.Events.AppendDB(ctx, e.DB, events.AlertEmitted, "alert", url, events.EventPayload{
		"submission_id":  id,
		"tier":           alert.Tier,
		"score":          alert.Score,
		"percent_delta":  alert.PercentDelta,
		"previous_price": alert.PreviousPrice,
		"latest_price":   alert.LatestPrice,
	}); err != nil {
		return &StepError{Step: StepAlert, Err: err}
	}
	if e.Notifier != nil {
		if err := e.Notifier.Notify(ctx, *alert); err != nil {
			e.logger().Warn("alert delivery failed", "id", id, "url", url, "err", err)
		}
	}
	return nil
}

func (e Engine) reportIntegrity(ctx context.Context, id, url string, cause error) {
	e.logger().Error("price ledger integrity error", "id", id, "url", url, "err", cause)
	if err := e.Events.AppendDB(ctx, e.DB, events.IntegrityError, "listing", url, events.EventPayload{
		"submission_id": id,
		"error":         cause.Error(),
	}); err != nil {
		e.logger().Error("record integrity event", "url", url, "err", err)
	}
}

// Fail parks a submission in failed. The ledger is not touched.
func (e Engine) Fail(ctx context.Context, id, reason string) (domain.Submission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "extraction failed"
	}
	sub, err := e.Queue.SetStatus(ctx, id, domain.StatusFailed, queue.StatusUpdate{Error: reason})
	if err != nil {
		return domain.Submission{}, err
	}
	e.logger().Warn("submission failed", "id", id, "reason", reason)
	return sub, nil
}

func (e Engine) Remove(ctx context.Context, id string) error {
	return e.Queue.Remove(ctx, id)
}

func (e Engine) Get(ctx context.Context, id string) (domain.Submission, error) {
	return e.Queue.Get(ctx, id)
}

func (e Engine) List(ctx context.Context, f repo.SubmissionFilters) ([]domain.Submission, error) {
	return e.Queue.List(ctx, f)
}

func (e Engine) Export(ctx context.Context, clearAfter bool) (domain.ExportSnapshot, error) {
	return e.Queue.Export(ctx, queue.ExportOptions{Clear: clearAfter})
}

// Analyze assesses a listing without touching any store.
func (e Engine) Analyze(rec domain.ListingRecord) domain.CompletenessAssessment {
	return e.Completeness.Assess(rec)
}

func (e Engine) History(ctx context.Context, url string) ([]domain.PriceObservation, error) {
	return e.Ledger.History(ctx, url)
}

func (e Engine) Summary(ctx context.Context, url string) (domain.ListingSummary, error) {
	return e.Ledger.Summary(ctx, url)
}

func (e Engine) Score(ctx context.Context, url string) (domain.OpportunityAssessment, error) {
	return e.Opportunity.Score(ctx, url)
}

func (e Engine) Alerts(ctx context.Context, minDrop float64) ([]domain.Alert, error) {
	if minDrop <= 0 && e.Config != nil {
		minDrop = e.Config.Opportunity.MinAlert
	}
	return e.Opportunity.Alerts(ctx, minDrop)
}

func (e Engine) Insights(ctx context.Context, top int) (domain.MarketInsights, error) {
	return e.Opportunity.Insights(ctx, top)
}

func (e Engine) EventLog(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
