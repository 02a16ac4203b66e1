// Package queue is the durable submission queue fed by capture surfaces.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"listingintel/internal/completeness"
	"listingintel/internal/domain"
	"listingintel/internal/events"
	"listingintel/internal/repo"
)

// ExportFormat tags snapshots consumed by the enhancement batch job.
const ExportFormat = "enhanced_screenshot_collector/v1"

var (
	ErrInvalidURL    = errors.New("invalid listing url")
	ErrInvalidOrigin = errors.New("invalid origin")
)

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid submission status transition %s -> %s", e.From, e.To)
}

var DefaultHighVolumeDomains = []string{"facebook.com", "craigslist.org", "offerup.com", "ebay.com", "letgo.com"}

type Store struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Scorer  completeness.Scorer
	Domains []string
	Now     func() time.Time
	Log     *slog.Logger

	mu sync.Mutex
}

func New(db *sql.DB, domains []string) *Store {
	if domains == nil {
		domains = DefaultHighVolumeDomains
	}
	return &Store{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Scorer:  completeness.New(nil),
		Domains: domains,
		Now:     time.Now,
		Log:     slog.Default(),
	}
}

func (s *Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Store) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// ParseURL validates a capture URL and returns it normalized.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return u, nil
}

// Priority is high when host equals or is a subdomain of one of domains.
func Priority(u *url.URL, domains []string) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return domain.PriorityHigh
		}
	}
	return domain.PriorityNormal
}

// Enqueue validates rawURL and stores a pending submission.
func (s *Store) Enqueue(ctx context.Context, rawURL, origin string) (domain.Submission, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return domain.Submission{}, err
	}
	if origin == "" {
		origin = domain.OriginManual
	}
	if origin != domain.OriginManual && origin != domain.OriginAutomated {
		return domain.Submission{}, fmt.Errorf("%w %q: must be manual or automated", ErrInvalidOrigin, origin)
	}
	sub := domain.Submission{
		ID:          uuid.NewString(),
		URL:         u.String(),
		Origin:      origin,
		Status:      domain.StatusPending,
		Priority:    Priority(u, s.Domains),
		SubmittedAt: s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()
	seq, err := s.Repo.InsertSubmission(ctx, tx, sub)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	sub.Seq = seq
	if err := s.Events.Append(ctx, tx, events.SubmissionEnqueued, "submission", sub.ID, events.EventPayload{
		"url": sub.URL, "origin": sub.Origin, "priority": sub.Priority,
	}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	s.logger().Info("submission enqueued", "id", sub.ID, "priority", sub.Priority, "origin", sub.Origin)
	return sub, nil
}

func ensureTransition(from, to string) error {
	switch from {
	case domain.StatusPending:
		if to == domain.StatusProcessing || to == domain.StatusFailed {
			return nil
		}
	case domain.StatusProcessing:
		if to == domain.StatusProcessed || to == domain.StatusFailed {
			return nil
		}
	}
	return TransitionError{From: from, To: to}
}

// StatusUpdate carries the optional data attached by SetStatus.
type StatusUpdate struct {
	Payload *domain.ProcessedPayload
	Error   string
}

// SetStatus moves a submission along its lifecycle. Terminal states stamp
// processed_at; a payload is stored with a freshly computed assessment.
func (s *Store) SetStatus(ctx context.Context, id, status string, upd StatusUpdate) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()

	sub, err := s.Repo.GetSubmission(ctx, tx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := ensureTransition(sub.Status, status); err != nil {
		return domain.Submission{}, err
	}
	from := sub.Status
	sub.Status = status
	switch status {
	case domain.StatusProcessing:
		sub.Attempts++
	case domain.StatusProcessed, domain.StatusFailed:
		ts := s.now()
		sub.ProcessedAt = &ts
	}
	if upd.Error != "" {
		sub.Error = upd.Error
	}
	if upd.Payload != nil {
		payload := *upd.Payload
		assessment := s.Scorer.Assess(payload.Listing)
		sub.Payload = &payload
		sub.Completeness = &assessment
	}
	if err := s.Repo.UpdateSubmission(ctx, tx, sub); err != nil {
		return domain.Submission{}, err
	}
	evt := events.EventPayload{"from": from, "to": status}
	if sub.Error != "" {
		evt["error"] = sub.Error
	}
	if err := s.Events.Append(ctx, tx, events.SubmissionStatus, "submission", sub.ID, evt); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

// Complete stores the combined pipeline payload and moves processing to processed.
func (s *Store) Complete(ctx context.Context, id string, payload domain.ProcessedPayload) (domain.Submission, error) {
	return s.SetStatus(ctx, id, domain.StatusProcessed, StatusUpdate{Payload: &payload})
}

// Remove deletes a submission; removing an unknown id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	removed, err := s.Repo.DeleteSubmission(ctx, tx, id)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	if err := s.Events.Append(ctx, tx, events.SubmissionRemoved, "submission", id, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, id string) (domain.Submission, error) {
	return s.Repo.GetSubmission(ctx, nil, id)
}

func (s *Store) List(ctx context.Context, f repo.SubmissionFilters) ([]domain.Submission, error) {
	items, err := s.Repo.ListSubmissions(ctx, nil, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Submission{}
	}
	return items, nil
}

// PendingSnapshot returns pending submissions in FIFO order.
func (s *Store) PendingSnapshot(ctx context.Context) ([]domain.Submission, error) {
	return s.List(ctx, repo.SubmissionFilters{Status: domain.StatusPending})
}

type ExportOptions struct {
	// Clear removes exported submissions once the snapshot is taken.
	Clear bool
}

// Export snapshots pending submissions and stamps them exported in one transaction.
func (s *Store) Export(ctx context.Context, opts ExportOptions) (domain.ExportSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ExportSnapshot{}, err
	}
	defer tx.Rollback()
	pending, err := s.Repo.ListSubmissions(ctx, tx, repo.SubmissionFilters{Status: domain.StatusPending})
	if err != nil {
		return domain.ExportSnapshot{}, err
	}
	if pending == nil {
		pending = []domain.Submission{}
	}
	ts := s.now()
	ids := make([]string, 0, len(pending))
	for i := range pending {
		ids = append(ids, pending[i].ID)
		pending[i].ExportedAt = &ts
	}
	if err := s.Repo.MarkExported(ctx, tx, ids, ts); err != nil {
		return domain.ExportSnapshot{}, err
	}
	if opts.Clear {
		for _, id := range ids {
			if _, err := s.Repo.DeleteSubmission(ctx, tx, id); err != nil {
				return domain.ExportSnapshot{}, err
			}
		}
	}
	if err := s.Events.Append(ctx, tx, events.SubmissionExported, "submission", "", events.EventPayload{
		"count": len(ids), "cleared": opts.Clear,
	}); err != nil {
		return domain.ExportSnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ExportSnapshot{}, err
	}
	return domain.ExportSnapshot{
		Format:      ExportFormat,
		ExportedAt:  ts,
		Total:       len(pending),
		Submissions: pending,
	}, nil
}
