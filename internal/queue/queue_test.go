package queue_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingintel/internal/db"
	"listingintel/internal/domain"
	"listingintel/internal/migrate"
	"listingintel/internal/queue"
	"listingintel/internal/repo"
)

func newTestStore(t *testing.T) (*queue.Store, string) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	s := queue.New(conn, nil)
	s.Now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return s, workspace
}

func TestEnqueueRejectsMalformedURLs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for _, raw := range []string{"", "   ", "not a url", "ftp://facebook.com/x", "https://", "mailto:me@example.com"} {
		_, err := s.Enqueue(ctx, raw, domain.OriginManual)
		assert.ErrorIs(t, err, queue.ErrInvalidURL, "url %q", raw)
	}
	items, err := s.List(ctx, repo.SubmissionFilters{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEnqueueRejectsUnknownOrigin(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Enqueue(context.Background(), "https://example.com/a", "robot")
	assert.ErrorIs(t, err, queue.ErrInvalidOrigin)
}

func TestEnqueueAssignsPriority(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	cases := map[string]string{
		"https://www.facebook.com/marketplace/item/1106057990957133/": domain.PriorityHigh,
		"https://tampa.craigslist.org/boa/d/jet-ski/123.html":         domain.PriorityHigh,
		"https://offerup.com/item/detail/1":                           domain.PriorityHigh,
		"https://example.com/listing/1":                               domain.PriorityNormal,
		"https://notfacebook.com/item":                                domain.PriorityNormal,
	}
	for raw, want := range cases {
		sub, err := s.Enqueue(ctx, raw, "")
		require.NoError(t, err)
		assert.Equal(t, want, sub.Priority, raw)
		assert.Equal(t, domain.OriginManual, sub.Origin)
		assert.Equal(t, domain.StatusPending, sub.Status)
		assert.NotEmpty(t, sub.ID)
	}
}

func TestPriorityCustomDomains(t *testing.T) {
	u, _ := url.Parse("https://boats.example.org/x")
	assert.Equal(t, domain.PriorityHigh, queue.Priority(u, []string{"example.org"}))
	assert.Equal(t, domain.PriorityNormal, queue.Priority(u, nil))
}

func TestStatusLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Enqueue(ctx, "https://example.com/a", domain.OriginAutomated)
	require.NoError(t, err)

	_, err = s.SetStatus(ctx, sub.ID, domain.StatusProcessed, queue.StatusUpdate{})
	var te queue.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.StatusPending, te.From)

	sub, err = s.SetStatus(ctx, sub.ID, domain.StatusProcessing, queue.StatusUpdate{})
	require.NoError(t, err)
	assert.Equal(t, 1, sub.Attempts)
	assert.Nil(t, sub.ProcessedAt)

	payload := &domain.ProcessedPayload{Listing: domain.ListingRecord{Title: "2021 PWC, 45 hours, clean title, runs great"}}
	sub, err = s.SetStatus(ctx, sub.ID, domain.StatusProcessed, queue.StatusUpdate{Payload: payload})
	require.NoError(t, err)
	require.NotNil(t, sub.ProcessedAt)
	require.NotNil(t, sub.Completeness)
	assert.Equal(t, 50, sub.Completeness.CompletenessPct)

	_, err = s.SetStatus(ctx, sub.ID, domain.StatusPending, queue.StatusUpdate{})
	require.True(t, errors.As(err, &te), "no regressions")

	reloaded, err := s.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, reloaded.Status)
	require.NotNil(t, reloaded.Payload)
	assert.Equal(t, payload.Listing.Title, reloaded.Payload.Listing.Title)
	require.NotNil(t, reloaded.Completeness)
	assert.Equal(t, 0, reloaded.Completeness.CriticalMissing)
}

func TestCompleteRequiresProcessing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Enqueue(ctx, "https://example.com/b", "")
	require.NoError(t, err)
	assert.Equal(t, domain.OriginManual, sub.Origin)

	_, err = s.Complete(ctx, sub.ID, domain.ProcessedPayload{})
	var te queue.TransitionError
	require.True(t, errors.As(err, &te))

	_, err = s.SetStatus(ctx, sub.ID, domain.StatusProcessing, queue.StatusUpdate{})
	require.NoError(t, err)
	done, err := s.Complete(ctx, sub.ID, domain.ProcessedPayload{
		Listing:    domain.ListingRecord{Description: "located near the lake"},
		StepErrors: []string{"ledger step: boom"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, done.Status)
	require.NotNil(t, done.Payload)
	assert.Equal(t, []string{"ledger step: boom"}, done.Payload.StepErrors)
	require.NotNil(t, done.Completeness)
	assert.Equal(t, 4, done.Completeness.CriticalMissing)
}

func TestFailedSubmissionsLeavePendingSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a, err := s.Enqueue(ctx, "https://example.com/a", "")
	require.NoError(t, err)
	b, err := s.Enqueue(ctx, "https://example.com/b", "")
	require.NoError(t, err)

	failed, err := s.SetStatus(ctx, a.ID, domain.StatusFailed, queue.StatusUpdate{Error: "extraction timed out"})
	require.NoError(t, err)
	assert.Equal(t, "extraction timed out", failed.Error)
	assert.Nil(t, failed.Payload)

	pending, err := s.PendingSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
}

func TestPendingSnapshotIsFIFO(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		sub, err := s.Enqueue(ctx, fmt.Sprintf("https://example.com/%d", i), "")
		require.NoError(t, err)
		ids = append(ids, sub.ID)
	}
	pending, err := s.PendingSnapshot(ctx)
	require.NoError(t, err)
	var got []string
	for _, p := range pending {
		got = append(got, p.ID)
	}
	assert.Equal(t, ids, got)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Enqueue(ctx, "https://example.com/a", "")
	require.NoError(t, err)

	before, err := s.List(ctx, repo.SubmissionFilters{})
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, "does-not-exist"))
	after, err := s.List(ctx, repo.SubmissionFilters{})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, s.Remove(ctx, sub.ID))
	require.NoError(t, s.Remove(ctx, sub.ID))
	_, err = s.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestExportSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	a, err := s.Enqueue(ctx, "https://example.com/a", "")
	require.NoError(t, err)
	b, err := s.Enqueue(ctx, "https://example.com/b", "")
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, b.ID, domain.StatusProcessing, queue.StatusUpdate{})
	require.NoError(t, err)

	snap, err := s.Export(ctx, queue.ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, queue.ExportFormat, snap.Format)
	assert.Equal(t, "2025-06-01T09:00:00Z", snap.ExportedAt)
	require.Equal(t, 1, snap.Total)
	assert.Equal(t, a.ID, snap.Submissions[0].ID)
	require.NotNil(t, snap.Submissions[0].ExportedAt)

	snap, err = s.Export(ctx, queue.ExportOptions{Clear: true})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Total)
	pending, err := s.PendingSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueueSurvivesReopen(t *testing.T) {
	s, workspace := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Enqueue(ctx, "https://example.com/durable", "")
	require.NoError(t, err)

	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	defer conn.Close()
	reopened := queue.New(conn, nil)
	got, err := reopened.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.URL, got.URL)
	assert.Equal(t, sub.Seq, got.Seq)
}

func TestConcurrentEnqueue(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Enqueue(ctx, fmt.Sprintf("https://example.com/%d", i), domain.OriginAutomated); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("enqueue: %v", err)
	}
	pending, err := s.PendingSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, n)
	seen := map[string]bool{}
	for _, p := range pending {
		assert.False(t, seen[p.ID])
		seen[p.ID] = true
	}
}
