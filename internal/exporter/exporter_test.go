package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingintel/internal/domain"
)

var at = time.Date(2025, 7, 4, 8, 30, 0, 0, time.UTC)

func snapshot(n int) SnapshotFunc {
	return func(context.Context) (domain.ExportSnapshot, error) {
		subs := make([]domain.Submission, n)
		for i := range subs {
			subs[i] = domain.Submission{ID: string(rune('a' + i)), Status: domain.StatusPending}
		}
		return domain.ExportSnapshot{Format: "enhanced_screenshot_collector/v1", Total: n, Submissions: subs}, nil
	}
}

func TestWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, WriteFile(path, domain.ExportSnapshot{Total: 1}))
	require.NoError(t, WriteFile(path, domain.ExportSnapshot{Total: 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap domain.ExportSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 2, snap.Total)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSchedulerNext(t *testing.T) {
	s, err := NewScheduler("0 9 * * 1-5", t.TempDir(), snapshot(0), nil)
	require.NoError(t, err)
	// 2025-07-04 is a Friday; next weekday 09:00 is Monday.
	assert.Equal(t, time.Date(2025, 7, 4, 9, 0, 0, 0, time.UTC), s.Next(at))
	assert.Equal(t, time.Date(2025, 7, 7, 9, 0, 0, 0, time.UTC), s.Next(at.Add(time.Hour)))

	_, err = NewScheduler("daily", "", snapshot(0), nil)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScheduler("* * * * *", dir, snapshot(3), nil)
	require.NoError(t, err)
	s.Now = func() time.Time { return at }

	path, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "submissions-20250704T083000Z.json"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var snap domain.ExportSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 3, snap.Total)
	assert.Len(t, snap.Submissions, 3)
}

func TestRunOnceSnapshotError(t *testing.T) {
	s, err := NewScheduler("* * * * *", t.TempDir(), func(context.Context) (domain.ExportSnapshot, error) {
		return domain.ExportSnapshot{}, errors.New("db closed")
	}, nil)
	require.NoError(t, err)
	_, err = s.RunOnce(context.Background())
	assert.EqualError(t, err, "db closed")
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler("0 0 1 1 *", t.TempDir(), snapshot(0), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
