// Package exporter writes queue snapshots to disk, on demand or on a cron schedule.
package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"listingintel/internal/domain"
)

// SnapshotFunc produces the snapshot to persist.
type SnapshotFunc func(ctx context.Context) (domain.ExportSnapshot, error)

// WriteFile writes snap as indented JSON to path, replacing it atomically.
func WriteFile(path string, snap domain.ExportSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".export-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FileName names a snapshot taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("submissions-%s.json", t.UTC().Format("20060102T150405Z"))
}

// Scheduler runs exports into Dir on a standard 5-field cron expression.
type Scheduler struct {
	Dir      string
	Snapshot SnapshotFunc
	Now      func() time.Time
	Log      *slog.Logger

	sched cron.Schedule
}

func NewScheduler(spec, dir string, snapshot SnapshotFunc, log *slog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid export schedule %q: %w", spec, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{Dir: dir, Snapshot: snapshot, Now: time.Now, Log: log, sched: sched}, nil
}

// Next reports the first run strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// RunOnce takes a snapshot and writes it, returning the file path.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, FileName(s.now()))
	if err := WriteFile(path, snap); err != nil {
		return "", err
	}
	s.Log.Info("export written", "path", path, "total", snap.Total)
	return path, nil
}

// Run blocks, exporting at every scheduled time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		next := s.sched.Next(now)
		wait := next.Sub(now)
		s.Log.Info("next scheduled export", "at", next.Format(time.RFC3339), "in", wait.Round(time.Second).String())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.Log.Error("scheduled export failed", "err", err)
		}
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
