package reportstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxlabs/vox-core/internal/batch"
	"github.com/voxlabs/vox-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, cfg config.ReportStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "reports.db")
	}
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = "persistent"
	}
	s, err := Open(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(jobID string, createdAt time.Time) *batch.Report {
	return &batch.Report{
		JobID:     jobID,
		CreatedAt: createdAt,
		Total:     2,
		Succeeded: 1,
		Failed:    1,
		Duration:  3 * time.Second,
		Tasks: []batch.TaskResult{
			{Index: 0, Text: "hello", Status: batch.StatusSucceeded, Attempts: 1},
			{Index: 1, Text: "world", Status: batch.StatusFailed, Attempts: 3, Error: "model fault"},
		},
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	s := newTestStore(t, config.ReportStoreConfig{})
	ctx := context.Background()

	report := sampleReport("job-1", time.Now().UTC())
	if err := s.SaveReport(ctx, report); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.LoadReport(ctx, "job-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.JobID != "job-1" || loaded.Total != 2 || loaded.Succeeded != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.Tasks) != 2 || loaded.Tasks[1].Error != "model fault" {
		t.Fatalf("tasks = %+v", loaded.Tasks)
	}
}

func TestSaveReportUpserts(t *testing.T) {
	s := newTestStore(t, config.ReportStoreConfig{})
	ctx := context.Background()

	first := sampleReport("job-1", time.Now().UTC())
	if err := s.SaveReport(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := sampleReport("job-1", first.CreatedAt)
	second.Succeeded = 2
	second.Failed = 0
	second.Tasks[1].Status = batch.StatusSucceeded
	second.Tasks[1].Error = ""
	if err := s.SaveReport(ctx, second); err != nil {
		t.Fatalf("resave: %v", err)
	}

	loaded, err := s.LoadReport(ctx, "job-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Succeeded != 2 || loaded.Failed != 0 {
		t.Fatalf("upsert not applied: %+v", loaded)
	}

	jobs, err := s.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("upsert created %d rows", len(jobs))
	}
}

func TestLoadReportMissing(t *testing.T) {
	s := newTestStore(t, config.ReportStoreConfig{})
	if _, err := s.LoadReport(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	s := newTestStore(t, config.ReportStoreConfig{})
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.SaveReport(ctx, sampleReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	jobs, err := s.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].JobID != "new" || jobs[1].JobID != "mid" {
		t.Fatalf("order = %s, %s", jobs[0].JobID, jobs[1].JobID)
	}
	if jobs[0].Succeeded != 1 || jobs[0].Total != 2 {
		t.Fatalf("summary = %+v", jobs[0])
	}
}

func TestPruneMaxJobs(t *testing.T) {
	s := newTestStore(t, config.ReportStoreConfig{MaxJobs: 2})
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		report := sampleReport(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveReport(ctx, report); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	jobs, err := s.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs after prune, want 2", len(jobs))
	}
	if jobs[0].JobID != "e" || jobs[1].JobID != "d" {
		t.Fatalf("kept %s, %s", jobs[0].JobID, jobs[1].JobID)
	}
}

func TestPruneRetentionDays(t *testing.T) {
	s := newTestStore(t, config.ReportStoreConfig{RetentionDays: 7})
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return now }

	if err := s.SaveReport(ctx, sampleReport("stale", now.Add(-10*24*time.Hour))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveReport(ctx, sampleReport("fresh", now.Add(-time.Hour))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if _, err := s.LoadReport(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale report survived: %v", err)
	}
	if _, err := s.LoadReport(ctx, "fresh"); err != nil {
		t.Fatalf("fresh report pruned: %v", err)
	}
}

func TestEphemeralModeDropsWrites(t *testing.T) {
	s := newTestStore(t, config.ReportStoreConfig{RetentionMode: "ephemeral"})
	ctx := context.Background()

	if err := s.SaveReport(ctx, sampleReport("job-1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.LoadReport(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	jobs, err := s.ListJobs(ctx, 10)
	if err != nil || jobs != nil {
		t.Fatalf("list = %v, %v", jobs, err)
	}
}
