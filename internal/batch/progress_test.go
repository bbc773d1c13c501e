package batch

import (
	"testing"
	"time"
)

func TestTrackerSnapshotCounts(t *testing.T) {
	tr := NewTracker(10, 2, 1)

	tr.markRunning()
	tr.markRunning()
	tr.markSucceeded()
	tr.markRunning()
	tr.markRetrying()

	snap := tr.Report()
	if snap.Total != 10 {
		t.Fatalf("total = %d", snap.Total)
	}
	if snap.Succeeded != 3 {
		t.Fatalf("succeeded = %d, want 3 (2 prior + 1 new)", snap.Succeeded)
	}
	if snap.Failed != 1 {
		t.Fatalf("failed = %d", snap.Failed)
	}
	if snap.Running != 1 {
		t.Fatalf("running = %d", snap.Running)
	}
	if snap.Retries != 1 {
		t.Fatalf("retries = %d", snap.Retries)
	}
	if snap.Pending != 5 {
		t.Fatalf("pending = %d, want 5", snap.Pending)
	}
	if snap.Done() {
		t.Fatal("snapshot should not be done")
	}
}

func TestTrackerDone(t *testing.T) {
	tr := NewTracker(2, 0, 0)
	tr.markRunning()
	tr.markSucceeded()
	tr.markCancelled()
	if !tr.Report().Done() {
		t.Fatal("expected done")
	}
}

func TestTrackerEstimateLinear(t *testing.T) {
	tr := NewTracker(10, 0, 0)
	now := time.Unix(1000, 0)
	tr.clock = func() time.Time { return now }
	tr.started = now

	for i := 0; i < 4; i++ {
		tr.markRunning()
		tr.markSucceeded()
	}
	tr.markRunning()
	tr.markRunning()

	// 4 done in 40s with 6 outstanding: 10s each, 60s remaining.
	now = now.Add(40 * time.Second)
	snap := tr.Report()
	if snap.Elapsed != 40*time.Second {
		t.Fatalf("elapsed = %v", snap.Elapsed)
	}
	if snap.EstimatedRemaining != 60*time.Second {
		t.Fatalf("estimated remaining = %v, want 60s", snap.EstimatedRemaining)
	}
}

func TestTrackerEstimateBeforeFirstCompletion(t *testing.T) {
	tr := NewTracker(5, 0, 0)
	now := time.Unix(2000, 0)
	tr.clock = func() time.Time { return now }
	tr.started = now

	tr.markRunning()
	now = now.Add(3 * time.Second)
	snap := tr.Report()
	if snap.EstimatedRemaining != 15*time.Second {
		t.Fatalf("estimated remaining = %v, want 15s", snap.EstimatedRemaining)
	}
}
