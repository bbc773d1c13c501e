package batch

import (
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of batch progress, suitable for
// polling by a CLI progress display or web client.
type Snapshot struct {
	Total              int           `json:"total"`
	Pending            int           `json:"pending"`
	Running            int           `json:"running"`
	Succeeded          int           `json:"succeeded"`
	Failed             int           `json:"failed"`
	Cancelled          int           `json:"cancelled"`
	Retries            int           `json:"retries"`
	Elapsed            time.Duration `json:"elapsed_ns"`
	EstimatedRemaining time.Duration `json:"estimated_remaining_ns"`
}

// Done reports whether every task reached a terminal state.
func (s Snapshot) Done() bool {
	return s.Succeeded+s.Failed+s.Cancelled >= s.Total
}

// Tracker aggregates task state transitions from concurrent workers
// using atomic counters; no task-list polling is required.
type Tracker struct {
	total     int64
	running   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	retries   atomic.Int64
	started   time.Time
	clock     func() time.Time
}

// NewTracker starts tracking a batch of total tasks. Pre-terminal
// counts (validation rejects, resumed successes) seed the counters.
func NewTracker(total, preSucceeded, preFailed int) *Tracker {
	t := &Tracker{
		total: int64(total),
		clock: time.Now,
	}
	t.succeeded.Store(int64(preSucceeded))
	t.failed.Store(int64(preFailed))
	t.started = t.clock()
	return t
}

func (t *Tracker) markRunning()  { t.running.Add(1) }
func (t *Tracker) markRetrying() { t.running.Add(-1); t.retries.Add(1) }

func (t *Tracker) markSucceeded() { t.running.Add(-1); t.succeeded.Add(1) }
func (t *Tracker) markFailed()    { t.running.Add(-1); t.failed.Add(1) }
func (t *Tracker) markCancelled() { t.cancelled.Add(1) }

// RunningCount exposes the live running-task count for metrics.
func (t *Tracker) RunningCount() int64 { return t.running.Load() }

// Report computes the current snapshot. The remaining-time estimate is
// a deliberately simple linear extrapolation of observed throughput.
func (t *Tracker) Report() Snapshot {
	succeeded := int(t.succeeded.Load())
	failed := int(t.failed.Load())
	cancelled := int(t.cancelled.Load())
	running := int(t.running.Load())
	total := int(t.total)

	pending := total - succeeded - failed - cancelled - running
	if pending < 0 {
		pending = 0
	}

	elapsed := t.clock().Sub(t.started)
	done := succeeded + failed
	if done < 1 {
		done = 1
	}
	eta := time.Duration(float64(elapsed) * float64(pending+running) / float64(done))

	return Snapshot{
		Total:              total,
		Pending:            pending,
		Running:            running,
		Succeeded:          succeeded,
		Failed:             failed,
		Cancelled:          cancelled,
		Retries:            int(t.retries.Load()),
		Elapsed:            elapsed,
		EstimatedRemaining: eta,
	}
}
