package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ReportSink persists finalized reports. Implemented by the report
// store; nil sinks are allowed.
type ReportSink interface {
	SaveReport(ctx context.Context, report *Report) error
}

// Orchestrator runs batches of synthesis tasks across a bounded worker
// pool against a loaded backend registry.
type Orchestrator struct {
	cfg      config.BatchConfig
	synth    config.SynthesisConfig
	registry *backend.Registry
	post     *audio.PostProcessor
	log      *slog.Logger
	sink     ReportSink

	mu     sync.RWMutex
	active map[string]*Tracker

	meter       metric.Meter
	taskCounter metric.Int64Counter
	synthTimer  metric.Float64Histogram
}

// NewOrchestrator wires the scheduling core. The registry must be
// loaded before the first Run; sink may be nil.
func NewOrchestrator(cfg config.BatchConfig, synth config.SynthesisConfig, registry *backend.Registry, post *audio.PostProcessor, sink ReportSink, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		synth:    synth,
		registry: registry,
		post:     post,
		sink:     sink,
		log:      log.With(slog.String("component", "batch-orchestrator")),
		active:   make(map[string]*Tracker),
		meter:    otel.Meter("github.com/voxlabs/vox-core/batch"),
	}
	if err := o.initMetrics(); err != nil {
		o.log.Warn("failed to initialize metrics", slogError(err))
	}
	return o
}

func (o *Orchestrator) initMetrics() error {
	counter, err := o.meter.Int64Counter("vox.batch.tasks",
		metric.WithDescription("Terminal task outcomes by status"))
	if err != nil {
		return err
	}
	timer, err := o.meter.Float64Histogram("vox.batch.synthesis.duration",
		metric.WithDescription("Synthesis call duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	gauge, err := o.meter.Int64ObservableGauge("vox.batch.tasks.running",
		metric.WithDescription("Tasks currently running across active batches"))
	if err != nil {
		return err
	}
	o.taskCounter = counter
	o.synthTimer = timer
	_, err = o.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		o.mu.RLock()
		defer o.mu.RUnlock()
		var running int64
		for _, tr := range o.active {
			running += tr.RunningCount()
		}
		obs.ObserveInt64(gauge, running)
		return nil
	}, gauge)
	return err
}

// Progress returns the live snapshot for a running job.
func (o *Orchestrator) Progress(jobID string) (Snapshot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tracker, ok := o.active[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return tracker.Report(), true
}

// ActiveJobs lists job ids currently running.
func (o *Orchestrator) ActiveJobs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// Run executes a job to completion or cancellation and returns its
// report. Task failures never abort the batch; the only fatal error is
// a backend resolution failure before dispatch, since no task could
// succeed.
func (o *Orchestrator) Run(ctx context.Context, job *Job) (*Report, error) {
	if len(job.Tasks) == 0 {
		return nil, errors.New("job has no tasks")
	}
	if _, err := o.registry.Resolve(job.Options); err != nil {
		return nil, fmt.Errorf("resolve backend: %w", err)
	}

	var runnable []*Task
	preSucceeded, preFailed := 0, 0
	for _, task := range job.Tasks {
		switch task.Status {
		case StatusPending:
			runnable = append(runnable, task)
		case StatusSucceeded:
			preSucceeded++
		default:
			preFailed++
		}
	}

	tracker := NewTracker(len(job.Tasks), preSucceeded, preFailed)
	o.mu.Lock()
	o.active[job.ID] = tracker
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, job.ID)
		o.mu.Unlock()
	}()

	workers := job.Workers
	if workers <= 0 {
		workers = o.cfg.Workers
	}
	if workers > len(runnable) && len(runnable) > 0 {
		workers = len(runnable)
	}

	o.log.Info("batch started",
		slog.String("job_id", job.ID),
		slog.Int("tasks", len(job.Tasks)),
		slog.Int("runnable", len(runnable)),
		slog.Int("workers", workers))

	start := time.Now()
	if len(runnable) > 0 {
		queue := newJobQueue(len(runnable))
		for _, task := range runnable {
			queue.push(task)
		}

		policy := DefaultRetryPolicy(o.cfg.MaxAttempts)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				o.workerLoop(ctx, id, job, queue, tracker, policy)
			}(i)
		}
		wg.Wait()

		// Workers are gone; anything still queued was never started.
		for _, task := range queue.drain() {
			task.Status = StatusCancelled
			tracker.markCancelled()
			o.countOutcome(ctx, StatusCancelled)
		}
	}

	report := Finalize(job, time.Since(start))
	if o.sink != nil {
		if err := o.sink.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			o.log.Warn("failed to persist report", slog.String("job_id", job.ID), slogError(err))
		}
	}

	o.log.Info("batch finished",
		slog.String("job_id", job.ID),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("cancelled", report.Cancelled),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// SynthesizeOne runs a single conversion outside any batch and writes
// the artifact to dest. Used by the CLI single-text path and the bus
// synthesis service.
func (o *Orchestrator) SynthesizeOne(ctx context.Context, text string, opts backend.Options, dest string) (*audio.Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &backend.Error{Kind: backend.FailConfiguration, Err: errors.New("text is empty")}
	}
	if o.synth.MaxTextLength > 0 && len(text) > o.synth.MaxTextLength {
		return nil, &backend.Error{Kind: backend.FailConfiguration, Err: fmt.Errorf("text length %d exceeds maximum %d", len(text), o.synth.MaxTextLength)}
	}
	be, err := o.registry.Resolve(opts)
	if err != nil {
		return nil, err
	}

	synthCtx := context.WithoutCancel(ctx)
	if o.synth.TimeoutMS > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(synthCtx, time.Duration(o.synth.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	buf, err := be.Synthesize(synthCtx, text, opts)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	format := audio.Format(o.cfg.Format)
	if ext := filepath.Ext(dest); ext != "" {
		if parsed, err := audio.ParseFormat(strings.TrimPrefix(ext, ".")); err == nil {
			format = parsed
		}
	}
	return o.post.Write(buf, dest, format)
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID int, job *Job, queue *jobQueue, tracker *Tracker, policy RetryPolicy) {
	for {
		// Cancellation is cooperative: checked before every dequeue,
		// never interrupting an in-flight synthesis.
		select {
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case task, ok := <-queue.tasks:
			if !ok {
				return
			}
			o.process(ctx, workerID, job, task, queue, tracker, policy)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, workerID int, job *Job, task *Task, queue *jobQueue, tracker *Tracker, policy RetryPolicy) {
	task.Status = StatusRunning
	task.Attempts++
	tracker.markRunning()

	artifact, err := o.runTask(ctx, job, task)
	if err == nil {
		task.Status = StatusSucceeded
		task.Artifact = artifact
		tracker.markSucceeded()
		o.countOutcome(ctx, StatusSucceeded)
		queue.taskDone()
		return
	}

	kind := classifyTaskError(err)
	if policy.ShouldRetry(kind, task.Attempts) {
		o.log.Warn("task failed, retrying",
			slog.String("job_id", job.ID),
			slog.Int("task", task.Index),
			slog.Int("worker", workerID),
			slog.Int("attempt", task.Attempts),
			slog.String("kind", string(kind)),
			slogError(err))
		task.Status = StatusRetrying
		tracker.markRetrying()
		queue.push(task)
		return
	}

	o.log.Warn("task failed",
		slog.String("job_id", job.ID),
		slog.Int("task", task.Index),
		slog.Int("worker", workerID),
		slog.Int("attempts", task.Attempts),
		slog.String("kind", string(kind)),
		slogError(err))
	task.fail(kind, err)
	tracker.markFailed()
	o.countOutcome(ctx, StatusFailed)
	queue.taskDone()
}

func (o *Orchestrator) runTask(ctx context.Context, job *Job, task *Task) (*audio.Artifact, error) {
	be, err := o.registry.Resolve(task.Options)
	if err != nil {
		return nil, err
	}

	// A batch cancel only gates dispatch; a synthesis already started
	// runs to completion. Only the per-call timeout may interrupt it.
	synthCtx := context.WithoutCancel(ctx)
	if o.synth.TimeoutMS > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(synthCtx, time.Duration(o.synth.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	buf, err := be.Synthesize(synthCtx, task.Text, task.Options)
	if o.synthTimer != nil {
		o.synthTimer.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("model", task.Options.Model)))
	}
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	format := audio.Format(o.cfg.Format)
	dest := filepath.Join(o.cfg.OutputDir, outputName(job.ID, task, format))
	artifact, err := o.post.Write(buf, dest, format)
	if err != nil {
		return nil, &postProcessError{err: err}
	}
	return artifact, nil
}

func (o *Orchestrator) countOutcome(ctx context.Context, status Status) {
	if o.taskCounter == nil {
		return
	}
	o.taskCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// postProcessError marks an error as originating after synthesis, in
// the encode/write stage. These are never retried.
type postProcessError struct {
	err error
}

func (e *postProcessError) Error() string { return e.err.Error() }
func (e *postProcessError) Unwrap() error { return e.err }

func classifyTaskError(err error) backend.FailureKind {
	var ppe *postProcessError
	if errors.As(err, &ppe) {
		if errors.Is(err, audio.ErrUnsupportedFormat) {
			return failEncoding
		}
		return failIO
	}
	return backend.Classify(err)
}

// outputName derives a stable per-task filename from the submission
// index and a sanitized text prefix.
func outputName(jobID string, task *Task, format audio.Format) string {
	prefix := sanitize(task.Text, 20)
	if prefix == "" {
		prefix = "speech"
	}
	return fmt.Sprintf("%s_%03d_%s.%s", shortID(jobID), task.Index+1, prefix, format)
}

func sanitize(text string, limit int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if b.Len() >= limit {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
