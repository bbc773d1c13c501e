package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/backend"
)

// Status is the lifecycle state of a synthesis task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a task in this status will never run again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one text-to-audio conversion request. A task is mutated only
// by the worker that currently owns it; once terminal it is never
// reused.
type Task struct {
	Index    int
	Text     string
	Options  backend.Options
	Status   Status
	Attempts int
	Artifact *audio.Artifact

	failure     error
	failureKind backend.FailureKind
}

func (t *Task) fail(kind backend.FailureKind, err error) {
	t.Status = StatusFailed
	t.failureKind = kind
	t.failure = err
}

// Job is a collection of tasks submitted together. The task list is
// fixed at submission; nothing is inserted after the job starts.
type Job struct {
	ID        string
	CreatedAt time.Time
	Tasks     []*Task
	Options   backend.Options
	Workers   int
}

// NewJob builds a job from raw texts. Texts that violate submission
// constraints (empty, over maxTextLength) are admitted as already
// failed tasks so the final report accounts for every input.
func NewJob(texts []string, opts backend.Options, workers, maxTextLength int) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Options:   opts,
		Workers:   workers,
	}
	for i, text := range texts {
		task := &Task{
			Index:   i,
			Text:    text,
			Options: opts,
			Status:  StatusPending,
		}
		if strings.TrimSpace(text) == "" {
			task.fail(backend.FailConfiguration, fmt.Errorf("text is empty"))
		} else if maxTextLength > 0 && len(text) > maxTextLength {
			task.fail(backend.FailConfiguration, fmt.Errorf("text length %d exceeds maximum %d", len(text), maxTextLength))
		}
		job.Tasks = append(job.Tasks, task)
	}
	return job
}

// ApplyPrior marks tasks that already succeeded in a previous run so a
// resumed job only re-executes the remainder. Matching is positional
// and textual; a changed text runs again.
func (j *Job) ApplyPrior(prior *Report) {
	if prior == nil {
		return
	}
	for _, res := range prior.Tasks {
		if res.Status != StatusSucceeded {
			continue
		}
		if res.Index < 0 || res.Index >= len(j.Tasks) {
			continue
		}
		task := j.Tasks[res.Index]
		if task.Text != res.Text || task.Status != StatusPending {
			continue
		}
		task.Status = StatusSucceeded
		task.Attempts = res.Attempts
		task.Artifact = res.Artifact
	}
}
