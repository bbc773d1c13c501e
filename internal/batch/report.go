package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/backend"
)

// TaskResult is the reported outcome of one task.
type TaskResult struct {
	Index          int                 `json:"index"`
	Text           string              `json:"text"`
	Status         Status              `json:"status"`
	Attempts       int                 `json:"attempts"`
	Error          string              `json:"error,omitempty"`
	FailureKind    backend.FailureKind `json:"failure_kind,omitempty"`
	Classification string              `json:"classification,omitempty"`
	Artifact       *audio.Artifact     `json:"artifact,omitempty"`
}

// Report is the immutable summary of a completed (or cancelled) batch.
// Task order follows submission order regardless of completion order.
type Report struct {
	JobID     string        `json:"job_id"`
	CreatedAt time.Time     `json:"created_at"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Duration  time.Duration `json:"duration_ns"`
	Tasks     []TaskResult  `json:"tasks"`
}

// Finalize assembles the report from a job whose tasks are all
// terminal. It is a pure function of its inputs: calling it twice on
// the same job yields identical content.
func Finalize(job *Job, elapsed time.Duration) *Report {
	report := &Report{
		JobID:     job.ID,
		CreatedAt: job.CreatedAt,
		Total:     len(job.Tasks),
		Duration:  elapsed,
		Tasks:     make([]TaskResult, 0, len(job.Tasks)),
	}
	for _, task := range job.Tasks {
		res := TaskResult{
			Index:    task.Index,
			Text:     task.Text,
			Status:   task.Status,
			Attempts: task.Attempts,
			Artifact: task.Artifact,
		}
		switch task.Status {
		case StatusSucceeded:
			report.Succeeded++
		case StatusCancelled:
			report.Cancelled++
		default:
			report.Failed++
			if task.failure != nil {
				res.Error = task.failure.Error()
			}
			res.FailureKind = task.failureKind
			res.Classification = Classification(task.failureKind)
		}
		report.Tasks = append(report.Tasks, res)
	}
	return report
}

// WriteJSON exports the report, conventionally as batch_summary.json in
// the batch output directory.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
