package protocol

import (
	"time"

	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/batch"
)

// SynthesisRequest asks for a single text-to-speech conversion.
type SynthesisRequest struct {
	RequestID string          `json:"request_id"`
	Text      string          `json:"text"`
	Options   backend.Options `json:"options"`
	Output    string          `json:"output,omitempty"`
}

// SynthesisResult reports the outcome of a single conversion.
type SynthesisResult struct {
	RequestID string    `json:"request_id"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchSubmit asks for a batch run over a list of texts.
type BatchSubmit struct {
	JobID   string          `json:"job_id,omitempty"`
	Texts   []string        `json:"texts"`
	Options backend.Options `json:"options"`
	Workers int             `json:"workers,omitempty"`
	Resume  string          `json:"resume,omitempty"`
}

// BatchAccepted acknowledges a submission with the assigned job id.
type BatchAccepted struct {
	JobID string `json:"job_id"`
	Total int    `json:"total"`
	Error string `json:"error,omitempty"`
}

// ProgressUpdate is published periodically while a batch runs.
type ProgressUpdate struct {
	JobID     string         `json:"job_id"`
	Snapshot  batch.Snapshot `json:"snapshot"`
	Timestamp time.Time      `json:"timestamp"`
}

// BatchDone carries the final report for a completed batch.
type BatchDone struct {
	JobID  string        `json:"job_id"`
	Report *batch.Report `json:"report,omitempty"`
	Error  string        `json:"error,omitempty"`
}

const (
	SubjectSynthesisRequest = "vox.synth.request"
	SubjectSynthesisResult  = "vox.synth.result"
	SubjectBatchSubmit      = "vox.batch.submit"
	SubjectBatchProgress    = "vox.batch.progress"
	SubjectBatchDone        = "vox.batch.done"
)
