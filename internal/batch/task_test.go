package batch

import (
	"strings"
	"testing"

	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/backend"
)

func TestNewJobAdmitsInvalidTextsAsFailed(t *testing.T) {
	texts := []string{"fine", "", "   ", strings.Repeat("x", 101)}
	job := NewJob(texts, testOptions(), 2, 100)

	if len(job.Tasks) != 4 {
		t.Fatalf("job has %d tasks, want 4", len(job.Tasks))
	}
	if job.ID == "" {
		t.Fatal("job has no id")
	}
	if job.Tasks[0].Status != StatusPending {
		t.Fatalf("valid task status = %s", job.Tasks[0].Status)
	}
	for _, i := range []int{1, 2, 3} {
		task := job.Tasks[i]
		if task.Status != StatusFailed {
			t.Fatalf("task %d status = %s, want failed", i, task.Status)
		}
		if task.failureKind != backend.FailConfiguration {
			t.Fatalf("task %d failure kind = %s", i, task.failureKind)
		}
	}
}

func TestNewJobZeroLengthLimitDisablesCheck(t *testing.T) {
	long := strings.Repeat("y", 100000)
	job := NewJob([]string{long}, testOptions(), 1, 0)
	if job.Tasks[0].Status != StatusPending {
		t.Fatalf("status = %s, want pending", job.Tasks[0].Status)
	}
}

func TestApplyPriorSkipsCompletedTasks(t *testing.T) {
	texts := []string{"alpha", "beta", "gamma"}
	job := NewJob(texts, testOptions(), 2, 0)

	prior := &Report{
		JobID: "prior-job",
		Tasks: []TaskResult{
			{Index: 0, Text: "alpha", Status: StatusSucceeded, Attempts: 1, Artifact: &audio.Artifact{Path: "/out/a.wav"}},
			{Index: 1, Text: "beta", Status: StatusFailed, Attempts: 3},
			{Index: 2, Text: "changed text", Status: StatusSucceeded, Attempts: 1},
		},
	}
	job.ApplyPrior(prior)

	if job.Tasks[0].Status != StatusSucceeded {
		t.Fatalf("prior success not applied: %s", job.Tasks[0].Status)
	}
	if job.Tasks[0].Artifact == nil || job.Tasks[0].Artifact.Path != "/out/a.wav" {
		t.Fatalf("prior artifact not carried: %+v", job.Tasks[0].Artifact)
	}
	if job.Tasks[1].Status != StatusPending {
		t.Fatalf("failed prior task should rerun: %s", job.Tasks[1].Status)
	}
	if job.Tasks[2].Status != StatusPending {
		t.Fatalf("changed text should rerun: %s", job.Tasks[2].Status)
	}
}

func TestApplyPriorIgnoresOutOfRangeIndexes(t *testing.T) {
	job := NewJob([]string{"only"}, testOptions(), 1, 0)
	prior := &Report{Tasks: []TaskResult{
		{Index: 5, Text: "only", Status: StatusSucceeded},
		{Index: -1, Text: "only", Status: StatusSucceeded},
	}}
	job.ApplyPrior(prior)
	if job.Tasks[0].Status != StatusPending {
		t.Fatalf("status = %s, want pending", job.Tasks[0].Status)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusSucceeded, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusRunning, StatusRetrying} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
