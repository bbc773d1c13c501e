package audio

import (
	"testing"
	"time"
)

func TestBufferDuration(t *testing.T) {
	buf := &Buffer{Samples: make([]float64, 32000), SampleRate: 16000, Channels: 2}
	if got := buf.Duration(); got != time.Second {
		t.Fatalf("duration = %v, want 1s", got)
	}

	empty := &Buffer{SampleRate: 16000, Channels: 1}
	if got := empty.Duration(); got != 0 {
		t.Fatalf("empty duration = %v", got)
	}
}

func TestBufferPeak(t *testing.T) {
	buf := &Buffer{Samples: []float64{0.1, -0.7, 0.3}, SampleRate: 16000, Channels: 1}
	if got := buf.Peak(); got != 0.7 {
		t.Fatalf("peak = %f", got)
	}
}

func TestBufferCloneIndependent(t *testing.T) {
	buf := &Buffer{Samples: []float64{0.1, 0.2}, SampleRate: 16000, Channels: 1}
	clone := buf.Clone()
	clone.Samples[0] = 0.9
	if buf.Samples[0] != 0.1 {
		t.Fatal("clone shares sample storage with the original")
	}
}
