package backend

import (
	"context"
	"math"
	"time"

	"github.com/voxlabs/vox-core/internal/audio"
)

type mockBackend struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

// NewMock returns a backend that synthesizes a deterministic tone whose
// length tracks the input text. It stands in for a loaded neural model
// in development and tests.
func NewMock(sampleRate, channels int) Backend {
	return &mockBackend{sampleRate: sampleRate, channels: channels, delay: 10 * time.Millisecond}
}

func (m *mockBackend) Synthesize(ctx context.Context, text string, opts Options) (*audio.Buffer, error) {
	if text == "" {
		return nil, newError(FailConfiguration, "empty text")
	}

	select {
	case <-ctx.Done():
		return nil, &Error{Kind: FailTimeout, Err: ctx.Err()}
	case <-time.After(m.delay):
	}

	// Roughly 60ms of audio per character, bounded below at 200ms.
	frames := m.sampleRate * len(text) * 60 / 1000
	if minFrames := m.sampleRate / 5; frames < minFrames {
		frames = minFrames
	}

	buf := &audio.Buffer{
		Samples:    make([]float64, frames*m.channels),
		SampleRate: m.sampleRate,
		Channels:   m.channels,
	}
	freq := 220.0 + float64(len(text)%12)*55.0
	for i := 0; i < frames; i++ {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate))
		for ch := 0; ch < m.channels; ch++ {
			buf.Samples[i*m.channels+ch] = v
		}
	}
	return buf, nil
}
