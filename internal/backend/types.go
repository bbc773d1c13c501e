package backend

import (
	"context"

	"github.com/voxlabs/vox-core/internal/audio"
)

// Options is the immutable per-request configuration snapshot.
type Options struct {
	Model      string `json:"model"`
	Emotion    string `json:"emotion"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Backend is the contract for producing audio from text. Implementations
// hold a loaded model and are safe for concurrent Synthesize calls.
type Backend interface {
	Synthesize(ctx context.Context, text string, opts Options) (*audio.Buffer, error)
}

// Emotions supported across the catalog. Backends declare the subset
// they understand; anything else fails fast as a configuration error.
var Emotions = []string{"neutral", "happy", "sad", "excited", "whisper"}

func emotionKnown(emotion string) bool {
	for _, e := range Emotions {
		if e == emotion {
			return true
		}
	}
	return false
}
