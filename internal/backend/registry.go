package backend

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/voxlabs/vox-core/internal/config"
)

// ModelInfo describes one entry in the closed model catalog.
type ModelInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Languages   []string `json:"languages"`
	NativeRate  int      `json:"native_rate"`
	Emotions    []string `json:"emotions"`
	Latency     string   `json:"latency"`
	MemoryUsage string   `json:"memory_usage"`
}

// Catalog is the closed set of supported voice models.
var Catalog = map[string]ModelInfo{
	"speecht5": {
		ID:          "speecht5",
		Description: "Microsoft SpeechT5 unified-modal TTS with speaker control",
		Languages:   []string{"en"},
		NativeRate:  16000,
		Emotions:    []string{"neutral"},
		Latency:     "medium",
		MemoryUsage: "medium",
	},
	"mms_tts": {
		ID:          "mms_tts",
		Description: "Facebook MMS-TTS VITS-based multilingual TTS",
		Languages:   []string{"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar", "hi", "nl", "pl", "tr", "uk", "vi", "id", "th", "sv"},
		NativeRate:  16000,
		Emotions:    []string{"neutral"},
		Latency:     "fast",
		MemoryUsage: "low",
	},
	"bark": {
		ID:          "bark",
		Description: "Suno Bark transformer-based creative TTS with emotion tags",
		Languages:   []string{"en", "de", "es", "fr", "hi", "it", "ja", "ko", "pl", "pt", "ru", "tr", "zh"},
		NativeRate:  24000,
		Emotions:    []string{"neutral", "happy", "sad", "excited", "whisper"},
		Latency:     "slow",
		MemoryUsage: "high",
	},
}

// Models lists catalog entries in stable order.
func Models() []ModelInfo {
	ids := make([]string, 0, len(Catalog))
	for id := range Catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, Catalog[id])
	}
	return out
}

// Supports checks a language/emotion combination against the model.
func (m ModelInfo) Supports(language, emotion string) error {
	if language != "" && !contains(m.Languages, strings.ToLower(language)) {
		return newError(FailConfiguration, "model %s does not support language %q", m.ID, language)
	}
	if emotion != "" && emotion != "neutral" && !contains(m.Emotions, emotion) {
		return newError(FailConfiguration, "model %s does not support emotion %q", m.ID, emotion)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Registry resolves model identifiers to loaded backends. Construction
// loads every configured backend before Resolve can be called, so
// workers never observe a partially initialized model.
type Registry struct {
	log      *slog.Logger
	backends map[string]Backend
	infos    map[string]ModelInfo
	mu       sync.RWMutex
	loaded   bool
}

// NewRegistry builds a registry from configuration without loading.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:      log.With(slog.String("component", "backend-registry")),
		backends: make(map[string]Backend),
		infos:    make(map[string]ModelInfo),
	}
}

// Register adds a pre-built backend for a catalog model. Used by tests
// and by Load.
func (r *Registry) Register(id string, b Backend) error {
	info, ok := Catalog[id]
	if !ok {
		return newError(FailConfiguration, "unknown model %q", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[id]; exists {
		return newError(FailConfiguration, "model %q already registered", id)
	}
	r.backends[id] = b
	r.infos[id] = info
	r.loaded = true
	return nil
}

// Load constructs every backend named in cfg. It is the one-time
// barrier: it either returns with all backends ready or with an error
// and nothing usable.
func (r *Registry) Load(ctx context.Context, cfg config.SynthesisConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded && len(r.backends) > 0 {
		return newError(FailConfiguration, "registry already loaded")
	}

	for id, mc := range cfg.Models {
		info, ok := Catalog[id]
		if !ok {
			return newError(FailConfiguration, "unknown model %q in config", id)
		}
		var (
			b   Backend
			err error
		)
		switch mc.Mode {
		case "mock":
			b = NewMock(mc.SampleRate, mc.Channels)
		case "exec":
			b, err = NewExec(mc.Command, mc.SampleRate, mc.Channels)
		default:
			err = newError(FailConfiguration, "model %s: unsupported mode %q", id, mc.Mode)
		}
		if err != nil {
			return err
		}
		r.backends[id] = b
		r.infos[id] = info
		r.log.Info("backend loaded",
			slog.String("model", id),
			slog.String("mode", mc.Mode),
			slog.Int("sample_rate", mc.SampleRate))
	}
	if len(r.backends) == 0 {
		return newError(FailConfiguration, "no models configured")
	}
	r.loaded = true
	return ctx.Err()
}

// Resolve returns the backend for a model id, validating the requested
// language and emotion against the catalog entry.
func (r *Registry) Resolve(opts Options) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return nil, newError(FailConfiguration, "registry not loaded")
	}
	b, ok := r.backends[opts.Model]
	if !ok {
		return nil, newError(FailConfiguration, "model %q not available", opts.Model)
	}
	if opts.Emotion != "" && !emotionKnown(opts.Emotion) {
		return nil, newError(FailConfiguration, "unknown emotion %q", opts.Emotion)
	}
	info := r.infos[opts.Model]
	if err := info.Supports(opts.Language, opts.Emotion); err != nil {
		return nil, err
	}
	return b, nil
}

// Info returns the catalog entry for a model id.
func (r *Registry) Info(id string) (ModelInfo, error) {
	info, ok := Catalog[id]
	if !ok {
		return ModelInfo{}, newError(FailConfiguration, "unknown model %q", id)
	}
	return info, nil
}
