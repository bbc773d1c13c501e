package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ModelConfig describes one voice model backend.
type ModelConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type SynthesisConfig struct {
	DefaultModel  string                 `yaml:"default_model"`
	TimeoutMS     int                    `yaml:"timeout_ms"`
	MaxTextLength int                    `yaml:"max_text_length"`
	Models        map[string]ModelConfig `yaml:"models"`
}

type BatchConfig struct {
	Workers        int    `yaml:"workers"`
	MaxAttempts    int    `yaml:"max_attempts"`
	OutputDir      string `yaml:"output_dir"`
	Format         string `yaml:"format"`
	Bitrate        string `yaml:"bitrate"`
	SampleRate     int    `yaml:"sample_rate"`
	Normalize      bool   `yaml:"normalize"`
	EncoderCommand string `yaml:"encoder_command"`
}

type ReportStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	Batch       BatchConfig       `yaml:"batch"`
	ReportStore ReportStoreConfig `yaml:"report_store"`
}

func Default() Config {
	return Config{
		RuntimeName: "vox-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Synthesis: SynthesisConfig{
			DefaultModel:  "speecht5",
			TimeoutMS:     60000,
			MaxTextLength: 4096,
			Models: map[string]ModelConfig{
				"speecht5": {Mode: "mock", SampleRate: 16000, Channels: 1},
				"mms_tts":  {Mode: "mock", SampleRate: 16000, Channels: 1},
				"bark":     {Mode: "mock", SampleRate: 24000, Channels: 1},
			},
		},
		Batch: BatchConfig{
			Workers:     4,
			MaxAttempts: 3,
			OutputDir:   "./batch_output",
			Format:      "wav",
			Bitrate:     "192k",
			Normalize:   true,
		},
		ReportStore: ReportStoreConfig{
			Path:          "./data/vox-reports.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.DefaultModel, "VOX_SYNTHESIS_DEFAULT_MODEL")
	overrideInt(&cfg.Synthesis.TimeoutMS, "VOX_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.MaxTextLength, "VOX_SYNTHESIS_MAX_TEXT_LENGTH")
	overrideInt(&cfg.Batch.Workers, "VOX_BATCH_WORKERS")
	overrideInt(&cfg.Batch.MaxAttempts, "VOX_BATCH_MAX_ATTEMPTS")
	overrideString(&cfg.Batch.OutputDir, "VOX_BATCH_OUTPUT_DIR")
	overrideString(&cfg.Batch.Format, "VOX_BATCH_FORMAT")
	overrideString(&cfg.Batch.Bitrate, "VOX_BATCH_BITRATE")
	overrideInt(&cfg.Batch.SampleRate, "VOX_BATCH_SAMPLE_RATE")
	overrideBool(&cfg.Batch.Normalize, "VOX_BATCH_NORMALIZE")
	overrideString(&cfg.Batch.EncoderCommand, "VOX_BATCH_ENCODER_COMMAND")
	overrideString(&cfg.ReportStore.Path, "VOX_REPORT_STORE_PATH")
	overrideString(&cfg.ReportStore.RetentionMode, "VOX_REPORT_STORE_RETENTION_MODE")
	overrideInt(&cfg.ReportStore.RetentionDays, "VOX_REPORT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.ReportStore.MaxJobs, "VOX_REPORT_STORE_MAX_JOBS")
	overrideBool(&cfg.ReportStore.VacuumOnStart, "VOX_REPORT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Synthesis.DefaultModel == "" {
		return errors.New("synthesis.default_model must not be empty")
	}
	if _, ok := cfg.Synthesis.Models[cfg.Synthesis.DefaultModel]; !ok {
		return fmt.Errorf("synthesis.default_model %q has no model entry", cfg.Synthesis.DefaultModel)
	}
	if cfg.Synthesis.TimeoutMS <= 0 {
		return errors.New("synthesis.timeout_ms must be positive")
	}
	if cfg.Synthesis.MaxTextLength <= 0 {
		return errors.New("synthesis.max_text_length must be positive")
	}
	for name, model := range cfg.Synthesis.Models {
		switch model.Mode {
		case "mock", "exec":
		default:
			return fmt.Errorf("synthesis.models.%s.mode must be one of mock|exec", name)
		}
		if model.Mode == "exec" && model.Command == "" {
			return fmt.Errorf("synthesis.models.%s.command must be set when mode=exec", name)
		}
		if model.SampleRate <= 0 {
			return fmt.Errorf("synthesis.models.%s.sample_rate must be positive", name)
		}
		if model.Channels <= 0 {
			return fmt.Errorf("synthesis.models.%s.channels must be positive", name)
		}
	}
	if cfg.Batch.Workers <= 0 {
		return errors.New("batch.workers must be >= 1")
	}
	if cfg.Batch.MaxAttempts <= 0 {
		return errors.New("batch.max_attempts must be >= 1")
	}
	if cfg.Batch.OutputDir == "" {
		return errors.New("batch.output_dir must not be empty")
	}
	switch cfg.Batch.Format {
	case "wav", "mp3", "flac", "ogg":
	default:
		return errors.New("batch.format must be one of wav|mp3|flac|ogg")
	}
	if cfg.Batch.Format != "wav" && cfg.Batch.EncoderCommand == "" {
		return fmt.Errorf("batch.encoder_command must be set for format %s", cfg.Batch.Format)
	}
	switch cfg.Batch.Bitrate {
	case "128k", "192k", "256k", "320k":
	default:
		return errors.New("batch.bitrate must be one of 128k|192k|256k|320k")
	}
	if cfg.ReportStore.Path == "" {
		return errors.New("report_store.path must not be empty")
	}
	switch cfg.ReportStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("report_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.ReportStore.RetentionDays < 0 {
		return errors.New("report_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
