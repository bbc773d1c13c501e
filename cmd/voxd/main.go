package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/batch"
	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/natsserver"
	"github.com/voxlabs/vox-core/internal/reportstore"
	"github.com/voxlabs/vox-core/internal/runtime"
	"github.com/voxlabs/vox-core/internal/service"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "vox.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	embedded, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer busClient.Close()

	store, err := reportstore.Open(ctx, cfg.ReportStore, logger)
	if err != nil {
		return fmt.Errorf("open report store: %w", err)
	}
	defer store.Close()

	registry := backend.NewRegistry(logger)
	if err := registry.Load(ctx, cfg.Synthesis); err != nil {
		return fmt.Errorf("load synthesis backends: %w", err)
	}

	post := audio.NewPostProcessor(audio.ProcessorOptions{
		Normalize:      cfg.Batch.Normalize,
		TargetRate:     cfg.Batch.SampleRate,
		EncoderCommand: cfg.Batch.EncoderCommand,
		Bitrate:        cfg.Batch.Bitrate,
	})

	orch := batch.NewOrchestrator(cfg.Batch, cfg.Synthesis, registry, post, store, logger)

	svc := service.New(ctx, cfg, busClient, orch, store, logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start synthesis service: %w", err)
	}
	defer svc.Close()

	rt := runtime.New(cfg, orch, store, logger)
	rt.AddReadiness("bus", busClient.Healthy)
	rt.AddReadiness("service", svc.Healthy)
	return rt.Start(ctx)
}
