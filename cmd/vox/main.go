package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/backend"
	"github.com/voxlabs/vox-core/internal/batch"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/reportstore"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "say":
		err = runSay(os.Args[2:])
	case "batch":
		err = runBatch(os.Args[2:])
	case "convert":
		err = runConvert(os.Args[2:])
	case "models":
		err = runModels(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vox <command> [flags]

commands:
  say     synthesize a single text to an audio file
  batch   synthesize many texts with a worker pool
  convert re-encode an existing WAV file to another format
  models  list available voice models
  version print version and exit`)
}

type synthFlags struct {
	configPath string
	model      string
	emotion    string
	language   string
	verbose    bool
}

func (f *synthFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "vox.yaml", "Path to configuration file")
	fs.StringVar(&f.model, "model", "", "Voice model (default from config)")
	fs.StringVar(&f.emotion, "emotion", "neutral", "Emotion preset")
	fs.StringVar(&f.language, "language", "en", "Language code")
	fs.BoolVar(&f.verbose, "verbose", false, "Verbose logging")
}

func (f *synthFlags) logger() *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (f *synthFlags) options(cfg config.Config) backend.Options {
	model := f.model
	if model == "" {
		model = cfg.Synthesis.DefaultModel
	}
	return backend.Options{
		Model:    model,
		Emotion:  f.emotion,
		Language: f.language,
	}
}

func runSay(args []string) error {
	var (
		flags  synthFlags
		text   string
		output string
	)
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	flags.register(fs)
	fs.StringVar(&text, "text", "", "Text to synthesize")
	fs.StringVar(&output, "output", "", "Output audio file (extension selects format)")
	fs.Parse(args)

	if text == "" {
		return errors.New("say: -text is required")
	}

	logger := flags.logger()
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if output == "" {
		output = "output." + cfg.Batch.Format
	}

	orch, closeStore, err := buildOrchestrator(context.Background(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	artifact, err := orch.SynthesizeOne(ctx, text, flags.options(cfg), output)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s (%.2fs, %d Hz, %d bytes)\n",
		artifact.Path, artifact.Duration.Seconds(), artifact.SampleRate, artifact.ByteSize)
	return nil
}

func runBatch(args []string) error {
	var (
		flags      synthFlags
		inputFile  string
		textList   string
		outputDir  string
		workers    int
		format     string
		bitrate    string
		sampleRate int
		normalize  bool
		resume     string
		quiet      bool
	)
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	flags.register(fs)
	fs.StringVar(&inputFile, "file", "", "File with one text per line (or pass texts as arguments)")
	fs.StringVar(&textList, "texts", "", "Comma-separated list of texts")
	fs.StringVar(&outputDir, "output-dir", "", "Output directory (default from config)")
	fs.IntVar(&workers, "workers", 0, "Worker pool size (default from config)")
	fs.StringVar(&format, "format", "", "Output format: wav, mp3, flac, ogg (default from config)")
	fs.StringVar(&bitrate, "bitrate", "", "Bitrate for compressed formats (default from config)")
	fs.IntVar(&sampleRate, "sample-rate", 0, "Resample output to this rate")
	fs.BoolVar(&normalize, "normalize", false, "Normalize audio amplitude")
	fs.StringVar(&resume, "resume", "", "Job ID to resume; completed texts are skipped")
	fs.BoolVar(&quiet, "quiet", false, "Suppress progress output")
	fs.Parse(args)

	texts, err := collectTexts(inputFile, textList, fs.Args())
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return errors.New("batch: no texts given (use -file, -texts, or pass texts as arguments)")
	}

	logger := flags.logger()
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.Batch.OutputDir = outputDir
	}
	if format != "" {
		cfg.Batch.Format = format
	}
	if bitrate != "" {
		cfg.Batch.Bitrate = bitrate
	}
	if sampleRate > 0 {
		cfg.Batch.SampleRate = sampleRate
	}
	if normalize {
		cfg.Batch.Normalize = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch, closeStore, err := buildOrchestrator(ctx, cfg, logger, resume != "")
	if err != nil {
		return err
	}
	defer closeStore()

	job := batch.NewJob(texts, flags.options(cfg), workers, cfg.Synthesis.MaxTextLength)
	if resume != "" {
		prior, err := loadPrior(ctx, cfg, logger, resume)
		if err != nil {
			return err
		}
		job.ID = prior.JobID
		job.ApplyPrior(prior)
	}

	if !quiet {
		fmt.Fprintf(os.Stderr, "job %s: %d texts, %s/%s\n", job.ID, len(job.Tasks), cfg.Batch.Format, cfg.Batch.Bitrate)
		stopProgress := startProgressDisplay(orch, job.ID)
		defer stopProgress()
	}

	report, err := orch.Run(ctx, job)
	if err != nil {
		return err
	}

	summaryPath := filepath.Join(cfg.Batch.OutputDir, "batch_summary.json")
	if err := report.WriteJSON(summaryPath); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\ndone in %s: %d succeeded, %d failed, %d cancelled\n",
		report.Duration.Round(time.Millisecond), report.Succeeded, report.Failed, report.Cancelled)
	fmt.Fprintf(os.Stderr, "summary: %s\n", summaryPath)
	for _, task := range report.Tasks {
		if task.Status == batch.StatusFailed {
			fmt.Fprintf(os.Stderr, "  [%d] %s: %s\n", task.Index+1, task.Classification, task.Error)
		}
	}
	if report.Failed > 0 || report.Cancelled > 0 {
		return errors.New("batch completed with failures")
	}
	return nil
}

// runConvert re-encodes an existing WAV file without synthesis. The
// output extension selects the format unless -format overrides it.
func runConvert(args []string) error {
	var (
		configPath string
		input      string
		output     string
		format     string
		bitrate    string
		sampleRate int
		normalize  bool
	)
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "vox.yaml", "Path to configuration file")
	fs.StringVar(&input, "input", "", "WAV file to convert")
	fs.StringVar(&output, "output", "", "Output file (extension selects format)")
	fs.StringVar(&format, "format", "", "Output format: wav, mp3, flac, ogg")
	fs.StringVar(&bitrate, "bitrate", "", "Bitrate for compressed formats (default from config)")
	fs.IntVar(&sampleRate, "sample-rate", 0, "Resample output to this rate")
	fs.BoolVar(&normalize, "normalize", false, "Normalize audio amplitude")
	fs.Parse(args)

	if input == "" {
		return errors.New("convert: -input is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if bitrate == "" {
		bitrate = cfg.Batch.Bitrate
	}

	target := audio.Format(cfg.Batch.Format)
	if format != "" {
		if target, err = audio.ParseFormat(format); err != nil {
			return err
		}
	} else if ext := strings.TrimPrefix(filepath.Ext(output), "."); ext != "" {
		if target, err = audio.ParseFormat(ext); err != nil {
			return err
		}
	}
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		output = base + "." + string(target)
	}

	buf, err := audio.ReadWAV(input)
	if err != nil {
		return err
	}

	post := audio.NewPostProcessor(audio.ProcessorOptions{
		Normalize:      normalize,
		TargetRate:     sampleRate,
		EncoderCommand: cfg.Batch.EncoderCommand,
		Bitrate:        bitrate,
	})
	artifact, err := post.Write(buf, output, target)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s (%.2fs, %d Hz, %d bytes)\n",
		artifact.Path, artifact.Duration.Seconds(), artifact.SampleRate, artifact.ByteSize)
	return nil
}

func runModels(args []string) error {
	var detail string
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	fs.StringVar(&detail, "model", "", "Show details for one model")
	fs.Parse(args)

	if detail != "" {
		info, ok := backend.Catalog[detail]
		if !ok {
			return fmt.Errorf("unknown model %q", detail)
		}
		fmt.Printf("%s\n  %s\n  languages: %s\n  native rate: %d Hz\n  emotions: %s\n  latency: %s\n  memory: %s\n",
			info.ID, info.Description, strings.Join(info.Languages, ", "),
			info.NativeRate, strings.Join(info.Emotions, ", "), info.Latency, info.MemoryUsage)
		return nil
	}

	for _, info := range backend.Models() {
		fmt.Printf("%-10s %s (%d languages, %d Hz)\n",
			info.ID, info.Description, len(info.Languages), info.NativeRate)
	}
	return nil
}

// buildOrchestrator wires an in-process orchestrator from config. The
// report store is only opened when persistence is enabled or a resume
// needs prior state.
func buildOrchestrator(ctx context.Context, cfg config.Config, logger *slog.Logger, needStore bool) (*batch.Orchestrator, func(), error) {
	registry := backend.NewRegistry(logger)
	if err := registry.Load(ctx, cfg.Synthesis); err != nil {
		return nil, nil, err
	}

	post := audio.NewPostProcessor(audio.ProcessorOptions{
		Normalize:      cfg.Batch.Normalize,
		TargetRate:     cfg.Batch.SampleRate,
		EncoderCommand: cfg.Batch.EncoderCommand,
		Bitrate:        cfg.Batch.Bitrate,
	})

	var sink batch.ReportSink
	closeStore := func() {}
	if needStore || cfg.ReportStore.RetentionMode == "persistent" {
		store, err := reportstore.Open(ctx, cfg.ReportStore, logger)
		if err != nil {
			return nil, nil, err
		}
		sink = store
		closeStore = func() { store.Close() }
	}

	return batch.NewOrchestrator(cfg.Batch, cfg.Synthesis, registry, post, sink, logger), closeStore, nil
}

func loadPrior(ctx context.Context, cfg config.Config, logger *slog.Logger, jobID string) (*batch.Report, error) {
	store, err := reportstore.Open(ctx, cfg.ReportStore, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	prior, err := store.LoadReport(ctx, jobID)
	if errors.Is(err, reportstore.ErrNotFound) {
		return nil, fmt.Errorf("no stored report for job %q", jobID)
	}
	return prior, err
}

// loadConfig falls back to builtin defaults when the default config
// file is absent; an explicitly named file must exist.
func loadConfig(path string) (config.Config, error) {
	if path == "vox.yaml" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Load("")
		}
	}
	return config.Load(path)
}

func collectTexts(inputFile, textList string, args []string) ([]string, error) {
	if inputFile == "" {
		texts := args
		for _, part := range strings.Split(textList, ",") {
			if s := strings.TrimSpace(part); s != "" {
				texts = append(texts, s)
			}
		}
		return texts, nil
	}
	f, err := os.Open(inputFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var texts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		texts = append(texts, line)
	}
	return texts, scanner.Err()
}

func startProgressDisplay(orch *batch.Orchestrator, jobID string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				snap, ok := orch.Progress(jobID)
				if !ok {
					continue
				}
				line := fmt.Sprintf("\r%d/%d done, %d running, %d retries",
					snap.Succeeded+snap.Failed+snap.Cancelled, snap.Total, snap.Running, snap.Retries)
				if snap.EstimatedRemaining > 0 {
					line += fmt.Sprintf(", ~%s left", snap.EstimatedRemaining.Round(time.Second))
				}
				fmt.Fprint(os.Stderr, line)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
