package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlabs/vox-core/internal/batch"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/reportstore"
)

// Runtime hosts the HTTP surface of the daemon: health probes,
// Prometheus metrics, and job progress/report polling for UI clients.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	orch          *batch.Orchestrator
	store         *reportstore.Store
	checks        []readinessCheck
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup
}

type readinessCheck struct {
	name string
	fn   func() bool
}

func New(cfg config.Config, orch *batch.Orchestrator, store *reportstore.Store, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		orch:   orch,
		store:  store,
		logger: logger,
	}
}

// AddReadiness registers a component health probe consulted by
// /readyz. Must be called before Start.
func (r *Runtime) AddReadiness(name string, fn func() bool) {
	r.checks = append(r.checks, readinessCheck{name: name, fn: fn})
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/jobs", r.handleJobs)
	mux.HandleFunc("/jobs/", r.handleJob)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	for _, check := range r.checks {
		if !check.fn() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(check.name + " unhealthy"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (r *Runtime) handleJobs(w http.ResponseWriter, req *http.Request) {
	type jobList struct {
		Active []string                 `json:"active"`
		Stored []reportstore.JobSummary `json:"stored,omitempty"`
	}
	out := jobList{Active: r.orch.ActiveJobs()}
	if r.store != nil {
		stored, err := r.store.ListJobs(req.Context(), 100)
		if err != nil {
			r.logger.Warn("failed to list stored jobs", slog.String("error", err.Error()))
		} else {
			out.Stored = stored
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleJob serves /jobs/{id}/progress and /jobs/{id}/report.
func (r *Runtime) handleJob(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/jobs/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, req)
		return
	}
	jobID, action := parts[0], parts[1]

	switch action {
	case "progress":
		snapshot, ok := r.orch.Progress(jobID)
		if !ok {
			http.Error(w, "job not running", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case "report":
		if r.store == nil {
			http.Error(w, "report store disabled", http.StatusNotFound)
			return
		}
		report, err := r.store.LoadReport(req.Context(), jobID)
		if errors.Is(err, reportstore.ErrNotFound) {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "failed to load report", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		http.NotFound(w, req)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
