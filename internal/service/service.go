package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/voxlabs/vox-core/internal/batch"
	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/protocol"
	"github.com/voxlabs/vox-core/internal/reportstore"
)

// Service exposes batch and single-shot synthesis over the bus. The
// CLI and web UI are external collaborators: they submit texts, poll
// progress and receive the final report.
type Service struct {
	cfg    config.Config
	bus    *bus.Client
	orch   *batch.Orchestrator
	store  *reportstore.Store
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
}

func New(parent context.Context, cfg config.Config, busClient *bus.Client, orch *batch.Orchestrator, store *reportstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		orch:   orch,
		store:  store,
		log:    log.With(slog.String("component", "synthesis-service")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Service) Start() error {
	synthSub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthesisRequest, s.handleSynthesis)
	if err != nil {
		return fmt.Errorf("subscribe synthesis requests: %w", err)
	}
	s.subs = append(s.subs, synthSub)

	batchSub, err := s.bus.Conn().Subscribe(protocol.SubjectBatchSubmit, s.handleBatchSubmit)
	if err != nil {
		return fmt.Errorf("subscribe batch submissions: %w", err)
	}
	s.subs = append(s.subs, batchSub)
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) == 2 }

func (s *Service) handleSynthesis(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode synthesis request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		dest := req.Output
		if dest == "" {
			dest = filepath.Join(s.cfg.Batch.OutputDir, req.RequestID+"."+s.cfg.Batch.Format)
		}
		artifact, err := s.orch.SynthesizeOne(s.ctx, req.Text, req.Options, dest)

		result := protocol.SynthesisResult{
			RequestID: req.RequestID,
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Path = artifact.Path
		}
		s.publish(replySubject(msg, protocol.SubjectSynthesisResult), result)
	}()
}

func (s *Service) handleBatchSubmit(msg *nats.Msg) {
	var req protocol.BatchSubmit
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("failed to decode batch submission", slogError(err))
		return
	}

	job := batch.NewJob(req.Texts, req.Options, req.Workers, s.cfg.Synthesis.MaxTextLength)
	if req.JobID != "" {
		job.ID = req.JobID
	}

	if req.Resume != "" && s.store != nil {
		prior, err := s.store.LoadReport(s.ctx, req.Resume)
		if err != nil && !errors.Is(err, reportstore.ErrNotFound) {
			s.log.Warn("failed to load prior report", slog.String("job_id", req.Resume), slogError(err))
		}
		if prior != nil {
			job.ID = prior.JobID
			job.ApplyPrior(prior)
		}
	}

	s.publish(replySubject(msg, protocol.SubjectBatchSubmit+".accepted"),
		protocol.BatchAccepted{JobID: job.ID, Total: len(job.Tasks)})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runBatch(job)
	}()
}

func (s *Service) runBatch(job *batch.Job) {
	stopProgress := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopProgress:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				snapshot, ok := s.orch.Progress(job.ID)
				if !ok {
					continue
				}
				s.publish(protocol.SubjectBatchProgress+"."+job.ID, protocol.ProgressUpdate{
					JobID:     job.ID,
					Snapshot:  snapshot,
					Timestamp: time.Now().UTC(),
				})
			}
		}
	}()

	report, err := s.orch.Run(s.ctx, job)
	close(stopProgress)

	done := protocol.BatchDone{JobID: job.ID}
	if err != nil {
		done.Error = err.Error()
	} else {
		done.Report = report
	}
	s.publish(protocol.SubjectBatchDone+"."+job.ID, done)
}

func (s *Service) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal bus message", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish bus message", slog.String("subject", subject), slogError(err))
	}
}

func replySubject(msg *nats.Msg, fallback string) string {
	if msg.Reply != "" {
		return msg.Reply
	}
	return fallback
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
