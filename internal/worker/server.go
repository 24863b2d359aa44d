package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/pixelforge/internal/config"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/queue"
	"github.com/dunamismax/pixelforge/internal/store"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/dunamismax/pixelforge/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	pipeline      transformer
	sources       sourceResolver
	presets       presetCatalog
	webhookClient webhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

type transformer interface {
	Transform(ctx context.Context, src domain.Source, in transform.Input) (domain.TransformedImage, error)
}

type sourceResolver interface {
	Resolve(ctx context.Context, volume, path string) (domain.Source, error)
}

type presetCatalog interface {
	GenerateFor(volume string) []string
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Deps are the pipeline pieces a worker drives; bootstrap.App provides all
// of them.
type Deps struct {
	Pipeline transformer
	Sources  sourceResolver
	Presets  presetCatalog
	Jobs     store.JobStore
	Webhooks *webhook.Client
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Sources == nil {
		return nil, fmt.Errorf("pipeline and source resolver are required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:      make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		pipeline: deps.Pipeline,
		sources:  deps.Sources,
		presets:  deps.Presets,
		jobStore: deps.Jobs,
		metrics:  newMetrics(),
		tracer:   otel.Tracer("pixelforge/worker"),
	}
	if deps.Webhooks != nil {
		s.webhookClient = deps.Webhooks
	}
	return s, nil
}

// RegisterCollectors exposes additional collectors, such as the pipeline's,
// on the worker metrics endpoint.
func (s *Server) RegisterCollectors(cs ...prometheus.Collector) {
	s.metrics.registry.MustRegister(cs...)
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeGenerate, s.handleGenerate)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleGenerate(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseGeneratePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.generate(ctx, payload)
}

func (s *Server) generate(ctx context.Context, payload queue.GeneratePayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	transforms := payload.Transforms
	if len(transforms) == 0 && s.presets != nil {
		transforms = s.presets.GenerateFor(payload.Volume)
	}

	ctx, span := s.tracer.Start(ctx, "worker.generate", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.volume", payload.Volume),
		attribute.Int("job.paths", len(payload.Paths)),
		attribute.Int("job.transforms", len(transforms)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.Volume, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.Volume, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("generating job_id=%s volume=%s paths=%d transforms=%d",
		payload.JobID, payload.Volume, len(payload.Paths), len(transforms))
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	if len(transforms) == 0 {
		err := fmt.Errorf("no transforms requested or configured for volume %q", payload.Volume)
		s.finish(ctx, payload, domain.JobStatusFailed, nil, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "nothing to generate")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	outputs, generated, failed := s.run(ctx, payload, transforms)
	if err := ctx.Err(); err != nil {
		s.updateJobStatus(context.WithoutCancel(ctx), payload.JobID, domain.JobStatusQueued)
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return err
	}

	status := domain.JobStatusSucceeded
	if generated == 0 {
		status = domain.JobStatusFailed
	}
	s.logger.Printf("generated job_id=%s status=%s generated=%d failed=%d", payload.JobID, status, generated, failed)

	if err := s.finish(ctx, payload, status, outputs, generated, failed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = status
	if status == domain.JobStatusFailed {
		span.SetStatus(codes.Error, "every transform failed")
		return fmt.Errorf("job %s: every transform failed: %w", payload.JobID, asynq.SkipRetry)
	}
	span.SetStatus(codes.Ok, "generated")
	return nil
}

func (s *Server) run(ctx context.Context, payload queue.GeneratePayload, transforms []string) ([]domain.GenerateOutput, int, int) {
	var (
		outputs   []domain.GenerateOutput
		generated int
		failed    int
	)
	fail := func(path, preset string, err error) {
		failed++
		s.metrics.outputsTotal.WithLabelValues("failed").Inc()
		outputs = append(outputs, domain.GenerateOutput{Path: path, Transform: preset, Error: err.Error()})
	}

	for _, path := range payload.Paths {
		if ctx.Err() != nil {
			break
		}
		src, err := s.sources.Resolve(ctx, payload.Volume, path)
		if err != nil {
			s.logger.Printf("source unavailable job_id=%s path=%s err=%v", payload.JobID, path, err)
			for _, preset := range transforms {
				fail(path, preset, err)
			}
			continue
		}

		for _, preset := range transforms {
			img, err := s.pipeline.Transform(ctx, src, transform.Preset(preset, nil))
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				s.logger.Printf("transform failed job_id=%s path=%s transform=%s err=%v", payload.JobID, path, preset, err)
				fail(path, preset, err)
				continue
			}
			generated++
			s.metrics.outputsTotal.WithLabelValues("generated").Inc()
			outputs = append(outputs, domain.GenerateOutput{Path: path, Transform: preset, Image: &img})
		}
	}
	return outputs, generated, failed
}

func (s *Server) finish(ctx context.Context, payload queue.GeneratePayload, status string, outputs []domain.GenerateOutput, generated, failed int) error {
	if s.jobStore != nil {
		if _, err := s.jobStore.Finish(ctx, payload.JobID, status, generated, failed); err != nil {
			s.logger.Printf("job finish failed job_id=%s status=%s err=%v", payload.JobID, status, err)
		}
	}

	event := webhook.EventGenerateCompleted
	if status == domain.JobStatusFailed {
		event = webhook.EventGenerateFailed
	}
	return s.dispatchWebhook(ctx, payload, event, map[string]any{
		"job_id":       payload.JobID,
		"status":       status,
		"volume":       payload.Volume,
		"generated":    generated,
		"failed":       failed,
		"requested_at": payload.RequestedAt,
		"finished_at":  time.Now().UTC(),
		"outputs":      outputs,
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.GeneratePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}
