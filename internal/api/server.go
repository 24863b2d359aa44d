package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelforge/internal/backend"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/id"
	"github.com/dunamismax/pixelforge/internal/queue"
	"github.com/dunamismax/pixelforge/internal/store"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	pipeline              transformPipeline
	sources               sourceResolver
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	requestTimeout        time.Duration
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type transformPipeline interface {
	Transform(ctx context.Context, src domain.Source, in transform.Input) (domain.TransformedImage, error)
	Purge(ctx context.Context, src domain.Source) (int, error)
	PurgeAll(ctx context.Context) (int, error)
	Palette(ctx context.Context, img domain.TransformedImage, opts backend.PaletteOptions) ([]byte, error)
	Blurhash(ctx context.Context, img domain.TransformedImage) (string, error)
}

type sourceResolver interface {
	Resolve(ctx context.Context, volume, path string) (domain.Source, error)
}

type queueEnqueuer interface {
	Queue() string
	EnqueueGenerate(ctx context.Context, payload queue.GeneratePayload) (*asynq.TaskInfo, error)
}

type Options struct {
	Pipeline    transformPipeline
	Sources     sourceResolver
	Queue       queueEnqueuer
	Jobs        store.JobStore
	RateLimiter RateLimiter
	// RateLimitUserIDHeader names the header that identifies callers for
	// rate limiting.
	RateLimitUserIDHeader string
	RequestTimeout        time.Duration
	Tracer                trace.Tracer
}

func NewServer(logger *log.Logger, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RateLimitUserIDHeader == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}
	if opts.Jobs == nil {
		opts.Jobs = store.NewMemoryJobStore()
	}

	s := &Server{
		logger:                logger,
		pipeline:              opts.Pipeline,
		sources:               opts.Sources,
		queueClient:           opts.Queue,
		jobStore:              opts.Jobs,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		requestTimeout:        opts.RequestTimeout,
		metrics:               newMetrics(),
		tracer:                opts.Tracer,
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

// RegisterCollectors exposes additional collectors, such as the pipeline's,
// on /metrics.
func (s *Server) RegisterCollectors(cs ...prometheus.Collector) {
	s.metrics.registry.MustRegister(cs...)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/transforms", s.handleTransform)
	s.mux.HandleFunc("GET /v1/transforms/{volume}/{path...}", s.handleTransformRedirect)
	s.mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /v1/generate/{id}", s.handleGetJob)
	s.mux.HandleFunc("DELETE /v1/cache", s.handlePurge)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type transformRequest struct {
	Volume string         `json:"volume"`
	Path   string         `json:"path"`
	Preset string         `json:"preset,omitempty"`
	Size   string         `json:"size,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	// Include asks for derived data: "palette", "blurhash" or "base64".
	Include []string `json:"include,omitempty"`
}

func (r transformRequest) input() (transform.Input, error) {
	switch {
	case strings.TrimSpace(r.Preset) != "":
		return transform.Preset(r.Preset, r.Params), nil
	case strings.TrimSpace(r.Size) != "":
		if len(r.Params) > 0 {
			return transform.Input{}, errors.New("size and params are mutually exclusive")
		}
		return transform.Shorthand(r.Size), nil
	case len(r.Params) > 0:
		return transform.Params(r.Params), nil
	default:
		return transform.Input{}, errors.New("one of preset, size or params is required")
	}
}

func (r transformRequest) includes() ([]string, error) {
	out := make([]string, 0, len(r.Include))
	for _, include := range r.Include {
		name := strings.ToLower(strings.TrimSpace(include))
		switch name {
		case "palette", "blurhash", "base64":
			out = append(out, name)
		default:
			return nil, fmt.Errorf("unknown include %q", include)
		}
	}
	return out, nil
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	includes, err := req.includes()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	img, err := s.transform(ctx, req.Volume, req.Path, in)
	if err != nil {
		s.writeTransformError(w, req.Volume, req.Path, err)
		return
	}

	resp := map[string]any{"image": img}
	for _, include := range includes {
		switch include {
		case "palette":
			if palette, err := s.pipeline.Palette(ctx, img, backend.PaletteOptions{Format: "json"}); err != nil {
				s.logger.Printf("palette skipped path=%s err=%v", req.Path, err)
			} else {
				resp["palette"] = json.RawMessage(palette)
			}
		case "blurhash":
			if hash, err := s.pipeline.Blurhash(ctx, img); err != nil {
				s.logger.Printf("blurhash skipped path=%s err=%v", req.Path, err)
			} else {
				resp["blurhash"] = hash
			}
		case "base64":
			if uri, err := img.DataURI(); err != nil {
				s.logger.Printf("data uri skipped path=%s err=%v", req.Path, err)
			} else if uri != "" {
				resp["data_uri"] = uri
			}
		}
	}

	status := http.StatusOK
	if img.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// handleTransformRedirect serves GET /v1/transforms/{volume}/{path}?w=..
// by redirecting to the transformed image URL.
func (s *Server) handleTransformRedirect(w http.ResponseWriter, r *http.Request) {
	volume := r.PathValue("volume")
	path := r.PathValue("path")

	query := r.URL.Query()
	params := make(map[string]any, len(query))
	for k, v := range query {
		if k == "preset" || k == "size" || len(v) == 0 {
			continue
		}
		params[k] = v[0]
	}
	req := transformRequest{Volume: volume, Path: path, Preset: query.Get("preset"), Size: query.Get("size"), Params: params}
	in, err := req.input()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	img, err := s.transform(ctx, volume, path, in)
	if err != nil {
		s.writeTransformError(w, volume, path, err)
		return
	}
	http.Redirect(w, r, img.URL, http.StatusFound)
}

func (s *Server) transform(ctx context.Context, volume, path string, in transform.Input) (domain.TransformedImage, error) {
	if strings.TrimSpace(volume) == "" || strings.TrimSpace(path) == "" {
		return domain.TransformedImage{}, domain.Errorf(domain.KindValidation, "request", "volume and path are required")
	}
	src, err := s.sources.Resolve(ctx, volume, path)
	if err != nil {
		return domain.TransformedImage{}, err
	}
	img, err := s.pipeline.Transform(ctx, src, in)
	if err != nil {
		return domain.TransformedImage{}, err
	}
	s.metrics.observeTransform(img)
	return img, nil
}

func (s *Server) writeTransformError(w http.ResponseWriter, volume, path string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("transform failed volume=%s path=%s err=%v", volume, path, err)
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("generate queue is not configured"))
		return
	}

	var req domain.GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now().UTC()
	job := domain.GenerateJob{
		ID:         id.New(),
		Status:     domain.JobStatusCreated,
		Volume:     req.Volume,
		Paths:      req.Paths,
		Transforms: req.Transforms,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to create job"))
		return
	}

	taskInfo, err := s.queueClient.EnqueueGenerate(r.Context(), queue.GeneratePayload{
		JobID:       job.ID,
		Volume:      job.Volume,
		Paths:       job.Paths,
		Transforms:  job.Transforms,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusFailed); err != nil {
			s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
		}
		writeError(w, http.StatusInternalServerError, errors.New("failed to enqueue job"))
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(s.queueClient.Queue()).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/generate/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeError(w, http.StatusInternalServerError, errors.New("failed to load job"))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("job not found"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"volume":     job.Volume,
		"paths":      job.Paths,
		"transforms": job.Transforms,
		"generated":  job.Generated,
		"failed":     job.Failed,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
}

// handlePurge drops cached transforms for one image (?volume=&path=) or,
// with ?all=true, the whole local cache.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	all, _ := strconv.ParseBool(query.Get("all"))

	var (
		removed int
		err     error
	)
	switch {
	case all:
		removed, err = s.pipeline.PurgeAll(r.Context())
	case query.Get("volume") != "" && query.Get("path") != "":
		var src domain.Source
		src, err = s.sources.Resolve(r.Context(), query.Get("volume"), query.Get("path"))
		if err == nil {
			removed, err = s.pipeline.Purge(r.Context(), src)
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("volume and path, or all=true, are required"))
		return
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Printf("purge failed err=%v", err)
		}
		writeError(w, status, err)
		return
	}

	s.metrics.purgedArtifacts.Add(float64(removed))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
