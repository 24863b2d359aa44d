package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dunamismax/pixelforge/internal/backend"
	"github.com/dunamismax/pixelforge/internal/cache"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/optimizer"
	"github.com/dunamismax/pixelforge/internal/registry"
	"github.com/dunamismax/pixelforge/internal/storage"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

type Options struct {
	Logger     *log.Logger
	Registry   *registry.Registry
	Normalizer *transform.Normalizer
	Cache      *cache.Engine
	Optimizers *optimizer.Chain
	// Revision is mixed into every cache key; bump it to invalidate all
	// artifacts at once.
	Revision string
	PurgeCDN bool
}

// Orchestrator runs transform requests end to end: normalize, cache lookup,
// generate, optimize, publish and commit.
type Orchestrator struct {
	logger     *log.Logger
	registry   *registry.Registry
	normalizer *transform.Normalizer
	cache      *cache.Engine
	optimizers *optimizer.Chain
	revision   string
	purgeCDN   bool

	hooksMu sync.RWMutex
	hooks   []any

	flights singleflight.Group
	metrics *metrics
	tracer  trace.Tracer
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache engine is required")
	}
	if opts.Normalizer == nil {
		opts.Normalizer = transform.NewNormalizer(opts.Registry, opts.Registry, transform.DefaultDefaults())
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[pipeline] ", log.LstdFlags|log.Lmsgprefix)
	}

	return &Orchestrator{
		logger:     opts.Logger,
		registry:   opts.Registry,
		normalizer: opts.Normalizer,
		cache:      opts.Cache,
		optimizers: opts.Optimizers,
		revision:   opts.Revision,
		purgeCDN:   opts.PurgeCDN,
		metrics:    newMetrics(),
		tracer:     otel.Tracer("pixelforge/pipeline"),
	}, nil
}

// Collectors exposes the pipeline metrics for registration by the process
// that owns the prometheus registry.
func (o *Orchestrator) Collectors() []prometheus.Collector {
	return o.metrics.collectors()
}

type formatResolver interface {
	ResolveFormat(d transform.Descriptor, format transform.Format) transform.Format
}

type plan struct {
	src      domain.Source
	desc     transform.Descriptor
	backend  backend.Transformer
	format   transform.Format
	key      string
	revision string
	resolved bool
}

func (p plan) event() Event {
	ev := Event{Source: p.src, Descriptor: p.desc}
	if p.backend != nil {
		ev.Backend = p.backend.Handle()
	}
	return ev
}

func (o *Orchestrator) Transform(ctx context.Context, src domain.Source, in transform.Input) (domain.TransformedImage, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.transform")
	span.SetAttributes(attribute.String("source.id", src.Identity()))
	defer span.End()

	p := plan{src: src}
	img, outcome, err := o.run(ctx, &p, in)

	handle := p.event().Backend
	o.metrics.requestsTotal.WithLabelValues(handle, outcome).Inc()
	span.SetAttributes(attribute.String("transform.backend", handle), attribute.String("transform.outcome", outcome))

	if err != nil {
		err = classify(err, p, in)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		o.transformFailed(ctx, p.event(), err)
		return domain.TransformedImage{}, err
	}

	ev := p.event()
	ev.Image = img
	ev.Path = img.Path
	o.afterTransform(ctx, ev)
	span.SetStatus(codes.Ok, outcome)
	return img, nil
}

func classify(err error, p plan, in transform.Input) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if _, ok := domain.KindOf(err); !ok {
			return err
		}
	}
	summary := in.String()
	if p.resolved {
		summary = p.desc.Summary()
	}
	classified := domain.Wrap(domain.KindTransform, "transform", err).
		WithSource(p.src.Identity()).
		WithDescriptor(summary)
	if p.backend != nil {
		classified = classified.WithHandle(p.backend.Handle())
	}
	return classified
}

func (o *Orchestrator) run(ctx context.Context, p *plan, in transform.Input) (domain.TransformedImage, string, error) {
	d, err := o.normalizer.Normalize(in)
	if err != nil {
		return domain.TransformedImage{}, "failed", err
	}
	p.desc = d
	p.resolved = true

	t, err := o.registry.TransformerFor(p.src)
	if err != nil {
		return domain.TransformedImage{}, "failed", err
	}
	p.backend = t

	p.format = transform.OutputFormat(d, p.src.Extension())
	if fr, ok := t.(formatResolver); ok {
		p.format = fr.ResolveFormat(d, p.format)
	}

	if t.Delegated() {
		img, err := o.delegate(ctx, *p)
		if err != nil {
			return domain.TransformedImage{}, "failed", err
		}
		return img, "delegated", nil
	}

	p.revision = o.revision + "/" + t.Revision()
	p.key = cache.Key(p.src.Identity(), d, p.revision)

	if entry, ok, err := o.cache.Lookup(ctx, p.key, p.src, p.revision); err != nil {
		return domain.TransformedImage{}, "failed", err
	} else if ok {
		return entry.Image(false), "hit", nil
	}

	img, err := o.generateOnce(ctx, *p)
	if err != nil {
		return domain.TransformedImage{}, "failed", err
	}
	if !img.IsNew {
		return img, "hit", nil
	}
	return img, "generated", nil
}

// generateOnce joins or starts the single generation for p.key. A follower
// whose leader was cancelled retries once with its own context.
func (o *Orchestrator) generateOnce(ctx context.Context, p plan) (domain.TransformedImage, error) {
	for attempt := 0; ; attempt++ {
		v, err, shared := o.flights.Do(p.key, func() (any, error) {
			return o.generate(ctx, p)
		})
		if err == nil {
			return v.(domain.TransformedImage), nil
		}
		leaderCancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		if shared && leaderCancelled && ctx.Err() == nil && attempt == 0 {
			continue
		}
		return domain.TransformedImage{}, err
	}
}

func (o *Orchestrator) generate(ctx context.Context, p plan) (img domain.TransformedImage, err error) {
	if entry, ok, err := o.cache.Lookup(ctx, p.key, p.src, p.revision); err != nil {
		return domain.TransformedImage{}, err
	} else if ok {
		return entry.Image(false), nil
	}

	o.metrics.inflight.Inc()
	defer o.metrics.inflight.Dec()

	if err := ctx.Err(); err != nil {
		return domain.TransformedImage{}, err
	}

	staged, err := o.cache.Stage(p.src.Identity(), p.key, p.format)
	if err != nil {
		return domain.TransformedImage{}, err
	}
	defer func() {
		if err != nil {
			o.cache.Discard(staged)
		}
	}()

	started := time.Now()
	res, err := p.backend.Transform(ctx, backend.Request{
		Source:     p.src,
		Descriptor: p.desc,
		Format:     p.format,
		Output:     staged.Temp,
	})
	o.observe("generate", started)
	if err != nil {
		return domain.TransformedImage{}, err
	}

	if err := ctx.Err(); err != nil {
		return domain.TransformedImage{}, err
	}
	if o.optimizers.Len() > 0 {
		started = time.Now()
		failed, err := o.optimizers.Run(ctx, staged.Temp, string(p.format))
		o.observe("optimize", started)
		o.metrics.optimizerFailures.Add(float64(failed))
		if err != nil {
			return domain.TransformedImage{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return domain.TransformedImage{}, err
	}

	ev := p.event()
	ev.Path = staged.Temp
	if err := o.beforePublish(ctx, ev); err != nil {
		return domain.TransformedImage{}, err
	}

	if err := ctx.Err(); err != nil {
		return domain.TransformedImage{}, err
	}
	publishedURL := o.publish(ctx, staged, res.MimeType)

	if err := ctx.Err(); err != nil {
		return domain.TransformedImage{}, err
	}
	info, err := os.Stat(staged.Temp)
	if err != nil {
		return domain.TransformedImage{}, fmt.Errorf("stat staged artifact: %w", err)
	}

	entry, err := o.cache.Commit(ctx, staged, domain.CacheEntry{
		Key:      p.key,
		SourceID: p.src.Identity(),
		Revision: p.revision,
		Backend:  p.backend.Handle(),
		URL:      publishedURL,
		Width:    res.Width,
		Height:   res.Height,
		Size:     info.Size(),
		MimeType: res.MimeType,
		Format:   string(res.Format),
	}, p.src)
	if err != nil {
		return domain.TransformedImage{}, err
	}

	o.logger.Printf("transform generated source=%s backend=%s key=%s size=%dx%d bytes=%d",
		p.src.Identity(), p.backend.Handle(), p.key, entry.Width, entry.Height, entry.Size)
	return entry.Image(true), nil
}

// publish copies the staged artifact to every configured storage and returns
// the first public URL. Failures degrade to the local artifact URL.
func (o *Orchestrator) publish(ctx context.Context, staged cache.Staged, mimeType string) string {
	storages := o.registry.Storages()
	if len(storages) == 0 {
		return ""
	}

	started := time.Now()
	defer o.observe("publish", started)

	key := o.cache.ObjectKey(staged.Final)
	var published string
	for _, s := range storages {
		url, err := s.Publish(ctx, staged.Temp, key, mimeType)
		if err != nil {
			o.metrics.storageDegraded.WithLabelValues(s.Handle()).Inc()
			o.logger.Printf("storage degraded storage=%s key=%s err=%v", s.Handle(), key, err)
			continue
		}
		if published == "" {
			published = url
		}
	}
	return published
}

func (o *Orchestrator) delegate(ctx context.Context, p plan) (domain.TransformedImage, error) {
	started := time.Now()
	res, err := p.backend.Transform(ctx, backend.Request{Source: p.src, Descriptor: p.desc, Format: p.format})
	o.observe("delegate", started)
	if err != nil {
		return domain.TransformedImage{}, err
	}
	return domain.TransformedImage{
		URL:      res.URL,
		Width:    res.Width,
		Height:   res.Height,
		MimeType: res.MimeType,
		Format:   string(res.Format),
		IsNew:    false,
		Backend:  p.backend.Handle(),
		Origin:   res.Origin,
		Params:   res.Params,
	}, nil
}

func (o *Orchestrator) observe(stage string, started time.Time) {
	o.metrics.stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// TransformURL is the hook point for host platforms that want to replace
// their native thumbnail URL. Any failure returns ok=false so the platform
// default is used.
func (o *Orchestrator) TransformURL(ctx context.Context, src domain.Source, in transform.Input) (string, bool) {
	img, err := o.Transform(ctx, src, in)
	if err != nil {
		o.logger.Printf("native override skipped source=%s err=%v", src.Identity(), err)
		return "", false
	}
	return img.URL, true
}

// Purge drops every cached artifact of src, including published copies and,
// when enabled, renditions held by delegated services.
func (o *Orchestrator) Purge(ctx context.Context, src domain.Source) (int, error) {
	removed, err := o.cache.PurgeSource(ctx, src.Identity())
	if err != nil {
		return 0, err
	}

	for _, s := range o.registry.Storages() {
		if r, ok := s.(storage.Remover); ok {
			if _, err := r.RemovePrefix(ctx, cache.SourcePrefix(src.Identity())); err != nil {
				o.logger.Printf("storage purge failed storage=%s source=%s err=%v", s.Handle(), src.Identity(), err)
			}
		}
	}

	if o.purgeCDN {
		for _, t := range o.registry.Transformers() {
			if p, ok := t.(backend.Purger); ok {
				if err := p.Purge(ctx, src); err != nil {
					o.logger.Printf("cdn purge failed backend=%s source=%s err=%v", t.Handle(), src.Identity(), err)
				}
			}
		}
	}

	o.logger.Printf("cache purged source=%s entries=%d", src.Identity(), removed)
	return removed, nil
}

// PurgeAll clears the local artifact cache. Published copies are left in
// place.
func (o *Orchestrator) PurgeAll(ctx context.Context) (int, error) {
	removed, err := o.cache.PurgeAll(ctx)
	if err != nil {
		return 0, err
	}
	o.logger.Printf("cache purged entries=%d", removed)
	return removed, nil
}

func (o *Orchestrator) derivatives(img domain.TransformedImage) (backend.DerivativeProvider, error) {
	t, ok := o.registry.Transformer(img.Backend)
	if !ok {
		return nil, domain.Errorf(domain.KindTransform, "derivative", "unknown backend %q", img.Backend)
	}
	dp, ok := t.(backend.DerivativeProvider)
	if !ok {
		return nil, domain.Errorf(domain.KindTransform, "derivative", "backend %q does not provide palettes or blurhashes", img.Backend)
	}
	return dp, nil
}

func (o *Orchestrator) Palette(ctx context.Context, img domain.TransformedImage, opts backend.PaletteOptions) ([]byte, error) {
	dp, err := o.derivatives(img)
	if err != nil {
		return nil, err
	}
	return dp.Palette(ctx, img, opts)
}

func (o *Orchestrator) Blurhash(ctx context.Context, img domain.TransformedImage) (string, error) {
	dp, err := o.derivatives(img)
	if err != nil {
		return "", err
	}
	return dp.Blurhash(ctx, img)
}
