// Package bootstrap wires the transform pipeline from configuration. Every
// process (api, worker, cli) builds the same App so they share cache keys
// and backends.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dunamismax/pixelforge/internal/backend"
	"github.com/dunamismax/pixelforge/internal/cache"
	"github.com/dunamismax/pixelforge/internal/config"
	"github.com/dunamismax/pixelforge/internal/effects"
	"github.com/dunamismax/pixelforge/internal/optimizer"
	"github.com/dunamismax/pixelforge/internal/pipeline"
	"github.com/dunamismax/pixelforge/internal/registry"
	"github.com/dunamismax/pixelforge/internal/source"
	"github.com/dunamismax/pixelforge/internal/storage"
	"github.com/dunamismax/pixelforge/internal/store"
	"github.com/dunamismax/pixelforge/internal/transform"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Registry *registry.Registry
	Pipeline *pipeline.Orchestrator
	Sources  *source.Resolver
	Jobs     store.JobStore

	db      *sql.DB
	redis   *redis.Client
	objects *storage.Client
}

func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	tier, err := effects.ParseTier(cfg.Transform.Tier)
	if err != nil {
		return nil, err
	}
	fx := effects.Default()
	reg := registry.New(fx)
	app.Registry = reg

	reg.RegisterTransformer(backend.NewLocal("local", fx, tier))
	if cfg.CDN.Enabled() {
		responses, err := app.responseCache(cfg)
		if err != nil {
			return nil, err
		}
		cdn, err := backend.NewCDN(backend.CDNConfig{
			Handle:        "imgix",
			Domain:        cfg.CDN.Domain,
			SignKey:       cfg.CDN.SignKey,
			Insecure:      cfg.CDN.Insecure,
			PurgeKey:      cfg.CDN.PurgeKey,
			PurgeEndpoint: cfg.CDN.PurgeEndpoint,
			ResponseTTL:   cfg.Cache.ResponseTTL,
		}, &http.Client{Timeout: 15 * time.Second}, responses)
		if err != nil {
			return nil, err
		}
		reg.RegisterTransformer(cdn)
	}
	if err := reg.SetDefaultTransformer(cfg.Transform.Backend); err != nil {
		return nil, err
	}
	for volume, handle := range cfg.Catalog.Backends {
		if _, found := reg.Transformer(handle); !found {
			return nil, fmt.Errorf("volume %q maps to unknown backend %q", volume, handle)
		}
		reg.MapVolume(volume, handle)
	}

	for handle, params := range cfg.Catalog.Presets {
		reg.RegisterPreset(handle, params)
	}
	for volume, presets := range cfg.Catalog.Generate {
		reg.SetGenerate(volume, presets)
	}

	chain, err := buildOptimizers(reg, cfg.Catalog, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Enabled() {
		client, err := storage.NewClient(cfg.Storage.Client())
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		app.objects = client
		reg.RegisterStorage(storage.NewS3Publisher(client, storage.S3Options{
			Handle:       cfg.Storage.Handle,
			Prefix:       cfg.Storage.Prefix,
			PublicURL:    cfg.Storage.PublicURL,
			CacheControl: cfg.Storage.CacheControl,
		}))
	}

	entries, err := app.stores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	defaults, err := descriptorDefaults(cfg.Transform)
	if err != nil {
		return nil, err
	}

	orchestrator, err := pipeline.New(pipeline.Options{
		Logger:     logger,
		Registry:   reg,
		Normalizer: transform.NewNormalizer(reg, reg, defaults),
		Cache:      cache.NewEngine(cfg.Cache.Dir, cfg.Cache.PublicURL, entries),
		Optimizers: chain,
		Revision:   cfg.Cache.Revision,
		PurgeCDN:   cfg.CDN.PurgeOnReplace,
	})
	if err != nil {
		return nil, err
	}
	app.Pipeline = orchestrator

	runtimeDir, err := filepath.Abs(cfg.Cache.RuntimeDir)
	if err != nil {
		return nil, fmt.Errorf("resolve runtime dir: %w", err)
	}
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	if app.objects != nil {
		app.Sources = source.NewResolver(cfg.Catalog.Volumes, app.objects, runtimeDir)
	} else {
		app.Sources = source.NewResolver(cfg.Catalog.Volumes, nil, runtimeDir)
	}

	ok = true
	return app, nil
}

func (a *App) responseCache(cfg config.Config) (cache.ResponseCache, error) {
	if cfg.Cache.ResponseBackend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		return cache.NewRedisResponseCache(a.redis, ""), nil
	}
	return cache.NewLRUResponseCache(cfg.Cache.ResponseCacheSize)
}

func (a *App) stores(ctx context.Context, cfg config.Config) (store.EntryStore, error) {
	if cfg.Cache.DatabaseDSN == "" {
		a.Jobs = store.NewMemoryJobStore()
		return store.NewMemoryEntryStore(), nil
	}

	db, err := store.OpenPostgres(ctx, cfg.Cache.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	a.db = db

	entries, err := store.NewPostgresEntryStore(ctx, db)
	if err != nil {
		return nil, err
	}
	jobs, err := store.NewPostgresJobStore(ctx, db)
	if err != nil {
		return nil, err
	}
	a.Jobs = jobs
	return entries, nil
}

// buildOptimizers registers the built-in optimizers, applies catalog
// overrides and returns the configured chain.
func buildOptimizers(reg *registry.Registry, c config.Catalog, logger *log.Logger) (*optimizer.Chain, error) {
	builtins := optimizer.Builtins()
	for handle, b := range builtins {
		reg.RegisterOptimizer(handle, b.Optimizer, b.Settings)
	}
	for handle, s := range c.Optimizers {
		b, found := builtins[handle]
		if !found {
			reg.RegisterOptimizer(handle, optimizer.InPlace{}, s)
			continue
		}
		merged := b.Settings
		if s.Path != "" {
			merged.Path = s.Path
		}
		if s.Options != nil {
			merged.Options = s.Options
		}
		if s.Formats != nil {
			merged.Formats = s.Formats
		}
		reg.RegisterOptimizer(handle, b.Optimizer, merged)
	}

	steps, err := reg.OptimizerSteps(c.Chain)
	if err != nil {
		return nil, err
	}
	return optimizer.NewChain(logger, c.Strict, steps...), nil
}

func descriptorDefaults(cfg config.TransformConfig) (transform.Defaults, error) {
	d := transform.DefaultDefaults()
	d.Interlace = cfg.Interlace
	if cfg.Fit != "" {
		fit, err := transform.ParseFitMode(cfg.Fit)
		if err != nil {
			return transform.Defaults{}, fmt.Errorf("default fit: %w", err)
		}
		d.Fit = fit
	}
	if cfg.Format != "" {
		format, err := transform.ParseFormat(cfg.Format)
		if err != nil {
			return transform.Defaults{}, fmt.Errorf("default format: %w", err)
		}
		d.Format = format
	}
	return d, nil
}

func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
