package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelforge/internal/storage"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Cache     CacheConfig
	Transform TransformConfig
	CDN       CDNConfig
	Storage   StorageConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Catalog   Catalog
}

type APIConfig struct {
	Addr           string
	RequestTimeout time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type CacheConfig struct {
	Dir       string
	PublicURL string
	// Revision is bumped by operators to invalidate every artifact.
	Revision string
	// DatabaseDSN selects the postgres entry index; empty keeps entries in
	// memory.
	DatabaseDSN string
	// RuntimeDir holds local copies of remote object sources.
	RuntimeDir string
	// ResponseBackend is "lru" or "redis"; it caches CDN palette and
	// blurhash responses.
	ResponseBackend   string
	ResponseCacheSize int
	ResponseTTL       time.Duration
}

type TransformConfig struct {
	Backend   string
	Tier      string
	Fit       string
	Format    string
	Interlace bool
}

type CDNConfig struct {
	Domain         string
	SignKey        string
	Insecure       bool
	PurgeKey       string
	PurgeEndpoint  string
	PurgeOnReplace bool
}

func (c CDNConfig) Enabled() bool {
	return strings.TrimSpace(c.Domain) != ""
}

type StorageConfig struct {
	Handle       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	Region       string
	UseSSL       bool
	Prefix       string
	PublicURL    string
	CacheControl string
}

func (s StorageConfig) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

func (s StorageConfig) Client() storage.Config {
	return storage.Config{
		Endpoint: s.Endpoint,
		Access:   s.AccessKey,
		Secret:   s.SecretKey,
		Bucket:   s.Bucket,
		Region:   s.Region,
		UseSSL:   s.UseSSL,
	}
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type RateLimitConfig struct {
	Enabled      bool
	Requests     int
	Window       time.Duration
	UserIDHeader string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load reads an optional .env file, the process environment and the catalog
// file named by PIXELFORGE_CATALOG_FILE.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	cfg := Config{
		API: APIConfig{
			Addr:           env("PIXELFORGE_API_ADDR", ":8080"),
			RequestTimeout: envDuration("PIXELFORGE_API_REQUEST_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Cache: CacheConfig{
			Dir:               env("PIXELFORGE_CACHE_DIR", "./.pixelforge/transforms"),
			PublicURL:         env("PIXELFORGE_CACHE_PUBLIC_URL", "/transforms"),
			Revision:          env("PIXELFORGE_CACHE_REVISION", "1"),
			DatabaseDSN:       env("POSTGRES_DSN", ""),
			RuntimeDir:        env("PIXELFORGE_RUNTIME_DIR", "./.pixelforge/runtime"),
			ResponseBackend:   env("PIXELFORGE_RESPONSE_CACHE", "lru"),
			ResponseCacheSize: envInt("PIXELFORGE_RESPONSE_CACHE_SIZE", 1024),
			ResponseTTL:       envDuration("PIXELFORGE_RESPONSE_CACHE_TTL", 24*time.Hour),
		},
		Transform: TransformConfig{
			Backend:   env("PIXELFORGE_BACKEND", "local"),
			Tier:      env("PIXELFORGE_EFFECT_TIER", "advanced"),
			Fit:       env("PIXELFORGE_DEFAULT_FIT", "crop"),
			Format:    env("PIXELFORGE_DEFAULT_FORMAT", ""),
			Interlace: envBool("PIXELFORGE_DEFAULT_INTERLACE", false),
		},
		CDN: CDNConfig{
			Domain:         env("IMGIX_DOMAIN", ""),
			SignKey:        env("IMGIX_SIGN_KEY", ""),
			Insecure:       envBool("IMGIX_INSECURE", false),
			PurgeKey:       env("IMGIX_API_KEY", ""),
			PurgeEndpoint:  env("IMGIX_PURGE_ENDPOINT", ""),
			PurgeOnReplace: envBool("IMGIX_PURGE_ON_REPLACE", false),
		},
		Storage: StorageConfig{
			Handle:       env("STORAGE_HANDLE", "s3"),
			Endpoint:     env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:    env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:    env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:       env("MINIO_BUCKET", ""),
			Region:       env("MINIO_REGION", ""),
			UseSSL:       envBool("MINIO_USE_SSL", false),
			Prefix:       env("STORAGE_PREFIX", "transforms"),
			PublicURL:    env("STORAGE_PUBLIC_URL", ""),
			CacheControl: env("STORAGE_CACHE_CONTROL", ""),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", false),
			Requests:     envInt("RATE_LIMIT_REQUESTS", 120),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 4),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 30*time.Second),
		},
	}

	catalog, err := LoadCatalog(env("PIXELFORGE_CATALOG_FILE", ""))
	if err != nil {
		return Config{}, err
	}
	if len(catalog.Volumes) == 0 {
		catalog.Volumes = defaultVolumes(env("PIXELFORGE_IMAGES_DIR", "./images"))
	}
	cfg.Catalog = catalog
	return cfg, nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
