// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the API
// server, the dispatch worker, the job queue, credential encryption and
// observability. The serve and worker commands read the same Config.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/bot-dispatch/internal/credential"
	"github.com/tbourn/bot-dispatch/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "bot-dispatch")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// QueueConfig describes the job queue and the retry policy attached to new
// jobs.
type QueueConfig struct {
	RedisURL        string        // REDIS_URL; empty selects the in-memory queue
	Name            string        // QUEUE_NAME
	MaxAttempts     int           // JOB_MAX_ATTEMPTS
	BackoffInitial  time.Duration // JOB_BACKOFF_INITIAL
	BackoffMax      time.Duration // JOB_BACKOFF_MAX (0 = uncapped)
	EvictChannel    string        // EVICT_CHANNEL (Redis pub/sub)
	IdempotencyTTL  time.Duration // IDEMPOTENCY_TTL
	MaxContentRunes int           // MAX_CONTENT_RUNES
	MaxBotNameRunes int           // MAX_BOT_NAME_RUNES
}

// WorkerConfig tunes the consumer pool.
type WorkerConfig struct {
	Concurrency       int           // WORKER_CONCURRENCY
	PollInterval      time.Duration // WORKER_POLL_INTERVAL
	VisibilityTimeout time.Duration // JOB_VISIBILITY_TIMEOUT
	JobTimeout        time.Duration // JOB_TIMEOUT
	LoginTimeout      time.Duration // LOGIN_TIMEOUT
}

// SweepConfig tunes the orphan sweeper.
type SweepConfig struct {
	Enabled   bool          // SWEEP_ENABLED
	Interval  time.Duration // SWEEP_INTERVAL
	Threshold time.Duration // SWEEP_THRESHOLD
	BatchSize int           // SWEEP_BATCH_SIZE
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	ShutdownTimeout   time.Duration // SHUTDOWN_TIMEOUT

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath        string // SQLite path
	EncryptionKey string // ENCRYPTION_KEY, raw 32 bytes or "base64:..."

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Pipeline
	Queue  QueueConfig
	Worker WorkerConfig
	Sweep  SweepConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:        getenv("DB_PATH", "botdispatch.db"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Queue: QueueConfig{
			RedisURL:        getenv("REDIS_URL", ""),
			Name:            getenv("QUEUE_NAME", "send-message"),
			MaxAttempts:     getint("JOB_MAX_ATTEMPTS", 5),
			BackoffInitial:  getdur("JOB_BACKOFF_INITIAL", time.Second),
			BackoffMax:      getdur("JOB_BACKOFF_MAX", 0),
			EvictChannel:    getenv("EVICT_CHANNEL", "botdispatch:bot-evict"),
			IdempotencyTTL:  getdur("IDEMPOTENCY_TTL", 24*time.Hour),
			MaxContentRunes: getint("MAX_CONTENT_RUNES", 2000),
			MaxBotNameRunes: getint("MAX_BOT_NAME_RUNES", 100),
		},
		Worker: WorkerConfig{
			Concurrency:       getint("WORKER_CONCURRENCY", 4),
			PollInterval:      getdur("WORKER_POLL_INTERVAL", time.Second),
			VisibilityTimeout: getdur("JOB_VISIBILITY_TIMEOUT", 5*time.Minute),
			JobTimeout:        getdur("JOB_TIMEOUT", 2*time.Minute),
			LoginTimeout:      getdur("LOGIN_TIMEOUT", 30*time.Second),
		},
		Sweep: SweepConfig{
			Enabled:   getbool("SWEEP_ENABLED", true),
			Interval:  getdur("SWEEP_INTERVAL", time.Minute),
			Threshold: getdur("SWEEP_THRESHOLD", 5*time.Minute),
			BatchSize: getint("SWEEP_BATCH_SIZE", 100),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "bot-dispatch"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if strings.TrimSpace(cfg.Queue.Name) == "" {
		return cfg, errors.New("QUEUE_NAME must not be empty")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return cfg, errors.New("JOB_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.BackoffInitial <= 0 || cfg.Queue.BackoffMax < 0 {
		return cfg, errors.New("JOB_BACKOFF_INITIAL must be > 0 and JOB_BACKOFF_MAX >= 0")
	}
	if cfg.Queue.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Queue.MaxContentRunes < 0 || cfg.Queue.MaxBotNameRunes < 0 {
		return cfg, errors.New("MAX_CONTENT_RUNES and MAX_BOT_NAME_RUNES must be >= 0")
	}
	if cfg.Worker.Concurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Worker.PollInterval <= 0 || cfg.Worker.LoginTimeout <= 0 {
		return cfg, errors.New("WORKER_POLL_INTERVAL and LOGIN_TIMEOUT must be > 0")
	}
	if cfg.Worker.VisibilityTimeout < 0 || cfg.Worker.JobTimeout < 0 {
		return cfg, errors.New("JOB_VISIBILITY_TIMEOUT and JOB_TIMEOUT must be >= 0")
	}
	if cfg.Worker.VisibilityTimeout > 0 && cfg.Worker.JobTimeout > 0 && cfg.Worker.JobTimeout >= cfg.Worker.VisibilityTimeout {
		return cfg, errors.New("JOB_TIMEOUT must be shorter than JOB_VISIBILITY_TIMEOUT")
	}
	if cfg.Sweep.Enabled && (cfg.Sweep.Interval <= 0 || cfg.Sweep.Threshold <= 0 || cfg.Sweep.BatchSize < 1) {
		return cfg, errors.New("SWEEP_INTERVAL, SWEEP_THRESHOLD must be > 0 and SWEEP_BATCH_SIZE >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// RequireEncryptionKey validates ENCRYPTION_KEY. Commands that seal or open
// bot tokens call it at startup so a bad key fails fast with an operator-facing
// message instead of on the first job.
func (c Config) RequireEncryptionKey() error {
	if _, err := credential.ParseKey(c.EncryptionKey); err != nil {
		if errors.Is(err, credential.ErrMissingKey) {
			return errors.New("ENCRYPTION_KEY is not set; generate one with `botdispatch keygen`")
		}
		return errors.New("ENCRYPTION_KEY must be 32 bytes, or \"base64:\" followed by 32 base64-encoded bytes")
	}
	return nil
}

// ---- env helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if b, ok := sysutil.ParseBool(os.Getenv(k)); ok {
		return b
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
