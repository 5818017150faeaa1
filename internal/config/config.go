// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector backends.
const (
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
)

type Config struct {
	Store     StoreConfig
	Vector    VectorConfig
	OpenAI    OpenAIConfig
	GitHub    GitHubConfig
	Search    SearchConfig
	Auth      AuthConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
	Log       LogConfig
}

type StoreConfig struct {
	Path string // SQLite file
}

type VectorConfig struct {
	Backend     string // sqlite, qdrant or pgvector
	QdrantHost  string
	QdrantPort  int
	Collection  string
	PostgresURL string
	Dimension   int
}

type OpenAIConfig struct {
	APIKey         string
	EmbeddingModel string
	BatchSize      int
	Timeout        time.Duration
	QueryCacheSize int
	Enrich         bool // Generate summaries/entities per document
}

type GitHubConfig struct {
	Token string
}

type SearchConfig struct {
	DefaultAlpha         float64
	DefaultMinSimilarity float64
	MaxLimit             int
	CandidateFactor      int
}

type AuthConfig struct {
	Enabled          bool
	BcryptCost       int
	DefaultRateLimit int // Requests per hour for new keys
	LimiterCacheSize int
	TouchTimeout     time.Duration
}

type SyncConfig struct {
	PathPattern string
	Timeout     time.Duration
	StaleAfter  time.Duration
}

type SchedulerConfig struct {
	Enabled bool
	Spec    string
}

type ServerConfig struct {
	Port           string
	ServerMode     bool // HTTP when true, stdio otherwise
	RequestTimeout time.Duration
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Store: StoreConfig{
			Path: getEnv("DOCSEARCH_DB", "data/docsearch.db"),
		},
		Vector: VectorConfig{
			Backend:     strings.ToLower(getEnv("VECTOR_BACKEND", BackendSQLite)),
			QdrantHost:  getEnv("QDRANT_HOST", "localhost"),
			QdrantPort:  getEnvInt("QDRANT_PORT", 6334),
			Collection:  getEnv("QDRANT_COLLECTION", "documents"),
			PostgresURL: getEnv("DATABASE_URL", ""),
			Dimension:   getEnvInt("EMBED_DIM", 1536),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel: getEnv("EMBED_MODEL", "text-embedding-3-small"),
			BatchSize:      getEnvInt("EMBED_BATCH_SIZE", 100),
			Timeout:        getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
			QueryCacheSize: getEnvInt("EMBED_CACHE_SIZE", 1024),
			Enrich:         getEnvBool("METADATA_ENRICH", false),
		},
		GitHub: GitHubConfig{
			Token: getEnv("GITHUB_TOKEN", ""),
		},
		Search: SearchConfig{
			DefaultAlpha:         getEnvFloat("SEARCH_ALPHA", 0.3),
			DefaultMinSimilarity: getEnvFloat("SEARCH_MIN_SIMILARITY", 0.0),
			MaxLimit:             getEnvInt("SEARCH_MAX_LIMIT", 50),
			CandidateFactor:      getEnvInt("SEARCH_CANDIDATE_FACTOR", 4),
		},
		Auth: AuthConfig{
			Enabled:          getEnvBool("AUTH_ENABLED", true),
			BcryptCost:       getEnvInt("AUTH_BCRYPT_COST", 10),
			DefaultRateLimit: getEnvInt("AUTH_DEFAULT_RATE_LIMIT", 1000),
			LimiterCacheSize: getEnvInt("AUTH_LIMITER_CACHE_SIZE", 4096),
			TouchTimeout:     getEnvDuration("AUTH_TOUCH_TIMEOUT", 2*time.Second),
		},
		Sync: SyncConfig{
			PathPattern: getEnv("SYNC_PATH_PATTERN", "**/*.md"),
			Timeout:     getEnvDuration("SYNC_TIMEOUT", 30*time.Minute),
			StaleAfter:  getEnvDuration("SYNC_STALE_AFTER", 2*time.Hour),
		},
		Scheduler: SchedulerConfig{
			Enabled: SchedulerEnabled(),
			Spec:    getEnv("SYNC_SCHEDULE", "0 3 * * *"),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ServerMode:     getEnvBool("SERVER_MODE", false),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("DOCSEARCH_DB must not be empty"))
	}
	switch c.Vector.Backend {
	case BackendSQLite:
	case BackendQdrant:
		if c.Vector.QdrantHost == "" {
			errs = append(errs, errors.New("QDRANT_HOST is required for the qdrant backend"))
		}
	case BackendPgvector:
		if c.Vector.PostgresURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the pgvector backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("VECTOR_BACKEND %q is not one of sqlite, qdrant, pgvector", c.Vector.Backend))
	}
	if c.Vector.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_DIM must be positive, got %d", c.Vector.Dimension))
	}
	if math.IsNaN(c.Search.DefaultAlpha) || c.Search.DefaultAlpha < 0 || c.Search.DefaultAlpha > 1 {
		errs = append(errs, fmt.Errorf("SEARCH_ALPHA must be within [0,1], got %v", c.Search.DefaultAlpha))
	}
	if math.IsNaN(c.Search.DefaultMinSimilarity) || math.IsInf(c.Search.DefaultMinSimilarity, 0) {
		errs = append(errs, fmt.Errorf("SEARCH_MIN_SIMILARITY must be finite, got %v", c.Search.DefaultMinSimilarity))
	}
	if c.Search.MaxLimit <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_MAX_LIMIT must be positive, got %d", c.Search.MaxLimit))
	}
	if c.Search.CandidateFactor < 1 {
		errs = append(errs, fmt.Errorf("SEARCH_CANDIDATE_FACTOR must be at least 1, got %d", c.Search.CandidateFactor))
	}
	if c.Sync.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_TIMEOUT must be positive, got %s", c.Sync.Timeout))
	}
	if c.Auth.DefaultRateLimit <= 0 {
		errs = append(errs, fmt.Errorf("AUTH_DEFAULT_RATE_LIMIT must be positive, got %d", c.Auth.DefaultRateLimit))
	}
	return errors.Join(errs...)
}

// SchedulerEnabled reads the scheduler feature flag from the process
// environment. It is evaluated on every scheduled tick so the flag can be
// flipped without a restart.
func SchedulerEnabled() bool {
	return getEnvBool("SYNC_SCHEDULER_ENABLED", false)
}

// NewLogger builds the process logger from the log section.
func (c LogConfig) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("invalid number in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
