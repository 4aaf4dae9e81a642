package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects where cases, events and rules are persisted.
type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"   // In-process maps, for tests and single-node dev
	BackendPostgres StoreBackend = "postgres" // pgx pool, production default
)

// Config holds global settings for the Vigil service.
// All settings can be configured via environment variables or programmatically.
type Config struct {
	// === Core Settings ===
	ListenAddr string // HTTP listen address (default: ":8090")
	Env        string // "production" or "development"

	// === Storage ===
	Backend     StoreBackend // "memory" or "postgres"
	DatabaseURL string       // pgx connection string (required for postgres backend)
	RedisAddr   string       // Redis address for caches and counters ("" disables Redis)
	RedisDB     int          // Redis logical database

	// === Detector Pipeline ===
	DetectorTimeout time.Duration // Per-detector budget before a run is abandoned (default: 2s)
	DuplicateWindow time.Duration // Window for repeated-content spam counting (default: 1h)
	TermCacheTTL    time.Duration // How long matcher term sets are cached (default: 5m)

	// === Feature Flags ===
	EnableToxicity   bool // Enable ONNX toxicity classification (requires a local model)
	EnableSimilarity bool // Enable embedding similarity for spam phrases (requires embedder)

	// === Toxicity Model ===
	ToxicityModelPath string // Local ONNX model directory ("" = auto-detect)
	OnnxLibraryPath   string // Path to libonnxruntime.so ("" = auto-detect)

	// === Embeddings ===
	EmbedderURL   string // Ollama-compatible embedding endpoint
	EmbedderModel string // Embedding model name

	// === Threat Evaluation ===
	HighRiskCountries  []string      // ISO country codes that add risk to security events
	ReputationCacheTTL time.Duration // How long reputation lookups are cached (default: 60s)

	// === Seed Data ===
	SeedDir string // Directory holding YAML seed files for terms and rules
}

// NewDefaultConfig creates a Config with sensible defaults.
// All settings can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		ListenAddr: GetEnv("VIGIL_LISTEN_ADDR", ":8090"),
		Env:        strings.ToLower(GetEnv("VIGIL_ENV", "development")),

		Backend:     StoreBackend(GetEnv("VIGIL_BACKEND", "memory")),
		DatabaseURL: GetEnv("VIGIL_DATABASE_URL", ""),
		RedisAddr:   GetEnv("VIGIL_REDIS_ADDR", ""),
		RedisDB:     GetEnvInt("VIGIL_REDIS_DB", 0),

		DetectorTimeout: time.Duration(clampInt(GetEnvInt("VIGIL_DETECTOR_TIMEOUT_MS", 2000), 100, 60000)) * time.Millisecond,
		DuplicateWindow: time.Duration(clampInt(GetEnvInt("VIGIL_DUPLICATE_WINDOW_SECONDS", 3600), 60, 86400)) * time.Second,
		TermCacheTTL:    time.Duration(clampInt(GetEnvInt("VIGIL_TERM_CACHE_SECONDS", 300), 1, 86400)) * time.Second,

		EnableToxicity:   GetEnvBool("VIGIL_ENABLE_TOXICITY", true),
		EnableSimilarity: GetEnvBool("VIGIL_ENABLE_SIMILARITY", false),

		ToxicityModelPath: GetEnv("VIGIL_TOXICITY_MODEL_PATH", ""),
		OnnxLibraryPath:   GetEnv("VIGIL_ONNX_LIBRARY_PATH", ""),

		EmbedderURL:   GetEnv("VIGIL_EMBEDDER_URL", "http://localhost:11434"),
		EmbedderModel: GetEnv("VIGIL_EMBEDDER_MODEL", "embeddinggemma"),

		HighRiskCountries:  GetEnvSlice("VIGIL_HIGH_RISK_COUNTRIES", []string{"XX", "T1"}),
		ReputationCacheTTL: time.Duration(clampInt(GetEnvInt("VIGIL_REPUTATION_CACHE_SECONDS", 60), 1, 3600)) * time.Second,

		SeedDir: GetEnv("VIGIL_SEED_DIR", "./seeds"),
	}
}

// NewTestConfig creates a Config suitable for unit tests: memory backend,
// no external services, short timeouts.
func NewTestConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Backend = BackendMemory
	cfg.RedisAddr = ""
	cfg.EnableToxicity = false
	cfg.EnableSimilarity = false
	cfg.DetectorTimeout = 500 * time.Millisecond
	return cfg
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate checks that all required configuration is present.
// In production mode it returns an error for missing critical settings;
// in development it allows startup for local testing.
func (c *Config) Validate() error {
	var problems []string

	switch c.Backend {
	case BackendMemory, BackendPostgres:
	default:
		problems = append(problems, fmt.Sprintf("VIGIL_BACKEND: unknown backend %q", c.Backend))
	}

	if c.Backend == BackendPostgres && c.DatabaseURL == "" {
		problems = append(problems, "VIGIL_DATABASE_URL: required for the postgres backend")
	}

	if c.IsProduction() && c.Backend == BackendMemory {
		problems = append(problems, "VIGIL_BACKEND: memory backend is not allowed in production")
	}

	if c.DetectorTimeout <= 0 {
		problems = append(problems, "VIGIL_DETECTOR_TIMEOUT_MS: must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Helper functions for environment variable parsing.
// Exported for use by other packages.

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
