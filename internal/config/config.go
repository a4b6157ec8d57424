package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	LLMTimeout    time.Duration

	SupermemoryAPIKey  string
	SupermemoryBaseURL string
	MemoryTimeout      time.Duration

	CloneDir     string
	CloneTimeout time.Duration
	ProbeTimeout time.Duration

	WorkerConcurrency int
	PollInterval      time.Duration
	StaleRunAfter     time.Duration

	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	ReportsBucket string

	LogLevel  string
	LogFormat string
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBool(key, def string) bool {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getSeconds reads a (possibly fractional) number of seconds.
func getSeconds(key string, def float64) time.Duration {
	v := os.Getenv(key)
	f, err := strconv.ParseFloat(v, 64)
	if v == "" || err != nil {
		f = def
	}
	return time.Duration(f * float64(time.Second))
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:        getString("DATABASE_URL", "sqlite://vibecheck.db"),
		HTTPAddr:           getString("HTTP_ADDR", ":8000"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getString("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:      getString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		LLMTimeout:         getSeconds("LLM_TIMEOUT_SECONDS", 10),
		SupermemoryAPIKey:  os.Getenv("SUPERMEMORY_API_KEY"),
		SupermemoryBaseURL: getString("SUPERMEMORY_BASE_URL", "https://api.supermemory.ai"),
		MemoryTimeout:      getSeconds("SUPERMEMORY_TIMEOUT_SECONDS", 10),
		CloneDir:           getString("CLONE_DIR", "/tmp/vibecheck-repos"),
		CloneTimeout:       getSeconds("CLONE_TIMEOUT_SECONDS", 60),
		ProbeTimeout:       getSeconds("PROBE_TIMEOUT_SECONDS", 10),
		WorkerConcurrency:  getInt("WORKER_CONCURRENCY", 2),
		PollInterval:       time.Duration(getInt("WORKER_POLL_MS", 500)) * time.Millisecond,
		StaleRunAfter:      time.Duration(getInt("STALE_RUN_MINUTES", 30)) * time.Minute,
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3UseSSL:           getBool("S3_USE_SSL", "false"),
		ReportsBucket:      os.Getenv("REPORTS_BUCKET"),
		LogLevel:           getString("LOG_LEVEL", "info"),
		LogFormat:          getString("LOG_FORMAT", "text"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_MS must be positive"))
	}
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"LLM_TIMEOUT_SECONDS", c.LLMTimeout},
		{"SUPERMEMORY_TIMEOUT_SECONDS", c.MemoryTimeout},
		{"CLONE_TIMEOUT_SECONDS", c.CloneTimeout},
		{"PROBE_TIMEOUT_SECONDS", c.ProbeTimeout},
	} {
		if t.d <= 0 {
			errs = append(errs, errors.New(t.name+" must be positive"))
		}
	}
	if c.S3Endpoint != "" && c.ReportsBucket == "" {
		errs = append(errs, errors.New("REPORTS_BUCKET is required when S3_ENDPOINT is set"))
	}
	return errors.Join(errs...)
}

func (c Config) LLMEnabled() bool     { return c.GeminiAPIKey != "" }
func (c Config) MemoryEnabled() bool  { return c.SupermemoryAPIKey != "" }
func (c Config) ArchiveEnabled() bool { return c.S3Endpoint != "" && c.ReportsBucket != "" }
