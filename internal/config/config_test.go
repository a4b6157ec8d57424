package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "GEMINI_API_KEY", "SUPERMEMORY_API_KEY", "S3_ENDPOINT", "REPORTS_BUCKET", "WORKER_CONCURRENCY", "CLONE_TIMEOUT_SECONDS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseURL != "sqlite://vibecheck.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.CloneTimeout != 60*time.Second {
		t.Errorf("CloneTimeout = %v", cfg.CloneTimeout)
	}
	if cfg.MemoryTimeout != 10*time.Second || cfg.LLMTimeout != 10*time.Second {
		t.Errorf("timeouts = %v / %v", cfg.MemoryTimeout, cfg.LLMTimeout)
	}
	if cfg.LLMEnabled() || cfg.MemoryEnabled() || cfg.ArchiveEnabled() {
		t.Error("optional collaborators should be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("SUPERMEMORY_TIMEOUT_SECONDS", "2.5")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("S3_ENDPOINT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.LLMEnabled() {
		t.Error("LLMEnabled() = false")
	}
	if cfg.MemoryTimeout != 2500*time.Millisecond {
		t.Errorf("MemoryTimeout = %v", cfg.MemoryTimeout)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("S3_ENDPOINT", "localhost:9000")
	t.Setenv("REPORTS_BUCKET", "")
	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"WORKER_CONCURRENCY", "REPORTS_BUCKET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

func TestValidateReportsTimeoutsInOrder(t *testing.T) {
	c := Config{
		DatabaseURL:       "sqlite://x.db",
		WorkerConcurrency: 1,
		PollInterval:      time.Second,
		LLMTimeout:        time.Second,
		CloneTimeout:      time.Second,
	}
	want := "SUPERMEMORY_TIMEOUT_SECONDS must be positive\nPROBE_TIMEOUT_SECONDS must be positive"
	for i := 0; i < 20; i++ {
		err := c.Validate()
		if err == nil {
			t.Fatal("expected validation error")
		}
		if err.Error() != want {
			t.Fatalf("Validate() = %q, want %q", err, want)
		}
	}
}
