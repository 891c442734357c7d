package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.MaxHops != 5 {
		t.Errorf("expected default max_hops 5, got %d", cfg.Node.MaxHops)
	}
	if cfg.Admission.MaxConcurrent != 6 {
		t.Errorf("expected default max_concurrent 6, got %d", cfg.Admission.MaxConcurrent)
	}
	if cfg.Admission.MaxPerWindow != 10 {
		t.Errorf("expected default max_per_window 10, got %d", cfg.Admission.MaxPerWindow)
	}
	if cfg.Registry.MinScore != 0.7 {
		t.Errorf("expected default min_score 0.7, got %v", cfg.Registry.MinScore)
	}
	if cfg.Registry.Matcher != "lexical" {
		t.Errorf("expected default matcher lexical, got %s", cfg.Registry.Matcher)
	}
}

func TestLoadEnv(t *testing.T) {
	os.Setenv("SEMMESH_LOG_LEVEL", "debug")
	defer os.Unsetenv("SEMMESH_LOG_LEVEL")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug from env, got %s", cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()

	raw := `
node:
  listen_addr: "0.0.0.0:9000"
  max_hops: 3
  shared_secret: "hushhush"
admission:
  max_concurrent: 2
registry:
  min_score: 0.5
`
	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("expected listen addr from file, got %s", cfg.Node.ListenAddr)
	}
	if cfg.Node.MaxHops != 3 {
		t.Errorf("expected max_hops 3, got %d", cfg.Node.MaxHops)
	}
	if cfg.Node.SharedSecret != "hushhush" {
		t.Errorf("expected shared secret from file, got %q", cfg.Node.SharedSecret)
	}
	if cfg.Admission.MaxConcurrent != 2 {
		t.Errorf("expected max_concurrent 2, got %d", cfg.Admission.MaxConcurrent)
	}
	if cfg.Registry.MinScore != 0.5 {
		t.Errorf("expected min_score 0.5, got %v", cfg.Registry.MinScore)
	}
}

func TestLoadEnvMultiwordKeys(t *testing.T) {
	t.Setenv("SEMMESH_NODE_MAX_HOPS", "3")
	t.Setenv("SEMMESH_NODE_SHARED_SECRET", "from-env")
	t.Setenv("SEMMESH_ADMISSION_MAX_CONCURRENT", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Node.MaxHops != 3 {
		t.Errorf("expected max_hops 3 from env, got %d", cfg.Node.MaxHops)
	}
	if cfg.Node.SharedSecret != "from-env" {
		t.Errorf("expected shared secret from env, got %q", cfg.Node.SharedSecret)
	}
	if cfg.Admission.MaxConcurrent != 2 {
		t.Errorf("expected max_concurrent 2 from env, got %d", cfg.Admission.MaxConcurrent)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in       string
		fallback time.Duration
		want     time.Duration
	}{
		{"60s", time.Minute, time.Minute},
		{"250ms", time.Second, 250 * time.Millisecond},
		{"", time.Minute, time.Minute},
		{"garbage", 5 * time.Second, 5 * time.Second},
		{"-3s", 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := Duration(tt.in, tt.fallback); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
