package appconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHasParallelArchiveFanOut(t *testing.T) {
	cfg := Default()
	if !cfg.Archive.Parallel {
		t.Error("Default() should leave archive fan-out parallel unless a config file overrides it")
	}
	if cfg.Archive.FailureStrategy != "continue" {
		t.Errorf("Archive.FailureStrategy = %q, want \"continue\"", cfg.Archive.FailureStrategy)
	}
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Root != Default().Root {
		t.Errorf("Root = %q, want %q", cfg.Root, Default().Root)
	}
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.yaml")
	contents := []byte(`
root: /data/ddmq
metrics_address: ":19090"
archive:
  parallel: false
  kafka:
    brokers: ["broker-1:9092"]
    topic: "archived"
`)
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/data/ddmq" {
		t.Errorf("Root = %q, want /data/ddmq", cfg.Root)
	}
	if cfg.MetricsAddr != ":19090" {
		t.Errorf("MetricsAddr = %q, want :19090", cfg.MetricsAddr)
	}
	if cfg.Archive.Parallel {
		t.Error("Archive.Parallel should be overridden to false by the config file")
	}
	if cfg.Archive.Kafka == nil || cfg.Archive.Kafka.Topic != "archived" {
		t.Errorf("Archive.Kafka = %+v, want Topic=archived", cfg.Archive.Kafka)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("DDMQ_TEST_ROOT", "/env/ddmq-root")

	path := filepath.Join(t.TempDir(), "serve.yaml")
	if err := os.WriteFile(path, []byte("root: ${DDMQ_TEST_ROOT}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/env/ddmq-root" {
		t.Errorf("Root = %q, want /env/ddmq-root", cfg.Root)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected an error loading a nonexistent config file")
	}
}
