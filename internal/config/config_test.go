package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Recorder.Capacity != 256 {
		t.Errorf("default capacity: %d", cfg.Recorder.Capacity)
	}
	if cfg.Debug.Port != 8484 {
		t.Errorf("default debug port: %d", cfg.Debug.Port)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default log level: %q", cfg.Log.Level)
	}
	if cfg.Recorder.Path != "" || cfg.Index.Path != "" {
		t.Error("recording and indexing must default to disabled")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LLMTAP_RECORDER_PATH", "/tmp/session.har")
	t.Setenv("LLMTAP_RECORDER_CAPACITY", "32")
	t.Setenv("LLMTAP_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Recorder.Path != "/tmp/session.har" {
		t.Errorf("recorder path: %q", cfg.Recorder.Path)
	}
	if cfg.Recorder.Capacity != 32 {
		t.Errorf("recorder capacity: %d", cfg.Recorder.Capacity)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level: %q", cfg.Log.Level)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llmtap.yaml")
	body := []byte("recorder:\n  path: /var/llmtap/file.har\n  capacity: 8\ndebug:\n  enabled: true\n  port: 9000\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LLMTAP_CONFIG", path)
	t.Setenv("LLMTAP_RECORDER_CAPACITY", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Recorder.Path != "/var/llmtap/file.har" {
		t.Errorf("recorder path: %q", cfg.Recorder.Path)
	}
	if cfg.Recorder.Capacity != 64 {
		t.Errorf("environment must override the file, got %d", cfg.Recorder.Capacity)
	}
	if !cfg.Debug.Enabled || cfg.Debug.Port != 9000 {
		t.Errorf("debug config: %+v", cfg.Debug)
	}
}

func TestLoadClampsCapacity(t *testing.T) {
	t.Setenv("LLMTAP_RECORDER_CAPACITY", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Recorder.Capacity != 1 {
		t.Errorf("capacity must clamp to 1, got %d", cfg.Recorder.Capacity)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("LLMTAP_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
