package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfigFile, EnvPort, EnvLogLevel, EnvLogFormat, EnvDataDir, EnvRemoteURL,
		EnvRequestTimeout, EnvPollIntervalMs, EnvPollMaxFailures, EnvPollTimeout,
		EnvBatchDoneMarker, EnvInboxDir, EnvHeadless,
	} {
		t.Setenv(key, "")
	}
}

func TestNew_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.RemoteURL() != DefaultRemoteURL {
		t.Errorf("RemoteURL() = %q, want %q", cfg.RemoteURL(), DefaultRemoteURL)
	}
	if cfg.PollInterval() != 800*time.Millisecond {
		t.Errorf("PollInterval() = %s, want 800ms", cfg.PollInterval())
	}
	if cfg.PollMaxFailures() != 3 {
		t.Errorf("PollMaxFailures() = %d, want 3", cfg.PollMaxFailures())
	}
	if cfg.Headless() {
		t.Error("Headless() = true, want false")
	}
	if filepath.Base(cfg.DBPath()) != DBFilename {
		t.Errorf("DBPath() = %q, want file %q", cfg.DBPath(), DBFilename)
	}
}

func TestNew_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvRemoteURL, "http://render.local:8000/")
	t.Setenv(EnvPollIntervalMs, "1000")
	t.Setenv(EnvPollMaxFailures, "5")
	t.Setenv(EnvHeadless, "true")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Port() = %d, want 9100", cfg.Port())
	}
	if cfg.RemoteURL() != "http://render.local:8000" {
		t.Errorf("RemoteURL() = %q, want trailing slash trimmed", cfg.RemoteURL())
	}
	if cfg.PollInterval() != time.Second {
		t.Errorf("PollInterval() = %s, want 1s", cfg.PollInterval())
	}
	if cfg.PollMaxFailures() != 5 {
		t.Errorf("PollMaxFailures() = %d, want 5", cfg.PollMaxFailures())
	}
	if !cfg.Headless() {
		t.Error("Headless() = false, want true")
	}
}

func TestNew_RejectsPollIntervalOutOfRange(t *testing.T) {
	for _, ms := range []string{"200", "799", "1001", "5000"} {
		clearEnv(t)
		t.Setenv(EnvPollIntervalMs, ms)
		if _, err := New(); err == nil {
			t.Errorf("poll interval %sms: expected error", ms)
		}
	}
}

func TestNew_RejectsBadPort(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPort, "70000")
	if _, err := New(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}

	t.Setenv(EnvPort, "abc")
	if _, err := New(); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestNew_YAMLFileThenEnv(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "studio.yaml")
	content := []byte(`
port: 9200
remote_url: http://yaml-host:8000
poll_interval_ms: 900
poll_timeout: 10m
batch_done_marker: completado
headless: true
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvPort, "9300")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9300 {
		t.Errorf("Port() = %d, want env override 9300", cfg.Port())
	}
	if cfg.RemoteURL() != "http://yaml-host:8000" {
		t.Errorf("RemoteURL() = %q, want yaml value", cfg.RemoteURL())
	}
	if cfg.PollInterval() != 900*time.Millisecond {
		t.Errorf("PollInterval() = %s, want 900ms", cfg.PollInterval())
	}
	if cfg.PollTimeout() != 10*time.Minute {
		t.Errorf("PollTimeout() = %s, want 10m", cfg.PollTimeout())
	}
	if cfg.BatchDoneMarker() != "completado" {
		t.Errorf("BatchDoneMarker() = %q, want completado", cfg.BatchDoneMarker())
	}
	if !cfg.Headless() {
		t.Error("Headless() = false, want true from yaml")
	}
}

func TestNew_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := New(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
