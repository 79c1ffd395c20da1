package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Server section absent; only the agent key is present.
	p := writeConfig(t, `agent:
  server_endpoint: "localhost:50051"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != DefaultGRPCPort {
		t.Errorf("grpc_port: got %d, want %d", s.GRPCPort, DefaultGRPCPort)
	}
	if s.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", s.HTTPPort, DefaultHTTPPort)
	}
	if s.Push.Interval != DefaultPushInterval {
		t.Errorf("push.interval: got %v, want %v", s.Push.Interval, DefaultPushInterval)
	}
	if s.Ingest.BufferSize != DefaultBufferSize {
		t.Errorf("ingest.buffer_size: got %d, want %d", s.Ingest.BufferSize, DefaultBufferSize)
	}
	if s.Archive.Enabled() {
		t.Error("archive should be disabled by default")
	}
	if s.Log.Level != "info" || s.Log.Format != "json" {
		t.Errorf("log: got %+v, want info/json", s.Log)
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_port: 9090
  http_port: 9091
  h2c: true
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-probe-key
  push:
    interval: 250ms
  ingest:
    buffer_size: 64
    submit_timeout: 500ms
  archive:
    backend: sqlite
    retention: 168h
  notify:
    webhooks:
      - type: slack
        url_env: SLACK_URL
  log:
    level: debug
    format: text
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != 9090 || !s.H2C {
		t.Errorf("grpc_port/h2c: got %d/%v", s.GRPCPort, s.H2C)
	}
	if s.Auth.EffectiveHeader() != "x-probe-key" {
		t.Errorf("header: got %q, want x-probe-key", s.Auth.EffectiveHeader())
	}
	if s.Push.Interval != 250*time.Millisecond {
		t.Errorf("push.interval: got %v, want 250ms", s.Push.Interval)
	}
	if s.Ingest.BufferSize != 64 || s.Ingest.SubmitTimeout != 500*time.Millisecond {
		t.Errorf("ingest: got %+v", s.Ingest)
	}
	if s.Archive.Path != DefaultArchivePath {
		t.Errorf("archive.path: got %q, want %q", s.Archive.Path, DefaultArchivePath)
	}
	if s.Archive.Retention != 168*time.Hour {
		t.Errorf("archive.retention: got %v, want 168h", s.Archive.Retention)
	}
	if len(s.Notify.Webhooks) != 1 || s.Notify.Webhooks[0].Type != "slack" {
		t.Errorf("webhooks: got %+v", s.Notify.Webhooks)
	}
	if s.Log.Level != "debug" || s.Log.Format != "text" {
		t.Errorf("log: got %+v", s.Log)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != DefaultHeader {
		t.Errorf("EffectiveHeader: got %q, want %q", h, DefaultHeader)
	}
}

func TestLoad_EnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_HOOK_URL", "http://hooks.local/x")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
  notify:
    webhooks:
      - type: http
        url_env: TEST_HOOK_URL
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if u := cfg.Server.Notify.Webhooks[0].URL(); u != "http://hooks.local/x" {
		t.Errorf("URL(): got %q", u)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"auth mode":      "server:\n  auth:\n    mode: oauth2\n",
		"port clash":     "server:\n  grpc_port: 8080\n  http_port: 8080\n",
		"port range":     "server:\n  http_port: 70000\n",
		"push interval":  "server:\n  push:\n    interval: 0s\n",
		"buffer size":    "server:\n  ingest:\n    buffer_size: -1\n",
		"archive":        "server:\n  archive:\n    backend: postgres\n",
		"webhook type":   "server:\n  notify:\n    webhooks:\n      - type: pagerduty\n        url_env: X\n",
		"webhook url":    "server:\n  notify:\n    webhooks:\n      - type: http\n",
		"log level":      "server:\n  log:\n    level: trace\n",
		"log format":     "server:\n  log:\n    format: xml\n",
		"malformed yaml": "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_Reload(t *testing.T) {
	p := writeConfig(t, "server:\n  push:\n    interval: 1s\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 16)
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, p, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  push:\n    interval: 3s\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Server.Push.Interval == 3*time.Second {
				cancel()
				if err := <-errc; err != nil {
					t.Errorf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatch_BadReloadKeepsWatching(t *testing.T) {
	p := writeConfig(t, "server:\n  log:\n    level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 16)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(p, []byte("server:\n  log:\n    level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  log:\n    level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// A truncating write can surface an empty file first, which loads as
	// defaults; keep reading until the final content arrives.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if strings.EqualFold(c.Server.Log.Level, "loud") {
				t.Fatal("invalid config was delivered")
			}
			if c.Server.Log.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed after a bad write")
		}
	}
}

func TestWatch_BurstReloadsOnce(t *testing.T) {
	p := writeConfig(t, "server:\n  log:\n    level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 16)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	for _, lvl := range []string{"warn", "error", "debug"} {
		if err := os.WriteFile(p, []byte("server:\n  log:\n    level: "+lvl+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(600 * time.Millisecond)
	if n := len(got); n != 1 {
		t.Fatalf("reloads after one burst: got %d, want 1", n)
	}
	if c := <-got; c.Server.Log.Level != "debug" {
		t.Errorf("level: got %q, want debug", c.Server.Log.Level)
	}
}
