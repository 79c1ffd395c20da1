package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort      = 50051
	DefaultHTTPPort      = 8080
	DefaultPushInterval  = time.Second
	DefaultBufferSize    = 1024
	DefaultSubmitTimeout = 2 * time.Second
	DefaultArchivePath   = "probewatch.db"
	DefaultHeader        = "x-api-key"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	GRPCPort int  `yaml:"grpc_port"`
	HTTPPort int  `yaml:"http_port"`
	H2C      bool `yaml:"h2c"`

	Auth    AuthConfig    `yaml:"auth"`
	Push    PushConfig    `yaml:"push"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Archive ArchiveConfig `yaml:"archive"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

// AuthConfig controls client authentication on the write paths.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header name to read the key from.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or DefaultHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultHeader
}

// PushConfig controls the WebSocket push cadence.
type PushConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// IngestConfig sizes the single-writer funnel.
type IngestConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

// ArchiveConfig enables persistence of finished sessions.
type ArchiveConfig struct {
	// Backend is "" (disabled) or "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`

	// Retention drops archived sessions older than this. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// Enabled reports whether an archive backend is configured.
func (a ArchiveConfig) Enabled() bool { return a.Backend != "" }

// NotifyConfig lists webhook targets for session completion.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	if cfg.Server.Archive.Enabled() && cfg.Server.Archive.Path == "" {
		cfg.Server.Archive.Path = DefaultArchivePath
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Push:     PushConfig{Interval: DefaultPushInterval},
			Ingest: IngestConfig{
				BufferSize:    DefaultBufferSize,
				SubmitTimeout: DefaultSubmitTimeout,
			},
			Log: LogConfig{Level: "info", Format: "json"},
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Push.Interval <= 0 {
		return fmt.Errorf("server.push.interval must be positive")
	}
	if s.Ingest.BufferSize <= 0 {
		return fmt.Errorf("server.ingest.buffer_size must be positive")
	}
	if s.Ingest.SubmitTimeout <= 0 {
		return fmt.Errorf("server.ingest.submit_timeout must be positive")
	}
	switch s.Archive.Backend {
	case "", "sqlite":
	default:
		return fmt.Errorf("server.archive.backend %q unknown: want sqlite", s.Archive.Backend)
	}
	if s.Archive.Retention < 0 {
		return fmt.Errorf("server.archive.retention must not be negative")
	}
	for i, w := range s.Notify.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.notify.webhooks[%d].type %q unknown: want slack|teams|http", i, w.Type)
		}
		if w.URLEnv == "" {
			return fmt.Errorf("server.notify.webhooks[%d].url_env is required", i)
		}
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("server.log.format %q unknown: want json|text", s.Log.Format)
	}
	return nil
}
