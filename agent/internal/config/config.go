package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBufferSize = 1000
	DefaultHeader     = "x-api-key"
	DefaultLogLevel   = "info"
)

// Source types.
const (
	SourceStdin = "stdin"
	SourceFile  = "file"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of probewatch-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// BufferSize is the maximum number of commands held in memory while
	// the server is unreachable, not counting the one currently being sent.
	BufferSize int `yaml:"buffer_size"`

	// Source is where the executor's NDJSON output is read from.
	Source SourceConfig `yaml:"source"`

	// ServerAuth configures how the agent authenticates to probewatch-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	Log LogConfig `yaml:"log"`
}

// SourceConfig selects the executor feed.
type SourceConfig struct {
	// Type is one of: stdin | file.
	Type string `yaml:"type"`

	// Path is the NDJSON file to read when Type == "file".
	Path string `yaml:"path"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the gRPC metadata key the API key is sent in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header lowercased, or DefaultHeader when unset.
// gRPC metadata keys are always lowercase.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultHeader
	}
	return strings.ToLower(a.Header)
}

// LogConfig controls the agent's logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel returns the configured level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			BufferSize: DefaultBufferSize,
			Source:     SourceConfig{Type: SourceStdin},
			Log:        LogConfig{Level: DefaultLogLevel},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.Source.Type {
	case SourceStdin:
	case SourceFile:
		if a.Source.Path == "" {
			return fmt.Errorf("agent.source.path is required for type %q", SourceFile)
		}
	default:
		return fmt.Errorf("agent.source: unknown type %q", a.Source.Type)
	}
	switch a.ServerAuth.Mode {
	case "apikey":
		if a.ServerAuth.KeyEnv == "" {
			return fmt.Errorf("agent.server_auth.key_env is required for apikey mode")
		}
	case "mtls":
		if a.ServerAuth.CertFile == "" || a.ServerAuth.KeyFile == "" {
			return fmt.Errorf("agent.server_auth: cert_file and key_file are required for mtls mode")
		}
	case "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(a.Log.Level)); err != nil {
		return fmt.Errorf("agent.log.level: unknown level %q", a.Log.Level)
	}
	return nil
}
