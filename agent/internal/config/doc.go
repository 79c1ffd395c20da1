// Package config loads and watches the agent configuration file (config.yaml).
//
// Top-level types:
//   - Config{Agent}: full config tree parsed from YAML
//   - AgentConfig: server_endpoint, buffer_size, source, server_auth, log
//   - SourceConfig: type (stdin|file) and path of the executor's NDJSON output
//   - AuthConfig: mode (mtls|apikey|none), cert/key/ca files, header, key_env;
//     Key() resolves the API key from the environment
//
// Load(path) reads the YAML file, applies defaults (1000 buffer, stdin source,
// info level), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. The containing directory is watched
// so rename-based saves from editors are picked up.
package config
