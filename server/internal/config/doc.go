// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort             port for the gRPC ingest service (default 50051)
//   - HTTPPort             port for the REST API, WebSocket hub and /metrics (default 8080)
//   - H2C                  serve cleartext HTTP/2 on the HTTP port
//   - Auth.Mode            "apikey" or "none"
//   - Auth.KeyEnv          environment variable holding the expected API key
//   - Auth.Header          gRPC metadata/HTTP header name (default "x-api-key")
//   - Push.Interval        WebSocket update cadence (default 1s)
//   - Ingest.BufferSize    funnel queue depth (default 1024)
//   - Ingest.SubmitTimeout how long a producer waits on a full queue (default 2s)
//   - Archive              optional sqlite archive of finished sessions
//   - Notify.Webhooks      targets told when a session completes
//   - Log.Level, Log.Format
//
// Load(path) applies defaults before unmarshalling, then validates. Watch
// reloads the file on change; only Push.Interval and Log.Level are applied
// to a running server.
package config
