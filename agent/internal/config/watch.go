package config

import (
	"context"
	"log/slog"

	"github.com/probewatch/probewatch/pkg/filewatch"
)

// Watch reloads path after it changes and passes the new Config to onChange.
// Editors and `cp` often produce several write events for one save; those are
// coalesced into one reload. A reload that fails is logged and the previous
// config stays in effect. Watch returns when ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	slog.Info("config: watching for changes", "path", path)
	return filewatch.Watch(ctx, path, filewatch.DefaultSettle, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path, "level", cfg.Agent.Log.Level)
		onChange(cfg)
	})
}
