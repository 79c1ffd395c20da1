package config

import (
	"context"
	"log/slog"

	"github.com/probewatch/probewatch/pkg/filewatch"
)

// Watch reloads path once each change has settled and hands the result to
// onChange. A reload that fails to parse or validate is logged and skipped;
// the previous config stays active. It runs until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	slog.Info("config: watching for changes", "path", path)
	return filewatch.Watch(ctx, path, filewatch.DefaultSettle, func() {
		cfg, err := Load(path)
		if err != nil {
			slog.Error("config: reload failed, keeping previous config", "path", path, "err", err)
			return
		}
		slog.Info("config: reloaded", "path", path, "level", cfg.Server.Log.Level)
		onChange(cfg)
	})
}
