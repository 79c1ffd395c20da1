package feed

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/probewatch/probewatch/agent/internal/config"
	"github.com/probewatch/probewatch/pkg/types"
)

// maxLine bounds a single executor line. Complete commands carry the final
// results of the whole batch, so this is well above bufio's default.
const maxLine = 8 << 20

// Stats counts what one Run saw.
type Stats struct {
	Lines    int
	Commands int
	Skipped  int
}

// Open returns the reader configured by src. Stdin is wrapped so closing it
// is a no-op.
func Open(src config.SourceConfig) (io.ReadCloser, error) {
	switch src.Type {
	case config.SourceStdin, "":
		return io.NopCloser(os.Stdin), nil
	case config.SourceFile:
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, fmt.Errorf("feed: open %s: %w", src.Path, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("feed: unsupported source type %q", src.Type)
	}
}

// Reader turns executor lines into commands.
type Reader struct {
	sink func(types.Command)
}

// NewReader returns a Reader that passes every parsed command to sink.
func NewReader(sink func(types.Command)) *Reader {
	return &Reader{sink: sink}
}

// Run reads r to EOF or until ctx is cancelled. Blank lines are ignored and
// malformed ones are logged and counted as skipped. The returned error is
// only set for read failures, never for bad lines.
func (rd *Reader) Run(ctx context.Context, r io.Reader) (Stats, error) {
	var st Stats

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	for sc.Scan() {
		if ctx.Err() != nil {
			return st, nil
		}
		st.Lines++

		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		cmd, err := types.ParseCommand(line)
		if err != nil {
			st.Skipped++
			slog.Warn("feed: skipping malformed line", "line", st.Lines, "err", err)
			continue
		}
		st.Commands++
		rd.sink(cmd)
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("feed: read: %w", err)
	}
	return st, nil
}
