package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/probewatch/probewatch/agent/internal/client"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live session with a progress bar",
		Long: `Follow the live session over the server's push stream.

watch prints a progress bar that tracks completed probes and exits with the
final summary when the session completes. With --follow it keeps watching for
the next batch instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			w := newWatcher(cmd.OutOrStdout(), cmd.ErrOrStderr(), follow)
			return c.Stream(ctx, w.handle)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep watching after the session completes")
	return cmd
}

// watcher drives the progress bar from stream messages.
type watcher struct {
	out    io.Writer
	barOut io.Writer
	follow bool

	view    *client.View
	bar     *progressbar.ProgressBar
	session string
	done    bool
}

func newWatcher(out, barOut io.Writer, follow bool) *watcher {
	return &watcher{out: out, barOut: barOut, follow: follow, view: client.NewView()}
}

func (w *watcher) handle(msg client.Message) error {
	if err := w.view.Apply(msg); err != nil {
		return err
	}
	s := w.view.Session()

	if !s.HasActiveSession {
		w.reset("")
		fmt.Fprintln(w.out, "waiting for a batch to start")
		return nil
	}
	if s.SessionID != w.session {
		w.reset(s.SessionID)
		fmt.Fprintf(w.out, "session %s: %d probes\n", s.SessionID, s.Total)
	}
	if w.done {
		return nil
	}

	w.progress(s)

	if s.Terminal {
		w.finish(s)
		if !w.follow {
			return client.ErrStop
		}
	}
	return nil
}

func (w *watcher) reset(session string) {
	if w.bar != nil && !w.done {
		w.bar.Exit() //nolint:errcheck
	}
	w.bar = nil
	w.session = session
	w.done = false
}

func (w *watcher) progress(s client.Session) {
	total := s.Total
	if total <= 0 {
		total = -1
	}
	if w.bar == nil {
		w.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w.barOut),
			progressbar.OptionSetDescription("probing"),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	} else if w.bar.GetMax() != total {
		w.bar.ChangeMax(total)
	}
	w.bar.Describe(fmt.Sprintf("%d ok / %d failed", s.Summary.Success, s.Summary.Failed))
	w.bar.Set(s.Completed) //nolint:errcheck
}

func (w *watcher) finish(s client.Session) {
	w.done = true
	if w.bar != nil {
		w.bar.Finish() //nolint:errcheck
		fmt.Fprintln(w.barOut)
	}
	fmt.Fprintf(w.out, "session %s complete\n", s.SessionID)
	renderSummary(w.out, s.Summary)
}
