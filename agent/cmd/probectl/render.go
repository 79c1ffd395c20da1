package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/probewatch/probewatch/agent/internal/client"
)

func renderSession(w io.Writer, s client.Session) {
	if !s.HasActiveSession {
		fmt.Fprintln(w, "no active session")
		return
	}

	state := "running"
	if s.Terminal {
		state = "complete"
	}
	fmt.Fprintf(w, "session %s (%s)\n", s.SessionID, state)
	if s.StartedAt != nil {
		fmt.Fprintf(w, "started   %s\n", s.StartedAt.Local().Format(time.DateTime))
	}
	if s.CompletedAt != nil {
		fmt.Fprintf(w, "completed %s\n", s.CompletedAt.Local().Format(time.DateTime))
	}
	renderSummary(w, s.Summary)

	if len(s.Results) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tSTATE\tCOUNTRY\tPROVIDER\tLATENCY\tJITTER\tICMP")
	for _, r := range s.Results {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Order, r.Identity, stateLabel(r), dash(r.Country), dash(r.Provider),
			r.LatencyMs, r.JitterMs, dash(r.ICMPStatus))
	}
	tw.Flush()
}

func renderSummary(w io.Writer, s client.Summary) {
	fmt.Fprintf(w, "progress  %d/%d (%d%%), %d in progress\n", s.Completed, s.Total, s.Percentage, s.InProgress)
	fmt.Fprintf(w, "results   %d ok, %d failed (%d timeout, %d dead)\n", s.Success, s.Failed, s.Timeout, s.Dead)
	if s.Missing > 0 {
		fmt.Fprintf(w, "missing   %d never reported\n", s.Missing)
	}
}

func stateLabel(r client.Result) string {
	if r.Attempt > 0 && r.Max > 0 {
		return fmt.Sprintf("%s %d/%d", r.State, r.Attempt, r.Max)
	}
	return r.State
}

func renderHistory(w io.Writer, recs []client.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no archived sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tDONE\tOK\tFAILED\tSTATE")
	for _, r := range recs {
		state := "open"
		if r.Terminal {
			state = "complete"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			r.SessionID, r.StartedAt.Local().Format(time.DateTime),
			r.Summary.Completed, r.Summary.Total, r.Summary.Success, r.Summary.Failed, state)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
