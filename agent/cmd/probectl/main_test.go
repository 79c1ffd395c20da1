package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/probewatch/probewatch/agent/internal/client"
)

const sessionJSON = `{"has_active_session":true,"session_id":"s1","results":[{"identity":12,"order":1,"state":"success","country":"NL","latency_ms":41},{"identity":5,"order":2,"state":"timeout","latency_ms":"timeout"}],"total":3,"completed":2,"summary":{"total":3,"completed":2,"success":1,"failed":1,"timeout":1,"in_progress":1,"percentage":67},"terminal":false,"revision":4}`

func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			if r.Header.Get("X-API-Key") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid api key"}`)) //nolint:errcheck
				return
			}
			w.Write([]byte(`{"session_id":"s1"}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(sessionJSON)) //nolint:errcheck
	})
	mux.HandleFunc("/api/v1/history", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"session_id":"old-1","started_at":"2026-01-02T03:04:05Z","terminal":true,"summary":{"total":4,"completed":4,"success":3,"failed":1}}]`)) //nolint:errcheck
	})
	mux.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		frames := []string{
			`{"event":"resume","data":` + sessionJSON + `}`,
			`{"event":"update","data":{"session_id":"s1","results":[{"identity":8,"order":3,"state":"dead"}],"total":3,"completed":3,"summary":{"total":3,"completed":3,"success":1,"failed":2,"timeout":1,"dead":1,"percentage":100},"revision":6}}`,
			`{"event":"complete","data":{"session_id":"s1","summary":{"total":3,"completed":3,"success":1,"failed":2,"timeout":1,"dead":1,"percentage":100}}}`,
		}
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f)) //nolint:errcheck
		}
		conn.ReadMessage() //nolint:errcheck
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// run executes probectl with args against srv and returns stdout.
func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestStatus_Table(t *testing.T) {
	out, err := run(t, testServer(t), "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"session s1 (running)", "2/3 (67%)", "NL", "41ms", "timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatus_JSON(t *testing.T) {
	out, err := run(t, testServer(t), "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	if !strings.Contains(out, `"session_id": "s1"`) {
		t.Errorf("json output:\n%s", out)
	}
}

func TestClear_UsesAPIKey(t *testing.T) {
	srv := testServer(t)

	t.Setenv("PROBECTL_TEST_KEY", "secret")
	out, err := run(t, srv, "--api-key-env", "PROBECTL_TEST_KEY", "clear")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "session cleared") {
		t.Errorf("clear output: %q", out)
	}

	if _, err := run(t, srv, "--api-key-env", "PROBECTL_UNSET_KEY", "clear"); err == nil {
		t.Error("clear without key: expected error")
	}
}

func TestHistory_List(t *testing.T) {
	out, err := run(t, testServer(t), "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "old-1") || !strings.Contains(out, "4/4") {
		t.Errorf("history output:\n%s", out)
	}
}

func TestWatch_ExitsOnComplete(t *testing.T) {
	out, err := run(t, testServer(t), "watch")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for _, want := range []string{"session s1: 3 probes", "session s1 complete", "3/3 (100%)", "1 dead"} {
		if !strings.Contains(out, want) {
			t.Errorf("watch output missing %q:\n%s", want, out)
		}
	}
}

func TestWatcher_NoSession(t *testing.T) {
	var out, bar bytes.Buffer
	w := newWatcher(&out, &bar, false)
	if err := w.handle(client.Message{Event: client.EventResume, Data: []byte(`{"has_active_session":false,"results":[]}`)}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(out.String(), "waiting for a batch") {
		t.Errorf("output: %q", out.String())
	}
}

func TestRenderSession_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderSession(&buf, client.Session{})
	if strings.TrimSpace(buf.String()) != "no active session" {
		t.Errorf("got %q", buf.String())
	}
}

func TestRenderSession_RetryProgressAndMissing(t *testing.T) {
	var buf bytes.Buffer
	renderSession(&buf, client.Session{
		HasActiveSession: true,
		SessionID:        "s2",
		Terminal:         true,
		Results: []client.Result{
			{Identity: 3, Order: 1, State: "failed"},
			{Identity: 1, Order: 2, State: "retrying", Attempt: 2, Max: 3},
		},
		Summary: client.Summary{Total: 3, Completed: 3, Failed: 3, Missing: 1, Percentage: 100},
	})
	out := buf.String()
	for _, want := range []string{"session s2 (complete)", "retrying 2/3", "missing   1 never reported"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
