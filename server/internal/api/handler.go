package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/probewatch/probewatch/pkg/types"
	"github.com/probewatch/probewatch/server/internal/archive"
	"github.com/probewatch/probewatch/server/internal/ingest"
	"github.com/probewatch/probewatch/server/internal/resume"
	"github.com/probewatch/probewatch/server/internal/store"
)

const (
	maxBodyBytes        = 4 << 20
	defaultHistoryLimit = 50
)

// History is the read side of the session archive.
type History interface {
	List(ctx context.Context, limit int) ([]archive.Record, error)
	Get(ctx context.Context, id string) (store.View, error)
}

// Deps are the handler's collaborators. Store and Funnel are required.
type Deps struct {
	Store     *store.Store
	Funnel    *ingest.Funnel
	History   History                         // nil when the archive is disabled
	Observers func() int                      // connected WebSocket clients
	Guard     func(http.Handler) http.Handler // wraps write routes
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps   Deps
	resume *resume.Service
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(deps Deps) http.Handler {
	if deps.Guard == nil {
		deps.Guard = func(h http.Handler) http.Handler { return h }
	}
	h := &Handler{deps: deps, resume: resume.New(deps.Store), mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/session", h.session)
	h.mux.HandleFunc("/api/v1/summary", h.summary)
	h.mux.HandleFunc("/api/v1/results", h.listResults)
	h.mux.HandleFunc("/api/v1/results/", h.getResult) // subtree, extracts {id}
	h.mux.Handle("/api/v1/batches", h.write(h.startBatch))
	h.mux.Handle("/api/v1/batches/complete", h.write(h.completeBatch))
	h.mux.Handle("/api/v1/events", h.write(h.events))
	h.mux.HandleFunc("/api/v1/history", h.listHistory)
	h.mux.HandleFunc("/api/v1/history/", h.getHistory)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// write guards a POST-only route. The method check runs first so that a GET
// to a write route is 405 whether or not it carries a key.
func (h *Handler) write(fn http.HandlerFunc) http.Handler {
	guarded := h.deps.Guard(fn)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		guarded.ServeHTTP(w, r)
	})
}

// --- read routes ------------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{State: "idle", Pending: h.deps.Funnel.Pending()}
	if h.deps.Observers != nil {
		resp.Observers = h.deps.Observers()
	}
	if v, ok := h.deps.Store.Current(); ok {
		resp.HasActiveSession = true
		resp.SessionID = v.ID
		resp.State = "running"
		if v.Terminal {
			resp.State = "complete"
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// session serves GET (resume payload) and DELETE (clear) on /api/v1/session.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jsonResp(w, http.StatusOK, h.resume.Payload())
	case http.MethodDelete:
		h.deps.Guard(http.HandlerFunc(h.clearSession)).ServeHTTP(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) clearSession(w http.ResponseWriter, r *http.Request) {
	v, ok, err := h.deps.Funnel.Clear(r.Context())
	if err != nil {
		ingestErr(w, err)
		return
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, "no active session")
		return
	}
	jsonResp(w, http.StatusOK, batchResponse(v))
}

// summary returns GET /api/v1/summary.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s, ok := h.deps.Store.Summary()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no active session")
		return
	}
	jsonResp(w, http.StatusOK, s)
}

// listResults returns GET /api/v1/results.
func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Store.Snapshot())
}

// getResult returns GET /api/v1/results/{id}.
func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/results/")
	if raw == "" {
		h.listResults(w, r)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "identity must be an integer")
		return
	}

	res, ok := h.deps.Store.Get(id)
	if !ok || res.Order == 0 {
		jsonErr(w, http.StatusNotFound, "result not found")
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// listHistory returns GET /api/v1/history.
func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.History == nil {
		jsonErr(w, http.StatusNotFound, "session archive is disabled")
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	recs, err := h.deps.History.List(r.Context(), limit)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, recs)
}

// getHistory returns GET /api/v1/history/{id}.
func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.deps.History == nil {
		jsonErr(w, http.StatusNotFound, "session archive is disabled")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/history/")
	if id == "" {
		h.listHistory(w, r)
		return
	}
	v, err := h.deps.History.Get(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, resume.FromView(v))
}

// --- write routes -----------------------------------------------------------

// startBatch handles POST /api/v1/batches.
func (h *Handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var in types.BatchStart
	if err := decodeBody(w, r, &in); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.deps.Funnel.Start(r.Context(), in)
	if err != nil {
		ingestErr(w, err)
		return
	}
	jsonResp(w, http.StatusCreated, batchResponse(v))
}

// completeBatch handles POST /api/v1/batches/complete.
func (h *Handler) completeBatch(w http.ResponseWriter, r *http.Request) {
	var in types.BatchComplete
	if err := decodeBody(w, r, &in); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.deps.Funnel.Complete(r.Context(), in)
	if err != nil {
		ingestErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, batchResponse(v))
}

// events handles POST /api/v1/events with one event or an array. A single
// event maps its error to a status code; an array always answers 200 with
// per-event outcomes so one bad event does not hide the others.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		var ev types.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid event: "+err.Error())
			return
		}
		res, err := h.deps.Funnel.Event(r.Context(), ev)
		if err != nil {
			ingestErr(w, err)
			return
		}
		jsonResp(w, http.StatusOK, EventResponse{Identity: ev.Identity, Outcome: res.Outcome.String(), Order: res.Order})
		return
	}

	var evs []types.Event
	if err := json.Unmarshal(raw, &evs); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid events: "+err.Error())
		return
	}
	resp := EventsResponse{Results: make([]EventResponse, 0, len(evs))}
	for _, ev := range evs {
		res, err := h.deps.Funnel.Event(r.Context(), ev)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ingest.ErrStopped) {
				ingestErr(w, err)
				return
			}
			resp.Rejected++
			resp.Results = append(resp.Results, EventResponse{Identity: ev.Identity, Error: err.Error()})
			continue
		}
		resp.Accepted++
		resp.Results = append(resp.Results, EventResponse{Identity: ev.Identity, Outcome: res.Outcome.String(), Order: res.Order})
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// ingestErr maps funnel and store errors to HTTP status codes.
func ingestErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrMalformedEvent), errors.Is(err, store.ErrInvalidTotal):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNoActiveSession), errors.Is(err, store.ErrSessionClosed):
		jsonErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrBusy):
		w.Header().Set("Retry-After", "1")
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ingest.ErrStopped):
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
	default:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

func batchResponse(v store.View) BatchResponse {
	return BatchResponse{SessionID: v.ID, Total: v.Total, Terminal: v.Terminal, Summary: v.Summary}
}
