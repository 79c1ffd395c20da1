package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
)

const (
	defaultTimeout = 10 * time.Second
	defaultHeader  = "X-API-Key"
	streamPath     = "/ws/stream"
)

// ErrNoSession is returned by Clear when the server has no session to drop.
var ErrNoSession = errors.New("client: no active session")

// ErrStop can be returned from a Stream callback to end the stream cleanly.
var ErrStop = errors.New("client: stop streaming")

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Options tune a Client. The zero value talks HTTP/1.1 without a key.
type Options struct {
	// APIKey is sent on write requests in Header.
	APIKey string
	Header string

	// H2C switches the REST transport to cleartext HTTP/2.
	H2C bool

	Timeout time.Duration
}

// Client talks to one probewatch-server HTTP endpoint.
type Client struct {
	base   *url.URL
	opts   Options
	http   *http.Client
	dialer *websocket.Dialer
}

// New returns a Client for baseURL (for example http://localhost:8080).
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	if opts.Header == "" {
		opts.Header = defaultHeader
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	hc := &http.Client{Timeout: opts.Timeout}
	if opts.H2C {
		hc.Transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	}

	return &Client{
		base:   u,
		opts:   opts,
		http:   hc,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.Timeout},
	}, nil
}

// Health fetches GET /api/v1/health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/api/v1/health", &h)
	return h, err
}

// Session fetches the resume payload of the current session.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodGet, "/api/v1/session", &s)
	return s, err
}

// Clear drops the current session on the server.
func (c *Client) Clear(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, "/api/v1/session", nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return ErrNoSession
	}
	return err
}

// History lists archived sessions, newest first. limit <= 0 uses the
// server's default.
func (c *Client) History(ctx context.Context, limit int) ([]Record, error) {
	path := "/api/v1/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var recs []Record
	err := c.do(ctx, http.MethodGet, path, &recs)
	return recs, err
}

// HistorySession fetches one archived session with its results.
func (c *Client) HistorySession(ctx context.Context, id string) (Session, error) {
	var s Session
	err := c.do(ctx, http.MethodGet, "/api/v1/history/"+url.PathEscape(id), &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, nil)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set(c.opts.Header, c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(body))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}

// Message is one push-channel frame. Data is decoded by the caller (or by
// View.Apply) according to Event.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Stream connects to the push channel and calls fn for every message until
// ctx is cancelled, the connection drops or fn returns an error. Returning
// ErrStop from fn ends the stream with a nil error.
func (c *Client) Stream(ctx context.Context, fn func(Message) error) error {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = streamPath

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("client: read: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("client: decode message: %w", err)
		}
		if err := fn(msg); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}
