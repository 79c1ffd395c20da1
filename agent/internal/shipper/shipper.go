package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/probewatch/probewatch/agent/internal/config"
	"github.com/probewatch/probewatch/pkg/types"
	"github.com/probewatch/probewatch/pkg/wire"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
	flushPoll         = 20 * time.Millisecond
)

// Shipper buffers executor commands and ships them to probewatch-server via
// gRPC, in the order they were shipped. Ship() is non-blocking; when the
// buffer is full the oldest probe event is evicted. Batch start and complete
// signals are never evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.AgentConfig
	dialFn dialFunc // injectable for tests

	mu       sync.Mutex
	queue    []entry
	seq      uint64
	inFlight bool
	wake     chan struct{}
}

type entry struct {
	seq uint64
	cmd types.Command
}

// dialFunc is the function signature used to open a gRPC connection.
// Abstracted so tests can point the shipper at a loopback listener.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:    cfg,
		dialFn: defaultDial,
		wake:   make(chan struct{}, 1),
	}
}

// Ship enqueues cmd. If the buffer is full the oldest queued probe event is
// evicted to make room. The command being sent is never evicted, so while a
// send is in flight the queue may hold BufferSize+1 entries; it drops back
// once that send finishes.
func (s *Shipper) Ship(cmd types.Command) {
	s.mu.Lock()
	if limit := s.cfg.BufferSize; limit > 0 && len(s.queue) >= limit {
		s.evictLocked()
	}
	s.seq++
	s.queue = append(s.queue, entry{seq: s.seq, cmd: cmd})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// evictLocked drops the oldest event that is not currently being sent.
// When the queue holds only batch signals the oldest entry goes.
func (s *Shipper) evictLocked() {
	from := 0
	if s.inFlight {
		from = 1
	}
	for i := from; i < len(s.queue); i++ {
		if s.queue[i].cmd.Kind == types.KindEvent {
			slog.Warn("shipper: buffer full, evicted oldest event",
				"identity", identityOf(s.queue[i].cmd), "buffer_cap", s.cfg.BufferSize)
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
	if len(s.queue) > from {
		slog.Warn("shipper: buffer full, evicted oldest command",
			"kind", s.queue[from].cmd.Kind, "buffer_cap", s.cfg.BufferSize)
		s.queue = append(s.queue[:from], s.queue[from+1:]...)
		return
	}
	// Only the in-flight head is queued: keep it and go one over.
	slog.Debug("shipper: buffer full, holding in-flight command over cap",
		"buffer_cap", s.cfg.BufferSize)
}

// Pending returns the number of commands not yet acknowledged by the server.
func (s *Shipper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Flush blocks until every shipped command has been delivered or discarded,
// or ctx is done.
func (s *Shipper) Flush(ctx context.Context) error {
	t := time.NewTicker(flushPoll)
	defer t.Stop()
	for {
		if s.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Run drains the buffer, sending commands to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)

		err = s.drain(ctx, conn, bo)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain sends queued commands head first until the connection fails or ctx
// is cancelled. A command stays at the head of the queue until the server
// acknowledges it or rejects it permanently.
func (s *Shipper) drain(ctx context.Context, conn *grpc.ClientConn, bo *backoff) error {
	client := wire.NewIngestClient(conn)

	for {
		e, ok := s.head()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}

		ack, err := s.send(ctx, client, e.cmd)
		if err != nil {
			if ctx.Err() != nil {
				s.release()
				return nil
			}
			if isPermanentError(err) {
				slog.Error("shipper: permanent send error, discarding command",
					"kind", e.cmd.Kind, "identity", identityOf(e.cmd), "err", err)
				s.done(e.seq)
				continue
			}
			s.release()
			return fmt.Errorf("send %s: %w", e.cmd.Kind, err)
		}

		bo.reset()
		s.done(e.seq)
		slog.Debug("shipper: command delivered",
			"kind", e.cmd.Kind, "session", ack.SessionID, "outcome", ack.Outcome)
	}
}

// head returns the oldest queued command and marks it in flight.
func (s *Shipper) head() (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return entry{}, false
	}
	s.inFlight = true
	return s.queue[0], true
}

// release clears the in-flight mark without removing the head.
func (s *Shipper) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// done removes the entry with the given sequence number and clears the
// in-flight mark.
func (s *Shipper) done(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	for i, e := range s.queue {
		if e.seq == seq {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *Shipper) send(ctx context.Context, client *wire.IngestClient, cmd types.Command) (*wire.Ack, error) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
		sendCtx = metadata.AppendToOutgoingContext(
			sendCtx,
			s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key(),
		)
	}

	switch cmd.Kind {
	case types.KindStart:
		return client.StartBatch(sendCtx, cmd.Start)
	case types.KindEvent:
		return client.SendEvent(sendCtx, cmd.Event)
	case types.KindComplete:
		return client.CompleteBatch(sendCtx, cmd.Complete)
	}
	return nil, status.Errorf(codes.InvalidArgument, "unknown command kind %q", cmd.Kind)
}

func identityOf(cmd types.Command) interface{} {
	if cmd.Event == nil || cmd.Event.Identity == nil {
		return nil
	}
	return *cmd.Event.Identity
}

// isPermanentError returns true for gRPC errors that indicate the command
// itself cannot succeed and should not be retried. FailedPrecondition covers
// events for a session the server no longer has open.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.FailedPrecondition:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63 but DialContext is used for compat
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	switch cfg.ServerAuth.Mode {
	case "mtls":
		creds, err := buildMTLSCreds(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil

	default:
		// "apikey" injects the key per call in send(); "none" or empty is
		// plaintext for local use.
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25% jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
