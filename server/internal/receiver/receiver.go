package receiver

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/probewatch/probewatch/pkg/types"
	"github.com/probewatch/probewatch/pkg/wire"
	"github.com/probewatch/probewatch/server/internal/ingest"
	"github.com/probewatch/probewatch/server/internal/store"
)

// Receiver implements wire.IngestServer on top of an ingest.Funnel.
type Receiver struct {
	funnel *ingest.Funnel
}

// New creates a Receiver that submits accepted calls to f.
func New(f *ingest.Funnel) *Receiver {
	return &Receiver{funnel: f}
}

// StartBatch opens a new session, replacing any current one.
func (r *Receiver) StartBatch(ctx context.Context, in *types.BatchStart) (*wire.Ack, error) {
	v, err := r.funnel.Start(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &wire.Ack{Ok: true, SessionID: v.ID}, nil
}

// SendEvent merges one probe event into the current session.
func (r *Receiver) SendEvent(ctx context.Context, in *types.Event) (*wire.Ack, error) {
	res, err := r.funnel.Event(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	slog.Debug("receiver: event accepted", "identity", res.Identity, "outcome", res.Outcome.String())
	return &wire.Ack{Ok: true, Outcome: res.Outcome.String(), Order: res.Order}, nil
}

// CompleteBatch finalizes the current session.
func (r *Receiver) CompleteBatch(ctx context.Context, in *types.BatchComplete) (*wire.Ack, error) {
	v, err := r.funnel.Complete(ctx, *in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &wire.Ack{Ok: true, SessionID: v.ID}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrMalformedEvent), errors.Is(err, store.ErrInvalidTotal):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNoActiveSession), errors.Is(err, store.ErrSessionClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ingest.ErrBusy):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ingest.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	slog.Error("receiver: unexpected ingest error", "err", err)
	return status.Error(codes.Internal, err.Error())
}
