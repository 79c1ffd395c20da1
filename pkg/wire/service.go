package wire

import (
	"context"

	"google.golang.org/grpc"

	"github.com/probewatch/probewatch/pkg/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "probewatch.v1.IngestService"

// Full method names.
const (
	MethodStartBatch    = "/" + ServiceName + "/StartBatch"
	MethodSendEvent     = "/" + ServiceName + "/SendEvent"
	MethodCompleteBatch = "/" + ServiceName + "/CompleteBatch"
)

// Ack is the response to every IngestService call.
type Ack struct {
	Ok        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Order     int    `json:"order,omitempty"`
}

// IngestServer is implemented by the server-side receiver.
type IngestServer interface {
	StartBatch(context.Context, *types.BatchStart) (*Ack, error)
	SendEvent(context.Context, *types.Event) (*Ack, error)
	CompleteBatch(context.Context, *types.BatchComplete) (*Ack, error)
}

// RegisterIngestServer registers srv with s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ingestServiceDesc, srv)
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartBatch", Handler: startBatchHandler},
		{MethodName: "SendEvent", Handler: sendEventHandler},
		{MethodName: "CompleteBatch", Handler: completeBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "probewatch/v1/ingest",
}

func startBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.BatchStart)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).StartBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodStartBatch}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).StartBatch(ctx, req.(*types.BatchStart))
	}
	return interceptor(ctx, in, info, handler)
}

func sendEventHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.Event)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).SendEvent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSendEvent}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).SendEvent(ctx, req.(*types.Event))
	}
	return interceptor(ctx, in, info, handler)
}

func completeBatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.BatchComplete)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).CompleteBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCompleteBatch}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IngestServer).CompleteBatch(ctx, req.(*types.BatchComplete))
	}
	return interceptor(ctx, in, info, handler)
}

// IngestClient calls IngestService.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient wraps an open connection.
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

// StartBatch announces a new batch.
func (c *IngestClient) StartBatch(ctx context.Context, in *types.BatchStart, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, MethodStartBatch, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// SendEvent delivers one probe event.
func (c *IngestClient) SendEvent(ctx context.Context, in *types.Event, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, MethodSendEvent, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteBatch closes the batch.
func (c *IngestClient) CompleteBatch(ctx context.Context, in *types.BatchComplete, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, MethodCompleteBatch, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// withCodec prepends the JSON content subtype so callers never have to.
func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
