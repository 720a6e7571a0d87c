// Package grpctransport is the primary peer-to-peer transport for the
// sync engine: a bidirectional-streaming gRPC service carrying
// internal/sync.Message frames, grounded on banksean/sand's grpc+otel
// dependency stack (google.golang.org/grpc, the otelgrpc instrumentation
// wrapper).
//
// The service is defined by internal/sync/syncpb/sync.proto, but this
// package wires the grpc.ServiceDesc by hand rather than through
// protoc-gen-go-grpc generated stubs, for the same reason syncpb.Frame is
// hand-encoded: no protoc invocation runs in this tree. Wiring a
// grpc.ServiceDesc directly is itself a documented, supported extension
// point of google.golang.org/grpc, not a workaround — it's how the
// generated code is implemented under the hood.
package grpctransport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	tgsync "github.com/tangramdotdev/tangram/internal/sync"
	"github.com/tangramdotdev/tangram/internal/sync/syncpb"
)

const (
	serviceName = "tangram.sync.v1.Sync"
	methodName  = "Sync"
	fullMethod  = "/" + serviceName + "/" + methodName
)

// frameCodec marshals/unmarshals syncpb.Frame directly, overriding grpc's
// default "proto" codec (google.golang.org/grpc/encoding's registry
// documents later registrations for the same name replacing earlier
// ones) since Frame doesn't implement the full descriptor-backed
// proto.Message interface codegen would produce.
type frameCodec struct{}

func (frameCodec) Name() string { return "proto" }

func (frameCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*syncpb.Frame)
	if !ok {
		return nil, fmt.Errorf("grpctransport: codec: unsupported type %T", v)
	}
	return f.Marshal()
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*syncpb.Frame)
	if !ok {
		return fmt.Errorf("grpctransport: codec: unsupported type %T", v)
	}
	return f.Unmarshal(data)
}

func init() { encoding.RegisterCodec(frameCodec{}) }

// Handler serves inbound sync sessions accepted by a gRPC server.
type Handler interface {
	HandleSync(ctx context.Context, stream tgsync.Stream) error
}

// ServiceDesc describes the Sync service for grpc.Server.RegisterService,
// matching sync.proto's "rpc Sync(stream Frame) returns (stream Frame)".
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    methodName,
			Handler:       syncStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/sync/syncpb/sync.proto",
}

func syncStreamHandler(srv any, stream grpc.ServerStream) error {
	h, ok := srv.(Handler)
	if !ok {
		return fmt.Errorf("grpctransport: %T does not implement Handler", srv)
	}
	return h.HandleSync(stream.Context(), &serverTransport{stream: stream})
}

// Register attaches a Handler to a gRPC server.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

type serverTransport struct{ stream grpc.ServerStream }

func (t *serverTransport) Send(_ context.Context, m *tgsync.Message) error {
	return t.stream.SendMsg(&syncpb.Frame{Payload: tgsync.Encode(m)})
}

func (t *serverTransport) Recv(_ context.Context) (*tgsync.Message, error) {
	var frame syncpb.Frame
	if err := t.stream.RecvMsg(&frame); err != nil {
		return nil, err
	}
	return tgsync.Decode(frame.Payload)
}

type clientTransport struct{ stream grpc.ClientStream }

func (t *clientTransport) Send(_ context.Context, m *tgsync.Message) error {
	return t.stream.SendMsg(&syncpb.Frame{Payload: tgsync.Encode(m)})
}

func (t *clientTransport) Recv(_ context.Context) (*tgsync.Message, error) {
	var frame syncpb.Frame
	if err := t.stream.RecvMsg(&frame); err != nil {
		return nil, err
	}
	return tgsync.Decode(frame.Payload)
}

// Dial opens a sync stream against a remote over an established
// connection, returning it as a tgsync.Stream ready for Session.Run.
func Dial(ctx context.Context, cc *grpc.ClientConn) (tgsync.Stream, error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: open stream: %w", err)
	}
	return &clientTransport{stream: stream}, nil
}
