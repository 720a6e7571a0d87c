package gstore

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
	"github.com/tangramdotdev/tangram/internal/tgerror"
)

// Server adapts any store.Backend to the gstore wire protocol, so a
// process holding a local/composite backend can serve it to remote
// gstore.Client peers.
type Server struct {
	Backend store.Backend
}

func (s *Server) handleGet(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := decodeGetRequestBytes(in.GetValue())
	if err != nil {
		return nil, err
	}
	objID, err := id.FromRaw(id.Kind(req.ID[0]), req.ID)
	if err != nil {
		return nil, err
	}
	res, err := s.Backend.Get(ctx, objID)
	if err != nil {
		if kind, ok := tgerror.KindOf(err); ok && kind == tgerror.NotFound {
			return wrapperspb.Bytes(encodeGetResponse(getResponse{Found: false})), nil
		}
		return nil, err
	}
	resp := getResponse{Found: true, Bytes: res.Bytes}
	if res.CacheRef != nil {
		resp.CacheRef = encodeCacheReferenceBytes(*res.CacheRef)
	}
	return wrapperspb.Bytes(encodeGetResponse(resp)), nil
}

func (s *Server) handlePut(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := decodePutRequestBytes(in.GetValue())
	if err != nil {
		return nil, err
	}
	objID, err := id.FromRaw(id.Kind(req.ID[0]), req.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Backend.Put(ctx, objID, req.Data); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(nil), nil
}

func (s *Server) handlePutCacheReference(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	objID, ref, err := decodePutCacheReferenceRequestBytes(in.GetValue())
	if err != nil {
		return nil, err
	}
	if err := s.Backend.PutCacheReference(ctx, objID, ref); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(nil), nil
}

func (s *Server) handleDelete(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := decodeDeleteRequestBytes(in.GetValue())
	if err != nil {
		return nil, err
	}
	objID, err := id.FromRaw(id.Kind(req.ID[0]), req.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Backend.Delete(ctx, objID); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(nil), nil
}

func (s *Server) handleFlush(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.Backend.Flush(ctx); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(nil), nil
}

// ServiceDesc describes the StoreService the way protoc-gen-go-grpc would
// generate it, written by hand since protoc is not run in this build.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler((*Server).handleGet)},
		{MethodName: "Put", Handler: unaryHandler((*Server).handlePut)},
		{MethodName: "PutCacheReference", Handler: unaryHandler((*Server).handlePutCacheReference)},
		{MethodName: "Delete", Handler: unaryHandler((*Server).handleDelete)},
		{MethodName: "Flush", Handler: unaryHandler((*Server).handleFlush)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tangram/store.proto",
}

type unaryFunc func(*Server, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)

func unaryHandler(fn unaryFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(*Server), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(*Server), ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Register attaches the StoreService implementation to a gRPC server.
func Register(s *grpc.Server, backend store.Backend) {
	s.RegisterService(&ServiceDesc, &Server{Backend: backend})
}
