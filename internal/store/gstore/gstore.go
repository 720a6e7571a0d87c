// Package gstore implements internal/store.Backend over a gRPC service of
// unary RPCs on one connection, backing store.kind = scylla (the spec's "remote
// wide-column backend"). It is grounded on banksean/sand's grpc+otel
// require block; no Go repo in the retrieval pack actually wires up a
// wide-column database driver, so the remote tier here is a thin gRPC
// RPC surface a real wide-column-backed server implements, consistent
// with spec §4.3's framing that only the store contract itself (not a
// specific database) is specified.
//
// Since protoc is not run as part of this build, the wire messages are
// carried as raw bytes inside wrapperspb.BytesValue (a real, already
// compiled protobuf message from the protobuf-go runtime) rather than
// hand-written generated code, and the service itself is described with
// a plain grpc.ServiceDesc literal -- exactly the shape protoc-gen-go-grpc
// would emit, just written by hand.
package gstore

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
)

// ServiceName is the gRPC service path gstore registers and dials.
const ServiceName = "tangram.store.v1.StoreService"

// request/response wire shapes, marshaled into wrapperspb.BytesValue
// payloads via internal encode/decode helpers below.
type getRequest struct{ ID []byte }
type getResponse struct {
	Found    bool
	Bytes    []byte
	CacheRef []byte // encoded store.CacheReference, or nil
}
type putRequest struct {
	ID   []byte
	Data []byte
}
type deleteRequest struct{ ID []byte }

// Client is a gstore remote store client over one gRPC connection.
type Client struct {
	conn *grpc.ClientConn
}

var _ store.Backend = (*Client)(nil)

// Dial connects to a gstore server at target.
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("gstore: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, in []byte) ([]byte, error) {
	req := wrapperspb.Bytes(in)
	resp := new(wrapperspb.BytesValue)
	fullMethod := "/" + ServiceName + "/" + method
	if err := c.conn.Invoke(ctx, fullMethod, req, resp); err != nil {
		return nil, err
	}
	return resp.GetValue(), nil
}

// Get implements store.Backend.Get.
func (c *Client) Get(ctx context.Context, objID id.ID) (store.GetResult, error) {
	out, err := c.invoke(ctx, "Get", encodeGetRequest(getRequest{ID: objID.Raw()}))
	if err != nil {
		return store.GetResult{}, fmt.Errorf("gstore: get %s: %w", objID, err)
	}
	resp, err := decodeGetResponse(out)
	if err != nil {
		return store.GetResult{}, err
	}
	if !resp.Found {
		return store.GetResult{}, store.NotFound(objID)
	}
	result := store.GetResult{Bytes: resp.Bytes}
	if resp.CacheRef != nil {
		ref, err := decodeCacheReferenceBytes(resp.CacheRef)
		if err != nil {
			return store.GetResult{}, err
		}
		result.CacheRef = ref
		result.FromCache = true
	}
	return result, nil
}

// GetBatch implements store.Backend.GetBatch by calling Get once per id,
// in order, over the single connection; there is no one-of-N or quorum
// read.
func (c *Client) GetBatch(ctx context.Context, ids []id.ID) ([]store.GetResult, error) {
	out := make([]store.GetResult, len(ids))
	for i, objID := range ids {
		res, err := c.Get(ctx, objID)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// GetCacheReference implements store.Backend.GetCacheReference.
func (c *Client) GetCacheReference(ctx context.Context, objID id.ID) (*store.CacheReference, error) {
	res, err := c.Get(ctx, objID)
	if err != nil {
		return nil, err
	}
	return res.CacheRef, nil
}

// Put implements store.Backend.Put.
func (c *Client) Put(ctx context.Context, objID id.ID, data []byte) error {
	_, err := c.invoke(ctx, "Put", encodePutRequest(putRequest{ID: objID.Raw(), Data: data}))
	if err != nil {
		return fmt.Errorf("gstore: put %s: %w", objID, err)
	}
	return nil
}

// PutCacheReference implements store.Backend.PutCacheReference.
func (c *Client) PutCacheReference(ctx context.Context, objID id.ID, ref store.CacheReference) error {
	_, err := c.invoke(ctx, "PutCacheReference", encodePutCacheReferenceRequest(objID, ref))
	if err != nil {
		return fmt.Errorf("gstore: put cache reference %s: %w", objID, err)
	}
	return nil
}

// PutBatch implements store.Backend.PutBatch.
func (c *Client) PutBatch(ctx context.Context, items map[id.ID][]byte) error {
	for objID, data := range items {
		if err := c.Put(ctx, objID, data); err != nil {
			return err
		}
	}
	return nil
}

// Delete implements store.Backend.Delete.
func (c *Client) Delete(ctx context.Context, objID id.ID) error {
	_, err := c.invoke(ctx, "Delete", encodeDeleteRequest(deleteRequest{ID: objID.Raw()}))
	if err != nil {
		return fmt.Errorf("gstore: delete %s: %w", objID, err)
	}
	return nil
}

// DeleteBatch implements store.Backend.DeleteBatch.
func (c *Client) DeleteBatch(ctx context.Context, ids []id.ID) error {
	for _, objID := range ids {
		if err := c.Delete(ctx, objID); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements store.Backend.Flush.
func (c *Client) Flush(ctx context.Context) error {
	_, err := c.invoke(ctx, "Flush", nil)
	if err != nil {
		return fmt.Errorf("gstore: flush: %w", err)
	}
	return nil
}
