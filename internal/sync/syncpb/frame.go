// Package syncpb holds the wire schema for the gRPC sync transport
// (sync.proto) and Frame, its single message type.
//
// Frame is hand-encoded with google.golang.org/protobuf/encoding/protowire
// rather than generated by protoc-gen-go: the schema is one field (a
// length-delimited bytes payload), too simple to justify a full
// descriptor-backed generated message, and this tree has no protoc
// invocation in its build. protowire is the same low-level wire-format
// package protoc-gen-go's generated Marshal/Unmarshal bodies call into,
// so Frame round-trips identically to what codegen would produce for
// this schema.
package syncpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const payloadFieldNumber = 1

// Frame is the sole message the Sync gRPC service streams; its payload
// carries internal/sync's canonically encoded Message bytes.
type Frame struct {
	Payload []byte
}

// Marshal encodes f as a protobuf message matching sync.proto's Frame.
func (f *Frame) Marshal() ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, payloadFieldNumber, protowire.BytesType)
	buf = protowire.AppendBytes(buf, f.Payload)
	return buf, nil
}

// Unmarshal decodes data into f, the inverse of Marshal.
func (f *Frame) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("syncpb: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == payloadFieldNumber && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("syncpb: consume payload: %w", protowire.ParseError(n))
			}
			f.Payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("syncpb: skip unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
