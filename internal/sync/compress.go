// Package-level compression support for framed sync transports: frame
// payloads are optionally zstd-compressed, negotiated the way
// NegotiateCompression picks a codec from a local preference and a
// remote's advertised capability list, adapted from the teacher's
// internal/proto/negotitate.go (kept here rather than as a standalone
// internal/proto package, since its only caller is this transport).
package sync

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// NegotiateCompression picks the best codec both ends support: zstd if
// both advertise it and the local side prefers it, otherwise "none".
// Only zstd is implemented, so any other advertised codec name is
// ignored.
func NegotiateCompression(remoteCaps []string, preferZstd bool) string {
	hasZstd := false
	for _, c := range remoteCaps {
		if c == "zstd" {
			hasZstd = true
		}
	}
	if preferZstd && hasZstd {
		return "zstd"
	}
	return "none"
}

// CompressZstd compresses payload with a fresh encoder at the default
// speed level.
func CompressZstd(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("sync: zstd writer: %w", err)
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		return nil, fmt.Errorf("sync: zstd write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("sync: zstd close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressZstd reverses CompressZstd.
func DecompressZstd(payload []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sync: zstd reader: %w", err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("sync: zstd read: %w", err)
	}
	return out, nil
}
