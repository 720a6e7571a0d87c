package sync

import (
	"bytes"
	"testing"
)

func TestCompressZstdRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	compressed, err := CompressZstd(payload)
	if err != nil {
		t.Fatalf("CompressZstd: %v", err)
	}
	decompressed, err := DecompressZstd(compressed)
	if err != nil {
		t.Fatalf("DecompressZstd: %v", err)
	}
	if !bytes.Equal(decompressed, payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", decompressed, payload)
	}
}

func TestNegotiateCompressionPrefersZstdWhenBothSupportIt(t *testing.T) {
	if got := NegotiateCompression([]string{"zstd"}, true); got != "zstd" {
		t.Fatalf("got %q, want zstd", got)
	}
}

func TestNegotiateCompressionFallsBackToNone(t *testing.T) {
	if got := NegotiateCompression([]string{"gzip"}, true); got != "none" {
		t.Fatalf("got %q, want none", got)
	}
	if got := NegotiateCompression([]string{"zstd"}, false); got != "none" {
		t.Fatalf("got %q, want none when local doesn't prefer zstd", got)
	}
}
