package boltstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
)

func encodeCacheReference(ref store.CacheReference) []byte {
	var w bytes.Buffer
	w.Write(ref.ArtifactID.Raw())
	putUvarint(&w, uint64(len(ref.RelativePath)))
	w.WriteString(ref.RelativePath)
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], ref.ByteOffset)
	w.Write(buf[:n])
	n = binary.PutVarint(buf[:], ref.ByteLength)
	w.Write(buf[:n])
	return w.Bytes()
}

func putUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func decodeCacheReference(data []byte) (*store.CacheReference, error) {
	r := bytes.NewReader(data)
	raw := make([]byte, 33)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("boltstore: decode cache reference id: %w", err)
	}
	artifactID, err := id.FromRaw(id.Kind(raw[0]), raw)
	if err != nil {
		return nil, err
	}
	pathLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return nil, err
	}
	offset, err := binary.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	length, err := binary.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	return &store.CacheReference{
		ArtifactID:   artifactID,
		RelativePath: string(pathBytes),
		ByteOffset:   offset,
		ByteLength:   length,
	}, nil
}
