package gstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
)

func putUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func putBytes(w *bytes.Buffer, b []byte) {
	putUvarint(w, uint64(len(b)))
	w.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeGetRequest(req getRequest) []byte {
	var w bytes.Buffer
	putBytes(&w, req.ID)
	return w.Bytes()
}

func decodeGetRequestBytes(data []byte) (getRequest, error) {
	r := bytes.NewReader(data)
	idBytes, err := readBytes(r)
	if err != nil {
		return getRequest{}, err
	}
	return getRequest{ID: idBytes}, nil
}

func encodeGetResponse(resp getResponse) []byte {
	var w bytes.Buffer
	if resp.Found {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	putBytes(&w, resp.Bytes)
	putBytes(&w, resp.CacheRef)
	return w.Bytes()
}

func decodeGetResponse(data []byte) (getResponse, error) {
	r := bytes.NewReader(data)
	found, err := r.ReadByte()
	if err != nil {
		return getResponse{}, err
	}
	b, err := readBytes(r)
	if err != nil {
		return getResponse{}, err
	}
	ref, err := readBytes(r)
	if err != nil {
		return getResponse{}, err
	}
	resp := getResponse{Found: found != 0, Bytes: b}
	if len(ref) > 0 {
		resp.CacheRef = ref
	}
	return resp, nil
}

func encodePutRequest(req putRequest) []byte {
	var w bytes.Buffer
	putBytes(&w, req.ID)
	putBytes(&w, req.Data)
	return w.Bytes()
}

func decodePutRequestBytes(data []byte) (putRequest, error) {
	r := bytes.NewReader(data)
	idBytes, err := readBytes(r)
	if err != nil {
		return putRequest{}, err
	}
	dataBytes, err := readBytes(r)
	if err != nil {
		return putRequest{}, err
	}
	return putRequest{ID: idBytes, Data: dataBytes}, nil
}

func encodeDeleteRequest(req deleteRequest) []byte {
	var w bytes.Buffer
	putBytes(&w, req.ID)
	return w.Bytes()
}

func decodeDeleteRequestBytes(data []byte) (deleteRequest, error) {
	r := bytes.NewReader(data)
	idBytes, err := readBytes(r)
	if err != nil {
		return deleteRequest{}, err
	}
	return deleteRequest{ID: idBytes}, nil
}

func encodeCacheReferenceBytes(ref store.CacheReference) []byte {
	var w bytes.Buffer
	w.Write(ref.ArtifactID.Raw())
	putBytes(&w, []byte(ref.RelativePath))
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], ref.ByteOffset)
	w.Write(buf[:n])
	n = binary.PutVarint(buf[:], ref.ByteLength)
	w.Write(buf[:n])
	return w.Bytes()
}

func encodePutCacheReferenceRequest(objID id.ID, ref store.CacheReference) []byte {
	var w bytes.Buffer
	w.Write(objID.Raw())
	putBytes(&w, encodeCacheReferenceBytes(ref))
	return w.Bytes()
}

func decodePutCacheReferenceRequestBytes(data []byte) (id.ID, store.CacheReference, error) {
	r := bytes.NewReader(data)
	raw := make([]byte, 33)
	if _, err := io.ReadFull(r, raw); err != nil {
		return id.ID{}, store.CacheReference{}, fmt.Errorf("gstore: decode put-cache-reference id: %w", err)
	}
	objID, err := id.FromRaw(id.Kind(raw[0]), raw)
	if err != nil {
		return id.ID{}, store.CacheReference{}, err
	}
	refBytes, err := readBytes(r)
	if err != nil {
		return id.ID{}, store.CacheReference{}, err
	}
	ref, err := decodeCacheReferenceBytes(refBytes)
	if err != nil {
		return id.ID{}, store.CacheReference{}, err
	}
	return objID, *ref, nil
}

func decodeCacheReferenceBytes(data []byte) (*store.CacheReference, error) {
	r := bytes.NewReader(data)
	raw := make([]byte, 33)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("gstore: decode cache reference id: %w", err)
	}
	artifactID, err := id.FromRaw(id.Kind(raw[0]), raw)
	if err != nil {
		return nil, err
	}
	path, err := readBytes(r)
	if err != nil {
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
		RelativePath: string(path),
		ByteOffset:   offset,
		ByteLength:   length,
	}, nil
}
