package boltindex

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/index"
)

func putUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func putString(w *bytes.Buffer, s string) {
	putUvarint(w, uint64(len(s)))
	w.WriteString(s)
}

func putTime(w *bytes.Buffer, t time.Time) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixNano()))
	w.Write(buf[:])
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readTime(r *bytes.Reader) (time.Time, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(buf[:]))).UTC(), nil
}

func readID(r *bytes.Reader) (id.ID, error) {
	raw := make([]byte, 33)
	if _, err := io.ReadFull(r, raw); err != nil {
		return id.ID{}, err
	}
	return id.FromRaw(id.Kind(raw[0]), raw)
}

func encodeObjectMetadata(m index.ObjectMetadata) []byte {
	var w bytes.Buffer
	w.Write(m.ID.Raw())
	putTime(&w, m.TouchedAt)
	if m.Complete {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
	var sizeBuf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(sizeBuf[:], m.SizeBytes)
	w.Write(sizeBuf[:n])
	putUvarint(&w, uint64(len(m.Stored)))
	for k, v := range m.Stored {
		putString(&w, k)
		if v {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	}
	putUvarint(&w, uint64(len(m.ChildrenIDs)))
	for _, c := range m.ChildrenIDs {
		w.Write(c.Raw())
	}
	return w.Bytes()
}

func decodeObjectMetadata(data []byte) (*index.ObjectMetadata, error) {
	r := bytes.NewReader(data)
	objID, err := readID(r)
	if err != nil {
		return nil, err
	}
	touched, err := readTime(r)
	if err != nil {
		return nil, err
	}
	completeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	size, err := binary.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	nStored, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]bool, nStored)
	for i := uint64(0); i < nStored; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		vByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		stored[k] = vByte != 0
	}
	nChildren, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	children := make([]id.ID, 0, nChildren)
	for i := uint64(0); i < nChildren; i++ {
		c, err := readID(r)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return &index.ObjectMetadata{
		ID:          objID,
		TouchedAt:   touched,
		Stored:      stored,
		Complete:    completeByte != 0,
		SizeBytes:   size,
		ChildrenIDs: children,
	}, nil
}

func encodeProcessMetadata(m index.ProcessMetadata) []byte {
	var w bytes.Buffer
	w.Write(m.ID.Raw())
	putTime(&w, m.TouchedAt)
	putString(&w, m.Status)
	for _, b := range []bool{m.ChildrenComplete, m.CommandComplete, m.ChildrenCommandsComplete, m.OutputComplete, m.ChildrenOutputsComplete} {
		if b {
			w.WriteByte(1)
		} else {
			w.WriteByte(0)
		}
	}
	return w.Bytes()
}

func decodeProcessMetadata(data []byte) (*index.ProcessMetadata, error) {
	r := bytes.NewReader(data)
	procID, err := readID(r)
	if err != nil {
		return nil, err
	}
	touched, err := readTime(r)
	if err != nil {
		return nil, err
	}
	status, err := readString(r)
	if err != nil {
		return nil, err
	}
	flags := make([]bool, 5)
	for i := range flags {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		flags[i] = b != 0
	}
	return &index.ProcessMetadata{
		ID:                       procID,
		TouchedAt:                touched,
		Status:                   status,
		ChildrenComplete:         flags[0],
		CommandComplete:          flags[1],
		ChildrenCommandsComplete: flags[2],
		OutputComplete:           flags[3],
		ChildrenOutputsComplete:  flags[4],
	}, nil
}

func encodeTagMetadata(m index.TagMetadata) []byte {
	var w bytes.Buffer
	w.Write(m.ItemID.Raw())
	putTime(&w, m.TouchedAt)
	return w.Bytes()
}

func decodeTagMetadata(tag string, data []byte) (*index.TagMetadata, error) {
	r := bytes.NewReader(data)
	itemID, err := readID(r)
	if err != nil {
		return nil, err
	}
	touched, err := readTime(r)
	if err != nil {
		return nil, err
	}
	return &index.TagMetadata{Tag: tag, ItemID: itemID, TouchedAt: touched}, nil
}

func encodeCacheEntryMetadata(m index.CacheEntryMetadata) []byte {
	var w bytes.Buffer
	w.Write(m.ID.Raw())
	putTime(&w, m.TouchedAt)
	var sizeBuf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(sizeBuf[:], m.SizeBytes)
	w.Write(sizeBuf[:n])
	putString(&w, m.DiskPath)
	return w.Bytes()
}

func decodeCacheEntryMetadata(data []byte) (*index.CacheEntryMetadata, error) {
	r := bytes.NewReader(data)
	entryID, err := readID(r)
	if err != nil {
		return nil, err
	}
	touched, err := readTime(r)
	if err != nil {
		return nil, err
	}
	size, err := binary.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	path, err := readString(r)
	if err != nil {
		return nil, err
	}
	return &index.CacheEntryMetadata{ID: entryID, TouchedAt: touched, SizeBytes: size, DiskPath: path}, nil
}
