package process

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/tangramdotdev/tangram/internal/id"
)

// recordTag identifies the encoding version; Record bytes are never
// hashed into an id (process ids are random, §4.8), so the tag only
// guards against decoding a record written by an incompatible layout.
const recordTag byte = 0x20

func putUvarint(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

func putBytes(w *bytes.Buffer, b []byte) {
	putUvarint(w, uint64(len(b)))
	w.Write(b)
}

func putString(w *bytes.Buffer, s string) { putBytes(w, []byte(s)) }

func putID(w *bytes.Buffer, v id.ID) { putBytes(w, v.Raw()) }

func putOptionalID(w *bytes.Buffer, v *id.ID) {
	if v == nil {
		w.WriteByte(0)
		return
	}
	w.WriteByte(1)
	putID(w, *v)
}

func readUvarint(r *bytes.Reader) (uint64, error) { return binary.ReadUvarint(r) }

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("process: short read: %w", err)
	}
	return buf, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readID(r *bytes.Reader) (id.ID, error) {
	raw, err := readBytes(r)
	if err != nil {
		return id.ID{}, err
	}
	if len(raw) != 33 {
		return id.ID{}, fmt.Errorf("process: invalid id length %d", len(raw))
	}
	return id.FromRaw(id.Kind(raw[0]), raw)
}

func readOptionalID(r *bytes.Reader) (*id.ID, error) {
	has, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if has == 0 {
		return nil, nil
	}
	v, err := readID(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// encodeRecord produces the canonical bytes of a Record, the form stored
// under r.ID in the object store.
func encodeRecord(r *Record) []byte {
	var w bytes.Buffer
	w.WriteByte(recordTag)
	putID(&w, r.ID)
	putID(&w, r.Command)
	putOptionalID(&w, r.Parent)
	putUvarint(&w, uint64(len(r.Children)))
	for _, c := range r.Children {
		putID(&w, c)
	}
	putOptionalID(&w, r.RetryOf)
	w.WriteByte(byte(r.Status))
	w.WriteByte(byte(r.Outcome))
	putOptionalID(&w, r.Output)
	putString(&w, r.Error)
	putUvarint(&w, uint64(r.CreatedAt.UnixNano()))
	putUvarint(&w, uint64(r.depth))
	return w.Bytes()
}

// decodeRecord parses bytes produced by encodeRecord.
func decodeRecord(data []byte) (*Record, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != recordTag {
		return nil, fmt.Errorf("process: expected record tag 0x%02x, got 0x%02x", recordTag, tag)
	}
	out := &Record{}
	if out.ID, err = readID(r); err != nil {
		return nil, err
	}
	if out.Command, err = readID(r); err != nil {
		return nil, err
	}
	if out.Parent, err = readOptionalID(r); err != nil {
		return nil, err
	}
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		c, err := readID(r)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, c)
	}
	if out.RetryOf, err = readOptionalID(r); err != nil {
		return nil, err
	}
	statusByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	out.Status = Status(statusByte)
	outcomeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	out.Outcome = Outcome(outcomeByte)
	if out.Output, err = readOptionalID(r); err != nil {
		return nil, err
	}
	if out.Error, err = readString(r); err != nil {
		return nil, err
	}
	nanos, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	out.CreatedAt = time.Unix(0, int64(nanos))
	depth, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	out.depth = int(depth)
	return out, nil
}
