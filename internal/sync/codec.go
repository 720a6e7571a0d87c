package sync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tangramdotdev/tangram/internal/id"
)

// Wire tags for the Message union and its nested unions. The layout is
// the same uvarint-length-prefixed-field style internal/objectcodec uses
// for object records: a tag byte, then fields in fixed order.
const (
	tagMessageGet byte = 0x01
	tagMessagePut byte = 0x02
	tagMessageEnd byte = 0x03

	tagGetItem     byte = 0x01
	tagGetComplete byte = 0x02
	tagGetProgress byte = 0x03
	tagGetEnd      byte = 0x04

	tagPutItem     byte = 0x01
	tagPutMissing  byte = 0x02
	tagPutProgress byte = 0x03
	tagPutEnd      byte = 0x04

	tagItemProcess byte = 0x01
	tagItemObject  byte = 0x02
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

func putID(w *bytes.Buffer, i id.ID) { putBytes(w, i.Raw()) }

func putBool(w *bytes.Buffer, b bool) {
	if b {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func readUvarint(r *bytes.Reader) (uint64, error) { return binary.ReadUvarint(r) }

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readByte(r *bytes.Reader) (byte, error) { return r.ReadByte() }

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readItemID(r *bytes.Reader, kind ItemKind) (id.ID, error) {
	raw, err := readBytes(r)
	if err != nil {
		return id.ID{}, err
	}
	k := idKindForItem(kind, raw)
	return id.FromRaw(k, raw)
}

// idKindForItem picks the id.Kind tag embedded in raw: it is always the
// first byte of the payload, so the item union doesn't need to separately
// disambiguate directory/file/.../process ids beyond process-vs-object.
func idKindForItem(_ ItemKind, raw []byte) id.Kind {
	if len(raw) == 0 {
		return 0
	}
	return id.Kind(raw[0])
}

// Encode serializes a Message into its length-prefixed-free canonical
// form; framing (the uvarint length prefix) is added by the transport.
func Encode(m *Message) []byte {
	var w bytes.Buffer
	switch m.Kind {
	case MessageGet:
		w.WriteByte(tagMessageGet)
		encodeGet(&w, m.Get)
	case MessagePut:
		w.WriteByte(tagMessagePut)
		encodePut(&w, m.Put)
	case MessageEnd:
		w.WriteByte(tagMessageEnd)
	}
	return w.Bytes()
}

func encodeGet(w *bytes.Buffer, g *GetMessage) {
	switch g.Kind {
	case GetItem:
		w.WriteByte(tagGetItem)
		encodeItemKind(w, g.Item.Kind)
		putID(w, g.Item.ID)
		putBool(w, g.Item.Eager)
	case GetComplete:
		w.WriteByte(tagGetComplete)
		encodeItemKind(w, g.Complete.Kind)
		putID(w, g.Complete.ID)
		putBool(w, g.Complete.ChildrenComplete)
		putBool(w, g.Complete.CommandComplete)
		putBool(w, g.Complete.ChildrenCommandsComplete)
		putBool(w, g.Complete.OutputComplete)
		putBool(w, g.Complete.ChildrenOutputsComplete)
	case GetProgress:
		w.WriteByte(tagGetProgress)
		encodeProgress(w, g.Progress)
	case GetEnd:
		w.WriteByte(tagGetEnd)
	}
}

func encodePut(w *bytes.Buffer, p *PutMessage) {
	switch p.Kind {
	case PutItem:
		w.WriteByte(tagPutItem)
		encodeItemKind(w, p.Item.Kind)
		putID(w, p.Item.ID)
		putBytes(w, p.Item.Bytes)
	case PutMissing:
		w.WriteByte(tagPutMissing)
		encodeItemKind(w, p.Missing.Kind)
		putID(w, p.Missing.ID)
	case PutProgress:
		w.WriteByte(tagPutProgress)
		encodeProgress(w, p.Progress)
	case PutEnd:
		w.WriteByte(tagPutEnd)
	}
}

func encodeItemKind(w *bytes.Buffer, k ItemKind) {
	if k == ItemProcess {
		w.WriteByte(tagItemProcess)
	} else {
		w.WriteByte(tagItemObject)
	}
}

func encodeProgress(w *bytes.Buffer, p *ProgressMessage) {
	putUvarint(w, p.Processes)
	putUvarint(w, p.Objects)
	putUvarint(w, p.Bytes)
}

// Decode parses a Message from its canonical form, the inverse of Encode.
func Decode(data []byte) (*Message, error) {
	r := bytes.NewReader(data)
	tag, err := readByte(r)
	if err != nil {
		return nil, fmt.Errorf("sync: decode message tag: %w", err)
	}
	switch tag {
	case tagMessageGet:
		g, err := decodeGet(r)
		if err != nil {
			return nil, err
		}
		return &Message{Kind: MessageGet, Get: g}, nil
	case tagMessagePut:
		p, err := decodePut(r)
		if err != nil {
			return nil, err
		}
		return &Message{Kind: MessagePut, Put: p}, nil
	case tagMessageEnd:
		return &Message{Kind: MessageEnd}, nil
	default:
		return nil, fmt.Errorf("sync: unknown message tag %#x", tag)
	}
}

func decodeItemKind(r *bytes.Reader) (ItemKind, error) {
	b, err := readByte(r)
	if err != nil {
		return 0, err
	}
	if b == tagItemProcess {
		return ItemProcess, nil
	}
	return ItemObject, nil
}

func decodeGet(r *bytes.Reader) (*GetMessage, error) {
	tag, err := readByte(r)
	if err != nil {
		return nil, fmt.Errorf("sync: decode get tag: %w", err)
	}
	switch tag {
	case tagGetItem:
		kind, err := decodeItemKind(r)
		if err != nil {
			return nil, err
		}
		i, err := readItemID(r, kind)
		if err != nil {
			return nil, fmt.Errorf("sync: decode get-item id: %w", err)
		}
		eager, err := readBool(r)
		if err != nil {
			return nil, err
		}
		return &GetMessage{Kind: GetItem, Item: &GetItemMessage{Kind: kind, ID: i, Eager: eager}}, nil
	case tagGetComplete:
		kind, err := decodeItemKind(r)
		if err != nil {
			return nil, err
		}
		i, err := readItemID(r, kind)
		if err != nil {
			return nil, fmt.Errorf("sync: decode get-complete id: %w", err)
		}
		c := &GetCompleteMessage{Kind: kind, ID: i}
		flags := []*bool{&c.ChildrenComplete, &c.CommandComplete, &c.ChildrenCommandsComplete, &c.OutputComplete, &c.ChildrenOutputsComplete}
		for _, f := range flags {
			*f, err = readBool(r)
			if err != nil {
				return nil, err
			}
		}
		return &GetMessage{Kind: GetComplete, Complete: c}, nil
	case tagGetProgress:
		p, err := decodeProgress(r)
		if err != nil {
			return nil, err
		}
		return &GetMessage{Kind: GetProgress, Progress: p}, nil
	case tagGetEnd:
		return &GetMessage{Kind: GetEnd}, nil
	default:
		return nil, fmt.Errorf("sync: unknown get tag %#x", tag)
	}
}

func decodePut(r *bytes.Reader) (*PutMessage, error) {
	tag, err := readByte(r)
	if err != nil {
		return nil, fmt.Errorf("sync: decode put tag: %w", err)
	}
	switch tag {
	case tagPutItem:
		kind, err := decodeItemKind(r)
		if err != nil {
			return nil, err
		}
		i, err := readItemID(r, kind)
		if err != nil {
			return nil, fmt.Errorf("sync: decode put-item id: %w", err)
		}
		data, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return &PutMessage{Kind: PutItem, Item: &PutItemMessage{Kind: kind, ID: i, Bytes: data}}, nil
	case tagPutMissing:
		kind, err := decodeItemKind(r)
		if err != nil {
			return nil, err
		}
		i, err := readItemID(r, kind)
		if err != nil {
			return nil, fmt.Errorf("sync: decode put-missing id: %w", err)
		}
		return &PutMessage{Kind: PutMissing, Missing: &PutMissingMessage{Kind: kind, ID: i}}, nil
	case tagPutProgress:
		p, err := decodeProgress(r)
		if err != nil {
			return nil, err
		}
		return &PutMessage{Kind: PutProgress, Progress: p}, nil
	case tagPutEnd:
		return &PutMessage{Kind: PutEnd}, nil
	default:
		return nil, fmt.Errorf("sync: unknown put tag %#x", tag)
	}
}

func decodeProgress(r *bytes.Reader) (*ProgressMessage, error) {
	processes, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	objects, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	b, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	return &ProgressMessage{Processes: processes, Objects: objects, Bytes: b}, nil
}
