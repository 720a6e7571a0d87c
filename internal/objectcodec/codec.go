// Package objectcodec implements the canonical byte encoding for every
// object kind (directory, file, symlink, graph, command) that
// internal/id.New hashes to produce an id. The layout generalizes the
// teacher's internal/hamtdir encodeLeaf/encodeInternal/parse trio and
// internal/fsmerkle's CanonicalBytes methods, which only cover two node
// shapes, to all five non-blob object kinds named in the data model.
//
// Every encoding is a tag byte followed by a sequence of uvarint-length-
// prefixed fields in a fixed field order, so encode/decode round-trip
// byte-for-byte and two semantically equal objects always produce the
// same bytes.
package objectcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/tangramdotdev/tangram/internal/graph"
	"github.com/tangramdotdev/tangram/internal/id"
)

const (
	tagDirectory byte = 0x10
	tagFile      byte = 0x11
	tagSymlink   byte = 0x12
	tagGraph     byte = 0x13
	tagCommand   byte = 0x14

	refKindID      byte = 0x01
	refKindPath    byte = 0x02
	refKindTag     byte = 0x03
	refKindPointer byte = 0x04
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

func putString(w *bytes.Buffer, s string) { putBytes(w, []byte(s)) }

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("objectcodec: short read: %w", err)
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

// EncodeReferent writes a Referent. Exactly one variant (id/path/tag) is
// emitted; Subpath always follows as an optional trailing field.
func EncodeReferent(w *bytes.Buffer, r graph.Referent) {
	switch {
	case r.ID != nil:
		w.WriteByte(refKindID)
		putBytes(w, r.ID.Raw())
	case r.Tag != "":
		w.WriteByte(refKindTag)
		putString(w, r.Tag)
	default:
		w.WriteByte(refKindPath)
		putString(w, r.Path)
	}
	putString(w, r.Subpath)
}

// DecodeReferent reads a Referent written by EncodeReferent.
func DecodeReferent(r *bytes.Reader) (graph.Referent, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return graph.Referent{}, err
	}
	var ref graph.Referent
	switch kindByte {
	case refKindID:
		raw, err := readBytes(r)
		if err != nil {
			return graph.Referent{}, err
		}
		if len(raw) != 33 {
			return graph.Referent{}, fmt.Errorf("objectcodec: invalid referent id length %d", len(raw))
		}
		parsed, err := id.FromRaw(id.Kind(raw[0]), raw)
		if err != nil {
			return graph.Referent{}, err
		}
		ref.ID = &parsed
	case refKindTag:
		tag, err := readString(r)
		if err != nil {
			return graph.Referent{}, err
		}
		ref.Tag = tag
	case refKindPath:
		p, err := readString(r)
		if err != nil {
			return graph.Referent{}, err
		}
		ref.Path = p
	default:
		return graph.Referent{}, fmt.Errorf("objectcodec: unknown referent kind byte 0x%02x", kindByte)
	}
	subpath, err := readString(r)
	if err != nil {
		return graph.Referent{}, err
	}
	ref.Subpath = subpath
	return ref, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func encodePointer(w *bytes.Buffer, p graph.Pointer) {
	putBytes(w, p.GraphID.Raw())
	putUvarint(w, uint64(p.Index))
	w.WriteByte(byte(p.Kind))
}

func decodePointer(r *bytes.Reader) (graph.Pointer, error) {
	raw, err := readBytes(r)
	if err != nil {
		return graph.Pointer{}, err
	}
	if len(raw) != 33 {
		return graph.Pointer{}, fmt.Errorf("objectcodec: invalid pointer graph id length %d", len(raw))
	}
	// An all-zero GraphID is the encoding of a self-reference within the
	// graph currently being decoded (mirroring the original
	// implementation's pointer.graph = None): leave it as the unset id
	// rather than round-tripping it through FromRaw, which would mark it
	// set and defeat id.ID.IsZero() for every caller resolving this
	// pointer.
	var graphID id.ID
	if !isAllZero(raw) {
		graphID, err = id.FromRaw(id.Kind(raw[0]), raw)
		if err != nil {
			return graph.Pointer{}, err
		}
	}
	idx, err := readUvarint(r)
	if err != nil {
		return graph.Pointer{}, err
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return graph.Pointer{}, err
	}
	return graph.Pointer{GraphID: graphID, Index: int(idx), Kind: id.Kind(kindByte)}, nil
}

func encodeEdge(w *bytes.Buffer, e graph.Edge) {
	if e.Pointer != nil {
		w.WriteByte(refKindPointer)
		encodePointer(w, *e.Pointer)
		return
	}
	var ref graph.Referent
	if e.Referent != nil {
		ref = *e.Referent
	}
	EncodeReferent(w, ref)
}

func decodeEdge(r *bytes.Reader) (graph.Edge, error) {
	peek, err := r.ReadByte()
	if err != nil {
		return graph.Edge{}, err
	}
	if err := r.UnreadByte(); err != nil {
		return graph.Edge{}, err
	}
	if peek == refKindPointer {
		if _, err := r.ReadByte(); err != nil {
			return graph.Edge{}, err
		}
		p, err := decodePointer(r)
		if err != nil {
			return graph.Edge{}, err
		}
		return graph.Edge{Pointer: &p}, nil
	}
	ref, err := DecodeReferent(r)
	if err != nil {
		return graph.Edge{}, err
	}
	return graph.Edge{Referent: &ref}, nil
}

// EncodeDirectory produces the canonical bytes of a directory object.
// Entries are sorted by name so that two directories with the same
// contents always hash identically regardless of construction order.
func EncodeDirectory(d *graph.Directory) []byte {
	entries := append([]graph.DirectoryEntry(nil), d.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	var w bytes.Buffer
	w.WriteByte(tagDirectory)
	if len(entries) == 0 {
		// Canonical zero-entry payload is the tag byte alone; the entry
		// count is implied rather than written as an explicit zero.
		return w.Bytes()
	}
	putUvarint(&w, uint64(len(entries)))
	for _, e := range entries {
		putString(&w, e.Name)
		encodeEdge(&w, e.Edge)
	}
	return w.Bytes()
}

// DecodeDirectory parses bytes produced by EncodeDirectory.
func DecodeDirectory(data []byte) (*graph.Directory, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != tagDirectory {
		return nil, fmt.Errorf("objectcodec: expected directory tag, got 0x%02x", tag)
	}
	if r.Len() == 0 {
		return &graph.Directory{}, nil
	}
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	d := &graph.Directory{Entries: make([]graph.DirectoryEntry, 0, n)}
	for i := uint64(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		edge, err := decodeEdge(r)
		if err != nil {
			return nil, err
		}
		d.Entries = append(d.Entries, graph.DirectoryEntry{Name: name, Edge: edge})
	}
	return d, nil
}

// EncodeFile produces the canonical bytes of a file object.
func EncodeFile(f *graph.File) []byte {
	var w bytes.Buffer
	w.WriteByte(tagFile)
	putBytes(&w, f.Contents.Raw())
	if f.Executable {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}

	keys := make([]string, 0, len(f.Dependencies))
	for k := range f.Dependencies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	putUvarint(&w, uint64(len(keys)))
	for _, k := range keys {
		putString(&w, k)
		EncodeReferent(&w, f.Dependencies[k])
	}
	return w.Bytes()
}

// DecodeFile parses bytes produced by EncodeFile.
func DecodeFile(data []byte) (*graph.File, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != tagFile {
		return nil, fmt.Errorf("objectcodec: expected file tag, got 0x%02x", tag)
	}
	raw, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	if len(raw) != 33 {
		return nil, fmt.Errorf("objectcodec: invalid file contents id length %d", len(raw))
	}
	contents, err := id.FromRaw(id.Kind(raw[0]), raw)
	if err != nil {
		return nil, err
	}
	execByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	f := &graph.File{Contents: contents, Executable: execByte != 0}
	if n > 0 {
		f.Dependencies = make(map[string]graph.Referent, n)
	}
	for i := uint64(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		ref, err := DecodeReferent(r)
		if err != nil {
			return nil, err
		}
		f.Dependencies[k] = ref
	}
	return f, nil
}

// EncodeSymlink produces the canonical bytes of a symlink object.
func EncodeSymlink(s *graph.Symlink) []byte {
	var w bytes.Buffer
	w.WriteByte(tagSymlink)
	if s.Artifact != nil {
		w.WriteByte(1)
		EncodeReferent(&w, *s.Artifact)
	} else {
		w.WriteByte(0)
		putString(&w, s.Target)
	}
	putString(&w, s.Subpath)
	return w.Bytes()
}

// DecodeSymlink parses bytes produced by EncodeSymlink.
func DecodeSymlink(data []byte) (*graph.Symlink, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != tagSymlink {
		return nil, fmt.Errorf("objectcodec: expected symlink tag, got 0x%02x", tag)
	}
	hasArtifact, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	s := &graph.Symlink{}
	if hasArtifact != 0 {
		ref, err := DecodeReferent(r)
		if err != nil {
			return nil, err
		}
		s.Artifact = &ref
	} else {
		target, err := readString(r)
		if err != nil {
			return nil, err
		}
		s.Target = target
	}
	subpath, err := readString(r)
	if err != nil {
		return nil, err
	}
	s.Subpath = subpath
	return s, nil
}

func encodeGraphNode(w *bytes.Buffer, n graph.GraphNode) {
	w.WriteByte(byte(n.Kind))
	switch n.Kind {
	case graph.GraphNodeDirectory:
		putBytes(w, EncodeDirectory(n.Directory))
	case graph.GraphNodeFile:
		putBytes(w, EncodeFile(n.File))
	case graph.GraphNodeSymlink:
		putBytes(w, EncodeSymlink(n.Symlink))
	}
}

func decodeGraphNode(r *bytes.Reader) (graph.GraphNode, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return graph.GraphNode{}, err
	}
	payload, err := readBytes(r)
	if err != nil {
		return graph.GraphNode{}, err
	}
	n := graph.GraphNode{Kind: graph.GraphNodeKind(kindByte)}
	switch n.Kind {
	case graph.GraphNodeDirectory:
		d, err := DecodeDirectory(payload)
		if err != nil {
			return graph.GraphNode{}, err
		}
		n.Directory = d
	case graph.GraphNodeFile:
		f, err := DecodeFile(payload)
		if err != nil {
			return graph.GraphNode{}, err
		}
		n.File = f
	case graph.GraphNodeSymlink:
		s, err := DecodeSymlink(payload)
		if err != nil {
			return graph.GraphNode{}, err
		}
		n.Symlink = s
	default:
		return graph.GraphNode{}, fmt.Errorf("objectcodec: unknown graph node kind %d", kindByte)
	}
	return n, nil
}

// EncodeGraph produces the canonical bytes of a graph object. Node order
// is significant (pointers address nodes by index) and is preserved as-is.
func EncodeGraph(g *graph.Graph) []byte {
	var w bytes.Buffer
	w.WriteByte(tagGraph)
	putUvarint(&w, uint64(len(g.Nodes)))
	for _, n := range g.Nodes {
		encodeGraphNode(&w, n)
	}
	return w.Bytes()
}

// DecodeGraph parses bytes produced by EncodeGraph.
func DecodeGraph(data []byte) (*graph.Graph, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != tagGraph {
		return nil, fmt.Errorf("objectcodec: expected graph tag, got 0x%02x", tag)
	}
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	g := &graph.Graph{Nodes: make([]graph.GraphNode, 0, n)}
	for i := uint64(0); i < n; i++ {
		node, err := decodeGraphNode(r)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, node)
	}
	return g, nil
}

// EncodeCommand produces the canonical bytes of a command object.
func EncodeCommand(c *graph.Command) []byte {
	var w bytes.Buffer
	w.WriteByte(tagCommand)
	EncodeReferent(&w, c.Executable)
	putUvarint(&w, uint64(len(c.Args)))
	for _, a := range c.Args {
		EncodeReferent(&w, a)
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	putUvarint(&w, uint64(len(keys)))
	for _, k := range keys {
		putString(&w, k)
		EncodeReferent(&w, c.Env[k])
	}
	putString(&w, c.Host)
	putString(&w, c.Cwd)
	return w.Bytes()
}

// DecodeCommand parses bytes produced by EncodeCommand.
func DecodeCommand(data []byte) (*graph.Command, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != tagCommand {
		return nil, fmt.Errorf("objectcodec: expected command tag, got 0x%02x", tag)
	}
	exe, err := DecodeReferent(r)
	if err != nil {
		return nil, err
	}
	c := &graph.Command{Executable: exe}
	nArgs, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < nArgs; i++ {
		a, err := DecodeReferent(r)
		if err != nil {
			return nil, err
		}
		c.Args = append(c.Args, a)
	}
	nEnv, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if nEnv > 0 {
		c.Env = make(map[string]graph.Referent, nEnv)
	}
	for i := uint64(0); i < nEnv; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := DecodeReferent(r)
		if err != nil {
			return nil, err
		}
		c.Env[k] = v
	}
	host, err := readString(r)
	if err != nil {
		return nil, err
	}
	c.Host = host
	cwd, err := readString(r)
	if err != nil {
		return nil, err
	}
	c.Cwd = cwd
	return c, nil
}

// IDOfDirectory computes the content-derived id of a directory object.
func IDOfDirectory(d *graph.Directory) id.ID { return id.New(id.KindDirectory, EncodeDirectory(d)) }

// IDOfFile computes the content-derived id of a file object.
func IDOfFile(f *graph.File) id.ID { return id.New(id.KindFile, EncodeFile(f)) }

// IDOfSymlink computes the content-derived id of a symlink object.
func IDOfSymlink(s *graph.Symlink) id.ID { return id.New(id.KindSymlink, EncodeSymlink(s)) }

// IDOfGraph computes the content-derived id of a graph object.
func IDOfGraph(g *graph.Graph) id.ID { return id.New(id.KindGraph, EncodeGraph(g)) }

// IDOfCommand computes the content-derived id of a command object.
func IDOfCommand(c *graph.Command) id.ID { return id.New(id.KindCommand, EncodeCommand(c)) }
