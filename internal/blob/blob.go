// Package blob implements the content-defined chunking and Merkle tree
// construction that backs the blob object kind: content-defined chunks of
// between 4 KiB and 128 KiB (64 KiB average), assembled into a
// right-balanced tree with up to 1024 children per branch.
//
// This generalizes the teacher's internal/filechunk package, which splits
// on fixed-size boundaries and pairs nodes two at a time, to true
// content-defined chunking (so inserting bytes near the start of a file
// only perturbs the chunks around the insertion, not every chunk after
// it) and to a wide branch factor.
package blob

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tangramdotdev/tangram/internal/id"
	"github.com/tangramdotdev/tangram/internal/store"
)

// Params controls chunk sizing and tree branching.
type Params struct {
	MinSize   int // minimum chunk size in bytes
	AvgSize   int // target average chunk size in bytes
	MaxSize   int // maximum chunk size in bytes
	MaxBranch int // maximum children per branch node
}

// DefaultParams matches the sizes named in the spec: 4 KiB min, 64 KiB
// average, 128 KiB max, up to 1024-way branching.
func DefaultParams() Params {
	return Params{
		MinSize:   4 * 1024,
		AvgSize:   64 * 1024,
		MaxSize:   128 * 1024,
		MaxBranch: 1024,
	}
}

// NodeKind distinguishes a leaf chunk from a branch node.
type NodeKind uint8

const (
	Leaf NodeKind = iota + 1
	Branch
)

// NodeRef identifies one node of a blob tree.
type NodeRef struct {
	ID   id.ID
	Kind NodeKind
	Size int64
}

// Store is the narrow persistence interface the builder and loader need:
// the Get/Put pair of internal/store.Backend, generalizing the teacher's
// internal/cas.CAS interface from a raw hash key to a kind-tagged id.ID
// key. Any internal/store.Backend implementation satisfies Store.
type Store interface {
	Put(ctx context.Context, id id.ID, data []byte) error
	Get(ctx context.Context, id id.ID) (store.GetResult, error)
}

// Builder constructs blob trees over a Store.
type Builder struct {
	Store  Store
	Params Params
}

// NewBuilder constructs a Builder with the given store and params.
func NewBuilder(store Store, params Params) *Builder {
	return &Builder{Store: store, Params: params}
}

// Build chunks content and assembles it into a blob tree, returning the
// root node reference.
func (b *Builder) Build(ctx context.Context, content []byte) (NodeRef, error) {
	chunks := chunk(content, b.Params)
	return b.buildTree(ctx, chunks)
}

// BuildStreaming chunks from an io.Reader.
func (b *Builder) BuildStreaming(ctx context.Context, r io.Reader) (NodeRef, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return NodeRef{}, fmt.Errorf("blob: read stream: %w", err)
	}
	return b.Build(ctx, content)
}

func (b *Builder) buildTree(ctx context.Context, chunks [][]byte) (NodeRef, error) {
	if len(chunks) == 0 {
		return b.buildLeaf(ctx, nil)
	}
	if len(chunks) == 1 {
		return b.buildLeaf(ctx, chunks[0])
	}

	var level []NodeRef
	for _, c := range chunks {
		leaf, err := b.buildLeaf(ctx, c)
		if err != nil {
			return NodeRef{}, err
		}
		level = append(level, leaf)
	}

	for len(level) > 1 {
		var next []NodeRef
		for i := 0; i < len(level); i += b.Params.MaxBranch {
			end := i + b.Params.MaxBranch
			if end > len(level) {
				end = len(level)
			}
			group := level[i:end]
			if len(group) == 1 {
				next = append(next, group[0])
				continue
			}
			branch, err := b.buildBranch(ctx, group)
			if err != nil {
				return NodeRef{}, err
			}
			next = append(next, branch)
		}
		level = next
	}
	return level[0], nil
}

func (b *Builder) buildLeaf(ctx context.Context, chunk []byte) (NodeRef, error) {
	canonical := encodeLeaf(chunk)
	nodeID := id.New(id.KindBlob, canonical)
	if err := b.Store.Put(ctx, nodeID, canonical); err != nil {
		return NodeRef{}, fmt.Errorf("blob: store leaf: %w", err)
	}
	return NodeRef{ID: nodeID, Kind: Leaf, Size: int64(len(chunk))}, nil
}

func (b *Builder) buildBranch(ctx context.Context, children []NodeRef) (NodeRef, error) {
	canonical, total := encodeBranch(children)
	nodeID := id.New(id.KindBlob, canonical)
	if err := b.Store.Put(ctx, nodeID, canonical); err != nil {
		return NodeRef{}, fmt.Errorf("blob: store branch: %w", err)
	}
	return NodeRef{ID: nodeID, Kind: Branch, Size: total}, nil
}

// encodeLeaf implements the canonical leaf encoding: 0x00 | bytes.
func encodeLeaf(chunk []byte) []byte {
	var w bytes.Buffer
	w.WriteByte(0x00)
	w.Write(chunk)
	return w.Bytes()
}

// encodeBranch implements the canonical branch encoding:
// 0x01 | varint(childCount) | {varint(id-length), id-bytes,
// varint(subtree-byte-length)}*.
func encodeBranch(children []NodeRef) ([]byte, int64) {
	var w bytes.Buffer
	var total int64
	w.WriteByte(0x01)
	putUvarintTo(&w, uint64(len(children)))
	for _, c := range children {
		raw := c.ID.Raw()
		putUvarintTo(&w, uint64(len(raw)))
		w.Write(raw)
		putUvarintTo(&w, uint64(c.Size))
		total += c.Size
	}
	return w.Bytes(), total
}

func putUvarintTo(w *bytes.Buffer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	w.Write(buf[:n])
}

// Loader reads blob trees back into bytes or a streaming reader.
type Loader struct {
	Store Store
}

// NewLoader constructs a Loader over the given store.
func NewLoader(store Store) *Loader { return &Loader{Store: store} }

// ReadAll materializes the full contents addressed by root.
func (l *Loader) ReadAll(ctx context.Context, root NodeRef) ([]byte, error) {
	var buf bytes.Buffer
	if err := l.readNode(ctx, root, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Reader returns a streaming reader over the contents addressed by root.
func (l *Loader) Reader(ctx context.Context, root NodeRef) (io.ReadCloser, error) {
	data, err := l.ReadAll(ctx, root)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (l *Loader) readNode(ctx context.Context, node NodeRef, w io.Writer) error {
	res, err := l.Store.Get(ctx, node.ID)
	if err != nil {
		return fmt.Errorf("blob: get node %s: %w", node.ID, err)
	}
	data := res.Bytes
	if len(data) == 0 {
		return fmt.Errorf("blob: empty node data for %s", node.ID)
	}
	switch data[0] {
	case 0x00:
		_, err := w.Write(data[1:])
		return err
	case 0x01:
		return l.readBranch(ctx, data, w)
	default:
		return fmt.Errorf("blob: invalid node tag 0x%02x", data[0])
	}
}

func (l *Loader) readBranch(ctx context.Context, data []byte, w io.Writer) error {
	r := bytes.NewReader(data[1:])
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return fmt.Errorf("blob: read child count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		idLen, err := binary.ReadUvarint(r)
		if err != nil {
			return fmt.Errorf("blob: read child id length %d: %w", i, err)
		}
		raw := make([]byte, idLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return fmt.Errorf("blob: read child id %d: %w", i, err)
		}
		if _, err := binary.ReadUvarint(r); err != nil {
			return fmt.Errorf("blob: read child subtree length %d: %w", i, err)
		}
		childID, err := id.FromRaw(id.Kind(raw[0]), raw)
		if err != nil {
			return err
		}
		childRes, err := l.Store.Get(ctx, childID)
		if err != nil {
			return fmt.Errorf("blob: get child %s: %w", childID, err)
		}
		childData := childRes.Bytes
		if len(childData) == 0 {
			return fmt.Errorf("blob: empty child data for %s", childID)
		}
		var childNode NodeRef
		childNode.ID = childID
		switch childData[0] {
		case 0x00:
			childNode.Kind = Leaf
		case 0x01:
			childNode.Kind = Branch
		default:
			return fmt.Errorf("blob: invalid child node tag 0x%02x", childData[0])
		}
		if err := l.readNode(ctx, childNode, w); err != nil {
			return err
		}
	}
	return nil
}

// gearTable is a fixed pseudo-random table used by the rolling hash that
// drives content-defined chunk boundary detection, in the style of
// FastCDC's gear hash.
var gearTable = func() [256]uint64 {
	var t [256]uint64
	// A small xorshift-based PRNG seeds the table deterministically so
	// chunk boundaries are stable across runs without needing crypto
	// randomness or an embedded table file.
	var x uint64 = 0x9e3779b97f4a7c15
	for i := range t {
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		t[i] = x
	}
	return t
}()

// chunk splits content into content-defined chunks bounded by
// params.MinSize and params.MaxSize, targeting params.AvgSize on average,
// using a gear-hash rolling checksum to pick cut points the way FastCDC
// does.
func chunk(content []byte, params Params) [][]byte {
	if len(content) == 0 {
		return nil
	}
	if len(content) <= params.MinSize {
		return [][]byte{content}
	}

	// maskBits is chosen so that 2^maskBits ~= AvgSize; a cut point is
	// declared when the low maskBits of the rolling hash are all zero.
	maskBits := 0
	for avg := params.AvgSize; avg > 1; avg >>= 1 {
		maskBits++
	}
	mask := uint64(1)<<uint(maskBits) - 1

	var chunks [][]byte
	start := 0
	var hash uint64
	for i := 0; i < len(content); i++ {
		hash = (hash << 1) + gearTable[content[i]]
		size := i - start + 1
		if size < params.MinSize {
			continue
		}
		if size >= params.MaxSize || (hash&mask) == 0 {
			chunks = append(chunks, content[start:i+1])
			start = i + 1
			hash = 0
		}
	}
	if start < len(content) {
		chunks = append(chunks, content[start:])
	}
	return chunks
}
