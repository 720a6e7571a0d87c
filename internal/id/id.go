// Package id implements tangram's content-addressed identifier scheme.
//
// Every object kind except process is identified by
//
//	id = kind_tag_byte || blake3(canonical_bytes)
//
// and rendered on the wire and on disk as
//
//	<kind>_<base32(tag_byte || hash)>
//
// Process ids are random UUIDs and are not derived from content; see
// internal/process.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"lukechampine.com/blake3"
)

// Kind is the tag byte embedded in every content-derived id.
type Kind uint8

const (
	KindDirectory Kind = iota + 1
	KindFile
	KindSymlink
	KindBlob
	KindGraph
	KindCommand
	KindProcess
	KindError
	KindTag
)

// tag is the short ASCII prefix used on the wire (§6).
func (k Kind) tag() string {
	switch k {
	case KindDirectory:
		return "dir"
	case KindFile:
		return "fil"
	case KindSymlink:
		return "sym"
	case KindBlob:
		return "blb"
	case KindGraph:
		return "gph"
	case KindCommand:
		return "cmd"
	case KindProcess:
		return "prc"
	case KindError:
		return "err"
	case KindTag:
		return "tag"
	default:
		return "unk"
	}
}

func (k Kind) String() string { return k.tag() }

func kindFromTag(tag string) (Kind, bool) {
	switch tag {
	case "dir":
		return KindDirectory, true
	case "fil":
		return KindFile, true
	case "sym":
		return KindSymlink, true
	case "blb":
		return KindBlob, true
	case "gph":
		return KindGraph, true
	case "cmd":
		return KindCommand, true
	case "prc":
		return KindProcess, true
	case "err":
		return KindError, true
	case "tag":
		return KindTag, true
	default:
		return 0, false
	}
}

// base32Encoding matches the "case sensitive, no padding" requirement of §6.
// Standard base32 is case-insensitive by alphabet but canonically upper-case;
// tangram ids are rendered lower-case for readability, matching how the
// teacher renders its hex hashes lower-case throughout internal/cas.
var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// rawLen is the length of tag_byte || hash.
const rawLen = 1 + 32

// ID is an opaque, comparable, content-derived object identifier. The
// payload is a fixed-size array rather than a slice so that ID is a plain
// comparable value: it can be used with == and as a map key, which
// map[id.ID]... backend signatures throughout the store and index packages
// depend on.
type ID struct {
	kind Kind
	raw  [rawLen]byte // tag_byte || hash
	set  bool
}

// New derives an id from a kind and its canonical byte representation.
func New(kind Kind, canonical []byte) ID {
	sum := blake3.Sum256(canonical)
	var raw [rawLen]byte
	raw[0] = byte(kind)
	copy(raw[1:], sum[:])
	return ID{kind: kind, raw: raw, set: true}
}

// FromRaw wraps an already-computed tag_byte||hash payload, e.g. one read
// back from storage. It does not re-hash anything.
func FromRaw(kind Kind, raw []byte) (ID, error) {
	if len(raw) != rawLen {
		return ID{}, fmt.Errorf("id: invalid raw length %d, want %d", len(raw), rawLen)
	}
	if Kind(raw[0]) != kind {
		return ID{}, fmt.Errorf("id: kind tag mismatch: raw says %d, want %d", raw[0], kind)
	}
	var out [rawLen]byte
	copy(out[:], raw)
	return ID{kind: kind, raw: out, set: true}, nil
}

// Kind returns the object kind this id addresses.
func (id ID) Kind() Kind { return id.kind }

// Hash returns the 32-byte BLAKE3 digest (without the kind tag byte).
func (id ID) Hash() [32]byte {
	var h [32]byte
	copy(h[:], id.raw[1:])
	return h
}

// Raw returns the tag_byte||hash bytes as stored in a backend's key space.
func (id ID) Raw() []byte {
	out := make([]byte, rawLen)
	copy(out, id.raw[:])
	return out
}

// IsZero reports whether this is the unset id value.
func (id ID) IsZero() bool { return !id.set }

// String renders the wire/disk form "<kind>_<base32(tag_byte||hash)>".
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.kind.tag() + "_" + strings.ToLower(base32Encoding.EncodeToString(id.raw[:]))
}

// Equal reports whether id and other address the same object. Since ID is
// a plain comparable struct, id == other works too; Equal exists for
// readability at call sites.
func (id ID) Equal(other ID) bool { return id == other }

// Parse decodes the wire/disk form back into an ID.
func Parse(s string) (ID, error) {
	prefix, rest, ok := strings.Cut(s, "_")
	if !ok {
		return ID{}, fmt.Errorf("id: missing kind prefix in %q", s)
	}
	kind, ok := kindFromTag(prefix)
	if !ok {
		return ID{}, fmt.Errorf("id: invalid kind %q", prefix)
	}
	raw, err := base32Encoding.DecodeString(strings.ToUpper(rest))
	if err != nil {
		return ID{}, fmt.Errorf("id: invalid base32 payload in %q: %w", s, err)
	}
	return FromRaw(kind, raw)
}

// MarshalText implements encoding.TextMarshaler so ids serialize naturally
// as lockfile/config strings.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
