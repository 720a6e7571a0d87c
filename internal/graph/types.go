// Package graph defines the artifact data model shared by every object
// kind: the referent (a reference to an artifact by id, path, tag, or
// subpath), the pointer (an in-graph reference used to close cycles), and
// the directory/file/symlink/graph node shapes built from them.
//
// The shapes generalize the teacher's internal/fsmerkle (Entry/TreeNode/
// BlobNode) and internal/hamtdir (Entry/DirRef) types, which only ever
// address children by direct hash, to the spec's referent family that can
// also address by tag or by an in-graph pointer.
package graph

import "github.com/tangramdotdev/tangram/internal/id"

// Referent is a reference to an artifact. A resolved referent has ID set;
// one solved from a tag also keeps that Tag. Path and Subpath refine it
// further.
type Referent struct {
	ID      *id.ID `json:"id,omitempty"`
	Path    string `json:"path,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Subpath string `json:"subpath,omitempty"`
}

// IsResolved reports whether the referent already names a concrete object.
func (r Referent) IsResolved() bool { return r.ID != nil }

// Pointer is an in-graph reference used by a graph object's nodes to refer
// to one another (and so close cycles) without a fully resolved id.
type Pointer struct {
	GraphID id.ID   `json:"graph_id"`
	Index   int     `json:"index"`
	Kind    id.Kind `json:"kind"`
}

// Edge is one entry of a directory: a name paired with the artifact it
// names, which may be a direct id, an in-graph pointer, or an unresolved
// referent pending a solve.
type Edge struct {
	Referent *Referent `json:"referent,omitempty"`
	Pointer  *Pointer  `json:"pointer,omitempty"`
}

// Directory is the directory object kind: a set of named edges. Entries
// may be in any order; objectcodec.EncodeDirectory sorts a copy by Name, so
// the canonical bytes do not depend on construction order.
type Directory struct {
	Entries []DirectoryEntry `json:"entries"`
}

// DirectoryEntry names one child edge of a Directory.
type DirectoryEntry struct {
	Name string `json:"name"`
	Edge Edge   `json:"edge"`
}

// File is the file object kind: blob contents plus metadata and the
// dependency closure recorded during check-in (§4.5).
type File struct {
	Contents     id.ID               `json:"contents"`
	Executable   bool                `json:"executable"`
	Dependencies map[string]Referent `json:"dependencies,omitempty"`
}

// Symlink is the symlink object kind. Exactly one of Target or Artifact is
// set: Target renders the link verbatim; Artifact renders a relative path
// computed against the link's own check-out location (§4.6), with Subpath
// appended inside the target artifact.
type Symlink struct {
	Target   string    `json:"target,omitempty"`
	Artifact *Referent `json:"artifact,omitempty"`
	Subpath  string    `json:"subpath,omitempty"`
}

// Command is the command object kind: an executable build step over a set
// of named argument/environment artifacts.
type Command struct {
	Executable Referent            `json:"executable"`
	Args       []Referent          `json:"args,omitempty"`
	Env        map[string]Referent `json:"env,omitempty"`
	Host       string              `json:"host"`
	Cwd        string              `json:"cwd,omitempty"`
}

// Graph is the cycle-closing object kind: a flat array of nodes, each
// addressable by its index via a Pointer, so that mutually referential
// directories/files/symlinks can be represented without an infinite
// unrolling.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
}

// GraphNodeKind discriminates the union stored in a GraphNode.
type GraphNodeKind int

const (
	GraphNodeDirectory GraphNodeKind = iota + 1
	GraphNodeFile
	GraphNodeSymlink
)

// GraphNode is one entry of a Graph's node array. Exactly one of Directory,
// File, Symlink is populated, matching Kind.
type GraphNode struct {
	Kind      GraphNodeKind
	Directory *Directory
	File      *File
	Symlink   *Symlink
}
