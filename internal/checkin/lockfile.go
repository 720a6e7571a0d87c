package checkin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// LockfileName is the file name written next to a package root recording
// its solved dependency graph (spec §4.5 stage 7).
const LockfileName = "tangram.lock"

// Lockfile is the serialized form of a solved check-in: buildLockfile
// writes one entry per walked path, in walk order.
type Lockfile struct {
	Nodes []LockfileNode `json:"nodes"`
}

// LockfileNode records one walked entry. buildLockfile fills Kind,
// Subpath, Target (symlinks) and Deps (files); Entries and Edge are part
// of the format but buildLockfile leaves them empty.
type LockfileNode struct {
	Kind    string            `json:"kind"`
	Entries map[string]string `json:"entries,omitempty"`   // directory: name -> id or "index:<n>"
	Edge    string            `json:"edge,omitempty"`      // symlink artifact, or file contents id
	Subpath string            `json:"subpath,omitempty"`   // entry path relative to the package root
	Target  string            `json:"target,omitempty"`    // symlink literal path target
	Deps    map[string]string `json:"deps,omitempty"`       // file: "import<i>" -> resolved id, else tag, else path
}

// cachedLockfile pairs a parsed lockfile with the mtime it was read at.
// Nothing in this package stores or consults one: readLockfile re-reads
// and re-parses the file on every call.
type cachedLockfile struct {
	lock    *Lockfile
	modTime time.Time
}

// readLockfile loads and parses root's lockfile if present, returning nil
// (not an error) when no lockfile exists yet.
func readLockfile(root string) (*Lockfile, time.Time, error) {
	path := filepath.Join(root, LockfileName)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	var lock Lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, time.Time{}, err
	}
	return &lock, info.ModTime(), nil
}

// writeLockfile serializes lock to root/tangram.lock.
func writeLockfile(root string, lock *Lockfile) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, LockfileName), data, 0o644)
}
