package checkin

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tangramdotdev/tangram/internal/checkin/ignore"
)

// entryKind names what a walked path turned out to be.
type entryKind int

const (
	entryDirectory entryKind = iota + 1
	entryFile
	entrySymlink
)

// entry is one walked filesystem object, generalized from the fields the
// teacher's ScanWorkspace collects (path/metadata/kind) to also carry the
// parsed import references for module source files (spec §4.5 stage 1).
type entry struct {
	Path       string // absolute
	RelPath    string // relative to the package root
	Kind       entryKind
	Executable bool
	Target     string   // symlink target, if entryKind == entrySymlink
	Imports    []string // tag-pattern or path references this module source file declared
}

// moduleExtension is the source file extension whose import declarations
// the solver resolves. Only ".tg" files are scanned; everything else is
// walked but never parsed for imports.
const moduleExtension = ".tg"

var importRE = regexp.MustCompile(`^\s*import\s+"([^"]+)"`)

// walkResult is the output of walking one package root: every non-ignored
// entry, keyed by relative path (hardlinks to one inode share a single
// *entry), plus the walk order.
type walkResult struct {
	Root    string
	Entries map[string]*entry
	Order   []string // RelPath in walk order, for deterministic graph building
}

// walkRoot descends every non-ignored entry under root, recording
// {path, metadata, kind}, parsing imports out of .tg module sources, and
// deduplicating hardlinked files via a per-inode identity map.
func walkRoot(root string, useIgnore bool) (*walkResult, error) {
	result := &walkResult{Root: root, Entries: make(map[string]*entry)}

	matcher := ignore.New()
	if useIgnore {
		_ = matcher.LoadFile(root, ".gitignore")
		_ = matcher.LoadFile(root, ".tangramignore")
	}

	seenInodes := make(map[uint64]string) // inode -> first relative path seen

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if matcher.Match(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			result.Entries[rel] = &entry{Path: path, RelPath: rel, Kind: entryDirectory}
			result.Order = append(result.Order, rel)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			result.Entries[rel] = &entry{Path: path, RelPath: rel, Kind: entrySymlink, Target: target}
			result.Order = append(result.Order, rel)
			return nil
		}

		if ino, ok := inodeOf(info); ok {
			if first, dup := seenInodes[ino]; dup {
				result.Entries[rel] = result.Entries[first]
				return nil
			}
			seenInodes[ino] = rel
		}

		e := &entry{
			Path:       path,
			RelPath:    rel,
			Kind:       entryFile,
			Executable: info.Mode()&0o111 != 0,
		}
		if strings.HasSuffix(path, moduleExtension) {
			imports, err := parseImports(path)
			if err != nil {
				return err
			}
			e.Imports = imports
		}
		result.Entries[rel] = e
		result.Order = append(result.Order, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parseImports scans a module source file for import declarations,
// line-by-line in the teacher's simple scanner style (see
// internal/converter's plain line-oriented parsing), rather than a full
// module-language parser, since only the referenced pattern/path matters
// to the solver.
func parseImports(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var imports []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := importRE.FindStringSubmatch(scanner.Text()); m != nil {
			imports = append(imports, m[1])
		}
	}
	return imports, scanner.Err()
}
