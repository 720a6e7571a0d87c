// Package ignore implements the default and discovered ignore rule stack
// consulted by the input walker during check-in, generalized from the
// teacher's inline directory-name skip checks in
// internal/workspace/workspace.go (ScanWorkspace) and
// internal/converter/converter.go into a small standalone matcher that
// also loads .gitignore/.tangramignore files.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// DefaultNames are always ignored regardless of any discovered file.
var DefaultNames = []string{".DS_Store", ".git", ".tangram", "tangram.lock"}

// Rule is one gitignore-style pattern, relative to the directory its file
// was discovered in.
type Rule struct {
	Dir     string
	Pattern string
	Negate  bool
}

// Matcher holds the default name set plus every rule discovered while
// walking, in discovery order so later (deeper) rules can override
// earlier ones the way gitignore does.
type Matcher struct {
	defaults map[string]bool
	rules    []Rule
}

// New constructs a Matcher seeded with DefaultNames.
func New() *Matcher {
	m := &Matcher{defaults: make(map[string]bool, len(DefaultNames))}
	for _, n := range DefaultNames {
		m.defaults[n] = true
	}
	return m
}

// LoadFile reads a .gitignore or .tangramignore file found at dir/name and
// appends its patterns, skipping blank lines and comments.
func (m *Matcher) LoadFile(dir, name string) error {
	f, err := os.Open(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		negate := strings.HasPrefix(line, "!")
		if negate {
			line = line[1:]
		}
		m.rules = append(m.rules, Rule{Dir: dir, Pattern: line, Negate: negate})
	}
	return scanner.Err()
}

// Match reports whether the base name of path should be ignored, checking
// the default set first, then every discovered rule whose directory is an
// ancestor of path, last rule wins.
func (m *Matcher) Match(path string) bool {
	base := filepath.Base(path)
	if m.defaults[base] {
		return true
	}
	ignored := false
	for _, r := range m.rules {
		rel, err := filepath.Rel(r.Dir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if matchPattern(r.Pattern, rel, base) {
			ignored = !r.Negate
		}
	}
	return ignored
}

func matchPattern(pattern, rel, base string) bool {
	if ok, _ := filepath.Match(pattern, base); ok {
		return true
	}
	if ok, _ := filepath.Match(pattern, rel); ok {
		return true
	}
	return strings.HasPrefix(rel, strings.TrimSuffix(pattern, "/")+string(filepath.Separator))
}
