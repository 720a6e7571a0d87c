//go:build !unix

package cache

import (
	"os"
	"time"
)

// Platforms without xattr support record the dependency closure in a
// sidecar file next to the checked-out file instead.
func sidecarPath(path string) string { return path + ".tangram-deps.json" }

func setDependenciesXattr(path string, data []byte) error {
	return os.WriteFile(sidecarPath(path), data, 0o644)
}

func getDependenciesXattr(path string) ([]byte, error) {
	return os.ReadFile(sidecarPath(path))
}

// setEpochMtime skips symlinks here: the standard library has no
// portable lutimes equivalent off unix.
func setEpochMtime(path string, isSymlink bool, epoch time.Time) error {
	if isSymlink {
		return nil
	}
	return os.Chtimes(path, epoch, epoch)
}
