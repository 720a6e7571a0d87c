//go:build unix

package checkin

import (
	"io/fs"
	"syscall"
)

// inodeOf extracts the inode number (the device is not included), used to
// collapse hardlinked files into a single walk entry.
func inodeOf(info fs.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return stat.Ino, true
}
