//go:build unix

package cache

import (
	"time"

	"golang.org/x/sys/unix"
)

func setDependenciesXattr(path string, data []byte) error {
	return unix.Setxattr(path, dependenciesXattr, data, 0)
}

func getDependenciesXattr(path string) ([]byte, error) {
	size, err := unix.Getxattr(path, dependenciesXattr, nil)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(path, dependenciesXattr, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func setEpochMtime(path string, isSymlink bool, epoch time.Time) error {
	ts := unix.NsecToTimespec(epoch.UnixNano())
	times := []unix.Timespec{ts, ts}
	flags := 0
	if isSymlink {
		flags = unix.AT_SYMLINK_NOFOLLOW
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, times, flags)
}
