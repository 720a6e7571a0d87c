//go:build !unix

package checkin

import "io/fs"

// inodeOf has no portable equivalent off unix; hardlink dedup is simply
// skipped on these platforms.
func inodeOf(info fs.FileInfo) (uint64, bool) { return 0, false }
