//go:build !unix

package gitbind

import "io/fs"

// fillStat records the modification time as ctime on non-Unix systems.
func fillStat(e *Entry, info fs.FileInfo) {
	e.CreatedAt = info.ModTime()
}
