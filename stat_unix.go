//go:build unix

package gitbind

import (
	"io/fs"
	"syscall"
)

// fillStat copies ctime, device, inode and ownership from the file info on
// Unix systems, as git does to detect changed files cheaply.
func fillStat(e *Entry, info fs.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		e.CreatedAt = info.ModTime()
		return
	}
	e.CreatedAt = changeTime(stat, info)
	e.Dev = uint32(stat.Dev)   //nolint:gosec // git truncates to 32 bits
	e.Inode = uint32(stat.Ino) //nolint:gosec // git truncates to 32 bits
	e.UID = stat.Uid
	e.GID = stat.Gid
}
