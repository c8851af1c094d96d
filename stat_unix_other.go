//go:build unix && !linux && !darwin && !freebsd && !netbsd

package gitbind

import (
	"io/fs"
	"syscall"
	"time"
)

// changeTime falls back to the modification time where Stat_t has no
// portable ctime field.
func changeTime(_ *syscall.Stat_t, info fs.FileInfo) time.Time {
	return info.ModTime()
}
