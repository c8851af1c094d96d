//go:build darwin || freebsd || netbsd

package gitbind

import (
	"io/fs"
	"syscall"
	"time"
)

func changeTime(stat *syscall.Stat_t, _ fs.FileInfo) time.Time {
	return time.Unix(stat.Ctimespec.Unix())
}
