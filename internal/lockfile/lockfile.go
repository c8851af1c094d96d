// Package lockfile replaces files atomically using git's lock file convention.
//
// A writer creates "<name>.lock" exclusively, writes the new content into it
// and renames it over name. Readers never observe a partially written file,
// and a second writer (in this or any other process) fails while the lock
// file exists.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
)

// Suffix is appended to the target name to form the lock file name.
const Suffix = ".lock"

// ErrLocked is returned when the lock file already exists.
var ErrLocked = errors.New("lockfile: file is locked")

type syncer interface {
	Sync() error
}

// Write atomically replaces name on fsys with the bytes produced by fn.
//
// Parent directories are created as needed. On any failure the lock file is
// removed and the previous content of name is left untouched.
func Write(fsys billy.Filesystem, name string, perm os.FileMode, fn func(io.Writer) error) error {
	if dir := path.Dir(name); dir != "." && dir != "/" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	lockName := name + Suffix
	f, err := fsys.OpenFile(lockName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrLocked, lockName)
		}
		return fmt.Errorf("create lock file: %w", err)
	}

	if err := writeAndClose(f, fn); err != nil {
		_ = fsys.Remove(lockName)
		return err
	}
	if err := fsys.Rename(lockName, name); err != nil {
		_ = fsys.Remove(lockName)
		return fmt.Errorf("commit lock file: %w", err)
	}
	return nil
}

func writeAndClose(f billy.File, fn func(io.Writer) error) error {
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush lock file: %w", err)
	}
	if s, ok := f.(syncer); ok {
		if err := s.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync lock file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}
