package gitbind

import (
	"errors"
	"io/fs"

	"github.com/meigma/gitbind/internal/lockfile"
	"github.com/meigma/gitbind/odb"
)

// Sentinel errors.
var (
	// ErrNoObjectDatabase is returned by operations that need an object
	// database when the index has none (a standalone index file).
	ErrNoObjectDatabase = errors.New("gitbind: index has no object database")

	// ErrNoWorktree is returned by Add when the index has no working tree to
	// read files from (a bare repository or a standalone index).
	ErrNoWorktree = errors.New("gitbind: index has no working tree")

	// ErrLocked is returned when another writer holds the index file.
	ErrLocked = errors.New("gitbind: index is locked")

	// ErrOutOfRange is returned for entry positions outside [0, EntryCount).
	ErrOutOfRange = errors.New("gitbind: position out of range")

	// ErrInvalidPath is returned for entry paths git cannot store.
	ErrInvalidPath = errors.New("gitbind: invalid path")

	// ErrInvalidSignature is returned when signature components are rejected.
	ErrInvalidSignature = errors.New("gitbind: invalid signature")

	// ErrMalformedIndex is returned when the index file cannot be decoded.
	ErrMalformedIndex = errors.New("gitbind: malformed index file")

	// ErrNotFound is returned when a path or object does not exist.
	ErrNotFound = errors.New("gitbind: not found")

	// ErrClosed is returned by every operation on a closed wrapper.
	ErrClosed = errors.New("gitbind: use of closed handle")
)

// Status codes returned by Code. Negative values are failures.
const (
	CodeOK        = 0
	CodeError     = -1
	CodeNotFound  = -3
	CodeOSError   = -5
	CodeCorrupted = -7
	CodeLocked    = -14
	CodeBareIndex = -15
	CodeInvalid   = -16
	CodeClosed    = -17
)

// Code maps an error returned by this package to an integer status code,
// for callers that expect C-style status returns. A nil error maps to CodeOK.
func Code(err error) int {
	var pathErr *fs.PathError
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrNoObjectDatabase), errors.Is(err, ErrNoWorktree):
		return CodeBareIndex
	case errors.Is(err, ErrLocked), errors.Is(err, lockfile.ErrLocked):
		return CodeLocked
	case errors.Is(err, ErrMalformedIndex):
		return CodeCorrupted
	case errors.Is(err, ErrOutOfRange), errors.Is(err, ErrInvalidPath), errors.Is(err, ErrInvalidSignature):
		return CodeInvalid
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, odb.ErrObjectNotFound):
		return CodeNotFound
	case errors.As(err, &pathErr):
		return CodeOSError
	default:
		return CodeError
	}
}
