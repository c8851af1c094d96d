package gitbind

import (
	"cmp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// Entry is a native index entry.
//
// Entries returned by Index.Get are live: changing their fields changes the
// index, and the change is persisted by the next Write.
type Entry = index.Entry

// Stage distinguishes ordinary entries from merge-conflict variants that
// share a path.
type Stage = index.Stage

// Stages.
const (
	StageNormal   Stage = 0
	StageAncestor Stage = 1
	StageOurs     Stage = 2
	StageTheirs   Stage = 3
)

// NewEntry returns an entry for a regular file with the given content hash.
// The path is normalized; validity is checked when the entry is inserted.
func NewEntry(path string, stage Stage, hash plumbing.Hash, size uint32, modTime time.Time) *Entry {
	return &Entry{
		Name:       NormalizePath(path),
		Hash:       hash,
		Mode:       filemode.Regular,
		Size:       size,
		ModifiedAt: modTime,
		Stage:      stage,
	}
}

// compareEntries orders entries by path, then stage.
func compareEntries(a, b *Entry) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Stage, b.Stage)
}

func comparePath(e *Entry, path string) int {
	return strings.Compare(e.Name, path)
}

func validStage(s Stage) bool {
	return s >= StageNormal && s <= StageTheirs
}
