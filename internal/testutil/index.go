package testutil

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// TestEntry holds data for building test index files.
type TestEntry struct {
	Path    string
	Content string
	Stage   index.Stage
	ModTime time.Time
}

// BuildTestIndex encodes entries as a version 2 index file. Entries are
// written in the order given; go-git's encoder sorts them by path.
func BuildTestIndex(tb testing.TB, entries []TestEntry) []byte {
	tb.Helper()

	idx := &index.Index{Version: 2}
	for _, e := range entries {
		mod := e.ModTime
		if mod.IsZero() {
			mod = time.Unix(1700000000, 0)
		}
		idx.Entries = append(idx.Entries, &index.Entry{
			Name:       e.Path,
			Hash:       BlobHash(e.Content),
			Mode:       filemode.Regular,
			Size:       uint32(len(e.Content)), //nolint:gosec // test data is small
			ModifiedAt: mod,
			CreatedAt:  mod,
			Stage:      e.Stage,
		})
	}

	var buf bytes.Buffer
	if err := index.NewEncoder(&buf).Encode(idx); err != nil {
		tb.Fatalf("encode test index: %v", err)
	}
	return buf.Bytes()
}
