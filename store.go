package gitbind

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/meigma/gitbind/internal/lockfile"
)

// DefaultIndexVersion is the index format version used for new indexes.
const DefaultIndexVersion uint32 = 2

// indexStore loads and saves the native index.
type indexStore interface {
	// load returns the persisted index, or an empty one with version v if
	// none exists.
	load(v uint32) (*index.Index, error)
	// save persists idx atomically.
	save(idx *index.Index) error
	// key identifies the persisted index for the in-process writer lease.
	key() string
	// location is a human-readable description for logs.
	location() string
}

// fileStore keeps the index in a file on a billy filesystem.
type fileStore struct {
	fs   billy.Filesystem
	name string
	id   string
}

func (s *fileStore) load(v uint32) (*index.Index, error) {
	f, err := s.fs.Open(s.name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &index.Index{Version: v}, nil
		}
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	idx := &index.Index{}
	if err := index.NewDecoder(f).Decode(idx); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s: truncated", ErrMalformedIndex, s.location())
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedIndex, s.location(), err)
	}
	return idx, nil
}

func (s *fileStore) save(idx *index.Index) error {
	err := lockfile.Write(s.fs, s.name, 0o644, func(w io.Writer) error {
		return index.NewEncoder(w).Encode(idx)
	})
	if errors.Is(err, lockfile.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}
	return err
}

func (s *fileStore) key() string      { return s.id }
func (s *fileStore) location() string { return s.fs.Join(s.fs.Root(), s.name) }

// storerStore keeps the index in a go-git index storer. It is used for
// repositories whose storage is not a filesystem (e.g. memory storage).
type storerStore struct {
	s  storer.IndexStorer
	id string
}

func (s *storerStore) load(v uint32) (*index.Index, error) {
	idx, err := s.s.Index()
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if len(idx.Entries) == 0 {
		idx = &index.Index{Version: v}
	}
	// The storer may hand out its own instance; never share it.
	return cloneNative(idx), nil
}

func (s *storerStore) save(idx *index.Index) error {
	return s.s.SetIndex(cloneNative(idx))
}

func (s *storerStore) key() string      { return s.id }
func (s *storerStore) location() string { return s.id }

// cloneNative deep-copies the entries of idx. Extensions are dropped: they
// describe the entry set they were read with.
func cloneNative(idx *index.Index) *index.Index {
	out := &index.Index{
		Version: idx.Version,
		Entries: make([]*Entry, len(idx.Entries)),
	}
	for i, e := range idx.Entries {
		cp := *e
		out.Entries[i] = &cp
	}
	return out
}

// sortedSnapshot returns a copy of idx whose entries are sorted by path and
// stage. Entry structs are shared with idx.
func sortedSnapshot(idx *index.Index) *index.Index {
	entries := slices.Clone(idx.Entries)
	slices.SortStableFunc(entries, compareEntries)
	return &index.Index{Version: idx.Version, Entries: entries}
}
