package gitbind

import (
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"github.com/meigma/gitbind/internal/handle"
	"github.com/meigma/gitbind/odb"
)

// Index owns one native git index.
//
// An Index is backed either by a standalone index file (see OpenIndex) or by
// a repository (see OpenRepositoryIndex). Entries are addressed by position;
// positions are only stable until the next mutation.
//
// All methods are safe for concurrent use and serialized by a per-index
// mutex. Entries returned by Get are not protected by that mutex.
//
// An Index must not be copied; use Clone. Close releases it.
type Index struct {
	mu          sync.Mutex
	native      *index.Index
	store       indexStore
	odb         odb.ObjectDatabase
	worktree    billy.Filesystem
	repo        *handle.Ref[*repoState] // nil for standalone indexes
	concurrency int
	logger      *slog.Logger
	metrics     *Metrics
	leased      bool // holds the in-process write lease
	unsorted    bool // entries may be out of order after external mutation
	closed      bool
}

// log returns the logger, falling back to a discard logger if nil.
func (i *Index) log() *slog.Logger {
	if i.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return i.logger
}

// OpenIndex opens the index file at path without a repository behind it.
//
// The file is read if it exists; otherwise the index starts empty and the
// file is created by the first Write. Without WithObjectDatabase the index
// has no object database and Add fails with ErrNoObjectDatabase.
func OpenIndex(path string, opts ...Option) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty index path", ErrInvalidPath)
	}
	o := newOptions(opts)

	var store *fileStore
	if o.fs != nil {
		store = &fileStore{fs: o.fs, name: path, id: fmt.Sprintf("%p:%s", o.fs, path)}
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve index path: %w", err)
		}
		store = &fileStore{fs: osfs.New(filepath.Dir(abs)), name: filepath.Base(abs), id: abs}
	}
	return newIndex(store, o.odb, o.worktree, nil, o)
}

// OpenRepositoryIndex opens the index of repo.
//
// The index uses the repository's object database and working tree, and
// keeps the repository's native handle alive until the index is closed.
func OpenRepositoryIndex(repo *Repository, opts ...Option) (*Index, error) {
	ref, err := repo.share()
	if err != nil {
		return nil, err
	}
	st, _ := ref.Get()
	o := newOptions(opts)

	db := o.odb
	if db == nil {
		db = st.db
	}
	wt := o.worktree
	if wt == nil {
		wt = st.worktree
	}
	return newIndex(st.indexStore(), db, wt, ref, o)
}

func newIndex(store indexStore, db odb.ObjectDatabase, wt billy.Filesystem, repo *handle.Ref[*repoState], o *options) (*Index, error) {
	version := o.version
	if version == 0 {
		version = DefaultIndexVersion
	}
	if version < 2 || version > 4 {
		_ = repo.Release()
		return nil, fmt.Errorf("%w: unsupported index version %d", ErrOutOfRange, version)
	}

	native, err := store.load(version)
	if err != nil {
		_ = repo.Release()
		return nil, err
	}
	slices.SortStableFunc(native.Entries, compareEntries)

	i := &Index{
		native:      native,
		store:       store,
		odb:         db,
		worktree:    wt,
		repo:        repo,
		concurrency: o.concurrency,
		logger:      o.logger,
		metrics:     o.metrics,
	}
	if o.owner != nil {
		o.owner.Adopt(i)
	}
	i.log().Debug("opened index",
		slog.String("location", store.location()),
		slog.Int("entries", len(native.Entries)),
		slog.Bool("object_database", db != nil))
	return i, nil
}

// Close releases the native index, the write lease and, for repository
// indexes, this index's reference to the repository. Closing twice is a no-op.
func (i *Index) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	if i.leased {
		releaseLease(i.store.key(), i)
		i.leased = false
	}
	i.native = nil
	repo := i.repo
	i.repo = nil
	i.mu.Unlock()

	return repo.Release()
}

// Clear removes all entries from memory. The file on disk is unchanged until
// Write is called.
func (i *Index) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return
	}
	i.native.Entries = nil
	i.native.Cache = nil
	i.native.ResolveUndo = nil
	i.unsorted = false
}

// Read replaces the in-memory entries with the content of the index on disk.
// A missing file yields an empty index. On failure the in-memory entries are
// left unchanged.
func (i *Index) Read() error {
	start := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}

	native, err := i.store.load(i.native.Version)
	i.metrics.observe("read", start, err)
	if err != nil {
		i.log().Debug("read index failed", slog.String("location", i.store.location()), slog.Any("error", err))
		return err
	}
	slices.SortStableFunc(native.Entries, compareEntries)
	i.native = native
	i.unsorted = false
	i.metrics.observeEntries("read", len(native.Entries))
	i.log().Debug("read index", slog.String("location", i.store.location()), slog.Int("entries", len(native.Entries)))
	return nil
}

// Write persists the entries atomically: readers of the index file observe
// either the previous or the new content, never a partial file.
//
// The first successful Write takes the in-process write lease for the index
// file and keeps it until Close. While another open Index holds the lease,
// Write fails with ErrLocked; so does a concurrent writer in another process
// holding the index lock file. An Index dropped without Close keeps the lease
// until it is garbage collected.
func (i *Index) Write() error {
	start := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}

	key := i.store.key()
	acquired := false
	if !i.leased {
		if !acquireLease(key, i) {
			err := fmt.Errorf("%w: %s is held by another open index", ErrLocked, i.store.location())
			i.log().Warn("index write lease unavailable", slog.String("location", i.store.location()))
			i.metrics.observe("write", start, err)
			return err
		}
		i.leased = true
		acquired = true
	}

	snap := sortedSnapshot(i.native)
	err := i.store.save(snap)
	i.metrics.observe("write", start, err)
	if err != nil {
		if acquired {
			releaseLease(key, i)
			i.leased = false
		}
		i.log().Debug("write index failed", slog.String("location", i.store.location()), slog.Any("error", err))
		return err
	}
	i.metrics.observeEntries("write", len(snap.Entries))
	i.log().Debug("wrote index", slog.String("location", i.store.location()), slog.Int("entries", len(snap.Entries)))
	return nil
}

// ensureSortedLocked restores path/stage order after entries may have been
// changed through Get or Native.
func (i *Index) ensureSortedLocked() {
	if !i.unsorted {
		return
	}
	slices.SortStableFunc(i.native.Entries, compareEntries)
	i.unsorted = false
}

// Find returns the position of the first entry for path (the lowest stage),
// or -1 if there is none.
func (i *Index) Find(path string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return -1
	}
	i.ensureSortedLocked()

	path = NormalizePath(path)
	entries := i.native.Entries
	pos, found := slices.BinarySearchFunc(entries, path, comparePath)
	if !found {
		return -1
	}
	return pos
}

// FindStage returns the position of the entry for path at stage, or -1.
func (i *Index) FindStage(path string, stage Stage) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return -1
	}
	i.ensureSortedLocked()

	key := &Entry{Name: NormalizePath(path), Stage: stage}
	pos, found := slices.BinarySearchFunc(i.native.Entries, key, compareEntries)
	if !found {
		return -1
	}
	return pos
}

// Insert adds a copy of e to the index. An existing entry with the same path
// and stage is overwritten in place; otherwise the copy is inserted at its
// sorted position.
func (i *Index) Insert(e *Entry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidPath)
	}
	cp := *e
	cp.Name = NormalizePath(cp.Name)
	if !ValidPath(cp.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, e.Name)
	}
	if !validStage(cp.Stage) {
		return fmt.Errorf("%w: stage %d", ErrOutOfRange, cp.Stage)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	i.upsertLocked(&cp)
	return nil
}

// upsertLocked stores e at its sorted position, replacing the contents of an
// existing entry with the same path and stage.
func (i *Index) upsertLocked(e *Entry) {
	i.ensureSortedLocked()
	pos, found := slices.BinarySearchFunc(i.native.Entries, e, compareEntries)
	if found {
		*i.native.Entries[pos] = *e
	} else {
		i.native.Entries = slices.Insert(i.native.Entries, pos, e)
	}
	i.native.Cache = nil
}

// Remove deletes the entry at position. Entries after it shift down by one.
func (i *Index) Remove(position int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	if position < 0 || position >= len(i.native.Entries) {
		return fmt.Errorf("%w: %d (entries: %d)", ErrOutOfRange, position, len(i.native.Entries))
	}
	i.native.Entries = slices.Delete(i.native.Entries, position, position+1)
	i.native.Cache = nil
	return nil
}

// RemovePath deletes every stage of path and returns how many entries were
// removed.
func (i *Index) RemovePath(path string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return 0
	}
	path = NormalizePath(path)
	before := len(i.native.Entries)
	i.native.Entries = slices.DeleteFunc(i.native.Entries, func(e *Entry) bool {
		return e.Name == path
	})
	removed := before - len(i.native.Entries)
	if removed > 0 {
		i.native.Cache = nil
	}
	return removed
}

// Get returns the entry at position n, or nil if n is out of range.
//
// The entry is live: changes made through it are written by the next Write.
// Changing Name or Stage may reorder entries at the next lookup.
func (i *Index) Get(n int) *Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed || n < 0 || n >= len(i.native.Entries) {
		return nil
	}
	i.unsorted = true
	return i.native.Entries[n]
}

// EntryCount returns the number of entries.
func (i *Index) EntryCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return 0
	}
	return len(i.native.Entries)
}

// All returns an iterator over positions and live entries, in order.
// The iterator works on a snapshot of the entry list taken when it starts.
func (i *Index) All() iter.Seq2[int, *Entry] {
	return func(yield func(int, *Entry) bool) {
		i.mu.Lock()
		if i.closed {
			i.mu.Unlock()
			return
		}
		i.ensureSortedLocked()
		entries := slices.Clone(i.native.Entries)
		i.unsorted = true
		i.mu.Unlock()

		for n, e := range entries {
			if !yield(n, e) {
				return
			}
		}
	}
}

// Clone returns an independent deep copy of the index. The clone reads and
// writes the same index file and shares the object database, but owns its
// own entries and does not inherit the write lease.
func (i *Index) Clone() (*Index, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrClosed
	}

	var repo *handle.Ref[*repoState]
	if i.repo != nil {
		var err error
		if repo, err = i.repo.Share(); err != nil {
			return nil, ErrClosed
		}
	}
	i.ensureSortedLocked()
	return &Index{
		native:      cloneNative(i.native),
		store:       i.store,
		odb:         i.odb,
		worktree:    i.worktree,
		repo:        repo,
		concurrency: i.concurrency,
		logger:      i.logger,
		metrics:     i.metrics,
	}, nil
}

// Path returns the location of the persisted index.
func (i *Index) Path() string {
	return i.store.location()
}

// Version returns the index format version.
func (i *Index) Version() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return 0
	}
	return i.native.Version
}

// HasObjectDatabase reports whether Add can store file contents.
func (i *Index) HasObjectDatabase() bool {
	return i.odb != nil
}

// Native returns the wrapped go-git index. The handle is borrowed: it is
// owned by i, must not be used concurrently with i's methods and must not be
// retained after Close. Returns nil after Close.
func (i *Index) Native() *index.Index {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.unsorted = true
	return i.native
}

func (i *Index) addConcurrency() int {
	if i.concurrency > 0 {
		return i.concurrency
	}
	return runtime.GOMAXPROCS(0)
}
