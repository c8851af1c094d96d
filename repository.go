package gitbind

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/meigma/gitbind/internal/handle"
	"github.com/meigma/gitbind/odb"
)

// Repository wraps a go-git repository.
//
// The native repository is reference counted: each Index opened from a
// Repository holds its own reference, so the repository stays usable by
// those indexes after the Repository itself is closed. Native resources are
// released when the last reference goes away.
type Repository struct {
	ref    *handle.Ref[*repoState]
	logger *slog.Logger
}

type repoState struct {
	repo     *git.Repository
	db       odb.ObjectDatabase
	worktree billy.Filesystem // nil for bare repositories
	gitDir   string           // absolute path of the git directory, if on disk
}

// indexStore returns where the repository keeps its index.
func (st *repoState) indexStore() indexStore {
	if fsys, ok := st.repo.Storer.(interface{ Filesystem() billy.Filesystem }); ok {
		id := fmt.Sprintf("storer:%p/index", st.repo.Storer)
		if st.gitDir != "" {
			id = filepath.Join(st.gitDir, "index")
		}
		return &fileStore{fs: fsys.Filesystem(), name: "index", id: id}
	}
	return &storerStore{s: st.repo.Storer, id: fmt.Sprintf("storer:%p/index", st.repo.Storer)}
}

func releaseRepo(st *repoState) error {
	if c, ok := st.repo.Storer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// OpenRepository opens the repository at path (a working tree containing
// .git, or a bare repository).
func OpenRepository(path string, opts ...Option) (*Repository, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: repository %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return wrapRepository(r, true, opts)
}

// InitRepository creates a repository at path.
func InitRepository(path string, bare bool, opts ...Option) (*Repository, error) {
	r, err := git.PlainInit(path, bare)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	return wrapRepository(r, true, opts)
}

// NewMemoryRepository creates an empty repository with in-memory storage and
// an in-memory working tree.
func NewMemoryRepository(opts ...Option) (*Repository, error) {
	r, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	return wrapRepository(r, false, opts)
}

// WrapRepository adopts an already open go-git repository. Closing the last
// reference closes its storage if the storage supports closing.
func WrapRepository(r *git.Repository, opts ...Option) (*Repository, error) {
	if r == nil {
		return nil, errors.New("gitbind: nil repository")
	}
	return wrapRepository(r, false, opts)
}

func wrapRepository(r *git.Repository, onDisk bool, opts []Option) (*Repository, error) {
	o := newOptions(opts)
	st := &repoState{repo: r, db: odb.FromStorer(r.Storer)}

	wt, err := r.Worktree()
	switch {
	case err == nil:
		st.worktree = wt.Filesystem
	case errors.Is(err, git.ErrIsBareRepository):
	default:
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	if fsys, ok := r.Storer.(interface{ Filesystem() billy.Filesystem }); ok && onDisk {
		if st.gitDir, err = filepath.Abs(fsys.Filesystem().Root()); err != nil {
			return nil, fmt.Errorf("resolve git dir: %w", err)
		}
	}

	repo := &Repository{ref: handle.New(st, releaseRepo), logger: o.logger}
	if o.owner != nil {
		o.owner.Adopt(repo)
	}
	repo.log().Debug("opened repository", slog.String("git_dir", st.gitDir), slog.Bool("bare", st.worktree == nil))
	return repo, nil
}

func (r *Repository) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

func (r *Repository) share() (*handle.Ref[*repoState], error) {
	if r == nil {
		return nil, ErrClosed
	}
	ref, err := r.ref.Share()
	if err != nil {
		return nil, ErrClosed
	}
	return ref, nil
}

// Index opens the repository's index. It is shorthand for
// OpenRepositoryIndex(r, opts...).
func (r *Repository) Index(opts ...Option) (*Index, error) {
	return OpenRepositoryIndex(r, opts...)
}

// Native returns the wrapped go-git repository, or nil once r is closed.
func (r *Repository) Native() *git.Repository {
	st, ok := r.ref.Get()
	if !ok {
		return nil
	}
	return st.repo
}

// Worktree returns the working tree filesystem, or nil for bare
// repositories and closed wrappers.
func (r *Repository) Worktree() billy.Filesystem {
	st, ok := r.ref.Get()
	if !ok {
		return nil
	}
	return st.worktree
}

// ObjectDatabase returns the repository's object database, or nil once r is
// closed.
func (r *Repository) ObjectDatabase() odb.ObjectDatabase {
	st, ok := r.ref.Get()
	if !ok {
		return nil
	}
	return st.db
}

// Close drops this wrapper's reference to the native repository. Indexes
// opened from r keep working until they are closed. Closing twice is a no-op.
func (r *Repository) Close() error {
	return r.ref.Release()
}
