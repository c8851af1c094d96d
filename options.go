package gitbind

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"

	"github.com/meigma/gitbind/odb"
)

// Option configures an Index or Repository.
// Options that do not apply to a constructor are ignored by it.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	metrics     *Metrics
	owner       Owner
	odb         odb.ObjectDatabase
	worktree    billy.Filesystem
	fs          billy.Filesystem
	version     uint32
	concurrency int
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets the logger for debug and warning output.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records operation counts and durations into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithOwner registers the wrapper with an external owner. When the owner
// tears down, it closes the wrapper. Without an owner the caller is
// responsible for calling Close.
func WithOwner(owner Owner) Option {
	return func(o *options) {
		o.owner = owner
	}
}

// WithObjectDatabase binds an object database to the index, enabling Add on
// a standalone index file. For repository indexes it replaces the
// repository's own object storer. The index does not close db.
func WithObjectDatabase(db odb.ObjectDatabase) Option {
	return func(o *options) {
		o.odb = db
	}
}

// WithWorktree sets the filesystem Add reads files from. For repository
// indexes it defaults to the repository's working tree.
func WithWorktree(fs billy.Filesystem) Option {
	return func(o *options) {
		o.worktree = fs
	}
}

// WithFilesystem makes OpenIndex resolve the index path on fs instead of the
// host filesystem.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithIndexVersion sets the format version used when the index file does not
// exist yet. Supported versions are 2, 3 and 4.
func WithIndexVersion(v uint32) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithConcurrency sets the number of files AddAll hashes in parallel.
// Values <= 0 use GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}
