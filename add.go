package gitbind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"golang.org/x/sync/errgroup"
)

// Add stages the working tree file at path: the file is stat'ed, its content
// is stored in the object database as a blob, and the entry for (path, stage)
// is inserted or updated.
//
// Add fails with ErrNoObjectDatabase when the index has no object database
// and with ErrNoWorktree when it has no working tree. On failure the entries
// are unchanged.
func (i *Index) Add(path string, stage Stage) error {
	start := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()

	err := i.addLocked(path, stage)
	i.metrics.observe("add", start, err)
	return err
}

func (i *Index) addLocked(path string, stage Stage) error {
	if err := i.readyLocked(); err != nil {
		return err
	}
	e, err := i.stageFile(path, stage)
	if err != nil {
		return err
	}
	i.upsertLocked(e)
	i.log().Debug("staged file",
		slog.String("path", e.Name),
		slog.Int("stage", int(e.Stage)),
		slog.String("hash", e.Hash.String()))
	return nil
}

// AddAll stages several files. Contents are read and stored concurrently
// (see WithConcurrency); entries are only updated once every file has been
// stored, so a failure leaves the entries unchanged. Cancelling ctx stops
// staging files that have not started yet.
func (i *Index) AddAll(ctx context.Context, paths []string, stage Stage) error {
	start := time.Now()
	i.mu.Lock()
	defer i.mu.Unlock()

	err := i.addAllLocked(ctx, paths, stage)
	i.metrics.observe("add_all", start, err)
	return err
}

func (i *Index) addAllLocked(ctx context.Context, paths []string, stage Stage) error {
	if err := i.readyLocked(); err != nil {
		return err
	}

	entries := make([]*Entry, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.addConcurrency())
	for n, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := i.stageFile(p, stage)
			if err != nil {
				return err
			}
			entries[n] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, e := range entries {
		i.upsertLocked(e)
	}
	i.log().Debug("staged files", slog.Int("count", len(entries)), slog.Int("stage", int(stage)))
	return nil
}

func (i *Index) readyLocked() error {
	switch {
	case i.closed:
		return ErrClosed
	case i.odb == nil:
		return ErrNoObjectDatabase
	case i.worktree == nil:
		return ErrNoWorktree
	}
	return nil
}

// stageFile stores the content of the working tree file at path and returns
// the entry describing it. It reads only fields that never change after
// construction, so it may run concurrently.
func (i *Index) stageFile(path string, stage Stage) (*Entry, error) {
	name := NormalizePath(path)
	if !ValidPath(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if !validStage(stage) {
		return nil, fmt.Errorf("%w: stage %d", ErrOutOfRange, stage)
	}

	info, err := i.worktree.Lstat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	mode, err := filemode.NewFromOSFileMode(info.Mode())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPath, name, err)
	}
	if mode == filemode.Dir || mode == filemode.Submodule {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, name)
	}

	content, err := i.readWorktree(name, info.Mode())
	if err != nil {
		return nil, err
	}
	h, err := i.odb.Store(plumbing.BlobObject, content)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", name, err)
	}

	e := &Entry{
		Name:       name,
		Hash:       h,
		Mode:       mode,
		Size:       uint32(len(content)), //nolint:gosec // git records the size modulo 2^32
		ModifiedAt: info.ModTime(),
		Stage:      stage,
	}
	fillStat(e, info)
	return e, nil
}

func (i *Index) readWorktree(name string, mode os.FileMode) ([]byte, error) {
	if mode&os.ModeSymlink != 0 {
		target, err := i.worktree.Readlink(name)
		if err != nil {
			return nil, fmt.Errorf("readlink %s: %w", name, err)
		}
		return []byte(target), nil
	}

	f, err := i.worktree.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return content, nil
}
