// Package odb defines the object database used when staging files.
//
// An ObjectDatabase stores git objects keyed by their content hash. The hash
// is always computed by go-git ([plumbing.ComputeHash]), so every backend
// agrees on object identity:
//
//   - [FromStorer] adapts a go-git object storer, typically a repository's.
//   - [github.com/meigma/gitbind/odb/loose] stores zlib-compressed loose
//     objects in a git-style sharded directory.
//   - [github.com/meigma/gitbind/odb/badgerdb] stores zstd-compressed
//     objects in an embedded badger database.
package odb

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// ErrObjectNotFound is returned when an object is not present in the database.
var ErrObjectNotFound = errors.New("odb: object not found")

// ObjectDatabase is a content-addressed git object store.
//
// Implementations must be safe for concurrent use.
type ObjectDatabase interface {
	// Store writes content as an object of type typ and returns its hash.
	// Storing an object that already exists is a no-op.
	Store(typ plumbing.ObjectType, content []byte) (plumbing.Hash, error)

	// Has reports whether the object exists.
	Has(h plumbing.Hash) (bool, error)

	// Read returns the type and content of an object.
	// Returns an error wrapping ErrObjectNotFound if it does not exist.
	Read(h plumbing.Hash) (plumbing.ObjectType, []byte, error)
}

// StorerDB adapts a go-git object storer to ObjectDatabase.
//
// go-git storers are not safe for concurrent writes, so every call is
// serialized.
type StorerDB struct {
	mu sync.Mutex
	s  storer.EncodedObjectStorer
}

// FromStorer returns an ObjectDatabase backed by s.
func FromStorer(s storer.EncodedObjectStorer) *StorerDB {
	return &StorerDB{s: s}
}

// Store implements ObjectDatabase.
func (db *StorerDB) Store(typ plumbing.ObjectType, content []byte) (plumbing.Hash, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	h := plumbing.ComputeHash(typ, content)
	if err := db.s.HasEncodedObject(h); err == nil {
		return h, nil
	}

	obj := db.s.NewEncodedObject()
	obj.SetType(typ)
	obj.SetSize(int64(len(content)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open object writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close object writer: %w", err)
	}
	stored, err := db.s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("store object: %w", err)
	}
	return stored, nil
}

// Has implements ObjectDatabase.
func (db *StorerDB) Has(h plumbing.Hash) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	err := db.s.HasEncodedObject(h)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, plumbing.ErrObjectNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Read implements ObjectDatabase.
func (db *StorerDB) Read(h plumbing.Hash) (plumbing.ObjectType, []byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	obj, err := db.s.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return plumbing.InvalidObject, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, h)
		}
		return plumbing.InvalidObject, nil, err
	}
	r, err := obj.Reader()
	if err != nil {
		return plumbing.InvalidObject, nil, fmt.Errorf("open object reader: %w", err)
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return plumbing.InvalidObject, nil, fmt.Errorf("read object: %w", err)
	}
	return obj.Type(), content, nil
}
