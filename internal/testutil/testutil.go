// Package testutil holds helpers shared by gitbind tests.
package testutil

import (
	"errors"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/meigma/gitbind/odb"
)

// NewWorktree returns an in-memory filesystem holding files.
func NewWorktree(tb testing.TB, files map[string]string) billy.Filesystem {
	tb.Helper()
	fs := memfs.New()
	WriteFiles(tb, fs, files)
	return fs
}

// WriteFiles writes files (path to content) into fs.
func WriteFiles(tb testing.TB, fs billy.Filesystem, files map[string]string) {
	tb.Helper()
	for name, content := range files {
		if err := util.WriteFile(fs, name, []byte(content), 0o644); err != nil {
			tb.Fatalf("write %s: %v", name, err)
		}
	}
}

// BlobHash returns the git blob hash of content.
func BlobHash(content string) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(content))
}

// ErrInjected is returned by MockObjectDatabase when failing is enabled.
var ErrInjected = errors.New("testutil: injected failure")

// MockObjectDatabase is an in-memory, concurrency-safe object database that
// can be told to fail.
type MockObjectDatabase struct {
	mu      sync.RWMutex
	objects map[plumbing.Hash]mockObject
	fail    map[plumbing.Hash]bool
	stores  int
}

type mockObject struct {
	typ     plumbing.ObjectType
	content []byte
}

// NewMockObjectDatabase constructs an empty object database.
func NewMockObjectDatabase() *MockObjectDatabase {
	return &MockObjectDatabase{
		objects: make(map[plumbing.Hash]mockObject),
		fail:    make(map[plumbing.Hash]bool),
	}
}

// FailOn makes Store fail for the blob with the given content.
func (m *MockObjectDatabase) FailOn(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[BlobHash(content)] = true
}

// Stores returns the number of successful Store calls.
func (m *MockObjectDatabase) Stores() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stores
}

// Store implements odb.ObjectDatabase.
func (m *MockObjectDatabase) Store(typ plumbing.ObjectType, content []byte) (plumbing.Hash, error) {
	h := plumbing.ComputeHash(typ, content)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[h] {
		return plumbing.ZeroHash, ErrInjected
	}
	m.objects[h] = mockObject{typ: typ, content: append([]byte(nil), content...)}
	m.stores++
	return h, nil
}

// Has implements odb.ObjectDatabase.
func (m *MockObjectDatabase) Has(h plumbing.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[h]
	return ok, nil
}

// Read implements odb.ObjectDatabase.
func (m *MockObjectDatabase) Read(h plumbing.Hash) (plumbing.ObjectType, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[h]
	if !ok {
		return plumbing.InvalidObject, nil, odb.ErrObjectNotFound
	}
	return obj.typ, append([]byte(nil), obj.content...), nil
}

var _ odb.ObjectDatabase = (*MockObjectDatabase)(nil)
