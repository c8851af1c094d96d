package gitbind

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/gitbind/internal/testutil"
)

var testModTime = time.Unix(1700000000, 0)

func testEntry(path string, stage Stage, content string) *Entry {
	return NewEntry(path, stage, testutil.BlobHash(content), uint32(len(content)), testModTime) //nolint:gosec // small test data
}

func openMemIndex(t *testing.T, fs billy.Filesystem, opts ...Option) *Index {
	t.Helper()
	idx, err := OpenIndex("index", append([]Option{WithFilesystem(fs)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func names(idx *Index) []string {
	var out []string
	for _, e := range idx.All() {
		out = append(out, e.Name)
	}
	return out
}

func TestIndexWriteThenReadInNewWrapper(t *testing.T) {
	fs := memfs.New()

	idx1 := openMemIndex(t, fs)
	assert.Equal(t, 0, idx1.EntryCount())
	require.NoError(t, idx1.Insert(testEntry("a.txt", StageNormal, "a")))
	assert.Equal(t, 0, idx1.Find("a.txt"))
	require.NoError(t, idx1.Write())

	idx2 := openMemIndex(t, fs)
	require.NoError(t, idx2.Read())
	assert.Equal(t, 1, idx2.EntryCount())
	assert.Equal(t, 0, idx2.Find("a.txt"))

	e := idx2.Get(0)
	require.NotNil(t, e)
	assert.Equal(t, testutil.BlobHash("a"), e.Hash)
	assert.Equal(t, uint32(1), e.Size)
	assert.True(t, testModTime.Equal(e.ModifiedAt))
}

func TestOpenIndexOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index")

	idx, err := OpenIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(testEntry("dir/file.go", StageNormal, "package x\n")))
	require.NoError(t, idx.Write())
	require.NoError(t, idx.Close())

	reopened, err := OpenIndex(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.EntryCount())
	assert.Equal(t, DefaultIndexVersion, reopened.Version())
	assert.Equal(t, 0, reopened.Find("dir/file.go"))
}

func TestOpenIndexErrors(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := OpenIndex("")
		require.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("unsupported version", func(t *testing.T) {
		_, err := OpenIndex("index", WithFilesystem(memfs.New()), WithIndexVersion(9))
		require.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("malformed file", func(t *testing.T) {
		fs := memfs.New()
		require.NoError(t, util.WriteFile(fs, "index", []byte("not an index"), 0o644))
		_, err := OpenIndex("index", WithFilesystem(fs))
		require.ErrorIs(t, err, ErrMalformedIndex)
		assert.Equal(t, CodeCorrupted, Code(err))
	})

	t.Run("truncated file", func(t *testing.T) {
		fs := memfs.New()
		require.NoError(t, util.WriteFile(fs, "index", nil, 0o644))
		_, err := OpenIndex("index", WithFilesystem(fs))
		require.ErrorIs(t, err, ErrMalformedIndex)
	})
}

func TestIndexNewVersion(t *testing.T) {
	fs := memfs.New()
	idx := openMemIndex(t, fs, WithIndexVersion(3))
	assert.Equal(t, uint32(3), idx.Version())
}

func TestIndexReadExistingFile(t *testing.T) {
	fs := memfs.New()
	data := testutil.BuildTestIndex(t, []testutil.TestEntry{
		{Path: "b.txt", Content: "b"},
		{Path: "a.txt", Content: "a"},
		{Path: "c/d.txt", Content: "d"},
	})
	require.NoError(t, util.WriteFile(fs, "index", data, 0o644))

	idx := openMemIndex(t, fs)
	assert.Equal(t, []string{"a.txt", "b.txt", "c/d.txt"}, names(idx))
	assert.Equal(t, 2, idx.Find("c/d.txt"))
	assert.Equal(t, -1, idx.Find("c"))
}

func TestIndexReadFailureKeepsEntries(t *testing.T) {
	fs := memfs.New()
	idx := openMemIndex(t, fs)
	require.NoError(t, idx.Insert(testEntry("a.txt", StageNormal, "a")))

	require.NoError(t, util.WriteFile(fs, "index", []byte("DIRCgarbage"), 0o644))
	err := idx.Read()
	require.ErrorIs(t, err, ErrMalformedIndex)
	assert.Equal(t, 1, idx.EntryCount())
}

func TestIndexReadMissingFileEmpties(t *testing.T) {
	idx := openMemIndex(t, memfs.New())
	require.NoError(t, idx.Insert(testEntry("a.txt", StageNormal, "a")))
	require.NoError(t, idx.Read())
	assert.Equal(t, 0, idx.EntryCount())
}

func TestIndexClear(t *testing.T) {
	fs := memfs.New()
	idx := openMemIndex(t, fs)
	require.NoError(t, idx.Insert(testEntry("a.txt", StageNormal, "a")))
	require.NoError(t, idx.Write())

	idx.Clear()
	assert.Equal(t, 0, idx.EntryCount())

	// Disk is untouched until Write.
	require.NoError(t, idx.Read())
	assert.Equal(t, 1, idx.EntryCount())

	idx.Clear()
	require.NoError(t, idx.Write())
	require.NoError(t, idx.Read())
	assert.Equal(t, 0, idx.EntryCount())
}

func TestIndexInsert(t *testing.T) {
	t.Run("keeps entries sorted", func(t *testing.T) {
		idx := openMemIndex(t, memfs.New())
		for _, p := range []string{"z", "a/b", "m", "a"} {
			require.NoError(t, idx.Insert(testEntry(p, StageNormal, p)))
		}
		assert.Equal(t, []string{"a", "a/b", "m", "z"}, names(idx))
	})

	t.Run("replaces same path and stage", func(t *testing.T) {
		idx := openMemIndex(t, memfs.New())
		require.NoError(t, idx.Insert(testEntry("a.txt", StageNormal, "one")))
		require.NoError(t, idx.Insert(testEntry("a.txt", StageNormal, "two")))
		assert.Equal(t, 1, idx.EntryCount())
		assert.Equal(t, testutil.BlobHash("two"), idx.Get(0).Hash)
	})

	t.Run("stages coexist", func(t *testing.T) {
		idx := openMemIndex(t, memfs.New())
		require.NoError(t, idx.Insert(testEntry("c.txt", StageTheirs, "theirs")))
		require.NoError(t, idx.Insert(testEntry("c.txt", StageOurs, "ours")))
		require.NoError(t, idx.Insert(testEntry("b.txt", StageNormal, "b")))
		require.NoError(t, idx.Insert(testEntry("c.txt", StageAncestor, "base")))

		assert.Equal(t, 4, idx.EntryCount())
		assert.Equal(t, 1, idx.Find("c.txt"))
		assert.Equal(t, StageAncestor, idx.Get(1).Stage)
		assert.Equal(t, 3, idx.FindStage("c.txt", StageTheirs))
		assert.Equal(t, -1, idx.FindStage("c.txt", StageNormal))
	})

	t.Run("copies the entry", func(t *testing.T) {
		idx := openMemIndex(t, memfs.New())
		e := testEntry("a.txt", StageNormal, "a")
		require.NoError(t, idx.Insert(e))

		e.Name = "changed"
		e.Hash = plumbing.ZeroHash
		assert.Equal(t, 0, idx.Find("a.txt"))
		assert.Equal(t, testutil.BlobHash("a"), idx.Get(0).Hash)
	})

	t.Run("normalizes path", func(t *testing.T) {
		idx := openMemIndex(t, memfs.New())
		require.NoError(t, idx.Insert(testEntry("/dir//x.txt/", StageNormal, "x")))
		assert.Equal(t, 0, idx.Find("dir/x.txt"))
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		idx := openMemIndex(t, memfs.New())
		require.ErrorIs(t, idx.Insert(nil), ErrInvalidPath)
		require.ErrorIs(t, idx.Insert(testEntry("", StageNormal, "")), ErrInvalidPath)
		require.ErrorIs(t, idx.Insert(testEntry("../x", StageNormal, "")), ErrInvalidPath)
		require.ErrorIs(t, idx.Insert(testEntry(".git/config", StageNormal, "")), ErrInvalidPath)
		require.ErrorIs(t, idx.Insert(testEntry("x", Stage(4), "")), ErrOutOfRange)
		assert.Equal(t, 0, idx.EntryCount())
	})
}

func TestIndexRemove(t *testing.T) {
	idx := openMemIndex(t, memfs.New())
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Insert(testEntry(p, StageNormal, p)))
	}

	require.NoError(t, idx.Remove(1))
	assert.Equal(t, []string{"a", "c"}, names(idx))
	assert.Equal(t, 1, idx.Find("c"))

	for _, pos := range []int{-1, 2, 100} {
		err := idx.Remove(pos)
		require.ErrorIs(t, err, ErrOutOfRange)
		assert.Equal(t, CodeInvalid, Code(err))
	}
	assert.Equal(t, 2, idx.EntryCount())
}

func TestIndexRemovePath(t *testing.T) {
	idx := openMemIndex(t, memfs.New())
	require.NoError(t, idx.Insert(testEntry("a", StageNormal, "a")))
	for _, s := range []Stage{StageAncestor, StageOurs, StageTheirs} {
		require.NoError(t, idx.Insert(testEntry("c", s, "c")))
	}

	assert.Equal(t, 3, idx.RemovePath("c"))
	assert.Equal(t, 0, idx.RemovePath("c"))
	assert.Equal(t, []string{"a"}, names(idx))
}

func TestIndexGet(t *testing.T) {
	fs := memfs.New()
	idx := openMemIndex(t, fs)
	require.NoError(t, idx.Insert(testEntry("a.txt", StageNormal, "a")))
	require.NoError(t, idx.Insert(testEntry("b.txt", StageNormal, "b")))

	assert.Nil(t, idx.Get(-1))
	assert.Nil(t, idx.Get(2))

	t.Run("mutation is persisted", func(t *testing.T) {
		e := idx.Get(0)
		e.Hash = testutil.BlobHash("changed")
		require.NoError(t, idx.Write())

		other := openMemIndex(t, fs)
		assert.Equal(t, testutil.BlobHash("changed"), other.Get(other.Find("a.txt")).Hash)
	})

	t.Run("renaming reorders lazily", func(t *testing.T) {
		idx.Get(0).Name = "z.txt"
		assert.Equal(t, 1, idx.Find("z.txt"))
		assert.Equal(t, 0, idx.Find("b.txt"))
	})
}

func TestIndexClone(t *testing.T) {
	fs := memfs.New()
	db := testutil.NewMockObjectDatabase()
	idx := openMemIndex(t, fs, WithObjectDatabase(db))
	require.NoError(t, idx.Insert(testEntry("a.txt", StageNormal, "a")))

	clone, err := idx.Clone()
	require.NoError(t, err)
	defer clone.Close()

	clone.Get(0).Hash = plumbing.ZeroHash
	require.NoError(t, clone.Insert(testEntry("b.txt", StageNormal, "b")))

	assert.Equal(t, 1, idx.EntryCount())
	assert.Equal(t, testutil.BlobHash("a"), idx.Get(0).Hash)
	assert.Equal(t, 2, clone.EntryCount())
	assert.True(t, clone.HasObjectDatabase())
	assert.Equal(t, idx.Path(), clone.Path())

	// Closing the original leaves the clone usable.
	require.NoError(t, idx.Close())
	assert.Equal(t, 2, clone.EntryCount())
	require.NoError(t, clone.Write())
}

func TestIndexWriteLease(t *testing.T) {
	fs := memfs.New()
	idx1 := openMemIndex(t, fs)
	idx2 := openMemIndex(t, fs)

	require.NoError(t, idx1.Insert(testEntry("a", StageNormal, "a")))
	require.NoError(t, idx1.Write())
	require.NoError(t, idx1.Write())
	assert.True(t, leaseHeld(idx1.store.key()))

	err := idx2.Write()
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, CodeLocked, Code(err))

	// A reader is not blocked by the writer.
	require.NoError(t, idx2.Read())
	assert.Equal(t, 1, idx2.EntryCount())

	require.NoError(t, idx1.Close())
	assert.False(t, leaseHeld(idx1.store.key()))
	require.NoError(t, idx2.Write())
}

func TestIndexWriteLockFileContention(t *testing.T) {
	fs := memfs.New()
	idx := openMemIndex(t, fs)
	require.NoError(t, idx.Insert(testEntry("a", StageNormal, "a")))

	require.NoError(t, util.WriteFile(fs, "index.lock", nil, 0o644))
	err := idx.Write()
	require.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, CodeLocked, Code(err))
	assert.False(t, leaseHeld(idx.store.key()), "failed write must not keep the lease")

	_, err = fs.Stat("index")
	require.Error(t, err, "index must not be created while locked")

	require.NoError(t, fs.Remove("index.lock"))
	require.NoError(t, idx.Write())
	_, err = fs.Stat("index.lock")
	require.Error(t, err)
}

func TestIndexClosed(t *testing.T) {
	fs := memfs.New()
	idx, err := OpenIndex("index", WithFilesystem(fs), WithObjectDatabase(testutil.NewMockObjectDatabase()))
	require.NoError(t, err)
	require.NoError(t, idx.Insert(testEntry("a", StageNormal, "a")))

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	assert.ErrorIs(t, idx.Read(), ErrClosed)
	assert.ErrorIs(t, idx.Write(), ErrClosed)
	assert.ErrorIs(t, idx.Insert(testEntry("b", StageNormal, "b")), ErrClosed)
	assert.ErrorIs(t, idx.Remove(0), ErrClosed)
	assert.ErrorIs(t, idx.Add("a", StageNormal), ErrClosed)
	assert.ErrorIs(t, idx.AddAll(context.Background(), []string{"a"}, StageNormal), ErrClosed)
	assert.Equal(t, CodeClosed, Code(idx.Write()))
	assert.Equal(t, -1, idx.Find("a"))
	assert.Equal(t, -1, idx.FindStage("a", StageNormal))
	assert.Equal(t, 0, idx.RemovePath("a"))
	assert.Nil(t, idx.Get(0))
	assert.Nil(t, idx.Native())
	assert.Equal(t, 0, idx.EntryCount())
	assert.Equal(t, uint32(0), idx.Version())
	assert.Empty(t, names(idx))
	idx.Clear()

	_, err = idx.Clone()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndexNative(t *testing.T) {
	idx := openMemIndex(t, memfs.New())
	require.NoError(t, idx.Insert(testEntry("b", StageNormal, "b")))

	native := idx.Native()
	require.NotNil(t, native)
	native.Entries = append(native.Entries, testEntry("a", StageNormal, "a"))

	assert.Equal(t, 2, idx.EntryCount())
	assert.Equal(t, 0, idx.Find("a"))
}

func TestIndexAllStopsEarly(t *testing.T) {
	idx := openMemIndex(t, memfs.New())
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Insert(testEntry(p, StageNormal, p)))
	}

	var seen []int
	for n := range idx.All() {
		seen = append(seen, n)
		if n == 1 {
			break
		}
	}
	assert.Equal(t, []int{0, 1}, seen)
}

func TestIndexOwner(t *testing.T) {
	var scope Scope
	fs := memfs.New()

	idx, err := OpenIndex("index", WithFilesystem(fs), WithOwner(&scope))
	require.NoError(t, err)
	require.NoError(t, idx.Insert(testEntry("a", StageNormal, "a")))
	require.NoError(t, idx.Write())
	assert.Equal(t, 1, scope.Len())

	require.NoError(t, scope.Close())
	assert.Equal(t, 0, idx.EntryCount())
	assert.False(t, leaseHeld(idx.store.key()))

	// Explicit close after the owner closed it is harmless.
	require.NoError(t, idx.Close())
}

func TestIndexConcurrentUse(t *testing.T) {
	idx := openMemIndex(t, memfs.New())

	done := make(chan struct{})
	for w := range 8 {
		go func() {
			defer func() { done <- struct{}{} }()
			for n := range 25 {
				p := string(rune('a'+w)) + "/" + string(rune('a'+n))
				assert.NoError(t, idx.Insert(testEntry(p, StageNormal, p)))
				idx.Find(p)
				idx.EntryCount()
			}
		}()
	}
	for range 8 {
		<-done
	}
	assert.Equal(t, 200, idx.EntryCount())
}
