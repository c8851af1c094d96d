// Package loose implements an object database of git loose objects.
//
// Objects are stored exactly as git stores them under .git/objects: the
// zlib-compressed bytes of "<type> <size>\x00<content>", at a path made of
// the first two hex characters of the hash as a directory and the remaining
// 38 as the file name. A directory written by this package can be read by
// git, and vice versa for loose (unpacked) objects.
package loose

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/compress/zlib"

	"github.com/meigma/gitbind/odb"
)

const (
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o444
)

// Store is a loose-object directory. It is safe for concurrent use.
type Store struct {
	dir      string      // objects root
	dirPerm  os.FileMode // permissions for shard directories
	filePerm os.FileMode // permissions for object files
	level    int         // zlib compression level
}

// Option configures a Store.
type Option func(*Store)

// WithDirPerm sets the permissions used for shard directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithFilePerm sets the permissions used for object files. Defaults to 0444.
func WithFilePerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.filePerm = mode
	}
}

// WithCompressionLevel sets the zlib compression level.
// Defaults to zlib.DefaultCompression.
func WithCompressionLevel(level int) Option {
	return func(s *Store) {
		s.level = level
	}
}

// New creates a loose-object store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("loose: objects dir is empty")
	}
	s := &Store{
		dir:      dir,
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
		level:    zlib.DefaultCompression,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.level < zlib.HuffmanOnly || s.level > zlib.BestCompression {
		return nil, fmt.Errorf("loose: invalid compression level %d", s.level)
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the objects root.
func (s *Store) Dir() string {
	return s.dir
}

// Store implements odb.ObjectDatabase.
func (s *Store) Store(typ plumbing.ObjectType, content []byte) (plumbing.Hash, error) {
	if !typ.Valid() {
		return plumbing.ZeroHash, fmt.Errorf("loose: invalid object type %v", typ)
	}
	h := plumbing.ComputeHash(typ, content)
	path := s.path(h)
	if _, err := os.Stat(path); err == nil {
		return h, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return plumbing.ZeroHash, err
	}

	tmp, err := os.CreateTemp(dir, "tmp_obj_*")
	if err != nil {
		return plumbing.ZeroHash, err
	}
	tmpPath := tmp.Name()

	if err := s.encode(tmp, typ, content); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return plumbing.ZeroHash, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return plumbing.ZeroHash, err
	}
	if err := os.Chmod(tmpPath, s.filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return plumbing.ZeroHash, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// Another writer may have stored the same object first.
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmpPath)
			return h, nil
		}
		_ = os.Remove(tmpPath)
		return plumbing.ZeroHash, err
	}
	return h, nil
}

func (s *Store) encode(w io.Writer, typ plumbing.ObjectType, content []byte) error {
	zw, err := zlib.NewWriterLevel(w, s.level)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(zw, "%s %d\x00", typ, len(content)); err != nil {
		zw.Close()
		return err
	}
	if _, err := zw.Write(content); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Has implements odb.ObjectDatabase.
func (s *Store) Has(h plumbing.Hash) (bool, error) {
	_, err := os.Stat(s.path(h))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Read implements odb.ObjectDatabase.
func (s *Store) Read(h plumbing.Hash) (plumbing.ObjectType, []byte, error) {
	f, err := os.Open(s.path(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return plumbing.InvalidObject, nil, fmt.Errorf("%w: %s", odb.ErrObjectNotFound, h)
		}
		return plumbing.InvalidObject, nil, err
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return plumbing.InvalidObject, nil, fmt.Errorf("loose: corrupt object %s: %w", h, err)
	}
	defer zr.Close()

	br := bufio.NewReader(zr)
	typ, size, err := readHeader(br)
	if err != nil {
		return plumbing.InvalidObject, nil, fmt.Errorf("loose: corrupt object %s: %w", h, err)
	}
	content := make([]byte, size)
	if _, err := io.ReadFull(br, content); err != nil {
		return plumbing.InvalidObject, nil, fmt.Errorf("loose: corrupt object %s: %w", h, err)
	}
	if got := plumbing.ComputeHash(typ, content); got != h {
		return plumbing.InvalidObject, nil, fmt.Errorf("loose: object %s hashes to %s", h, got)
	}
	return typ, content, nil
}

func readHeader(br *bufio.Reader) (plumbing.ObjectType, int64, error) {
	header, err := br.ReadBytes(0)
	if err != nil {
		return plumbing.InvalidObject, 0, err
	}
	header = header[:len(header)-1]
	typStr, sizeStr, ok := bytes.Cut(header, []byte{' '})
	if !ok {
		return plumbing.InvalidObject, 0, errors.New("malformed header")
	}
	typ, err := plumbing.ParseObjectType(string(typStr))
	if err != nil {
		return plumbing.InvalidObject, 0, err
	}
	size, err := strconv.ParseInt(string(sizeStr), 10, 64)
	if err != nil || size < 0 {
		return plumbing.InvalidObject, 0, fmt.Errorf("malformed size %q", sizeStr)
	}
	return typ, size, nil
}

func (s *Store) path(h plumbing.Hash) string {
	hexHash := h.String()
	return filepath.Join(s.dir, hexHash[:2], hexHash[2:])
}
