// Package badgerdb implements an object database on an embedded badger store.
//
// Each object is stored under its raw 20-byte hash (prefixed with "o/") as a
// one-byte object type followed by the zstd-compressed content.
package badgerdb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/gitbind/odb"
)

var keyPrefix = []byte("o/")

// Config holds the database configuration.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in memory; nothing is persisted.
	InMemory bool

	// SyncWrites makes every write durable before returning.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// EncoderLevel is the zstd compression level.
	EncoderLevel zstd.EncoderLevel
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		SyncWrites:   true,
		EncoderLevel: zstd.SpeedDefault,
	}
}

// InMemoryConfig returns a configuration for a throwaway in-memory database.
func InMemoryConfig() Config {
	return Config{
		InMemory:     true,
		EncoderLevel: zstd.SpeedFastest,
	}
}

// Store is a badger-backed object database. It is safe for concurrent use.
type Store struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// badgerLogger routes badger's logs to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerdb: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerdb: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	level := cfg.EncoderLevel
	if level == 0 {
		level = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("badgerdb: create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("badgerdb: create decoder: %w", err)
	}

	db, err := badger.Open(opts)
	if err != nil {
		enc.Close()
		dec.Close()
		return nil, fmt.Errorf("badgerdb: open: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Close releases the database. The Store must not be used afterwards.
func (s *Store) Close() error {
	err := s.enc.Close()
	s.dec.Close()
	return errors.Join(err, s.db.Close())
}

func key(h plumbing.Hash) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(h))
	k = append(k, keyPrefix...)
	return append(k, h[:]...)
}

// Store implements odb.ObjectDatabase.
func (s *Store) Store(typ plumbing.ObjectType, content []byte) (plumbing.Hash, error) {
	if !typ.Valid() {
		return plumbing.ZeroHash, fmt.Errorf("badgerdb: invalid object type %v", typ)
	}
	h := plumbing.ComputeHash(typ, content)
	exists, err := s.Has(h)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("badgerdb: store %s: %w", h, err)
	}
	if exists {
		return h, nil
	}

	k := key(h)
	value := make([]byte, 1, 1+len(content)/2)
	value[0] = byte(typ)
	value = s.enc.EncodeAll(content, value)

	// A blind write never conflicts; concurrent writers store identical bytes.
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, value)
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("badgerdb: store %s: %w", h, err)
	}
	return h, nil
}

// Has implements odb.ObjectDatabase.
func (s *Store) Has(h plumbing.Hash) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(h))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Read implements odb.ObjectDatabase.
func (s *Store) Read(h plumbing.Hash) (plumbing.ObjectType, []byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(h))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return plumbing.InvalidObject, nil, fmt.Errorf("%w: %s", odb.ErrObjectNotFound, h)
	}
	if err != nil {
		return plumbing.InvalidObject, nil, fmt.Errorf("badgerdb: read %s: %w", h, err)
	}
	if len(value) == 0 {
		return plumbing.InvalidObject, nil, fmt.Errorf("badgerdb: corrupt object %s", h)
	}

	typ := plumbing.ObjectType(value[0])
	content, err := s.dec.DecodeAll(value[1:], nil)
	if err != nil {
		return plumbing.InvalidObject, nil, fmt.Errorf("badgerdb: corrupt object %s: %w", h, err)
	}
	if got := plumbing.ComputeHash(typ, content); got != h {
		return plumbing.InvalidObject, nil, fmt.Errorf("badgerdb: object %s hashes to %s", h, got)
	}
	return typ, content, nil
}
