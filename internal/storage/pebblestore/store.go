package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"tokenTracer/internal/storage"
)

// Config configures the pebble-backed KV.
type Config struct {
	Path string
	// CacheMB sizes the block cache in megabytes.
	CacheMB int64
	Logger  *zap.Logger
}

// Store implements storage.KV on PebbleDB.
type Store struct {
	db     *pebble.DB
	logger *zap.Logger
	closed atomic.Bool
}

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("pebble path is required")
	}
	if cfg.CacheMB <= 0 {
		cfg.CacheMB = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := pebble.NewCache(cfg.CacheMB << 20)
	defer cache.Unref()

	db, err := pebble.Open(cfg.Path, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("pebble store opened", zap.String("component", "storage"), zap.String("path", cfg.Path))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) ensureNotClosed() error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return nil
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

// Put stores value under key with a synced write.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close releases the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

var _ storage.KV = (*Store)(nil)
