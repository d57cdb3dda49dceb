package storage

import (
	"context"
	"errors"

	"tokenTracer/internal/model"
)

var (
	// ErrNotFound is returned by KV.Get for an absent key.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("storage closed")
)

// KV is a small persistent key/value store for history snapshots.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// EventSink receives newly merged decoded events.
type EventSink interface {
	PutEventBatch(ctx context.Context, events []model.DecodedEvent) error
}

// Sinks fans a batch out to every sink in order and returns the first error.
type Sinks []EventSink

func (s Sinks) PutEventBatch(ctx context.Context, events []model.DecodedEvent) error {
	for _, sink := range s {
		if err := sink.PutEventBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}
