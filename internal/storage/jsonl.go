package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tokenTracer/internal/model"
)

// exportLine is one JSONL row. ID is the chain-wide event key, so readers can drop repeats
// across runs.
type exportLine struct {
	ID    string             `json:"id"`
	Event model.DecodedEvent `json:"event"`
}

// JsonlSink appends decoded events to a JSONL file. The file is opened on the first
// non-empty batch and kept open until Close.
type JsonlSink struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewJsonlSink(path string) *JsonlSink {
	return &JsonlSink{path: path}
}

// PutEventBatch appends a batch of events, one JSON object per line.
func (s *JsonlSink) PutEventBatch(_ context.Context, events []model.DecodedEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		return err
	}
	for _, event := range events {
		if err := s.enc.Encode(exportLine{ID: event.Key().String(), Event: event}); err != nil {
			return fmt.Errorf("write event %s: %w", event.Key(), err)
		}
	}
	return nil
}

func (s *JsonlSink) openLocked() error {
	if s.file != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	s.file = file
	s.enc = json.NewEncoder(file)
	return nil
}

// Close releases the output file. The sink reopens it on the next batch.
func (s *JsonlSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.enc = nil, nil
	return err
}
