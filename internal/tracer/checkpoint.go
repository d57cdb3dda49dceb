package tracer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Checkpoint is the last block fully processed for one target.
type Checkpoint struct {
	Target             string `json:"target"`
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

type checkpointFile struct {
	Targets map[string]Checkpoint `json:"targets"`
}

// CheckpointStore keeps one cursor per target in a single JSON file. Cursors only move
// forward. A disabled store loads nothing and saves nothing.
type CheckpointStore struct {
	path    string
	enabled bool
	mu      sync.Mutex
	now     func() time.Time
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != "", now: time.Now}
}

// Load returns the cursor stored for target, if any.
func (c *CheckpointStore) Load(target string) (Checkpoint, bool, error) {
	if !c.enabled {
		return Checkpoint{}, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.readLocked()
	if err != nil {
		return Checkpoint{}, false, err
	}
	cp, ok := file.Targets[targetKey(target)]
	return cp, ok, nil
}

// Save records lastProcessed for target. A value behind the stored cursor is ignored.
func (c *CheckpointStore) Save(target string, lastProcessed uint64) error {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.readLocked()
	if err != nil {
		return err
	}
	key := targetKey(target)
	if existing, ok := file.Targets[key]; ok && existing.LastProcessedBlock > lastProcessed {
		return nil
	}
	file.Targets[key] = Checkpoint{
		Target:             key,
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          c.now().UTC().Format(time.RFC3339Nano),
	}
	return c.writeLocked(file)
}

func (c *CheckpointStore) readLocked() (checkpointFile, error) {
	file := checkpointFile{Targets: make(map[string]Checkpoint)}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse checkpoint: %w", err)
	}
	if file.Targets == nil {
		file.Targets = make(map[string]Checkpoint)
	}
	return file, nil
}

func (c *CheckpointStore) writeLocked(file checkpointFile) error {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func targetKey(target string) string {
	return strings.ToLower(strings.TrimSpace(target))
}
