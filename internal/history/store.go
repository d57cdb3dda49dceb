package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"tokenTracer/internal/metrics"
	"tokenTracer/internal/model"
	"tokenTracer/internal/storage"
	"tokenTracer/internal/token"
	"tokenTracer/internal/tracer"
)

// Storage keys of the two history collections.
const (
	LocalHistoryKey = "transferHistory"
	ChainHistoryKey = "chainHistory"
)

// LocalTransfer is what the submitter knows once a transfer is confirmed. Spender and
// IsDelegated are recorded exactly as given.
type LocalTransfer struct {
	TxHash       string
	From         string
	To           string
	Amount       string
	TokenAddress string
	TokenName    string
	TokenSymbol  string
	BlockNumber  uint64
	GasUsed      string
	GasPrice     *string
	Spender      *string
	IsDelegated  bool
}

// Store keeps the local and chain collections in a key/value store. Each collection is
// serialized as a JSON array, newest first.
type Store struct {
	kv    storage.KV
	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

// NewStore keeps records in kv.
func NewStore(kv storage.KV) *Store {
	return &Store{
		kv:    kv,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func keyFor(source model.Source) (string, error) {
	switch source {
	case model.SourceLocal:
		return LocalHistoryKey, nil
	case model.SourceChain:
		return ChainHistoryKey, nil
	default:
		return "", fmt.Errorf("unknown history source %q", source)
	}
}

// RecordLocal validates details and prepends a new local record.
func (s *Store) RecordLocal(ctx context.Context, details LocalTransfer) (model.TransferRecord, error) {
	if err := validateLocal(details); err != nil {
		return model.TransferRecord{}, err
	}

	record := model.TransferRecord{
		ID:           s.newID(),
		TxHash:       details.TxHash,
		From:         details.From,
		To:           details.To,
		Amount:       details.Amount,
		TokenAddress: details.TokenAddress,
		TokenName:    details.TokenName,
		TokenSymbol:  details.TokenSymbol,
		Timestamp:    s.now().UTC().Format(isoLayout),
		BlockNumber:  details.BlockNumber,
		GasUsed:      details.GasUsed,
		GasPrice:     details.GasPrice,
		Spender:      details.Spender,
		IsDelegated:  details.IsDelegated,
		Source:       model.SourceLocal,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.loadLocked(ctx, LocalHistoryKey)
	if err != nil {
		return model.TransferRecord{}, err
	}
	updated := make([]model.TransferRecord, 0, len(existing)+1)
	updated = append(updated, record)
	updated = append(updated, existing...)
	if err := s.saveLocked(ctx, LocalHistoryKey, updated); err != nil {
		return model.TransferRecord{}, err
	}

	metrics.HistoryRecordsTotal.WithLabelValues(string(model.SourceLocal)).Inc()
	return record, nil
}

// SaveChain replaces the chain snapshot.
func (s *Store) SaveChain(ctx context.Context, records []model.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, ChainHistoryKey, records)
}

// Load returns the collection for source. A missing collection is empty, not an error.
func (s *Store) Load(ctx context.Context, source model.Source) ([]model.TransferRecord, error) {
	key, err := keyFor(source)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, key)
}

// Clear drops the collection for source and leaves the other untouched.
func (s *Store) Clear(ctx context.Context, source model.Source) error {
	key, err := keyFor(source)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(ctx, key)
}

func (s *Store) loadLocked(ctx context.Context, key string) ([]model.TransferRecord, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []model.TransferRecord{}, nil
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	var records []model.TransferRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return records, nil
}

func (s *Store) saveLocked(ctx context.Context, key string, records []model.TransferRecord) error {
	if records == nil {
		records = []model.TransferRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func validateLocal(d LocalTransfer) error {
	if !isTxHash(d.TxHash) {
		return fmt.Errorf("invalid tx hash %q", d.TxHash)
	}
	for _, addr := range []string{d.From, d.To, d.TokenAddress} {
		if _, err := tracer.NormalizeAddress(addr); err != nil {
			return err
		}
	}
	if d.Spender != nil {
		if _, err := tracer.NormalizeAddress(*d.Spender); err != nil {
			return err
		}
	}
	if err := token.ValidateAmount(d.Amount); err != nil {
		return err
	}
	return nil
}

func isTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}
