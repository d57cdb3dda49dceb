package tracer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidAddress is returned before any I/O when an address fails format or checksum validation.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrFetchFailed matches any *FetchError.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrDecodeAnomaly describes a log that could not be decoded. Decode never returns it.
	ErrDecodeAnomaly = errors.New("decode anomaly")
	// ErrAlreadySubscribed is returned by Subscribe while a subscription is active.
	ErrAlreadySubscribed = errors.New("already subscribed")
)

// Query describes one topic-filtered range query.
type Query struct {
	FromBlock uint64
	ToBlock   uint64
	Topics    [][]common.Hash
}

func (q Query) String() string {
	slots := make([]string, len(q.Topics))
	for i, slot := range q.Topics {
		if len(slot) == 0 {
			slots[i] = "*"
			continue
		}
		parts := make([]string, len(slot))
		for j, topic := range slot {
			parts[j] = topic.Hex()
		}
		slots[i] = strings.Join(parts, "|")
	}
	return fmt.Sprintf("blocks [%d,%d] topics [%s]", q.FromBlock, q.ToBlock, strings.Join(slots, ", "))
}

// FetchError wraps an RPC failure with the query that triggered it.
type FetchError struct {
	Query Query
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed: %s: %v", e.Query, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrFetchFailed) hold for every FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
