package tracer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20EventsABI holds the events traced by default.
const ERC20EventsABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "from", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "spender", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
    ],
    "name": "Approval",
    "type": "event"
  }
]`

// Param is one declared event parameter.
type Param struct {
	Name    string
	Type    string
	Indexed bool
}

// EventSignature describes a known event kind.
type EventSignature struct {
	Name      string
	Signature string
	Topic0    common.Hash
	Params    []Param

	event abi.Event
}

// AddressTopicSlots returns the topic positions (1-based) holding indexed address parameters.
func (s EventSignature) AddressTopicSlots() []int {
	slots := make([]int, 0, 3)
	slot := 0
	for _, p := range s.Params {
		if !p.Indexed {
			continue
		}
		slot++
		if p.Type == "address" {
			slots = append(slots, slot)
		}
	}
	return slots
}

// Registry maps topic0 to event signatures. It is immutable after construction.
type Registry struct {
	byTopic map[common.Hash]EventSignature
	ordered []EventSignature
}

// NewRegistry parses the given ABI JSON documents and indexes their non-anonymous events.
func NewRegistry(abiJSON ...string) (*Registry, error) {
	r := &Registry{byTopic: make(map[common.Hash]EventSignature)}
	for _, doc := range abiJSON {
		parsed, err := abi.JSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("parse abi: %w", err)
		}
		for _, event := range parsed.Events {
			if event.Anonymous {
				continue
			}
			if existing, ok := r.byTopic[event.ID]; ok {
				return nil, fmt.Errorf("duplicate event topic %s: %s and %s", event.ID.Hex(), existing.Signature, event.Sig)
			}
			r.byTopic[event.ID] = newEventSignature(event)
		}
	}

	r.ordered = make([]EventSignature, 0, len(r.byTopic))
	for _, sig := range r.byTopic {
		r.ordered = append(r.ordered, sig)
	}
	sort.Slice(r.ordered, func(i, j int) bool {
		return r.ordered[i].Signature < r.ordered[j].Signature
	})
	return r, nil
}

// DefaultRegistry returns a registry with the ERC-20 Transfer and Approval events.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(ERC20EventsABI)
	if err != nil {
		panic(err)
	}
	return r
}

func newEventSignature(event abi.Event) EventSignature {
	params := make([]Param, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		params = append(params, Param{Name: input.Name, Type: input.Type.String(), Indexed: input.Indexed})
	}
	return EventSignature{
		Name:      event.RawName,
		Signature: event.Sig,
		Topic0:    event.ID,
		Params:    params,
		event:     event,
	}
}

// Lookup returns the signature registered for topic0.
func (r *Registry) Lookup(topic0 common.Hash) (EventSignature, bool) {
	sig, ok := r.byTopic[topic0]
	return sig, ok
}

// Signatures returns all signatures ordered by their canonical string.
func (r *Registry) Signatures() []EventSignature {
	out := make([]EventSignature, len(r.ordered))
	copy(out, r.ordered)
	return out
}
