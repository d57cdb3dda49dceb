package tracer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"go.uber.org/zap"

	"tokenTracer/internal/metrics"
	"tokenTracer/internal/model"
)

// Decoder turns raw logs into typed events using a signature registry.
type Decoder struct {
	registry *Registry
	logger   *zap.Logger
}

// NewDecoder builds a decoder over an injected registry.
func NewDecoder(registry *Registry, logger *zap.Logger) *Decoder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{registry: registry, logger: logger.With(zap.String("component", "decoder"))}
}

// Registry returns the registry the decoder uses.
func (d *Decoder) Registry() *Registry {
	return d.registry
}

// Decode never fails: unknown signatures and malformed payloads degrade to the unknown variant
// with the raw log kept verbatim.
func (d *Decoder) Decode(log model.LogRecord) model.DecodedEvent {
	event := model.DecodedEvent{
		Address:     log.Address,
		Name:        model.UnknownEventName,
		Raw:         log,
		BlockNumber: log.BlockNumber,
		LogIndex:    log.LogIndex,
		TxHash:      log.TxHash,
	}

	name, args, err := d.decodeArgs(log)
	if err != nil {
		metrics.UnknownEventsTotal.Inc()
		d.logger.Debug("decode anomaly",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint64("log_index", log.LogIndex),
			zap.String("topic0", log.Topic0().Hex()),
			zap.Error(err),
		)
		return event
	}

	event.Name = name
	event.Args = args
	return event
}

// DecodeAll decodes a batch preserving its order.
func (d *Decoder) DecodeAll(logs []model.LogRecord) []model.DecodedEvent {
	out := make([]model.DecodedEvent, 0, len(logs))
	for _, log := range logs {
		out = append(out, d.Decode(log))
	}
	return out
}

func (d *Decoder) decodeArgs(log model.LogRecord) (name string, args map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrDecodeAnomaly, r)
		}
	}()

	if len(log.Topics) == 0 {
		return "", nil, fmt.Errorf("%w: missing topics", ErrDecodeAnomaly)
	}
	sig, ok := d.registry.Lookup(log.Topics[0])
	if !ok {
		return "", nil, fmt.Errorf("%w: unregistered topic0", ErrDecodeAnomaly)
	}

	indexed := indexedArguments(sig.event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return "", nil, fmt.Errorf("%w: expected %d topics, got %d", ErrDecodeAnomaly, len(indexed)+1, len(log.Topics))
	}

	args = make(map[string]interface{}, len(sig.Params))
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return "", nil, fmt.Errorf("%w: parse topics: %v", ErrDecodeAnomaly, err)
	}

	nonIndexed := sig.event.Inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			return "", nil, fmt.Errorf("%w: unpack data: %v", ErrDecodeAnomaly, err)
		}
	} else if len(log.Data) > 0 {
		return "", nil, fmt.Errorf("%w: unexpected data payload", ErrDecodeAnomaly)
	}

	if len(args) != len(sig.Params) {
		return "", nil, fmt.Errorf("%w: decoded %d of %d params", ErrDecodeAnomaly, len(args), len(sig.Params))
	}
	return sig.Name, args, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
