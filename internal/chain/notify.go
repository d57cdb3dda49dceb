package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// forwardHeads converts a newHeads subscription into a block number stream.
func forwardHeads(sub ethereum.Subscription, heads <-chan *types.Header, sink chan<- uint64) ethereum.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case header := <-heads:
				if header == nil || header.Number == nil {
					continue
				}
				select {
				case sink <- header.Number.Uint64():
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

// newPollSubscription emits every block after last as latest advances, without gaps.
func newPollSubscription(interval time.Duration, last uint64, latest func(context.Context) (uint64, error), sink chan<- uint64) ethereum.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}

			head, err := latest(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			for last < head {
				last++
				select {
				case sink <- last:
				case <-quit:
					return nil
				}
			}
		}
	})
}
