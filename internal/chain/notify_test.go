package chain

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollSubscriptionEmitsWithoutGaps(t *testing.T) {
	var head atomic.Uint64
	head.Store(10)
	latest := func(context.Context) (uint64, error) {
		return head.Load(), nil
	}

	sink := make(chan uint64, 16)
	sub := newPollSubscription(5*time.Millisecond, 10, latest, sink)
	defer sub.Unsubscribe()

	head.Store(13)

	got := make([]uint64, 0, 3)
	for len(got) < 3 {
		select {
		case n := <-sink:
			got = append(got, n)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []uint64{11, 12, 13}, got)
}

func TestPollSubscriptionReportsError(t *testing.T) {
	boom := errors.New("node down")
	latest := func(context.Context) (uint64, error) {
		return 0, boom
	}

	sub := newPollSubscription(5*time.Millisecond, 1, latest, make(chan uint64))
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		require.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("expected subscription error")
	}
}
