package tracer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenTracer/internal/model"
)

func decodedAt(t *testing.T, block, index uint64) model.DecodedEvent {
	t.Helper()
	return NewDecoder(nil, nil).Decode(model.NewLogRecord(transferLog(block, index, testTarget, testOther, int64(block))))
}

func keysOf(events []model.DecodedEvent) []model.EventKey {
	keys := make([]model.EventKey, len(events))
	for i, e := range events {
		keys[i] = e.Key()
	}
	return keys
}

func TestMergeIsIdempotent(t *testing.T) {
	batch := []model.DecodedEvent{decodedAt(t, 905, 2), decodedAt(t, 901, 0)}

	once, added := Merge(NewEventSet(), batch)
	assert.Len(t, added, 2)

	twice, added := Merge(once, batch)
	assert.Empty(t, added)
	assert.Same(t, once, twice)
	assert.Equal(t, keysOf(once.Events()), keysOf(twice.Events()))
}

func TestMergeCanonicalOrder(t *testing.T) {
	events := []model.DecodedEvent{
		decodedAt(t, 905, 2),
		decodedAt(t, 901, 0),
		decodedAt(t, 905, 0),
		decodedAt(t, 950, 1),
		decodedAt(t, 901, 3),
	}
	rand.New(rand.NewSource(7)).Shuffle(len(events), func(i, j int) {
		events[i], events[j] = events[j], events[i]
	})

	set, _ := Merge(nil, events[:2])
	set, _ = Merge(set, events[2:])

	got := set.Events()
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Less(got[i]), "events out of order at %d", i)
	}

	recent := set.Recent()
	assert.Equal(t, uint64(950), recent[0].BlockNumber)
	assert.Equal(t, uint64(901), recent[len(recent)-1].BlockNumber)
	assert.Equal(t, uint64(0), recent[len(recent)-1].LogIndex)
}

func TestMergeDoesNotOverwrite(t *testing.T) {
	original := decodedAt(t, 10, 0)
	set, _ := Merge(nil, []model.DecodedEvent{original})

	replacement := original
	replacement.Name = model.UnknownEventName
	replacement.Args = nil
	next, added := Merge(set, []model.DecodedEvent{replacement})

	assert.Empty(t, added)
	assert.Equal(t, "Transfer", next.Events()[0].Name)
}

func TestMergeDedupsWithinBatch(t *testing.T) {
	e := decodedAt(t, 10, 0)
	set, added := Merge(nil, []model.DecodedEvent{e, e})
	assert.Len(t, added, 1)
	assert.Equal(t, 1, set.Len())
	assert.True(t, set.Contains(e.Key()))
}

func TestMergeLeavesInputSetUntouched(t *testing.T) {
	base, _ := Merge(nil, []model.DecodedEvent{decodedAt(t, 10, 0)})
	_, _ = Merge(base, []model.DecodedEvent{decodedAt(t, 11, 0)})
	assert.Equal(t, 1, base.Len())
}

func TestEventStoreSnapshots(t *testing.T) {
	store := NewEventStore()
	before := store.Snapshot()

	added := store.Merge([]model.DecodedEvent{decodedAt(t, 10, 0), decodedAt(t, 9, 1)})
	require.Len(t, added, 2)
	assert.Equal(t, uint64(9), added[0].BlockNumber)

	assert.Equal(t, 0, before.Len(), "published snapshots are immutable")
	assert.Equal(t, 2, store.Snapshot().Len())

	assert.Empty(t, store.Merge([]model.DecodedEvent{decodedAt(t, 10, 0)}))

	store.Reset()
	assert.Equal(t, 0, store.Snapshot().Len())
}
