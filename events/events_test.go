package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/triunity/node/types"
)

var at = time.Unix(1_700_000_000, 0)

func TestEventBusDelivers(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()
	assert.Equal(t, 1, bus.GetTotalSubscriptions())
	assert.True(t, bus.HasSubscriber(id))

	bus.Publish(NewBlockApplied(101, types.HashBytes([]byte("b")), 3, at))

	select {
	case ev := <-ch:
		assert.Equal(t, EventBlockApplied, ev.Type())
		assert.Equal(t, "101", ev.Subject())
		assert.Equal(t, at, ev.Timestamp())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))
	assert.Equal(t, 0, bus.GetTotalSubscriptions())
	_, open := <-ch
	assert.False(t, open)
}

func TestEventBusFiltersByType(t *testing.T) {
	bus := NewEventBus()
	_, penalties := bus.Subscribe(EventPeerPenalized)

	bus.Publish(NewSyncModeChanged("synced", "block_sync", 150, at))
	bus.Publish(NewPeerPenalized("peer-a", 0.4, "merkle_mismatch", at))

	require.Len(t, penalties, 1)
	ev := (<-penalties).(*PeerPenalized)
	assert.Equal(t, "peer-a", ev.PeerID)
	assert.Equal(t, 0.4, ev.Reliability)
}

func TestEventBusNeverBlocks(t *testing.T) {
	bus := NewEventBus()
	_, ch := bus.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(NewPathSelected("fast_lane", "FastLane", "dpos", 0.7, at))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestNilBusDiscards(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() {
		bus.Publish(NewPathSelected("hybrid_path", "", "hybrid_stake_work", 0.7, at))
	})
}
