package viewer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEventBusAssignsMonotonicSeq checks sequence numbering.
func TestEventBusAssignsMonotonicSeq(t *testing.T) {
	bus := NewEventBus(10)

	first := bus.Publish(Event{Type: EventTypeState, State: StateLoading})
	second := bus.Publish(Event{Type: EventTypeMesh, State: StateDisplaying})

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.False(t, second.Timestamp.IsZero())
}

// TestEventBusSince checks incremental reads only return newer events.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(10)
	bus.Publish(Event{Type: EventTypeState, State: StateLoading})
	marker := bus.Publish(Event{Type: EventTypeState, State: StateFailed})
	bus.Publish(Event{Type: EventTypeState, State: StateLoading})

	events := bus.Since(marker.Seq)
	require.Len(t, events, 1)
	assert.Equal(t, StateLoading, events[0].State)

	assert.Empty(t, bus.Since(events[0].Seq))
}

// TestEventBusBounded checks old events are dropped past the cap while
// sequence numbers keep climbing.
func TestEventBusBounded(t *testing.T) {
	bus := NewEventBus(3)
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventTypeState, Message: fmt.Sprintf("event-%d", i)})
	}

	events := bus.Since(0)
	require.Len(t, events, 3)
	assert.Equal(t, int64(8), events[0].Seq)
	assert.Equal(t, int64(10), events[2].Seq)
}
