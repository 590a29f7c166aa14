package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverToRegisteredHandler(t *testing.T) {
	r := NewRegistry()

	var got []Message
	id := r.Register(HandlerFunc(func(msg Message) {
		got = append(got, msg)
	}))
	require.NotEmpty(t, id)

	r.Deliver(id, "transactions_changed", map[string]any{"count": 3})
	require.Len(t, got, 1)
	assert.Equal(t, "transactions_changed", got[0].Event)
}

func TestDeliverToUnknownHandlerIsDropped(t *testing.T) {
	r := NewRegistry()
	r.Deliver("nope", "transactions_changed", nil)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r := NewRegistry()

	calls := 0
	id := r.Register(HandlerFunc(func(Message) { calls++ }))
	r.Deliver(id, "a", nil)
	r.Unregister(id)
	r.Deliver(id, "b", nil)
	assert.Equal(t, 1, calls)
}

func TestBroadcast(t *testing.T) {
	r := NewRegistry()

	calls := 0
	r.Register(HandlerFunc(func(Message) { calls++ }))
	r.Register(HandlerFunc(func(Message) { calls++ }))
	r.Broadcast("reset_last_block_hash", nil)
	assert.Equal(t, 2, calls)
}
