package ui

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync/ledgersync/internal/events"
)

func TestBridgeForwardsBusEventsToHandlers(t *testing.T) {
	bus := events.NewEventBus()
	reg := NewRegistry()

	got := make(chan Message, 4)
	reg.Register(HandlerFunc(func(msg Message) { got <- msg }))

	b := NewBridge(bus, reg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	// give the bridge a moment to subscribe
	require.Eventually(t, func() bool {
		bus.Publish(events.CacheWiped, "wallet-1")
		select {
		case msg := <-got:
			assert.Equal(t, "cache_wiped", msg.Event)
			assert.Equal(t, "wallet-1", msg.Payload)
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	bus.Publish(events.ResetBlockHash, "wallet-1")
	select {
	case msg := <-got:
		assert.Equal(t, "reset_last_block_hash", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("no forwarded event")
	}
}

func TestBridgeStopsOnCancel(t *testing.T) {
	bus := events.NewEventBus()
	reg := NewRegistry()

	got := make(chan Message, 4)
	reg.Register(HandlerFunc(func(msg Message) { got <- msg }))

	b := NewBridge(bus, reg)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Start(ctx)

	require.Eventually(t, func() bool {
		bus.Publish(events.LedgerSynced, nil)
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	// after unsubscribe the publish lands nowhere
	require.Eventually(t, func() bool {
		bus.Publish(events.LedgerSynced, nil)
		select {
		case <-got:
			return false
		default:
			return true
		}
	}, time.Second, 10*time.Millisecond)
}
