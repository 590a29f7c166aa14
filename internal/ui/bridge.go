package ui

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/walletsync/ledgersync/internal/events"
)

// Bridge forwards sync-cycle events from the bus to every registered
// frontend handler. It is the only bus consumer the daemon runs: engines
// publish outcomes without knowing whether any window is listening.
type Bridge struct {
	bus      *events.EventBus
	registry *Registry

	synced   chan interface{}
	mismatch chan interface{}
	wiped    chan interface{}
	reset    chan interface{}
}

func NewBridge(bus *events.EventBus, reg *Registry) *Bridge {
	return &Bridge{
		bus:      bus,
		registry: reg,
		synced:   make(chan interface{}, 16),
		mismatch: make(chan interface{}, 16),
		wiped:    make(chan interface{}, 16),
		reset:    make(chan interface{}, 16),
	}
}

// Start subscribes to the bus and forwards events until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) {
	b.bus.Subscribe(events.LedgerSynced, b.synced)
	b.bus.Subscribe(events.BalanceMismatch, b.mismatch)
	b.bus.Subscribe(events.CacheWiped, b.wiped)
	b.bus.Subscribe(events.ResetBlockHash, b.reset)

	log.Debugf("ui bridge started")
	for {
		select {
		case data := <-b.synced:
			b.registry.Broadcast("transactions_changed", data)
		case data := <-b.mismatch:
			b.registry.Broadcast("balance_mismatch", data)
		case data := <-b.wiped:
			b.registry.Broadcast("cache_wiped", data)
		case data := <-b.reset:
			b.registry.Broadcast("reset_last_block_hash", data)
		case <-ctx.Done():
			b.bus.Unsubscribe(events.LedgerSynced, b.synced)
			b.bus.Unsubscribe(events.BalanceMismatch, b.mismatch)
			b.bus.Unsubscribe(events.CacheWiped, b.wiped)
			b.bus.Unsubscribe(events.ResetBlockHash, b.reset)
			log.Debugf("ui bridge stopped")
			return
		}
	}
}
