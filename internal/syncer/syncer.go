package syncer

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/walletsync/ledgersync/internal/config"
	"github.com/walletsync/ledgersync/internal/events"
	"github.com/walletsync/ledgersync/internal/gateway"
	"github.com/walletsync/ledgersync/internal/ledger"
	"github.com/walletsync/ledgersync/internal/store"
	"github.com/walletsync/ledgersync/internal/ui"
)

type cmdSetIdentity struct {
	identity string
}

type cmdSetToken struct {
	token string
	qa    bool
}

type cmdQuery struct {
	filter    *store.Filter
	reply     chan *store.QueryResult
	handlerID string
	event     string
}

type cmdInvalidate struct{}

// cmdCycleResult carries one completed daemon round trip back onto the
// worker goroutine. identity is the identity the fetch was started for;
// results for a stale identity are dropped.
type cmdCycleResult struct {
	identity  string
	batch     json.RawMessage
	err       error
	balance   float64
	balanceOK bool
}

// Syncer keeps the transaction cache consistent with the wallet daemon.
// All store access happens on the single worker goroutine inside Start,
// so no locking is needed around the cache or the sync state.
type Syncer struct {
	gateway gateway.Client
	store   *store.LedgerStore
	bus     *events.EventBus
	ui      *ui.Registry
	control store.ControlSum

	mailbox chan interface{}

	// worker-owned state
	identity string
	token    string
	qa       bool
	loaded   bool
	syncing  bool

	pendingReads []cmdQuery
}

func NewSyncer(gw gateway.Client, st *store.LedgerStore, bus *events.EventBus, reg *ui.Registry) *Syncer {
	return &Syncer{
		gateway: gw,
		store:   st,
		bus:     bus,
		ui:      reg,
		mailbox: make(chan interface{}, 64),
	}
}

// SetIdentity switches the cache to another wallet. The store for the
// previous identity is closed and a fresh sync is scheduled.
func (s *Syncer) SetIdentity(identity string) {
	s.mailbox <- cmdSetIdentity{identity: identity}
}

// SetToken updates the bearer token used on daemon calls.
func (s *Syncer) SetToken(token string, qa bool) {
	s.mailbox <- cmdSetToken{token: token, qa: qa}
}

// Invalidate forces a sync cycle ahead of the regular schedule.
func (s *Syncer) Invalidate() {
	s.mailbox <- cmdInvalidate{}
}

// Query reads transactions from the cache. While a sync cycle is in
// flight the read is queued and answered after the cycle commits, so a
// caller never observes a half-applied batch.
func (s *Syncer) Query(ctx context.Context, filter *store.Filter) *store.QueryResult {
	return s.QueryTo(ctx, filter, "", "")
}

// QueryTo is Query with an optional UI handler: when handlerID is set the
// result is additionally delivered to that handler under the given event.
func (s *Syncer) QueryTo(ctx context.Context, filter *store.Filter, handlerID, event string) *store.QueryResult {
	reply := make(chan *store.QueryResult, 1)
	select {
	case s.mailbox <- cmdQuery{filter: filter, reply: reply, handlerID: handlerID, event: event}:
	case <-ctx.Done():
		return &store.QueryResult{Error: ctx.Err().Error()}
	}
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return &store.QueryResult{Error: ctx.Err().Error()}
	}
}

func (s *Syncer) Start(ctx context.Context) {
	interval := config.AppConfig.SyncInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Infof("Syncer started, interval %s", interval)

	for {
		select {
		case <-ctx.Done():
			s.drainReads()
			s.closeStore()
			log.Info("Syncer stopped.")
			return
		case <-ticker.C:
			s.beginCycle(ctx)
		case msg := <-s.mailbox:
			s.handle(ctx, msg)
		}
	}
}

func (s *Syncer) handle(ctx context.Context, msg interface{}) {
	switch cmd := msg.(type) {
	case cmdSetIdentity:
		s.switchIdentity(ctx, cmd.identity)
	case cmdSetToken:
		s.token = cmd.token
		s.qa = cmd.qa
	case cmdInvalidate:
		s.beginCycle(ctx)
	case cmdQuery:
		if s.syncing {
			s.pendingReads = append(s.pendingReads, cmd)
			return
		}
		s.answer(cmd)
	case cmdCycleResult:
		s.finishCycle(cmd)
	default:
		log.Warnf("syncer: unknown mailbox message %T", msg)
	}
}

func (s *Syncer) switchIdentity(ctx context.Context, identity string) {
	if identity == s.identity {
		return
	}
	s.identity = identity
	s.loaded = false
	s.control.Reset()
	if err := s.store.Open(identity, false); err != nil {
		log.Errorf("failed to open transaction cache for new identity: %v", err)
		return
	}
	s.beginCycle(ctx)
}

// beginCycle launches one daemon round trip. Only one cycle runs at a
// time; ticks arriving while a cycle is in flight are ignored.
func (s *Syncer) beginCycle(ctx context.Context) {
	if s.syncing || s.identity == "" || !s.store.IsOpen() {
		return
	}
	s.syncing = true

	identity := s.identity
	token := s.token
	qa := s.qa
	cursor := s.store.GetLastCursor()

	go func() {
		s.mailbox <- s.fetchCycle(ctx, identity, token, qa, cursor)
	}()
}

// fetchCycle performs the network half of a sync cycle off the worker
// goroutine: listsinceblock from the cursor, then getbalance once the
// daemon reports its masternode list as synced.
func (s *Syncer) fetchCycle(ctx context.Context, identity, token string, qa bool, cursor string) cmdCycleResult {
	result := cmdCycleResult{identity: identity}

	params := []any{cursor, 1, true}
	raw, err := s.gateway.RPC(ctx, "listsinceblock", params, token, qa)
	if err != nil {
		result.err = err
		return result
	}
	result.batch = raw

	status, err := s.gateway.RPC(ctx, "mnsync", []any{"status"}, token, qa)
	if err != nil {
		log.Debugf("mnsync status unavailable, skipping balance check: %v", err)
		return result
	}
	var mnsync struct {
		IsBlockchainSynced bool `json:"IsBlockchainSynced"`
	}
	if err := json.Unmarshal(status, &mnsync); err != nil || !mnsync.IsBlockchainSynced {
		return result
	}

	balRaw, err := s.gateway.RPC(ctx, "getbalance", []any{}, token, qa)
	if err != nil {
		log.Debugf("getbalance failed, skipping balance check: %v", err)
		return result
	}
	if err := json.Unmarshal(balRaw, &result.balance); err != nil {
		log.Warnf("getbalance returned non-numeric result: %s", balRaw)
		return result
	}
	result.balanceOK = true
	return result
}

func (s *Syncer) finishCycle(res cmdCycleResult) {
	s.syncing = false
	defer s.drainReads()

	if res.identity != s.identity {
		log.Debugf("dropping sync result for stale identity")
		return
	}
	if res.err != nil {
		log.Warnf("sync cycle failed: %v", res.err)
		return
	}

	batch := ledger.ParseRPCBatch(res.batch)
	outcome, err := s.store.Reconcile(batch)
	if err != nil {
		log.Errorf("failed to reconcile transaction batch: %v", err)
		s.loaded = false
		return
	}
	s.loaded = true
	if outcome.Inserted > 0 || outcome.Updated > 0 || outcome.Conflicted > 0 {
		log.Infof("ledger synced, inserted: %d, updated: %d, conflicted: %d, cursor: %s",
			outcome.Inserted, outcome.Updated, outcome.Conflicted, outcome.Cursor)
		s.bus.Publish(events.LedgerSynced, outcome)
	}

	if res.balanceOK {
		if s.control.Check(s.store, res.balance) {
			log.Errorf("balance control sum diverged beyond tolerance, recreating transaction cache")
			if err := s.store.Recreate(); err != nil {
				log.Errorf("failed to recreate transaction cache: %v", err)
			}
			s.loaded = false
			s.control.Reset()
			s.bus.Publish(events.CacheWiped, s.identity)
		} else if s.control.Failures() > 0 {
			s.bus.Publish(events.BalanceMismatch, s.control.Failures())
		}
	}
}

func (s *Syncer) query(filter *store.Filter) *store.QueryResult {
	if s.identity == "" || !s.store.IsOpen() {
		return &store.QueryResult{IsLoading: true}
	}
	res := s.store.Query(filter)
	res.IsLoading = !s.loaded
	return res
}

func (s *Syncer) answer(cmd cmdQuery) {
	res := s.query(cmd.filter)
	cmd.reply <- res
	if cmd.handlerID != "" {
		s.ui.Deliver(cmd.handlerID, cmd.event, res)
	}
}

func (s *Syncer) drainReads() {
	if len(s.pendingReads) == 0 {
		return
	}
	reads := s.pendingReads
	s.pendingReads = nil
	for _, cmd := range reads {
		s.answer(cmd)
	}
}

func (s *Syncer) closeStore() {
	if err := s.store.Close(); err != nil {
		log.Warnf("failed to close transaction cache: %v", err)
	}
}
