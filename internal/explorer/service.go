package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/walletsync/ledgersync/internal/events"
	"github.com/walletsync/ledgersync/internal/gateway"
	"github.com/walletsync/ledgersync/internal/ledger"
)

const importPageSize = 100

// Service is the request-driven ledger engine backed by the block explorer
// API. Unlike the daemon syncer it has no timer of its own; the frontend
// drives it with import and check calls carrying chain state it already
// knows. A mutex serializes store access across HTTP handlers.
type Service struct {
	gateway gateway.Client
	store   *HeightStore
	bus     *events.EventBus
	qa      bool

	mu sync.Mutex
}

func NewService(gw gateway.Client, st *HeightStore, bus *events.EventBus) *Service {
	return &Service{
		gateway: gw,
		store:   st,
		bus:     bus,
	}
}

// SetIdentity opens the per-identity database, replacing any previous one.
func (s *Service) SetIdentity(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Open(identity)
}

func (s *Service) SetQA(qa bool) {
	s.mu.Lock()
	s.qa = qa
	s.mu.Unlock()
}

// GetLastBlockHash returns the block hash recorded by the last completed
// import, or ok=false when no import has run for this identity yet.
func (s *Service) GetLastBlockHash() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.IsOpen() {
		return "", false
	}
	return s.store.GetBlockHash()
}

// ImportTransactions brings the cache up to the given chain tip. When the
// recorded block hash already matches nothing is fetched and reload=false
// is returned; otherwise pages of up to 100 entries are pulled starting
// after the newest confirmed txid until a short page arrives.
func (s *Service) ImportTransactions(ctx context.Context, address string, currentHeight int64, blockHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.IsOpen() {
		return false, fmt.Errorf("transaction database is not open")
	}
	if !s.store.IsBlockHashChanged(blockHash) {
		return false, nil
	}

	from := s.store.LastConfirmedTxid(currentHeight)
	for {
		entries, err := s.fetchPage(ctx, address, from)
		if err != nil {
			return false, err
		}
		records := make([]*ledger.Record, 0, len(entries))
		for _, fields := range entries {
			r, ok := ledger.ParseExplorerEntry(fields)
			if !ok {
				log.Warnf("skipping malformed explorer entry: %v", fields)
				continue
			}
			records = append(records, r)
		}
		lastTxid, err := s.store.ImportBatch(records)
		if err != nil {
			return false, err
		}
		if len(entries) < importPageSize {
			break
		}
		from = lastTxid
	}

	if err := s.store.SetBlockHash(blockHash); err != nil {
		return false, err
	}
	log.Infof("explorer import finished, height: %d, block hash: %s", currentHeight, blockHash)
	return true, nil
}

func (s *Service) fetchPage(ctx context.Context, address, from string) ([]map[string]any, error) {
	body := map[string]any{
		"address": address,
		"from":    from,
		"count":   importPageSize,
	}
	raw, err := s.gateway.Explorer(ctx, "w/tx/list", body, s.qa)
	if err != nil {
		return nil, err
	}
	var page struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, &gateway.PayloadError{Reason: "transaction list is not an object with data"}
	}
	return page.Data, nil
}

// CheckTransactions compares the cached balance against the balance the
// explorer reports for address. A mismatch wipes and recreates the database
// so the next import starts from scratch, unless a recent import suggests
// the cache is simply ahead of the caller (30 minute cool-down). A check
// for an address the service is no longer opened for is discarded: it was
// issued before a session switch and must not wipe the new wallet's cache.
func (s *Service) CheckTransactions(address string, reportedBalance float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.store.IsOpen() {
		return false, fmt.Errorf("transaction database is not open")
	}
	if address != s.store.Identity() {
		log.Debugf("dropping balance check for stale address %s", address)
		return false, nil
	}
	if s.store.Balance() == ledger.ToFixedPoint(reportedBalance) {
		return false, nil
	}
	if !s.store.IsResyncAllowed() {
		log.Debug("balance mismatch within resync cool-down, keeping cache")
		return false, nil
	}

	identity := s.store.Identity()
	log.Warnf("cached balance diverged from explorer, recreating database for %s", identity)
	if err := s.store.Remove(identity); err != nil {
		return false, err
	}
	if err := s.store.Open(identity); err != nil {
		return false, err
	}
	s.bus.Publish(events.ResetBlockHash, identity)
	return true, nil
}

func (s *Service) GetTransactions(f *Filter) *HeightQueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.IsOpen() {
		return &HeightQueryResult{IsLoading: true}
	}
	return s.store.Query(f)
}

// Dump returns every row ordered by height for debug inspection.
func (s *Service) Dump() []HeightRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.IsOpen() {
		return nil
	}
	return s.store.Dump()
}

// Desync deletes all incoming rows so the next import has work to do.
// Debug aid only.
func (s *Service) Desync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.store.IsOpen() {
		return fmt.Errorf("transaction database is not open")
	}
	return s.store.Desync()
}

// RemoveDatabase deletes the database file for the current identity.
func (s *Service) RemoveDatabase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity := s.store.Identity()
	if identity == "" {
		return fmt.Errorf("transaction database is not open")
	}
	return s.store.Remove(identity)
}
