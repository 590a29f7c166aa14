package store

import (
	log "github.com/sirupsen/logrus"

	"github.com/walletsync/ledgersync/internal/ledger"
)

// maxControlSumFailures is how many consecutive balance mismatches are
// tolerated before the cache is considered corrupt.
const maxControlSumFailures = 15

// ControlSum compares the store's aggregate balance against the balance
// the remote source reports. Divergence has to persist across many cycles
// before the store is thrown away, because a mismatch can also mean the
// remote simply has not caught up yet.
type ControlSum struct {
	failures int
}

// Check records one comparison. It returns true when sustained divergence
// has exhausted the failure budget and the caller must recreate the store.
func (c *ControlSum) Check(s *LedgerStore, remoteBalance float64) bool {
	dbBalance := s.Balance()
	rpcBalance := ledger.ToFixedPoint(remoteBalance)

	if dbBalance == rpcBalance {
		c.failures = 0
		return false
	}

	c.failures++
	log.Warnf("Ledger balance mismatch: store %d, remote %d (failure %d of %d)",
		dbBalance, rpcBalance, c.failures, maxControlSumFailures)

	return c.failures > maxControlSumFailures
}

// Failures is the current mismatch streak length.
func (c *ControlSum) Failures() int {
	return c.failures
}

// Reset clears the failure counter, used when the identity changes or the
// store is recreated.
func (c *ControlSum) Reset() {
	c.failures = 0
}
