package store

import (
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/walletsync/ledgersync/internal/ledger"
)

// ReconcileResult summarizes one merge of a remote batch into the store.
type ReconcileResult struct {
	Inserted   int
	Updated    int
	Conflicted int
	Cursor     string
}

// Reconcile diffs a remote batch, ordered newest first as received, against
// the store's open set and applies all writes in one database transaction:
// new keys are inserted, changed keys updated, keys the remote no longer
// reports are marked conflicted, and the cursor advances to the newest
// block hash with enough confirmations.
func (s *LedgerStore) Reconcile(batch *ledger.Batch) (ReconcileResult, error) {
	var result ReconcileResult

	// An empty batch carries no information: the parser yields one for
	// malformed payloads too, and running the conflict sweep on it would
	// soft-delete every pending row.
	if batch.Len() == 0 {
		return result, nil
	}

	open, err := s.GetOpenSet()
	if err != nil {
		return result, err
	}

	// spared holds open rows removed by the suppression rule, processed
	// the batch records already applied this cycle; both keep the rule
	// independent of where the senderless twin sits in the listing.
	spared := make(map[string]*ledger.Record)
	processed := make(map[string]*ledger.Record)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// walk oldest to newest so the final cursor is the newest
		// qualifying block
		for i := len(batch.Order) - 1; i >= 0; i-- {
			r := batch.Records[batch.Order[i]]

			if r.Confirmations >= ledger.EnoughConfirmations && !r.Conflicted {
				result.Cursor = r.BlockHash
			}

			stored, known := open[r.Key()]
			if !known {
				if sp, ok := spared[r.Key()]; ok {
					stored, known = sp, true
					delete(spared, r.Key())
				}
			}

			if !known {
				// A pending incoming entry without a sender can be a
				// refinement of a row we already hold under a named
				// sender; drop that row from the working set and write
				// nothing.
				if r.AddressFrom == "" && r.Confirmations == -1 {
					if suppressTwin(r, open, spared, processed) {
						continue
					}
				}

				if err := upsertTx(tx, r); err != nil {
					return err
				}
				result.Inserted++
				processed[r.Key()] = r
				continue
			}

			if stored.Confirmations != r.Confirmations ||
				stored.Conflicted != r.Conflicted ||
				stored.BlockNumber != r.BlockNumber ||
				stored.BlockHash != r.BlockHash ||
				stored.At != r.At {
				if err := updateTx(tx, r); err != nil {
					return err
				}
				result.Updated++
			}
			delete(open, r.Key())
			processed[r.Key()] = r
		}

		// whatever the remote stopped reporting is conflicted now
		for _, stale := range open {
			if err := markConflictedTx(tx, stale); err != nil {
				return err
			}
			result.Conflicted++
		}

		if result.Cursor != "" {
			if err := setSetting(tx, settingLatestBlock, result.Cursor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, err
	}

	log.Debugf("Reconciled batch of %d keys: %d inserted, %d updated, %d conflicted",
		batch.Len(), result.Inserted, result.Updated, result.Conflicted)
	return result, nil
}

// suppressTwin drops a senderless pending entry when the same transfer is
// already held, or was just written, under a named sender. A spared open
// row is parked so it is neither conflicted nor double-counted later.
func suppressTwin(r *ledger.Record, open, spared, processed map[string]*ledger.Record) bool {
	for key, candidate := range open {
		if candidate.SameIgnoringSender(r) {
			spared[key] = candidate
			delete(open, key)
			return true
		}
	}
	for _, candidate := range processed {
		if candidate.SameIgnoringSender(r) {
			return true
		}
	}
	return false
}
