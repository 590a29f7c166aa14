package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletsync/ledgersync/internal/ledger"
)

// makeBatch builds a batch from records listed newest first, the order the
// wallet daemon reports them.
func makeBatch(records ...*ledger.Record) *ledger.Batch {
	batch := &ledger.Batch{Records: make(map[string]*ledger.Record)}
	for _, r := range records {
		key := r.Key()
		if existing, ok := batch.Records[key]; ok {
			existing.Merge(r)
			continue
		}
		batch.Records[key] = r
		batch.Order = append(batch.Order, key)
	}
	return batch
}

func TestReconcileInsertsAndAdvancesCursor(t *testing.T) {
	s := newTestStore(t)

	pending := record("new", "receive", "a", "", 100, 0, 2)
	settled := record("old", "receive", "a", "", 900, 0, ledger.EnoughConfirmations)
	settled.BlockHash = "block-old"

	res, err := s.Reconcile(makeBatch(pending, settled))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Conflicted)
	assert.Equal(t, "block-old", res.Cursor)
	assert.Equal(t, "block-old", s.GetLastCursor())
}

func TestReconcileCursorIsNewestQualifying(t *testing.T) {
	s := newTestStore(t)

	newest := record("c", "receive", "a", "", 1, 0, 3)
	newest.BlockHash = "block-c"
	mid := record("b", "receive", "a", "", 1, 0, ledger.EnoughConfirmations)
	mid.BlockHash = "block-b"
	oldest := record("a", "receive", "a", "", 1, 0, ledger.EnoughConfirmations)
	oldest.BlockHash = "block-a"

	res, err := s.Reconcile(makeBatch(newest, mid, oldest))
	require.NoError(t, err)
	assert.Equal(t, "block-b", res.Cursor)
}

func TestReconcileIdempotent(t *testing.T) {
	s := newTestStore(t)

	batch := makeBatch(
		record("1", "receive", "a", "", 100, 0, 2),
		record("2", "send", "b", "a", -50, 5, 3),
	)
	_, err := s.Reconcile(batch)
	require.NoError(t, err)

	res, err := s.Reconcile(batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Conflicted)
}

func TestReconcileUpdatesChangedRows(t *testing.T) {
	s := newTestStore(t)

	first := record("1", "receive", "a", "", 100, 0, 2)
	_, err := s.Reconcile(makeBatch(first))
	require.NoError(t, err)

	deeper := record("1", "receive", "a", "", 100, 0, 7)
	deeper.BlockHash = "block-7"
	deeper.BlockNumber = 7
	res, err := s.Reconcile(makeBatch(deeper))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	open, err := s.GetOpenSet()
	require.NoError(t, err)
	stored := open[first.Key()]
	require.NotNil(t, stored)
	assert.Equal(t, 7, stored.Confirmations)
	assert.Equal(t, "block-7", stored.BlockHash)
}

func TestReconcileMarksMissingRowsConflicted(t *testing.T) {
	s := newTestStore(t)

	gone := record("gone", "receive", "a", "", 100, 0, 2)
	kept := record("kept", "receive", "a", "", 200, 0, 2)
	_, err := s.Reconcile(makeBatch(gone, kept))
	require.NoError(t, err)
	assert.Equal(t, int64(300), s.Balance())

	res, err := s.Reconcile(makeBatch(kept))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Conflicted)
	assert.Equal(t, int64(200), s.Balance())

	// conflicted rows leave the open set for good
	open, err := s.GetOpenSet()
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestReconcileSettledRowsNotConflicted(t *testing.T) {
	s := newTestStore(t)

	settled := record("done", "receive", "a", "", 100, 0, ledger.EnoughConfirmations)
	_, err := s.Reconcile(makeBatch(settled))
	require.NoError(t, err)

	// remote stops reporting fully confirmed transactions; they stay live
	res, err := s.Reconcile(makeBatch(record("other", "receive", "b", "", 50, 0, 1)))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Conflicted)
	assert.Equal(t, int64(150), s.Balance())
}

func TestReconcileEmptyBatchLeavesOpenSet(t *testing.T) {
	s := newTestStore(t)

	pending := record("1", "receive", "a", "", 100, 0, 2)
	_, err := s.Reconcile(makeBatch(pending))
	require.NoError(t, err)
	require.Equal(t, int64(100), s.Balance())

	// a garbage daemon response parses to an empty batch; it must not
	// touch the pending rows
	res, err := s.Reconcile(ledger.ParseRPCBatch([]byte("not json at all")))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Conflicted)
	assert.Equal(t, int64(100), s.Balance())

	res, err = s.Reconcile(makeBatch())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Conflicted)

	open, err := s.GetOpenSet()
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestReconcileSuppressesSenderlessPendingDuplicate(t *testing.T) {
	s := newTestStore(t)

	held := record("1", "receive", "a", "sender", 100, 0, 2)
	_, err := s.Reconcile(makeBatch(held))
	require.NoError(t, err)

	// the same transfer seen from the receiving side: no sender, still in
	// the mempool from the remote's point of view
	twin := record("1", "receive", "a", "", 100, 0, -1)
	res, err := s.Reconcile(makeBatch(held, twin))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 0, res.Conflicted)

	open, err := s.GetOpenSet()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "sender", open[held.Key()].AddressFrom)
}

func TestReconcileSenderlessPendingWithoutTwinInserts(t *testing.T) {
	s := newTestStore(t)

	lone := record("1", "receive", "a", "", 100, 0, -1)
	res, err := s.Reconcile(makeBatch(lone))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
}
