package ledger

import "math"

// EnoughConfirmations is the depth at which a transaction is treated as
// final; remote-reported confirmations are clamped to it.
const EnoughConfirmations = 101

// Transaction type bitmask reported by the explorer API.
const (
	TxTypeSend       = 1
	TxTypeReceive    = 2
	TxTypePow        = 4
	TxTypePos        = 8
	TxTypeStake      = 16
	TxTypeMasternode = 32
)

// Record is one observed ledger event. Amount and Fee are fixed-point
// integers in the smallest currency unit (1e-8). The confirmation fields
// (Confirmations, Conflicted, BlockHash, BlockNumber) are populated by the
// wallet RPC source; Height and TxType by the explorer source.
type Record struct {
	Txid          string
	Category      string
	TxType        int
	AddressTo     string
	AddressFrom   string
	Amount        int64
	Fee           int64
	At            int64
	Confirmations int
	Conflicted    bool
	BlockHash     string
	BlockNumber   int64
	Height        int64
}

// Key groups multi-output rows of the same transaction. Two remote entries
// with equal keys are aggregated, not overwritten.
func (r *Record) Key() string {
	return r.Txid + "-" + r.AddressTo + "-" + r.Category + r.AddressFrom
}

// Merge adds the amounts of a duplicate-key entry into r. All other fields
// keep their first-seen values.
func (r *Record) Merge(other *Record) {
	r.Amount += other.Amount
	r.Fee += other.Fee
}

// SameIgnoringSender reports whether other describes the same transaction
// apart from the sender address. Used by the pending-incoming suppression
// rule during reconciliation.
func (r *Record) SameIgnoringSender(other *Record) bool {
	return r.Txid == other.Txid &&
		r.AddressTo == other.AddressTo &&
		r.Category == other.Category &&
		r.Amount == other.Amount
}

// ToFixedPoint converts a remote decimal currency value to smallest units,
// rounding half to even the way C rint does.
func ToFixedPoint(v float64) int64 {
	return int64(math.RoundToEven(v * 100000000))
}

// CategoryFromTxType derives the display category from the explorer type
// bitmask. Priority matches the remote source: generation first, then
// staking combinations, then plain send/receive.
func CategoryFromTxType(txtype int) string {
	if txtype&TxTypePow != 0 {
		return "pos"
	}

	if txtype&TxTypePos != 0 {
		if txtype&TxTypeStake != 0 {
			if txtype&TxTypeMasternode != 0 {
				return "stakemasternode"
			}
			return "pos"
		}
		if txtype&TxTypeMasternode != 0 {
			return "masternode"
		}
		return "pos"
	}

	if txtype&TxTypeSend != 0 {
		return "send"
	}

	if txtype&TxTypeReceive != 0 {
		return "receive"
	}

	return "unknown"
}
