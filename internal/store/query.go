package store

import (
	"strconv"

	"github.com/walletsync/ledgersync/internal/ledger"
)

// AddressFilter is the nested "addresses" filter: rows matching either
// IN-list are returned. Present-but-empty lists on both sides mean the
// caller merged two empty selections, which matches nothing.
type AddressFilter struct {
	AddressTo   []string `json:"address_to"`
	AddressFrom []string `json:"address_from"`
}

// Filter drives the dynamic transaction query. Zero values mean "absent".
type Filter struct {
	PeriodBegin  int64          `json:"period_begin"`
	PeriodFinish int64          `json:"period_finish"`
	Category     string         `json:"category"`
	Unconfirmed  bool           `json:"unconfirmed"`
	AddressTo    []string       `json:"address_to"`
	AddressFrom  []string       `json:"address_from"`
	Addresses    *AddressFilter `json:"addresses"`
	Text         string         `json:"text"`
	Limit        int            `json:"limit"`

	// Named sub-filters evaluated within the same response.
	StakingPendingTo *Filter `json:"staking_pending_to"`
	LotteryPendingTo *Filter `json:"lottery_pending_to"`
}

func (f *Filter) matchesNothing() bool {
	return f.Addresses != nil &&
		f.Addresses.AddressTo != nil && len(f.Addresses.AddressTo) == 0 &&
		f.Addresses.AddressFrom != nil && len(f.Addresses.AddressFrom) == 0
}

// Row is one rendered transaction. Amounts are decimal strings because the
// consuming webview cannot hold 64-bit integers exactly.
type Row struct {
	Txid          string `json:"txid"`
	Category      string `json:"category"`
	AddressTo     string `json:"address_to"`
	AddressFrom   string `json:"address_from"`
	At            int64  `json:"at"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee"`
	Confirmations int    `json:"confirmations"`
	Conflicted    int    `json:"conflicted"`
	BlockNumber   int64  `json:"blocknumber"`
}

// QueryResult is the full query response: the filtered rows, the min/max
// timestamps over the unfiltered table, and any named sub-filter lists.
type QueryResult struct {
	Transactions         []Row  `json:"transactions"`
	FirstTransactionDate int64  `json:"first_transaction_date,omitempty"`
	LastTransactionDate  int64  `json:"last_transaction_date,omitempty"`
	StakingPending       []Row  `json:"staking_pending,omitempty"`
	LotteryPending       []Row  `json:"lottery_pending,omitempty"`
	IsLoading            bool   `json:"is_loading"`
	Error                string `json:"error,omitempty"`
}

type scanRow struct {
	Txid          string
	Category      string
	AddressTo     string
	AddressFrom   string
	At            int64
	Amount        int64
	Fee           int64
	Confirmations int
	Conflicted    int
	BlockNumber   int64 `gorm:"column:blocknumber"`
}

// Query evaluates the filter plus up to two named sub-filters against the
// store in a single pass.
func (s *LedgerStore) Query(f *Filter) *QueryResult {
	result := &QueryResult{}

	if !s.IsOpen() {
		result.Error = "Database is not open for transactions request"
		return result
	}
	if f == nil {
		f = &Filter{}
	}

	result.Transactions = s.queryRows(f)

	var minAt, maxAt int64
	row := s.db.Raw("SELECT COALESCE(MIN(at),0), COALESCE(MAX(at),0) FROM transactions").Row()
	if err := row.Scan(&minAt, &maxAt); err == nil {
		if minAt > 0 {
			result.FirstTransactionDate = minAt
		}
		if maxAt > 0 {
			result.LastTransactionDate = maxAt
		}
	}

	if f.StakingPendingTo != nil {
		result.StakingPending = s.queryRows(f.StakingPendingTo)
	}
	if f.LotteryPendingTo != nil {
		result.LotteryPending = s.queryRows(f.LotteryPendingTo)
	}

	return result
}

func (s *LedgerStore) queryRows(f *Filter) []Row {
	rows := []Row{}
	if f.matchesNothing() {
		return rows
	}

	q := s.db.Table("transactions").
		Select("txid, category, address_to, address_from, at, amount, fee, confirmations, conflicted, blocknumber")

	if f.PeriodBegin > 0 {
		q = q.Where("at >= ?", f.PeriodBegin)
	}
	if f.PeriodFinish > 0 {
		q = q.Where("at <= ?", f.PeriodFinish)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Unconfirmed {
		q = q.Where("conflicted = 0 AND confirmations < ?", ledger.EnoughConfirmations)
	}
	if len(f.AddressFrom) > 0 {
		q = q.Where("address_from IN ?", f.AddressFrom)
	}
	if len(f.AddressTo) > 0 {
		q = q.Where("address_to IN ?", f.AddressTo)
	}

	if f.Addresses != nil {
		to, from := f.Addresses.AddressTo, f.Addresses.AddressFrom
		switch {
		case len(to) > 0 && len(from) > 0:
			q = q.Where(s.db.Where("address_to IN ?", to).Or("address_from IN ?", from))
		case len(to) > 0:
			q = q.Where("address_to IN ?", to)
		case len(from) > 0:
			q = q.Where("address_from IN ?", from)
		}
	}

	if f.Text != "" {
		pattern := f.Text + "%"
		q = q.Where("(txid LIKE ? OR address_to LIKE ?)", pattern, pattern)
	}

	q = q.Order("at DESC, txid")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var scanned []scanRow
	if err := q.Scan(&scanned).Error; err != nil {
		return rows
	}

	for _, r := range scanned {
		rows = append(rows, Row{
			Txid:          r.Txid,
			Category:      r.Category,
			AddressTo:     r.AddressTo,
			AddressFrom:   r.AddressFrom,
			At:            r.At,
			Amount:        strconv.FormatInt(r.Amount, 10),
			Fee:           strconv.FormatInt(r.Fee, 10),
			Confirmations: r.Confirmations,
			Conflicted:    r.Conflicted,
			BlockNumber:   r.BlockNumber,
		})
	}
	return rows
}
