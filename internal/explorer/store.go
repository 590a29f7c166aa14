package explorer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/walletsync/ledgersync/internal/ledger"
)

const (
	walletDataDir = "Wallet Data"

	settingVersion   = "version"
	settingBlockHash = "block_hash"

	schemaVersion = "1"

	// confirmedDepth is the height distance at which an explorer row is
	// considered a safe resume point for paginated fetches.
	confirmedDepth = 100

	// resyncCooldown guards the wipe-on-mismatch path against racing an
	// in-flight unconfirmed transaction.
	resyncCooldown = 30 * time.Minute
)

// HeightStore is the explorer-backed ledger cache. One row per txid;
// confirmations are derived from the current chain height at query time,
// so there is no conflicted flag and no per-row confirmation bookkeeping.
type HeightStore struct {
	dir      string
	identity string
	db       *gorm.DB
}

func NewHeightStore(dir string) *HeightStore {
	return &HeightStore{dir: filepath.Join(dir, walletDataDir)}
}

func (s *HeightStore) IsOpen() bool {
	return s.db != nil
}

func (s *HeightStore) Identity() string {
	return s.identity
}

func (s *HeightStore) path(identity string) string {
	return filepath.Join(s.dir, identity)
}

// Open attaches the per-identity database, creating the schema when the
// file is new.
func (s *HeightStore) Open(identity string) error {
	if err := s.Close(); err != nil {
		log.Warnf("Failed to close previous explorer database: %v", err)
	}

	if identity == "" {
		return fmt.Errorf("wallet identity is empty")
	}

	if err := os.MkdirAll(s.dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create wallet data directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(s.path(identity)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to open explorer database: %w", err)
	}

	if err := createSchema(db); err != nil {
		closeDB(db)
		return err
	}

	s.db = db
	s.identity = identity
	return nil
}

func (s *HeightStore) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	s.identity = ""
	return closeDB(db)
}

// Remove deletes the database file for an identity, closing first when it
// is the attached one.
func (s *HeightStore) Remove(identity string) error {
	if identity == "" {
		return nil
	}
	if s.identity == identity {
		if err := s.Close(); err != nil {
			log.Warnf("Failed to close explorer database before removal: %v", err)
		}
	}
	if err := os.Remove(s.path(identity)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete explorer database: %w", err)
	}
	return nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func createSchema(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`CREATE TABLE IF NOT EXISTS transactions(
			txid TEXT NOT NULL,
			txtype INTEGER NOT NULL,
			category TEXT NOT NULL,
			address_to TEXT NOT NULL,
			address_from TEXT NOT NULL,
			at INTEGER NOT NULL,
			height INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			fee INTEGER NOT NULL,
			PRIMARY KEY(txid))`).Error; err != nil {
			return fmt.Errorf("failed to create transactions table: %w", err)
		}

		for _, fields := range []string{"at", "category,at", "address_to,at", "address_from,at"} {
			name := "transactions_" + strings.ReplaceAll(fields, ",", "_")
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON transactions (%s)", name, fields)
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to create index %s: %w", name, err)
			}
		}

		if err := tx.Exec(`CREATE TABLE IF NOT EXISTS settings(
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY(key))`).Error; err != nil {
			return fmt.Errorf("failed to create settings table: %w", err)
		}

		return tx.Exec("INSERT OR REPLACE INTO settings(key, value) VALUES(?, ?)",
			settingVersion, schemaVersion).Error
	})
}

// Upsert inserts or fully replaces the row for the record's txid. Unlike
// the RPC ledger, the explorer reports whole transactions, so every field
// is authoritative.
func (s *HeightStore) Upsert(r *ledger.Record) error {
	return upsertTx(s.db, r)
}

func upsertTx(tx *gorm.DB, r *ledger.Record) error {
	var exists int
	if err := tx.Raw("SELECT 1 FROM transactions WHERE txid = ?", r.Txid).Scan(&exists).Error; err != nil {
		return err
	}
	if exists == 1 {
		return tx.Exec(`UPDATE transactions
			SET category=?, txtype=?, address_to=?, address_from=?, amount=?, fee=?, at=?, height=?
			WHERE txid=?`,
			r.Category, r.TxType, r.AddressTo, r.AddressFrom, r.Amount, r.Fee, r.At, r.Height, r.Txid).Error
	}
	return tx.Exec(`INSERT INTO transactions
		(txid, category, txtype, address_to, address_from, amount, fee, at, height)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		r.Txid, r.Category, r.TxType, r.AddressTo, r.AddressFrom, r.Amount, r.Fee, r.At, r.Height).Error
}

// LastConfirmedTxid returns the newest txid buried at least confirmedDepth
// blocks below the current height; paginated fetches resume from it.
func (s *HeightStore) LastConfirmedTxid(currentHeight int64) string {
	var txid string
	err := s.db.Raw(`SELECT txid FROM transactions
		WHERE ? - height >= ?
		ORDER BY height DESC, at LIMIT 1`, currentHeight, confirmedDepth).Scan(&txid).Error
	if err != nil {
		log.Warnf("Failed to find last confirmed txid: %v", err)
		return ""
	}
	return txid
}

// Balance is sum(amount) - sum(fee) over all rows; the explorer store has
// no conflicted rows to exclude.
func (s *HeightStore) Balance() int64 {
	var balance int64
	err := s.db.Raw("SELECT COALESCE(SUM(amount),0) - COALESCE(SUM(fee),0) FROM transactions").
		Scan(&balance).Error
	if err != nil {
		log.Warnf("Failed to compute explorer balance: %v", err)
		return 0
	}
	return balance
}

// IsResyncAllowed reports whether a wipe is safe: no row recorded within
// the cool-down window, so no in-flight transaction can be lost.
func (s *HeightStore) IsResyncAllowed() bool {
	var recent int64
	err := s.db.Raw("SELECT COUNT(*) FROM transactions WHERE at > ?",
		time.Now().Add(-resyncCooldown).Unix()).Scan(&recent).Error
	if err != nil {
		log.Warnf("Failed to check resync cool-down: %v", err)
		return false
	}
	return recent == 0
}

// GetBlockHash returns the stored change-detector hash, or false when no
// import has completed yet.
func (s *HeightStore) GetBlockHash() (string, bool) {
	var rows []string
	if err := s.db.Raw("SELECT value FROM settings WHERE key = ?", settingBlockHash).Scan(&rows).Error; err != nil {
		log.Warnf("Failed to read block hash: %v", err)
		return "", false
	}
	if len(rows) == 0 {
		return "", false
	}
	return rows[0], true
}

// IsBlockHashChanged reports whether the remote tip moved since the last
// completed import. An unset hash counts as changed.
func (s *HeightStore) IsBlockHashChanged(blockHash string) bool {
	stored, ok := s.GetBlockHash()
	if !ok {
		return true
	}
	return stored != blockHash
}

// SetBlockHash persists the change-detector hash after a completed import.
func (s *HeightStore) SetBlockHash(blockHash string) error {
	return s.db.Exec("INSERT OR REPLACE INTO settings(key, value) VALUES(?, ?)",
		settingBlockHash, blockHash).Error
}

// Wipe deletes all rows from both tables.
func (s *HeightStore) Wipe() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM transactions").Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM settings").Error
	})
}

// Desync drops all incoming rows, leaving balances inconsistent on
// purpose. Debug hook for exercising the mismatch recovery path.
func (s *HeightStore) Desync() error {
	return s.db.Exec("DELETE FROM transactions WHERE amount > 0").Error
}

// ImportBatch writes one page of parsed explorer entries atomically and
// returns the txid of the last valid entry, the resume point for the next
// page.
func (s *HeightStore) ImportBatch(records []*ledger.Record) (string, error) {
	var lastTxid string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, r := range records {
			if err := upsertTx(tx, r); err != nil {
				return err
			}
			lastTxid = r.Txid
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return lastTxid, nil
}

type heightScanRow struct {
	Txid        string
	Category    string
	TxType      int `gorm:"column:txtype"`
	AddressTo   string
	AddressFrom string
	At          int64
	Amount      int64
	Fee         int64
	Height      int64
}

// HeightRow is one rendered explorer transaction. Fee is only exposed for
// sends; confirmations are derived from the query-time chain height.
type HeightRow struct {
	Txid          string `json:"txid"`
	Category      string `json:"category"`
	TxType        int    `json:"txtype"`
	AddressTo     string `json:"address_to"`
	AddressFrom   string `json:"address_from"`
	At            int64  `json:"at"`
	Amount        string `json:"amount"`
	Fee           string `json:"fee,omitempty"`
	Height        int64  `json:"height"`
	Confirmations int64  `json:"confirmations"`
}

// HeightQueryResult mirrors the RPC ledger query response shape.
type HeightQueryResult struct {
	Transactions         []HeightRow `json:"transactions"`
	FirstTransactionDate int64       `json:"first_transaction_date,omitempty"`
	LastTransactionDate  int64       `json:"last_transaction_date,omitempty"`
	StakingPending       []HeightRow `json:"staking_pending,omitempty"`
	LotteryPending       []HeightRow `json:"lottery_pending,omitempty"`
	IsLoading            bool        `json:"is_loading"`
	Error                string      `json:"error,omitempty"`
}

// AddressSelection is the nested "addresses" filter; rows matching either
// IN-list are returned. Both lists present but empty matches nothing.
type AddressSelection struct {
	AddressTo   []string `json:"address_to"`
	AddressFrom []string `json:"address_from"`
}

// Filter drives the explorer transaction query. CurrentHeight feeds the
// derived confirmation count.
type Filter struct {
	CurrentHeight int64             `json:"height"`
	PeriodBegin   int64             `json:"period_begin"`
	PeriodFinish  int64             `json:"period_finish"`
	Category      string            `json:"category"`
	AddressTo     []string          `json:"address_to"`
	AddressFrom   []string          `json:"address_from"`
	Addresses     *AddressSelection `json:"addresses"`
	Limit         int               `json:"limit"`

	StakingPendingTo *Filter `json:"staking_pending_to"`
	LotteryPendingTo *Filter `json:"lottery_pending_to"`
}

// Query evaluates the filter plus named sub-filters.
func (s *HeightStore) Query(f *Filter) *HeightQueryResult {
	result := &HeightQueryResult{}

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

func (s *HeightStore) queryRows(f *Filter) []HeightRow {
	rows := []HeightRow{}

	if f.Addresses != nil &&
		f.Addresses.AddressTo != nil && len(f.Addresses.AddressTo) == 0 &&
		f.Addresses.AddressFrom != nil && len(f.Addresses.AddressFrom) == 0 {
		return rows
	}

	q := s.db.Table("transactions").
		Select("txid, category, txtype, address_to, address_from, at, amount, fee, height")

	if f.PeriodBegin > 0 {
		q = q.Where("at >= ?", f.PeriodBegin)
	}
	if f.PeriodFinish > 0 {
		q = q.Where("at <= ?", f.PeriodFinish)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
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

	q = q.Order("height DESC, at DESC, txid DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var scanned []heightScanRow
	if err := q.Scan(&scanned).Error; err != nil {
		return rows
	}

	for _, r := range scanned {
		row := HeightRow{
			Txid:        r.Txid,
			Category:    r.Category,
			TxType:      r.TxType,
			AddressTo:   r.AddressTo,
			AddressFrom: r.AddressFrom,
			At:          r.At,
			Amount:      strconv.FormatInt(r.Amount, 10),
			Height:      r.Height,
		}
		if r.Category == "send" {
			row.Fee = strconv.FormatInt(r.Fee, 10)
		}
		if f.CurrentHeight >= r.Height {
			row.Confirmations = f.CurrentHeight - r.Height
		}
		rows = append(rows, row)
	}
	return rows
}

// Dump returns every row ordered oldest first. Debug hook.
func (s *HeightStore) Dump() []HeightRow {
	rows := []HeightRow{}

	var scanned []heightScanRow
	err := s.db.Raw(`SELECT txid, category, txtype, address_to, address_from, at, amount, fee, height
		FROM transactions ORDER BY height, at DESC, txid`).Scan(&scanned).Error
	if err != nil {
		log.Warnf("Failed to dump explorer transactions: %v", err)
		return rows
	}

	for _, r := range scanned {
		rows = append(rows, HeightRow{
			Txid:        r.Txid,
			Category:    r.Category,
			TxType:      r.TxType,
			AddressTo:   r.AddressTo,
			AddressFrom: r.AddressFrom,
			At:          r.At,
			Amount:      strconv.FormatInt(r.Amount, 10),
			Fee:         strconv.FormatInt(r.Fee, 10),
			Height:      r.Height,
		})
	}
	return rows
}
