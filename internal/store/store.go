package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/walletsync/ledgersync/internal/ledger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	walletDataDir = "Wallet Data"

	settingVersion     = "version"
	settingLatestBlock = "latest_block"

	schemaVersion = "1"
)

// LedgerStore is the persistent cache of reconciled transaction records for
// one wallet identity. Rows are keyed by (txid, category, address_to,
// address_from); duplicate remote outputs of the same transaction decompose
// into separate rows under this key.
type LedgerStore struct {
	dir      string
	identity string
	db       *gorm.DB
}

func NewLedgerStore(dir string) *LedgerStore {
	return &LedgerStore{dir: filepath.Join(dir, walletDataDir)}
}

// IsOpen reports whether a database is currently attached.
func (s *LedgerStore) IsOpen() bool {
	return s.db != nil
}

// Identity returns the wallet identity the store is opened for.
func (s *LedgerStore) Identity() string {
	return s.identity
}

// Open attaches the per-identity database file, creating schema on first
// use. With recreate set, any existing file is deleted first. Idempotent.
func (s *LedgerStore) Open(identity string, recreate bool) error {
	if err := s.Close(); err != nil {
		log.Warnf("Failed to close previous ledger database: %v", err)
	}

	if identity == "" {
		return fmt.Errorf("wallet identity is empty")
	}

	if err := os.MkdirAll(s.dir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create wallet data directory: %w", err)
	}

	path := filepath.Join(s.dir, identity)
	if recreate {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete ledger database: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err := createSchema(db); err != nil {
		closeDB(db)
		return err
	}

	s.db = db
	s.identity = identity
	log.Debugf("Ledger database opened, path: %s", path)
	return nil
}

// Close detaches the database. Safe to call when not open.
func (s *LedgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	s.identity = ""
	return closeDB(db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// The table layout is part of the on-disk contract, so it is created with
// exact DDL rather than AutoMigrate.
func createSchema(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`CREATE TABLE IF NOT EXISTS transactions(
			txid TEXT NOT NULL,
			category TEXT NOT NULL,
			address_to TEXT NOT NULL,
			address_from TEXT NOT NULL,
			at INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			fee INTEGER NOT NULL,
			confirmations INTEGER NOT NULL,
			conflicted INTEGER NOT NULL,
			blockhash TEXT NOT NULL,
			blocknumber INTEGER NOT NULL,
			PRIMARY KEY(txid, category, address_to, address_from))`).Error; err != nil {
			return fmt.Errorf("failed to create transactions table: %w", err)
		}

		for _, fields := range []string{"at", "confirmations", "category,at", "address_to,at", "address_from,at"} {
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

		if err := setSetting(tx, settingVersion, schemaVersion); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
		return nil
	})
}

func setSetting(tx *gorm.DB, key, value string) error {
	return tx.Exec("INSERT OR REPLACE INTO settings(key, value) VALUES(?, ?)", key, value).Error
}

func getSetting(db *gorm.DB, key string) (string, error) {
	var value string
	err := db.Raw("SELECT value FROM settings WHERE key = ?", key).Scan(&value).Error
	return value, err
}

// GetLastCursor returns the resync cursor (latest fully-processed block
// hash), or empty when no cycle has completed yet.
func (s *LedgerStore) GetLastCursor() string {
	cursor, err := getSetting(s.db, settingLatestBlock)
	if err != nil {
		log.Warnf("Failed to read ledger cursor: %v", err)
		return ""
	}
	return cursor
}

// SetLastCursor persists the resync cursor.
func (s *LedgerStore) SetLastCursor(cursor string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return setSetting(tx, settingLatestBlock, cursor)
	})
}

// Upsert inserts the record if its key is absent, otherwise applies a
// field-wise update of the confirmation metadata.
func (s *LedgerStore) Upsert(r *ledger.Record) error {
	return upsertTx(s.db, r)
}

func upsertTx(tx *gorm.DB, r *ledger.Record) error {
	var exists int
	err := tx.Raw("SELECT 1 FROM transactions WHERE txid=? AND category=? AND address_to=? AND address_from=?",
		r.Txid, r.Category, r.AddressTo, r.AddressFrom).Scan(&exists).Error
	if err != nil {
		return err
	}
	if exists == 1 {
		return updateTx(tx, r)
	}

	return tx.Exec(`INSERT INTO transactions
		(txid, category, address_to, address_from, at, amount, fee, confirmations, conflicted, blockhash, blocknumber)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.Txid, r.Category, r.AddressTo, r.AddressFrom, r.At, r.Amount, r.Fee,
		r.Confirmations, r.Conflicted, r.BlockHash, r.BlockNumber).Error
}

// Amount and fee are immutable once a row exists; only confirmation and
// block metadata move.
func updateTx(tx *gorm.DB, r *ledger.Record) error {
	return tx.Exec(`UPDATE transactions
		SET confirmations=?, conflicted=?, blocknumber=?, blockhash=?, at=?
		WHERE txid=? AND category=? AND address_to=? AND address_from=?`,
		r.Confirmations, r.Conflicted, r.BlockNumber, r.BlockHash, r.At,
		r.Txid, r.Category, r.AddressTo, r.AddressFrom).Error
}

// MarkConflicted soft-deletes a row. The row stays queryable; only a full
// wipe removes it.
func (s *LedgerStore) MarkConflicted(r *ledger.Record) error {
	return markConflictedTx(s.db, r)
}

func markConflictedTx(tx *gorm.DB, r *ledger.Record) error {
	return tx.Exec(`UPDATE transactions SET conflicted = 1
		WHERE txid=? AND category=? AND address_to=? AND address_from=?`,
		r.Txid, r.Category, r.AddressTo, r.AddressFrom).Error
}

type openSetRow struct {
	Txid          string
	Category      string
	AddressTo     string
	AddressFrom   string
	At            int64
	Amount        int64
	Fee           int64
	Confirmations int
	Conflicted    bool
	BlockHash     string `gorm:"column:blockhash"`
	BlockNumber   int64  `gorm:"column:blocknumber"`
}

// GetOpenSet returns the working set for reconciliation: rows below the
// confirmation threshold and not conflicted, keyed the same way as parsed
// batches.
func (s *LedgerStore) GetOpenSet() (map[string]*ledger.Record, error) {
	var rows []openSetRow
	err := s.db.Raw(`SELECT txid, category, address_to, address_from, at, amount, fee, confirmations, conflicted, blockhash, blocknumber
		FROM transactions
		WHERE confirmations < ? AND conflicted = 0`, ledger.EnoughConfirmations).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	open := make(map[string]*ledger.Record, len(rows))
	for _, row := range rows {
		r := &ledger.Record{
			Txid:          row.Txid,
			Category:      row.Category,
			AddressTo:     row.AddressTo,
			AddressFrom:   row.AddressFrom,
			At:            row.At,
			Amount:        row.Amount,
			Fee:           row.Fee,
			Confirmations: row.Confirmations,
			Conflicted:    row.Conflicted,
			BlockHash:     row.BlockHash,
			BlockNumber:   row.BlockNumber,
		}
		open[r.Key()] = r
	}
	return open, nil
}

// Balance is the control sum over live rows: sum(amount) - sum(fee),
// conflicted rows excluded.
func (s *LedgerStore) Balance() int64 {
	var balance int64
	err := s.db.Raw("SELECT COALESCE(SUM(amount),0) - COALESCE(SUM(fee),0) FROM transactions WHERE conflicted = 0").
		Scan(&balance).Error
	if err != nil {
		log.Warnf("Failed to compute ledger balance: %v", err)
		return 0
	}
	return balance
}

// Wipe deletes all rows from both tables, keeping the file and schema.
func (s *LedgerStore) Wipe() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM transactions").Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM settings").Error
	})
}

// Recreate deletes the database file and opens a fresh one for the same
// identity. Used when the control-sum validator gives up on the cache.
func (s *LedgerStore) Recreate() error {
	identity := s.identity
	return s.Open(identity, true)
}
