package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/atmguard/internal/pin"

	// SQLite driver (pure Go)
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store with a single-file SQLite database. This is
// the storage the original demo deployment ran on; it needs no server and
// suits a single ATM simulator process.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file and ensures the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS card (
			card_id          TEXT PRIMARY KEY,
			pin              TEXT NOT NULL,
			pin_attempts     INTEGER NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'active',
			balance          INTEGER NOT NULL DEFAULT 50000 CHECK (balance >= 0),
			state_violations INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id   TEXT NOT NULL,
			type      TEXT NOT NULL,
			amount    INTEGER NOT NULL,
			status    TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			location  TEXT NOT NULL DEFAULT 'UNKNOWN'
		)`,
		`CREATE TABLE IF NOT EXISTS fraud_log (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id      TEXT NOT NULL,
			fraud_type   TEXT NOT NULL,
			action_taken TEXT NOT NULL,
			timestamp    DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS atm_session (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id    TEXT NOT NULL,
			state      TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_card_time ON transactions(card_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_session_card_time ON atm_session(card_id, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateCard(ctx context.Context, card *Card) error {
	status := card.Status
	if status == "" {
		status = CardActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO card (card_id, pin, pin_attempts, status, balance, state_violations)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (card_id) DO UPDATE SET
			pin = excluded.pin,
			status = excluded.status,
			balance = excluded.balance
	`, card.CardID, string(card.PIN), card.PINAttempts, status, card.Balance, card.StateViolations)
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCard(ctx context.Context, cardID string) (*Card, error) {
	card := &Card{CardID: cardID}
	var cred string
	err := s.db.QueryRowContext(ctx, `
		SELECT pin, pin_attempts, status, balance, state_violations
		FROM card WHERE card_id = ?
	`, cardID).Scan(&cred, &card.PINAttempts, &card.Status, &card.Balance, &card.StateViolations)
	if err == sql.ErrNoRows {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	card.PIN = pin.Credential(cred)
	return card, nil
}

func (s *SQLiteStore) UpdateCredential(ctx context.Context, cardID string, cred pin.Credential) error {
	return s.execOnCard(ctx, `UPDATE card SET pin = ? WHERE card_id = ?`, string(cred), cardID)
}

func (s *SQLiteStore) SetPINAttempts(ctx context.Context, cardID string, attempts int) error {
	return s.execOnCard(ctx, `UPDATE card SET pin_attempts = ? WHERE card_id = ?`, attempts, cardID)
}

func (s *SQLiteStore) IncrementViolations(ctx context.Context, cardID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin increment: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE card SET state_violations = state_violations + 1 WHERE card_id = ?
	`, cardID)
	if err != nil {
		return 0, fmt.Errorf("increment violations: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrCardNotFound
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT state_violations FROM card WHERE card_id = ?
	`, cardID).Scan(&count); err != nil {
		return 0, fmt.Errorf("read violations: %w", err)
	}
	return count, tx.Commit()
}

func (s *SQLiteStore) BlockCard(ctx context.Context, cardID string, entry *FraudLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin block card: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE card SET status = ? WHERE card_id = ?`, CardBlocked, cardID)
	if err != nil {
		return fmt.Errorf("block card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}

	if entry != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fraud_log (card_id, fraud_type, action_taken, timestamp)
			VALUES (?, ?, ?, ?)
		`, entry.CardID, entry.FraudType, entry.ActionTaken, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("block card fraud log: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) UnblockCard(ctx context.Context, cardID string) error {
	return s.execOnCard(ctx, `
		UPDATE card SET status = 'active', pin_attempts = 0 WHERE card_id = ?
	`, cardID)
}

func (s *SQLiteStore) AppendFraudLog(ctx context.Context, entry *FraudLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fraud_log (card_id, fraud_type, action_taken, timestamp)
		VALUES (?, ?, ?, ?)
	`, entry.CardID, entry.FraudType, entry.ActionTaken, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append fraud log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendSessionAudit(ctx context.Context, cardID, state string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO atm_session (card_id, state, created_at) VALUES (?, ?, ?)
	`, cardID, state, at)
	if err != nil {
		return fmt.Errorf("append session audit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordCompletion(ctx context.Context, txn *Transaction, debit int64, flagReasons []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin completion: %w", err)
	}
	defer tx.Rollback()

	if debit > 0 {
		res, err := tx.ExecContext(ctx, `
			UPDATE card SET balance = balance - ?
			WHERE card_id = ? AND balance >= ?
		`, debit, txn.CardID, debit)
		if err != nil {
			return fmt.Errorf("debit card: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM card WHERE card_id = ?)`, txn.CardID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("debit card: %w", err)
			}
			if !exists {
				return ErrCardNotFound
			}
			return ErrInsufficientFunds
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (card_id, type, amount, status, timestamp, location)
		VALUES (?, ?, ?, ?, ?, ?)
	`, txn.CardID, txn.Type, txn.Amount, txn.Status, txn.Timestamp, txn.Location)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for _, reason := range flagReasons {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fraud_log (card_id, fraud_type, action_taken, timestamp)
			VALUES (?, ?, 'Transaction flagged', ?)
		`, txn.CardID, reason, txn.Timestamp)
		if err != nil {
			return fmt.Errorf("insert flag entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountTransactionsSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM transactions WHERE card_id = ? AND timestamp >= ?
	`, cardID, since)
}

func (s *SQLiteStore) CountWithdrawalsSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE card_id = ? AND type = 'withdraw' AND timestamp >= ?
	`, cardID, since)
}

func (s *SQLiteStore) SumAmountsSince(ctx context.Context, cardID string, since time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE card_id = ? AND timestamp >= ?
	`, cardID, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum amounts: %w", err)
	}
	return sum, nil
}

func (s *SQLiteStore) CountSessionsSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM atm_session WHERE card_id = ? AND created_at >= ?
	`, cardID, since)
}

func (s *SQLiteStore) LastTransactionSince(ctx context.Context, cardID string, since time.Time) (*Transaction, error) {
	txn := &Transaction{}
	err := s.db.QueryRowContext(ctx, `
		SELECT card_id, type, amount, status, timestamp, location
		FROM transactions
		WHERE card_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC LIMIT 1
	`, cardID, since).Scan(&txn.CardID, &txn.Type, &txn.Amount, &txn.Status, &txn.Timestamp, &txn.Location)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last transaction: %w", err)
	}
	return txn, nil
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, cardID string, limit int) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, type, amount, status, timestamp, location
		FROM transactions
		WHERE card_id = ?
		ORDER BY timestamp DESC LIMIT ?
	`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		if err := rows.Scan(&txn.CardID, &txn.Type, &txn.Amount, &txn.Status, &txn.Timestamp, &txn.Location); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFraudLog(ctx context.Context, limit int) ([]*FraudLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, fraud_type, action_taken, timestamp
		FROM fraud_log
		ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list fraud log: %w", err)
	}
	defer rows.Close()

	var out []*FraudLogEntry
	for rows.Next() {
		e := &FraudLogEntry{}
		if err := rows.Scan(&e.CardID, &e.FraudType, &e.ActionTaken, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan fraud log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListCards(ctx context.Context) ([]*Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT card_id, pin, pin_attempts, status, balance, state_violations
		FROM card ORDER BY card_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var out []*Card
	for rows.Next() {
		card := &Card{}
		var cred string
		if err := rows.Scan(&card.CardID, &cred, &card.PINAttempts, &card.Status, &card.Balance, &card.StateViolations); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		card.PIN = pin.Credential(cred)
		out = append(out, card)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountFraudByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fraud_type, COUNT(*) FROM fraud_log GROUP BY fraud_type
	`)
	if err != nil {
		return nil, fmt.Errorf("count fraud by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var fraudType string
		var n int
		if err := rows.Scan(&fraudType, &n); err != nil {
			return nil, fmt.Errorf("scan fraud count: %w", err)
		}
		counts[fraudType] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) execOnCard(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (s *SQLiteStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
