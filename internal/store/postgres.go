package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/atmguard/internal/pin"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist. The goose migrations in
// migrations/ are authoritative for deployed schemas; this keeps ad-hoc
// environments working without running them.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS card (
			card_id          TEXT PRIMARY KEY,
			pin              TEXT NOT NULL,
			pin_attempts     INT NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'active',
			balance          BIGINT NOT NULL DEFAULT 50000,
			state_violations INT NOT NULL DEFAULT 0,
			CONSTRAINT chk_balance_nonneg CHECK (balance >= 0),
			CONSTRAINT chk_attempts_nonneg CHECK (pin_attempts >= 0)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id        BIGSERIAL PRIMARY KEY,
			card_id   TEXT NOT NULL,
			type      TEXT NOT NULL,
			amount    BIGINT NOT NULL,
			status    TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			location  TEXT NOT NULL DEFAULT 'UNKNOWN'
		);

		CREATE TABLE IF NOT EXISTS fraud_log (
			id           BIGSERIAL PRIMARY KEY,
			card_id      TEXT NOT NULL,
			fraud_type   TEXT NOT NULL,
			action_taken TEXT NOT NULL,
			timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS atm_session (
			id         BIGSERIAL PRIMARY KEY,
			card_id    TEXT NOT NULL,
			state      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_txn_card_time ON transactions(card_id, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_fraud_card ON fraud_log(card_id);
		CREATE INDEX IF NOT EXISTS idx_session_card_time ON atm_session(card_id, created_at DESC);
	`)
	return err
}

func (p *PostgresStore) CreateCard(ctx context.Context, card *Card) error {
	status := card.Status
	if status == "" {
		status = CardActive
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO card (card_id, pin, pin_attempts, status, balance, state_violations)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (card_id) DO UPDATE SET
			pin = EXCLUDED.pin,
			status = EXCLUDED.status,
			balance = EXCLUDED.balance
	`, card.CardID, string(card.PIN), card.PINAttempts, status, card.Balance, card.StateViolations)
	if err != nil {
		return fmt.Errorf("create card: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetCard(ctx context.Context, cardID string) (*Card, error) {
	card := &Card{CardID: cardID}
	var cred string
	err := p.db.QueryRowContext(ctx, `
		SELECT pin, pin_attempts, status, balance, state_violations
		FROM card WHERE card_id = $1
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

func (p *PostgresStore) UpdateCredential(ctx context.Context, cardID string, cred pin.Credential) error {
	return p.execOnCard(ctx, `UPDATE card SET pin = $2 WHERE card_id = $1`, cardID, string(cred))
}

func (p *PostgresStore) SetPINAttempts(ctx context.Context, cardID string, attempts int) error {
	return p.execOnCard(ctx, `UPDATE card SET pin_attempts = $2 WHERE card_id = $1`, cardID, attempts)
}

func (p *PostgresStore) IncrementViolations(ctx context.Context, cardID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		UPDATE card SET state_violations = state_violations + 1
		WHERE card_id = $1
		RETURNING state_violations
	`, cardID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrCardNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment violations: %w", err)
	}
	return count, nil
}

func (p *PostgresStore) BlockCard(ctx context.Context, cardID string, entry *FraudLogEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin block card: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE card SET status = $2 WHERE card_id = $1`, cardID, CardBlocked)
	if err != nil {
		return fmt.Errorf("block card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}

	if entry != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fraud_log (card_id, fraud_type, action_taken, timestamp)
			VALUES ($1, $2, $3, $4)
		`, entry.CardID, entry.FraudType, entry.ActionTaken, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("block card fraud log: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) UnblockCard(ctx context.Context, cardID string) error {
	return p.execOnCard(ctx, `
		UPDATE card SET status = 'active', pin_attempts = 0 WHERE card_id = $1
	`, cardID)
}

func (p *PostgresStore) AppendFraudLog(ctx context.Context, entry *FraudLogEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO fraud_log (card_id, fraud_type, action_taken, timestamp)
		VALUES ($1, $2, $3, $4)
	`, entry.CardID, entry.FraudType, entry.ActionTaken, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append fraud log: %w", err)
	}
	return nil
}

func (p *PostgresStore) AppendSessionAudit(ctx context.Context, cardID, state string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO atm_session (card_id, state, created_at) VALUES ($1, $2, $3)
	`, cardID, state, at)
	if err != nil {
		return fmt.Errorf("append session audit: %w", err)
	}
	return nil
}

// RecordCompletion commits the debit, the transaction row, and any flag
// entries as one transaction. The CHECK constraint on balance backs up the
// conditional update against overdraw races.
func (p *PostgresStore) RecordCompletion(ctx context.Context, txn *Transaction, debit int64, flagReasons []string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin completion: %w", err)
	}
	defer tx.Rollback()

	if debit > 0 {
		res, err := tx.ExecContext(ctx, `
			UPDATE card SET balance = balance - $2
			WHERE card_id = $1 AND balance >= $2
		`, txn.CardID, debit)
		if err != nil {
			return fmt.Errorf("debit card: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM card WHERE card_id = $1)`, txn.CardID,
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
		VALUES ($1, $2, $3, $4, $5, $6)
	`, txn.CardID, txn.Type, txn.Amount, txn.Status, txn.Timestamp, txn.Location)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for _, reason := range flagReasons {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fraud_log (card_id, fraud_type, action_taken, timestamp)
			VALUES ($1, $2, 'Transaction flagged', $3)
		`, txn.CardID, reason, txn.Timestamp)
		if err != nil {
			return fmt.Errorf("insert flag entry: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) CountTransactionsSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	return p.count(ctx, `
		SELECT COUNT(*) FROM transactions WHERE card_id = $1 AND timestamp >= $2
	`, cardID, since)
}

func (p *PostgresStore) CountWithdrawalsSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	return p.count(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE card_id = $1 AND type = 'withdraw' AND timestamp >= $2
	`, cardID, since)
}

func (p *PostgresStore) SumAmountsSince(ctx context.Context, cardID string, since time.Time) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE card_id = $1 AND timestamp >= $2
	`, cardID, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum amounts: %w", err)
	}
	return sum, nil
}

func (p *PostgresStore) CountSessionsSince(ctx context.Context, cardID string, since time.Time) (int, error) {
	return p.count(ctx, `
		SELECT COUNT(*) FROM atm_session WHERE card_id = $1 AND created_at >= $2
	`, cardID, since)
}

func (p *PostgresStore) LastTransactionSince(ctx context.Context, cardID string, since time.Time) (*Transaction, error) {
	txn := &Transaction{}
	err := p.db.QueryRowContext(ctx, `
		SELECT card_id, type, amount, status, timestamp, location
		FROM transactions
		WHERE card_id = $1 AND timestamp >= $2
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

func (p *PostgresStore) ListTransactions(ctx context.Context, cardID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT card_id, type, amount, status, timestamp, location
		FROM transactions
		WHERE card_id = $1
		ORDER BY timestamp DESC LIMIT $2
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

func (p *PostgresStore) ListFraudLog(ctx context.Context, limit int) ([]*FraudLogEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT card_id, fraud_type, action_taken, timestamp
		FROM fraud_log
		ORDER BY timestamp DESC LIMIT $1
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

func (p *PostgresStore) ListCards(ctx context.Context) ([]*Card, error) {
	rows, err := p.db.QueryContext(ctx, `
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

func (p *PostgresStore) CountFraudByType(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
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

// execOnCard runs an update that must match exactly one card row.
func (p *PostgresStore) execOnCard(ctx context.Context, query, cardID string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, append([]any{cardID}, args...)...)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCardNotFound
	}
	return nil
}

func (p *PostgresStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}
