//go:build integration

package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("connect to database: %v", err)
	}

	ctx := context.Background()
	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM fraud_log")
		_, _ = db.ExecContext(ctx, "DELETE FROM transactions")
		_, _ = db.ExecContext(ctx, "DELETE FROM atm_session")
		_, _ = db.ExecContext(ctx, "DELETE FROM card")
		db.Close()
	})

	return s
}

func TestPostgresCardLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.CreateCard(ctx, &Card{CardID: "pg-card-1", PIN: "1234", Balance: 50000}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	card, err := s.GetCard(ctx, "pg-card-1")
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.Status != CardActive || card.Balance != 50000 {
		t.Fatalf("unexpected card: %+v", card)
	}

	if _, err := s.GetCard(ctx, "pg-missing"); err != ErrCardNotFound {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}
}

func TestPostgresRecordCompletion(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.CreateCard(ctx, &Card{CardID: "pg-card-2", PIN: "1234", Balance: 50000}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	txn := &Transaction{
		CardID:    "pg-card-2",
		Type:      KindWithdraw,
		Amount:    20000,
		Status:    TxnFlagged,
		Timestamp: time.Now().UTC(),
		Location:  "NYC",
	}
	if err := s.RecordCompletion(ctx, txn, 20000, []string{"Unusually high withdrawal amount"}); err != nil {
		t.Fatalf("record completion: %v", err)
	}

	card, err := s.GetCard(ctx, "pg-card-2")
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.Balance != 30000 {
		t.Fatalf("expected balance 30000, got %d", card.Balance)
	}

	// Overdraw must roll back entirely.
	over := &Transaction{
		CardID:    "pg-card-2",
		Type:      KindWithdraw,
		Amount:    999999,
		Status:    TxnCompleted,
		Timestamp: time.Now().UTC(),
		Location:  "NYC",
	}
	if err := s.RecordCompletion(ctx, over, 999999, nil); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	txns, err := s.ListTransactions(ctx, "pg-card-2", 10)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txns))
	}
}

func TestPostgresBlockWithFraudLog(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.CreateCard(ctx, &Card{CardID: "pg-card-3", PIN: "1234", Balance: 50000}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	entry := &FraudLogEntry{
		CardID:      "pg-card-3",
		FraudType:   "Repeated ATM state violation",
		ActionTaken: "Card blocked",
		Timestamp:   time.Now().UTC(),
	}
	if err := s.BlockCard(ctx, "pg-card-3", entry); err != nil {
		t.Fatalf("block card: %v", err)
	}

	card, err := s.GetCard(ctx, "pg-card-3")
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.Status != CardBlocked {
		t.Fatalf("expected blocked, got %s", card.Status)
	}

	counts, err := s.CountFraudByType(ctx)
	if err != nil {
		t.Fatalf("count fraud: %v", err)
	}
	if counts["Repeated ATM state violation"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
