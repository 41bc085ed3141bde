package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The memory and SQLite stores must behave identically; every test here runs
// against both.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "atm.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func seedCard(t *testing.T, s Store, cardID string, balance int64) {
	t.Helper()
	require.NoError(t, s.CreateCard(context.Background(), &Card{
		CardID:  cardID,
		PIN:     "1234",
		Balance: balance,
	}))
}

func TestCardLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 50000)

		card, err := s.GetCard(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, CardActive, card.Status)
		assert.Equal(t, int64(50000), card.Balance)
		assert.Equal(t, 0, card.PINAttempts)

		_, err = s.GetCard(ctx, "missing")
		assert.ErrorIs(t, err, ErrCardNotFound)

		require.NoError(t, s.SetPINAttempts(ctx, "card-1", 2))
		require.NoError(t, s.UpdateCredential(ctx, "card-1", "scrypt:x"))
		card, err = s.GetCard(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, 2, card.PINAttempts)
		assert.Equal(t, "scrypt:x", string(card.PIN))

		assert.ErrorIs(t, s.SetPINAttempts(ctx, "missing", 1), ErrCardNotFound)
		assert.ErrorIs(t, s.UpdateCredential(ctx, "missing", "x"), ErrCardNotFound)
	})
}

func TestBlockAndUnblock(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 50000)
		require.NoError(t, s.SetPINAttempts(ctx, "card-1", 3))

		entry := &FraudLogEntry{
			CardID:      "card-1",
			FraudType:   "Repeated ATM state violation",
			ActionTaken: "Card blocked",
			Timestamp:   time.Now().UTC(),
		}
		require.NoError(t, s.BlockCard(ctx, "card-1", entry))

		card, err := s.GetCard(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, CardBlocked, card.Status)

		log, err := s.ListFraudLog(ctx, 10)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, "Repeated ATM state violation", log[0].FraudType)
		assert.Equal(t, "Card blocked", log[0].ActionTaken)

		require.NoError(t, s.UnblockCard(ctx, "card-1"))
		card, err = s.GetCard(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, CardActive, card.Status)
		assert.Equal(t, 0, card.PINAttempts)

		assert.ErrorIs(t, s.BlockCard(ctx, "missing", nil), ErrCardNotFound)
		assert.ErrorIs(t, s.UnblockCard(ctx, "missing"), ErrCardNotFound)
	})
}

func TestBlockCardWithoutEntry(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 50000)

		require.NoError(t, s.BlockCard(ctx, "card-1", nil))

		log, err := s.ListFraudLog(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, log)
	})
}

func TestIncrementViolations(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 50000)

		n, err := s.IncrementViolations(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = s.IncrementViolations(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.IncrementViolations(ctx, "missing")
		assert.ErrorIs(t, err, ErrCardNotFound)
	})
}

func TestRecordCompletionDebitsAndLogs(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 50000)

		now := time.Now().UTC().Truncate(time.Second)
		txn := &Transaction{
			CardID:    "card-1",
			Type:      KindWithdraw,
			Amount:    20000,
			Status:    TxnFlagged,
			Timestamp: now,
			Location:  "NYC",
		}
		err := s.RecordCompletion(ctx, txn, 20000, []string{"Unusually high withdrawal amount"})
		require.NoError(t, err)

		card, err := s.GetCard(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, int64(30000), card.Balance)

		txns, err := s.ListTransactions(ctx, "card-1", 5)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.Equal(t, TxnFlagged, txns[0].Status)
		assert.Equal(t, "NYC", txns[0].Location)

		log, err := s.ListFraudLog(ctx, 10)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, "Unusually high withdrawal amount", log[0].FraudType)
		assert.Equal(t, "Transaction flagged", log[0].ActionTaken)
	})
}

func TestRecordCompletionInsufficientFunds(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 100)

		txn := &Transaction{
			CardID:    "card-1",
			Type:      KindWithdraw,
			Amount:    500,
			Status:    TxnCompleted,
			Timestamp: time.Now().UTC(),
			Location:  "UNKNOWN",
		}
		err := s.RecordCompletion(ctx, txn, 500, nil)
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		// Nothing committed.
		card, err := s.GetCard(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, int64(100), card.Balance)

		txns, err := s.ListTransactions(ctx, "card-1", 5)
		require.NoError(t, err)
		assert.Empty(t, txns)
	})
}

func TestRecordCompletionZeroDebit(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 50000)

		txn := &Transaction{
			CardID:    "card-1",
			Type:      KindBalance,
			Amount:    0,
			Status:    TxnCompleted,
			Timestamp: time.Now().UTC(),
			Location:  "UNKNOWN",
		}
		require.NoError(t, s.RecordCompletion(ctx, txn, 0, nil))

		card, err := s.GetCard(ctx, "card-1")
		require.NoError(t, err)
		assert.Equal(t, int64(50000), card.Balance)
	})
}

func TestWindowedQueries(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 1000000)
		seedCard(t, s, "card-2", 1000000)

		base := time.Now().UTC().Truncate(time.Second)
		record := func(cardID string, kind TransactionKind, amount int64, at time.Time, loc string) {
			t.Helper()
			require.NoError(t, s.RecordCompletion(ctx, &Transaction{
				CardID:    cardID,
				Type:      kind,
				Amount:    amount,
				Status:    TxnCompleted,
				Timestamp: at,
				Location:  loc,
			}, amount, nil))
		}

		record("card-1", KindWithdraw, 100, base.Add(-30*time.Minute), "NYC")
		record("card-1", KindWithdraw, 200, base.Add(-5*time.Minute), "NYC")
		record("card-1", KindWithdraw, 300, base.Add(-1*time.Minute), "LON")
		record("card-1", KindBalance, 0, base.Add(-2*time.Minute), "LON")
		record("card-2", KindWithdraw, 999, base.Add(-1*time.Minute), "NYC")

		since := base.Add(-10 * time.Minute)

		n, err := s.CountTransactionsSince(ctx, "card-1", since)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.CountWithdrawalsSince(ctx, "card-1", since)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		sum, err := s.SumAmountsSince(ctx, "card-1", since)
		require.NoError(t, err)
		assert.Equal(t, int64(500), sum)

		last, err := s.LastTransactionSince(ctx, "card-1", since)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, "LON", last.Location)
		assert.Equal(t, int64(300), last.Amount)

		last, err = s.LastTransactionSince(ctx, "card-1", base.Add(time.Minute))
		require.NoError(t, err)
		assert.Nil(t, last)
	})
}

func TestSessionAudit(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Second)

		require.NoError(t, s.AppendSessionAudit(ctx, "card-1", "STARTED", base.Add(-20*time.Minute)))
		require.NoError(t, s.AppendSessionAudit(ctx, "card-1", "STARTED", base.Add(-5*time.Minute)))
		require.NoError(t, s.AppendSessionAudit(ctx, "card-1", "STARTED", base))
		require.NoError(t, s.AppendSessionAudit(ctx, "card-2", "STARTED", base))

		n, err := s.CountSessionsSince(ctx, "card-1", base.Add(-15*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestListTransactionsLimit(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-1", 1000000)

		base := time.Now().UTC().Truncate(time.Second)
		for i := 0; i < 8; i++ {
			require.NoError(t, s.RecordCompletion(ctx, &Transaction{
				CardID:    "card-1",
				Type:      KindWithdraw,
				Amount:    int64(100 + i),
				Status:    TxnCompleted,
				Timestamp: base.Add(time.Duration(i) * time.Minute),
				Location:  "UNKNOWN",
			}, 0, nil))
		}

		txns, err := s.ListTransactions(ctx, "card-1", 5)
		require.NoError(t, err)
		require.Len(t, txns, 5)
		// Newest first.
		assert.Equal(t, int64(107), txns[0].Amount)
		assert.Equal(t, int64(103), txns[4].Amount)
	})
}

func TestListCardsAndFraudCounts(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedCard(t, s, "card-b", 100)
		seedCard(t, s, "card-a", 200)

		cards, err := s.ListCards(ctx)
		require.NoError(t, err)
		require.Len(t, cards, 2)
		assert.Equal(t, "card-a", cards[0].CardID)
		assert.Equal(t, "card-b", cards[1].CardID)

		now := time.Now().UTC()
		for _, ft := range []string{"A", "A", "B"} {
			require.NoError(t, s.AppendFraudLog(ctx, &FraudLogEntry{
				CardID: "card-a", FraudType: ft, ActionTaken: "Logged", Timestamp: now,
			}))
		}

		counts, err := s.CountFraudByType(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"A": 2, "B": 1}, counts)
	})
}
