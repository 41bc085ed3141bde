// Package store is the persistence gateway for the ATM authorization core.
//
// It owns the durable records (cards, transactions, fraud log, session audit
// trail) and the windowed count/sum queries the fraud rules read. Three
// implementations are provided: in-memory (tests and demo mode), PostgreSQL,
// and SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/atmguard/internal/pin"
)

var (
	// ErrCardNotFound is returned when no card row exists for an id.
	ErrCardNotFound = errors.New("card not found")
	// ErrInsufficientFunds is returned when a debit would overdraw a card.
	// The orchestrator checks the balance before committing, so hitting this
	// means a concurrent debit won the race.
	ErrInsufficientFunds = errors.New("insufficient funds for debit")
)

// CardStatus is the persisted card state.
type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardBlocked CardStatus = "blocked"
)

// TransactionKind is the kind of transaction a customer can select.
type TransactionKind string

const (
	KindWithdraw TransactionKind = "withdraw"
	KindBalance  TransactionKind = "balance"
)

// TransactionStatus is the recorded outcome of a completed transaction.
type TransactionStatus string

const (
	TxnCompleted TransactionStatus = "COMPLETED"
	TxnFlagged   TransactionStatus = "FLAGGED"
)

// Card is the authoritative account record.
type Card struct {
	CardID          string         `json:"cardId"`
	PIN             pin.Credential `json:"-"`
	PINAttempts     int            `json:"pinAttempts"`
	Status          CardStatus     `json:"status"`
	Balance         int64          `json:"balance"`
	StateViolations int            `json:"stateViolations"`
}

// Transaction is an append-only record of a completed (or flagged) transaction.
type Transaction struct {
	CardID    string            `json:"cardId"`
	Type      TransactionKind   `json:"type"`
	Amount    int64             `json:"amount"`
	Status    TransactionStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Location  string            `json:"location"`
}

// FraudLogEntry is an append-only audit record of a fraud signal.
type FraudLogEntry struct {
	CardID      string    `json:"cardId"`
	FraudType   string    `json:"fraudType"`
	ActionTaken string    `json:"actionTaken"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store persists the authorization core's state.
//
// BlockCard and RecordCompletion are atomic: a crash must not leave a balance
// debited without its transaction row, or a blocked card without its fraud-log
// entry.
type Store interface {
	// Cards
	CreateCard(ctx context.Context, card *Card) error
	GetCard(ctx context.Context, cardID string) (*Card, error)
	UpdateCredential(ctx context.Context, cardID string, cred pin.Credential) error
	SetPINAttempts(ctx context.Context, cardID string, attempts int) error
	IncrementViolations(ctx context.Context, cardID string) (int, error)
	// BlockCard sets status=blocked and, when entry is non-nil, writes the
	// fraud-log entry in the same transaction.
	BlockCard(ctx context.Context, cardID string, entry *FraudLogEntry) error
	// UnblockCard is the administrative reset: status=active, attempts=0.
	UnblockCard(ctx context.Context, cardID string) error

	// Append-only records
	AppendFraudLog(ctx context.Context, entry *FraudLogEntry) error
	AppendSessionAudit(ctx context.Context, cardID, state string, at time.Time) error
	// RecordCompletion commits one transaction atomically: debit the card by
	// debit (0 for balance inquiries), insert the transaction row, and insert
	// one fraud-log row per flag reason with action "Transaction flagged".
	RecordCompletion(ctx context.Context, txn *Transaction, debit int64, flagReasons []string) error

	// Windowed queries backing the velocity and cap rules
	CountTransactionsSince(ctx context.Context, cardID string, since time.Time) (int, error)
	CountWithdrawalsSince(ctx context.Context, cardID string, since time.Time) (int, error)
	SumAmountsSince(ctx context.Context, cardID string, since time.Time) (int64, error)
	CountSessionsSince(ctx context.Context, cardID string, since time.Time) (int, error)
	// LastTransactionSince returns the card's most recent transaction within
	// the window, or nil if there is none.
	LastTransactionSince(ctx context.Context, cardID string, since time.Time) (*Transaction, error)

	// Listings for statements and the admin surface
	ListTransactions(ctx context.Context, cardID string, limit int) ([]*Transaction, error)
	ListFraudLog(ctx context.Context, limit int) ([]*FraudLogEntry, error)
	ListCards(ctx context.Context) ([]*Card, error)
	CountFraudByType(ctx context.Context) (map[string]int, error)
}
