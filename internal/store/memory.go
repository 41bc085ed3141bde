package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/atmguard/internal/pin"
)

// MemoryStore is an in-memory Store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	cards    map[string]*Card
	txns     []*Transaction
	fraudLog []*FraudLogEntry
	sessions []sessionAudit
}

type sessionAudit struct {
	cardID    string
	state     string
	createdAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards: make(map[string]*Card),
	}
}

func (m *MemoryStore) CreateCard(_ context.Context, card *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *card
	if cp.Status == "" {
		cp.Status = CardActive
	}
	m.cards[card.CardID] = &cp
	return nil
}

func (m *MemoryStore) GetCard(_ context.Context, cardID string) (*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	card, ok := m.cards[cardID]
	if !ok {
		return nil, ErrCardNotFound
	}
	cp := *card
	return &cp, nil
}

func (m *MemoryStore) UpdateCredential(_ context.Context, cardID string, cred pin.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, ok := m.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	card.PIN = cred
	return nil
}

func (m *MemoryStore) SetPINAttempts(_ context.Context, cardID string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, ok := m.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	card.PINAttempts = attempts
	return nil
}

func (m *MemoryStore) IncrementViolations(_ context.Context, cardID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, ok := m.cards[cardID]
	if !ok {
		return 0, ErrCardNotFound
	}
	card.StateViolations++
	return card.StateViolations, nil
}

func (m *MemoryStore) BlockCard(_ context.Context, cardID string, entry *FraudLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, ok := m.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	card.Status = CardBlocked
	if entry != nil {
		cp := *entry
		m.fraudLog = append(m.fraudLog, &cp)
	}
	return nil
}

func (m *MemoryStore) UnblockCard(_ context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, ok := m.cards[cardID]
	if !ok {
		return ErrCardNotFound
	}
	card.Status = CardActive
	card.PINAttempts = 0
	return nil
}

func (m *MemoryStore) AppendFraudLog(_ context.Context, entry *FraudLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.fraudLog = append(m.fraudLog, &cp)
	return nil
}

func (m *MemoryStore) AppendSessionAudit(_ context.Context, cardID, state string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = append(m.sessions, sessionAudit{cardID: cardID, state: state, createdAt: at})
	return nil
}

func (m *MemoryStore) RecordCompletion(_ context.Context, txn *Transaction, debit int64, flagReasons []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	card, ok := m.cards[txn.CardID]
	if !ok {
		return ErrCardNotFound
	}
	if debit > 0 {
		if card.Balance < debit {
			return ErrInsufficientFunds
		}
		card.Balance -= debit
	}

	cp := *txn
	m.txns = append(m.txns, &cp)
	for _, reason := range flagReasons {
		m.fraudLog = append(m.fraudLog, &FraudLogEntry{
			CardID:      txn.CardID,
			FraudType:   reason,
			ActionTaken: "Transaction flagged",
			Timestamp:   txn.Timestamp,
		})
	}
	return nil
}

func (m *MemoryStore) CountTransactionsSince(_ context.Context, cardID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.txns {
		if t.CardID == cardID && !t.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) CountWithdrawalsSince(_ context.Context, cardID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, t := range m.txns {
		if t.CardID == cardID && t.Type == KindWithdraw && !t.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) SumAmountsSince(_ context.Context, cardID string, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, t := range m.txns {
		if t.CardID == cardID && !t.Timestamp.Before(since) {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (m *MemoryStore) CountSessionsSince(_ context.Context, cardID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.sessions {
		if s.cardID == cardID && !s.createdAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) LastTransactionSince(_ context.Context, cardID string, since time.Time) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *Transaction
	for _, t := range m.txns {
		if t.CardID != cardID || t.Timestamp.Before(since) {
			continue
		}
		if last == nil || t.Timestamp.After(last.Timestamp) {
			last = t
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, cardID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Transaction
	for _, t := range m.txns {
		if t.CardID == cardID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListFraudLog(_ context.Context, limit int) ([]*FraudLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*FraudLogEntry, 0, len(m.fraudLog))
	for i := len(m.fraudLog) - 1; i >= 0; i-- {
		cp := *m.fraudLog[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListCards(_ context.Context) ([]*Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Card, 0, len(m.cards))
	for _, c := range m.cards {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardID < out[j].CardID })
	return out, nil
}

func (m *MemoryStore) CountFraudByType(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, e := range m.fraudLog {
		counts[e.FraudType]++
	}
	return counts, nil
}
