package atm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/atmguard/internal/fraud"
	"github.com/mbd888/atmguard/internal/logging"
	"github.com/mbd888/atmguard/internal/metrics"
	"github.com/mbd888/atmguard/internal/pin"
	"github.com/mbd888/atmguard/internal/store"
)

// Receipt is the outcome of a completed transaction.
type Receipt struct {
	Kind    store.TransactionKind   `json:"kind"`
	Amount  int64                   `json:"amount"`
	Status  store.TransactionStatus `json:"status"`
	Balance int64                   `json:"balance"`
	Reasons []string                `json:"reasons,omitempty"`
}

// Service orchestrates the ATM interaction sequence. Every step takes the
// card lock, so concurrent requests for one card are strictly serialized.
type Service struct {
	store          store.Store
	registry       *Registry
	gate           *Gate
	engine         *fraud.Engine
	limits         *fraud.Limits
	maxPINAttempts int
	now            func() time.Time
}

// NewService wires the orchestrator.
func NewService(s store.Store, registry *Registry, gate *Gate, engine *fraud.Engine, limits *fraud.Limits, maxPINAttempts int) *Service {
	return &Service{
		store:          s,
		registry:       registry,
		gate:           gate,
		engine:         engine,
		limits:         limits,
		maxPINAttempts: maxPINAttempts,
		now:            time.Now,
	}
}

// StartSession begins (or resumes) the card's interaction and records the
// session-start audit row the session-velocity rule counts.
func (s *Service) StartSession(ctx context.Context, cardID string) (State, error) {
	unlock := s.registry.Lock(cardID)
	defer unlock()

	if _, err := s.store.GetCard(ctx, cardID); err != nil {
		return "", err
	}

	sess := s.registry.GetOrCreate(cardID)
	if err := s.store.AppendSessionAudit(ctx, cardID, "STARTED", s.now()); err != nil {
		return "", fmt.Errorf("record session start: %w", err)
	}
	metrics.SessionsStartedTotal.Inc()
	logging.L(ctx).Info("session started", "cardId", cardID, "state", sess.State)
	return sess.State, nil
}

// VerifyPIN checks the candidate PIN against the card's credential.
// Re-verification of an already verified session is allowed. Three wrong
// attempts block the card.
func (s *Service) VerifyPIN(ctx context.Context, cardID, candidate string) error {
	unlock := s.registry.Lock(cardID)
	defer unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	if blocked := s.checkGate(ctx, card); blocked {
		return ErrCardBlocked
	}

	sess := s.registry.GetOrCreate(cardID)
	if sess.State != StatePINVerified {
		if err := s.requireState(ctx, sess, StateCardInserted, "pin verification"); err != nil {
			return err
		}
	}

	ok, err := card.PIN.Verify(candidate)
	if err != nil {
		return fmt.Errorf("verify credential: %w", err)
	}

	if ok {
		s.migrateLegacyCredential(ctx, card, candidate)
		sess.State = StatePINVerified
		sess.touch(s.now())
		if card.PINAttempts > 0 {
			if err := s.store.SetPINAttempts(ctx, cardID, 0); err != nil {
				return fmt.Errorf("reset pin attempts: %w", err)
			}
		}
		return nil
	}

	// Failure keeps the session alive: touch before counting the attempt so
	// a slow typist is not also expired.
	sess.touch(s.now())
	metrics.PINFailuresTotal.Inc()

	attempts := card.PINAttempts + 1
	if err := s.store.SetPINAttempts(ctx, cardID, attempts); err != nil {
		return fmt.Errorf("record pin attempt: %w", err)
	}
	if attempts >= s.maxPINAttempts {
		if err := s.store.BlockCard(ctx, cardID, nil); err != nil {
			return fmt.Errorf("block card: %w", err)
		}
		metrics.CardsBlockedTotal.WithLabelValues("pin_attempts").Inc()
		logging.L(ctx).Warn("card blocked after wrong PIN attempts", "cardId", cardID, "attempts", attempts)
		return fmt.Errorf("too many wrong PIN attempts: %w", ErrCardBlocked)
	}
	return &InvalidPINError{Attempts: attempts, Max: s.maxPINAttempts}
}

// SelectTransaction records the customer's choice of transaction kind.
func (s *Service) SelectTransaction(ctx context.Context, cardID, kind string) error {
	unlock := s.registry.Lock(cardID)
	defer unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return err
	}
	if blocked := s.checkGate(ctx, card); blocked {
		return ErrCardBlocked
	}

	sess := s.registry.GetOrCreate(cardID)
	if err := s.requireState(ctx, sess, StatePINVerified, "transaction selection"); err != nil {
		return err
	}

	selected := store.TransactionKind(kind)
	if selected != store.KindWithdraw && selected != store.KindBalance {
		return ErrInvalidTransaction
	}
	sess.Selected = selected
	sess.State = StateTransactionSelected
	sess.touch(s.now())
	return nil
}

// EnterAmount records the withdrawal amount after screening it against the
// limit rules. Limit hits are logged and retained as pending flags on the
// session; they never block here.
func (s *Service) EnterAmount(ctx context.Context, cardID string, amount int64) ([]string, error) {
	unlock := s.registry.Lock(cardID)
	defer unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if blocked := s.checkGate(ctx, card); blocked {
		return nil, ErrCardBlocked
	}

	sess := s.registry.GetOrCreate(cardID)
	if err := s.requireState(ctx, sess, StateTransactionSelected, "amount entry"); err != nil {
		return nil, err
	}

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if sess.Selected == store.KindWithdraw && amount > card.Balance {
		return nil, &InsufficientBalanceError{Balance: card.Balance}
	}

	reasons, err := s.limits.Check(ctx, cardID, amount)
	if err != nil {
		return nil, fmt.Errorf("check withdrawal limits: %w", err)
	}
	for _, reason := range reasons {
		err := s.store.AppendFraudLog(ctx, &store.FraudLogEntry{
			CardID:      cardID,
			FraudType:   reason,
			ActionTaken: "Logged",
			Timestamp:   s.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("log limit hit: %w", err)
		}
	}

	sess.Amount = amount
	sess.Flags = append(sess.Flags, reasons...)
	sess.State = StateAmountEntered
	sess.touch(s.now())
	return reasons, nil
}

// CompleteTransaction screens the pending transaction through the fraud
// engine and commits it. A block verdict blocks the card, writes one
// summarizing fraud-log entry, and commits nothing else.
func (s *Service) CompleteTransaction(ctx context.Context, cardID, location string) (*Receipt, error) {
	unlock := s.registry.Lock(cardID)
	defer unlock()

	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if blocked := s.checkGate(ctx, card); blocked {
		return nil, ErrCardBlocked
	}

	sess := s.registry.GetOrCreate(cardID)
	if err := s.checkTimeout(sess); err != nil {
		return nil, err
	}
	if sess.Selected == "" {
		return nil, ErrInvalidTransaction
	}
	if location != "" {
		sess.Location = location
	}

	result, err := s.engine.Check(ctx, cardID, sess.Amount, sess.Selected, sess.Location)
	if err != nil {
		return nil, fmt.Errorf("fraud check: %w", err)
	}
	metrics.FraudChecksTotal.WithLabelValues(string(result.Action)).Inc()

	if result.Blocked() {
		err := s.store.BlockCard(ctx, cardID, &store.FraudLogEntry{
			CardID:      cardID,
			FraudType:   strings.Join(result.Reasons, ", "),
			ActionTaken: "Card blocked",
			Timestamp:   s.now(),
		})
		if err != nil {
			return nil, fmt.Errorf("block card: %w", err)
		}
		metrics.CardsBlockedTotal.WithLabelValues("fraud").Inc()
		metrics.TransactionsTotal.WithLabelValues("blocked").Inc()
		sess.State = StateBlocked
		sess.touch(s.now())
		logging.L(ctx).Warn("transaction blocked by fraud engine",
			"cardId", cardID,
			"reasons", result.Reasons,
		)
		return nil, &FraudBlockedError{Reasons: result.Reasons}
	}

	var debit int64
	if sess.Selected == store.KindWithdraw {
		debit = sess.Amount
	}
	status := store.TxnCompleted
	if len(result.Reasons) > 0 || len(sess.Flags) > 0 {
		status = store.TxnFlagged
	}

	txn := &store.Transaction{
		CardID:    cardID,
		Type:      sess.Selected,
		Amount:    sess.Amount,
		Status:    status,
		Timestamp: s.now(),
		Location:  sess.Location,
	}
	if err := s.store.RecordCompletion(ctx, txn, debit, result.Reasons); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return nil, &InsufficientBalanceError{Balance: card.Balance}
		}
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	metrics.TransactionsTotal.WithLabelValues(string(status)).Inc()

	sess.State = StateCompleted
	sess.touch(s.now())
	logging.L(ctx).Info("transaction completed",
		"cardId", cardID,
		"kind", sess.Selected,
		"amount", sess.Amount,
		"status", status,
	)
	return &Receipt{
		Kind:    sess.Selected,
		Amount:  sess.Amount,
		Status:  status,
		Balance: card.Balance - debit,
		Reasons: result.Reasons,
	}, nil
}

// GetBalance returns the card's current balance.
func (s *Service) GetBalance(ctx context.Context, cardID string) (int64, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return 0, err
	}
	return card.Balance, nil
}

// ResetForNextTransaction returns a post-PIN session to PIN_VERIFIED so the
// customer can run another transaction without re-inserting the card.
func (s *Service) ResetForNextTransaction(ctx context.Context, cardID string) error {
	unlock := s.registry.Lock(cardID)
	defer unlock()

	sess, ok := s.registry.Get(cardID)
	if !ok {
		return &InvalidStateError{Step: "reset", Required: StateCompleted, Current: StateIdle}
	}
	if err := s.checkTimeout(sess); err != nil {
		return err
	}
	switch sess.State {
	case StatePINVerified, StateTransactionSelected, StateAmountEntered, StateCompleted:
		sess.reset(s.now())
		return nil
	default:
		// Reset must never promote an unverified or blocked session past the
		// PIN step.
		return &InvalidStateError{Step: "reset", Required: StateCompleted, Current: sess.State}
	}
}

// MiniStatement returns the card's most recent transactions, newest first.
func (s *Service) MiniStatement(ctx context.Context, cardID string, limit int) ([]*store.Transaction, error) {
	if _, err := s.store.GetCard(ctx, cardID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, cardID, limit)
}

// checkGate runs the blocked-card gate, tolerating audit-write failures.
func (s *Service) checkGate(ctx context.Context, card *store.Card) bool {
	blocked, err := s.gate.Blocked(ctx, card)
	if err != nil {
		logging.L(ctx).Error("card gate audit write failed", "cardId", card.CardID, "error", err)
	}
	return blocked
}

// checkTimeout expires the session when it has been idle past the timeout.
func (s *Service) checkTimeout(sess *Session) error {
	if !s.registry.Expired(sess) {
		return nil
	}
	if sess.State != StateExpired {
		sess.State = StateExpired
		metrics.SessionsExpiredTotal.Inc()
	}
	return ErrSessionExpired
}

// requireState enforces the interaction sequence. The timeout is not checked
// when the required state is CARD_INSERTED; a customer still at the PIN step
// gets the full window. An out-of-sequence step counts a violation.
func (s *Service) requireState(ctx context.Context, sess *Session, required State, step string) error {
	if required != StateCardInserted {
		if err := s.checkTimeout(sess); err != nil {
			return err
		}
	}
	if sess.State != required {
		if err := s.gate.RecordViolation(ctx, sess.CardID, step); err != nil {
			logging.L(ctx).Error("record state violation failed", "cardId", sess.CardID, "error", err)
		}
		return &InvalidStateError{Step: step, Required: required, Current: sess.State}
	}
	return nil
}

// migrateLegacyCredential rehashes a plaintext credential after a successful
// match. Failure is logged but never fails the verification.
func (s *Service) migrateLegacyCredential(ctx context.Context, card *store.Card, candidate string) {
	if !card.PIN.Legacy() {
		return
	}
	cred, err := pin.Hash(candidate)
	if err != nil {
		logging.L(ctx).Error("rehash legacy pin failed", "cardId", card.CardID, "error", err)
		return
	}
	if err := s.store.UpdateCredential(ctx, card.CardID, cred); err != nil {
		logging.L(ctx).Error("store rehashed pin failed", "cardId", card.CardID, "error", err)
		return
	}
	logging.L(ctx).Info("migrated legacy pin to scrypt", "cardId", card.CardID)
}
