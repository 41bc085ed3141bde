package atm

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/atmguard/internal/logging"
	"github.com/mbd888/atmguard/internal/metrics"
	"github.com/mbd888/atmguard/internal/store"
)

// violationThreshold is the state-violation count at which a card is blocked.
const violationThreshold = 2

// Gate enforces the card-level defenses that sit in front of every session
// step: the blocked-card check and the repeated-state-violation tracker.
type Gate struct {
	store store.Store
	now   func() time.Time
}

// NewGate creates a gate over the persistence gateway.
func NewGate(s store.Store) *Gate {
	return &Gate{store: s, now: time.Now}
}

// Blocked reports whether the card is blocked, writing the audit entry for
// the refused attempt when it is.
func (g *Gate) Blocked(ctx context.Context, card *store.Card) (bool, error) {
	if card.Status != store.CardBlocked {
		return false, nil
	}
	err := g.store.AppendFraudLog(ctx, &store.FraudLogEntry{
		CardID:      card.CardID,
		FraudType:   "Blocked card attempted ATM action",
		ActionTaken: "Logged",
		Timestamp:   g.now(),
	})
	if err != nil {
		return true, fmt.Errorf("log blocked attempt: %w", err)
	}
	logging.L(ctx).Warn("blocked card attempted ATM action", "cardId", card.CardID)
	return true, nil
}

// RecordViolation counts an out-of-sequence step against the card. The
// violation itself is logged; at the threshold the card is blocked with its
// own fraud-log entry, atomically.
func (g *Gate) RecordViolation(ctx context.Context, cardID, step string) error {
	metrics.StateViolationsTotal.Inc()

	err := g.store.AppendFraudLog(ctx, &store.FraudLogEntry{
		CardID:      cardID,
		FraudType:   fmt.Sprintf("Invalid state transition: %s", step),
		ActionTaken: "Logged",
		Timestamp:   g.now(),
	})
	if err != nil {
		return fmt.Errorf("log state violation: %w", err)
	}

	count, err := g.store.IncrementViolations(ctx, cardID)
	if err != nil {
		return fmt.Errorf("increment violations: %w", err)
	}
	if count < violationThreshold {
		return nil
	}

	err = g.store.BlockCard(ctx, cardID, &store.FraudLogEntry{
		CardID:      cardID,
		FraudType:   "Repeated ATM state violation",
		ActionTaken: "Card blocked",
		Timestamp:   g.now(),
	})
	if err != nil {
		return fmt.Errorf("block card: %w", err)
	}
	metrics.CardsBlockedTotal.WithLabelValues("state_violations").Inc()
	logging.L(ctx).Warn("card blocked after repeated state violations",
		"cardId", cardID,
		"violations", count,
	)
	return nil
}
