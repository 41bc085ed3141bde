package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/atmguard/internal/store"
)

// EngineConfig holds the behavioral rule thresholds.
type EngineConfig struct {
	// HighAmountThreshold is the withdrawal amount at which a single
	// transaction is considered unusually high.
	HighAmountThreshold int64
	// MaxWithdrawalsInWindow is the withdrawal count at which the velocity
	// rule fires.
	MaxWithdrawalsInWindow int
	// WithdrawalWindow is the lookback for the velocity and travel rules.
	WithdrawalWindow time.Duration
	// MaxSessionsInWindow is the session count at which the session-abuse
	// rule fires.
	MaxSessionsInWindow int
	// SessionWindow is the lookback for the session-abuse rule.
	SessionWindow time.Duration
}

// DefaultEngineConfig returns the production thresholds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HighAmountThreshold:    100000,
		MaxWithdrawalsInWindow: 3,
		WithdrawalWindow:       10 * time.Minute,
		MaxSessionsInWindow:    5,
		SessionWindow:          15 * time.Minute,
	}
}

// Engine runs the behavioral fraud rules at transaction completion.
type Engine struct {
	history History
	cfg     EngineConfig
	now     func() time.Time
}

// NewEngine creates an engine reading recent activity from history.
func NewEngine(history History, cfg EngineConfig) *Engine {
	return &Engine{history: history, cfg: cfg, now: time.Now}
}

// Check evaluates all rules for the pending transaction and returns the
// accumulated verdict. Every rule is evaluated even after a block verdict so
// the fraud log captures every reason.
func (e *Engine) Check(ctx context.Context, cardID string, amount int64, kind store.TransactionKind, location string) (*Result, error) {
	result := NewResult()
	now := e.now()
	windowStart := now.Add(-e.cfg.WithdrawalWindow)

	// Rule 1: unusually high withdrawal.
	if kind == store.KindWithdraw && amount >= e.cfg.HighAmountThreshold {
		result.Add("Unusually high withdrawal amount", SeverityHigh, ActionBlock)
	}

	// Rule 2: withdrawal velocity.
	withdrawals, err := e.history.CountWithdrawalsSince(ctx, cardID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("count withdrawals: %w", err)
	}
	if withdrawals >= e.cfg.MaxWithdrawalsInWindow {
		result.Add("Multiple withdrawals in short time", SeverityHigh, ActionBlock)
	}

	// Rule 3: session abuse.
	sessions, err := e.history.CountSessionsSince(ctx, cardID, now.Add(-e.cfg.SessionWindow))
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if sessions >= e.cfg.MaxSessionsInWindow {
		result.Add("Excessive ATM sessions detected", SeverityHigh, ActionBlock)
	}

	// Rule 4: impossible travel. An unknown current location carries no
	// signal, so the rule is skipped.
	if location != "UNKNOWN" {
		last, err := e.history.LastTransactionSince(ctx, cardID, windowStart)
		if err != nil {
			return nil, fmt.Errorf("last transaction: %w", err)
		}
		if last != nil && last.Location != "" && last.Location != location {
			result.Add(
				fmt.Sprintf("Impossible travel detected: %s -> %s", last.Location, location),
				SeverityHigh,
				ActionBlock,
			)
		}
	}

	return result, nil
}
