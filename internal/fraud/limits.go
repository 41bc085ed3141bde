package fraud

import (
	"context"
	"fmt"
	"time"
)

// LimitConfig holds the withdrawal limit thresholds.
type LimitConfig struct {
	// MaxSingleWithdrawal is the largest amount allowed in one withdrawal.
	MaxSingleWithdrawal int64
	// MaxDailyWithdrawal caps the sum withdrawn since local midnight.
	MaxDailyWithdrawal int64
	// MaxRecentTransactions is the transaction count at which the rapid
	// withdrawal rule fires.
	MaxRecentTransactions int
	// RecentWindow is the lookback for the rapid withdrawal rule.
	RecentWindow time.Duration
}

// DefaultLimitConfig returns the production limits.
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		MaxSingleWithdrawal:   100000,
		MaxDailyWithdrawal:    300000,
		MaxRecentTransactions: 3,
		RecentWindow:          10 * time.Minute,
	}
}

// Limits evaluates withdrawal limit rules at amount entry. Limit hits flag
// the transaction; they never block the card.
type Limits struct {
	history History
	cfg     LimitConfig
	now     func() time.Time
}

// NewLimits creates a limit checker reading recent activity from history.
func NewLimits(history History, cfg LimitConfig) *Limits {
	return &Limits{history: history, cfg: cfg, now: time.Now}
}

// Check returns the limit rules the amount violates, in rule order. An empty
// slice means the amount is within all limits.
func (l *Limits) Check(ctx context.Context, cardID string, amount int64) ([]string, error) {
	var reasons []string
	now := l.now()

	if amount > l.cfg.MaxSingleWithdrawal {
		reasons = append(reasons, "Withdrawal exceeds single-transaction limit")
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dailyTotal, err := l.history.SumAmountsSince(ctx, cardID, midnight)
	if err != nil {
		return nil, fmt.Errorf("sum daily amounts: %w", err)
	}
	if dailyTotal+amount > l.cfg.MaxDailyWithdrawal {
		reasons = append(reasons, "Daily withdrawal limit exceeded")
	}

	recent, err := l.history.CountTransactionsSince(ctx, cardID, now.Add(-l.cfg.RecentWindow))
	if err != nil {
		return nil, fmt.Errorf("count recent transactions: %w", err)
	}
	if recent >= l.cfg.MaxRecentTransactions {
		reasons = append(reasons, "Multiple withdrawals in short time")
	}

	return reasons, nil
}
