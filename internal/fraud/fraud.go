// Package fraud evaluates withdrawal limits and behavioral fraud rules
// against a card's recent transaction history.
//
// Two layers run at different points in the session: limit rules at amount
// entry (they flag, never block) and the engine at completion (its verdict
// can block the card outright).
package fraud

import (
	"context"
	"time"

	"github.com/mbd888/atmguard/internal/store"
)

// Severity ranks how suspicious a signal is.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Action is the engine's verdict for a transaction.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionBlock Action = "BLOCK"
)

// Result accumulates rule hits for one evaluation. Severity and Action only
// ever escalate: a later low-severity hit cannot soften an earlier high one.
type Result struct {
	Reasons  []string
	Severity Severity
	Action   Action
}

// NewResult returns a clean allow verdict.
func NewResult() *Result {
	return &Result{Severity: SeverityLow, Action: ActionAllow}
}

// Add records a rule hit, escalating the overall severity and action.
func (r *Result) Add(reason string, severity Severity, action Action) {
	r.Reasons = append(r.Reasons, reason)
	switch severity {
	case SeverityHigh:
		r.Severity = SeverityHigh
		r.Action = action
	case SeverityMedium:
		if r.Severity != SeverityHigh {
			r.Severity = SeverityMedium
			r.Action = action
		}
	}
}

// Blocked reports whether the verdict is a hard block.
func (r *Result) Blocked() bool {
	return r.Action == ActionBlock
}

// History is the slice of the persistence gateway the rules read.
type History interface {
	CountTransactionsSince(ctx context.Context, cardID string, since time.Time) (int, error)
	CountWithdrawalsSince(ctx context.Context, cardID string, since time.Time) (int, error)
	SumAmountsSince(ctx context.Context, cardID string, since time.Time) (int64, error)
	CountSessionsSince(ctx context.Context, cardID string, since time.Time) (int, error)
	LastTransactionSince(ctx context.Context, cardID string, since time.Time) (*store.Transaction, error)
}
