package atm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCardBlocked is returned when a blocked card attempts any step.
	ErrCardBlocked = errors.New("card is blocked")
	// ErrSessionExpired is returned when a step arrives after the inactivity
	// timeout.
	ErrSessionExpired = errors.New("session expired due to inactivity")
	// ErrInvalidTransaction is returned for an unknown transaction kind.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrInvalidAmount is returned for a zero or negative amount.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
)

// InvalidStateError reports a step attempted out of sequence.
type InvalidStateError struct {
	Step     string
	Required State
	Current  State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("action %s not allowed. Required: %s, Current: %s", e.Step, e.Required, e.Current)
}

// InvalidPINError reports a failed PIN attempt and how many remain.
type InvalidPINError struct {
	Attempts int
	Max      int
}

func (e *InvalidPINError) Error() string {
	return fmt.Sprintf("invalid PIN (%d/%d)", e.Attempts, e.Max)
}

// InsufficientBalanceError reports a withdrawal larger than the balance.
type InsufficientBalanceError struct {
	Balance int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d", e.Balance)
}

// FraudBlockedError reports a completion rejected by the fraud engine. The
// card has already been blocked when this is returned.
type FraudBlockedError struct {
	Reasons []string
}

func (e *FraudBlockedError) Error() string {
	return fmt.Sprintf("transaction blocked due to suspected fraud: %s", strings.Join(e.Reasons, ", "))
}
