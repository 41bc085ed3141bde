package atm

import (
	"time"

	"github.com/mbd888/atmguard/internal/store"
)

// Session is the in-memory interaction state for one card. All access is
// serialized by the registry's per-card lock; the struct itself carries no
// synchronization.
type Session struct {
	CardID       string
	State        State
	Selected     store.TransactionKind
	Amount       int64
	Flags        []string
	Location     string
	LastActivity time.Time
}

func newSession(cardID string, now time.Time) *Session {
	return &Session{
		CardID:       cardID,
		State:        StateCardInserted,
		Location:     "UNKNOWN",
		LastActivity: now,
	}
}

func (s *Session) touch(now time.Time) {
	s.LastActivity = now
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// reset returns the session to PIN_VERIFIED for a follow-up transaction,
// clearing the selection, amount, and pending flags.
func (s *Session) reset(now time.Time) {
	s.Selected = ""
	s.Amount = 0
	s.Flags = nil
	s.State = StatePINVerified
	s.touch(now)
}
