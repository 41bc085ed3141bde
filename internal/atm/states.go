// Package atm is the authorization core: the per-card session state machine,
// the card gate, and the orchestrator that drives one customer interaction
// from card insertion through fraud-screened completion.
package atm

// State is a session's position in the ATM interaction sequence.
type State string

const (
	StateIdle                State = "IDLE"
	StateCardInserted        State = "CARD_INSERTED"
	StatePINVerified         State = "PIN_VERIFIED"
	StateTransactionSelected State = "TRANSACTION_SELECTED"
	StateAmountEntered       State = "AMOUNT_ENTERED"
	StateCompleted           State = "COMPLETED"
	StateBlocked             State = "BLOCKED"
	StateExpired             State = "EXPIRED"
)

func (s State) String() string {
	return string(s)
}
