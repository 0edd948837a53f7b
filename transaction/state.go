package transaction

// State is a transaction's position in its lifecycle: New -> Sent ->
// (AwaitingReply | Broadcast) -> (Replied | TimedOut | Failed).
type State int

const (
	StateNew State = iota
	StateSent
	StateAwaitingReply
	StateBroadcast
	StateReplied
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateSent:
		return "Sent"
	case StateAwaitingReply:
		return "AwaitingReply"
	case StateBroadcast:
		return "Broadcast"
	case StateReplied:
		return "Replied"
	case StateTimedOut:
		return "TimedOut"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Transaction tracks one request/response exchange through its state
// machine, the way a transaction manager on a shared connection needs to
// in order to log and retry coherently.
type Transaction struct {
	UnitID uint8
	state  State
}

// NewTransaction starts a transaction in StateNew for the given unit id.
func NewTransaction(unitID uint8) *Transaction {
	return &Transaction{UnitID: unitID, state: StateNew}
}

// State returns the transaction's current state.
func (t *Transaction) State() State { return t.state }

// Advance moves the transaction to a new state. Advancing is
// unconditional: the manager is the only caller and drives transitions
// in lifecycle order, so no illegal-transition table is enforced here.
func (t *Transaction) Advance(next State) {
	t.state = next
}
