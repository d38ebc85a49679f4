package chanstore

// ChannelState is the lifecycle state of a payment channel. States only move
// forward; a closed channel is never reopened.
type ChannelState uint8

const (
	// StateOpening is a channel whose funding has not confirmed yet.
	StateOpening ChannelState = iota

	// StateActive is a confirmed channel that can send and receive.
	StateActive

	// StateClosing is a channel undergoing a cooperative close.
	StateClosing

	// StateClosed is a cooperatively closed channel. Terminal.
	StateClosed

	// StateForceClosed is a unilaterally closed channel, or one whose
	// funding failed. Terminal.
	StateForceClosed
)

// String returns a human readable name of the state.
func (s ChannelState) String() string {
	switch s {
	case StateOpening:
		return "Opening"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateForceClosed:
		return "ForceClosed"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true for states that admit no further transition or
// balance mutation.
func (s ChannelState) IsTerminal() bool {
	return s == StateClosed || s == StateForceClosed
}

// transitions is the channel lifecycle graph.
var transitions = map[ChannelState][]ChannelState{
	StateOpening: {StateActive, StateForceClosed},
	StateActive:  {StateClosing, StateForceClosed},
	StateClosing: {StateClosed, StateForceClosed},
}

// CanTransition reports whether moving from s to next follows the lifecycle
// graph.
func (s ChannelState) CanTransition(next ChannelState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}
