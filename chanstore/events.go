package chanstore

// PendingOpenEvent is sent when a channel is created in the Opening state.
type PendingOpenEvent struct {
	Channel *Channel
}

// ActiveChannelEvent is sent when funding confirms.
type ActiveChannelEvent struct {
	Channel *Channel
}

// ClosedChannelEvent is sent when a channel reaches a terminal state.
type ClosedChannelEvent struct {
	Channel *Channel
	Forced  bool
}

// BalanceUpdateEvent is sent after a settlement changed the balances.
type BalanceUpdateEvent struct {
	Channel *Channel
}
