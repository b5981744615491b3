package agent

import "log/slog"

// State is the phase of a single turn.
type State int

const (
	StateInit State = iota
	StateConfiguring
	StateSending
	StateStreaming
	StateAwaitingResponse
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConfiguring:
		return "CONFIGURING"
	case StateSending:
		return "SENDING"
	case StateStreaming:
		return "STREAMING"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// turn tracks one Execute or ExecuteStream call.
type turn struct {
	state    State
	attempts int
	log      *slog.Logger
	// trace records every state entered, in order.
	trace []State
}

func newTurn(sessionID, requestID, tierKey string) *turn {
	t := &turn{
		log: slog.With("sessionID", sessionID, "requestID", requestID, "tier", tierKey),
	}
	t.trace = append(t.trace, StateInit)
	t.log.Debug("Turn state", "state", StateInit)
	return t
}

func (t *turn) to(s State) {
	t.log.Debug("Turn state", "from", t.state, "to", s)
	t.state = s
	t.trace = append(t.trace, s)
}
