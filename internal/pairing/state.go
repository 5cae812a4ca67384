package pairing

import "time"

// Phase is the top-level lifecycle of a participant. Exactly one phase holds
// at any moment; the per-phase payload lives alongside it in State.
type Phase string

const (
	// PhaseUnpaired covers both "never paired yet" and "round just ended,
	// waiting for the next one" — the server re-queues automatically.
	PhaseUnpaired Phase = "unpaired"
	// PhasePaired means an active Conversation with a deadline exists.
	PhasePaired Phase = "paired"
	// PhaseReconnectPending means the channel dropped and a reconnect
	// attempt is scheduled.
	PhaseReconnectPending Phase = "reconnect_pending"
)

// Conversation is one time-boxed round with a partner. It is created on a
// paired event and destroyed on time_up or channel loss; exactly one is
// active at a time.
type Conversation struct {
	ID        string
	ExpiresAt time.Time
}

// Message is one entry in the conversation log. Self-authored entries are
// appended optimistically on send, without waiting for a server echo.
type Message struct {
	ConversationID string
	Sender         string // "self" or a remote label
	Text           string
	Timestamp      time.Time
}

const SenderSelf = "self"

// State is the UI-observable snapshot of the machine. Snapshots are value
// copies; mutating one never affects the machine.
type State struct {
	Phase        Phase
	Conversation *Conversation
	Messages     []Message
	WaitingText  string
	// PairedBanner is the transient "you are paired" notification; it
	// auto-clears a couple of seconds after pairing.
	PairedBanner bool
	// Remaining is the advisory countdown, recomputed each tick as
	// max(0, expiresAt-now). Display only; it never drives a transition.
	Remaining time.Duration
}

func (s State) clone() State {
	out := s
	if s.Conversation != nil {
		conv := *s.Conversation
		out.Conversation = &conv
	}
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}
