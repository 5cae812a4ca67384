package pairing

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/JoshuaDupras/knock-knock/internal/protocol"
)

// Waiting texts shown while no conversation is active.
const (
	waitingInitial      = "Waiting to be paired…"
	waitingRoundEnded   = "Round ended – re-queueing…"
	waitingDisconnected = "Disconnected… retrying"
	waitingReconnecting = "Reconnecting…"
	waitingGaveUp       = "Connection lost"
)

// DefaultBannerDuration is how long the transient paired notification stays up.
const DefaultBannerDuration = 2 * time.Second

// Machine is the pairing state machine. It has two independent inputs —
// channel events (HandleEvent, ChannelOpened, ChannelClosed) and clock ticks
// (Tick) — and no timers or goroutines of its own, so transitions can be
// exercised in tests with nothing but a fake clock.
//
// Machine is not safe for concurrent use; the owning Client serializes every
// call, which matches the one-transition-at-a-time model of the protocol.
type Machine struct {
	state          State
	bannerDeadline time.Time
	bannerDuration time.Duration
	logger         zerolog.Logger
}

// NewMachine returns a machine in the Unpaired phase.
func NewMachine(bannerDuration time.Duration, logger zerolog.Logger) *Machine {
	if bannerDuration <= 0 {
		bannerDuration = DefaultBannerDuration
	}
	return &Machine{
		state: State{
			Phase:       PhaseUnpaired,
			WaitingText: waitingInitial,
		},
		bannerDuration: bannerDuration,
		logger:         logger,
	}
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() State {
	return m.state.clone()
}

// HandleEvent applies one inbound channel event at the given time.
func (m *Machine) HandleEvent(ev protocol.Event, now time.Time) {
	switch ev.Type {
	case protocol.EventTypePaired:
		m.handlePaired(ev, now)
	case protocol.EventTypeTimeUp:
		m.handleTimeUp()
	case protocol.EventTypeChat:
		m.handleChat(ev)
	default:
		m.logger.Warn().Str("type", string(ev.Type)).Msg("unknown channel event discarded")
	}
}

func (m *Machine) handlePaired(ev protocol.Event, now time.Time) {
	if m.state.Phase != PhaseUnpaired {
		m.logger.Warn().
			Str("phase", string(m.state.Phase)).
			Str("conversation_id", ev.ConversationID).
			Msg("paired event outside Unpaired discarded")
		return
	}
	// The server contract requires expiresAt on every paired event; a
	// missing deadline is a server bug and must not change state.
	if ev.ExpiresAt == nil {
		m.logger.Warn().
			Str("conversation_id", ev.ConversationID).
			Msg("paired event without expiresAt discarded")
		return
	}

	m.state.Phase = PhasePaired
	m.state.Conversation = &Conversation{ID: ev.ConversationID, ExpiresAt: *ev.ExpiresAt}
	m.state.Messages = nil
	m.state.Remaining = remaining(*ev.ExpiresAt, now)
	m.state.PairedBanner = true
	m.bannerDeadline = now.Add(m.bannerDuration)

	m.logger.Info().
		Str("conversation_id", ev.ConversationID).
		Time("expires_at", *ev.ExpiresAt).
		Msg("paired")
}

func (m *Machine) handleTimeUp() {
	if m.state.Phase != PhasePaired {
		// A skip has no acknowledgement id, so a duplicate time_up for one
		// skip is possible; it must be ignorable when already unpaired.
		m.logger.Debug().Msg("time_up while not paired ignored")
		return
	}

	m.logger.Info().Str("conversation_id", m.state.Conversation.ID).Msg("round ended")
	m.state.Phase = PhaseUnpaired
	m.state.Conversation = nil
	m.state.Remaining = 0
	m.state.WaitingText = waitingRoundEnded
	// The message log is cleared when the next conversation starts, not here.
}

func (m *Machine) handleChat(ev protocol.Event) {
	if m.state.Phase != PhasePaired {
		m.logger.Debug().Msg("chat event while not paired discarded")
		return
	}
	if ev.ConversationID != m.state.Conversation.ID {
		m.logger.Warn().
			Str("event_conversation_id", ev.ConversationID).
			Str("active_conversation_id", m.state.Conversation.ID).
			Msg("chat event for stale conversation discarded")
		return
	}

	msg := Message{
		ConversationID: ev.ConversationID,
		Sender:         "partner",
		Text:           ev.Message,
	}
	if ev.Timestamp != nil {
		msg.Timestamp = *ev.Timestamp
	}
	m.state.Messages = append(m.state.Messages, msg)
}

// Tick re-derives the advisory countdown and clears the paired banner once
// its deadline passes. It never transitions phase: the deadline passing
// locally is display-only until the authoritative time_up arrives.
func (m *Machine) Tick(now time.Time) {
	if m.state.PairedBanner && !now.Before(m.bannerDeadline) {
		m.state.PairedBanner = false
	}
	if m.state.Phase == PhasePaired {
		m.state.Remaining = remaining(m.state.Conversation.ExpiresAt, now)
	}
}

// ComposeChat validates a send intent. When valid it appends the self entry
// to the log and returns the outbound event; otherwise it reports ok=false
// and changes nothing — an invalid send is a silent no-op, not an error,
// because the user may submit just as a round ends.
func (m *Machine) ComposeChat(text string, now time.Time) (protocol.Event, bool) {
	trimmed := strings.TrimSpace(text)
	if m.state.Phase != PhasePaired || trimmed == "" || m.state.Conversation == nil {
		return protocol.Event{}, false
	}

	ev := protocol.NewChatEvent(m.state.Conversation.ID, trimmed, now)
	m.state.Messages = append(m.state.Messages, Message{
		ConversationID: m.state.Conversation.ID,
		Sender:         SenderSelf,
		Text:           trimmed,
		Timestamp:      *ev.Timestamp,
	})
	return ev, true
}

// ChannelOpened marks a fresh channel attempt: back to plain waiting.
func (m *Machine) ChannelOpened() {
	m.state.Phase = PhaseUnpaired
	m.state.WaitingText = waitingInitial
}

// ChannelClosed handles loss of the channel from any phase. A partner-side
// disconnect is indistinguishable from a local network error, so an active
// conversation is abandoned rather than kept alive.
func (m *Machine) ChannelClosed() {
	if m.state.Phase == PhasePaired {
		m.logger.Info().
			Str("conversation_id", m.state.Conversation.ID).
			Msg("channel lost while paired, abandoning conversation")
	}
	m.state.Phase = PhaseReconnectPending
	m.state.Conversation = nil
	m.state.Remaining = 0
	m.state.PairedBanner = false
	m.state.WaitingText = waitingDisconnected
}

// ReconnectStarted updates the waiting text when a scheduled attempt begins.
func (m *Machine) ReconnectStarted() {
	m.state.WaitingText = waitingReconnecting
}

// ReconnectExhausted records that the retry budget ran out.
func (m *Machine) ReconnectExhausted() {
	m.state.WaitingText = waitingGaveUp
}

func remaining(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
