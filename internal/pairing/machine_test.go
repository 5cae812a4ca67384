package pairing

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaDupras/knock-knock/internal/protocol"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestMachine() *Machine {
	return NewMachine(DefaultBannerDuration, zerolog.Nop())
}

func pairedEvent(conversationID string, expiresAt time.Time) protocol.Event {
	return protocol.NewPairedEvent(conversationID, expiresAt)
}

func chatEvent(conversationID, text string, at time.Time) protocol.Event {
	return protocol.NewChatEvent(conversationID, text, at)
}

func TestInitialStateIsUnpaired(t *testing.T) {
	m := newTestMachine()
	state := m.Snapshot()

	assert.Equal(t, PhaseUnpaired, state.Phase)
	assert.Nil(t, state.Conversation)
	assert.Empty(t, state.Messages)
	assert.NotEmpty(t, state.WaitingText)
}

func TestPairedTransitionsToPaired(t *testing.T) {
	m := newTestMachine()
	expires := t0.Add(60 * time.Second)

	m.HandleEvent(pairedEvent("abc", expires), t0)

	state := m.Snapshot()
	assert.Equal(t, PhasePaired, state.Phase)
	require.NotNil(t, state.Conversation)
	assert.Equal(t, "abc", state.Conversation.ID)
	assert.Equal(t, expires, state.Conversation.ExpiresAt)
	assert.Equal(t, 60*time.Second, state.Remaining)
	assert.True(t, state.PairedBanner)
}

func TestPairedWithoutExpiresAtDiscarded(t *testing.T) {
	m := newTestMachine()

	// Sequence [malformed-paired, time_up] must leave Unpaired throughout.
	m.HandleEvent(protocol.Event{Type: protocol.EventTypePaired, ConversationID: "abc"}, t0)
	assert.Equal(t, PhaseUnpaired, m.Snapshot().Phase)

	m.HandleEvent(protocol.NewTimeUpEvent(), t0)
	state := m.Snapshot()
	assert.Equal(t, PhaseUnpaired, state.Phase)
	assert.Nil(t, state.Conversation)
}

func TestPairedWhileAlreadyPairedDiscarded(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)

	m.HandleEvent(pairedEvent("c2", t0.Add(2*time.Minute)), t0.Add(time.Second))

	state := m.Snapshot()
	require.NotNil(t, state.Conversation)
	assert.Equal(t, "c1", state.Conversation.ID)
}

func TestComposeChatNoopWhenNotPaired(t *testing.T) {
	m := newTestMachine()

	_, ok := m.ComposeChat("hello", t0)

	assert.False(t, ok)
	assert.Empty(t, m.Snapshot().Messages)
}

func TestComposeChatNoopOnBlankText(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)

	_, ok := m.ComposeChat("   \t ", t0)

	assert.False(t, ok)
	assert.Empty(t, m.Snapshot().Messages)
}

func TestComposeChatAppendsOptimistically(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)

	ev, ok := m.ComposeChat("  hello there  ", t0.Add(5*time.Second))

	require.True(t, ok)
	assert.Equal(t, protocol.EventTypeChat, ev.Type)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, "hello there", ev.Message)
	require.NotNil(t, ev.Timestamp)

	msgs := m.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderSelf, msgs[0].Sender)
	assert.Equal(t, "hello there", msgs[0].Text)
}

func TestChatConversationMismatchDiscarded(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("C1", t0.Add(time.Minute)), t0)

	m.HandleEvent(chatEvent("C2", "wrong room", t0.Add(time.Second)), t0.Add(time.Second))

	assert.Empty(t, m.Snapshot().Messages)
}

func TestLogClearsOnNextPairedNotOnTimeUp(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)
	m.HandleEvent(chatEvent("c1", "one", t0.Add(time.Second)), t0.Add(time.Second))
	m.HandleEvent(chatEvent("c1", "two", t0.Add(2*time.Second)), t0.Add(2*time.Second))

	m.HandleEvent(protocol.NewTimeUpEvent(), t0.Add(3*time.Second))

	state := m.Snapshot()
	assert.Equal(t, PhaseUnpaired, state.Phase)
	assert.Nil(t, state.Conversation)
	assert.Len(t, state.Messages, 2, "log survives time_up")

	m.HandleEvent(pairedEvent("c2", t0.Add(2*time.Minute)), t0.Add(10*time.Second))
	assert.Empty(t, m.Snapshot().Messages, "log cleared when the next round starts")
}

func TestTimeUpWhileUnpairedIsIdempotent(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)

	// Duplicate time_up (e.g. two for one skip) must be harmless.
	m.HandleEvent(protocol.NewTimeUpEvent(), t0.Add(time.Second))
	m.HandleEvent(protocol.NewTimeUpEvent(), t0.Add(2*time.Second))

	assert.Equal(t, PhaseUnpaired, m.Snapshot().Phase)
}

func TestCountdownMonotonicNonIncreasing(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(60*time.Second)), t0)

	prev := m.Snapshot().Remaining
	for i := 1; i <= 70; i++ {
		m.Tick(t0.Add(time.Duration(i) * time.Second))
		cur := m.Snapshot().Remaining
		assert.LessOrEqual(t, cur, prev)
		assert.GreaterOrEqual(t, cur, time.Duration(0))
		prev = cur
	}
	assert.Equal(t, time.Duration(0), prev, "countdown bottoms out at zero")
	assert.Equal(t, PhasePaired, m.Snapshot().Phase,
		"local expiry never transitions state on its own")
}

func TestCountdownResetsOnNewPairedOnly(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(30*time.Second)), t0)
	m.Tick(t0.Add(20 * time.Second))
	require.Equal(t, 10*time.Second, m.Snapshot().Remaining)

	m.HandleEvent(protocol.NewTimeUpEvent(), t0.Add(21*time.Second))
	assert.Equal(t, time.Duration(0), m.Snapshot().Remaining)

	m.HandleEvent(pairedEvent("c2", t0.Add(90*time.Second)), t0.Add(30*time.Second))
	assert.Equal(t, 60*time.Second, m.Snapshot().Remaining)
}

func TestChatStillAcceptedAfterLocalDeadlinePassed(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(10*time.Second)), t0)

	// Deadline passes locally without a time_up: the timer is advisory, so
	// chat must keep flowing until the server says the round ended.
	m.Tick(t0.Add(15 * time.Second))
	m.HandleEvent(chatEvent("c1", "late but valid", t0.Add(16*time.Second)), t0.Add(16*time.Second))

	require.Len(t, m.Snapshot().Messages, 1)

	m.HandleEvent(protocol.NewTimeUpEvent(), t0.Add(17*time.Second))
	assert.Equal(t, PhaseUnpaired, m.Snapshot().Phase)
}

func TestPairedBannerAutoClears(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)
	require.True(t, m.Snapshot().PairedBanner)

	m.Tick(t0.Add(time.Second))
	assert.True(t, m.Snapshot().PairedBanner, "banner still visible inside its window")

	m.Tick(t0.Add(2 * time.Second))
	assert.False(t, m.Snapshot().PairedBanner, "banner cleared after its window")
}

func TestChannelClosedWhilePairedAbandonsConversation(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)

	m.ChannelClosed()

	state := m.Snapshot()
	assert.Equal(t, PhaseReconnectPending, state.Phase)
	assert.Nil(t, state.Conversation)
	assert.Equal(t, time.Duration(0), state.Remaining)
	assert.False(t, state.PairedBanner)

	// Ticks after the close must not revive the countdown.
	m.Tick(t0.Add(5 * time.Second))
	assert.Equal(t, time.Duration(0), m.Snapshot().Remaining)
}

func TestReconnectFlowWaitingTexts(t *testing.T) {
	m := newTestMachine()

	m.ChannelClosed()
	assert.Equal(t, "Disconnected… retrying", m.Snapshot().WaitingText)

	m.ReconnectStarted()
	assert.Equal(t, "Reconnecting…", m.Snapshot().WaitingText)

	m.ChannelOpened()
	state := m.Snapshot()
	assert.Equal(t, PhaseUnpaired, state.Phase)
	assert.Equal(t, "Waiting to be paired…", state.WaitingText)
}

func TestSnapshotIsACopy(t *testing.T) {
	m := newTestMachine()
	m.HandleEvent(pairedEvent("c1", t0.Add(time.Minute)), t0)
	m.HandleEvent(chatEvent("c1", "hi", t0.Add(time.Second)), t0.Add(time.Second))

	snap := m.Snapshot()
	snap.Conversation.ID = "tampered"
	snap.Messages[0].Text = "tampered"

	fresh := m.Snapshot()
	assert.Equal(t, "c1", fresh.Conversation.ID)
	assert.Equal(t, "hi", fresh.Messages[0].Text)
}
