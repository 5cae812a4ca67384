package matchmaker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/JoshuaDupras/knock-knock/internal/protocol"
)

// Matchmaker owns the waiting queue and the active conversations. Everything
// is in-memory: sessions live minutes, conversations die on their deadline,
// and nothing here outlasts the process.
type Matchmaker struct {
	clock         clockwork.Clock
	roundDuration time.Duration
	skipCooldown  time.Duration

	mu            sync.Mutex
	byID          map[string]*Participant
	byName        map[string]*Participant
	queue         []*Participant
	queued        map[string]bool
	conversations map[string]*Conversation
	convByUser    map[string]*Conversation
}

// New creates a matchmaker with the given round length and skip cooldown.
func New(clock clockwork.Clock, roundDuration, skipCooldown time.Duration) *Matchmaker {
	return &Matchmaker{
		clock:         clock,
		roundDuration: roundDuration,
		skipCooldown:  skipCooldown,
		byID:          make(map[string]*Participant),
		byName:        make(map[string]*Participant),
		queued:        make(map[string]bool),
		conversations: make(map[string]*Conversation),
		convByUser:    make(map[string]*Conversation),
	}
}

// CreateParticipant registers a new anonymous participant and places them in
// the waiting queue.
func (m *Matchmaker) CreateParticipant() *Participant {
	id, _ := gonanoid.New()
	p := &Participant{ID: id}

	m.mu.Lock()
	m.byID[p.ID] = p
	m.enqueueLocked(p)
	m.mu.Unlock()

	log.Info().Str("participant_id", p.ID).Msg("participant created and queued")
	m.TryPair()
	return p
}

// Get looks up a participant by id.
func (m *Matchmaker) Get(id string) (*Participant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	return p, ok
}

// GetByName looks up a registered participant.
func (m *Matchmaker) GetByName(username string) (*Participant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byName[username]
	return p, ok
}

// Register claims a unique username for the participant so the identity
// survives past the anonymous session.
func (m *Matchmaker) Register(p *Participant, username, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[username]; exists {
		return ErrUsernameTaken
	}
	p.Username = username
	p.PasswordHash = passwordHash
	m.byName[username] = p
	return nil
}

// Attach binds a live connection to the participant. If a round started
// while the participant was still connecting, the paired event is delivered
// immediately so it is never lost to the connect race.
func (m *Matchmaker) Attach(id string, s Sender) error {
	m.mu.Lock()
	p, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownParticipant
	}
	p.sender = s

	var pending *protocol.Event
	if conv, active := m.convByUser[id]; active {
		ev := protocol.NewPairedEvent(conv.ID, conv.ExpiresAt)
		pending = &ev
	} else {
		m.enqueueLocked(p)
	}
	m.mu.Unlock()

	if pending != nil {
		m.deliver(p, *pending)
	}
	m.TryPair()
	return nil
}

// Detach drops the participant's connection. They stay queued; pairing that
// lands while detached is delivered on the next Attach.
func (m *Matchmaker) Detach(id string) {
	m.mu.Lock()
	if p, ok := m.byID[id]; ok {
		p.sender = nil
	}
	m.mu.Unlock()
}

// Skip abandons the participant's current round (if any) and re-queues them.
// Rapid repeats inside the cooldown window are throttled.
func (m *Matchmaker) Skip(id string) error {
	m.mu.Lock()
	p, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownParticipant
	}
	now := m.clock.Now()
	if now.Sub(p.lastSkip) < m.skipCooldown {
		m.mu.Unlock()
		log.Warn().Str("participant_id", id).Msg("skip throttled")
		return ErrSkipThrottled
	}
	p.lastSkip = now

	var notify []*Participant
	if conv, active := m.convByUser[id]; active {
		notify = m.endRoundLocked(conv)
	} else {
		m.enqueueLocked(p)
	}
	m.mu.Unlock()

	for _, target := range notify {
		m.deliver(target, protocol.NewTimeUpEvent())
	}
	log.Info().Str("participant_id", id).Msg("participant skipped")
	m.TryPair()
	return nil
}

// Relay fans a chat event out to the sender's partner. Events for a
// conversation the sender is not in are dropped.
func (m *Matchmaker) Relay(id string, ev protocol.Event) {
	if ev.Type != protocol.EventTypeChat {
		log.Warn().Str("type", string(ev.Type)).Msg("non-chat event from client dropped")
		return
	}

	m.mu.Lock()
	conv, active := m.convByUser[id]
	if !active || conv.ID != ev.ConversationID {
		m.mu.Unlock()
		log.Warn().
			Str("participant_id", id).
			Str("conversation_id", ev.ConversationID).
			Msg("chat event outside active conversation dropped")
		return
	}
	partner := conv.partnerOf(id)
	m.mu.Unlock()

	m.deliver(partner, protocol.NewChatEvent(conv.ID, ev.Message, m.clock.Now()))
}

// TryPair matches waiting participants two at a time until fewer than two
// remain. Each match creates a conversation whose deadline timer ends the
// round and re-queues both sides.
func (m *Matchmaker) TryPair() {
	for {
		m.mu.Lock()
		if len(m.queue) < 2 {
			m.mu.Unlock()
			return
		}
		a := m.dequeueLocked()
		b := m.dequeueLocked()

		convID, _ := gonanoid.New()
		conv := &Conversation{
			ID:           convID,
			ExpiresAt:    m.clock.Now().Add(m.roundDuration),
			Participants: [2]*Participant{a, b},
		}
		m.conversations[conv.ID] = conv
		m.convByUser[a.ID] = conv
		m.convByUser[b.ID] = conv
		conv.timer = m.clock.AfterFunc(m.roundDuration, func() {
			m.roundExpired(conv.ID)
		})
		m.mu.Unlock()

		log.Info().
			Str("conversation_id", conv.ID).
			Str("participant_a", a.ID).
			Str("participant_b", b.ID).
			Time("expires_at", conv.ExpiresAt).
			Msg("round started")

		ev := protocol.NewPairedEvent(conv.ID, conv.ExpiresAt)
		m.deliver(a, ev)
		m.deliver(b, ev)
	}
}

// ActiveConversation returns the participant's current round, if any.
func (m *Matchmaker) ActiveConversation(id string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convByUser[id]
	return conv, ok
}

func (m *Matchmaker) roundExpired(convID string) {
	m.mu.Lock()
	conv, ok := m.conversations[convID]
	if !ok {
		m.mu.Unlock()
		return
	}
	notify := m.endRoundLocked(conv)
	m.mu.Unlock()

	log.Info().Str("conversation_id", convID).Msg("round deadline reached")
	for _, target := range notify {
		m.deliver(target, protocol.NewTimeUpEvent())
	}
	m.TryPair()
}

// endRoundLocked tears a conversation down and re-queues both participants.
// Returns the participants to notify with time_up once the lock is released.
func (m *Matchmaker) endRoundLocked(conv *Conversation) []*Participant {
	conv.timer.Stop()
	delete(m.conversations, conv.ID)

	notify := make([]*Participant, 0, 2)
	for _, p := range conv.Participants {
		delete(m.convByUser, p.ID)
		m.enqueueLocked(p)
		notify = append(notify, p)
	}
	return notify
}

func (m *Matchmaker) enqueueLocked(p *Participant) {
	if m.queued[p.ID] {
		return
	}
	m.queue = append(m.queue, p)
	m.queued[p.ID] = true
}

func (m *Matchmaker) dequeueLocked() *Participant {
	p := m.queue[0]
	m.queue = m.queue[1:]
	delete(m.queued, p.ID)
	return p
}

func (m *Matchmaker) deliver(p *Participant, ev protocol.Event) {
	m.mu.Lock()
	s := p.sender
	m.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.SendEvent(ev); err != nil {
		log.Warn().Err(err).Str("participant_id", p.ID).Msg("failed to deliver event")
	}
}
