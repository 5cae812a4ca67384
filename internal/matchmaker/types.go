package matchmaker

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JoshuaDupras/knock-knock/internal/protocol"
)

var (
	// ErrSkipThrottled is returned when a participant skips again inside the
	// cooldown window. Maps to 429 at the HTTP layer.
	ErrSkipThrottled = errors.New("skip throttled")
	// ErrUsernameTaken is returned when registering an already-claimed name.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrUnknownParticipant is returned for an id the matchmaker never issued.
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Sender delivers channel events to one participant's live connection.
type Sender interface {
	SendEvent(ev protocol.Event) error
}

// Participant is one chat user, anonymous until a username is registered.
// All fields beyond the ID are guarded by the matchmaker mutex.
type Participant struct {
	ID           string
	Username     string
	PasswordHash string

	lastSkip time.Time
	sender   Sender
}

// Conversation is one active 1-on-1 round with a server-side deadline.
type Conversation struct {
	ID           string
	ExpiresAt    time.Time
	Participants [2]*Participant

	timer clockwork.Timer
}

func (c *Conversation) partnerOf(id string) *Participant {
	if c.Participants[0].ID == id {
		return c.Participants[1]
	}
	return c.Participants[0]
}
