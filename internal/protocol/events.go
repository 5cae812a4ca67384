package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates the JSON events exchanged over the chat channel.
type EventType string

const (
	EventTypePaired EventType = "paired"
	EventTypeTimeUp EventType = "time_up"
	EventTypeChat   EventType = "chat"
)

// Event is the wire shape for every channel message, inbound and outbound.
// Fields beyond Type are populated depending on the event type:
//
//	paired:  ConversationID, ExpiresAt
//	time_up: (none)
//	chat:    ConversationID, Message, Timestamp
type Event struct {
	Type           EventType  `json:"type"`
	ConversationID string     `json:"conversationId,omitempty"`
	Message        string     `json:"message,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// NewChatEvent builds an outbound chat event stamped with the given issue time.
func NewChatEvent(conversationID, message string, at time.Time) Event {
	ts := at.UTC()
	return Event{
		Type:           EventTypeChat,
		ConversationID: conversationID,
		Message:        message,
		Timestamp:      &ts,
	}
}

// NewPairedEvent builds the server-side pairing notification. ExpiresAt is
// mandatory on the wire; the client discards paired events without it.
func NewPairedEvent(conversationID string, expiresAt time.Time) Event {
	exp := expiresAt.UTC()
	return Event{
		Type:           EventTypePaired,
		ConversationID: conversationID,
		ExpiresAt:      &exp,
	}
}

// NewTimeUpEvent builds the round-ended notification.
func NewTimeUpEvent() Event {
	return Event{Type: EventTypeTimeUp}
}

// ParseEvent decodes a raw channel frame into an Event. Unknown event types
// decode successfully and are left to the consumer to discard; a frame that
// is not a JSON object is an error.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to parse channel event: %w", err)
	}
	return ev, nil
}
