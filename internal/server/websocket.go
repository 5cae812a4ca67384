package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/JoshuaDupras/knock-knock/internal/protocol"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 4096
)

// wsSender adapts one websocket connection to the matchmaker's Sender.
// Writes are serialized because pairing timers and the relay loop can both
// target the same participant.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSender) SendEvent(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(ev)
}

// handleChatSocket upgrades the connection, binds it to the participant and
// relays inbound chat events until the client disconnects. The credential
// travels as a `token` query parameter because browser WebSocket clients
// cannot set headers.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	participantID, err := s.issuer.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade chat connection")
		return
	}

	connID := uuid.New().String()
	sender := &wsSender{conn: conn}
	if err := s.matchmaker.Attach(participantID, sender); err != nil {
		log.Warn().Err(err).Str("participant_id", participantID).Msg("attach rejected")
		_ = conn.Close()
		return
	}

	log.Info().
		Str("connection_id", connID).
		Str("participant_id", participantID).
		Msg("chat connection established")

	defer func() {
		s.matchmaker.Detach(participantID)
		_ = conn.Close()
		log.Info().
			Str("connection_id", connID).
			Str("participant_id", participantID).
			Msg("chat connection closed")
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	for {
		var ev protocol.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().
					Err(err).
					Str("connection_id", connID).
					Msg("chat connection read failed")
			}
			return
		}
		s.matchmaker.Relay(participantID, ev)
	}
}
