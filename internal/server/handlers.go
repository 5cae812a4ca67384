package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoshuaDupras/knock-knock/internal/matchmaker"
	"github.com/JoshuaDupras/knock-knock/internal/protocol"
)

// handleAnonymousSession issues a fresh anonymous session and queues the
// participant for pairing.
func (s *Server) handleAnonymousSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.AnonymousSessionRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
	}

	p := s.matchmaker.CreateParticipant()
	token, err := s.issuer.Issue(p.ID, "", s.cfg.AnonTTL())
	if err != nil {
		log.Error().Err(err).Msg("failed to issue session token")
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}

	writeJSON(w, http.StatusCreated, protocol.AnonymousSessionResponse{
		Token:            token,
		WebsocketURL:     s.cfg.PublicWSURL,
		ExpiresInSeconds: s.cfg.AnonTTLSeconds,
	})
}

// handleSkip abandons the caller's current round and re-queues them.
func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	switch err := s.matchmaker.Skip(p.ID); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, matchmaker.ErrSkipThrottled):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(protocol.ErrorBody{
			Error:             "skip_rate_limited",
			RetryAfterSeconds: s.cfg.SkipCooldownSecs,
		})
	default:
		writeError(w, http.StatusInternalServerError, "skip_failed")
	}
}

// handleRegister claims a unique username, upgrading the caller's anonymous
// identity when a valid bearer credential accompanies the request.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	var p *matchmaker.Participant
	if token, ok := bearerToken(r); ok {
		if id, err := s.issuer.Verify(token); err == nil {
			p, _ = s.matchmaker.Get(id)
		}
	}
	if p == nil {
		p = s.matchmaker.CreateParticipant()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash_failed")
		return
	}
	if err := s.matchmaker.Register(p, req.Username, string(hash)); err != nil {
		writeError(w, http.StatusConflict, "username_exists")
		return
	}

	token, err := s.issuer.Issue(p.ID, p.Username, s.cfg.RegisteredTTL())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	log.Info().Str("participant_id", p.ID).Str("username", p.Username).Msg("participant registered")
	writeJSON(w, http.StatusCreated, protocol.AuthResponse{Token: token})
}

// handleLogin authenticates a registered participant by password.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	p, ok := s.matchmaker.GetByName(req.Username)
	if !ok || bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := s.issuer.Issue(p.ID, p.Username, s.cfg.RegisteredTTL())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_issue_failed")
		return
	}
	writeJSON(w, http.StatusOK, protocol.AuthResponse{Token: token})
}

// handleMe returns the caller's identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, protocol.User{ID: p.ID, Username: p.Username})
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.Pong{Pong: "pong"})
}

// authenticate resolves the bearer credential to a participant, writing the
// 401 itself when that fails.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*matchmaker.Participant, bool) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return nil, false
	}
	id, err := s.issuer.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return nil, false
	}
	p, ok := s.matchmaker.Get(id)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown_participant")
		return nil, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, protocol.ErrorBody{Error: code})
}
