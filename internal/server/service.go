// Package server exposes the matchmaking service over HTTP and WebSocket:
// anonymous session issuance, skip, account registration and the chat
// channel, per the protocol package's wire contract.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/JoshuaDupras/knock-knock/internal/config"
	"github.com/JoshuaDupras/knock-knock/internal/matchmaker"
)

// Server hosts the REST endpoints and the chat WebSocket.
type Server struct {
	cfg        config.ServerConfig
	matchmaker *matchmaker.Matchmaker
	issuer     *TokenIssuer
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New wires a Server around a matchmaker.
func New(cfg config.ServerConfig, mm *matchmaker.Matchmaker, clock clockwork.Clock) *Server {
	return &Server{
		cfg:        cfg,
		matchmaker: mm,
		issuer:     NewTokenIssuer(cfg.JWTSecret, clock),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				// Anonymous chat is served to arbitrary web origins.
				return true
			},
		},
	}
}

// Handler builds the full HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/anonymous", s.handleAnonymousSession)
	mux.HandleFunc("POST /session/skip", s.handleSkip)
	mux.HandleFunc("POST /account/register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /me", s.handleMe)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /ws/chat", s.handleChatSocket)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(mux)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("matchmaking server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
