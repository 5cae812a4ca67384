package pairing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaDupras/knock-knock/internal/pairing"
	"github.com/JoshuaDupras/knock-knock/internal/protocol"
	"github.com/JoshuaDupras/knock-knock/internal/session"
)

// fakeBackend is a minimal REST+WS stand-in for the matchmaking server,
// letting tests script exactly what the channel does per connection.
type fakeBackend struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	acquireStatus atomic.Int32
	skipCalls     atomic.Int32
	wsConns       atomic.Int32
	// onConn scripts each websocket connection, keyed by connection ordinal
	// (1-based). Returning closes the connection.
	onConn func(n int, conn *websocket.Conn)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	b.acquireStatus.Store(http.StatusCreated)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/anonymous", func(w http.ResponseWriter, _ *http.Request) {
		status := int(b.acquireStatus.Load())
		if status != http.StatusCreated {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(protocol.ErrorBody{Error: "rejected"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(protocol.AnonymousSessionResponse{
			Token:            "tok",
			WebsocketURL:     "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws/chat",
			ExpiresInSeconds: 300,
		})
	})
	mux.HandleFunc("POST /session/skip", func(w http.ResponseWriter, _ *http.Request) {
		b.skipCalls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(protocol.ErrorBody{Error: "skip_rate_limited", RetryAfterSeconds: 10})
	})
	mux.HandleFunc("GET /ws/chat", func(w http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := int(b.wsConns.Add(1))
		if b.onConn != nil {
			b.onConn(n, conn)
		}
		conn.Close()
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) newClient(t *testing.T, backoff pairing.BackoffPolicy) *pairing.Client {
	t.Helper()
	client, err := pairing.NewClient(pairing.Config{
		Acquirer:     session.NewAcquirer(b.srv.URL, 5*time.Second, zerolog.Nop()),
		Backoff:      backoff,
		TickInterval: 20 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func fastBackoff() pairing.BackoffPolicy {
	return pairing.BackoffPolicy{Base: 20 * time.Millisecond, Cap: 40 * time.Millisecond, MaxAttempts: 4}
}

func keepOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestStartSurfacesAuthFailure(t *testing.T) {
	b := newFakeBackend(t)
	b.acquireStatus.Store(http.StatusForbidden)
	client := b.newClient(t, fastBackoff())

	err := client.Start(context.Background())

	var authErr *session.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestClientReconnectsAfterChannelDrop(t *testing.T) {
	b := newFakeBackend(t)
	b.onConn = func(n int, conn *websocket.Conn) {
		if n == 1 {
			return // drop the first connection immediately
		}
		keepOpen(conn)
	}
	client := b.newClient(t, fastBackoff())
	require.NoError(t, client.Start(context.Background()))

	require.Eventually(t, func() bool {
		return b.wsConns.Load() >= 2 && client.Snapshot().Phase == pairing.PhaseUnpaired
	}, 5*time.Second, 20*time.Millisecond, "client never re-established the channel")
}

func TestClientPairedConversationAbandonedOnDrop(t *testing.T) {
	b := newFakeBackend(t)
	b.onConn = func(n int, conn *websocket.Conn) {
		if n == 1 {
			ev := protocol.NewPairedEvent("round-1", time.Now().Add(time.Minute))
			_ = conn.WriteJSON(ev)
			time.Sleep(100 * time.Millisecond)
			return // then drop while paired
		}
		keepOpen(conn)
	}
	client := b.newClient(t, fastBackoff())
	require.NoError(t, client.Start(context.Background()))

	require.Eventually(t, func() bool {
		return client.Snapshot().Phase == pairing.PhasePaired
	}, 5*time.Second, 10*time.Millisecond)

	// The drop abandons the round and the reconnect lands back in waiting.
	require.Eventually(t, func() bool {
		s := client.Snapshot()
		return s.Phase == pairing.PhaseUnpaired && s.Conversation == nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, b.wsConns.Load(), int32(2))
}

func TestClientGivesUpAfterRetryBudget(t *testing.T) {
	b := newFakeBackend(t)
	b.onConn = func(int, *websocket.Conn) {} // every connection drops at once
	client := b.newClient(t, pairing.BackoffPolicy{
		Base: 10 * time.Millisecond, Cap: 20 * time.Millisecond, MaxAttempts: 2,
	})
	require.NoError(t, client.Start(context.Background()))

	require.Eventually(t, func() bool {
		return client.Snapshot().WaitingText == "Connection lost"
	}, 5*time.Second, 10*time.Millisecond, "client never exhausted its retries")

	conns := b.wsConns.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, conns, b.wsConns.Load(), "no dials after giving up")
}

func TestRequestSkipIsFireAndForget(t *testing.T) {
	b := newFakeBackend(t)
	b.onConn = func(_ int, conn *websocket.Conn) { keepOpen(conn) }
	client := b.newClient(t, fastBackoff())
	require.NoError(t, client.Start(context.Background()))

	before := client.Snapshot()

	// Two rapid skips: the state machine must not gate them, and the 429
	// responses must leave state untouched.
	client.RequestSkip()
	client.RequestSkip()

	require.Eventually(t, func() bool {
		return b.skipCalls.Load() == 2
	}, 5*time.Second, 10*time.Millisecond, "each skip issues one REST call")

	after := client.Snapshot()
	assert.Equal(t, before.Phase, after.Phase)
	assert.Equal(t, len(before.Messages), len(after.Messages))
}

func TestCloseStopsReconnects(t *testing.T) {
	b := newFakeBackend(t)
	b.onConn = func(_ int, conn *websocket.Conn) { keepOpen(conn) }
	client := b.newClient(t, fastBackoff())
	require.NoError(t, client.Start(context.Background()))

	client.Close()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), b.wsConns.Load(), "close must not trigger a reconnect dial")
}
