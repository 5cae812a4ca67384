package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Callbacks receive channel lifecycle signals. All callbacks for one channel
// are invoked from a single goroutine, in order: OnOpen first, then zero or
// more OnMessage, then optionally OnError, then exactly one OnClose. After
// OnClose no further callbacks fire for that channel.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Channel is one bidirectional chat connection. A channel is single-use: a
// new pairing attempt dials a new channel rather than reusing a closed one.
type Channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	cb     Callbacks
	logger zerolog.Logger
}

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 4096
)

// Dial opens a channel to the given WebSocket URL, attaching the credential
// as a `token` query parameter. The dial itself is synchronous; delivery of
// OnOpen and subsequent signals happens asynchronously on the channel's
// dispatch goroutine, so callers must not assume delivery before OnOpen.
func Dial(ctx context.Context, rawURL, token string, cb Callbacks, logger zerolog.Logger) (*Channel, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial channel: %w", err)
	}

	ch := &Channel{
		conn:   conn,
		done:   make(chan struct{}),
		cb:     cb,
		logger: logger,
	}
	conn.SetReadLimit(maxMessageSize)

	go ch.readPump()

	return ch, nil
}

// Send marshals v as JSON and writes it to the channel. Concurrent senders
// are serialized; a write failure is returned to the caller and will also
// surface as OnError/OnClose from the read pump.
func (c *Channel) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write channel event: %w", err)
	}
	return nil
}

// Close tears the channel down. It is safe to call multiple times and safe to
// call from callbacks. Once Close returns, the read pump is winding down and
// no OnMessage will be delivered after the OnClose signal.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		deadline := time.Now().Add(writeTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()

		_ = c.conn.Close()
	})
}

// readPump is the channel's dispatch goroutine: every callback fires from
// here, which gives per-channel ordering without locks on the consumer side.
func (c *Channel) readPump() {
	defer func() {
		c.Close()
		if c.cb.OnClose != nil {
			c.cb.OnClose()
		}
	}()

	if c.cb.OnOpen != nil {
		c.cb.OnOpen()
	}

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Local close; not an error.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn().Err(err).Msg("channel read failed")
					if c.cb.OnError != nil {
						c.cb.OnError(err)
					}
				}
			}
			return
		}
		if c.cb.OnMessage != nil {
			c.cb.OnMessage(message)
		}
	}
}
