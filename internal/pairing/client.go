package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/JoshuaDupras/knock-knock/internal/protocol"
	"github.com/JoshuaDupras/knock-knock/internal/session"
	"github.com/JoshuaDupras/knock-knock/internal/transport"
)

// Config configures a pairing Client.
type Config struct {
	// Acquirer obtains sessions and issues skip requests. Required.
	Acquirer *session.Acquirer
	// DisplayName is sent with the anonymous session request. Optional.
	DisplayName string
	// OnState, when set, receives a snapshot after every observable change.
	OnState func(State)
	// Clock defaults to the real clock; tests inject a fake.
	Clock clockwork.Clock
	// Backoff defaults to DefaultBackoff.
	Backoff BackoffPolicy
	// BannerDuration defaults to DefaultBannerDuration.
	BannerDuration time.Duration
	// TickInterval defaults to one second.
	TickInterval time.Duration
	Logger       zerolog.Logger
}

// Client wires the session acquirer, channel transport and pairing machine
// together: it owns the countdown ticker, the reconnect schedule and the
// single live channel, and serializes every machine transition behind one
// mutex so that channel callbacks, ticks and user intents never interleave.
type Client struct {
	acquirer    *session.Acquirer
	displayName string
	clock       clockwork.Clock
	policy      BackoffPolicy
	tick        time.Duration
	onState     func(State)
	logger      zerolog.Logger

	mu             sync.Mutex
	machine        *Machine
	sess           *session.Session
	channel        *transport.Channel
	attempt        int
	reconnectTimer clockwork.Timer
	closed         bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient validates the config and builds a Client. Call Start to connect.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Acquirer == nil {
		return nil, fmt.Errorf("acquirer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	return &Client{
		acquirer:    cfg.Acquirer,
		displayName: cfg.DisplayName,
		clock:       cfg.Clock,
		policy:      cfg.Backoff,
		tick:        cfg.TickInterval,
		onState:     cfg.OnState,
		logger:      cfg.Logger,
		machine:     NewMachine(cfg.BannerDuration, cfg.Logger),
	}, nil
}

// Start acquires a session, opens the channel and begins ticking. Only
// acquisition errors surface here (an *session.AuthError means "return to
// start"); everything after Start is handled internally by reconnecting.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	sess, err := c.acquirer.Acquire(c.ctx, c.displayName)
	if err != nil {
		c.cancel()
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	if err := c.dial(); err != nil {
		c.cancel()
		return &session.NetworkError{Op: "dial", Err: err}
	}

	go c.runTicker()
	return nil
}

// Snapshot returns the current observable state.
func (c *Client) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Snapshot()
}

// SendChat sends a chat message in the active conversation. Outside the
// Paired phase, or with blank text, it is a silent no-op.
func (c *Client) SendChat(text string) {
	c.mu.Lock()
	ev, ok := c.machine.ComposeChat(text, c.clock.Now())
	ch := c.channel
	c.mu.Unlock()

	if !ok {
		return
	}
	if ch != nil {
		if err := ch.Send(ev); err != nil {
			c.logger.Warn().Err(err).Msg("failed to send chat message")
		}
	}
	c.emit()
}

// RequestSkip asks the server to re-queue this participant. It is
// fire-and-forget: valid in any phase, never throttled locally, and a
// rejection (e.g. 429) changes no client state.
func (c *Client) RequestSkip() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}

	go func() {
		err := c.acquirer.Skip(c.ctx, sess)
		var rl *session.RateLimitError
		switch {
		case err == nil:
		case errors.As(err, &rl):
			c.logger.Info().Int("retry_after_seconds", rl.RetryAfterSeconds).Msg("skip throttled")
		case errors.Is(err, context.Canceled):
		default:
			c.logger.Warn().Err(err).Msg("skip request failed")
		}
	}()
}

// Close releases the channel, the countdown ticker and any pending reconnect
// timer together, so nothing fires for a torn-down client.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if ch != nil {
		ch.Close()
	}
}

func (c *Client) dial() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	ch, err := transport.Dial(c.ctx, sess.ChannelURL, sess.Token, transport.Callbacks{
		OnOpen:    c.handleOpen,
		OnMessage: c.handleMessage,
		OnClose:   c.handleClose,
	}, c.logger)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	return nil
}

func (c *Client) runTicker() {
	ticker := c.clock.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.Chan():
			c.mu.Lock()
			c.machine.Tick(now)
			c.mu.Unlock()
			c.emit()
		}
	}
}

func (c *Client) handleOpen() {
	c.mu.Lock()
	c.attempt = 0
	c.machine.ChannelOpened()
	c.mu.Unlock()
	c.emit()
}

func (c *Client) handleMessage(data []byte) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("malformed channel event discarded")
		return
	}

	c.mu.Lock()
	c.machine.HandleEvent(ev, c.clock.Now())
	c.mu.Unlock()
	c.emit()
}

func (c *Client) handleClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.machine.ChannelClosed()
	c.channel = nil
	c.mu.Unlock()
	c.emit()

	c.scheduleReconnect()
}

// scheduleReconnect arms the next attempt per the backoff policy. The
// previous channel is already gone by the time this runs, so a new dial
// never races a live handle.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempt++
	delay, ok := c.policy.Delay(c.attempt)
	if !ok {
		c.machine.ReconnectExhausted()
		c.mu.Unlock()
		c.logger.Error().Int("attempts", c.attempt-1).Msg("reconnect attempts exhausted")
		c.emit()
		return
	}
	c.logger.Info().Int("attempt", c.attempt).Dur("delay", delay).Msg("reconnect scheduled")
	c.reconnectTimer = c.clock.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.machine.ReconnectStarted()
	sess := c.sess
	c.mu.Unlock()
	c.emit()

	// An expired credential cannot open the channel; supersede the session
	// before dialing. The old Session value is discarded, never mutated.
	if sess.Expired(c.clock.Now()) {
		fresh, err := c.acquirer.Acquire(c.ctx, c.displayName)
		if err != nil {
			c.logger.Warn().Err(err).Msg("session re-acquisition failed")
			c.scheduleReconnect()
			return
		}
		c.mu.Lock()
		c.sess = fresh
		c.mu.Unlock()
	}

	if err := c.dial(); err != nil {
		c.logger.Warn().Err(err).Msg("reconnect dial failed")
		c.scheduleReconnect()
	}
}

func (c *Client) emit() {
	if c.onState == nil {
		return
	}
	c.mu.Lock()
	snap := c.machine.Snapshot()
	c.mu.Unlock()
	c.onState(snap)
}
