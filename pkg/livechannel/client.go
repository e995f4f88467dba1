package livechannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/retry"
	"chatsync/pkg/livechannel/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// ConnectionState is the health state of the live channel.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// SessionProvider supplies identity and credentials for the handshake.
type SessionProvider interface {
	CurrentUserID() string
	AuthToken() string
}

// Options configures a live channel client.
type Options struct {
	URL               string
	Session           SessionProvider
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatGrace    time.Duration
	Logger            *logrus.Logger

	// OnEvent receives every decoded envelope except heartbeat pongs.
	OnEvent func(env types.Envelope)
	// OnStateChange fires on every connection state transition.
	OnStateChange func(state ConnectionState)
}

// Client maintains a websocket session against the push channel,
// reconnecting forever with jittered exponential backoff. Missed
// heartbeats degrade the connection before tearing it down, and each
// successful connect re-issues the room subscriptions.
type Client struct {
	opts    Options
	logger  *logrus.Logger
	backoff *retry.Backoff

	mu            sync.Mutex
	state         ConnectionState
	conn          *websocket.Conn
	subscriptions map[string]struct{}
	lastPong      time.Time
}

func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Client{
		opts:   opts,
		logger: opts.Logger,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: opts.ReconnectBase,
			MaxDelay:     opts.ReconnectMax,
			Multiplier:   2.0,
			MaxAttempts:  1, // NextDelay only; the reconnect loop is unbounded
			Jitter:       true,
		}),
		state:         StateDisconnected,
		subscriptions: make(map[string]struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.logger.WithField("state", s.String()).Debug("Live channel state changed")
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

// Subscribe registers interest in a conversation room. When connected,
// the subscription is sent immediately; it is replayed on every
// reconnect regardless.
func (c *Client) Subscribe(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	c.subscriptions[conversationID] = struct{}{}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil // replayed on connect
	}
	return c.writeEnvelope(ctx, conn, types.EventSubscribe, conversationID, types.SubscribePayload{
		ConversationID: conversationID,
	})
}

// Unsubscribe drops interest in a conversation room.
func (c *Client) Unsubscribe(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, conversationID)
}

// Send writes an envelope to the live channel. It fails immediately
// when the channel is not connected; callers fall back to the HTTP
// transport.
func (c *Client) Send(ctx context.Context, event, convID string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || state != StateConnected {
		return fmt.Errorf("live channel not connected (state %s)", state)
	}
	return c.writeEnvelope(ctx, conn, event, convID, payload)
}

func (c *Client) writeEnvelope(ctx context.Context, conn *websocket.Conn, event, convID string, payload interface{}) error {
	env := types.Envelope{
		V:      types.Version,
		Event:  event,
		ConvID: convID,
		TS:     time.Now().UTC(),
	}
	if payload != nil {
		raw, err := marshalPayload(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	return wsjson.Write(ctx, conn, env)
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
// Retries never give up: the product property is eventual consistency,
// not best effort once.
func (c *Client) Run(ctx context.Context) {
	attempt := 1
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateConnecting)
		connected, err := c.runSession(ctx)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		if connected {
			// A healthy session restarts the backoff schedule; only
			// consecutive failed dials escalate the delay.
			attempt = 1
		}

		delay := c.backoff.NextDelay(attempt)
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("Live channel session ended, reconnecting")
		c.setState(StateReconnecting)
		attempt++

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

// runSession dials, handshakes, replays subscriptions and reads until
// the connection fails or the heartbeat window lapses. The bool
// reports whether the session reached the connected state.
func (c *Client) runSession(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "session ended") }()

	sessionCtx, cancelSession := context.WithCancel(ctx)
	defer cancelSession()

	if err := c.writeEnvelope(sessionCtx, conn, types.EventHello, "", types.HelloPayload{
		UserID: c.opts.Session.CurrentUserID(),
		Token:  c.opts.Session.AuthToken(),
	}); err != nil {
		return false, fmt.Errorf("handshake write failed: %w", err)
	}

	var ack types.Envelope
	if err := wsjson.Read(sessionCtx, conn, &ack); err != nil {
		return false, fmt.Errorf("handshake read failed: %w", err)
	}
	if types.CanonicalEvent(ack.Event) == types.EventError {
		return false, fmt.Errorf("handshake rejected: %s", string(ack.Payload))
	}

	c.mu.Lock()
	c.conn = conn
	c.lastPong = time.Now()
	subs := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		subs = append(subs, id)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.setState(StateConnected)

	for _, id := range subs {
		if err := c.writeEnvelope(sessionCtx, conn, types.EventSubscribe, id, types.SubscribePayload{ConversationID: id}); err != nil {
			return true, fmt.Errorf("resubscribe failed: %w", err)
		}
	}

	heartbeatErr := make(chan error, 1)
	go c.heartbeatLoop(sessionCtx, conn, heartbeatErr)

	readErr := make(chan error, 1)
	go func() {
		for {
			var env types.Envelope
			if err := wsjson.Read(sessionCtx, conn, &env); err != nil {
				readErr <- err
				return
			}
			c.handleEnvelope(env)
		}
	}()

	select {
	case <-sessionCtx.Done():
		return true, sessionCtx.Err()
	case err := <-heartbeatErr:
		return true, err
	case err := <-readErr:
		return true, err
	}
}

func (c *Client) handleEnvelope(env types.Envelope) {
	if types.CanonicalEvent(env.Event) == types.EventPong {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		if c.State() == StateDegraded {
			c.setState(StateConnected)
		}
		return
	}
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(env)
	}
}

// heartbeatLoop pings on the configured interval. A missed pong first
// degrades the connection; a second full grace window without traffic
// tears the session down so the reconnect loop can take over.
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn, out chan<- error) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeEnvelope(ctx, conn, types.EventPing, "", nil); err != nil {
				out <- fmt.Errorf("heartbeat write failed: %w", err)
				return
			}

			c.mu.Lock()
			silence := time.Since(c.lastPong)
			c.mu.Unlock()

			grace := c.opts.HeartbeatInterval + c.opts.HeartbeatGrace
			switch {
			case silence > 2*grace:
				out <- fmt.Errorf("heartbeat lost for %s", silence)
				return
			case silence > grace:
				c.setState(StateDegraded)
			}
		}
	}
}
