// Package push maintains the reconnecting event-stream connection and routes
// typed envelopes to subscribers.
package push

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
)

var DefaultDialer = &websocket.Dialer{
	Proxy:            websocket.DefaultDialer.Proxy,
	HandshakeTimeout: 10 * time.Second,
}

type Config struct {
	URL                  string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

type subscription struct {
	handler Handler
}

// Client is a single push channel connection. Connect starts a background
// loop that dials, reads and reconnects; Disconnect stops it from any state.
type Client struct {
	logger *zap.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	url      string
	delay    time.Duration
	maxTries int
	state    State
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}

	writeMu sync.Mutex

	subsMu   sync.RWMutex
	handlers map[string][]*subscription

	listenersMu sync.Mutex
	listeners   map[int]func(State)
	nextID      int
}

func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return &Client{
		logger:    logger,
		dialer:    DefaultDialer,
		url:       cfg.URL,
		delay:     cfg.ReconnectDelay,
		maxTries:  cfg.MaxReconnectAttempts,
		state:     StateDisconnected,
		handlers:  make(map[string][]*subscription),
		listeners: make(map[int]func(State)),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetURL changes the endpoint used by the next dial.
func (c *Client) SetURL(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

// Connect starts the connection loop. It is a no-op while a loop is already
// running, and resets the attempt counter otherwise.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go c.run(ctx, done)
}

// Disconnect stops the loop at any state, including mid-delay, and waits for
// it to exit. It must not be called from a subscriber.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Send writes an envelope to the channel. When not connected it logs a
// warning and drops the envelope.
func (c *Client) Send(envelope Envelope) {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		c.logger.Warn("push: send skipped, channel not connected",
			zap.String("type", envelope.Type), zap.Stringer("state", state))
		return
	}
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = time.Now().UTC()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(envelope); err != nil {
		c.logger.Warn("push: send failed", zap.String("type", envelope.Type), zap.Error(err))
	}
}

// Subscribe registers handler for eventType and returns a function removing
// that registration. Registering an identical comparable handler twice for
// the same type keeps a single registration.
func (c *Client) Subscribe(eventType string, handler Handler) func() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, existing := range c.handlers[eventType] {
		if sameHandler(existing.handler, handler) {
			return c.unsubscriber(eventType, existing)
		}
	}
	sub := &subscription{handler: handler}
	c.handlers[eventType] = append(c.handlers[eventType], sub)
	return c.unsubscriber(eventType, sub)
}

func (c *Client) unsubscriber(eventType string, sub *subscription) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			subs := c.handlers[eventType]
			for i, candidate := range subs {
				if candidate == sub {
					subs = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(subs) == 0 {
				delete(c.handlers, eventType)
				return
			}
			c.handlers[eventType] = subs
		})
	}
}

// OnStateChange registers a listener called after every state transition.
func (c *Client) OnStateChange(fn func(State)) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
			c.done = nil
		}
		changed := c.state != StateDisconnected
		c.state = StateDisconnected
		c.mu.Unlock()
		if changed {
			c.notify(StateDisconnected)
		}
		close(done)
	}()

	failures := 0
	for {
		c.transitionTo(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.logger.Warn("push: connect failed",
				zap.Int("attempt", failures), zap.Int("max_attempts", c.maxTries), zap.Error(err))
			if failures >= c.maxTries {
				c.logger.Warn("push: giving up until the next explicit connect")
				return
			}
			c.transitionTo(StateReconnecting)
			if !c.wait(ctx) {
				return
			}
			continue
		}

		failures = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.transitionTo(StateConnected)

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-stop:
			}
		}()
		c.readLoop(conn)
		close(stop)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.transitionTo(StateReconnecting)
		if !c.wait(ctx) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.URL(), nil)
	return conn, err
}

func (c *Client) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("push: connection closed", zap.Error(err))
			}
			return
		}
		envelope, err := parseEnvelope(data)
		if err != nil {
			c.logger.Warn("push: malformed message dropped", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		c.dispatch(envelope)
	}
}

func (c *Client) dispatch(envelope Envelope) {
	c.subsMu.RLock()
	subs := append([]*subscription(nil), c.handlers[envelope.Type]...)
	c.subsMu.RUnlock()

	for _, sub := range subs {
		c.invoke(sub.handler, envelope)
	}
}

func (c *Client) invoke(handler Handler, envelope Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("push: handler panicked", zap.String("type", envelope.Type), zap.Any("panic", r))
		}
	}()
	handler.HandleEvent(envelope)
}

func (c *Client) transitionTo(next State) {
	c.mu.Lock()
	if err := c.state.validateTransitionTo(next); err != nil {
		c.mu.Unlock()
		c.logger.Error("BUG: push client state transition rejected", zap.Error(err))
		return
	}
	changed := c.state != next
	c.state = next
	c.mu.Unlock()

	if !changed {
		return
	}
	c.notify(next)
}

func (c *Client) notify(next State) {
	c.logger.Debug("push: state transitioned", zap.Stringer("state", next))

	c.listenersMu.Lock()
	listeners := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}
}
