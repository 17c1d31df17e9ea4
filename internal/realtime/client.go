package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State tracks the client connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

var ErrClientClosed = errors.New("realtime: client closed")

// ClientConfig bounds the reconnect behavior. Reconnect attempts back off
// exponentially from BaseDelay up to MaxDelay and give up after MaxAttempts
// consecutive failures.
type ClientConfig struct {
	URL         string
	Token       string
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (c *ClientConfig) withDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
}

// Client maintains a WebSocket subscription to the event hub and replays
// authentication and document subscriptions after a reconnect.
type Client struct {
	cfg ClientConfig

	events chan Envelope
	done   chan struct{}

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	docs  map[string]struct{}

	// writeMu serializes frame writes. gorilla/websocket permits a single
	// concurrent writer, and Subscribe/Unsubscribe race with the
	// resubscription replay after a reconnect.
	writeMu sync.Mutex
}

func (c *Client) send(conn *websocket.Conn, envelope Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(envelope)
}

func NewClient(cfg ClientConfig) *Client {
	cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		events: make(chan Envelope, 64),
		done:   make(chan struct{}),
		state:  StateDisconnected,
		docs:   make(map[string]struct{}),
	}
}

// Events delivers hub events and lifecycle notices to the consumer.
func (c *Client) Events() <-chan Envelope {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the hub and starts the read loop. The initial connection is
// not retried; a connection lost later is, with bounded backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	go c.readLoop()
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	if err := c.send(conn, Envelope{Type: msgAuthenticate, Token: c.cfg.Token}); err != nil {
		conn.Close()
		return fmt.Errorf("authenticate: %w", err)
	}
	var ack Envelope
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("read auth ack: %w", err)
	}
	if ack.Type != "authenticated" {
		conn.Close()
		return fmt.Errorf("authentication rejected: %s", ack.Type)
	}

	// Replay subscriptions captured before the connection dropped.
	c.mu.Lock()
	docs := make([]string, 0, len(c.docs))
	for doc := range c.docs {
		docs = append(docs, doc)
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	for _, doc := range docs {
		if err := c.send(conn, Envelope{Type: msgSubscribe, DocumentID: doc}); err != nil {
			conn.Close()
			return fmt.Errorf("resubscribe %s: %w", doc, err)
		}
	}
	return nil
}

// Subscribe watches a document. The subscription survives reconnects.
func (c *Client) Subscribe(documentID string) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.docs[documentID] = struct{}{}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.send(conn, Envelope{Type: msgSubscribe, DocumentID: documentID})
}

func (c *Client) Unsubscribe(documentID string) error {
	c.mu.Lock()
	delete(c.docs, documentID)
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.send(conn, Envelope{Type: msgUnsubscribe, DocumentID: documentID})
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			conn.Close()
			if c.closedOrClosing() {
				return
			}
			c.setState(StateDisconnected)
			if !c.reconnect() {
				c.emit(Envelope{Type: "connection_lost"})
				close(c.events)
				return
			}
			continue
		}
		c.emit(envelope)
	}
}

// reconnect retries with exponential backoff. Returns false once the
// attempt budget is spent or the client is closed.
func (c *Client) reconnect() bool {
	delay := c.cfg.BaseDelay
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		c.setState(StateConnecting)
		if err := c.dial(context.Background()); err != nil {
			log.Printf("realtime: reconnect attempt %d/%d failed: %v", attempt, c.cfg.MaxAttempts, err)
			c.setState(StateDisconnected)
			delay = nextDelay(delay, c.cfg.MaxDelay)
			continue
		}
		c.emit(Envelope{Type: "reconnected"})
		return true
	}
	return false
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = state
	}
	c.mu.Unlock()
}

func (c *Client) closedOrClosing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) emit(envelope Envelope) {
	select {
	case c.events <- envelope:
	default:
	}
}
