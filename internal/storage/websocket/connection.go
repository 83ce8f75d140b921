package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/OCAP2/markersync/internal/logging"
	"github.com/OCAP2/markersync/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	sendChSize   = 256
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine.
// Replies are routed to the waiting caller by request id.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	stop    chan struct{} // closed when conn is replaced
	sendCh  chan []byte
	pending map[string]chan streaming.Reply
	done    chan struct{} // closed on shutdown
	closed  bool

	wsURL  string
	secret string

	// first reconnect delay, shortened in tests
	backoff time.Duration

	logger logging.Logger
}

func newConnection(logger logging.Logger) *connection {
	return &connection{
		sendCh:  make(chan []byte, sendChSize),
		pending: make(map[string]chan streaming.Reply),
		done:    make(chan struct{}),
		backoff: time.Second,
		logger:  logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	if !c.start(conn) {
		return fmt.Errorf("connection closed")
	}
	return nil
}

// start installs conn and runs its read/write loops. Returns false, closing
// conn, when the connection was shut down meanwhile.
func (c *connection) start(conn *ws.Conn) bool {
	stop := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.stop = stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)
	return true
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh and writes messages to conn.
// Only one writeLoop runs at a time; it returns on error or shutdown.
func (c *connection) writeLoop(conn *ws.Conn, stop <-chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop reads replies from the server and hands them to the waiting caller.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var reply streaming.Reply
		if err := json.Unmarshal(message, &reply); err != nil || reply.ID == "" {
			c.logger.Debug("Unexpected message received", "raw", string(message))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.ID]
		delete(c.pending, reply.ID)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("Reply without pending request, dropping", "for", reply.For, "id", reply.ID)
			continue
		}
		ch <- reply // buffered, never blocks
	}
}

// reconnect replaces a broken connection with exponential backoff. Both loops
// may report the same failure; only the first call for a given conn acts.
func (c *connection) reconnect(broken *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != broken {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	close(c.stop)
	backoff := c.backoff
	c.mu.Unlock()

	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		if c.start(conn) {
			c.logger.Info("WebSocket reconnected", "attempt", attempt)
		}
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// request sends data tagged with id and blocks until the matching reply
// arrives or ctx ends.
func (c *connection) request(ctx context.Context, id string, data []byte) (streaming.Reply, error) {
	ch := make(chan streaming.Reply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return streaming.Reply{}, fmt.Errorf("connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case c.sendCh <- data:
	case <-ctx.Done():
		return streaming.Reply{}, fmt.Errorf("send request %s: %w", id, ctx.Err())
	case <-c.done:
		return streaming.Reply{}, fmt.Errorf("connection closed")
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return streaming.Reply{}, fmt.Errorf("waiting for reply to %s: %w", id, ctx.Err())
	case <-c.done:
		return streaming.Reply{}, fmt.Errorf("connection closed while waiting for reply to %s", id)
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		// WriteControl may run concurrently with an in-progress writeLoop write
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
