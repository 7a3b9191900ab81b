package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ChannelStatus is the lifecycle of a dialer-side connection.
type ChannelStatus string

const (
	ChannelClosed     ChannelStatus = "closed"
	ChannelConnecting ChannelStatus = "connecting"
	ChannelOpen       ChannelStatus = "open"
	ChannelErrored    ChannelStatus = "errored"
)

// StatusChange is reported to OnStatus listeners.
type StatusChange struct {
	SessionID string
	Status    ChannelStatus
	Err       error
}

// Channel is a websocket client bound to one session room at a time.
// Close does not notify listeners; only transport-driven transitions do.
type Channel struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *zap.Logger
	group   singleflight.Group

	mu        sync.Mutex
	status    ChannelStatus
	sessionID string
	conn      *connection
	listeners []func(StatusChange)

	writeMu  sync.Mutex
	incoming chan Message
}

type connection struct {
	ws   *websocket.Conn
	done chan struct{}
	wg   sync.WaitGroup
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

// WithChannelLogger sets the logger.
func WithChannelLogger(l *zap.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChannel creates a channel dialing baseURL (ws:// or wss://; http(s) is rewritten).
func NewChannel(baseURL string, opts ...ChannelOption) *Channel {
	c := &Channel{
		baseURL:  strings.TrimRight(baseURL, "/"),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   zap.NewNop(),
		status:   ChannelClosed,
		incoming: make(chan Message, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnStatus registers a listener for transport-driven status changes.
// Listeners run on the channel's goroutines and must not block.
func (c *Channel) OnStatus(fn func(StatusChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Status returns the current status.
func (c *Channel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the session the channel is bound to, if any.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Incoming returns messages received from the room. Messages are dropped when nobody reads.
func (c *Channel) Incoming() <-chan Message {
	return c.incoming
}

// Connect opens the channel for sessionID. Concurrent calls for the same session share one dial;
// calling it while already open for the session is a no-op.
func (c *Channel) Connect(ctx context.Context, sessionID, token string) error {
	if sessionID == "" {
		return &models.ValidationError{Field: "session_id", Reason: "required"}
	}
	c.mu.Lock()
	if c.sessionID == sessionID && c.status == ChannelOpen {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do(sessionID, func() (interface{}, error) {
		return nil, c.dial(ctx, sessionID, token)
	})
	return err
}

func (c *Channel) dial(ctx context.Context, sessionID, token string) error {
	c.mu.Lock()
	if c.sessionID == sessionID && c.status == ChannelOpen {
		c.mu.Unlock()
		return nil
	}
	prev := c.conn
	c.conn = nil
	c.sessionID = sessionID
	c.status = ChannelConnecting
	c.mu.Unlock()

	if prev != nil {
		c.shutdown(prev)
	}
	c.notify(StatusChange{SessionID: sessionID, Status: ChannelConnecting})

	ws, _, err := c.dialer.DialContext(ctx, c.endpoint(sessionID, token), nil)
	if err != nil {
		err = fmt.Errorf("%w: dial %s: %w", models.ErrChannel, sessionID, err)
		c.mu.Lock()
		stale := c.sessionID != sessionID || c.status != ChannelConnecting
		if !stale {
			c.status = ChannelErrored
		}
		c.mu.Unlock()
		if !stale {
			c.notify(StatusChange{SessionID: sessionID, Status: ChannelErrored, Err: err})
		}
		return err
	}

	conn := &connection{ws: ws, done: make(chan struct{})}
	c.mu.Lock()
	if c.sessionID != sessionID || c.status != ChannelConnecting {
		// closed or retargeted while dialing
		c.mu.Unlock()
		_ = ws.Close()
		return fmt.Errorf("%w: connect to %s abandoned", models.ErrChannel, sessionID)
	}
	c.conn = conn
	c.status = ChannelOpen
	conn.wg.Add(2)
	go c.readPump(conn, sessionID)
	go c.pingPump(conn)
	c.mu.Unlock()

	c.logger.Info("channel open", zap.String("session_id", sessionID))
	c.notify(StatusChange{SessionID: sessionID, Status: ChannelOpen})
	return nil
}

func (c *Channel) endpoint(sessionID, token string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	return base + "/live/" + url.PathEscape(sessionID) + "/ws?token=" + url.QueryEscape(token)
}

// Send writes msg to the room. It fails with ErrNotConnected unless the channel is open.
func (c *Channel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	open := c.status == ChannelOpen
	c.mu.Unlock()
	if !open || conn == nil {
		return models.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.ws.SetWriteDeadline(deadline)
	if err := conn.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: send %s: %w", models.ErrChannel, msg.Event, err)
	}
	return nil
}

// Close releases the connection and its goroutines. It is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.sessionID = ""
	c.status = ChannelClosed
	c.mu.Unlock()

	if conn != nil {
		c.shutdown(conn)
	}
	return nil
}

func (c *Channel) shutdown(conn *connection) {
	close(conn.done)
	_ = conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = conn.ws.Close()
	conn.wg.Wait()
}

func (c *Channel) readPump(conn *connection, sessionID string) {
	defer conn.wg.Done()

	conn.ws.SetReadLimit(maxMessage)
	_ = conn.ws.SetReadDeadline(time.Now().Add(PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg Message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			c.lost(conn, sessionID, err)
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(PongWait))
		select {
		case c.incoming <- msg:
		default:
		}
	}
}

func (c *Channel) pingPump(conn *connection) {
	defer conn.wg.Done()
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// lost handles a transport failure on conn. It is a no-op when conn was already released by Close.
func (c *Channel) lost(conn *connection, sessionID string, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	status := ChannelErrored
	var err error
	var closeErr *websocket.CloseError
	if errors.As(cause, &closeErr) && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		status = ChannelClosed
	} else {
		err = fmt.Errorf("%w: %w", models.ErrChannel, cause)
	}
	c.status = status
	c.mu.Unlock()

	close(conn.done)
	_ = conn.ws.Close()
	c.logger.Warn("channel lost", zap.String("session_id", sessionID), zap.String("status", string(status)), zap.Error(cause))
	c.notify(StatusChange{SessionID: sessionID, Status: status, Err: err})
}

func (c *Channel) notify(change StatusChange) {
	c.mu.Lock()
	listeners := make([]func(StatusChange), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(change)
	}
}
