package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RolePresenter may push classroom actions into a session room. Other roles may only chat.
const RolePresenter = "presenter"

// EventChatMessage is relayed for every role.
const EventChatMessage = "chat_message"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Identity is what a live token resolves to.
type Identity struct {
	UserID    string
	Role      string
	SessionID string
}

// TokenValidator resolves a bearer token into an Identity.
type TokenValidator func(token string) (Identity, error)

// Peer is a single server-side websocket connection in a session room.
type Peer struct {
	ID        string
	SessionID string
	UserID    string
	Role      string
	JoinedAt  time.Time
	hub       *Hub
	conn      *websocket.Conn
	send      chan Message
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// ServeLive handles GET /live/:sessionId/ws?token= and runs the peer loop.
func ServeLive(hub *Hub, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		token := c.Query("token")
		if sessionID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session id and token required"})
			return
		}
		id, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if id.SessionID != "" && id.SessionID != sessionID {
			c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for session"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		peer := &Peer{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    id.UserID,
			Role:      id.Role,
			JoinedAt:  time.Now(),
			hub:       hub,
			conn:      conn,
			send:      make(chan Message, 256),
			logger:    logger,
		}
		hub.Register(peer)
		go peer.writePump()
		peer.readPump()
	}
}

func (p *Peer) readPump() {
	defer func() {
		p.hub.Unregister(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessage)
	_ = p.conn.SetReadDeadline(time.Now().Add(PongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var msg Message
		if err := p.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("peer read failed", zap.String("peer_id", p.ID), zap.Error(err))
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(PongWait))

		if !p.mayRelay(msg.Event) {
			p.logger.Debug("dropping message", zap.String("event", msg.Event), zap.String("role", p.Role))
			continue
		}
		p.hub.Publish(p.SessionID, msg)
	}
}

func (p *Peer) mayRelay(event string) bool {
	if event == EventChatMessage {
		return true
	}
	if p.Role != RolePresenter {
		return false
	}
	t := models.EventType(event)
	return t.IsUserAction() || t == models.EventSessionStarted || t == models.EventSessionEnded
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Peer) enqueue(msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.send <- msg:
	default:
		p.logger.Warn("peer send buffer full, dropping", zap.String("peer_id", p.ID))
	}
}

func (p *Peer) closeSend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}
