package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsehub/backend/internal/auth"
	"github.com/pulsehub/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client represents a single WebSocket connection. One connection may be a
// member of several rooms; membership is owned by the hub.
type Client struct {
	ID        string
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      string

	rooms  map[uuid.UUID]struct{} // guarded by hub.mu
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// CredentialVerifier resolves a handshake token to an authenticated identity.
// The hub trusts the returned claims verbatim.
type CredentialVerifier func(token string) (*auth.Claims, error)

// ServeWs handles the WebSocket upgrade and runs the client loop. A missing
// or malformed credential rejects the connection before any room join is
// possible.
func ServeWs(hub *Hub, logger *zap.Logger, verify CredentialVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		claims, err := verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			UserID:    claims.UserID,
			CompanyID: claims.CompanyID,
			Role:      claims.Role,
			rooms:     make(map[uuid.UUID]struct{}),
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

// dispatch routes one inbound message. Unknown or malformed messages are
// rejected with an error event, never forwarded.
func (c *Client) dispatch(msg WSMessage) {
	var scope roomScoped
	if err := json.Unmarshal(msg.Data, &scope); err != nil || scope.SessionID == uuid.Nil {
		c.reject("missing or invalid session_id")
		return
	}
	sessionID := scope.SessionID

	switch msg.Event {
	case EventJoinSession:
		c.hub.Join(c, sessionID)

	case EventLeaveSession:
		c.hub.Leave(c, sessionID)

	case EventNewResponse:
		if !c.hub.IsMember(c, sessionID) {
			c.reject("not a member of this session")
			return
		}
		c.hub.BroadcastAndPublish(sessionID, EventResponseReceived, ResponseReceivedPayload{
			SessionID: sessionID,
			Timestamp: time.Now().UTC(),
		}, c.ID)
		if fn := c.hub.responseHandler(); fn != nil {
			fn(sessionID, c.UserID, c.CompanyID, c.Role, msg.Data)
		}

	case EventBroadcastInsight:
		if c.Role != string(models.RoleCompanyAdmin) && c.Role != string(models.RoleSuperAdmin) {
			c.reject("only administrators may broadcast insights")
			return
		}
		if !c.hub.IsMember(c, sessionID) {
			c.reject("not a member of this session")
			return
		}
		c.hub.BroadcastAndPublish(sessionID, EventLiveInsight, json.RawMessage(msg.Data), c.ID)

	case EventUpdateParticipation:
		if !c.hub.IsMember(c, sessionID) {
			c.reject("not a member of this session")
			return
		}
		if fn := c.hub.participationQueryHandler(); fn != nil {
			fn(sessionID)
		}

	default:
		c.reject("unknown event: " + msg.Event)
	}
}

// reject sends an error event back to this connection only.
func (c *Client) reject(reason string) {
	data, _ := json.Marshal(ErrorPayload{Message: reason})
	select {
	case c.send <- WSMessage{Event: EventError, Data: data}:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
