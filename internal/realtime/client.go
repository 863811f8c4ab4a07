package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

// Requests the transport issues on its own.
const (
	opJoin      = "join_session"
	opLeave     = "leave_session"
	opHeartbeat = "heartbeat"
)

// Reply events.
const (
	EventAck   = "ack"
	EventError = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope. RequestID correlates a reply with its
// request; Sequence is the playback sequence the event was produced at.
type WSMessage struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
}

// ErrorBody is the data of an error reply.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dispatcher executes client requests. gateway.Gateway implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.Requester, sessionID, op string, data json.RawMessage) (interface{}, error)
}

// DefaultPingInterval keeps pong-driven heartbeats well inside the default 30s session timeout.
const DefaultPingInterval = 10 * time.Second

// ClientConfig bounds per-connection inbound traffic.
type ClientConfig struct {
	RateLimit    float64 // messages per second
	RateBurst    int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// pongWait is how long a silent connection survives; a few missed pongs are tolerated.
func (c ClientConfig) pongWait() time.Duration {
	return 3 * c.PingInterval
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	return c
}

// Client represents a single WebSocket connection to a session.
type Client struct {
	ID         string
	SessionID  string
	Requester  models.Requester
	JoinedAt   time.Time
	hub        *Hub
	dispatcher Dispatcher
	conn       *websocket.Conn
	send       chan WSMessage
	limiter    *rate.Limiter
	cfg        ClientConfig
	logger     *zap.Logger
}

// ServeWs handles the WebSocket upgrade, joins the session and runs the client loop.
func ServeWs(hub *Hub, dispatcher Dispatcher, validate func(token string) (models.Requester, error), cfg ClientConfig, logger *zap.Logger) gin.HandlerFunc {
	cfg = cfg.withDefaults()
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		token := c.Query("token")
		if sessionID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		req, err := validate(token)
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
			ID:         uuid.New().String(),
			SessionID:  sessionID,
			Requester:  req,
			JoinedAt:   time.Now(),
			hub:        hub,
			dispatcher: dispatcher,
			conn:       conn,
			send:       make(chan WSMessage, 256),
			limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
			cfg:        cfg,
			logger:     logger.With(zap.String("session_id", sessionID), zap.String("user_id", req.UserID)),
		}

		// Register before joining so the joiner sees the events its own join produces.
		hub.Register(client)
		go client.writePump()
		result, err := dispatcher.Dispatch(c.Request.Context(), req, sessionID, opJoin, nil)
		if err != nil {
			client.reply("", nil, err)
			hub.Unregister(client)
			return
		}
		client.reply(opJoin, result, nil)
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		if !c.hub.Unregister(c) {
			if _, err := c.dispatcher.Dispatch(context.Background(), c.Requester, c.SessionID, opLeave, nil); err != nil {
				c.logger.Debug("leave on disconnect", zap.Error(err))
			}
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
		c.dispatch(WSMessage{Event: opHeartbeat}, false)
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))

		if !c.limiter.Allow() {
			metrics.WSMessagesDropped.WithLabelValues("rate_limited").Inc()
			c.reply(msg.RequestID, nil, apperr.New(apperr.KindInvalidArgument, "rate_limited", "too many messages"))
			continue
		}
		c.dispatch(msg, true)
		if msg.Event == opLeave {
			break
		}
	}
}

func (c *Client) dispatch(msg WSMessage, reply bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	result, err := c.dispatcher.Dispatch(ctx, c.Requester, c.SessionID, msg.Event, msg.Data)
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		c.logger.Error("request failed", zap.String("event", msg.Event), zap.Error(err))
	}
	if reply {
		c.reply(msg.RequestID, result, err)
	}
}

// reply answers one request. Internal errors are not described to the client.
func (c *Client) reply(requestID string, result interface{}, err error) {
	if err != nil {
		body := ErrorBody{Code: apperr.CodeOf(err), Message: apperr.MessageOf(err)}
		if apperr.KindOf(err) == apperr.KindInternal {
			body = ErrorBody{Code: "internal", Message: "internal error"}
		}
		data, _ := json.Marshal(body)
		c.hub.sendToClient(c, WSMessage{Event: EventError, RequestID: requestID, Data: data})
		return
	}
	data, mErr := marshal(result)
	if mErr != nil {
		c.logger.Error("marshal reply failed", zap.Error(mErr))
		return
	}
	c.hub.sendToClient(c, WSMessage{Event: EventAck, RequestID: requestID, Data: data})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
