package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/models"
)

const (
	channelPrefix = "session:"
	eventTTL      = 5 * time.Second
)

// audience is the wire form of models.Audience.
type audience struct {
	AuthorID   string            `json:"author_id"`
	Visibility models.Visibility `json:"visibility,omitempty"`
	GroupID    string            `json:"group_id,omitempty"`
	CourseID   string            `json:"course_id,omitempty"`
}

func audienceOf(a models.Audience) audience {
	w := audience{AuthorID: a.AuthorID}
	if a.Scope != nil {
		w.Visibility = a.Scope.Visibility()
		w.GroupID, w.CourseID = models.ScopeIDs(a.Scope)
	}
	return w
}

// model restores the audience. An unparsable scope narrows to the author.
func (w audience) model() models.Audience {
	a := models.Audience{AuthorID: w.AuthorID}
	if w.Visibility != "" {
		if s, err := models.ParseScope(w.Visibility, w.GroupID, w.CourseID); err == nil {
			a.Scope = s
		}
	}
	return a
}

// Envelope is the message published to Redis for cross-instance delivery.
type Envelope struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Sequence  uint64          `json:"sequence,omitempty"`
	UserID    string          `json:"user_id,omitempty"` // direct message
	Audience  *audience       `json:"audience,omitempty"`
	At        int64           `json:"at"`
}

// filter returns the recipient predicate, nil for everyone.
func (e Envelope) filter() func(*Client) bool {
	switch {
	case e.UserID != "":
		userID := e.UserID
		return func(c *Client) bool { return c.Requester.UserID == userID }
	case e.Audience != nil:
		a := e.Audience.model()
		return func(c *Client) bool { return a.Allows(c.Requester) }
	}
	return nil
}

// RedisPubSub implements RedisPublisher and RedisSubscriber using Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishSessionEvent publishes an event to the session's Redis channel.
func (r *RedisPubSub) PublishSessionEvent(ctx context.Context, sessionID string, env Envelope) error {
	env.At = time.Now().Unix()
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventTTL)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+sessionID, body).Err()
}

// SubscribeSession subscribes to a session's Redis channel and calls handler for each message.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeSession(sessionID string, handler func(env Envelope)) (cancel func(), err error) {
	channel := channelPrefix + sessionID
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	_, err = pubsub.Receive(ctx)
	if err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn("invalid session event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(env)
			}
		}
	}()
	return cancelCtx, nil
}
