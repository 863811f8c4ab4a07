package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/models"
)

type call struct {
	userID string
	op     string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []call
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req models.Requester, sessionID, op string, data json.RawMessage) (interface{}, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call{userID: req.UserID, op: op})
	d.mu.Unlock()
	switch op {
	case "fail":
		return nil, apperr.New(apperr.KindForbidden, "not_host", "You are not the host")
	case "boom":
		return nil, errors.New("db exploded")
	case "echo":
		return data, nil
	}
	return map[string]string{"session_id": sessionID}, nil
}

func (d *fakeDispatcher) count(userID, op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.userID == userID && c.op == op {
			n++
		}
	}
	return n
}

var users = map[string]models.Requester{
	"t-alice": {UserID: "alice", GroupIDs: []string{"g1"}},
	"t-bob":   {UserID: "bob", GroupIDs: []string{"g1"}},
	"t-dave":  {UserID: "dave"},
}

func validate(token string) (models.Requester, error) {
	r, ok := users[token]
	if !ok {
		return models.Requester{}, errors.New("bad token")
	}
	return r, nil
}

func newServer(t *testing.T, cfg ClientConfig) (*Hub, *fakeDispatcher, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil, nil, nil)
	d := &fakeDispatcher{}
	r := gin.New()
	r.GET("/ws", ServeWs(hub, d, validate, cfg, zapNop()))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, d, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?session_id=s1&token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	msg := read(t, conn)
	require.Equal(t, EventAck, msg.Event)
	require.Equal(t, opJoin, msg.RequestID)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readEvent skips messages until one named event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) WSMessage {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg.Event == event {
			return msg
		}
	}
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var msg WSMessage
	err := conn.ReadJSON(&msg)
	assert.Error(t, err, "unexpected message %q", msg.Event)
}

func TestServeWs_RejectsBadToken(t *testing.T) {
	_, _, url := newServer(t, ClientConfig{})
	_, resp, err := websocket.DefaultDialer.Dial(url+"?session_id=s1&token=nope", nil)
	require.Error(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestServeWs_RequestReply(t *testing.T) {
	hub, d, url := newServer(t, ClientConfig{})
	conn := dial(t, url, "t-alice")
	assert.Equal(t, 1, d.count("alice", opJoin))
	assert.Equal(t, 1, hub.ConnectionCount("s1"))

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "echo", RequestID: "r1", Data: json.RawMessage(`{"x":1}`)}))
	msg := read(t, conn)
	assert.Equal(t, EventAck, msg.Event)
	assert.Equal(t, "r1", msg.RequestID)
	assert.JSONEq(t, `{"x":1}`, string(msg.Data))

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "fail", RequestID: "r2"}))
	msg = read(t, conn)
	assert.Equal(t, EventError, msg.Event)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, ErrorBody{Code: "not_host", Message: "You are not the host"}, body)

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "boom", RequestID: "r3"}))
	msg = read(t, conn)
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "internal", body.Code, "internal errors are not described")
}

func TestServeWs_LeavesOnDisconnect(t *testing.T) {
	hub, d, url := newServer(t, ClientConfig{})
	first := dial(t, url, "t-bob")
	second := dial(t, url, "t-bob")

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return hub.ConnectionCount("s1") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, d.count("bob", opLeave), "another connection of the same user remains")

	require.NoError(t, second.Close())
	require.Eventually(t, func() bool { return d.count("bob", opLeave) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.ConnectionCount("s1"))
}

func TestServeWs_RateLimited(t *testing.T) {
	_, _, url := newServer(t, ClientConfig{RateLimit: 0.001, RateBurst: 1})
	conn := dial(t, url, "t-alice")

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "echo", RequestID: "a"}))
	require.NoError(t, conn.WriteJSON(WSMessage{Event: "echo", RequestID: "b"}))

	assert.Equal(t, EventAck, read(t, conn).Event)
	msg := read(t, conn)
	assert.Equal(t, EventError, msg.Event)
	assert.Equal(t, "b", msg.RequestID)
	assert.Contains(t, string(msg.Data), "rate_limited")
}

func TestHub_Delivery(t *testing.T) {
	hub, _, url := newServer(t, ClientConfig{})
	alice := dial(t, url, "t-alice")
	bob := dial(t, url, "t-bob")
	dave := dial(t, url, "t-dave")

	hub.Broadcast("s1", "control_changed", 7, map[string]string{"action": "play"})
	for _, c := range []*websocket.Conn{alice, bob, dave} {
		msg := readEvent(t, c, "control_changed")
		assert.Equal(t, uint64(7), msg.Sequence)
	}

	hub.BroadcastTo("s1", "annotation_created", 7, map[string]string{"id": "a1"},
		models.Audience{AuthorID: "alice", Scope: models.GroupScope{GroupID: "g1"}})
	assert.Equal(t, "annotation_created", readEvent(t, alice, "annotation_created").Event)
	assert.Equal(t, "annotation_created", readEvent(t, bob, "annotation_created").Event)
	expectSilence(t, dave)

	hub.SendToUser("s1", "bob", "speed_recommendation_issued", 7, map[string]float64{"speed": 1.5})
	assert.Equal(t, "speed_recommendation_issued", readEvent(t, bob, "speed_recommendation_issued").Event)
	expectSilence(t, alice)
}

func TestEnvelope_AudienceRoundTrip(t *testing.T) {
	env := Envelope{Event: "annotation_updated", Audience: ptr(audienceOf(models.Audience{
		AuthorID: "alice", Scope: models.CourseScope{CourseID: "c1"},
	}))}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var back Envelope
	require.NoError(t, json.Unmarshal(raw, &back))

	allow := back.filter()
	require.NotNil(t, allow)
	assert.True(t, allow(&Client{Requester: models.Requester{UserID: "x", CourseIDs: []string{"c1"}}}))
	assert.False(t, allow(&Client{Requester: models.Requester{UserID: "y"}}))

	private := audienceOf(models.Audience{AuthorID: "alice"})
	allow = Envelope{Audience: &private}.filter()
	assert.True(t, allow(&Client{Requester: models.Requester{UserID: "alice"}}))
	assert.False(t, allow(&Client{Requester: models.Requester{UserID: "bob"}}))

	assert.Nil(t, Envelope{}.filter())
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []Envelope
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, _ string, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, env)
	return nil
}

func (p *recordingPublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.sent {
		out = append(out, e.Event)
	}
	return out
}

func TestHub_PublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	hub := NewHub(nil, pub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	hub.Broadcast("s1", "a", 1, nil)
	hub.SendToUser("s1", "bob", "b", 1, nil)
	hub.Broadcast("s1", "c", 2, nil)

	require.Eventually(t, func() bool { return len(pub.events()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, pub.events())
	assert.Equal(t, "bob", pub.sent[1].UserID)
	assert.Equal(t, hub.origin, pub.sent[0].Origin)
}

// memBus is an in-process stand-in for Redis pub/sub shared by several hubs.
type memBus struct {
	mu       sync.Mutex
	handlers map[string]map[int]func(Envelope)
	next     int
}

func newMemBus() *memBus { return &memBus{handlers: make(map[string]map[int]func(Envelope))} }

func (b *memBus) PublishSessionEvent(_ context.Context, sessionID string, env Envelope) error {
	b.mu.Lock()
	var hs []func(Envelope)
	for _, h := range b.handlers[sessionID] {
		hs = append(hs, h)
	}
	b.mu.Unlock()
	for _, h := range hs {
		h(env)
	}
	return nil
}

func (b *memBus) SubscribeSession(sessionID string, handler func(Envelope)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[sessionID] == nil {
		b.handlers[sessionID] = make(map[int]func(Envelope))
	}
	id := b.next
	b.next++
	b.handlers[sessionID][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[sessionID], id)
	}, nil
}

func (b *memBus) subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[sessionID])
}

func localClient(sessionID, userID string) *Client {
	return &Client{
		ID:        userID + "-conn",
		SessionID: sessionID,
		Requester: models.Requester{UserID: userID},
		send:      make(chan WSMessage, 8),
	}
}

func TestHub_CrossInstance(t *testing.T) {
	bus := newMemBus()
	a := NewHub(nil, bus, bus)
	b := NewHub(nil, bus, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)

	onA := localClient("s1", "alice")
	onB := localClient("s1", "bob")
	a.Register(onA)
	b.Register(onB)
	require.Equal(t, 2, bus.subscribers("s1"))

	a.Broadcast("s1", "control_changed", 3, map[string]string{"action": "pause"})

	select {
	case msg := <-onB.send:
		assert.Equal(t, "control_changed", msg.Event)
		assert.Equal(t, uint64(3), msg.Sequence)
	case <-time.After(time.Second):
		t.Fatal("remote instance did not receive the event")
	}
	msg := <-onA.send
	assert.Equal(t, "control_changed", msg.Event)
	select {
	case dup := <-onA.send:
		t.Fatalf("origin instance delivered twice: %+v", dup)
	case <-time.After(50 * time.Millisecond):
	}

	assert.False(t, b.Unregister(onB))
	assert.Equal(t, 1, bus.subscribers("s1"), "last client leaving drops the subscription")
}

func ptr[T any](v T) *T { return &v }

func zapNop() *zap.Logger { return zap.NewNop() }
