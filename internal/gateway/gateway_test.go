package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchparty/internal/annotations"
	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/complexity"
	"github.com/aura-webinar/watchparty/internal/models"
	"github.com/aura-webinar/watchparty/internal/playback"
	"github.com/aura-webinar/watchparty/internal/recommender"
	"github.com/aura-webinar/watchparty/internal/sessions"
)

type sent struct {
	sessionID string
	event     string
	seq       uint64
	payload   interface{}
	audience  *models.Audience
	userID    string
}

type fakeOut struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeOut) Broadcast(sessionID, event string, seq uint64, payload interface{}) {
	f.add(sent{sessionID: sessionID, event: event, seq: seq, payload: payload})
}

func (f *fakeOut) BroadcastTo(sessionID, event string, seq uint64, payload interface{}, audience models.Audience) {
	f.add(sent{sessionID: sessionID, event: event, seq: seq, payload: payload, audience: &audience})
}

func (f *fakeOut) SendToUser(sessionID, userID, event string, seq uint64, payload interface{}) {
	f.add(sent{sessionID: sessionID, event: event, seq: seq, payload: payload, userID: userID})
}

func (f *fakeOut) add(s sent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
}

func (f *fakeOut) byEvent(event string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}

type fakeQueue struct {
	jobs chan models.TranscriptJob
}

func (q *fakeQueue) EnqueueTranscript(_ context.Context, job models.TranscriptJob) error {
	q.jobs <- job
	return nil
}

type fixture struct {
	gw    *Gateway
	out   *fakeOut
	queue *fakeQueue
	rec   *recommender.Recommender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := sessions.NewRegistry(sessions.Config{}, nil)
	rec := recommender.New(complexity.Simulated{}, nil, recommender.Config{ApplyDelay: time.Hour}, nil)
	t.Cleanup(rec.Close)
	f := &fixture{out: &fakeOut{}, queue: &fakeQueue{jobs: make(chan models.TranscriptJob, 4)}, rec: rec}
	f.gw = New(Deps{
		Registry:    reg,
		Playback:    playback.New(reg, nil),
		Annotations: annotations.NewStore(nil, nil),
		Recommender: rec,
		Out:         f.out,
		Transcripts: f.queue,
	}, nil)
	return f
}

var (
	alice = models.Requester{UserID: "alice", DisplayName: "Alice", Role: "instructor", GroupIDs: []string{"g1"}}
	bob   = models.Requester{UserID: "bob", DisplayName: "Bob", Role: "student", GroupIDs: []string{"g1"}}
	carol = models.Requester{UserID: "carol", DisplayName: "Carol", Role: "student", GroupIDs: []string{"g1"}}
	dave  = models.Requester{UserID: "dave", DisplayName: "Dave", Role: "student"}
)

func (f *fixture) startSession(t *testing.T, settings models.SessionSettings) string {
	t.Helper()
	res, err := f.gw.CreateSession(context.Background(), alice, CreateSessionRequest{VideoID: "v1", GroupID: "g1", Settings: &settings})
	require.NoError(t, err)
	for _, r := range []models.Requester{bob, carol, dave} {
		_, err := f.gw.JoinSession(context.Background(), r, res.Session.ID)
		require.NoError(t, err)
	}
	return res.Session.ID
}

func TestGateway_ControlChangedCarriesSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startSession(t, models.DefaultSessionSettings())

	v := 42.0
	ev, err := f.gw.SubmitControl(ctx, alice, id, ControlRequest{Action: models.ActionSeek, Value: &v, Duration: 600})
	require.NoError(t, err)
	_, err = f.gw.SubmitControl(ctx, alice, id, ControlRequest{Action: models.ActionPlay})
	require.NoError(t, err)

	got := f.out.byEvent(EventControlChanged)
	require.Len(t, got, 2)
	assert.Equal(t, ev.Sequence, got[0].seq)
	first := got[0].payload.(ControlChanged)
	assert.Equal(t, models.ActionSeek, first.Action)
	assert.InDelta(t, 42.0, first.Playback.CurrentTime, 1e-9)
	assert.Equal(t, uint64(2), got[1].seq)

	_, err = f.gw.SubmitControl(ctx, bob, id, ControlRequest{Action: models.ActionPause})
	assert.Equal(t, "no_control", apperr.CodeOf(err))
	assert.Len(t, f.out.byEvent(EventControlChanged), 2, "rejected commands are not broadcast")

	res, err := f.gw.Events(ctx, bob, id, 1)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	require.Len(t, res.Events, 1)
	assert.Equal(t, models.ActionPlay, res.Events[0].Action)
}

func TestGateway_AnnotationFanOutRespectsVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startSession(t, models.DefaultSessionSettings())

	group, err := f.gw.CreateAnnotation(ctx, bob, id, annotations.CreateInput{
		TimeCode: 12, Content: "see the diagram", Visibility: models.VisibilityGroup, GroupID: "g1",
	})
	require.NoError(t, err)
	assert.Equal(t, "v1", group.VideoID, "video defaults to the session's")

	_, err = f.gw.CreateAnnotation(ctx, bob, id, annotations.CreateInput{TimeCode: 13, Content: "just for me"})
	require.NoError(t, err)

	got := f.out.byEvent(EventAnnotationCreated)
	require.Len(t, got, 2)
	for _, s := range got {
		require.NotNil(t, s.audience, "annotation events are never unfiltered broadcasts")
		assert.Equal(t, id, s.sessionID)
	}
	assert.True(t, got[0].audience.Allows(carol))
	assert.True(t, got[0].audience.Allows(alice))
	assert.False(t, got[0].audience.Allows(dave))

	assert.True(t, got[1].audience.Allows(bob))
	assert.False(t, got[1].audience.Allows(carol))
	assert.False(t, got[1].audience.Allows(alice))

	_, err = f.gw.CreateAnnotation(ctx, bob, id, annotations.CreateInput{VideoID: "v2", Content: "wrong video"})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestGateway_AnnotationsDisabled(t *testing.T) {
	f := newFixture(t)
	settings := models.DefaultSessionSettings()
	settings.AllowAnnotations = false
	id := f.startSession(t, settings)

	_, err := f.gw.CreateAnnotation(context.Background(), bob, id, annotations.CreateInput{Content: "x"})
	assert.Equal(t, "annotations_disabled", apperr.CodeOf(err))

	_, err = f.gw.CreateAnnotation(context.Background(), alice, id, annotations.CreateInput{Content: "host note"})
	assert.NoError(t, err)
}

func TestGateway_HostModeratesScopedAnnotations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startSession(t, models.DefaultSessionSettings())

	a, err := f.gw.CreateAnnotation(ctx, bob, id, annotations.CreateInput{
		Content: "group note", Visibility: models.VisibilityGroup, GroupID: "g1",
	})
	require.NoError(t, err)

	err = f.gw.DeleteAnnotation(ctx, carol, a.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	err = f.gw.DeleteAnnotation(ctx, dave, a.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "unreadable annotations do not leak")

	require.NoError(t, f.gw.DeleteAnnotation(ctx, alice, a.ID))
	got := f.out.byEvent(EventAnnotationDeleted)
	require.Len(t, got, 1)
	assert.Equal(t, AnnotationDeleted{ID: a.ID, VideoID: "v1"}, got[0].payload)
}

func TestGateway_RecommendationGoesToRequesterOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startSession(t, models.DefaultSessionSettings())

	rec, err := f.gw.RequestRecommendation(ctx, bob, RecommendationRequest{SessionID: id, TimeCode: 10})
	require.NoError(t, err)
	assert.Nil(t, rec, "a paused session is not analyzed")

	_, err = f.gw.SubmitControl(ctx, alice, id, ControlRequest{Action: models.ActionPlay})
	require.NoError(t, err)

	rec, err = f.gw.RequestRecommendation(ctx, bob, RecommendationRequest{SessionID: id, TimeCode: 10})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "v1", rec.VideoID)

	got := f.out.byEvent(EventRecommendation)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].userID)
	assert.Nil(t, got[0].audience)

	st := f.gw.GetSpeedState(ctx, bob, "v1")
	assert.True(t, st.Pending)
	assert.Equal(t, recommender.DefaultSpeed, st.Applied)
	require.NotNil(t, st.Latest)
	assert.Equal(t, rec.RecommendedSpeed, st.Latest.RecommendedSpeed)

	require.NoError(t, f.gw.LeaveSession(ctx, bob, id))
	assert.False(t, f.rec.Pending("v1", "bob"), "leaving drops the pending change")
	_, ok := f.rec.Latest("v1", "bob")
	assert.False(t, ok, "leaving drops the viewer's recommender state")
}

func TestGateway_RecommendationRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	res, err := f.gw.CreateSession(context.Background(), alice, CreateSessionRequest{VideoID: "v1"})
	require.NoError(t, err)

	_, err = f.gw.RequestRecommendation(context.Background(), dave, RecommendationRequest{SessionID: res.Session.ID, TimeCode: 10})
	assert.Equal(t, "not_participant", apperr.CodeOf(err))

	_, err = f.gw.RequestRecommendation(context.Background(), dave, RecommendationRequest{TimeCode: 10})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestGateway_EndExportsTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := models.DefaultSessionSettings()
	settings.RecordSession = true
	id := f.startSession(t, settings)

	_, err := f.gw.SendChat(ctx, bob, id, "hello")
	require.NoError(t, err)
	_, err = f.gw.EndSession(ctx, alice, id)
	require.NoError(t, err)

	select {
	case job := <-f.queue.jobs:
		assert.Equal(t, id, job.SessionID)
		assert.Equal(t, "alice", job.HostID)
		assert.False(t, job.EndedAt.IsZero())
		var chat int
		for _, m := range job.Messages {
			if m.Kind == models.MessageChat {
				chat++
				assert.Equal(t, "hello", m.Content)
			}
		}
		assert.Equal(t, 1, chat)
	case <-time.After(2 * time.Second):
		t.Fatal("transcript export was not enqueued")
	}
	assert.Len(t, f.out.byEvent(EventSessionEnded), 1)
}

func TestGateway_EndWithoutRecordingSkipsExport(t *testing.T) {
	f := newFixture(t)
	id := f.startSession(t, models.DefaultSessionSettings())
	_, err := f.gw.EndSession(context.Background(), alice, id)
	require.NoError(t, err)

	select {
	case <-f.queue.jobs:
		t.Fatal("unexpected transcript export")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateway_AdmittedEventName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := models.DefaultSessionSettings()
	settings.WaitingRoom = true
	res, err := f.gw.CreateSession(ctx, alice, CreateSessionRequest{VideoID: "v1", Settings: &settings})
	require.NoError(t, err)

	_, err = f.gw.JoinSession(ctx, bob, res.Session.ID)
	require.NoError(t, err)
	_, err = f.gw.AdmitParticipant(ctx, alice, res.Session.ID, "bob")
	require.NoError(t, err)

	assert.Len(t, f.out.byEvent(EventParticipantWaiting), 1)
	assert.Len(t, f.out.byEvent(EventParticipantAdmitted), 1)
}

func TestGateway_Dispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.startSession(t, models.DefaultSessionSettings())

	out, err := f.gw.Dispatch(ctx, alice, id, OpSubmitControl, json.RawMessage(`{"action":"seek","value":30,"duration":120}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.(models.ControlEvent).Sequence)

	_, err = f.gw.Dispatch(ctx, alice, id, OpSubmitControl, json.RawMessage(`{"action":`))
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = f.gw.Dispatch(ctx, alice, id, "launch_poll", nil)
	assert.Equal(t, "unknown_event", apperr.CodeOf(err))

	out, err = f.gw.Dispatch(ctx, bob, id, OpCreateAnnotation, json.RawMessage(`{"time_code":5,"content":"hi","visibility":"public"}`))
	require.NoError(t, err)
	a := out.(models.Annotation)

	out, err = f.gw.Dispatch(ctx, carol, id, OpLikeAnnotation, json.RawMessage(`{"id":"`+a.ID+`"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.(models.Annotation).Likes)

	out, err = f.gw.Dispatch(ctx, carol, id, OpQueryAnnotations, json.RawMessage(`{"q":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(annotations.Page).Total)

	_, err = f.gw.Dispatch(ctx, bob, id, OpGrantControl, json.RawMessage(`{"user_id":"carol"}`))
	assert.Equal(t, "not_host", apperr.CodeOf(err))

	out, err = f.gw.Dispatch(ctx, bob, id, OpSetSpeed, json.RawMessage(`{"video_id":"v1","speed":5}`))
	require.NoError(t, err)
	assert.Equal(t, recommender.MaxSpeed, out.(SpeedApplied).Speed)
}
