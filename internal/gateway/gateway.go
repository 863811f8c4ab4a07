// Package gateway is the single entry point into the session core. It authorizes requests
// against the session registry, routes them to the owning component and fans accepted
// changes out to the session's viewers.
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/annotations"
	"github.com/aura-webinar/watchparty/internal/models"
	"github.com/aura-webinar/watchparty/internal/playback"
	"github.com/aura-webinar/watchparty/internal/recommender"
	"github.com/aura-webinar/watchparty/internal/sessions"
)

// Event names sent to clients.
const (
	EventParticipantJoined   = "participant_joined"
	EventParticipantWaiting  = "participant_waiting"
	EventParticipantAdmitted = "participant_admitted"
	EventParticipantLeft     = "participant_left"
	EventHostChanged         = "host_changed"
	EventControlChanged      = "control_changed"
	EventHandRaised          = "hand_raised"
	EventHandLowered         = "hand_lowered"
	EventControlGranted      = "control_granted"
	EventControlRevoked      = "control_revoked"
	EventAnnotationCreated   = "annotation_created"
	EventAnnotationUpdated   = "annotation_updated"
	EventAnnotationDeleted   = "annotation_deleted"
	EventRecommendation      = "speed_recommendation_issued"
	EventSpeedApplied        = "speed_applied"
	EventChatMessage         = "chat_message"
	EventSessionEnded        = "session_ended"
	EventError               = "error"
)

// Broadcaster delivers events to the clients connected to a session. Implementations must
// not block: they are called while session state is locked so that delivery order matches
// acceptance order.
type Broadcaster interface {
	Broadcast(sessionID, event string, seq uint64, payload interface{})
	BroadcastTo(sessionID, event string, seq uint64, payload interface{}, audience models.Audience)
	SendToUser(sessionID, userID, event string, seq uint64, payload interface{})
}

// TranscriptQueue accepts transcript export jobs.
type TranscriptQueue interface {
	EnqueueTranscript(ctx context.Context, job models.TranscriptJob) error
}

// AttendanceRecorder receives registry events for the attendance log. Record must not block.
type AttendanceRecorder interface {
	Record(ev sessions.Event)
}

// Deps are the components behind the gateway. Transcripts and Attendance are optional.
type Deps struct {
	Registry    *sessions.Registry
	Playback    *playback.Synchronizer
	Annotations *annotations.Store
	Recommender *recommender.Recommender
	Out         Broadcaster
	Transcripts TranscriptQueue
	Attendance  AttendanceRecorder
}

// Gateway is the request facade.
type Gateway struct {
	registry    *sessions.Registry
	playback    *playback.Synchronizer
	annotations *annotations.Store
	recommender *recommender.Recommender
	out         Broadcaster
	transcripts TranscriptQueue
	attendance  AttendanceRecorder
	logger      *zap.Logger
	exportWait  time.Duration
}

// New wires the gateway as the event sink of the registry, the synchronizer and the
// recommender.
func New(d Deps, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		registry:    d.Registry,
		playback:    d.Playback,
		annotations: d.Annotations,
		recommender: d.Recommender,
		out:         d.Out,
		transcripts: d.Transcripts,
		attendance:  d.Attendance,
		logger:      logger,
		exportWait:  10 * time.Second,
	}
	if g.out == nil {
		g.out = nopBroadcaster{}
	}
	g.registry.SetNotifier(g.onRegistryEvent)
	g.playback.SetAcceptHandler(g.onControlAccepted)
	g.recommender.SetApplyHandler(g.onSpeedApplied)
	return g
}

// Forget drops playback state of pruned sessions.
func (g *Gateway) Forget(sessionIDs []string) {
	for _, id := range sessionIDs {
		g.playback.Forget(id)
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, string, uint64, interface{})                    {}
func (nopBroadcaster) BroadcastTo(string, string, uint64, interface{}, models.Audience) {}
func (nopBroadcaster) SendToUser(string, string, string, uint64, interface{})           {}
