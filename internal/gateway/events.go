package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/models"
	"github.com/aura-webinar/watchparty/internal/sessions"
)

// ControlChanged is the control_changed payload.
type ControlChanged struct {
	Action    models.ControlAction    `json:"action"`
	Value     *float64                `json:"value,omitempty"`
	Sequence  uint64                  `json:"sequence"`
	ActorID   string                  `json:"actor_id"`
	Timestamp int64                   `json:"timestamp"`
	Playback  models.PlaybackSnapshot `json:"playback"`
}

// AnnotationDeleted is the annotation_deleted payload.
type AnnotationDeleted struct {
	ID      string `json:"id"`
	VideoID string `json:"video_id"`
}

// SpeedApplied is the speed_applied payload.
type SpeedApplied struct {
	VideoID string  `json:"video_id"`
	Speed   float64 `json:"speed"`
}

// onRegistryEvent runs under the session lock: it only reads the lock-free sequence and
// hands off anything slow.
func (g *Gateway) onRegistryEvent(ev sessions.Event) {
	seq := g.playback.Sequence(ev.SessionID)
	name := string(ev.Type)
	if ev.Type == sessions.EventParticipantJoined && ev.Reason == sessions.ReasonAdmitted {
		name = EventParticipantAdmitted
	}
	g.out.Broadcast(ev.SessionID, name, seq, ev)

	if g.attendance != nil {
		g.attendance.Record(ev)
	}

	switch ev.Type {
	case sessions.EventParticipantLeft:
		if g.recommender.Forget(ev.VideoID, ev.UserID) {
			g.logger.Debug("pending speed change dropped on leave",
				zap.String("session_id", ev.SessionID), zap.String("user_id", ev.UserID))
		}
	case sessions.EventSessionEnded:
		if ev.Session != nil && ev.Session.Settings.RecordSession && g.transcripts != nil {
			go g.exportTranscript(*ev.Session)
		}
	}
}

// exportTranscript runs after the ending mutation released the session lock.
func (g *Gateway) exportTranscript(s models.Session) {
	msgs, err := g.registry.Messages(s.ID)
	if err != nil {
		g.logger.Warn("transcript export skipped", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	job := models.TranscriptJob{
		SessionID: s.ID,
		VideoID:   s.VideoID,
		HostID:    s.HostID,
		Name:      s.Name,
		StartedAt: s.StartTime,
		Messages:  msgs,
	}
	if s.EndTime != nil {
		job.EndedAt = *s.EndTime
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.exportWait)
	defer cancel()
	if err := g.transcripts.EnqueueTranscript(ctx, job); err != nil {
		g.logger.Error("enqueue transcript export failed", zap.String("session_id", s.ID), zap.Error(err))
		return
	}
	g.logger.Info("transcript export enqueued", zap.String("session_id", s.ID), zap.Int("messages", len(msgs)))
}

func (g *Gateway) onControlAccepted(ev models.ControlEvent, snap models.PlaybackSnapshot) {
	g.out.Broadcast(ev.SessionID, EventControlChanged, ev.Sequence, ControlChanged{
		Action:    ev.Action,
		Value:     ev.Value,
		Sequence:  ev.Sequence,
		ActorID:   ev.ActorID,
		Timestamp: ev.Timestamp.UnixMilli(),
		Playback:  snap,
	})
}

// onSpeedApplied tells the viewer in every active session on the video.
func (g *Gateway) onSpeedApplied(videoID, userID string, speed float64) {
	for _, s := range g.registry.List(sessions.Filter{VideoID: videoID, Status: models.SessionActive}) {
		g.out.SendToUser(s.ID, userID, EventSpeedApplied, g.playback.Sequence(s.ID), SpeedApplied{VideoID: videoID, Speed: speed})
	}
}

// fanOutAnnotation delivers an annotation event to every active session on the video,
// restricted to viewers allowed to read it.
func (g *Gateway) fanOutAnnotation(event string, a models.Annotation, payload interface{}) {
	audience := models.Audience{AuthorID: a.UserID, Scope: a.Scope}
	for _, s := range g.registry.List(sessions.Filter{VideoID: a.VideoID, Status: models.SessionActive}) {
		g.out.BroadcastTo(s.ID, event, g.playback.Sequence(s.ID), payload, audience)
	}
}
