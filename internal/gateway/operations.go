package gateway

import (
	"context"

	"github.com/aura-webinar/watchparty/internal/annotations"
	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/models"
	"github.com/aura-webinar/watchparty/internal/recommender"
	"github.com/aura-webinar/watchparty/internal/sessions"
)

// CreateSessionRequest starts a session. A nil Settings uses the defaults.
type CreateSessionRequest struct {
	VideoID  string                  `json:"video_id" binding:"required"`
	Name     string                  `json:"name"`
	CourseID string                  `json:"course_id"`
	GroupID  string                  `json:"group_id"`
	Settings *models.SessionSettings `json:"settings"`
}

// JoinResult is returned on create and join: the session as seen by the caller plus the
// authoritative playback position.
type JoinResult struct {
	models.SessionView
	Playback models.PlaybackSnapshot `json:"playback"`
}

// ControlRequest is a playback command.
type ControlRequest struct {
	Action   models.ControlAction `json:"action"`
	Value    *float64             `json:"value,omitempty"`
	Duration float64              `json:"duration,omitempty"`
}

// RecommendationRequest is one analysis tick. With a SessionID the video comes from the
// session and a paused session suppresses analysis.
type RecommendationRequest struct {
	SessionID  string  `json:"session_id,omitempty"`
	VideoID    string  `json:"video_id,omitempty"`
	TimeCode   float64 `json:"time_code"`
	Transcript string  `json:"transcript,omitempty"`
	Paused     bool    `json:"paused,omitempty"`
}

// EventsResult is the gap-fill answer.
type EventsResult struct {
	Events   []models.ControlEvent   `json:"events"`
	Complete bool                    `json:"complete"`
	Playback models.PlaybackSnapshot `json:"playback"`
}

// CreateSession starts a session hosted by req.
func (g *Gateway) CreateSession(ctx context.Context, req models.Requester, in CreateSessionRequest) (JoinResult, error) {
	settings := models.DefaultSessionSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}
	s, err := g.registry.Create(req.UserID, req.DisplayName, in.VideoID, sessions.CreateOptions{
		Name:     in.Name,
		CourseID: in.CourseID,
		GroupID:  in.GroupID,
		Settings: settings,
	})
	if err != nil {
		return JoinResult{}, err
	}
	return g.joinResult(s.ID, req.UserID)
}

// JoinSession adds req to a session.
func (g *Gateway) JoinSession(ctx context.Context, req models.Requester, sessionID string) (JoinResult, error) {
	v, err := g.registry.Join(sessionID, req.UserID, req.DisplayName)
	if err != nil {
		return JoinResult{}, err
	}
	return JoinResult{SessionView: v, Playback: g.playback.Reconcile(sessionID)}, nil
}

// GetSession returns the session as seen by req.
func (g *Gateway) GetSession(ctx context.Context, req models.Requester, sessionID string) (JoinResult, error) {
	return g.joinResult(sessionID, req.UserID)
}

func (g *Gateway) joinResult(sessionID, userID string) (JoinResult, error) {
	v, err := g.registry.View(sessionID, userID)
	if err != nil {
		return JoinResult{}, err
	}
	return JoinResult{SessionView: v, Playback: g.playback.Reconcile(sessionID)}, nil
}

// ListSessions lists sessions.
func (g *Gateway) ListSessions(ctx context.Context, f sessions.Filter) []models.Session {
	return g.registry.List(f)
}

// LeaveSession removes req from the session. Leaving twice is not an error.
func (g *Gateway) LeaveSession(ctx context.Context, req models.Requester, sessionID string) error {
	return g.registry.Leave(sessionID, req.UserID)
}

// AdmitParticipant admits a waiting participant. Host only.
func (g *Gateway) AdmitParticipant(ctx context.Context, req models.Requester, sessionID, userID string) (models.Participant, error) {
	return g.registry.Admit(sessionID, req.UserID, userID)
}

// RaiseHand raises req's hand.
func (g *Gateway) RaiseHand(ctx context.Context, req models.Requester, sessionID string) (models.Participant, error) {
	return g.registry.RaiseHand(sessionID, req.UserID)
}

// LowerHand lowers req's hand.
func (g *Gateway) LowerHand(ctx context.Context, req models.Requester, sessionID string) (models.Participant, error) {
	return g.registry.LowerHand(sessionID, req.UserID)
}

// GrantControl delegates control to userID. Host only.
func (g *Gateway) GrantControl(ctx context.Context, req models.Requester, sessionID, userID string) (models.Participant, error) {
	return g.registry.GrantControl(sessionID, req.UserID, userID)
}

// RevokeControl takes delegated control back from userID.
func (g *Gateway) RevokeControl(ctx context.Context, req models.Requester, sessionID, userID string) error {
	return g.registry.RevokeControl(sessionID, req.UserID, userID)
}

// EndSession ends the session. Host only.
func (g *Gateway) EndSession(ctx context.Context, req models.Requester, sessionID string) (models.Session, error) {
	return g.registry.End(sessionID, req.UserID)
}

// SendChat posts a chat message.
func (g *Gateway) SendChat(ctx context.Context, req models.Requester, sessionID, content string) (models.Message, error) {
	return g.registry.AddChat(sessionID, req.UserID, content)
}

// Heartbeat records client activity.
func (g *Gateway) Heartbeat(ctx context.Context, req models.Requester, sessionID string) {
	g.registry.Touch(sessionID, req.UserID)
}

// SubmitControl applies a playback command; control_changed is broadcast on acceptance.
func (g *Gateway) SubmitControl(ctx context.Context, req models.Requester, sessionID string, in ControlRequest) (models.ControlEvent, error) {
	return g.playback.SubmitControl(sessionID, req.UserID, in.Action, in.Value, in.Duration)
}

// Reconcile returns the authoritative playback position of a session.
func (g *Gateway) Reconcile(ctx context.Context, req models.Requester, sessionID string) (models.PlaybackSnapshot, error) {
	if _, err := g.registry.Get(sessionID); err != nil {
		return models.PlaybackSnapshot{}, err
	}
	return g.playback.Reconcile(sessionID), nil
}

// Events returns the control events after afterSeq for gap filling.
func (g *Gateway) Events(ctx context.Context, req models.Requester, sessionID string, afterSeq uint64) (EventsResult, error) {
	if _, err := g.registry.Get(sessionID); err != nil {
		return EventsResult{}, err
	}
	events, complete := g.playback.Events(sessionID, afterSeq)
	if events == nil {
		events = []models.ControlEvent{}
	}
	return EventsResult{Events: events, Complete: complete, Playback: g.playback.Reconcile(sessionID)}, nil
}

// CreateAnnotation stores an annotation. With a sessionID the session must allow
// annotations and its video is used when none is given.
func (g *Gateway) CreateAnnotation(ctx context.Context, req models.Requester, sessionID string, in annotations.CreateInput) (models.Annotation, error) {
	if sessionID != "" {
		s, err := g.registry.CheckAnnotate(sessionID, req.UserID)
		if err != nil {
			return models.Annotation{}, err
		}
		if in.VideoID == "" {
			in.VideoID = s.VideoID
		} else if in.VideoID != s.VideoID {
			return models.Annotation{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "video_id does not match the session")
		}
	}
	a, err := g.annotations.Create(ctx, in, req)
	if err != nil {
		return models.Annotation{}, err
	}
	g.fanOutAnnotation(EventAnnotationCreated, a, a)
	return a, nil
}

// GetAnnotation returns one readable annotation.
func (g *Gateway) GetAnnotation(ctx context.Context, req models.Requester, id string) (models.Annotation, error) {
	return g.annotations.Get(ctx, id, req)
}

// QueryAnnotations runs a visibility-enforced query.
func (g *Gateway) QueryAnnotations(ctx context.Context, req models.Requester, videoID string, f annotations.Filter) (annotations.Page, error) {
	if videoID == "" {
		return annotations.Page{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "video_id is required")
	}
	return g.annotations.Query(ctx, videoID, req, f)
}

// AnnotationStats summarizes the annotations req can see.
func (g *Gateway) AnnotationStats(ctx context.Context, req models.Requester, videoID string) (annotations.Stats, error) {
	return g.annotations.Stats(ctx, videoID, req)
}

// UpdateAnnotation edits an annotation. Author only.
func (g *Gateway) UpdateAnnotation(ctx context.Context, req models.Requester, id string, p annotations.Patch) (models.Annotation, error) {
	a, err := g.annotations.Update(ctx, id, req, p)
	return g.updated(a, err)
}

// ReplyAnnotation adds a reply.
func (g *Gateway) ReplyAnnotation(ctx context.Context, req models.Requester, id, content string) (models.Reply, error) {
	a, r, err := g.annotations.Reply(ctx, id, req, content)
	if _, err := g.updated(a, err); err != nil {
		return models.Reply{}, err
	}
	return r, nil
}

// UpdateReply edits a reply. Reply author only.
func (g *Gateway) UpdateReply(ctx context.Context, req models.Requester, replyID, content string) (models.Annotation, error) {
	a, err := g.annotations.UpdateReply(ctx, replyID, req, content)
	return g.updated(a, err)
}

// DeleteReply removes a reply. Reply author only.
func (g *Gateway) DeleteReply(ctx context.Context, req models.Requester, replyID string) (models.Annotation, error) {
	a, err := g.annotations.DeleteReply(ctx, replyID, req)
	return g.updated(a, err)
}

// LikeAnnotation likes an annotation once per user.
func (g *Gateway) LikeAnnotation(ctx context.Context, req models.Requester, id string) (models.Annotation, error) {
	a, err := g.annotations.Like(ctx, id, req)
	return g.updated(a, err)
}

// UnlikeAnnotation removes req's like.
func (g *Gateway) UnlikeAnnotation(ctx context.Context, req models.Requester, id string) (models.Annotation, error) {
	a, err := g.annotations.Unlike(ctx, id, req)
	return g.updated(a, err)
}

// LikeReply likes a reply once per user.
func (g *Gateway) LikeReply(ctx context.Context, req models.Requester, replyID string) (models.Annotation, error) {
	a, err := g.annotations.LikeReply(ctx, replyID, req)
	return g.updated(a, err)
}

func (g *Gateway) updated(a models.Annotation, err error) (models.Annotation, error) {
	if err != nil {
		return models.Annotation{}, err
	}
	g.fanOutAnnotation(EventAnnotationUpdated, a, a)
	return a, nil
}

// DeleteAnnotation removes an annotation. Besides the author, the host of an active
// session on the video that belongs to the annotation's group or course may delete it.
func (g *Gateway) DeleteAnnotation(ctx context.Context, req models.Requester, id string) error {
	a, err := g.annotations.Delete(ctx, id, req, func(a models.Annotation) bool {
		groupID, courseID := models.ScopeIDs(a.Scope)
		return g.registry.HostsScope(req.UserID, a.VideoID, groupID, courseID)
	})
	if err != nil {
		return err
	}
	g.fanOutAnnotation(EventAnnotationDeleted, a, AnnotationDeleted{ID: a.ID, VideoID: a.VideoID})
	return nil
}

// RequestRecommendation analyzes the viewer's position. A nil recommendation means no
// analysis was due; it is not an error.
func (g *Gateway) RequestRecommendation(ctx context.Context, req models.Requester, in RecommendationRequest) (*models.SpeedRecommendation, error) {
	paused := in.Paused
	if in.SessionID != "" {
		v, err := g.registry.View(in.SessionID, req.UserID)
		if err != nil {
			return nil, err
		}
		if !v.Self.IsActive {
			return nil, apperr.New(apperr.KindForbidden, "not_participant", "You are not an active participant of this session")
		}
		if in.VideoID != "" && in.VideoID != v.Session.VideoID {
			return nil, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "video_id does not match the session")
		}
		in.VideoID = v.Session.VideoID
		if g.playback.Reconcile(in.SessionID).Status == models.StatusPaused {
			paused = true
		}
	}
	if in.VideoID == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "video_id is required")
	}
	if in.TimeCode < 0 {
		return nil, apperr.Newf(apperr.KindInvalidArgument, "invalid_argument", "time_code %.2f is negative", in.TimeCode)
	}
	rec, err := g.recommender.Analyze(ctx, recommender.AnalyzeRequest{
		VideoID:    in.VideoID,
		UserID:     req.UserID,
		TimeCode:   in.TimeCode,
		Transcript: in.Transcript,
		Paused:     paused,
	})
	if err != nil || rec == nil {
		return rec, err
	}
	if in.SessionID != "" {
		g.out.SendToUser(in.SessionID, req.UserID, EventRecommendation, g.playback.Sequence(in.SessionID), rec)
	}
	return rec, nil
}

// SpeedState is the viewer's current speed for a video.
type SpeedState struct {
	VideoID string                      `json:"video_id"`
	Applied float64                     `json:"applied_speed"`
	Pending bool                        `json:"pending"`
	Latest  *models.SpeedRecommendation `json:"latest,omitempty"`
}

// GetSpeedState reports the applied speed, whether a change is pending and the last
// recommendation for req on a video.
func (g *Gateway) GetSpeedState(ctx context.Context, req models.Requester, videoID string) SpeedState {
	st := SpeedState{
		VideoID: videoID,
		Applied: g.recommender.Applied(videoID, req.UserID),
		Pending: g.recommender.Pending(videoID, req.UserID),
	}
	if rec, ok := g.recommender.Latest(videoID, req.UserID); ok {
		st.Latest = &rec
	}
	return st
}

// CancelSpeedChange drops req's pending speed change for a video.
func (g *Gateway) CancelSpeedChange(ctx context.Context, req models.Requester, videoID string) bool {
	return g.recommender.Cancel(videoID, req.UserID)
}

// SetSpeed records req's manual speed choice and returns the clamped value.
func (g *Gateway) SetSpeed(ctx context.Context, req models.Requester, videoID string, speed float64) float64 {
	return g.recommender.SetApplied(videoID, req.UserID, speed)
}
