package gateway

import (
	"context"
	"encoding/json"

	"github.com/aura-webinar/watchparty/internal/annotations"
	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/models"
)

// Requests accepted over the WebSocket.
const (
	OpCreateSession     = "create_session"
	OpJoinSession       = "join_session"
	OpLeaveSession      = "leave_session"
	OpRaiseHand         = "raise_hand"
	OpLowerHand         = "lower_hand"
	OpGrantControl      = "grant_control"
	OpRevokeControl     = "revoke_control"
	OpAdmitParticipant  = "admit_participant"
	OpEndSession        = "end_session"
	OpSubmitControl     = "submit_control"
	OpReconcile         = "reconcile"
	OpSyncEvents        = "sync_events"
	OpChatMessage       = "chat_message"
	OpHeartbeat         = "heartbeat"
	OpCreateAnnotation  = "create_annotation"
	OpUpdateAnnotation  = "update_annotation"
	OpDeleteAnnotation  = "delete_annotation"
	OpReplyAnnotation   = "reply_annotation"
	OpUpdateReply       = "update_reply"
	OpDeleteReply       = "delete_reply"
	OpLikeAnnotation    = "like_annotation"
	OpUnlikeAnnotation  = "unlike_annotation"
	OpLikeReply         = "like_reply"
	OpQueryAnnotations  = "query_annotations"
	OpAnnotationStats   = "annotation_stats"
	OpRequestSpeed      = "request_recommendation"
	OpCancelSpeedChange = "cancel_speed_change"
	OpSetSpeed          = "set_speed"
	OpSpeedState        = "speed_state"
)

type userPayload struct {
	UserID string `json:"user_id"`
}

type idPayload struct {
	ID string `json:"id"`
}

type contentPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type syncPayload struct {
	AfterSequence uint64 `json:"after_sequence"`
}

type updateAnnotationPayload struct {
	ID string `json:"id"`
	annotations.Patch
}

type queryPayload struct {
	VideoID string `json:"video_id"`
	annotations.Filter
}

type videoPayload struct {
	VideoID string  `json:"video_id"`
	Speed   float64 `json:"speed,omitempty"`
}

// Dispatch routes one client request for sessionID. The result is sent back to the caller
// only; state changes reach the other viewers as broadcast events.
func (g *Gateway) Dispatch(ctx context.Context, req models.Requester, sessionID, op string, data json.RawMessage) (interface{}, error) {
	switch op {
	case OpCreateSession:
		var in CreateSessionRequest
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.CreateSession(ctx, req, in)
	case OpJoinSession:
		return g.JoinSession(ctx, req, sessionID)
	case OpLeaveSession:
		return nil, g.LeaveSession(ctx, req, sessionID)
	case OpRaiseHand:
		return g.RaiseHand(ctx, req, sessionID)
	case OpLowerHand:
		return g.LowerHand(ctx, req, sessionID)
	case OpGrantControl, OpRevokeControl, OpAdmitParticipant:
		var in userPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		switch op {
		case OpGrantControl:
			return g.GrantControl(ctx, req, sessionID, in.UserID)
		case OpRevokeControl:
			return nil, g.RevokeControl(ctx, req, sessionID, in.UserID)
		}
		return g.AdmitParticipant(ctx, req, sessionID, in.UserID)
	case OpEndSession:
		return g.EndSession(ctx, req, sessionID)
	case OpSubmitControl:
		var in ControlRequest
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.SubmitControl(ctx, req, sessionID, in)
	case OpReconcile:
		return g.Reconcile(ctx, req, sessionID)
	case OpSyncEvents:
		var in syncPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.Events(ctx, req, sessionID, in.AfterSequence)
	case OpChatMessage:
		var in contentPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.SendChat(ctx, req, sessionID, in.Content)
	case OpHeartbeat:
		g.Heartbeat(ctx, req, sessionID)
		return nil, nil
	case OpCreateAnnotation:
		var in annotations.CreateInput
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.CreateAnnotation(ctx, req, sessionID, in)
	case OpUpdateAnnotation:
		var in updateAnnotationPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.UpdateAnnotation(ctx, req, in.ID, in.Patch)
	case OpQueryAnnotations:
		var in queryPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		if in.VideoID == "" {
			s, err := g.registry.Get(sessionID)
			if err != nil {
				return nil, err
			}
			in.VideoID = s.VideoID
		}
		return g.QueryAnnotations(ctx, req, in.VideoID, in.Filter)
	case OpAnnotationStats:
		var in videoPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.AnnotationStats(ctx, req, in.VideoID)
	case OpReplyAnnotation, OpUpdateReply:
		var in contentPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		if op == OpReplyAnnotation {
			return g.ReplyAnnotation(ctx, req, in.ID, in.Content)
		}
		return g.UpdateReply(ctx, req, in.ID, in.Content)
	case OpDeleteAnnotation, OpDeleteReply, OpLikeAnnotation, OpUnlikeAnnotation, OpLikeReply:
		var in idPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.byID(ctx, req, op, in.ID)
	case OpRequestSpeed:
		var in RecommendationRequest
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		if in.SessionID == "" {
			in.SessionID = sessionID
		}
		return g.RequestRecommendation(ctx, req, in)
	case OpCancelSpeedChange:
		var in videoPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return map[string]bool{"cancelled": g.CancelSpeedChange(ctx, req, in.VideoID)}, nil
	case OpSetSpeed:
		var in videoPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return SpeedApplied{VideoID: in.VideoID, Speed: g.SetSpeed(ctx, req, in.VideoID, in.Speed)}, nil
	case OpSpeedState:
		var in videoPayload
		if err := decode(data, &in); err != nil {
			return nil, err
		}
		return g.GetSpeedState(ctx, req, in.VideoID), nil
	}
	return nil, apperr.Newf(apperr.KindInvalidArgument, "unknown_event", "unknown event %q", op)
}

func (g *Gateway) byID(ctx context.Context, req models.Requester, op, id string) (interface{}, error) {
	switch op {
	case OpDeleteAnnotation:
		if err := g.DeleteAnnotation(ctx, req, id); err != nil {
			return nil, err
		}
		return idPayload{ID: id}, nil
	case OpDeleteReply:
		return g.DeleteReply(ctx, req, id)
	case OpLikeAnnotation:
		return g.LikeAnnotation(ctx, req, id)
	case OpUnlikeAnnotation:
		return g.UnlikeAnnotation(ctx, req, id)
	}
	return g.LikeReply(ctx, req, id)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Newf(apperr.KindInvalidArgument, "invalid_argument", "malformed payload: %v", err)
	}
	return nil
}
