package sessions

import "github.com/aura-webinar/watchparty/internal/models"

// EventType names a registry change. The values double as WebSocket event names.
type EventType string

const (
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantWaiting EventType = "participant_waiting"
	EventParticipantLeft    EventType = "participant_left"
	EventHostChanged        EventType = "host_changed"
	EventHandRaised         EventType = "hand_raised"
	EventHandLowered        EventType = "hand_lowered"
	EventControlGranted     EventType = "control_granted"
	EventControlRevoked     EventType = "control_revoked"
	EventChatMessage        EventType = "chat_message"
	EventSessionEnded       EventType = "session_ended"
)

// Reasons attached to events.
const (
	ReasonLeft       = "left"
	ReasonTimeout    = "timeout"
	ReasonAdmitted   = "admitted"
	ReasonRejoined   = "rejoined"
	ReasonAutoAccept = "auto_accept"
	ReasonHost       = "host"
	ReasonReleased   = "released"
	ReasonEnded      = "ended"
)

// Event is emitted for every accepted registry mutation, in per-session order.
type Event struct {
	Type        EventType           `json:"type"`
	SessionID   string              `json:"session_id"`
	VideoID     string              `json:"video_id"`
	UserID      string              `json:"user_id,omitempty"`
	ActorID     string              `json:"actor_id,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Participant *models.Participant `json:"participant,omitempty"`
	Message     *models.Message     `json:"message,omitempty"`
	Session     *models.Session     `json:"session,omitempty"` // set on session_ended
}

// Notifier receives registry events. It is called while the session is locked, so it
// must not call back into the registry for the same session and must not block.
type Notifier func(Event)
