package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a group viewing session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// ParticipantRole is a participant's role inside one session.
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleParticipant ParticipantRole = "participant"
)

// SessionSettings controls what participants may do in a session.
type SessionSettings struct {
	AllowParticipantControl bool `json:"allow_participant_control"`
	AllowChat               bool `json:"allow_chat"`
	AllowAnnotations        bool `json:"allow_annotations"`
	RequireHandRaise        bool `json:"require_hand_raise"`
	AutoAcceptHandRaise     bool `json:"auto_accept_hand_raise"`
	RecordSession           bool `json:"record_session"`
	WaitingRoom             bool `json:"waiting_room"`
	MaxParticipants         int  `json:"max_participants,omitempty"` // 0 = unlimited
}

// DefaultSessionSettings mirrors the defaults a host sees when starting group viewing.
func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		AllowParticipantControl: false,
		AllowChat:               true,
		AllowAnnotations:        true,
		RequireHandRaise:        true,
		AutoAcceptHandRaise:     false,
		RecordSession:           false,
	}
}

// Session is a bounded group-viewing instance of one video.
type Session struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	VideoID   string          `json:"video_id"`
	HostID    string          `json:"host_id"`
	CourseID  string          `json:"course_id,omitempty"`
	GroupID   string          `json:"group_id,omitempty"`
	Status    SessionStatus   `json:"status"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Settings  SessionSettings `json:"settings"`
}

// Participant is one member of a session.
type Participant struct {
	UserID       string          `json:"user_id"`
	DisplayName  string          `json:"display_name"`
	Role         ParticipantRole `json:"role"`
	JoinTime     time.Time       `json:"join_time"`
	LeaveTime    *time.Time      `json:"leave_time,omitempty"`
	IsActive     bool            `json:"is_active"`
	Pending      bool            `json:"pending,omitempty"` // waiting room, not yet admitted
	HasControl   bool            `json:"has_control"`
	RaisedHand   bool            `json:"raised_hand"`
	LastActivity time.Time       `json:"last_activity"`
}

// MessageKind distinguishes system-authored transcript entries from chat.
type MessageKind string

const (
	MessageSystem MessageKind = "system"
	MessageChat   MessageKind = "chat"
)

// SystemUserID authors system messages.
const SystemUserID = "system"

// Message is one entry of a session's chat/audit transcript.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	UserID    string      `json:"user_id"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionView is what a joining participant receives.
type SessionView struct {
	Session      Session       `json:"session"`
	Participants []Participant `json:"participants"`
	Self         Participant   `json:"self"`
}
