package models

import "time"

// ControlAction is a playback command.
type ControlAction string

const (
	ActionPlay  ControlAction = "play"
	ActionPause ControlAction = "pause"
	ActionSeek  ControlAction = "seek"
)

// Valid reports whether a is a known action.
func (a ControlAction) Valid() bool {
	switch a {
	case ActionPlay, ActionPause, ActionSeek:
		return true
	}
	return false
}

// PlaybackStatus is the synchronizer state.
type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "playing"
	StatusPaused  PlaybackStatus = "paused"
)

// ControlEvent is an accepted, immutable playback command.
type ControlEvent struct {
	SessionID string        `json:"session_id"`
	ActorID   string        `json:"actor_id"`
	Action    ControlAction `json:"action"`
	Value     *float64      `json:"value,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Sequence  uint64        `json:"sequence"`
}

// PlaybackSnapshot is the authoritative position derived from the anchor.
type PlaybackSnapshot struct {
	SessionID       string         `json:"session_id"`
	Status          PlaybackStatus `json:"status"`
	CurrentTime     float64        `json:"current_time"`
	Sequence        uint64         `json:"sequence"`
	AnchorTime      float64        `json:"anchor_time"`
	AnchorWallClock time.Time      `json:"anchor_wall_clock"`
	ServerTime      time.Time      `json:"server_time"`
}
