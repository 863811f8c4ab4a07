package models

import "time"

// TranscriptJob asks the worker to archive an ended session's messages.
type TranscriptJob struct {
	SessionID string    `json:"session_id"`
	VideoID   string    `json:"video_id"`
	HostID    string    `json:"host_id"`
	Name      string    `json:"name,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Messages  []Message `json:"messages"`
	Attempts  int       `json:"attempts,omitempty"`
}

// Transcript is an archived session transcript.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	VideoID    string    `json:"video_id"`
	S3Key      string    `json:"s3_key"`
	Messages   int       `json:"messages"`
	ExportedAt time.Time `json:"exported_at"`
}
