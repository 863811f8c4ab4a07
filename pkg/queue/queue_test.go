package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/watchparty/internal/models"
)

func TestTranscriptJobEnvelope(t *testing.T) {
	in := models.TranscriptJob{
		SessionID: "s1",
		VideoID:   "v1",
		HostID:    "alice",
		StartedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Messages:  []models.Message{{ID: "m1", Kind: models.MessageChat, Content: "hi"}},
	}
	job, err := NewJob(JobTypeTranscriptExport, in)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	job.Attempt = 2

	out, err := DecodeTranscript(&job)
	require.NoError(t, err)
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, 2, out.Attempts)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "hi", out.Messages[0].Content)
}

func TestDecodeTranscript_Errors(t *testing.T) {
	_, err := DecodeTranscript(&Job{Type: "email"})
	assert.ErrorContains(t, err, "unknown job type")

	_, err = DecodeTranscript(&Job{Type: JobTypeTranscriptExport, Payload: []byte(`{"session_id":`)})
	assert.ErrorContains(t, err, "unmarshal payload")
}
