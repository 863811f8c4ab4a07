package transcripts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/watchparty/internal/models"
)

// ErrNotFound is returned when a session has no archived transcript.
var ErrNotFound = errors.New("transcript not found")

// Repository handles session_transcripts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a transcripts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save records an exported transcript. Re-exports overwrite the previous row.
func (r *Repository) Save(ctx context.Context, t models.Transcript) error {
	const q = `INSERT INTO session_transcripts (session_id, video_id, s3_key, messages, exported_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET s3_key = EXCLUDED.s3_key, messages = EXCLUDED.messages, exported_at = EXCLUDED.exported_at`
	_, err := r.pool.Exec(ctx, q, t.SessionID, t.VideoID, t.S3Key, t.Messages, t.ExportedAt)
	return err
}

// Get returns the transcript of a session.
func (r *Repository) Get(ctx context.Context, sessionID string) (*models.Transcript, error) {
	const q = `SELECT session_id, video_id, s3_key, messages, exported_at FROM session_transcripts WHERE session_id = $1`
	var t models.Transcript
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&t.SessionID, &t.VideoID, &t.S3Key, &t.Messages, &t.ExportedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListByVideo returns the transcripts of a video, newest first.
func (r *Repository) ListByVideo(ctx context.Context, videoID string) ([]models.Transcript, error) {
	const q = `SELECT session_id, video_id, s3_key, messages, exported_at FROM session_transcripts WHERE video_id = $1 ORDER BY exported_at DESC`
	rows, err := r.pool.Query(ctx, q, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Transcript
	for rows.Next() {
		var t models.Transcript
		if err := rows.Scan(&t.SessionID, &t.VideoID, &t.S3Key, &t.Messages, &t.ExportedAt); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
