package sessionlog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AttendeeRow is one row for GET /sessions/:id/attendance.
type AttendeeRow struct {
	UserID       string     `json:"user_id"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	LeaveReason  string     `json:"leave_reason,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}

// Repository handles session_attendance.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when a participant becomes active in a session.
func (r *Repository) LogJoin(ctx context.Context, sessionID, videoID, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_attendance (session_id, video_id, user_id, joined_at) VALUES ($1, $2, $3, $4)`,
		sessionID, videoID, userID, at)
	return err
}

// LogLeave closes the most recent open row for this user in this session.
func (r *Repository) LogLeave(ctx context.Context, sessionID, userID, reason string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_attendance a SET left_at = $3, leave_reason = $4,
		        watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - a.joined_at))::BIGINT)
		 FROM (SELECT id FROM session_attendance WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE a.id = sub.id`,
		sessionID, userID, at, reason)
	return err
}

// CloseSession closes every open row of an ended session.
func (r *Repository) CloseSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE session_attendance SET left_at = $2, leave_reason = 'ended',
		        watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - joined_at))::BIGINT)
		 WHERE session_id = $1 AND left_at IS NULL`,
		sessionID, at)
	return err
}

// ListBySession returns attendance for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]AttendeeRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, joined_at, left_at, leave_reason, watch_seconds
		 FROM session_attendance WHERE session_id = $1 ORDER BY joined_at DESC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []AttendeeRow
	for rows.Next() {
		var row AttendeeRow
		if err := rows.Scan(&row.UserID, &row.JoinedAt, &row.LeftAt, &row.LeaveReason, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
