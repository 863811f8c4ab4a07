package annotations

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/watchparty/internal/models"
)

// Repository persists annotations, replies and likes in Postgres. It implements Persister.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an annotations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadVideo returns every annotation of a video with its replies and likers.
func (r *Repository) LoadVideo(ctx context.Context, videoID string) ([]Loaded, error) {
	const annotationsQuery = `SELECT id, video_id, user_id, user_name, user_role, time_code, type, content,
			visibility, group_id, course_id, tags, color, created_at, updated_at
		FROM annotations WHERE video_id = $1 ORDER BY time_code, created_at`
	rows, err := r.pool.Query(ctx, annotationsQuery, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Loaded
	byID := make(map[string]int)
	for rows.Next() {
		var a models.Annotation
		var visibility models.Visibility
		var groupID, courseID string
		if err := rows.Scan(&a.ID, &a.VideoID, &a.UserID, &a.UserName, &a.UserRole, &a.TimeCode, &a.Type, &a.Content,
			&visibility, &groupID, &courseID, &a.Tags, &a.Color, &a.Created, &a.Updated); err != nil {
			return nil, err
		}
		scope, err := models.ParseScope(visibility, groupID, courseID)
		if err != nil {
			// rows written by this service always carry a valid pairing
			scope = models.PrivateScope{}
		}
		a.Scope = scope
		byID[a.ID] = len(out)
		out = append(out, Loaded{Annotation: a, ReplyLikers: make(map[string][]string)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	const repliesQuery = `SELECT r.id, r.annotation_id, r.user_id, r.user_name, r.user_role, r.content, r.created_at, r.updated_at
		FROM annotation_replies r JOIN annotations a ON a.id = r.annotation_id
		WHERE a.video_id = $1 ORDER BY r.created_at`
	rows, err = r.pool.Query(ctx, repliesQuery, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	replyParent := make(map[string]int)
	for rows.Next() {
		var rp models.Reply
		if err := rows.Scan(&rp.ID, &rp.AnnotationID, &rp.UserID, &rp.UserName, &rp.UserRole, &rp.Content, &rp.Created, &rp.Updated); err != nil {
			return nil, err
		}
		i, ok := byID[rp.AnnotationID]
		if !ok {
			continue
		}
		out[i].Annotation.Replies = append(out[i].Annotation.Replies, rp)
		replyParent[rp.ID] = i
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const likesQuery = `SELECT l.target_id, l.user_id FROM annotation_likes l WHERE l.video_id = $1`
	rows, err = r.pool.Query(ctx, likesQuery, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var targetID, userID string
		if err := rows.Scan(&targetID, &userID); err != nil {
			return nil, err
		}
		if i, ok := byID[targetID]; ok {
			out[i].Likers = append(out[i].Likers, userID)
		} else if i, ok := replyParent[targetID]; ok {
			out[i].ReplyLikers[targetID] = append(out[i].ReplyLikers[targetID], userID)
		}
	}
	return out, rows.Err()
}

// SaveAnnotation inserts or updates an annotation.
func (r *Repository) SaveAnnotation(ctx context.Context, a models.Annotation) error {
	const query = `INSERT INTO annotations (id, video_id, user_id, user_name, user_role, time_code, type, content,
			visibility, group_id, course_id, tags, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET time_code = EXCLUDED.time_code, type = EXCLUDED.type,
			content = EXCLUDED.content, visibility = EXCLUDED.visibility, group_id = EXCLUDED.group_id,
			course_id = EXCLUDED.course_id, tags = EXCLUDED.tags, color = EXCLUDED.color,
			updated_at = EXCLUDED.updated_at`
	groupID, courseID := models.ScopeIDs(a.Scope)
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := r.pool.Exec(ctx, query, a.ID, a.VideoID, a.UserID, a.UserName, a.UserRole, a.TimeCode, a.Type, a.Content,
		a.Scope.Visibility(), groupID, courseID, tags, a.Color, a.Created, a.Updated)
	return err
}

// DeleteAnnotation removes an annotation; replies and likes cascade.
func (r *Repository) DeleteAnnotation(ctx context.Context, id string) error {
	const query = `DELETE FROM annotations WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// SaveReply inserts or updates a reply.
func (r *Repository) SaveReply(ctx context.Context, rp models.Reply) error {
	const query = `INSERT INTO annotation_replies (id, annotation_id, user_id, user_name, user_role, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, rp.ID, rp.AnnotationID, rp.UserID, rp.UserName, rp.UserRole, rp.Content, rp.Created, rp.Updated)
	return err
}

// DeleteReply removes a reply and its likes.
func (r *Repository) DeleteReply(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM annotation_likes WHERE target_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM annotation_replies WHERE id = $1`, id)
		return err
	})
}

// SetLike adds or removes one user's like on an annotation or reply.
func (r *Repository) SetLike(ctx context.Context, targetID, userID string, liked bool) error {
	if !liked {
		const query = `DELETE FROM annotation_likes WHERE target_id = $1 AND user_id = $2`
		_, err := r.pool.Exec(ctx, query, targetID, userID)
		return err
	}
	const query = `INSERT INTO annotation_likes (target_id, user_id, video_id)
		SELECT $1, $2, COALESCE(
			(SELECT video_id FROM annotations WHERE id = $1),
			(SELECT a.video_id FROM annotation_replies rp JOIN annotations a ON a.id = rp.annotation_id WHERE rp.id = $1))
		ON CONFLICT (target_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, targetID, userID)
	return err
}

// VideoOf resolves an annotation or reply id to its video.
func (r *Repository) VideoOf(ctx context.Context, id string) (string, bool, error) {
	const query = `SELECT video_id FROM annotations WHERE id = $1
		UNION ALL
		SELECT a.video_id FROM annotation_replies rp JOIN annotations a ON a.id = rp.annotation_id WHERE rp.id = $1
		LIMIT 1`
	var videoID string
	err := r.pool.QueryRow(ctx, query, id).Scan(&videoID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return videoID, true, nil
}
