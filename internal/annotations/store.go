// Package annotations stores time-indexed collaborative annotations and enforces their
// visibility scopes.
package annotations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
)

var (
	errAnnotationNotFound = apperr.New(apperr.KindNotFound, "annotation_not_found", "annotation not found")
	errReplyNotFound      = apperr.New(apperr.KindNotFound, "reply_not_found", "reply not found")
	errNotAuthor          = apperr.New(apperr.KindForbidden, "not_author", "only the author can change this")
	errNotInScope         = apperr.New(apperr.KindForbidden, "not_in_scope", "author is not a member of the target group or course")
)

// Loaded is one persisted annotation together with who liked it and its replies.
type Loaded struct {
	Annotation  models.Annotation
	Likers      []string
	ReplyLikers map[string][]string // reply id -> user ids
}

// Persister is the optional write-through backend. Every call happens before the in-memory
// change is made visible, so a failed write leaves the store unchanged.
type Persister interface {
	LoadVideo(ctx context.Context, videoID string) ([]Loaded, error)
	SaveAnnotation(ctx context.Context, a models.Annotation) error
	DeleteAnnotation(ctx context.Context, id string) error
	SaveReply(ctx context.Context, r models.Reply) error
	DeleteReply(ctx context.Context, id string) error
	SetLike(ctx context.Context, targetID, userID string, liked bool) error
	// VideoOf resolves an annotation or reply id to its video so the shard can be loaded.
	VideoOf(ctx context.Context, id string) (string, bool, error)
}

type reply struct {
	r      models.Reply
	likers map[string]struct{}
}

// record guards one annotation's mutable fields. The like count is atomic so readers can
// rank by likes without taking the lock.
type record struct {
	mu      sync.Mutex
	a       models.Annotation
	likes   atomic.Int64
	likers  map[string]struct{}
	replies []*reply
}

func (rec *record) snapshot() models.Annotation {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshotLocked()
}

func (rec *record) snapshotLocked() models.Annotation {
	a := rec.a
	a.Likes = rec.likes.Load()
	a.Tags = append([]string{}, rec.a.Tags...)
	a.Replies = make([]models.Reply, 0, len(rec.replies))
	for _, rp := range rec.replies {
		r := rp.r
		r.Likes = int64(len(rp.likers))
		a.Replies = append(a.Replies, r)
	}
	return a
}

type shard struct {
	mu     sync.RWMutex
	byID   map[string]*record
	loaded bool
}

type location struct {
	videoID      string
	annotationID string
}

// Store holds annotations sharded by video.
type Store struct {
	mu     sync.RWMutex
	shards map[string]*shard
	index  map[string]location // annotation and reply ids

	persist Persister
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a store. persist may be nil for a memory-only store.
func NewStore(persist Persister, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		shards:  make(map[string]*shard),
		index:   make(map[string]location),
		persist: persist,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the wall clock (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) shard(ctx context.Context, videoID string) (*shard, error) {
	s.mu.Lock()
	sh, ok := s.shards[videoID]
	if !ok {
		sh = &shard{byID: make(map[string]*record), loaded: s.persist == nil}
		s.shards[videoID] = sh
	}
	s.mu.Unlock()

	sh.mu.RLock()
	loaded := sh.loaded
	sh.mu.RUnlock()
	if loaded {
		return sh, nil
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.loaded {
		return sh, nil
	}
	rows, err := s.persist.LoadVideo(ctx, videoID)
	if err != nil {
		s.logger.Error("load annotations failed", zap.String("video_id", videoID), zap.Error(err))
		return nil, apperr.Newf(apperr.KindUnavailable, "storage_unavailable", "annotations for video %s are unavailable", videoID)
	}
	s.mu.Lock()
	for _, l := range rows {
		rec := &record{a: l.Annotation, likers: toSet(l.Likers)}
		rec.likes.Store(int64(len(rec.likers)))
		for _, r := range l.Annotation.Replies {
			rec.replies = append(rec.replies, &reply{r: r, likers: toSet(l.ReplyLikers[r.ID])})
			s.index[r.ID] = location{videoID: videoID, annotationID: r.AnnotationID}
		}
		rec.a.Replies = nil
		sh.byID[rec.a.ID] = rec
		s.index[rec.a.ID] = location{videoID: videoID, annotationID: rec.a.ID}
	}
	s.mu.Unlock()
	sh.loaded = true
	s.logger.Debug("annotations loaded", zap.String("video_id", videoID), zap.Int("count", len(rows)))
	return sh, nil
}

func (s *Store) locate(ctx context.Context, id string) (location, bool) {
	s.mu.RLock()
	loc, ok := s.index[id]
	s.mu.RUnlock()
	if ok || s.persist == nil {
		return loc, ok
	}
	videoID, found, err := s.persist.VideoOf(ctx, id)
	if err != nil || !found {
		return location{}, false
	}
	if _, err := s.shard(ctx, videoID); err != nil {
		return location{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok = s.index[id]
	return loc, ok
}

// lookup returns the record for an annotation id or NotFound.
func (s *Store) lookup(ctx context.Context, annotationID string) (*shard, *record, error) {
	loc, ok := s.locate(ctx, annotationID)
	if !ok || loc.annotationID != annotationID {
		return nil, nil, fmt.Errorf("annotation %s: %w", annotationID, errAnnotationNotFound)
	}
	sh, err := s.shard(ctx, loc.videoID)
	if err != nil {
		return nil, nil, err
	}
	sh.mu.RLock()
	rec, ok := sh.byID[annotationID]
	sh.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("annotation %s: %w", annotationID, errAnnotationNotFound)
	}
	return sh, rec, nil
}

// readable returns the record if the requester may see it. Unreadable annotations are
// reported as not found so their existence does not leak.
func (s *Store) readable(ctx context.Context, annotationID string, req models.Requester) (*shard, *record, error) {
	sh, rec, err := s.lookup(ctx, annotationID)
	if err != nil {
		return nil, nil, err
	}
	rec.mu.Lock()
	ok := req.CanRead(rec.a.UserID, rec.a.Scope)
	rec.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("annotation %s: %w", annotationID, errAnnotationNotFound)
	}
	return sh, rec, nil
}

func (s *Store) storageErr(op string, err error) error {
	s.logger.Error("annotation write failed", zap.String("op", op), zap.Error(err))
	return apperr.New(apperr.KindUnavailable, "storage_unavailable", "annotation storage is unavailable")
}

// CreateInput is a new annotation.
type CreateInput struct {
	VideoID    string                `json:"video_id"`
	TimeCode   float64               `json:"time_code"`
	Type       models.AnnotationType `json:"type"`
	Content    string                `json:"content"`
	Visibility models.Visibility     `json:"visibility"`
	GroupID    string                `json:"group_id,omitempty"`
	CourseID   string                `json:"course_id,omitempty"`
	Tags       []string              `json:"tags,omitempty"`
	Color      string                `json:"color,omitempty"`
}

func invalidVisibility(err error) error {
	return apperr.New(apperr.KindInvalidArgument, "invalid_visibility", err.Error())
}

// Create stores an annotation authored by author.
func (s *Store) Create(ctx context.Context, in CreateInput, author models.Requester) (models.Annotation, error) {
	if in.VideoID == "" {
		return models.Annotation{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "video_id is required")
	}
	if in.TimeCode < 0 {
		return models.Annotation{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "time_code must not be negative")
	}
	if in.Type == "" {
		in.Type = models.AnnotationNote
	}
	if !in.Type.Valid() {
		return models.Annotation{}, apperr.Newf(apperr.KindInvalidArgument, "invalid_argument", "unknown annotation type %q", in.Type)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return models.Annotation{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "content is required")
	}
	if in.Visibility == "" {
		in.Visibility = models.VisibilityPrivate
	}
	scope, err := models.ParseScope(in.Visibility, in.GroupID, in.CourseID)
	if err != nil {
		return models.Annotation{}, invalidVisibility(err)
	}
	if !author.CanPostTo(scope) {
		return models.Annotation{}, errNotInScope
	}

	sh, err := s.shard(ctx, in.VideoID)
	if err != nil {
		return models.Annotation{}, err
	}
	now := s.now()
	a := models.Annotation{
		ID:       uuid.New().String(),
		VideoID:  in.VideoID,
		UserID:   author.UserID,
		UserName: author.DisplayName,
		UserRole: author.Role,
		TimeCode: in.TimeCode,
		Type:     in.Type,
		Content:  content,
		Scope:    scope,
		Created:  now,
		Updated:  now,
		Tags:     normalizeTags(in.Tags),
		Color:    in.Color,
	}
	if s.persist != nil {
		if err := s.persist.SaveAnnotation(ctx, a); err != nil {
			return models.Annotation{}, s.storageErr("create", err)
		}
	}
	rec := &record{a: a, likers: make(map[string]struct{})}

	sh.mu.Lock()
	sh.byID[a.ID] = rec
	sh.mu.Unlock()
	s.mu.Lock()
	s.index[a.ID] = location{videoID: a.VideoID, annotationID: a.ID}
	s.mu.Unlock()

	metrics.AnnotationOps.WithLabelValues("create").Inc()
	return rec.snapshot(), nil
}

// Get returns one annotation if the requester may read it.
func (s *Store) Get(ctx context.Context, id string, req models.Requester) (models.Annotation, error) {
	_, rec, err := s.readable(ctx, id, req)
	if err != nil {
		return models.Annotation{}, err
	}
	return rec.snapshot(), nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Content    *string                `json:"content,omitempty"`
	Type       *models.AnnotationType `json:"type,omitempty"`
	TimeCode   *float64               `json:"time_code,omitempty"`
	Tags       *[]string              `json:"tags,omitempty"`
	Color      *string                `json:"color,omitempty"`
	Visibility *models.Visibility     `json:"visibility,omitempty"`
	GroupID    string                 `json:"group_id,omitempty"`
	CourseID   string                 `json:"course_id,omitempty"`
}

// Update applies a patch. Author only.
func (s *Store) Update(ctx context.Context, id string, req models.Requester, p Patch) (models.Annotation, error) {
	_, rec, err := s.readable(ctx, id, req)
	if err != nil {
		return models.Annotation{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.a.UserID != req.UserID {
		return models.Annotation{}, errNotAuthor
	}
	next := rec.a
	if p.Content != nil {
		c := strings.TrimSpace(*p.Content)
		if c == "" {
			return models.Annotation{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "content is required")
		}
		next.Content = c
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return models.Annotation{}, apperr.Newf(apperr.KindInvalidArgument, "invalid_argument", "unknown annotation type %q", *p.Type)
		}
		next.Type = *p.Type
	}
	if p.TimeCode != nil {
		if *p.TimeCode < 0 {
			return models.Annotation{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "time_code must not be negative")
		}
		next.TimeCode = *p.TimeCode
	}
	if p.Tags != nil {
		next.Tags = normalizeTags(*p.Tags)
	}
	if p.Color != nil {
		next.Color = *p.Color
	}
	if p.Visibility != nil {
		scope, err := models.ParseScope(*p.Visibility, p.GroupID, p.CourseID)
		if err != nil {
			return models.Annotation{}, invalidVisibility(err)
		}
		if !req.CanPostTo(scope) {
			return models.Annotation{}, errNotInScope
		}
		next.Scope = scope
	}
	next.Updated = s.now()
	if s.persist != nil {
		if err := s.persist.SaveAnnotation(ctx, next); err != nil {
			return models.Annotation{}, s.storageErr("update", err)
		}
	}
	rec.a = next
	metrics.AnnotationOps.WithLabelValues("update").Inc()
	return rec.snapshotLocked(), nil
}

// Delete removes an annotation. The author may always delete; anyone else needs
// canModerate to approve (e.g. the host of a session scoped to the annotation).
func (s *Store) Delete(ctx context.Context, id string, req models.Requester, canModerate func(models.Annotation) bool) (models.Annotation, error) {
	sh, rec, err := s.lookup(ctx, id)
	if err != nil {
		return models.Annotation{}, err
	}
	a := rec.snapshot()
	moderator := a.UserID != req.UserID && canModerate != nil && canModerate(a)
	if a.UserID != req.UserID && !moderator {
		if !req.CanRead(a.UserID, a.Scope) {
			return models.Annotation{}, fmt.Errorf("annotation %s: %w", id, errAnnotationNotFound)
		}
		return models.Annotation{}, errNotAuthor
	}
	if s.persist != nil {
		if err := s.persist.DeleteAnnotation(ctx, id); err != nil {
			return models.Annotation{}, s.storageErr("delete", err)
		}
	}

	sh.mu.Lock()
	delete(sh.byID, id)
	sh.mu.Unlock()
	s.mu.Lock()
	delete(s.index, id)
	for _, r := range a.Replies {
		delete(s.index, r.ID)
	}
	s.mu.Unlock()

	metrics.AnnotationOps.WithLabelValues("delete").Inc()
	if moderator {
		s.logger.Info("annotation removed by moderator", zap.String("annotation_id", id), zap.String("actor_id", req.UserID))
	}
	return a, nil
}

// Like records one like per user; repeated likes are no-ops.
func (s *Store) Like(ctx context.Context, id string, req models.Requester) (models.Annotation, error) {
	return s.setLike(ctx, id, req, true)
}

// Unlike removes the user's like, if any.
func (s *Store) Unlike(ctx context.Context, id string, req models.Requester) (models.Annotation, error) {
	return s.setLike(ctx, id, req, false)
}

func (s *Store) setLike(ctx context.Context, id string, req models.Requester, liked bool) (models.Annotation, error) {
	_, rec, err := s.readable(ctx, id, req)
	if err != nil {
		return models.Annotation{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	_, has := rec.likers[req.UserID]
	if has == liked {
		return rec.snapshotLocked(), nil
	}
	if s.persist != nil {
		if err := s.persist.SetLike(ctx, id, req.UserID, liked); err != nil {
			return models.Annotation{}, s.storageErr("like", err)
		}
	}
	if liked {
		rec.likers[req.UserID] = struct{}{}
		rec.likes.Add(1)
		metrics.AnnotationOps.WithLabelValues("like").Inc()
	} else {
		delete(rec.likers, req.UserID)
		rec.likes.Add(-1)
		metrics.AnnotationOps.WithLabelValues("unlike").Inc()
	}
	return rec.snapshotLocked(), nil
}

// Reply appends a reply to a readable annotation.
func (s *Store) Reply(ctx context.Context, annotationID string, req models.Requester, content string) (models.Annotation, models.Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Annotation{}, models.Reply{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "content is required")
	}
	_, rec, err := s.readable(ctx, annotationID, req)
	if err != nil {
		return models.Annotation{}, models.Reply{}, err
	}
	now := s.now()
	r := models.Reply{
		ID:           uuid.New().String(),
		AnnotationID: annotationID,
		UserID:       req.UserID,
		UserName:     req.DisplayName,
		UserRole:     req.Role,
		Content:      content,
		Created:      now,
		Updated:      now,
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if s.persist != nil {
		if err := s.persist.SaveReply(ctx, r); err != nil {
			return models.Annotation{}, models.Reply{}, s.storageErr("reply", err)
		}
	}
	rec.replies = append(rec.replies, &reply{r: r, likers: make(map[string]struct{})})
	s.mu.Lock()
	s.index[r.ID] = location{videoID: rec.a.VideoID, annotationID: annotationID}
	s.mu.Unlock()

	metrics.AnnotationOps.WithLabelValues("reply").Inc()
	return rec.snapshotLocked(), r, nil
}

// replyOf resolves a reply id to its parent record; the caller must hold rec.mu when
// using the returned index.
func (s *Store) replyOf(ctx context.Context, replyID string, req models.Requester) (*record, error) {
	loc, ok := s.locate(ctx, replyID)
	if !ok || loc.annotationID == replyID {
		return nil, fmt.Errorf("reply %s: %w", replyID, errReplyNotFound)
	}
	_, rec, err := s.readable(ctx, loc.annotationID, req)
	if err != nil {
		return nil, fmt.Errorf("reply %s: %w", replyID, errReplyNotFound)
	}
	return rec, nil
}

func findReply(rec *record, replyID string) int {
	for i, rp := range rec.replies {
		if rp.r.ID == replyID {
			return i
		}
	}
	return -1
}

// UpdateReply edits a reply. Reply author only.
func (s *Store) UpdateReply(ctx context.Context, replyID string, req models.Requester, content string) (models.Annotation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Annotation{}, apperr.New(apperr.KindInvalidArgument, "invalid_argument", "content is required")
	}
	rec, err := s.replyOf(ctx, replyID, req)
	if err != nil {
		return models.Annotation{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	i := findReply(rec, replyID)
	if i < 0 {
		return models.Annotation{}, errReplyNotFound
	}
	rp := rec.replies[i]
	if rp.r.UserID != req.UserID {
		return models.Annotation{}, errNotAuthor
	}
	next := rp.r
	next.Content = content
	next.Updated = s.now()
	if s.persist != nil {
		if err := s.persist.SaveReply(ctx, next); err != nil {
			return models.Annotation{}, s.storageErr("update_reply", err)
		}
	}
	rp.r = next
	metrics.AnnotationOps.WithLabelValues("update_reply").Inc()
	return rec.snapshotLocked(), nil
}

// DeleteReply removes a reply. Reply author only.
func (s *Store) DeleteReply(ctx context.Context, replyID string, req models.Requester) (models.Annotation, error) {
	rec, err := s.replyOf(ctx, replyID, req)
	if err != nil {
		return models.Annotation{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	i := findReply(rec, replyID)
	if i < 0 {
		return models.Annotation{}, errReplyNotFound
	}
	if rec.replies[i].r.UserID != req.UserID {
		return models.Annotation{}, errNotAuthor
	}
	if s.persist != nil {
		if err := s.persist.DeleteReply(ctx, replyID); err != nil {
			return models.Annotation{}, s.storageErr("delete_reply", err)
		}
	}
	rec.replies = append(rec.replies[:i], rec.replies[i+1:]...)
	s.mu.Lock()
	delete(s.index, replyID)
	s.mu.Unlock()
	metrics.AnnotationOps.WithLabelValues("delete_reply").Inc()
	return rec.snapshotLocked(), nil
}

// LikeReply records one like per user on a reply.
func (s *Store) LikeReply(ctx context.Context, replyID string, req models.Requester) (models.Annotation, error) {
	rec, err := s.replyOf(ctx, replyID, req)
	if err != nil {
		return models.Annotation{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	i := findReply(rec, replyID)
	if i < 0 {
		return models.Annotation{}, errReplyNotFound
	}
	rp := rec.replies[i]
	if _, ok := rp.likers[req.UserID]; !ok {
		if s.persist != nil {
			if err := s.persist.SetLike(ctx, replyID, req.UserID, true); err != nil {
				return models.Annotation{}, s.storageErr("like_reply", err)
			}
		}
		rp.likers[req.UserID] = struct{}{}
		metrics.AnnotationOps.WithLabelValues("like_reply").Inc()
	}
	return rec.snapshotLocked(), nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
