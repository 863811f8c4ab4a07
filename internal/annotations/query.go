package annotations

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/aura-webinar/watchparty/internal/apperr"
	"github.com/aura-webinar/watchparty/internal/models"
)

// DefaultWindowRadius is the half-width in seconds of a windowed query.
const DefaultWindowRadius = 5.0

const maxPageSize = 200

// SortField orders query results.
type SortField string

const (
	SortTimeCode SortField = "time_code"
	SortCreated  SortField = "created"
	SortUpdated  SortField = "updated"
	SortLikes    SortField = "likes"
)

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Types      []models.AnnotationType `form:"type" json:"types,omitempty"`
	Visibility models.Visibility       `form:"visibility" json:"visibility,omitempty"`
	UserID     string                  `form:"user_id" json:"user_id,omitempty"`
	Text       string                  `form:"q" json:"q,omitempty"`
	Tags       []string                `form:"tag" json:"tags,omitempty"`
	From       *float64                `form:"from" json:"from,omitempty"`
	To         *float64                `form:"to" json:"to,omitempty"`
	Center     *float64                `form:"center" json:"center,omitempty"` // window around a time code
	Radius     float64                 `form:"radius" json:"radius,omitempty"`
	Sort       SortField               `form:"sort" json:"sort,omitempty"`
	Desc       bool                    `form:"desc" json:"desc,omitempty"`
	Offset     int                     `form:"offset" json:"offset,omitempty"`
	Limit      int                     `form:"limit" json:"limit,omitempty"`
}

// Page is one page of query results.
type Page struct {
	Items  []models.Annotation `json:"items"`
	Total  int                 `json:"total"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
}

func (f Filter) validate() error {
	switch f.Sort {
	case "", SortTimeCode, SortCreated, SortUpdated, SortLikes:
	default:
		return apperr.Newf(apperr.KindInvalidArgument, "invalid_argument", "unknown sort field %q", f.Sort)
	}
	for _, t := range f.Types {
		if !t.Valid() {
			return apperr.Newf(apperr.KindInvalidArgument, "invalid_argument", "unknown annotation type %q", t)
		}
	}
	if f.Offset < 0 || f.Limit < 0 || f.Radius < 0 {
		return apperr.New(apperr.KindInvalidArgument, "invalid_argument", "offset, limit and radius must not be negative")
	}
	return nil
}

func (f Filter) match(a models.Annotation) bool {
	if len(f.Types) > 0 && !containsType(f.Types, a.Type) {
		return false
	}
	if f.Visibility != "" && a.Scope.Visibility() != f.Visibility {
		return false
	}
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.From != nil && a.TimeCode < *f.From {
		return false
	}
	if f.To != nil && a.TimeCode > *f.To {
		return false
	}
	if f.Center != nil {
		radius := f.Radius
		if radius == 0 {
			radius = DefaultWindowRadius
		}
		if math.Abs(a.TimeCode-*f.Center) > radius {
			return false
		}
	}
	for _, t := range f.Tags {
		if !containsString(a.Tags, strings.ToLower(t)) {
			return false
		}
	}
	if f.Text != "" && !matchText(a, strings.ToLower(f.Text)) {
		return false
	}
	return true
}

// matchText searches the content and the replies.
func matchText(a models.Annotation, needle string) bool {
	if strings.Contains(strings.ToLower(a.Content), needle) {
		return true
	}
	for _, r := range a.Replies {
		if strings.Contains(strings.ToLower(r.Content), needle) {
			return true
		}
	}
	return false
}

// visible snapshots every annotation of videoID that req may read.
func (s *Store) visible(ctx context.Context, videoID string, req models.Requester) ([]models.Annotation, error) {
	sh, err := s.shard(ctx, videoID)
	if err != nil {
		return nil, err
	}
	sh.mu.RLock()
	recs := make([]*record, 0, len(sh.byID))
	for _, rec := range sh.byID {
		recs = append(recs, rec)
	}
	sh.mu.RUnlock()

	out := make([]models.Annotation, 0, len(recs))
	for _, rec := range recs {
		a := rec.snapshot()
		if req.CanRead(a.UserID, a.Scope) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Query returns the annotations of videoID visible to req that match f.
func (s *Store) Query(ctx context.Context, videoID string, req models.Requester, f Filter) (Page, error) {
	if err := f.validate(); err != nil {
		return Page{}, err
	}
	all, err := s.visible(ctx, videoID, req)
	if err != nil {
		return Page{}, err
	}
	items := all[:0]
	for _, a := range all {
		if f.match(a) {
			items = append(items, a)
		}
	}
	sortAnnotations(items, f.Sort, f.Desc)

	limit := f.Limit
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	page := Page{Total: len(items), Offset: f.Offset, Limit: limit}
	if f.Offset >= len(items) {
		page.Items = []models.Annotation{}
		return page, nil
	}
	end := f.Offset + limit
	if end > len(items) {
		end = len(items)
	}
	page.Items = items[f.Offset:end]
	return page, nil
}

// Window returns the visible annotations within radius seconds of center, in time order.
func (s *Store) Window(ctx context.Context, videoID string, req models.Requester, center, radius float64) ([]models.Annotation, error) {
	p, err := s.Query(ctx, videoID, req, Filter{Center: &center, Radius: radius})
	if err != nil {
		return nil, err
	}
	return p.Items, nil
}

func sortAnnotations(items []models.Annotation, field SortField, desc bool) {
	less := func(a, b models.Annotation) bool {
		switch field {
		case SortCreated:
			return a.Created.Before(b.Created)
		case SortUpdated:
			return a.Updated.Before(b.Updated)
		case SortLikes:
			return a.Likes < b.Likes
		}
		return a.TimeCode < b.TimeCode
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if less(a, b) != less(b, a) {
			return less(a, b) != desc
		}
		// deterministic tie-break
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.ID < b.ID
	})
}

// Stats summarizes the annotations of a video visible to the requester.
type Stats struct {
	Total        int                           `json:"total"`
	ByType       map[models.AnnotationType]int `json:"by_type"`
	ByVisibility map[models.Visibility]int     `json:"by_visibility"`
	ByUser       map[string]int                `json:"by_user"`
	TotalReplies int                           `json:"total_replies"`
	TotalLikes   int64                         `json:"total_likes"`
	MostLiked    *models.Annotation            `json:"most_liked,omitempty"`
	MostReplied  *models.Annotation            `json:"most_replied,omitempty"`
}

// Stats computes Stats for videoID.
func (s *Store) Stats(ctx context.Context, videoID string, req models.Requester) (Stats, error) {
	all, err := s.visible(ctx, videoID, req)
	if err != nil {
		return Stats{}, err
	}
	sortAnnotations(all, SortCreated, false)
	st := Stats{
		ByType:       make(map[models.AnnotationType]int),
		ByVisibility: make(map[models.Visibility]int),
		ByUser:       make(map[string]int),
		Total:        len(all),
	}
	for i := range all {
		a := &all[i]
		st.ByType[a.Type]++
		st.ByVisibility[a.Scope.Visibility()]++
		st.ByUser[a.UserID]++
		st.TotalReplies += len(a.Replies)
		st.TotalLikes += a.Likes
		if a.Likes > 0 && (st.MostLiked == nil || a.Likes > st.MostLiked.Likes) {
			st.MostLiked = a
		}
		if len(a.Replies) > 0 && (st.MostReplied == nil || len(a.Replies) > len(st.MostReplied.Replies)) {
			st.MostReplied = a
		}
	}
	return st, nil
}

func containsType(list []models.AnnotationType, t models.AnnotationType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
