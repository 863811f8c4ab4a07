package models

import (
	"encoding/json"
	"time"
)

// AnnotationType classifies an annotation.
type AnnotationType string

const (
	AnnotationNote      AnnotationType = "note"
	AnnotationQuestion  AnnotationType = "question"
	AnnotationInsight   AnnotationType = "insight"
	AnnotationReference AnnotationType = "reference"
)

// Valid reports whether t is a known annotation type.
func (t AnnotationType) Valid() bool {
	switch t {
	case AnnotationNote, AnnotationQuestion, AnnotationInsight, AnnotationReference:
		return true
	}
	return false
}

// Visibility is the wire name of a Scope variant.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityGroup   Visibility = "group"
	VisibilityCourse  Visibility = "course"
	VisibilityPublic  Visibility = "public"
)

// Scope is the visibility boundary of an annotation. The variants are PrivateScope,
// GroupScope, CourseScope and PublicScope; group and course variants always carry their id.
type Scope interface {
	Visibility() Visibility
	sealed()
}

type PrivateScope struct{}

type GroupScope struct{ GroupID string }

type CourseScope struct{ CourseID string }

type PublicScope struct{}

func (PrivateScope) Visibility() Visibility { return VisibilityPrivate }
func (GroupScope) Visibility() Visibility   { return VisibilityGroup }
func (CourseScope) Visibility() Visibility  { return VisibilityCourse }
func (PublicScope) Visibility() Visibility  { return VisibilityPublic }

func (PrivateScope) sealed() {}
func (GroupScope) sealed()   {}
func (CourseScope) sealed()  {}
func (PublicScope) sealed()  {}

// ScopeIDs returns the (groupID, courseID) pair carried by s.
func ScopeIDs(s Scope) (groupID, courseID string) {
	switch v := s.(type) {
	case GroupScope:
		return v.GroupID, ""
	case CourseScope:
		return "", v.CourseID
	}
	return "", ""
}

// Annotation is a time-indexed note on a video.
type Annotation struct {
	ID       string         `json:"id"`
	VideoID  string         `json:"video_id"`
	UserID   string         `json:"user_id"`
	UserName string         `json:"user_name,omitempty"`
	UserRole string         `json:"user_role"`
	TimeCode float64        `json:"time_code"`
	Type     AnnotationType `json:"type"`
	Content  string         `json:"content"`
	Scope    Scope          `json:"-"`
	Created  time.Time      `json:"created"`
	Updated  time.Time      `json:"updated"`
	Likes    int64          `json:"likes"`
	Tags     []string       `json:"tags"`
	Color    string         `json:"color,omitempty"`
	Replies  []Reply        `json:"replies"`
}

// Reply is an append-only child of an annotation.
type Reply struct {
	ID           string    `json:"id"`
	AnnotationID string    `json:"annotation_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name,omitempty"`
	UserRole     string    `json:"user_role"`
	Content      string    `json:"content"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
	Likes        int64     `json:"likes"`
}

type annotationAlias Annotation

type annotationWire struct {
	annotationAlias
	Visibility Visibility `json:"visibility"`
	GroupID    string     `json:"group_id,omitempty"`
	CourseID   string     `json:"course_id,omitempty"`
}

// MarshalJSON flattens Scope into visibility/group_id/course_id.
func (a Annotation) MarshalJSON() ([]byte, error) {
	w := annotationWire{annotationAlias: annotationAlias(a)}
	if a.Scope != nil {
		w.Visibility = a.Scope.Visibility()
		w.GroupID, w.CourseID = ScopeIDs(a.Scope)
	}
	return json.Marshal(w)
}

// UnmarshalJSON rebuilds Scope; malformed pairings decode to a nil Scope.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var w annotationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Annotation(w.annotationAlias)
	a.Scope, _ = ParseScope(w.Visibility, w.GroupID, w.CourseID)
	return nil
}

// ParseScope validates a visibility/scope pairing and returns the Scope variant.
// The error is returned as a plain value so callers can map it to their taxonomy.
func ParseScope(v Visibility, groupID, courseID string) (Scope, error) {
	switch v {
	case VisibilityPrivate:
		return PrivateScope{}, nil
	case VisibilityPublic:
		return PublicScope{}, nil
	case VisibilityGroup:
		if groupID == "" {
			return nil, errScope("group visibility requires group_id")
		}
		return GroupScope{GroupID: groupID}, nil
	case VisibilityCourse:
		if courseID == "" {
			return nil, errScope("course visibility requires course_id")
		}
		return CourseScope{CourseID: courseID}, nil
	}
	return nil, errScope("unknown visibility " + string(v))
}

// ScopeError reports a malformed visibility/scope pairing.
type ScopeError struct{ msg string }

func (e *ScopeError) Error() string { return e.msg }

func errScope(msg string) error { return &ScopeError{msg: msg} }
