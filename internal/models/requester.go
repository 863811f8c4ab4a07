package models

// Requester is the opaque authenticated identity handed to the core by the transport.
type Requester struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role"` // student, instructor or admin
	CourseIDs   []string `json:"course_ids,omitempty"`
	GroupIDs    []string `json:"group_ids,omitempty"`
}

// InCourse reports course membership.
func (r Requester) InCourse(id string) bool {
	return contains(r.CourseIDs, id)
}

// InGroup reports group membership.
func (r Requester) InGroup(id string) bool {
	return contains(r.GroupIDs, id)
}

// CanRead reports whether r may see an annotation with the given author and scope.
// Authors always see their own annotations.
func (r Requester) CanRead(authorID string, s Scope) bool {
	if authorID == r.UserID {
		return true
	}
	switch v := s.(type) {
	case PublicScope:
		return true
	case CourseScope:
		return r.InCourse(v.CourseID)
	case GroupScope:
		return r.InGroup(v.GroupID)
	}
	return false
}

// CanPostTo reports whether r may author content into s: group and course
// scopes require membership.
func (r Requester) CanPostTo(s Scope) bool {
	switch v := s.(type) {
	case PrivateScope, PublicScope:
		return true
	case CourseScope:
		return r.InCourse(v.CourseID)
	case GroupScope:
		return r.InGroup(v.GroupID)
	}
	return false
}

func contains(list []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

// Audience restricts an event to the requesters allowed to read an annotation.
type Audience struct {
	AuthorID string
	Scope    Scope
}

// Allows reports whether r may receive the event.
func (a Audience) Allows(r Requester) bool {
	if a.Scope == nil {
		return r.UserID == a.AuthorID
	}
	return r.CanRead(a.AuthorID, a.Scope)
}
