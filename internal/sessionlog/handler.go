package sessionlog

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/watchparty/pkg/response"
)

// Handler serves the attendance report for staff.
type Handler struct {
	repo *Repository
}

// NewHandler creates a session log handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// GetAttendance handles GET /sessions/:id/attendance.
// Rows stay per join; unique_viewers and total_watch_seconds fold them per user.
func (h *Handler) GetAttendance(c *gin.Context) {
	sessionID := c.Param("id")
	rows, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list attendance")
		return
	}
	viewers := make(map[string]struct{}, len(rows))
	var total int64
	for _, r := range rows {
		viewers[r.UserID] = struct{}{}
		total += r.WatchSeconds
	}
	response.OK(c, gin.H{
		"session_id":          sessionID,
		"attendance":          rows,
		"unique_viewers":      len(viewers),
		"total_watch_seconds": total,
	})
}
