package transcripts

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/pkg/response"
	"github.com/aura-webinar/watchparty/pkg/storage"
)

// Handler handles transcript HTTP endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates a transcripts handler.
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// ListByVideo handles GET /videos/:id/transcripts.
func (h *Handler) ListByVideo(c *gin.Context) {
	list, err := h.repo.ListByVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("list transcripts failed", zap.Error(err), zap.String("video_id", c.Param("id")))
		response.Internal(c, "failed to list transcripts")
		return
	}
	response.OK(c, gin.H{"transcripts": list})
}

// GenerateDownloadURL handles GET /sessions/:id/transcript. Returns a presigned URL.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	t, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "transcript not found")
		return
	}
	if err != nil {
		h.logger.Error("get transcript failed", zap.Error(err), zap.String("session_id", c.Param("id")))
		response.Internal(c, "failed to load transcript")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "storage not configured")
		return
	}
	expires := h.s3.PresignExpire()
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.TranscriptsBucket(), t.S3Key, expires)
	if err != nil {
		h.logger.Error("presign transcript failed", zap.Error(err), zap.String("session_id", t.SessionID))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{
		"url":        url,
		"expires_at": time.Now().Add(expires),
		"transcript": t,
	})
}
