package gateway

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/watchparty/internal/annotations"
	"github.com/aura-webinar/watchparty/internal/middleware"
	"github.com/aura-webinar/watchparty/internal/models"
	"github.com/aura-webinar/watchparty/internal/sessions"
	"github.com/aura-webinar/watchparty/pkg/response"
)

// Handler exposes the gateway over HTTP for clients that are not connected by WebSocket.
type Handler struct {
	gw *Gateway
}

// NewHandler creates a gateway HTTP handler.
func NewHandler(gw *Gateway) *Handler {
	return &Handler{gw: gw}
}

// Routes registers the handler on an authenticated group.
func (h *Handler) Routes(rg *gin.RouterGroup) {
	rg.GET("/sessions", middleware.RequireRole(middleware.RoleAdmin, middleware.RoleInstructor), h.ListSessions)
	rg.POST("/sessions", h.CreateSession)
	rg.GET("/sessions/:id", h.GetSession)
	rg.POST("/sessions/:id/join", h.JoinSession)
	rg.POST("/sessions/:id/leave", h.LeaveSession)
	rg.POST("/sessions/:id/end", h.EndSession)
	rg.POST("/sessions/:id/control", h.SubmitControl)
	rg.GET("/sessions/:id/playback", h.Reconcile)
	rg.GET("/sessions/:id/events", h.Events)
	rg.POST("/sessions/:id/chat", h.SendChat)
	rg.POST("/sessions/:id/heartbeat", h.Heartbeat)
	rg.POST("/sessions/:id/hand", h.RaiseHand)
	rg.DELETE("/sessions/:id/hand", h.LowerHand)
	rg.POST("/sessions/:id/participants/:userId/admit", h.AdmitParticipant)
	rg.POST("/sessions/:id/participants/:userId/control", h.GrantControl)
	rg.DELETE("/sessions/:id/participants/:userId/control", h.RevokeControl)

	rg.GET("/videos/:id/annotations", h.QueryAnnotations)
	rg.POST("/videos/:id/annotations", h.CreateAnnotation)
	rg.GET("/videos/:id/annotations/stats", h.AnnotationStats)
	rg.POST("/videos/:id/recommendation", h.RequestRecommendation)
	rg.DELETE("/videos/:id/recommendation", h.CancelSpeedChange)
	rg.GET("/videos/:id/speed", h.GetSpeed)
	rg.PUT("/videos/:id/speed", h.SetSpeed)

	rg.GET("/annotations/:id", h.GetAnnotation)
	rg.PATCH("/annotations/:id", h.UpdateAnnotation)
	rg.DELETE("/annotations/:id", h.DeleteAnnotation)
	rg.POST("/annotations/:id/replies", h.ReplyAnnotation)
	rg.POST("/annotations/:id/like", h.LikeAnnotation)
	rg.DELETE("/annotations/:id/like", h.UnlikeAnnotation)
	rg.PATCH("/replies/:id", h.UpdateReply)
	rg.DELETE("/replies/:id", h.DeleteReply)
	rg.POST("/replies/:id/like", h.LikeReply)
}

func requester(c *gin.Context) (models.Requester, bool) {
	r, ok := middleware.Requester(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
	}
	return r, ok
}

type contentRequest struct {
	Content string `json:"content" binding:"required"`
}

// ListSessions handles GET /sessions?video_id=&host_id=&status=.
func (h *Handler) ListSessions(c *gin.Context) {
	f := sessions.Filter{
		VideoID:  c.Query("video_id"),
		HostID:   c.Query("host_id"),
		CourseID: c.Query("course_id"),
		GroupID:  c.Query("group_id"),
		Status:   models.SessionStatus(c.Query("status")),
	}
	response.OK(c, gin.H{"sessions": h.gw.ListSessions(c.Request.Context(), f)})
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in CreateSessionRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.gw.CreateSession(c.Request.Context(), req, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// GetSession handles GET /sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	res, err := h.gw.GetSession(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// JoinSession handles POST /sessions/:id/join.
func (h *Handler) JoinSession(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	res, err := h.gw.JoinSession(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// LeaveSession handles POST /sessions/:id/leave.
func (h *Handler) LeaveSession(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	if err := h.gw.LeaveSession(c.Request.Context(), req, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// EndSession handles POST /sessions/:id/end.
func (h *Handler) EndSession(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	s, err := h.gw.EndSession(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// SubmitControl handles POST /sessions/:id/control.
func (h *Handler) SubmitControl(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in ControlRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev, err := h.gw.SubmitControl(c.Request.Context(), req, c.Param("id"), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ev)
}

// Reconcile handles GET /sessions/:id/playback.
func (h *Handler) Reconcile(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	snap, err := h.gw.Reconcile(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Events handles GET /sessions/:id/events?after=N.
func (h *Handler) Events(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid after sequence")
		return
	}
	res, err := h.gw.Events(c.Request.Context(), req, c.Param("id"), after)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// SendChat handles POST /sessions/:id/chat.
func (h *Handler) SendChat(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in contentRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	msg, err := h.gw.SendChat(c.Request.Context(), req, c.Param("id"), in.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, msg)
}

// Heartbeat handles POST /sessions/:id/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	h.gw.Heartbeat(c.Request.Context(), req, c.Param("id"))
	response.NoContent(c)
}

// RaiseHand handles POST /sessions/:id/hand.
func (h *Handler) RaiseHand(c *gin.Context) {
	h.participantAction(c, func(ctx context.Context, req models.Requester, sessionID, _ string) (models.Participant, error) {
		return h.gw.RaiseHand(ctx, req, sessionID)
	})
}

// LowerHand handles DELETE /sessions/:id/hand.
func (h *Handler) LowerHand(c *gin.Context) {
	h.participantAction(c, func(ctx context.Context, req models.Requester, sessionID, _ string) (models.Participant, error) {
		return h.gw.LowerHand(ctx, req, sessionID)
	})
}

// AdmitParticipant handles POST /sessions/:id/participants/:userId/admit.
func (h *Handler) AdmitParticipant(c *gin.Context) {
	h.participantAction(c, h.gw.AdmitParticipant)
}

// GrantControl handles POST /sessions/:id/participants/:userId/control.
func (h *Handler) GrantControl(c *gin.Context) {
	h.participantAction(c, h.gw.GrantControl)
}

// RevokeControl handles DELETE /sessions/:id/participants/:userId/control.
func (h *Handler) RevokeControl(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	if err := h.gw.RevokeControl(c.Request.Context(), req, c.Param("id"), c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type participantFunc func(ctx context.Context, req models.Requester, sessionID, userID string) (models.Participant, error)

func (h *Handler) participantAction(c *gin.Context, fn participantFunc) {
	req, ok := requester(c)
	if !ok {
		return
	}
	p, err := fn(c.Request.Context(), req, c.Param("id"), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// QueryAnnotations handles GET /videos/:id/annotations.
func (h *Handler) QueryAnnotations(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var f annotations.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	page, err := h.gw.QueryAnnotations(c.Request.Context(), req, c.Param("id"), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, page)
}

// CreateAnnotation handles POST /videos/:id/annotations?session_id=.
func (h *Handler) CreateAnnotation(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in annotations.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in.VideoID = c.Param("id")
	a, err := h.gw.CreateAnnotation(c.Request.Context(), req, c.Query("session_id"), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, a)
}

// AnnotationStats handles GET /videos/:id/annotations/stats.
func (h *Handler) AnnotationStats(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	stats, err := h.gw.AnnotationStats(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// GetAnnotation handles GET /annotations/:id.
func (h *Handler) GetAnnotation(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	a, err := h.gw.GetAnnotation(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, a)
}

// UpdateAnnotation handles PATCH /annotations/:id.
func (h *Handler) UpdateAnnotation(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var p annotations.Patch
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	a, err := h.gw.UpdateAnnotation(c.Request.Context(), req, c.Param("id"), p)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, a)
}

// DeleteAnnotation handles DELETE /annotations/:id.
func (h *Handler) DeleteAnnotation(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	if err := h.gw.DeleteAnnotation(c.Request.Context(), req, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ReplyAnnotation handles POST /annotations/:id/replies.
func (h *Handler) ReplyAnnotation(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in contentRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	r, err := h.gw.ReplyAnnotation(c.Request.Context(), req, c.Param("id"), in.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, r)
}

// LikeAnnotation handles POST /annotations/:id/like.
func (h *Handler) LikeAnnotation(c *gin.Context) {
	h.annotationAction(c, h.gw.LikeAnnotation)
}

// UnlikeAnnotation handles DELETE /annotations/:id/like.
func (h *Handler) UnlikeAnnotation(c *gin.Context) {
	h.annotationAction(c, h.gw.UnlikeAnnotation)
}

// DeleteReply handles DELETE /replies/:id.
func (h *Handler) DeleteReply(c *gin.Context) {
	h.annotationAction(c, h.gw.DeleteReply)
}

// LikeReply handles POST /replies/:id/like.
func (h *Handler) LikeReply(c *gin.Context) {
	h.annotationAction(c, h.gw.LikeReply)
}

type annotationFunc func(ctx context.Context, req models.Requester, id string) (models.Annotation, error)

func (h *Handler) annotationAction(c *gin.Context, fn annotationFunc) {
	req, ok := requester(c)
	if !ok {
		return
	}
	a, err := fn(c.Request.Context(), req, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, a)
}

// UpdateReply handles PATCH /replies/:id.
func (h *Handler) UpdateReply(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in contentRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	a, err := h.gw.UpdateReply(c.Request.Context(), req, c.Param("id"), in.Content)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, a)
}

// RequestRecommendation handles POST /videos/:id/recommendation.
func (h *Handler) RequestRecommendation(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in RecommendationRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in.VideoID = c.Param("id")
	rec, err := h.gw.RequestRecommendation(c.Request.Context(), req, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"recommendation": rec})
}

// CancelSpeedChange handles DELETE /videos/:id/recommendation.
func (h *Handler) CancelSpeedChange(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"cancelled": h.gw.CancelSpeedChange(c.Request.Context(), req, c.Param("id"))})
}

// GetSpeed handles GET /videos/:id/speed.
func (h *Handler) GetSpeed(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	response.OK(c, h.gw.GetSpeedState(c.Request.Context(), req, c.Param("id")))
}

type speedRequest struct {
	Speed float64 `json:"speed" binding:"required"`
}

// SetSpeed handles PUT /videos/:id/speed.
func (h *Handler) SetSpeed(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	var in speedRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	videoID := c.Param("id")
	response.OK(c, SpeedApplied{VideoID: videoID, Speed: h.gw.SetSpeed(c.Request.Context(), req, videoID, in.Speed)})
}
