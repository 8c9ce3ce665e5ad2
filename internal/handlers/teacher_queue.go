package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vkomlev/LMS/internal/data/repos/queue"
	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/services"
)

type TeacherQueueHandler struct {
	log          *logger.Logger
	queueService services.WorkQueueService
}

func NewTeacherQueueHandler(log *logger.Logger, qsvc services.WorkQueueService) *TeacherQueueHandler {
	return &TeacherQueueHandler{
		log:          log.With("handler", "TeacherQueueHandler"),
		queueService: qsvc,
	}
}

type claimBody struct {
	TeacherID      uuid.UUID  `json:"teacher_id" binding:"required"`
	RequestType    *string    `json:"request_type"`
	CourseID       *uuid.UUID `json:"course_id"`
	TTLSec         *int       `json:"ttl_sec"`
	IdempotencyKey string     `json:"idempotency_key"`
}

// POST /api/teacher/queue/help/claim
func (h *TeacherQueueHandler) ClaimHelpRequest(c *gin.Context) {
	var body claimBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	filter := queue.ClaimFilter{RequestType: body.RequestType, CourseID: body.CourseID}
	claim, err := h.queueService.ClaimNextHelpRequest(c.Request.Context(), body.TeacherID, filter, body.TTLSec, body.IdempotencyKey)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, claim)
}

// POST /api/teacher/queue/review/claim
func (h *TeacherQueueHandler) ClaimReview(c *gin.Context) {
	var body claimBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	claim, err := h.queueService.ClaimNextReview(c.Request.Context(), body.TeacherID, body.TTLSec, body.IdempotencyKey)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, claim)
}

type releaseBody struct {
	TeacherID uuid.UUID `json:"teacher_id" binding:"required"`
	Token     string    `json:"token" binding:"required"`
}

// POST /api/teacher/help-requests/:id/release
func (h *TeacherQueueHandler) ReleaseHelpRequest(c *gin.Context) {
	requestID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body releaseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := h.queueService.ReleaseHelpRequest(c.Request.Context(), requestID, body.TeacherID, body.Token); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"released": true})
}

// POST /api/teacher/reviews/:id/release
func (h *TeacherQueueHandler) ReleaseReview(c *gin.Context) {
	resultID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body releaseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := h.queueService.ReleaseReview(c.Request.Context(), resultID, body.TeacherID, body.Token); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"released": true})
}

type closeBody struct {
	ClosedBy   uuid.UUID `json:"closed_by" binding:"required"`
	Resolution *string   `json:"resolution"`
}

// POST /api/teacher/help-requests/:id/close
func (h *TeacherQueueHandler) CloseHelpRequest(c *gin.Context) {
	requestID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body closeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	closed, err := h.queueService.CloseHelpRequest(c.Request.Context(), requestID, body.ClosedBy, body.Resolution)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, closed)
}

type replyBody struct {
	TeacherID       uuid.UUID `json:"teacher_id" binding:"required"`
	Body            string    `json:"body" binding:"required"`
	CloseAfterReply bool      `json:"close_after_reply"`
	IdempotencyKey  *string   `json:"idempotency_key"`
}

// POST /api/teacher/help-requests/:id/reply
func (h *TeacherQueueHandler) ReplyHelpRequest(c *gin.Context) {
	requestID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body replyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	reply, replayed, err := h.queueService.ReplyHelpRequest(c.Request.Context(), requestID, body.TeacherID, body.Body, body.CloseAfterReply, body.IdempotencyKey)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"reply": reply, "replayed": replayed})
}

// GET /api/teachers/:id/workload
func (h *TeacherQueueHandler) Workload(c *gin.Context) {
	teacherID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	workload, err := h.queueService.GetWorkload(c.Request.Context(), teacherID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, workload)
}

type scoreBody struct {
	ReviewerID uuid.UUID `json:"reviewer_id" binding:"required"`
	Token      string    `json:"token" binding:"required"`
	Score      *int      `json:"score" binding:"required"`
	Comment    *string   `json:"comment"`
}

// POST /api/teacher/reviews/:id/score
func (h *TeacherQueueHandler) ScoreReview(c *gin.Context) {
	resultID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body scoreBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	result, err := h.queueService.AdjustReviewScore(c.Request.Context(), resultID, body.ReviewerID, body.Token, *body.Score, body.Comment)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, result)
}
