package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/services"
)

type AttemptHandler struct {
	log            *logger.Logger
	attemptService services.AttemptService
}

func NewAttemptHandler(log *logger.Logger, asvc services.AttemptService) *AttemptHandler {
	return &AttemptHandler{
		log:            log.With("handler", "AttemptHandler"),
		attemptService: asvc,
	}
}

type startAttemptRequest struct {
	UserID       uuid.UUID   `json:"user_id" binding:"required"`
	CourseID     *uuid.UUID  `json:"course_id"`
	TaskIDs      []uuid.UUID `json:"task_ids"`
	TimeLimitSec *int        `json:"time_limit_sec"`
	Title        string      `json:"title"`
	SourceSystem string      `json:"source_system"`
}

// POST /api/attempts/start
func (h *AttemptHandler) Start(c *gin.Context) {
	var req startAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	attempt, resumed, err := h.attemptService.StartOrResume(c.Request.Context(), req.UserID, services.StartOptions{
		CourseID:     req.CourseID,
		TaskIDs:      req.TaskIDs,
		TimeLimitSec: req.TimeLimitSec,
		Title:        req.Title,
		SourceSystem: req.SourceSystem,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"attempt": attempt, "resumed": resumed})
}

type submitAnswersRequest struct {
	Answers []services.AnswerSubmission `json:"answers" binding:"required"`
}

// POST /api/attempts/:id/answers
func (h *AttemptHandler) SubmitAnswers(c *gin.Context) {
	attemptID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req submitAnswersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	outcomes, err := h.attemptService.SubmitAnswers(c.Request.Context(), attemptID, req.Answers)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": outcomes})
}

// POST /api/attempts/:id/finish
func (h *AttemptHandler) Finish(c *gin.Context) {
	attemptID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	attempt, transitioned, err := h.attemptService.Finish(c.Request.Context(), attemptID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"attempt": attempt, "already_finished": !transitioned && attempt != nil && !attempt.Active()})
}

type cancelAttemptRequest struct {
	Reason *string `json:"reason"`
}

// POST /api/attempts/:id/cancel
func (h *AttemptHandler) Cancel(c *gin.Context) {
	attemptID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req cancelAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	attempt, alreadyCancelled, err := h.attemptService.Cancel(c.Request.Context(), attemptID, req.Reason)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"attempt": attempt, "already_cancelled": alreadyCancelled})
}

// GET /api/attempts/:id
func (h *AttemptHandler) Get(c *gin.Context) {
	attemptID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	attempt, results, err := h.attemptService.Get(c.Request.Context(), attemptID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"attempt": attempt, "results": results})
}

// GET /api/users/:id/attempts
func (h *AttemptHandler) ListByUser(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	out, err := h.attemptService.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"attempts": out})
}
