package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/services"
)

type LearningHandler struct {
	log                *logger.Logger
	progressionService services.ProgressionService
	eventService       services.LearningEventService
}

func NewLearningHandler(log *logger.Logger, psvc services.ProgressionService, esvc services.LearningEventService) *LearningHandler {
	return &LearningHandler{
		log:                log.With("handler", "LearningHandler"),
		progressionService: psvc,
		eventService:       esvc,
	}
}

// GET /api/students/:id/next
func (h *LearningHandler) NextItem(c *gin.Context) {
	studentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	item, err := h.progressionService.NextItem(c.Request.Context(), studentID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, item)
}

// GET /api/students/:id/tasks/:taskID/state
func (h *LearningHandler) TaskState(c *gin.Context) {
	studentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	taskID, ok := pathUUID(c, "taskID")
	if !ok {
		return
	}
	info, err := h.progressionService.TaskState(c.Request.Context(), studentID, taskID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, info)
}

// GET /api/students/:id/courses/:courseID/state?update=true
func (h *LearningHandler) CourseState(c *gin.Context) {
	studentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	update := c.Query("update") == "true"
	state, err := h.progressionService.CourseState(c.Request.Context(), studentID, courseID, update)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"course_id": courseID, "state": state})
}

// POST /api/students/:id/materials/:materialID/complete
func (h *LearningHandler) CompleteMaterial(c *gin.Context) {
	studentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	materialID, ok := pathUUID(c, "materialID")
	if !ok {
		return
	}
	progress, err := h.eventService.SetMaterialCompleted(c.Request.Context(), studentID, materialID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, progress)
}

type helpRequestBody struct {
	TaskID    uuid.UUID  `json:"task_id" binding:"required"`
	CourseID  *uuid.UUID `json:"course_id"`
	AttemptID *uuid.UUID `json:"attempt_id"`
	Message   *string    `json:"message"`
}

// POST /api/students/:id/help-requests
func (h *LearningHandler) RequestHelp(c *gin.Context) {
	studentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body helpRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	req, created, err := h.eventService.RecordHelpRequested(c.Request.Context(), services.HelpRequestedInput{
		StudentID: studentID,
		TaskID:    body.TaskID,
		CourseID:  body.CourseID,
		AttemptID: body.AttemptID,
		Message:   body.Message,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	if created {
		RespondCreated(c, gin.H{"help_request": req, "deduplicated": false})
		return
	}
	RespondOK(c, gin.H{"help_request": req, "deduplicated": true})
}

type hintOpenedBody struct {
	AttemptID *uuid.UUID `json:"attempt_id"`
}

// POST /api/students/:id/tasks/:taskID/hint
func (h *LearningHandler) HintOpened(c *gin.Context) {
	studentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	taskID, ok := pathUUID(c, "taskID")
	if !ok {
		return
	}
	var body hintOpenedBody
	_ = c.ShouldBindJSON(&body)
	event, err := h.eventService.RecordHintOpened(c.Request.Context(), studentID, taskID, body.AttemptID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"event_id": event.ID})
}

type limitOverrideBody struct {
	NewLimit  int       `json:"new_limit" binding:"required"`
	UpdatedBy uuid.UUID `json:"updated_by" binding:"required"`
	Reason    *string   `json:"reason"`
}

// PUT /api/students/:id/tasks/:taskID/limit-override
func (h *LearningHandler) SetLimitOverride(c *gin.Context) {
	studentID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	taskID, ok := pathUUID(c, "taskID")
	if !ok {
		return
	}
	var body limitOverrideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	override, err := h.eventService.SetTaskLimitOverride(c.Request.Context(), studentID, taskID, body.UpdatedBy, body.NewLimit, body.Reason)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, override)
}
