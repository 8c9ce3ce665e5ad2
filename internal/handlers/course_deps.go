package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/services"
)

type CourseDepsHandler struct {
	log         *logger.Logger
	depsService services.CourseDependencyService
}

func NewCourseDepsHandler(log *logger.Logger, dsvc services.CourseDependencyService) *CourseDepsHandler {
	return &CourseDepsHandler{
		log:         log.With("handler", "CourseDepsHandler"),
		depsService: dsvc,
	}
}

type addParentBody struct {
	ParentID    uuid.UUID `json:"parent_id" binding:"required"`
	OrderNumber *int      `json:"order_number"`
}

// POST /api/courses/:id/parents
func (h *CourseDepsHandler) AddParent(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body addParentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	edge, err := h.depsService.AddParent(c.Request.Context(), courseID, body.ParentID, body.OrderNumber)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondCreated(c, edge)
}

// DELETE /api/courses/:id/parents/:parentID
func (h *CourseDepsHandler) RemoveParent(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	parentID, ok := pathUUID(c, "parentID")
	if !ok {
		return
	}
	if err := h.depsService.RemoveParent(c.Request.Context(), courseID, parentID); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"removed": true})
}

type addDependencyBody struct {
	RequiredCourseID uuid.UUID `json:"required_course_id" binding:"required"`
}

// POST /api/courses/:id/dependencies
func (h *CourseDepsHandler) AddDependency(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body addDependencyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := h.depsService.AddDependency(c.Request.Context(), courseID, body.RequiredCourseID); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondCreated(c, gin.H{"added": true})
}

type setDependenciesBody struct {
	RequiredCourseIDs []uuid.UUID `json:"required_course_ids"`
}

// PUT /api/courses/:id/dependencies
func (h *CourseDepsHandler) SetDependencies(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var body setDependenciesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "validation", err)
		return
	}
	if err := h.depsService.BulkSetDependencies(c.Request.Context(), courseID, body.RequiredCourseIDs); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"replaced": true})
}

// DELETE /api/courses/:id/dependencies/:requiredID
func (h *CourseDepsHandler) RemoveDependency(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	requiredID, ok := pathUUID(c, "requiredID")
	if !ok {
		return
	}
	if err := h.depsService.RemoveDependency(c.Request.Context(), courseID, requiredID); err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"removed": true})
}

// GET /api/courses/:id/dependencies
func (h *CourseDepsHandler) ListDependencies(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	deps, err := h.depsService.ListDependencies(c.Request.Context(), courseID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"dependencies": deps})
}

// GET /api/courses/:id/subtree
func (h *CourseDepsHandler) Subtree(c *gin.Context) {
	courseID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	courses, err := h.depsService.SubtreeInOrder(c.Request.Context(), courseID)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	RespondOK(c, gin.H{"courses": courses})
}
