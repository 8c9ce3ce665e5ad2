package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vkomlev/LMS/internal/data/repos/events"
	"github.com/vkomlev/LMS/internal/data/repos/materials"
	"github.com/vkomlev/LMS/internal/data/repos/queue"
	"github.com/vkomlev/LMS/internal/data/serial"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

// helpRequestDedupWindow keeps a double-clicked "I need help" from opening
// two tickets.
const helpRequestDedupWindow = 5 * time.Minute

// HelpRequestedInput carries everything a learner help call may attach.
type HelpRequestedInput struct {
	StudentID uuid.UUID
	TaskID    uuid.UUID
	CourseID  *uuid.UUID
	AttemptID *uuid.UUID
	Message   *string
}

type LearningEventService interface {
	RecordHelpRequested(ctx context.Context, in HelpRequestedInput) (*types.HelpRequest, bool, error)
	RecordAttemptLimitReached(dbc dbctx.Context, studentID, taskID uuid.UUID, courseID *uuid.UUID, attemptsUsed, limit int) (*types.HelpRequest, bool, error)
	SetTaskLimitOverride(ctx context.Context, studentID, taskID, updatedBy uuid.UUID, newLimit int, reason *string) (*types.StudentTaskLimitOverride, error)
	RecordHintOpened(ctx context.Context, studentID, taskID uuid.UUID, attemptID *uuid.UUID) (*types.LearningEvent, error)
	SetMaterialCompleted(ctx context.Context, studentID, materialID uuid.UUID) (*types.StudentMaterialProgress, error)
}

type learningEventService struct {
	db           *gorm.DB
	log          *logger.Logger
	coordinator  *serial.Coordinator
	eventRepo    events.LearningEventRepo
	helpRepo     queue.HelpRequestRepo
	materialRepo materials.MaterialRepo
	overrideRepo materials.LimitOverrideRepo
}

func NewLearningEventService(
	db *gorm.DB,
	baseLog *logger.Logger,
	coordinator *serial.Coordinator,
	eventRepo events.LearningEventRepo,
	helpRepo queue.HelpRequestRepo,
	materialRepo materials.MaterialRepo,
	overrideRepo materials.LimitOverrideRepo,
) LearningEventService {
	return &learningEventService{
		db:           db,
		log:          baseLog.With("service", "LearningEventService"),
		coordinator:  coordinator,
		eventRepo:    eventRepo,
		helpRepo:     helpRepo,
		materialRepo: materialRepo,
		overrideRepo: overrideRepo,
	}
}

// RecordHelpRequested opens a help-queue ticket for the learner, deduplicated
// within a short window on (student, task, message). Serialized per
// (student, task) so two concurrent identical calls produce one ticket; the
// second caller gets the first ticket back with created=false.
func (s *learningEventService) RecordHelpRequested(ctx context.Context, in HelpRequestedInput) (*types.HelpRequest, bool, error) {
	const op = "events.help_requested"
	if in.StudentID == uuid.Nil || in.TaskID == uuid.Nil {
		return nil, false, types.ValidationError(op, "student_id and task_id are required")
	}

	var (
		req     *types.HelpRequest
		created bool
	)
	key := []string{in.StudentID.String(), in.TaskID.String()}
	err := s.coordinator.WithSerializedKey(ctx, "help_request", key, func(dbc dbctx.Context) error {
		now := time.Now().UTC()
		existing, err := s.helpRepo.FindRecentOpenDuplicate(dbc, in.StudentID, in.TaskID, in.Message, now.Add(-helpRequestDedupWindow))
		if err != nil {
			return types.MapError(op, err)
		}
		if existing != nil {
			req = existing
			return nil
		}

		event, err := s.appendEvent(dbc, types.EventHelpRequested, in.StudentID, &in.TaskID, in.CourseID, in.AttemptID, map[string]interface{}{
			"message": in.Message,
		})
		if err != nil {
			return err
		}
		fresh := &types.HelpRequest{
			ID:          uuid.New(),
			Status:      types.HelpRequestStatusOpen,
			RequestType: types.HelpRequestTypeManualHelp,
			StudentID:   in.StudentID,
			TaskID:      in.TaskID,
			CourseID:    in.CourseID,
			AttemptID:   in.AttemptID,
			EventID:     &event.ID,
			Message:     in.Message,
			Priority:    100,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.helpRepo.Create(dbc, fresh); err != nil {
			return types.MapError(op, err)
		}
		if _, err := s.appendEvent(dbc, types.EventHelpRequestOpened, in.StudentID, &in.TaskID, in.CourseID, in.AttemptID, map[string]interface{}{
			"help_request_id": fresh.ID,
		}); err != nil {
			return err
		}
		req = fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.log.Info("help request opened", "help_request_id", req.ID, "student_id", in.StudentID, "task_id", in.TaskID)
	}
	return req, created, nil
}

// RecordAttemptLimitReached auto-opens a blocked_limit ticket when a learner
// exhausts the attempt budget. Runs inside the caller's transaction; at most
// one open blocked_limit ticket per (student, task) exists at a time.
func (s *learningEventService) RecordAttemptLimitReached(dbc dbctx.Context, studentID, taskID uuid.UUID, courseID *uuid.UUID, attemptsUsed, limit int) (*types.HelpRequest, bool, error) {
	const op = "events.attempt_limit_reached"
	if err := serial.AdvisoryXactLock(dbc, "blocked_limit", studentID.String(), taskID.String()); err != nil {
		return nil, false, types.MapError(op, err)
	}

	existing, err := s.findOpenBlockedLimit(dbc, studentID, taskID)
	if err != nil {
		return nil, false, types.MapError(op, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	event, err := s.appendEvent(dbc, types.EventAttemptLimitReached, studentID, &taskID, courseID, nil, map[string]interface{}{
		"attempts_used": attemptsUsed,
		"limit":         limit,
	})
	if err != nil {
		return nil, false, err
	}
	req := &types.HelpRequest{
		ID:          uuid.New(),
		Status:      types.HelpRequestStatusOpen,
		RequestType: types.HelpRequestTypeBlockedLimit,
		AutoCreated: true,
		StudentID:   studentID,
		TaskID:      taskID,
		CourseID:    courseID,
		EventID:     &event.ID,
		// Limit blocks stop progress, so they jump the manual-help queue.
		Priority:  50,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.helpRepo.Create(dbc, req); err != nil {
		return nil, false, types.MapError(op, err)
	}
	s.log.Info("blocked-limit help request opened", "help_request_id", req.ID, "student_id", studentID, "task_id", taskID)
	return req, true, nil
}

func (s *learningEventService) findOpenBlockedLimit(dbc dbctx.Context, studentID, taskID uuid.UUID) (*types.HelpRequest, error) {
	open, err := s.helpRepo.ListOpenByStudent(dbc, studentID)
	if err != nil {
		return nil, err
	}
	for _, req := range open {
		if req.TaskID == taskID && req.RequestType == types.HelpRequestTypeBlockedLimit {
			return req, nil
		}
	}
	return nil, nil
}

// SetTaskLimitOverride replaces the student's attempt budget for one task and
// leaves an audit event behind.
func (s *learningEventService) SetTaskLimitOverride(ctx context.Context, studentID, taskID, updatedBy uuid.UUID, newLimit int, reason *string) (*types.StudentTaskLimitOverride, error) {
	const op = "events.task_limit_override"
	if newLimit <= 0 {
		return nil, types.ValidationError(op, "new limit must be positive")
	}
	var override *types.StudentTaskLimitOverride
	err := s.coordinator.WithSerializedKey(ctx, "limit_override", []string{studentID.String(), taskID.String()}, func(dbc dbctx.Context) error {
		row := &types.StudentTaskLimitOverride{
			StudentID:           studentID,
			TaskID:              taskID,
			MaxAttemptsOverride: newLimit,
			Reason:              reason,
			UpdatedBy:           updatedBy,
			UpdatedAt:           time.Now().UTC(),
		}
		if err := s.overrideRepo.Upsert(dbc, row); err != nil {
			return types.MapError(op, err)
		}
		if _, err := s.appendEvent(dbc, types.EventTaskLimitOverride, studentID, &taskID, nil, nil, map[string]interface{}{
			"new_limit":  newLimit,
			"updated_by": updatedBy,
			"reason":     reason,
		}); err != nil {
			return err
		}
		override = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("task limit override set", "student_id", studentID, "task_id", taskID, "new_limit", newLimit)
	return override, nil
}

func (s *learningEventService) RecordHintOpened(ctx context.Context, studentID, taskID uuid.UUID, attemptID *uuid.UUID) (*types.LearningEvent, error) {
	return s.appendEvent(dbctx.Context{Ctx: ctx}, types.EventHintOpened, studentID, &taskID, nil, attemptID, nil)
}

// SetMaterialCompleted marks a material done. Calling it again returns the
// stored row with the original completed_at untouched.
func (s *learningEventService) SetMaterialCompleted(ctx context.Context, studentID, materialID uuid.UUID) (*types.StudentMaterialProgress, error) {
	const op = "events.material_completed"
	if studentID == uuid.Nil || materialID == uuid.Nil {
		return nil, types.ValidationError(op, "student_id and material_id are required")
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.materialRepo.GetByID(dbc, materialID); err != nil {
		return nil, types.MapError(op, err)
	}
	progress, err := s.materialRepo.UpsertProgress(dbc, studentID, materialID, time.Now().UTC())
	if err != nil {
		return nil, types.MapError(op, err)
	}
	return progress, nil
}

func (s *learningEventService) appendEvent(dbc dbctx.Context, eventType string, studentID uuid.UUID, taskID, courseID, attemptID *uuid.UUID, payload map[string]interface{}) (*types.LearningEvent, error) {
	const op = "events.append"
	event := &types.LearningEvent{
		ID:        uuid.New(),
		StudentID: studentID,
		EventType: eventType,
		TaskID:    taskID,
		CourseID:  courseID,
		AttemptID: attemptID,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, types.Wrap(types.CodeInternal, op, err)
		}
		event.Payload = datatypes.JSON(raw)
	}
	if _, err := s.eventRepo.Append(dbc, event); err != nil {
		return nil, types.MapError(op, err)
	}
	return event, nil
}
