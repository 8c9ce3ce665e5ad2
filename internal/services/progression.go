package services

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vkomlev/LMS/internal/data/repos/attempts"
	"github.com/vkomlev/LMS/internal/data/repos/courses"
	"github.com/vkomlev/LMS/internal/data/repos/materials"
	"github.com/vkomlev/LMS/internal/data/repos/tasks"
	"github.com/vkomlev/LMS/internal/data/serial"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/utils"
)

// Task progression states.
const (
	TaskStateOpen         = "OPEN"
	TaskStateInProgress   = "IN_PROGRESS"
	TaskStatePassed       = "PASSED"
	TaskStateFailed       = "FAILED"
	TaskStateBlockedLimit = "BLOCKED_LIMIT"
)

// Course progression states.
const (
	CourseStateNotStarted = "NOT_STARTED"
	CourseStateInProgress = "IN_PROGRESS"
	CourseStateCompleted  = "COMPLETED"
)

// Next-item kinds.
const (
	NextItemMaterial          = "material"
	NextItemTask              = "task"
	NextItemBlockedLimit      = "blocked_limit"
	NextItemBlockedDependency = "blocked_dependency"
	NextItemNone              = "none"
)

// TaskStateInfo is the full progression picture for one (student, task).
type TaskStateInfo struct {
	TaskID         uuid.UUID `json:"task_id"`
	State          string    `json:"state"`
	AttemptsUsed   int       `json:"attempts_used"`
	AttemptsLimit  int       `json:"attempts_limit"`
	LastScore      *int      `json:"last_score,omitempty"`
	LastMaxScore   *int      `json:"last_max_score,omitempty"`
	PendingReview  bool      `json:"pending_review"`
	OverrideActive bool      `json:"override_active"`
}

// NextItem is what the learner should do next.
type NextItem struct {
	Type             string     `json:"type"`
	CourseID         *uuid.UUID `json:"course_id,omitempty"`
	MaterialID       *uuid.UUID `json:"material_id,omitempty"`
	TaskID           *uuid.UUID `json:"task_id,omitempty"`
	RequiredCourseID *uuid.UUID `json:"required_course_id,omitempty"`
	HelpRequestID    *uuid.UUID `json:"help_request_id,omitempty"`
}

type ProgressionService interface {
	EffectiveAttemptLimit(ctx context.Context, studentID uuid.UUID, taskID uuid.UUID) (int, error)
	TaskState(ctx context.Context, studentID, taskID uuid.UUID) (*TaskStateInfo, error)
	CourseState(ctx context.Context, studentID, courseID uuid.UUID, updateStateTable bool) (string, error)
	NextItem(ctx context.Context, studentID uuid.UUID) (*NextItem, error)
}

type progressionService struct {
	db           *gorm.DB
	log          *logger.Logger
	runner       serial.TxRunner
	courseRepo   courses.CourseRepo
	materialRepo materials.MaterialRepo
	taskRepo     tasks.TaskRepo
	resultRepo   attempts.TaskResultRepo
	overrideRepo materials.LimitOverrideRepo
	eventService LearningEventService

	defaultMaxAttempts int
}

func NewProgressionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	runner serial.TxRunner,
	courseRepo courses.CourseRepo,
	materialRepo materials.MaterialRepo,
	taskRepo tasks.TaskRepo,
	resultRepo attempts.TaskResultRepo,
	overrideRepo materials.LimitOverrideRepo,
	eventService LearningEventService,
) ProgressionService {
	serviceLog := baseLog.With("service", "ProgressionService")
	return &progressionService{
		db:                 db,
		log:                serviceLog,
		runner:             runner,
		courseRepo:         courseRepo,
		materialRepo:       materialRepo,
		taskRepo:           taskRepo,
		resultRepo:         resultRepo,
		overrideRepo:       overrideRepo,
		eventService:       eventService,
		defaultMaxAttempts: utils.GetEnvAsInt("DEFAULT_MAX_ATTEMPTS", 3, baseLog),
	}
}

// EffectiveAttemptLimit resolves, in precedence order: per-student override,
// the task's own max_attempts, the engine default.
func (s *progressionService) EffectiveAttemptLimit(ctx context.Context, studentID, taskID uuid.UUID) (int, error) {
	const op = "progression.effective_limit"
	dbc := dbctx.Context{Ctx: ctx}
	limit, _, err := s.effectiveLimit(dbc, studentID, taskID)
	if err != nil {
		return 0, types.MapError(op, err)
	}
	return limit, nil
}

func (s *progressionService) effectiveLimit(dbc dbctx.Context, studentID, taskID uuid.UUID) (int, bool, error) {
	override, err := s.overrideRepo.Get(dbc, studentID, taskID)
	if err != nil {
		return 0, false, err
	}
	if override != nil {
		return override.MaxAttemptsOverride, true, nil
	}
	task, err := s.taskRepo.GetByID(dbc, taskID)
	if err != nil {
		return 0, false, err
	}
	if task.MaxAttempts != nil {
		return *task.MaxAttempts, false, nil
	}
	return s.defaultMaxAttempts, false, nil
}

// TaskState classifies one task for one student from current results.
// Passing wins over everything; a spent attempt budget blocks; a pending
// manual review keeps the task in progress rather than failing it.
func (s *progressionService) TaskState(ctx context.Context, studentID, taskID uuid.UUID) (*TaskStateInfo, error) {
	const op = "progression.task_state"
	dbc := dbctx.Context{Ctx: ctx}
	info, err := s.taskState(dbc, studentID, taskID)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	return info, nil
}

func (s *progressionService) taskState(dbc dbctx.Context, studentID, taskID uuid.UUID) (*TaskStateInfo, error) {
	limit, overridden, err := s.effectiveLimit(dbc, studentID, taskID)
	if err != nil {
		return nil, err
	}
	used, err := s.resultRepo.CountFinishedAttempts(dbc, studentID, taskID)
	if err != nil {
		return nil, err
	}
	current, err := s.resultRepo.LastCurrentByUserTask(dbc, studentID, taskID)
	if err != nil {
		return nil, err
	}

	info := &TaskStateInfo{
		TaskID:         taskID,
		AttemptsUsed:   int(used),
		AttemptsLimit:  limit,
		OverrideActive: overridden,
	}

	if current == nil {
		// No finished attempt covers the task yet: an in-flight submission
		// (e.g. a pending manual review in an active attempt) keeps it in
		// progress, otherwise it is untouched.
		results, err := s.resultRepo.ListByUserTask(dbc, studentID, taskID)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			info.State = TaskStateOpen
			return info, nil
		}
		for _, res := range results {
			if res.IsCorrect == nil && res.CheckedAt == nil {
				info.PendingReview = true
			}
		}
		info.State = TaskStateInProgress
		return info, nil
	}

	info.LastScore = &current.Score
	info.LastMaxScore = &current.MaxScore
	if current.IsCorrect == nil && current.CheckedAt == nil {
		info.PendingReview = true
	}

	switch {
	case passes(current.Score, current.MaxScore):
		info.State = TaskStatePassed
	case info.AttemptsUsed >= limit:
		info.State = TaskStateBlockedLimit
	case info.PendingReview:
		info.State = TaskStateInProgress
	default:
		info.State = TaskStateFailed
	}
	return info, nil
}

// passes applies the pass threshold: at least half the maximum.
func passes(score, maxScore int) bool {
	if maxScore <= 0 {
		return false
	}
	return score*2 >= maxScore
}

// CourseState derives the course state from the course's subtree. COMPLETED
// means every task in the subtree currently passes; the state row is a cache,
// upserted only when updateStateTable is set and never read back as truth.
func (s *progressionService) CourseState(ctx context.Context, studentID, courseID uuid.UUID, updateStateTable bool) (string, error) {
	const op = "progression.course_state"
	dbc := dbctx.Context{Ctx: ctx}
	state, err := s.courseState(dbc, studentID, courseID)
	if err != nil {
		return "", types.MapError(op, err)
	}
	if updateStateTable {
		if err := s.materialRepo.UpsertCourseState(dbc, studentID, courseID, state); err != nil {
			return "", types.MapError(op, err)
		}
	}
	return state, nil
}

func (s *progressionService) courseState(dbc dbctx.Context, studentID, courseID uuid.UUID) (string, error) {
	subtree, err := s.subtreeInOrder(dbc, courseID)
	if err != nil {
		return "", err
	}

	total := 0
	passed := 0
	touched := false
	for _, course := range subtree {
		taskRows, err := s.taskRepo.ListByCourse(dbc, course.ID)
		if err != nil {
			return "", err
		}
		for _, task := range taskRows {
			total++
			info, err := s.taskState(dbc, studentID, task.ID)
			if err != nil {
				return "", err
			}
			if info.State == TaskStatePassed {
				passed++
			}
			if info.AttemptsUsed > 0 {
				touched = true
			}
		}
	}

	switch {
	case total > 0 && passed == total:
		return CourseStateCompleted, nil
	case touched:
		return CourseStateInProgress, nil
	case total == 0:
		// A course without tasks only counts as started via materials.
		done, err := s.anyMaterialCompleted(dbc, studentID, subtree)
		if err != nil {
			return "", err
		}
		if done {
			return CourseStateInProgress, nil
		}
		return CourseStateNotStarted, nil
	default:
		return CourseStateNotStarted, nil
	}
}

func (s *progressionService) anyMaterialCompleted(dbc dbctx.Context, studentID uuid.UUID, subtree []*types.Course) (bool, error) {
	for _, course := range subtree {
		mats, err := s.materialRepo.ListByCourse(dbc, course.ID, true)
		if err != nil {
			return false, err
		}
		ids := make([]uuid.UUID, 0, len(mats))
		for _, m := range mats {
			ids = append(ids, m.ID)
		}
		completed, err := s.materialRepo.CompletedMaterialIDs(dbc, studentID, ids)
		if err != nil {
			return false, err
		}
		if len(completed) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// subtreeInOrder returns the course plus all descendants, parents before
// children, siblings by order_number. Nodes reachable through several parents
// appear once, at their first position.
func (s *progressionService) subtreeInOrder(dbc dbctx.Context, rootID uuid.UUID) ([]*types.Course, error) {
	root, err := s.courseRepo.GetByID(dbc, rootID)
	if courses.IsNotFound(err) {
		return nil, types.NotFoundError("progression.subtree", "course not found")
	}
	if err != nil {
		return nil, err
	}
	out := []*types.Course{root}
	seen := map[uuid.UUID]struct{}{rootID: {}}
	frontier := []uuid.UUID{rootID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		children, err := s.courseRepo.ListChildren(dbc, next)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, ok := seen[child.ID]; ok {
				continue
			}
			seen[child.ID] = struct{}{}
			out = append(out, child)
			frontier = append(frontier, child.ID)
		}
	}
	return out, nil
}

// NextItem walks the learner's active courses in study-plan order and returns
// the first thing to do: an unmet course dependency, an unread material, an
// attemptable task, or a limit block. A limit block also opens (or reuses)
// the blocked_limit ticket so staff sees the student is stuck.
func (s *progressionService) NextItem(ctx context.Context, studentID uuid.UUID) (*NextItem, error) {
	const op = "progression.next_item"
	if studentID == uuid.Nil {
		return nil, types.ValidationError(op, "student_id is required")
	}

	var item *NextItem
	err := s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		userCourses, err := s.courseRepo.ListUserCourses(dbc, studentID)
		if err != nil {
			return types.MapError(op, err)
		}

		for _, uc := range userCourses {
			courseID := uc.CourseID

			blockedBy, err := s.unmetDependency(dbc, studentID, courseID)
			if err != nil {
				return types.MapError(op, err)
			}
			if blockedBy != nil {
				item = &NextItem{
					Type:             NextItemBlockedDependency,
					CourseID:         &courseID,
					RequiredCourseID: blockedBy,
				}
				return nil
			}

			found, err := s.nextInCourse(dbc, studentID, courseID)
			if err != nil {
				return err
			}
			if found != nil {
				item = found
				return nil
			}
		}
		item = &NextItem{Type: NextItemNone}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *progressionService) unmetDependency(dbc dbctx.Context, studentID, courseID uuid.UUID) (*uuid.UUID, error) {
	deps, err := s.courseRepo.ListDependencies(dbc, courseID)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		state, err := s.courseState(dbc, studentID, dep.RequiredCourseID)
		if err != nil {
			return nil, err
		}
		if state != CourseStateCompleted {
			required := dep.RequiredCourseID
			return &required, nil
		}
	}
	return nil, nil
}

func (s *progressionService) nextInCourse(dbc dbctx.Context, studentID, courseID uuid.UUID) (*NextItem, error) {
	const op = "progression.next_in_course"
	subtree, err := s.subtreeInOrder(dbc, courseID)
	if err != nil {
		return nil, types.MapError(op, err)
	}

	for _, course := range subtree {
		nodeID := course.ID

		mats, err := s.materialRepo.ListByCourse(dbc, nodeID, true)
		if err != nil {
			return nil, types.MapError(op, err)
		}
		matIDs := make([]uuid.UUID, 0, len(mats))
		for _, m := range mats {
			matIDs = append(matIDs, m.ID)
		}
		completed, err := s.materialRepo.CompletedMaterialIDs(dbc, studentID, matIDs)
		if err != nil {
			return nil, types.MapError(op, err)
		}
		for _, m := range mats {
			if _, ok := completed[m.ID]; !ok {
				materialID := m.ID
				return &NextItem{Type: NextItemMaterial, CourseID: &nodeID, MaterialID: &materialID}, nil
			}
		}

		taskRows, err := s.taskRepo.ListByCourse(dbc, nodeID)
		if err != nil {
			return nil, types.MapError(op, err)
		}
		for _, task := range taskRows {
			info, err := s.taskState(dbc, studentID, task.ID)
			if err != nil {
				return nil, types.MapError(op, err)
			}
			taskID := task.ID
			switch info.State {
			case TaskStateOpen, TaskStateInProgress, TaskStateFailed:
				return &NextItem{Type: NextItemTask, CourseID: &nodeID, TaskID: &taskID}, nil
			case TaskStateBlockedLimit:
				req, _, err := s.eventService.RecordAttemptLimitReached(dbc, studentID, taskID, &nodeID, info.AttemptsUsed, info.AttemptsLimit)
				if err != nil {
					return nil, err
				}
				next := &NextItem{Type: NextItemBlockedLimit, CourseID: &nodeID, TaskID: &taskID}
				if req != nil {
					next.HelpRequestID = &req.ID
				}
				return next, nil
			}
		}
	}
	return nil, nil
}
