package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vkomlev/LMS/internal/data/repos/attempts"
	"github.com/vkomlev/LMS/internal/data/repos/tasks"
	"github.com/vkomlev/LMS/internal/data/repos/user"
	"github.com/vkomlev/LMS/internal/data/serial"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/scoring"
)

// AnswerSubmission is one answer inside a submit call.
type AnswerSubmission struct {
	TaskID uuid.UUID             `json:"task_id"`
	Answer scoring.StudentAnswer `json:"answer"`
}

// SubmitOutcome pairs the stored result with the evaluation it came from.
type SubmitOutcome struct {
	Result      *types.TaskResult    `json:"result"`
	Check       *scoring.CheckResult `json:"check"`
	TimeExpired bool                 `json:"time_expired"`
}

// StartOptions parameterizes a start-or-resume call.
type StartOptions struct {
	CourseID     *uuid.UUID
	TaskIDs      []uuid.UUID
	TimeLimitSec *int
	Title        string
	SourceSystem string
}

type AttemptService interface {
	StartOrResume(ctx context.Context, userID uuid.UUID, opts StartOptions) (*types.Attempt, bool, error)
	SubmitAnswers(ctx context.Context, attemptID uuid.UUID, submissions []AnswerSubmission) ([]*SubmitOutcome, error)
	Finish(ctx context.Context, attemptID uuid.UUID) (*types.Attempt, bool, error)
	Cancel(ctx context.Context, attemptID uuid.UUID, reason *string) (*types.Attempt, bool, error)
	Get(ctx context.Context, attemptID uuid.UUID) (*types.Attempt, []*types.TaskResult, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Attempt, error)
}

type attemptService struct {
	db          *gorm.DB
	log         *logger.Logger
	runner      serial.TxRunner
	coordinator *serial.Coordinator
	engine      *scoring.Engine
	attemptRepo attempts.AttemptRepo
	resultRepo  attempts.TaskResultRepo
	taskRepo    tasks.TaskRepo
	userRepo    user.UserRepo
}

func NewAttemptService(
	db *gorm.DB,
	baseLog *logger.Logger,
	runner serial.TxRunner,
	coordinator *serial.Coordinator,
	engine *scoring.Engine,
	attemptRepo attempts.AttemptRepo,
	resultRepo attempts.TaskResultRepo,
	taskRepo tasks.TaskRepo,
	userRepo user.UserRepo,
) AttemptService {
	return &attemptService{
		db:          db,
		log:         baseLog.With("service", "AttemptService"),
		runner:      runner,
		coordinator: coordinator,
		engine:      engine,
		attemptRepo: attemptRepo,
		resultRepo:  resultRepo,
		taskRepo:    taskRepo,
		userRepo:    userRepo,
	}
}

// StartOrResume returns the learner's active attempt for the course, creating
// one when none exists. Serialized per (user, course): two concurrent starts
// see the same attempt instead of racing two rows into existence. An active
// attempt whose time ran out is force-finished and a fresh one is created.
func (s *attemptService) StartOrResume(ctx context.Context, userID uuid.UUID, opts StartOptions) (*types.Attempt, bool, error) {
	const op = "attempt.start_or_resume"
	if userID == uuid.Nil {
		return nil, false, types.ValidationError(op, "user_id is required")
	}

	courseKey := "none"
	if opts.CourseID != nil {
		courseKey = opts.CourseID.String()
	}

	var (
		attempt *types.Attempt
		resumed bool
	)
	err := s.coordinator.WithSerializedKey(ctx, "attempt_start", []string{userID.String(), courseKey}, func(dbc dbctx.Context) error {
		known, err := s.userRepo.Exists(dbc, userID)
		if err != nil {
			return types.MapError(op, err)
		}
		if !known {
			return types.NotFoundError(op, "user not found")
		}

		existing, err := s.attemptRepo.GetActiveByUserCourse(dbc, userID, opts.CourseID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return types.MapError(op, err)
		}

		now := time.Now().UTC()
		if existing != nil {
			if s.expired(existing, now) {
				if _, err := s.attemptRepo.FinishIfActive(dbc, existing.ID, now, true); err != nil {
					return types.MapError(op, err)
				}
				s.log.Info("force-finished expired attempt", "attempt_id", existing.ID, "user_id", userID)
			} else {
				changed := false
				for _, taskID := range opts.TaskIDs {
					appended, aErr := existing.AppendTaskID(taskID)
					if aErr != nil {
						return types.Wrap(types.CodeInternal, op, aErr)
					}
					changed = changed || appended
				}
				if changed {
					if err := s.attemptRepo.UpdateFields(dbc, existing.ID, map[string]interface{}{"meta": existing.Meta}); err != nil {
						return types.MapError(op, err)
					}
				}
				attempt = existing
				resumed = true
				return nil
			}
		}

		fresh := &types.Attempt{
			ID:           uuid.New(),
			UserID:       userID,
			CourseID:     opts.CourseID,
			CreatedAt:    now,
			SourceSystem: sourceOrDefault(opts.SourceSystem),
		}
		meta := types.AttemptMeta{
			TaskIDs: opts.TaskIDs,
			Title:   opts.Title,
		}
		if limit, err := s.resolveTimeLimit(dbc, opts); err != nil {
			return err
		} else if limit > 0 {
			meta.TimeLimitSec = limit
		}
		if err := fresh.EncodeMeta(meta); err != nil {
			return types.Wrap(types.CodeInternal, op, err)
		}
		if _, err := s.attemptRepo.Create(dbc, fresh); err != nil {
			return types.MapError(op, err)
		}
		attempt = fresh
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return attempt, resumed, nil
}

// resolveTimeLimit prefers the explicit limit, then the largest per-task
// limit among the attempt's tasks. Zero means untimed.
func (s *attemptService) resolveTimeLimit(dbc dbctx.Context, opts StartOptions) (int, error) {
	const op = "attempt.resolve_time_limit"
	if opts.TimeLimitSec != nil {
		if *opts.TimeLimitSec < 0 {
			return 0, types.ValidationError(op, "time_limit must be non-negative")
		}
		return *opts.TimeLimitSec, nil
	}
	if len(opts.TaskIDs) == 0 {
		return 0, nil
	}
	taskRows, err := s.taskRepo.GetByIDs(dbc, opts.TaskIDs)
	if err != nil {
		return 0, types.MapError(op, err)
	}
	limit := 0
	for _, task := range taskRows {
		if task.TimeLimitSec != nil && *task.TimeLimitSec > limit {
			limit = *task.TimeLimitSec
		}
	}
	return limit, nil
}

// SubmitAnswers evaluates and stores one batch of answers. Submissions into a
// terminal attempt are rejected; submissions into an attempt whose clock ran
// out force-finish it and store every answer with a zero score.
func (s *attemptService) SubmitAnswers(ctx context.Context, attemptID uuid.UUID, submissions []AnswerSubmission) ([]*SubmitOutcome, error) {
	const op = "attempt.submit_answers"
	if attemptID == uuid.Nil {
		return nil, types.ValidationError(op, "attempt_id is required")
	}
	if len(submissions) == 0 {
		return nil, types.ValidationError(op, "at least one answer is required")
	}

	var outcomes []*SubmitOutcome
	err := s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		attempt, err := s.attemptRepo.GetByIDForUpdate(dbc, attemptID)
		if err != nil {
			return types.MapError(op, err)
		}
		if !attempt.Active() {
			return types.ConflictError(op, "attempt is already finished or cancelled")
		}

		now := time.Now().UTC()
		if s.expired(attempt, now) {
			if _, err := s.attemptRepo.FinishIfActive(dbc, attempt.ID, now, true); err != nil {
				return types.MapError(op, err)
			}
			outcomes, err = s.storeExpired(dbc, attempt, submissions, now)
			return err
		}

		for _, sub := range submissions {
			outcome, sErr := s.evaluateAndStore(dbc, attempt, sub, now)
			if sErr != nil {
				return sErr
			}
			outcomes = append(outcomes, outcome)
		}

		// Keep the meta task list covering everything actually answered.
		changed := false
		for _, sub := range submissions {
			appended, aErr := attempt.AppendTaskID(sub.TaskID)
			if aErr != nil {
				return types.Wrap(types.CodeInternal, op, aErr)
			}
			changed = changed || appended
		}
		if changed {
			if err := s.attemptRepo.UpdateFields(dbc, attempt.ID, map[string]interface{}{"meta": attempt.Meta}); err != nil {
				return types.MapError(op, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *attemptService) evaluateAndStore(dbc dbctx.Context, attempt *types.Attempt, sub AnswerSubmission, now time.Time) (*SubmitOutcome, error) {
	const op = "attempt.evaluate"
	task, err := s.taskRepo.GetByID(dbc, sub.TaskID)
	if err != nil {
		return nil, types.MapError(op, err)
	}

	var content scoring.TaskContent
	if err := json.Unmarshal(task.TaskContent, &content); err != nil {
		return nil, types.NewError(types.CodeInternal, op, fmt.Sprintf("task %s has unreadable content", task.ID), err)
	}
	var rules scoring.SolutionRules
	if err := json.Unmarshal(task.SolutionRules, &rules); err != nil {
		return nil, types.NewError(types.CodeInternal, op, fmt.Sprintf("task %s has unreadable solution rules", task.ID), err)
	}

	check, err := s.engine.Evaluate(&content, &rules, &sub.Answer)
	if err != nil {
		return nil, err
	}

	answerRaw, err := json.Marshal(sub.Answer)
	if err != nil {
		return nil, types.Wrap(types.CodeInternal, op, err)
	}
	result := &types.TaskResult{
		ID:           uuid.New(),
		AttemptID:    attempt.ID,
		TaskID:       task.ID,
		UserID:       attempt.UserID,
		Score:        check.Score,
		MaxScore:     check.MaxScore,
		IsCorrect:    check.IsCorrect,
		AnswerJSON:   datatypes.JSON(answerRaw),
		SubmittedAt:  now,
		SourceSystem: attempt.SourceSystem,
	}
	if _, err := s.resultRepo.Create(dbc, result); err != nil {
		return nil, types.MapError(op, err)
	}
	return &SubmitOutcome{Result: result, Check: check}, nil
}

// storeExpired records each submitted answer with a zero score after the
// attempt's clock ran out, so the learner's work is visible but unscored.
func (s *attemptService) storeExpired(dbc dbctx.Context, attempt *types.Attempt, submissions []AnswerSubmission, now time.Time) ([]*SubmitOutcome, error) {
	const op = "attempt.store_expired"
	outcomes := make([]*SubmitOutcome, 0, len(submissions))
	for _, sub := range submissions {
		task, err := s.taskRepo.GetByID(dbc, sub.TaskID)
		if err != nil {
			return nil, types.MapError(op, err)
		}
		answerRaw, err := json.Marshal(sub.Answer)
		if err != nil {
			return nil, types.Wrap(types.CodeInternal, op, err)
		}
		incorrect := false
		result := &types.TaskResult{
			ID:           uuid.New(),
			AttemptID:    attempt.ID,
			TaskID:       task.ID,
			UserID:       attempt.UserID,
			Score:        0,
			MaxScore:     task.MaxScore,
			IsCorrect:    &incorrect,
			AnswerJSON:   datatypes.JSON(answerRaw),
			SubmittedAt:  now,
			SourceSystem: attempt.SourceSystem,
		}
		if _, err := s.resultRepo.Create(dbc, result); err != nil {
			return nil, types.MapError(op, err)
		}
		outcomes = append(outcomes, &SubmitOutcome{Result: result, TimeExpired: true})
	}
	s.log.Info("stored zero-score answers for expired attempt", "attempt_id", attempt.ID, "count", len(submissions))
	return outcomes, nil
}

// Finish closes the attempt. Calling it on an already-terminal attempt is a
// no-op; the second return value reports whether this call did the closing.
func (s *attemptService) Finish(ctx context.Context, attemptID uuid.UUID) (*types.Attempt, bool, error) {
	const op = "attempt.finish"
	var (
		attempt    *types.Attempt
		transition bool
	)
	err := s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		current, err := s.attemptRepo.GetByIDForUpdate(dbc, attemptID)
		if err != nil {
			return types.MapError(op, err)
		}
		if current.CancelledAt != nil {
			return types.ConflictError(op, "attempt is cancelled")
		}
		if !current.Active() {
			attempt = current
			return nil
		}
		now := time.Now().UTC()
		expired := s.expired(current, now)
		done, err := s.attemptRepo.FinishIfActive(dbc, current.ID, now, expired)
		if err != nil {
			return types.MapError(op, err)
		}
		transition = done
		attempt, err = s.attemptRepo.GetByID(dbc, current.ID)
		if err != nil {
			return types.MapError(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return attempt, transition, nil
}

// Cancel aborts an active attempt. Cancelling twice reports already-cancelled
// without error; cancelling a finished attempt is a conflict.
func (s *attemptService) Cancel(ctx context.Context, attemptID uuid.UUID, reason *string) (*types.Attempt, bool, error) {
	const op = "attempt.cancel"
	var (
		attempt          *types.Attempt
		alreadyCancelled bool
	)
	err := s.runner.InTx(ctx, func(dbc dbctx.Context) error {
		current, err := s.attemptRepo.GetByIDForUpdate(dbc, attemptID)
		if err != nil {
			return types.MapError(op, err)
		}
		if current.CancelledAt != nil {
			attempt = current
			alreadyCancelled = true
			return nil
		}
		if current.FinishedAt != nil {
			return types.ConflictError(op, "cannot cancel a finished attempt")
		}
		now := time.Now().UTC()
		if _, err := s.attemptRepo.CancelIfActive(dbc, current.ID, now, reason); err != nil {
			return types.MapError(op, err)
		}
		attempt, err = s.attemptRepo.GetByID(dbc, current.ID)
		if err != nil {
			return types.MapError(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return attempt, alreadyCancelled, nil
}

func (s *attemptService) Get(ctx context.Context, attemptID uuid.UUID) (*types.Attempt, []*types.TaskResult, error) {
	const op = "attempt.get"
	dbc := dbctx.Context{Ctx: ctx}
	attempt, err := s.attemptRepo.GetByID(dbc, attemptID)
	if err != nil {
		return nil, nil, types.MapError(op, err)
	}
	results, err := s.resultRepo.ListByAttempt(dbc, attemptID)
	if err != nil {
		return nil, nil, types.MapError(op, err)
	}
	return attempt, results, nil
}

func (s *attemptService) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*types.Attempt, error) {
	const op = "attempt.list_by_user"
	out, err := s.attemptRepo.ListByUser(dbctx.Context{Ctx: ctx}, userID, limit, offset)
	if err != nil {
		return nil, types.MapError(op, err)
	}
	return out, nil
}

// expired reports whether the attempt's time budget, measured from its
// creation, has elapsed.
func (s *attemptService) expired(attempt *types.Attempt, now time.Time) bool {
	meta := attempt.DecodeMeta()
	if meta.TimeLimitSec <= 0 {
		return false
	}
	return now.After(attempt.CreatedAt.Add(time.Duration(meta.TimeLimitSec) * time.Second))
}

func sourceOrDefault(source string) string {
	if source == "" {
		return "system"
	}
	return source
}
