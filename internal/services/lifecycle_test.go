package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vkomlev/LMS/internal/cache"
	"github.com/vkomlev/LMS/internal/data/repos/attempts"
	"github.com/vkomlev/LMS/internal/data/repos/courses"
	"github.com/vkomlev/LMS/internal/data/repos/events"
	"github.com/vkomlev/LMS/internal/data/repos/materials"
	"github.com/vkomlev/LMS/internal/data/repos/queue"
	"github.com/vkomlev/LMS/internal/data/repos/tasks"
	"github.com/vkomlev/LMS/internal/data/repos/testutil"
	"github.com/vkomlev/LMS/internal/data/repos/user"
	"github.com/vkomlev/LMS/internal/data/serial"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/scoring"
	"github.com/vkomlev/LMS/internal/services"
)

// testStack wires the full service graph over one test transaction, the same
// shape cmd/main.go builds over the live pool.
type testStack struct {
	tx *gorm.DB

	attemptSvc     services.AttemptService
	progressionSvc services.ProgressionService
	workQueueSvc   services.WorkQueueService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)

	runner := serial.NewGormTxRunner(tx)
	coordinator := serial.NewCoordinator(runner)

	attemptRepo := attempts.NewAttemptRepo(tx, log)
	resultRepo := attempts.NewTaskResultRepo(tx, log)
	taskRepo := tasks.NewTaskRepo(tx, log)
	userRepo := user.NewUserRepo(tx, log)
	courseRepo := courses.NewCourseRepo(tx, log)
	materialRepo := materials.NewMaterialRepo(tx, log)
	overrideRepo := materials.NewLimitOverrideRepo(tx, log)
	eventRepo := events.NewLearningEventRepo(tx, log)
	helpRepo := queue.NewHelpRequestRepo(tx, log)

	eventSvc := services.NewLearningEventService(tx, log, coordinator, eventRepo, helpRepo, materialRepo, overrideRepo)
	return &testStack{
		tx:             tx,
		attemptSvc:     services.NewAttemptService(tx, log, runner, coordinator, scoring.NewEngine(), attemptRepo, resultRepo, taskRepo, userRepo),
		progressionSvc: services.NewProgressionService(tx, log, runner, courseRepo, materialRepo, taskRepo, resultRepo, overrideRepo, eventSvc),
		workQueueSvc:   services.NewWorkQueueService(tx, log, runner, helpRepo, resultRepo, eventRepo, cache.NewMemoryIdempotencyCache()),
	}
}

// seedChoiceTask inserts an SC task whose only correct option is "B".
func seedChoiceTask(t *testing.T, tx *gorm.DB, courseID uuid.UUID, maxScore int) *types.Task {
	t.Helper()
	content, err := json.Marshal(scoring.TaskContent{
		Type: scoring.TypeSingleChoice,
		Stem: "Pick the right one",
		Options: []scoring.TaskOption{
			{ID: "A", Text: "wrong", IsActive: true},
			{ID: "B", Text: "right", IsActive: true},
		},
	})
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	rules, err := json.Marshal(scoring.SolutionRules{
		MaxScore:       maxScore,
		ScoringMode:    scoring.ModeAllOrNothing,
		AutoCheck:      true,
		CorrectOptions: []string{"B"},
	})
	if err != nil {
		t.Fatalf("marshal rules: %v", err)
	}
	task := &types.Task{
		ID:            uuid.New(),
		CourseID:      &courseID,
		ExternalUID:   uuid.NewString(),
		MaxScore:      maxScore,
		TaskContent:   datatypes.JSON(content),
		SolutionRules: datatypes.JSON(rules),
	}
	if err := tx.Create(task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

// seedEssayTask inserts a TA task that always pends manual review.
func seedEssayTask(t *testing.T, tx *gorm.DB, courseID uuid.UUID, maxScore int) *types.Task {
	t.Helper()
	content, err := json.Marshal(scoring.TaskContent{
		Type: scoring.TypeTextAnswer,
		Stem: "Explain your reasoning",
	})
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	rules, err := json.Marshal(scoring.SolutionRules{
		MaxScore:             maxScore,
		ScoringMode:          scoring.ModeCustom,
		ManualReviewRequired: true,
	})
	if err != nil {
		t.Fatalf("marshal rules: %v", err)
	}
	task := &types.Task{
		ID:            uuid.New(),
		CourseID:      &courseID,
		ExternalUID:   uuid.NewString(),
		MaxScore:      maxScore,
		TaskContent:   datatypes.JSON(content),
		SolutionRules: datatypes.JSON(rules),
	}
	if err := tx.Create(task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func choiceAnswer(taskID uuid.UUID, optionID string) services.AnswerSubmission {
	return services.AnswerSubmission{
		TaskID: taskID,
		Answer: scoring.StudentAnswer{
			Type:     scoring.TypeSingleChoice,
			Response: scoring.StudentResponse{SelectedOptionIDs: []string{optionID}},
		},
	}
}

func TestStartOrResumeKeepsOneActiveAttempt(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	student := testutil.SeedUser(t, stack.tx)
	course := testutil.SeedCourse(t, stack.tx, "Fractions")
	task := seedChoiceTask(t, stack.tx, course.ID, 10)

	first, resumed, err := stack.attemptSvc.StartOrResume(ctx, student.ID, services.StartOptions{
		CourseID: &course.ID,
		TaskIDs:  []uuid.UUID{task.ID},
	})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if resumed {
		t.Fatal("first start must create, not resume")
	}

	second, resumed, err := stack.attemptSvc.StartOrResume(ctx, student.ID, services.StartOptions{
		CourseID: &course.ID,
	})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !resumed {
		t.Fatal("second start must resume the active attempt")
	}
	if second.ID != first.ID {
		t.Fatalf("expected one active attempt, got %s and %s", first.ID, second.ID)
	}

	var active int64
	if err := stack.tx.Model(&types.Attempt{}).
		Where("user_id = ? AND course_id = ? AND finished_at IS NULL AND cancelled_at IS NULL", student.ID, course.ID).
		Count(&active).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected exactly 1 active attempt, got %d", active)
	}
}

func TestCourseCompletedOnlyWhenEveryTaskPasses(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	student := testutil.SeedUser(t, stack.tx)
	course := testutil.SeedCourse(t, stack.tx, "Decimals")
	taskA := seedChoiceTask(t, stack.tx, course.ID, 10)
	taskB := seedChoiceTask(t, stack.tx, course.ID, 10)

	attempt, _, err := stack.attemptSvc.StartOrResume(ctx, student.ID, services.StartOptions{CourseID: &course.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := stack.attemptSvc.SubmitAnswers(ctx, attempt.ID, []services.AnswerSubmission{
		choiceAnswer(taskA.ID, "B"),
		choiceAnswer(taskB.ID, "A"),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, _, err := stack.attemptSvc.Finish(ctx, attempt.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}

	state, err := stack.progressionSvc.CourseState(ctx, student.ID, course.ID, false)
	if err != nil {
		t.Fatalf("course state: %v", err)
	}
	if state != services.CourseStateInProgress {
		t.Fatalf("one failed task must keep the course at %s, got %s", services.CourseStateInProgress, state)
	}

	retry, _, err := stack.attemptSvc.StartOrResume(ctx, student.ID, services.StartOptions{CourseID: &course.ID})
	if err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if _, err := stack.attemptSvc.SubmitAnswers(ctx, retry.ID, []services.AnswerSubmission{
		choiceAnswer(taskB.ID, "B"),
	}); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if _, _, err := stack.attemptSvc.Finish(ctx, retry.ID); err != nil {
		t.Fatalf("retry finish: %v", err)
	}

	state, err = stack.progressionSvc.CourseState(ctx, student.ID, course.ID, false)
	if err != nil {
		t.Fatalf("course state after retry: %v", err)
	}
	if state != services.CourseStateCompleted {
		t.Fatalf("all tasks passed, expected %s, got %s", services.CourseStateCompleted, state)
	}
}

func TestSubmitAfterTimeLimitForceFinishes(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	student := testutil.SeedUser(t, stack.tx)
	course := testutil.SeedCourse(t, stack.tx, "Timed Quiz")
	task := seedChoiceTask(t, stack.tx, course.ID, 10)

	limit := 60
	attempt, _, err := stack.attemptSvc.StartOrResume(ctx, student.ID, services.StartOptions{
		CourseID:     &course.ID,
		TaskIDs:      []uuid.UUID{task.ID},
		TimeLimitSec: &limit,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Rewind the clock so the limit has long passed.
	past := time.Now().UTC().Add(-10 * time.Minute)
	if err := stack.tx.Model(&types.Attempt{}).Where("id = ?", attempt.ID).
		Update("created_at", past).Error; err != nil {
		t.Fatalf("rewind created_at: %v", err)
	}

	outcomes, err := stack.attemptSvc.SubmitAnswers(ctx, attempt.ID, []services.AnswerSubmission{
		choiceAnswer(task.ID, "B"),
	})
	if err != nil {
		t.Fatalf("submit after limit: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	if !outcomes[0].TimeExpired {
		t.Fatal("expected the outcome to be flagged as time-expired")
	}
	// Even the correct option scores zero once the clock ran out.
	if outcomes[0].Result.Score != 0 {
		t.Fatalf("expected zero score, got %d", outcomes[0].Result.Score)
	}
	if outcomes[0].Result.IsCorrect == nil || *outcomes[0].Result.IsCorrect {
		t.Fatalf("expected is_correct=false, got %+v", outcomes[0].Result.IsCorrect)
	}

	var stored types.Attempt
	if err := stack.tx.Where("id = ?", attempt.ID).First(&stored).Error; err != nil {
		t.Fatalf("reload attempt: %v", err)
	}
	if stored.FinishedAt == nil || !stored.TimeExpired {
		t.Fatalf("expected force-finished attempt with time_expired, got %+v", stored)
	}

	// The attempt is terminal now.
	if _, err := stack.attemptSvc.SubmitAnswers(ctx, attempt.ID, []services.AnswerSubmission{
		choiceAnswer(task.ID, "B"),
	}); !types.IsCode(err, types.CodeConflict) {
		t.Fatalf("expected conflict on submit into finished attempt, got %v", err)
	}
}

func TestCourseStateUnknownCourse(t *testing.T) {
	stack := newTestStack(t)
	student := testutil.SeedUser(t, stack.tx)

	_, err := stack.progressionSvc.CourseState(context.Background(), student.ID, uuid.New(), false)
	if !types.IsCode(err, types.CodeNotFound) {
		t.Fatalf("expected not_found for unknown course, got %v", err)
	}
}

func TestAdjustReviewScoreStoresComment(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	student := testutil.SeedUser(t, stack.tx)
	course := testutil.SeedCourse(t, stack.tx, "Essays")
	task := seedEssayTask(t, stack.tx, course.ID, 20)

	attempt, _, err := stack.attemptSvc.StartOrResume(ctx, student.ID, services.StartOptions{CourseID: &course.ID})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := stack.attemptSvc.SubmitAnswers(ctx, attempt.ID, []services.AnswerSubmission{{
		TaskID: task.ID,
		Answer: scoring.StudentAnswer{
			Type:     scoring.TypeTextAnswer,
			Response: scoring.StudentResponse{Text: "my reasoning"},
		},
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	reviewer := uuid.New()
	claim, err := stack.workQueueSvc.ClaimNextReview(ctx, reviewer, nil, "")
	if err != nil {
		t.Fatalf("claim review: %v", err)
	}
	if claim.Empty {
		t.Fatal("expected a pending review to claim")
	}

	comment := "good structure, thin evidence"
	adjusted, err := stack.workQueueSvc.AdjustReviewScore(ctx, claim.Result.ID, reviewer, claim.Token, 12, &comment)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adjusted.ReviewComment == nil || *adjusted.ReviewComment != comment {
		t.Fatalf("expected stored review comment %q, got %+v", comment, adjusted.ReviewComment)
	}
	if adjusted.Score != 12 {
		t.Fatalf("expected score 12, got %d", adjusted.Score)
	}
	if adjusted.IsCorrect == nil || !*adjusted.IsCorrect {
		t.Fatalf("12 of 20 clears the pass bar, got %+v", adjusted.IsCorrect)
	}
	if adjusted.CheckedBy == nil || *adjusted.CheckedBy != reviewer {
		t.Fatalf("expected checked_by %s, got %+v", reviewer, adjusted.CheckedBy)
	}
	if adjusted.ReviewClaimedBy != nil {
		t.Fatal("expected the review claim to be cleared")
	}
}
