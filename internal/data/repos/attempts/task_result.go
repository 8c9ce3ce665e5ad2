package attempts

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type TaskResultRepo interface {
	Create(dbc dbctx.Context, result *types.TaskResult) (*types.TaskResult, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TaskResult, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.TaskResult, error)
	ListByAttempt(dbc dbctx.Context, attemptID uuid.UUID) ([]*types.TaskResult, error)
	ListByUserTask(dbc dbctx.Context, userID, taskID uuid.UUID) ([]*types.TaskResult, error)
	CountFinishedAttempts(dbc dbctx.Context, userID, taskID uuid.UUID) (int64, error)
	LastCurrentByUserTask(dbc dbctx.Context, userID, taskID uuid.UUID) (*types.TaskResult, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ClaimNextReviewable(dbc dbctx.Context, reviewerID uuid.UUID, token string, ttl time.Duration, now time.Time) (*types.TaskResult, error)
	CountPendingReview(dbc dbctx.Context) (int64, error)
	CountClaimedReviewsBy(dbc dbctx.Context, reviewerID uuid.UUID, now time.Time) (int64, error)
}

type taskResultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskResultRepo(db *gorm.DB, baseLog *logger.Logger) TaskResultRepo {
	return &taskResultRepo{
		db:  db,
		log: baseLog.With("repo", "TaskResultRepo"),
	}
}

func (r *taskResultRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *taskResultRepo) Create(dbc dbctx.Context, result *types.TaskResult) (*types.TaskResult, error) {
	if result == nil {
		return nil, nil
	}
	if err := r.base(dbc).Create(result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *taskResultRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.TaskResult, error) {
	var result types.TaskResult
	if err := r.base(dbc).Where("id = ?", id).First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *taskResultRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.TaskResult, error) {
	var result types.TaskResult
	if err := r.base(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *taskResultRepo) ListByAttempt(dbc dbctx.Context, attemptID uuid.UUID) ([]*types.TaskResult, error) {
	var out []*types.TaskResult
	if err := r.base(dbc).
		Where("attempt_id = ?", attemptID).
		Order("submitted_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListByUserTask returns the user's results for a task, oldest first.
// Results under cancelled attempts do not count for anything and are
// excluded.
func (r *taskResultRepo) ListByUserTask(dbc dbctx.Context, userID, taskID uuid.UUID) ([]*types.TaskResult, error) {
	var out []*types.TaskResult
	if err := r.base(dbc).
		Joins("JOIN attempts ON attempts.id = task_results.attempt_id AND attempts.cancelled_at IS NULL").
		Where("task_results.user_id = ? AND task_results.task_id = ?", userID, taskID).
		Order("task_results.submitted_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountFinishedAttempts counts the user's distinct finished, non-cancelled
// attempts that produced a result for the task. This is the attempts_used
// figure that limit gating compares against.
func (r *taskResultRepo) CountFinishedAttempts(dbc dbctx.Context, userID, taskID uuid.UUID) (int64, error) {
	var n int64
	err := r.base(dbc).Model(&types.TaskResult{}).
		Joins("JOIN attempts ON attempts.id = task_results.attempt_id").
		Where("attempts.finished_at IS NOT NULL AND attempts.cancelled_at IS NULL").
		Where("task_results.user_id = ? AND task_results.task_id = ?", userID, taskID).
		Distinct("task_results.attempt_id").
		Count(&n).Error
	return n, err
}

// LastCurrentByUserTask returns the result from the most recently finished,
// non-cancelled attempt covering the task. This is the "current" result that
// pass/fail derivation uses. Nil when no finished attempt exists.
func (r *taskResultRepo) LastCurrentByUserTask(dbc dbctx.Context, userID, taskID uuid.UUID) (*types.TaskResult, error) {
	var result types.TaskResult
	err := r.base(dbc).
		Joins("JOIN attempts ON attempts.id = task_results.attempt_id").
		Where("attempts.finished_at IS NOT NULL AND attempts.cancelled_at IS NULL").
		Where("task_results.user_id = ? AND task_results.task_id = ?", userID, taskID).
		Order("attempts.finished_at DESC, task_results.submitted_at DESC").
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *taskResultRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.base(dbc).Model(&types.TaskResult{}).Where("id = ?", id).Updates(updates).Error
}

// ClaimNextReviewable grabs the oldest unreviewed result whose claim is free
// or expired, FIFO by submission time. SKIP LOCKED keeps concurrent reviewers
// from queueing on each other; nil means the review queue is empty.
func (r *taskResultRepo) ClaimNextReviewable(dbc dbctx.Context, reviewerID uuid.UUID, token string, ttl time.Duration, now time.Time) (*types.TaskResult, error) {
	var claimed *types.TaskResult
	err := r.base(dbc).Transaction(func(txx *gorm.DB) error {
		var result types.TaskResult
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        checked_at IS NULL
        AND is_correct IS NULL
        AND (review_claimed_by IS NULL OR review_claim_expires_at IS NULL OR review_claim_expires_at < ?)
      `, now).
			Order("submitted_at ASC").
			First(&result).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		expiresAt := now.Add(ttl)
		uErr := txx.Model(&types.TaskResult{}).
			Where("id = ?", result.ID).
			Updates(map[string]interface{}{
				"review_claimed_by":       reviewerID,
				"review_claim_token":      token,
				"review_claim_expires_at": expiresAt,
			})
		if uErr.Error != nil {
			return uErr.Error
		}
		result.ReviewClaimedBy = &reviewerID
		result.ReviewClaimToken = &token
		result.ReviewClaimExpiresAt = &expiresAt
		claimed = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *taskResultRepo) CountPendingReview(dbc dbctx.Context) (int64, error) {
	var n int64
	err := r.base(dbc).Model(&types.TaskResult{}).
		Where("checked_at IS NULL AND is_correct IS NULL").
		Count(&n).Error
	return n, err
}

func (r *taskResultRepo) CountClaimedReviewsBy(dbc dbctx.Context, reviewerID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	err := r.base(dbc).Model(&types.TaskResult{}).
		Where("checked_at IS NULL AND review_claimed_by = ? AND review_claim_expires_at > ?", reviewerID, now).
		Count(&n).Error
	return n, err
}
