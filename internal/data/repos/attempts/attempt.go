package attempts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type AttemptRepo interface {
	Create(dbc dbctx.Context, attempt *types.Attempt) (*types.Attempt, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Attempt, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Attempt, error)
	GetActiveByUserCourse(dbc dbctx.Context, userID uuid.UUID, courseID *uuid.UUID) (*types.Attempt, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Attempt, error)
	Update(dbc dbctx.Context, attempt *types.Attempt) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	FinishIfActive(dbc dbctx.Context, id uuid.UUID, finishedAt time.Time, timeExpired bool) (bool, error)
	CancelIfActive(dbc dbctx.Context, id uuid.UUID, cancelledAt time.Time, reason *string) (bool, error)
}

type attemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAttemptRepo(db *gorm.DB, baseLog *logger.Logger) AttemptRepo {
	return &attemptRepo{
		db:  db,
		log: baseLog.With("repo", "AttemptRepo"),
	}
}

func (r *attemptRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *attemptRepo) Create(dbc dbctx.Context, attempt *types.Attempt) (*types.Attempt, error) {
	if attempt == nil {
		return nil, nil
	}
	if err := r.base(dbc).Create(attempt).Error; err != nil {
		return nil, err
	}
	return attempt, nil
}

func (r *attemptRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Attempt, error) {
	var attempt types.Attempt
	if err := r.base(dbc).Where("id = ?", id).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *attemptRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.Attempt, error) {
	var attempt types.Attempt
	if err := r.base(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// GetActiveByUserCourse returns the newest attempt that is neither finished
// nor cancelled for the user/course pair. courseID == nil matches attempts
// without a course.
func (r *attemptRepo) GetActiveByUserCourse(dbc dbctx.Context, userID uuid.UUID, courseID *uuid.UUID) (*types.Attempt, error) {
	q := r.base(dbc).
		Where("user_id = ? AND finished_at IS NULL AND cancelled_at IS NULL", userID)
	if courseID != nil {
		q = q.Where("course_id = ?", *courseID)
	} else {
		q = q.Where("course_id IS NULL")
	}
	var attempt types.Attempt
	if err := q.Order("created_at DESC").First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *attemptRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit, offset int) ([]*types.Attempt, error) {
	q := r.base(dbc).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var out []*types.Attempt
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *attemptRepo) Update(dbc dbctx.Context, attempt *types.Attempt) error {
	if attempt == nil {
		return nil
	}
	return r.base(dbc).Save(attempt).Error
}

func (r *attemptRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.base(dbc).Model(&types.Attempt{}).Where("id = ?", id).Updates(updates).Error
}

// FinishIfActive stamps finished_at only while the attempt is still active.
// Reports whether the row transitioned; false means it was already terminal.
func (r *attemptRepo) FinishIfActive(dbc dbctx.Context, id uuid.UUID, finishedAt time.Time, timeExpired bool) (bool, error) {
	res := r.base(dbc).Model(&types.Attempt{}).
		Where("id = ? AND finished_at IS NULL AND cancelled_at IS NULL", id).
		Updates(map[string]interface{}{
			"finished_at":  finishedAt,
			"time_expired": timeExpired,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelIfActive stamps cancelled_at only while the attempt is still active.
func (r *attemptRepo) CancelIfActive(dbc dbctx.Context, id uuid.UUID, cancelledAt time.Time, reason *string) (bool, error) {
	res := r.base(dbc).Model(&types.Attempt{}).
		Where("id = ? AND finished_at IS NULL AND cancelled_at IS NULL", id).
		Updates(map[string]interface{}{
			"cancelled_at":  cancelledAt,
			"cancel_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
