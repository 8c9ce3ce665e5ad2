package materials

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type LimitOverrideRepo interface {
	Get(dbc dbctx.Context, studentID, taskID uuid.UUID) (*types.StudentTaskLimitOverride, error)
	Upsert(dbc dbctx.Context, override *types.StudentTaskLimitOverride) error
	Delete(dbc dbctx.Context, studentID, taskID uuid.UUID) (bool, error)
	ListByStudent(dbc dbctx.Context, studentID uuid.UUID) ([]*types.StudentTaskLimitOverride, error)
}

type limitOverrideRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLimitOverrideRepo(db *gorm.DB, baseLog *logger.Logger) LimitOverrideRepo {
	return &limitOverrideRepo{
		db:  db,
		log: baseLog.With("repo", "LimitOverrideRepo"),
	}
}

func (r *limitOverrideRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *limitOverrideRepo) Get(dbc dbctx.Context, studentID, taskID uuid.UUID) (*types.StudentTaskLimitOverride, error) {
	var override types.StudentTaskLimitOverride
	err := r.base(dbc).
		Where("student_id = ? AND task_id = ?", studentID, taskID).
		First(&override).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &override, nil
}

func (r *limitOverrideRepo) Upsert(dbc dbctx.Context, override *types.StudentTaskLimitOverride) error {
	if override == nil {
		return nil
	}
	return r.base(dbc).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"max_attempts_override", "reason", "updated_by", "updated_at"}),
	}).Create(override).Error
}

func (r *limitOverrideRepo) Delete(dbc dbctx.Context, studentID, taskID uuid.UUID) (bool, error) {
	res := r.base(dbc).
		Where("student_id = ? AND task_id = ?", studentID, taskID).
		Delete(&types.StudentTaskLimitOverride{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *limitOverrideRepo) ListByStudent(dbc dbctx.Context, studentID uuid.UUID) ([]*types.StudentTaskLimitOverride, error) {
	var out []*types.StudentTaskLimitOverride
	err := r.base(dbc).
		Where("student_id = ?", studentID).
		Order("updated_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
