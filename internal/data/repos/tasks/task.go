package tasks

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type TaskRepo interface {
	Create(dbc dbctx.Context, task *types.Task) (*types.Task, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Task, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Task, error)
	GetByExternalUID(dbc dbctx.Context, externalUID string) (*types.Task, error)
	ListByCourse(dbc dbctx.Context, courseID uuid.UUID) ([]*types.Task, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{
		db:  db,
		log: baseLog.With("repo", "TaskRepo"),
	}
}

func (r *taskRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *taskRepo) Create(dbc dbctx.Context, task *types.Task) (*types.Task, error) {
	if task == nil {
		return nil, nil
	}
	if err := r.base(dbc).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Task, error) {
	var task types.Task
	if err := r.base(dbc).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Task, error) {
	var out []*types.Task
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.base(dbc).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) GetByExternalUID(dbc dbctx.Context, externalUID string) (*types.Task, error) {
	var task types.Task
	err := r.base(dbc).Where("external_uid = ?", externalUID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) ListByCourse(dbc dbctx.Context, courseID uuid.UUID) ([]*types.Task, error) {
	var out []*types.Task
	if err := r.base(dbc).
		Where("course_id = ?", courseID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.base(dbc).Model(&types.Task{}).Where("id = ?", id).Updates(updates).Error
}
