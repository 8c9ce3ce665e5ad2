package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/dbctx"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

type LearningEventRepo interface {
	Append(dbc dbctx.Context, event *types.LearningEvent) (*types.LearningEvent, error)
	FindRecent(dbc dbctx.Context, studentID uuid.UUID, eventType string, taskID *uuid.UUID, since time.Time) (*types.LearningEvent, error)
	ListByStudent(dbc dbctx.Context, studentID uuid.UUID, eventTypes []string, limit int) ([]*types.LearningEvent, error)
}

type learningEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLearningEventRepo(db *gorm.DB, baseLog *logger.Logger) LearningEventRepo {
	return &learningEventRepo{
		db:  db,
		log: baseLog.With("repo", "LearningEventRepo"),
	}
}

func (r *learningEventRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *learningEventRepo) Append(dbc dbctx.Context, event *types.LearningEvent) (*types.LearningEvent, error) {
	if event == nil {
		return nil, nil
	}
	if err := r.base(dbc).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

// FindRecent returns the newest matching event created after since, nil when
// none exists. Drives short-window deduplication.
func (r *learningEventRepo) FindRecent(dbc dbctx.Context, studentID uuid.UUID, eventType string, taskID *uuid.UUID, since time.Time) (*types.LearningEvent, error) {
	q := r.base(dbc).
		Where("student_id = ? AND event_type = ? AND created_at >= ?", studentID, eventType, since)
	if taskID != nil {
		q = q.Where("task_id = ?", *taskID)
	}
	var event types.LearningEvent
	err := q.Order("created_at DESC").First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *learningEventRepo) ListByStudent(dbc dbctx.Context, studentID uuid.UUID, eventTypes []string, limit int) ([]*types.LearningEvent, error) {
	q := r.base(dbc).Where("student_id = ?", studentID)
	if len(eventTypes) > 0 {
		q = q.Where("event_type IN ?", eventTypes)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.LearningEvent
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
