package queue

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

type HelpRequestRepo interface {
	Create(dbc dbctx.Context, req *types.HelpRequest) (*types.HelpRequest, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.HelpRequest, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.HelpRequest, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ClaimNextOpen(dbc dbctx.Context, teacherID uuid.UUID, filter ClaimFilter, token string, ttl time.Duration, now time.Time) (*types.HelpRequest, error)
	FindRecentOpenDuplicate(dbc dbctx.Context, studentID, taskID uuid.UUID, message *string, since time.Time) (*types.HelpRequest, error)
	ListOpenByStudent(dbc dbctx.Context, studentID uuid.UUID) ([]*types.HelpRequest, error)
	CountOpen(dbc dbctx.Context) (int64, error)
	CountOverdue(dbc dbctx.Context, now time.Time) (int64, error)
	CountClaimedBy(dbc dbctx.Context, teacherID uuid.UUID, now time.Time) (int64, error)

	CreateReply(dbc dbctx.Context, reply *types.HelpRequestReply) (*types.HelpRequestReply, error)
	GetReplyByIdempotencyKey(dbc dbctx.Context, requestID uuid.UUID, key string) (*types.HelpRequestReply, error)
	ListReplies(dbc dbctx.Context, requestID uuid.UUID) ([]*types.HelpRequestReply, error)
}

type helpRequestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHelpRequestRepo(db *gorm.DB, baseLog *logger.Logger) HelpRequestRepo {
	return &helpRequestRepo{
		db:  db,
		log: baseLog.With("repo", "HelpRequestRepo"),
	}
}

func (r *helpRequestRepo) base(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *helpRequestRepo) Create(dbc dbctx.Context, req *types.HelpRequest) (*types.HelpRequest, error) {
	if req == nil {
		return nil, nil
	}
	if err := r.base(dbc).Create(req).Error; err != nil {
		return nil, err
	}
	return req, nil
}

func (r *helpRequestRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.HelpRequest, error) {
	var req types.HelpRequest
	if err := r.base(dbc).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *helpRequestRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*types.HelpRequest, error) {
	var req types.HelpRequest
	if err := r.base(dbc).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *helpRequestRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.base(dbc).Model(&types.HelpRequest{}).Where("id = ?", id).Updates(updates).Error
}

// ClaimFilter narrows the claim selection. Nil fields match everything.
type ClaimFilter struct {
	RequestType *string
	CourseID    *uuid.UUID
}

// ClaimNextOpen grabs the highest-urgency open request whose claim is free or
// expired: priority first (lower wins), then due time with NULLs last, then
// FIFO. SKIP LOCKED means two teachers claiming at once get different rows,
// never the same one. Nil means the queue is empty.
func (r *helpRequestRepo) ClaimNextOpen(dbc dbctx.Context, teacherID uuid.UUID, filter ClaimFilter, token string, ttl time.Duration, now time.Time) (*types.HelpRequest, error) {
	var claimed *types.HelpRequest
	err := r.base(dbc).Transaction(func(txx *gorm.DB) error {
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        status = ?
        AND (claimed_by IS NULL OR claim_expires_at IS NULL OR claim_expires_at < ?)
      `, types.HelpRequestStatusOpen, now)
		if filter.RequestType != nil {
			q = q.Where("request_type = ?", *filter.RequestType)
		}
		if filter.CourseID != nil {
			q = q.Where("course_id = ?", *filter.CourseID)
		}
		var req types.HelpRequest
		qErr := q.Order("priority ASC, due_at ASC NULLS LAST, created_at ASC").
			First(&req).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		expiresAt := now.Add(ttl)
		uErr := txx.Model(&types.HelpRequest{}).
			Where("id = ?", req.ID).
			Updates(map[string]interface{}{
				"claimed_by":       teacherID,
				"claim_token":      token,
				"claim_expires_at": expiresAt,
				"updated_at":       now,
			})
		if uErr.Error != nil {
			return uErr.Error
		}
		req.ClaimedBy = &teacherID
		req.ClaimToken = &token
		req.ClaimExpiresAt = &expiresAt
		claimed = &req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FindRecentOpenDuplicate looks for an open request by the same student on
// the same task with the same message created after since. Message nil
// matches rows without a message.
func (r *helpRequestRepo) FindRecentOpenDuplicate(dbc dbctx.Context, studentID, taskID uuid.UUID, message *string, since time.Time) (*types.HelpRequest, error) {
	q := r.base(dbc).
		Where("student_id = ? AND task_id = ? AND status = ? AND created_at >= ?",
			studentID, taskID, types.HelpRequestStatusOpen, since)
	if message != nil {
		q = q.Where("message = ?", *message)
	} else {
		q = q.Where("message IS NULL")
	}
	var req types.HelpRequest
	err := q.Order("created_at DESC").First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *helpRequestRepo) ListOpenByStudent(dbc dbctx.Context, studentID uuid.UUID) ([]*types.HelpRequest, error) {
	var out []*types.HelpRequest
	err := r.base(dbc).
		Where("student_id = ? AND status = ?", studentID, types.HelpRequestStatusOpen).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *helpRequestRepo) CountOpen(dbc dbctx.Context) (int64, error) {
	var n int64
	err := r.base(dbc).Model(&types.HelpRequest{}).
		Where("status = ?", types.HelpRequestStatusOpen).
		Count(&n).Error
	return n, err
}

func (r *helpRequestRepo) CountOverdue(dbc dbctx.Context, now time.Time) (int64, error) {
	var n int64
	err := r.base(dbc).Model(&types.HelpRequest{}).
		Where("status = ? AND due_at IS NOT NULL AND due_at < ?", types.HelpRequestStatusOpen, now).
		Count(&n).Error
	return n, err
}

func (r *helpRequestRepo) CountClaimedBy(dbc dbctx.Context, teacherID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	err := r.base(dbc).Model(&types.HelpRequest{}).
		Where("status = ? AND claimed_by = ? AND claim_expires_at > ?", types.HelpRequestStatusOpen, teacherID, now).
		Count(&n).Error
	return n, err
}

func (r *helpRequestRepo) CreateReply(dbc dbctx.Context, reply *types.HelpRequestReply) (*types.HelpRequestReply, error) {
	if reply == nil {
		return nil, nil
	}
	if err := r.base(dbc).Create(reply).Error; err != nil {
		return nil, err
	}
	return reply, nil
}

func (r *helpRequestRepo) GetReplyByIdempotencyKey(dbc dbctx.Context, requestID uuid.UUID, key string) (*types.HelpRequestReply, error) {
	var reply types.HelpRequestReply
	err := r.base(dbc).
		Where("help_request_id = ? AND idempotency_key = ?", requestID, key).
		First(&reply).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func (r *helpRequestRepo) ListReplies(dbc dbctx.Context, requestID uuid.UUID) ([]*types.HelpRequestReply, error) {
	var out []*types.HelpRequestReply
	err := r.base(dbc).
		Where("help_request_id = ?", requestID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
