package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	HelpRequestStatusOpen   = "open"
	HelpRequestStatusClosed = "closed"

	HelpRequestTypeManualHelp   = "manual_help"
	HelpRequestTypeBlockedLimit = "blocked_limit"
)

// HelpRequest is a staff work-queue item: a learner asking for help, or an
// auto-created row when a learner hits an attempt limit.
//
// The claim triple (ClaimedBy, ClaimToken, ClaimExpiresAt) grants temporary
// exclusive ownership; an expired claim is treated as open again at selection
// time, no background sweep required.
type HelpRequest struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Status            string         `gorm:"not null;default:'open';index" json:"status"`
	RequestType       string         `gorm:"column:request_type;not null;default:'manual_help'" json:"request_type"`
	AutoCreated       bool           `gorm:"column:auto_created;not null;default:false" json:"auto_created"`
	StudentID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"student_id"`
	TaskID            uuid.UUID      `gorm:"type:uuid;not null" json:"task_id"`
	CourseID          *uuid.UUID     `gorm:"type:uuid" json:"course_id,omitempty"`
	AttemptID         *uuid.UUID     `gorm:"type:uuid" json:"attempt_id,omitempty"`
	EventID           *uuid.UUID     `gorm:"type:uuid;column:event_id;index" json:"event_id,omitempty"`
	Message           *string        `gorm:"column:message" json:"message,omitempty"`
	ContextJSON       datatypes.JSON `gorm:"type:jsonb;column:context_json" json:"context_json,omitempty"`
	AssignedTeacherID *uuid.UUID     `gorm:"type:uuid;column:assigned_teacher_id" json:"assigned_teacher_id,omitempty"`
	Priority          int            `gorm:"not null;default:100" json:"priority"`
	DueAt             *time.Time     `gorm:"column:due_at" json:"due_at,omitempty"`

	ClaimedBy      *uuid.UUID `gorm:"type:uuid;column:claimed_by" json:"claimed_by,omitempty"`
	ClaimToken     *string    `gorm:"column:claim_token" json:"-"`
	ClaimExpiresAt *time.Time `gorm:"column:claim_expires_at" json:"claim_expires_at,omitempty"`

	ClosedAt          *time.Time `gorm:"column:closed_at" json:"closed_at,omitempty"`
	ClosedBy          *uuid.UUID `gorm:"type:uuid;column:closed_by" json:"closed_by,omitempty"`
	ResolutionComment *string    `gorm:"column:resolution_comment" json:"resolution_comment,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (HelpRequest) TableName() string { return "help_requests" }

// IsOverdue reports whether an open request is past its due time.
func (h *HelpRequest) IsOverdue(now time.Time) bool {
	return h.Status == HelpRequestStatusOpen && h.DueAt != nil && now.After(*h.DueAt)
}

// HelpRequestReply is one staff reply on a request.
type HelpRequestReply struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	HelpRequestID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"help_request_id"`
	TeacherID       uuid.UUID  `gorm:"type:uuid;not null" json:"teacher_id"`
	Body            string     `gorm:"not null" json:"body"`
	CloseAfterReply bool       `gorm:"column:close_after_reply;not null;default:false" json:"close_after_reply"`
	MessageID       *uuid.UUID `gorm:"type:uuid;column:message_id" json:"message_id,omitempty"`
	IdempotencyKey  *string    `gorm:"column:idempotency_key;index" json:"-"`
	CreatedAt       time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (HelpRequestReply) TableName() string { return "help_request_replies" }
