package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventHelpRequested       = "help_requested"
	EventHelpRequestOpened   = "help_request_opened"
	EventHelpRequestClosed   = "help_request_closed"
	EventHelpRequestReplied  = "help_request_replied"
	EventTaskLimitOverride   = "task_limit_override"
	EventAttemptLimitReached = "attempt_limit_reached"
	EventHintOpened          = "hint_opened"
)

// LearningEvent is an immutable audit record. Rows are append-only; the only
// read paths are analytics and short-window deduplication.
type LearningEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	StudentID uuid.UUID      `gorm:"type:uuid;not null;index:idx_learning_events_student_type" json:"student_id"`
	EventType string         `gorm:"column:event_type;not null;index:idx_learning_events_student_type" json:"event_type"`
	TaskID    *uuid.UUID     `gorm:"type:uuid;index" json:"task_id,omitempty"`
	CourseID  *uuid.UUID     `gorm:"type:uuid" json:"course_id,omitempty"`
	AttemptID *uuid.UUID     `gorm:"type:uuid" json:"attempt_id,omitempty"`
	Payload   datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (LearningEvent) TableName() string { return "learning_events" }
