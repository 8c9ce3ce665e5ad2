package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TaskResult is one scored answer within an attempt.
//
// IsCorrect is nil while a manual review is pending (TA tasks). The review
// claim columns implement the same claim/TTL protocol as HelpRequest.
type TaskResult struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AttemptID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"attempt_id"`
	Attempt     *Attempt       `gorm:"constraint:OnDelete:CASCADE;foreignKey:AttemptID;references:ID" json:"attempt,omitempty"`
	TaskID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_task_results_user_task" json:"task_id"`
	Task        *Task          `gorm:"constraint:OnDelete:CASCADE;foreignKey:TaskID;references:ID" json:"task,omitempty"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_task_results_user_task" json:"user_id"`
	Score       int            `gorm:"not null" json:"score"`
	MaxScore    int            `gorm:"column:max_score;not null" json:"max_score"`
	IsCorrect   *bool          `gorm:"column:is_correct" json:"is_correct,omitempty"`
	AnswerJSON  datatypes.JSON `gorm:"type:jsonb;column:answer_json" json:"answer_json,omitempty"`
	SubmittedAt time.Time      `gorm:"column:submitted_at;not null;default:now();index" json:"submitted_at"`

	// Manual review outcome. CheckedBy is nil for auto-scored results.
	CheckedAt     *time.Time `gorm:"column:checked_at" json:"checked_at,omitempty"`
	CheckedBy     *uuid.UUID `gorm:"type:uuid;column:checked_by" json:"checked_by,omitempty"`
	ReviewComment *string    `gorm:"column:review_comment" json:"review_comment,omitempty"`

	// Review claim lock. Valid only while now < ReviewClaimExpiresAt and only
	// for the holder that created the token.
	ReviewClaimedBy      *uuid.UUID `gorm:"type:uuid;column:review_claimed_by" json:"review_claimed_by,omitempty"`
	ReviewClaimToken     *string    `gorm:"column:review_claim_token" json:"-"`
	ReviewClaimExpiresAt *time.Time `gorm:"column:review_claim_expires_at" json:"review_claim_expires_at,omitempty"`

	SourceSystem string `gorm:"column:source_system;not null;default:'system'" json:"source_system"`
}

func (TaskResult) TableName() string { return "task_results" }
