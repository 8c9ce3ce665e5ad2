package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Task is one question as stored by the content collaborator. TaskContent and
// SolutionRules are JSONB documents; internal/scoring validates both on every
// evaluation, so malformed documents fail the submit instead of mis-scoring.
type Task struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID      *uuid.UUID     `gorm:"type:uuid;index" json:"course_id,omitempty"`
	ExternalUID   string         `gorm:"column:external_uid;index" json:"external_uid"`
	MaxScore      int            `gorm:"not null" json:"max_score"`
	MaxAttempts   *int           `gorm:"column:max_attempts" json:"max_attempts,omitempty"`
	TimeLimitSec  *int           `gorm:"column:time_limit_sec" json:"time_limit_sec,omitempty"`
	TaskContent   datatypes.JSON `gorm:"type:jsonb;column:task_content" json:"task_content"`
	SolutionRules datatypes.JSON `gorm:"type:jsonb;column:solution_rules" json:"solution_rules"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }
