package domain

import (
	"time"

	"github.com/google/uuid"
)

// Material is a study item (reading, video, script) inside a course.
type Material struct {
	ID            uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID      uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	Title         string    `gorm:"not null" json:"title"`
	IsActive      bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	OrderPosition *int      `gorm:"column:order_position" json:"order_position,omitempty"`
	CreatedAt     time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Material) TableName() string { return "materials" }

// StudentMaterialProgress marks a material completed for a learner. The first
// completed_at is preserved on repeated completion.
type StudentMaterialProgress struct {
	StudentID   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"student_id"`
	MaterialID  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"material_id"`
	Status      string     `gorm:"not null;default:'completed'" json:"status"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (StudentMaterialProgress) TableName() string { return "student_material_progress" }

// StudentCourseState is a derived per-learner course-state cache upserted by
// the progression resolver. Never authoritative; always recomputable.
type StudentCourseState struct {
	StudentID uuid.UUID `gorm:"type:uuid;primaryKey" json:"student_id"`
	CourseID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"course_id"`
	State     string    `gorm:"not null" json:"state"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (StudentCourseState) TableName() string { return "student_course_state" }

// StudentTaskLimitOverride replaces a task's default max_attempts for one
// learner.
type StudentTaskLimitOverride struct {
	StudentID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"student_id"`
	TaskID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"task_id"`
	MaxAttemptsOverride int       `gorm:"column:max_attempts_override;not null" json:"max_attempts_override"`
	Reason              *string   `gorm:"column:reason" json:"reason,omitempty"`
	UpdatedBy           uuid.UUID `gorm:"type:uuid;column:updated_by;not null" json:"updated_by"`
	UpdatedAt           time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (StudentTaskLimitOverride) TableName() string { return "student_task_limit_override" }
