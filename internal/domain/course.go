package domain

import (
	"time"

	"github.com/google/uuid"
)

// Course is one node of the curriculum hierarchy. Parent edges live in
// CourseParent: a course may have several parents (multi-parent DAG), with a
// per-parent ordering number. Cycle prevention happens at edge-write time in
// CourseDependencyService, never by discovering cycles during traversal.
type Course struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	CourseUID string    `gorm:"column:course_uid;uniqueIndex" json:"course_uid"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Course) TableName() string { return "courses" }

// CourseParent is one child→parent edge of the curriculum DAG.
type CourseParent struct {
	CourseID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"course_id"`
	ParentCourseID uuid.UUID `gorm:"type:uuid;primaryKey;column:parent_course_id" json:"parent_course_id"`
	OrderNumber    *int      `gorm:"column:order_number" json:"order_number,omitempty"`
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (CourseParent) TableName() string { return "course_parents" }

// CourseDependency declares that CourseID is gated on RequiredCourseID being
// completed.
type CourseDependency struct {
	CourseID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"course_id"`
	RequiredCourseID uuid.UUID `gorm:"type:uuid;primaryKey;column:required_course_id" json:"required_course_id"`
	CreatedAt        time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (CourseDependency) TableName() string { return "course_dependencies" }

// UserCourse activates a course for a learner with a study-plan position.
type UserCourse struct {
	UserID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	CourseID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"course_id"`
	IsActive    bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	OrderNumber int       `gorm:"column:order_number;not null;default:0" json:"order_number"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (UserCourse) TableName() string { return "user_courses" }
