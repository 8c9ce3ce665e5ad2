package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/vkomlev/LMS/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// =========================
		// Identity
		// =========================
		&types.User{},

		// =========================
		// Course structure
		// =========================
		&types.Course{},
		&types.CourseParent{},
		&types.CourseDependency{},
		&types.UserCourse{},

		// =========================
		// Content
		// =========================
		&types.Material{},
		&types.Task{},

		// =========================
		// Attempts + results
		// =========================
		&types.Attempt{},
		&types.TaskResult{},

		// =========================
		// Progression
		// =========================
		&types.StudentMaterialProgress{},
		&types.StudentCourseState{},
		&types.StudentTaskLimitOverride{},

		// =========================
		// Teacher queue + events
		// =========================
		&types.HelpRequest{},
		&types.HelpRequestReply{},
		&types.LearningEvent{},
	)
}

// EnsureQueueIndexes creates the indexes the claim queries lean on. AutoMigrate
// covers column-level indexes; composite ordering indexes live here.
func EnsureQueueIndexes(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_help_requests_claim
		   ON help_requests(priority ASC, due_at ASC NULLS LAST, created_at ASC)
		   WHERE status = 'open';`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_review
		   ON task_results(submitted_at ASC)
		   WHERE checked_at IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_user_course
		   ON attempts(user_id, course_id);`,
		`CREATE INDEX IF NOT EXISTS idx_task_results_attempt_task
		   ON task_results(attempt_id, task_id);`,
		`CREATE INDEX IF NOT EXISTS idx_learning_events_dedup
		   ON learning_events(student_id, task_id, event_type, created_at);`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create queue index: %w", err)
		}
	}
	return nil
}
