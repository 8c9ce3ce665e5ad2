package testutil

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	dbsetup "github.com/vkomlev/LMS/internal/data/db"
	types "github.com/vkomlev/LMS/internal/domain"
	"github.com/vkomlev/LMS/internal/pkg/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	dbOnce sync.Once
	db     *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			dbErr = errMissingDSN
			return
		}

		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
			Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			dbErr = err
			return
		}

		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			dbErr = err
			return
		}

		if err := dbsetup.AutoMigrateAll(db); err != nil {
			dbErr = err
			return
		}
		if err := dbsetup.EnsureQueueIndexes(db); err != nil {
			dbErr = err
			return
		}
	})

	if errors.Is(dbErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run repo integration tests")
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return db
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// SeedUser inserts a throwaway student row through tx.
func SeedUser(tb testing.TB, tx *gorm.DB) *types.User {
	tb.Helper()
	u := &types.User{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@test.local",
		FullName: "Test Student",
	}
	if err := tx.Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedCourse inserts a course row through tx.
func SeedCourse(tb testing.TB, tx *gorm.DB, title string) *types.Course {
	tb.Helper()
	c := &types.Course{
		ID:        uuid.New(),
		Title:     title,
		CourseUID: uuid.NewString(),
		IsActive:  true,
	}
	if err := tx.Create(c).Error; err != nil {
		tb.Fatalf("seed course: %v", err)
	}
	return c
}

// SeedTask inserts a task attached to course (nil courseID is allowed).
func SeedTask(tb testing.TB, tx *gorm.DB, courseID *uuid.UUID, maxScore int) *types.Task {
	tb.Helper()
	t := &types.Task{
		ID:          uuid.New(),
		CourseID:    courseID,
		ExternalUID: uuid.NewString(),
		MaxScore:    maxScore,
	}
	if err := tx.Create(t).Error; err != nil {
		tb.Fatalf("seed task: %v", err)
	}
	return t
}

// SeedAttempt inserts an active attempt for user/course.
func SeedAttempt(tb testing.TB, tx *gorm.DB, userID uuid.UUID, courseID *uuid.UUID) *types.Attempt {
	tb.Helper()
	a := &types.Attempt{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Create(a).Error; err != nil {
		tb.Fatalf("seed attempt: %v", err)
	}
	return a
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrInt(v int) *int { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
