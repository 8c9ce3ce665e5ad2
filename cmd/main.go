package main

import (
	"fmt"
	"os"

	"github.com/vkomlev/LMS/internal/cache"
	"github.com/vkomlev/LMS/internal/data/db"
	"github.com/vkomlev/LMS/internal/data/repos/attempts"
	"github.com/vkomlev/LMS/internal/data/repos/courses"
	"github.com/vkomlev/LMS/internal/data/repos/events"
	"github.com/vkomlev/LMS/internal/data/repos/materials"
	"github.com/vkomlev/LMS/internal/data/repos/queue"
	"github.com/vkomlev/LMS/internal/data/repos/tasks"
	"github.com/vkomlev/LMS/internal/data/repos/user"
	"github.com/vkomlev/LMS/internal/data/serial"
	"github.com/vkomlev/LMS/internal/handlers"
	"github.com/vkomlev/LMS/internal/middleware"
	"github.com/vkomlev/LMS/internal/pkg/logger"
	"github.com/vkomlev/LMS/internal/scoring"
	"github.com/vkomlev/LMS/internal/server"
	"github.com/vkomlev/LMS/internal/services"
	"github.com/vkomlev/LMS/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	if err := db.AutoMigrateAll(thePG); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	if err := db.EnsureQueueIndexes(thePG); err != nil {
		log.Warn("Queue index setup failed", "error", err)
	}

	// Transactions
	runner := serial.NewGormTxRunner(thePG)
	coordinator := serial.NewCoordinator(runner)

	// Repos
	log.Info("Setting up Repos from main...")
	attemptRepo := attempts.NewAttemptRepo(thePG, log)
	resultRepo := attempts.NewTaskResultRepo(thePG, log)
	courseRepo := courses.NewCourseRepo(thePG, log)
	materialRepo := materials.NewMaterialRepo(thePG, log)
	overrideRepo := materials.NewLimitOverrideRepo(thePG, log)
	taskRepo := tasks.NewTaskRepo(thePG, log)
	helpRepo := queue.NewHelpRequestRepo(thePG, log)
	eventRepo := events.NewLearningEventRepo(thePG, log)
	userRepo := user.NewUserRepo(thePG, log)

	// Idempotency cache
	var idemCache cache.IdempotencyCache
	switch utils.GetEnv("IDEMPOTENCY_BACKEND", "memory", log) {
	case "redis":
		redisCache, err := cache.NewRedisIdempotencyCache(log)
		if err != nil {
			log.Error("Could not init redis idempotency cache", "error", err)
			os.Exit(1)
		}
		defer redisCache.Close()
		idemCache = redisCache
	default:
		idemCache = cache.NewMemoryIdempotencyCache()
	}

	// Services
	log.Info("Setting up Services from main...")
	engine := scoring.NewEngine()
	eventService := services.NewLearningEventService(thePG, log, coordinator, eventRepo, helpRepo, materialRepo, overrideRepo)
	attemptService := services.NewAttemptService(thePG, log, runner, coordinator, engine, attemptRepo, resultRepo, taskRepo, userRepo)
	progressionService := services.NewProgressionService(thePG, log, runner, courseRepo, materialRepo, taskRepo, resultRepo, overrideRepo, eventService)
	workQueueService := services.NewWorkQueueService(thePG, log, runner, helpRepo, resultRepo, eventRepo, idemCache)
	courseDepsService := services.NewCourseDependencyService(thePG, log, coordinator, courseRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	attemptHandler := handlers.NewAttemptHandler(log, attemptService)
	learningHandler := handlers.NewLearningHandler(log, progressionService, eventService)
	teacherQueueHandler := handlers.NewTeacherQueueHandler(log, workQueueService)
	courseDepsHandler := handlers.NewCourseDepsHandler(log, courseDepsService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		RequestLogger:       middleware.NewRequestLogger(log),
		AttemptHandler:      attemptHandler,
		LearningHandler:     learningHandler,
		TeacherQueueHandler: teacherQueueHandler,
		CourseDepsHandler:   courseDepsHandler,
	})

	port := utils.GetEnv("HTTP_PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
