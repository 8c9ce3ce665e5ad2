package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/vkomlev/LMS/internal/handlers"
	"github.com/vkomlev/LMS/internal/middleware"
)

type RouterConfig struct {
	RequestLogger       *middleware.RequestLogger
	AttemptHandler      *handlers.AttemptHandler
	LearningHandler     *handlers.LearningHandler
	TeacherQueueHandler *handlers.TeacherQueueHandler
	CourseDepsHandler   *handlers.CourseDepsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	if cfg.RequestLogger != nil {
		router.Use(cfg.RequestLogger.Handler())
	}

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Attempts
		api.POST("/attempts/start", cfg.AttemptHandler.Start)
		api.POST("/attempts/:id/answers", cfg.AttemptHandler.SubmitAnswers)
		api.POST("/attempts/:id/finish", cfg.AttemptHandler.Finish)
		api.POST("/attempts/:id/cancel", cfg.AttemptHandler.Cancel)
		api.GET("/attempts/:id", cfg.AttemptHandler.Get)
		api.GET("/users/:id/attempts", cfg.AttemptHandler.ListByUser)

		// Student progression
		api.GET("/students/:id/next", cfg.LearningHandler.NextItem)
		api.GET("/students/:id/tasks/:taskID/state", cfg.LearningHandler.TaskState)
		api.GET("/students/:id/courses/:courseID/state", cfg.LearningHandler.CourseState)
		api.POST("/students/:id/materials/:materialID/complete", cfg.LearningHandler.CompleteMaterial)
		api.POST("/students/:id/help-requests", cfg.LearningHandler.RequestHelp)
		api.POST("/students/:id/tasks/:taskID/hint", cfg.LearningHandler.HintOpened)
		api.PUT("/students/:id/tasks/:taskID/limit-override", cfg.LearningHandler.SetLimitOverride)

		// Teacher queues
		api.POST("/teacher/queue/help/claim", cfg.TeacherQueueHandler.ClaimHelpRequest)
		api.POST("/teacher/queue/review/claim", cfg.TeacherQueueHandler.ClaimReview)
		api.POST("/teacher/help-requests/:id/release", cfg.TeacherQueueHandler.ReleaseHelpRequest)
		api.POST("/teacher/help-requests/:id/close", cfg.TeacherQueueHandler.CloseHelpRequest)
		api.POST("/teacher/help-requests/:id/reply", cfg.TeacherQueueHandler.ReplyHelpRequest)
		api.POST("/teacher/reviews/:id/release", cfg.TeacherQueueHandler.ReleaseReview)
		api.POST("/teacher/reviews/:id/score", cfg.TeacherQueueHandler.ScoreReview)
		api.GET("/teachers/:id/workload", cfg.TeacherQueueHandler.Workload)

		// Course graph
		api.POST("/courses/:id/parents", cfg.CourseDepsHandler.AddParent)
		api.DELETE("/courses/:id/parents/:parentID", cfg.CourseDepsHandler.RemoveParent)
		api.POST("/courses/:id/dependencies", cfg.CourseDepsHandler.AddDependency)
		api.PUT("/courses/:id/dependencies", cfg.CourseDepsHandler.SetDependencies)
		api.DELETE("/courses/:id/dependencies/:requiredID", cfg.CourseDepsHandler.RemoveDependency)
		api.GET("/courses/:id/dependencies", cfg.CourseDepsHandler.ListDependencies)
		api.GET("/courses/:id/subtree", cfg.CourseDepsHandler.Subtree)
	}

	return router
}
