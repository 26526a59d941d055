package router

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Options tunes the router beyond its handler dependencies
type Options struct {
	ServiceName  string
	AllowOrigins []string
	// HealthChecks run on every /health request, keyed by dependency name.
	HealthChecks map[string]HealthCheck
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowOrigins))

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "booking-api-service"
	}

	// Health check endpoint
	r.GET("/health", healthHandler(serviceName, opts.HealthChecks))

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Job with assignments and change log
			jobs.GET("/:job_id", jobHandler.GetJob)

			acting := jobs.Group("", ActorMiddleware())
			acting.POST("", jobHandler.CreateJob)
			acting.POST("/:job_id/accept", jobHandler.AcceptJob)
			acting.POST("/:job_id/cancel", jobHandler.CancelJob)
			acting.POST("/:job_id/end", jobHandler.EndSession)
			acting.POST("/:job_id/customer-not-call", jobHandler.CustomerNotCall)
		}

		admin := v1.Group("/admin/jobs", ActorMiddleware())
		{
			admin.PUT("/:job_id", jobHandler.UpdateJob)
			admin.POST("/:job_id/reopen", jobHandler.ReopenJob)
			admin.POST("/:job_id/ignore-expiring", jobHandler.IgnoreExpiring)
			admin.POST("/:job_id/ignore-expired", jobHandler.IgnoreExpired)
			admin.POST("/:job_id/sms-broadcast", jobHandler.SMSBroadcast)
		}
	}

	return r
}

// healthHandler answers 503 naming every failed check
func healthHandler(serviceName string, checks map[string]HealthCheck) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		failed := gin.H{}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				failed[name] = err.Error()
			}
		}

		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": serviceName,
				"checks":  failed,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}
