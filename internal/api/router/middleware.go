package router

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/api/dto"
	"github.com/cuongbtq/booking-dispatch/internal/api/handler"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// ActorHeader carries the id of the user making the request
const ActorHeader = "X-User-ID"

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("actor", c.GetHeader(ActorHeader)),
			slog.Duration("latency", time.Since(start)),
			slog.Int("body_size", c.Writer.Size()),
		)

		// Log errors if any
		for _, e := range c.Errors {
			logger.Error("Request error",
				slog.String("error", e.Error()),
				slog.Uint64("type", uint64(e.Type)),
			)
		}
	}
}

// ActorMiddleware requires a numeric X-User-ID and stores it for handlers.
// Whether the user exists and may act is decided by the booking service.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(ActorHeader), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
				Error: ActorHeader + " header must carry a user id",
				Field: "user",
			})
			return
		}
		c.Set(handler.ActorKey, id)
		c.Next()
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing. No origins, or "*",
// allows every origin.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", ActorHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
