package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cuongbtq/booking-dispatch/internal/api/dto"
	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/lifecycle"
	"github.com/cuongbtq/booking-dispatch/internal/booking/service"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
	"github.com/gin-gonic/gin"
)

// ActorKey is the gin context key holding the acting user id
const ActorKey = "actor_id"

// BookingService is the booking surface the handlers drive
type BookingService interface {
	Create(ctx context.Context, actorID int64, req lifecycle.CreateRequest) (*domain.Job, error)
	Accept(ctx context.Context, actorID, jobID int64) (*domain.Job, error)
	Cancel(ctx context.Context, actorID, jobID int64) (*domain.Job, error)
	EndSession(ctx context.Context, actorID, jobID int64) (*domain.Job, error)
	CustomerNotCall(ctx context.Context, actorID, jobID int64) (*domain.Job, error)
	Update(ctx context.Context, actorID, jobID int64, req lifecycle.UpdateRequest) (*domain.Job, error)
	Reopen(ctx context.Context, actorID, jobID int64) (*domain.Job, error)
	IgnoreExpiring(ctx context.Context, actorID, jobID int64) (*domain.Job, error)
	IgnoreExpired(ctx context.Context, actorID, jobID int64) (*domain.Job, error)
	SMSBroadcast(ctx context.Context, actorID, jobID int64) error
	GetJob(ctx context.Context, jobID int64) (*service.JobDetails, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) (*service.Page, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Service BookingService
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	service BookingService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}

// actor returns the id set by the actor middleware
func actor(c *gin.Context) int64 {
	return c.GetInt64(ActorKey)
}

// jobIDParam parses :job_id, writing a 400 when it is not a positive integer
func jobIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a positive integer", Field: "job_id"})
		return 0, false
	}
	return id, true
}

// statusFor maps a domain error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case domain.IsBusinessRejection(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err in the shared error shape. Server faults are
// logged; their text is not exposed.
func (h *JobHandler) respondError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	resp := dto.ErrorResponse{Error: err.Error()}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("op", op),
			slog.Any("error", err),
		)
		resp = dto.ErrorResponse{Error: "internal error"}
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}
