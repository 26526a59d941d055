package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/api/dto"
	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/lifecycle"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
	"github.com/gin-gonic/gin"
)

// CreateJob handles POST /api/v1/jobs
// Books a new job on behalf of the calling customer
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	job, err := h.service.Create(c.Request.Context(), actor(c), lifecycle.CreateRequest{
		FromLanguageID: req.FromLanguageID,
		Immediate:      req.Immediate,
		Due:            req.Due,
		Duration:       req.Duration,
		JobFor:         req.JobFor,
		PhoneType:      domain.YesNo(req.CustomerPhoneType),
		PhysicalType:   domain.YesNo(req.CustomerPhysicalType),
		CustomerEmail:  req.CustomerEmail,
		Town:           req.Town,
		Reference:      req.Reference,
	})
	if err != nil {
		h.respondError(c, "create", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": dto.FromJob(job)})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the job with its translator history and change log
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	details, err := h.service.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, "get", err)
		return
	}

	resp := dto.JobDetailsResponse{
		Job:         dto.FromJob(details.Job),
		Assignments: make([]dto.AssignmentDTO, 0, len(details.Assignments)),
		Changes:     make([]dto.ChangeDTO, 0, len(details.Changes)),
	}
	if details.Active != nil {
		active := dto.FromAssignment(details.Active)
		resp.Translator = &active
	}
	for i := range details.Assignments {
		resp.Assignments = append(resp.Assignments, dto.FromAssignment(&details.Assignments[i]))
	}
	for i := range details.Changes {
		resp.Changes = append(resp.Changes, dto.FromChange(&details.Changes[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Field: "cursor"})
		return
	}

	filter := storage.JobFilter{
		CustomerID:   req.CustomerID,
		TranslatorID: req.TranslatorID,
		LanguageIDs:  req.LanguageID,
		PageSize:     req.PageSize,
		Cursor:       cursor,
	}
	for _, s := range req.Status {
		status := domain.Status(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "unknown status " + s, Field: "status"})
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, t := range req.JobType {
		filter.JobTypes = append(filter.JobTypes, domain.JobType(t))
	}

	page, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "list", err)
		return
	}

	resp := dto.ListJobsResponse{
		Jobs:       make([]dto.JobDTO, 0, len(page.Jobs)),
		NextCursor: EncodeJobCursor(page.Next),
	}
	for i := range page.Jobs {
		resp.Jobs = append(resp.Jobs, dto.FromJob(&page.Jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// AcceptJob handles POST /api/v1/jobs/:job_id/accept
func (h *JobHandler) AcceptJob(c *gin.Context) {
	h.jobAction(c, "accept", h.service.Accept)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Customers and translators share the route; the role picks the rules
func (h *JobHandler) CancelJob(c *gin.Context) {
	h.jobAction(c, "cancel", h.service.Cancel)
}

// EndSession handles POST /api/v1/jobs/:job_id/end
func (h *JobHandler) EndSession(c *gin.Context) {
	h.jobAction(c, "end_session", h.service.EndSession)
}

// CustomerNotCall handles POST /api/v1/jobs/:job_id/customer-not-call
func (h *JobHandler) CustomerNotCall(c *gin.Context) {
	h.jobAction(c, "customer_not_call", h.service.CustomerNotCall)
}

// ReopenJob handles POST /api/v1/admin/jobs/:job_id/reopen
// Responds with the reopened job, which is a new copy for timed-out jobs
func (h *JobHandler) ReopenJob(c *gin.Context) {
	h.jobAction(c, "reopen", h.service.Reopen)
}

// IgnoreExpiring handles POST /api/v1/admin/jobs/:job_id/ignore-expiring
func (h *JobHandler) IgnoreExpiring(c *gin.Context) {
	h.jobAction(c, "ignore_expiring", h.service.IgnoreExpiring)
}

// IgnoreExpired handles POST /api/v1/admin/jobs/:job_id/ignore-expired
func (h *JobHandler) IgnoreExpired(c *gin.Context) {
	h.jobAction(c, "ignore_expired", h.service.IgnoreExpired)
}

// SMSBroadcast handles POST /api/v1/admin/jobs/:job_id/sms-broadcast
// The texts go out asynchronously from the worker
func (h *JobHandler) SMSBroadcast(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	if err := h.service.SMSBroadcast(c.Request.Context(), actor(c), jobID); err != nil {
		h.respondError(c, "sms_broadcast", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": "queued"})
}

// UpdateJob handles PUT /api/v1/admin/jobs/:job_id
// Applies translator, due, language and status changes in that order
func (h *JobHandler) UpdateJob(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	update := lifecycle.UpdateRequest{
		TranslatorID:    req.TranslatorID,
		TranslatorEmail: req.TranslatorEmail,
		Due:             req.Due,
		FromLanguageID:  req.FromLanguageID,
		AdminComments:   req.AdminComments,
		Reference:       req.Reference,
	}
	if req.Status != nil {
		status := domain.Status(*req.Status)
		update.Status = &status
	}
	if req.SessionTime != nil {
		d, err := time.ParseDuration(*req.SessionTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "session_time must be a duration such as 1h30m", Field: "session_time"})
			return
		}
		update.SessionTime = &d
	}

	job, err := h.service.Update(c.Request.Context(), actor(c), jobID, update)
	if err != nil {
		h.respondError(c, "update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": dto.FromJob(job)})
}

// jobAction runs a body-less operation on :job_id and responds with the job
func (h *JobHandler) jobAction(c *gin.Context, op string, fn func(ctx context.Context, actorID, jobID int64) (*domain.Job, error)) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}

	job, err := fn(c.Request.Context(), actor(c), jobID)
	if err != nil {
		h.respondError(c, op, err)
		return
	}

	h.logger.Info("Job action applied",
		slog.String("op", op),
		slog.Int64("job_id", jobID),
		slog.Int64("actor_id", actor(c)),
		slog.String("status", string(job.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"job": dto.FromJob(job)})
}
