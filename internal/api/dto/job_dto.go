package dto

import (
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
)

type CreateJobRequest struct {
	FromLanguageID       int64      `json:"from_language_id" binding:"required"`
	Immediate            bool       `json:"immediate"`
	Due                  *time.Time `json:"due"`
	Duration             int        `json:"duration" binding:"gte=0"`
	JobFor               []string   `json:"job_for"`
	CustomerPhoneType    string     `json:"customer_phone_type" binding:"omitempty,oneof=yes no"`
	CustomerPhysicalType string     `json:"customer_physical_type" binding:"omitempty,oneof=yes no"`
	CustomerEmail        string     `json:"customer_email" binding:"omitempty,email"`
	Town                 string     `json:"town"`
	Reference            string     `json:"reference"`
}

type UpdateJobRequest struct {
	TranslatorID    int64      `json:"translator_id"`
	TranslatorEmail string     `json:"translator_email" binding:"omitempty,email"`
	Due             *time.Time `json:"due"`
	FromLanguageID  *int64     `json:"from_language_id"`
	Status          *string    `json:"status"`
	AdminComments   *string    `json:"admin_comments"`
	Reference       *string    `json:"reference"`
	// SessionTime is a Go duration string such as "1h30m".
	SessionTime *string `json:"session_time"`
}

type ListJobsRequest struct {
	CustomerID   int64    `form:"customer_id"`
	TranslatorID int64    `form:"translator_id"`
	Status       []string `form:"status"`
	JobType      []string `form:"job_type"`
	LanguageID   []int64  `form:"language_id"`
	PageSize     int      `form:"page_size"`
	Cursor       string   `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID                   int64      `json:"id"`
	CustomerID           int64      `json:"customer_id"`
	CustomerEmail        string     `json:"customer_email,omitempty"`
	FromLanguageID       int64      `json:"from_language_id"`
	Immediate            bool       `json:"immediate"`
	Duration             int        `json:"duration"`
	Due                  time.Time  `json:"due"`
	Gender               string     `json:"gender,omitempty"`
	Certified            string     `json:"certified,omitempty"`
	JobType              string     `json:"job_type"`
	CustomerPhoneType    string     `json:"customer_phone_type"`
	CustomerPhysicalType string     `json:"customer_physical_type"`
	Town                 string     `json:"town,omitempty"`
	Status               string     `json:"status"`
	WillExpireAt         time.Time  `json:"will_expire_at"`
	EndAt                *time.Time `json:"end_at,omitempty"`
	WithdrawAt           *time.Time `json:"withdraw_at,omitempty"`
	SessionTime          string     `json:"session_time"`
	AdminComments        string     `json:"admin_comments,omitempty"`
	Reference            string     `json:"reference,omitempty"`
	Ignore               bool       `json:"ignore"`
	IgnoreExpired        bool       `json:"ignore_expired"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type AssignmentDTO struct {
	ID           int64      `json:"id"`
	TranslatorID int64      `json:"translator_id"`
	AssignedAt   time.Time  `json:"assigned_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CompletedBy  *int64     `json:"completed_by,omitempty"`
	CancelAt     *time.Time `json:"cancel_at,omitempty"`
}

type ChangeDTO struct {
	ActorID   int64     `json:"actor_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	CreatedAt time.Time `json:"created_at"`
}

type JobDetailsResponse struct {
	Job         JobDTO          `json:"job"`
	Translator  *AssignmentDTO  `json:"translator,omitempty"`
	Assignments []AssignmentDTO `json:"assignments"`
	Changes     []ChangeDTO     `json:"changes"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func FromJob(job *domain.Job) JobDTO {
	return JobDTO{
		ID:                   job.ID,
		CustomerID:           job.CustomerID,
		CustomerEmail:        job.CustomerEmail,
		FromLanguageID:       job.FromLanguageID,
		Immediate:            job.Immediate,
		Duration:             job.Duration,
		Due:                  job.Due,
		Gender:               string(job.Gender),
		Certified:            string(job.Certification),
		JobType:              string(job.JobType),
		CustomerPhoneType:    string(job.CustomerPhoneType),
		CustomerPhysicalType: string(job.CustomerPhysicalType),
		Town:                 job.Town,
		Status:               string(job.Status),
		WillExpireAt:         job.WillExpireAt,
		EndAt:                job.EndAt,
		WithdrawAt:           job.WithdrawAt,
		SessionTime:          job.SessionTime().String(),
		AdminComments:        job.AdminComments,
		Reference:            job.Reference,
		Ignore:               job.IgnoreFlag,
		IgnoreExpired:        job.IgnoreExpiredFlag,
		CreatedAt:            job.CreatedAt,
		UpdatedAt:            job.UpdatedAt,
	}
}

func FromAssignment(a *domain.Assignment) AssignmentDTO {
	return AssignmentDTO{
		ID:           a.ID,
		TranslatorID: a.TranslatorID,
		AssignedAt:   a.AssignedAt,
		CompletedAt:  a.CompletedAt,
		CompletedBy:  a.CompletedBy,
		CancelAt:     a.CancelAt,
	}
}

func FromChange(c *domain.ChangeLogEntry) ChangeDTO {
	return ChangeDTO{
		ActorID:   c.ActorID,
		Field:     c.Field,
		OldValue:  c.OldValue,
		NewValue:  c.NewValue,
		CreatedAt: c.CreatedAt,
	}
}
