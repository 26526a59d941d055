package lifecycle

import (
	"context"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
)

// Values accepted in CreateRequest.JobFor.
const (
	JobForMale              = "male"
	JobForFemale            = "female"
	JobForNormal            = "normal"
	JobForCertified         = "certified"
	JobForCertifiedInLaw    = "certified_in_law"
	JobForCertifiedInHealth = "certified_in_health"
)

// CreateRequest is a customer's booking request.
type CreateRequest struct {
	FromLanguageID int64
	Immediate      bool
	Due            *time.Time
	Duration       int
	JobFor         []string
	PhoneType      domain.YesNo
	PhysicalType   domain.YesNo
	CustomerEmail  string
	Town           string
	Reference      string
}

var jobTypes = map[string]domain.JobType{
	"rwsconsumer": domain.JobTypeRWS,
	"ngo":         domain.JobTypeUnpaid,
	"paid":        domain.JobTypePaid,
}

// Create validates req and inserts a new pending job owned by customer.
func (m *Machine) Create(ctx context.Context, tx storage.Tx, customer *domain.User, req CreateRequest) (*Result, error) {
	if customer == nil || !customer.IsCustomer() {
		return nil, domain.NewValidationError("user", "only customers can create bookings")
	}
	now := m.now()

	job := &domain.Job{
		CustomerID:           customer.ID,
		CustomerEmail:        req.CustomerEmail,
		FromLanguageID:       req.FromLanguageID,
		Immediate:            req.Immediate,
		Duration:             req.Duration,
		CustomerPhoneType:    req.PhoneType,
		CustomerPhysicalType: req.PhysicalType,
		Town:                 req.Town,
		Reference:            req.Reference,
		Status:               domain.StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if job.Town == "" {
		job.Town = customer.Town
	}

	if req.FromLanguageID == 0 {
		return nil, domain.NewValidationError("from_language_id", "required")
	}
	if req.Duration < 0 {
		return nil, domain.NewValidationError("duration", "must not be negative")
	}

	if req.Immediate {
		job.Due = now.Add(m.cfg.ImmediateLeadTime)
		job.CustomerPhoneType = domain.Yes
		if job.Duration == 0 {
			job.Duration = int(m.cfg.ImmediateDuration / time.Minute)
		}
	} else {
		if req.Duration == 0 {
			return nil, domain.NewValidationError("duration", "required")
		}
		if req.Due == nil {
			return nil, domain.NewValidationError("due", "required")
		}
		if !req.Due.After(now) {
			return nil, domain.NewValidationError("due", "must be in the future")
		}
		if !req.PhoneType.IsYes() && !req.PhysicalType.IsYes() {
			return nil, domain.NewValidationError("customer_phone_type", "choose phone, physical or both")
		}
		job.Due = *req.Due
	}
	if job.CustomerPhysicalType == "" {
		job.CustomerPhysicalType = domain.No
	}
	if job.CustomerPhoneType == "" {
		job.CustomerPhoneType = domain.No
	}

	gender, certification, err := parseJobFor(req.JobFor)
	if err != nil {
		return nil, err
	}
	job.Gender = gender
	job.Certification = certification

	jobType, ok := jobTypes[customer.ConsumerType]
	if !ok {
		return nil, domain.NewValidationError("consumer_type", "customer has no booking type")
	}
	job.JobType = jobType
	job.WillExpireAt = domain.WillExpireAt(job.Due, now)

	if err := tx.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	ev := domain.NewEvent(domain.EventJobCreated, job, now)
	ev.ActorID = customer.ID
	return &Result{Job: job, Events: []domain.Event{ev}}, nil
}

// parseJobFor maps the booking form's "job for" checkboxes to a gender and a
// certification requirement.
func parseJobFor(values []string) (domain.Gender, domain.Certification, error) {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		switch v {
		case JobForMale, JobForFemale, JobForNormal, JobForCertified, JobForCertifiedInLaw, JobForCertifiedInHealth:
			set[v] = true
		default:
			return "", "", domain.NewValidationError("job_for", "unknown value "+v)
		}
	}

	gender := domain.GenderAny
	switch {
	case set[JobForMale] && set[JobForFemale]:
		gender = domain.GenderAny
	case set[JobForMale]:
		gender = domain.GenderMale
	case set[JobForFemale]:
		gender = domain.GenderFemale
	}

	certification := domain.CertificationNone
	switch {
	case set[JobForCertified] && set[JobForNormal]:
		certification = domain.CertificationBoth
	case set[JobForCertifiedInLaw] && set[JobForNormal]:
		certification = domain.CertificationNLaw
	case set[JobForCertifiedInHealth] && set[JobForNormal]:
		certification = domain.CertificationNHealth
	case set[JobForCertified]:
		certification = domain.CertificationCertified
	case set[JobForCertifiedInLaw]:
		certification = domain.CertificationLaw
	case set[JobForCertifiedInHealth]:
		certification = domain.CertificationHealth
	case set[JobForNormal]:
		certification = domain.CertificationNormal
	}
	return gender, certification, nil
}
