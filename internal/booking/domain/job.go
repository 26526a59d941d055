package domain

import (
	"time"
)

// YesNo mirrors the yes/no flags customers pick when booking. The empty
// value is kept distinct because legacy rows carry it.
type YesNo string

const (
	Yes YesNo = "yes"
	No  YesNo = "no"
)

// IsYes reports whether the flag is set to yes.
func (v YesNo) IsYes() bool {
	return v == Yes
}

// IsNoOrEmpty reports whether the flag is no or unset.
func (v YesNo) IsNoOrEmpty() bool {
	return v == No || v == ""
}

// Gender is the translator gender a customer asked for.
type Gender string

const (
	GenderAny    Gender = ""
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Certification is the qualification requirement attached to a job.
type Certification string

const (
	CertificationNone      Certification = ""
	CertificationNormal    Certification = "normal"
	CertificationCertified Certification = "yes"
	CertificationBoth      Certification = "both"
	CertificationLaw       Certification = "law"
	CertificationNLaw      Certification = "n_law"
	CertificationHealth    Certification = "health"
	CertificationNHealth   Certification = "n_health"
)

// Canonical folds the long-form spellings found in stored rows, "certified"
// and "none", onto the values above.
func (c Certification) Canonical() Certification {
	switch c {
	case "certified":
		return CertificationCertified
	case "none":
		return CertificationNone
	}
	return c
}

// JobType decides which translator pool a job is offered to.
type JobType string

const (
	JobTypePaid   JobType = "paid"
	JobTypeRWS    JobType = "rws"
	JobTypeUnpaid JobType = "unpaid"
)

// Job is a single interpretation booking.
type Job struct {
	ID                   int64         `db:"id" json:"id"`
	CustomerID           int64         `db:"user_id" json:"customer_id"`
	CustomerEmail        string        `db:"user_email" json:"customer_email,omitempty"`
	FromLanguageID       int64         `db:"from_language_id" json:"from_language_id"`
	Immediate            bool          `db:"immediate" json:"immediate"`
	Duration             int           `db:"duration" json:"duration"`
	Due                  time.Time     `db:"due" json:"due"`
	Gender               Gender        `db:"gender" json:"gender,omitempty"`
	Certification        Certification `db:"certified" json:"certified,omitempty"`
	JobType              JobType       `db:"job_type" json:"job_type"`
	CustomerPhoneType    YesNo         `db:"customer_phone_type" json:"customer_phone_type"`
	CustomerPhysicalType YesNo         `db:"customer_physical_type" json:"customer_physical_type"`
	Town                 string        `db:"town" json:"town,omitempty"`
	Status               Status        `db:"status" json:"status"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	WillExpireAt         time.Time     `db:"will_expire_at" json:"will_expire_at"`
	EndAt                *time.Time    `db:"end_at" json:"end_at,omitempty"`
	WithdrawAt           *time.Time    `db:"withdraw_at" json:"withdraw_at,omitempty"`
	SessionSeconds       int64         `db:"session_seconds" json:"session_seconds"`
	AdminComments        string        `db:"admin_comments" json:"admin_comments,omitempty"`
	Reference            string        `db:"reference" json:"reference,omitempty"`
	IgnoreFlag           bool          `db:"ignore" json:"ignore"`
	IgnoreExpiredFlag    bool          `db:"ignore_expired" json:"ignore_expired"`
	EmailSent            bool          `db:"email_sent" json:"email_sent"`
	EmailSentToVirpal    bool          `db:"email_sent_to_virpal" json:"email_sent_to_virpal"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionTime returns the recorded session length.
func (j *Job) SessionTime() time.Duration {
	return time.Duration(j.SessionSeconds) * time.Second
}

// SetSessionTime records the session length, truncated to whole seconds.
func (j *Job) SetSessionTime(d time.Duration) {
	if d < 0 {
		d = 0
	}
	j.SessionSeconds = int64(d / time.Second)
}

// End returns the scheduled end of the booking.
func (j *Job) End() time.Time {
	return j.Due.Add(time.Duration(j.Duration) * time.Minute)
}

// RequiresSameTown reports whether the job is an in-person booking, which
// restricts the translator pool to the job's town.
func (j *Job) RequiresSameTown() bool {
	return j.CustomerPhoneType.IsNoOrEmpty() && j.CustomerPhysicalType.IsYes()
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.EndAt != nil {
		t := *j.EndAt
		c.EndAt = &t
	}
	if j.WithdrawAt != nil {
		t := *j.WithdrawAt
		c.WithdrawAt = &t
	}
	return &c
}

// Overlaps reports whether two bookings occupy intersecting time ranges.
// Zero-length bookings conflict only on an identical due time.
func Overlaps(aStart time.Time, aMinutes int, bStart time.Time, bMinutes int) bool {
	if aMinutes <= 0 || bMinutes <= 0 {
		if aStart.Equal(bStart) {
			return true
		}
	}
	aEnd := aStart.Add(time.Duration(aMinutes) * time.Minute)
	bEnd := bStart.Add(time.Duration(bMinutes) * time.Minute)
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
