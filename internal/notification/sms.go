package notification

import (
	"fmt"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
)

// SMS templates.
const (
	SMSPhoneJob    = "phone_job"
	SMSPhysicalJob = "physical_job"
)

type contactKey struct {
	physical domain.YesNo
	phone    domain.YesNo
}

var smsTemplates = map[contactKey]string{
	{domain.No, domain.Yes}:  SMSPhoneJob,
	{domain.Yes, domain.Yes}: SMSPhoneJob,
	{domain.Yes, domain.No}:  SMSPhysicalJob,
}

// SMSTemplate selects the SMS template for a job's contact types.
func SMSTemplate(physical, phone domain.YesNo) (string, error) {
	tmpl, ok := smsTemplates[contactKey{physical, phone}]
	if !ok {
		return "", fmt.Errorf("%w: physical=%q phone=%q", domain.ErrInvalidContactConfiguration, physical, phone)
	}
	return tmpl, nil
}

// formatDuration renders minutes the way booking texts show them, e.g. "1h 30min".
func formatDuration(minutes int) string {
	h, m := minutes/60, minutes%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dmin", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dmin", h, m)
	}
}
