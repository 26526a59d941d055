package domain

// Status is the lifecycle state of a job.
type Status string

// Job status constants
const (
	StatusPending               Status = "pending"
	StatusAssigned              Status = "assigned"
	StatusStarted               Status = "started"
	StatusCompleted             Status = "completed"
	StatusWithdrawBefore24      Status = "withdrawbefore24"
	StatusWithdrawAfter24       Status = "withdrawafter24"
	StatusTimedOut              Status = "timedout"
	StatusNotCarriedOutCustomer Status = "not_carried_out_customer"
)

// AllStatuses lists every status a job can hold.
var AllStatuses = []Status{
	StatusPending,
	StatusAssigned,
	StatusStarted,
	StatusCompleted,
	StatusWithdrawBefore24,
	StatusWithdrawAfter24,
	StatusTimedOut,
	StatusNotCarriedOutCustomer,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether a job in this status is closed for self-service actions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusWithdrawBefore24, StatusWithdrawAfter24, StatusNotCarriedOutCustomer:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}
