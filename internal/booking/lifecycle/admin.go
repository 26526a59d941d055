package lifecycle

import (
	"context"
	"fmt"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
)

// Reopen offers a job to translators again. A timed-out job is cloned into a
// new pending job that references the original; any other job is reopened
// in place. A dangling active assignment on the original is cancelled.
func (m *Machine) Reopen(ctx context.Context, tx storage.Tx, job *domain.Job, admin *domain.User) (*Result, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	o := m.begin(ctx, tx, job, admin)

	if err := m.releaseTranslator(o); err != nil {
		return nil, err
	}

	if job.Status == domain.StatusTimedOut {
		clone := job.Clone()
		clone.ID = 0
		clone.Status = domain.StatusPending
		clone.CreatedAt = o.now
		clone.UpdatedAt = o.now
		clone.WillExpireAt = domain.WillExpireAt(clone.Due, o.now)
		clone.AdminComments = fmt.Sprintf("This booking is a reopening of booking #%d", job.ID)
		clone.EndAt = nil
		clone.WithdrawAt = nil
		clone.SessionSeconds = 0
		clone.IgnoreFlag = false
		clone.IgnoreExpiredFlag = false
		clone.EmailSent = false
		clone.EmailSentToVirpal = false
		if err := tx.CreateJob(ctx, clone); err != nil {
			return nil, err
		}

		o.emitFor(domain.EventJobBroadcast, clone, nil)
		res, err := o.finish()
		if err != nil {
			return nil, err
		}
		res.Created = clone
		return res, nil
	}

	job.CreatedAt = o.now
	job.WillExpireAt = domain.WillExpireAt(job.Due, o.now)
	o.setStatus(domain.StatusPending)
	o.emit(domain.EventJobBroadcast, nil)
	return o.finish()
}

// Expire times out a pending job whose offer window has passed. It returns
// a nil Result when the job does not qualify, so a sweep can race with
// other updates harmlessly.
func (m *Machine) Expire(ctx context.Context, tx storage.Tx, job *domain.Job) (*Result, error) {
	o := m.begin(ctx, tx, job, nil)
	if job.Status != domain.StatusPending || job.IgnoreExpiredFlag || job.WillExpireAt.After(o.now) {
		return nil, nil
	}
	o.setStatus(domain.StatusTimedOut)
	o.emit(domain.EventJobExpired, nil)
	return o.finish()
}

// IgnoreExpiring hides the job from the admin "expiring" list.
func (m *Machine) IgnoreExpiring(ctx context.Context, tx storage.Tx, job *domain.Job, admin *domain.User) (*Result, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	o := m.begin(ctx, tx, job, admin)
	job.IgnoreFlag = true
	return o.finish()
}

// IgnoreExpired keeps the job out of the expiry sweep.
func (m *Machine) IgnoreExpired(ctx context.Context, tx storage.Tx, job *domain.Job, admin *domain.User) (*Result, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	o := m.begin(ctx, tx, job, admin)
	job.IgnoreExpiredFlag = true
	return o.finish()
}

// SMSBroadcast asks the dispatcher to text every eligible translator about
// an open job.
func (m *Machine) SMSBroadcast(ctx context.Context, tx storage.Tx, job *domain.Job, admin *domain.User) (*Result, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if job.Status != domain.StatusPending {
		return nil, domain.NewTransitionError(job.Status, job.Status, "only open jobs can be broadcast")
	}
	ev := domain.NewEvent(domain.EventSMSBroadcast, job, m.now())
	ev.ActorID = admin.ID
	return &Result{Job: job, Events: []domain.Event{ev}}, nil
}
