package lifecycle

import (
	"context"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
)

// Accept assigns an open job to the calling translator.
func (m *Machine) Accept(ctx context.Context, tx storage.Tx, job *domain.Job, translator *domain.User) (*Result, error) {
	if err := requireTranslator(translator); err != nil {
		return nil, err
	}
	if job.Status != domain.StatusPending {
		return nil, domain.NewTransitionError(job.Status, domain.StatusAssigned, "job is no longer open")
	}

	// Serialize this translator's bookings so two accepts on different jobs
	// cannot both pass the overlap check.
	if err := tx.LockTranslator(ctx, translator.ID); err != nil {
		return nil, err
	}

	o := m.begin(ctx, tx, job, translator)
	current, err := o.ledger.ActiveAssignment(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, domain.NewTransitionError(job.Status, domain.StatusAssigned, "job already has a translator")
	}

	busy, err := o.ledger.HasOverlap(ctx, translator.ID, job)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, domain.ErrAlreadyBooked
	}

	if _, err := o.ledger.Assign(ctx, job.ID, translator.ID); err != nil {
		return nil, err
	}
	o.recordTranslator(0, translator.ID)
	o.setStatus(domain.StatusAssigned)
	o.emit(domain.EventJobAccepted, func(ev *domain.Event) {
		ev.TranslatorID = translator.ID
		ev.WithPush = true
	})
	return o.finish()
}

// CancelByCustomer withdraws the job on behalf of its owner. The status
// depends on how far ahead the booking was when it was withdrawn.
func (m *Machine) CancelByCustomer(ctx context.Context, tx storage.Tx, job *domain.Job, customer *domain.User) (*Result, error) {
	if customer == nil || customer.ID != job.CustomerID {
		return nil, domain.NewValidationError("user", "only the job owner can cancel as customer")
	}

	o := m.begin(ctx, tx, job, customer)
	target := domain.StatusWithdrawAfter24
	if job.Due.Sub(o.now) >= m.cfg.CancellationWindow {
		target = domain.StatusWithdrawBefore24
	}
	if job.Status.Terminal() {
		return nil, domain.NewTransitionError(job.Status, target, "job is closed")
	}

	withdrawAt := o.now
	job.WithdrawAt = &withdrawAt

	cancelled, err := o.ledger.CancelActive(ctx, job.ID, o.now)
	if err != nil {
		return nil, err
	}
	var translatorID int64
	if cancelled != nil {
		translatorID = cancelled.TranslatorID
		o.recordTranslator(translatorID, 0)
	}

	o.setStatus(target)
	o.emit(domain.EventCancelledByCustomer, func(ev *domain.Event) {
		ev.TranslatorID = translatorID
	})
	return o.finish()
}

// CancelByTranslator hands the job back to the open pool. It is only allowed
// while more than the cancellation window remains before due.
func (m *Machine) CancelByTranslator(ctx context.Context, tx storage.Tx, job *domain.Job, translator *domain.User) (*Result, error) {
	if err := requireTranslator(translator); err != nil {
		return nil, err
	}

	o := m.begin(ctx, tx, job, translator)
	current, err := o.ledger.ActiveAssignment(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.TranslatorID != translator.ID {
		return nil, domain.ErrNoActiveAssignment
	}
	if job.Due.Sub(o.now) <= m.cfg.CancellationWindow {
		return nil, domain.ErrCancellationWindowClosed
	}

	if err := o.ledger.Remove(ctx, job.ID, translator.ID); err != nil {
		return nil, err
	}
	o.recordTranslator(translator.ID, 0)

	job.CreatedAt = o.now
	job.WillExpireAt = domain.WillExpireAt(job.Due, o.now)
	o.setStatus(domain.StatusPending)

	o.emit(domain.EventCancelledByTranslator, func(ev *domain.Event) {
		ev.TranslatorID = translator.ID
	})
	o.emit(domain.EventJobBroadcast, func(ev *domain.Event) {
		ev.ExcludeUserID = translator.ID
	})
	return o.finish()
}

// EndSession closes a running session. Jobs that are not started are left
// as they are.
func (m *Machine) EndSession(ctx context.Context, tx storage.Tx, job *domain.Job, actor *domain.User) (*Result, error) {
	o := m.begin(ctx, tx, job, actor)
	current, err := o.ledger.ActiveAssignment(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !m.participant(job, current, actor) {
		return nil, domain.NewValidationError("user", "not a participant of this job")
	}
	if job.Status != domain.StatusStarted {
		return &Result{Job: job}, nil
	}

	end := o.now
	job.EndAt = &end
	job.SetSessionTime(o.now.Sub(job.Due))

	var translatorID int64
	if current != nil {
		translatorID = current.TranslatorID
		if _, err := o.ledger.Complete(ctx, job.ID, actor.ID, o.now); err != nil {
			return nil, err
		}
	}

	o.setStatus(domain.StatusCompleted)
	o.emit(domain.EventSessionEnded, func(ev *domain.Event) {
		ev.TranslatorID = translatorID
	})
	return o.finish()
}

// CustomerNotCall records that the customer never showed up. The assignment
// is completed on the translator's behalf.
func (m *Machine) CustomerNotCall(ctx context.Context, tx storage.Tx, job *domain.Job, translator *domain.User) (*Result, error) {
	if err := requireTranslator(translator); err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, domain.NewTransitionError(job.Status, domain.StatusNotCarriedOutCustomer, "job is closed")
	}

	o := m.begin(ctx, tx, job, translator)
	current, err := o.ledger.ActiveAssignment(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.TranslatorID != translator.ID {
		return nil, domain.ErrNoActiveAssignment
	}
	if _, err := o.ledger.Complete(ctx, job.ID, current.TranslatorID, o.now); err != nil {
		return nil, err
	}

	end := o.now
	job.EndAt = &end
	o.setStatus(domain.StatusNotCarriedOutCustomer)
	return o.finish()
}

func (m *Machine) participant(job *domain.Job, current *domain.Assignment, actor *domain.User) bool {
	switch {
	case actor == nil:
		return false
	case actor.IsAdmin():
		return true
	case actor.ID == job.CustomerID:
		return true
	case current != nil && current.TranslatorID == actor.ID:
		return true
	}
	return false
}

