package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
)

// UpdateRequest is an administrative edit of a job. Nil fields are left
// unchanged. The translator may be named by id or by email.
type UpdateRequest struct {
	TranslatorID    int64
	TranslatorEmail string
	Due             *time.Time
	FromLanguageID  *int64
	Status          *domain.Status
	AdminComments   *string
	Reference       *string
	SessionTime     *time.Duration
}

type transitionKey struct {
	from domain.Status
	to   domain.Status
}

// anyStatus is the wildcard source in the transition table.
const anyStatus domain.Status = "*"

// transition carries what a handler may need besides the op.
type transition struct {
	*op
	req               UpdateRequest
	from              domain.Status
	to                domain.Status
	translatorChanged bool
	translatorID      int64
	comment           string
}

type transitionHandler func(t *transition) error

func (m *Machine) transitionTable() map[transitionKey]transitionHandler {
	return map[transitionKey]transitionHandler{
		{domain.StatusTimedOut, domain.StatusPending}:  m.reopenTimedOut,
		{domain.StatusTimedOut, domain.StatusAssigned}: m.assignTimedOut,

		{anyStatus, domain.StatusCompleted}: m.completeByAdmin,

		{domain.StatusPending, domain.StatusAssigned}:          m.assignPending,
		{domain.StatusPending, domain.StatusWithdrawBefore24}:  m.withdrawByAdmin,
		{domain.StatusPending, domain.StatusWithdrawAfter24}:   m.withdrawByAdmin,
		{domain.StatusPending, domain.StatusTimedOut}:          m.withdrawByAdmin,
		{domain.StatusAssigned, domain.StatusWithdrawBefore24}: m.withdrawByAdmin,
		{domain.StatusAssigned, domain.StatusWithdrawAfter24}:  m.withdrawByAdmin,
		{domain.StatusAssigned, domain.StatusTimedOut}:         m.withdrawByAdmin,

		{domain.StatusCompleted, domain.StatusTimedOut}:       m.timeOutWithComment,
		{domain.StatusWithdrawAfter24, domain.StatusTimedOut}: m.timeOutWithComment,
	}
}

func (m *Machine) lookup(from, to domain.Status) (transitionHandler, bool) {
	if h, ok := m.transitions[transitionKey{from, to}]; ok {
		return h, true
	}
	if from != to {
		if h, ok := m.transitions[transitionKey{anyStatus, to}]; ok {
			return h, true
		}
	}
	return nil, false
}

// CanTransition reports whether the admin table has a rule for from -> to.
func (m *Machine) CanTransition(from, to domain.Status) bool {
	_, ok := m.lookup(from, to)
	return ok
}

// Update applies an administrative edit: translator, due, language and
// status, in that order. A rejected status change leaves the job untouched.
func (m *Machine) Update(ctx context.Context, tx storage.Tx, job *domain.Job, admin *domain.User, req UpdateRequest) (*Result, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	o := m.begin(ctx, tx, job, admin)
	t := &transition{op: o, req: req, from: job.Status}
	if req.AdminComments != nil {
		t.comment = strings.TrimSpace(*req.AdminComments)
	}

	if req.Status != nil && *req.Status != job.Status {
		if !req.Status.Valid() {
			return nil, domain.NewTransitionError(job.Status, *req.Status, "unknown status")
		}
		if _, ok := m.lookup(job.Status, *req.Status); !ok {
			return nil, domain.NewTransitionError(job.Status, *req.Status, "")
		}
	}

	if err := m.changeTranslator(t); err != nil {
		return nil, err
	}
	dueChanged, oldDue := m.changeDue(t)
	languageChanged, oldLanguage := m.changeLanguage(t)

	if req.AdminComments != nil {
		job.AdminComments = *req.AdminComments
	}
	if req.Reference != nil {
		job.Reference = *req.Reference
	}

	if req.Status != nil && *req.Status != job.Status {
		t.to = *req.Status
		h, _ := m.lookup(job.Status, t.to)
		if err := h(t); err != nil {
			return nil, err
		}
	}

	// Change notices only make sense while the booking is still ahead.
	if job.Due.After(o.now) {
		currentID, err := activeTranslatorID(o)
		if err != nil {
			return nil, err
		}
		if t.translatorChanged {
			prev := t.translatorID
			o.emit(domain.EventTranslatorChanged, func(ev *domain.Event) {
				ev.TranslatorID = currentID
				ev.PreviousTranslatorID = prev
			})
		}
		if dueChanged {
			o.emit(domain.EventDueChanged, func(ev *domain.Event) {
				ev.TranslatorID = currentID
				ev.OldDue = &oldDue
			})
		}
		if languageChanged {
			o.emit(domain.EventLanguageChanged, func(ev *domain.Event) {
				ev.TranslatorID = currentID
				ev.OldLanguageID = oldLanguage
			})
		}
	}

	return o.finish()
}

// changeTranslator reassigns the job when the request names a translator
// other than the current one. t.translatorID holds the previous translator.
func (m *Machine) changeTranslator(t *transition) error {
	if t.req.TranslatorID == 0 && t.req.TranslatorEmail == "" {
		return nil
	}

	var next *domain.User
	var err error
	if t.req.TranslatorEmail != "" {
		next, err = m.directory.FindUserByEmail(t.ctx, t.req.TranslatorEmail)
	} else {
		next, err = m.directory.GetUser(t.ctx, t.req.TranslatorID)
	}
	if err != nil {
		return err
	}
	if !next.IsTranslator() {
		return domain.NewValidationError("translator", "user is not a translator")
	}

	current, err := t.ledger.ActiveAssignment(t.ctx, t.job.ID)
	if err != nil {
		return err
	}
	if current != nil && current.TranslatorID == next.ID {
		return nil
	}

	_, prev, err := t.ledger.Reassign(t.ctx, t.job.ID, next.ID)
	if err != nil {
		return err
	}
	if prev != nil {
		t.translatorID = prev.TranslatorID
	}
	t.translatorChanged = true
	t.recordTranslator(t.translatorID, next.ID)
	return nil
}

func (m *Machine) changeDue(t *transition) (bool, time.Time) {
	old := t.job.Due
	if t.req.Due == nil || t.req.Due.Equal(old) {
		return false, old
	}
	t.job.Due = *t.req.Due
	t.record(domain.FieldDue, old.Format(time.RFC3339), t.job.Due.Format(time.RFC3339))
	return true, old
}

func (m *Machine) changeLanguage(t *transition) (bool, int64) {
	old := t.job.FromLanguageID
	if t.req.FromLanguageID == nil || *t.req.FromLanguageID == old {
		return false, old
	}
	t.job.FromLanguageID = *t.req.FromLanguageID
	t.record(domain.FieldLanguage, idString(old), idString(t.job.FromLanguageID))
	return true, old
}

func (t *transition) requireComment() error {
	if t.comment == "" {
		return domain.NewTransitionError(t.from, t.to, "admin comment required")
	}
	return nil
}

// reopenTimedOut puts a timed-out job back in the open pool.
func (m *Machine) reopenTimedOut(t *transition) error {
	t.job.CreatedAt = t.now
	t.job.EmailSent = false
	t.job.EmailSentToVirpal = false
	t.job.WillExpireAt = domain.WillExpireAt(t.job.Due, t.now)
	if err := m.releaseTranslator(t.op); err != nil {
		return err
	}
	t.setStatus(domain.StatusPending)
	t.emit(domain.EventJobReopened, nil)
	return nil
}

func (m *Machine) assignTimedOut(t *transition) error {
	if !t.translatorChanged {
		return domain.NewTransitionError(t.from, t.to, "a translator must be assigned")
	}
	return m.assign(t, domain.EventJobAccepted)
}

func (m *Machine) assignPending(t *transition) error {
	if !t.translatorChanged {
		return domain.NewTransitionError(t.from, t.to, "a translator must be assigned")
	}
	return m.assign(t, domain.EventTranslatorAssigned)
}

func (m *Machine) assign(t *transition, kind domain.EventKind) error {
	translatorID, err := activeTranslatorID(t.op)
	if err != nil {
		return err
	}
	t.setStatus(domain.StatusAssigned)
	t.emit(kind, func(ev *domain.Event) {
		ev.TranslatorID = translatorID
	})
	return nil
}

// completeByAdmin closes a session. Coming from started the admin must
// supply the session time and a comment; otherwise the session time runs
// from due until now.
func (m *Machine) completeByAdmin(t *transition) error {
	if t.from == domain.StatusStarted {
		if err := t.requireComment(); err != nil {
			return err
		}
		if t.req.SessionTime == nil || *t.req.SessionTime <= 0 {
			return domain.NewTransitionError(t.from, t.to, "session time required")
		}
		t.job.SetSessionTime(*t.req.SessionTime)
	} else {
		t.job.SetSessionTime(t.now.Sub(t.job.Due))
	}

	end := t.now
	t.job.EndAt = &end

	done, err := t.ledger.Complete(t.ctx, t.job.ID, t.actorID(), t.now)
	if err != nil && !errors.Is(err, domain.ErrNoActiveAssignment) {
		return err
	}
	var translatorID int64
	if done != nil {
		translatorID = done.TranslatorID
	}

	t.setStatus(domain.StatusCompleted)
	t.emit(domain.EventSessionEnded, func(ev *domain.Event) {
		ev.TranslatorID = translatorID
	})
	return nil
}

// withdrawByAdmin closes a pending or assigned job and frees its translator.
func (m *Machine) withdrawByAdmin(t *transition) error {
	if t.to == domain.StatusTimedOut {
		if err := t.requireComment(); err != nil {
			return err
		}
	}
	cancelled, err := t.ledger.CancelActive(t.ctx, t.job.ID, t.now)
	if err != nil {
		return err
	}
	var translatorID int64
	if cancelled != nil {
		translatorID = cancelled.TranslatorID
		t.recordTranslator(translatorID, 0)
	}
	t.setStatus(t.to)
	t.emit(domain.EventWithdrawnByAdmin, func(ev *domain.Event) {
		ev.TranslatorID = translatorID
	})
	return nil
}

func (m *Machine) timeOutWithComment(t *transition) error {
	if err := t.requireComment(); err != nil {
		return err
	}
	t.setStatus(domain.StatusTimedOut)
	return nil
}

// releaseTranslator cancels a dangling active assignment.
func (m *Machine) releaseTranslator(o *op) error {
	cancelled, err := o.ledger.CancelActive(o.ctx, o.job.ID, o.now)
	if err != nil {
		return err
	}
	if cancelled != nil {
		o.recordTranslator(cancelled.TranslatorID, 0)
	}
	return nil
}

func activeTranslatorID(o *op) (int64, error) {
	current, err := o.ledger.ActiveAssignment(o.ctx, o.job.ID)
	if err != nil || current == nil {
		return 0, err
	}
	return current.TranslatorID, nil
}
