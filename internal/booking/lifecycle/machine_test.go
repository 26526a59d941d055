package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage/memory"
	"github.com/cuongbtq/booking-dispatch/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var (
	admin       = &domain.User{ID: 1, Role: domain.RoleAdmin, Email: "admin@example.com"}
	customer    = &domain.User{ID: 100, Role: domain.RoleCustomer, Email: "customer@example.com", ConsumerType: "paid", Town: "Uppsala"}
	translatorA = &domain.User{ID: 10, Role: domain.RoleTranslator, Email: "a@example.com"}
	translatorB = &domain.User{ID: 11, Role: domain.RoleTranslator, Email: "b@example.com"}
)

type fixture struct {
	store   *memory.Store
	machine *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := memory.NewDirectory()
	for _, u := range []*domain.User{admin, customer, translatorA, translatorB} {
		dir.AddUser(*u)
	}
	return &fixture{
		store:   memory.NewStore(),
		machine: NewMachine(dir, Config{}, func() time.Time { return now }, logger.NewNop().Logger),
	}
}

// seed inserts a pending job due in 48 hours.
func (f *fixture) seed(t *testing.T, mutate func(j *domain.Job)) *domain.Job {
	t.Helper()
	job := &domain.Job{
		CustomerID:           customer.ID,
		FromLanguageID:       5,
		Duration:             60,
		Due:                  now.Add(48 * time.Hour),
		JobType:              domain.JobTypePaid,
		CustomerPhoneType:    domain.Yes,
		CustomerPhysicalType: domain.No,
		Status:               domain.StatusPending,
		CreatedAt:            now.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(job)
	}
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateJob(ctx, job)
	})
	require.NoError(t, err)
	return job
}

// seedAssigned inserts an assigned job held by translator.
func (f *fixture) seedAssigned(t *testing.T, translator *domain.User, mutate func(j *domain.Job)) *domain.Job {
	t.Helper()
	job := f.seed(t, func(j *domain.Job) {
		j.Status = domain.StatusAssigned
		if mutate != nil {
			mutate(j)
		}
	})
	_, err := ledger.New(f.store.LedgerStore(), nil).Assign(context.Background(), job.ID, translator.ID)
	require.NoError(t, err)
	return job
}

func (f *fixture) do(jobID int64, fn func(ctx context.Context, tx storage.Tx, job *domain.Job) (*Result, error)) (*Result, error) {
	var res *Result
	err := f.store.WithinJob(context.Background(), jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) error {
		var err error
		res, err = fn(ctx, tx, job)
		return err
	})
	return res, err
}

func (f *fixture) job(t *testing.T, id int64) *domain.Job {
	t.Helper()
	j, err := f.store.FindJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func (f *fixture) active(t *testing.T, jobID int64) *domain.Assignment {
	t.Helper()
	a, err := f.store.LedgerStore().ActiveAssignment(context.Background(), jobID)
	require.NoError(t, err)
	return a
}

func eventKinds(events []domain.Event) []domain.EventKind {
	kinds := make([]domain.EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func statusPtr(s domain.Status) *domain.Status { return &s }
func strPtr(s string) *string                  { return &s }

func TestAccept(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, nil)

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Accept(ctx, tx, j, translatorA)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, f.job(t, job.ID).Status)
	assert.Equal(t, translatorA.ID, f.active(t, job.ID).TranslatorID)
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventJobAccepted, res.Events[0].Kind)
	assert.Equal(t, translatorA.ID, res.Events[0].TranslatorID)
	assert.True(t, res.Events[0].WithPush)
	assert.Equal(t, domain.StatusAssigned, res.Events[0].Job.Status)
}

func TestAccept_AlreadyBooked(t *testing.T) {
	f := newFixture(t)
	f.seedAssigned(t, translatorA, nil)
	job := f.seed(t, func(j *domain.Job) { j.Due = now.Add(48*time.Hour + 30*time.Minute) })

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Accept(ctx, tx, j, translatorA)
	})
	require.ErrorIs(t, err, domain.ErrAlreadyBooked)
	assert.Equal(t, domain.StatusPending, f.job(t, job.ID).Status)
	assert.Nil(t, f.active(t, job.ID))
}

func TestAccept_NotOpen(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, nil)

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Accept(ctx, tx, j, translatorB)
	})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
	assert.Equal(t, translatorA.ID, f.active(t, job.ID).TranslatorID)
}

func TestCancelByCustomer(t *testing.T) {
	tests := []struct {
		name string
		due  time.Duration
		want domain.Status
	}{
		{name: "30 hours ahead", due: 30 * time.Hour, want: domain.StatusWithdrawBefore24},
		{name: "exactly 24 hours ahead", due: 24 * time.Hour, want: domain.StatusWithdrawBefore24},
		{name: "10 hours ahead", due: 10 * time.Hour, want: domain.StatusWithdrawAfter24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job := f.seedAssigned(t, translatorA, func(j *domain.Job) { j.Due = now.Add(tt.due) })

			res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
				return f.machine.CancelByCustomer(ctx, tx, j, customer)
			})
			require.NoError(t, err)

			got := f.job(t, job.ID)
			assert.Equal(t, tt.want, got.Status)
			require.NotNil(t, got.WithdrawAt)
			assert.Equal(t, now, *got.WithdrawAt)
			assert.Nil(t, f.active(t, job.ID))

			require.Len(t, res.Events, 1)
			assert.Equal(t, domain.EventCancelledByCustomer, res.Events[0].Kind)
			assert.Equal(t, translatorA.ID, res.Events[0].TranslatorID)
		})
	}
}

func TestCancelByCustomer_Rejections(t *testing.T) {
	f := newFixture(t)
	closed := f.seed(t, func(j *domain.Job) { j.Status = domain.StatusCompleted })
	open := f.seed(t, nil)

	_, err := f.do(closed.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.CancelByCustomer(ctx, tx, j, customer)
	})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = f.do(open.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.CancelByCustomer(ctx, tx, j, &domain.User{ID: 999, Role: domain.RoleCustomer})
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.StatusPending, f.job(t, open.ID).Status)
}

func TestCancelByTranslator_WindowClosed(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, func(j *domain.Job) { j.Due = now.Add(23 * time.Hour) })

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.CancelByTranslator(ctx, tx, j, translatorA)
	})
	require.ErrorIs(t, err, domain.ErrCancellationWindowClosed)
	assert.Equal(t, domain.StatusAssigned, f.job(t, job.ID).Status)
	assert.Equal(t, translatorA.ID, f.active(t, job.ID).TranslatorID)
}

func TestCancelByTranslator(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, func(j *domain.Job) { j.Due = now.Add(30 * time.Hour) })

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.CancelByTranslator(ctx, tx, j, translatorA)
	})
	require.NoError(t, err)

	got := f.job(t, job.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, now, got.CreatedAt)
	assert.Equal(t, domain.WillExpireAt(got.Due, now), got.WillExpireAt)
	assert.Nil(t, f.active(t, job.ID))

	history, err := f.store.LedgerStore().Assignments(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.Equal(t, []domain.EventKind{domain.EventCancelledByTranslator, domain.EventJobBroadcast}, eventKinds(res.Events))
	assert.Equal(t, translatorA.ID, res.Events[1].ExcludeUserID)
}

func TestCancelByTranslator_KeepsEarlierRows(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, nil)

	for _, next := range []*domain.User{translatorB, translatorA} {
		_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
			return f.machine.Update(ctx, tx, j, admin, UpdateRequest{TranslatorID: next.ID})
		})
		require.NoError(t, err)
	}

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.CancelByTranslator(ctx, tx, j, translatorA)
	})
	require.NoError(t, err)
	assert.Nil(t, f.active(t, job.ID))

	history, err := f.store.LedgerStore().Assignments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, translatorA.ID, history[0].TranslatorID)
	assert.NotNil(t, history[0].CancelAt)
	assert.Equal(t, translatorB.ID, history[1].TranslatorID)
	assert.NotNil(t, history[1].CancelAt)
}

func TestCancelByTranslator_NotHolder(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, nil)

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.CancelByTranslator(ctx, tx, j, translatorB)
	})
	assert.ErrorIs(t, err, domain.ErrNoActiveAssignment)
}

func TestUpdate_IllegalTransitionLeavesJobUntouched(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, nil)

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Update(ctx, tx, j, admin, UpdateRequest{
			Status:        statusPtr("archived"),
			AdminComments: strPtr("archive it"),
		})
	})
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	got := f.job(t, job.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.AdminComments)

	entries, err := f.store.ChangeLog(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpdate_Transitions(t *testing.T) {
	session := 45 * time.Minute

	tests := []struct {
		name       string
		from       domain.Status
		assigned   bool
		req        UpdateRequest
		wantErr    error
		wantStatus domain.Status
		wantEvents []domain.EventKind
		check      func(t *testing.T, f *fixture, job *domain.Job)
	}{
		{
			name:       "timedout to pending reopens",
			from:       domain.StatusTimedOut,
			req:        UpdateRequest{Status: statusPtr(domain.StatusPending)},
			wantStatus: domain.StatusPending,
			wantEvents: []domain.EventKind{domain.EventJobReopened},
			check: func(t *testing.T, f *fixture, job *domain.Job) {
				got := f.job(t, job.ID)
				assert.Equal(t, now, got.CreatedAt)
				assert.False(t, got.EmailSent)
			},
		},
		{
			name:    "timedout to assigned needs a translator",
			from:    domain.StatusTimedOut,
			req:     UpdateRequest{Status: statusPtr(domain.StatusAssigned)},
			wantErr: domain.ErrIllegalTransition,
		},
		{
			name:       "timedout to assigned with translator",
			from:       domain.StatusTimedOut,
			req:        UpdateRequest{Status: statusPtr(domain.StatusAssigned), TranslatorEmail: translatorB.Email},
			wantStatus: domain.StatusAssigned,
			wantEvents: []domain.EventKind{domain.EventJobAccepted, domain.EventTranslatorChanged},
		},
		{
			name:       "pending to assigned with translator",
			from:       domain.StatusPending,
			req:        UpdateRequest{Status: statusPtr(domain.StatusAssigned), TranslatorID: translatorB.ID},
			wantStatus: domain.StatusAssigned,
			wantEvents: []domain.EventKind{domain.EventTranslatorAssigned, domain.EventTranslatorChanged},
		},
		{
			name:    "pending to timedout needs comment",
			from:    domain.StatusPending,
			req:     UpdateRequest{Status: statusPtr(domain.StatusTimedOut)},
			wantErr: domain.ErrIllegalTransition,
		},
		{
			name:       "assigned to withdrawbefore24 frees translator",
			from:       domain.StatusAssigned,
			assigned:   true,
			req:        UpdateRequest{Status: statusPtr(domain.StatusWithdrawBefore24)},
			wantStatus: domain.StatusWithdrawBefore24,
			wantEvents: []domain.EventKind{domain.EventWithdrawnByAdmin},
			check: func(t *testing.T, f *fixture, job *domain.Job) {
				assert.Nil(t, f.active(t, job.ID))
			},
		},
		{
			name:       "assigned to timedout with comment",
			from:       domain.StatusAssigned,
			assigned:   true,
			req:        UpdateRequest{Status: statusPtr(domain.StatusTimedOut), AdminComments: strPtr("no show")},
			wantStatus: domain.StatusTimedOut,
			wantEvents: []domain.EventKind{domain.EventWithdrawnByAdmin},
		},
		{
			name:    "started to completed needs session time",
			from:    domain.StatusStarted,
			req:     UpdateRequest{Status: statusPtr(domain.StatusCompleted), AdminComments: strPtr("done")},
			wantErr: domain.ErrIllegalTransition,
		},
		{
			name:    "started to completed needs comment",
			from:    domain.StatusStarted,
			req:     UpdateRequest{Status: statusPtr(domain.StatusCompleted), SessionTime: &session},
			wantErr: domain.ErrIllegalTransition,
		},
		{
			name:       "started to completed",
			from:       domain.StatusStarted,
			assigned:   true,
			req:        UpdateRequest{Status: statusPtr(domain.StatusCompleted), SessionTime: &session, AdminComments: strPtr("done")},
			wantStatus: domain.StatusCompleted,
			wantEvents: []domain.EventKind{domain.EventSessionEnded},
			check: func(t *testing.T, f *fixture, job *domain.Job) {
				got := f.job(t, job.ID)
				assert.Equal(t, session, got.SessionTime())
				require.NotNil(t, got.EndAt)
				assert.Nil(t, f.active(t, job.ID))
			},
		},
		{
			name:       "pending to completed computes session time",
			from:       domain.StatusPending,
			req:        UpdateRequest{Status: statusPtr(domain.StatusCompleted)},
			wantStatus: domain.StatusCompleted,
			wantEvents: []domain.EventKind{domain.EventSessionEnded},
			check: func(t *testing.T, f *fixture, job *domain.Job) {
				// due is in the future, so the elapsed time floors at zero
				assert.Equal(t, time.Duration(0), f.job(t, job.ID).SessionTime())
			},
		},
		{
			name:       "completed to timedout with comment",
			from:       domain.StatusCompleted,
			req:        UpdateRequest{Status: statusPtr(domain.StatusTimedOut), AdminComments: strPtr("billing fix")},
			wantStatus: domain.StatusTimedOut,
		},
		{
			name:    "withdrawbefore24 to pending is not allowed",
			from:    domain.StatusWithdrawBefore24,
			req:     UpdateRequest{Status: statusPtr(domain.StatusPending)},
			wantErr: domain.ErrIllegalTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var job *domain.Job
			if tt.assigned {
				job = f.seedAssigned(t, translatorA, func(j *domain.Job) { j.Status = tt.from })
			} else {
				job = f.seed(t, func(j *domain.Job) { j.Status = tt.from })
			}

			res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
				return f.machine.Update(ctx, tx, j, admin, tt.req)
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.from, f.job(t, job.ID).Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, f.job(t, job.ID).Status)
			if tt.wantEvents == nil {
				assert.Empty(t, res.Events)
			} else {
				assert.Equal(t, tt.wantEvents, eventKinds(res.Events))
			}
			if tt.check != nil {
				tt.check(t, f, job)
			}
		})
	}
}

func TestUpdate_ReassignKeepsHistory(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, nil)

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Update(ctx, tx, j, admin, UpdateRequest{TranslatorID: translatorB.ID})
	})
	require.NoError(t, err)

	active := f.active(t, job.ID)
	require.NotNil(t, active)
	assert.Equal(t, translatorB.ID, active.TranslatorID)

	history, err := f.store.LedgerStore().Assignments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, translatorA.ID, history[0].TranslatorID)
	assert.NotNil(t, history[0].CancelAt)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, domain.FieldTranslator, res.Changes[0].Field)
	assert.Equal(t, "10", res.Changes[0].OldValue)
	assert.Equal(t, "11", res.Changes[0].NewValue)

	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventTranslatorChanged, res.Events[0].Kind)
	assert.Equal(t, translatorB.ID, res.Events[0].TranslatorID)
	assert.Equal(t, translatorA.ID, res.Events[0].PreviousTranslatorID)
}

func TestUpdate_FieldChangesAreLogged(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, nil)
	newDue := job.Due.Add(2 * time.Hour)
	newLang := int64(7)

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Update(ctx, tx, j, admin, UpdateRequest{
			Due:            &newDue,
			FromLanguageID: &newLang,
			Reference:      strPtr("PO-1"),
		})
	})
	require.NoError(t, err)

	entries, err := f.store.ChangeLog(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.FieldDue, entries[0].Field)
	assert.Equal(t, newDue.Format(time.RFC3339), entries[0].NewValue)
	assert.Equal(t, domain.FieldLanguage, entries[1].Field)
	assert.Equal(t, "5", entries[1].OldValue)
	assert.Equal(t, "7", entries[1].NewValue)
	assert.Equal(t, admin.ID, entries[1].ActorID)

	assert.Equal(t, []domain.EventKind{domain.EventDueChanged, domain.EventLanguageChanged}, eventKinds(res.Events))
	require.NotNil(t, res.Events[0].OldDue)
	assert.Equal(t, job.Due, *res.Events[0].OldDue)
	assert.Equal(t, translatorA.ID, res.Events[0].TranslatorID)
	assert.Equal(t, int64(5), res.Events[1].OldLanguageID)
	assert.Equal(t, "PO-1", f.job(t, job.ID).Reference)
}

func TestUpdate_PastDueSendsNoChangeNotices(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, nil)
	past := now.Add(-time.Hour)

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Update(ctx, tx, j, admin, UpdateRequest{Due: &past})
	})
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Len(t, res.Changes, 1)
}

func TestUpdate_RequiresAdmin(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, nil)

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Update(ctx, tx, j, customer, UpdateRequest{Status: statusPtr(domain.StatusTimedOut)})
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReopen_TimedOutClones(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, func(j *domain.Job) { j.Status = domain.StatusTimedOut })

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Reopen(ctx, tx, j, admin)
	})
	require.NoError(t, err)
	require.NotNil(t, res.Created)
	assert.NotEqual(t, job.ID, res.Created.ID)
	assert.Contains(t, res.Created.AdminComments, "#1")

	clone := f.job(t, res.Created.ID)
	assert.Equal(t, domain.StatusPending, clone.Status)
	assert.Equal(t, now, clone.CreatedAt)
	assert.Equal(t, domain.StatusTimedOut, f.job(t, job.ID).Status)

	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventJobBroadcast, res.Events[0].Kind)
	assert.Equal(t, res.Created.ID, res.Events[0].JobID)
}

func TestReopen_InPlace(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, func(j *domain.Job) { j.Status = domain.StatusWithdrawAfter24 })

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Reopen(ctx, tx, j, admin)
	})
	require.NoError(t, err)
	assert.Nil(t, res.Created)
	assert.Equal(t, job.ID, res.Job.ID)
	assert.Equal(t, domain.StatusPending, f.job(t, job.ID).Status)
	assert.Nil(t, f.active(t, job.ID))
	assert.Equal(t, []domain.EventKind{domain.EventJobBroadcast}, eventKinds(res.Events))
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, func(j *domain.Job) {
		j.Status = domain.StatusStarted
		j.Due = now.Add(-50 * time.Minute)
	})

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.EndSession(ctx, tx, j, translatorA)
	})
	require.NoError(t, err)

	got := f.job(t, job.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 50*time.Minute, got.SessionTime())
	assert.Nil(t, f.active(t, job.ID))
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.EventSessionEnded, res.Events[0].Kind)
	assert.Equal(t, translatorA.ID, res.Events[0].TranslatorID)
}

func TestEndSession_NotStartedIsNoop(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, nil)

	res, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.EndSession(ctx, tx, j, customer)
	})
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, domain.StatusAssigned, f.job(t, job.ID).Status)
}

func TestCustomerNotCall(t *testing.T) {
	f := newFixture(t)
	job := f.seedAssigned(t, translatorA, nil)

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.CustomerNotCall(ctx, tx, j, translatorA)
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusNotCarriedOutCustomer, f.job(t, job.ID).Status)
	history, err := f.store.LedgerStore().Assignments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].CompletedBy)
	assert.Equal(t, translatorA.ID, *history[0].CompletedBy)
}

func TestExpire(t *testing.T) {
	f := newFixture(t)
	due := f.seed(t, func(j *domain.Job) { j.WillExpireAt = now.Add(-time.Minute) })
	ignored := f.seed(t, func(j *domain.Job) {
		j.WillExpireAt = now.Add(-time.Minute)
		j.IgnoreExpiredFlag = true
	})
	notYet := f.seed(t, func(j *domain.Job) { j.WillExpireAt = now.Add(time.Minute) })

	res, err := f.do(due.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.Expire(ctx, tx, j)
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusTimedOut, f.job(t, due.ID).Status)
	assert.Equal(t, []domain.EventKind{domain.EventJobExpired}, eventKinds(res.Events))

	for _, id := range []int64{ignored.ID, notYet.ID} {
		res, err := f.do(id, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
			return f.machine.Expire(ctx, tx, j)
		})
		require.NoError(t, err)
		assert.Nil(t, res)
		assert.Equal(t, domain.StatusPending, f.job(t, id).Status)
	}
}

func TestIgnoreFlags(t *testing.T) {
	f := newFixture(t)
	job := f.seed(t, nil)

	_, err := f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.IgnoreExpiring(ctx, tx, j, admin)
	})
	require.NoError(t, err)
	_, err = f.do(job.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.IgnoreExpired(ctx, tx, j, admin)
	})
	require.NoError(t, err)

	got := f.job(t, job.ID)
	assert.True(t, got.IgnoreFlag)
	assert.True(t, got.IgnoreExpiredFlag)
}

func TestSMSBroadcast(t *testing.T) {
	f := newFixture(t)
	open := f.seed(t, nil)
	closed := f.seed(t, func(j *domain.Job) { j.Status = domain.StatusCompleted })

	res, err := f.do(open.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.SMSBroadcast(ctx, tx, j, admin)
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.EventKind{domain.EventSMSBroadcast}, eventKinds(res.Events))

	_, err = f.do(closed.ID, func(ctx context.Context, tx storage.Tx, j *domain.Job) (*Result, error) {
		return f.machine.SMSBroadcast(ctx, tx, j, admin)
	})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}
