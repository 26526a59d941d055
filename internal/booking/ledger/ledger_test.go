package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, jobs ...*domain.Job) (*ledger.Ledger, *memory.Store) {
	t.Helper()
	s := memory.NewStore()
	for _, j := range jobs {
		err := s.WithinTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
			return tx.CreateJob(ctx, j)
		})
		require.NoError(t, err)
	}
	return ledger.New(s.LedgerStore(), func() time.Time { return now }), s
}

func TestLedger_ReassignCancelsPreviousRow(t *testing.T) {
	job := &domain.Job{Due: now.Add(48 * time.Hour), Duration: 60}
	l, _ := newLedger(t, job)
	ctx := context.Background()

	first, err := l.Assign(ctx, job.ID, 7)
	require.NoError(t, err)

	next, prev, err := l.Reassign(ctx, job.ID, 8)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, first.ID, prev.ID)
	assert.Equal(t, int64(8), next.TranslatorID)

	active, err := l.ActiveAssignment(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, int64(8), active.TranslatorID)

	history, err := l.History(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(7), history[0].TranslatorID)
	require.NotNil(t, history[0].CancelAt)
	assert.Equal(t, now, *history[0].CancelAt)
	assert.True(t, history[1].Active())
}

func TestLedger_ReassignSameTranslatorIsNoop(t *testing.T) {
	job := &domain.Job{Due: now.Add(48 * time.Hour), Duration: 60}
	l, _ := newLedger(t, job)
	ctx := context.Background()

	_, err := l.Assign(ctx, job.ID, 7)
	require.NoError(t, err)

	next, prev, err := l.Reassign(ctx, job.ID, 7)
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, int64(7), next.TranslatorID)

	history, err := l.History(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLedger_AssignRejectsSecondActive(t *testing.T) {
	job := &domain.Job{Due: now.Add(48 * time.Hour), Duration: 60}
	l, _ := newLedger(t, job)
	ctx := context.Background()

	_, err := l.Assign(ctx, job.ID, 7)
	require.NoError(t, err)
	_, err = l.Assign(ctx, job.ID, 8)
	assert.ErrorIs(t, err, domain.ErrActiveAssignmentExists)
}

func TestLedger_CancelAndComplete(t *testing.T) {
	job := &domain.Job{Due: now.Add(48 * time.Hour), Duration: 60}
	l, _ := newLedger(t, job)
	ctx := context.Background()

	cancelled, err := l.CancelActive(ctx, job.ID, now)
	require.NoError(t, err)
	assert.Nil(t, cancelled)

	_, err = l.Complete(ctx, job.ID, 1, now)
	assert.ErrorIs(t, err, domain.ErrNoActiveAssignment)

	_, err = l.Assign(ctx, job.ID, 7)
	require.NoError(t, err)

	done, err := l.Complete(ctx, job.ID, 7, now)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedBy)
	assert.Equal(t, int64(7), *done.CompletedBy)

	active, err := l.ActiveAssignment(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestLedger_HasOverlap(t *testing.T) {
	held := &domain.Job{Due: now.Add(48 * time.Hour), Duration: 60}
	long := &domain.Job{Due: now.Add(96 * time.Hour), Duration: 30 * 60}
	l, _ := newLedger(t, held, long)
	ctx := context.Background()
	_, err := l.Assign(ctx, held.ID, 7)
	require.NoError(t, err)
	_, err = l.Assign(ctx, long.ID, 7)
	require.NoError(t, err)

	tests := []struct {
		name string
		job  *domain.Job
		want bool
	}{
		{name: "same slot", job: &domain.Job{ID: 100, Due: held.Due, Duration: 30}, want: true},
		{name: "starts inside", job: &domain.Job{ID: 100, Due: held.Due.Add(59 * time.Minute), Duration: 30}, want: true},
		{name: "back to back", job: &domain.Job{ID: 100, Due: held.Due.Add(time.Hour), Duration: 30}, want: false},
		{name: "ends at start", job: &domain.Job{ID: 100, Due: held.Due.Add(-30 * time.Minute), Duration: 30}, want: false},
		{name: "same job ignored", job: held, want: false},
		{name: "inside a booking that started over a day earlier", job: &domain.Job{ID: 100, Due: long.Due.Add(26 * time.Hour), Duration: 60}, want: true},
		{name: "after a long booking ends", job: &domain.Job{ID: 100, Due: long.End(), Duration: 60}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.HasOverlap(ctx, 7, tt.job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
