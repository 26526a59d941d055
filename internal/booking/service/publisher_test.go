package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockBus struct {
	mock.Mock
}

func (m *mockBus) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	args := m.Called(ctx, body, contentType)
	return args.Error(0)
}

func testEvent(kind domain.EventKind, jobID int64) domain.Event {
	return domain.NewEvent(kind, &domain.Job{ID: jobID, Status: domain.StatusPending}, now)
}

func TestBusPublisher_PublishesEachEvent(t *testing.T) {
	bus := &mockBus{}
	first := testEvent(domain.EventJobCreated, 1)
	second := testEvent(domain.EventJobBroadcast, 1)

	bus.On("PublishWithRetry", mock.Anything, mock.MatchedBy(func(body []byte) bool {
		var ev domain.Event
		return json.Unmarshal(body, &ev) == nil && ev.ID == first.ID && ev.Kind == domain.EventJobCreated
	}), "application/json").Return(nil).Once()
	bus.On("PublishWithRetry", mock.Anything, mock.MatchedBy(func(body []byte) bool {
		var ev domain.Event
		return json.Unmarshal(body, &ev) == nil && ev.ID == second.ID
	}), "application/json").Return(errors.New("channel closed")).Once()

	p := NewBusPublisher(bus, logger.NewNop().Logger)
	err := p.Publish(context.Background(), []domain.Event{first, second})

	require.Error(t, err)
	assert.Contains(t, err.Error(), second.ID)
	assert.NotContains(t, err.Error(), first.ID)
	bus.AssertExpectations(t)
}

func TestAsyncPublisher(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	next := PublisherFunc(func(ctx context.Context, events []domain.Event) error {
		<-release
		calls.Add(int32(len(events)))
		return nil
	})

	p := NewAsyncPublisher(next, time.Second, logger.NewNop().Logger)
	require.NoError(t, p.Publish(context.Background(), []domain.Event{testEvent(domain.EventJobCreated, 1)}))
	assert.Equal(t, int32(0), calls.Load())

	close(release)
	p.Close()
	assert.Equal(t, int32(1), calls.Load())

	err := p.Publish(context.Background(), []domain.Event{testEvent(domain.EventJobCreated, 2)})
	assert.ErrorIs(t, err, ErrPublisherClosed)
}

func TestAsyncPublisher_DetachesFromCallerContext(t *testing.T) {
	done := make(chan error, 1)
	next := PublisherFunc(func(ctx context.Context, events []domain.Event) error {
		done <- ctx.Err()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewAsyncPublisher(next, time.Second, logger.NewNop().Logger)
	require.NoError(t, p.Publish(ctx, []domain.Event{testEvent(domain.EventJobCreated, 1)}))
	p.Close()
	assert.NoError(t, <-done)
}
