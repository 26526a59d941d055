package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/notification"
)

const (
	statusSending = "sending"
	statusSent    = "sent"
	statusFailed  = "failed"
)

// MemoryLog is an in-process Log.
type MemoryLog struct {
	mu      sync.Mutex
	entries map[string]string
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string]string)}
}

func (l *MemoryLog) Reserve(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if status, ok := l.entries[key]; ok && status != statusFailed {
		return false, nil
	}
	l.entries[key] = statusSending
	return true, nil
}

func (l *MemoryLog) MarkSent(_ context.Context, key string) error {
	l.set(key, statusSent)
	return nil
}

func (l *MemoryLog) MarkFailed(_ context.Context, key, _ string) error {
	l.set(key, statusFailed)
	return nil
}

// Status returns the recorded status of key, or "" when unseen.
func (l *MemoryLog) Status(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key]
}

func (l *MemoryLog) set(key, status string) {
	l.mu.Lock()
	l.entries[key] = status
	l.mu.Unlock()
}

type queued struct {
	msg   notification.Message
	after time.Time
	seq   int
}

// MemoryQueue is an in-process Queue. Contents are lost on restart.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]*queued
	seq   int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make(map[string]*queued)}
}

func (q *MemoryQueue) Schedule(_ context.Context, msg notification.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[msg.Key]; ok {
		return nil
	}
	var after time.Time
	if msg.DeliverAfter != nil {
		after = *msg.DeliverAfter
	}
	q.seq++
	q.items[msg.Key] = &queued{msg: msg, after: after, seq: q.seq}
	return nil
}

func (q *MemoryQueue) Claim(_ context.Context, now time.Time, limit int, lease time.Duration) ([]notification.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*queued
	for _, item := range q.items {
		if !item.after.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].after.Equal(due[j].after) {
			return due[i].seq < due[j].seq
		}
		return due[i].after.Before(due[j].after)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	msgs := make([]notification.Message, 0, len(due))
	for _, item := range due {
		item.after = now.Add(lease)
		msgs = append(msgs, item.msg)
	}
	return msgs, nil
}

func (q *MemoryQueue) Remove(_ context.Context, key string) error {
	q.mu.Lock()
	delete(q.items, key)
	q.mu.Unlock()
	return nil
}

// Len reports how many messages are queued.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
