package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
)

// batch collects the messages for one event. The first lookup error stops
// further work and is reported by the caller.
type batch struct {
	d    *Dispatcher
	ev   domain.Event
	now  time.Time
	msgs []Message
	err  error
}

func (b *batch) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// recipient loads a user who has not suppressed notifications.
func (b *batch) recipient(ctx context.Context, userID int64) *domain.User {
	if b.err != nil || userID == 0 {
		return nil
	}
	ok, err := b.d.wantsNotifications(ctx, userID)
	if err != nil {
		b.fail(err)
		return nil
	}
	if !ok {
		return nil
	}
	u, err := b.d.directory.GetUser(ctx, userID)
	if err != nil {
		b.fail(fmt.Errorf("failed to load user %d: %w", userID, err))
		return nil
	}
	return u
}

func (b *batch) mailCustomer(ctx context.Context, template string, extra map[string]string) {
	u := b.recipient(ctx, b.ev.Job.CustomerID)
	if u == nil {
		return
	}
	to := b.ev.Job.CustomerEmail
	if to == "" {
		to = u.Email
	}
	b.mail(u, to, template, extra)
}

func (b *batch) mailUser(ctx context.Context, userID int64, template string, extra map[string]string) {
	u := b.recipient(ctx, userID)
	if u == nil {
		return
	}
	b.mail(u, u.Email, template, extra)
}

func (b *batch) mail(u *domain.User, to, template string, extra map[string]string) {
	if to == "" {
		b.d.logger.Debug("Recipient has no email address",
			slog.Int64("user_id", u.ID),
			slog.String("template", template),
		)
		return
	}
	job := &b.ev.Job
	data := map[string]string{
		"job_id":   strconv.FormatInt(job.ID, 10),
		"name":     u.Name,
		"due":      b.d.formatDue(job.Due),
		"duration": strconv.Itoa(job.Duration),
		"status":   string(job.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	b.msgs = append(b.msgs, Message{
		Key:         MessageKey(b.ev.ID, ChannelMail, template, u.ID),
		EventID:     b.ev.ID,
		Channel:     ChannelMail,
		Template:    template,
		RecipientID: u.ID,
		Address:     to,
		Data:        data,
	})
}

// pushText pushes one of the standard job texts, which all take the
// language, duration and due time of the job.
func (b *batch) pushText(ctx context.Context, userID int64, pushType string, key textKey) {
	if b.recipient(ctx, userID) == nil {
		return
	}
	job := &b.ev.Job
	language, err := b.d.languageName(ctx, job.FromLanguageID)
	if err != nil {
		b.fail(err)
		return
	}
	b.push(ctx, userID, pushType, b.d.texts.render(key, language, job.Duration, b.d.formatDue(job.Due)))
}

func (b *batch) sessionReminder(ctx context.Context, userID int64) {
	if b.recipient(ctx, userID) == nil {
		return
	}
	job := &b.ev.Job
	language, err := b.d.languageName(ctx, job.FromLanguageID)
	if err != nil {
		b.fail(err)
		return
	}
	kind := b.d.texts.render(textPhoneKind)
	if job.CustomerPhysicalType.IsYes() {
		kind = b.d.texts.render(textPhysicalKind)
	}
	b.push(ctx, userID, PushSessionStartRemind,
		b.d.texts.render(textSessionReminder, kind, language, b.d.formatDue(job.Due), job.Duration))
}

func (b *batch) push(ctx context.Context, userID int64, pushType, body string) {
	msg := b.d.pushMessage(b.ev, userID, pushType, body)
	if err := b.d.deferIfNight(ctx, &msg, b.now); err != nil {
		b.fail(err)
		return
	}
	b.msgs = append(b.msgs, msg)
}
