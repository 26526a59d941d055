// Package notification turns booking events into push, SMS and mail
// messages. It decides who hears about an event, in which words, and
// whether delivery waits for the morning; moving the bytes is left to a
// Deliverer.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
)

// DefaultPushTitle is the heading of every push.
const DefaultPushTitle = "DigitalTolk"

// Mail templates.
const (
	MailJobCreated                = "job-created"
	MailJobAccepted               = "job-accepted"
	MailStatusChangeToCustomer    = "job-change-status-to-customer"
	MailSessionEnded              = "session-ended"
	MailWithdrawnCustomer         = "status-changed-from-pending-or-assigned-customer"
	MailJobCancelTranslator       = "job-cancel-translator"
	MailTranslatorChangedCustomer = "job-changed-translator-customer"
	MailTranslatorChangedOld      = "job-changed-translator-old-translator"
	MailTranslatorChangedNew      = "job-changed-translator-new-translator"
	MailDueChanged                = "job-changed-date"
	MailLanguageChanged           = "job-changed-lang"
)

// Mail context values for session-ended mails.
const (
	ForInvoice = "faktura"
	ForPayroll = "lön"
)

// Directory is the user lookup the dispatcher needs.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserMeta(ctx context.Context, id int64, key string) (string, error)
	LanguageName(ctx context.Context, id int64) (string, error)
}

// Matcher finds the translators a job can be offered to.
type Matcher interface {
	FindEligibleTranslators(ctx context.Context, job *domain.Job, exclude ...int64) ([]int64, error)
}

// Config tunes the dispatcher.
type Config struct {
	Night     NightWindow
	PushTitle string
	Now       func() time.Time
}

// Dispatcher routes booking events to recipients.
type Dispatcher struct {
	directory Directory
	matcher   Matcher
	deliverer Deliverer
	texts     *Texts
	night     NightWindow
	pushTitle string
	now       func() time.Time
	logger    *slog.Logger
	handlers  map[domain.EventKind]eventHandler
}

type eventHandler func(ctx context.Context, ev domain.Event) error

// NewDispatcher creates a new dispatcher.
func NewDispatcher(directory Directory, matcher Matcher, deliverer Deliverer, texts *Texts, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.PushTitle == "" {
		cfg.PushTitle = DefaultPushTitle
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d := &Dispatcher{
		directory: directory,
		matcher:   matcher,
		deliverer: deliverer,
		texts:     texts,
		night:     cfg.Night,
		pushTitle: cfg.PushTitle,
		now:       cfg.Now,
		logger:    logger,
	}
	d.handlers = map[domain.EventKind]eventHandler{
		domain.EventJobCreated:   d.statusChangeThenBroadcast,
		domain.EventJobReopened:  d.statusChangeThenBroadcast,
		domain.EventJobBroadcast: d.NotifyNewJob,
		domain.EventSMSBroadcast: d.smsBroadcast,

		domain.EventJobAccepted:           d.NotifyStatusChange,
		domain.EventTranslatorAssigned:    d.NotifyStatusChange,
		domain.EventSessionEnded:          d.NotifyStatusChange,
		domain.EventWithdrawnByAdmin:      d.NotifyStatusChange,
		domain.EventCancelledByCustomer:   d.NotifyStatusChange,
		domain.EventCancelledByTranslator: d.NotifyStatusChange,
		domain.EventDueChanged:            d.NotifyStatusChange,
		domain.EventTranslatorChanged:     d.NotifyStatusChange,
		domain.EventLanguageChanged:       d.NotifyStatusChange,
		domain.EventJobExpired:            d.NotifyStatusChange,
	}
	return d
}

// Handle dispatches one event. Unknown kinds are logged and ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.Event) error {
	h, ok := d.handlers[ev.Kind]
	if !ok {
		d.logger.Warn("No notification handler for event",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
		)
		return nil
	}

	err := h(ctx, ev)
	if domain.IsDataIntegrity(err) {
		d.logger.Error("Event carries an unrecognized job configuration",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.Int64("job_id", ev.JobID),
			slog.Any("error", err),
		)
	}
	return err
}

func (d *Dispatcher) statusChangeThenBroadcast(ctx context.Context, ev domain.Event) error {
	if err := d.NotifyStatusChange(ctx, ev); err != nil {
		return err
	}
	return d.NotifyNewJob(ctx, ev)
}

// NotifyNewJob pushes the job to every eligible translator. Translators who
// opted out of emergency alerts skip immediate jobs, and those who opted out
// of night-time pushes get theirs at the next business time.
func (d *Dispatcher) NotifyNewJob(ctx context.Context, ev domain.Event) error {
	job := &ev.Job
	var exclude []int64
	if ev.ExcludeUserID != 0 {
		exclude = append(exclude, ev.ExcludeUserID)
	}
	ids, err := d.matcher.FindEligibleTranslators(ctx, job, exclude...)
	if err != nil {
		return fmt.Errorf("failed to find eligible translators: %w", err)
	}
	if len(ids) == 0 {
		d.logger.Info("No eligible translators for job", slog.Int64("job_id", job.ID))
		return nil
	}

	language, err := d.languageName(ctx, job.FromLanguageID)
	if err != nil {
		return err
	}
	body := d.texts.render(textNewJob, language, job.Duration, d.formatDue(job.Due))
	sound := SoundNormal
	if job.Immediate {
		body = d.texts.render(textNewImmediateJob, language, job.Duration)
		sound = SoundEmergency
	}

	now := d.now()
	var msgs []Message
	delayed := 0
	for _, id := range ids {
		ok, err := d.wantsNotifications(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if job.Immediate {
			optOut, err := d.metaYes(ctx, id, domain.MetaNotGetEmergency)
			if err != nil {
				return err
			}
			if optOut {
				d.logger.Debug("Translator opted out of emergency bookings",
					slog.Int64("job_id", job.ID),
					slog.Int64("user_id", id),
				)
				continue
			}
		}

		msg := d.pushMessage(ev, id, PushSuitableJob, body)
		msg.Push.AndroidSound = sound
		msg.Push.IOSSound = sound + ".mp3"
		if err := d.deferIfNight(ctx, &msg, now); err != nil {
			return err
		}
		if msg.DeliverAfter != nil {
			delayed++
		}
		msgs = append(msgs, msg)
	}

	d.logger.Info("New job broadcast",
		slog.Int64("job_id", job.ID),
		slog.Int("eligible", len(ids)),
		slog.Int("messages", len(msgs)),
		slog.Int("delayed", delayed),
	)
	return d.deliver(ctx, msgs)
}

// NotifyStatusChange tells the customer and the translator about a
// transition, with the templates its kind calls for.
func (d *Dispatcher) NotifyStatusChange(ctx context.Context, ev domain.Event) error {
	b := &batch{d: d, ev: ev, now: d.now()}
	job := &ev.Job

	switch ev.Kind {
	case domain.EventJobCreated:
		b.mailCustomer(ctx, MailJobCreated, nil)

	case domain.EventJobReopened:
		b.mailCustomer(ctx, MailStatusChangeToCustomer, nil)

	case domain.EventJobAccepted:
		b.mailCustomer(ctx, MailJobAccepted, nil)
		if ev.WithPush {
			b.pushText(ctx, job.CustomerID, PushJobAccepted, textJobAccepted)
		}

	case domain.EventTranslatorAssigned:
		b.mailCustomer(ctx, MailJobAccepted, nil)
		b.sessionReminder(ctx, job.CustomerID)
		b.sessionReminder(ctx, ev.TranslatorID)

	case domain.EventSessionEnded:
		extra := map[string]string{"session_time": strconv.FormatInt(job.SessionSeconds, 10)}
		b.mailCustomer(ctx, MailSessionEnded, with(extra, "for_text", ForInvoice))
		b.mailUser(ctx, ev.TranslatorID, MailSessionEnded, with(extra, "for_text", ForPayroll))

	case domain.EventWithdrawnByAdmin:
		b.mailCustomer(ctx, MailWithdrawnCustomer, nil)
		b.mailUser(ctx, ev.TranslatorID, MailJobCancelTranslator, nil)

	case domain.EventCancelledByCustomer:
		b.pushText(ctx, ev.TranslatorID, PushJobCancelled, textCancelledByCustomer)

	case domain.EventCancelledByTranslator:
		b.pushText(ctx, job.CustomerID, PushJobCancelled, textCancelledByTranslator)

	case domain.EventDueChanged:
		extra := map[string]string{}
		if ev.OldDue != nil {
			extra["old_due"] = d.formatDue(*ev.OldDue)
		}
		b.mailCustomer(ctx, MailDueChanged, extra)
		b.mailUser(ctx, ev.TranslatorID, MailDueChanged, extra)

	case domain.EventTranslatorChanged:
		b.mailCustomer(ctx, MailTranslatorChangedCustomer, nil)
		b.mailUser(ctx, ev.PreviousTranslatorID, MailTranslatorChangedOld, nil)
		b.mailUser(ctx, ev.TranslatorID, MailTranslatorChangedNew, nil)

	case domain.EventLanguageChanged:
		extra := map[string]string{}
		if old, err := d.languageName(ctx, ev.OldLanguageID); err == nil {
			extra["old_language"] = old
		}
		b.mailCustomer(ctx, MailLanguageChanged, extra)
		b.mailUser(ctx, ev.TranslatorID, MailLanguageChanged, extra)

	case domain.EventJobExpired:
		b.pushText(ctx, job.CustomerID, PushJobExpired, textJobExpired)

	default:
		return fmt.Errorf("no status-change notices for %q", ev.Kind)
	}

	if b.err != nil {
		return b.err
	}
	return d.deliver(ctx, b.msgs)
}

func (d *Dispatcher) smsBroadcast(ctx context.Context, ev domain.Event) error {
	ids, err := d.matcher.FindEligibleTranslators(ctx, &ev.Job)
	if err != nil {
		return fmt.Errorf("failed to find eligible translators: %w", err)
	}
	_, err = d.NotifyTranslatorMatch(ctx, ev, ids)
	return err
}

// NotifyTranslatorMatch texts each recipient about the job and returns how
// many messages were built. The template follows the job's contact types.
func (d *Dispatcher) NotifyTranslatorMatch(ctx context.Context, ev domain.Event, recipients []int64) (int, error) {
	job := &ev.Job
	tmpl, err := SMSTemplate(job.CustomerPhysicalType, job.CustomerPhoneType)
	if err != nil {
		return 0, err
	}

	due := job.Due.In(d.night.location())
	date, clock := due.Format("02.01.2006"), due.Format("15:04")
	duration := formatDuration(job.Duration)
	var text string
	if tmpl == SMSPhysicalJob {
		town, err := d.jobTown(ctx, job)
		if err != nil {
			return 0, err
		}
		text = d.texts.render(textSMSPhysical, town, date, clock, duration, job.ID)
	} else {
		text = d.texts.render(textSMSPhone, date, clock, duration, job.ID)
	}

	var msgs []Message
	for _, id := range recipients {
		ok, err := d.wantsNotifications(ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		u, err := d.directory.GetUser(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to load translator %d: %w", id, err)
		}
		if u.Mobile == "" {
			d.logger.Debug("Translator has no mobile number", slog.Int64("user_id", id))
			continue
		}
		msgs = append(msgs, Message{
			Key:         MessageKey(ev.ID, ChannelSMS, tmpl, id),
			EventID:     ev.ID,
			Channel:     ChannelSMS,
			Template:    tmpl,
			RecipientID: id,
			Address:     u.Mobile,
			Text:        text,
		})
	}

	d.logger.Info("SMS broadcast",
		slog.Int64("job_id", job.ID),
		slog.String("template", tmpl),
		slog.Int("eligible", len(recipients)),
		slog.Int("messages", len(msgs)),
	)
	return len(msgs), d.deliver(ctx, msgs)
}

func (d *Dispatcher) deliver(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return d.deliverer.Deliver(ctx, msgs)
}

func (d *Dispatcher) metaYes(ctx context.Context, userID int64, key string) (bool, error) {
	v, err := d.directory.GetUserMeta(ctx, userID, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s for user %d: %w", key, userID, err)
	}
	return v == "yes", nil
}

// wantsNotifications applies the per-user "suppress all" flag.
func (d *Dispatcher) wantsNotifications(ctx context.Context, userID int64) (bool, error) {
	suppressed, err := d.metaYes(ctx, userID, domain.MetaNotGetNotification)
	if err != nil {
		return false, err
	}
	if suppressed {
		d.logger.Debug("Recipient suppresses notifications", slog.Int64("user_id", userID))
	}
	return !suppressed, nil
}

// deferIfNight moves a push to the next business time when it is night and
// the recipient opted out of night-time pushes.
func (d *Dispatcher) deferIfNight(ctx context.Context, msg *Message, now time.Time) error {
	if !d.night.Contains(now) {
		return nil
	}
	optOut, err := d.metaYes(ctx, msg.RecipientID, domain.MetaNotGetNighttime)
	if err != nil {
		return err
	}
	if optOut {
		at := d.night.NextBusinessTime(now)
		msg.DeliverAfter = &at
	}
	return nil
}

func (d *Dispatcher) pushMessage(ev domain.Event, recipientID int64, pushType, body string) Message {
	return Message{
		Key:         MessageKey(ev.ID, ChannelPush, pushType, recipientID),
		EventID:     ev.ID,
		Channel:     ChannelPush,
		Template:    pushType,
		RecipientID: recipientID,
		Push: &PushPayload{
			Title:        d.pushTitle,
			Body:         body,
			Type:         pushType,
			AndroidSound: SoundDefault,
			IOSSound:     SoundDefault,
			JobID:        ev.JobID,
			Data: map[string]string{
				"job_id":            strconv.FormatInt(ev.JobID, 10),
				"notification_type": pushType,
			},
		},
	}
}

// languageName falls back to the numeric id for a language the directory
// does not know.
func (d *Dispatcher) languageName(ctx context.Context, id int64) (string, error) {
	name, err := d.directory.LanguageName(ctx, id)
	if errors.Is(err, domain.ErrValidation) {
		return strconv.FormatInt(id, 10), nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load language %d: %w", id, err)
	}
	return name, nil
}

func (d *Dispatcher) jobTown(ctx context.Context, job *domain.Job) (string, error) {
	if job.Town != "" {
		return job.Town, nil
	}
	u, err := d.directory.GetUser(ctx, job.CustomerID)
	if err != nil {
		return "", fmt.Errorf("failed to load customer %d: %w", job.CustomerID, err)
	}
	return u.Town, nil
}

func (d *Dispatcher) formatDue(t time.Time) string {
	return t.In(d.night.location()).Format("2006-01-02 15:04")
}

func with(base map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
