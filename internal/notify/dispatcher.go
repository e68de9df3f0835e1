// Package notify turns status changes of moderated documents into push
// notifications for the owning student.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"

	"github.com/garnizeh/hostel/internal/changefeed"
	"github.com/garnizeh/hostel/pkg/models"
)

// package-level logger; can be set via SetLogger from caller
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger installs a logger for the notify package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// DefaultIcon is shown by browsers next to web push notifications.
const DefaultIcon = "/logo192.png"

// Outcome is what a single dispatch did.
type Outcome string

const (
	OutcomeStatusUnchanged Outcome = "status_unchanged"
	OutcomeMissingSubject  Outcome = "missing_subject"
	OutcomeSubjectNotFound Outcome = "subject_not_found"
	OutcomeNoDevices       Outcome = "no_devices"
	OutcomeSent            Outcome = "sent"
	OutcomeSendFailed      Outcome = "send_failed"
	OutcomeError           Outcome = "error"
)

// Watch binds a collection to the wording of its notifications.
type Watch struct {
	Collection   string
	SubjectField string
	Title        string
	Body         func(status string) string
}

var LeaveWatch = Watch{
	Collection:   changefeed.CollectionLeaves,
	SubjectField: "studentId",
	Title:        "Leave Status Updated",
	Body:         func(status string) string { return fmt.Sprintf("Your leave has been %s.", status) },
}

var ComplaintWatch = Watch{
	Collection:   changefeed.CollectionComplaints,
	SubjectField: "studentId",
	Title:        "Complaint Updated",
	Body:         func(status string) string { return fmt.Sprintf("Your complaint was updated to: %s", status) },
}

// Content builds the notification text for a new status.
func (w Watch) Content(status string) Content {
	return Content{Title: w.Title, Body: w.Body(status)}
}

// ProfileReader resolves the subject of a document.
type ProfileReader interface {
	GetProfile(ctx context.Context, uid string) (*models.Profile, error)
}

// Dispatcher sends at most one multicast per delivered event and never
// writes the watched document.
type Dispatcher struct {
	watch     Watch
	profiles  ProfileReader
	transport Transport
	icon      string
	observe   func(collection string, outcome Outcome)
}

func NewDispatcher(w Watch, profiles ProfileReader, transport Transport, icon string) *Dispatcher {
	if icon == "" {
		icon = DefaultIcon
	}
	return &Dispatcher{watch: w, profiles: profiles, transport: transport, icon: icon}
}

// WithObserver registers fn to be called with the outcome of every dispatch.
func (d *Dispatcher) WithObserver(fn func(collection string, outcome Outcome)) *Dispatcher {
	d.observe = fn
	return d
}

// Handle implements changefeed.Consumer.
func (d *Dispatcher) Handle(ctx context.Context, ev changefeed.Event) {
	d.Dispatch(ctx, ev)
}

// Dispatch processes one event. Failures, including panics, are logged and
// reported as an outcome; they never reach the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, ev changefeed.Event) (out Outcome) {
	log := logger.With(slog.String("collection", d.watch.Collection), slog.String("doc_id", ev.DocumentID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("notify: dispatch panic", slog.Any("err", r))
			out = OutcomeError
		}
		if d.observe != nil {
			d.observe(d.watch.Collection, out)
		}
	}()

	before, after := ev.Before["status"], ev.After["status"]
	if reflect.DeepEqual(before, after) {
		return OutcomeStatusUnchanged
	}

	subject, ok := ev.After.String(d.watch.SubjectField)
	if !ok {
		log.Warn("notify: document has no subject", slog.String("field", d.watch.SubjectField))
		return OutcomeMissingSubject
	}
	log = log.With(slog.String("uid", subject))

	profile, err := d.profiles.GetProfile(ctx, subject)
	if err != nil {
		log.Error("notify: profile lookup failed", slog.Any("err", err))
		return OutcomeError
	}
	if profile == nil {
		log.Info("notify: subject profile not found")
		return OutcomeSubjectNotFound
	}
	if len(profile.DeviceTokens) == 0 {
		log.Info("notify: subject has no registered devices")
		return OutcomeNoDevices
	}

	status := fmt.Sprint(after)
	msg := d.watch.Content(status).Message(profile.DeviceTokens, d.icon)

	res, err := d.transport.SendEachForMulticast(ctx, msg)
	if err != nil {
		log.Error("notify: multicast send failed", slog.Int("tokens", len(msg.Tokens)), slog.Any("err", err))
		return OutcomeSendFailed
	}
	log.Info("notify: multicast sent",
		slog.String("status", status),
		slog.Int("success", res.SuccessCount),
		slog.Int("failure", res.FailureCount),
	)
	for _, r := range res.Responses {
		if !r.Success {
			log.Debug("notify: token delivery failed", slog.Any("err", r.Error))
		}
	}
	return OutcomeSent
}
