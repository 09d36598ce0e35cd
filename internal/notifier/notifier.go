// Package notifier turns NotificationEvents into emails and persisted
// in-app records.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"

	"github.com/mkarlsen/shipwatch/internal/domain"
	"github.com/mkarlsen/shipwatch/internal/metrics"
)

// Recorder persists the in-app record and the email log.
type Recorder interface {
	AddNotification(ctx context.Context, n domain.Notification) error
	RecordEmail(ctx context.Context, log domain.EmailLog) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type Notifier struct {
	recorder Recorder
	smtp     SMTPConfig
	newID    func() string

	// send is swapped out in tests.
	send func(ctx context.Context, subject, body string, to []string) error
}

func New(recorder Recorder, smtp SMTPConfig, newID func() string) *Notifier {
	n := &Notifier{recorder: recorder, smtp: smtp, newID: newID}
	n.send = n.sendSMTP
	return n
}

// HandleBatch processes a batch from the Kafka consumer. A failing event is
// logged and does not block the rest of the batch.
func (n *Notifier) HandleBatch(ctx context.Context, events []domain.NotificationEvent) {
	for _, ev := range events {
		if err := n.handleEvent(ctx, ev); err != nil {
			slog.Error("handle event failed",
				"event_id", ev.ID,
				"kind", ev.Kind,
				"transport_id", ev.TransportID,
				"error", err,
			)
		}
	}
}

func (n *Notifier) handleEvent(ctx context.Context, ev domain.NotificationEvent) error {
	if ev.NotifyPush {
		rec := domain.Notification{
			ID:            n.newID(),
			Title:         ev.Title,
			Message:       ev.Message,
			Type:          ev.Kind,
			TransportName: ev.TransportName,
			IMO:           ev.IMO,
			UserID:        ev.UserID,
			CreatedAt:     ev.Timestamp,
		}
		if err := n.recorder.AddNotification(ctx, rec); err != nil {
			return fmt.Errorf("record notification: %w", err)
		}
	}

	if !ev.NotifyEmail {
		return nil
	}
	if ev.Email == "" {
		slog.Debug("no email address for user", "user_id", ev.UserID)
		return nil
	}

	subject := subjectFor(ev)
	body := bodyFor(ev)

	if err := n.send(ctx, subject, body, []string{ev.Email}); err != nil {
		slog.Error("send email failed", "error", err, "recipient", ev.Email)
		return fmt.Errorf("send email: %w", err)
	}
	metrics.EmailsSent.Inc()

	if err := n.recorder.RecordEmail(ctx, domain.EmailLog{
		EventID:   ev.ID,
		Kind:      ev.Kind,
		Recipient: ev.Email,
		Subject:   subject,
		SentAt:    time.Now().UTC(),
	}); err != nil {
		slog.Error("record email failed", "recipient", ev.Email, "error", err)
	}

	slog.Info("notification sent",
		"kind", ev.Kind,
		"transport_id", ev.TransportID,
		"recipient", ev.Email,
	)
	return nil
}

func subjectFor(ev domain.NotificationEvent) string {
	switch ev.Kind {
	case domain.EventGeofenceEnter:
		return fmt.Sprintf("[Shipwatch] %s entered geofence %s", ev.TransportName, ev.GeofenceName)
	case domain.EventGeofenceExit:
		return fmt.Sprintf("[Shipwatch] %s exited geofence %s", ev.TransportName, ev.GeofenceName)
	case domain.EventGeofenceAlert:
		return fmt.Sprintf("[Shipwatch] Alert for %s inside geofence %s", ev.TransportName, ev.GeofenceName)
	default:
		return fmt.Sprintf("[Shipwatch] Alert for %s", ev.TransportName)
	}
}

func bodyFor(ev domain.NotificationEvent) string {
	body := fmt.Sprintf("Vessel: %s\nIMO: %d\n%s\nTime: %s",
		ev.TransportName,
		ev.IMO,
		ev.Message,
		ev.Timestamp.Format("2006-01-02 15:04:05 UTC"),
	)
	if ev.GeofenceName != "" {
		body += "\nGeofence: " + ev.GeofenceName
	}
	return body
}

func (n *Notifier) sendSMTP(ctx context.Context, subject, body string, to []string) error {
	// Fresh mail service per event — nikoksr/notify accumulates receivers
	// across AddReceivers calls, so reusing would cause duplicate sends.
	mailSvc := mail.New(n.smtp.From, fmt.Sprintf("%s:%d", n.smtp.Host, n.smtp.Port))
	mailSvc.AuthenticateSMTP("", n.smtp.User, n.smtp.Password, n.smtp.Host)
	mailSvc.AddReceivers(to...)

	sender := notify.New()
	sender.UseServices(mailSvc)
	return sender.Send(ctx, subject, body)
}
