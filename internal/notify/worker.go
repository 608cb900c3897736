package notify

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
)

const (
	TypeThreeAway  = "N3_AWAY"
	TypeNowServing = "NOW_SERVING"

	consumerName  = "notification-worker"
	awayThreshold = 3
)

// Event is the structured notification handed to a delivery provider. The
// provider side (email/SMS gateway, message bus) is an external collaborator;
// this package only decides when to emit and what the payload is.
type Event struct {
	Type      string    `json:"type"`
	ClinicID  string    `json:"clinic_id"`
	TicketID  string    `json:"ticket_id"`
	PatientID string    `json:"patient_id,omitempty"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Worker evaluates queue events against the notification rules and hands
// matches to providers. Emission is best-effort throughout: a failure is
// recorded and logged, never surfaced to the queue operation that caused it.
type Worker struct {
	store         store.NotificationStore
	batchSize     int
	smsProvider   Provider
	emailProvider Provider
}

type Config struct {
	BatchSize     int
	SMSProvider   string
	EmailProvider string
}

func New(st store.NotificationStore, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Worker{
		store:         st,
		batchSize:     batch,
		smsProvider:   newProvider(cfg.SMSProvider, "sms"),
		emailProvider: newProvider(cfg.EmailProvider, "email"),
	}
}

// Run drains one batch past the worker's durable cursor. Per-event failures
// are logged and skipped; the cursor still advances so a poison event cannot
// wedge the stream.
func (w *Worker) Run(ctx context.Context) error {
	offset, err := w.store.GetOffset(ctx, consumerName)
	if err != nil {
		return err
	}

	events, err := w.store.ListEventsAfter(ctx, offset, w.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			log.Printf("notify process event %s error: %v", event.EventID, err)
		}
		offset.LastOrd = event.Ord
	}

	if len(events) > 0 {
		if err := w.store.UpdateOffset(ctx, consumerName, offset); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.QueueEvent) error {
	var payload store.EventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}

	notifType := Evaluate(event.Type, payload)
	if notifType == "" {
		return nil
	}

	for _, target := range pickChannels(payload) {
		notification := store.Notification{
			NotificationID: uuid.NewString(),
			ClinicID:       event.ClinicID,
			TicketID:       event.TicketID,
			PatientID:      payload.PatientID,
			Type:           notifType,
			Channel:        target.channel,
			Recipient:      target.recipient,
			Body:           render(notifType, payload),
			Status:         "pending",
			CreatedAt:      time.Now().UTC(),
		}
		if err := w.store.InsertNotification(ctx, notification); err != nil {
			return err
		}

		out := Event{
			Type:      notifType,
			ClinicID:  event.ClinicID,
			TicketID:  event.TicketID,
			PatientID: payload.PatientID,
			Channel:   target.channel,
			Recipient: target.recipient,
			Body:      notification.Body,
			CreatedAt: notification.CreatedAt,
		}
		if err := w.provider(target.channel).Send(ctx, out); err != nil {
			log.Printf("notify send %s via %s error: %v", notifType, target.channel, err)
			if err := w.store.MarkNotificationFailed(ctx, notification.NotificationID, err.Error()); err != nil {
				return err
			}
			continue
		}
		if err := w.store.MarkNotificationSent(ctx, notification.NotificationID); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate applies the trigger rules to a queue event: three-away after a
// check-in, now-serving after a call-next for a ticket with a patient
// identity. Offsets other than exactly three never match.
func Evaluate(eventType string, payload store.EventPayload) string {
	switch eventType {
	case store.EventEnqueue:
		if payload.Sequence-payload.NowServing == awayThreshold {
			return TypeThreeAway
		}
	case store.EventDequeue:
		if payload.PatientID != "" {
			return TypeNowServing
		}
	}
	return ""
}

func (w *Worker) provider(channel string) Provider {
	if channel == "email" {
		return w.emailProvider
	}
	return w.smsProvider
}

type channelTarget struct {
	channel   string
	recipient string
}

func pickChannels(payload store.EventPayload) []channelTarget {
	var targets []channelTarget
	if payload.Phone != "" {
		targets = append(targets, channelTarget{channel: "sms", recipient: payload.Phone})
	}
	if payload.Email != "" {
		targets = append(targets, channelTarget{channel: "email", recipient: payload.Email})
	}
	return targets
}

func render(notifType string, payload store.EventPayload) string {
	template := ""
	switch notifType {
	case TypeThreeAway:
		template = "Hi {patient_name}, ticket {ticket_id}: 3 patients ahead of you at clinic {clinic_id}. Please make your way over."
	case TypeNowServing:
		template = "Hi {patient_name}, ticket {ticket_id}: you are now being served at clinic {clinic_id}."
	}
	result := template
	result = strings.ReplaceAll(result, "{patient_name}", displayName(payload))
	result = strings.ReplaceAll(result, "{ticket_id}", payload.TicketID)
	result = strings.ReplaceAll(result, "{clinic_id}", payload.ClinicID)
	return result
}

func displayName(payload store.EventPayload) string {
	if payload.PatientName != "" {
		return payload.PatientName
	}
	return "there"
}

// Start runs the worker on a ticker until the context is cancelled.
func Start(ctx context.Context, interval time.Duration, w *Worker) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notify worker error: %v", err)
			}
		}
	}
}
