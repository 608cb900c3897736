package store

import (
	"context"
	"time"

	"clinicq/queue-service/internal/models"
)

type CheckInInput struct {
	ClinicID    string
	TicketID    string
	PatientID   string
	PatientName string
	Phone       string
	Email       string
	DoctorID    string
	DoctorName  string
	CreatedAt   time.Time
}

// QueueStore is the boundary the request path talks to. CheckIn and CallNext
// are the two atomic queue operations; everything else is read-only.
type QueueStore interface {
	CheckIn(ctx context.Context, input CheckInInput) (models.Ticket, bool, error)
	CallNext(ctx context.Context, clinicID string, calledAt time.Time) (models.Served, error)
	GetPosition(ctx context.Context, clinicID, ticketID string) (models.Position, error)
	GetStatus(ctx context.Context, clinicID string) (models.QueueStatus, error)
	ListClinics(ctx context.Context) ([]string, error)
	ListEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]QueueEvent, error)
}

// EventStore is the cursor-based view of the event log used by background
// consumers. Each consumer keeps its own durable offset so a restart neither
// replays nor skips records.
type EventStore interface {
	ListEventsAfter(ctx context.Context, offset Offset, limit int) ([]QueueEvent, error)
	GetOffset(ctx context.Context, consumer string) (Offset, error)
	UpdateOffset(ctx context.Context, consumer string, offset Offset) error
}

type NotificationStore interface {
	EventStore
	InsertNotification(ctx context.Context, notification Notification) error
	MarkNotificationSent(ctx context.Context, notificationID string) error
	MarkNotificationFailed(ctx context.Context, notificationID, reason string) error
}

// Offset is a consumer's durable position in the event log. The ordinal is
// assigned by the store in commit order, so paging on it never skips an
// event that commits late.
type Offset struct {
	LastOrd int64
}

type Notification struct {
	NotificationID string    `json:"notification_id"`
	ClinicID       string    `json:"clinic_id"`
	TicketID       string    `json:"ticket_id"`
	PatientID      string    `json:"patient_id,omitempty"`
	Type           string    `json:"type"`
	Channel        string    `json:"channel"`
	Recipient      string    `json:"recipient"`
	Body           string    `json:"body"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}
