package store

import (
	"encoding/json"
	"time"
)

const (
	EventEnqueue = "ENQUEUE"
	EventDequeue = "DEQUEUE"
)

// QueueEvent is one append-only record in a clinic's event log. The log is
// also the outbox read by the fan-out relay and the notification worker.
type QueueEvent struct {
	Ord       int64           `json:"ord"`
	EventID   string          `json:"event_id"`
	ClinicID  string          `json:"clinic_id"`
	Type      string          `json:"type"`
	TicketID  string          `json:"ticket_id"`
	Sequence  int64           `json:"sequence"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventPayload is the JSON body of a queue event. Position and NowServing
// are captured inside the transaction that produced the event, so consumers
// see the queue as it was at that moment.
type EventPayload struct {
	ClinicID    string `json:"clinic_id"`
	TicketID    string `json:"ticket_id"`
	PatientID   string `json:"patient_id,omitempty"`
	Sequence    int64  `json:"sequence"`
	Position    int    `json:"position,omitempty"`
	NowServing  int64  `json:"now_serving"`
	Waiting     int    `json:"waiting"`
	PatientName string `json:"patient_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	DoctorName  string `json:"doctor_name,omitempty"`
}
