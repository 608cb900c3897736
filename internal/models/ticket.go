package models

import "time"

// Ticket is one patient's place in a clinic queue. The ticket exists only
// while the patient is waiting; Position and NowServing are snapshots taken
// by the operation that produced the value.
type Ticket struct {
	ClinicID    string    `json:"clinic_id"`
	TicketID    string    `json:"ticket_id"`
	PatientID   string    `json:"patient_id,omitempty"`
	Sequence    int64     `json:"sequence"`
	Position    int       `json:"position"`
	NowServing  int64     `json:"now_serving"`
	PatientName string    `json:"patient_name,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	DoctorID    string    `json:"doctor_id,omitempty"`
	DoctorName  string    `json:"doctor_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Served is the result of advancing a clinic queue.
type Served struct {
	ClinicID   string `json:"clinic_id"`
	TicketID   string `json:"ticket_id"`
	PatientID  string `json:"patient_id,omitempty"`
	Sequence   int64  `json:"sequence"`
	NowServing int64  `json:"now_serving"`
	Waiting    int    `json:"waiting"`
}

// Position is a read-only snapshot for one ticket. Position is 0 when the
// ticket is not currently queued; that is a normal state, not an error.
type Position struct {
	ClinicID   string `json:"clinic_id"`
	TicketID   string `json:"ticket_id"`
	Position   int    `json:"position"`
	NowServing int64  `json:"now_serving"`
}

type QueueStatus struct {
	ClinicID     string `json:"clinic_id"`
	NowServing   int64  `json:"now_serving"`
	TotalWaiting int    `json:"total_waiting"`
}
