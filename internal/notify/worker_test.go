package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"clinicq/queue-service/internal/store"
)

type fakeNotificationStore struct {
	events        []store.QueueEvent
	offset        store.Offset
	notifications []store.Notification
	sent          []string
	failed        map[string]string
}

func newFakeNotificationStore(events []store.QueueEvent) *fakeNotificationStore {
	return &fakeNotificationStore{events: events, failed: make(map[string]string)}
}

func (f *fakeNotificationStore) ListEventsAfter(ctx context.Context, offset store.Offset, limit int) ([]store.QueueEvent, error) {
	var out []store.QueueEvent
	for _, event := range f.events {
		if event.Ord > offset.LastOrd {
			out = append(out, event)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) GetOffset(ctx context.Context, consumer string) (store.Offset, error) {
	return f.offset, nil
}

func (f *fakeNotificationStore) UpdateOffset(ctx context.Context, consumer string, offset store.Offset) error {
	f.offset = offset
	return nil
}

func (f *fakeNotificationStore) InsertNotification(ctx context.Context, notification store.Notification) error {
	f.notifications = append(f.notifications, notification)
	return nil
}

func (f *fakeNotificationStore) MarkNotificationSent(ctx context.Context, notificationID string) error {
	f.sent = append(f.sent, notificationID)
	return nil
}

func (f *fakeNotificationStore) MarkNotificationFailed(ctx context.Context, notificationID, reason string) error {
	f.failed[notificationID] = reason
	return nil
}

type captureProvider struct {
	events []Event
}

func (p *captureProvider) Send(ctx context.Context, event Event) error {
	p.events = append(p.events, event)
	return nil
}

func enqueueEvent(t *testing.T, ord int64, ticketID string, seq, nowServing int64) store.QueueEvent {
	t.Helper()
	payload, err := json.Marshal(store.EventPayload{
		ClinicID:    "gp-1",
		TicketID:    ticketID,
		PatientID:   "patient-" + ticketID,
		Sequence:    seq,
		Position:    int(seq - nowServing),
		NowServing:  nowServing,
		Waiting:     int(seq - nowServing),
		PatientName: "Ana",
		Phone:       "81234567",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return store.QueueEvent{
		Ord:       ord,
		EventID:   ticketID + "-enq",
		ClinicID:  "gp-1",
		Type:      store.EventEnqueue,
		TicketID:  ticketID,
		Sequence:  seq,
		Payload:   payload,
		CreatedAt: time.Date(2026, 3, 2, 9, 0, int(ord), 0, time.UTC),
	}
}

// dequeueEvent builds the payload with exactly the fields a call-next
// writes: identity, sequence, counts, and the contact fields read back
// from the deleted ticket row.
func dequeueEvent(t *testing.T, ord int64, ticketID, patientID string, seq int64) store.QueueEvent {
	t.Helper()
	payload, err := json.Marshal(store.EventPayload{
		ClinicID:    "gp-1",
		TicketID:    ticketID,
		PatientID:   patientID,
		Sequence:    seq,
		NowServing:  seq,
		Waiting:     0,
		PatientName: "Ana",
		Phone:       "81234567",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return store.QueueEvent{
		Ord:       ord,
		EventID:   ticketID + "-deq",
		ClinicID:  "gp-1",
		Type:      store.EventDequeue,
		TicketID:  ticketID,
		Sequence:  seq,
		Payload:   payload,
		CreatedAt: time.Date(2026, 3, 2, 9, 0, int(ord), 0, time.UTC),
	}
}

func TestThreeAwayEmittedExactlyAtOffsetThree(t *testing.T) {
	events := []store.QueueEvent{
		enqueueEvent(t, 1, "a", 1, 0),
		enqueueEvent(t, 2, "b", 2, 0),
		enqueueEvent(t, 3, "c", 3, 0),
		enqueueEvent(t, 4, "d", 4, 0),
	}
	st := newFakeNotificationStore(events)
	capture := &captureProvider{}
	w := New(st, Config{})
	w.smsProvider = capture
	w.emailProvider = capture

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run worker: %v", err)
	}

	if len(capture.events) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(capture.events))
	}
	got := capture.events[0]
	if got.Type != TypeThreeAway || got.TicketID != "c" {
		t.Fatalf("expected N3_AWAY for ticket c, got %+v", got)
	}
	if len(st.sent) != 1 {
		t.Fatalf("expected one notification marked sent, got %d", len(st.sent))
	}
}

func TestNowServingEmittedForServedTicket(t *testing.T) {
	events := []store.QueueEvent{
		dequeueEvent(t, 1, "a", "patient-1", 1),
	}
	st := newFakeNotificationStore(events)
	capture := &captureProvider{}
	w := New(st, Config{})
	w.smsProvider = capture
	w.emailProvider = capture

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run worker: %v", err)
	}

	if len(capture.events) != 1 {
		t.Fatalf("expected one NOW_SERVING emission for the served patient, got %d", len(capture.events))
	}
	got := capture.events[0]
	if got.Type != TypeNowServing || got.PatientID != "patient-1" {
		t.Fatalf("unexpected notification: %+v", got)
	}
	if got.Channel != "sms" || got.Recipient != "81234567" {
		t.Fatalf("expected delivery to the served ticket's phone, got %+v", got)
	}
	if !strings.Contains(got.Body, "now being served") || !strings.Contains(got.Body, "Ana") {
		t.Fatalf("unexpected body: %q", got.Body)
	}
}

func TestNowServingSkippedWithoutPatient(t *testing.T) {
	events := []store.QueueEvent{
		dequeueEvent(t, 1, "a", "", 1),
	}
	st := newFakeNotificationStore(events)
	capture := &captureProvider{}
	w := New(st, Config{})
	w.smsProvider = capture
	w.emailProvider = capture

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run worker: %v", err)
	}
	if len(capture.events) != 0 {
		t.Fatalf("expected no notifications, got %d", len(capture.events))
	}
}

func TestProviderFailureDoesNotFailRun(t *testing.T) {
	events := []store.QueueEvent{
		dequeueEvent(t, 1, "a", "patient-1", 1),
	}
	st := newFakeNotificationStore(events)
	w := New(st, Config{SMSProvider: "fail", EmailProvider: "fail"})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("provider failure must not fail the run: %v", err)
	}
	if len(st.failed) != 1 {
		t.Fatalf("expected one failed notification, got %d", len(st.failed))
	}
	if st.offset.LastOrd != 1 {
		t.Fatalf("expected cursor to advance past the failed event, got %+v", st.offset)
	}
}

func TestOffsetAdvancesAcrossRuns(t *testing.T) {
	events := []store.QueueEvent{
		dequeueEvent(t, 1, "a", "patient-1", 1),
	}
	st := newFakeNotificationStore(events)
	capture := &captureProvider{}
	w := New(st, Config{})
	w.smsProvider = capture
	w.emailProvider = capture

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(capture.events) != 1 {
		t.Fatalf("expected no duplicate emission on second run, got %d", len(capture.events))
	}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		payload   store.EventPayload
		want      string
	}{
		{"enqueue at three", store.EventEnqueue, store.EventPayload{Sequence: 8, NowServing: 5}, TypeThreeAway},
		{"enqueue at two", store.EventEnqueue, store.EventPayload{Sequence: 7, NowServing: 5}, ""},
		{"enqueue at four", store.EventEnqueue, store.EventPayload{Sequence: 9, NowServing: 5}, ""},
		{"dequeue with patient", store.EventDequeue, store.EventPayload{PatientID: "p"}, TypeNowServing},
		{"dequeue without patient", store.EventDequeue, store.EventPayload{}, ""},
		{"unknown type", "OTHER", store.EventPayload{Sequence: 3}, ""},
	}

	for _, tt := range cases {
		if got := Evaluate(tt.eventType, tt.payload); got != tt.want {
			t.Fatalf("%s: Evaluate=%q, want %q", tt.name, got, tt.want)
		}
	}
}
