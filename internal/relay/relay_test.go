package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"clinicq/queue-service/internal/hub"
	"clinicq/queue-service/internal/store"
)

type fakeEventStore struct {
	events  []store.QueueEvent
	offsets map[string]store.Offset
}

func newFakeEventStore(events []store.QueueEvent) *fakeEventStore {
	return &fakeEventStore{events: events, offsets: make(map[string]store.Offset)}
}

func (f *fakeEventStore) ListEventsAfter(ctx context.Context, offset store.Offset, limit int) ([]store.QueueEvent, error) {
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

func (f *fakeEventStore) GetOffset(ctx context.Context, consumer string) (store.Offset, error) {
	return f.offsets[consumer], nil
}

func (f *fakeEventStore) UpdateOffset(ctx context.Context, consumer string, offset store.Offset) error {
	f.offsets[consumer] = offset
	return nil
}

func queueEvent(t *testing.T, ord int64, clinicID, eventType string) store.QueueEvent {
	t.Helper()
	payload, err := json.Marshal(store.EventPayload{ClinicID: clinicID, TicketID: "t", Sequence: 1})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return store.QueueEvent{
		Ord:       ord,
		EventID:   "e",
		ClinicID:  clinicID,
		Type:      eventType,
		TicketID:  "t",
		Sequence:  1,
		Payload:   payload,
		CreatedAt: time.Date(2026, 3, 2, 9, 0, int(ord), 0, time.UTC),
	}
}

func TestPollPublishesToSubscribedClinic(t *testing.T) {
	st := newFakeEventStore([]store.QueueEvent{
		queueEvent(t, 1, "gp-1", store.EventEnqueue),
		queueEvent(t, 2, "gp-2", store.EventDequeue),
	})
	h := hub.New(8)
	sub := h.Subscribe("gp-1")
	defer h.Unsubscribe("gp-1", sub)

	r := New(st, h, Config{})
	r.Poll(context.Background())

	select {
	case frame := <-sub.Ch:
		var env hub.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if env.Type != store.EventEnqueue {
			t.Fatalf("expected %s envelope, got %s", store.EventEnqueue, env.Type)
		}
	default:
		t.Fatal("expected a frame for gp-1")
	}

	select {
	case frame := <-sub.Ch:
		t.Fatalf("gp-2 event leaked to gp-1 subscriber: %s", frame)
	default:
	}
}

func TestPollAdvancesDurableOffset(t *testing.T) {
	st := newFakeEventStore([]store.QueueEvent{
		queueEvent(t, 1, "gp-1", store.EventEnqueue),
		queueEvent(t, 2, "gp-1", store.EventEnqueue),
	})
	h := hub.New(8)

	r := New(st, h, Config{})
	r.Poll(context.Background())

	offset, ok := st.offsets[consumerName]
	if !ok {
		t.Fatal("expected durable offset write after publishing")
	}
	if offset.LastOrd != 2 {
		t.Fatalf("expected cursor at ord 2, got %+v", offset)
	}

	sub := h.Subscribe("gp-1")
	defer h.Unsubscribe("gp-1", sub)
	r.offset = offset
	r.Poll(context.Background())
	select {
	case frame := <-sub.Ch:
		t.Fatalf("expected no replay past the cursor, got %s", frame)
	default:
	}
}

func TestPollWithNoEventsWritesNoOffset(t *testing.T) {
	st := newFakeEventStore(nil)
	r := New(st, hub.New(8), Config{})
	r.Poll(context.Background())
	if len(st.offsets) != 0 {
		t.Fatalf("expected no offset write for an empty poll, got %+v", st.offsets)
	}
}
