package relay

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"clinicq/queue-service/internal/hub"
	"clinicq/queue-service/internal/store"
)

const consumerName = "realtime-relay"

// Relay drains the clinic event log into the broadcast hub. It runs outside
// the request path and holds no queue locks while delivering, so slow
// subscribers can never back-pressure check-in or call-next.
type Relay struct {
	store     store.EventStore
	hub       *hub.Hub
	batchSize int
	offset    store.Offset
}

type Config struct {
	BatchSize int
}

func New(st store.EventStore, h *hub.Hub, cfg Config) *Relay {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Relay{store: st, hub: h, batchSize: batch}
}

func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	offset, err := r.store.GetOffset(ctx, consumerName)
	if err != nil {
		log.Printf("relay load offset error: %v", err)
		offset = store.Offset{}
	}
	r.offset = offset

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll publishes every event past the relay's cursor and advances it. A
// publish is fire-and-forget; only the durable offset write is retried on
// the next tick.
func (r *Relay) Poll(ctx context.Context) {
	events, err := r.store.ListEventsAfter(ctx, r.offset, r.batchSize)
	if err != nil {
		log.Printf("relay list events error: %v", err)
		return
	}
	for _, event := range events {
		env := hub.Envelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
		frame, err := json.Marshal(env)
		if err != nil {
			log.Printf("relay marshal event %s error: %v", event.EventID, err)
		} else {
			r.hub.Publish(event.ClinicID, frame)
		}
		r.offset.LastOrd = event.Ord
	}
	if len(events) > 0 {
		if err := r.store.UpdateOffset(ctx, consumerName, r.offset); err != nil {
			log.Printf("relay update offset error: %v", err)
		}
	}
}
