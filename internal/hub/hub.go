package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const HeartbeatType = "heartbeat"

// Envelope is the frame pushed to subscribers: queue events carry the event
// log payload, heartbeats carry no payload at all.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Subscriber struct {
	ID string
	Ch chan []byte
}

// Hub is an arena of per-clinic broadcast channels. Channels are created
// lazily on first publish or first subscribe and live for the process
// lifetime. Publishing never blocks: a subscriber whose buffer is full has
// the new frame dropped.
type Hub struct {
	mu      sync.RWMutex
	buffer  int
	clinics map[string]*clinicChannel
}

type clinicChannel struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{buffer: buffer, clinics: make(map[string]*clinicChannel)}
}

func (h *Hub) Subscribe(clinicID string) *Subscriber {
	sub := &Subscriber{ID: uuid.NewString(), Ch: make(chan []byte, h.buffer)}
	ch := h.clinic(clinicID)
	ch.mu.Lock()
	ch.subs[sub.ID] = sub
	ch.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel, releasing the
// buffer. Safe to call once per subscriber only.
func (h *Hub) Unsubscribe(clinicID string, sub *Subscriber) {
	ch := h.clinic(clinicID)
	ch.mu.Lock()
	delete(ch.subs, sub.ID)
	ch.mu.Unlock()
	close(sub.Ch)
}

func (h *Hub) Publish(clinicID string, payload []byte) {
	ch := h.clinic(clinicID)
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	for _, sub := range ch.subs {
		select {
		case sub.Ch <- payload:
		default:
			log.Printf("hub drop frame clinic=%s subscriber=%s", clinicID, sub.ID)
		}
	}
}

// RunHeartbeat pushes a heartbeat frame to every live subscriber of every
// clinic at the given interval, independent of real events, so long-lived
// connections survive intermediary proxies.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := json.Marshal(Envelope{Type: HeartbeatType, CreatedAt: time.Now().UTC()})
			if err != nil {
				continue
			}
			h.broadcastAll(frame)
		}
	}
}

func (h *Hub) broadcastAll(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for clinicID, ch := range h.clinics {
		ch.mu.RLock()
		for _, sub := range ch.subs {
			select {
			case sub.Ch <- payload:
			default:
				log.Printf("hub drop heartbeat clinic=%s subscriber=%s", clinicID, sub.ID)
			}
		}
		ch.mu.RUnlock()
	}
}

func (h *Hub) clinic(clinicID string) *clinicChannel {
	h.mu.RLock()
	ch, ok := h.clinics[clinicID]
	h.mu.RUnlock()
	if ok {
		return ch
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clinics[clinicID]; ok {
		return ch
	}
	ch = &clinicChannel{subs: make(map[string]*Subscriber)}
	h.clinics[clinicID] = ch
	return ch
}

// SubscribeMessage is the control frame clients send on the realtime socket.
type SubscribeMessage struct {
	Action   string `json:"action"`
	ClinicID string `json:"clinic_id"`
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.Action == "subscribe" && msg.ClinicID == "" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
