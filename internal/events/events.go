package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types published by the offer flow.
const (
	TypeOfferSubmitted   = "offer.submitted"
	TypeSubmissionStatus = "offer.status"
	TypeDialogsClose     = "dialogs.close"
)

// Event is a lightweight UI-facing signal. Session scopes it to one tutor
// session; an empty Session means every session.
type Event struct {
	Type      string          `json:"type"`
	Session   string          `json:"session,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type. Handlers run synchronously
// in registration order; a failing handler is logged and does not stop the
// rest.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			b.logger.Warn().Err(err).Str("type", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON marshals payload and publishes it.
func (b *EventBus) PublishJSON(eventType, session string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.Publish(Event{Type: eventType, Session: session, Payload: data})
	return nil
}

// Inbox buffers events per session so a polling client can drain them.
type Inbox struct {
	mu    sync.Mutex
	limit int
	byKey map[string][]Event
}

// NewInbox keeps at most limit events per session (oldest dropped).
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = 32
	}
	return &Inbox{limit: limit, byKey: make(map[string][]Event)}
}

// Attach subscribes the inbox to the given event types.
func (i *Inbox) Attach(bus *EventBus, types ...string) {
	for _, t := range types {
		bus.Subscribe(t, i.add)
	}
}

func (i *Inbox) add(e Event) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	q := append(i.byKey[e.Session], e)
	if len(q) > i.limit {
		q = q[len(q)-i.limit:]
	}
	i.byKey[e.Session] = q
	return nil
}

// Drain returns and forgets the events queued for session.
func (i *Inbox) Drain(session string) []Event {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.byKey[session]
	delete(i.byKey, session)
	return out
}

// Forget drops a session's queue.
func (i *Inbox) Forget(session string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.byKey, session)
}
