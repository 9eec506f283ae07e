package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventKind distinguishes broker events.
type EventKind string

const (
	EventLog      EventKind = "log"
	EventProgress EventKind = "progress"
	EventStage    EventKind = "stage"
)

// Event is one engine notification.
type Event struct {
	Kind     EventKind `json:"kind"`
	Time     time.Time `json:"time"`
	Message  string    `json:"message,omitempty"`
	StageID  string    `json:"stage_id,omitempty"`
	Progress float64   `json:"progress,omitempty"`
}

// Broker fans engine events out to subscribers over bounded channels. A slow
// subscriber loses events rather than blocking the engine.
type Broker struct {
	mu      sync.Mutex
	buffer  int
	nextID  int
	subs    map[int]chan Event
}

// NewBroker creates a Broker with the given per-subscriber buffer size.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 256
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a consumer. The returned cancel function must be called
// to release the subscription.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping it for any whose
// buffer is full.
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// LogSink subscribes a zap-backed consumer that mirrors engine events into
// the global logger. Returns the unsubscribe function.
func (b *Broker) LogSink() func() {
	ch, cancel := b.Subscribe()
	go func() {
		for ev := range ch {
			switch ev.Kind {
			case EventProgress:
				zap.L().Debug("pipeline progress",
					zap.String("stage", ev.StageID),
					zap.Float64("percent", ev.Progress),
				)
			default:
				zap.L().Info(ev.Message, zap.String("stage", ev.StageID))
			}
		}
	}()
	return cancel
}
