package api

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/watcher"
)

// EventHub fans watcher events out to any number of stream
// subscribers. Delivery is best-effort: a subscriber that cannot keep
// up loses frames rather than stalling the watcher.
type EventHub struct {
	mu     sync.Mutex
	subs   map[chan watcher.Event]struct{}
	logger *zap.Logger
}

// NewEventHub builds an empty hub.
func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		subs:   make(map[chan watcher.Event]struct{}),
		logger: logger,
	}
}

// Run pumps events from source until the context ends or the source
// closes. Every event is handed to onEvent before broadcast.
func (h *EventHub) Run(ctx context.Context, source <-chan watcher.Event, onEvent func(watcher.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-source:
			if !ok {
				return
			}
			if onEvent != nil {
				onEvent(event)
			}
			h.broadcast(event)
		}
	}
}

// Subscribe attaches a listener channel.
func (h *EventHub) Subscribe() chan watcher.Event {
	ch := make(chan watcher.Event, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe detaches and closes a listener channel.
func (h *EventHub) Unsubscribe(ch chan watcher.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// SubscriberCount reports the number of attached listeners.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) broadcast(event watcher.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Debug("event subscriber lagging, frame dropped",
				zap.String("path", event.Path))
		}
	}
}
