package eventbus

import (
	"sync"
	"time"

	"auction-livesync/internal/domain"
	"auction-livesync/pkg/logger"
)

// DefaultHistorySize bounds the per-resource event history.
const DefaultHistorySize = 50

type subscription struct {
	id      uint64
	handler domain.BusHandler
}

type resourceState struct {
	subs    []subscription // kept in subscription order
	history []*domain.BidUpdateEvent
	status  domain.ConnectionStatus
}

// Bus is a process-local fan-out: one published message reaches every
// handler subscribed to that resource, invoked inline in subscription
// order. Delivery is best-effort; nothing survives a restart.
type Bus struct {
	mutex       sync.RWMutex
	resources   map[string]*resourceState
	nextSubID   uint64
	historySize int
	log         logger.Logger
}

func New(historySize int, log logger.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		resources:   make(map[string]*resourceState),
		historySize: historySize,
		log:         log,
	}
}

func (b *Bus) Subscribe(resourceID string, handler domain.BusHandler) func() {
	b.mutex.Lock()
	state := b.resources[resourceID]
	if state == nil {
		state = &resourceState{}
		b.resources[resourceID] = state
	}
	b.nextSubID++
	id := b.nextSubID
	state.subs = append(state.subs, subscription{id: id, handler: handler})
	b.mutex.Unlock()

	b.log.Debug("Bus subscription added", "resource_id", resourceID, "sub_id", id)

	return func() {
		b.mutex.Lock()
		defer b.mutex.Unlock()
		state, exists := b.resources[resourceID]
		if !exists {
			return
		}
		for i, sub := range state.subs {
			if sub.id == id {
				state.subs = append(state.subs[:i], state.subs[i+1:]...)
				break
			}
		}
		if len(state.subs) == 0 && len(state.history) == 0 {
			delete(b.resources, resourceID)
		}
	}
}

func (b *Bus) PublishEvent(resourceID string, event *domain.BidUpdateEvent) {
	b.mutex.Lock()
	state := b.resources[resourceID]
	if state == nil {
		state = &resourceState{}
		b.resources[resourceID] = state
	}
	state.history = append(state.history, event)
	if len(state.history) > b.historySize {
		state.history = state.history[len(state.history)-b.historySize:]
	}
	handlers := snapshotHandlers(state)
	b.mutex.Unlock()

	msg := domain.BusMessage{Event: event}
	for _, h := range handlers {
		h(msg)
	}
}

func (b *Bus) PublishStatus(resourceID string, status domain.ConnectionStatus) {
	if status.ChangedAt.IsZero() {
		status.ChangedAt = time.Now()
	}

	b.mutex.Lock()
	state := b.resources[resourceID]
	if state == nil {
		state = &resourceState{}
		b.resources[resourceID] = state
	}
	state.status = status
	handlers := snapshotHandlers(state)
	b.mutex.Unlock()

	statusCopy := status
	msg := domain.BusMessage{Status: &statusCopy}
	for _, h := range handlers {
		h(msg)
	}
}

func (b *Bus) Status(resourceID string) domain.ConnectionStatus {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	if state, exists := b.resources[resourceID]; exists {
		return state.status
	}
	return domain.ConnectionStatus{}
}

// Prune drops a resource's retained history and status once nothing
// subscribes to it anymore. No-op while subscribers remain, so watched
// resources keep their stale-but-present data across disconnects.
func (b *Bus) Prune(resourceID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	state, exists := b.resources[resourceID]
	if !exists || len(state.subs) > 0 {
		return
	}
	delete(b.resources, resourceID)
}

func (b *Bus) History(resourceID string) []*domain.BidUpdateEvent {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	state, exists := b.resources[resourceID]
	if !exists {
		return nil
	}
	out := make([]*domain.BidUpdateEvent, len(state.history))
	copy(out, state.history)
	return out
}

// snapshotHandlers copies handlers under the lock so publishing never
// invokes them while the lock is held. A handler may subscribe or
// unsubscribe during dispatch; the change takes effect on the next
// publish.
func snapshotHandlers(state *resourceState) []domain.BusHandler {
	handlers := make([]domain.BusHandler, len(state.subs))
	for i, sub := range state.subs {
		handlers[i] = sub.handler
	}
	return handlers
}
