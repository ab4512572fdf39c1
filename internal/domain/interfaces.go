package domain

import (
	"context"
	"time"
)

// UpdateBatch is the decoded result of one refresh fetch: zero or more
// events plus the advanced cursor to use on the next fetch.
type UpdateBatch struct {
	Events []*BidUpdateEvent
	Cursor time.Time
}

// UpdateFetcher retrieves records newer than the given cursor.
type UpdateFetcher interface {
	FetchUpdates(ctx context.Context, resourceID string, since time.Time) (*UpdateBatch, error)
}

// BusMessage carries either a decoded event or a connection status
// change; exactly one of the two fields is set.
type BusMessage struct {
	Event  *BidUpdateEvent
	Status *ConnectionStatus
}

type BusHandler func(msg BusMessage)

// EventBus fans published messages out to all handlers subscribed to a
// resource, inline and in subscription order.
type EventBus interface {
	PublishEvent(resourceID string, event *BidUpdateEvent)
	PublishStatus(resourceID string, status ConnectionStatus)
	Subscribe(resourceID string, handler BusHandler) (unsubscribe func())
	Status(resourceID string) ConnectionStatus
	History(resourceID string) []*BidUpdateEvent
	Prune(resourceID string)
}

// ResourceWatcher registers and releases subscriber interest in a
// resource. Both calls are idempotent per (resource, subscriber) pair.
type ResourceWatcher interface {
	EnsureWatching(resourceID, subscriberID string)
	StopWatching(resourceID, subscriberID string)
}

// StreamClient is a persistent push channel for resource updates.
type StreamClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	SubscribeResource(resourceID string) error
	UnsubscribeResource(resourceID string) error
	Connected() bool
}

// BidValidator evaluates a proposed bid against auction context. Pure:
// no I/O, no shared mutable state.
type BidValidator interface {
	Validate(amount Amount, vctx ValidationContext) ValidationResult
}
