package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-livesync/internal/domain"
	"auction-livesync/pkg/logger"
)

func newEvent(resourceID string, n int) *domain.BidUpdateEvent {
	return &domain.BidUpdateEvent{
		Kind:       domain.UpdateNewBid,
		ResourceID: resourceID,
		Amount:     int64(n),
		ObservedAt: time.Now(),
	}
}

func TestBus_FanOutInSubscriptionOrder(t *testing.T) {
	bus := New(50, logger.NewNop())

	var order []string
	unsubA := bus.Subscribe("gem-1", func(msg domain.BusMessage) {
		order = append(order, fmt.Sprintf("a:%d", msg.Event.Amount))
	})
	defer unsubA()
	unsubB := bus.Subscribe("gem-1", func(msg domain.BusMessage) {
		order = append(order, fmt.Sprintf("b:%d", msg.Event.Amount))
	})
	defer unsubB()

	bus.PublishEvent("gem-1", newEvent("gem-1", 1))
	bus.PublishEvent("gem-1", newEvent("gem-1", 2))

	assert.Equal(t, []string{"a:1", "b:1", "a:2", "b:2"}, order)
}

func TestBus_ResourceIsolation(t *testing.T) {
	bus := New(50, logger.NewNop())

	received := 0
	unsub := bus.Subscribe("gem-1", func(msg domain.BusMessage) {
		received++
	})
	defer unsub()

	bus.PublishEvent("gem-2", newEvent("gem-2", 1))
	assert.Zero(t, received)

	bus.PublishEvent("gem-1", newEvent("gem-1", 1))
	assert.Equal(t, 1, received)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(50, logger.NewNop())

	received := 0
	unsub := bus.Subscribe("gem-1", func(msg domain.BusMessage) {
		received++
	})

	bus.PublishEvent("gem-1", newEvent("gem-1", 1))
	unsub()
	unsub() // idempotent
	bus.PublishEvent("gem-1", newEvent("gem-1", 2))

	assert.Equal(t, 1, received)
}

func TestBus_StatusDeliveredAndQueryable(t *testing.T) {
	bus := New(50, logger.NewNop())

	var got *domain.ConnectionStatus
	unsub := bus.Subscribe("gem-1", func(msg domain.BusMessage) {
		if msg.Status != nil {
			got = msg.Status
		}
	})
	defer unsub()

	bus.PublishStatus("gem-1", domain.ConnectionStatus{Connected: false, LastError: "boom"})

	require.NotNil(t, got)
	assert.False(t, got.Connected)
	assert.Equal(t, "boom", got.LastError)
	assert.False(t, got.ChangedAt.IsZero())

	status := bus.Status("gem-1")
	assert.Equal(t, "boom", status.LastError)

	// Unknown resources report the zero status.
	assert.Equal(t, domain.ConnectionStatus{}, bus.Status("gem-404"))
}

func TestBus_PruneReclaimsIdleResources(t *testing.T) {
	bus := New(50, logger.NewNop())

	// Publishes to a never-subscribed resource still retain state
	// until pruned.
	bus.PublishEvent("gem-1", newEvent("gem-1", 1))
	bus.PublishStatus("gem-1", domain.ConnectionStatus{Connected: true})
	require.Len(t, bus.History("gem-1"), 1)

	bus.Prune("gem-1")
	assert.Empty(t, bus.History("gem-1"))
	assert.Equal(t, domain.ConnectionStatus{}, bus.Status("gem-1"))

	// A resource with live subscribers keeps its data.
	unsub := bus.Subscribe("gem-2", func(domain.BusMessage) {})
	defer unsub()
	bus.PublishEvent("gem-2", newEvent("gem-2", 1))

	bus.Prune("gem-2")
	assert.Len(t, bus.History("gem-2"), 1)
}

func TestBus_HistoryBounded(t *testing.T) {
	bus := New(50, logger.NewNop())

	for i := 1; i <= 60; i++ {
		bus.PublishEvent("gem-1", newEvent("gem-1", i))
	}

	history := bus.History("gem-1")
	require.Len(t, history, 50)
	assert.Equal(t, int64(11), history[0].Amount)
	assert.Equal(t, int64(60), history[49].Amount)
}
