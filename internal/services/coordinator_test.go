package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-livesync/internal/domain"
	"auction-livesync/internal/eventbus"
	"auction-livesync/internal/infrastructure/stream"
	"auction-livesync/internal/poller"
	"auction-livesync/pkg/logger"
)

type stubFetcher struct{}

func (stubFetcher) FetchUpdates(ctx context.Context, resourceID string, since time.Time) (*domain.UpdateBatch, error) {
	return &domain.UpdateBatch{Cursor: time.Now()}, nil
}

type blockedFetcher struct{}

func (blockedFetcher) FetchUpdates(ctx context.Context, resourceID string, since time.Time) (*domain.UpdateBatch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestScheduler(bus domain.EventBus) *poller.Scheduler {
	return poller.NewScheduler(stubFetcher{}, bus, poller.Options{
		BaseInterval: 20 * time.Millisecond,
		MaxInterval:  200 * time.Millisecond,
	}, logger.NewNop())
}

func TestCoordinator_WatchersShareOneLoop(t *testing.T) {
	bus := eventbus.New(10, logger.NewNop())
	scheduler := newTestScheduler(bus)
	c := NewCoordinator(scheduler, nil, bus, logger.NewNop())
	defer c.Stop()

	subA := c.Watch("gem-1")
	subB := c.Watch("gem-1")
	require.NotEqual(t, subA, subB)

	stats := scheduler.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].SubscriberCount)

	c.Unwatch("gem-1", subA)
	require.Len(t, scheduler.Stats(), 1)

	c.Unwatch("gem-1", subB)
	assert.Empty(t, scheduler.Stats())
}

func TestCoordinator_LastUnwatchPrunesBusState(t *testing.T) {
	bus := eventbus.New(10, logger.NewNop())
	// A fetch that never returns keeps the refresh loop out of the
	// picture; only the prune path touches bus state here.
	scheduler := poller.NewScheduler(blockedFetcher{}, bus, poller.Options{
		BaseInterval: 20 * time.Millisecond,
	}, logger.NewNop())
	c := NewCoordinator(scheduler, nil, bus, logger.NewNop())
	defer c.Stop()

	sub := c.Watch("gem-1")
	bus.PublishEvent("gem-1", &domain.BidUpdateEvent{
		Kind: domain.UpdateNewBid, ResourceID: "gem-1", Amount: 100, ObservedAt: time.Now(),
	})
	require.Len(t, bus.History("gem-1"), 1)

	c.Unwatch("gem-1", sub)

	assert.Empty(t, bus.History("gem-1"))
	assert.Equal(t, domain.ConnectionStatus{}, bus.Status("gem-1"))
}

func TestCoordinator_DefaultsToPolling(t *testing.T) {
	bus := eventbus.New(10, logger.NewNop())
	scheduler := newTestScheduler(bus)
	c := NewCoordinator(scheduler, nil, bus, logger.NewNop())
	defer c.Stop()

	assert.Equal(t, TransportPolling, c.ActiveTransport())
}

func TestCoordinator_StreamFallbackToPolling(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var (
		connMu sync.Mutex
		conns  []*websocket.Conn
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connMu.Lock()
		conns = append(conns, conn)
		connMu.Unlock()
		// Swallow control frames until the connection dies.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	defer srv.Close()

	bus := eventbus.New(10, logger.NewNop())
	scheduler := newTestScheduler(bus)
	streamClient := stream.NewClient(stream.Options{
		URL:                  "ws" + strings.TrimPrefix(srv.URL, "http"),
		MaxReconnectAttempts: 1,
		ReconnectBase:        5 * time.Millisecond,
		ReconnectMax:         10 * time.Millisecond,
		HandshakeTimeout:     time.Second,
	}, bus, logger.NewNop())

	c := NewCoordinator(scheduler, streamClient, bus, logger.NewNop())
	defer c.Stop()

	require.NoError(t, c.Start(context.Background()))
	c.EnsureWatching("gem-1", "sub-1")

	require.Eventually(t, func() bool {
		return c.ActiveTransport() == TransportStreaming
	}, 2*time.Second, time.Millisecond)

	// Polling keeps running underneath as the missed-message backstop.
	require.Len(t, scheduler.Stats(), 1)

	// Backend goes away: the stream exhausts its reconnect budget and
	// the coordinator falls back to polling.
	srv.CloseClientConnections()
	srv.Close()
	// httptest stops tracking hijacked connections, so the upgraded
	// websocket conns must be closed explicitly to sever the stream.
	connMu.Lock()
	for _, conn := range conns {
		conn.Close()
	}
	connMu.Unlock()

	require.Eventually(t, func() bool {
		return c.ActiveTransport() == TransportPolling
	}, 5*time.Second, 5*time.Millisecond)

	// Polling still owns the watch, so the resource stays covered.
	require.Len(t, scheduler.Stats(), 1)
}
