package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"auction-livesync/internal/domain"
	"auction-livesync/internal/infrastructure/stream"
	"auction-livesync/internal/poller"
	"auction-livesync/pkg/logger"
)

// Transport is the explicit active-transport tag.
type Transport int

const (
	TransportPolling Transport = iota
	TransportStreaming
)

func (t Transport) String() string {
	switch t {
	case TransportPolling:
		return "polling"
	case TransportStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Coordinator is the consumer-facing registration surface. It runs both
// transports: streaming wins when connected, while polling keeps
// running as a silent backstop since its cursor-based catch-up is the
// only way to recover updates missed during a stream outage. When the
// stream reports a terminal failure the tag flips back to polling.
type Coordinator struct {
	scheduler *poller.Scheduler
	stream    *stream.Client // nil disables streaming
	bus       domain.EventBus
	cron      *cron.Cron
	log       logger.Logger

	mutex  sync.Mutex
	active Transport
	counts map[string]int // resource -> subscriber count
}

func NewCoordinator(scheduler *poller.Scheduler, streamClient *stream.Client,
	bus domain.EventBus, log logger.Logger) *Coordinator {
	c := &Coordinator{
		scheduler: scheduler,
		stream:    streamClient,
		bus:       bus,
		cron:      cron.New(),
		log:       log,
		active:    TransportPolling,
		counts:    make(map[string]int),
	}
	if streamClient != nil {
		streamClient.SetStateListener(c.onStreamState)
	}
	return c
}

// Start attaches the streaming transport and begins the stats sweep.
// A failed stream connect is not fatal: polling carries the load.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.stream != nil {
		if err := c.stream.Connect(ctx); err != nil {
			c.log.Warn("Stream connect failed, continuing on polling", "error", err)
		}
	}

	_, err := c.cron.AddFunc("@every 1m", c.logWatchStats)
	if err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

func (c *Coordinator) Stop() {
	c.cron.Stop()
	if c.stream != nil {
		c.stream.Disconnect()
	}
	c.scheduler.Close()
	c.log.Info("Coordinator stopped")
}

// Watch registers interest in a resource and returns the subscriber
// token to pass to Unwatch.
func (c *Coordinator) Watch(resourceID string) string {
	subscriberID := uuid.NewString()
	c.EnsureWatching(resourceID, subscriberID)
	return subscriberID
}

func (c *Coordinator) EnsureWatching(resourceID, subscriberID string) {
	c.scheduler.EnsureWatching(resourceID, subscriberID)

	c.mutex.Lock()
	c.counts[resourceID]++
	first := c.counts[resourceID] == 1
	c.mutex.Unlock()

	if first && c.stream != nil {
		if err := c.stream.SubscribeResource(resourceID); err != nil {
			c.log.Warn("Stream subscribe failed", "resource_id", resourceID, "error", err)
		}
	}
}

func (c *Coordinator) StopWatching(resourceID, subscriberID string) {
	c.scheduler.StopWatching(resourceID, subscriberID)

	c.mutex.Lock()
	if c.counts[resourceID] > 0 {
		c.counts[resourceID]--
	}
	last := c.counts[resourceID] == 0
	if last {
		delete(c.counts, resourceID)
	}
	c.mutex.Unlock()

	if last {
		if c.stream != nil {
			if err := c.stream.UnsubscribeResource(resourceID); err != nil {
				c.log.Warn("Stream unsubscribe failed", "resource_id", resourceID, "error", err)
			}
		}
		c.bus.Prune(resourceID)
	}
}

// Unwatch releases a token handed out by Watch.
func (c *Coordinator) Unwatch(resourceID, subscriberID string) {
	c.StopWatching(resourceID, subscriberID)
}

func (c *Coordinator) ActiveTransport() Transport {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.active
}

// Status reports the latest connection status for a resource.
func (c *Coordinator) Status(resourceID string) domain.ConnectionStatus {
	return c.bus.Status(resourceID)
}

func (c *Coordinator) onStreamState(state stream.State, err error, terminal bool) {
	c.mutex.Lock()
	previous := c.active
	switch {
	case state == stream.StateConnected:
		c.active = TransportStreaming
	case terminal:
		c.active = TransportPolling
	}
	current := c.active
	c.mutex.Unlock()

	if current != previous {
		c.log.Info("Active transport changed", "from", previous, "to", current, "error", err)
	}
}

func (c *Coordinator) logWatchStats() {
	for _, s := range c.scheduler.Stats() {
		c.log.Info("Watch stats",
			"resource_id", s.ResourceID,
			"subscribers", s.SubscriberCount,
			"interval", s.Interval,
			"error_count", s.ErrorCount,
			"transport", c.ActiveTransport())
	}
}
