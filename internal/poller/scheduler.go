package poller

import (
	"context"
	"sync"
	"time"

	"auction-livesync/internal/domain"
	"auction-livesync/pkg/logger"
)

// Options are the scheduler's backoff knobs. Zero values fall back to
// the defaults below.
type Options struct {
	BaseInterval    time.Duration
	MaxInterval     time.Duration
	GenericFactor   float64
	RateLimitFactor float64
}

const (
	defaultBaseInterval    = 3 * time.Second
	defaultMaxInterval     = 2 * time.Minute
	defaultGenericFactor   = 1.5
	defaultRateLimitFactor = 2.0
)

func (o *Options) applyDefaults() {
	if o.BaseInterval <= 0 {
		o.BaseInterval = defaultBaseInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = defaultMaxInterval
	}
	if o.GenericFactor <= 1 {
		o.GenericFactor = defaultGenericFactor
	}
	if o.RateLimitFactor <= 1 {
		o.RateLimitFactor = defaultRateLimitFactor
	}
}

// watch is the single mutable record per watched resource. At most one
// scheduled timer and one in-flight refresh exist per resource no
// matter how many subscribers registered.
type watch struct {
	subscribers map[string]struct{}
	cursor      time.Time
	interval    time.Duration
	errorCount  int
	timer       *time.Timer
}

// WatchStats is a read-only snapshot of one watch, for the stats sweep.
type WatchStats struct {
	ResourceID      string
	SubscriberCount int
	Interval        time.Duration
	ErrorCount      int
	Cursor          time.Time
}

// Scheduler runs one cursor-based refresh loop per watched resource and
// fans decoded updates out over the bus. Failures never propagate to
// callers; they surface as disconnected status events and stretch the
// retry interval.
type Scheduler struct {
	fetcher domain.UpdateFetcher
	bus     domain.EventBus
	opts    Options
	log     logger.Logger

	mutex    sync.Mutex
	watches  map[string]*watch
	inflight map[string]*watch // resource id -> watch owning the running fetch
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
}

func NewScheduler(fetcher domain.UpdateFetcher, bus domain.EventBus, opts Options, log logger.Logger) *Scheduler {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		fetcher:  fetcher,
		bus:      bus,
		opts:     opts,
		log:      log,
		watches:  make(map[string]*watch),
		inflight: make(map[string]*watch),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// EnsureWatching registers a subscriber. The first subscriber for a
// resource starts its refresh loop immediately; later subscribers join
// the existing loop without resetting its interval or cursor.
func (s *Scheduler) EnsureWatching(resourceID, subscriberID string) {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}

	if w, exists := s.watches[resourceID]; exists {
		w.subscribers[subscriberID] = struct{}{}
		s.mutex.Unlock()
		s.log.Debug("Subscriber joined existing watch", "resource_id", resourceID, "subscriber_id", subscriberID)
		return
	}

	w := &watch{
		subscribers: map[string]struct{}{subscriberID: {}},
		interval:    s.opts.BaseInterval,
	}
	s.watches[resourceID] = w
	s.mutex.Unlock()

	s.log.Info("Watch started", "resource_id", resourceID, "subscriber_id", subscriberID)
	go s.refresh(resourceID)
}

// StopWatching removes a subscriber. Idempotent; the watch is torn down
// once its subscriber set empties. An in-flight refresh is allowed to
// finish but its result is discarded.
func (s *Scheduler) StopWatching(resourceID, subscriberID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	w, exists := s.watches[resourceID]
	if !exists {
		return
	}
	delete(w.subscribers, subscriberID)
	if len(w.subscribers) > 0 {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	delete(s.watches, resourceID)
	s.log.Info("Watch stopped", "resource_id", resourceID)
}

// Stats snapshots every active watch.
func (s *Scheduler) Stats() []WatchStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := make([]WatchStats, 0, len(s.watches))
	for id, w := range s.watches {
		stats = append(stats, WatchStats{
			ResourceID:      id,
			SubscriberCount: len(w.subscribers),
			Interval:        w.interval,
			ErrorCount:      w.errorCount,
			Cursor:          w.cursor,
		})
	}
	return stats
}

// Close tears down every watch and cancels in-flight fetches.
func (s *Scheduler) Close() {
	s.mutex.Lock()
	s.closed = true
	for id, w := range s.watches {
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(s.watches, id)
	}
	s.mutex.Unlock()
	s.cancel()
}

// refresh runs one cycle for a resource: fetch since cursor, publish,
// reschedule. The inflight entry guarantees at most one fetch is in
// flight per resource, even across a watch torn down and recreated
// while a slow fetch runs: the entry is keyed by resource id and
// tagged with the owning watch, so a replacement watch waits its turn
// and a stale fetch cannot touch the replacement's state.
func (s *Scheduler) refresh(resourceID string) {
	s.mutex.Lock()
	w, exists := s.watches[resourceID]
	if !exists || len(w.subscribers) == 0 {
		s.mutex.Unlock()
		return
	}
	if _, busy := s.inflight[resourceID]; busy {
		s.reschedule(resourceID, w)
		s.mutex.Unlock()
		return
	}
	s.inflight[resourceID] = w
	cursor := w.cursor
	s.mutex.Unlock()

	batch, err := s.fetcher.FetchUpdates(s.ctx, resourceID, cursor)

	s.mutex.Lock()
	delete(s.inflight, resourceID)
	current, exists := s.watches[resourceID]
	if !exists || current != w {
		// Torn down (or torn down and replaced) while the fetch was in
		// flight; discard the result.
		s.mutex.Unlock()
		return
	}

	var events []*domain.BidUpdateEvent
	if err != nil {
		w.errorCount++
		factor := s.opts.GenericFactor
		if domain.Classify(err) == domain.ErrClassRateLimited {
			factor = s.opts.RateLimitFactor
		}
		w.interval = time.Duration(float64(w.interval) * factor)
		if w.interval > s.opts.MaxInterval {
			w.interval = s.opts.MaxInterval
		}
		s.log.Warn("Refresh failed", "resource_id", resourceID, "error", err,
			"error_count", w.errorCount, "next_interval", w.interval)
	} else {
		w.errorCount = 0
		w.interval = s.opts.BaseInterval
		if batch.Cursor.After(w.cursor) {
			w.cursor = batch.Cursor
		}
		events = batch.Events
	}
	s.reschedule(resourceID, w)
	s.mutex.Unlock()

	if err != nil {
		s.bus.PublishStatus(resourceID, domain.ConnectionStatus{
			Connected: false,
			LastError: err.Error(),
			ChangedAt: time.Now(),
		})
		return
	}

	s.bus.PublishStatus(resourceID, domain.ConnectionStatus{
		Connected: true,
		ChangedAt: time.Now(),
	})
	for _, event := range events {
		s.bus.PublishEvent(resourceID, event)
	}
}

// reschedule arms the single timer for a watch. Caller holds the mutex.
func (s *Scheduler) reschedule(resourceID string, w *watch) {
	if s.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.interval, func() {
		s.refresh(resourceID)
	})
}
