package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"auction-livesync/internal/domain"
	"auction-livesync/pkg/logger"
)

// State is the explicit connection state tag.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateListener observes client state transitions. err is non-nil only
// for transitions caused by a failure; terminal reports that reconnect
// attempts are exhausted and the caller should fall back to polling.
type StateListener func(state State, err error, terminal bool)

// Options configure the client's handshake and reconnect behavior.
type Options struct {
	URL                  string
	Token                string
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	HandshakeTimeout     time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// controlMessage is the client-to-server subscribe/unsubscribe frame.
type controlMessage struct {
	Action     string `json:"action"`
	ResourceID string `json:"resource_id"`
}

// wireMessage is the server push frame before normalization.
type wireMessage struct {
	Type          string    `json:"type"`
	Resource      string    `json:"resource"`
	Event         string    `json:"event"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	Bidder        string    `json:"bidder,omitempty"`
	Bids          int       `json:"bids,omitempty"`
	Timestamp     time.Time `json:"ts"`
	AuctionStatus string    `json:"auction_status,omitempty"`
}

// Client keeps one persistent websocket to the backend and multiplexes
// per-resource subscriptions over it. Subscription intent survives
// transport churn: every tracked resource is re-subscribed after a
// successful reconnect. Failures are surfaced on the bus, never
// returned to bus consumers.
type Client struct {
	opts Options
	bus  domain.EventBus
	log  logger.Logger

	mutex      sync.Mutex
	state      State
	conn       *websocket.Conn
	writeMutex sync.Mutex
	tracked    map[string]struct{}
	listener   StateListener
	closing    bool
	generation int
}

func NewClient(opts Options, bus domain.EventBus, log logger.Logger) *Client {
	opts.applyDefaults()
	return &Client{
		opts:    opts,
		bus:     bus,
		log:     log,
		tracked: make(map[string]struct{}),
	}
}

// SetStateListener registers the transition observer. Must be called
// before Connect.
func (c *Client) SetStateListener(listener StateListener) {
	c.mutex.Lock()
	c.listener = listener
	c.mutex.Unlock()
}

func (c *Client) Connected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state == StateConnected
}

// Connect performs the authenticated handshake and starts the read
// loop. A handshake rejected with 401/403 is an auth error and is
// returned immediately; the caller must re-authenticate.
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	if c.state != StateDisconnected {
		c.mutex.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.closing = false
	c.mutex.Unlock()
	c.notify(StateConnecting, nil, false)

	conn, err := c.dial(ctx)
	if err != nil {
		c.mutex.Lock()
		c.state = StateDisconnected
		c.mutex.Unlock()
		c.notify(StateDisconnected, err, false)
		return err
	}

	c.afterConnect(conn)
	return nil
}

// Disconnect tears the connection down voluntarily and clears all
// subscription bookkeeping. No reconnect is attempted.
func (c *Client) Disconnect() {
	c.mutex.Lock()
	c.closing = true
	c.generation++
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.tracked = make(map[string]struct{})
	c.mutex.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.notify(StateDisconnected, nil, false)
	c.log.Info("Stream client disconnected")
}

// SubscribeResource records interest and, when connected, sends the
// subscribe control frame. Intent is remembered either way so a later
// (re)connect picks it up.
func (c *Client) SubscribeResource(resourceID string) error {
	c.mutex.Lock()
	c.tracked[resourceID] = struct{}{}
	conn := c.conn
	connected := c.state == StateConnected
	c.mutex.Unlock()

	if !connected {
		return nil
	}
	return c.writeControl(conn, "subscribe", resourceID)
}

// UnsubscribeResource is idempotent; unknown resource ids are ignored.
func (c *Client) UnsubscribeResource(resourceID string) error {
	c.mutex.Lock()
	_, tracked := c.tracked[resourceID]
	delete(c.tracked, resourceID)
	conn := c.conn
	connected := c.state == StateConnected
	c.mutex.Unlock()

	if !tracked || !connected {
		return nil
	}
	return c.writeControl(conn, "unsubscribe", resourceID)
}

// TrackedResources snapshots the current subscription intent.
func (c *Client) TrackedResources() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make([]string, 0, len(c.tracked))
	for id := range c.tracked {
		out = append(out, id)
	}
	return out
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &domain.FetchError{
				Class:      domain.ErrClassAuth,
				StatusCode: resp.StatusCode,
				Message:    "stream handshake rejected",
			}
		}
		return nil, fmt.Errorf("stream dial: %w", err)
	}
	return conn, nil
}

// afterConnect installs the new connection, replays subscription intent
// and starts the read loop.
func (c *Client) afterConnect(conn *websocket.Conn) {
	c.mutex.Lock()
	if c.closing {
		c.mutex.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.generation++
	generation := c.generation
	resources := make([]string, 0, len(c.tracked))
	for id := range c.tracked {
		resources = append(resources, id)
	}
	c.mutex.Unlock()

	c.notify(StateConnected, nil, false)
	c.log.Info("Stream connected", "url", c.opts.URL, "resubscribed", len(resources))

	for _, id := range resources {
		if err := c.writeControl(conn, "subscribe", id); err != nil {
			c.log.Error("Failed to resubscribe", "resource_id", id, "error", err)
			continue
		}
		c.bus.PublishStatus(id, domain.ConnectionStatus{Connected: true, ChangedAt: time.Now()})
	}

	go c.readLoop(conn, generation)
}

func (c *Client) writeControl(conn *websocket.Conn, action, resourceID string) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return conn.WriteJSON(controlMessage{Action: action, ResourceID: resourceID})
}

func (c *Client) readLoop(conn *websocket.Conn, generation int) {
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleDrop(generation, err)
			return
		}

		event := normalize(msg)
		if event == nil {
			c.log.Debug("Ignoring stream frame", "type", msg.Type)
			continue
		}
		c.bus.PublishEvent(event.ResourceID, event)
	}
}

// handleDrop decides between a clean stop (local Disconnect or server
// goodbye) and an involuntary drop that triggers reconnection.
func (c *Client) handleDrop(generation int, err error) {
	c.mutex.Lock()
	if generation != c.generation || c.closing {
		// Stale loop from a replaced connection or a voluntary local close.
		c.mutex.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mutex.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		// Server chose to end the session; no automatic reconnect.
		c.log.Info("Stream closed by server", "error", err)
		c.publishDropped(err, false)
		c.notify(StateDisconnected, err, true)
		return
	}

	c.log.Warn("Stream dropped, reconnecting", "error", err)
	c.publishDropped(err, false)
	go c.reconnect()
}

// reconnect retries the handshake with exponential backoff up to the
// attempt bound. Exhaustion and auth rejections are terminal: the
// caller is told to fall back to polling via a status event, never an
// error.
func (c *Client) reconnect() {
	c.mutex.Lock()
	if c.closing || c.state != StateDisconnected {
		c.mutex.Unlock()
		return
	}
	c.state = StateConnecting
	c.mutex.Unlock()
	c.notify(StateConnecting, nil, false)

	wait := c.opts.ReconnectBase
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		time.Sleep(wait)

		c.mutex.Lock()
		if c.closing {
			c.mutex.Unlock()
			return
		}
		c.mutex.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.afterConnect(conn)
			return
		}
		lastErr = err
		c.log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)

		if domain.Classify(err) == domain.ErrClassAuth {
			break
		}

		wait *= 2
		if wait > c.opts.ReconnectMax {
			wait = c.opts.ReconnectMax
		}
	}

	c.mutex.Lock()
	c.state = StateDisconnected
	c.mutex.Unlock()

	c.log.Error("Stream reconnect exhausted", "error", lastErr)
	c.publishDropped(fmt.Errorf("reconnect exhausted: %w", lastErr), true)
	c.notify(StateDisconnected, lastErr, true)
}

// publishDropped pushes a disconnected status for every tracked
// resource so downstream consumers can show transport health.
func (c *Client) publishDropped(err error, terminal bool) {
	message := err.Error()
	if terminal {
		message = "stream unavailable: " + message
	}
	for _, id := range c.TrackedResources() {
		c.bus.PublishStatus(id, domain.ConnectionStatus{
			Connected: false,
			LastError: message,
			ChangedAt: time.Now(),
		})
	}
}

func (c *Client) notify(state State, err error, terminal bool) {
	c.mutex.Lock()
	listener := c.listener
	c.mutex.Unlock()
	if listener != nil {
		listener(state, err, terminal)
	}
}

// normalize maps a server push frame onto the event shape shared with
// the poll path, so downstream consumers are transport-agnostic.
func normalize(msg wireMessage) *domain.BidUpdateEvent {
	if msg.Type != "update" || msg.Resource == "" {
		return nil
	}

	kind, ok := kindFromWire(msg.Event)
	if !ok {
		return nil
	}

	event := &domain.BidUpdateEvent{
		Kind:          kind,
		ResourceID:    msg.Resource,
		Amount:        msg.AmountCents,
		BidderLabel:   msg.Bidder,
		TotalBidCount: msg.Bids,
		ObservedAt:    msg.Timestamp,
	}
	if event.ObservedAt.IsZero() {
		event.ObservedAt = time.Now()
	}
	if msg.AuctionStatus != "" {
		status := statusFromWire(msg.AuctionStatus)
		event.AuctionStatus = &status
	}
	return event
}

func kindFromWire(event string) (domain.UpdateKind, bool) {
	switch event {
	case "new_bid":
		return domain.UpdateNewBid, true
	case "outbid":
		return domain.UpdateOutbid, true
	case "auction_started":
		return domain.UpdateAuctionStarted, true
	case "auction_ending":
		return domain.UpdateAuctionEnding, true
	case "auction_ended":
		return domain.UpdateAuctionEnded, true
	case "bid_cancelled":
		return domain.UpdateBidCancelled, true
	case "bid_finalized":
		return domain.UpdateBidFinalized, true
	default:
		return "", false
	}
}

func statusFromWire(status string) domain.AuctionStatus {
	switch status {
	case "pending":
		return domain.AuctionPending
	case "active":
		return domain.AuctionActive
	case "ended":
		return domain.AuctionEnded
	case "cancelled":
		return domain.AuctionCancelled
	default:
		return domain.AuctionPending
	}
}
