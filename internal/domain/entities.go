package domain

import (
	"time"
)

// Amount is a monetary value in minor currency units (cents) so
// comparisons stay exact.
type Amount = int64

type AuctionStatus int

const (
	AuctionPending AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionPending:
		return "pending"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type UpdateKind string

const (
	UpdateNewBid         UpdateKind = "new_bid"
	UpdateOutbid         UpdateKind = "outbid"
	UpdateAuctionStarted UpdateKind = "auction_started"
	UpdateAuctionEnding  UpdateKind = "auction_ending"
	UpdateAuctionEnded   UpdateKind = "auction_ended"
	UpdateBidCancelled   UpdateKind = "bid_cancelled"
	UpdateBidFinalized   UpdateKind = "bid_finalized"
)

// BidUpdateEvent is one observed change on a watched resource. Events are
// never mutated after decoding; consumers receive shared references.
type BidUpdateEvent struct {
	Kind          UpdateKind     `json:"kind"`
	ResourceID    string         `json:"resource_id"`
	Amount        Amount         `json:"amount,omitempty"`
	BidderLabel   string         `json:"bidder_label,omitempty"`
	TotalBidCount int            `json:"total_bid_count,omitempty"`
	ObservedAt    time.Time      `json:"observed_at"`
	AuctionStatus *AuctionStatus `json:"auction_status,omitempty"`
}

// ConnectionStatus is the latest transport health for one resource. A
// disconnected status never clears previously delivered events.
type ConnectionStatus struct {
	Connected bool      `json:"connected"`
	LastError string    `json:"last_error,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ValidationContext is the read-only snapshot a caller assembles right
// before proposing a bid. Optional fields use zero to mean "absent".
type ValidationContext struct {
	CurrentHighestBid Amount
	StartingBid       Amount
	ReservePrice      Amount // 0 = no reserve
	MinimumIncrement  Amount // 0 = derive from step table
	AuctionStart      time.Time
	AuctionEnd        time.Time
	AuctionStatus     AuctionStatus
	IsSellerBidding   bool

	// Requesting user's recent bids on this resource, newest first.
	RecentBidTimes  []time.Time
	HoldsWinningBid bool
	PreviousOwnBid  Amount

	Balance     Amount // 0 = unknown
	MaxBidLimit Amount // 0 = no limit

	Now time.Time // evaluation instant; zero means time.Now()
}

// ValidationResult is the aggregated verdict across all rule groups.
type ValidationResult struct {
	IsValid     bool
	Errors      []string
	Warnings    []string
	Suggestions []string
	Severity    Severity
}
