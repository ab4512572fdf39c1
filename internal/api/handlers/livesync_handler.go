package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"auction-livesync/internal/domain"
	"auction-livesync/internal/services"
	"auction-livesync/pkg/logger"
)

type LivesyncHandler struct {
	coordinator *services.Coordinator
	validator   domain.BidValidator
	bus         domain.EventBus
	log         logger.Logger
}

func NewLivesyncHandler(coordinator *services.Coordinator, validator domain.BidValidator,
	bus domain.EventBus, log logger.Logger) *LivesyncHandler {
	return &LivesyncHandler{
		coordinator: coordinator,
		validator:   validator,
		bus:         bus,
		log:         log,
	}
}

func (h *LivesyncHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/resources/:id/status", h.ResourceStatus)
	e.POST("/resources/:id/watch", h.Watch)
	e.DELETE("/resources/:id/watch/:subscriberID", h.Unwatch)
	e.POST("/validate", h.Validate)
}

func (h *LivesyncHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type resourceStatusResponse struct {
	ResourceID      string    `json:"resource_id"`
	Connected       bool      `json:"connected"`
	LastError       string    `json:"last_error,omitempty"`
	ChangedAt       time.Time `json:"changed_at,omitempty"`
	ActiveTransport string    `json:"active_transport"`
	RecentEvents    int       `json:"recent_events"`
}

func (h *LivesyncHandler) ResourceStatus(c echo.Context) error {
	resourceID := c.Param("id")
	status := h.coordinator.Status(resourceID)

	return c.JSON(http.StatusOK, resourceStatusResponse{
		ResourceID:      resourceID,
		Connected:       status.Connected,
		LastError:       status.LastError,
		ChangedAt:       status.ChangedAt,
		ActiveTransport: h.coordinator.ActiveTransport().String(),
		RecentEvents:    len(h.bus.History(resourceID)),
	})
}

func (h *LivesyncHandler) Watch(c echo.Context) error {
	resourceID := c.Param("id")
	subscriberID := h.coordinator.Watch(resourceID)

	h.log.Info("Watch registered via API", "resource_id", resourceID, "subscriber_id", subscriberID)
	return c.JSON(http.StatusCreated, map[string]string{
		"resource_id":   resourceID,
		"subscriber_id": subscriberID,
	})
}

func (h *LivesyncHandler) Unwatch(c echo.Context) error {
	resourceID := c.Param("id")
	subscriberID := c.Param("subscriberID")

	h.coordinator.Unwatch(resourceID, subscriberID)
	return c.NoContent(http.StatusNoContent)
}

type validateRequest struct {
	AmountCents       int64      `json:"amount_cents"`
	CurrentHighestBid int64      `json:"current_highest_bid"`
	StartingBid       int64      `json:"starting_bid"`
	ReservePrice      int64      `json:"reserve_price,omitempty"`
	MinimumIncrement  int64      `json:"minimum_increment,omitempty"`
	AuctionStart      time.Time  `json:"auction_start"`
	AuctionEnd        time.Time  `json:"auction_end"`
	AuctionStatus     string     `json:"auction_status"`
	IsSellerBidding   bool       `json:"is_seller_bidding,omitempty"`
	RecentBidTimes    []time.Time `json:"recent_bid_times,omitempty"`
	HoldsWinningBid   bool       `json:"holds_winning_bid,omitempty"`
	PreviousOwnBid    int64      `json:"previous_own_bid,omitempty"`
	Balance           int64      `json:"balance,omitempty"`
	MaxBidLimit       int64      `json:"max_bid_limit,omitempty"`
}

type validateResponse struct {
	IsValid     bool     `json:"is_valid"`
	Severity    string   `json:"severity"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (h *LivesyncHandler) Validate(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind validate request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	vctx := domain.ValidationContext{
		CurrentHighestBid: req.CurrentHighestBid,
		StartingBid:       req.StartingBid,
		ReservePrice:      req.ReservePrice,
		MinimumIncrement:  req.MinimumIncrement,
		AuctionStart:      req.AuctionStart,
		AuctionEnd:        req.AuctionEnd,
		AuctionStatus:     statusFromString(req.AuctionStatus),
		IsSellerBidding:   req.IsSellerBidding,
		RecentBidTimes:    req.RecentBidTimes,
		HoldsWinningBid:   req.HoldsWinningBid,
		PreviousOwnBid:    req.PreviousOwnBid,
		Balance:           req.Balance,
		MaxBidLimit:       req.MaxBidLimit,
	}

	result := h.validator.Validate(req.AmountCents, vctx)

	return c.JSON(http.StatusOK, validateResponse{
		IsValid:     result.IsValid,
		Severity:    result.Severity.String(),
		Errors:      result.Errors,
		Warnings:    result.Warnings,
		Suggestions: result.Suggestions,
	})
}

func statusFromString(status string) domain.AuctionStatus {
	switch status {
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
