package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-livesync/internal/domain"
	"auction-livesync/internal/eventbus"
	"auction-livesync/internal/poller"
	"auction-livesync/internal/services"
	"auction-livesync/pkg/logger"
)

type stubFetcher struct{}

func (stubFetcher) FetchUpdates(ctx context.Context, resourceID string, since time.Time) (*domain.UpdateBatch, error) {
	return &domain.UpdateBatch{Cursor: time.Now()}, nil
}

func newTestHandler(t *testing.T) (*LivesyncHandler, *echo.Echo) {
	t.Helper()
	bus := eventbus.New(10, logger.NewNop())
	scheduler := poller.NewScheduler(stubFetcher{}, bus, poller.Options{
		BaseInterval: 50 * time.Millisecond,
	}, logger.NewNop())
	coordinator := services.NewCoordinator(scheduler, nil, bus, logger.NewNop())
	t.Cleanup(coordinator.Stop)

	validator := services.NewRuleValidator(services.ValidatorOptions{})
	h := NewLivesyncHandler(coordinator, validator, bus, logger.NewNop())

	e := echo.New()
	h.Register(e)
	return h, e
}

func TestHandler_Health(t *testing.T) {
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHandler_WatchAndStatus(t *testing.T) {
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/resources/gem-1/watch", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subscriber_id"`)

	req = httptest.NewRequest(http.MethodGet, "/resources/gem-1/status", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_transport":"polling"`)
}

func TestHandler_Validate(t *testing.T) {
	_, e := newTestHandler(t)

	body := `{
		"amount_cents": 1600,
		"current_highest_bid": 1000,
		"starting_bid": 500,
		"minimum_increment": 100,
		"reserve_price": 1500,
		"auction_start": "2026-03-14T10:00:00Z",
		"auction_end": "2099-01-01T00:00:00Z",
		"auction_status": "active"
	}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_valid":true`)
	assert.Contains(t, rec.Body.String(), "reserve price")
}

func TestHandler_ValidateRejectsBadBody(t *testing.T) {
	_, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
