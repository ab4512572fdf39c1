package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"auction-livesync/internal/domain"
	"auction-livesync/pkg/logger"
)

// updatesResponse is the wire shape of the refresh fetch call.
type updatesResponse struct {
	Cursor  time.Time                `json:"cursor"`
	Updates []*domain.BidUpdateEvent `json:"updates"`
}

// Fetcher is the polling-side client for the backend's incremental
// updates endpoint.
type Fetcher struct {
	baseURL string
	client  *http.Client
	token   string
	log     logger.Logger
}

func NewFetcher(baseURL, token string, timeout time.Duration, log logger.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		token:   token,
		log:     log,
	}
}

// FetchUpdates requests records newer than the cursor. Non-2xx
// responses come back as classified FetchErrors so the scheduler can
// pick the right backoff factor.
func (f *Fetcher) FetchUpdates(ctx context.Context, resourceID string, since time.Time) (*domain.UpdateBatch, error) {
	query := url.Values{}
	query.Set("resourceId", resourceID)
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/updates?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("updates fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyResponse(resp.StatusCode, string(body))
	}

	var decoded updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode updates response: %w", err)
	}

	cursor := decoded.Cursor
	if cursor.IsZero() {
		cursor = since
	}

	f.log.Debug("Fetched updates", "resource_id", resourceID,
		"count", len(decoded.Updates), "cursor", cursor)

	return &domain.UpdateBatch{
		Events: decoded.Updates,
		Cursor: cursor,
	}, nil
}

// classifyResponse maps a non-2xx response onto the error taxonomy:
// 429 or rate-limit wording means rate-limited, 401/403 means auth,
// everything else is transient.
func classifyResponse(statusCode int, body string) *domain.FetchError {
	class := domain.ErrClassTransient
	switch {
	case statusCode == http.StatusTooManyRequests:
		class = domain.ErrClassRateLimited
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		class = domain.ErrClassAuth
	case strings.Contains(strings.ToLower(body), "rate limit"):
		class = domain.ErrClassRateLimited
	}

	message := strings.TrimSpace(body)
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return &domain.FetchError{
		Class:      class,
		StatusCode: statusCode,
		Message:    message,
	}
}
