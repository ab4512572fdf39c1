package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-livesync/internal/domain"
	"auction-livesync/pkg/logger"
)

func TestFetcher_DecodesUpdatesAndCursor(t *testing.T) {
	cursor := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	r := mux.NewRouter()
	var gotResource, gotSince, gotAuth string
	r.HandleFunc("/updates", func(w http.ResponseWriter, req *http.Request) {
		gotResource = req.URL.Query().Get("resourceId")
		gotSince = req.URL.Query().Get("since")
		gotAuth = req.Header.Get("Authorization")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"cursor": cursor,
			"updates": []map[string]interface{}{
				{"kind": "new_bid", "resource_id": "gem-1", "amount": 120000, "bidder_label": "j***n"},
				{"kind": "outbid", "resource_id": "gem-1", "amount": 125000},
			},
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	f := NewFetcher(srv.URL, "secret-token", time.Second, logger.NewNop())
	since := cursor.Add(-time.Hour)
	batch, err := f.FetchUpdates(context.Background(), "gem-1", since)

	require.NoError(t, err)
	assert.Equal(t, "gem-1", gotResource)
	assert.Equal(t, since.UTC().Format(time.RFC3339Nano), gotSince)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.True(t, batch.Cursor.Equal(cursor))
	require.Len(t, batch.Events, 2)
	assert.Equal(t, domain.UpdateNewBid, batch.Events[0].Kind)
	assert.Equal(t, int64(120000), batch.Events[0].Amount)
	assert.Equal(t, "j***n", batch.Events[0].BidderLabel)
}

func TestFetcher_ZeroCursorOmitsSinceAndKeepsWatermark(t *testing.T) {
	r := mux.NewRouter()
	var hasSince bool
	r.HandleFunc("/updates", func(w http.ResponseWriter, req *http.Request) {
		_, hasSince = req.URL.Query()["since"]
		json.NewEncoder(w).Encode(map[string]interface{}{"updates": []interface{}{}})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	f := NewFetcher(srv.URL, "", time.Second, logger.NewNop())
	batch, err := f.FetchUpdates(context.Background(), "gem-1", time.Time{})

	require.NoError(t, err)
	assert.False(t, hasSince)
	assert.True(t, batch.Cursor.IsZero())
}

func TestFetcher_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantClass  domain.ErrorClass
	}{
		{"server error", http.StatusInternalServerError, "internal error", domain.ErrClassTransient},
		{"too many requests", http.StatusTooManyRequests, "slow down", domain.ErrClassRateLimited},
		{"rate limit wording", http.StatusServiceUnavailable, "Rate limit exceeded, retry later", domain.ErrClassRateLimited},
		{"unauthorized", http.StatusUnauthorized, "bad token", domain.ErrClassAuth},
		{"forbidden", http.StatusForbidden, "no access", domain.ErrClassAuth},
		{"bad gateway", http.StatusBadGateway, "", domain.ErrClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mux.NewRouter()
			r.HandleFunc("/updates", func(w http.ResponseWriter, req *http.Request) {
				http.Error(w, tt.body, tt.statusCode)
			})
			srv := httptest.NewServer(r)
			defer srv.Close()

			f := NewFetcher(srv.URL, "", time.Second, logger.NewNop())
			_, err := f.FetchUpdates(context.Background(), "gem-1", time.Now())

			require.Error(t, err)
			assert.Equal(t, tt.wantClass, domain.Classify(err))

			var fe *domain.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.statusCode, fe.StatusCode)
		})
	}
}

func TestFetcher_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close() // refuse connections

	f := NewFetcher(srv.URL, "", 100*time.Millisecond, logger.NewNop())
	_, err := f.FetchUpdates(context.Background(), "gem-1", time.Now())

	require.Error(t, err)
	assert.Equal(t, domain.ErrClassTransient, domain.Classify(err))
}
