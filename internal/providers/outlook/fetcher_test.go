package outlook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/domain"
)

func newTestFetcher(srv *httptest.Server, maxPages int) *Fetcher {
	f := NewFetcher(Options{
		BaseURL:           srv.URL,
		MaxPages:          maxPages,
		PageSize:          2,
		MessageLookback:   7 * 24 * time.Hour,
		CalendarLookback:  7 * 24 * time.Hour,
		CalendarLookahead: 30 * 24 * time.Hour,
		HTTPClient:        srv.Client(),
	})
	f.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestInitialMessagesFetchFollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "odata.maxpagesize=2", r.Header.Get("Prefer"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "/users/me@example.com/mailFolders/inbox/messages/delta", r.URL.Path)
			assert.Equal(t, "receivedDateTime ge 2024-03-03T12:00:00Z", r.URL.Query().Get("$filter"))
			fmt.Fprintf(w, `{"value":[{"id":"m1","internetMessageId":"<1@x>"},{"id":"m2"}],"@odata.nextLink":"%s/next?page=2"}`, srv.URL)
		case "2":
			fmt.Fprintf(w, `{"value":[{"id":"m0","@removed":{"reason":"deleted"}}],"@odata.deltaLink":"%s/delta?token=abc"}`, srv.URL)
		}
	}))
	defer srv.Close()

	page, err := newTestFetcher(srv, 5).FetchPage(context.Background(), "tok", "me@example.com", domain.ResourceMessages, "")
	require.NoError(t, err)

	require.Len(t, page.Records, 3)
	assert.Equal(t, "m1", page.Records[0].ProviderID)
	assert.Equal(t, domain.ProviderOutlook, page.Records[0].Provider)
	assert.JSONEq(t, `{"id":"m1","internetMessageId":"<1@x>"}`, string(page.Records[0].Payload))
	assert.True(t, page.Records[2].Removed)
	assert.Equal(t, srv.URL+"/delta?token=abc", page.NextCursor)
	assert.Empty(t, page.Continuation)
}

func TestStoredCursorIsUsedVerbatim(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/delta", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("token"))
		fmt.Fprint(w, `{"value":[],"@odata.deltaLink":"https://graph.example/delta?token=def"}`)
	}))
	defer srv.Close()

	page, err := newTestFetcher(srv, 5).FetchPage(context.Background(), "tok", "me@example.com", domain.ResourceMessages, srv.URL+"/delta?token=abc")
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, "https://graph.example/delta?token=def", page.NextCursor)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCalendarWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me@example.com/calendarView/delta", r.URL.Path)
		assert.Equal(t, "2024-03-03T12:00:00Z", r.URL.Query().Get("startDateTime"))
		assert.Equal(t, "2024-04-09T12:00:00Z", r.URL.Query().Get("endDateTime"))
		fmt.Fprint(w, `{"value":[{"id":"e1","iCalUId":"uid"}]}`)
	}))
	defer srv.Close()

	page, err := newTestFetcher(srv, 5).FetchPage(context.Background(), "tok", "me@example.com", domain.ResourceCalendar, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, domain.ResourceCalendar, page.Records[0].Resource)
	assert.Empty(t, page.Cursor(), "no delta link means no cursor")
}

func TestPageCapReturnsContinuation(t *testing.T) {
	var srv *httptest.Server
	var hits atomic.Int32
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, `{"value":[{"id":"m%d"}],"@odata.nextLink":"%s/next?page=%d"}`, n, srv.URL, n+1)
	}))
	defer srv.Close()

	page, err := newTestFetcher(srv, 2).FetchPage(context.Background(), "tok", "me@example.com", domain.ResourceMessages, "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, int32(2), hits.Load())
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, srv.URL+"/next?page=3", page.Continuation)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"gone", http.StatusGone, `{"error":{"code":"SyncStateNotFound"}}`, domain.ErrCursorInvalid},
		{"invalid token code", http.StatusBadRequest, `{"error":{"code":"invalidDeltaToken","message":"bad"}}`, domain.ErrCursorInvalid},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken"}}`, domain.ErrUnauthorized},
		{"server error", http.StatusServiceUnavailable, `upstream down`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestFetcher(srv, 5).FetchPage(context.Background(), "tok", "me@example.com", domain.ResourceMessages, srv.URL+"/delta?token=x")
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			assert.NotErrorIs(t, err, domain.ErrCursorInvalid)
			assert.NotErrorIs(t, err, domain.ErrUnauthorized)
			assert.True(t, strings.Contains(err.Error(), "upstream down"))
		})
	}
}
