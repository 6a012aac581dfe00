package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/domain"
)

type fakeSyncs struct {
	err       error
	triggered []string
}

func (f *fakeSyncs) Trigger(ctx context.Context, connectionID string) error {
	f.triggered = append(f.triggered, connectionID)
	return f.err
}

func (f *fakeSyncs) GetRunningSyncs() []string { return nil }

type fakeRuns struct {
	runs      []domain.Run
	lastLimit int
}

func (f *fakeRuns) GetConnection(ctx context.Context, id string) (domain.Connection, error) {
	if id != "conn-1" {
		return domain.Connection{}, domain.ErrNotFound
	}
	return domain.Connection{ID: id}, nil
}

func (f *fakeRuns) ListRuns(ctx context.Context, connectionID string, limit int) ([]domain.Run, error) {
	f.lastLimit = limit
	return f.runs, nil
}

type fakeVerifier struct{}

func (fakeVerifier) PrincipalFromRequest(r *http.Request) (*auth.Principal, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return nil, errors.New("invalid token")
	}
	return &auth.Principal{Subject: "user-1"}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(syncs *fakeSyncs, runs *fakeRuns, v auth.Verifier) *gin.Engine {
	s := &Server{Syncs: syncs, Runs: runs, Verifier: v, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	return s.Router()
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := do(newServer(&fakeSyncs{}, &fakeRuns{}, fakeVerifier{}), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerSyncStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"unknown connection", domain.ErrNotFound, http.StatusNotFound},
		{"already running", domain.ErrSyncInProgress, http.StatusConflict},
		{"inactive connection", fmt.Errorf("connection conn-1 is error: %w", domain.ErrConnectionInactive), http.StatusConflict},
		{"setup failure", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncs := &fakeSyncs{err: tt.err}
			w := do(newServer(syncs, &fakeRuns{}, nil), http.MethodPost, "/sync/conn-1", "")
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, []string{"conn-1"}, syncs.triggered)
		})
	}
}

func TestTriggerRequiresTokenWhenVerifierSet(t *testing.T) {
	syncs := &fakeSyncs{}
	r := newServer(syncs, &fakeRuns{}, fakeVerifier{})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/sync/conn-1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/sync/conn-1", "bad").Code)
	assert.Empty(t, syncs.triggered)

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/sync/conn-1", "good").Code)
}

func TestListRuns(t *testing.T) {
	finished := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	runs := &fakeRuns{runs: []domain.Run{{
		ID:           "run-1",
		ConnectionID: "conn-1",
		Status:       domain.RunSuccess,
		StartedAt:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		FinishedAt:   &finished,
		Counts:       domain.Counts{Processed: 3, Created: 3},
	}}}
	r := newServer(&fakeSyncs{}, runs, nil)

	w := do(r, http.MethodGet, "/connections/conn-1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, runs.lastLimit)

	var got []domain.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Counts.Created)

	do(r, http.MethodGet, "/connections/conn-1/runs?limit=5000", "")
	assert.Equal(t, maxRunLimit, runs.lastLimit)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/connections/conn-1/runs?limit=x", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/connections/nope/runs", "").Code)
}

func TestRunningSyncsIsNeverNull(t *testing.T) {
	w := do(newServer(&fakeSyncs{}, &fakeRuns{}, nil), http.MethodGet, "/sync/running", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"running":[]}`, w.Body.String())
}
