// Package httpapi is the HTTP surface: health, manual sync trigger and a
// read-out of the run ledger.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/domain"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// SyncTrigger starts background syncs.
type SyncTrigger interface {
	Trigger(ctx context.Context, connectionID string) error
	GetRunningSyncs() []string
}

// RunReader reads the run ledger.
type RunReader interface {
	GetConnection(ctx context.Context, id string) (domain.Connection, error)
	ListRuns(ctx context.Context, connectionID string, limit int) ([]domain.Run, error)
}

// Server holds the route dependencies. Verifier may be nil, in which case
// the trigger routes are open.
type Server struct {
	Syncs    SyncTrigger
	Runs     RunReader
	Verifier auth.Verifier
	Logger   *slog.Logger
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authorized := r.Group("/")
	if s.Verifier != nil {
		authorized.Use(authMiddleware(s.Verifier))
	}
	authorized.POST("/sync/:connectionId", s.triggerSync)
	authorized.GET("/sync/running", s.runningSyncs)
	authorized.GET("/connections/:connectionId/runs", s.listRuns)
	return r
}

func (s *Server) triggerSync(c *gin.Context) {
	id := c.Param("connectionId")
	err := s.Syncs.Trigger(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"connection_id": id, "status": "accepted"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
	case errors.Is(err, domain.ErrSyncInProgress), errors.Is(err, domain.ErrConnectionInactive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("failed to trigger sync", "connection_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start sync"})
	}
}

func (s *Server) runningSyncs(c *gin.Context) {
	running := s.Syncs.GetRunningSyncs()
	if running == nil {
		running = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"running": running})
}

func (s *Server) listRuns(c *gin.Context) {
	id := c.Param("connectionId")
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	if _, err := s.Runs.GetConnection(c.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	runs, err := s.Runs.ListRuns(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	c.JSON(http.StatusOK, runs)
}

func authMiddleware(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		principal, err := v.PrincipalFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("subject", principal.Subject)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.Logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"subject", c.GetString("subject"))
	}
}
