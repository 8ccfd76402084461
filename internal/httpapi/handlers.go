package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/internal/auth"
	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/callsync"
	"aurora-dashboard/internal/customers"
	"aurora-dashboard/internal/events"
	"aurora-dashboard/internal/notifications"
	"aurora-dashboard/internal/pickup"
	"aurora-dashboard/internal/reporting"
	"aurora-dashboard/internal/synclog"
	"aurora-dashboard/internal/vapi"
	"aurora-dashboard/pkg/logger"
)

// RemoteAPI is the subset of the voice platform client the handlers use.
// *vapi.Client satisfies it.
type RemoteAPI interface {
	ListCalls(ctx context.Context, apiKey string, assistantIDs []string, opts vapi.ListOptions) ([]vapi.Call, error)
	GetCall(ctx context.Context, apiKey, callID string) (vapi.Call, error)
	GetAssistant(ctx context.Context, apiKey, assistantID string) (vapi.Assistant, error)
	ListAssistants(ctx context.Context, apiKey string) ([]vapi.Assistant, error)
}

// SyncRuns lists recorded sync runs. *synclog.Repo satisfies it.
type SyncRuns interface {
	Recent(ctx context.Context, customerID int64, limit int) ([]synclog.Run, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Customers customers.Directory

	Remote    RemoteAPI
	APIKey    string
	PageLimit int

	Calls    calls.Store
	Sync     *callsync.Engine
	SyncRuns SyncRuns
	Stats    *reporting.Service

	Events        *events.Service
	WebhookSecret string

	Notifications *notifications.Hub
	Pickup        *pickup.Service
	// StreamKeepAlive spaces SSE comments on idle streams.
	StreamKeepAlive time.Duration

	// Ready reports backing store health for /healthz. Nil means always healthy.
	Ready func(ctx context.Context) error

	Clock func() time.Time
}

func (h Handlers) Healthz(c *gin.Context) {
	if h.Ready != nil {
		if err := h.Ready(c.Request.Context()); err != nil {
			logger.FromGin(c).Warn("health check failed", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// customerID reads the authenticated customer or aborts with 401.
func customerID(c *gin.Context) (int64, bool) {
	id, err := auth.CustomerID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "customer_id required"})
		return 0, false
	}
	return id, true
}

// remoteError maps voice platform failures to responses. Credential and
// transport problems are ours, not the caller's, so they surface as 502.
func remoteError(c *gin.Context, op string, err error) {
	log := logger.FromGin(c)
	switch {
	case errors.Is(err, vapi.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, vapi.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, vapi.ErrAuth):
		log.Error(op+" failed: voice platform rejected credentials", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "voice platform rejected credentials"})
	case errors.Is(err, context.Canceled):
		c.Abort()
	default:
		log.Error(op+" failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "voice platform unavailable"})
	}
}

func internalError(c *gin.Context, op string, err error) {
	logger.FromGin(c).Error(op+" failed", "err", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": what + " not configured"})
}
