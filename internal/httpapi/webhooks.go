package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/internal/events"
	"aurora-dashboard/pkg/logger"
)

const webhookSecretHeader = "X-Webhook-Secret"

type ingestEventRequest struct {
	CustomerID int64           `json:"customer_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	CallID     *string         `json:"call_id"`
	CallType   *string         `json:"call_type"`
}

// RequireWebhookSecret guards ingestion with a shared secret. An empty secret
// disables the check (non-production only; config enforces it in production).
func RequireWebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

// IngestEvent appends a webhook event; the change feed fans it out to the
// customer's listeners.
func (h Handlers) IngestEvent(c *gin.Context) {
	if h.Events == nil {
		notConfigured(c, "events")
		return
	}
	var req ingestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	e, err := h.Events.Append(c.Request.Context(), events.Event{
		CustomerID: req.CustomerID,
		EventType:  req.EventType,
		Payload:    req.Payload,
		CallID:     req.CallID,
		CallType:   req.CallType,
	})
	if errors.Is(err, events.ErrInvalidEvent) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "customer_id and event_type required"})
		return
	}
	if err != nil {
		internalError(c, "event ingestion", err)
		return
	}
	logger.FromGin(c).Info("webhook event stored", "customer_id", e.CustomerID, "event_id", e.ID, "event_type", e.EventType)
	c.JSON(http.StatusCreated, e)
}
