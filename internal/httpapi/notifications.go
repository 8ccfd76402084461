package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/internal/notifications"
	"aurora-dashboard/internal/pickup"
	"aurora-dashboard/pkg/logger"
)

const defaultStreamKeepAlive = 25 * time.Second

// store returns the caller's notification store or aborts.
func (h Handlers) store(c *gin.Context) (*notifications.Store, bool) {
	if h.Notifications == nil {
		notConfigured(c, "notifications")
		return nil, false
	}
	id, ok := customerID(c)
	if !ok {
		return nil, false
	}
	s, err := h.Notifications.Store(id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "notifications unavailable"})
		return nil, false
	}
	return s, true
}

func (h Handlers) ListNotifications(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": s.History()})
}

func (h Handlers) CurrentNotification(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	var out *notifications.Notification
	if n, ok := s.Current(); ok {
		out = &n
	}
	c.JSON(http.StatusOK, gin.H{"notification": out})
}

func (h Handlers) ClearCurrentNotification(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	s.ClearCurrent()
	c.Status(http.StatusNoContent)
}

func (h Handlers) RemoveNotification(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return
	}
	if !s.Remove(id) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) ClearNotifications(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	s.ClearAll()
	c.Status(http.StatusNoContent)
}

// StreamNotifications pushes store updates as Server-Sent Events. The first
// event is a snapshot of the current notification.
func (h Handlers) StreamNotifications(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	updates, cancel := s.Updates()
	defer cancel()

	keepAlive := h.StreamKeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultStreamKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	var current *notifications.Notification
	if n, ok := s.Current(); ok {
		current = &n
	}
	c.SSEvent("snapshot", gin.H{"current": current})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case u, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(string(u.Kind), u)
			return true
		case <-ticker.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

type pickupRequest struct {
	CallID string `json:"call_id"`
}

// PickupCall hands the call over to a human. Without a call_id in the body
// the current notification's call is used. A call_id in the body must belong
// to one of the caller's notifications.
func (h Handlers) PickupCall(c *gin.Context) {
	if h.Pickup == nil {
		notConfigured(c, "pickup")
		return
	}
	var req pickupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	s, ok := h.store(c)
	if !ok {
		return
	}
	callID := strings.TrimSpace(req.CallID)
	switch {
	case callID == "":
		if n, ok := s.Current(); ok && n.CallID != nil {
			callID = *n.CallID
		}
	case !notifiedCall(s, callID):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		return
	}

	outcome, err := h.Pickup.Pickup(c.Request.Context(), callID)
	switch {
	case errors.Is(err, pickup.ErrMissingCallID):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no call id available for this notification"})
		return
	case errors.Is(err, pickup.ErrNoTargets):
		notConfigured(c, "pickup webhook")
		return
	case err != nil:
		internalError(c, "pickup", err)
		return
	}

	log := logger.FromGin(c).With("call_id", callID, "outcome", outcome)
	switch outcome {
	case pickup.OutcomeFull:
		c.JSON(http.StatusOK, gin.H{"outcome": outcome, "message": "call picked up"})
	case pickup.OutcomePartial:
		log.Warn("pickup partially delivered")
		c.JSON(http.StatusOK, gin.H{"outcome": outcome, "message": "call picked up, but a webhook failed"})
	default:
		log.Error("pickup not delivered")
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"outcome": outcome, "error": "call pickup failed"})
	}
}

func notifiedCall(s *notifications.Store, callID string) bool {
	for _, n := range s.History() {
		if n.CallID != nil && *n.CallID == callID {
			return true
		}
	}
	return false
}
