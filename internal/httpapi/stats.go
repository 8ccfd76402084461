package httpapi

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/internal/reporting"
	"aurora-dashboard/internal/vapi"
)

// GetStats serves the cached dashboard counters (stale-while-revalidate).
func (h Handlers) GetStats(c *gin.Context) {
	if h.Stats == nil {
		notConfigured(c, "stats")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	resp, err := h.Stats.GetStatsCached(c.Request.Context(), id)
	if errors.Is(err, reporting.ErrRefreshInFlight) {
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "stats are being computed"})
		return
	}
	if err != nil {
		internalError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetRemoteStats totals the customer's calls straight from the voice platform.
func (h Handlers) GetRemoteStats(c *gin.Context) {
	if h.Remote == nil || h.Customers == nil || h.Stats == nil {
		notConfigured(c, "voice platform")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	agents := h.Customers.AgentIDs(c.Request.Context(), id)
	if len(agents) == 0 {
		c.JSON(http.StatusOK, reporting.CallsSummary{})
		return
	}
	remote, err := h.Remote.ListCalls(c.Request.Context(), h.APIKey, agents, vapi.ListOptions{Limit: h.PageLimit})
	if err != nil {
		remoteError(c, "list remote calls", err)
		return
	}
	c.JSON(http.StatusOK, h.Stats.CallsSummary(c.Request.Context(), remote))
}

// ListAssistants returns the assistants the customer owns.
func (h Handlers) ListAssistants(c *gin.Context) {
	if h.Remote == nil || h.Customers == nil {
		notConfigured(c, "voice platform")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	agents := h.Customers.AgentIDs(c.Request.Context(), id)
	out := []vapi.Assistant{}
	if len(agents) > 0 {
		all, err := h.Remote.ListAssistants(c.Request.Context(), h.APIKey)
		if err != nil {
			remoteError(c, "list assistants", err)
			return
		}
		for _, a := range all {
			if slices.Contains(agents, a.ID) {
				out = append(out, a)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"assistants": out})
}

func (h Handlers) GetAssistant(c *gin.Context) {
	if h.Remote == nil || h.Customers == nil {
		notConfigured(c, "voice platform")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	assistantID := c.Param("id")
	if !slices.Contains(h.Customers.AgentIDs(c.Request.Context(), id), assistantID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	a, err := h.Remote.GetAssistant(c.Request.Context(), h.APIKey, assistantID)
	if err != nil {
		remoteError(c, "get assistant", err)
		return
	}
	c.JSON(http.StatusOK, a)
}
