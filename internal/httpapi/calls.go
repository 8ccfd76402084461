package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/internal/calls"
	"aurora-dashboard/internal/vapi"
	"aurora-dashboard/pkg/logger"
)

const (
	maxListLimit   = 500
	maxExportLimit = 10000
	defaultRuns    = 20
	xlsxMediaType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// queryLimit parses ?limit=, falling back to def and clamping to max.
func queryLimit(c *gin.Context, def, max int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return min(n, max), true
}

// ListCalls returns stored call logs, newest first.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "call store")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, calls.DefaultQueryLimit, maxListLimit)
	if !ok {
		return
	}
	logs, err := h.Calls.Query(c.Request.Context(), id, limit)
	if errors.Is(err, calls.ErrRelationMissing) {
		logger.FromGin(c).Warn("call_logs relation missing; returning no calls")
		logs = nil
	} else if err != nil {
		internalError(c, "call query", err)
		return
	}
	if logs == nil {
		logs = []calls.CallLog{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": logs})
}

// GetCall returns the remote detail of one of the customer's calls with its
// tool invocations.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Remote == nil || h.Customers == nil {
		notConfigured(c, "voice platform")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	call, err := h.Remote.GetCall(c.Request.Context(), h.APIKey, c.Param("id"))
	if err != nil {
		remoteError(c, "get call", err)
		return
	}
	// Calls of assistants the customer does not own are reported as missing.
	if !slices.Contains(h.Customers.AgentIDs(c.Request.Context(), id), call.AssistantID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "tool_calls": vapi.ToolCalls(call)})
}

// ExportCalls streams the stored call log as a spreadsheet.
func (h Handlers) ExportCalls(c *gin.Context) {
	if h.Calls == nil {
		notConfigured(c, "call store")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, maxExportLimit, maxExportLimit)
	if !ok {
		return
	}
	logs, err := h.Calls.Query(c.Request.Context(), id, limit)
	if err != nil && !errors.Is(err, calls.ErrRelationMissing) {
		internalError(c, "call query", err)
		return
	}

	var buf bytes.Buffer
	if err := calls.WriteXLSX(&buf, logs); err != nil {
		internalError(c, "export", err)
		return
	}
	name := fmt.Sprintf("calls-%d-%s.xlsx", id, h.now().UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxMediaType, buf.Bytes())
}

// SyncCalls runs a manual sync. The engine's OnSynced hook invalidates cached stats.
func (h Handlers) SyncCalls(c *gin.Context) {
	if h.Sync == nil {
		notConfigured(c, "sync")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	res, err := h.Sync.Sync(c.Request.Context(), h.APIKey, id)
	if err != nil {
		remoteError(c, "sync", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) HasNewCalls(c *gin.Context) {
	if h.Sync == nil {
		notConfigured(c, "sync")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_new_calls": h.Sync.HasNewCalls(c.Request.Context(), h.APIKey, id)})
}

func (h Handlers) ListSyncRuns(c *gin.Context) {
	if h.SyncRuns == nil {
		notConfigured(c, "sync history")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	limit, ok := queryLimit(c, defaultRuns, maxListLimit)
	if !ok {
		return
	}
	runs, err := h.SyncRuns.Recent(c.Request.Context(), id, limit)
	if err != nil {
		internalError(c, "sync history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
