package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aurora-dashboard/internal/httpapi"
	"aurora-dashboard/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, plans rbac.PlanSource, metrics http.Handler) {
	// public
	r.GET("/healthz", h.Healthz)
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metrics))

	// Voice platform / automation webhooks (shared secret).
	r.POST("/webhooks/events", httpapi.RequireWebhookSecret(h.WebhookSecret), h.IngestEvent)

	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// protected API group
	api := v1.Group("")
	api.Use(authMW, rbac.RequireCustomer())
	{
		api.GET("/me", h.Me)

		customer := api.Group("/customer")
		{
			customer.GET("/plan", h.GetPlan)
			customer.GET("/agents", h.GetAgents)
		}

		// CALLS routes
		calls := api.Group("/calls")
		{
			calls.GET("", h.ListCalls)
			// Spreadsheet export is a paid feature; the plan is re-read on every request.
			calls.GET("/export.xlsx", rbac.RefreshPlan(plans), rbac.RequireAnyPlan(rbac.PlansExport...), h.ExportCalls)
			calls.POST("/sync", h.SyncCalls)
			calls.GET("/sync/has-new", h.HasNewCalls)
			calls.GET("/sync/runs", h.ListSyncRuns)
			calls.GET("/:id", h.GetCall)
		}

		// STATS routes
		stats := api.Group("/stats")
		{
			stats.GET("", h.GetStats)
			stats.GET("/remote", h.GetRemoteStats)
		}

		// ASSISTANTS routes
		assistants := api.Group("/assistants")
		{
			assistants.GET("", h.ListAssistants)
			assistants.GET("/:id", h.GetAssistant)
		}

		// NOTIFICATIONS routes
		notes := api.Group("/notifications")
		{
			notes.GET("", h.ListNotifications)
			notes.DELETE("", h.ClearNotifications)
			notes.GET("/current", h.CurrentNotification)
			notes.DELETE("/current", h.ClearCurrentNotification)
			notes.GET("/stream", h.StreamNotifications)
			notes.POST("/pickup", h.PickupCall)
			notes.DELETE("/:id", h.RemoveNotification)
		}
	}
}
