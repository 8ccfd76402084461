package rbac

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/internal/auth"
	"aurora-dashboard/internal/customers"
	"aurora-dashboard/pkg/logger"
)

// PlanSource resolves a customer's current plan. customers.Directory satisfies it.
type PlanSource interface {
	Plan(ctx context.Context, customerID int64) (customers.Plan, error)
}

// RequireCustomer enforces the tenancy invariant: customer_id must exist in context.
func RequireCustomer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.CustomerID(c.Request.Context())
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "customer_id required"})
			return
		}
		c.Next()
	}
}

// RefreshPlan replaces the token's plan snapshot with the stored one.
// Lookup failures keep the token plan.
func RefreshPlan(src PlanSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.CustomerID(c.Request.Context())
		if err != nil || src == nil {
			c.Next()
			return
		}
		plan, err := src.Plan(c.Request.Context(), id)
		if err != nil {
			logger.FromGin(c).Warn("plan lookup failed; using token plan", "err", err)
			c.Next()
			return
		}
		c.Request = c.Request.WithContext(auth.WithPlan(c.Request.Context(), string(plan)))
		c.Set("plan", string(plan))
		c.Next()
	}
}

// RequireAnyPlan allows access if the caller's plan is one of allowed.
// Rules:
// - entreprise passes every check
// - no plan is always denied
// - tenancy is enforced via RequireCustomer (use it in the chain)
func RequireAnyPlan(allowed ...customers.Plan) gin.HandlerFunc {
	allowedSet := make(map[customers.Plan]struct{}, len(allowed))
	for _, p := range allowed {
		allowedSet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		plan := customers.NormalizePlan(auth.Plan(c.Request.Context()))
		if plan == customers.PlanNone {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "plan required"})
			return
		}

		if IsTopPlan(plan) {
			c.Next()
			return
		}

		if _, ok := allowedSet[plan]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "plan does not include this feature"})
			return
		}
		c.Next()
	}
}
