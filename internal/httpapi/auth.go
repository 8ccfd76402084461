package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aurora-dashboard/internal/auth"
	"aurora-dashboard/internal/customers"
	"aurora-dashboard/pkg/logger"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login checks customer credentials and issues a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || h.Customers == nil {
		notConfigured(c, "auth")
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	cust, err := h.Customers.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, customers.ErrInvalidCredentials) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if err != nil {
		internalError(c, "authentication", err)
		return
	}

	pair, err := h.Auth.IssuePair(h.now(), cust.ID, cust.Email, string(cust.Plan))
	if err != nil {
		internalError(c, "token issuance", err)
		return
	}
	logger.FromGin(c).Info("customer logged in", "customer_id", cust.ID)
	c.JSON(http.StatusOK, gin.H{"tokens": pair, "customer": cust})
}

// Refresh exchanges a refresh token for a new pair with the current plan.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil || h.Customers == nil {
		notConfigured(c, "auth")
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(strings.TrimSpace(req.RefreshToken), auth.TokenTypeRefresh, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	plan, err := h.Customers.Plan(c.Request.Context(), claims.CustomerID)
	if err != nil {
		logger.FromGin(c).Warn("plan lookup failed during refresh", "customer_id", claims.CustomerID, "err", err)
	}
	pair, err := h.Auth.IssuePair(h.now(), claims.CustomerID, claims.Email, string(plan))
	if err != nil {
		internalError(c, "token issuance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": pair})
}

func (h Handlers) Me(c *gin.Context) {
	id, ok := customerID(c)
	if !ok {
		return
	}
	email, _ := auth.Email(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"customer_id": id, "email": email, "plan": auth.Plan(c.Request.Context())})
}

// GetPlan reports the stored plan; an unknown or absent plan is null.
func (h Handlers) GetPlan(c *gin.Context) {
	if h.Customers == nil {
		notConfigured(c, "customers")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	plan, err := h.Customers.Plan(c.Request.Context(), id)
	if err != nil {
		internalError(c, "plan lookup", err)
		return
	}
	var out *customers.Plan
	if plan != customers.PlanNone {
		out = &plan
	}
	c.JSON(http.StatusOK, gin.H{"plan": out})
}

func (h Handlers) GetAgents(c *gin.Context) {
	if h.Customers == nil {
		notConfigured(c, "customers")
		return
	}
	id, ok := customerID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_ids": h.Customers.AgentIDs(c.Request.Context(), id)})
}
