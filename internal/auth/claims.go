package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Tenancy invariant: CustomerID must be present on every token; all call data is scoped by it.
// Plan is a snapshot taken at issuance; gated routes re-read it server-side.
type Claims struct {
	jwt.RegisteredClaims

	CustomerID int64     `json:"customer_id"`
	Email      string    `json:"email,omitempty"`
	Plan       string    `json:"plan,omitempty"`
	TokenType  TokenType `json:"token_type"`
}
