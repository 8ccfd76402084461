package customers

import (
	"errors"
	"strings"
	"time"
)

type Plan string

const (
	PlanNone       Plan = ""
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEntreprise Plan = "entreprise"
)

var ErrInvalidCredentials = errors.New("customers: invalid email or password")

// Customer is owned by customer management; this service only reads it.
type Customer struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Plan      Plan      `json:"plan,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizePlan lowercases and trims raw, returning PlanNone for anything unknown.
func NormalizePlan(raw string) Plan {
	switch p := Plan(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlanBasic, PlanPro, PlanEntreprise:
		return p
	default:
		return PlanNone
	}
}

// ParseAgentIDs splits the semicolon-delimited agents field, dropping blanks.
func ParseAgentIDs(raw string) []string {
	out := make([]string, 0)
	for _, tok := range strings.Split(raw, ";") {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
