package customers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"aurora-dashboard/pkg/logger"
	"aurora-dashboard/pkg/utils"
)

// Directory answers customer lookups for the rest of the service.
type Directory interface {
	// AgentIDs never fails: a customer without agents (or an unprovisioned
	// lookup function) yields an empty list.
	AgentIDs(ctx context.Context, customerID int64) []string
	Plan(ctx context.Context, customerID int64) (Plan, error)
	Authenticate(ctx context.Context, email, password string) (Customer, error)
}

// PostgresDirectory resolves customers through the backend RPC functions
// get_customer_agents, get_customer_plan and authenticate_customer.
type PostgresDirectory struct {
	db  *sql.DB
	log *slog.Logger
}

func NewPostgresDirectory(db *sql.DB, log *slog.Logger) *PostgresDirectory {
	return &PostgresDirectory{db: db, log: logger.OrDefault(log)}
}

func (d *PostgresDirectory) AgentIDs(ctx context.Context, customerID int64) []string {
	var raw sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT get_customer_agents($1)`, customerID).Scan(&raw)
	switch {
	case err == nil:
	case utils.HasPGCode(err, utils.PGUndefinedFunction):
		d.log.Error("get_customer_agents is not installed; run migrations", "customer_id", customerID)
		return []string{}
	default:
		d.log.Error("resolve agent ids failed", "customer_id", customerID, "err", err)
		return []string{}
	}
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		d.log.Warn("customer has no agents configured", "customer_id", customerID)
		return []string{}
	}
	return ParseAgentIDs(raw.String)
}

func (d *PostgresDirectory) Plan(ctx context.Context, customerID int64) (Plan, error) {
	var raw sql.NullString
	err := d.db.QueryRowContext(ctx, `SELECT get_customer_plan($1)`, customerID).Scan(&raw)
	if utils.HasPGCode(err, utils.PGUndefinedFunction) {
		d.log.Warn("get_customer_plan is not installed; reading customers directly", "customer_id", customerID)
		err = d.db.QueryRowContext(ctx, `SELECT plan FROM customers WHERE id = $1`, customerID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return PlanNone, nil
		}
	}
	if err != nil {
		return PlanNone, fmt.Errorf("customers: plan: %w", err)
	}
	if !raw.Valid {
		return PlanNone, nil
	}
	return NormalizePlan(raw.String), nil
}

func (d *PostgresDirectory) Authenticate(ctx context.Context, email, password string) (Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Customer{}, ErrInvalidCredentials
	}
	const q = `SELECT id, COALESCE(email, ''), COALESCE(company, ''), COALESCE(plan, ''), created_at FROM authenticate_customer($1, $2)`
	var (
		c    Customer
		plan string
	)
	err := d.db.QueryRowContext(ctx, q, email, password).Scan(&c.ID, &c.Email, &c.Company, &plan, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrInvalidCredentials
	}
	if err != nil {
		return Customer{}, fmt.Errorf("customers: authenticate: %w", err)
	}
	c.Plan = NormalizePlan(plan)
	return c, nil
}
