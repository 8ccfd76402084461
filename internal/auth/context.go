package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxCustomerID ctxKey = iota
	ctxEmail
	ctxPlan
)

func WithIdentity(ctx context.Context, customerID int64, email, plan string) context.Context {
	ctx = context.WithValue(ctx, ctxCustomerID, customerID)
	ctx = context.WithValue(ctx, ctxEmail, email)
	ctx = context.WithValue(ctx, ctxPlan, plan)
	return ctx
}

// WithPlan replaces the plan, e.g. after a fresh lookup.
func WithPlan(ctx context.Context, plan string) context.Context {
	return context.WithValue(ctx, ctxPlan, plan)
}

func CustomerID(ctx context.Context) (int64, error) {
	v := ctx.Value(ctxCustomerID)
	if id, ok := v.(int64); ok && id > 0 {
		return id, nil
	}
	return 0, errors.New("customer_id not in context")
}

func Email(ctx context.Context) (string, error) {
	v := ctx.Value(ctxEmail)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("email not in context")
}

// Plan returns the caller's plan; an empty plan is valid and means none.
func Plan(ctx context.Context) string {
	s, _ := ctx.Value(ctxPlan).(string)
	return s
}
