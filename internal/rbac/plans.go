package rbac

import "aurora-dashboard/internal/customers"

// Feature tiers. Keep these stable; routes are gated on them.
var (
	// PlansExport may download spreadsheets of the call log.
	PlansExport = []customers.Plan{customers.PlanPro, customers.PlanEntreprise}
	// PlansAny is every paying plan.
	PlansAny = []customers.Plan{customers.PlanBasic, customers.PlanPro, customers.PlanEntreprise}
)

func IsTopPlan(p customers.Plan) bool { return p == customers.PlanEntreprise }
