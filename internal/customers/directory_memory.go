package customers

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// MemoryDirectory is an in-memory Directory for tests and local development.
type MemoryDirectory struct {
	mu        sync.RWMutex
	customers map[int64]memoryCustomer
}

type memoryCustomer struct {
	Customer
	agents       string
	rawPlan      string
	passwordHash []byte
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{customers: make(map[int64]memoryCustomer)}
}

// Put registers a customer. agents is the raw semicolon-delimited field and
// plan is stored as given so normalization applies on read.
func (d *MemoryDirectory) Put(c Customer, password, agents, plan string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[c.ID] = memoryCustomer{Customer: c, agents: agents, rawPlan: plan, passwordHash: hash}
	return nil
}

func (d *MemoryDirectory) AgentIDs(_ context.Context, customerID int64) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ParseAgentIDs(d.customers[customerID].agents)
}

func (d *MemoryDirectory) Plan(_ context.Context, customerID int64) (Plan, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return NormalizePlan(d.customers[customerID].rawPlan), nil
}

func (d *MemoryDirectory) Authenticate(_ context.Context, email, password string) (Customer, error) {
	email = strings.TrimSpace(email)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.customers {
		if !strings.EqualFold(c.Email, email) {
			continue
		}
		if bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password)) != nil {
			return Customer{}, ErrInvalidCredentials
		}
		out := c.Customer
		out.Plan = NormalizePlan(c.rawPlan)
		return out, nil
	}
	return Customer{}, ErrInvalidCredentials
}
