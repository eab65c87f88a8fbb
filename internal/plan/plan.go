package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	ErrPlanNotFound   = errors.New("plan not found")
	ErrInvalidCatalog = errors.New("invalid plan catalog")
)

var validate = validator.New()

// Plan is a named offering: a fixed number of days of access for a price.
type Plan struct {
	ID           string          `validate:"required,max=32,excludesall=:0x2C"`
	Title        string          `validate:"max=64"`
	DurationDays int             `validate:"gt=0"`
	Price        decimal.Decimal `validate:"-"`
}

// Label is the human readable name shown in menus.
func (p Plan) Label() string {
	if p.Title != "" {
		return p.Title
	}
	return fmt.Sprintf("%d days", p.DurationDays)
}

// Catalog is the closed, read-only set of plans loaded at startup.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

// NewCatalog validates plans and builds a catalog. An empty catalog, a
// duplicate id, a non-positive duration or a negative price is rejected.
func NewCatalog(plans []Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: no plans defined", ErrInvalidCatalog)
	}

	c := &Catalog{
		plans: make([]Plan, 0, len(plans)),
		byID:  make(map[string]Plan, len(plans)),
	}
	for i, p := range plans {
		p.ID = strings.TrimSpace(p.ID)
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: plan #%d (%q): %v", ErrInvalidCatalog, i+1, p.ID, err)
		}
		if p.Price.IsNegative() {
			return nil, fmt.Errorf("%w: plan %q has negative price %s", ErrInvalidCatalog, p.ID, p.Price)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan id %q", ErrInvalidCatalog, p.ID)
		}
		c.byID[p.ID] = p
		c.plans = append(c.plans, p)
	}
	return c, nil
}

// Lookup returns the plan with the given id.
func (c *Catalog) Lookup(id string) (Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p, nil
}

// All returns the plans in configuration order.
func (c *Catalog) All() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}
