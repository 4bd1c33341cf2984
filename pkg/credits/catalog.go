package credits

import "fmt"

// Catalog is the static, read-only plan reference data. It is built once
// at startup and never mutated, so lookups are safe without locking.
type Catalog struct {
	plans   map[string]Plan
	byPrice map[string]string // provider price ID -> plan ID
}

// NewCatalog validates the given plans and builds lookup indexes.
func NewCatalog(plans []Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: empty catalog", ErrInvalidPlan)
	}

	c := &Catalog{
		plans:   make(map[string]Plan, len(plans)),
		byPrice: make(map[string]string, len(plans)),
	}

	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, ok := c.plans[p.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate plan id %s", ErrInvalidPlan, p.ID)
		}
		c.plans[p.ID] = p

		if p.PriceID != "" {
			if existing, ok := c.byPrice[p.PriceID]; ok {
				return nil, fmt.Errorf("%w: price %s mapped to both %s and %s",
					ErrInvalidPlan, p.PriceID, existing, p.ID)
			}
			c.byPrice[p.PriceID] = p.ID
		}
	}

	return c, nil
}

// Plan returns the catalog entry for a plan ID.
func (c *Catalog) Plan(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p, nil
}

// PlanByPriceID resolves a provider price ID to its plan.
func (c *Catalog) PlanByPriceID(priceID string) (Plan, error) {
	id, ok := c.byPrice[priceID]
	if !ok {
		return Plan{}, fmt.Errorf("%w: price %s", ErrPlanNotFound, priceID)
	}
	return c.plans[id], nil
}

// Plans returns all catalog entries. The returned slice is a copy.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out
}
