package credits

import (
	"errors"
	"testing"
)

func testPlans() []Plan {
	return []Plan{
		{ID: "starter-monthly", Interval: IntervalMonth, CreditsPerMonth: 100, PriceCents: 900, PriceID: "price_starter_m"},
		{ID: "starter-yearly", Interval: IntervalYear, CreditsPerMonth: 100, PriceCents: 9000, PriceID: "price_starter_y"},
		{ID: "pro-monthly", Interval: IntervalMonth, CreditsPerMonth: 500, PriceCents: 2900, PriceID: "price_pro_m"},
	}
}

func TestNewCatalog(t *testing.T) {
	c, err := NewCatalog(testPlans())
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	p, err := c.Plan("starter-yearly")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if p.Interval != IntervalYear || p.CreditsPerMonth != 100 {
		t.Errorf("unexpected plan: %+v", p)
	}

	p, err = c.PlanByPriceID("price_pro_m")
	if err != nil {
		t.Fatalf("PlanByPriceID failed: %v", err)
	}
	if p.ID != "pro-monthly" {
		t.Errorf("PlanByPriceID = %s, want pro-monthly", p.ID)
	}

	if len(c.Plans()) != 3 {
		t.Errorf("Plans returned %d entries, want 3", len(c.Plans()))
	}
}

func TestNewCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		plans []Plan
	}{
		{name: "empty catalog", plans: nil},
		{
			name: "duplicate plan id",
			plans: []Plan{
				{ID: "p", Interval: IntervalMonth, CreditsPerMonth: 10},
				{ID: "p", Interval: IntervalYear, CreditsPerMonth: 10},
			},
		},
		{
			name: "duplicate price mapping",
			plans: []Plan{
				{ID: "a", Interval: IntervalMonth, CreditsPerMonth: 10, PriceID: "price_x"},
				{ID: "b", Interval: IntervalMonth, CreditsPerMonth: 20, PriceID: "price_x"},
			},
		},
		{
			name:  "zero credit amount",
			plans: []Plan{{ID: "free", Interval: IntervalMonth, CreditsPerMonth: 0}},
		},
		{
			name:  "unknown interval",
			plans: []Plan{{ID: "w", Interval: "week", CreditsPerMonth: 10}},
		},
		{
			name:  "missing id",
			plans: []Plan{{Interval: IntervalMonth, CreditsPerMonth: 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCatalog(tt.plans); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("NewCatalog error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

func TestCatalog_NotFound(t *testing.T) {
	c, err := NewCatalog(testPlans())
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}

	if _, err := c.Plan("enterprise"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("Plan error = %v, want ErrPlanNotFound", err)
	}
	if _, err := c.PlanByPriceID("price_unknown"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("PlanByPriceID error = %v, want ErrPlanNotFound", err)
	}
}
