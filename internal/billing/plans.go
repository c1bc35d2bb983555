package billing

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dreamimg/backend/internal/validation"
)

// Plan is one purchasable product and the credits it grants.
type Plan struct {
	PriceID      string `json:"price_id"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Credits      int    `json:"credits"`
	PriceDisplay string `json:"price_display,omitempty"`
	Popular      bool   `json:"popular"`
	Active       bool   `json:"active"`
}

// SchemaValidator checks a raw document against a named JSON schema.
type SchemaValidator interface {
	Validate(name string, raw []byte) error
}

// Catalog maps plan ids to credit grants. It is read-only after load.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

func NewCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{plans: plans, byID: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if _, dup := c.byID[p.PriceID]; dup {
			return nil, fmt.Errorf("duplicate plan %q", p.PriceID)
		}
		c.byID[p.PriceID] = p
	}
	return c, nil
}

// LoadCatalog reads the plan file at path and validates it against the
// plan_catalog schema when v is non-nil.
func LoadCatalog(path string, v SchemaValidator) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog %q: %w", path, err)
	}
	if v != nil {
		if err := v.Validate(validation.SchemaPlanCatalog, data); err != nil {
			return nil, fmt.Errorf("plan catalog %q: %w", path, err)
		}
	}
	var file struct {
		Plans []Plan `json:"plans"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse plan catalog %q: %w", path, err)
	}
	return NewCatalog(file.Plans)
}

// CreditsFor returns the grant for planID. Unknown plans grant nothing.
func (c *Catalog) CreditsFor(planID string) (int, bool) {
	p, ok := c.byID[planID]
	if !ok {
		return 0, false
	}
	return p.Credits, true
}

// Plan looks up a plan by id, active or not.
func (c *Catalog) Plan(planID string) (Plan, bool) {
	p, ok := c.byID[planID]
	return p, ok
}

// Active returns the purchasable plans in file order.
func (c *Catalog) Active() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	return out
}
