package services

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/animagenius/animagenius-api/pkg/db"
	"gopkg.in/yaml.v3"
)

const (
	TierFree       = "FREE"
	TierStarter    = "STARTER"
	TierPro        = "PRO"
	TierEnterprise = "ENTERPRISE"
)

//go:embed plans.yaml
var plansYAML []byte

// Plan is a PayPal billing plan offered to users.
type Plan struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Price       string `yaml:"price" json:"price"`
	Currency    string `yaml:"currency" json:"currency"`
	Interval    string `yaml:"interval" json:"billingCycle"`
	Tier        string `yaml:"tier" json:"tier"`
}

// PlanCatalog maps subscription tiers to usage limits and PayPal plans.
type PlanCatalog struct {
	Tiers map[string]db.UsageQuota `yaml:"tiers"`
	Plans []Plan                   `yaml:"plans"`
}

// LoadPlanCatalog parses the embedded catalog.
func LoadPlanCatalog() (*PlanCatalog, error) {
	return ParsePlanCatalog(plansYAML)
}

func ParsePlanCatalog(data []byte) (*PlanCatalog, error) {
	catalog := &PlanCatalog{}
	if err := yaml.Unmarshal(data, catalog); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if _, ok := catalog.Tiers[TierFree]; !ok {
		return nil, fmt.Errorf("plan catalog has no %s tier", TierFree)
	}
	for _, plan := range catalog.Plans {
		if _, ok := catalog.Tiers[plan.Tier]; !ok {
			return nil, fmt.Errorf("plan %s references unknown tier %q", plan.ID, plan.Tier)
		}
	}
	return catalog, nil
}

func (c *PlanCatalog) ValidTier(tier string) bool {
	_, ok := c.Tiers[tier]
	return ok
}

// LimitsForTier returns the quota of a tier. Unknown tiers get FREE limits.
func (c *PlanCatalog) LimitsForTier(tier string) db.UsageQuota {
	if limits, ok := c.Tiers[tier]; ok {
		return limits
	}
	return c.Tiers[TierFree]
}

// FindPlan returns nil for an unknown plan ID.
func (c *PlanCatalog) FindPlan(planID string) *Plan {
	for i := range c.Plans {
		if c.Plans[i].ID == planID {
			return &c.Plans[i]
		}
	}
	return nil
}

// TierNames lists the known tiers in alphabetical order.
func (c *PlanCatalog) TierNames() []string {
	names := make([]string, 0, len(c.Tiers))
	for name := range c.Tiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
