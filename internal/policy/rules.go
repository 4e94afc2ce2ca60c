package policy

import (
	"fmt"

	"supplychain-orchestrator/internal/models"
)

// Domain groups rules by the kind of subject they apply to.
type Domain string

const (
	DomainProcurement Domain = "procurement"
	DomainShipment    Domain = "shipment"
	DomainSupplier    Domain = "supplier"
	DomainRisk        Domain = "risk"
	DomainFinancial   Domain = "financial"
)

// ThresholdKind describes the unit of a rule threshold. It is informational only.
type ThresholdKind string

const (
	ThresholdMonetary   ThresholdKind = "monetary"
	ThresholdTime       ThresholdKind = "time"
	ThresholdPercentage ThresholdKind = "percentage"
	ThresholdCount      ThresholdKind = "count"
	ThresholdScore      ThresholdKind = "score"
)

// ConditionKind is the closed set of rule condition shapes.
type ConditionKind string

const (
	// ConditionThreshold compares Field against the rule threshold.
	ConditionThreshold ConditionKind = "threshold"
	// ConditionGuarded additionally requires GuardField to equal GuardValue.
	ConditionGuarded ConditionKind = "guarded"
)

// Operator compares a numeric field against a threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

func (op Operator) compare(value, threshold float64) (bool, error) {
	switch op {
	case OpGreater:
		return value > threshold, nil
	case OpLess:
		return value < threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// Condition is one of the closed condition kinds.
type Condition struct {
	Kind       ConditionKind `yaml:"kind" json:"kind"`
	Field      Field         `yaml:"field" json:"field"`
	Op         Operator      `yaml:"op" json:"op"`
	GuardField Field         `yaml:"guard_field,omitempty" json:"guard_field,omitempty"`
	GuardValue string        `yaml:"guard_value,omitempty" json:"guard_value,omitempty"`
}

// Above builds a threshold condition that fires when field exceeds the threshold.
func Above(f Field) Condition { return Condition{Kind: ConditionThreshold, Field: f, Op: OpGreater} }

// Below builds a threshold condition that fires when field is under the threshold.
func Below(f Field) Condition { return Condition{Kind: ConditionThreshold, Field: f, Op: OpLess} }

// AboveWhen builds a guarded condition.
func AboveWhen(guard Field, value string, f Field) Condition {
	return Condition{Kind: ConditionGuarded, Field: f, Op: OpGreater, GuardField: guard, GuardValue: value}
}

// Validate checks the condition against the closed kind, field and operator sets.
func (c Condition) Validate() error {
	if !c.Field.Numeric() {
		return fmt.Errorf("condition field %q must be a known numeric field", c.Field)
	}
	if _, err := c.Op.compare(0, 0); err != nil {
		return err
	}
	switch c.Kind {
	case ConditionThreshold:
		if c.GuardField != "" {
			return fmt.Errorf("threshold condition cannot carry guard %q", c.GuardField)
		}
	case ConditionGuarded:
		if !c.GuardField.Known() || c.GuardField.Numeric() {
			return fmt.Errorf("guard field %q must be a known text field", c.GuardField)
		}
		if c.GuardValue == "" {
			return fmt.Errorf("guarded condition on %q needs a guard value", c.GuardField)
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// Rule is a named threshold predicate with its approval metadata.
type Rule struct {
	Name            string          `yaml:"name" json:"name"`
	Domain          Domain          `yaml:"domain" json:"domain"`
	Condition       Condition       `yaml:"condition" json:"condition"`
	Threshold       float64         `yaml:"threshold" json:"threshold"`
	ThresholdKind   ThresholdKind   `yaml:"threshold_kind" json:"threshold_kind"`
	RequiredRole    models.Role     `yaml:"required_role" json:"required_role"`
	Priority        models.Severity `yaml:"priority" json:"priority"`
	EscalationHours int             `yaml:"escalation_hours" json:"escalation_hours"`
	AutoApprove     bool            `yaml:"auto_approve" json:"auto_approve"`
	Description     string          `yaml:"description" json:"description"`
}

// Validate rejects rules outside the closed sets.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name required")
	}
	switch r.Domain {
	case DomainProcurement, DomainShipment, DomainSupplier, DomainRisk, DomainFinancial:
	default:
		return fmt.Errorf("rule %s: unknown domain %q", r.Name, r.Domain)
	}
	switch r.ThresholdKind {
	case ThresholdMonetary, ThresholdTime, ThresholdPercentage, ThresholdCount, ThresholdScore:
	default:
		return fmt.Errorf("rule %s: unknown threshold kind %q", r.Name, r.ThresholdKind)
	}
	if r.RequiredRole.Rank() == 0 {
		return fmt.Errorf("rule %s: unknown role %q", r.Name, r.RequiredRole)
	}
	if r.Priority.Rank() == 0 {
		return fmt.Errorf("rule %s: unknown priority %q", r.Name, r.Priority)
	}
	if r.EscalationHours < 0 {
		return fmt.Errorf("rule %s: negative escalation hours", r.Name)
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return nil
}

// RuleSet is an ordered rule table.
type RuleSet []Rule

// ByDomain returns the rules of d in table order.
func (rs RuleSet) ByDomain(d Domain) []Rule {
	var out []Rule
	for _, r := range rs {
		if r.Domain == d {
			out = append(out, r)
		}
	}
	return out
}

// Lookup finds a rule by name.
func (rs RuleSet) Lookup(name string) (Rule, bool) {
	for _, r := range rs {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// Validate checks every rule and rejects duplicate names.
func (rs RuleSet) Validate() error {
	seen := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate rule %s", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// DefaultRules is the built-in rule table used when no rule file is configured.
func DefaultRules() RuleSet {
	return RuleSet{
		{
			Name: "high_value_procurement", Domain: DomainProcurement,
			Condition: Above(FieldPurchaseAmount), Threshold: 50000, ThresholdKind: ThresholdMonetary,
			RequiredRole: models.RoleDirector, Priority: models.SeverityHigh, EscalationHours: 24,
			Description: "High-value procurement requires director approval",
		},
		{
			Name: "emergency_procurement", Domain: DomainProcurement,
			Condition: AboveWhen(FieldUrgency, "emergency", FieldPurchaseAmount), Threshold: 25000, ThresholdKind: ThresholdMonetary,
			RequiredRole: models.RoleManager, Priority: models.SeverityCritical, EscalationHours: 4,
			Description: "Emergency procurement above threshold requires immediate approval",
		},
		{
			Name: "new_supplier_procurement", Domain: DomainProcurement,
			Condition: Below(FieldSupplierRelationshipAge), Threshold: 90, ThresholdKind: ThresholdTime,
			RequiredRole: models.RoleManager, Priority: models.SeverityMedium, EscalationHours: 48,
			Description: "Procurement from new suppliers requires approval",
		},
		{
			Name: "cost_increase_procurement", Domain: DomainProcurement,
			Condition: Above(FieldCostIncreasePercent), Threshold: 15, ThresholdKind: ThresholdPercentage,
			RequiredRole: models.RoleManager, Priority: models.SeverityMedium, EscalationHours: 24,
			Description: "Significant cost increases require approval",
		},
		{
			Name: "high_risk_route", Domain: DomainShipment,
			Condition: Above(FieldRouteRiskScore), Threshold: 7.5, ThresholdKind: ThresholdScore,
			RequiredRole: models.RoleManager, Priority: models.SeverityHigh, EscalationHours: 8,
			Description: "High-risk shipping routes require approval",
		},
		{
			Name: "route_deviation", Domain: DomainShipment,
			Condition: Above(FieldRouteDeviationPercent), Threshold: 20, ThresholdKind: ThresholdPercentage,
			RequiredRole: models.RoleAnalyst, Priority: models.SeverityMedium, EscalationHours: 12,
			Description: "Significant route deviations require approval",
		},
		{
			Name: "high_value_shipment", Domain: DomainShipment,
			Condition: Above(FieldCargoValue), Threshold: 100000, ThresholdKind: ThresholdMonetary,
			RequiredRole: models.RoleManager, Priority: models.SeverityHigh, EscalationHours: 24,
			Description: "High-value shipments require enhanced approval",
		},
		{
			Name: "expedited_shipping", Domain: DomainShipment,
			Condition: AboveWhen(FieldShippingMode, "expedited", FieldCostPremium), Threshold: 5000, ThresholdKind: ThresholdMonetary,
			RequiredRole: models.RoleAnalyst, Priority: models.SeverityMedium, EscalationHours: 6,
			Description: "Expensive expedited shipping requires approval",
		},
		{
			Name: "supplier_risk_rating", Domain: DomainSupplier,
			Condition: Above(FieldRiskRatingScore), Threshold: 6, ThresholdKind: ThresholdScore,
			RequiredRole: models.RoleDirector, Priority: models.SeverityHigh, EscalationHours: 48,
			Description: "High-risk suppliers require senior approval",
		},
		{
			Name: "supplier_financial_distress", Domain: DomainSupplier,
			Condition: Below(FieldFinancialHealthScore), Threshold: 3, ThresholdKind: ThresholdScore,
			RequiredRole: models.RoleManager, Priority: models.SeverityCritical, EscalationHours: 24,
			Description: "Financially distressed suppliers require immediate review",
		},
		{
			Name: "supplier_performance_decline", Domain: DomainSupplier,
			Condition: Below(FieldPerformanceTrendPercent), Threshold: -25, ThresholdKind: ThresholdPercentage,
			RequiredRole: models.RoleAnalyst, Priority: models.SeverityMedium, EscalationHours: 72,
			Description: "Declining supplier performance requires review",
		},
		{
			Name: "critical_risk_level", Domain: DomainRisk,
			Condition: Above(FieldRiskScore), Threshold: 8.5, ThresholdKind: ThresholdScore,
			RequiredRole: models.RoleDirector, Priority: models.SeverityCritical, EscalationHours: 2,
			Description: "Critical risk levels require immediate escalation",
		},
		{
			Name: "multiple_risk_factors", Domain: DomainRisk,
			Condition: Above(FieldActiveRiskCount), Threshold: 3, ThresholdKind: ThresholdCount,
			RequiredRole: models.RoleManager, Priority: models.SeverityHigh, EscalationHours: 12,
			Description: "Multiple concurrent risks require management review",
		},
		{
			Name: "budget_variance", Domain: DomainFinancial,
			Condition: Above(FieldBudgetVariancePercent), Threshold: 20, ThresholdKind: ThresholdPercentage,
			RequiredRole: models.RoleDirector, Priority: models.SeverityHigh, EscalationHours: 24,
			Description: "Significant budget variances require approval",
		},
		{
			Name: "cost_avoidance_opportunity", Domain: DomainFinancial,
			Condition: Above(FieldPotentialSavings), Threshold: 10000, ThresholdKind: ThresholdMonetary,
			RequiredRole: models.RoleManager, Priority: models.SeverityMedium, EscalationHours: 48,
			Description: "Significant cost savings opportunities require review",
		},
	}
}
