package policy

import (
	"fmt"

	"supplychain-orchestrator/internal/models"
)

// Field names a value a rule can read from an evaluation context.
type Field string

const (
	FieldPurchaseAmount          Field = "purchase_amount"
	FieldUrgency                 Field = "urgency"
	FieldSupplierRelationshipAge Field = "supplier_relationship_age"
	FieldCostIncreasePercent     Field = "cost_increase_percent"
	FieldBudgetVariancePercent   Field = "budget_variance_percent"
	FieldPotentialSavings        Field = "potential_savings"
	FieldCargoValue              Field = "cargo_value"
	FieldRouteRiskScore          Field = "route_risk_score"
	FieldRouteDeviationPercent   Field = "route_deviation_percent"
	FieldShippingMode            Field = "shipping_mode"
	FieldCostPremium             Field = "cost_premium"
	FieldRiskScore               Field = "risk_score"
	FieldActiveRiskCount         Field = "active_risk_count"
	FieldRiskRatingScore         Field = "risk_rating_score"
	FieldFinancialHealthScore    Field = "financial_health_score"
	FieldPerformanceTrendPercent Field = "performance_trend_percent"
)

type fieldKind int

const (
	numericField fieldKind = iota
	textField
)

type fieldSpec struct {
	kind        fieldKind
	numDefault  float64
	textDefault string
}

var fieldSpecs = map[Field]fieldSpec{
	FieldPurchaseAmount:          {kind: numericField},
	FieldUrgency:                 {kind: textField, textDefault: "normal"},
	FieldSupplierRelationshipAge: {kind: numericField, numDefault: 365},
	FieldCostIncreasePercent:     {kind: numericField},
	FieldBudgetVariancePercent:   {kind: numericField},
	FieldPotentialSavings:        {kind: numericField},
	FieldCargoValue:              {kind: numericField},
	FieldRouteRiskScore:          {kind: numericField},
	FieldRouteDeviationPercent:   {kind: numericField},
	FieldShippingMode:            {kind: textField, textDefault: "standard"},
	FieldCostPremium:             {kind: numericField},
	FieldRiskScore:               {kind: numericField},
	FieldActiveRiskCount:         {kind: numericField},
	FieldRiskRatingScore:         {kind: numericField},
	FieldFinancialHealthScore:    {kind: numericField, numDefault: 5},
	FieldPerformanceTrendPercent: {kind: numericField},
}

// Known reports whether f belongs to the closed field set.
func (f Field) Known() bool {
	_, ok := fieldSpecs[f]
	return ok
}

// Numeric reports whether f extracts a number.
func (f Field) Numeric() bool {
	spec, ok := fieldSpecs[f]
	return ok && spec.kind == numericField
}

// Context is the flat map of field values a subject exposes to the engine.
type Context map[string]any

// Number extracts a numeric field, substituting the field default when absent.
func (c Context) Number(f Field) (float64, error) {
	spec, ok := fieldSpecs[f]
	if !ok || spec.kind != numericField {
		return 0, fmt.Errorf("field %q is not numeric", f)
	}
	raw, present := c[string(f)]
	if !present || raw == nil {
		return spec.numDefault, nil
	}
	v, ok := models.AsFloat(raw)
	if !ok {
		return 0, fmt.Errorf("field %q: cannot use %T (%v) as number", f, raw, raw)
	}
	return v, nil
}

// Text extracts a string field, substituting the field default when absent.
func (c Context) Text(f Field) (string, error) {
	spec, ok := fieldSpecs[f]
	if !ok || spec.kind != textField {
		return "", fmt.Errorf("field %q is not text", f)
	}
	raw, present := c[string(f)]
	if !present || raw == nil {
		return spec.textDefault, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q: cannot use %T as text", f, raw)
	}
	return s, nil
}

func (c Context) clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
