package policy

import "supplychain-orchestrator/internal/models"

// ContextProvider is implemented by anything the engine can evaluate.
type ContextProvider interface {
	PolicyContext() Context
}

// SubjectKind tags which batch evaluator applies to a subject.
type SubjectKind string

const (
	KindShipment      SubjectKind = models.SubjectShipment
	KindPurchaseOrder SubjectKind = models.SubjectPurchaseOrder
	KindSupplier      SubjectKind = models.SubjectSupplier
)

// EvaluatedSubject pairs a context provider with its kind.
type EvaluatedSubject struct {
	Kind     SubjectKind
	ID       string
	Provider ContextProvider
}

// Shipment exposes shipment attributes to shipment and risk rules.
type Shipment struct {
	ID         string
	Attributes map[string]any
}

// PolicyContext maps shipment attributes onto rule fields. cargo_value falls back to total_cost.
func (s Shipment) PolicyContext() Context {
	ctx := Context{}
	copyFirst(ctx, s.Attributes, FieldCargoValue, "cargo_value", "total_cost")
	copyFirst(ctx, s.Attributes, FieldRouteRiskScore, "route_risk_score", "risk_score")
	copyFirst(ctx, s.Attributes, FieldRouteDeviationPercent, "route_deviation_percent")
	copyFirst(ctx, s.Attributes, FieldShippingMode, "shipping_mode")
	copyFirst(ctx, s.Attributes, FieldCostPremium, "cost_premium")
	copyFirst(ctx, s.Attributes, FieldRiskScore, "risk_score")
	copyFirst(ctx, s.Attributes, FieldActiveRiskCount, "active_risk_count")
	return ctx
}

// PurchaseOrder exposes purchase order attributes to procurement and financial rules.
type PurchaseOrder struct {
	ID         string
	Attributes map[string]any
}

// PolicyContext maps purchase order attributes onto rule fields.
func (p PurchaseOrder) PolicyContext() Context {
	ctx := Context{}
	copyFirst(ctx, p.Attributes, FieldPurchaseAmount, "purchase_amount", "total_amount")
	copyFirst(ctx, p.Attributes, FieldUrgency, "urgency")
	copyFirst(ctx, p.Attributes, FieldSupplierRelationshipAge, "supplier_relationship_age")
	copyFirst(ctx, p.Attributes, FieldCostIncreasePercent, "cost_increase_percent")
	copyFirst(ctx, p.Attributes, FieldBudgetVariancePercent, "budget_variance_percent")
	copyFirst(ctx, p.Attributes, FieldPotentialSavings, "potential_savings")
	return ctx
}

// Supplier exposes supplier attributes to supplier rules.
type Supplier struct {
	ID         string
	Attributes map[string]any
}

// PolicyContext maps supplier attributes onto rule fields.
func (s Supplier) PolicyContext() Context {
	ctx := Context{}
	copyFirst(ctx, s.Attributes, FieldRiskRatingScore, "risk_rating_score", "risk_rating")
	copyFirst(ctx, s.Attributes, FieldFinancialHealthScore, "financial_health_score", "financial_health")
	copyFirst(ctx, s.Attributes, FieldPerformanceTrendPercent, "performance_trend_percent")
	return ctx
}

// FromSubject builds the evaluated form of a stored subject. Types without rules report false.
func FromSubject(s models.Subject) (EvaluatedSubject, bool) {
	switch s.Type {
	case models.SubjectShipment:
		return EvaluatedSubject{Kind: KindShipment, ID: s.ID, Provider: Shipment{ID: s.ID, Attributes: s.Attributes}}, true
	case models.SubjectPurchaseOrder:
		return EvaluatedSubject{Kind: KindPurchaseOrder, ID: s.ID, Provider: PurchaseOrder{ID: s.ID, Attributes: s.Attributes}}, true
	case models.SubjectSupplier:
		return EvaluatedSubject{Kind: KindSupplier, ID: s.ID, Provider: Supplier{ID: s.ID, Attributes: s.Attributes}}, true
	}
	return EvaluatedSubject{}, false
}

// copyFirst sets field from the first present, non-nil attribute key.
func copyFirst(ctx Context, attrs map[string]any, field Field, keys ...string) {
	for _, k := range keys {
		if v, ok := attrs[k]; ok && v != nil {
			ctx[string(field)] = v
			return
		}
	}
}
