package policy

import (
	"fmt"
	"log"
	"sync"
	"time"

	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/telemetry"
)

// EvaluationError reports that a rule could not be evaluated against a context.
// The engine fails open: the rule is treated as not violated.
type EvaluationError struct {
	Rule string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %s: %v", e.Rule, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Violation is the outcome of evaluating one rule. It is never persisted directly.
type Violation struct {
	RuleName           string          `json:"rule_name"`
	Violated           bool            `json:"violated"`
	CurrentValue       float64         `json:"current_value"`
	Threshold          float64         `json:"threshold_value"`
	Severity           models.Severity `json:"severity"`
	RequiredRole       models.Role     `json:"required_role"`
	RequiresApproval   bool            `json:"requires_approval"`
	AutoApprove        bool            `json:"auto_approve"`
	EscalationDeadline time.Time       `json:"escalation_deadline"`
	Context            Context         `json:"context"`
	Description        string          `json:"description"`
}

// EvaluateRule evaluates rule against ctx. It always returns a record; on extraction
// failure the record is not violated and the error is logged.
func EvaluateRule(rule Rule, ctx Context, now time.Time) Violation {
	v := Violation{
		RuleName:           rule.Name,
		Threshold:          rule.Threshold,
		Severity:           rule.Priority,
		RequiredRole:       rule.RequiredRole,
		AutoApprove:        rule.AutoApprove,
		EscalationDeadline: now.Add(time.Duration(rule.EscalationHours) * time.Hour),
		Context:            ctx.clone(),
		Description:        rule.Description,
	}
	violated, current, err := evaluate(rule, ctx)
	if err != nil {
		evalErr := &EvaluationError{Rule: rule.Name, Err: err}
		log.Printf("policy: %v (treated as not violated)", evalErr)
		telemetry.PolicyEvalErrors.Inc()
		return v
	}
	v.CurrentValue = current
	v.Violated = violated
	v.RequiresApproval = violated && !rule.AutoApprove
	return v
}

func evaluate(rule Rule, ctx Context) (bool, float64, error) {
	cond := rule.Condition
	current, err := ctx.Number(cond.Field)
	if err != nil {
		return false, 0, err
	}
	switch cond.Kind {
	case ConditionThreshold:
		ok, err := cond.Op.compare(current, rule.Threshold)
		return ok, current, err
	case ConditionGuarded:
		guard, err := ctx.Text(cond.GuardField)
		if err != nil {
			return false, current, err
		}
		if guard != cond.GuardValue {
			return false, current, nil
		}
		ok, err := cond.Op.compare(current, rule.Threshold)
		return ok, current, err
	default:
		return false, current, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}

// Engine evaluates subjects against the current rule table. The table can be swapped
// at runtime by Refresh; evaluations see either the old or the new table, never a mix.
type Engine struct {
	mu     sync.RWMutex
	rules  RuleSet
	hash   string
	path   string
	loaded time.Time
}

// NewEngine returns an engine over rules.
func NewEngine(rules RuleSet) *Engine {
	return &Engine{rules: rules, hash: "builtin"}
}

// NewEngineFromFile loads the rule table from path. An empty path uses DefaultRules.
func NewEngineFromFile(path string) (*Engine, error) {
	e := NewEngine(DefaultRules())
	e.path = path
	if path == "" {
		return e, nil
	}
	if _, err := e.Refresh(); err != nil {
		return nil, err
	}
	return e, nil
}

// Rules returns the current table.
func (e *Engine) Rules() RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// Hash identifies the current table.
func (e *Engine) Hash() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hash
}

// Replace swaps the rule table.
func (e *Engine) Replace(rules RuleSet, hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.hash = hash
	e.loaded = time.Now()
}

// Refresh reloads the configured rule file. On any load error the previous table stays
// active. It reports whether the table changed.
func (e *Engine) Refresh() (bool, error) {
	if e.path == "" {
		return false, nil
	}
	loaded, err := LoadRules(e.path)
	if err != nil {
		return false, err
	}
	if loaded.Hash == e.Hash() {
		return false, nil
	}
	e.Replace(loaded.Rules, loaded.Hash)
	log.Printf("policy: loaded %d rules from %s hash=%s", len(loaded.Rules), e.path, loaded.Hash)
	return true, nil
}

func (e *Engine) evaluateDomains(ctx Context, now time.Time, domains ...Domain) []Violation {
	rules := e.Rules()
	var out []Violation
	for _, d := range domains {
		for _, rule := range rules.ByDomain(d) {
			v := EvaluateRule(rule, ctx, now)
			if v.Violated {
				telemetry.PolicyViolations.WithLabelValues(rule.Name).Inc()
				out = append(out, v)
			}
		}
	}
	return out
}

// EvaluateShipmentPolicies returns the violated shipment and risk rules.
func (e *Engine) EvaluateShipmentPolicies(ctx Context, now time.Time) []Violation {
	return e.evaluateDomains(ctx, now, DomainShipment, DomainRisk)
}

// EvaluateProcurementPolicies returns the violated procurement and financial rules.
func (e *Engine) EvaluateProcurementPolicies(ctx Context, now time.Time) []Violation {
	return e.evaluateDomains(ctx, now, DomainProcurement, DomainFinancial)
}

// EvaluateSupplierPolicies returns the violated supplier rules.
func (e *Engine) EvaluateSupplierPolicies(ctx Context, now time.Time) []Violation {
	return e.evaluateDomains(ctx, now, DomainSupplier)
}

// Evaluate dispatches a subject to the batch evaluator for its kind.
func (e *Engine) Evaluate(subject EvaluatedSubject, now time.Time) []Violation {
	ctx := subject.Provider.PolicyContext()
	switch subject.Kind {
	case KindShipment:
		return e.EvaluateShipmentPolicies(ctx, now)
	case KindPurchaseOrder:
		return e.EvaluateProcurementPolicies(ctx, now)
	case KindSupplier:
		return e.EvaluateSupplierPolicies(ctx, now)
	}
	return nil
}

// Recommended actions returned by Assess.
const (
	ActionNone       = "No action required"
	ActionEscalate   = "Immediate escalation required"
	ActionManagement = "Management review recommended"
	ActionStandard   = "Standard approval process"
)

// Assessment aggregates a batch of violations.
type Assessment struct {
	Total             int     `json:"total_violations"`
	CriticalCount     int     `json:"critical_count"`
	HighCount         int     `json:"high_count"`
	MediumCount       int     `json:"medium_count"`
	RiskScore         float64 `json:"risk_score"`
	RequiresApproval  bool    `json:"requires_approval"`
	Blocking          bool    `json:"blocking"`
	RecommendedAction string  `json:"recommended_action"`
}

// Assess summarizes violations. Only violated records are counted.
// A violation blocks automatic approval when it needs a human decision.
func Assess(violations []Violation) Assessment {
	var a Assessment
	for _, v := range violations {
		if !v.Violated {
			continue
		}
		a.Total++
		switch v.Severity {
		case models.SeverityCritical:
			a.CriticalCount++
		case models.SeverityHigh:
			a.HighCount++
		case models.SeverityMedium:
			a.MediumCount++
		}
		if v.RequiresApproval {
			a.Blocking = true
		}
	}
	a.RiskScore = float64(a.CriticalCount*10 + a.HighCount*5 + a.MediumCount*2)
	a.RequiresApproval = a.CriticalCount > 0 || a.HighCount > 0
	switch {
	case a.Total == 0:
		a.RecommendedAction = ActionNone
	case a.CriticalCount > 0:
		a.RecommendedAction = ActionEscalate
	case a.HighCount > 0:
		a.RecommendedAction = ActionManagement
	default:
		a.RecommendedAction = ActionStandard
	}
	return a
}
