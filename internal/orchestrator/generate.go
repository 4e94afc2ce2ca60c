package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supplychain-orchestrator/internal/decision"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/policy"
	"supplychain-orchestrator/internal/store"
)

// Subject populations evaluated against the rule table on every cycle.
var populations = []struct {
	subjectType string
	statuses    []string
}{
	{models.SubjectShipment, []string{"planned", "in_transit", "scheduled"}},
	{models.SubjectPurchaseOrder, []string{"draft", "pending_approval"}},
	{models.SubjectSupplier, []string{"active"}},
}

var decidedStatuses = []models.Status{models.StatusApproved, models.StatusRejected, models.StatusTimeout}

// Generate creates decision items for the monitored populations. It returns the number
// of pending items created and of items approved on the fast path. A failing subject is
// skipped; the rest of the population is still processed.
func (o *Orchestrator) Generate(ctx context.Context) (int, int, error) {
	now := o.decisions.Now()
	var (
		created, approved int
		errs              []error
	)

	for _, pop := range populations {
		subjects, err := o.store.ListSubjects(ctx, pop.subjectType, pop.statuses)
		if err != nil {
			errs = append(errs, fmt.Errorf("list %s: %w", pop.subjectType, err))
			continue
		}
		for _, subj := range subjects {
			c, a, err := o.evaluateSubject(ctx, subj, now)
			created += c
			approved += a
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	recs, err := o.store.ListSubjects(ctx, models.SubjectRecommendation, []string{"pending"})
	if err != nil {
		errs = append(errs, fmt.Errorf("list recommendations: %w", err))
	}
	for _, rec := range recs {
		if !decision.RecommendationNeedsReview(rec.Attributes) {
			continue
		}
		ok, err := o.createOnce(ctx, rec, decision.FromRecommendation(rec, now))
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			created++
		}
	}

	alerts, err := o.store.ListSubjects(ctx, models.SubjectAlert, []string{"open"})
	if err != nil {
		errs = append(errs, fmt.Errorf("list alerts: %w", err))
	}
	for _, alert := range alerts {
		if sev, _ := alert.Attributes["severity"].(string); sev != string(models.SeverityCritical) {
			continue
		}
		ok, err := o.createOnce(ctx, alert, decision.FromAlert(alert, now))
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			created++
		}
	}
	return created, approved, errors.Join(errs...)
}

func (o *Orchestrator) evaluateSubject(ctx context.Context, subj models.Subject, now time.Time) (int, int, error) {
	subject, ok := policy.FromSubject(subj)
	if !ok {
		return 0, 0, nil
	}
	violations := o.policies.Evaluate(subject, now)

	var (
		created, approved int
		errs              []error
	)
	for _, v := range violations {
		if !v.RequiresApproval {
			continue
		}
		ok, err := o.createOnce(ctx, subj, decision.FromViolation(subj.Type, subj.ID, v, now))
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			created++
		}
	}

	amount, risk := subjectAmount(subj.Attributes), subjectRisk(subj.Attributes)
	if !o.decisions.AutoApproveEligible(violations, amount, risk) {
		return created, approved, errors.Join(errs...)
	}
	for _, v := range violations {
		if !v.AutoApprove {
			continue
		}
		settled, err := o.settled(ctx, subj, v.RuleName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if settled {
			continue
		}
		item := decision.FromViolation(subj.Type, subj.ID, v, now)
		item.Title = "Auto-approved: " + v.RuleName
		item.Description = fmt.Sprintf("%s on %s #%s approved automatically", v.RuleName, subj.Type, subj.ID)
		_, ok, err := o.decisions.AutoApprove(ctx, item, AutoApproveReason)
		if err != nil {
			errs = append(errs, err)
		} else if ok {
			approved++
		}
	}
	return created, approved, errors.Join(errs...)
}

// createOnce creates item unless a decision on the same rule already settled the
// subject's current snapshot.
func (o *Orchestrator) createOnce(ctx context.Context, subj models.Subject, item models.DecisionItem) (bool, error) {
	settled, err := o.settled(ctx, subj, item.TriggerRule)
	if err != nil || settled {
		return false, err
	}
	_, created, err := o.decisions.Create(ctx, item)
	return created, err
}

// settled reports whether a decided item covers rule on subj and was decided after the
// snapshot last changed. A newer snapshot is evaluated again.
func (o *Orchestrator) settled(ctx context.Context, subj models.Subject, rule string) (bool, error) {
	items, err := o.store.ListDecisions(ctx, store.DecisionFilter{
		WorkspaceID:       o.cfg.WorkspaceID,
		Statuses:          decidedStatuses,
		RelatedObjectType: subj.Type,
		RelatedObjectID:   subj.ID,
	})
	if err != nil {
		return false, fmt.Errorf("decided items for %s/%s: %w", subj.Type, subj.ID, err)
	}
	for _, it := range items {
		if it.Covers(rule) && it.DecisionMadeAt != nil && !it.DecisionMadeAt.Before(subj.UpdatedAt) {
			return true, nil
		}
	}
	return false, nil
}

func subjectAmount(attrs map[string]any) float64 {
	for _, k := range []string{"purchase_amount", "total_amount", "cargo_value", "total_cost"} {
		if v, ok := models.AsFloat(attrs[k]); ok {
			return v
		}
	}
	return 0
}

// subjectRisk normalizes the subject's risk estimate to [0,1]. risk_score is on a 0-10 scale.
func subjectRisk(attrs map[string]any) float64 {
	if v, ok := models.AsFloat(attrs["risk_probability"]); ok {
		return v
	}
	v, _ := models.AsFloat(attrs["risk_score"])
	v /= 10
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
