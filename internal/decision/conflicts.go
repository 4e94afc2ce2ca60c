package decision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

// ResolveConflicts keeps one pending item per related object among those created inside
// the conflict window. The best item by (confidence, severity) survives and absorbs the
// losers' rules into merged_rules; the others become superseded. Each group is applied
// atomically. It returns the number of superseded items.
func (s *Service) ResolveConflicts(ctx context.Context) (int, error) {
	now := s.now()
	items, err := s.store.ListDecisions(ctx, store.DecisionFilter{
		WorkspaceID:  s.cfg.WorkspaceID,
		Statuses:     []models.Status{models.StatusPending},
		CreatedAfter: now.Add(-s.cfg.ConflictWindow),
	})
	if err != nil {
		return 0, fmt.Errorf("list recent pending: %w", err)
	}

	groups := make(map[string][]models.DecisionItem)
	var keys []string
	for _, item := range items {
		key := item.RelatedObjectType + ":" + item.RelatedObjectID
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], item)
	}

	var (
		superseded int
		errs       []error
	)
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		ranked := Rank(group)
		winner, losers := ranked[0], ranked[1:]
		ts := s.supersede(winner, losers)
		err := s.store.ApplyTransitions(ctx, ts)
		if errors.Is(err, store.ErrStatusConflict) {
			log.Printf("decision: conflict group %s changed concurrently, retrying next cycle", key)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve conflicts on %s: %w", key, err))
			continue
		}
		superseded += len(losers)
		telemetry.DecisionsResolved.WithLabelValues(string(models.StatusSuperseded)).Add(float64(len(losers)))
		log.Printf("decision: %s kept %s, superseded %d", key, winner.ID, len(losers))
	}
	return superseded, errors.Join(errs...)
}

// Rank orders conflicting items best first: higher confidence, then higher severity,
// then earlier creation.
func Rank(items []models.DecisionItem) []models.DecisionItem {
	out := append([]models.DecisionItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence() != b.Confidence() {
			return a.Confidence() > b.Confidence()
		}
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (s *Service) supersede(winner models.DecisionItem, losers []models.DecisionItem) []store.Transition {
	now := s.now()
	actor := OrchestratorActor

	merged := append([]string(nil), winner.MergedRules()...)
	seen := map[string]bool{winner.TriggerRule: true}
	for _, r := range merged {
		seen[r] = true
	}
	loserIDs := make([]string, 0, len(losers))
	ts := make([]store.Transition, 0, len(losers)+1)
	for _, l := range losers {
		for _, r := range append([]string{l.TriggerRule}, l.MergedRules()...) {
			if !seen[r] {
				seen[r] = true
				merged = append(merged, r)
			}
		}
		loserIDs = append(loserIDs, l.ID)

		rationale := "Superseded by " + winner.ID
		next := l.Clone()
		next.Status = models.StatusSuperseded
		next.UpdatedAt = now
		next.DecisionMadeAt = &now
		next.DecisionMadeBy = &actor
		next.DecisionRationale = &rationale
		next.ContextData["superseded_by"] = winner.ID
		next.ContextData["superseded_at"] = now.Format(time.RFC3339)
		next.ContextData["supersede_reason"] = "conflict_resolution"
		ts = append(ts, store.Transition{
			Item:         next,
			ExpectStatus: models.StatusPending,
			Effects: store.Effects{
				Audit: []models.AuditLogEntry{s.audit("decision_superseded", models.ActorAgent, OrchestratorActor, next, map[string]any{
					"superseded_by": winner.ID,
					"reason":        "conflict_resolution",
				})},
				Outbox: []models.OutboxEvent{s.event("decision_superseded", next)},
			},
		})
	}

	keep := winner.Clone()
	keep.UpdatedAt = now
	keep.ContextData["merged_rules"] = merged
	keep.ContextData["merged_from"] = loserIDs
	ts = append([]store.Transition{{
		Item:         keep,
		ExpectStatus: models.StatusPending,
		Effects: store.Effects{
			Audit: []models.AuditLogEntry{s.audit("decisions_merged", models.ActorAgent, OrchestratorActor, keep, map[string]any{
				"merged_rules": merged,
				"superseded":   loserIDs,
			})},
		},
	}}, ts...)
	return ts
}
