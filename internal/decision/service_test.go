package decision

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/policy"
	"supplychain-orchestrator/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingExecutor struct {
	mu    sync.Mutex
	items []models.DecisionItem
}

func (e *recordingExecutor) Execute(ctx context.Context, item models.DecisionItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, item)
	return nil
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

func testConfig() config.Config {
	return config.Config{
		WorkspaceID:           1,
		ApprovalTimeout:       24 * time.Hour,
		AutoApproveLimit:      10000,
		AutoApproveRiskCeil:   0.3,
		HumanReviewRisk:       0.7,
		ConflictWindow:        time.Hour,
		EscalationExtension:   12 * time.Hour,
		DeadlineWarningWindow: 2 * time.Hour,
		MaxEscalations:        3,
	}
}

func newTestService(t *testing.T) (*Service, *store.SQLite, *fakeClock, *recordingExecutor) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "decisions.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exec := &recordingExecutor{}
	svc := NewService(testConfig(), st, exec)
	svc.SetClock(clock.Now)
	return svc, st, clock, exec
}

func violation(rule string, severity models.Severity, escalationHours int, now time.Time) policy.Violation {
	return policy.Violation{
		RuleName:           rule,
		Violated:           true,
		Severity:           severity,
		RequiresApproval:   true,
		EscalationDeadline: now.Add(time.Duration(escalationHours) * time.Hour),
		Context:            policy.Context{"risk_score": 9.1},
	}
}

func TestScenarioACriticalViolation(t *testing.T) {
	ctx := context.Background()
	svc, _, clock, _ := newTestService(t)
	now := clock.Now()

	item, created, err := svc.Create(ctx, FromViolation(models.SubjectShipment, "42", violation("critical_risk_level", models.SeverityCritical, 2, now), now))
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if !item.ApprovalDeadline.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("expected deadline now+2h got %s", item.ApprovalDeadline)
	}
	if item.RequiredRole != models.RoleDirector {
		t.Fatalf("expected director got %s", item.RequiredRole)
	}
	if item.ApprovalDeadline.Before(item.CreatedAt) {
		t.Fatalf("deadline before creation")
	}
}

func TestCreateTwiceIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()
	v := violation("high_risk_route", models.SeverityHigh, 24, now)

	first, created, err := svc.Create(ctx, FromViolation(models.SubjectShipment, "42", v, now))
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	clock.Advance(time.Minute)
	second, created, err := svc.Create(ctx, FromViolation(models.SubjectShipment, "42", v, clock.Now()))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing item %s, got %s created=%v", first.ID, second.ID, created)
	}
	items, _ := st.ListDecisions(ctx, store.DecisionFilter{Statuses: []models.Status{models.StatusPending}})
	if len(items) != 1 {
		t.Fatalf("expected one pending item got %d", len(items))
	}
}

func TestScenarioBConflictResolution(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()

	confident := FromViolation(models.SubjectShipment, "42", violation("route_deviation", models.SeverityMedium, 48, now), now)
	confident.ContextData["confidence"] = 0.9
	winner, _, err := svc.Create(ctx, confident)
	if err != nil {
		t.Fatalf("create winner: %v", err)
	}
	clock.Advance(10 * time.Minute)
	doubtful := FromViolation(models.SubjectShipment, "42", violation("critical_risk_level", models.SeverityCritical, 2, now), clock.Now())
	doubtful.ContextData["confidence"] = 0.6
	loser, _, err := svc.Create(ctx, doubtful)
	if err != nil {
		t.Fatalf("create loser: %v", err)
	}

	clock.Advance(10 * time.Minute)
	n, err := svc.ResolveConflicts(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 superseded got %d", n)
	}

	gotWinner, _ := st.GetDecision(ctx, winner.ID)
	gotLoser, _ := st.GetDecision(ctx, loser.ID)
	if gotWinner.Status != models.StatusPending {
		t.Fatalf("expected winner pending got %s", gotWinner.Status)
	}
	if gotLoser.Status != models.StatusSuperseded {
		t.Fatalf("expected loser superseded got %s", gotLoser.Status)
	}
	if gotLoser.ContextData["superseded_by"] != winner.ID {
		t.Fatalf("expected superseded_by %s got %v", winner.ID, gotLoser.ContextData["superseded_by"])
	}
	if !gotWinner.Covers("critical_risk_level") {
		t.Fatalf("expected winner to cover merged rule, merged=%v", gotWinner.MergedRules())
	}

	// the merged rule is now covered by the survivor
	_, created, err := svc.Create(ctx, FromViolation(models.SubjectShipment, "42", violation("critical_risk_level", models.SeverityCritical, 2, clock.Now()), clock.Now()))
	if err != nil || created {
		t.Fatalf("expected merged rule to be covered, created=%v err=%v", created, err)
	}
}

func TestResolveConflictsIgnoresOldItems(t *testing.T) {
	ctx := context.Background()
	svc, _, clock, _ := newTestService(t)
	now := clock.Now()

	svc.Create(ctx, FromViolation(models.SubjectShipment, "42", violation("route_deviation", models.SeverityMedium, 48, now), now))
	clock.Advance(2 * time.Hour)
	svc.Create(ctx, FromViolation(models.SubjectShipment, "42", violation("high_risk_route", models.SeverityHigh, 24, clock.Now()), clock.Now()))

	n, err := svc.ResolveConflicts(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no conflicts outside the window got %d", n)
	}
}

func TestScenarioCApproveTwice(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, exec := newTestService(t)
	now := clock.Now()

	item, _, err := svc.Create(ctx, FromViolation(models.SubjectPurchaseOrder, "PO-1", violation("high_value_procurement", models.SeverityHigh, 24, now), now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	approved, err := svc.Approve(ctx, item.ID, "alice", "budget confirmed")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.StatusApproved || approved.DecisionMadeBy == nil || *approved.DecisionMadeBy != "alice" {
		t.Fatalf("unexpected approved item %+v", approved)
	}

	clock.Advance(time.Minute)
	_, err = svc.Approve(ctx, item.ID, "bob", "again")
	if !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending got %v", err)
	}
	got, _ := st.GetDecision(ctx, item.ID)
	if got.DecisionMadeBy == nil || *got.DecisionMadeBy != "alice" {
		t.Fatalf("second approve mutated the item: %+v", got)
	}
	if !got.DecisionMadeAt.Equal(now) {
		t.Fatalf("decision_made_at changed to %s", got.DecisionMadeAt)
	}
	if exec.count() != 1 {
		t.Fatalf("expected one execution got %d", exec.count())
	}
	if _, err := svc.Reject(ctx, item.ID, "bob", "no"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on reject got %v", err)
	}
}

// staleStore serves a cached pending copy, as a concurrent reader would have seen it.
type staleStore struct {
	store.Store
	stale models.DecisionItem
}

func (s staleStore) GetDecision(ctx context.Context, id string) (models.DecisionItem, error) {
	return s.stale, nil
}

func TestApproveLosesRaceWithNotPending(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()

	item, _, _ := svc.Create(ctx, FromViolation(models.SubjectShipment, "42", violation("high_risk_route", models.SeverityHigh, 24, now), now))
	if _, err := svc.Reject(ctx, item.ID, "alice", "not needed"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	racing := NewService(testConfig(), staleStore{Store: st, stale: item}, nil)
	racing.SetClock(clock.Now)
	_, err := racing.Approve(ctx, item.ID, "bob", "")
	if !errors.Is(err, ErrNotPending) || !errors.Is(err, store.ErrStatusConflict) {
		t.Fatalf("expected ErrNotPending wrapping ErrStatusConflict got %v", err)
	}
	got, _ := st.GetDecision(ctx, item.ID)
	if got.Status != models.StatusRejected {
		t.Fatalf("expected rejected to stand got %s", got.Status)
	}
}

func TestApproveRequiresActor(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	if _, err := svc.Approve(context.Background(), "x", "", ""); !errors.Is(err, ErrMissingActor) {
		t.Fatalf("expected ErrMissingActor got %v", err)
	}
}

func TestScenarioEDeadlineWarning(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()

	item := FromViolation(models.SubjectSupplier, "S-1", violation("supplier_risk_rating", models.SeverityHigh, 24, now), now)
	item.ApprovalDeadline = now.Add(90 * time.Minute)
	created, _, err := svc.Create(ctx, item)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		report, err := svc.EscalateOverdue(ctx)
		if err != nil {
			t.Fatalf("escalate: %v", err)
		}
		if report.Escalated != 0 || report.TimedOut != 0 {
			t.Fatalf("expected no status changes got %+v", report)
		}
		if i == 0 && report.Warned != 1 {
			t.Fatalf("expected one warning got %d", report.Warned)
		}
		if i == 1 && report.Warned != 0 {
			t.Fatalf("expected warning deduplicated got %d", report.Warned)
		}
	}

	notes, _ := st.ListNotifications(ctx, 1, 50)
	warnings := 0
	for _, n := range notes {
		if n.Type == "deadline_warning" {
			warnings++
		}
	}
	if warnings != 1 {
		t.Fatalf("expected exactly one deadline warning got %d", warnings)
	}
	got, _ := st.GetDecision(ctx, created.ID)
	if got.Status != models.StatusPending || got.RequiredRole != created.RequiredRole || got.Severity != created.Severity {
		t.Fatalf("warning mutated item: %+v", got)
	}
	if !got.ApprovalDeadline.Equal(created.ApprovalDeadline) {
		t.Fatalf("warning moved deadline")
	}
}

func TestEscalateOverdue(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()

	item, _, err := svc.Create(ctx, FromViolation(models.SubjectShipment, "42", violation("high_risk_route", models.SeverityHigh, 24, now), now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.Advance(25 * time.Hour)
	report, err := svc.EscalateOverdue(ctx)
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if report.Escalated != 1 {
		t.Fatalf("expected 1 escalation got %+v", report)
	}

	got, _ := st.GetDecision(ctx, item.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("escalation must keep pending, got %s", got.Status)
	}
	if got.RequiredRole != models.RoleDirector || got.Severity != models.SeverityCritical {
		t.Fatalf("expected director/critical got %s/%s", got.RequiredRole, got.Severity)
	}
	if !got.ApprovalDeadline.Equal(clock.Now().Add(12 * time.Hour)) {
		t.Fatalf("expected deadline now+12h got %s", got.ApprovalDeadline)
	}
	if got.ContextData["escalated_from"] != string(models.RoleSeniorManager) {
		t.Fatalf("expected escalated_from senior_manager got %v", got.ContextData["escalated_from"])
	}
	if got.ContextData["escalation_reason"] != "Approval deadline exceeded" || got.EscalationCount() != 1 {
		t.Fatalf("unexpected escalation context %v", got.ContextData)
	}
	audit, _ := st.ListAudit(ctx, "decision_item", item.ID)
	if len(audit) != 2 || audit[1].Action != "approval_escalated" {
		t.Fatalf("expected creation and escalation audit rows got %+v", audit)
	}

	// at the ceiling, escalating again leaves role and severity unchanged
	clock.Advance(13 * time.Hour)
	if _, err := svc.EscalateOverdue(ctx); err != nil {
		t.Fatalf("escalate again: %v", err)
	}
	got, _ = st.GetDecision(ctx, item.ID)
	if got.RequiredRole != models.RoleDirector || got.Severity != models.SeverityCritical || got.EscalationCount() != 2 {
		t.Fatalf("expected ceiling to hold got %s/%s count=%d", got.RequiredRole, got.Severity, got.EscalationCount())
	}
}

func TestEscalateManagerGoesToDirector(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()

	item, _, err := svc.Create(ctx, FromViolation(models.SubjectShipment, "7", violation("route_deviation", models.SeverityMedium, 48, now), now))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if item.RequiredRole != models.RoleManager {
		t.Fatalf("expected manager got %s", item.RequiredRole)
	}
	clock.Advance(49 * time.Hour)
	if _, err := svc.EscalateOverdue(ctx); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	got, _ := st.GetDecision(ctx, item.ID)
	if got.RequiredRole != models.RoleDirector || got.Severity != models.SeverityHigh {
		t.Fatalf("expected director/high after one escalation got %s/%s", got.RequiredRole, got.Severity)
	}
	if got.ContextData["escalated_from"] != string(models.RoleManager) {
		t.Fatalf("expected escalated_from manager got %v", got.ContextData["escalated_from"])
	}
}

func TestMaxEscalationsTimesOut(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()

	item, _, _ := svc.Create(ctx, FromViolation(models.SubjectShipment, "42", violation("high_risk_route", models.SeverityHigh, 24, now), now))
	var timedOut int
	for i := 0; i < 5; i++ {
		clock.Advance(25 * time.Hour)
		report, err := svc.EscalateOverdue(ctx)
		if err != nil {
			t.Fatalf("escalate: %v", err)
		}
		timedOut += report.TimedOut
	}
	got, _ := st.GetDecision(ctx, item.ID)
	if got.Status != models.StatusTimeout {
		t.Fatalf("expected timeout got %s", got.Status)
	}
	if got.EscalationCount() != 3 || timedOut != 1 {
		t.Fatalf("expected 3 escalations then one timeout, count=%d timedOut=%d", got.EscalationCount(), timedOut)
	}
}

func TestAutoApprove(t *testing.T) {
	ctx := context.Background()
	svc, _, clock, exec := newTestService(t)
	now := clock.Now()

	v := policy.Violation{RuleName: "cost_avoidance_opportunity", Violated: true, Severity: models.SeverityLow, AutoApprove: true}
	if !svc.AutoApproveEligible([]policy.Violation{v}, 5000, 0.1) {
		t.Fatalf("expected eligible")
	}
	if svc.AutoApproveEligible([]policy.Violation{v}, 50000, 0.1) {
		t.Fatalf("amount above limit must not be eligible")
	}
	blocking := violation("high_value_procurement", models.SeverityHigh, 24, now)
	if svc.AutoApproveEligible([]policy.Violation{v, blocking}, 5000, 0.1) {
		t.Fatalf("blocking violation must not be eligible")
	}

	item := FromViolation(models.SubjectPurchaseOrder, "PO-9", v, now)
	approved, created, err := svc.AutoApprove(ctx, item, "Met auto-approval criteria")
	if err != nil || !created {
		t.Fatalf("auto-approve: created=%v err=%v", created, err)
	}
	if approved.Status != models.StatusApproved || *approved.DecisionMadeBy != models.SystemActor {
		t.Fatalf("unexpected auto-approved item %+v", approved)
	}
	_, created, err = svc.AutoApprove(ctx, FromViolation(models.SubjectPurchaseOrder, "PO-9", v, now), "Met auto-approval criteria")
	if err != nil || created {
		t.Fatalf("expected redelivery absorbed, created=%v err=%v", created, err)
	}
	if exec.count() != 1 {
		t.Fatalf("expected one execution got %d", exec.count())
	}
}

func TestPrioritize(t *testing.T) {
	ctx := context.Background()
	svc, st, clock, _ := newTestService(t)
	now := clock.Now()

	small := FromViolation(models.SubjectShipment, "1", violation("route_deviation", models.SeverityMedium, 48, now), now)
	small.EstimatedImpactUSD = 1000
	big := FromViolation(models.SubjectShipment, "2", violation("route_deviation", models.SeverityMedium, 48, now), now)
	big.EstimatedImpactUSD = 200000
	s, _, _ := svc.Create(ctx, small)
	b, _, _ := svc.Create(ctx, big)

	queue, err := svc.Prioritize(ctx)
	if err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	if len(queue) != 2 || queue[0].ID != b.ID || queue[1].ID != s.ID {
		t.Fatalf("unexpected queue order %+v", queue)
	}
	stored, _ := st.GetDecision(ctx, b.ID)
	if stored.PriorityScore != queue[0].PriorityScore {
		t.Fatalf("expected persisted score %f got %f", queue[0].PriorityScore, stored.PriorityScore)
	}

	again, _ := svc.Prioritize(ctx)
	if again[0].PriorityScore != queue[0].PriorityScore {
		t.Fatalf("prioritization is not idempotent: %f vs %f", again[0].PriorityScore, queue[0].PriorityScore)
	}
}

func TestRecommendationNeedsReview(t *testing.T) {
	cases := []struct {
		attrs map[string]any
		want  bool
	}{
		{map[string]any{"confidence_score": 0.5}, true},
		{map[string]any{"confidence_score": 0.9, "expected_benefit": 20000.0}, true},
		{map[string]any{"confidence_score": 0.9, "recommendation_type": "route_change"}, true},
		{map[string]any{"confidence_score": 0.9, "recommendation_type": "reorder", "expected_benefit": 500.0}, false},
	}
	for i, tc := range cases {
		if got := RecommendationNeedsReview(tc.attrs); got != tc.want {
			t.Fatalf("case %d: got %v want %v", i, got, tc.want)
		}
	}
}
