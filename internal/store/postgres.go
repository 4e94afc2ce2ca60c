package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"supplychain-orchestrator/internal/models"
)

// Postgres wraps pgxpool for Postgres persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// pgQuerier is satisfied by both the pool and an open transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks database reachability.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	return runMigrations("postgres", func(name, sql string) error {
		_, err := s.pool.Exec(ctx, sql)
		return err
	})
}

// UpsertSubject stores the latest snapshot of a monitored object.
func (s *Postgres) UpsertSubject(ctx context.Context, subj models.Subject) (models.Subject, error) {
	if subj.UpdatedAt.IsZero() {
		subj.UpdatedAt = time.Now().UTC()
	}
	attrs, err := marshalMap(subj.Attributes)
	if err != nil {
		return models.Subject{}, fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO subjects (subject_type, subject_id, workspace_id, status, attributes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_type, subject_id) DO UPDATE
		SET workspace_id = EXCLUDED.workspace_id, status = EXCLUDED.status,
		    attributes = EXCLUDED.attributes, updated_at = EXCLUDED.updated_at
	`, subj.Type, subj.ID, subj.WorkspaceID, subj.Status, attrs, subj.UpdatedAt)
	if err != nil {
		return models.Subject{}, fmt.Errorf("upsert subject: %w", err)
	}
	return s.GetSubject(ctx, subj.Type, subj.ID)
}

// GetSubject fetches a subject snapshot.
func (s *Postgres) GetSubject(ctx context.Context, subjectType, id string) (models.Subject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subject_type, subject_id, workspace_id, status, attributes, execution_status, execution_error, updated_at
		FROM subjects WHERE subject_type = $1 AND subject_id = $2
	`, subjectType, id)
	subj, err := scanPgSubject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subject{}, fmt.Errorf("subject %s/%s: %w", subjectType, id, ErrNotFound)
	}
	return subj, err
}

// ListSubjects returns subjects of one type in any of the given statuses.
func (s *Postgres) ListSubjects(ctx context.Context, subjectType string, statuses []string) ([]models.Subject, error) {
	sql := `
		SELECT subject_type, subject_id, workspace_id, status, attributes, execution_status, execution_error, updated_at
		FROM subjects WHERE subject_type = $1`
	args := []any{subjectType}
	if len(statuses) > 0 {
		sql += ` AND status = ANY($2)`
		args = append(args, statuses)
	}
	rows, err := s.pool.Query(ctx, sql+` ORDER BY subject_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()
	var out []models.Subject
	for rows.Next() {
		subj, err := scanPgSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, subj)
	}
	return out, rows.Err()
}

// RecordExecution stores the outcome of dispatching an approved decision. updated_at
// tracks the snapshot fed by agents and is left alone.
func (s *Postgres) RecordExecution(ctx context.Context, subjectType, id, status, execErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subjects SET execution_status = $3, execution_error = $4
		WHERE subject_type = $1 AND subject_id = $2
	`, subjectType, id, status, emptyToNil(execErr))
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject %s/%s: %w", subjectType, id, ErrNotFound)
	}
	return nil
}

// CreateDecision inserts a decision item unless an existing one covers the same
// (related object, trigger rule). It returns the item and whether it was created.
func (s *Postgres) CreateDecision(ctx context.Context, p CreateDecisionParams) (models.DecisionItem, bool, error) {
	item, err := prepareItem(p.Item)
	if err != nil {
		return models.DecisionItem{}, false, err
	}
	dedup := p.DedupStatuses
	if len(dedup) == 0 {
		dedup = []models.Status{models.StatusPending}
	}
	ctxJSON, err := marshalMap(item.ContextData)
	if err != nil {
		return models.DecisionItem{}, false, fmt.Errorf("marshal context data: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.DecisionItem{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	existing, err := pgListDecisions(ctx, tx, DecisionFilter{
		Statuses:          dedup,
		RelatedObjectType: item.RelatedObjectType,
		RelatedObjectID:   item.RelatedObjectID,
	})
	if err != nil {
		return models.DecisionItem{}, false, err
	}
	if covering, ok := coveringItem(existing, item.TriggerRule); ok {
		return covering, false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO decision_items (`+decisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, item.ID, item.WorkspaceID, item.DecisionType, item.Title, item.Description, string(item.Status), string(item.Severity),
		item.RequiresApproval, item.ApprovalDeadline, string(item.RequiredRole), item.RelatedObjectType, item.RelatedObjectID,
		item.TriggerRule, item.PriorityScore, item.EstimatedImpactUSD, item.AffectedCount, item.RiskIfDelayed, ctxJSON,
		item.CreatedBy, item.CreatedByType, item.CreatedAt, item.UpdatedAt, item.DecisionMadeAt, item.DecisionMadeBy,
		item.DecisionRationale)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Another writer inserted the pending row after our check; return theirs.
			if err := tx.Rollback(ctx); err != nil {
				return models.DecisionItem{}, false, fmt.Errorf("rollback after duplicate: %w", err)
			}
			return s.findCovering(ctx, item, dedup)
		}
		return models.DecisionItem{}, false, fmt.Errorf("insert decision: %w", err)
	}

	if err := pgApplyEffects(ctx, tx, p.Effects); err != nil {
		return models.DecisionItem{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.DecisionItem{}, false, fmt.Errorf("commit: %w", err)
	}
	return item, true, nil
}

func (s *Postgres) findCovering(ctx context.Context, item models.DecisionItem, dedup []models.Status) (models.DecisionItem, bool, error) {
	existing, err := pgListDecisions(ctx, s.pool, DecisionFilter{
		Statuses:          dedup,
		RelatedObjectType: item.RelatedObjectType,
		RelatedObjectID:   item.RelatedObjectID,
	})
	if err != nil {
		return models.DecisionItem{}, false, err
	}
	if covering, ok := coveringItem(existing, item.TriggerRule); ok {
		return covering, false, nil
	}
	return models.DecisionItem{}, false, errors.New("duplicate pending decision but no covering item found")
}

// GetDecision fetches a decision item by id.
func (s *Postgres) GetDecision(ctx context.Context, id string) (models.DecisionItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+decisionColumns+` FROM decision_items WHERE id = $1`, id)
	item, err := scanPgDecision(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DecisionItem{}, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return item, err
}

// ListDecisions returns decision items matching f.
func (s *Postgres) ListDecisions(ctx context.Context, f DecisionFilter) ([]models.DecisionItem, error) {
	return pgListDecisions(ctx, s.pool, f)
}

func pgListDecisions(ctx context.Context, q pgQuerier, f DecisionFilter) ([]models.DecisionItem, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WorkspaceID != 0 {
		add("workspace_id = $%d", f.WorkspaceID)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}
	if f.RelatedObjectType != "" {
		add("related_object_type = $%d", f.RelatedObjectType)
	}
	if f.RelatedObjectID != "" {
		add("related_object_id = $%d", f.RelatedObjectID)
	}
	if !f.CreatedAfter.IsZero() {
		add("created_at >= $%d", f.CreatedAfter)
	}
	if !f.DeadlineBefore.IsZero() {
		add("approval_deadline < $%d", f.DeadlineBefore)
	}
	sql := `SELECT ` + decisionColumns + ` FROM decision_items`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.OrderByPriority {
		sql += ` ORDER BY priority_score DESC, created_at ASC, id ASC`
	} else {
		sql += ` ORDER BY created_at ASC, id ASC`
	}
	if f.Limit > 0 {
		sql += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()
	var out []models.DecisionItem
	for rows.Next() {
		item, err := scanPgDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UpdatePriorityScores persists recomputed scores for pending items.
func (s *Postgres) UpdatePriorityScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, score := range scores {
		if score < 0 {
			score = 0
		}
		batch.Queue(`UPDATE decision_items SET priority_score = $2 WHERE id = $1 AND status = 'pending'`, id, score)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update priority scores: %w", err)
	}
	return nil
}

// ApplyTransitions applies all transitions atomically. If any item is no longer in its
// expected status nothing is written and ErrStatusConflict is returned.
func (s *Postgres) ApplyTransitions(ctx context.Context, ts []Transition) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range ts {
		ctxJSON, err := marshalMap(t.Item.ContextData)
		if err != nil {
			return fmt.Errorf("marshal context data: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE decision_items
			SET status = $3, severity = $4, required_role = $5, approval_deadline = $6, priority_score = $7,
			    context_data = $8, updated_at = $9, decision_made_at = $10, decision_made_by = $11, decision_rationale = $12
			WHERE id = $1 AND status = $2
		`, t.Item.ID, string(t.ExpectStatus), string(t.Item.Status), string(t.Item.Severity), string(t.Item.RequiredRole),
			t.Item.ApprovalDeadline, t.Item.PriorityScore, ctxJSON, t.Item.UpdatedAt, t.Item.DecisionMadeAt,
			t.Item.DecisionMadeBy, t.Item.DecisionRationale)
		if err != nil {
			return fmt.Errorf("update decision %s: %w", t.Item.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("decision %s: %w", t.Item.ID, ErrStatusConflict)
		}
		if err := pgApplyEffects(ctx, tx, t.Effects); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, e models.AuditLogEntry) error {
	return pgInsertAudit(ctx, s.pool, e)
}

// ListAudit returns the audit trail of one object, oldest first.
func (s *Postgres) ListAudit(ctx context.Context, objectType, objectID string) ([]models.AuditLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, action, actor_type, actor_id, object_type, object_id, details, created_at
		FROM audit_logs WHERE object_type = $1 AND object_id = $2 ORDER BY id
	`, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorType, &e.ActorID, &e.ObjectType, &e.ObjectID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if e.Details, err = unmarshalMap(details); err != nil {
			return nil, fmt.Errorf("unmarshal audit details: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateNotification stores n unless its dedup key was already used. It reports whether a row was written.
func (s *Postgres) CreateNotification(ctx context.Context, n models.Notification) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	created, err := pgInsertNotification(ctx, tx, n)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// ListNotifications returns the newest notifications of a workspace.
func (s *Postgres) ListNotifications(ctx context.Context, workspaceID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, type, title, message, data, dedup_key, created_at
		FROM notifications WHERE workspace_id = $1 ORDER BY id DESC LIMIT $2
	`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var data []byte
		var dedup pgtype.Text
		if err := rows.Scan(&n.ID, &n.WorkspaceID, &n.Type, &n.Title, &n.Message, &data, &dedup, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if n.Data, err = unmarshalMap(data); err != nil {
			return nil, fmt.Errorf("unmarshal notification data: %w", err)
		}
		n.DedupKey = dedup.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// EnqueueOutbox stores an outbound event for the publisher.
func (s *Postgres) EnqueueOutbox(ctx context.Context, ev models.OutboxEvent) error {
	return pgInsertOutbox(ctx, s.pool, ev)
}

// PendingOutbox returns unpublished events, oldest first.
func (s *Postgres) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, stream, event_type, aggregate_type, aggregate_id, payload, status, retry_count, last_error, created_at, published_at
		FROM outbox_events
		WHERE status IN ('pending', 'failed') AND retry_count < $1
		ORDER BY created_at, id
		LIMIT $2
	`, MaxOutboxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	defer rows.Close()
	var out []models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		var payload []byte
		var lastErr pgtype.Text
		if err := rows.Scan(&ev.ID, &ev.Stream, &ev.EventType, &ev.AggregateType, &ev.AggregateID, &payload, &ev.Status,
			&ev.RetryCount, &lastErr, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		if ev.Payload, err = unmarshalMap(payload); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		ev.LastError = textPtr(lastErr)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkOutboxPublished flags an event as delivered.
func (s *Postgres) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events SET status = 'published', published_at = $2, last_error = NULL WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// MarkOutboxFailed records a failed attempt; the event is retried on a later tick.
func (s *Postgres) MarkOutboxFailed(ctx context.Context, id string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events SET status = 'failed', retry_count = retry_count + 1, last_error = $2 WHERE id = $1
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// MarkOutboxDeferred records why delivery was postponed without spending a retry.
func (s *Postgres) MarkOutboxDeferred(ctx context.Context, id string, reason string) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox_events SET last_error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("mark outbox deferred: %w", err)
	}
	return nil
}

func pgApplyEffects(ctx context.Context, q pgQuerier, fx Effects) error {
	for _, e := range fx.Audit {
		if err := pgInsertAudit(ctx, q, e); err != nil {
			return err
		}
	}
	for _, n := range fx.Notifications {
		if _, err := pgInsertNotification(ctx, q, n); err != nil {
			return err
		}
	}
	for _, ev := range fx.Outbox {
		if err := pgInsertOutbox(ctx, q, ev); err != nil {
			return err
		}
	}
	return nil
}

func pgInsertAudit(ctx context.Context, q pgQuerier, e models.AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details, err := marshalMap(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (action, actor_type, actor_id, object_type, object_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.Action, e.ActorType, e.ActorID, e.ObjectType, e.ObjectID, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// pgInsertNotification writes n and its UI broadcast event. A reused dedup key writes nothing.
func pgInsertNotification(ctx context.Context, q pgQuerier, n models.Notification) (bool, error) {
	n = prepareNotification(n)
	data, err := marshalMap(n.Data)
	if err != nil {
		return false, fmt.Errorf("marshal notification data: %w", err)
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO notifications (workspace_id, type, title, message, data, dedup_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedup_key) DO NOTHING
	`, n.WorkspaceID, n.Type, n.Title, n.Message, data, emptyToNil(n.DedupKey), n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := pgInsertOutbox(ctx, q, broadcastFor(n)); err != nil {
		return false, err
	}
	return true, nil
}

func pgInsertOutbox(ctx context.Context, q pgQuerier, ev models.OutboxEvent) error {
	ev = prepareOutbox(ev)
	payload, err := marshalMap(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO outbox_events (id, stream, event_type, aggregate_type, aggregate_id, payload, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`, ev.ID, ev.Stream, ev.EventType, ev.AggregateType, ev.AggregateID, payload, ev.Status, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func scanPgDecision(row pgx.Row) (models.DecisionItem, error) {
	var (
		item                   models.DecisionItem
		status, severity, role string
		ctxJSON                []byte
		madeBy, rationale      pgtype.Text
	)
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.DecisionType, &item.Title, &item.Description, &status, &severity,
		&item.RequiresApproval, &item.ApprovalDeadline, &role, &item.RelatedObjectType, &item.RelatedObjectID,
		&item.TriggerRule, &item.PriorityScore, &item.EstimatedImpactUSD, &item.AffectedCount, &item.RiskIfDelayed,
		&ctxJSON, &item.CreatedBy, &item.CreatedByType, &item.CreatedAt, &item.UpdatedAt, &item.DecisionMadeAt,
		&madeBy, &rationale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DecisionItem{}, err
		}
		return models.DecisionItem{}, fmt.Errorf("scan decision: %w", err)
	}
	item.Status = models.Status(status)
	item.Severity = models.Severity(severity)
	item.RequiredRole = models.Role(role)
	item.DecisionMadeBy = textPtr(madeBy)
	item.DecisionRationale = textPtr(rationale)
	if item.ContextData, err = unmarshalMap(ctxJSON); err != nil {
		return models.DecisionItem{}, fmt.Errorf("unmarshal context data: %w", err)
	}
	return item, nil
}

func scanPgSubject(row pgx.Row) (models.Subject, error) {
	var (
		subj                models.Subject
		attrs               []byte
		execStatus, execErr pgtype.Text
	)
	if err := row.Scan(&subj.Type, &subj.ID, &subj.WorkspaceID, &subj.Status, &attrs, &execStatus, &execErr, &subj.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Subject{}, err
		}
		return models.Subject{}, fmt.Errorf("scan subject: %w", err)
	}
	var err error
	if subj.Attributes, err = unmarshalMap(attrs); err != nil {
		return models.Subject{}, fmt.Errorf("unmarshal attributes: %w", err)
	}
	subj.ExecutionStatus = execStatus.String
	subj.ExecutionError = execErr.String
	return subj, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
