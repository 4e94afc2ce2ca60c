package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"supplychain-orchestrator/internal/models"
)

// sqliteTimeLayout is fixed-width UTC so that TEXT comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is the single-node store used for local runs and tests.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite opens (or creates) the database file in WAL mode.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// Ping checks that the database file is usable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *SQLite) RunMigrations(ctx context.Context) error {
	return runMigrations("sqlite", func(name, schema string) error {
		return retryOnContention(func() error {
			_, err := s.db.ExecContext(ctx, schema)
			return err
		})
	})
}

func (s *SQLite) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// UpsertSubject stores the latest snapshot of a monitored object.
func (s *SQLite) UpsertSubject(ctx context.Context, subj models.Subject) (models.Subject, error) {
	if subj.UpdatedAt.IsZero() {
		subj.UpdatedAt = time.Now().UTC()
	}
	attrs, err := marshalMap(subj.Attributes)
	if err != nil {
		return models.Subject{}, fmt.Errorf("marshal attributes: %w", err)
	}
	err = retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO subjects (subject_type, subject_id, workspace_id, status, attributes, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (subject_type, subject_id) DO UPDATE
			SET workspace_id = excluded.workspace_id, status = excluded.status,
			    attributes = excluded.attributes, updated_at = excluded.updated_at`,
			subj.Type, subj.ID, subj.WorkspaceID, subj.Status, string(attrs), formatTime(subj.UpdatedAt))
		return err
	})
	if err != nil {
		return models.Subject{}, fmt.Errorf("upsert subject: %w", err)
	}
	return s.GetSubject(ctx, subj.Type, subj.ID)
}

// GetSubject fetches a subject snapshot.
func (s *SQLite) GetSubject(ctx context.Context, subjectType, id string) (models.Subject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subject_type, subject_id, workspace_id, status, attributes, execution_status, execution_error, updated_at
		FROM subjects WHERE subject_type = ? AND subject_id = ?`, subjectType, id)
	subj, err := scanSQLiteSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subject{}, fmt.Errorf("subject %s/%s: %w", subjectType, id, ErrNotFound)
	}
	return subj, err
}

// ListSubjects returns subjects of one type in any of the given statuses.
func (s *SQLite) ListSubjects(ctx context.Context, subjectType string, statuses []string) ([]models.Subject, error) {
	query := `
		SELECT subject_type, subject_id, workspace_id, status, attributes, execution_status, execution_error, updated_at
		FROM subjects WHERE subject_type = ?`
	args := []any{subjectType}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY subject_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()
	var out []models.Subject
	for rows.Next() {
		subj, err := scanSQLiteSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, subj)
	}
	return out, rows.Err()
}

// RecordExecution stores the outcome of dispatching an approved decision. updated_at
// tracks the snapshot fed by agents and is left alone.
func (s *SQLite) RecordExecution(ctx context.Context, subjectType, id, status, execErr string) error {
	var affected int64
	err := retryOnContention(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE subjects SET execution_status = ?, execution_error = ?
			WHERE subject_type = ? AND subject_id = ?`,
			status, emptyToNil(execErr), subjectType, id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subject %s/%s: %w", subjectType, id, ErrNotFound)
	}
	return nil
}

// CreateDecision inserts a decision item unless an existing one covers the same
// (related object, trigger rule). It returns the item and whether it was created.
func (s *SQLite) CreateDecision(ctx context.Context, p CreateDecisionParams) (models.DecisionItem, bool, error) {
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
	filter := DecisionFilter{
		Statuses:          dedup,
		RelatedObjectType: item.RelatedObjectType,
		RelatedObjectID:   item.RelatedObjectID,
	}

	var (
		result  models.DecisionItem
		created bool
	)
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := sqliteListDecisions(ctx, tx, filter)
		if err != nil {
			return err
		}
		if covering, ok := coveringItem(existing, item.TriggerRule); ok {
			result, created = covering, false
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO decision_items (`+decisionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.WorkspaceID, item.DecisionType, item.Title, item.Description, string(item.Status), string(item.Severity),
			item.RequiresApproval, formatTime(item.ApprovalDeadline), string(item.RequiredRole), item.RelatedObjectType,
			item.RelatedObjectID, item.TriggerRule, item.PriorityScore, item.EstimatedImpactUSD, item.AffectedCount,
			item.RiskIfDelayed, string(ctxJSON), item.CreatedBy, item.CreatedByType, formatTime(item.CreatedAt),
			formatTime(item.UpdatedAt), formatTimePtr(item.DecisionMadeAt), item.DecisionMadeBy, item.DecisionRationale)
		if err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
		if err := sqliteApplyEffects(ctx, tx, p.Effects); err != nil {
			return err
		}
		result, created = item, true
		return nil
	})
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		existing, lerr := sqliteListDecisions(ctx, s.db, filter)
		if lerr != nil {
			return models.DecisionItem{}, false, lerr
		}
		if covering, ok := coveringItem(existing, item.TriggerRule); ok {
			return covering, false, nil
		}
	}
	if err != nil {
		return models.DecisionItem{}, false, err
	}
	return result, created, nil
}

// GetDecision fetches a decision item by id.
func (s *SQLite) GetDecision(ctx context.Context, id string) (models.DecisionItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decision_items WHERE id = ?`, id)
	item, err := scanSQLiteDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DecisionItem{}, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	return item, err
}

// ListDecisions returns decision items matching f.
func (s *SQLite) ListDecisions(ctx context.Context, f DecisionFilter) ([]models.DecisionItem, error) {
	return sqliteListDecisions(ctx, s.db, f)
}

func sqliteListDecisions(ctx context.Context, q sqlQuerier, f DecisionFilter) ([]models.DecisionItem, error) {
	var (
		where []string
		args  []any
	)
	if f.WorkspaceID != 0 {
		where = append(where, "workspace_id = ?")
		args = append(args, f.WorkspaceID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.RelatedObjectType != "" {
		where = append(where, "related_object_type = ?")
		args = append(args, f.RelatedObjectType)
	}
	if f.RelatedObjectID != "" {
		where = append(where, "related_object_id = ?")
		args = append(args, f.RelatedObjectID)
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.CreatedAfter))
	}
	if !f.DeadlineBefore.IsZero() {
		where = append(where, "approval_deadline < ?")
		args = append(args, formatTime(f.DeadlineBefore))
	}
	query := `SELECT ` + decisionColumns + ` FROM decision_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.OrderByPriority {
		query += ` ORDER BY priority_score DESC, created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at ASC, id ASC`
	}
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()
	var out []models.DecisionItem
	for rows.Next() {
		item, err := scanSQLiteDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UpdatePriorityScores persists recomputed scores for pending items.
func (s *SQLite) UpdatePriorityScores(ctx context.Context, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for id, score := range scores {
			if score < 0 {
				score = 0
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE decision_items SET priority_score = ? WHERE id = ? AND status = 'pending'`, score, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update priority scores: %w", err)
	}
	return nil
}

// ApplyTransitions applies all transitions atomically. If any item is no longer in its
// expected status nothing is written and ErrStatusConflict is returned.
func (s *SQLite) ApplyTransitions(ctx context.Context, ts []Transition) error {
	if len(ts) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range ts {
			ctxJSON, err := marshalMap(t.Item.ContextData)
			if err != nil {
				return fmt.Errorf("marshal context data: %w", err)
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE decision_items
				SET status = ?, severity = ?, required_role = ?, approval_deadline = ?, priority_score = ?,
				    context_data = ?, updated_at = ?, decision_made_at = ?, decision_made_by = ?, decision_rationale = ?
				WHERE id = ? AND status = ?`,
				string(t.Item.Status), string(t.Item.Severity), string(t.Item.RequiredRole), formatTime(t.Item.ApprovalDeadline),
				t.Item.PriorityScore, string(ctxJSON), formatTime(t.Item.UpdatedAt), formatTimePtr(t.Item.DecisionMadeAt),
				t.Item.DecisionMadeBy, t.Item.DecisionRationale, t.Item.ID, string(t.ExpectStatus))
			if err != nil {
				return fmt.Errorf("update decision %s: %w", t.Item.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("decision %s: %w", t.Item.ID, ErrStatusConflict)
			}
			if err := sqliteApplyEffects(ctx, tx, t.Effects); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendAudit adds an audit row.
func (s *SQLite) AppendAudit(ctx context.Context, e models.AuditLogEntry) error {
	return retryOnContention(func() error {
		return sqliteInsertAudit(ctx, s.db, e)
	})
}

// ListAudit returns the audit trail of one object, oldest first.
func (s *SQLite) ListAudit(ctx context.Context, objectType, objectID string) ([]models.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, actor_type, actor_id, object_type, object_id, details, created_at
		FROM audit_logs WHERE object_type = ? AND object_id = ? ORDER BY id`, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var details, created string
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorType, &e.ActorID, &e.ObjectType, &e.ObjectID, &details, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if e.Details, err = unmarshalMap([]byte(details)); err != nil {
			return nil, fmt.Errorf("unmarshal audit details: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateNotification stores n unless its dedup key was already used. It reports whether a row was written.
func (s *SQLite) CreateNotification(ctx context.Context, n models.Notification) (bool, error) {
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = sqliteInsertNotification(ctx, tx, n)
		return err
	})
	return created, err
}

// ListNotifications returns the newest notifications of a workspace.
func (s *SQLite) ListNotifications(ctx context.Context, workspaceID int64, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, type, title, message, data, dedup_key, created_at
		FROM notifications WHERE workspace_id = ? ORDER BY id DESC LIMIT ?`, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var data, created string
		var dedup sql.NullString
		if err := rows.Scan(&n.ID, &n.WorkspaceID, &n.Type, &n.Title, &n.Message, &data, &dedup, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if n.Data, err = unmarshalMap([]byte(data)); err != nil {
			return nil, fmt.Errorf("unmarshal notification data: %w", err)
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		n.DedupKey = dedup.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// EnqueueOutbox stores an outbound event for the publisher.
func (s *SQLite) EnqueueOutbox(ctx context.Context, ev models.OutboxEvent) error {
	return retryOnContention(func() error {
		return sqliteInsertOutbox(ctx, s.db, ev)
	})
}

// PendingOutbox returns unpublished events, oldest first.
func (s *SQLite) PendingOutbox(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream, event_type, aggregate_type, aggregate_id, payload, status, retry_count, last_error, created_at, published_at
		FROM outbox_events
		WHERE status IN ('pending', 'failed') AND retry_count < ?
		ORDER BY created_at, id
		LIMIT ?`, MaxOutboxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("pending outbox: %w", err)
	}
	defer rows.Close()
	var out []models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		var payload, created string
		var lastErr, published sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Stream, &ev.EventType, &ev.AggregateType, &ev.AggregateID, &payload, &ev.Status,
			&ev.RetryCount, &lastErr, &created, &published); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		if ev.Payload, err = unmarshalMap([]byte(payload)); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		if ev.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if ev.PublishedAt, err = parseTimePtr(published); err != nil {
			return nil, err
		}
		ev.LastError = nullStringPtr(lastErr)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkOutboxPublished flags an event as delivered.
func (s *SQLite) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	err := retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE outbox_events SET status = 'published', published_at = ?, last_error = NULL WHERE id = ?`,
			formatTime(at), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

// MarkOutboxFailed records a failed attempt; the event is retried on a later tick.
func (s *SQLite) MarkOutboxFailed(ctx context.Context, id string, reason string) error {
	err := retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE outbox_events SET status = 'failed', retry_count = retry_count + 1, last_error = ? WHERE id = ?`,
			reason, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// MarkOutboxDeferred records why delivery was postponed without spending a retry.
func (s *SQLite) MarkOutboxDeferred(ctx context.Context, id string, reason string) error {
	err := retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE outbox_events SET last_error = ? WHERE id = ?`, reason, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark outbox deferred: %w", err)
	}
	return nil
}

func sqliteApplyEffects(ctx context.Context, q sqlQuerier, fx Effects) error {
	for _, e := range fx.Audit {
		if err := sqliteInsertAudit(ctx, q, e); err != nil {
			return err
		}
	}
	for _, n := range fx.Notifications {
		if _, err := sqliteInsertNotification(ctx, q, n); err != nil {
			return err
		}
	}
	for _, ev := range fx.Outbox {
		if err := sqliteInsertOutbox(ctx, q, ev); err != nil {
			return err
		}
	}
	return nil
}

func sqliteInsertAudit(ctx context.Context, q sqlQuerier, e models.AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details, err := marshalMap(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_logs (action, actor_type, actor_id, object_type, object_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Action, e.ActorType, e.ActorID, e.ObjectType, e.ObjectID, string(details), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// sqliteInsertNotification writes n and its UI broadcast event. A reused dedup key writes nothing.
func sqliteInsertNotification(ctx context.Context, q sqlQuerier, n models.Notification) (bool, error) {
	n = prepareNotification(n)
	data, err := marshalMap(n.Data)
	if err != nil {
		return false, fmt.Errorf("marshal notification data: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO notifications (workspace_id, type, title, message, data, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedup_key) DO NOTHING`,
		n.WorkspaceID, n.Type, n.Title, n.Message, string(data), emptyToNil(n.DedupKey), formatTime(n.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if err := sqliteInsertOutbox(ctx, q, broadcastFor(n)); err != nil {
		return false, err
	}
	return true, nil
}

func sqliteInsertOutbox(ctx context.Context, q sqlQuerier, ev models.OutboxEvent) error {
	ev = prepareOutbox(ev)
	payload, err := marshalMap(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox_events (id, stream, event_type, aggregate_type, aggregate_id, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		ev.ID, ev.Stream, ev.EventType, ev.AggregateType, ev.AggregateID, string(payload), ev.Status, formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDecision(row rowScanner) (models.DecisionItem, error) {
	var (
		item                            models.DecisionItem
		status, severity, role, ctxJSON string
		deadline, created, updated      string
		madeAt, madeBy, rationale       sql.NullString
	)
	err := row.Scan(&item.ID, &item.WorkspaceID, &item.DecisionType, &item.Title, &item.Description, &status, &severity,
		&item.RequiresApproval, &deadline, &role, &item.RelatedObjectType, &item.RelatedObjectID, &item.TriggerRule,
		&item.PriorityScore, &item.EstimatedImpactUSD, &item.AffectedCount, &item.RiskIfDelayed, &ctxJSON,
		&item.CreatedBy, &item.CreatedByType, &created, &updated, &madeAt, &madeBy, &rationale)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DecisionItem{}, err
		}
		return models.DecisionItem{}, fmt.Errorf("scan decision: %w", err)
	}
	item.Status = models.Status(status)
	item.Severity = models.Severity(severity)
	item.RequiredRole = models.Role(role)
	if item.ApprovalDeadline, err = parseTime(deadline); err != nil {
		return models.DecisionItem{}, err
	}
	if item.CreatedAt, err = parseTime(created); err != nil {
		return models.DecisionItem{}, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return models.DecisionItem{}, err
	}
	if item.DecisionMadeAt, err = parseTimePtr(madeAt); err != nil {
		return models.DecisionItem{}, err
	}
	item.DecisionMadeBy = nullStringPtr(madeBy)
	item.DecisionRationale = nullStringPtr(rationale)
	if item.ContextData, err = unmarshalMap([]byte(ctxJSON)); err != nil {
		return models.DecisionItem{}, fmt.Errorf("unmarshal context data: %w", err)
	}
	return item, nil
}

func scanSQLiteSubject(row rowScanner) (models.Subject, error) {
	var (
		subj                models.Subject
		attrs, updated      string
		execStatus, execErr sql.NullString
	)
	if err := row.Scan(&subj.Type, &subj.ID, &subj.WorkspaceID, &subj.Status, &attrs, &execStatus, &execErr, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subject{}, err
		}
		return models.Subject{}, fmt.Errorf("scan subject: %w", err)
	}
	var err error
	if subj.Attributes, err = unmarshalMap([]byte(attrs)); err != nil {
		return models.Subject{}, fmt.Errorf("unmarshal attributes: %w", err)
	}
	if subj.UpdatedAt, err = parseTime(updated); err != nil {
		return models.Subject{}, err
	}
	subj.ExecutionStatus = execStatus.String
	subj.ExecutionError = execErr.String
	return subj, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}
