package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/store"
)

func newTestRelay(t *testing.T) (*Relay, *store.SQLite, *bus.RedisStreams, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{OutboxBatch: 10, DLQName: "agents.dlq"}
	b := bus.NewRedisStreamsWithClient(client, cfg)
	return NewRelay(cfg, st, b), st, b, mr
}

func TestFlushPublishesUnderRowID(t *testing.T) {
	ctx := context.Background()
	relay, st, b, _ := newTestRelay(t)

	ev := models.OutboxEvent{
		ID:            "11111111-2222-3333-4444-555555555555",
		Stream:        "decisions.events",
		EventType:     "decision_created",
		AggregateType: "decision_item",
		AggregateID:   "d-1",
		Payload:       map[string]any{"decision_id": "d-1"},
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := st.EnqueueOutbox(ctx, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := relay.Flush(ctx)
	if err != nil || n != 1 {
		t.Fatalf("flush: n=%d err=%v", n, err)
	}
	msgs, err := b.ReadRange(ctx, "decisions.events", "", 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("read: n=%d err=%v", len(msgs), err)
	}
	if msgs[0].EnvelopeID != ev.ID || !msgs[0].Timestamp.Equal(ev.CreatedAt) {
		t.Fatalf("unexpected envelope %+v", msgs[0])
	}
	var payload map[string]any
	if err := bus.Decode(msgs[0], &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["event_type"] != "decision_created" || payload["decision_id"] != "d-1" {
		t.Fatalf("unexpected payload %v", payload)
	}

	pending, err := st.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("published row still pending")
	}
	if n, _ := relay.Flush(ctx); n != 0 {
		t.Fatalf("row published twice")
	}
}

func TestFlushBroadcastsNotifications(t *testing.T) {
	ctx := context.Background()
	relay, st, b, _ := newTestRelay(t)

	sub := b.Client().Subscribe(ctx, bus.BroadcastPrefix+"approval_required")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	created, err := st.CreateNotification(ctx, models.Notification{
		WorkspaceID: 1,
		Type:        "approval_required",
		Title:       "Approval Required",
		Message:     "decision d-1 needs director approval",
		DedupKey:    "approval_required:d-1",
	})
	if err != nil || !created {
		t.Fatalf("create notification: created=%v err=%v", created, err)
	}
	if n, err := relay.Flush(ctx); err != nil || n != 1 {
		t.Fatalf("flush: n=%d err=%v", n, err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "ui.broadcast.approval_required" {
			t.Fatalf("unexpected channel %s", msg.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast not received")
	}
}

func TestFlushDefersOnBrokerOutage(t *testing.T) {
	ctx := context.Background()
	relay, st, _, mr := newTestRelay(t)

	for _, id := range []string{"a", "b"} {
		if err := st.EnqueueOutbox(ctx, models.OutboxEvent{ID: id, Stream: "decisions.events", EventType: "decision_created"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	mr.Close()

	n, err := relay.Flush(ctx)
	if n != 0 || !bus.IsTransport(err) {
		t.Fatalf("expected transport error, n=%d err=%v", n, err)
	}
	pending, err := st.PendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected both rows retained got %d", len(pending))
	}
	for _, ev := range pending {
		if ev.RetryCount != 0 {
			t.Fatalf("outage spent a retry on %s: %d", ev.ID, ev.RetryCount)
		}
	}
	// the batch stops at the first transport failure
	if pending[0].LastError == nil || pending[1].LastError != nil {
		t.Fatalf("expected only the head row to record the outage")
	}
}

func TestFlushDeliversAfterLongOutage(t *testing.T) {
	ctx := context.Background()
	relay, st, b, mr := newTestRelay(t)

	ev := models.OutboxEvent{ID: "po-1", Stream: "procurement.actions", EventType: "po_approved", Payload: map[string]any{"po_id": "PO-1"}}
	if err := st.EnqueueOutbox(ctx, ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	mr.Close()
	for i := 0; i < store.MaxOutboxRetries+5; i++ {
		if _, err := relay.Flush(ctx); !bus.IsTransport(err) {
			t.Fatalf("tick %d: expected transport error got %v", i, err)
		}
	}
	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}

	if n, err := relay.Flush(ctx); err != nil || n != 1 {
		t.Fatalf("expected delivery after recovery: n=%d err=%v", n, err)
	}
	if n, _ := b.StreamLength(ctx, "procurement.actions"); n != 1 {
		t.Fatalf("expected event on stream got %d", n)
	}
	if pending, _ := st.PendingOutbox(ctx, 10); len(pending) != 0 {
		t.Fatalf("expected outbox drained got %d", len(pending))
	}
}
