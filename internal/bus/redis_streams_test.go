package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"supplychain-orchestrator/internal/config"
)

func newTestBus(t *testing.T) (*RedisStreams, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStreamsWithClient(client, config.Config{DLQName: "agents.dlq", ConsumerGroup: "orchestrator"}), mr
}

type riskEvent struct {
	EventType  string  `json:"event_type"`
	ShipmentID int     `json:"shipment_id"`
	RiskScore  float64 `json:"risk_score"`
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	id, err := b.Publish(ctx, "risk.events", riskEvent{EventType: "shipment_updated", ShipmentID: 42, RiskScore: 9.1})
	if err != nil || id == "" {
		t.Fatalf("publish: id=%q err=%v", id, err)
	}

	// group created after publish starts at 0, so the entry is still delivered
	msgs, err := b.Consume(ctx, "risk.events", "orchestrator", "c1", 10, 0)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.ID != id || msg.EnvelopeID == "" || msg.Timestamp.IsZero() {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	var got riskEvent
	if err := Decode(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ShipmentID != 42 || got.RiskScore != 9.1 {
		t.Fatalf("payload mismatch %+v", got)
	}

	again, err := b.Consume(ctx, "risk.events", "orchestrator", "c2", 10, 0)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("delivered entry must not be handed to another consumer, got %d", len(again))
	}
}

func TestAckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	if _, err := b.Publish(ctx, "approvals.requests", map[string]any{"recommendation_id": 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs, err := b.Consume(ctx, "approvals.requests", "orchestrator", "c1", 10, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("consume: n=%d err=%v", len(msgs), err)
	}
	if n, _ := b.Pending(ctx, "approvals.requests", "orchestrator"); n != 1 {
		t.Fatalf("expected 1 pending got %d", n)
	}
	for i := 0; i < 2; i++ {
		if err := b.Ack(ctx, "approvals.requests", "orchestrator", msgs[0].ID); err != nil {
			t.Fatalf("ack %d: %v", i, err)
		}
	}
	if n, _ := b.Pending(ctx, "approvals.requests", "orchestrator"); n != 0 {
		t.Fatalf("expected 0 pending got %d", n)
	}
}

func TestClaimAbandoned(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	if _, err := b.Publish(ctx, "route.events", map[string]any{"event_type": "shipment_updated"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := b.Consume(ctx, "route.events", "orchestrator", "crashed", 10, 0); err != nil {
		t.Fatalf("consume: %v", err)
	}

	claimed, err := b.ClaimAbandoned(ctx, "route.events", "orchestrator", "survivor", 0, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected abandoned entry to be claimed, got %d", len(claimed))
	}
	if err := b.Ack(ctx, "route.events", "orchestrator", claimed[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, _ := b.Pending(ctx, "route.events", "orchestrator"); n != 0 {
		t.Fatalf("expected no pending entries after ack, got %d", n)
	}
}

func TestMalformedEntryIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	b, mr := newTestBus(t)

	if _, err := mr.XAdd("risk.events", "*", []string{"id", "x", "timestamp", "2024-01-01T00:00:00Z", "data", "{not json"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	msgs, err := b.Consume(ctx, "risk.events", "orchestrator", "c1", 10, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("consume: n=%d err=%v", len(msgs), err)
	}

	var payload map[string]any
	decodeErr := Decode(msgs[0], &payload)
	if !IsDeserialization(decodeErr) {
		t.Fatalf("expected deserialization error got %v", decodeErr)
	}
	if err := b.DeadLetter(ctx, msgs[0], decodeErr); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}
	if err := b.Ack(ctx, "risk.events", "orchestrator", msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	dead, err := b.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter got %d", len(dead))
	}
	if dead[0].OriginalStream != "risk.events" || dead[0].OriginalID != msgs[0].ID || dead[0].OriginalData != "{not json" {
		t.Fatalf("unexpected dead letter %+v", dead[0])
	}
	if dead[0].Agent != "orchestrator" || dead[0].Error == "" || dead[0].FailedAt.IsZero() {
		t.Fatalf("dead letter missing metadata %+v", dead[0])
	}
	if n, _ := b.Pending(ctx, "risk.events", "orchestrator"); n != 0 {
		t.Fatalf("malformed entry should not be redelivered, pending=%d", n)
	}
}

func TestReadRangeAfterPosition(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := b.Publish(ctx, "decisions.events", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		ids = append(ids, id)
	}
	msgs, err := b.ReadRange(ctx, "decisions.events", ids[0], 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != ids[1] {
		t.Fatalf("expected entries after %s, got %+v", ids[0], msgs)
	}
	n, err := b.StreamLength(ctx, "decisions.events")
	if err != nil || n != 3 {
		t.Fatalf("length n=%d err=%v", n, err)
	}
}

func TestBrokerDownIsTransportError(t *testing.T) {
	ctx := context.Background()
	b, mr := newTestBus(t)
	mr.Close()

	_, err := b.Publish(ctx, "decisions.events", map[string]any{"ok": true})
	if !IsTransport(err) {
		t.Fatalf("expected transport error got %v", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "publish" {
		t.Fatalf("unexpected error shape %#v", err)
	}
	if _, err := b.Consume(ctx, "risk.events", "orchestrator", "c1", 1, 10*time.Millisecond); !IsTransport(err) {
		t.Fatalf("expected transport error on consume got %v", err)
	}
}
