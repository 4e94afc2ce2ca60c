package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/models"
	"supplychain-orchestrator/internal/store"
	"supplychain-orchestrator/internal/telemetry"
)

// Publisher is the outbound half of the message bus.
type Publisher interface {
	PublishEnvelope(ctx context.Context, stream string, env bus.Envelope) (string, error)
	Broadcast(ctx context.Context, eventType string, payload any) error
}

// Relay delivers outbox rows written alongside decision changes. Each row is published
// under its own id, so a row re-sent after a crash carries the same envelope id.
type Relay struct {
	cfg   config.Config
	store store.Store
	bus   Publisher
	now   func() time.Time
}

func NewRelay(cfg config.Config, st store.Store, pub Publisher) *Relay {
	return &Relay{
		cfg:   cfg,
		store: st,
		bus:   pub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *Relay) Name() string { return "outbox" }

func (r *Relay) Interval() time.Duration { return r.cfg.OutboxInterval }

func (r *Relay) Run(ctx context.Context) error {
	n, err := r.Flush(ctx)
	if n > 0 {
		log.Printf("outbox: published %d events", n)
	}
	return err
}

// Flush publishes one batch of pending rows and returns how many were delivered.
// A row that fails is marked failed and retried on a later tick, up to the store's retry
// cap. A broker outage does not count against that cap: the row keeps its retry budget
// and the batch stops early since the remaining rows would fail the same way.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	batch := r.cfg.OutboxBatch
	if batch <= 0 {
		batch = 100
	}
	events, err := r.store.PendingOutbox(ctx, batch)
	if err != nil {
		return 0, err
	}

	published := 0
	var errs []error
	for _, ev := range events {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if err := r.publish(ctx, ev); err != nil {
			telemetry.OutboxFailures.Inc()
			errs = append(errs, fmt.Errorf("publish outbox %s: %w", ev.ID, err))
			if bus.IsTransport(err) {
				if markErr := r.store.MarkOutboxDeferred(ctx, ev.ID, err.Error()); markErr != nil {
					errs = append(errs, markErr)
				}
				break
			}
			if markErr := r.store.MarkOutboxFailed(ctx, ev.ID, err.Error()); markErr != nil {
				errs = append(errs, markErr)
			}
			continue
		}
		if err := r.store.MarkOutboxPublished(ctx, ev.ID, r.now()); err != nil {
			errs = append(errs, err)
			continue
		}
		telemetry.OutboxPublished.Inc()
		published++
	}
	return published, errors.Join(errs...)
}

func (r *Relay) publish(ctx context.Context, ev models.OutboxEvent) error {
	if strings.HasPrefix(ev.Stream, store.BroadcastStreamPrefix) {
		return r.bus.Broadcast(ctx, strings.TrimPrefix(ev.Stream, store.BroadcastStreamPrefix), ev.Payload)
	}
	payload := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	if _, ok := payload["event_type"]; !ok {
		payload["event_type"] = ev.EventType
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.EventType, err)
	}
	_, err = r.bus.PublishEnvelope(ctx, ev.Stream, bus.Envelope{
		ID:        ev.ID,
		Timestamp: ev.CreatedAt,
		Data:      data,
	})
	return err
}
