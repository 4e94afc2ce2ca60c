package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/telemetry"
)

// BroadcastPrefix namespaces the pub/sub channels consumed by the UI bridge.
const BroadcastPrefix = "ui.broadcast."

// RedisStreams is the message bus adapter over Redis Streams consumer groups.
type RedisStreams struct {
	client *redis.Client
	dlqKey string
	agent  string
}

// NewRedisStreams builds a bus client from config.
func NewRedisStreams(cfg config.Config) *RedisStreams {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisStreamsWithClient(client, cfg)
}

// NewRedisStreamsWithClient wraps an existing client, sharing its connection pool.
func NewRedisStreamsWithClient(client *redis.Client, cfg config.Config) *RedisStreams {
	dlq := cfg.DLQName
	if dlq == "" {
		dlq = "agents.dlq"
	}
	agent := cfg.ConsumerGroup
	if agent == "" {
		agent = "orchestrator"
	}
	return &RedisStreams{client: client, dlqKey: dlq, agent: agent}
}

// Client exposes the underlying connection for components sharing the pool.
func (b *RedisStreams) Client() *redis.Client {
	return b.client
}

// DLQName is the stream receiving dead-lettered entries.
func (b *RedisStreams) DLQName() string {
	return b.dlqKey
}

// Ping checks broker reachability.
func (b *RedisStreams) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return b.transportErr("ping", "", err)
	}
	return nil
}

// Close releases the connection pool.
func (b *RedisStreams) Close() error {
	return b.client.Close()
}

// Publish appends payload to stream under a fresh envelope id and returns the stream position.
func (b *RedisStreams) Publish(ctx context.Context, stream string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload for %s: %w", stream, err)
	}
	return b.PublishEnvelope(ctx, stream, Envelope{ID: uuid.NewString(), Timestamp: time.Now(), Data: data})
}

// PublishEnvelope appends a pre-built envelope, keeping its id stable across re-publication.
func (b *RedisStreams) PublishEnvelope(ctx context.Context, stream string, env Envelope) (string, error) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			fieldID:        env.ID,
			fieldTimestamp: env.Timestamp.UTC().Format(time.RFC3339Nano),
			fieldData:      string(env.Data),
		},
	}).Result()
	if err != nil {
		return "", b.transportErr("publish", stream, err)
	}
	telemetry.MessagesPublished.WithLabelValues(stream).Inc()
	return id, nil
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (b *RedisStreams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return b.transportErr("create-group", stream, err)
	}
	return nil
}

// Consume delivers up to count never-delivered entries to consumer, blocking at most block.
// A zero or negative block returns immediately.
func (b *RedisStreams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	if err := b.EnsureGroup(ctx, stream, group); err != nil {
		return nil, err
	}
	if block <= 0 {
		block = -1
	}
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, b.transportErr("consume", stream, err)
	}
	var out []Message
	for _, s := range res {
		for _, x := range s.Messages {
			out = append(out, toMessage(s.Stream, x))
		}
	}
	if len(out) > 0 {
		telemetry.MessagesConsumed.WithLabelValues(stream).Add(float64(len(out)))
	}
	return out, nil
}

// Ack removes entries from the group's pending list. Acking an already-acked id is a no-op.
func (b *RedisStreams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return b.transportErr("ack", stream, err)
	}
	return nil
}

// ClaimAbandoned reassigns entries idle longer than minIdle to consumer.
func (b *RedisStreams) ClaimAbandoned(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	if err := b.EnsureGroup(ctx, stream, group); err != nil {
		return nil, err
	}
	msgs, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, b.transportErr("claim", stream, err)
	}
	out := make([]Message, 0, len(msgs))
	for _, x := range msgs {
		// deleted entries come back with no fields
		if len(x.Values) == 0 {
			continue
		}
		out = append(out, toMessage(stream, x))
	}
	if len(out) > 0 {
		telemetry.MessagesClaimed.WithLabelValues(stream).Add(float64(len(out)))
	}
	return out, nil
}

// Pending returns how many entries were delivered to group but not yet acknowledged.
func (b *RedisStreams) Pending(ctx context.Context, stream, group string) (int64, error) {
	res, err := b.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, b.transportErr("pending", stream, err)
	}
	return res.Count, nil
}

// DeadLetter copies msg to the dead-letter stream with the failure cause.
// The caller acknowledges the original afterwards.
func (b *RedisStreams) DeadLetter(ctx context.Context, msg Message, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	original := string(msg.Data)
	if original == "" && len(msg.Fields) > 0 {
		if raw, err := json.Marshal(msg.Fields); err == nil {
			original = string(raw)
		}
	}
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.dlqKey,
		Values: map[string]interface{}{
			"original_stream": msg.Stream,
			"original_id":     msg.ID,
			"original_data":   original,
			"error":           reason,
			"failed_at":       time.Now().UTC().Format(time.RFC3339Nano),
			"agent":           b.agent,
		},
	}).Err()
	if err != nil {
		return b.transportErr("dead-letter", msg.Stream, err)
	}
	telemetry.MessagesDeadLettered.WithLabelValues(msg.Stream).Inc()
	return nil
}

// DLQPeek reads the most recent dead-lettered entries, newest first.
func (b *RedisStreams) DLQPeek(ctx context.Context, count int64) ([]DeadLetter, error) {
	res, err := b.client.XRevRangeN(ctx, b.dlqKey, "+", "-", count).Result()
	if err != nil {
		return nil, b.transportErr("dlq-peek", b.dlqKey, err)
	}
	out := make([]DeadLetter, 0, len(res))
	for _, x := range res {
		out = append(out, toDeadLetter(x))
	}
	return out, nil
}

// ReadDeadLetters reads dead-lettered entries strictly after the given position, oldest first.
func (b *RedisStreams) ReadDeadLetters(ctx context.Context, after string, count int64) ([]DeadLetter, error) {
	msgs, err := b.readAfter(ctx, b.dlqKey, after, count)
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(msgs))
	for _, x := range msgs {
		out = append(out, toDeadLetter(x))
	}
	return out, nil
}

// ReadRange reads entries strictly after the given position without group semantics.
// An empty after starts at the beginning of the stream.
func (b *RedisStreams) ReadRange(ctx context.Context, stream, after string, count int64) ([]Message, error) {
	msgs, err := b.readAfter(ctx, stream, after, count)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(msgs))
	for _, x := range msgs {
		out = append(out, toMessage(stream, x))
	}
	return out, nil
}

func (b *RedisStreams) readAfter(ctx context.Context, stream, after string, count int64) ([]redis.XMessage, error) {
	start := "-"
	fetch := count
	if after != "" {
		start = after
		fetch = count + 1
	}
	res, err := b.client.XRangeN(ctx, stream, start, "+", fetch).Result()
	if err != nil {
		return nil, b.transportErr("range", stream, err)
	}
	if after != "" && len(res) > 0 && res[0].ID == after {
		res = res[1:]
	}
	if int64(len(res)) > count {
		res = res[:count]
	}
	return res, nil
}

// StreamLength returns the number of entries currently in stream.
func (b *RedisStreams) StreamLength(ctx context.Context, stream string) (int64, error) {
	n, err := b.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, b.transportErr("length", stream, err)
	}
	return n, nil
}

// Trim caps stream at roughly maxLen entries and returns how many were evicted.
func (b *RedisStreams) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	n, err := b.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Result()
	if err != nil {
		return 0, b.transportErr("trim", stream, err)
	}
	return n, nil
}

// TrimBefore evicts entries of stream with ids lower than minID and returns how many were removed.
func (b *RedisStreams) TrimBefore(ctx context.Context, stream, minID string) (int64, error) {
	n, err := b.client.XTrimMinID(ctx, stream, minID).Result()
	if err != nil {
		return 0, b.transportErr("trim", stream, err)
	}
	return n, nil
}

// Broadcast fans payload out to UI listeners on ui.broadcast.<eventType>.
func (b *RedisStreams) Broadcast(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(map[string]any{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"data":      payload,
	})
	if err != nil {
		return fmt.Errorf("encode broadcast %s: %w", eventType, err)
	}
	if err := b.client.Publish(ctx, BroadcastPrefix+eventType, data).Err(); err != nil {
		return b.transportErr("broadcast", BroadcastPrefix+eventType, err)
	}
	return nil
}

func (b *RedisStreams) transportErr(op, stream string, err error) error {
	telemetry.BusErrors.WithLabelValues(op).Inc()
	return &TransportError{Op: op, Stream: stream, Err: err}
}
