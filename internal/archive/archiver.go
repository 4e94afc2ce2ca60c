package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"supplychain-orchestrator/internal/bus"
	"supplychain-orchestrator/internal/config"
	"supplychain-orchestrator/internal/telemetry"
)

// CursorKey holds the id of the last dead-letter entry written to the archive.
const CursorKey = "orchestrator:dlq:archive:cursor"

// DeadLetterReader reads the dead-letter stream in id order.
type DeadLetterReader interface {
	ReadDeadLetters(ctx context.Context, after string, count int64) ([]bus.DeadLetter, error)
}

// Archiver copies dead-lettered entries to durable storage in JSON-lines batches.
// The cursor only advances after an upload succeeds, so a failed batch is re-read.
type Archiver struct {
	cfg      config.Config
	dlq      DeadLetterReader
	redis    *redis.Client
	uploader Uploader
	now      func() time.Time
}

func NewArchiver(cfg config.Config, dlq DeadLetterReader, client *redis.Client, up Uploader) *Archiver {
	return &Archiver{
		cfg:      cfg,
		dlq:      dlq,
		redis:    client,
		uploader: up,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *Archiver) Name() string { return "dlq-archive" }

func (a *Archiver) Interval() time.Duration { return a.cfg.MaintenanceInterval }

func (a *Archiver) Run(ctx context.Context) error {
	n, err := a.Archive(ctx)
	if n > 0 {
		log.Printf("archive: wrote %d dead letters", n)
	}
	return err
}

// Cursor returns the last archived entry id, empty when nothing was archived yet.
func (a *Archiver) Cursor(ctx context.Context) (string, error) {
	cursor, err := a.redis.Get(ctx, CursorKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read archive cursor: %w", err)
	}
	return cursor, nil
}

// Archive drains the dead-letter stream past the cursor, one object per batch.
func (a *Archiver) Archive(ctx context.Context) (int, error) {
	batch := a.cfg.ArchiveBatch
	if batch <= 0 {
		batch = 500
	}
	cursor, err := a.Cursor(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		letters, err := a.dlq.ReadDeadLetters(ctx, cursor, batch)
		if err != nil {
			return total, err
		}
		if len(letters) == 0 {
			return total, nil
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, dl := range letters {
			if err := enc.Encode(dl); err != nil {
				return total, fmt.Errorf("encode dead letter %s: %w", dl.ID, err)
			}
		}
		first, last := letters[0].ID, letters[len(letters)-1].ID
		key := fmt.Sprintf("dlq/%s/%s_%s.jsonl", a.now().Format("2006/01/02"), first, last)
		location, err := a.uploader.Upload(ctx, key, buf.Bytes(), "application/x-ndjson")
		if err != nil {
			return total, fmt.Errorf("archive %s: %w", key, err)
		}
		if err := a.redis.Set(ctx, CursorKey, last, 0).Err(); err != nil {
			return total, fmt.Errorf("advance archive cursor: %w", err)
		}
		cursor = last
		total += len(letters)
		telemetry.DLQArchived.Add(float64(len(letters)))
		log.Printf("archive: %d dead letters -> %s", len(letters), location)

		if int64(len(letters)) < batch {
			return total, nil
		}
	}
}
