package archive

import (
	"context"
	"errors"
	"log"
	"time"

	"supplychain-orchestrator/internal/config"
)

// StreamTrimmer is the part of the bus used to cap stream lengths.
type StreamTrimmer interface {
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)
	TrimBefore(ctx context.Context, stream, minID string) (int64, error)
	StreamLength(ctx context.Context, stream string) (int64, error)
	DLQName() string
}

// Trimmer caps every known stream at StreamMaxLen. The dead-letter stream is only trimmed
// up to the archive cursor so nothing is evicted before it has been archived.
type Trimmer struct {
	cfg      config.Config
	bus      StreamTrimmer
	archiver *Archiver
	streams  []string
}

func NewTrimmer(cfg config.Config, b StreamTrimmer, archiver *Archiver, streams []string) *Trimmer {
	return &Trimmer{cfg: cfg, bus: b, archiver: archiver, streams: streams}
}

func (t *Trimmer) Name() string { return "stream-trim" }

func (t *Trimmer) Interval() time.Duration { return t.cfg.MaintenanceInterval }

func (t *Trimmer) Run(ctx context.Context) error {
	_, err := t.Trim(ctx)
	return err
}

// Trim returns the number of evicted entries across all streams.
func (t *Trimmer) Trim(ctx context.Context) (int64, error) {
	if t.cfg.StreamMaxLen <= 0 {
		return 0, nil
	}
	var (
		evicted int64
		errs    []error
	)
	for _, stream := range t.streams {
		n, err := t.bus.Trim(ctx, stream, t.cfg.StreamMaxLen)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		evicted += n
	}

	n, err := t.trimDeadLetters(ctx)
	evicted += n
	if err != nil {
		errs = append(errs, err)
	}
	if evicted > 0 {
		log.Printf("archive: trimmed %d stream entries", evicted)
	}
	return evicted, errors.Join(errs...)
}

func (t *Trimmer) trimDeadLetters(ctx context.Context) (int64, error) {
	if t.archiver == nil {
		return 0, nil
	}
	dlq := t.bus.DLQName()
	length, err := t.bus.StreamLength(ctx, dlq)
	if err != nil || length <= t.cfg.StreamMaxLen {
		return 0, err
	}
	cursor, err := t.archiver.Cursor(ctx)
	if err != nil || cursor == "" {
		return 0, err
	}
	// MINID keeps the cursor entry itself.
	return t.bus.TrimBefore(ctx, dlq, cursor)
}
