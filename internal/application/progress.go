package application

import (
	"context"
	"fmt"

	"github.com/jobrunner/fieldtally/internal/domain"
	"github.com/jobrunner/fieldtally/internal/ports/output"
)

// Default reporting intervals, in point/field pairs.
const (
	DefaultBatchSize    = 10_000
	DefaultMessageEvery = 1_000_000
)

// NextProgress returns the percentage of counter relative to total, clamped to
// [0, 100]. A zero total yields 0.
func NextProgress(counter, total int64) int {
	if total <= 0 || counter <= 0 {
		return 0
	}
	if counter >= total {
		return 100
	}
	return int(counter * 100 / total)
}

// progressTracker owns the pair counter of one run. At every batch boundary it
// reports progress and polls for cancellation; at every message boundary it
// pushes a text message.
type progressTracker struct {
	ctx          context.Context
	fb           output.Feedback
	total        int64
	done         int64
	batchSize    int64
	messageEvery int64
}

func newProgressTracker(ctx context.Context, fb output.Feedback, total int64, batchSize, messageEvery int) *progressTracker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if messageEvery <= 0 {
		messageEvery = DefaultMessageEvery
	}
	return &progressTracker{
		ctx:          ctx,
		fb:           fb,
		total:        total,
		batchSize:    int64(batchSize),
		messageEvery: int64(messageEvery),
	}
}

// advance accounts for the next n pairs. Checkpoints fall on pair indexes that
// are multiples of the interval, starting with pair 0.
func (p *progressTracker) advance(n int64) error {
	if n <= 0 {
		return nil
	}
	start := p.done
	p.done += n

	if crossesMultiple(start, n, p.batchSize) {
		p.fb.SetProgress(NextProgress(start, p.total))
		if err := p.ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}
	}
	if crossesMultiple(start, n, p.messageEvery) {
		p.fb.PushInfo(fmt.Sprintf("processing percentage: %d%%", NextProgress(start, p.total)))
	}
	return nil
}

// crossesMultiple reports whether [start, start+n) contains a multiple of every.
func crossesMultiple(start, n, every int64) bool {
	next := (start + every - 1) / every * every
	return next < start+n
}
