package telemetry

import (
	"context"
	"time"
)

// Flusher drains the buffer on a fixed interval and hands non-empty batches
// to the reporter. Request handlers can also kick it when the buffer crosses
// its threshold; every drain happens on the flusher goroutine, so interval
// and threshold triggers can race without double-reporting a record.
type Flusher struct {
	buffer   *Buffer
	reporter *Reporter
	interval time.Duration
	kick     chan struct{}
}

// NewFlusher creates a flusher for the given buffer and reporter.
func NewFlusher(buffer *Buffer, reporter *Reporter, interval time.Duration) *Flusher {
	return &Flusher{
		buffer:   buffer,
		reporter: reporter,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an out-of-band flush. It never blocks; a kick while one is
// already pending is folded into it.
func (f *Flusher) Kick() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Run flushes until the context is cancelled, then performs one final
// best-effort flush before returning.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush(ctx)
		case <-f.kick:
			f.flush(ctx)
		case <-ctx.Done():
			// Final flush on shutdown; the run context is gone, so give
			// the reporter its own short budget.
			flushCtx, cancel := context.WithTimeout(context.Background(), reportTimeout)
			f.flush(flushCtx)
			cancel()
			return
		}
	}
}

func (f *Flusher) flush(ctx context.Context) {
	batch := f.buffer.Drain()
	if len(batch) == 0 {
		return
	}
	f.reporter.Report(ctx, batch)
}
