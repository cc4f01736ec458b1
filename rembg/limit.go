package rembg

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Limited bounds the number of concurrent calls into a Remover and the time
// each call, including the wait for a slot, may take.
type Limited struct {
	next    Remover
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimited wraps next. concurrency < 1 is treated as 1; a zero timeout
// disables the deadline.
func NewLimited(next Remover, concurrency int, timeout time.Duration) *Limited {
	return &Limited{
		next:    next,
		sem:     semaphore.NewWeighted(int64(max(concurrency, 1))),
		timeout: timeout,
	}
}

func (l *Limited) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for segmentation slot: %w", err)
	}
	defer l.sem.Release(1)

	log.Ctx(ctx).Debug().Dur("waited", time.Since(start)).Msg("acquired segmentation slot")
	return l.next.Remove(ctx, data)
}

// Ping bypasses the limit so health checks never queue behind requests.
func (l *Limited) Ping(ctx context.Context) error {
	if p, ok := l.next.(Prober); ok {
		return p.Ping(ctx)
	}
	return nil
}
