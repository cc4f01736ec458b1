// Package health periodically probes the segmentation backend so readiness
// can be answered without touching it on every request.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/redevil1/rembg-gui/rembg"
)

var errNotChecked = errors.New("not checked yet")

type Status struct {
	Healthy   bool          `json:"healthy"`
	CheckedAt time.Time     `json:"checkedAt"`
	Latency   time.Duration `json:"latencyNs"`
	Error     string        `json:"error,omitempty"`
}

type Monitor struct {
	prober  rembg.Prober
	timeout time.Duration
	cron    *cron.Cron
	status  atomic.Pointer[Status]
}

func NewMonitor(prober rembg.Prober, timeout time.Duration) *Monitor {
	logger := cronLogger{log.Logger.With().Str("component", "health").Logger()}
	return &Monitor{
		prober:  prober,
		timeout: timeout,
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		), cron.WithLogger(logger)),
	}
}

// Start runs one probe synchronously, then schedules further probes with a
// cron spec such as "@every 30s".
func (m *Monitor) Start(ctx context.Context, schedule string) error {
	if _, err := m.cron.AddFunc(schedule, func() { m.Check(ctx) }); err != nil {
		return fmt.Errorf("schedule health check %q: %w", schedule, err)
	}
	m.Check(ctx)
	m.cron.Start()
	return nil
}

// Stop halts the scheduler and returns a context done once running probes
// have finished.
func (m *Monitor) Stop() context.Context {
	return m.cron.Stop()
}

func (m *Monitor) Check(ctx context.Context) Status {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	err := m.prober.Ping(ctx)
	s := &Status{
		Healthy:   err == nil,
		CheckedAt: start,
		Latency:   time.Since(start),
	}
	if err != nil {
		s.Error = err.Error()
	}

	prev := m.status.Swap(s)
	switch {
	case prev == nil || prev.Healthy != s.Healthy:
		var ev *zerolog.Event
		if s.Healthy {
			ev = log.Info()
		} else {
			ev = log.Warn().Err(err)
		}
		ev.Bool("healthy", s.Healthy).Dur("latency", s.Latency).Msg("segmentation backend status changed")
	default:
		log.Debug().Bool("healthy", s.Healthy).Dur("latency", s.Latency).Msg("segmentation backend probed")
	}
	return *s
}

// Status returns the latest probe result.
func (m *Monitor) Status() Status {
	if s := m.status.Load(); s != nil {
		return *s
	}
	return Status{Error: errNotChecked.Error()}
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
