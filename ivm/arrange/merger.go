package arrange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Merger drives trace maintenance off the ingestion path. It watches any
// number of traces and runs their merge steps from a background goroutine,
// woken by Kick after inserts or by a slow timer. Merge failures are
// logged and retried on the next round rather than surfaced: merging only
// amortizes read cost, it is never on the correctness path.
type Merger struct {
	logger   *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	traces []*Trace

	kick   chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewMerger returns a merger that wakes at least every interval. A zero
// interval defaults to one second.
func NewMerger(logger *zap.Logger, interval time.Duration) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Merger{
		logger:   logger,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Watch adds a trace to the maintenance rotation.
func (m *Merger) Watch(t *Trace) {
	m.mu.Lock()
	m.traces = append(m.traces, t)
	m.mu.Unlock()
	m.Kick()
}

// Kick nudges the merger to run a round soon. Safe to call from any
// goroutine; redundant kicks coalesce.
func (m *Merger) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Start launches the background loop. Stop (or cancelling ctx) shuts it
// down; abandoning mid-merge is safe because merges swap atomically or not
// at all.
func (m *Merger) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.group, ctx = errgroup.WithContext(ctx)
	m.group.Go(func() error {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-m.kick:
			case <-ticker.C:
			}
			m.round(ctx)
		}
	})
}

// Stop shuts the loop down and waits for it.
func (m *Merger) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	return m.group.Wait()
}

// round runs maintenance on every watched trace until each reports no
// further work or the context is cancelled.
func (m *Merger) round(ctx context.Context) {
	m.mu.Lock()
	traces := append([]*Trace(nil), m.traces...)
	m.mu.Unlock()

	for _, t := range traces {
		for {
			if ctx.Err() != nil {
				return
			}
			did, err := t.MaintenanceStep()
			if err != nil {
				m.logger.Warn("merge step failed, will retry", zap.Error(err))
				break
			}
			if !did {
				break
			}
		}
	}
}
