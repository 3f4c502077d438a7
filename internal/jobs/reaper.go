package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
	"github.com/gpresearch2025/ai-voice-agent/internal/metrics"
	"github.com/gpresearch2025/ai-voice-agent/internal/models"
	"github.com/gpresearch2025/ai-voice-agent/internal/services"
	"github.com/gpresearch2025/ai-voice-agent/internal/storage"
)

const (
	DefaultReapInterval = 2 * time.Minute
	DefaultReapMaxAge   = 15 * time.Minute

	// DefaultLookupTimeout bounds the carrier lookup made for each stale call
	DefaultLookupTimeout = 5 * time.Second
)

// Reaper closes sessions that never received a terminating status callback
type Reaper struct {
	store    storage.Store
	calls    *services.CallStateManager
	metrics  *metrics.Metrics
	lookup   services.CallLookup
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time

	lookupTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReaperOption configures a Reaper
type ReaperOption func(*Reaper)

// WithCallLookup logs the carrier's view of each stale call before it is closed
func WithCallLookup(lookup services.CallLookup) ReaperOption {
	return func(r *Reaper) {
		r.lookup = lookup
	}
}

// WithLookupTimeout overrides how long a carrier lookup may take before the
// call is closed without it
func WithLookupTimeout(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// WithReaperClock overrides the clock
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		r.now = now
	}
}

// NewReaper creates a new stale session reaper
func NewReaper(store storage.Store, calls *services.CallStateManager, m *metrics.Metrics,
	interval, maxAge time.Duration, opts ...ReaperOption) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultReapMaxAge
	}
	if m == nil {
		m = metrics.New("")
	}
	r := &Reaper{
		store:    store,
		calls:    calls,
		metrics:  m,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,

		lookupTimeout: DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs Sweep once right away and then every interval until Stop is
// called or ctx is done
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		logger.Base().Warn("reaper already running")
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	logger.Base().Info("starting stale session reaper",
		zap.Duration("interval", r.interval),
		zap.Duration("max_age", r.maxAge))

	go r.run(ctx, r.done)
}

// Stop halts the reaper and waits for an in-flight sweep to finish
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logger.Base().Info("stale session reaper stopped")
}

func (r *Reaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.sweepLogged(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepLogged(ctx)
		}
	}
}

func (r *Reaper) sweepLogged(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Base().Error("reaper sweep failed", zap.Error(err))
	}
}

// Sweep closes every active session older than the max age and returns how many
// it closed. Candidates are listed without any call lock; each one is re-read
// under its own lock before closing, so a call that ended meanwhile is skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	deadline := r.now().Add(-r.maxAge)

	stale, err := r.store.FindActiveOlderThan(ctx, deadline)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, candidate := range stale {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if r.reap(ctx, candidate.CallSID, deadline) {
			closed++
		}
	}

	if closed > 0 {
		logger.Base().Info("reaper closed stale sessions", zap.Int("closed", closed), zap.Int("candidates", len(stale)))
	}
	return closed, nil
}

func (r *Reaper) reap(ctx context.Context, callSID string, deadline time.Time) bool {
	log := logger.Call(callSID)

	carrierStatus := ""
	if r.lookup != nil {
		status, err := r.fetchCarrierStatus(ctx, callSID)
		if err != nil {
			log.Warn("carrier call lookup failed", zap.Error(err))
		}
		carrierStatus = status
	}

	unlock := r.calls.Lock(callSID)
	defer unlock()

	current, err := r.store.GetSession(ctx, callSID)
	if err != nil {
		log.Error("reaper failed to reload session", zap.Error(err))
		return false
	}
	if current.Status.IsTerminal() || !current.StartedAt.Before(deadline) {
		return false
	}

	if err := r.store.CloseSession(ctx, callSID, models.CallStatusCompleted, r.now().UTC(), models.ClosedByReaper); err != nil {
		log.Error("reaper failed to close session", zap.Error(err))
		return false
	}

	r.calls.End(callSID)
	r.metrics.ReaperClosed.Inc()
	r.metrics.RecordClosed(string(models.CallStatusCompleted), models.ClosedByReaper)
	r.metrics.LiveCalls.Set(float64(r.calls.Count()))

	log.Info("closed stale session",
		zap.String("last_status", string(current.Status)),
		zap.Time("started_at", current.StartedAt),
		zap.String("carrier_status", carrierStatus))
	return true
}

type lookupResult struct {
	status string
	err    error
}

// fetchCarrierStatus gives up after the lookup timeout. An abandoned lookup
// finishes in the background and its result is dropped.
func (r *Reaper) fetchCarrierStatus(ctx context.Context, callSID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	result := make(chan lookupResult, 1)
	go func() {
		status, err := r.lookup.FetchCallStatus(callSID)
		result <- lookupResult{status: status, err: err}
	}()

	select {
	case res := <-result:
		return res.status, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
