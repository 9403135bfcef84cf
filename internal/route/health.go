package route

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober actively checks one pipeline's upstream reachability. Implemented
// by the Provider stage's HTTP health-check call.
type Prober interface {
	Probe(ctx context.Context) error
}

// PassiveHealth reports a pipeline's last-known health without making a
// network call, e.g. a circuit breaker's open/closed state. It is
// consulted between active probe cycles so a pipeline that has just
// tripped its breaker is skipped immediately rather than waiting out the
// current Refresh interval.
type PassiveHealth interface {
	PassiveHealthy() bool
}

// FanOutHealth is a Health backed by concurrently probing every registered
// pipeline, grounded on the teacher's errgroup-based parallel validator
// chain (agent/guardrails/chain.go's ChainModeParallel), retargeted from
// running N content validators to running N upstream reachability checks.
// A probe failure never aborts the others — every pipeline gets a result
// every cycle regardless of how many of its peers are down.
type FanOutHealth struct {
	mu      sync.RWMutex
	probers map[string]Prober
	passive map[string]PassiveHealth
	status  map[string]bool
	logger  *zap.Logger
}

// NewFanOutHealth builds an empty FanOutHealth; every pipeline id is
// reported healthy until Register'd and, for an active signal, Refresh'd.
func NewFanOutHealth(logger *zap.Logger) *FanOutHealth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FanOutHealth{
		probers: make(map[string]Prober),
		passive: make(map[string]PassiveHealth),
		status:  make(map[string]bool),
		logger:  logger,
	}
}

// Register associates a pipeline id with its active prober and, if it
// implements one, its passive health signal. Either may be nil.
func (h *FanOutHealth) Register(pipelineID string, prober Prober, passive PassiveHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prober != nil {
		h.probers[pipelineID] = prober
	}
	if passive != nil {
		h.passive[pipelineID] = passive
	}
}

// IsHealthy implements Health: a pipeline whose passive signal currently
// reports unhealthy is unhealthy regardless of its last active probe
// result; otherwise the last Refresh result is used, defaulting to healthy
// for a pipeline never probed yet.
func (h *FanOutHealth) IsHealthy(pipelineID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if passive, ok := h.passive[pipelineID]; ok && !passive.PassiveHealthy() {
		return false
	}
	if status, ok := h.status[pipelineID]; ok {
		return status
	}
	return true
}

// Refresh fans out one Probe per registered pipeline concurrently, bounded
// by timeout regardless of how many pipelines are registered, and records
// each result for IsHealthy to consult until the next Refresh.
func (h *FanOutHealth) Refresh(ctx context.Context, timeout time.Duration) {
	h.mu.RLock()
	probers := make(map[string]Prober, len(h.probers))
	for id, p := range h.probers {
		probers[id] = p
	}
	h.mu.RUnlock()
	if len(probers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resultsMu sync.Mutex
	results := make(map[string]bool, len(probers))
	g, gctx := errgroup.WithContext(ctx)
	for id, p := range probers {
		id, p := id, p
		g.Go(func() error {
			err := p.Probe(gctx)
			resultsMu.Lock()
			results[id] = err == nil
			resultsMu.Unlock()
			if err != nil {
				h.logger.Warn("pipeline health probe failed", zap.String("pipeline", id), zap.Error(err))
			}
			return nil // never let one failing probe cancel its siblings
		})
	}
	_ = g.Wait()

	h.mu.Lock()
	for id, ok := range results {
		h.status[id] = ok
	}
	h.mu.Unlock()
}

// StartBackground runs Refresh on interval until ctx is cancelled, so a
// pipeline that has gone unreachable is skipped within one interval
// instead of only after a request has already failed against it.
func (h *FanOutHealth) StartBackground(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Refresh(ctx, timeout)
			}
		}
	}()
}
