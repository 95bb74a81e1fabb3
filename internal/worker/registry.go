package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/breaker"
)

const probeTimeout = 2 * time.Second

type healthEntry struct {
	healthy bool
	checked time.Time
}

// Registry holds the closed set of role workers and answers routing health
// queries. HealthCheck results are cached for a short TTL; an open model
// breaker marks every role unhealthy regardless of the probe.
type Registry struct {
	workers  map[domain.WorkerKind]domain.Worker
	upstream *breaker.Breaker
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	health map[domain.WorkerKind]healthEntry
}

// NewRegistry builds a registry over the given workers. upstream may be nil
// when no breaker guards the model provider (tests).
func NewRegistry(upstream *breaker.Breaker, healthTTL time.Duration, workers ...domain.Worker) *Registry {
	if healthTTL <= 0 {
		healthTTL = 30 * time.Second
	}
	r := &Registry{
		workers:  make(map[domain.WorkerKind]domain.Worker, len(workers)),
		upstream: upstream,
		ttl:      healthTTL,
		now:      time.Now,
		health:   make(map[domain.WorkerKind]healthEntry, len(workers)),
	}
	for _, w := range workers {
		r.workers[w.Kind()] = w
	}
	return r
}

// Get returns the worker for kind.
func (r *Registry) Get(kind domain.WorkerKind) (domain.Worker, error) {
	w, ok := r.workers[kind]
	if !ok {
		return nil, fmt.Errorf("op=worker.get: %w: no worker of kind %q", domain.ErrNoAgentAvailable, kind)
	}
	return w, nil
}

// Kinds lists the registered worker kinds.
func (r *Registry) Kinds() []domain.WorkerKind {
	out := make([]domain.WorkerKind, 0, len(r.workers))
	for _, k := range domain.AllWorkerKinds {
		if _, ok := r.workers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Healthy implements the router's health view.
func (r *Registry) Healthy(ctx context.Context, kind domain.WorkerKind) bool {
	w, ok := r.workers[kind]
	if !ok {
		return false
	}
	if r.upstream != nil && r.upstream.State() == breaker.StateOpen {
		return false
	}

	r.mu.Lock()
	entry, cached := r.health[kind]
	fresh := cached && r.now().Sub(entry.checked) < r.ttl
	r.mu.Unlock()
	if fresh {
		return entry.healthy
	}
	return r.probe(ctx, kind, w)
}

// probe runs one HealthCheck outside the registry lock and caches the
// verdict. Concurrent duplicate probes are tolerated; last write wins.
func (r *Registry) probe(ctx context.Context, kind domain.WorkerKind, w domain.Worker) bool {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := w.HealthCheck(pctx)
	if err != nil {
		slog.Warn("worker health probe failed",
			slog.String("worker", string(kind)), slog.Any("error", err))
	}

	r.mu.Lock()
	r.health[kind] = healthEntry{healthy: err == nil, checked: r.now()}
	r.mu.Unlock()
	return err == nil
}

// ProbeAll refreshes every worker's health in parallel and returns the
// kinds that failed. Used by readiness and to warm the cache at startup.
func (r *Registry) ProbeAll(ctx context.Context) map[domain.WorkerKind]error {
	var mu sync.Mutex
	failed := make(map[domain.WorkerKind]error)

	g, gctx := errgroup.WithContext(ctx)
	for kind, w := range r.workers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()

			err := w.HealthCheck(pctx)
			r.mu.Lock()
			r.health[kind] = healthEntry{healthy: err == nil, checked: r.now()}
			r.mu.Unlock()
			if err != nil {
				mu.Lock()
				failed[kind] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// Stats snapshots every worker's counters.
func (r *Registry) Stats() map[domain.WorkerKind]domain.WorkerStats {
	out := make(map[domain.WorkerKind]domain.WorkerStats, len(r.workers))
	for kind, w := range r.workers {
		out[kind] = w.Stats()
	}
	return out
}
