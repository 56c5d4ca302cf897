// Package governor implements the named-semaphore registry (C8) that caps
// per-stage parallelism. Stages acquire a permit before substantive work and
// release it on completion; absent stage names run unbounded.
package governor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dimensional-research/orchestrator/telemetry"
)

// Defaults mirrors the known stage names and their default limits (spec §5
// "Bounded concurrency"). Absent names run unlimited.
var Defaults = map[string]int64{
	"research":            3,
	"dimension_reduction": 1,
}

// Governor is a registry of named weighted semaphores. It is safe for
// concurrent use by multiple stage workers.
type Governor struct {
	mu    sync.Mutex
	sems  map[string]*semaphore.Weighted
	limit map[string]int64
}

// New constructs a Governor pre-seeded with Defaults. Callers may override or
// add limits via SetLimit before any Acquire call for that stage.
func New() *Governor {
	g := &Governor{
		sems:  make(map[string]*semaphore.Weighted),
		limit: make(map[string]int64, len(Defaults)),
	}
	for name, limit := range Defaults {
		g.limit[name] = limit
	}
	return g
}

// SetLimit installs a new limit for stage, replacing any existing semaphore.
// Existing holders of the old semaphore continue running to completion under
// the old count; only new Acquire calls observe the new limit (spec §5
// "dynamic limit updates create new semaphores while existing holders
// continue under the old count").
func (g *Governor) SetLimit(stage string, limit int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limit[stage] = limit
	delete(g.sems, stage)
}

// Release is returned by Acquire; callers must invoke it exactly once to
// give back the permit, or never if Acquire returned an unbounded release.
type Release func()

// Acquire blocks until a permit for stage is available or ctx is cancelled.
// Stages with no configured limit return immediately with a no-op release.
func (g *Governor) Acquire(ctx context.Context, stage string) (Release, error) {
	bundle := telemetry.FromContext(ctx)
	sem, limit, bounded := g.semaphoreFor(stage)
	if !bounded {
		bundle.Logger.Debug(ctx, "governor: unbounded stage", "stage", stage)
		return func() {}, nil
	}

	bundle.Logger.Debug(ctx, "governor: acquiring", "stage", stage, "limit", limit)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("governor: acquire %s: %w", stage, err)
	}
	bundle.Metrics.IncCounter("governor.acquired", 1, "stage", stage)
	bundle.Logger.Debug(ctx, "governor: acquired", "stage", stage)

	var once sync.Once
	return func() {
		once.Do(func() {
			sem.Release(1)
			bundle.Metrics.IncCounter("governor.released", 1, "stage", stage)
			bundle.Logger.Debug(ctx, "governor: released", "stage", stage)
		})
	}, nil
}

func (g *Governor) semaphoreFor(stage string) (*semaphore.Weighted, int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, ok := g.limit[stage]
	if !ok || limit <= 0 {
		return nil, 0, false
	}
	sem, ok := g.sems[stage]
	if !ok {
		sem = semaphore.NewWeighted(limit)
		g.sems[stage] = sem
	}
	return sem, limit, true
}
