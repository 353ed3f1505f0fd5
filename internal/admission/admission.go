/*
Copyright 2026 The tac-webbuilder Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package admission is C5: the serialized loop that decides, given the
// current running count and the total order over ready phases, which
// phase (if any) may launch next. It never performs worker I/O itself —
// that is WorkerLauncher's job, invoked fire-and-forget per §4.6.
package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store is the subset of PhaseStore the admission loop reads and writes.
type Store interface {
	CountRunning(ctx context.Context) (int, error)
	FindNextReady(ctx context.Context, paused bool) (string, error)
	TryClaim(ctx context.Context, phaseID string) (bool, error)
}

// Launcher hands a freshly-claimed phase off to WorkerLauncher. Launch
// must return quickly; it is expected to do its own off-loop dispatch
// (§4.6) rather than block the admission goroutine.
type Launcher interface {
	Launch(ctx context.Context, phaseID string)
}

// Limits is read on every iteration so a live PATCH /admin/config change
// takes effect on the very next admission pass without restarting
// anything.
type Limits interface {
	MaxConcurrent() int
	Paused() bool
}

// Metrics is the subset of metrics.Metrics the admission loop reports
// timing to. Left nil in tests that don't care about metrics.
type Metrics interface {
	ObserveAdmission(d time.Duration)
}

// Controller is C5. It is safe for concurrent Consider calls: admitOnce
// is serialized by mu, matching §4.5's "serial admission within one
// coordinator" requirement. try_claim remains the race backstop if that
// discipline is ever violated.
type Controller struct {
	store    Store
	launcher Launcher
	limits   Limits
	metrics  Metrics
	log      *zap.Logger

	mu      sync.Mutex
	running int32 // best-effort counter surfaced to admin/metrics; store is authoritative
}

// New builds a Controller.
func New(store Store, launcher Launcher, limits Limits, log *zap.Logger) *Controller {
	return &Controller{store: store, launcher: launcher, limits: limits, log: log}
}

// SetMetrics wires m into the controller after construction, since New
// does not take it; until it is called no metrics are recorded.
func (c *Controller) SetMetrics(m Metrics) {
	c.metrics = m
}

// Consider runs the admission loop until no further phase can be
// admitted: the running count meets max_concurrent, there is no ready
// phase left, or the coordinator is paused. Safe to call from multiple
// goroutines; only one admission pass executes at a time, the rest block
// on mu and then observe the post-pass state (which may already satisfy
// their trigger).
func (c *Controller) Consider(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	if c.metrics != nil {
		defer func() { c.metrics.ObserveAdmission(time.Since(start)) }()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		running, err := c.store.CountRunning(ctx)
		if err != nil {
			c.log.Error("admission: failed to count running phases", zap.Error(err))
			return
		}
		atomic.StoreInt32(&c.running, int32(running))
		if running >= c.limits.MaxConcurrent() {
			return
		}

		next, err := c.store.FindNextReady(ctx, c.limits.Paused())
		if err != nil {
			c.log.Error("admission: failed to find next ready phase", zap.Error(err))
			return
		}
		if next == "" {
			return
		}

		claimed, err := c.store.TryClaim(ctx, next)
		if err != nil {
			c.log.Error("admission: failed to claim phase", zap.String("phase_id", next), zap.Error(err))
			return
		}
		if !claimed {
			// A racing peer (or a second, misconfigured coordinator) won;
			// loop and try the next candidate rather than give up.
			continue
		}

		c.log.Info("admission: claimed phase", zap.String("phase_id", next))
		c.launcher.Launch(ctx, next)
	}
}

// RunningEstimate returns the running count observed on the most recent
// admission pass, for cheap metrics/admin reporting that doesn't want to
// hit the store on every scrape.
func (c *Controller) RunningEstimate() int {
	return int(atomic.LoadInt32(&c.running))
}
