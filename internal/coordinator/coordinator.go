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

// Package coordinator is C9: the long-running supervisor that owns
// startup reconciliation, the single-writer discipline, and pause/resume,
// around the admission loop and broadcaster (§4.9).
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/launcher"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// State is the coordinator's own lifecycle state, distinct from
// paused/resumed admission: starting -> reconciling -> leading ->
// (paused <-> leading) -> stopping (§4.9).
type State string

const (
	StateStarting     State = "starting"
	StateReconciling  State = "reconciling"
	StateLeading      State = "leading"
	StatePaused       State = "paused"
	StateStopping     State = "stopping"
)

// LeaderLock is the single-writer primitive. Satisfied by *store.LeaderLock.
type LeaderLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// PhaseStore is the subset of PhaseStore reconciliation needs.
type PhaseStore interface {
	FindOrphans(ctx context.Context, cutoff time.Time) ([]model.Phase, error)
	MarkTerminal(ctx context.Context, phaseID string, status model.PhaseStatus, errMsg *string) (bool, error)
	FindStuckLaunches(ctx context.Context, maxAttempts int, cutoff time.Time) ([]model.Phase, error)
}

// Relauncher hands a phase back to WorkerLauncher. Satisfied by
// *launcher.Launcher; kept as an interface so the coordinator's retry
// sweep can be tested without a real launcher.
type Relauncher interface {
	Launch(ctx context.Context, phaseID string)
}

// DedupSweeper is the subset of DedupStore reconciliation needs.
type DedupSweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int64, error)
}

// ConfigStore is the durable backing for pause/resume and config patches.
type ConfigStore interface {
	Get(ctx context.Context) (*model.CoordinatorConfig, error)
	SetPaused(ctx context.Context, paused bool) error
	SetMaxConcurrent(ctx context.Context, n int) error
	SetDedupWindowSeconds(ctx context.Context, n int) error
}

// Admission is the controller the coordinator triggers on startup,
// resume, and config changes that raise the cap.
type Admission interface {
	Consider(ctx context.Context)
}

// EventRunner is the broadcaster's pump; Run blocks until ctx is done.
type EventRunner interface {
	Run(ctx context.Context)
	Close()
	PublishSystemStatus(data interface{})
}

// Config bounds reconciliation and leadership acquisition.
type Config struct {
	OrphanTimeout       time.Duration
	DedupRetention      time.Duration
	DedupSweepInterval  time.Duration
	LeaderRetryInterval time.Duration
	// LaunchRetryInterval paces the periodic re-scan for running phases
	// stuck below MaxLaunchAttempts with no ticket yet (§4.6).
	LaunchRetryInterval time.Duration
	// MaxLaunchAttempts must match the WorkerLauncher's own
	// Config.MaxLaunchAttempts so the sweep never relaunches a phase the
	// launcher has already given up on.
	MaxLaunchAttempts int
}

func (c Config) withDefaults() Config {
	if c.OrphanTimeout == 0 {
		c.OrphanTimeout = time.Hour
	}
	if c.DedupRetention == 0 {
		c.DedupRetention = 24 * time.Hour
	}
	if c.DedupSweepInterval == 0 {
		c.DedupSweepInterval = 5 * time.Minute
	}
	if c.LeaderRetryInterval == 0 {
		c.LeaderRetryInterval = 5 * time.Second
	}
	if c.LaunchRetryInterval == 0 {
		c.LaunchRetryInterval = time.Minute
	}
	if c.MaxLaunchAttempts == 0 {
		c.MaxLaunchAttempts = launcher.DefaultMaxLaunchAttempts
	}
	return c
}

// Coordinator is C9.
type Coordinator struct {
	lock      LeaderLock
	phases    PhaseStore
	dedup     DedupSweeper
	configs   ConfigStore
	admission Admission
	launcher  Relauncher
	events    EventRunner
	limits    *RuntimeLimits
	cfg       Config
	log       logr.Logger

	mu         sync.RWMutex
	state      State
	releaseErr error
}

// New builds a Coordinator. limits is shared with the Admission
// controller the caller constructs; launcher is the same *launcher.Launcher
// wired into Admission, reused here to drive the periodic retry sweep.
func New(lock LeaderLock, phases PhaseStore, dedup DedupSweeper, configs ConfigStore, admission Admission,
	launcher Relauncher, events EventRunner, limits *RuntimeLimits, cfg Config, log logr.Logger) *Coordinator {
	return &Coordinator{
		lock:      lock,
		phases:    phases,
		dedup:     dedup,
		configs:   configs,
		admission: admission,
		launcher:  launcher,
		events:    events,
		limits:    limits,
		cfg:       cfg.withDefaults(),
		log:       log,
		state:     StateStarting,
	}
}

// State reports the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ReleaseErr reports whether releasing the leader lock on shutdown
// failed — the process can no longer vouch that it relinquished
// leadership cleanly (§6.7 exit code 3).
func (c *Coordinator) ReleaseErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.releaseErr
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run blocks until ctx is cancelled, acquiring leadership, reconciling,
// then running the event pump as the active leader. Hot spares that
// never win TryAcquire simply keep retrying, stay in the starting state
// and log that they are standing by; this repo's single-process
// deployment model means Run normally returns only on shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	c.setState(StateStarting)

	if err := c.acquireLeadership(ctx); err != nil {
		return err
	}
	defer func() {
		c.setState(StateStopping)
		if err := c.lock.Release(context.Background()); err != nil {
			c.log.Error(err, "coordinator: failed to release leader lock")
			c.mu.Lock()
			c.releaseErr = err
			c.mu.Unlock()
		}
	}()

	c.setState(StateReconciling)
	if err := c.reconcile(ctx); err != nil {
		return err
	}

	if err := c.loadConfig(ctx); err != nil {
		return err
	}
	if !c.limits.Paused() {
		c.setState(StateLeading)
	}
	c.admission.Consider(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.runLaunchRetrySweep(gctx)
		return nil
	})
	g.Go(func() error {
		c.runDedupSweep(gctx)
		return nil
	})
	err := g.Wait()

	c.events.Close()
	return err
}

// runLaunchRetrySweep periodically re-scans for running phases stuck
// below MaxLaunchAttempts with no ticket yet and hands each back to
// WorkerLauncher, implementing §4.6's "stays in running with a retry
// counter" — nothing else in this tree re-invokes Launch for them.
func (c *Coordinator) runLaunchRetrySweep(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.LaunchRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.retryStuckLaunches(ctx)
		}
	}
}

func (c *Coordinator) retryStuckLaunches(ctx context.Context) {
	if c.limits.Paused() {
		return
	}
	cutoff := time.Now().Add(-c.cfg.LaunchRetryInterval)
	stuck, err := c.phases.FindStuckLaunches(ctx, c.cfg.MaxLaunchAttempts, cutoff)
	if err != nil {
		c.log.Error(err, "coordinator: failed to find stuck launches")
		return
	}
	for _, p := range stuck {
		c.log.Info("coordinator: retrying stuck launch", "phase_id", p.PhaseID)
		c.launcher.Launch(ctx, p.PhaseID)
	}
}

// runDedupSweep periodically clears completion_events older than
// DedupRetention, on top of the one-shot sweep done at startup in
// reconcile (§4.2's "sweep is periodic, not startup-only" maintenance).
func (c *Coordinator) runDedupSweep(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DedupSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.dedup.Sweep(ctx, c.cfg.DedupRetention); err != nil {
				c.log.Error(err, "coordinator: dedup sweep failed")
			}
		}
	}
}

func (c *Coordinator) acquireLeadership(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.LeaderRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := c.lock.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		c.log.Info("coordinator: another instance holds leadership; standing by")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// reconcile implements §4.9's startup sequence: orphan sweep, then dedup
// sweep. The admission pass follows in Run once the config is loaded.
func (c *Coordinator) reconcile(ctx context.Context) error {
	cutoff := time.Now().Add(-c.cfg.OrphanTimeout)
	orphans, err := c.phases.FindOrphans(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, p := range orphans {
		reason := "orphaned"
		if _, err := c.phases.MarkTerminal(ctx, p.PhaseID, model.PhaseFailed, &reason); err != nil {
			c.log.Error(err, "coordinator: failed to fail orphaned phase", "phase_id", p.PhaseID)
		}
	}
	if len(orphans) > 0 {
		c.log.Info("coordinator: reconciled orphaned phases", "count", len(orphans))
	}

	if _, err := c.dedup.Sweep(ctx, c.cfg.DedupRetention); err != nil {
		c.log.Error(err, "coordinator: dedup sweep failed")
	}
	return nil
}

func (c *Coordinator) loadConfig(ctx context.Context) error {
	cfg, err := c.configs.Get(ctx)
	if err != nil {
		return err
	}
	c.limits.SetPaused(cfg.Paused)
	c.limits.SetMaxConcurrent(cfg.MaxConcurrent)
	if cfg.Paused {
		c.setState(StatePaused)
	}
	return nil
}

// Pause implements POST /admin/pause: in-flight workers run to
// completion, admission is skipped (§4.9).
func (c *Coordinator) Pause(ctx context.Context) error {
	if err := c.configs.SetPaused(ctx, true); err != nil {
		return err
	}
	c.limits.SetPaused(true)
	c.setState(StatePaused)
	c.events.PublishSystemStatus(map[string]bool{"paused": true})
	return nil
}

// Resume implements POST /admin/resume and re-enters the admission loop.
func (c *Coordinator) Resume(ctx context.Context) error {
	if err := c.configs.SetPaused(ctx, false); err != nil {
		return err
	}
	c.limits.SetPaused(false)
	c.setState(StateLeading)
	c.events.PublishSystemStatus(map[string]bool{"paused": false})
	c.admission.Consider(ctx)
	return nil
}

// UpdateConfig implements PATCH /admin/config. Raising max_concurrent
// triggers a fresh admission pass; lowering it never preempts in-flight
// workers (§4.9).
func (c *Coordinator) UpdateConfig(ctx context.Context, maxConcurrent, dedupWindowSeconds *int) error {
	if maxConcurrent != nil {
		if err := c.configs.SetMaxConcurrent(ctx, *maxConcurrent); err != nil {
			return err
		}
		raised := *maxConcurrent > c.limits.MaxConcurrent()
		c.limits.SetMaxConcurrent(*maxConcurrent)
		if raised {
			c.admission.Consider(ctx)
		}
	}
	if dedupWindowSeconds != nil {
		if err := c.configs.SetDedupWindowSeconds(ctx, *dedupWindowSeconds); err != nil {
			return err
		}
	}
	return nil
}
