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

// Package launcher is C6: turns a freshly-claimed phase into a ticket
// plus a spawned worker process, entirely off the admission-loop
// goroutine (§4.6, §5).
package launcher

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/ticket"
)

// Store is the subset of PhaseStore WorkerLauncher needs.
type Store interface {
	Get(ctx context.Context, phaseID string) (*model.Phase, error)
	RecordLaunch(ctx context.Context, phaseID, ticketRef, workerRef string) error
	MarkTerminal(ctx context.Context, phaseID string, status model.PhaseStatus, errMsg *string) (bool, error)
	IncrementLaunchAttempts(ctx context.Context, phaseID string) (int, error)
}

// TicketCreator is satisfied by a breaker.Breaker-wrapped ticket.Poster;
// kept as an interface so launcher tests don't need a real breaker.
type TicketCreator interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// WorkerCmd builds the *exec.Cmd to spawn for phaseID. Tests substitute a
// short-lived harmless command; production wiring points at the real
// worker binary.
type WorkerCmd func(phaseID string) *exec.Cmd

// DefaultMaxLaunchAttempts is K in "after K failures it is marked
// failed" when Config.MaxLaunchAttempts is left unset. The coordinator's
// retry sweep (internal/coordinator) uses the same constant so it never
// relaunches a phase past the threshold this package enforces.
const DefaultMaxLaunchAttempts = 3

// Config bounds the launcher's off-loop work.
type Config struct {
	// PoolSize caps concurrent in-flight ticket-creation + spawn
	// sequences, so a slow ticket service can't unbound goroutine growth.
	PoolSize int
	// MaxLaunchAttempts is K in "after K failures it is marked failed".
	MaxLaunchAttempts int
	// TicketTimeout bounds a single ticket-creation call.
	TicketTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = 8
	}
	if c.MaxLaunchAttempts == 0 {
		c.MaxLaunchAttempts = DefaultMaxLaunchAttempts
	}
	if c.TicketTimeout == 0 {
		c.TicketTimeout = 10 * time.Second
	}
	return c
}

// Launcher is C6.
type Launcher struct {
	store   Store
	poster  ticket.Poster
	breaker TicketCreator
	cmd     WorkerCmd
	cfg     Config
	log     *zap.Logger

	sem chan struct{}
}

// New builds a Launcher. breaker may be nil, in which case ticket
// creation is called directly without circuit protection (used by tests
// and by deployments that accept the ticket service's own timeouts).
func New(store Store, poster ticket.Poster, breaker TicketCreator, cmd WorkerCmd, cfg Config, log *zap.Logger) *Launcher {
	cfg = cfg.withDefaults()
	return &Launcher{
		store:   store,
		poster:  poster,
		breaker: breaker,
		cmd:     cmd,
		cfg:     cfg,
		log:     log,
		sem:     make(chan struct{}, cfg.PoolSize),
	}
}

// Launch implements admission.Launcher: it returns immediately, doing
// all ticket/spawn work in a pool-bounded goroutine (§4.6, §5).
func (l *Launcher) Launch(ctx context.Context, phaseID string) {
	go func() {
		l.sem <- struct{}{}
		defer func() { <-l.sem }()
		l.run(context.WithoutCancel(ctx), phaseID)
	}()
}

func (l *Launcher) run(ctx context.Context, phaseID string) {
	phase, err := l.store.Get(ctx, phaseID)
	if err != nil {
		l.log.Error("launcher: failed to load phase", zap.String("phase_id", phaseID), zap.Error(err))
		l.fail(ctx, phaseID, "failed to load phase for launch")
		return
	}

	ticketRef, err := l.createTicket(ctx, phase)
	if err != nil {
		l.handleTicketFailure(ctx, phaseID, err)
		return
	}

	workerRef := fmt.Sprintf("worker-%s", phaseID)
	if err := l.store.RecordLaunch(ctx, phaseID, ticketRef, workerRef); err != nil {
		l.log.Error("launcher: failed to record launch", zap.String("phase_id", phaseID), zap.Error(err))
		l.fail(ctx, phaseID, "failed to record launch")
		return
	}

	if err := l.spawn(phaseID); err != nil {
		l.log.Error("launcher: failed to spawn worker", zap.String("phase_id", phaseID), zap.Error(err))
		l.fail(ctx, phaseID, "worker_spawn")
		return
	}
}

func (l *Launcher) createTicket(ctx context.Context, phase *model.Phase) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, l.cfg.TicketTimeout)
	defer cancel()

	payload := ticket.Payload{
		PhaseID:     phase.PhaseID,
		FeatureID:   phase.FeatureID,
		PhaseNumber: phase.PhaseNumber,
		Title:       phase.Title,
		Prompt:      phase.Prompt,
	}

	var ref string
	create := func(ctx context.Context) error {
		var err error
		ref, err = l.poster.CreateTicket(ctx, payload)
		return err
	}

	var err error
	if l.breaker != nil {
		err = l.breaker.Execute(tctx, create)
	} else {
		err = create(tctx)
	}
	return ref, err
}

// handleTicketFailure implements the retry-then-fail half of §4.6: "If
// the ticket service is unavailable, the phase stays in running with a
// retry counter; after K failures it is marked failed."
func (l *Launcher) handleTicketFailure(ctx context.Context, phaseID string, cause error) {
	attempts, err := l.store.IncrementLaunchAttempts(ctx, phaseID)
	if err != nil {
		l.log.Error("launcher: failed to record launch attempt", zap.String("phase_id", phaseID), zap.Error(err))
	}
	l.log.Warn("launcher: ticket creation failed",
		zap.String("phase_id", phaseID), zap.Int("attempt", attempts), zap.Error(cause))

	if attempts >= l.cfg.MaxLaunchAttempts {
		l.fail(ctx, phaseID, "ticket_service_unavailable")
	}
	// Otherwise the phase stays running below the threshold; the
	// coordinator's periodic retry sweep (internal/coordinator's
	// retryStuckLaunches) re-scans for phases in this state and calls
	// Launch again, it is not re-invoked from within this package.
}

func (l *Launcher) spawn(phaseID string) error {
	cmd := l.cmd(phaseID)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker process: %w", err)
	}
	// Never await its exit (§4.6); reap it in the background so it
	// doesn't linger as a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}

// fail transitions the phase running -> failed with a diagnostic error.
// MarkTerminal's own notifier call is what lets the resolver propagate
// the failure to dependents; the launcher does not call the resolver
// directly.
func (l *Launcher) fail(ctx context.Context, phaseID, reason string) {
	msg := reason
	if _, err := l.store.MarkTerminal(ctx, phaseID, model.PhaseFailed, &msg); err != nil {
		l.log.Error("launcher: failed to mark phase failed", zap.String("phase_id", phaseID), zap.Error(err))
	}
}
