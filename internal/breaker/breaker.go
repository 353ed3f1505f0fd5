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

// Package breaker wraps the outbound ticket-service call behind a
// sony/gobreaker circuit breaker so a flaky collaborator degrades
// WorkerLauncher's retry counter instead of piling up blocked calls
// (§4.6, §5).
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config mirrors the fields WorkerLauncher cares about; defaults match
// §6.6's bounded-retry expectations for the ticket service.
type Config struct {
	// MaxFailures trips the breaker after this many consecutive failures.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before allowing a
	// single probe request through (half-open).
	OpenTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

// Breaker guards calls to the ticket service.
type Breaker struct {
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger
}

// New builds a Breaker named name (surfaced in OnStateChange logs).
func New(name string, cfg Config, log *zap.Logger) *Breaker {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("ticket service circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

// Execute runs fn through the breaker. A context deadline is the caller's
// responsibility; the breaker only tracks success/failure, it does not
// impose its own timeout beyond the open-state cooldown.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// State reports the breaker's current state, used by the admin status
// endpoint to surface ticket-service health.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
