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

// Package ticket is the pluggable Issue-Poster collaborator WorkerLauncher
// creates an external ticket through. This repo's concrete implementation
// posts an isolated per-phase Slack message: there is no parent ticket
// linking a feature's phases together (§9 Open Question, resolved in
// DESIGN.md).
package ticket

import (
	"context"
	"fmt"
)

// Payload is what WorkerLauncher builds from a phase before asking the
// Issue-Poster to create a ticket for it (§4.6 step 1).
type Payload struct {
	PhaseID     string
	FeatureID   int64
	PhaseNumber int
	Title       string
	Prompt      string
}

// Poster creates (or, on retry, reuses) an external ticket for a phase
// and returns an opaque reference the phase record stores as
// external_ticket_ref.
type Poster interface {
	CreateTicket(ctx context.Context, p Payload) (ticketRef string, err error)
}

// NoopPoster is used by tests and by any deployment that doesn't want an
// external ticket at all; it manufactures a deterministic local reference
// instead of calling out.
type NoopPoster struct{}

// CreateTicket implements Poster without any I/O.
func (NoopPoster) CreateTicket(_ context.Context, p Payload) (string, error) {
	return fmt.Sprintf("local-%s", p.PhaseID), nil
}
