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

// Package resolver is C4: given a just-completed (or just-failed) phase,
// it computes and applies the set of phases that become ready, or the
// set that becomes blocked, per §4.4.
package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// Store is the subset of PhaseStore the resolver needs.
type Store interface {
	Get(ctx context.Context, phaseID string) (*model.Phase, error)
	FindNewlyReady(ctx context.Context, featureID int64, completedPhaseNumber int) ([]model.Phase, error)
	MarkReady(ctx context.Context, phaseID string) (bool, error)
	MarkBlocked(ctx context.Context, phaseID string) (bool, error)
	Successors(ctx context.Context, featureID int64, phaseNumber int) ([]model.Phase, error)
}

// AdmissionTrigger lets the resolver ask the admission controller to
// consider launching newly-ready phases, without importing it directly.
type AdmissionTrigger interface {
	Consider(ctx context.Context)
}

// Resolver is C4.
type Resolver struct {
	store     Store
	admission AdmissionTrigger
	log       *zap.Logger
}

// New builds a Resolver wired to store and admission.
func New(store Store, admission AdmissionTrigger, log *zap.Logger) *Resolver {
	return &Resolver{store: store, admission: admission, log: log}
}

// HandleCompletion reacts to a phase reaching a terminal status. For
// 'completed' it marks newly-unblocked siblings ready (§4.4 step 1-2);
// for 'failed' it marks every transitive dependent 'blocked' (§4.4,
// depth-first over the reverse-dependency direction). Either way it
// finally asks the admission controller to consider launching.
func (r *Resolver) HandleCompletion(ctx context.Context, phaseID string, status model.PhaseStatus) error {
	phase, err := r.store.Get(ctx, phaseID)
	if err != nil {
		return err
	}

	switch status {
	case model.PhaseCompleted:
		if err := r.promoteReadySuccessors(ctx, phase); err != nil {
			return err
		}
	case model.PhaseFailed:
		if err := r.blockDependents(ctx, phase.FeatureID, phase.PhaseNumber, make(map[int]bool)); err != nil {
			return err
		}
	}

	r.admission.Consider(ctx)
	return nil
}

// promoteReadySuccessors implements the completed-path: every queued
// sibling whose declared predecessors are now all completed transitions
// to ready exactly once, because MarkReady is a conditional (queued ->
// ready) transition — a sibling reachable from two parents completing
// concurrently is promoted by whichever caller's MarkReady wins the
// race; the other sees false and does nothing.
func (r *Resolver) promoteReadySuccessors(ctx context.Context, completed *model.Phase) error {
	candidates, err := r.store.FindNewlyReady(ctx, completed.FeatureID, completed.PhaseNumber)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if _, err := r.store.MarkReady(ctx, c.PhaseID); err != nil {
			r.log.Error("failed to mark phase ready", zap.String("phase_id", c.PhaseID), zap.Error(err))
			return err
		}
	}
	return nil
}

// blockDependents walks the reverse-dependency direction from a failed
// phase, marking every reachable queued phase blocked. visited is keyed
// by phase_number within the feature to avoid revisiting a diamond twice.
func (r *Resolver) blockDependents(ctx context.Context, featureID int64, failedPhaseNumber int, visited map[int]bool) error {
	if visited[failedPhaseNumber] {
		return nil
	}
	visited[failedPhaseNumber] = true

	successors, err := r.store.Successors(ctx, featureID, failedPhaseNumber)
	if err != nil {
		return err
	}
	for _, s := range successors {
		if _, err := r.store.MarkBlocked(ctx, s.PhaseID); err != nil {
			r.log.Error("failed to mark phase blocked", zap.String("phase_id", s.PhaseID), zap.Error(err))
			return err
		}
		if err := r.blockDependents(ctx, featureID, s.PhaseNumber, visited); err != nil {
			return err
		}
	}
	return nil
}
