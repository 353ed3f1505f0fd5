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

package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// FeatureTracker reacts to a phase's terminal transition by updating its
// parent Feature record: completed once every phase is completed,
// failed the moment any phase fails (§4.4 "surfaces the failure to the
// Feature record", §8 round-trip law). It is the broadcaster.FeatureTracker
// implementation used by the production wiring.
type FeatureTracker struct {
	phases   *PhaseStore
	features *FeatureStore
	log      *zap.Logger
}

// NewFeatureTracker wires phases and features together.
func NewFeatureTracker(phases *PhaseStore, features *FeatureStore, log *zap.Logger) *FeatureTracker {
	return &FeatureTracker{phases: phases, features: features, log: log}
}

// OnPhaseTerminal implements broadcaster.FeatureTracker.
func (t *FeatureTracker) OnPhaseTerminal(ctx context.Context, phaseID string, status model.PhaseStatus) error {
	phase, err := t.phases.Get(ctx, phaseID)
	if err != nil {
		return err
	}

	switch status {
	case model.PhaseCompleted:
		if _, err := t.features.CompleteIfAllPhasesDone(ctx, phase.FeatureID); err != nil {
			return err
		}
	case model.PhaseFailed:
		if err := t.features.MarkFailed(ctx, phase.FeatureID); err != nil {
			return err
		}
	}
	return nil
}
