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

// Package selector is C3 (HopperSorter): the pure admission ordering
// function over persisted state. It never mutates; admission decisions
// are committed through PhaseStore.TryClaim by the caller.
package selector

import (
	"context"
	"sort"
)

// Candidate is the subset of a Phase the total order needs. It exists so
// the ordering logic itself (Order) can be property-tested without a
// database.
type Candidate struct {
	PhaseID       string
	Priority      int
	QueuePosition int64
	FeatureID     int64
}

// Order sorts candidates by the spec's total order: priority ASC,
// queue_position ASC, feature_id ASC (§4.3). It is a stable, pure
// function: given the same input slice (by value) it always produces
// the same output (I7/P4).
func Order(candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.QueuePosition != b.QueuePosition {
			return a.QueuePosition < b.QueuePosition
		}
		return a.FeatureID < b.FeatureID
	})
	return out
}

// Store is the read-only subset of PhaseStore the Selector needs.
type Store interface {
	FindNextReady(ctx context.Context, paused bool) (string, error)
}

// Selector is C3 wired to a live PhaseStore: it delegates the actual
// query (which already applies the §4.3 ORDER BY with an index on
// (status, priority, queue_position)) and adds no behavior of its own.
type Selector struct {
	store Store
}

// New wraps store as a Selector.
func New(store Store) *Selector {
	return &Selector{store: store}
}

// Next returns the phase_id of the next admittable phase, or "" if none
// (including when paused).
func (s *Selector) Next(ctx context.Context, paused bool) (string, error) {
	return s.store.FindNextReady(ctx, paused)
}
