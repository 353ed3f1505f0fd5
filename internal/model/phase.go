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

// Package model holds the durable entities the scheduler reasons about:
// features, phases, completion events and the process-wide coordinator
// config. Nothing in this package talks to a store or a network; it is
// the shared vocabulary every other package imports.
package model

import "time"

// PhaseStatus is the lifecycle state of a Phase. Allowed transitions are
// enforced by PhaseStore's conditional updates (TryClaim, MarkReady,
// MarkTerminal, MarkBlocked, Unblock); nothing outside internal/store
// should construct a status string by hand.
type PhaseStatus string

const (
	PhaseQueued    PhaseStatus = "queued"
	PhaseReady     PhaseStatus = "ready"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseBlocked   PhaseStatus = "blocked"
)

// FeatureStatus is the lifecycle state of a Feature. FeatureStore sets
// in_progress when /submit creates the feature, and completed or failed
// once its phases finish.
type FeatureStatus string

const (
	FeaturePlanning   FeatureStatus = "planning"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureCompleted  FeatureStatus = "completed"
	FeatureFailed     FeatureStatus = "failed"
	FeatureCancelled  FeatureStatus = "cancelled"
)

const (
	// DefaultPriority is assigned to a phase that doesn't specify one.
	DefaultPriority = 50
	MinPriority     = 10
	MaxPriority     = 90
)

// Feature is a user-submitted unit of work. /submit creates its row and
// the core updates its status as its phases finish.
type Feature struct {
	FeatureID   int64
	Title       string
	Description string
	TotalPhases int
	CreatedAt   time.Time
	Status      FeatureStatus
}

// Phase is the scheduler's smallest addressable entity. DependsOn holds
// sibling PhaseNumber values within the same Feature; it is never a
// cross-feature reference.
type Phase struct {
	PhaseID           string
	FeatureID         int64
	PhaseNumber       int
	Title             string
	Prompt            string
	DependsOn         []int
	Status            PhaseStatus
	Priority          int
	QueuePosition     int64
	ExternalTicketRef *string
	WorkerRef         *string
	ErrorMessage      *string
	LaunchAttempts    int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ReadyAt           *time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// DependsOnPhase reports whether n appears in the phase's declared
// predecessors.
func (p *Phase) DependsOnPhase(n int) bool {
	for _, d := range p.DependsOn {
		if d == n {
			return true
		}
	}
	return false
}

// NewPhaseInput is what a caller supplies to PhaseStore.InsertPhases;
// PhaseID, QueuePosition, timestamps and Status are assigned by the
// store, not the caller.
type NewPhaseInput struct {
	PhaseNumber int
	Title       string
	Prompt      string
	DependsOn   []int
	Priority    int
}

// CompletionEvent records a single externally-observed terminal signal,
// used only to enforce at-most-once processing within the dedup window.
type CompletionEvent struct {
	EventID    string
	PhaseID    string
	Status     PhaseStatus
	WorkerRef  string
	ReceivedAt time.Time
	Accepted   bool
}

// CoordinatorConfig is process-wide admission state, persisted so every
// coordinator instance (leader or hot spare) observes the same values.
type CoordinatorConfig struct {
	Paused             bool
	MaxConcurrent      int
	DedupWindowSeconds int
}
