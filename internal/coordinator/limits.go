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

package coordinator

import "sync/atomic"

// RuntimeLimits is the in-memory mirror of coordinator_config the
// admission loop reads on every pass, so a PATCH /admin/config or
// pause/resume call takes effect on the very next Consider() without a
// database round trip in the hot path (§4.9 "changing max_concurrent is
// immediate"). Coordinator keeps it in sync with ConfigStore.
type RuntimeLimits struct {
	paused        atomic.Bool
	maxConcurrent atomic.Int32
}

// MaxConcurrent implements admission.Limits.
func (l *RuntimeLimits) MaxConcurrent() int { return int(l.maxConcurrent.Load()) }

// Paused implements admission.Limits.
func (l *RuntimeLimits) Paused() bool { return l.paused.Load() }

// SetPaused updates the cached value.
func (l *RuntimeLimits) SetPaused(v bool) { l.paused.Store(v) }

// SetMaxConcurrent updates the cached value.
func (l *RuntimeLimits) SetMaxConcurrent(n int) { l.maxConcurrent.Store(int32(n)) }
