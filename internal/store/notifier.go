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

import "github.com/warmonger0/tac-webbuilder-sub004/internal/model"

// ChangeNotification is the only payload a store transition ever emits
// (§4.1): phase_id and status, never the full row, so subscribers are
// forced to re-read authoritative state.
type ChangeNotification struct {
	PhaseID string
	Status  model.PhaseStatus
}

// Notifier receives a ChangeNotification after a transition commits. A
// real deployment backed by a NOTIFY-capable database could instead run
// a single listener task fed by the database; this in-process form is
// the "unsupported" branch of §4.1 and is what this repo uses.
type Notifier interface {
	NotifyChange(n ChangeNotification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n ChangeNotification)

func (f NotifierFunc) NotifyChange(n ChangeNotification) { f(n) }

// noopNotifier discards every notification; used when a store is built
// without a broadcaster (e.g. in tests of PhaseStore in isolation).
type noopNotifier struct{}

func (noopNotifier) NotifyChange(ChangeNotification) {}
