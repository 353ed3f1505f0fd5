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

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// CoordinatorAdmin is the subset of Coordinator the admin handlers drive
// (§4.9, §6.4).
type CoordinatorAdmin interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	UpdateConfig(ctx context.Context, maxConcurrent, dedupWindowSeconds *int) error
}

// Limits mirrors admission.Limits for the status endpoint; kept as its
// own interface so httpapi doesn't import internal/admission just for
// this.
type Limits interface {
	MaxConcurrent() int
	Paused() bool
}

// TicketBreaker mirrors breaker.Breaker's health surface; kept as its
// own interface so httpapi doesn't import internal/breaker just for
// this. Nil-safe: deployments that run WorkerLauncher without a breaker
// simply omit the field from the response.
type TicketBreaker interface {
	State() string
}

type adminStateResponse struct {
	Paused        bool   `json:"paused"`
	MaxConcurrent int    `json:"max_concurrent"`
	RunningCount  int    `json:"running_count"`
	ReadyCount    int    `json:"ready_count"`
	QueuedCount   int    `json:"queued_count"`
	TicketBreaker string `json:"ticket_breaker,omitempty"`
}

type adminConfigRequest struct {
	MaxConcurrent      *int `json:"max_concurrent" validate:"omitempty,min=1"`
	DedupWindowSeconds *int `json:"dedup_window_seconds" validate:"omitempty,min=1"`
}

// handlePause implements POST /admin/pause.
func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.coordinator.Pause(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// handleResume implements POST /admin/resume.
func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := a.coordinator.Resume(r.Context()); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// handleUpdateConfig implements PATCH /admin/config.
func (a *API) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req adminConfigRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeError(w, apperr.New(apperr.InvalidSubmission, "malformed config payload"))
		return
	}
	if err := validate.Struct(req); err != nil {
		a.writeError(w, apperr.New(apperr.InvalidSubmission, err.Error()))
		return
	}
	if req.MaxConcurrent == nil && req.DedupWindowSeconds == nil {
		a.writeError(w, apperr.New(apperr.InvalidSubmission, "at least one field must be set"))
		return
	}

	if err := a.coordinator.UpdateConfig(r.Context(), req.MaxConcurrent, req.DedupWindowSeconds); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// handleAdminState implements GET /admin/state.
func (a *API) handleAdminState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	running, err := a.phases.CountByStatus(ctx, model.PhaseRunning)
	if err != nil {
		a.writeError(w, err)
		return
	}
	ready, err := a.phases.CountByStatus(ctx, model.PhaseReady)
	if err != nil {
		a.writeError(w, err)
		return
	}
	queued, err := a.phases.CountByStatus(ctx, model.PhaseQueued)
	if err != nil {
		a.writeError(w, err)
		return
	}

	if a.metrics != nil {
		a.metrics.SetQueueDepths(running, ready, queued)
	}

	resp := adminStateResponse{
		Paused:        a.limits.Paused(),
		MaxConcurrent: a.limits.MaxConcurrent(),
		RunningCount:  running,
		ReadyCount:    ready,
		QueuedCount:   queued,
	}
	if a.ticketBreaker != nil {
		resp.TicketBreaker = a.ticketBreaker.State()
	}

	a.writeJSON(w, http.StatusOK, resp)
}

// adminAuth enforces §6.4/§7's "admin endpoints require a separate
// token", never leaking why a request was rejected beyond 401.
func (a *API) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken == "" || r.Header.Get("X-Admin-Token") != a.adminToken {
			a.writeError(w, apperr.New(apperr.Unauthorized, "unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
