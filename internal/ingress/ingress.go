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

// Package ingress is C7: the HTTP boundary external workers call back on
// with a terminal signal. Signature verification, deduplication, the
// terminal state transition, and emission are the at-most-once pipeline
// of §4.7; emission itself is implicit, since MarkTerminal's own
// notifier call is the EventBroadcaster wiring.
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// PhaseStore is the subset of PhaseStore CompletionIngress needs.
type PhaseStore interface {
	Get(ctx context.Context, phaseID string) (*model.Phase, error)
	MarkTerminal(ctx context.Context, phaseID string, status model.PhaseStatus, errMsg *string) (bool, error)
}

// DedupStore is the subset of DedupStore CompletionIngress needs.
type DedupStore interface {
	TryRecord(ctx context.Context, eventID string, window time.Duration) (bool, error)
}

// Metrics is the subset of metrics.Metrics CompletionIngress reports
// webhook outcomes to. Left nil in tests that don't care about metrics.
type Metrics interface {
	IncWebhookTotal(outcome string)
}

// CompletionRequest is the worker callback payload (§4.7, §6.2).
type CompletionRequest struct {
	PhaseID   string  `json:"phase_id"`
	Status    string  `json:"status"`
	WorkerRef string  `json:"worker_ref"`
	Error     *string `json:"error,omitempty"`
}

// StateSummary is what a successful completion reports back (§4.7 step 6).
type StateSummary struct {
	PhaseID   string `json:"phase_id"`
	Status    string `json:"status"`
	WorkerRef string `json:"worker_ref,omitempty"`
}

// Ingress is C7.
type Ingress struct {
	store       PhaseStore
	dedup       DedupStore
	secret      []byte
	dedupWindow time.Duration
	metrics     Metrics
	log         *zap.Logger
}

// New builds an Ingress that verifies signatures against secret and
// dedups within window.
func New(store PhaseStore, dedup DedupStore, secret []byte, window time.Duration, log *zap.Logger) *Ingress {
	return &Ingress{store: store, dedup: dedup, secret: secret, dedupWindow: window, log: log}
}

// SetMetrics wires m into the ingress after construction, since New does
// not take it; until it is called no metrics are recorded.
func (i *Ingress) SetMetrics(m Metrics) {
	i.metrics = m
}

func (i *Ingress) countWebhook(outcome string) {
	if i.metrics != nil {
		i.metrics.IncWebhookTotal(outcome)
	}
}

// ServeHTTP implements http.Handler for POST /phase-complete.
func (i *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		i.writeError(w, apperr.New(apperr.InvalidSubmission, "failed to read request body"))
		return
	}

	if !i.verifySignature(r.Header.Get("X-Signature"), body) {
		i.log.Warn("phase-complete: signature rejected")
		i.countWebhook("rejected")
		i.writeError(w, apperr.New(apperr.SignatureRejected, "signature rejected"))
		return
	}

	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		i.countWebhook("invalid")
		i.writeError(w, apperr.New(apperr.InvalidSubmission, "malformed completion payload"))
		return
	}
	status := model.PhaseStatus(req.Status)
	if status != model.PhaseCompleted && status != model.PhaseFailed {
		i.countWebhook("invalid")
		i.writeError(w, apperr.New(apperr.InvalidSubmission, "status must be completed or failed"))
		return
	}

	eventID := computeEventID(req.PhaseID, req.Status, req.WorkerRef)

	ctx := r.Context()
	accepted, err := i.dedup.TryRecord(ctx, eventID, i.dedupWindow)
	if err != nil {
		i.countWebhook("transient_error")
		i.writeError(w, apperr.Wrap(apperr.TransientStoreError, "dedup check failed", err))
		return
	}
	if !accepted {
		i.countWebhook("duplicate")
		i.writeJSON(w, http.StatusOK, map[string]bool{"duplicate": true})
		return
	}

	if _, err := i.store.Get(ctx, req.PhaseID); err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			i.countWebhook("not_found")
			i.writeError(w, err)
			return
		}
		i.countWebhook("transient_error")
		i.writeError(w, err)
		return
	}

	transitioned, err := i.store.MarkTerminal(ctx, req.PhaseID, status, req.Error)
	if err != nil {
		i.countWebhook("transient_error")
		i.writeError(w, err)
		return
	}
	if !transitioned {
		i.countWebhook("conflict")
		i.writeError(w, apperr.New(apperr.Conflict, "phase is not running"))
		return
	}

	i.countWebhook("accepted")
	i.writeJSON(w, http.StatusOK, StateSummary{PhaseID: req.PhaseID, Status: req.Status, WorkerRef: req.WorkerRef})
}

// verifySignature checks header against "sha256=<hex hmac of body>" using
// a constant-time comparison, never logging which half of the check
// failed (§4.7 step 1, §7 SignatureRejected).
func (i *Ingress) verifySignature(header string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(body)
	want := mac.Sum(nil)
	return hmac.Equal(got, want)
}

func computeEventID(phaseID, status, workerRef string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", phaseID, status, workerRef)))
	return hex.EncodeToString(sum[:])
}

func (i *Ingress) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (i *Ingress) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= 500 {
		i.log.Error("phase-complete: request failed", zap.Error(err))
	}

	var msg string
	switch kind {
	case apperr.SignatureRejected:
		msg = "unauthorized"
	case apperr.NotFound:
		msg = "phase not found"
	case apperr.Conflict:
		msg = "phase is not in a state that accepts this transition"
	case apperr.InvalidSubmission:
		msg = err.Error()
	default:
		msg = "internal error"
	}
	i.writeJSON(w, status, map[string]string{"error": msg})
}
