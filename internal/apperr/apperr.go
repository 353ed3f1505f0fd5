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

// Package apperr is the error taxonomy from the design: a small,
// closed set of kinds with an HTTP status mapping, so handlers never
// have to pattern-match error strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error taxonomy. Every error that crosses a
// component boundary is either one of these or a bare Go error that the
// caller treats as TerminalStoreError.
type Kind string

const (
	InvalidSubmission   Kind = "invalid_submission"
	TransientStoreError Kind = "transient_store_error"
	TerminalStoreError  Kind = "terminal_store_error"
	DuplicateEvent      Kind = "duplicate_event"
	WorkerSpawnFailure  Kind = "worker_spawn_failure"
	TicketServiceFailure Kind = "ticket_service_failure"
	OrphanedWorker      Kind = "orphaned_worker"
	SignatureRejected   Kind = "signature_rejected"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	Unauthorized        Kind = "unauthorized"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// category without inspecting message text.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error with no wrapped cause.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds a taxonomy error around an existing cause, following the
// teacher's "%s: %w" convention.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, defaulting to TerminalStoreError
// for anything not tagged — an untagged error crossing a boundary is
// treated as a real bug, not a transient condition.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return TerminalStoreError
}

// HTTPStatus maps a Kind to the status code §7/§6 specify.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidSubmission:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case SignatureRejected, Unauthorized:
		return http.StatusUnauthorized
	case TransientStoreError, TicketServiceFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether the operation is safe to retry with
// bounded backoff at the caller, per §7/§4.1 failure semantics.
func IsTransient(err error) bool {
	k := KindOf(err)
	return k == TransientStoreError || k == TicketServiceFailure
}
