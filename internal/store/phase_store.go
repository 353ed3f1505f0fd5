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

// Package store is C1/C2: the durable record of every phase and the
// short-horizon dedup ledger, both backed by Postgres. Every exported
// method is a single transaction, except FindNewlyReady, which runs its
// candidate query and its per-candidate predecessor checks as separate
// statements outside any transaction; nothing here holds a row lock across
// a suspension point other than the database's own row lock within one
// transaction (§5).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// PhaseStore is C1. It is safe for concurrent use: every method opens
// (or is handed) its own transaction, and try_claim/mark_terminal/
// mark_ready are written as conditional UPDATEs so concurrent callers
// race at the database, not in process memory.
type PhaseStore struct {
	db       *sqlx.DB
	log      *zap.Logger
	notifier Notifier
}

// New wraps an already-open *sql.DB (pgx stdlib driver) for phase/feature
// persistence. notifier may be nil, in which case change notifications
// are dropped — useful for store-only tests.
func New(db *sql.DB, log *zap.Logger, notifier Notifier) *PhaseStore {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &PhaseStore{db: sqlx.NewDb(db, "pgx"), log: log, notifier: notifier}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the signal a duplicate phase_number within
// a feature produces.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// InsertPhases bulk-inserts phases for feature_id in one transaction,
// assigning queue_position strictly greater than any existing value and
// status 'ready' iff DependsOn is empty, else 'queued' (§4.1). It
// returns the generated phase_ids in input order.
func (s *PhaseStore) InsertPhases(ctx context.Context, featureID int64, phases []model.NewPhaseInput) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(phases))
	var committed []ChangeNotification

	for _, p := range phases {
		priority := p.Priority
		if priority == 0 {
			priority = model.DefaultPriority
		}
		status := model.PhaseQueued
		var readyAt *time.Time
		if len(p.DependsOn) == 0 {
			status = model.PhaseReady
			now := time.Now()
			readyAt = &now
		}

		phaseID := uuid.NewString()

		_, err := tx.ExecContext(ctx, `
			INSERT INTO phases (
				phase_id, feature_id, phase_number, title, prompt, depends_on,
				status, priority, queue_position, ready_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, nextval('phase_queue_position_seq'), $9)
		`, phaseID, featureID, p.PhaseNumber, p.Title, p.Prompt, pqIntArray(p.DependsOn),
			status, priority, readyAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, apperr.Wrap(apperr.InvalidSubmission, "duplicate phase_number in feature", err)
			}
			return nil, apperr.Wrap(apperr.TransientStoreError, "failed to insert phase", err)
		}

		ids = append(ids, phaseID)
		committed = append(committed, ChangeNotification{PhaseID: phaseID, Status: status})
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to commit phase insert", err)
	}

	for _, n := range committed {
		s.notifier.NotifyChange(n)
	}
	return ids, nil
}

// TryClaim is the sole mechanism enforcing I1: an atomic conditional
// update from ready to running. It returns false (not an error) when
// another caller already claimed the phase.
func (s *PhaseStore) TryClaim(ctx context.Context, phaseID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE phases SET status = 'running', started_at = now(), updated_at = now()
		WHERE phase_id = $1 AND status = 'ready'
	`, phaseID)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to claim phase", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to read claim result", err)
	}
	claimed := n == 1
	if claimed {
		s.notifier.NotifyChange(ChangeNotification{PhaseID: phaseID, Status: model.PhaseRunning})
	}
	return claimed, nil
}

// RecordLaunch writes external_ticket_ref and worker_ref in the same
// transaction, preserving I4: running implies both are non-NULL and
// were set when the phase became running.
func (s *PhaseStore) RecordLaunch(ctx context.Context, phaseID, ticketRef, workerRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE phases SET external_ticket_ref = $2, worker_ref = $3, updated_at = now()
		WHERE phase_id = $1 AND status = 'running'
	`, phaseID, ticketRef, workerRef)
	if err != nil {
		return apperr.Wrap(apperr.TransientStoreError, "failed to record launch", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.Conflict, "phase is not running; cannot record launch")
	}
	return nil
}

// MarkTerminal transitions running -> completed|failed exactly once. A
// false return (no error) means the phase was not in running state —
// the caller (CompletionIngress) surfaces that as 409 per §4.7.
func (s *PhaseStore) MarkTerminal(ctx context.Context, phaseID string, status model.PhaseStatus, errMsg *string) (bool, error) {
	if status != model.PhaseCompleted && status != model.PhaseFailed {
		return false, apperr.New(apperr.InvalidSubmission, "terminal status must be completed or failed")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE phases SET status = $2, error_message = $3, completed_at = now(), updated_at = now()
		WHERE phase_id = $1 AND status = 'running'
	`, phaseID, status, errMsg)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to mark phase terminal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to read terminal result", err)
	}
	transitioned := n == 1
	if transitioned {
		s.notifier.NotifyChange(ChangeNotification{PhaseID: phaseID, Status: status})
	}
	return transitioned, nil
}

// MarkReady transitions queued -> ready, stamping ready_at. It rejects
// any other source state by returning false.
func (s *PhaseStore) MarkReady(ctx context.Context, phaseID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE phases SET status = 'ready', ready_at = now(), updated_at = now()
		WHERE phase_id = $1 AND status = 'queued'
	`, phaseID)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to mark phase ready", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to read ready result", err)
	}
	ready := n == 1
	if ready {
		s.notifier.NotifyChange(ChangeNotification{PhaseID: phaseID, Status: model.PhaseReady})
	}
	return ready, nil
}

// MarkBlocked transitions queued -> blocked, used by the resolver to
// propagate a predecessor's failure (§4.4).
func (s *PhaseStore) MarkBlocked(ctx context.Context, phaseID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE phases SET status = 'blocked', updated_at = now()
		WHERE phase_id = $1 AND status = 'queued'
	`, phaseID)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to mark phase blocked", err)
	}
	n, _ := res.RowsAffected()
	blocked := n == 1
	if blocked {
		s.notifier.NotifyChange(ChangeNotification{PhaseID: phaseID, Status: model.PhaseBlocked})
	}
	return blocked, nil
}

// Unblock is the operator-intervention transition blocked -> queued
// (§3.3 I2).
func (s *PhaseStore) Unblock(ctx context.Context, phaseID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE phases SET status = 'queued', updated_at = now()
		WHERE phase_id = $1 AND status = 'blocked'
	`, phaseID)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to unblock phase", err)
	}
	n, _ := res.RowsAffected()
	unblocked := n == 1
	if unblocked {
		s.notifier.NotifyChange(ChangeNotification{PhaseID: phaseID, Status: model.PhaseQueued})
	}
	return unblocked, nil
}

// FindNextReady implements the Selector's total order (§4.3) and returns
// the single highest-priority claimable phase, or "" if none. paused
// phases are never returned.
func (s *PhaseStore) FindNextReady(ctx context.Context, paused bool) (string, error) {
	if paused {
		return "", nil
	}
	var phaseID string
	err := s.db.GetContext(ctx, &phaseID, `
		SELECT phase_id FROM phases
		WHERE status = 'ready' AND external_ticket_ref IS NULL
		ORDER BY priority ASC, queue_position ASC, feature_id ASC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap(apperr.TransientStoreError, "failed to select next ready phase", err)
	}
	return phaseID, nil
}

// FindNewlyReady returns queued siblings of completedPhaseNumber within
// feature_id whose every declared predecessor is completed (§4.1). It is
// read-only; the caller (DependencyResolver) issues MarkReady per result
// in its own follow-up transaction.
func (s *PhaseStore) FindNewlyReady(ctx context.Context, featureID int64, completedPhaseNumber int) ([]model.Phase, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT phase_id, feature_id, phase_number, depends_on, status
		FROM phases
		WHERE feature_id = $1 AND status = 'queued' AND $2 = ANY(depends_on)
	`, featureID, completedPhaseNumber)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to query candidate phases", err)
	}
	defer rows.Close()

	var candidates []model.Phase
	for rows.Next() {
		var p model.Phase
		var deps pqIntArray
		if err := rows.Scan(&p.PhaseID, &p.FeatureID, &p.PhaseNumber, &deps, &p.Status); err != nil {
			return nil, apperr.Wrap(apperr.TransientStoreError, "failed to scan candidate phase", err)
		}
		p.DependsOn = []int(deps)
		candidates = append(candidates, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to iterate candidate phases", err)
	}

	var newlyReady []model.Phase
	for _, c := range candidates {
		ok, err := s.allPredecessorsCompleted(ctx, featureID, c.DependsOn)
		if err != nil {
			return nil, err
		}
		if ok {
			newlyReady = append(newlyReady, c)
		}
	}
	return newlyReady, nil
}

func (s *PhaseStore) allPredecessorsCompleted(ctx context.Context, featureID int64, predecessors []int) (bool, error) {
	if len(predecessors) == 0 {
		return true, nil
	}
	var incomplete int
	err := s.db.GetContext(ctx, &incomplete, `
		SELECT count(*) FROM phases
		WHERE feature_id = $1 AND phase_number = ANY($2) AND status <> 'completed'
	`, featureID, pqIntArray(predecessors))
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to check predecessor completion", err)
	}
	return incomplete == 0, nil
}

// CountRunning returns the number of phases currently running, used by
// the admission loop to enforce I6.
func (s *PhaseStore) CountRunning(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM phases WHERE status = 'running'`); err != nil {
		return 0, apperr.Wrap(apperr.TransientStoreError, "failed to count running phases", err)
	}
	return n, nil
}

// CountByStatus returns the number of phases in status, for GET
// /admin/state's running_count/ready_count/queued_count (§6.4).
func (s *PhaseStore) CountByStatus(ctx context.Context, status model.PhaseStatus) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM phases WHERE status = $1`, status); err != nil {
		return 0, apperr.Wrap(apperr.TransientStoreError, "failed to count phases by status", err)
	}
	return n, nil
}

// Get fetches a single phase by id.
func (s *PhaseStore) Get(ctx context.Context, phaseID string) (*model.Phase, error) {
	var row phaseRow
	err := s.db.GetContext(ctx, &row, selectPhaseColumns+` WHERE phase_id = $1`, phaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("phase %s not found", phaseID))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to fetch phase", err)
	}
	p := row.toModel()
	return &p, nil
}

// ListByFeature returns every phase belonging to feature_id, ordered by
// phase_number.
func (s *PhaseStore) ListByFeature(ctx context.Context, featureID int64) ([]model.Phase, error) {
	var rows []phaseRow
	err := s.db.SelectContext(ctx, &rows, selectPhaseColumns+` WHERE feature_id = $1 ORDER BY phase_number ASC`, featureID)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to list phases for feature", err)
	}
	phases := make([]model.Phase, 0, len(rows))
	for _, r := range rows {
		phases = append(phases, r.toModel())
	}
	return phases, nil
}

// Successors returns the phases of featureID whose depends_on contains
// phaseNumber (helper for the resolver's blocked-propagation walk).
func (s *PhaseStore) Successors(ctx context.Context, featureID int64, phaseNumber int) ([]model.Phase, error) {
	var rows []phaseRow
	err := s.db.SelectContext(ctx, &rows, selectPhaseColumns+` WHERE feature_id = $1 AND $2 = ANY(depends_on)`, featureID, phaseNumber)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to find phase successors", err)
	}
	phases := make([]model.Phase, 0, len(rows))
	for _, r := range rows {
		phases = append(phases, r.toModel())
	}
	return phases, nil
}

// FindOrphans returns every running phase whose started_at predates
// cutoff — candidates for startup reconciliation's orphan sweep (§4.9a).
func (s *PhaseStore) FindOrphans(ctx context.Context, cutoff time.Time) ([]model.Phase, error) {
	var rows []phaseRow
	err := s.db.SelectContext(ctx, &rows, selectPhaseColumns+` WHERE status = 'running' AND started_at < $1`, cutoff)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to find orphaned phases", err)
	}
	phases := make([]model.Phase, 0, len(rows))
	for _, r := range rows {
		phases = append(phases, r.toModel())
	}
	return phases, nil
}

// FindStuckLaunches returns running phases that never got a ticket
// (external_ticket_ref IS NULL), have not yet exhausted maxAttempts, and
// have been idle since before cutoff — candidates for the coordinator's
// periodic retry sweep to hand back to WorkerLauncher (§4.6 "the phase
// stays in running with a retry counter").
func (s *PhaseStore) FindStuckLaunches(ctx context.Context, maxAttempts int, cutoff time.Time) ([]model.Phase, error) {
	var rows []phaseRow
	err := s.db.SelectContext(ctx, &rows, selectPhaseColumns+`
		WHERE status = 'running' AND external_ticket_ref IS NULL
		  AND launch_attempts < $1 AND updated_at < $2
	`, maxAttempts, cutoff)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to find stuck launches", err)
	}
	phases := make([]model.Phase, 0, len(rows))
	for _, r := range rows {
		phases = append(phases, r.toModel())
	}
	return phases, nil
}

// IncrementLaunchAttempts bumps the retry counter used by WorkerLauncher
// to decide when to give up on a flaky ticket service (§4.6).
func (s *PhaseStore) IncrementLaunchAttempts(ctx context.Context, phaseID string) (int, error) {
	var attempts int
	err := s.db.GetContext(ctx, &attempts, `
		UPDATE phases SET launch_attempts = launch_attempts + 1, updated_at = now()
		WHERE phase_id = $1
		RETURNING launch_attempts
	`, phaseID)
	if err != nil {
		return 0, apperr.Wrap(apperr.TransientStoreError, "failed to increment launch attempts", err)
	}
	return attempts, nil
}
