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
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// FeatureStore owns the `features` table — the Plans-registry-shaped
// parent record that phases hang off of (§3).
type FeatureStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewFeatureStore wraps db for feature persistence.
func NewFeatureStore(db *sql.DB, log *zap.Logger) *FeatureStore {
	return &FeatureStore{db: sqlx.NewDb(db, "pgx"), log: log}
}

// CreateFeature inserts a feature row and returns its generated id. The
// caller (the /submit handler) inserts phases against this id in a
// follow-up call to PhaseStore.InsertPhases.
func (s *FeatureStore) CreateFeature(ctx context.Context, title, description string, totalPhases int) (int64, error) {
	var featureID int64
	err := s.db.GetContext(ctx, &featureID, `
		INSERT INTO features (title, description, total_phases, status)
		VALUES ($1, $2, $3, $4)
		RETURNING feature_id
	`, title, description, totalPhases, model.FeatureInProgress)
	if err != nil {
		return 0, apperr.Wrap(apperr.TransientStoreError, "failed to create feature", err)
	}
	return featureID, nil
}

// Get fetches a feature by id.
func (s *FeatureStore) Get(ctx context.Context, featureID int64) (*model.Feature, error) {
	var f model.Feature
	err := s.db.QueryRowContext(ctx, `
		SELECT feature_id, title, description, total_phases, status, created_at
		FROM features WHERE feature_id = $1
	`, featureID).Scan(&f.FeatureID, &f.Title, &f.Description, &f.TotalPhases, &f.Status, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "feature not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to fetch feature", err)
	}
	return &f, nil
}

// CompleteIfAllPhasesDone transitions a feature in_progress -> completed
// exactly once, the moment its last phase commits completed (round-trip
// law, §8: "Complete all phases of a feature -> feature status becomes
// completed exactly once"). It returns false if the feature wasn't
// transitioned, either because it already was or because phases remain
// outstanding.
func (s *FeatureStore) CompleteIfAllPhasesDone(ctx context.Context, featureID int64) (bool, error) {
	// model.FeatureCompleted and model.PhaseCompleted are both the literal
	// string "completed"; $2 is reused across the feature-status and
	// phase-status comparisons below on that basis.
	res, err := s.db.ExecContext(ctx, `
		UPDATE features SET status = $2
		WHERE feature_id = $1
		  AND status = $3
		  AND NOT EXISTS (
		    SELECT 1 FROM phases
		    WHERE feature_id = $1 AND status <> $2
		  )
	`, featureID, model.FeatureCompleted, model.FeatureInProgress)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to complete feature", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkFailed transitions a feature to failed, surfacing a phase's
// terminal failure to its parent record (§4.4). It is a no-op once the
// feature is already in a terminal state.
func (s *FeatureStore) MarkFailed(ctx context.Context, featureID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE features SET status = $2
		WHERE feature_id = $1 AND status NOT IN ($2, $3)
	`, featureID, model.FeatureFailed, model.FeatureCompleted)
	if err != nil {
		return apperr.Wrap(apperr.TransientStoreError, "failed to mark feature failed", err)
	}
	return nil
}
