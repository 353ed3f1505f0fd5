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

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// ConfigStore owns the single-row coordinator_config table, the durable
// backing for §6.4's PATCH /admin/config and pause/resume — every
// coordinator instance (leader or hot spare) reads the same row.
type ConfigStore struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewConfigStore wraps db for coordinator config persistence.
func NewConfigStore(db *sqlx.DB, log *zap.Logger) *ConfigStore {
	return &ConfigStore{db: db, log: log}
}

// Get reads the singleton config row.
func (s *ConfigStore) Get(ctx context.Context) (*model.CoordinatorConfig, error) {
	var cfg model.CoordinatorConfig
	err := s.db.QueryRowContext(ctx, `SELECT paused, max_concurrent, dedup_window_seconds FROM coordinator_config`).
		Scan(&cfg.Paused, &cfg.MaxConcurrent, &cfg.DedupWindowSeconds)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientStoreError, "failed to read coordinator config", err)
	}
	return &cfg, nil
}

// SetPaused toggles admission (§4.9 pause/resume).
func (s *ConfigStore) SetPaused(ctx context.Context, paused bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE coordinator_config SET paused = $1`, paused); err != nil {
		return apperr.Wrap(apperr.TransientStoreError, "failed to set paused", err)
	}
	return nil
}

// SetMaxConcurrent updates the concurrency cap (§4.9 "changing
// max_concurrent is immediate").
func (s *ConfigStore) SetMaxConcurrent(ctx context.Context, n int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE coordinator_config SET max_concurrent = $1`, n); err != nil {
		return apperr.Wrap(apperr.TransientStoreError, "failed to set max_concurrent", err)
	}
	return nil
}

// SetDedupWindowSeconds updates the dedup window.
func (s *ConfigStore) SetDedupWindowSeconds(ctx context.Context, n int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE coordinator_config SET dedup_window_seconds = $1`, n); err != nil {
		return apperr.Wrap(apperr.TransientStoreError, "failed to set dedup_window_seconds", err)
	}
	return nil
}
