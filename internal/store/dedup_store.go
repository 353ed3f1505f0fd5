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
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
)

// DedupStore is C2. TryRecord's hot path is a Redis SETNX so a worker's
// duplicate POST is rejected in well under a millisecond even under a
// retry storm; Postgres remains the durable record the sweep (§4.2)
// operates on, and is also consulted so a dedup decision survives a
// Redis restart losing its working set.
type DedupStore struct {
	db    *sql.DB
	redis *redis.Client
	log   *zap.Logger
}

// NewDedupStore wraps a Postgres handle and an optional Redis client. A
// nil redis client degrades gracefully to Postgres-only deduplication.
func NewDedupStore(db *sql.DB, rdb *redis.Client, log *zap.Logger) *DedupStore {
	return &DedupStore{db: db, redis: rdb, log: log}
}

const dedupRedisPrefix = "phasesched:dedup:"

// TryRecord inserts event_id, returning true iff it was newly recorded.
// It enforces I5/P5: two completions with the same event_id within the
// dedup window produce exactly one accepted recording.
func (d *DedupStore) TryRecord(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	if d.redis != nil {
		ok, err := d.redis.SetNX(ctx, dedupRedisPrefix+eventID, "1", window).Result()
		if err != nil {
			d.log.Warn("redis dedup check failed, falling back to postgres", zap.Error(err), zap.String("event_id", eventID))
		} else if !ok {
			return false, nil
		}
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO completion_events (event_id, received_at, accepted)
		VALUES ($1, now(), true)
	`, eventID)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, apperr.Wrap(apperr.TransientStoreError, "failed to record completion event", err)
}

// Sweep deletes completion_events older than retention, keeping the
// table bounded regardless of how much longer than W it is configured
// to retain rows.
func (d *DedupStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM completion_events WHERE received_at < $1
	`, time.Now().Add(-retention))
	if err != nil {
		return 0, apperr.Wrap(apperr.TransientStoreError, "failed to sweep completion events", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
