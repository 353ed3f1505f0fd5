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
	"sync"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/apperr"
)

// LeaderLock is the "well-known advisory lock in the store" §4.9 calls
// for: a session-level Postgres advisory lock held on a single pinned
// connection for as long as this process is the leader. There is no
// third-party leader-election primitive in the dependency pack that fits
// a single-Postgres-instance deployment (the teacher's own leader
// election is sigs.k8s.io/controller-runtime's, explicitly out of scope
// per §11.1), so this is a deliberate direct use of database/sql.
type LeaderLock struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewLeaderLock builds a lock keyed by key (an arbitrary, deployment-wide
// constant — every coordinator instance must agree on it).
func NewLeaderLock(db *sql.DB, key int64) *LeaderLock {
	return &LeaderLock{db: db, key: key}
}

// TryAcquire attempts to become leader without blocking. false (no
// error) means another instance already holds it.
func (l *LeaderLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to reserve connection for leader lock", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		conn.Close()
		return false, apperr.Wrap(apperr.TransientStoreError, "failed to attempt leader lock", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release gives up leadership, freeing the pinned connection.
func (l *LeaderLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return apperr.Wrap(apperr.TransientStoreError, "failed to release leader lock", err)
	}
	if closeErr != nil {
		return apperr.Wrap(apperr.TransientStoreError, "failed to close leader lock connection", closeErr)
	}
	return nil
}
