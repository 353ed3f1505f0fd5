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
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// pqIntArray codecs Postgres integer[] columns as a Go []int using the
// standard `{1,2,3}` array literal, so depends_on round-trips through
// database/sql without a dedicated array-aware driver.
type pqIntArray []int

func (a pqIntArray) Value() (driver.Value, error) {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.Itoa(v)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

func (a *pqIntArray) Scan(src any) error {
	if src == nil {
		*a = nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("pqIntArray: unsupported scan type %T", src)
	}
	s = strings.Trim(s, "{}")
	if s == "" {
		*a = pqIntArray{}
		return nil
	}
	fields := strings.Split(s, ",")
	out := make(pqIntArray, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return fmt.Errorf("pqIntArray: invalid element %q: %w", f, err)
		}
		out = append(out, n)
	}
	*a = out
	return nil
}

// selectPhaseColumns is shared by Get/ListByFeature/Successors so the
// column list and the scan order in phaseRow never drift apart.
const selectPhaseColumns = `
	SELECT phase_id, feature_id, phase_number, title, prompt, depends_on,
	       status, priority, queue_position, external_ticket_ref, worker_ref,
	       error_message, launch_attempts, created_at, updated_at, ready_at,
	       started_at, completed_at
	FROM phases`

// phaseRow is the sqlx scan target for the phases table; toModel applies
// the nullable-field conversions once in a single place.
type phaseRow struct {
	PhaseID           string         `db:"phase_id"`
	FeatureID         int64          `db:"feature_id"`
	PhaseNumber       int            `db:"phase_number"`
	Title             string         `db:"title"`
	Prompt            string         `db:"prompt"`
	DependsOn         pqIntArray     `db:"depends_on"`
	Status            string         `db:"status"`
	Priority          int            `db:"priority"`
	QueuePosition     int64          `db:"queue_position"`
	ExternalTicketRef sql.NullString `db:"external_ticket_ref"`
	WorkerRef         sql.NullString `db:"worker_ref"`
	ErrorMessage      sql.NullString `db:"error_message"`
	LaunchAttempts    int            `db:"launch_attempts"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	ReadyAt           sql.NullTime   `db:"ready_at"`
	StartedAt         sql.NullTime   `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r phaseRow) toModel() model.Phase {
	p := model.Phase{
		PhaseID:        r.PhaseID,
		FeatureID:      r.FeatureID,
		PhaseNumber:    r.PhaseNumber,
		Title:          r.Title,
		Prompt:         r.Prompt,
		DependsOn:      []int(r.DependsOn),
		Status:         model.PhaseStatus(r.Status),
		Priority:       r.Priority,
		QueuePosition:  r.QueuePosition,
		LaunchAttempts: r.LaunchAttempts,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ExternalTicketRef.Valid {
		p.ExternalTicketRef = &r.ExternalTicketRef.String
	}
	if r.WorkerRef.Valid {
		p.WorkerRef = &r.WorkerRef.String
	}
	if r.ErrorMessage.Valid {
		p.ErrorMessage = &r.ErrorMessage.String
	}
	if r.ReadyAt.Valid {
		p.ReadyAt = &r.ReadyAt.Time
	}
	if r.StartedAt.Valid {
		p.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		p.CompletedAt = &r.CompletedAt.Time
	}
	return p
}
