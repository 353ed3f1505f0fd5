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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

func TestFeatureTracker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "FeatureTracker Suite")
}

var _ = Describe("FeatureTracker", func() {
	var (
		mockDB   *sqlmockDB
		phases   *PhaseStore
		features *FeatureStore
		tracker  *FeatureTracker
		ctx      context.Context
	)

	BeforeEach(func() {
		mockDB = newSQLMock()
		phases = New(mockDB.db, zap.NewNop(), nil)
		features = NewFeatureStore(mockDB.db, zap.NewNop())
		tracker = NewFeatureTracker(phases, features, zap.NewNop())
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.db.Close()
	})

	It("completes the feature when a completed phase was the last one outstanding", func() {
		mockDB.mock.ExpectQuery(`SELECT .* FROM phases`).
			WillReturnRows(sqlmock.NewRows([]string{
				"phase_id", "feature_id", "phase_number", "title", "prompt", "depends_on",
				"status", "priority", "queue_position", "external_ticket_ref", "worker_ref",
				"error_message", "launch_attempts", "created_at", "updated_at", "ready_at",
				"started_at", "completed_at",
			}).AddRow("p1", int64(7), 1, "t", "p", "{}", "completed", 50, int64(1),
				nil, nil, nil, 0, time.Now(), time.Now(), nil, nil, nil))
		mockDB.mock.ExpectExec(`UPDATE features SET status = \$2`).
			WithArgs(int64(7), "completed", "in_progress").
			WillReturnResult(sqlmock.NewResult(0, 1))

		Expect(tracker.OnPhaseTerminal(ctx, "p1", model.PhaseCompleted)).To(Succeed())
	})
})
