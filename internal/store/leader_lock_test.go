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

	"github.com/DATA-DOG/go-sqlmock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLeaderLock(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LeaderLock Suite")
}

var _ = Describe("LeaderLock", func() {
	var (
		mockDB *sqlmockDB
		ctx    context.Context
	)

	BeforeEach(func() {
		mockDB = newSQLMock()
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.db.Close()
	})

	It("acquires and releases the advisory lock", func() {
		mockDB.mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
		mockDB.mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
			WithArgs(int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		lock := NewLeaderLock(mockDB.db, 42)

		acquired, err := lock.TryAcquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(acquired).To(BeTrue())

		Expect(lock.Release(ctx)).To(Succeed())
	})

	It("reports false without error when another instance holds the lock", func() {
		mockDB.mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

		lock := NewLeaderLock(mockDB.db, 42)

		acquired, err := lock.TryAcquire(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(acquired).To(BeFalse())
	})
})
