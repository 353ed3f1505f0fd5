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
	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestDedupStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DedupStore Suite")
}

var _ = Describe("DedupStore", func() {
	var (
		mockDB *sqlmockDB
		mr     *miniredis.Miniredis
		rdb    *redis.Client
		dedup  *DedupStore
		ctx    context.Context
	)

	BeforeEach(func() {
		mockDB = newSQLMock()
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		dedup = NewDedupStore(mockDB.db, rdb, zap.NewNop())
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.db.Close()
		rdb.Close()
		mr.Close()
	})

	Describe("TryRecord", func() {
		Context("on first observation", func() {
			It("records the event in Redis and Postgres and returns true", func() {
				mockDB.mock.ExpectExec(`INSERT INTO completion_events`).
					WithArgs("event-1").
					WillReturnResult(sqlmock.NewResult(1, 1))

				ok, err := dedup.TryRecord(ctx, "event-1", 30*time.Second)

				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(mr.Exists(dedupRedisPrefix + "event-1")).To(BeTrue())
			})
		})

		Context("on a duplicate within the window", func() {
			It("short-circuits on the Redis check without touching Postgres", func() {
				Expect(mr.Set(dedupRedisPrefix+"event-1", "1")).To(Succeed())

				ok, err := dedup.TryRecord(ctx, "event-1", 30*time.Second)

				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())
				Expect(mockDB.mock.ExpectationsWereMet()).To(Succeed())
			})
		})
	})

	Describe("Sweep", func() {
		It("deletes rows older than the retention window", func() {
			mockDB.mock.ExpectExec(`DELETE FROM completion_events WHERE received_at`).
				WillReturnResult(sqlmock.NewResult(0, 3))

			n, err := dedup.Sweep(ctx, time.Hour)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(3)))
		})
	})
})
