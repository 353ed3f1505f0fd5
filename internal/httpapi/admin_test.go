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

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

type fakeCoordinator struct {
	paused          bool
	resumed         bool
	maxConcurrent   *int
	dedupWindowSecs *int
	err             error
}

func (f *fakeCoordinator) Pause(context.Context) error  { f.paused = true; return f.err }
func (f *fakeCoordinator) Resume(context.Context) error { f.resumed = true; return f.err }
func (f *fakeCoordinator) UpdateConfig(_ context.Context, maxConcurrent, dedupWindowSeconds *int) error {
	f.maxConcurrent = maxConcurrent
	f.dedupWindowSecs = dedupWindowSeconds
	return f.err
}

type fakeLimits struct {
	maxConcurrent int
	paused        bool
}

func (f *fakeLimits) MaxConcurrent() int { return f.maxConcurrent }
func (f *fakeLimits) Paused() bool       { return f.paused }

type fakeBreaker struct{ state string }

func (f fakeBreaker) State() string { return f.state }

func adminAPI(coord *fakeCoordinator, limits *fakeLimits, phases *fakePhases, token string) *API {
	return New(Deps{
		Coordinator: coord,
		Limits:      limits,
		Phases:      phases,
		Ingress:     http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
		AdminToken:  token,
		Log:         zap.NewNop(),
	})
}

var _ = Describe("admin endpoints", func() {
	Describe("handlePause / handleResume", func() {
		It("pauses the coordinator", func() {
			coord := &fakeCoordinator{}
			a := adminAPI(coord, &fakeLimits{}, &fakePhases{}, "secret")

			req := httptest.NewRequest(http.MethodPost, "/admin/pause", nil)
			rec := httptest.NewRecorder()
			a.handlePause(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(coord.paused).To(BeTrue())
		})

		It("resumes the coordinator", func() {
			coord := &fakeCoordinator{}
			a := adminAPI(coord, &fakeLimits{}, &fakePhases{}, "secret")

			req := httptest.NewRequest(http.MethodPost, "/admin/resume", nil)
			rec := httptest.NewRecorder()
			a.handleResume(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(coord.resumed).To(BeTrue())
		})
	})

	Describe("handleUpdateConfig", func() {
		It("applies a max_concurrent change", func() {
			coord := &fakeCoordinator{}
			a := adminAPI(coord, &fakeLimits{}, &fakePhases{}, "secret")

			body, _ := json.Marshal(map[string]int{"max_concurrent": 5})
			req := httptest.NewRequest(http.MethodPatch, "/admin/config", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			a.handleUpdateConfig(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(*coord.maxConcurrent).To(Equal(5))
		})

		It("rejects an empty body with 400", func() {
			a := adminAPI(&fakeCoordinator{}, &fakeLimits{}, &fakePhases{}, "secret")

			req := httptest.NewRequest(http.MethodPatch, "/admin/config", bytes.NewReader([]byte(`{}`)))
			rec := httptest.NewRecorder()
			a.handleUpdateConfig(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects max_concurrent below 1", func() {
			a := adminAPI(&fakeCoordinator{}, &fakeLimits{}, &fakePhases{}, "secret")

			body, _ := json.Marshal(map[string]int{"max_concurrent": 0})
			req := httptest.NewRequest(http.MethodPatch, "/admin/config", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			a.handleUpdateConfig(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleAdminState", func() {
		It("reports counts by status alongside the live limits", func() {
			phases := &fakePhases{counts: map[model.PhaseStatus]int{
				model.PhaseRunning: 2,
				model.PhaseReady:   1,
				model.PhaseQueued:  4,
			}}
			a := adminAPI(&fakeCoordinator{}, &fakeLimits{maxConcurrent: 3, paused: true}, phases, "secret")

			req := httptest.NewRequest(http.MethodGet, "/admin/state", nil)
			rec := httptest.NewRecorder()
			a.handleAdminState(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp adminStateResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(Equal(adminStateResponse{
				Paused: true, MaxConcurrent: 3, RunningCount: 2, ReadyCount: 1, QueuedCount: 4,
			}))
		})

		It("includes ticket breaker health when one is wired", func() {
			phases := &fakePhases{counts: map[model.PhaseStatus]int{}}
			a := New(Deps{
				Coordinator:   &fakeCoordinator{},
				Limits:        &fakeLimits{},
				Phases:        phases,
				TicketBreaker: fakeBreaker{state: "open"},
				Ingress:       http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
				Log:           zap.NewNop(),
			})

			req := httptest.NewRequest(http.MethodGet, "/admin/state", nil)
			rec := httptest.NewRecorder()
			a.handleAdminState(rec, req)

			var resp adminStateResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.TicketBreaker).To(Equal("open"))
		})
	})

	Describe("adminAuth", func() {
		It("rejects a request with the wrong token", func() {
			a := adminAPI(&fakeCoordinator{}, &fakeLimits{}, &fakePhases{}, "secret")
			called := false
			h := a.adminAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodPost, "/admin/pause", nil)
			req.Header.Set("X-Admin-Token", "wrong")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(called).To(BeFalse())
		})

		It("allows a request with the correct token", func() {
			a := adminAPI(&fakeCoordinator{}, &fakeLimits{}, &fakePhases{}, "secret")
			called := false
			h := a.adminAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodPost, "/admin/pause", nil)
			req.Header.Set("X-Admin-Token", "secret")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			Expect(called).To(BeTrue())
		})
	})
})
