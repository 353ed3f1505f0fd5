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

package launcher

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/ticket"
)

func TestLauncher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Launcher Suite")
}

type fakeStore struct {
	mu             sync.Mutex
	phase          *model.Phase
	recordedTicket string
	recordedWorker string
	attempts       int
	terminalStatus model.PhaseStatus
	terminalErr    *string
	recordErr      error
}

func (f *fakeStore) Get(context.Context, string) (*model.Phase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *f.phase
	return &p, nil
}

func (f *fakeStore) RecordLaunch(_ context.Context, _, ticketRef, workerRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recordedTicket = ticketRef
	f.recordedWorker = workerRef
	return nil
}

func (f *fakeStore) MarkTerminal(_ context.Context, _ string, status model.PhaseStatus, errMsg *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminalStatus = status
	f.terminalErr = errMsg
	return true, nil
}

func (f *fakeStore) IncrementLaunchAttempts(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	return f.attempts, nil
}

func (f *fakeStore) snapshot() fakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeStore{
		recordedTicket: f.recordedTicket,
		recordedWorker: f.recordedWorker,
		attempts:       f.attempts,
		terminalStatus: f.terminalStatus,
		terminalErr:    f.terminalErr,
	}
}

type failingPoster struct{ err error }

func (p failingPoster) CreateTicket(context.Context, ticket.Payload) (string, error) {
	return "", p.err
}

func noopCmd(string) *exec.Cmd {
	return exec.Command("true")
}

func eventually(f func() bool) {
	Eventually(f, time.Second, 5*time.Millisecond).Should(BeTrue())
}

var _ = Describe("Launcher", func() {
	var store *fakeStore

	BeforeEach(func() {
		store = &fakeStore{phase: &model.Phase{PhaseID: "p1", FeatureID: 1, PhaseNumber: 1, Title: "t", Prompt: "do it"}}
	})

	It("creates a ticket, records the launch, and spawns the worker", func() {
		l := New(store, ticket.NoopPoster{}, nil, noopCmd, Config{}, zap.NewNop())

		l.Launch(context.Background(), "p1")

		eventually(func() bool { return store.snapshot().recordedTicket != "" })
		snap := store.snapshot()
		Expect(snap.recordedTicket).To(Equal("local-p1"))
		Expect(snap.recordedWorker).To(Equal("worker-p1"))
		Expect(snap.terminalStatus).To(BeEmpty())
	})

	It("fails the phase after MaxLaunchAttempts consecutive ticket failures", func() {
		l := New(store, failingPoster{err: errors.New("ticket service down")}, nil, noopCmd,
			Config{MaxLaunchAttempts: 2}, zap.NewNop())

		l.Launch(context.Background(), "p1")
		eventually(func() bool { return store.snapshot().attempts >= 1 })
		Expect(store.snapshot().terminalStatus).To(BeEmpty())

		l.Launch(context.Background(), "p1")
		eventually(func() bool { return store.snapshot().terminalStatus == model.PhaseFailed })
	})

	It("fails the phase when RecordLaunch is rejected", func() {
		store.recordErr = errors.New("phase is not running")
		l := New(store, ticket.NoopPoster{}, nil, noopCmd, Config{}, zap.NewNop())

		l.Launch(context.Background(), "p1")

		eventually(func() bool { return store.snapshot().terminalStatus == model.PhaseFailed })
	})
})
