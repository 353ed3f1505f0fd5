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

package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

func TestCoordinator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Coordinator Suite")
}

type fakeLock struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
	denyOnce bool
}

func (l *fakeLock) TryAcquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.denyOnce {
		l.denyOnce = false
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	l.held = false
	return nil
}

type fakePhaseStore struct {
	mu     sync.Mutex
	orphans []model.Phase
	failed  []string
	stuck   []model.Phase
}

func (p *fakePhaseStore) FindOrphans(context.Context, time.Time) ([]model.Phase, error) {
	return p.orphans, nil
}

func (p *fakePhaseStore) MarkTerminal(_ context.Context, phaseID string, status model.PhaseStatus, _ *string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, phaseID)
	return true, nil
}

func (p *fakePhaseStore) FindStuckLaunches(context.Context, int, time.Time) ([]model.Phase, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stuck, nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []string
}

func (l *fakeLauncher) Launch(_ context.Context, phaseID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, phaseID)
}

func (l *fakeLauncher) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.launched))
	copy(out, l.launched)
	return out
}

type fakeDedup struct {
	swept bool
}

func (d *fakeDedup) Sweep(context.Context, time.Duration) (int64, error) {
	d.swept = true
	return 0, nil
}

type fakeConfigs struct {
	mu     sync.Mutex
	cfg    model.CoordinatorConfig
	setPausedCalls []bool
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{cfg: model.CoordinatorConfig{MaxConcurrent: 4}}
}

func (c *fakeConfigs) Get(context.Context) (*model.CoordinatorConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.cfg
	return &cp, nil
}

func (c *fakeConfigs) SetPaused(_ context.Context, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Paused = paused
	c.setPausedCalls = append(c.setPausedCalls, paused)
	return nil
}

func (c *fakeConfigs) SetMaxConcurrent(_ context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.MaxConcurrent = n
	return nil
}

func (c *fakeConfigs) SetDedupWindowSeconds(_ context.Context, n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.DedupWindowSeconds = n
	return nil
}

type fakeAdmission struct {
	mu    sync.Mutex
	calls int
}

func (a *fakeAdmission) Consider(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
}

func (a *fakeAdmission) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeEvents struct {
	mu       sync.Mutex
	running  bool
	closed   bool
	statuses []interface{}
}

func (e *fakeEvents) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	<-ctx.Done()
}

func (e *fakeEvents) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *fakeEvents) PublishSystemStatus(data interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, data)
}

var _ = Describe("Coordinator", func() {
	var (
		lock      *fakeLock
		phases    *fakePhaseStore
		dedup     *fakeDedup
		configs   *fakeConfigs
		admission *fakeAdmission
		launch    *fakeLauncher
		events    *fakeEvents
		limits    *RuntimeLimits
		coord     *Coordinator
	)

	BeforeEach(func() {
		lock = &fakeLock{}
		phases = &fakePhaseStore{}
		dedup = &fakeDedup{}
		configs = newFakeConfigs()
		admission = &fakeAdmission{}
		launch = &fakeLauncher{}
		events = &fakeEvents{}
		limits = &RuntimeLimits{}
		coord = New(lock, phases, dedup, configs, admission, launch, events, limits,
			Config{LeaderRetryInterval: time.Millisecond, LaunchRetryInterval: 5 * time.Millisecond,
				DedupSweepInterval: 5 * time.Millisecond}, logr.Discard())
	})

	It("acquires leadership, reconciles, and runs until cancelled", func() {
		phases.orphans = []model.Phase{{PhaseID: "orphan-1"}}
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- coord.Run(ctx) }()

		Eventually(func() State { return coord.State() }).Should(Equal(StateLeading))
		Expect(phases.failed).To(ConsistOf("orphan-1"))
		Expect(dedup.swept).To(BeTrue())
		Expect(limits.MaxConcurrent()).To(Equal(4))
		Expect(admission.count()).To(BeNumerically(">=", 1))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
		Expect(lock.releases).To(Equal(1))
		Expect(events.closed).To(BeTrue())
	})

	It("periodically retries phases stuck below MaxLaunchAttempts", func() {
		phases.stuck = []model.Phase{{PhaseID: "stuck-1"}}
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- coord.Run(ctx) }()

		Eventually(launch.calls).Should(ContainElement("stuck-1"))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("skips the retry sweep while paused", func() {
		phases.stuck = []model.Phase{{PhaseID: "stuck-1"}}
		configs.cfg.Paused = true
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- coord.Run(ctx) }()

		Consistently(launch.calls, 30*time.Millisecond).Should(BeEmpty())

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("retries until it wins leadership", func() {
		lock.denyOnce = true
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- coord.Run(ctx) }()

		Eventually(func() int { return lock.acquires }).Should(BeNumerically(">=", 2))
		Eventually(func() State { return coord.State() }).Should(Equal(StateLeading))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("pauses and resumes, syncing limits, config, and a status broadcast", func() {
		Expect(coord.Pause(context.Background())).To(Succeed())
		Expect(limits.Paused()).To(BeTrue())
		Expect(coord.State()).To(Equal(StatePaused))
		Expect(configs.setPausedCalls).To(Equal([]bool{true}))

		Expect(coord.Resume(context.Background())).To(Succeed())
		Expect(limits.Paused()).To(BeFalse())
		Expect(coord.State()).To(Equal(StateLeading))
		Expect(admission.count()).To(BeNumerically(">=", 1))
		Expect(events.statuses).To(HaveLen(2))
	})

	It("triggers admission only when max_concurrent is raised", func() {
		limits.SetMaxConcurrent(4)
		lower := 2
		Expect(coord.UpdateConfig(context.Background(), &lower, nil)).To(Succeed())
		Expect(admission.count()).To(Equal(0))

		higher := 10
		Expect(coord.UpdateConfig(context.Background(), &higher, nil)).To(Succeed())
		Expect(admission.count()).To(Equal(1))
		Expect(limits.MaxConcurrent()).To(Equal(10))
	})
})
