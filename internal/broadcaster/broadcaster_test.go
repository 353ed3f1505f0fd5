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

package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/store"
)

func TestBroadcaster(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Broadcaster Suite")
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeResolver) HandleCompletion(_ context.Context, phaseID string, _ model.PhaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, phaseID)
	return nil
}

func (f *fakeResolver) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeAdmission struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAdmission) Consider(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

func (f *fakeAdmission) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ = Describe("Broadcaster", func() {
	var (
		resolver  *fakeResolver
		admission *fakeAdmission
		b         *Broadcaster
		ctx       context.Context
		cancel    context.CancelFunc
	)

	BeforeEach(func() {
		resolver = &fakeResolver{}
		admission = &fakeAdmission{}
		b = New(resolver, admission, 0, zap.NewNop())
		ctx, cancel = context.WithCancel(context.Background())
		go b.Run(ctx)
	})

	AfterEach(func() {
		cancel()
		b.Close()
	})

	It("routes a terminal notification to the resolver", func() {
		b.NotifyChange(store.ChangeNotification{PhaseID: "p1", Status: model.PhaseCompleted})

		Eventually(resolver.snapshot, time.Second, 5*time.Millisecond).Should(Equal([]string{"p1"}))
	})

	It("routes a non-terminal notification to admission instead of the resolver", func() {
		b.NotifyChange(store.ChangeNotification{PhaseID: "p1", Status: model.PhaseReady})

		Eventually(admission.count, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
		Expect(resolver.snapshot()).To(BeEmpty())
	})

	It("is a no-op publish when there are no subscribers", func() {
		b.NotifyChange(store.ChangeNotification{PhaseID: "p1", Status: model.PhaseCompleted})

		Eventually(resolver.snapshot, time.Second, 5*time.Millisecond).Should(HaveLen(1))
	})

	It("delivers messages to a subscribed client and cleans up on unsubscribe", func() {
		ch, unsubscribe := b.Subscribe()
		defer unsubscribe()

		b.NotifyChange(store.ChangeNotification{PhaseID: "p1", Status: model.PhaseCompleted})

		var msg Message
		Eventually(ch, time.Second).Should(Receive(&msg))
		Expect(msg.Type).To(Equal(PhaseUpdate))

		unsubscribe()
		_, ok := <-ch
		Expect(ok).To(BeFalse())
	})
})
