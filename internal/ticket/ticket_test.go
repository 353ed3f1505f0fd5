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

package ticket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

func TestTicket(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ticket Suite")
}

var _ = Describe("NoopPoster", func() {
	It("manufactures a deterministic local reference", func() {
		p := NoopPoster{}
		ref, err := p.CreateTicket(context.Background(), Payload{PhaseID: "abc"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal("local-abc"))
	})
})

var _ = Describe("SlackPoster", func() {
	It("reuses a cached ticket instead of posting twice for the same phase", func() {
		var posts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&posts, 1)
			fmt.Fprintf(w, `{"ok":true,"channel":"C1","ts":"123.456"}`)
		}))
		defer server.Close()

		s := NewSlackPoster("xoxb-test", "C1", zap.NewNop())
		s.client = slack.New("xoxb-test", slack.OptionAPIURL(server.URL+"/"))

		var wg sync.WaitGroup
		refs := make([]string, 5)
		for i := range refs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ref, err := s.CreateTicket(context.Background(), Payload{PhaseID: "p1", Title: "t"})
				Expect(err).NotTo(HaveOccurred())
				refs[i] = ref
			}(i)
		}
		wg.Wait()

		for _, r := range refs {
			Expect(r).To(Equal("C1:123.456"))
		}
		Expect(atomic.LoadInt32(&posts)).To(Equal(int32(1)))

		ref, err := s.CreateTicket(context.Background(), Payload{PhaseID: "p1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal("C1:123.456"))
		Expect(atomic.LoadInt32(&posts)).To(Equal(int32(1)))
	})
})
