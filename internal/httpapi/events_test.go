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
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/broadcaster"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

type fakeBroadcaster struct {
	ch chan broadcaster.Message
}

func (f *fakeBroadcaster) Subscribe() (<-chan broadcaster.Message, func()) {
	return f.ch, func() {}
}

var _ = Describe("handleEvents", func() {
	It("sends a snapshot and then relays broadcast messages", func() {
		bc := &fakeBroadcaster{ch: make(chan broadcaster.Message, 1)}
		phases := &fakePhases{counts: map[model.PhaseStatus]int{
			model.PhaseRunning: 1,
			model.PhaseReady:   2,
			model.PhaseQueued:  3,
		}}
		a := New(Deps{
			Phases:      phases,
			Broadcaster: bc,
			Ingress:     http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
			Log:         zap.NewNop(),
		})

		server := httptest.NewServer(http.HandlerFunc(a.handleEvents))
		defer server.Close()

		wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var snapshot broadcaster.Message
		Expect(conn.ReadJSON(&snapshot)).To(Succeed())
		Expect(snapshot.Type).To(Equal(broadcaster.QueueUpdate))

		bc.ch <- broadcaster.Message{Type: broadcaster.PhaseUpdate, Data: map[string]string{"phase_id": "p1"}}

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg broadcaster.Message
		Expect(conn.ReadJSON(&msg)).To(Succeed())
		Expect(msg.Type).To(Equal(broadcaster.PhaseUpdate))
	})
})
