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
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/broadcaster"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
)

// heartbeatInterval bounds the silence §5 allows before a subscriber
// channel is closed: a ping is sent this often, and the absence of the
// matching pong within heartbeatTimeout tears the connection down.
const (
	heartbeatInterval = 20 * time.Second
	heartbeatTimeout  = 2 * heartbeatInterval
)

// Subscribable is the subset of Broadcaster the /events handler needs.
type Subscribable interface {
	Subscribe() (<-chan broadcaster.Message, func())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The subscription channel serves the product's own UI; CORS on the
	// plain HTTP routes is handled by github.com/go-chi/cors upstream of
	// this handler, so the origin check here stays permissive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents implements SUBSCRIBE /events (§6.3): upgrades to a
// websocket, sends a state snapshot, then relays every broadcaster
// message for the life of the connection. The connection is
// bidirectional only for heartbeats, per spec.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("events: websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if err := a.sendSnapshot(ctx, conn); err != nil {
		a.log.Warn("events: failed to send snapshot", zap.Error(err))
		return
	}

	messages, unsubscribe := a.broadcaster.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(heartbeatTimeout))
		return nil
	})

	// gorilla/websocket requires all reads to happen on one goroutine;
	// this one exists solely to drain pongs (and detect a client close)
	// off the write path below.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// sendSnapshot implements §6.3's "on connect, the server sends a
// snapshot of currently-relevant state" as a queue_update message ahead
// of the live stream.
func (a *API) sendSnapshot(ctx context.Context, conn *websocket.Conn) error {
	running, err := a.phases.CountByStatus(ctx, model.PhaseRunning)
	if err != nil {
		return err
	}
	ready, err := a.phases.CountByStatus(ctx, model.PhaseReady)
	if err != nil {
		return err
	}
	queued, err := a.phases.CountByStatus(ctx, model.PhaseQueued)
	if err != nil {
		return err
	}

	return conn.WriteJSON(broadcaster.Message{
		Type: broadcaster.QueueUpdate,
		Data: map[string]int{
			"running_count": running,
			"ready_count":   ready,
			"queued_count":  queued,
		},
		Timestamp: time.Now(),
	})
}
