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

	"github.com/warmonger0/tac-webbuilder-sub004/internal/store"
)

// coalescingQueue is the bounded, order-preserving internal channel of
// §4.8: events for the same phase_id coalesce (latest wins) without
// consuming another slot; events for distinct phase_ids are never
// dropped. sem holds one token per distinct phase_id currently queued,
// so Push blocks (applying backpressure) only when the queue is full of
// genuinely distinct pending phases, never on a coalesced update.
type coalescingQueue struct {
	mu     sync.Mutex
	order  []string
	latest map[string]store.ChangeNotification

	sem     chan struct{}
	signal  chan struct{}
	closeCh chan struct{}
	closed  bool
}

func newCoalescingQueue(capacity int) *coalescingQueue {
	return &coalescingQueue{
		latest:  make(map[string]store.ChangeNotification),
		sem:     make(chan struct{}, capacity),
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Push enqueues n, coalescing with any pending notification for the same
// phase_id. It blocks until a slot is free if the queue already holds
// capacity distinct phase_ids.
func (q *coalescingQueue) Push(n store.ChangeNotification) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, pending := q.latest[n.PhaseID]; pending {
		q.latest[n.PhaseID] = n
		q.mu.Unlock()
		q.wake()
		return
	}
	q.mu.Unlock()

	select {
	case q.sem <- struct{}{}:
	case <-q.closeCh:
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.sem
		return
	}
	q.order = append(q.order, n.PhaseID)
	q.latest[n.PhaseID] = n
	q.mu.Unlock()
	q.wake()
}

func (q *coalescingQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop blocks until a notification is available, ctx is cancelled, or the
// queue is closed, in which case ok is false.
func (q *coalescingQueue) Pop(ctx context.Context) (store.ChangeNotification, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			id := q.order[0]
			q.order = q.order[1:]
			n := q.latest[id]
			delete(q.latest, id)
			q.mu.Unlock()
			<-q.sem
			return n, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return store.ChangeNotification{}, false
		}

		select {
		case <-q.signal:
		case <-q.closeCh:
			return store.ChangeNotification{}, false
		case <-ctx.Done():
			return store.ChangeNotification{}, false
		}
	}
}

// Close releases any Push/Pop blocked on capacity or availability.
func (q *coalescingQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closeCh)
}
