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

// Package broadcaster is C8: the single fan-out point for every
// PhaseStore change notification, feeding both the in-process
// Resolver/Admission pair and any subscribed UI clients (§4.8).
package broadcaster

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warmonger0/tac-webbuilder-sub004/internal/model"
	"github.com/warmonger0/tac-webbuilder-sub004/internal/store"
)

// EventType enumerates the push-channel message kinds (§6.3).
type EventType string

const (
	PhaseUpdate  EventType = "phase_update"
	FeatureUpdate EventType = "feature_update"
	QueueUpdate  EventType = "queue_update"
	SystemStatus EventType = "system_status"
)

// Message is the envelope delivered to every subscribed UI client.
type Message struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// ResolverTrigger is the in-process consumer that reacts to a phase's
// terminal transition (§4.4). Satisfied by *resolver.Resolver.
type ResolverTrigger interface {
	HandleCompletion(ctx context.Context, phaseID string, status model.PhaseStatus) error
}

// AdmissionTrigger is the in-process consumer that reconsiders launching
// on any non-terminal change (e.g. a sibling becoming ready). Satisfied
// by *admission.Controller.
type AdmissionTrigger interface {
	Consider(ctx context.Context)
}

// FeatureTracker is an optional consumer that rolls a phase's terminal
// transition up to its parent Feature record. Satisfied by
// *store.FeatureTracker; nil disables this side effect entirely.
type FeatureTracker interface {
	OnPhaseTerminal(ctx context.Context, phaseID string, status model.PhaseStatus) error
}

// Broadcaster is C8. It implements store.Notifier directly so it can be
// handed to store.New as the notifier argument.
type Broadcaster struct {
	resolver       ResolverTrigger
	admission      AdmissionTrigger
	featureTracker FeatureTracker
	log            *zap.Logger

	queue *coalescingQueue

	mu      sync.Mutex
	subs    map[uint64]chan Message
	nextID  uint64
	closeCh chan struct{}
	once    sync.Once
}

// New builds a Broadcaster. softCap bounds the internal fan-out queue
// (§4.8: "the channel expands with a soft cap"); 0 selects a sane
// default.
func New(resolver ResolverTrigger, admission AdmissionTrigger, softCap int, log *zap.Logger) *Broadcaster {
	if softCap <= 0 {
		softCap = 256
	}
	return &Broadcaster{
		resolver:  resolver,
		admission: admission,
		log:       log,
		queue:     newCoalescingQueue(softCap),
		subs:      make(map[uint64]chan Message),
		closeCh:   make(chan struct{}),
	}
}

// NotifyChange implements store.Notifier. It must not block the caller's
// transaction commit path for long: it only enqueues.
func (b *Broadcaster) NotifyChange(n store.ChangeNotification) {
	b.queue.Push(n)
}

// Run drains the internal queue and dispatches to the in-process
// listeners in commit order per phase_id (§4.8 ordering guarantee). It
// blocks until ctx is cancelled or Close is called.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		n, ok := b.queue.Pop(ctx)
		if !ok {
			return
		}
		b.dispatch(ctx, n)
	}
}

func (b *Broadcaster) dispatch(ctx context.Context, n store.ChangeNotification) {
	switch n.Status {
	case model.PhaseCompleted, model.PhaseFailed:
		if err := b.resolver.HandleCompletion(ctx, n.PhaseID, n.Status); err != nil {
			b.log.Error("broadcaster: resolver failed to handle completion",
				zap.String("phase_id", n.PhaseID), zap.Error(err))
		}
		b.mu.Lock()
		ft := b.featureTracker
		b.mu.Unlock()
		if ft != nil {
			if err := ft.OnPhaseTerminal(ctx, n.PhaseID, n.Status); err != nil {
				b.log.Error("broadcaster: feature tracker failed",
					zap.String("phase_id", n.PhaseID), zap.Error(err))
			}
		}
	default:
		b.admission.Consider(ctx)
	}

	b.publish(Message{
		Type:      PhaseUpdate,
		Data:      n,
		Timestamp: time.Now(),
	})
}

// SetFeatureTracker wires an optional FeatureTracker in after
// construction, since New does not take one.
func (b *Broadcaster) SetFeatureTracker(ft FeatureTracker) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.featureTracker = ft
}

// Subscribe registers a new UI client and returns a channel of messages
// plus an unsubscribe func. The caller is expected to send a state
// snapshot to the client before consuming this channel (§6.3).
func (b *Broadcaster) Subscribe() (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Message, 32)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// publish fans msg out to every subscriber. Per §4.8, if there are no
// subscribers this does no work beyond the map lock — the message is
// never serialized. A slow subscriber whose buffer is full is dropped
// from this message (BrokenSubscriber, §7): a stuck client must not
// block every other sink.
func (b *Broadcaster) publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) == 0 {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.log.Warn("broadcaster: dropping message for slow subscriber", zap.Uint64("subscriber_id", id))
		}
	}
}

// PublishSystemStatus lets the Coordinator announce pause/resume and
// similar state changes to UI subscribers outside the phase-change path.
func (b *Broadcaster) PublishSystemStatus(data interface{}) {
	b.publish(Message{Type: SystemStatus, Data: data, Timestamp: time.Now()})
}

// Close stops Run and disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.once.Do(func() {
		close(b.closeCh)
		b.queue.Close()
		b.mu.Lock()
		defer b.mu.Unlock()
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
	})
}
