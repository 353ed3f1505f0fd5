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
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SlackPoster posts one message per phase to a fixed channel, using the
// message's own timestamp ("channel:ts") as the ticket reference.
// WorkerLauncher may call CreateTicket again for the same phase_id (the
// coordinator's retry sweep relaunches running phases that have no
// recorded ticket ref yet); sf collapses concurrent calls into a single
// outbound Slack call and cache remembers the winner so later calls
// reuse it instead of posting twice (§4.6 step 2: "idempotent on retry").
// The cache is held in process memory only and does not survive a restart.
type SlackPoster struct {
	client  *slack.Client
	channel string
	log     *zap.Logger

	sf    singleflight.Group
	mu    sync.Mutex
	cache map[string]string // phase_id -> ticket_ref
}

// NewSlackPoster builds a SlackPoster that posts to channelID using
// token. token is a bot token with chat:write scope.
func NewSlackPoster(token, channelID string, log *zap.Logger) *SlackPoster {
	return &SlackPoster{
		client:  slack.New(token),
		channel: channelID,
		log:     log,
		cache:   make(map[string]string),
	}
}

// CreateTicket implements Poster.
func (s *SlackPoster) CreateTicket(ctx context.Context, p Payload) (string, error) {
	s.mu.Lock()
	if ref, ok := s.cache[p.PhaseID]; ok {
		s.mu.Unlock()
		return ref, nil
	}
	s.mu.Unlock()

	ref, err, _ := s.sf.Do(p.PhaseID, func() (interface{}, error) {
		text := fmt.Sprintf("*Phase %d/%s*: %s\n%s", p.PhaseNumber, p.PhaseID, p.Title, p.Prompt)
		_, ts, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
		if err != nil {
			return "", fmt.Errorf("failed to post ticket message: %w", err)
		}
		ticketRef := fmt.Sprintf("%s:%s", s.channel, ts)

		s.mu.Lock()
		s.cache[p.PhaseID] = ticketRef
		s.mu.Unlock()

		s.log.Info("created ticket", zap.String("phase_id", p.PhaseID), zap.String("ticket_ref", ticketRef))
		return ticketRef, nil
	})
	if err != nil {
		return "", err
	}
	return ref.(string), nil
}
