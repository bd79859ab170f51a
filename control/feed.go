// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package control

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/go-redis/redis/v8"
)

// DefaultChannel is the Redis channel control messages are published on
const DefaultChannel = "integrabus:worker:control"

// Handler consumes raw control messages
type Handler interface {
	Handle(ctx context.Context, data []byte) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, data []byte) error

func (f HandlerFunc) Handle(ctx context.Context, data []byte) error {
	return f(ctx, data)
}

// RedisFeed delivers control messages published on a Redis channel
type RedisFeed struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// NewRedisFeed creates a feed reading channel through client
func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisFeed{
		client:  client,
		channel: channel,
		logger:  log.New(os.Stdout, "[CONTROL] ", log.LstdFlags),
	}
}

// Channel returns the subscribed channel name
func (f *RedisFeed) Channel() string {
	return f.channel
}

// Run subscribes and hands every message to h, one at a time, until ctx is
// cancelled. Handler errors are logged and do not stop the feed.
func (f *RedisFeed) Run(ctx context.Context, h Handler) error {
	sub, err := f.Subscribe(ctx)
	if err != nil {
		return err
	}
	return sub.Run(ctx, h)
}

// Subscribe registers on the channel and waits for Redis to confirm it.
// Messages arriving from then on are buffered until Run is called, so a
// worker can subscribe before loading its catalog without losing updates.
func (f *RedisFeed) Subscribe(ctx context.Context) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", f.channel, err)
	}
	f.logger.Printf("Subscribed to control channel '%s'", f.channel)

	sub := &Subscription{
		feed:   f,
		ps:     ps,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sub.pump(ps.Channel())
	return sub, nil
}

// Subscription is a confirmed subscription to the control channel
type Subscription struct {
	feed   *RedisFeed
	ps     *redis.PubSub
	once   sync.Once
	notify chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	queued [][]byte
}

func (s *Subscription) pump(ch <-chan *redis.Message) {
	defer close(s.done)
	for msg := range ch {
		s.mu.Lock()
		s.queued = append(s.queued, []byte(msg.Payload))
		s.mu.Unlock()

		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (s *Subscription) take() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queued
	s.queued = nil
	return out
}

// Buffered returns the number of messages waiting for Run
func (s *Subscription) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

// Run hands the buffered messages, then every new one, to h in arrival
// order until ctx is cancelled. The subscription is closed on return.
func (s *Subscription) Run(ctx context.Context, h Handler) error {
	defer s.Close()

	channel := s.feed.channel
	if n := s.Buffered(); n > 0 {
		s.feed.logger.Printf("Replaying %d control messages received during start-up", n)
	}
	for {
		s.handle(ctx, h)

		select {
		case <-ctx.Done():
			s.feed.logger.Printf("Control feed on '%s' stopped", channel)
			return nil
		case <-s.notify:
		case <-s.done:
			s.handle(ctx, h)
			return fmt.Errorf("control channel %s closed", channel)
		}
	}
}

func (s *Subscription) handle(ctx context.Context, h Handler) {
	for _, data := range s.take() {
		if err := h.Handle(ctx, data); err != nil {
			s.feed.logger.Printf("Control message rejected: %v", err)
		}
	}
}

// Close unsubscribes. Buffered messages are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() { _ = s.ps.Close() })
}

// Publish sends a control message to the feed's channel
func (f *RedisFeed) Publish(ctx context.Context, data []byte) error {
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", f.channel, err)
	}
	return nil
}
