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

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotActive is returned when publishing through an unknown or inactive topic or client
	ErrNotActive = errors.New("not active")
	// ErrBacklogFull is returned when a topic holds MaxDepth messages
	ErrBacklogFull = errors.New("backlog full")
	// ErrUnknownTopic is returned for operations on a topic that does not exist
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrUnknownConsumer is returned when no consumer matches a sub key
	ErrUnknownConsumer = errors.New("unknown consumer")
	// ErrUnknownProducer is returned when updating a producer that does not exist
	ErrUnknownProducer = errors.New("unknown producer")
)

// DeliveryMode selects how a consumer receives messages
type DeliveryMode string

const (
	DeliveryPull     DeliveryMode = "pull"
	DeliveryCallback DeliveryMode = "callback"
)

// CallbackType is the transport of a callback consumer's target
type CallbackType string

const (
	CallbackPlainHTTP CallbackType = "plain_http"
	CallbackSOAP      CallbackType = "soap"
)

// Message priorities
const (
	MinPriority     = 1
	MaxPriority     = 9
	DefaultPriority = 5
)

// Topic is a named message stream
type Topic struct {
	Name     string `json:"name" yaml:"name"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
	IsFIFO   bool   `json:"is_fifo" yaml:"is_fifo"`
	// MaxDepth bounds the backlog; zero or less means unbounded
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
}

// Validate checks the topic name
func (t Topic) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("topic name is required")
	}
	return nil
}

// Client is a producer or consumer identity
type Client struct {
	ID       int64  `json:"client_id" yaml:"client_id"`
	Name     string `json:"client_name" yaml:"client_name"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

// Consumer is a subscription of a client to one topic
type Consumer struct {
	Client     `yaml:",inline"`
	SubKey     string `json:"sub_key" yaml:"sub_key"`
	MaxBacklog int    `json:"max_backlog" yaml:"max_backlog"`

	DeliveryMode DeliveryMode `json:"delivery_mode" yaml:"delivery_mode"`
	CallbackID   int64        `json:"callback_id,omitempty" yaml:"callback_id,omitempty"`
	CallbackName string       `json:"callback_name,omitempty" yaml:"callback_name,omitempty"`
	// CallbackType is refreshed from the resolved target on every delivery
	CallbackType CallbackType `json:"callback_type,omitempty" yaml:"callback_type,omitempty"`
}

// Validate checks the subscription fields
func (c Consumer) Validate() error {
	if strings.TrimSpace(c.SubKey) == "" {
		return fmt.Errorf("sub_key is required")
	}
	switch c.DeliveryMode {
	case DeliveryPull:
	case DeliveryCallback:
		if c.CallbackName == "" {
			return fmt.Errorf("consumer %s: callback_name is required for callback delivery", c.SubKey)
		}
	default:
		return fmt.Errorf("consumer %s: unknown delivery mode %q", c.SubKey, c.DeliveryMode)
	}
	return nil
}

// Message is one published payload
type Message struct {
	ID         string        `json:"msg_id"`
	Topic      string        `json:"topic"`
	Payload    []byte        `json:"payload"`
	MimeType   string        `json:"mime_type"`
	Priority   int           `json:"priority"`
	Expiration time.Duration `json:"expiration,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ProducerID int64         `json:"producer_id"`
}

// Expired reports whether the message outlived its expiration at now
func (m Message) Expired(now time.Time) bool {
	return m.Expiration > 0 && now.After(m.CreatedAt.Add(m.Expiration))
}

// Callback hands one message to a push consumer's target
type Callback interface {
	Deliver(ctx context.Context, payload []byte, mimeType string, headers map[string]string) error
}

// CallbackResolver finds the live target of a callback consumer. It also
// reports the target's transport, which the broker stores on the consumer.
type CallbackResolver interface {
	ResolveCallback(c Consumer) (Callback, CallbackType, error)
}

// Observer receives publish and delivery outcomes, typically to update metrics
type Observer interface {
	Published(topic, status string)
	Delivered(status string, n int)
}

// ConsumerStats are the counters of one subscription
type ConsumerStats struct {
	SubKey       string       `json:"sub_key"`
	ClientID     int64        `json:"client_id"`
	Active       bool         `json:"is_active"`
	DeliveryMode DeliveryMode `json:"delivery_mode"`
	CallbackType CallbackType `json:"callback_type,omitempty"`
	Queued       int          `json:"queued"`
	Dropped      int64        `json:"dropped"`
	Delivered    int64        `json:"delivered"`
	Failed       int64        `json:"failed"`
	LastError    string       `json:"last_error,omitempty"`
}

// TopicStats describe one topic and its subscriptions
type TopicStats struct {
	Name      string          `json:"name"`
	Active    bool            `json:"is_active"`
	FIFO      bool            `json:"is_fifo"`
	MaxDepth  int             `json:"max_depth"`
	Depth     int             `json:"depth"`
	Producers int             `json:"producers"`
	Consumers []ConsumerStats `json:"consumers"`
}
