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

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/config"
	"integrabus/worker/connectors/http"
	"integrabus/worker/connectors/registry"
	"integrabus/worker/control"
	"integrabus/worker/pubsub"
)

// subscriptionRef identifies the consumer a delete applies to
type subscriptionRef struct {
	TopicName string `json:"topic_name"`
	SubKey    string `json:"sub_key"`
}

func (r subscriptionRef) Validate() error {
	if strings.TrimSpace(r.TopicName) == "" || strings.TrimSpace(r.SubKey) == "" {
		return fmt.Errorf("topic_name and sub_key are required")
	}
	return nil
}

func (s *Store) onCreateTopic(ctx context.Context, m control.Message) error {
	t, err := control.Payload[pubsub.Topic](m)
	if err != nil {
		return err
	}
	if err := s.broker.AddTopic(t); err != nil {
		s.logger.Printf("Failed to create topic '%s': %v", t.Name, err)
	}
	return nil
}

func (s *Store) onEditTopic(ctx context.Context, m control.Message) error {
	t, err := control.Payload[pubsub.Topic](m)
	if err != nil {
		return err
	}
	if err := s.broker.UpdateTopic(m.OldName, t); err != nil {
		s.logger.Printf("Failed to update topic '%s': %v", t.Name, err)
	}
	return nil
}

func (s *Store) onDeleteTopic(ctx context.Context, m control.Message) error {
	ref, err := control.Payload[control.Ref](m)
	if err != nil {
		return err
	}
	s.broker.DeleteTopic(ref.Name)
	return nil
}

func (s *Store) onCreateProducer(ctx context.Context, m control.Message) error {
	p, err := control.Payload[config.ProducerBinding](m)
	if err != nil {
		return err
	}
	if err := s.broker.AddProducer(p.TopicName, p.Client); err != nil {
		s.logger.Printf("Failed to add producer %d: %v", p.ID, err)
	}
	return nil
}

func (s *Store) onEditProducer(ctx context.Context, m control.Message) error {
	p, err := control.Payload[config.ProducerBinding](m)
	if err != nil {
		return err
	}
	err = s.broker.UpdateProducer(p.TopicName, p.Client)
	if errors.Is(err, pubsub.ErrUnknownProducer) || errors.Is(err, pubsub.ErrUnknownTopic) {
		err = s.broker.AddProducer(p.TopicName, p.Client)
	}
	if err != nil {
		s.logger.Printf("Failed to update producer %d: %v", p.ID, err)
	}
	return nil
}

func (s *Store) onDeleteProducer(ctx context.Context, m control.Message) error {
	p, err := control.Payload[config.ProducerBinding](m)
	if err != nil {
		return err
	}
	s.broker.DeleteProducer(p.TopicName, p.ID)
	return nil
}

func (s *Store) onCreateConsumer(ctx context.Context, m control.Message) error {
	c, err := control.Payload[config.ConsumerBinding](m)
	if err != nil {
		return err
	}
	if err := s.broker.AddConsumer(c.TopicName, c.Consumer); err != nil {
		s.logger.Printf("Failed to add consumer '%s': %v", c.SubKey, err)
	}
	return nil
}

func (s *Store) onEditConsumer(ctx context.Context, m control.Message) error {
	c, err := control.Payload[config.ConsumerBinding](m)
	if err != nil {
		return err
	}
	err = s.broker.UpdateConsumer(c.TopicName, c.Consumer)
	if errors.Is(err, pubsub.ErrUnknownConsumer) || errors.Is(err, pubsub.ErrUnknownTopic) {
		err = s.broker.AddConsumer(c.TopicName, c.Consumer)
	}
	if err != nil {
		s.logger.Printf("Failed to update consumer '%s': %v", c.SubKey, err)
	}
	return nil
}

func (s *Store) onDeleteConsumer(ctx context.Context, m control.Message) error {
	ref, err := control.Payload[subscriptionRef](m)
	if err != nil {
		return err
	}
	s.broker.DeleteConsumer(ref.TopicName, ref.SubKey)
	return nil
}

// callbackResolver finds callback targets among the outgoing HTTP and SOAP
// connections. The transport is read from the resolved connection each
// time, so a target moved between plain HTTP and SOAP is followed.
type callbackResolver struct {
	s *Store
}

func (r callbackResolver) ResolveCallback(c pubsub.Consumer) (pubsub.Callback, pubsub.CallbackType, error) {
	var lastErr error
	for _, st := range []*registry.Store[http.Config]{r.s.res.PlainHTTP, r.s.res.SOAP} {
		conn, err := st.Get(c.CallbackName)
		if err != nil {
			if !errors.Is(err, base.ErrUnknownResource) {
				lastErr = err
			}
			continue
		}
		cb, ok := conn.(pubsub.Callback)
		if !ok {
			return nil, "", fmt.Errorf("connection %s cannot deliver messages", c.CallbackName)
		}
		typ := pubsub.CallbackPlainHTTP
		if cfg, ok := st.Config(c.CallbackName); ok && cfg.IsSOAP() {
			typ = pubsub.CallbackSOAP
		}
		return cb, typ, nil
	}
	if lastErr != nil {
		return nil, "", lastErr
	}
	return nil, "", fmt.Errorf("no outgoing connection %s: %w", c.CallbackName, base.ErrUnknownResource)
}

// RunDelivery pushes pending messages to callback consumers every interval
// until ctx is done
func (s *Store) RunDelivery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsReady() {
				continue
			}
			s.broker.DeliverAll(ctx)
		}
	}
}
