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
	"sort"
	"strconv"
)

// batch is the queue taken from one callback consumer
type batch struct {
	topic    string
	consumer Consumer
	messages []Message
}

// outcome of handing a batch off
type outcome struct {
	delivered int64
	failed    int64
	lastError string
	cbType    CallbackType
}

// Deliver pushes the pending messages of every active callback consumer of
// topic to its callback. Each queue is taken whole; failures are recorded on
// the consumer and its messages are not re-queued. Inactive topics are
// skipped. It returns the number of messages handed off successfully.
func (b *Broker) Deliver(ctx context.Context, topic string) (int, error) {
	b.mu.Lock()
	ts, ok := b.topics[topic]
	if !ok {
		b.mu.Unlock()
		return 0, fmt.Errorf("topic %s: %w", topic, ErrUnknownTopic)
	}
	if !ts.IsActive {
		b.mu.Unlock()
		return 0, nil
	}
	batches := b.takeLocked(ts)
	b.mu.Unlock()

	delivered := 0
	for _, bt := range batches {
		out := b.dispatch(ctx, bt)
		b.record(bt, out)
		delivered += int(out.delivered)
	}
	return delivered, nil
}

// DeliverAll runs Deliver for every topic
func (b *Broker) DeliverAll(ctx context.Context) int {
	b.mu.Lock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	b.mu.Unlock()
	sort.Strings(names)

	total := 0
	for _, name := range names {
		n, err := b.Deliver(ctx, name)
		if err != nil {
			// deleted since the names were read
			continue
		}
		total += n
	}
	return total
}

func (b *Broker) takeLocked(ts *topicState) []batch {
	ts.purge(b.now())

	var batches []batch
	for _, cs := range ts.sortedConsumers() {
		if !cs.IsActive || cs.DeliveryMode != DeliveryCallback || len(cs.queue) == 0 {
			continue
		}
		ordered := ts.ordered(cs.queue)
		msgs := make([]Message, 0, len(ordered))
		for _, e := range ordered {
			msgs = append(msgs, e.msg)
		}
		cs.release()
		batches = append(batches, batch{topic: ts.Name, consumer: cs.Consumer, messages: msgs})
	}
	ts.compact()
	return batches
}

func (b *Broker) dispatch(ctx context.Context, bt batch) outcome {
	var out outcome

	if b.resolver == nil {
		out.failed = int64(len(bt.messages))
		out.lastError = "no callback resolver configured"
		return out
	}
	cb, cbType, err := b.resolver.ResolveCallback(bt.consumer)
	if err == nil && cb == nil {
		err = errors.New("callback resolved to nothing")
	}
	if err != nil {
		out.failed = int64(len(bt.messages))
		out.lastError = fmt.Sprintf("resolve callback %s: %v", bt.consumer.CallbackName, err)
		b.logger.Printf("Delivery to consumer '%s' of '%s' failed: %s", bt.consumer.SubKey, bt.topic, out.lastError)
		return out
	}
	out.cbType = cbType

	for _, msg := range bt.messages {
		headers := map[string]string{
			"X-Pubsub-Msg-Id":   msg.ID,
			"X-Pubsub-Topic":    bt.topic,
			"X-Pubsub-Sub-Key":  bt.consumer.SubKey,
			"X-Pubsub-Priority": strconv.Itoa(msg.Priority),
		}
		if err := cb.Deliver(ctx, msg.Payload, msg.MimeType, headers); err != nil {
			out.failed++
			out.lastError = err.Error()
			b.logger.Printf("Delivery of %s to consumer '%s' (%s) failed: %v", msg.ID, bt.consumer.SubKey, cbType, err)
			continue
		}
		out.delivered++
	}
	return out
}

// record stores a batch outcome on the consumer, if it still exists
func (b *Broker) record(bt batch, out outcome) {
	if b.observer != nil {
		if out.delivered > 0 {
			b.observer.Delivered("ok", int(out.delivered))
		}
		if out.failed > 0 {
			b.observer.Delivered("failed", int(out.failed))
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[bt.topic]
	if !ok {
		return
	}
	cs, ok := ts.consumers[bt.consumer.SubKey]
	if !ok {
		return
	}
	cs.delivered += out.delivered
	cs.failed += out.failed
	if out.lastError != "" {
		cs.lastError = out.lastError
	}
	if out.cbType != "" {
		cs.CallbackType = out.cbType
	}
}
