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
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry is a message held in a topic backlog. refs counts the consumer
// queues that still hold it; an orphan was published while nobody was
// subscribed and waits for the next consumer.
type entry struct {
	msg    Message
	seq    uint64
	refs   int
	orphan bool
}

type consumerState struct {
	Consumer
	queue     []*entry
	dropped   int64
	delivered int64
	failed    int64
	lastError string
}

// push appends e and drops the oldest entry past MaxBacklog
func (c *consumerState) push(e *entry) {
	c.queue = append(c.queue, e)
	e.refs++
	c.trim()
}

func (c *consumerState) trim() {
	if c.MaxBacklog <= 0 {
		return
	}
	for len(c.queue) > c.MaxBacklog {
		c.queue[0].refs--
		c.queue = c.queue[1:]
		c.dropped++
	}
}

func (c *consumerState) release() {
	for _, e := range c.queue {
		e.refs--
	}
	c.queue = nil
}

type topicState struct {
	Topic
	backlog   []*entry
	producers map[int64]Client
	consumers map[string]*consumerState
}

func newTopicState(t Topic) *topicState {
	return &topicState{
		Topic:     t,
		producers: make(map[int64]Client),
		consumers: make(map[string]*consumerState),
	}
}

// compact removes backlog entries no queue references any more
func (t *topicState) compact() {
	kept := t.backlog[:0]
	for _, e := range t.backlog {
		if e.refs > 0 || e.orphan {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(t.backlog); i++ {
		t.backlog[i] = nil
	}
	t.backlog = kept
}

// purge drops expired messages from every queue and the backlog
func (t *topicState) purge(now time.Time) {
	for _, c := range t.consumers {
		kept := c.queue[:0]
		for _, e := range c.queue {
			if e.msg.Expired(now) {
				e.refs--
				continue
			}
			kept = append(kept, e)
		}
		c.queue = kept
	}
	for _, e := range t.backlog {
		if e.orphan && e.msg.Expired(now) {
			e.orphan = false
		}
	}
	t.compact()
}

// ordered returns queue in delivery order: publish order for FIFO topics,
// otherwise highest priority first
func (t *topicState) ordered(queue []*entry) []*entry {
	out := append([]*entry(nil), queue...)
	if !t.IsFIFO {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].msg.Priority != out[j].msg.Priority {
				return out[i].msg.Priority > out[j].msg.Priority
			}
			return out[i].seq < out[j].seq
		})
	}
	return out
}

func (t *topicState) sortedConsumers() []*consumerState {
	out := make([]*consumerState, 0, len(t.consumers))
	for _, c := range t.consumers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubKey < out[j].SubKey })
	return out
}

// pendingBindings holds the producers and consumers of a topic that does
// not exist yet
type pendingBindings struct {
	producers map[int64]Client
	consumers map[string]Consumer
}

// Broker is the in-memory publish/subscribe registry of topics, producers
// and consumers. All state is guarded by one mutex; callback network I/O
// runs outside it.
type Broker struct {
	mu              sync.Mutex
	topics          map[string]*topicState
	pending         map[string]*pendingBindings
	defaultProducer Client
	defaultConsumer Client
	seq             uint64

	resolver CallbackResolver
	observer Observer
	now      func() time.Time
	logger   *log.Logger
}

// NewBroker creates an empty broker. resolver may be nil when no consumer
// uses callback delivery.
func NewBroker(resolver CallbackResolver) *Broker {
	return &Broker{
		topics:   make(map[string]*topicState),
		pending:  make(map[string]*pendingBindings),
		resolver: resolver,
		now:      time.Now,
		logger:   log.New(os.Stdout, "[PUBSUB] ", log.LstdFlags),
	}
}

// SetObserver installs the outcome observer
func (b *Broker) SetObserver(o Observer) {
	b.observer = o
}

// SetDefaultProducer sets the client used when Publish gets client id 0
func (b *Broker) SetDefaultProducer(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultProducer = c
}

// SetDefaultConsumer sets the client whose subscription Consume uses when
// given an empty sub key
func (b *Broker) SetDefaultConsumer(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.defaultConsumer = c
}

// AddTopic creates a topic, or replaces the record of an existing one and
// keeps its backlog
func (b *Broker) AddTopic(t Topic) error {
	if err := t.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.addTopicLocked(t)
	return nil
}

func (b *Broker) addTopicLocked(t Topic) *topicState {
	ts, ok := b.topics[t.Name]
	if ok {
		ts.Topic = t
		b.logger.Printf("Replaced topic '%s' (active=%v, fifo=%v, max_depth=%d)", t.Name, t.IsActive, t.IsFIFO, t.MaxDepth)
	} else {
		ts = newTopicState(t)
		b.topics[t.Name] = ts
		b.logger.Printf("Created topic '%s' (active=%v, fifo=%v, max_depth=%d)", t.Name, t.IsActive, t.IsFIFO, t.MaxDepth)
	}
	b.attachPendingLocked(ts)
	return ts
}

// attachPendingLocked binds the producers and consumers that were waiting
// for ts to exist
func (b *Broker) attachPendingLocked(ts *topicState) {
	p, ok := b.pending[ts.Name]
	if !ok {
		return
	}
	delete(b.pending, ts.Name)

	for id, c := range p.producers {
		ts.producers[id] = c
	}
	keys := make([]string, 0, len(p.consumers))
	for k := range p.consumers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.addConsumerLocked(ts, p.consumers[k])
	}
	b.logger.Printf("Attached %d waiting producers and %d waiting consumers to topic '%s'",
		len(p.producers), len(p.consumers), ts.Name)
}

func (b *Broker) pendingFor(topic string) *pendingBindings {
	p, ok := b.pending[topic]
	if !ok {
		p = &pendingBindings{
			producers: make(map[int64]Client),
			consumers: make(map[string]Consumer),
		}
		b.pending[topic] = p
	}
	return p
}

func (b *Broker) dropPendingIfEmptyLocked(topic string) {
	if p, ok := b.pending[topic]; ok && len(p.producers) == 0 && len(p.consumers) == 0 {
		delete(b.pending, topic)
	}
}

// Waiting reports how many producers and consumers are held for a topic
// that does not exist yet
func (b *Broker) Waiting(topic string) (producers, consumers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[topic]; ok {
		return len(p.producers), len(p.consumers)
	}
	return 0, 0
}

// UpdateTopic replaces the record of topic oldName with t. A different name
// renames the topic; backlog, producers and consumers move with it. An
// unknown oldName creates t.
func (b *Broker) UpdateTopic(oldName string, t Topic) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if oldName == "" {
		oldName = t.Name
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[oldName]
	if !ok {
		if p, waiting := b.pending[oldName]; waiting && oldName != t.Name {
			delete(b.pending, oldName)
			moved := b.pendingFor(t.Name)
			for id, c := range p.producers {
				moved.producers[id] = c
			}
			for k, c := range p.consumers {
				moved.consumers[k] = c
			}
		}
		b.logger.Printf("Topic '%s' is unknown, creating '%s'", oldName, t.Name)
		b.addTopicLocked(t)
		return nil
	}
	if oldName != t.Name {
		if _, taken := b.topics[t.Name]; taken {
			return fmt.Errorf("cannot rename topic %s: %s already exists", oldName, t.Name)
		}
		delete(b.topics, oldName)
		b.topics[t.Name] = ts
	}
	ts.Topic = t
	b.logger.Printf("Updated topic '%s' (active=%v, fifo=%v, max_depth=%d)", t.Name, t.IsActive, t.IsFIFO, t.MaxDepth)
	b.attachPendingLocked(ts)
	return nil
}

// DeleteTopic removes a topic with its producers, consumers and backlog
func (b *Broker) DeleteTopic(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, waiting := b.pending[name]
	delete(b.pending, name)

	ts, ok := b.topics[name]
	if !ok {
		return waiting
	}
	delete(b.topics, name)
	b.logger.Printf("Deleted topic '%s' (%d producers, %d consumers, %d messages dropped)",
		name, len(ts.producers), len(ts.consumers), len(ts.backlog))
	return true
}

// AddProducer binds client c to topic. A producer of a topic that does not
// exist yet waits until the topic is created.
func (b *Broker) AddProducer(topic string, c Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		b.pendingFor(topic).producers[c.ID] = c
		b.logger.Printf("Producer %d '%s' waits for topic '%s'", c.ID, c.Name, topic)
		return nil
	}
	ts.producers[c.ID] = c
	b.logger.Printf("Added producer %d '%s' to topic '%s'", c.ID, c.Name, topic)
	return nil
}

// UpdateProducer changes the activity flag and name of a producer
func (b *Broker) UpdateProducer(topic string, c Client) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		if p, waiting := b.pending[topic]; waiting {
			if _, held := p.producers[c.ID]; held {
				p.producers[c.ID] = c
				return nil
			}
		}
		return fmt.Errorf("topic %s: %w", topic, ErrUnknownTopic)
	}
	p, ok := ts.producers[c.ID]
	if !ok {
		return fmt.Errorf("producer %d on %s: %w", c.ID, topic, ErrUnknownProducer)
	}
	p.IsActive = c.IsActive
	p.Name = c.Name
	ts.producers[c.ID] = p
	return nil
}

// DeleteProducer unbinds a producer
func (b *Broker) DeleteProducer(topic string, clientID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		p, waiting := b.pending[topic]
		if !waiting {
			return false
		}
		_, held := p.producers[clientID]
		delete(p.producers, clientID)
		b.dropPendingIfEmptyLocked(topic)
		return held
	}
	if _, ok := ts.producers[clientID]; !ok {
		return false
	}
	delete(ts.producers, clientID)
	return true
}

// AddConsumer subscribes c to topic. An existing subscription with the same
// sub key is updated in place. A new active subscription adopts the
// messages published while the topic had no consumers. A consumer of a
// topic that does not exist yet waits until the topic is created.
func (b *Broker) AddConsumer(topic string, c Consumer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		b.pendingFor(topic).consumers[c.SubKey] = c
		b.logger.Printf("Consumer '%s' waits for topic '%s'", c.SubKey, topic)
		return nil
	}
	b.addConsumerLocked(ts, c)
	return nil
}

func (b *Broker) addConsumerLocked(ts *topicState, c Consumer) {
	topic := ts.Name
	if cs, ok := ts.consumers[c.SubKey]; ok {
		b.updateConsumerLocked(ts, cs, c)
		return
	}

	cs := &consumerState{Consumer: c}
	ts.consumers[c.SubKey] = cs
	if c.IsActive {
		adopted := 0
		for _, e := range ts.backlog {
			if e.orphan {
				e.orphan = false
				cs.push(e)
				adopted++
			}
		}
		ts.compact()
		if adopted > 0 {
			b.logger.Printf("Consumer '%s' adopted %d waiting messages of '%s'", c.SubKey, adopted, topic)
		}
	}
	b.logger.Printf("Added %s consumer '%s' to topic '%s' (max_backlog=%d)", c.DeliveryMode, c.SubKey, topic, c.MaxBacklog)
}

// UpdateConsumer changes a subscription in place and keeps its queue.
// Lowering MaxBacklog drops the oldest queued messages.
func (b *Broker) UpdateConsumer(topic string, c Consumer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		if p, waiting := b.pending[topic]; waiting {
			if _, held := p.consumers[c.SubKey]; held {
				p.consumers[c.SubKey] = c
				return nil
			}
		}
		return fmt.Errorf("topic %s: %w", topic, ErrUnknownTopic)
	}
	cs, ok := ts.consumers[c.SubKey]
	if !ok {
		return fmt.Errorf("consumer %s on %s: %w", c.SubKey, topic, ErrUnknownConsumer)
	}
	b.updateConsumerLocked(ts, cs, c)
	return nil
}

func (b *Broker) updateConsumerLocked(ts *topicState, cs *consumerState, c Consumer) {
	cs.Client = c.Client
	cs.MaxBacklog = c.MaxBacklog
	cs.DeliveryMode = c.DeliveryMode
	cs.CallbackID = c.CallbackID
	cs.CallbackName = c.CallbackName
	cs.CallbackType = c.CallbackType
	cs.trim()
	ts.compact()
	b.logger.Printf("Updated consumer '%s' of topic '%s' (mode=%s, max_backlog=%d)", c.SubKey, ts.Name, c.DeliveryMode, c.MaxBacklog)
}

// DeleteConsumer removes a subscription and releases its queue
func (b *Broker) DeleteConsumer(topic, subKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		p, waiting := b.pending[topic]
		if !waiting {
			return false
		}
		_, held := p.consumers[subKey]
		delete(p.consumers, subKey)
		b.dropPendingIfEmptyLocked(topic)
		return held
	}
	cs, ok := ts.consumers[subKey]
	if !ok {
		return false
	}
	cs.release()
	delete(ts.consumers, subKey)
	ts.compact()
	b.logger.Printf("Deleted consumer '%s' of topic '%s'", subKey, topic)
	return true
}

// Publish appends msg to topic's backlog and fans it out to every active
// consumer. Client id 0 selects the default producer. The returned message
// carries the assigned id, priority and timestamps.
func (b *Broker) Publish(topic string, msg Message, clientID int64) (Message, error) {
	b.mu.Lock()
	msg, err := b.publishLocked(topic, msg, clientID)
	b.mu.Unlock()

	if b.observer != nil {
		status := "ok"
		switch {
		case errors.Is(err, ErrNotActive):
			status = "not_active"
		case errors.Is(err, ErrBacklogFull):
			status = "backlog_full"
		case err != nil:
			status = "error"
		}
		b.observer.Published(topic, status)
	}
	return msg, err
}

func (b *Broker) publishLocked(topic string, msg Message, clientID int64) (Message, error) {
	ts, ok := b.topics[topic]
	if !ok || !ts.IsActive {
		return msg, fmt.Errorf("topic %s: %w", topic, ErrNotActive)
	}

	producer := b.defaultProducer
	if clientID != 0 {
		if producer, ok = ts.producers[clientID]; !ok {
			return msg, fmt.Errorf("producer %d on %s: %w", clientID, topic, ErrNotActive)
		}
	}
	if !producer.IsActive {
		return msg, fmt.Errorf("producer %d on %s: %w", producer.ID, topic, ErrNotActive)
	}

	now := b.now()
	ts.purge(now)
	if ts.MaxDepth > 0 && len(ts.backlog) >= ts.MaxDepth {
		return msg, fmt.Errorf("topic %s holds %d messages: %w", topic, len(ts.backlog), ErrBacklogFull)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	switch {
	case msg.Priority == 0:
		msg.Priority = DefaultPriority
	case msg.Priority < MinPriority:
		msg.Priority = MinPriority
	case msg.Priority > MaxPriority:
		msg.Priority = MaxPriority
	}
	msg.Topic = topic
	msg.ProducerID = producer.ID

	b.seq++
	e := &entry{msg: msg, seq: b.seq}
	for _, cs := range ts.consumers {
		if cs.IsActive {
			cs.push(e)
		}
	}
	if e.refs == 0 {
		e.orphan = true
	}
	ts.backlog = append(ts.backlog, e)
	ts.compact()
	return msg, nil
}

// Consume removes and returns up to max queued messages of a subscription
// in delivery order; max <= 0 returns all. An empty sub key selects the
// default consumer. Inactive topics yield nothing.
func (b *Broker) Consume(topic, subKey string, max int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts, ok := b.topics[topic]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", topic, ErrUnknownTopic)
	}
	if !ts.IsActive {
		return nil, nil
	}
	cs, err := b.consumerLocked(ts, subKey)
	if err != nil {
		return nil, err
	}
	if !cs.IsActive {
		return nil, fmt.Errorf("consumer %s on %s: %w", cs.SubKey, topic, ErrNotActive)
	}

	ts.purge(b.now())
	ordered := ts.ordered(cs.queue)
	if max > 0 && len(ordered) > max {
		ordered = ordered[:max]
	}
	if len(ordered) == 0 {
		return nil, nil
	}

	taken := make(map[*entry]bool, len(ordered))
	out := make([]Message, 0, len(ordered))
	for _, e := range ordered {
		taken[e] = true
		e.refs--
		out = append(out, e.msg)
	}
	kept := cs.queue[:0]
	for _, e := range cs.queue {
		if !taken[e] {
			kept = append(kept, e)
		}
	}
	cs.queue = kept
	cs.delivered += int64(len(out))
	ts.compact()
	return out, nil
}

func (b *Broker) consumerLocked(ts *topicState, subKey string) (*consumerState, error) {
	if subKey != "" {
		if cs, ok := ts.consumers[subKey]; ok {
			return cs, nil
		}
		return nil, fmt.Errorf("consumer %s on %s: %w", subKey, ts.Name, ErrUnknownConsumer)
	}
	if b.defaultConsumer.ID != 0 {
		for _, cs := range ts.sortedConsumers() {
			if cs.ID == b.defaultConsumer.ID {
				return cs, nil
			}
		}
	}
	return nil, fmt.Errorf("no default consumer on %s: %w", ts.Name, ErrUnknownConsumer)
}

// Topic returns the record of a topic
func (b *Broker) Topic(name string) (Topic, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[name]
	if !ok {
		return Topic{}, false
	}
	return ts.Topic, true
}

// Topics returns every topic sorted by name
func (b *Broker) Topics() []Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Topic, 0, len(b.topics))
	for _, ts := range b.topics {
		out = append(out, ts.Topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Consumer returns the subscription stored under (topic, subKey)
func (b *Broker) Consumer(topic, subKey string) (Consumer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return Consumer{}, false
	}
	cs, ok := ts.consumers[subKey]
	if !ok {
		return Consumer{}, false
	}
	return cs.Consumer, true
}

// Depth returns the number of messages in a topic's backlog
func (b *Broker) Depth(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.topics[topic]
	if !ok {
		return 0
	}
	ts.purge(b.now())
	return len(ts.backlog)
}

// Stats returns a snapshot of every topic and subscription
func (b *Broker) Stats() []TopicStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make([]TopicStats, 0, len(b.topics))
	for _, ts := range b.topics {
		ts.purge(now)
		st := TopicStats{
			Name:      ts.Name,
			Active:    ts.IsActive,
			FIFO:      ts.IsFIFO,
			MaxDepth:  ts.MaxDepth,
			Depth:     len(ts.backlog),
			Producers: len(ts.producers),
		}
		for _, cs := range ts.sortedConsumers() {
			st.Consumers = append(st.Consumers, ConsumerStats{
				SubKey:       cs.SubKey,
				ClientID:     cs.ID,
				Active:       cs.IsActive,
				DeliveryMode: cs.DeliveryMode,
				CallbackType: cs.CallbackType,
				Queued:       len(cs.queue),
				Dropped:      cs.dropped,
				Delivered:    cs.delivered,
				Failed:       cs.failed,
				LastError:    cs.lastError,
			})
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
