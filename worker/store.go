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
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/cassandra"
	"integrabus/worker/connectors/config"
	"integrabus/worker/connectors/registry"
	"integrabus/worker/control"
	"integrabus/worker/msgshape"
	"integrabus/worker/pubsub"
	"integrabus/worker/security"
	"integrabus/worker/shared/logger"
)

// ErrNoHandler is returned for control messages whose action has no handler
var ErrNoHandler = errors.New("no handler for action")

// handler applies one configuration message. The returned error reports a
// payload that could not be decoded; failures past decoding are logged by
// the handler itself.
type handler func(ctx context.Context, m control.Message) error

// sourceHandler turns an invocation message into a service invocation
type sourceHandler func(ctx context.Context, m control.Message) error

// Options configures a Store
type Options struct {
	// Builders defaults to DefaultBuilders
	Builders *Builders
	// Invoker defaults to a LogInvoker
	Invoker        Invoker
	ConnectTimeout time.Duration
	// Audit receives one record per control message; nil disables auditing
	Audit *logger.Logger
}

// Store is the aggregate of every runtime configuration store of a worker.
//
// One writer at a time holds mu while it applies a control message or
// loads the catalog; methods named ...Locked expect it to be held. Readers
// go straight to the resource stores, the broker and the message-shape
// store, none of which need mu.
type Store struct {
	mu sync.Mutex

	res       Resources
	security  *security.Registry
	shapes    *msgshape.Store
	broker    *pubsub.Broker
	queries   registry.Map[cassandra.QueryConfig]
	notifiers registry.Map[config.Notifier]

	handlers map[control.Action]handler
	sources  map[control.Source]sourceHandler

	invoker Invoker
	audit   *logger.Logger
	ready   atomic.Bool
	logger  *log.Logger
}

// NewStore creates an empty store. It fails if the handler tables do not
// cover exactly the declared actions and sources.
func NewStore(opts Options) (*Store, error) {
	builders := DefaultBuilders()
	if opts.Builders != nil {
		builders = *opts.Builders
	}

	s := &Store{
		res:      newResources(builders),
		security: security.NewRegistry(),
		shapes:   msgshape.NewStore(),
		invoker:  opts.Invoker,
		audit:    opts.Audit,
		logger:   log.New(os.Stdout, "[WORKER] ", log.LstdFlags),
	}
	if s.invoker == nil {
		s.invoker = NewLogInvoker()
	}

	s.broker = pubsub.NewBroker(callbackResolver{s})
	s.broker.SetObserver(metricsObserver{})
	for _, st := range s.res.all() {
		st.SetObserver(metricsObserver{})
		if opts.ConnectTimeout > 0 {
			st.SetConnectTimeout(opts.ConnectTimeout)
		}
	}

	s.handlers = s.handlerTable()
	if err := validateHandlers(declaredActions(), s.handlers); err != nil {
		return nil, err
	}
	s.sources = s.sourceTable()
	if err := validateSources(control.Sources, s.sources); err != nil {
		return nil, err
	}
	return s, nil
}

func validateHandlers(declared []control.Action, table map[control.Action]handler) error {
	listed := make(map[control.Action]bool, len(declared))
	var missing, extra []string
	for _, a := range declared {
		listed[a] = true
		if _, ok := table[a]; !ok {
			missing = append(missing, a.String())
		}
	}
	for a := range table {
		if !listed[a] {
			extra = append(extra, a.String())
		}
	}
	return tableError("action", missing, extra)
}

func validateSources(declared []control.Source, table map[control.Source]sourceHandler) error {
	listed := make(map[control.Source]bool, len(declared))
	var missing, extra []string
	for _, src := range declared {
		listed[src] = true
		if _, ok := table[src]; !ok {
			missing = append(missing, string(src))
		}
	}
	for src := range table {
		if !listed[src] {
			extra = append(extra, string(src))
		}
	}
	return tableError("source", missing, extra)
}

func tableError(what string, missing, extra []string) error {
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return fmt.Errorf("invalid %s handler table: missing handlers %v, unlisted handlers %v", what, missing, extra)
}

// Handle decodes one control message and applies it. It returns an error
// only when the message cannot be decoded or routed.
func (s *Store) Handle(ctx context.Context, data []byte) error {
	start := time.Now()

	m, err := control.Decode(data)
	if err != nil {
		s.logger.Printf("Rejected control message: %v", err)
		controlMessagesTotal.WithLabelValues("unknown", "malformed").Inc()
		return err
	}
	if m.CID == "" {
		m.CID = uuid.New().String()
	}

	kind, action := m.Action.Kind, m.Action.String()
	if src, ok := m.Source(); ok {
		kind, action = string(src), string(src)
		err = s.dispatchSource(ctx, src, m)
	} else {
		err = s.dispatchAction(ctx, m)
	}

	status := "ok"
	switch {
	case errors.Is(err, ErrNoHandler):
		// keep label cardinality bounded by the routing tables
		status, kind, action = "unrouted", "unknown", "unknown"
	case err != nil:
		status = "malformed"
	}
	elapsed := time.Since(start)
	controlMessagesTotal.WithLabelValues(action, status).Inc()
	controlMessageDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if s.audit != nil {
		s.audit.Audit(m.ClusterID, m.CID, m.Raw, m.Name, elapsed, err)
	}
	if err != nil {
		s.logger.Printf("Failed to handle %s (cid=%s): %v", m.Raw, m.CID, err)
	}
	return err
}

func (s *Store) dispatchAction(ctx context.Context, m control.Message) error {
	h, ok := s.handlers[m.Action]
	if !ok {
		return fmt.Errorf("%w %s", ErrNoHandler, m.Action)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return h(ctx, m)
}

func (s *Store) dispatchSource(ctx context.Context, src control.Source, m control.Message) error {
	h, ok := s.sources[src]
	if !ok {
		return fmt.Errorf("%w %s", ErrNoHandler, src)
	}
	return h(ctx, m)
}

// IsReady reports whether Init has completed
func (s *Store) IsReady() bool {
	return s.ready.Load()
}

// Resources returns the resource stores for reads
func (s *Store) Resources() *Resources {
	return &s.res
}

// Security returns the security registry
func (s *Store) Security() *security.Registry {
	return s.security
}

// Shapes returns the namespace, xpath and json-pointer store
func (s *Store) Shapes() *msgshape.Store {
	return s.shapes
}

// Broker returns the pub/sub broker
func (s *Store) Broker() *pubsub.Broker {
	return s.broker
}

// Notifier returns the cloud notifier stored under name
func (s *Store) Notifier(name string) (config.Notifier, bool) {
	return s.notifiers.Load(name)
}

// ResourceInfos lists the wrappers of every kind
func (s *Store) ResourceInfos() map[base.Kind][]registry.Info {
	out := make(map[base.Kind][]registry.Info)
	for _, st := range s.res.all() {
		out[st.Kind()] = st.Infos()
	}
	return out
}

// Close disconnects every resource
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.res.all() {
		st.CloseAll(ctx)
	}
	s.ready.Store(false)
	s.logger.Println("Closed all resources")
}
