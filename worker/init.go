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
	"time"

	"github.com/google/uuid"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/config"
	"integrabus/worker/connectors/registry"
)

// Init loads snap into the empty store. Dependencies are created before
// their dependents: namespaces before XPaths, Cassandra definitions before
// their queries, security definitions before the HTTP connections bound to
// them, cloud connections before notifiers. Individual failures are logged
// and loading continues. IsReady turns true when Init returns.
func (s *Store) Init(ctx context.Context, snap *config.Snapshot) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ns := range snap.Namespaces {
		s.shapes.CreateNamespace(ns)
	}
	for _, e := range snap.XPaths {
		if err := s.shapes.CreateXPath(e); err != nil {
			s.logger.Printf("Stored xpath '%s' that does not compile: %v", e.Name, err)
		}
	}
	for _, e := range snap.JSONPointers {
		if err := s.shapes.CreateJSONPointer(e); err != nil {
			s.logger.Printf("Rejected json pointer '%s': %v", e.Name, err)
		}
	}

	createAll(ctx, s.res.Cassandra, snap.Cassandra)
	for _, q := range snap.CassandraQueries {
		s.saveQueryLocked("", q)
	}

	createAll(ctx, s.res.Elasticsearch, snap.Elasticsearch)
	createAll(ctx, s.res.Solr, snap.Solr)
	createAll(ctx, s.res.SMTP, snap.SMTP)
	createAll(ctx, s.res.IMAP, snap.IMAP)
	createAll(ctx, s.res.SQL, snap.SQL)
	createAll(ctx, s.res.FTP, snap.FTP)
	createAll(ctx, s.res.Redis, snap.Redis)
	createAll(ctx, s.res.MongoDB, snap.MongoDB)

	for _, def := range snap.Security {
		s.security.Create(def)
	}
	for _, cfg := range snap.PlainHTTP {
		s.res.PlainHTTP.Create(ctx, s.bindLocked(cfg))
	}
	for _, cfg := range snap.SOAP {
		s.res.SOAP.Create(ctx, s.bindLocked(cfg))
	}

	createAll(ctx, s.res.S3, snap.S3)
	createAll(ctx, s.res.AzureBlob, snap.AzureBlob)
	createAll(ctx, s.res.GCS, snap.GCS)

	s.initPubSubLocked(snap.PubSub)

	for _, n := range snap.Notifiers {
		s.saveNotifierLocked(ctx, "", n, uuid.New().String())
	}

	s.ready.Store(true)
	s.logger.Printf("Worker store ready: %d entries loaded in %v", snap.Count(), time.Since(start).Round(time.Millisecond))
}

func createAll[C base.Config](ctx context.Context, st *registry.Store[C], cfgs []C) {
	for _, cfg := range cfgs {
		st.Create(ctx, cfg)
	}
}

func (s *Store) initPubSubLocked(ps config.PubSub) {
	for _, t := range ps.Topics {
		if err := s.broker.AddTopic(t); err != nil {
			s.logger.Printf("Skipping topic '%s': %v", t.Name, err)
		}
	}
	s.broker.SetDefaultProducer(ps.DefaultProducer)
	s.broker.SetDefaultConsumer(ps.DefaultConsumer)
	for _, p := range ps.Producers {
		if err := s.broker.AddProducer(p.TopicName, p.Client); err != nil {
			s.logger.Printf("Skipping producer %d: %v", p.ID, err)
		}
	}
	for _, c := range ps.Consumers {
		if err := s.broker.AddConsumer(c.TopicName, c.Consumer); err != nil {
			s.logger.Printf("Skipping consumer '%s': %v", c.SubKey, err)
		}
	}
}
