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

package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"integrabus/worker/connectors/base"
	"integrabus/worker/control"
)

// Catalog kinds that have no control action of their own
const (
	KindSecurity        = "security"
	KindDefaultProducer = "pubsub.default_producer"
	KindDefaultConsumer = "pubsub.default_consumer"
)

const catalogQuery = `SELECT kind, name, body FROM worker_config WHERE cluster_id = $1 ORDER BY kind, name`

// PostgresCatalog loads a snapshot from the worker_config table. Each row
// holds one entry: its kind (the control-message kind, "security" for
// security definitions), its name and its JSON body.
type PostgresCatalog struct {
	db        *sql.DB
	clusterID string
	logger    *log.Logger
}

// NewPostgresCatalog reads the rows of clusterID through db
func NewPostgresCatalog(db *sql.DB, clusterID string) *PostgresCatalog {
	return &PostgresCatalog{
		db:        db,
		clusterID: clusterID,
		logger:    log.New(os.Stdout, "[CATALOG] ", log.LstdFlags),
	}
}

// OpenPostgresCatalog connects to the catalog database at dsn
func OpenPostgresCatalog(ctx context.Context, dsn, clusterID string) (*PostgresCatalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach catalog database: %w", err)
	}
	return NewPostgresCatalog(db, clusterID), nil
}

// Close releases the database handle
func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}

// Load reads every row of the cluster. Rows of unknown kinds are logged and skipped.
func (c *PostgresCatalog) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := c.db.QueryContext(ctx, catalogQuery, c.clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	snap := &Snapshot{}
	decoders := decodersFor(snap)
	count := 0

	for rows.Next() {
		var kind, name string
		var body []byte
		if err := rows.Scan(&kind, &name, &body); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		decode, ok := decoders[kind]
		if !ok {
			c.logger.Printf("Skipping catalog entry '%s' of unknown kind %s", name, kind)
			continue
		}
		if err := decode(body); err != nil {
			return nil, fmt.Errorf("catalog entry %s '%s': %w", kind, name, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	c.logger.Printf("Loaded %d entries for cluster %s", count, c.clusterID)
	return snap, nil
}

func appendTo[T any](dst *[]T) func([]byte) error {
	return func(body []byte) error {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return err
		}
		*dst = append(*dst, v)
		return nil
	}
}

func setTo[T any](dst *T) func([]byte) error {
	return func(body []byte) error {
		return json.Unmarshal(body, dst)
	}
}

func decodersFor(s *Snapshot) map[string]func([]byte) error {
	return map[string]func([]byte) error{
		control.KindNamespace:          appendTo(&s.Namespaces),
		control.KindXPath:              appendTo(&s.XPaths),
		control.KindJSONPointer:        appendTo(&s.JSONPointers),
		string(base.KindCassandra):     appendTo(&s.Cassandra),
		control.KindCassandraQuery:     appendTo(&s.CassandraQueries),
		string(base.KindElasticSearch): appendTo(&s.Elasticsearch),
		string(base.KindSolr):          appendTo(&s.Solr),
		string(base.KindSMTP):          appendTo(&s.SMTP),
		string(base.KindIMAP):          appendTo(&s.IMAP),
		string(base.KindSQL):           appendTo(&s.SQL),
		string(base.KindFTP):           appendTo(&s.FTP),
		string(base.KindRedis):         appendTo(&s.Redis),
		string(base.KindMongoDB):       appendTo(&s.MongoDB),
		KindSecurity:                   appendTo(&s.Security),
		string(base.KindPlainHTTP):     appendTo(&s.PlainHTTP),
		string(base.KindSOAP):          appendTo(&s.SOAP),
		string(base.KindS3):            appendTo(&s.S3),
		string(base.KindAzureBlob):     appendTo(&s.AzureBlob),
		string(base.KindGCS):           appendTo(&s.GCS),
		control.KindTopic:              appendTo(&s.PubSub.Topics),
		control.KindProducer:           appendTo(&s.PubSub.Producers),
		control.KindConsumer:           appendTo(&s.PubSub.Consumers),
		KindDefaultProducer:            setTo(&s.PubSub.DefaultProducer),
		KindDefaultConsumer:            setTo(&s.PubSub.DefaultConsumer),
		control.KindNotifier:           appendTo(&s.Notifiers),
	}
}
