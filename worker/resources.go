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

	"integrabus/worker/connectors/azureblob"
	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/cassandra"
	"integrabus/worker/connectors/elasticsearch"
	"integrabus/worker/connectors/ftp"
	"integrabus/worker/connectors/gcs"
	"integrabus/worker/connectors/http"
	"integrabus/worker/connectors/imap"
	"integrabus/worker/connectors/mongodb"
	"integrabus/worker/connectors/redis"
	"integrabus/worker/connectors/registry"
	"integrabus/worker/connectors/s3"
	"integrabus/worker/connectors/smtp"
	"integrabus/worker/connectors/solr"
	"integrabus/worker/connectors/sqlpool"
)

// Builders creates the connector of each resource kind. Tests replace
// entries with fakes.
type Builders struct {
	SQL           registry.Builder[sqlpool.Config]
	FTP           registry.Builder[ftp.Config]
	PlainHTTP     registry.Builder[http.Config]
	SOAP          registry.Builder[http.Config]
	Redis         registry.Builder[redis.Config]
	MongoDB       registry.Builder[mongodb.Config]
	Cassandra     registry.Builder[cassandra.Config]
	Elasticsearch registry.Builder[elasticsearch.Config]
	Solr          registry.Builder[solr.Config]
	SMTP          registry.Builder[smtp.Config]
	IMAP          registry.Builder[imap.Config]
	S3            registry.Builder[s3.Config]
	AzureBlob     registry.Builder[azureblob.Config]
	GCS           registry.Builder[gcs.Config]
}

// DefaultBuilders returns the production connectors
func DefaultBuilders() Builders {
	return Builders{
		SQL:           func(c sqlpool.Config) base.Connector { return sqlpool.NewConnector(c) },
		FTP:           func(c ftp.Config) base.Connector { return ftp.NewConnector(c) },
		PlainHTTP:     func(c http.Config) base.Connector { return http.NewConnector(c) },
		SOAP:          func(c http.Config) base.Connector { return http.NewConnector(c) },
		Redis:         func(c redis.Config) base.Connector { return redis.NewConnector(c) },
		MongoDB:       func(c mongodb.Config) base.Connector { return mongodb.NewConnector(c) },
		Cassandra:     func(c cassandra.Config) base.Connector { return cassandra.NewConnector(c) },
		Elasticsearch: func(c elasticsearch.Config) base.Connector { return elasticsearch.NewConnector(c) },
		Solr:          func(c solr.Config) base.Connector { return solr.NewConnector(c) },
		SMTP:          func(c smtp.Config) base.Connector { return smtp.NewConnector(c) },
		IMAP:          func(c imap.Config) base.Connector { return imap.NewConnector(c) },
		S3:            func(c s3.Config) base.Connector { return s3.NewConnector(c) },
		AzureBlob:     func(c azureblob.Config) base.Connector { return azureblob.NewConnector(c) },
		GCS:           func(c gcs.Config) base.Connector { return gcs.NewConnector(c) },
	}
}

// Resources holds one store per resource kind
type Resources struct {
	SQL           *registry.Store[sqlpool.Config]
	FTP           *registry.Store[ftp.Config]
	PlainHTTP     *registry.Store[http.Config]
	SOAP          *registry.Store[http.Config]
	Redis         *registry.Store[redis.Config]
	MongoDB       *registry.Store[mongodb.Config]
	Cassandra     *registry.Store[cassandra.Config]
	Elasticsearch *registry.Store[elasticsearch.Config]
	Solr          *registry.Store[solr.Config]
	SMTP          *registry.Store[smtp.Config]
	IMAP          *registry.Store[imap.Config]
	S3            *registry.Store[s3.Config]
	AzureBlob     *registry.Store[azureblob.Config]
	GCS           *registry.Store[gcs.Config]
}

func newResources(b Builders) Resources {
	return Resources{
		SQL:           registry.NewStore(base.KindSQL, b.SQL),
		FTP:           registry.NewStore(base.KindFTP, b.FTP),
		PlainHTTP:     registry.NewStore(base.KindPlainHTTP, b.PlainHTTP),
		SOAP:          registry.NewStore(base.KindSOAP, b.SOAP),
		Redis:         registry.NewStore(base.KindRedis, b.Redis),
		MongoDB:       registry.NewStore(base.KindMongoDB, b.MongoDB),
		Cassandra:     registry.NewStore(base.KindCassandra, b.Cassandra),
		Elasticsearch: registry.NewStore(base.KindElasticSearch, b.Elasticsearch),
		Solr:          registry.NewStore(base.KindSolr, b.Solr),
		SMTP:          registry.NewStore(base.KindSMTP, b.SMTP),
		IMAP:          registry.NewStore(base.KindIMAP, b.IMAP),
		S3:            registry.NewStore(base.KindS3, b.S3),
		AzureBlob:     registry.NewStore(base.KindAzureBlob, b.AzureBlob),
		GCS:           registry.NewStore(base.KindGCS, b.GCS),
	}
}

// resourceStore is the kind-independent view of a registry.Store
type resourceStore interface {
	Kind() base.Kind
	Get(name string) (base.Connector, error)
	Names() []string
	Len() int
	Infos() []registry.Info
	Health(ctx context.Context) map[string]*base.HealthStatus
	CloseAll(ctx context.Context)
	SetObserver(o registry.Observer)
	SetConnectTimeout(d time.Duration)
}

// all returns every store in init order
func (r *Resources) all() []resourceStore {
	return []resourceStore{
		r.Cassandra, r.Elasticsearch, r.Solr, r.SMTP, r.IMAP,
		r.SQL, r.FTP, r.Redis, r.MongoDB,
		r.PlainHTTP, r.SOAP,
		r.S3, r.AzureBlob, r.GCS,
	}
}

// byKind returns the store of kind
func (r *Resources) byKind(kind base.Kind) (resourceStore, bool) {
	for _, st := range r.all() {
		if st.Kind() == kind {
			return st, true
		}
	}
	return nil, false
}
