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
	"fmt"
	"strings"

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
	"integrabus/worker/connectors/s3"
	"integrabus/worker/connectors/smtp"
	"integrabus/worker/connectors/solr"
	"integrabus/worker/connectors/sqlpool"
	"integrabus/worker/msgshape"
	"integrabus/worker/pubsub"
	"integrabus/worker/security"
)

// Catalog is a source of the worker's startup configuration
type Catalog interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Snapshot is the whole configuration a worker starts from
type Snapshot struct {
	Namespaces   []msgshape.Namespace  `json:"namespaces,omitempty" yaml:"namespaces,omitempty"`
	XPaths       []msgshape.Expression `json:"xpaths,omitempty" yaml:"xpaths,omitempty"`
	JSONPointers []msgshape.Expression `json:"json_pointers,omitempty" yaml:"json_pointers,omitempty"`

	Cassandra        []cassandra.Config      `json:"cassandra,omitempty" yaml:"cassandra,omitempty"`
	CassandraQueries []cassandra.QueryConfig `json:"cassandra_queries,omitempty" yaml:"cassandra_queries,omitempty"`

	Elasticsearch []elasticsearch.Config `json:"search_es,omitempty" yaml:"search_es,omitempty"`
	Solr          []solr.Config          `json:"search_solr,omitempty" yaml:"search_solr,omitempty"`

	SMTP []smtp.Config `json:"email_smtp,omitempty" yaml:"email_smtp,omitempty"`
	IMAP []imap.Config `json:"email_imap,omitempty" yaml:"email_imap,omitempty"`

	SQL     []sqlpool.Config `json:"outgoing_sql,omitempty" yaml:"outgoing_sql,omitempty"`
	FTP     []ftp.Config     `json:"outgoing_ftp,omitempty" yaml:"outgoing_ftp,omitempty"`
	Redis   []redis.Config   `json:"outgoing_redis,omitempty" yaml:"outgoing_redis,omitempty"`
	MongoDB []mongodb.Config `json:"outgoing_mongodb,omitempty" yaml:"outgoing_mongodb,omitempty"`

	Security []security.Definition `json:"security,omitempty" yaml:"security,omitempty"`

	PlainHTTP []http.Config `json:"outgoing_plain_http,omitempty" yaml:"outgoing_plain_http,omitempty"`
	SOAP      []http.Config `json:"outgoing_soap,omitempty" yaml:"outgoing_soap,omitempty"`

	S3        []s3.Config        `json:"cloud_aws_s3,omitempty" yaml:"cloud_aws_s3,omitempty"`
	AzureBlob []azureblob.Config `json:"cloud_azure_blob,omitempty" yaml:"cloud_azure_blob,omitempty"`
	GCS       []gcs.Config       `json:"cloud_gcs,omitempty" yaml:"cloud_gcs,omitempty"`

	PubSub PubSub `json:"pubsub" yaml:"pubsub"`

	Notifiers []Notifier `json:"notifiers,omitempty" yaml:"notifiers,omitempty"`
}

// PubSub is the broker part of a snapshot
type PubSub struct {
	Topics          []pubsub.Topic    `json:"topics,omitempty" yaml:"topics,omitempty"`
	DefaultProducer pubsub.Client     `json:"default_producer" yaml:"default_producer"`
	DefaultConsumer pubsub.Client     `json:"default_consumer" yaml:"default_consumer"`
	Producers       []ProducerBinding `json:"producers,omitempty" yaml:"producers,omitempty"`
	Consumers       []ConsumerBinding `json:"consumers,omitempty" yaml:"consumers,omitempty"`
}

// ProducerBinding is a producer of one topic
type ProducerBinding struct {
	pubsub.Client `yaml:",inline"`
	TopicName     string `json:"topic_name" yaml:"topic_name"`
}

// Validate checks the binding names a topic
func (p ProducerBinding) Validate() error {
	if strings.TrimSpace(p.TopicName) == "" {
		return fmt.Errorf("producer %d: topic_name is required", p.ID)
	}
	return nil
}

// ConsumerBinding is a subscription to one topic
type ConsumerBinding struct {
	pubsub.Consumer `yaml:",inline"`
	TopicName       string `json:"topic_name" yaml:"topic_name"`
}

// Validate checks the subscription and its topic
func (c ConsumerBinding) Validate() error {
	if strings.TrimSpace(c.TopicName) == "" {
		return fmt.Errorf("consumer %s: topic_name is required", c.SubKey)
	}
	return c.Consumer.Validate()
}

// Notifier periodically scans cloud containers and hands new objects to a service
type Notifier struct {
	base.Common `yaml:",inline"`

	// DefKind and DefName identify the cloud connection to scan
	DefKind base.Kind `json:"def_kind" yaml:"def_kind"`
	DefName string    `json:"def_name" yaml:"def_name"`
	// Containers holds one bucket or bucket:prefix per line
	Containers      string `json:"containers" yaml:"containers"`
	IntervalSeconds int    `json:"interval" yaml:"interval"`
	ServiceName     string `json:"service_name" yaml:"service_name"`
}

// Validate checks the notifier references a cloud connection and a service
func (n Notifier) Validate() error {
	if err := n.Common.Validate(); err != nil {
		return err
	}
	switch n.DefKind {
	case base.KindS3, base.KindAzureBlob, base.KindGCS:
	default:
		return fmt.Errorf("notifier %s: def_kind must be a cloud kind, got %q", n.Name, n.DefKind)
	}
	if n.DefName == "" || n.ServiceName == "" {
		return fmt.Errorf("notifier %s: def_name and service_name are required", n.Name)
	}
	if len(n.ContainerPrefixes()) == 0 {
		return fmt.Errorf("notifier %s: containers is required", n.Name)
	}
	return nil
}

// ContainerPrefix is one line of Notifier.Containers
type ContainerPrefix struct {
	Container string `json:"container"`
	Prefix    string `json:"prefix,omitempty"`
}

// ContainerPrefixes parses the containers field
func (n Notifier) ContainerPrefixes() []ContainerPrefix {
	var out []ContainerPrefix
	for _, line := range base.SplitLines(n.Containers) {
		container, prefix, _ := strings.Cut(line, ":")
		out = append(out, ContainerPrefix{Container: strings.TrimSpace(container), Prefix: strings.TrimSpace(prefix)})
	}
	return out
}

// Validate checks every entry of the snapshot. The first failure is
// returned with the section it was found in.
func (s *Snapshot) Validate() error {
	check := func(section string, items []base.Config) error {
		for _, it := range items {
			if err := it.Validate(); err != nil {
				return fmt.Errorf("%s: %w", section, err)
			}
		}
		return nil
	}

	sections := []struct {
		name  string
		items []base.Config
	}{
		{"namespaces", asConfigs(s.Namespaces)},
		{"xpaths", asConfigs(s.XPaths)},
		{"json_pointers", asConfigs(s.JSONPointers)},
		{"cassandra", asConfigs(s.Cassandra)},
		{"cassandra_queries", asConfigs(s.CassandraQueries)},
		{"search_es", asConfigs(s.Elasticsearch)},
		{"search_solr", asConfigs(s.Solr)},
		{"email_smtp", asConfigs(s.SMTP)},
		{"email_imap", asConfigs(s.IMAP)},
		{"outgoing_sql", asConfigs(s.SQL)},
		{"outgoing_ftp", asConfigs(s.FTP)},
		{"outgoing_redis", asConfigs(s.Redis)},
		{"outgoing_mongodb", asConfigs(s.MongoDB)},
		{"outgoing_plain_http", asConfigs(s.PlainHTTP)},
		{"outgoing_soap", asConfigs(s.SOAP)},
		{"cloud_aws_s3", asConfigs(s.S3)},
		{"cloud_azure_blob", asConfigs(s.AzureBlob)},
		{"cloud_gcs", asConfigs(s.GCS)},
		{"notifiers", asConfigs(s.Notifiers)},
	}
	for _, sec := range sections {
		if err := check(sec.name, sec.items); err != nil {
			return err
		}
	}

	for _, def := range s.Security {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("security: %w", err)
		}
	}
	for _, t := range s.PubSub.Topics {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("pubsub topics: %w", err)
		}
	}
	for _, p := range s.PubSub.Producers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("pubsub producers: %w", err)
		}
	}
	for _, c := range s.PubSub.Consumers {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("pubsub consumers: %w", err)
		}
	}
	return nil
}

func asConfigs[C base.Config](items []C) []base.Config {
	out := make([]base.Config, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

// Secrets returns pointers to every password field of the snapshot, for
// in-place secret resolution
func (s *Snapshot) Secrets() []*string {
	var out []*string
	for i := range s.Cassandra {
		out = append(out, &s.Cassandra[i].Password)
	}
	for i := range s.Elasticsearch {
		out = append(out, &s.Elasticsearch[i].Password)
	}
	for i := range s.SMTP {
		out = append(out, &s.SMTP[i].Password)
	}
	for i := range s.IMAP {
		out = append(out, &s.IMAP[i].Password)
	}
	for i := range s.SQL {
		out = append(out, &s.SQL[i].Password)
	}
	for i := range s.FTP {
		out = append(out, &s.FTP[i].Password)
	}
	for i := range s.Redis {
		out = append(out, &s.Redis[i].Password)
	}
	for i := range s.MongoDB {
		out = append(out, &s.MongoDB[i].Password)
	}
	for i := range s.Security {
		out = append(out, &s.Security[i].Password)
	}
	for i := range s.PlainHTTP {
		out = append(out, &s.PlainHTTP[i].Password)
	}
	for i := range s.SOAP {
		out = append(out, &s.SOAP[i].Password)
	}
	for i := range s.S3 {
		out = append(out, &s.S3[i].SecretAccessKey)
	}
	for i := range s.AzureBlob {
		out = append(out, &s.AzureBlob[i].AccountKey, &s.AzureBlob[i].ConnectionString)
	}
	for i := range s.GCS {
		out = append(out, &s.GCS[i].CredentialsJSON)
	}
	return out
}

// Count returns the number of entries in the snapshot
func (s *Snapshot) Count() int {
	return len(s.Namespaces) + len(s.XPaths) + len(s.JSONPointers) +
		len(s.Cassandra) + len(s.CassandraQueries) + len(s.Elasticsearch) + len(s.Solr) +
		len(s.SMTP) + len(s.IMAP) + len(s.SQL) + len(s.FTP) + len(s.Redis) + len(s.MongoDB) +
		len(s.Security) + len(s.PlainHTTP) + len(s.SOAP) + len(s.S3) + len(s.AzureBlob) + len(s.GCS) +
		len(s.PubSub.Topics) + len(s.PubSub.Producers) + len(s.PubSub.Consumers) + len(s.Notifiers)
}
