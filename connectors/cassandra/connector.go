// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cassandra

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql" // Cassandra/Scylla driver

	"integrabus/worker/connectors/base"
)

// Config is a Cassandra connection definition
type Config struct {
	base.Common `yaml:",inline"`

	// ContactPoints holds one host per line
	ContactPoints   string `json:"contact_points" yaml:"contact_points"`
	Port            int    `json:"port,omitempty" yaml:"port,omitempty"`
	DefaultKeyspace string `json:"default_keyspace" yaml:"default_keyspace"`
	Consistency     string `json:"consistency,omitempty" yaml:"consistency,omitempty"`
	ProtoVersion    int    `json:"proto_version,omitempty" yaml:"proto_version,omitempty"`
	CQLVersion      string `json:"cql_version,omitempty" yaml:"cql_version,omitempty"`
	NumConns        int    `json:"num_conns,omitempty" yaml:"num_conns,omitempty"`
	Timeout         int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Username        string `json:"username,omitempty" yaml:"username,omitempty"`
	Password        string `json:"password,omitempty" yaml:"password,omitempty"`

	TLSCACerts       string `json:"tls_ca_certs,omitempty" yaml:"tls_ca_certs,omitempty"`
	TLSClientCert    string `json:"tls_client_cert,omitempty" yaml:"tls_client_cert,omitempty"`
	TLSClientPrivKey string `json:"tls_client_priv_key,omitempty" yaml:"tls_client_priv_key,omitempty"`
}

// Validate checks the fields required to open a session
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if len(c.Hosts()) == 0 {
		return fmt.Errorf("cassandra %s: contact_points is required", c.Name)
	}
	if c.ProtoVersion < 0 || c.ProtoVersion > 5 {
		return fmt.Errorf("cassandra %s: proto_version must be between 1 and 5", c.Name)
	}
	return nil
}

// Hosts returns the contact points
func (c Config) Hosts() []string {
	return base.SplitLines(c.ContactPoints)
}

// WithPassword returns a copy with a new password
func (c Config) WithPassword(password string) Config {
	c.Password = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.Password = base.Shadow(c.Password)
	return c
}

// ClusterConfig translates the definition into a gocql cluster config
func (c Config) ClusterConfig() *gocql.ClusterConfig {
	cluster := gocql.NewCluster(c.Hosts()...)
	cluster.Keyspace = c.DefaultKeyspace
	cluster.Consistency = parseConsistency(c.Consistency)
	cluster.Timeout = base.Seconds(c.Timeout, 5*time.Second)
	cluster.ConnectTimeout = cluster.Timeout

	if c.Port > 0 {
		cluster.Port = c.Port
	}
	if c.ProtoVersion > 0 {
		cluster.ProtoVersion = c.ProtoVersion
	}
	if c.CQLVersion != "" {
		cluster.CQLVersion = c.CQLVersion
	}

	cluster.NumConns = 2
	if c.NumConns > 0 {
		cluster.NumConns = c.NumConns
	}

	if c.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.Username,
			Password: c.Password,
		}
	}

	if c.TLSCACerts != "" || c.TLSClientCert != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 c.TLSCACerts,
			CertPath:               c.TLSClientCert,
			KeyPath:                c.TLSClientPrivKey,
			EnableHostVerification: true,
		}
	}
	return cluster
}

// Connector holds one gocql session
type Connector struct {
	config  Config
	cluster *gocql.ClusterConfig
	session *gocql.Session
	logger  *log.Logger
}

// NewConnector creates an unconnected session holder for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		config: cfg,
		logger: log.New(os.Stdout, "[CONN_CASSANDRA] ", log.LstdFlags),
	}
}

// Connect creates the session
func (c *Connector) Connect(ctx context.Context) error {
	cluster := c.config.ClusterConfig()

	session, err := cluster.CreateSession()
	if err != nil {
		return base.NewConnectorError(c.config.Name, "Connect", "failed to create session", err)
	}

	c.cluster = cluster
	c.session = session
	c.logger.Printf("Connected to Cassandra: %s (keyspace=%s, consistency=%s)",
		c.config.Name, cluster.Keyspace, cluster.Consistency)
	return nil
}

// Disconnect closes the session
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.session == nil {
		return nil
	}

	c.session.Close()
	c.session = nil
	c.logger.Printf("Disconnected from Cassandra: %s", c.config.Name)
	return nil
}

// HealthCheck reads the release version of the coordinator
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.session == nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "session not connected"}, nil
	}

	start := time.Now()
	var releaseVersion string
	err := c.session.Query("SELECT release_version FROM system.local").WithContext(ctx).Scan(&releaseVersion)
	latency := time.Since(start)

	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	return &base.HealthStatus{
		Healthy: true,
		Latency: latency,
		Details: map[string]string{
			"release_version": releaseVersion,
			"keyspace":        c.cluster.Keyspace,
			"consistency":     c.cluster.Consistency.String(),
		},
		Timestamp: time.Now(),
	}, nil
}

// Query executes a CQL SELECT and returns its rows
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if c.session == nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "session not connected", base.ErrNotConnected)
	}

	start := time.Now()
	iter := c.session.Query(query.Statement, query.Args...).WithContext(ctx).Iter()

	results := make([]map[string]interface{}, 0)
	for query.Limit == 0 || len(results) < query.Limit {
		row := make(map[string]interface{})
		if !iter.MapScan(row) {
			break
		}
		results = append(results, row)
	}

	if err := iter.Close(); err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "query execution failed", err)
	}

	return &base.QueryResult{
		Rows:      results,
		RowCount:  len(results),
		Duration:  time.Since(start),
		Connector: c.config.Name,
	}, nil
}

// Execute runs a CQL write
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.session == nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "session not connected", base.ErrNotConnected)
	}

	start := time.Now()
	if err := c.session.Query(cmd.Statement, cmd.Args...).WithContext(ctx).Exec(); err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "command execution failed", err)
	}

	// Cassandra does not report affected rows
	return &base.CommandResult{
		RowsAffected: 1,
		Duration:     time.Since(start),
		Connector:    c.config.Name,
	}, nil
}

// Name returns the definition name
func (c *Connector) Name() string {
	return c.config.Name
}

// Type returns the connector type
func (c *Connector) Type() string {
	return "cassandra"
}

// parseConsistency converts string to gocql.Consistency
func parseConsistency(level string) gocql.Consistency {
	switch strings.ToUpper(level) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "THREE":
		return gocql.Three
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "EACH_QUORUM":
		return gocql.EachQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.Quorum
	}
}
