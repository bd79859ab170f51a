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

package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Config describes one Elasticsearch cluster
type Config struct {
	base.Common `yaml:",inline"`

	// Hosts holds one node URL per line
	Hosts    string `json:"hosts" yaml:"hosts"`
	Timeout  int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// MaxRetries is handed to the client transport; 0 disables retries
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Validate checks every host is an http(s) URL
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	hosts := base.SplitLines(c.Hosts)
	if len(hosts) == 0 {
		return fmt.Errorf("elasticsearch %s: hosts is required", c.Name)
	}
	for _, h := range hosts {
		u, err := url.Parse(h)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("elasticsearch %s: invalid host %q", c.Name, h)
		}
	}
	return nil
}

// WithPassword returns a copy with a new password
func (c Config) WithPassword(password string) Config {
	c.Password = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.Password = base.Shadow(c.Password)
	c.APIKey = base.Shadow(c.APIKey)
	return c
}

// ClientConfig translates the config into client options
func (c Config) ClientConfig() elasticsearch.Config {
	timeout := base.Seconds(c.Timeout, 30*time.Second)
	return elasticsearch.Config{
		Addresses:    base.SplitLines(c.Hosts),
		Username:     c.Username,
		Password:     c.Password,
		APIKey:       c.APIKey,
		MaxRetries:   c.MaxRetries,
		DisableRetry: c.MaxRetries == 0,
		Transport: &http.Transport{
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Connector wraps an Elasticsearch client
type Connector struct {
	*sdk.BaseConnector
	config    Config
	client    *elasticsearch.Client
	transport *http.Transport
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("elasticsearch", cfg.Name),
		config:        cfg,
	}
}

// Connect creates the client. Nodes are contacted lazily.
func (c *Connector) Connect(ctx context.Context) error {
	cfg := c.config.ClientConfig()
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "failed to create client", err)
	}
	c.client = client
	c.transport, _ = cfg.Transport.(*http.Transport)
	c.MarkConnected()
	c.Log("Connected to Elasticsearch: %s (hosts=%v)", c.Name(), base.SplitLines(c.config.Hosts))
	return nil
}

// Disconnect releases idle connections
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	c.client = nil
	if c.MarkDisconnected() {
		c.Log("Disconnected from Elasticsearch: %s", c.Name())
	}
	return nil
}

// HealthCheck pings the cluster
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "client not connected", Timestamp: time.Now()}, nil
	}

	start := time.Now()
	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err == nil {
		defer func() { _ = res.Body.Close() }()
		if res.IsError() {
			err = fmt.Errorf("ping failed: %s", res.Status())
		}
	}
	return c.Health(start, err), nil
}

// Client exposes the underlying client
func (c *Connector) Client() *elasticsearch.Client {
	return c.client
}

// Search runs a query DSL body against index and returns the hits' sources
func (c *Connector) Search(ctx context.Context, index string, query map[string]interface{}, size int) ([]map[string]interface{}, error) {
	if c.client == nil {
		return nil, c.NotConnected("Search")
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Search", "failed to encode query", err)
	}

	opts := []func(*esapi.SearchRequest){
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(index),
		c.client.Search.WithBody(bytes.NewReader(body)),
	}
	if size > 0 {
		opts = append(opts, c.client.Search.WithSize(size))
	}

	timer := sdk.NewTimer()
	res, err := c.client.Search(opts...)
	var out struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	err = decode(res, err, &out)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Search", "search failed", err)
	}

	rows := make([]map[string]interface{}, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		row := h.Source
		if row == nil {
			row = map[string]interface{}{}
		}
		row["_id"] = h.ID
		rows = append(rows, row)
	}
	return rows, nil
}

// Index stores doc under id; an empty id lets the cluster assign one
func (c *Connector) Index(ctx context.Context, index, id string, doc interface{}) (string, error) {
	if c.client == nil {
		return "", c.NotConnected("Index")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", base.NewConnectorError(c.Name(), "Index", "failed to encode document", err)
	}

	opts := []func(*esapi.IndexRequest){c.client.Index.WithContext(ctx)}
	if id != "" {
		opts = append(opts, c.client.Index.WithDocumentID(id))
	}

	timer := sdk.NewTimer()
	res, err := c.client.Index(index, bytes.NewReader(body), opts...)
	var out struct {
		ID string `json:"_id"`
	}
	err = decode(res, err, &out)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return "", base.NewConnectorError(c.Name(), "Index", "index failed", err)
	}
	return out.ID, nil
}

// Delete removes a document
func (c *Connector) Delete(ctx context.Context, index, id string) error {
	if c.client == nil {
		return c.NotConnected("Delete")
	}

	timer := sdk.NewTimer()
	res, err := c.client.Delete(index, id, c.client.Delete.WithContext(ctx))
	err = decode(res, err, nil)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Delete", "delete failed", err)
	}
	return nil
}

// decode closes res and unmarshals its body into out when out is non-nil
func decode(res *esapi.Response, err error, out interface{}) error {
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s: %s", res.Status(), msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
