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

package solr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Config describes one Solr core or collection
type Config struct {
	base.Common `yaml:",inline"`

	// Address is the core URL, e.g. http://solr:8983/solr/books
	Address  string `json:"address" yaml:"address"`
	Timeout  int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	PingPath string `json:"ping_path,omitempty" yaml:"ping_path,omitempty"`
	PoolSize int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	// Options holds extra query parameters sent with every select, one
	// key=value per line
	Options string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validate checks the core address
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	u, err := url.Parse(c.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("solr %s: invalid address %q", c.Name, c.Address)
	}
	return nil
}

// Sanitized returns the config unchanged; Solr connections carry no secret
func (c Config) Sanitized() Config {
	return c
}

// Connector talks to Solr's JSON HTTP API
type Connector struct {
	*sdk.BaseConnector
	config     Config
	httpClient *http.Client
	baseURL    string
	extra      url.Values
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("solr", cfg.Name),
		config:        cfg,
	}
}

// Connect creates the pooled HTTP client
func (c *Connector) Connect(ctx context.Context) error {
	poolSize := c.config.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	c.extra = url.Values{}
	for _, line := range base.SplitLines(c.config.Options) {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return base.NewConnectorError(c.Name(), "Connect", fmt.Sprintf("invalid option %q", line), nil)
		}
		c.extra.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	c.baseURL = strings.TrimSuffix(c.config.Address, "/")
	c.httpClient = &http.Client{
		Timeout: base.Seconds(c.config.Timeout, 10*time.Second),
		Transport: &http.Transport{
			MaxIdleConnsPerHost: poolSize,
			MaxConnsPerHost:     poolSize,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	c.MarkConnected()
	c.Log("Connected to Solr: %s (%s)", c.Name(), c.baseURL)
	return nil
}

// Disconnect releases idle connections
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.httpClient == nil {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	c.httpClient = nil
	if c.MarkDisconnected() {
		c.Log("Disconnected from Solr: %s", c.Name())
	}
	return nil
}

// HealthCheck calls the ping handler
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.httpClient == nil {
		return &base.HealthStatus{Healthy: false, Error: "client not connected", Timestamp: time.Now()}, nil
	}

	path := c.config.PingPath
	if path == "" {
		path = "/admin/ping"
	}

	start := time.Now()
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, path, url.Values{"wt": {"json"}}, nil, &out)
	if err == nil && out.Status != "OK" {
		err = fmt.Errorf("ping status %q", out.Status)
	}
	return c.Health(start, err), nil
}

// Select runs q against the core and returns at most rows documents
func (c *Connector) Select(ctx context.Context, q string, rows int) ([]map[string]interface{}, error) {
	if c.httpClient == nil {
		return nil, c.NotConnected("Select")
	}

	params := url.Values{}
	for k, v := range c.extra {
		params[k] = v
	}
	params.Set("q", q)
	params.Set("wt", "json")
	if rows > 0 {
		params.Set("rows", strconv.Itoa(rows))
	}

	var out struct {
		Response struct {
			NumFound int                      `json:"numFound"`
			Docs     []map[string]interface{} `json:"docs"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/select", params, nil, &out); err != nil {
		return nil, base.NewConnectorError(c.Name(), "Select", "select failed", err)
	}
	return out.Response.Docs, nil
}

// Add indexes docs and commits
func (c *Connector) Add(ctx context.Context, docs []map[string]interface{}) error {
	if c.httpClient == nil {
		return c.NotConnected("Add")
	}
	body, err := json.Marshal(docs)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Add", "failed to encode documents", err)
	}
	if err := c.do(ctx, http.MethodPost, "/update", url.Values{"commit": {"true"}, "wt": {"json"}}, body, nil); err != nil {
		return base.NewConnectorError(c.Name(), "Add", "update failed", err)
	}
	return nil
}

// DeleteByQuery removes the documents matching q and commits
func (c *Connector) DeleteByQuery(ctx context.Context, q string) error {
	if c.httpClient == nil {
		return c.NotConnected("DeleteByQuery")
	}
	body, err := json.Marshal(map[string]interface{}{"delete": map[string]string{"query": q}})
	if err != nil {
		return base.NewConnectorError(c.Name(), "DeleteByQuery", "failed to encode query", err)
	}
	if err := c.do(ctx, http.MethodPost, "/update", url.Values{"commit": {"true"}, "wt": {"json"}}, body, nil); err != nil {
		return base.NewConnectorError(c.Name(), "DeleteByQuery", "update failed", err)
	}
	return nil
}

func (c *Connector) do(ctx context.Context, method, path string, params url.Values, body []byte, out interface{}) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	timer := sdk.NewTimer()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		timer.RecordTo(c.GetMetrics(), err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
	} else if out != nil {
		err = json.NewDecoder(resp.Body).Decode(out)
	}
	timer.RecordTo(c.GetMetrics(), err)
	return err
}
