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

package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
	"integrabus/worker/security"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultMaxResponseSize is the maximum response body size (10MB)
	DefaultMaxResponseSize = 10 * 1024 * 1024
	// DefaultRetryDelay is the initial delay between retries
	DefaultRetryDelay = 100 * time.Millisecond
	// MaxRetryDelay is the maximum delay between retries
	MaxRetryDelay = 5 * time.Second
)

// Request is one outbound call relative to the connection's endpoint
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// Response is the buffered reply to a Request
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Connector is an outgoing plain HTTP or SOAP connection. Its transport
// lives for the whole life of the connection; the authentication provider
// is swapped by Rebind.
type Connector struct {
	*sdk.BaseConnector
	config     Config
	httpClient *http.Client
	retryDelay time.Duration

	mu   sync.RWMutex
	wsdl []byte
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector(string(cfg.Transport), cfg.Name),
		config:        cfg,
		retryDelay:    DefaultRetryDelay,
	}
}

// Connect creates the pooled transport and binds credentials. SOAP
// connections also prefetch the service WSDL; a failed prefetch leaves the
// connection usable with no WSDL.
func (c *Connector) Connect(ctx context.Context) error {
	auth, err := providerFor(c.config.SecurityBinding())
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "invalid security binding", err)
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if c.config.TLSSkipVerify {
		tlsConfig.InsecureSkipVerify = true
		c.Log("WARNING: TLS verification disabled for %s", c.Name())
	}

	maxConns := c.config.PoolSize
	if maxConns <= 0 {
		maxConns = 10
	}
	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		MaxIdleConns:        100,
		MaxConnsPerHost:     maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c.httpClient = &http.Client{
		Timeout:   base.Seconds(c.config.Timeout, DefaultTimeout),
		Transport: transport,
	}
	c.SetAuthProvider(auth)

	if c.config.IsSOAP() {
		c.prefetchWSDL(ctx)
	}

	c.MarkConnected()
	c.Log("Connected to %s: %s (endpoint=%s, security=%s)",
		c.config.Transport, c.Name(), c.config.Endpoint(), authType(auth))
	return nil
}

// Disconnect releases idle connections
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.httpClient == nil {
		return nil
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	if c.MarkDisconnected() {
		c.Log("Disconnected from %s", c.Name())
	}
	return nil
}

// Rebind replaces the credentials used by subsequent requests. In-flight
// requests finish with the provider they started with.
func (c *Connector) Rebind(def security.Definition) error {
	auth, err := providerFor(def)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Rebind", "invalid security binding", err)
	}
	c.SetAuthProvider(auth)
	c.Log("Rebound %s to security definition %s (%s)", c.Name(), def.Name, authType(auth))
	return nil
}

// providerFor builds the auth provider; an inactive definition sends
// requests without credentials
func providerFor(def security.Definition) (sdk.AuthProvider, error) {
	if def.Type == "" || !def.IsActive {
		return nil, nil
	}
	return sdk.AuthFor(def)
}

func authType(auth sdk.AuthProvider) string {
	if auth == nil {
		return "none"
	}
	return auth.Type()
}

// HealthCheck sends the configured ping request to the endpoint
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.httpClient == nil {
		return &base.HealthStatus{Healthy: false, Error: "client not connected", Timestamp: time.Now()}, nil
	}

	method := strings.ToUpper(c.config.PingMethod)
	if method == "" {
		method = http.MethodHead
	}

	start := time.Now()
	resp, err := c.Do(ctx, &Request{Method: method})
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	status := c.Health(start, err)
	status.Details["endpoint"] = c.config.Endpoint()
	status.Details["auth_type"] = authType(c.GetAuthProvider())
	if resp != nil {
		status.Details["status_code"] = strconv.Itoa(resp.StatusCode)
	}
	return status, nil
}

// Do sends req with the current credentials and buffers the response
func (c *Connector) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.httpClient == nil {
		return nil, c.NotConnected("Do")
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = strings.ToUpper(c.config.Method)
	}
	if method == "" {
		method = http.MethodPost
	}

	reqURL, err := url.Parse(c.config.Endpoint() + req.Path)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Do", "invalid URL path", err)
	}
	if len(req.Query) > 0 {
		reqURL.RawQuery = req.Query.Encode()
	}

	// only idempotent requests are retried
	attempts := 1
	if method == http.MethodGet || method == http.MethodHead {
		attempts += c.config.MaxRetries
	}

	timer := sdk.NewTimer()
	var resp *Response
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.Log("Retry attempt %d/%d after %v", attempt, attempts-1, delay)
			select {
			case <-ctx.Done():
				return nil, base.NewConnectorError(c.Name(), "Do", "context cancelled during retry", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err = c.send(ctx, method, reqURL.String(), req)
		if err == nil && !isRetryableStatusCode(resp.StatusCode) {
			break
		}
	}
	timer.RecordTo(c.GetMetrics(), err)

	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Do", fmt.Sprintf("%s %s failed", method, reqURL.Path), err)
	}
	return resp, nil
}

func (c *Connector) send(ctx context.Context, method, target string, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(httpReq, req)

	if auth := c.GetAuthProvider(); auth != nil {
		if err := auth.Authenticate(ctx, httpReq); err != nil {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, DefaultMaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > DefaultMaxResponseSize {
		return nil, fmt.Errorf("response size exceeds limit of %d bytes", DefaultMaxResponseSize)
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Connector) applyHeaders(httpReq *http.Request, req *Request) {
	contentType := c.config.ContentType
	if contentType == "" {
		switch c.config.DataFormat {
		case "xml":
			contentType = "application/xml"
		default:
			contentType = "application/json"
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("User-Agent", "integrabus-worker/1.0")

	for key, val := range req.Headers {
		httpReq.Header.Set(key, val)
	}
}

// Deliver posts a pub/sub message to the endpoint. SOAP connections wrap
// the payload in an envelope.
func (c *Connector) Deliver(ctx context.Context, payload []byte, mimeType string, headers map[string]string) error {
	var resp *Response
	var err error
	if c.config.IsSOAP() {
		resp, err = c.Call(ctx, payload)
	} else {
		h := map[string]string{}
		for k, v := range headers {
			h[k] = v
		}
		if mimeType != "" {
			h["Content-Type"] = mimeType
		}
		resp, err = c.Do(ctx, &Request{Method: http.MethodPost, Headers: h, Body: payload})
	}
	if err != nil {
		return err
	}
	if !resp.OK() {
		return base.NewConnectorError(c.Name(), "Deliver", fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(resp.Body)), nil)
	}
	return nil
}

// Query sends a GET to Statement, a path below the endpoint. Args are
// key, value pairs added to the query string.
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	params := url.Values{}
	for i := 0; i+1 < len(query.Args); i += 2 {
		params.Set(fmt.Sprint(query.Args[i]), fmt.Sprint(query.Args[i+1]))
	}

	start := time.Now()
	resp, err := c.Do(ctx, &Request{Method: http.MethodGet, Path: query.Statement, Query: params})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, base.NewConnectorError(c.Name(), "Query",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(resp.Body)), nil)
	}

	var rows []map[string]interface{}
	var result interface{}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		rows = []map[string]interface{}{{"response": string(resp.Body)}}
	} else {
		rows = convertToRows(result)
	}
	if query.Limit > 0 && len(rows) > query.Limit {
		rows = rows[:query.Limit]
	}

	return &base.QueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		Duration:  time.Since(start),
		Connector: c.Name(),
	}, nil
}

// Execute sends the configured method (POST by default) to Statement with
// Args[0] as body. Strings and byte slices are sent as is, anything else is
// JSON encoded.
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	req := &Request{Path: cmd.Statement}
	if len(cmd.Args) > 0 {
		switch body := cmd.Args[0].(type) {
		case []byte:
			req.Body = body
		case string:
			req.Body = []byte(body)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				return nil, base.NewConnectorError(c.Name(), "Execute", "failed to marshal body", err)
			}
			req.Body = data
		}
	}

	start := time.Now()
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, base.NewConnectorError(c.Name(), "Execute",
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(resp.Body)), nil)
	}
	return &base.CommandResult{
		RowsAffected: 1,
		Duration:     time.Since(start),
		Connector:    c.Name(),
	}, nil
}

// convertToRows converts API response to rows format
func convertToRows(result interface{}) []map[string]interface{} {
	switch v := result.(type) {
	case []interface{}:
		rows := make([]map[string]interface{}, 0, len(v))
		for _, item := range v {
			if itemMap, ok := item.(map[string]interface{}); ok {
				rows = append(rows, itemMap)
			} else {
				rows = append(rows, map[string]interface{}{"value": item})
			}
		}
		return rows
	case map[string]interface{}:
		return []map[string]interface{}{v}
	default:
		return []map[string]interface{}{{"value": v}}
	}
}

func truncate(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// calculateBackoff calculates exponential backoff delay
func (c *Connector) calculateBackoff(attempt int) time.Duration {
	delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
	if delay > MaxRetryDelay {
		delay = MaxRetryDelay
	}
	return delay
}

// isRetryableStatusCode returns true if the status code indicates a retryable error
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
