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

package redis

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"integrabus/worker/connectors/base"
)

// Config describes an outgoing Redis connection
type Config struct {
	base.Common `yaml:",inline"`

	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	DB       int    `json:"db,omitempty" yaml:"db,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	PoolSize int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	Timeout  int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate checks the fields required to dial
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Host == "" {
		return fmt.Errorf("redis %s: host is required", c.Name)
	}
	if c.DB < 0 {
		return fmt.Errorf("redis %s: db must not be negative", c.Name)
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
	return c
}

// Options translates the config into go-redis client options
func (c Config) Options() *redis.Options {
	port := c.Port
	if port == 0 {
		port = 6379
	}
	poolSize := c.PoolSize
	if poolSize == 0 {
		poolSize = 100
	}
	return &redis.Options{
		Addr:         net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  base.Seconds(c.Timeout, 5*time.Second),
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: 10,
	}
}

// Connector is a pooled Redis client
type Connector struct {
	config Config
	client *redis.Client
	logger *log.Logger
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		config: cfg,
		logger: log.New(os.Stdout, "[CONN_REDIS] ", log.LstdFlags),
	}
}

// Connect creates the client and pings the server
func (c *Connector) Connect(ctx context.Context) error {
	opts := c.config.Options()
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return base.NewConnectorError(c.config.Name, "Connect", "failed to ping Redis", err)
	}

	c.client = client
	c.logger.Printf("Connected to Redis: %s (db=%d, pool_size=%d)", c.config.Name, opts.DB, opts.PoolSize)
	return nil
}

// Disconnect closes the client
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	if err != nil {
		return base.NewConnectorError(c.config.Name, "Disconnect", "failed to close connection", err)
	}

	c.logger.Printf("Disconnected from Redis: %s", c.config.Name)
	return nil
}

// HealthCheck pings the server
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "client not connected"}, nil
	}

	start := time.Now()
	err := c.client.Ping(ctx).Err()
	latency := time.Since(start)

	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	stats := c.client.PoolStats()
	return &base.HealthStatus{
		Healthy: true,
		Latency: latency,
		Details: map[string]string{
			"db_size":     fmt.Sprintf("%d", c.client.DBSize(ctx).Val()),
			"total_conns": fmt.Sprintf("%d", stats.TotalConns),
			"idle_conns":  fmt.Sprintf("%d", stats.IdleConns),
		},
		Timestamp: time.Now(),
	}, nil
}

// Client returns the underlying client, nil before Connect
func (c *Connector) Client() *redis.Client {
	return c.client
}

// Query runs a read command. Statement is one of GET, EXISTS, TTL or KEYS;
// Args holds the key or pattern.
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "client not connected", base.ErrNotConnected)
	}
	if query.Statement != "KEYS" && len(query.Args) == 0 {
		return nil, base.NewConnectorError(c.config.Name, "Query", "key argument required", nil)
	}

	start := time.Now()
	var rows []map[string]interface{}
	var err error

	switch query.Statement {
	case "GET":
		rows, err = c.get(ctx, fmt.Sprint(query.Args[0]))
	case "EXISTS":
		rows, err = c.exists(ctx, fmt.Sprint(query.Args[0]))
	case "TTL":
		rows, err = c.ttl(ctx, fmt.Sprint(query.Args[0]))
	case "KEYS":
		pattern := "*"
		if len(query.Args) > 0 {
			pattern = fmt.Sprint(query.Args[0])
		}
		rows, err = c.keys(ctx, pattern, query.Limit)
	default:
		return nil, base.NewConnectorError(c.config.Name, "Query",
			fmt.Sprintf("unsupported operation: %s", query.Statement), nil)
	}
	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "query execution failed", err)
	}

	return &base.QueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		Duration:  time.Since(start),
		Connector: c.config.Name,
	}, nil
}

// Execute runs a write command. Statement is SET (key, value[, ttl seconds]),
// DELETE (key) or EXPIRE (key, ttl seconds).
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "client not connected", base.ErrNotConnected)
	}
	if len(cmd.Args) == 0 {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "key argument required", nil)
	}

	start := time.Now()
	key := fmt.Sprint(cmd.Args[0])
	var affected int64
	var err error

	switch cmd.Statement {
	case "SET":
		if len(cmd.Args) < 2 {
			return nil, base.NewConnectorError(c.config.Name, "Execute", "value argument required", nil)
		}
		var ttl time.Duration
		if len(cmd.Args) > 2 {
			ttl = seconds(cmd.Args[2])
		}
		err = c.client.Set(ctx, key, cmd.Args[1], ttl).Err()
		affected = 1
	case "DELETE":
		affected, err = c.client.Del(ctx, key).Result()
	case "EXPIRE":
		if len(cmd.Args) < 2 || seconds(cmd.Args[1]) == 0 {
			return nil, base.NewConnectorError(c.config.Name, "Execute", "ttl argument required", nil)
		}
		var ok bool
		ok, err = c.client.Expire(ctx, key, seconds(cmd.Args[1])).Result()
		if ok {
			affected = 1
		}
	default:
		return nil, base.NewConnectorError(c.config.Name, "Execute",
			fmt.Sprintf("unsupported action: %s", cmd.Statement), nil)
	}
	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "command execution failed", err)
	}

	return &base.CommandResult{
		RowsAffected: affected,
		Duration:     time.Since(start),
		Connector:    c.config.Name,
	}, nil
}

// Name returns the connection name
func (c *Connector) Name() string {
	return c.config.Name
}

// Type returns the connector type
func (c *Connector) Type() string {
	return "redis"
}

func (c *Connector) get(ctx context.Context, key string) ([]map[string]interface{}, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return []map[string]interface{}{
			{"key": key, "exists": false, "value": nil},
		}, nil
	}
	if err != nil {
		return nil, err
	}

	ttl, _ := c.client.TTL(ctx, key).Result()
	return []map[string]interface{}{
		{"key": key, "exists": true, "value": val, "ttl": int(ttl.Seconds())},
	}, nil
}

func (c *Connector) exists(ctx context.Context, key string) ([]map[string]interface{}, error) {
	count, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{{"key": key, "exists": count > 0}}, nil
}

func (c *Connector) ttl(ctx context.Context, key string) ([]map[string]interface{}, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{{"key": key, "ttl": int(ttl.Seconds())}}, nil
}

func (c *Connector) keys(ctx context.Context, pattern string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 100
	}

	var cursor uint64
	var keys []string
	for len(keys) < limit {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 10).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) > limit {
		keys = keys[:limit]
	}

	rows := make([]map[string]interface{}, len(keys))
	for i, key := range keys {
		rows[i] = map[string]interface{}{"key": key}
	}
	return rows, nil
}

func seconds(v interface{}) time.Duration {
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Second
	case int64:
		return time.Duration(t) * time.Second
	case float64:
		return time.Duration(t) * time.Second
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return 0
}
