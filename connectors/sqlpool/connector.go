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

package sqlpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

const (
	defaultPoolSize    = 25
	defaultIdleConns   = 5
	defaultConnMaxLife = 5 * time.Minute
	defaultTimeout     = 30 * time.Second
)

// openDB is swapped in tests
var openDB = sql.Open

// Connector is a pooled connection to a SQL database
type Connector struct {
	*sdk.BaseConnector
	config Config
	db     *sql.DB
}

// NewConnector creates an unconnected pool for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("sql", cfg.Name),
		config:        cfg,
	}
}

// Connect opens the pool and pings the database once
func (c *Connector) Connect(ctx context.Context) error {
	db, err := openDB(c.config.DriverName(), c.config.DSN())
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "failed to open connection", err)
	}

	poolSize := c.config.PoolSize
	if poolSize == 0 {
		poolSize = defaultPoolSize
	}
	idle := defaultIdleConns
	if poolSize < idle {
		idle = poolSize
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(defaultConnMaxLife)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return base.NewConnectorError(c.Name(), "Connect", "failed to ping database", err)
	}

	c.db = db
	c.MarkConnected()
	c.Log("Connected to %s database %s at %s (pool_size=%d)", c.config.Engine, c.config.DBName, c.config.Host, poolSize)
	return nil
}

// Disconnect closes the pool
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	c.MarkDisconnected()

	err := c.db.Close()
	c.db = nil
	if err != nil {
		return base.NewConnectorError(c.Name(), "Disconnect", "failed to close connection", err)
	}
	c.Log("Disconnected from %s", c.Name())
	return nil
}

// HealthCheck pings the database and reports pool statistics
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.db == nil {
		return &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "database not connected"}, nil
	}

	start := time.Now()
	status := c.Health(start, c.db.PingContext(ctx))

	stats := c.db.Stats()
	status.Details["open_connections"] = fmt.Sprintf("%d", stats.OpenConnections)
	status.Details["in_use"] = fmt.Sprintf("%d", stats.InUse)
	status.Details["idle"] = fmt.Sprintf("%d", stats.Idle)
	return status, nil
}

// DB exposes the pool to callers that manage their own statements
func (c *Connector) DB() *sql.DB {
	return c.db
}

// Query executes a statement and returns its rows
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if c.db == nil {
		return nil, c.NotConnected("Query")
	}

	queryCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	timer := sdk.NewTimer()
	rows, err := c.db.QueryContext(queryCtx, query.Statement, query.Args...)
	if err != nil {
		timer.RecordTo(c.GetMetrics(), err)
		return nil, base.NewConnectorError(c.Name(), "Query", "query execution failed", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Query", "failed to get columns", err)
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		if query.Limit > 0 && len(results) >= query.Limit {
			break
		}

		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, base.NewConnectorError(c.Name(), "Query", "failed to scan row", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, base.NewConnectorError(c.Name(), "Query", "row iteration failed", err)
	}

	timer.RecordTo(c.GetMetrics(), nil)
	return &base.QueryResult{
		Rows:      results,
		RowCount:  len(results),
		Duration:  timer.Duration(),
		Connector: c.Name(),
	}, nil
}

// Execute runs a write statement
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.db == nil {
		return nil, c.NotConnected("Execute")
	}

	execCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	timer := sdk.NewTimer()
	result, err := c.db.ExecContext(execCtx, cmd.Statement, cmd.Args...)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Execute", "command execution failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		c.Log("Warning: could not get rows affected: %v", err)
	}

	return &base.CommandResult{
		RowsAffected: affected,
		Duration:     timer.Duration(),
		Connector:    c.Name(),
	}, nil
}
