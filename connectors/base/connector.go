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

package base

import (
	"context"
	"errors"
	"time"
)

// Connector is the live half of a wrapper: one connection or session to an
// external system, built from the configuration it was created with.
type Connector interface {
	// Connect builds the connection. It must not retry and must not block past
	// the client library's own connect timeout.
	Connect(ctx context.Context) error
	// Disconnect releases the connection. Safe to call after a failed Connect.
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	Name() string // Unique name within the connector's kind
	Type() string // Kind of external system (sql, ftp, soap, ...)
}

// Querier is implemented by connectors that run statements (SQL, CQL)
type Querier interface {
	Query(ctx context.Context, query *Query) (*QueryResult, error)
	Execute(ctx context.Context, cmd *Command) (*CommandResult, error)
}

// Query represents a read statement
type Query struct {
	Statement string        `json:"statement"`
	Args      []interface{} `json:"args,omitempty"`
	Limit     int           `json:"limit"`
}

// QueryResult contains the results of a Query operation
type QueryResult struct {
	Rows      []map[string]interface{} `json:"rows"`
	RowCount  int                      `json:"row_count"`
	Duration  time.Duration            `json:"duration"`
	Connector string                   `json:"connector"`
}

// Command represents a write statement
type Command struct {
	Statement string        `json:"statement"`
	Args      []interface{} `json:"args,omitempty"`
}

// CommandResult contains the results of a Command execution
type CommandResult struct {
	RowsAffected int64         `json:"rows_affected"`
	Duration     time.Duration `json:"duration"`
	Connector    string        `json:"connector"`
}

// HealthStatus represents the health of a connector
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`
	Latency   time.Duration     `json:"latency"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
}

// Lookup failures surfaced to readers of a store.
var (
	ErrUnknownResource = errors.New("unknown resource")
	ErrInactive        = errors.New("resource is inactive")
	ErrNotConnected    = errors.New("resource is not connected")
)

// ConnectorError represents errors specific to connector operations
type ConnectorError struct {
	ConnectorName string
	Operation     string
	Message       string
	Cause         error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError creates a new ConnectorError
func NewConnectorError(connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Cause:         cause,
	}
}
