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

package sdk

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"integrabus/worker/connectors/base"
)

// BaseConnector carries the state every connector shares: identity, logger,
// connection flag, metrics and an authentication provider that can be
// swapped while the connection stays open. Embed it and implement Connect,
// Disconnect and HealthCheck.
type BaseConnector struct {
	name         string
	connType     string
	connected    bool
	logger       *log.Logger
	authProvider AuthProvider
	metrics      *ConnectorMetrics
	mu           sync.RWMutex
}

// NewBaseConnector creates a new base connector with the given type and name
func NewBaseConnector(connType, name string) *BaseConnector {
	return &BaseConnector{
		name:     name,
		connType: connType,
		logger:   log.New(os.Stdout, fmt.Sprintf("[CONN_%s] ", strings.ToUpper(connType)), log.LstdFlags),
		metrics:  NewConnectorMetrics(connType),
	}
}

// Name returns the connector instance name
func (c *BaseConnector) Name() string {
	return c.name
}

// Type returns the connector type
func (c *BaseConnector) Type() string {
	return c.connType
}

// MarkConnected records a successful Connect
func (c *BaseConnector) MarkConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.metrics.RecordConnect()
}

// MarkDisconnected records a Disconnect. It reports whether the connector
// was connected, so Disconnect can stay idempotent.
func (c *BaseConnector) MarkDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	c.connected = false
	c.metrics.RecordDisconnect()
	return true
}

// IsConnected returns the connection status
func (c *BaseConnector) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Log writes through the connector's prefixed logger
func (c *BaseConnector) Log(format string, args ...interface{}) {
	c.logger.Printf(format, args...)
}

// SetAuthProvider swaps the authentication provider
func (c *BaseConnector) SetAuthProvider(auth AuthProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authProvider = auth
}

// GetAuthProvider returns the authentication provider, nil when unset
func (c *BaseConnector) GetAuthProvider() AuthProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authProvider
}

// GetMetrics returns the connector metrics
func (c *BaseConnector) GetMetrics() *ConnectorMetrics {
	return c.metrics
}

// NotConnected returns the error for an operation attempted before Connect
func (c *BaseConnector) NotConnected(op string) error {
	return base.NewConnectorError(c.name, op, "not connected", base.ErrNotConnected)
}

// Health builds a status from a check that started at start
func (c *BaseConnector) Health(start time.Time, err error) *base.HealthStatus {
	status := &base.HealthStatus{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
		Details:   c.metrics.GetStats().Details(),
	}
	status.Details["connector_type"] = c.connType
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
