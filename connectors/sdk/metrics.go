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
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectorMetrics tracks the traffic of one live connection. The counters
// are reported through HealthCheck details; process-wide series are kept by
// the worker's Prometheus collectors.
type ConnectorMetrics struct {
	connectorType string

	callsTotal       int64
	errorsTotal      int64
	connectsTotal    int64
	disconnectsTotal int64
	callDuration     int64 // nanoseconds

	connected int32

	latencies *LatencyHistogram
}

// NewConnectorMetrics creates a new metrics collector
func NewConnectorMetrics(connectorType string) *ConnectorMetrics {
	return &ConnectorMetrics{
		connectorType: connectorType,
		latencies:     NewLatencyHistogram(),
	}
}

// RecordCall records one request against the external system
func (m *ConnectorMetrics) RecordCall(duration time.Duration, err error) {
	atomic.AddInt64(&m.callsTotal, 1)
	atomic.AddInt64(&m.callDuration, int64(duration))
	if err != nil {
		atomic.AddInt64(&m.errorsTotal, 1)
	}
	m.latencies.Record(duration)
}

// RecordConnect records a connect operation
func (m *ConnectorMetrics) RecordConnect() {
	atomic.AddInt64(&m.connectsTotal, 1)
	atomic.StoreInt32(&m.connected, 1)
}

// RecordDisconnect records a disconnect operation
func (m *ConnectorMetrics) RecordDisconnect() {
	atomic.AddInt64(&m.disconnectsTotal, 1)
	atomic.StoreInt32(&m.connected, 0)
}

// RecordError records an error outside a call
func (m *ConnectorMetrics) RecordError() {
	atomic.AddInt64(&m.errorsTotal, 1)
}

// GetStats returns current metrics
func (m *ConnectorMetrics) GetStats() *MetricsSnapshot {
	calls := atomic.LoadInt64(&m.callsTotal)

	var avg time.Duration
	if calls > 0 {
		avg = time.Duration(atomic.LoadInt64(&m.callDuration) / calls)
	}

	return &MetricsSnapshot{
		ConnectorType:    m.connectorType,
		CallsTotal:       calls,
		ErrorsTotal:      atomic.LoadInt64(&m.errorsTotal),
		ConnectsTotal:    atomic.LoadInt64(&m.connectsTotal),
		DisconnectsTotal: atomic.LoadInt64(&m.disconnectsTotal),
		Connected:        atomic.LoadInt32(&m.connected) == 1,
		AvgLatency:       avg,
		LatencyP95:       m.latencies.Percentile(0.95),
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	ConnectorType    string        `json:"connector_type"`
	CallsTotal       int64         `json:"calls_total"`
	ErrorsTotal      int64         `json:"errors_total"`
	ConnectsTotal    int64         `json:"connects_total"`
	DisconnectsTotal int64         `json:"disconnects_total"`
	Connected        bool          `json:"connected"`
	AvgLatency       time.Duration `json:"avg_latency"`
	LatencyP95       time.Duration `json:"latency_p95"`
}

// Details renders the snapshot as health check details
func (s *MetricsSnapshot) Details() map[string]string {
	return map[string]string{
		"calls_total":  strconv.FormatInt(s.CallsTotal, 10),
		"errors_total": strconv.FormatInt(s.ErrorsTotal, 10),
		"avg_latency":  s.AvgLatency.String(),
		"latency_p95":  s.LatencyP95.String(),
	}
}

// LatencyHistogram provides simple percentile calculations
type LatencyHistogram struct {
	samples []time.Duration
	maxSize int
	mu      sync.Mutex
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		samples: make([]time.Duration, 0, 128),
		maxSize: 4096,
	}
}

// Record adds a latency sample
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[len(h.samples)/2:]
	}
	h.samples = append(h.samples, d)
}

// Percentile calculates the given percentile
func (h *LatencyHistogram) Percentile(p float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(h.samples))
	copy(sorted, h.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// Count returns the number of samples
func (h *LatencyHistogram) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}

// OperationTimer times one call
type OperationTimer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *OperationTimer {
	return &OperationTimer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *OperationTimer) Duration() time.Duration {
	return time.Since(t.start)
}

// RecordTo records the elapsed time and outcome
func (t *OperationTimer) RecordTo(m *ConnectorMetrics, err error) {
	m.RecordCall(t.Duration(), err)
}
