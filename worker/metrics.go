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

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"integrabus/worker/connectors/base"
	"integrabus/worker/security"
)

// Prometheus metrics for the control plane and the broker
var (
	controlMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_control_messages_total",
			Help: "Total number of control messages handled",
		},
		[]string{"action", "status"},
	)

	controlMessageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_control_message_duration_seconds",
			Help:    "Duration of control message handlers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	resourcesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_resources",
			Help: "Number of stored resources by kind and connection state",
		},
		[]string{"kind", "state"},
	)

	cascadeUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_cascade_updates_total",
			Help: "Total number of security cascades applied to a resource store",
		},
		[]string{"change"},
	)

	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_publish_total",
			Help: "Total number of publish attempts",
		},
		[]string{"topic", "status"},
	)

	deliveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_delivery_total",
			Help: "Total number of messages handed to callback consumers",
		},
		[]string{"status"},
	)
)

// metricsObserver feeds store and broker events into the collectors above
type metricsObserver struct{}

func (metricsObserver) ResourcesChanged(kind base.Kind, connected, disconnected int) {
	resourcesGauge.WithLabelValues(string(kind), "connected").Set(float64(connected))
	resourcesGauge.WithLabelValues(string(kind), "disconnected").Set(float64(disconnected))
}

func (metricsObserver) CascadeApplied(kind base.Kind, change security.Change) {
	cascadeUpdatesTotal.WithLabelValues(change.String()).Inc()
}

func (metricsObserver) Published(topic, status string) {
	publishTotal.WithLabelValues(topic, status).Inc()
}

func (metricsObserver) Delivered(status string, n int) {
	deliveryTotal.WithLabelValues(status).Add(float64(n))
}
