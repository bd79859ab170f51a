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
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/go-redis/redis/v8"
)

// Invocation channels
const (
	ChannelScheduler = "scheduler"
	ChannelAMQP      = "amqp"
	ChannelJMSWMQ    = "jms_wmq"
	ChannelZMQ       = "zmq"
	ChannelPublish   = "publish"
	ChannelNotifier  = "notifier"
)

// RunNotifierService is invoked for every active cloud notifier
const RunNotifierService = "notif.invoke_run_notifier"

// Invocation is a request to run a service, handed to the service layer
type Invocation struct {
	Service    string          `json:"service"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Channel    string          `json:"channel"`
	CID        string          `json:"cid"`
	DataFormat string          `json:"data_format,omitempty"`
	JobType    string          `json:"job_type,omitempty"`
}

// Invoker dispatches service invocations. Invoke returns once the request
// is handed off; the service's own result is not awaited.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// InvokerFunc adapts a function to Invoker
type InvokerFunc func(ctx context.Context, inv Invocation) error

// Invoke calls f
func (f InvokerFunc) Invoke(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// RedisInvoker pushes JSON invocations onto a Redis list consumed by the
// service layer
type RedisInvoker struct {
	client *redis.Client
	list   string
}

// NewRedisInvoker creates an invoker writing to list
func NewRedisInvoker(client *redis.Client, list string) *RedisInvoker {
	return &RedisInvoker{client: client, list: list}
}

// Invoke LPUSHes the encoded invocation
func (r *RedisInvoker) Invoke(ctx context.Context, inv Invocation) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("failed to encode invocation of %s: %w", inv.Service, err)
	}
	if err := r.client.LPush(ctx, r.list, data).Err(); err != nil {
		return fmt.Errorf("failed to push invocation of %s: %w", inv.Service, err)
	}
	return nil
}

// LogInvoker only logs invocations. It is used when no Redis is configured.
type LogInvoker struct {
	logger *log.Logger
}

// NewLogInvoker creates a logging invoker
func NewLogInvoker() *LogInvoker {
	return &LogInvoker{logger: log.New(os.Stdout, "[INVOKE] ", log.LstdFlags)}
}

// Invoke logs the invocation and drops it
func (l *LogInvoker) Invoke(ctx context.Context, inv Invocation) error {
	l.logger.Printf("No service layer configured, dropping %s invocation of %s (cid=%s)", inv.Channel, inv.Service, inv.CID)
	return nil
}
