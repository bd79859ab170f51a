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
	"context"
	"sync"
	"time"

	"integrabus/worker/connectors/base"
	"integrabus/worker/security"
)

// FakeConnector is an in-memory connector for tests. It counts opens and
// closes on the FakeFactory that built it, so tests can check that no name
// ever holds more than one live connection.
type FakeConnector struct {
	name     string
	connType string
	factory  *FakeFactory

	connected    bool
	connectErr   error
	closeErr     error
	rebindErr    error
	rebinds      []security.Definition
	healthChecks int

	mu sync.Mutex
}

// Connect implements base.Connector
func (f *FakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return base.NewConnectorError(f.name, "Connect", "fake connect failure", f.connectErr)
	}
	f.connected = true
	f.factory.opened(f.name)
	return nil
}

// Disconnect implements base.Connector. Only a connected fake counts a close.
func (f *FakeConnector) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connected {
		f.connected = false
		f.factory.closed(f.name)
	}
	return f.closeErr
}

// HealthCheck implements base.Connector
func (f *FakeConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.healthChecks++
	status := &base.HealthStatus{Healthy: f.connected, Timestamp: time.Now()}
	if !f.connected {
		status.Error = "not connected"
	}
	return status, nil
}

// Rebind implements security.Rebinder
func (f *FakeConnector) Rebind(def security.Definition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rebindErr != nil {
		return f.rebindErr
	}
	f.rebinds = append(f.rebinds, def)
	return nil
}

// Rebinds returns the definitions passed to Rebind, oldest first
func (f *FakeConnector) Rebinds() []security.Definition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]security.Definition, len(f.rebinds))
	copy(out, f.rebinds)
	return out
}

// IsConnected reports whether Connect succeeded and Disconnect was not called since
func (f *FakeConnector) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Name implements base.Connector
func (f *FakeConnector) Name() string { return f.name }

// Type implements base.Connector
func (f *FakeConnector) Type() string { return f.connType }

// FakeFactory builds FakeConnectors and keeps per-name open and close counts
type FakeFactory struct {
	connType string

	opens     map[string]int
	closes    map[string]int
	failNames map[string]error
	closeErr  error
	rebindErr error
	built     []*FakeConnector

	mu sync.Mutex
}

// NewFakeFactory creates a factory for fakes of the given type
func NewFakeFactory(connType string) *FakeFactory {
	return &FakeFactory{
		connType:  connType,
		opens:     make(map[string]int),
		closes:    make(map[string]int),
		failNames: make(map[string]error),
	}
}

// New returns a fresh, unconnected fake
func (ff *FakeFactory) New(name string) *FakeConnector {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	f := &FakeConnector{
		name:       name,
		connType:   ff.connType,
		factory:    ff,
		connectErr: ff.failNames[name],
		closeErr:   ff.closeErr,
		rebindErr:  ff.rebindErr,
	}
	ff.built = append(ff.built, f)
	return f
}

// FailConnect makes fakes built later for name fail to connect. A nil err clears it.
func (ff *FakeFactory) FailConnect(name string, err error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if err == nil {
		delete(ff.failNames, name)
		return
	}
	ff.failNames[name] = err
}

// FailClose makes fakes built later return err from Disconnect
func (ff *FakeFactory) FailClose(err error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.closeErr = err
}

// FailRebind makes fakes built later return err from Rebind
func (ff *FakeFactory) FailRebind(err error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.rebindErr = err
}

// Live returns opens minus closes for name
func (ff *FakeFactory) Live(name string) int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.opens[name] - ff.closes[name]
}

// Opens returns how many connections were opened for name
func (ff *FakeFactory) Opens(name string) int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.opens[name]
}

// Built returns every fake built so far
func (ff *FakeFactory) Built() []*FakeConnector {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	out := make([]*FakeConnector, len(ff.built))
	copy(out, ff.built)
	return out
}

func (ff *FakeFactory) opened(name string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.opens[name]++
}

func (ff *FakeFactory) closed(name string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.closes[name]++
}
