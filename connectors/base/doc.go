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

/*
Package base defines the contract between the worker's resource stores and
the connectors that hold live connections to external systems.

# Connector Interface

Every connector owns exactly one connection or session:

	type Connector interface {
	    Connect(ctx context.Context) error
	    Disconnect(ctx context.Context) error
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    Type() string
	}

A connector is constructed from its typed configuration and then connected.
Connect never retries; a failed Connect leaves a connector that is safe to
Disconnect.

# Configuration

Each resource kind has its own configuration struct embedding Common, which
carries the id, the name (unique within the kind) and the activity flag.
Configurations are validated once, where control messages are decoded.
Copies that end up in logs replace secrets with PasswordShadow.

# Errors

Readers of a store get one of three sentinel errors, always wrapped in a
ConnectorError:

	ErrUnknownResource  // no such name
	ErrInactive         // the resource is disabled
	ErrNotConnected     // the last build failed

Use errors.Is to tell them apart.
*/
package base
