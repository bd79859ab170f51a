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
Package registry holds the live outbound resources of the worker, one Store
per resource kind.

# Stores

A Store maps names to wrappers. A wrapper pairs a typed configuration with
the connection built from it:

	sql := registry.NewStore[sqlpool.Config](base.KindSQL, func(c sqlpool.Config) base.Connector {
	    return sqlpool.NewConnector(c)
	})

	sql.Create(ctx, cfg)          // builds; failures are logged and stored disconnected
	sql.Edit(ctx, "old", cfg)     // delete old, create new
	sql.ChangePassword(ctx, "orders", secret)
	sql.Delete(ctx, "orders")     // idempotent

Readers call Get, which fails with base.ErrUnknownResource, base.ErrInactive
or base.ErrNotConnected:

	conn, err := sql.Get("orders")

# Concurrency

Stores are published copy-on-write through Map: readers never block and
always see a consistent snapshot. Writers must be serialized by the caller.

# Security cascade

Configurations that reference a security definition implement
security.Target. CascadeSecurity visits every wrapper bound to the changed
definition, rebinding live connections that implement security.Rebinder
and removing wrappers whose definition was deleted.
*/
package registry
