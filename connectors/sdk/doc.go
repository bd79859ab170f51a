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

// Package sdk provides the shared building blocks of the worker's connectors.
//
// # BaseConnector
//
// Embed BaseConnector to get identity, a prefixed logger, connection state,
// per-connection metrics and a swappable authentication provider:
//
//	type Connector struct {
//	    *sdk.BaseConnector
//	    client *ftp.ServerConn
//	}
//
// # Authentication
//
// AuthFor maps a security definition to an outbound provider. Providers are
// replaced wholesale when the definition changes, so a connector rebinds
// without reopening its transport:
//
//	auth, err := sdk.AuthFor(def)
//	if err != nil {
//	    return err
//	}
//	c.SetAuthProvider(auth)
//
// WS-Security definitions produce a provider that also implements
// SOAPHeaderProvider; the SOAP connector asks it for the envelope header.
//
// # Testing
//
// FakeFactory builds in-memory connectors and counts opens and closes per
// name:
//
//	ff := sdk.NewFakeFactory("sql")
//	conn := ff.New("orders")
//	_ = conn.Connect(ctx)
//	ff.Live("orders") // 1
package sdk
