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

package security

// Change is the kind of update carried by an Event
type Change int

const (
	ChangeEdit Change = iota
	ChangeDelete
	ChangePassword
	ChangeCreate
)

func (c Change) String() string {
	switch c {
	case ChangeEdit:
		return "edit"
	case ChangeDelete:
		return "delete"
	case ChangePassword:
		return "change_password"
	case ChangeCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Event describes a create, edit, delete or password change of one
// definition. A create only reaches connections still waiting for it.
type Event struct {
	Change  Change
	Type    Type
	Name    string
	OldName string

	// Definition holds the new definition for ChangeCreate and the edited
	// fields for ChangeEdit
	Definition Definition
	// Password holds the new secret for ChangePassword
	Password string
}

// TargetName is the name outbound connections still refer to. Their configs
// only change as a result of the cascade, so a rename is matched on the old
// name.
func (e Event) TargetName() string {
	if e.OldName != "" {
		return e.OldName
	}
	return e.Name
}

// Apply returns def updated by a non-delete event
func (e Event) Apply(def Definition) Definition {
	switch e.Change {
	case ChangeCreate:
		def = e.Definition
		def.Type = e.Type
	case ChangeEdit:
		return def.WithEdit(e.Definition)
	case ChangePassword:
		def.Password = e.Password
	}
	return def
}

// Target is implemented by connection configurations that reference a
// security definition by name.
type Target[C any] interface {
	SecurityBinding() Definition
	WithSecurity(def Definition) C
}

// Waiter is implemented by configurations that name a definition which was
// not available when they were built.
type Waiter interface {
	NeedsBinding() bool
}

// Rebinder rebuilds the authentication state of a live connection without
// reopening its transport.
type Rebinder interface {
	Rebind(def Definition) error
}
