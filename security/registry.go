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

import (
	"log"
	"os"
	"sort"
	"sync"
)

type key struct {
	typ  Type
	name string
}

// Registry holds every security definition of the worker. It is the source
// of truth for authentication checks on inbound requests.
// Thread-safe for concurrent access
type Registry struct {
	defs   map[key]Definition
	mu     sync.RWMutex
	logger *log.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		defs:   make(map[key]Definition),
		logger: log.New(os.Stdout, "[SECURITY] ", log.LstdFlags),
	}
}

// Create adds or replaces a definition
func (r *Registry) Create(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defs[key{def.Type, def.Name}] = def
	r.logger.Printf("Created %s definition '%s'", def.Type, def.Name)
}

// Edit replaces the definition stored under oldName. Edits carry no secret,
// so the stored password is kept unless def sets one.
func (r *Registry) Edit(oldName string, def Definition) {
	if oldName == "" {
		oldName = def.Name
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.defs[key{def.Type, oldName}]
	if exists {
		if def.Password == "" {
			def.Password = old.Password
		}
		delete(r.defs, key{def.Type, oldName})
	}
	r.defs[key{def.Type, def.Name}] = def

	if oldName != def.Name {
		r.logger.Printf("Renamed %s definition '%s' to '%s'", def.Type, oldName, def.Name)
	} else {
		r.logger.Printf("Updated %s definition '%s'", def.Type, def.Name)
	}
}

// Delete removes a definition. Unknown names are ignored.
func (r *Registry) Delete(typ Type, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[key{typ, name}]; !exists {
		return
	}
	delete(r.defs, key{typ, name})
	r.logger.Printf("Deleted %s definition '%s'", typ, name)
}

// ChangePassword replaces the secret of a definition. Unknown names are ignored.
func (r *Registry) ChangePassword(typ Type, name, password string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, exists := r.defs[key{typ, name}]
	if !exists {
		return
	}
	def.Password = password
	r.defs[key{typ, name}] = def
	r.logger.Printf("Changed password of %s definition '%s'", typ, name)
}

// Apply forwards a cascade event to the registry
func (r *Registry) Apply(ev Event) {
	switch ev.Change {
	case ChangeCreate:
		def := ev.Definition
		def.Type = ev.Type
		r.Create(def)
	case ChangeEdit:
		def := ev.Definition
		def.Type = ev.Type
		r.Edit(ev.OldName, def)
	case ChangeDelete:
		r.Delete(ev.Type, ev.Name)
	case ChangePassword:
		r.ChangePassword(ev.Type, ev.Name, ev.Password)
	}
}

// Get returns the definition of the given type and name
func (r *Registry) Get(typ Type, name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[key{typ, name}]
	return def, ok
}

// List returns sanitized copies of all definitions, sorted by type and name
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Sanitized())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Count returns the number of definitions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}
