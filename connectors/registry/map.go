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

package registry

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Map is a copy-on-write name index. Readers load the current snapshot
// without locking; writers copy it, apply their change and swap the pointer,
// so a reader sees either the whole change or none of it.
//
// The zero value is an empty map ready to use.
type Map[V any] struct {
	current atomic.Pointer[map[string]V]
	mu      sync.Mutex // serializes writers
}

func (m *Map[V]) load() map[string]V {
	if p := m.current.Load(); p != nil {
		return *p
	}
	return nil
}

// Load returns the value stored under name
func (m *Map[V]) Load(name string) (V, bool) {
	v, ok := m.load()[name]
	return v, ok
}

// Store sets name to v
func (m *Map[V]) Store(name string, v V) {
	m.Update(func(next map[string]V) {
		next[name] = v
	})
}

// Delete removes name. It reports whether name was present.
func (m *Map[V]) Delete(name string) bool {
	var found bool
	m.Update(func(next map[string]V) {
		_, found = next[name]
		delete(next, name)
	})
	return found
}

// Update applies fn to a private copy of the map and publishes the result.
// fn must not retain next.
func (m *Map[V]) Update(fn func(next map[string]V)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.load()
	next := make(map[string]V, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	fn(next)
	m.current.Store(&next)
}

// Snapshot returns the current map. Callers must not modify it.
func (m *Map[V]) Snapshot() map[string]V {
	return m.load()
}

// Len returns the number of entries
func (m *Map[V]) Len() int {
	return len(m.load())
}

// Keys returns the names in sorted order
func (m *Map[V]) Keys() []string {
	cur := m.load()
	keys := make([]string, 0, len(cur))
	for k := range cur {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
