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
	"fmt"
	"sync"
	"testing"
)

func TestMap_ZeroValue(t *testing.T) {
	var m Map[int]

	if _, ok := m.Load("x"); ok {
		t.Error("zero map must be empty")
	}
	if m.Len() != 0 || len(m.Keys()) != 0 {
		t.Error("zero map must be empty")
	}

	m.Store("x", 1)
	if v, ok := m.Load("x"); !ok || v != 1 {
		t.Errorf("expected x=1, got %d %v", v, ok)
	}
}

func TestMap_SnapshotIsolation(t *testing.T) {
	var m Map[string]
	m.Store("a", "1")

	snap := m.Snapshot()
	m.Store("b", "2")
	m.Delete("a")

	if len(snap) != 1 || snap["a"] != "1" {
		t.Errorf("earlier snapshot changed: %v", snap)
	}
	if keys := m.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestMap_DeleteReportsPresence(t *testing.T) {
	var m Map[int]
	m.Store("a", 1)

	if !m.Delete("a") {
		t.Error("expected delete to report presence")
	}
	if m.Delete("a") {
		t.Error("second delete must report absence")
	}
}

func TestMap_UpdateIsAtomicForReaders(t *testing.T) {
	var m Map[int]
	m.Update(func(next map[string]int) {
		next["x"] = 0
		next["y"] = 0
	})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := m.Snapshot()
			if snap["x"] != snap["y"] {
				select {
				case errs <- fmt.Sprintf("torn read x=%d y=%d", snap["x"], snap["y"]):
				default:
				}
				return
			}
		}
	}()

	for i := 1; i <= 500; i++ {
		m.Update(func(next map[string]int) {
			next["x"] = i
			next["y"] = i
		})
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-errs:
		t.Error(msg)
	default:
	}
}
