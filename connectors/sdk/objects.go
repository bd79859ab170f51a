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
	"sync"
	"time"
)

// DefaultPrefetchLimit caps the listing an object store loads on connect
const DefaultPrefetchLimit = 1000

// Object describes one blob in a bucket or container
type Object struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectQueue holds the objects an object store listed while connecting.
// A failed listing leaves it empty; the connector stays usable.
type ObjectQueue struct {
	mu    sync.Mutex
	items []Object
}

// Reset replaces the queue contents
func (q *ObjectQueue) Reset(items []Object) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]Object(nil), items...)
}

// Pop removes and returns the oldest object
func (q *ObjectQueue) Pop() (Object, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Object{}, false
	}
	obj := q.items[0]
	q.items = q.items[1:]
	return obj, true
}

// Len returns the number of queued objects
func (q *ObjectQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
