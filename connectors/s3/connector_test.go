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

package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"integrabus/worker/connectors/base"
)

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>inbox</Name>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents>
    <Key>orders/1.xml</Key>
    <LastModified>2025-01-02T03:04:05.000Z</LastModified>
    <ETag>"etag-1"</ETag>
    <Size>11</Size>
  </Contents>
  <Contents>
    <Key>orders/2.xml</Key>
    <LastModified>2025-01-02T03:04:06.000Z</LastModified>
    <ETag>"etag-2"</ETag>
    <Size>22</Size>
  </Contents>
</ListBucketResult>`

// fakeS3 serves path-style requests for one bucket
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	deny    bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deny {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
		return
	}

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case key == "" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(listResponse))
	case key == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[bucket+"/"+key] = body
		w.Header().Set("ETag", `"new-etag"`)
	case r.Method == http.MethodGet:
		body, ok := f.objects[bucket+"/"+key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<Error><Code>NoSuchKey</Code></Error>`))
			return
		}
		_, _ = w.Write(body)
	case r.Method == http.MethodDelete:
		delete(f.objects, bucket+"/"+key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestConnector(t *testing.T, fake *fakeS3) *Connector {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return NewConnector(Config{
		Common:          base.Common{Name: "archive", IsActive: true},
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		ForcePathStyle:  true,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		DefaultBucket:   "inbox",
		MaxRetries:      1,
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default chain", Config{Common: base.Common{Name: "a"}}, false},
		{"static keys", Config{Common: base.Common{Name: "a"}, AccessKeyID: "id", SecretAccessKey: "s"}, false},
		{"half pair", Config{Common: base.Common{Name: "a"}, AccessKeyID: "id"}, true},
		{"no name", Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Sanitized(t *testing.T) {
	cfg := Config{Common: base.Common{Name: "a"}, AccessKeyID: "id"}.WithPassword("s")
	s := cfg.Sanitized()
	if s.SecretAccessKey != base.PasswordShadow || s.AccessKeyID != "id" {
		t.Errorf("unexpected sanitized config %+v", s)
	}
	if cfg.SecretAccessKey != "s" {
		t.Error("Sanitized() modified the original")
	}
}

func TestConnector_NotConnected(t *testing.T) {
	conn := NewConnector(Config{Common: base.Common{Name: "archive"}})
	ctx := context.Background()

	if _, err := conn.List(ctx, "b", "", 0); !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := conn.Get(ctx, "b", "k"); !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	status, _ := conn.HealthCheck(ctx)
	if status.Healthy {
		t.Error("expected unhealthy status without connection")
	}
	if err := conn.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}

func TestConnector_PrefetchFillsQueue(t *testing.T) {
	conn := newTestConnector(t, &fakeS3{objects: map[string][]byte{}})
	ctx := context.Background()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	if got := conn.Pending().Len(); got != 2 {
		t.Fatalf("expected 2 pending objects, got %d", got)
	}
	obj, _ := conn.Pending().Pop()
	if obj.Key != "orders/1.xml" || obj.Size != 11 || obj.ETag != "etag-1" || obj.Bucket != "inbox" {
		t.Errorf("unexpected object %+v", obj)
	}
}

func TestConnector_PrefetchFailureLeavesQueueEmpty(t *testing.T) {
	conn := newTestConnector(t, &fakeS3{objects: map[string][]byte{}, deny: true})
	ctx := context.Background()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	if !conn.IsConnected() {
		t.Error("connector should stay connected after a failed prefetch")
	}
	if got := conn.Pending().Len(); got != 0 {
		t.Errorf("expected empty queue, got %d", got)
	}
}

func TestConnector_ObjectRoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	conn := newTestConnector(t, fake)
	ctx := context.Background()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	etag, err := conn.Put(ctx, "", "out/a.txt", []byte("hello"), "text/plain", map[string]string{"source": "bus"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if etag != "new-etag" {
		t.Errorf("unexpected etag %q", etag)
	}

	data, err := conn.Get(ctx, "", "out/a.txt")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("unexpected content %q", data)
	}

	if err := conn.Delete(ctx, "", "out/a.txt"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if _, err := conn.Get(ctx, "", "out/a.txt"); err == nil {
		t.Error("expected error reading a deleted object")
	}

	url, err := conn.PresignGet(ctx, "", "out/a.txt")
	if err != nil || !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("PresignGet() = %q, %v", url, err)
	}

	status, _ := conn.HealthCheck(ctx)
	if !status.Healthy || status.Details["default_bucket"] != "inbox" {
		t.Errorf("unexpected health %+v", status)
	}
}
