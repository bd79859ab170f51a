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

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"integrabus/worker/pubsub"
	"integrabus/worker/security"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_HOST", "db.internal")
	t.Setenv("TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"braces", "host: ${TEST_HOST}", "host: db.internal"},
		{"bare", "host: $TEST_HOST", "host: db.internal"},
		{"default used", "port: ${TEST_PORT_UNSET:-5432}", "port: 5432"},
		{"default ignored", "host: ${TEST_HOST:-localhost}", "host: db.internal"},
		{"empty falls back", "host: ${TEST_EMPTY:-fallback}", "host: fallback"},
		{"undefined", "x: ${TEST_UNDEFINED_VAR}", "x: "},
		{"no vars", "plain: text", "plain: text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCatalog_Example(t *testing.T) {
	t.Setenv("CRM_DB_PASSWORD", "from-env")

	snap, err := ParseCatalog([]byte(ExampleCatalog()))
	if err != nil {
		t.Fatalf("ParseCatalog() error = %v", err)
	}

	if len(snap.SQL) != 1 || snap.SQL[0].Host != "localhost" || snap.SQL[0].Password != "from-env" {
		t.Errorf("unexpected sql section %+v", snap.SQL)
	}
	if len(snap.Security) != 1 || snap.Security[0].Type != security.TypeBasicAuth {
		t.Errorf("unexpected security section %+v", snap.Security)
	}
	if !strings.HasPrefix(snap.Security[0].Password, SecretPrefix) {
		t.Errorf("secret references must survive parsing, got %q", snap.Security[0].Password)
	}
	if len(snap.PlainHTTP) != 1 || snap.PlainHTTP[0].SecurityName != "crm-api" {
		t.Errorf("unexpected http section %+v", snap.PlainHTTP)
	}
	if len(snap.Namespaces) != 1 || snap.Namespaces[0].Value != "urn:example:orders" {
		t.Errorf("unexpected namespaces %+v", snap.Namespaces)
	}

	ps := snap.PubSub
	if ps.DefaultProducer.ID != 1 || !ps.DefaultConsumer.IsActive {
		t.Errorf("unexpected default clients %+v", ps)
	}
	if len(ps.Topics) != 1 || !ps.Topics[0].IsFIFO || ps.Topics[0].MaxDepth != 1000 {
		t.Errorf("unexpected topics %+v", ps.Topics)
	}
	if len(ps.Consumers) != 1 {
		t.Fatalf("unexpected consumers %+v", ps.Consumers)
	}
	c := ps.Consumers[0]
	if c.TopicName != "orders" || c.SubKey != "crm-sync" || c.ID != 3 || c.DeliveryMode != pubsub.DeliveryCallback {
		t.Errorf("unexpected consumer %+v", c)
	}
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{"no version", "outgoing_sql: []", "version"},
		{"invalid yaml", "version: [", "failed to parse"},
		{
			name:        "invalid entry",
			content:     "version: \"1\"\noutgoing_sql:\n  - name: x\n    engine: oracle\n    host: h\n    db_name: d",
			errContains: "outgoing_sql",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestFileCatalog_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `version: "1.0"
outgoing_ftp:
  - name: partner
    is_active: true
    host: ftp.example.com
    user: worker
    password: ${FTP_PASSWORD:-changeme}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	snap, err := NewFileCatalog(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.FTP) != 1 || snap.FTP[0].Password != "changeme" || snap.Count() != 1 {
		t.Errorf("unexpected snapshot %+v", snap.FTP)
	}

	if _, err := NewFileCatalog(filepath.Join(dir, "missing.yaml")).Load(context.Background()); err == nil {
		t.Error("expected error for a missing file")
	}
}
