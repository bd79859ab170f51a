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
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the root of a YAML catalog
type catalogFile struct {
	Version  string   `yaml:"version"`
	Snapshot Snapshot `yaml:",inline"`
}

// FileCatalog loads a snapshot from a YAML file
type FileCatalog struct {
	path   string
	logger *log.Logger
}

// NewFileCatalog creates a catalog reading path on every Load
func NewFileCatalog(path string) *FileCatalog {
	return &FileCatalog{
		path:   path,
		logger: log.New(os.Stdout, "[CATALOG] ", log.LstdFlags),
	}
}

// Load reads, expands and validates the file
func (c *FileCatalog) Load(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", c.path, err)
	}

	snap, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", c.path, err)
	}
	c.logger.Printf("Loaded %d entries from %s", snap.Count(), c.path)
	return snap, nil
}

// ParseCatalog decodes YAML catalog content after expanding environment references
func ParseCatalog(data []byte) (*Snapshot, error) {
	expanded := expandEnvVars(string(data))

	var file catalogFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("catalog must specify a version")
	}
	if err := file.Snapshot.Validate(); err != nil {
		return nil, err
	}
	return &file.Snapshot, nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands ${VAR}, ${VAR:-default} and $VAR references.
// Undefined variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// ExampleCatalog returns a commented catalog covering every section
func ExampleCatalog() string {
	return `# Worker catalog
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default} syntax

version: "1.0"

namespaces:
  - name: ord
    value: urn:example:orders
    is_active: true

xpaths:
  - name: order-id
    value: /ord:order/ord:id
    is_active: true

json_pointers:
  - name: customer-name
    value: /customer/name
    is_active: true

outgoing_sql:
  - name: crm
    is_active: true
    engine: postgresql
    host: ${CRM_DB_HOST:-localhost}
    port: 5432
    db_name: crm
    username: crm
    password: ${CRM_DB_PASSWORD}
    pool_size: 5

security:
  - name: crm-api
    sec_type: basic_auth
    is_active: true
    username: worker
    password: secret:arn:aws:secretsmanager:eu-west-1:123456789012:secret:crm-api#password

outgoing_plain_http:
  - name: crm-api
    is_active: true
    transport: plain_http
    host: https://crm.example.com
    url_path: /api/orders
    security_name: crm-api
    sec_type: basic_auth

pubsub:
  default_producer: {client_id: 1, client_name: default, is_active: true}
  default_consumer: {client_id: 2, client_name: default, is_active: true}
  topics:
    - name: orders
      is_active: true
      is_fifo: true
      max_depth: 1000
  consumers:
    - topic_name: orders
      client_id: 3
      client_name: crm-sync
      is_active: true
      sub_key: crm-sync
      max_backlog: 100
      delivery_mode: callback
      callback_name: crm-api
`
}
