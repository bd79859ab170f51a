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

package base

import (
	"fmt"
	"strings"
	"time"
)

// Kind names one resource store of the worker
type Kind string

const (
	KindSQL           Kind = "outgoing.sql"
	KindFTP           Kind = "outgoing.ftp"
	KindPlainHTTP     Kind = "outgoing.plain_http"
	KindSOAP          Kind = "outgoing.soap"
	KindRedis         Kind = "outgoing.redis"
	KindMongoDB       Kind = "outgoing.mongodb"
	KindCassandra     Kind = "definition.cassandra"
	KindElasticSearch Kind = "search.es"
	KindSolr          Kind = "search.solr"
	KindSMTP          Kind = "email.smtp"
	KindIMAP          Kind = "email.imap"
	KindS3            Kind = "cloud.aws.s3"
	KindAzureBlob     Kind = "cloud.azure.blob"
	KindGCS           Kind = "cloud.gcs"
)

// PasswordShadow replaces secrets in every logged or cached copy of a config.
const PasswordShadow = "******"

// Config is the typed configuration of one named resource. Each kind has its
// own struct; all of them embed Common.
type Config interface {
	ResourceName() string
	Active() bool
	Validate() error
}

// Common holds the fields every resource configuration carries
type Common struct {
	ID       int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
}

// ResourceName returns the store key of the resource
func (c Common) ResourceName() string {
	return c.Name
}

// Active reports whether the resource is enabled
func (c Common) Active() bool {
	return c.IsActive
}

// Validate checks the fields shared by all kinds
func (c Common) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Shadow returns the value to log in place of a password
func Shadow(password string) string {
	if password == "" {
		return ""
	}
	return PasswordShadow
}

// Seconds converts a timeout given in whole seconds, falling back to def when unset.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// SplitLines splits a newline-separated config field, dropping blanks and comments.
func SplitLines(value string) []string {
	var out []string
	for _, line := range strings.Split(value, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
