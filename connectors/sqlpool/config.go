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

package sqlpool

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"integrabus/worker/connectors/base"
)

// Supported engines
const (
	EnginePostgreSQL = "postgresql"
	EngineMySQL      = "mysql"
)

// Config describes one outgoing SQL connection pool
type Config struct {
	base.Common `yaml:",inline"`

	Engine         string `json:"engine" yaml:"engine"`
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port,omitempty" yaml:"port,omitempty"`
	DBName         string `json:"db_name" yaml:"db_name"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	PoolSize       int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	ConnectTimeout int    `json:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	SSLMode        string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`

	// Extra holds driver parameters, one key=value per line
	Extra string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Validate checks the fields required to open a pool
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	switch c.Engine {
	case EnginePostgreSQL, EngineMySQL:
	default:
		return fmt.Errorf("sql %s: unsupported engine %q", c.Name, c.Engine)
	}
	if c.Host == "" {
		return fmt.Errorf("sql %s: host is required", c.Name)
	}
	if c.DBName == "" {
		return fmt.Errorf("sql %s: db_name is required", c.Name)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("sql %s: pool_size must not be negative", c.Name)
	}
	return nil
}

// WithPassword returns a copy with a new password
func (c Config) WithPassword(password string) Config {
	c.Password = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.Password = base.Shadow(c.Password)
	return c
}

func (c Config) port() int {
	if c.Port > 0 {
		return c.Port
	}
	if c.Engine == EngineMySQL {
		return 3306
	}
	return 5432
}

func (c Config) extraParams() map[string]string {
	params := make(map[string]string)
	for _, line := range base.SplitLines(c.Extra) {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return params
}

// DriverName returns the database/sql driver for the engine
func (c Config) DriverName() string {
	if c.Engine == EngineMySQL {
		return "mysql"
	}
	return "postgres"
}

// DSN builds the driver connection string
func (c Config) DSN() string {
	timeout := base.Seconds(c.ConnectTimeout, 10*time.Second)
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.port()))

	if c.Engine == EngineMySQL {
		cfg := mysql.NewConfig()
		cfg.User = c.Username
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = addr
		cfg.DBName = c.DBName
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.Timeout = timeout
		cfg.ReadTimeout = 30 * time.Second
		cfg.WriteTimeout = 30 * time.Second
		cfg.Params = map[string]string{"charset": "utf8mb4"}
		for k, v := range c.extraParams() {
			cfg.Params[k] = v
		}
		return cfg.FormatDSN()
	}

	q := url.Values{}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(timeout/time.Second)))
	for k, v := range c.extraParams() {
		q.Set(k, v)
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     addr,
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}
