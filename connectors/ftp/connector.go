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

package ftp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Config describes an outgoing FTP connection
type Config struct {
	base.Common `yaml:",inline"`

	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Timeout  int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// ExplicitTLS upgrades the control connection with AUTH TLS
	ExplicitTLS bool `json:"explicit_tls,omitempty" yaml:"explicit_tls,omitempty"`
	// DirCache keeps directory listings until the next write
	DirCache bool `json:"dircache,omitempty" yaml:"dircache,omitempty"`
}

// Validate checks the fields required to dial
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Host == "" {
		return fmt.Errorf("ftp %s: host is required", c.Name)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("ftp %s: invalid port %d", c.Name, c.Port)
	}
	return nil
}

// Addr returns host:port, port 21 by default
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 21
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
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

// Entry is one directory listing item
type Entry struct {
	Name  string    `json:"name"`
	Size  uint64    `json:"size"`
	IsDir bool      `json:"is_dir"`
	Time  time.Time `json:"time"`
}

// Connector holds one logged-in FTP control connection. FTP sessions are
// stateful, so every operation is serialized.
type Connector struct {
	*sdk.BaseConnector
	config Config

	mu       sync.Mutex
	conn     *ftp.ServerConn
	dirCache map[string][]Entry
}

// NewConnector creates an unconnected session for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("ftp", cfg.Name),
		config:        cfg,
	}
}

// Connect dials and logs in
func (c *Connector) Connect(ctx context.Context) error {
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(base.Seconds(c.config.Timeout, 30*time.Second)),
	}
	if c.config.ExplicitTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: c.config.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}

	conn, err := ftp.Dial(c.config.Addr(), opts...)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "failed to dial FTP server", err)
	}

	user := c.config.User
	if user == "" {
		user = "anonymous"
	}
	if err := conn.Login(user, c.config.Password); err != nil {
		_ = conn.Quit()
		return base.NewConnectorError(c.Name(), "Connect", "login failed", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.dirCache = map[string][]Entry{}
	c.mu.Unlock()

	c.MarkConnected()
	c.Log("Connected to FTP server: %s (%s as %s)", c.Name(), c.config.Addr(), user)
	return nil
}

// Disconnect sends QUIT
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.MarkDisconnected()
	if err := conn.Quit(); err != nil {
		return base.NewConnectorError(c.Name(), "Disconnect", "failed to quit", err)
	}
	c.Log("Disconnected from FTP server: %s", c.Name())
	return nil
}

// HealthCheck sends NOOP
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	start := time.Now()
	err := c.with("HealthCheck", func(conn *ftp.ServerConn) error {
		return conn.NoOp()
	})
	status := c.Health(start, err)
	status.Details["addr"] = c.config.Addr()
	return status, nil
}

// List returns the entries of dir
func (c *Connector) List(ctx context.Context, dir string) ([]Entry, error) {
	var entries []Entry
	err := c.with("List", func(conn *ftp.ServerConn) error {
		if cached, ok := c.dirCache[dir]; ok && c.config.DirCache {
			entries = cached
			return nil
		}

		list, err := conn.List(dir)
		if err != nil {
			return err
		}
		entries = make([]Entry, 0, len(list))
		for _, e := range list {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			entries = append(entries, Entry{
				Name:  e.Name,
				Size:  e.Size,
				IsDir: e.Type == ftp.EntryTypeFolder,
				Time:  e.Time,
			})
		}
		if c.config.DirCache {
			c.dirCache[dir] = entries
		}
		return nil
	})
	return entries, err
}

// Retrieve downloads path
func (c *Connector) Retrieve(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := c.with("Retrieve", func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(path)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Close() }()
		data, err = io.ReadAll(resp)
		return err
	})
	return data, err
}

// Store uploads data to path
func (c *Connector) Store(ctx context.Context, path string, data []byte) error {
	return c.with("Store", func(conn *ftp.ServerConn) error {
		c.dirCache = map[string][]Entry{}
		return conn.Stor(path, bytes.NewReader(data))
	})
}

// Delete removes path
func (c *Connector) Delete(ctx context.Context, path string) error {
	return c.with("Delete", func(conn *ftp.ServerConn) error {
		c.dirCache = map[string][]Entry{}
		return conn.Delete(path)
	})
}

// with runs fn on the live connection under the session lock
func (c *Connector) with(op string, fn func(conn *ftp.ServerConn) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return c.NotConnected(op)
	}

	timer := sdk.NewTimer()
	err := fn(c.conn)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), op, "ftp command failed", err)
	}
	return nil
}
