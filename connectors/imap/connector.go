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

package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Connection modes
const (
	ModePlain    = "plain"
	ModeSSL      = "ssl"
	ModeStartTLS = "starttls"
)

// Config describes one IMAP mailbox
type Config struct {
	base.Common `yaml:",inline"`

	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Mode     string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Timeout  int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Mailbox  string `json:"mailbox,omitempty" yaml:"mailbox,omitempty"`
	// GetCriteria selects the messages Fetch returns: ALL, UNSEEN or SEEN
	GetCriteria string `json:"get_criteria,omitempty" yaml:"get_criteria,omitempty"`
	// TLSSkipVerify is meant for test servers only
	TLSSkipVerify bool `json:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"`
}

// Validate checks host, user, mode and criteria
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Host == "" {
		return fmt.Errorf("imap %s: host is required", c.Name)
	}
	if c.Username == "" {
		return fmt.Errorf("imap %s: username is required", c.Name)
	}
	switch c.Mode {
	case "", ModePlain, ModeSSL, ModeStartTLS:
	default:
		return fmt.Errorf("imap %s: unknown mode %q", c.Name, c.Mode)
	}
	if _, err := criteria(c.GetCriteria); err != nil {
		return fmt.Errorf("imap %s: %w", c.Name, err)
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

// Addr returns host:port with the mode's default port
func (c Config) Addr() string {
	port := c.Port
	if port <= 0 {
		port = 143
		if c.Mode == ModeSSL {
			port = 993
		}
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func criteria(name string) (*imap.SearchCriteria, error) {
	sc := imap.NewSearchCriteria()
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "UNSEEN":
		sc.WithoutFlags = []string{imap.SeenFlag}
	case "SEEN":
		sc.WithFlags = []string{imap.SeenFlag}
	case "ALL":
	default:
		return nil, fmt.Errorf("unsupported get criteria %q", name)
	}
	return sc, nil
}

// Message is one fetched mail
type Message struct {
	UID     uint32    `json:"uid"`
	Subject string    `json:"subject"`
	From    []string  `json:"from"`
	Date    time.Time `json:"date"`
	Body    []byte    `json:"body,omitempty"`
}

// Connector holds one logged-in IMAP session. Commands are serialized.
type Connector struct {
	*sdk.BaseConnector
	config Config

	mu     sync.Mutex
	client *client.Client
}

// NewConnector creates an unconnected mailbox for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("imap", cfg.Name),
		config:        cfg,
	}
}

// Connect dials the server and logs in
func (c *Connector) Connect(ctx context.Context) error {
	timeout := base.Seconds(c.config.Timeout, 30*time.Second)
	dialer := &net.Dialer{Timeout: timeout}
	tlsConfig := &tls.Config{
		ServerName:         c.config.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.config.TLSSkipVerify,
	}

	var (
		cl  *client.Client
		err error
	)
	if c.config.Mode == ModeSSL {
		cl, err = client.DialWithDialerTLS(dialer, c.config.Addr(), tlsConfig)
	} else {
		cl, err = client.DialWithDialer(dialer, c.config.Addr())
	}
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "failed to dial IMAP server", err)
	}
	cl.Timeout = timeout

	if c.config.Mode == ModeStartTLS {
		if err := cl.StartTLS(tlsConfig); err != nil {
			_ = cl.Logout()
			return base.NewConnectorError(c.Name(), "Connect", "STARTTLS failed", err)
		}
	}
	if err := cl.Login(c.config.Username, c.config.Password); err != nil {
		_ = cl.Logout()
		return base.NewConnectorError(c.Name(), "Connect", "login failed", err)
	}

	c.mu.Lock()
	c.client = cl
	c.mu.Unlock()

	c.MarkConnected()
	c.Log("Connected to IMAP: %s (%s as %s)", c.Name(), c.config.Addr(), c.config.Username)
	return nil
}

// Disconnect logs out
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cl := c.client
	c.client = nil
	c.mu.Unlock()

	if cl == nil {
		return nil
	}
	if err := cl.Logout(); err != nil {
		c.Log("Logout from %s failed: %v", c.Name(), err)
	}
	if c.MarkDisconnected() {
		c.Log("Disconnected from IMAP: %s", c.Name())
	}
	return nil
}

// HealthCheck sends NOOP
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	start := time.Now()
	err := c.with("HealthCheck", func(cl *client.Client) error {
		return cl.Noop()
	})
	status := c.Health(start, err)
	status.Details["mailbox"] = c.mailbox()
	return status, nil
}

// Fetch returns up to limit messages of the configured mailbox that match
// the configured criteria, oldest first
func (c *Connector) Fetch(ctx context.Context, limit int, withBody bool) ([]Message, error) {
	sc, err := criteria(c.config.GetCriteria)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Fetch", "invalid criteria", err)
	}

	var out []Message
	err = c.with("Fetch", func(cl *client.Client) error {
		if _, err := cl.Select(c.mailbox(), true); err != nil {
			return err
		}
		uids, err := cl.UidSearch(sc)
		if err != nil {
			return err
		}
		if limit > 0 && len(uids) > limit {
			uids = uids[:limit]
		}
		if len(uids) == 0 {
			return nil
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)
		section := &imap.BodySectionName{Peek: true}
		items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope}
		if withBody {
			items = append(items, section.FetchItem())
		}

		messages := make(chan *imap.Message, len(uids))
		done := make(chan error, 1)
		go func() {
			done <- cl.UidFetch(seqset, items, messages)
		}()
		for msg := range messages {
			out = append(out, toMessage(msg, section, withBody))
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Connector) mailbox() string {
	if c.config.Mailbox == "" {
		return "INBOX"
	}
	return c.config.Mailbox
}

func (c *Connector) with(op string, fn func(cl *client.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.NotConnected(op)
	}

	timer := sdk.NewTimer()
	err := fn(c.client)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), op, "imap command failed", err)
	}
	return nil
}

func toMessage(msg *imap.Message, section *imap.BodySectionName, withBody bool) Message {
	m := Message{UID: msg.Uid}
	if env := msg.Envelope; env != nil {
		m.Subject = env.Subject
		m.Date = env.Date
		for _, addr := range env.From {
			m.From = append(m.From, addr.Address())
		}
	}
	if withBody {
		if r := msg.GetBody(section); r != nil {
			m.Body, _ = io.ReadAll(r)
		}
	}
	return m
}
