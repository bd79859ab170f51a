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

package smtp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Connection modes
const (
	ModePlain    = "plain"
	ModeSSL      = "ssl"
	ModeStartTLS = "starttls"
)

// Config describes an outgoing SMTP connection
type Config struct {
	base.Common `yaml:",inline"`

	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Mode     string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Timeout  int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// PingAddress is the default sender used when a message sets none
	PingAddress string `json:"ping_address,omitempty" yaml:"ping_address,omitempty"`
}

// Validate checks host and mode
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Host == "" {
		return fmt.Errorf("smtp %s: host is required", c.Name)
	}
	switch c.Mode {
	case "", ModePlain, ModeSSL, ModeStartTLS:
	default:
		return fmt.Errorf("smtp %s: unknown mode %q", c.Name, c.Mode)
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

// Options translates the config into client options
func (c Config) Options() []mail.Option {
	opts := []mail.Option{
		mail.WithTimeout(base.Seconds(c.Timeout, 30*time.Second)),
	}

	switch c.Mode {
	case ModeSSL:
		opts = append(opts, mail.WithSSLPort(false))
	case ModeStartTLS:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	}
	if c.Port > 0 {
		opts = append(opts, mail.WithPort(c.Port))
	}
	if c.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(c.Username),
			mail.WithPassword(c.Password),
		)
	}
	return opts
}

// Message is one outgoing mail
type Message struct {
	From    string            `json:"from,omitempty"`
	To      []string          `json:"to"`
	CC      []string          `json:"cc,omitempty"`
	BCC     []string          `json:"bcc,omitempty"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	HTML    bool              `json:"is_html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Connector sends mail through one SMTP relay. A session is opened per
// send; the client itself holds no connection between sends.
type Connector struct {
	*sdk.BaseConnector
	config Config

	mu     sync.Mutex
	client *mail.Client
}

// NewConnector creates an unconnected relay for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("smtp", cfg.Name),
		config:        cfg,
	}
}

// Connect creates the client
func (c *Connector) Connect(ctx context.Context) error {
	client, err := mail.NewClient(c.config.Host, c.config.Options()...)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "failed to create SMTP client", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.MarkConnected()
	c.Log("Connected to SMTP relay: %s (%s, mode=%s)", c.Name(), client.ServerAddr(), c.config.Mode)
	return nil
}

// Disconnect drops the client
func (c *Connector) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	c.MarkDisconnected()
	c.Log("Disconnected from SMTP relay: %s", c.Name())
	return nil
}

// HealthCheck opens and closes a session
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	start := time.Now()
	err := c.with("HealthCheck", func(client *mail.Client) error {
		if err := client.DialWithContext(ctx); err != nil {
			return err
		}
		return client.Close()
	})
	status := c.Health(start, err)
	status.Details["host"] = c.config.Host
	return status, nil
}

// Send delivers msg in its own session
func (c *Connector) Send(ctx context.Context, msg Message) error {
	m, err := c.build(msg)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Send", "invalid message", err)
	}
	return c.with("Send", func(client *mail.Client) error {
		return client.DialAndSendWithContext(ctx, m)
	})
}

func (c *Connector) build(msg Message) (*mail.Msg, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	from := msg.From
	if from == "" {
		from = c.config.PingAddress
	}

	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	if len(msg.CC) > 0 {
		if err := m.Cc(msg.CC...); err != nil {
			return nil, fmt.Errorf("invalid cc: %w", err)
		}
	}
	if len(msg.BCC) > 0 {
		if err := m.Bcc(msg.BCC...); err != nil {
			return nil, fmt.Errorf("invalid bcc: %w", err)
		}
	}
	m.Subject(msg.Subject)
	for k, v := range msg.Headers {
		m.SetGenHeader(mail.Header(k), v)
	}

	contentType := mail.TypeTextPlain
	if msg.HTML {
		contentType = mail.TypeTextHTML
	}
	m.SetBodyString(contentType, msg.Body)
	return m, nil
}

// with runs fn on the client; sends are serialized per relay
func (c *Connector) with(op string, fn func(client *mail.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.NotConnected(op)
	}

	timer := sdk.NewTimer()
	err := fn(c.client)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), op, "smtp session failed", err)
	}
	return nil
}
