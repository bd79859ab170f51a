// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"fmt"
	"net/url"
	"strings"

	"integrabus/worker/connectors/base"
	"integrabus/worker/security"
)

// Transport selects how requests are framed
type Transport string

const (
	TransportPlain Transport = "plain_http"
	TransportSOAP  Transport = "soap"
)

// Config describes one outgoing HTTP or SOAP connection
type Config struct {
	base.Common `yaml:",inline"`

	Transport     Transport `json:"transport" yaml:"transport"`
	Host          string    `json:"host" yaml:"host"`
	URLPath       string    `json:"url_path,omitempty" yaml:"url_path,omitempty"`
	Method        string    `json:"method,omitempty" yaml:"method,omitempty"`
	DataFormat    string    `json:"data_format,omitempty" yaml:"data_format,omitempty"`
	ContentType   string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	SOAPAction    string    `json:"soap_action,omitempty" yaml:"soap_action,omitempty"`
	SOAPVersion   string    `json:"soap_version,omitempty" yaml:"soap_version,omitempty"`
	PingMethod    string    `json:"ping_method,omitempty" yaml:"ping_method,omitempty"`
	PoolSize      int       `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	Timeout       int       `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries    int       `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	TLSSkipVerify bool      `json:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"`

	SecurityName string        `json:"security_name,omitempty" yaml:"security_name,omitempty"`
	SecType      security.Type `json:"sec_type,omitempty" yaml:"sec_type,omitempty"`

	// Inline credentials, used when no security definition is referenced
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// Security is the bound copy of the referenced definition. It is filled
	// from the security registry and kept current by the cascade.
	Security security.Definition `json:"-" yaml:"-"`
}

// Validate checks the endpoint and transport
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	switch c.Transport {
	case TransportPlain, TransportSOAP:
	default:
		return fmt.Errorf("http %s: unknown transport %q", c.Name, c.Transport)
	}

	u, err := url.Parse(c.Host)
	if err != nil {
		return fmt.Errorf("http %s: invalid host: %w", c.Name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("http %s: host must use http or https scheme", c.Name)
	}
	if c.SecurityName != "" && !c.SecType.Valid() {
		return fmt.Errorf("http %s: security_name %q needs a valid sec_type", c.Name, c.SecurityName)
	}
	return nil
}

// Endpoint joins the host and path
func (c Config) Endpoint() string {
	path := c.URLPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(c.Host, "/") + path
}

// IsSOAP reports whether requests are wrapped in SOAP envelopes
func (c Config) IsSOAP() bool {
	return c.Transport == TransportSOAP
}

// NeedsBinding reports whether the referenced definition still has to be
// resolved from the security registry
func (c Config) NeedsBinding() bool {
	return c.SecurityName != "" && c.Security.Name == ""
}

// SecurityBinding returns the bound definition. Inline credentials act as an
// anonymous basic-auth definition.
func (c Config) SecurityBinding() security.Definition {
	if c.SecurityName != "" {
		def := c.Security
		if def.Name == "" {
			def.Name = c.SecurityName
			def.Type = c.SecType
		}
		return def
	}
	if c.Username != "" {
		return security.Definition{
			Type:     security.TypeBasicAuth,
			IsActive: true,
			Username: c.Username,
			Password: c.Password,
		}
	}
	return security.Definition{}
}

// WithSecurity returns a copy bound to def
func (c Config) WithSecurity(def security.Definition) Config {
	c.Security = def
	c.SecurityName = def.Name
	c.SecType = def.Type
	return c
}

// CredentialsFrom names the security definition the connection
// authenticates with, empty for inline credentials
func (c Config) CredentialsFrom() string {
	return c.SecurityName
}

// WithPassword returns a copy with a new inline password
func (c Config) WithPassword(password string) Config {
	c.Password = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.Password = base.Shadow(c.Password)
	c.Security = c.Security.Sanitized()
	return c
}
