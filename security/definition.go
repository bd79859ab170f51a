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

package security

import (
	"fmt"
	"strings"

	"integrabus/worker/connectors/base"
)

// Type discriminates security definitions
type Type string

const (
	TypeAPIKey      Type = "apikey"
	TypeAWS         Type = "aws"
	TypeOpenStack   Type = "openstack"
	TypeNTLM        Type = "ntlm"
	TypeBasicAuth   Type = "basic_auth"
	TypeOAuth       Type = "oauth"
	TypeWSS         Type = "wss"
	TypeXPath       Type = "xpath_sec"
	TypeTLSKeyCert  Type = "tls_key_cert"
	TypeTechAccount Type = "tech_acc"
)

// Types lists every supported definition type
var Types = []Type{
	TypeAPIKey, TypeAWS, TypeOpenStack, TypeNTLM, TypeBasicAuth,
	TypeOAuth, TypeWSS, TypeXPath, TypeTLSKeyCert, TypeTechAccount,
}

// Valid reports whether t is a known type
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Cascades reports whether changes to definitions of this type propagate to
// outbound connections. TLS material and technical accounts are only used
// for inbound checks.
func (t Type) Cascades() bool {
	return t != TypeTLSKeyCert && t != TypeTechAccount
}

// Definition is one named credential record.
//
// Username and Password carry the primary credential for every type: the
// header name and key for API keys, the access key pair for AWS, the client
// id and secret for OAuth.
type Definition struct {
	ID       int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Type     Type   `json:"sec_type" yaml:"sec_type"`
	IsActive bool   `json:"is_active" yaml:"is_active"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// AWS request signing
	Region  string `json:"region,omitempty" yaml:"region,omitempty"`
	Service string `json:"service,omitempty" yaml:"service,omitempty"`

	// OAuth client credentials
	TokenURL string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	Scopes   []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`

	// WS-Security UsernameToken
	PasswordType          string `json:"password_type,omitempty" yaml:"password_type,omitempty"`
	NonceFreshnessTime    int    `json:"nonce_freshness_time,omitempty" yaml:"nonce_freshness_time,omitempty"`
	RejectExpiryLimit     int    `json:"reject_expiry_limit,omitempty" yaml:"reject_expiry_limit,omitempty"`
	RejectEmptyNonceCreat bool   `json:"reject_empty_nonce_creat,omitempty" yaml:"reject_empty_nonce_creat,omitempty"`
	RejectStaleTokens     bool   `json:"reject_stale_tokens,omitempty" yaml:"reject_stale_tokens,omitempty"`

	// XPath-based credentials
	UsernameExpr string `json:"username_expr,omitempty" yaml:"username_expr,omitempty"`
	PasswordExpr string `json:"password_expr,omitempty" yaml:"password_expr,omitempty"`

	// TLS key and certificate, PEM file on disk
	CertPath string `json:"cert_path,omitempty" yaml:"cert_path,omitempty"`
}

// Validate checks the fields required for the definition's type
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("unknown security type %q", d.Type)
	}
	switch d.Type {
	case TypeAWS:
		if d.Region == "" || d.Service == "" {
			return fmt.Errorf("aws definition %s requires region and service", d.Name)
		}
	case TypeOAuth:
		if d.TokenURL == "" {
			return fmt.Errorf("oauth definition %s requires token_url", d.Name)
		}
	case TypeXPath:
		if d.UsernameExpr == "" {
			return fmt.Errorf("xpath definition %s requires username_expr", d.Name)
		}
	case TypeTLSKeyCert:
		if d.CertPath == "" {
			return fmt.Errorf("tls definition %s requires cert_path", d.Name)
		}
	}
	return nil
}

// Matches reports whether d is the definition (typ, name)
func (d Definition) Matches(typ Type, name string) bool {
	return d.Name != "" && d.Name == name && d.Type == typ
}

// WithEdit copies the mutable fields of an edited definition onto d.
// Secrets never travel with edits and are kept.
func (d Definition) WithEdit(src Definition) Definition {
	d.IsActive = src.IsActive
	d.Username = src.Username
	d.Name = src.Name

	if d.Type == TypeWSS {
		d.PasswordType = src.PasswordType
		d.NonceFreshnessTime = src.NonceFreshnessTime
		d.RejectExpiryLimit = src.RejectExpiryLimit
		d.RejectEmptyNonceCreat = src.RejectEmptyNonceCreat
		d.RejectStaleTokens = src.RejectStaleTokens
	}
	return d
}

// Sanitized returns a copy safe to log
func (d Definition) Sanitized() Definition {
	d.Password = base.Shadow(d.Password)
	return d
}
