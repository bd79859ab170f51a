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

package sdk

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"integrabus/worker/security"
)

// AuthProvider defines the interface for authentication mechanisms
type AuthProvider interface {
	// Authenticate applies authentication to the given request
	Authenticate(ctx context.Context, req *http.Request) error

	// IsExpired checks if the current credentials have expired
	IsExpired() bool

	// Refresh refreshes the credentials if possible
	Refresh(ctx context.Context) error

	// Type returns the authentication type name
	Type() string
}

// SOAPHeaderProvider is implemented by providers that authenticate inside
// the SOAP envelope rather than on the HTTP request.
type SOAPHeaderProvider interface {
	SOAPHeader(now time.Time) (string, error)
}

// AuthFor builds the outbound provider matching a security definition.
// A nil provider means the definition carries nothing to put on a request.
// NTLM, XPath and technical-account definitions fall back to Basic auth.
func AuthFor(def security.Definition) (AuthProvider, error) {
	switch def.Type {
	case "", security.TypeTLSKeyCert:
		return nil, nil
	case security.TypeBasicAuth, security.TypeNTLM, security.TypeXPath, security.TypeTechAccount:
		return NewBasicAuth(def.Username, def.Password), nil
	case security.TypeAPIKey:
		return NewAPIKeyAuth(def.Password, def.Username), nil
	case security.TypeOpenStack:
		return NewHeaderAuth("openstack", map[string]string{
			"X-Auth-User": def.Username,
			"X-Auth-Key":  def.Password,
		}), nil
	case security.TypeAWS:
		return NewIAMAuth(&IAMCredentials{
			AccessKeyID:     def.Username,
			SecretAccessKey: def.Password,
			Region:          def.Region,
			Service:         def.Service,
		}), nil
	case security.TypeOAuth:
		return NewOAuthAuth(&OAuthConfig{
			ClientID:     def.Username,
			ClientSecret: def.Password,
			TokenURL:     def.TokenURL,
			Scopes:       def.Scopes,
		}), nil
	case security.TypeWSS:
		return NewWSSAuth(def.Username, def.Password, def.PasswordType), nil
	default:
		return nil, fmt.Errorf("unsupported security type %q", def.Type)
	}
}

// APIKeyAuth sends an API key in a request header
type APIKeyAuth struct {
	apiKey  string
	keyName string
	mu      sync.RWMutex
}

// NewAPIKeyAuth creates a new API key authentication provider
func NewAPIKeyAuth(apiKey, keyName string) *APIKeyAuth {
	if keyName == "" {
		keyName = "X-API-Key"
	}
	return &APIKeyAuth{
		apiKey:  apiKey,
		keyName: keyName,
	}
}

// Authenticate applies the API key to the request
func (a *APIKeyAuth) Authenticate(ctx context.Context, req *http.Request) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.apiKey == "" {
		return fmt.Errorf("API key is not set")
	}
	req.Header.Set(a.keyName, a.apiKey)
	return nil
}

// IsExpired returns false for API keys as they don't expire automatically
func (a *APIKeyAuth) IsExpired() bool {
	return false
}

// Refresh is a no-op for API keys
func (a *APIKeyAuth) Refresh(ctx context.Context) error {
	return nil
}

// Type returns the authentication type
func (a *APIKeyAuth) Type() string {
	return "api_key"
}

// HeaderAuth sets a fixed group of headers
type HeaderAuth struct {
	name    string
	headers map[string]string
}

// NewHeaderAuth creates a provider that sets the given headers on every request
func NewHeaderAuth(name string, headers map[string]string) *HeaderAuth {
	return &HeaderAuth{name: name, headers: headers}
}

// Authenticate sets the headers
func (h *HeaderAuth) Authenticate(ctx context.Context, req *http.Request) error {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return nil
}

// IsExpired returns false
func (h *HeaderAuth) IsExpired() bool {
	return false
}

// Refresh is a no-op
func (h *HeaderAuth) Refresh(ctx context.Context) error {
	return nil
}

// Type returns the authentication type
func (h *HeaderAuth) Type() string {
	return h.name
}

// BasicAuth provides HTTP Basic authentication
type BasicAuth struct {
	username string
	password string
	mu       sync.RWMutex
}

// NewBasicAuth creates a new Basic authentication provider
func NewBasicAuth(username, password string) *BasicAuth {
	return &BasicAuth{
		username: username,
		password: password,
	}
}

// Authenticate applies Basic auth to the request
func (b *BasicAuth) Authenticate(ctx context.Context, req *http.Request) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.username == "" {
		return fmt.Errorf("username is not set")
	}

	req.SetBasicAuth(b.username, b.password)
	return nil
}

// IsExpired returns false for Basic auth
func (b *BasicAuth) IsExpired() bool {
	return false
}

// Refresh is a no-op for Basic auth
func (b *BasicAuth) Refresh(ctx context.Context) error {
	return nil
}

// Type returns the authentication type
func (b *BasicAuth) Type() string {
	return "basic"
}

// OAuthConfig holds OAuth 2.0 client credentials configuration
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// OAuthAuth provides OAuth 2.0 client credentials authentication
type OAuthAuth struct {
	config      *OAuthConfig
	accessToken string
	expiresAt   time.Time
	httpClient  *http.Client
	mu          sync.RWMutex
}

// NewOAuthAuth creates a new OAuth 2.0 authentication provider
func NewOAuthAuth(config *OAuthConfig) *OAuthAuth {
	return &OAuthAuth{
		config: config,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Authenticate applies the OAuth token to the request, fetching one first if needed
func (o *OAuthAuth) Authenticate(ctx context.Context, req *http.Request) error {
	o.mu.RLock()
	token := o.accessToken
	expired := o.isExpiredUnlocked()
	o.mu.RUnlock()

	if token == "" || expired {
		if err := o.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh OAuth token: %w", err)
		}
		o.mu.RLock()
		token = o.accessToken
		o.mu.RUnlock()
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// IsExpired checks if the token has expired
func (o *OAuthAuth) IsExpired() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isExpiredUnlocked()
}

// caller must hold lock
func (o *OAuthAuth) isExpiredUnlocked() bool {
	if o.expiresAt.IsZero() {
		return o.accessToken == ""
	}
	// 30s early
	return time.Now().Add(30 * time.Second).After(o.expiresAt)
}

// Refresh obtains a new access token using client credentials
func (o *OAuthAuth) Refresh(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", o.config.ClientID)
	data.Set("client_secret", o.config.ClientSecret)
	if len(o.config.Scopes) > 0 {
		data.Set("scope", strings.Join(o.config.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}

	o.accessToken = tokenResp.AccessToken
	o.expiresAt = time.Time{}
	if tokenResp.ExpiresIn > 0 {
		o.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}
	return nil
}

// Type returns the authentication type
func (o *OAuthAuth) Type() string {
	return "oauth2"
}

// IAMCredentials holds AWS IAM credentials
type IAMCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Service         string
}

// IAMAuth signs requests with AWS Signature Version 4
type IAMAuth struct {
	credentials *IAMCredentials
	signer      *v4.Signer
	now         func() time.Time
}

// NewIAMAuth creates a new IAM authentication provider
func NewIAMAuth(credentials *IAMCredentials) *IAMAuth {
	return &IAMAuth{
		credentials: credentials,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
}

// Authenticate signs the request, hashing its body when one is set
func (i *IAMAuth) Authenticate(ctx context.Context, req *http.Request) error {
	if i.credentials.AccessKeyID == "" || i.credentials.SecretAccessKey == "" {
		return fmt.Errorf("AWS credentials are not set")
	}

	payloadHash, err := payloadSHA256(req)
	if err != nil {
		return fmt.Errorf("failed to hash request body: %w", err)
	}

	creds := aws.Credentials{
		AccessKeyID:     i.credentials.AccessKeyID,
		SecretAccessKey: i.credentials.SecretAccessKey,
		SessionToken:    i.credentials.SessionToken,
	}
	return i.signer.SignHTTP(ctx, creds, req, payloadHash, i.credentials.Service, i.credentials.Region, i.now())
}

func payloadSHA256(req *http.Request) (string, error) {
	h := sha256.New()
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return "", err
		}
		defer func() { _ = body.Close() }()
		if _, err := io.Copy(h, body); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsExpired returns false for static IAM credentials
func (i *IAMAuth) IsExpired() bool {
	return false
}

// Refresh is a no-op for static IAM credentials
func (i *IAMAuth) Refresh(ctx context.Context) error {
	return nil
}

// Type returns the authentication type
func (i *IAMAuth) Type() string {
	return "iam"
}

// WSSAuth builds a WS-Security UsernameToken header for SOAP envelopes
type WSSAuth struct {
	username     string
	password     string
	passwordType string
}

// NewWSSAuth creates a WS-Security provider. passwordType is "digest" or "text".
func NewWSSAuth(username, password, passwordType string) *WSSAuth {
	return &WSSAuth{username: username, password: password, passwordType: passwordType}
}

const (
	wsseNS          = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wsuNS           = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	wssPasswordText = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
	wssPasswordDig  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	wssNonceEncType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// Authenticate is a no-op: credentials travel in the envelope
func (w *WSSAuth) Authenticate(ctx context.Context, req *http.Request) error {
	return nil
}

// SOAPHeader renders the wsse:Security element
func (w *WSSAuth) SOAPHeader(now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	created := now.UTC().Format(time.RFC3339)

	passwordType, password := wssPasswordText, w.password
	if w.passwordType == "digest" {
		passwordType = wssPasswordDig
		password = PasswordDigest(nonce, created, w.password)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<wsse:Security xmlns:wsse="%s" xmlns:wsu="%s">`, wsseNS, wsuNS)
	b.WriteString(`<wsse:UsernameToken>`)
	fmt.Fprintf(&b, `<wsse:Username>%s</wsse:Username>`, xmlEscape(w.username))
	fmt.Fprintf(&b, `<wsse:Password Type="%s">%s</wsse:Password>`, passwordType, xmlEscape(password))
	fmt.Fprintf(&b, `<wsse:Nonce EncodingType="%s">%s</wsse:Nonce>`, wssNonceEncType, base64.StdEncoding.EncodeToString(nonce))
	fmt.Fprintf(&b, `<wsu:Created>%s</wsu:Created>`, created)
	b.WriteString(`</wsse:UsernameToken></wsse:Security>`)
	return b.String(), nil
}

// PasswordDigest computes Base64(SHA-1(nonce + created + password))
func PasswordDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}

// IsExpired returns false
func (w *WSSAuth) IsExpired() bool {
	return false
}

// Refresh is a no-op
func (w *WSSAuth) Refresh(ctx context.Context) error {
	return nil
}

// Type returns the authentication type
func (w *WSSAuth) Type() string {
	return "wss"
}
