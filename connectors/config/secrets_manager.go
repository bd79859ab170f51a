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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretPrefix marks a catalog value resolved from a secret store:
// secret:<arn>#<key>. Without #<key> the key "password" is used, falling
// back to the whole secret string.
const SecretPrefix = "secret:"

// SecretsManager fetches a secret as a map of string values
type SecretsManager interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// AWSSecretsManager implements SecretsManager using AWS Secrets Manager
type AWSSecretsManager struct {
	client *secretsmanager.Client
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager creates a Secrets Manager client from the default AWS configuration
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSecretsManagerWithClient(secretsmanager.NewFromConfig(cfg), opts), nil
}

// NewAWSSecretsManagerWithClient wraps an existing client
func NewAWSSecretsManagerWithClient(client *secretsmanager.Client, opts AWSSecretsManagerOptions) *AWSSecretsManager {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// GetSecret retrieves a secret, serving repeated reads from a TTL cache.
// JSON object secrets are returned as-is; any other string is returned
// under the key "value".
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && s.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskARN(secretARN))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var credentials map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &credentials); err != nil {
		credentials = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretARN] = &secretCacheEntry{
		value:     credentials,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()
	return credentials, nil
}

// InvalidateAll clears the secret cache
func (s *AWSSecretsManager) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*secretCacheEntry)
	s.mu.Unlock()
	s.logger.Println("Invalidated all cached secrets")
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// LocalSecretsManager serves secrets from memory, for development catalogs
type LocalSecretsManager struct {
	secrets map[string]map[string]string
	mu      sync.RWMutex
}

// NewLocalSecretsManager creates an empty local store
func NewLocalSecretsManager() *LocalSecretsManager {
	return &LocalSecretsManager{secrets: make(map[string]map[string]string)}
}

// GetSecret retrieves a secret from local storage
func (s *LocalSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if secret, exists := s.secrets[secretARN]; exists {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found in local secrets manager", maskARN(secretARN))
}

// SetSecret stores a secret
func (s *LocalSecretsManager) SetSecret(secretARN string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secretARN] = value
}

// SecretResolver replaces secret references in a snapshot with their values
type SecretResolver struct {
	source SecretsManager
	logger *log.Logger
}

// NewSecretResolver creates a resolver reading from source
func NewSecretResolver(source SecretsManager) *SecretResolver {
	return &SecretResolver{
		source: source,
		logger: log.New(os.Stdout, "[CATALOG] ", log.LstdFlags),
	}
}

// Resolve rewrites every secret reference of snap in place. It fails on
// the first reference that cannot be resolved.
func (r *SecretResolver) Resolve(ctx context.Context, snap *Snapshot) error {
	resolved := 0
	for _, field := range snap.Secrets() {
		if !strings.HasPrefix(*field, SecretPrefix) {
			continue
		}
		value, err := r.lookup(ctx, strings.TrimPrefix(*field, SecretPrefix))
		if err != nil {
			return err
		}
		*field = value
		resolved++
	}
	if resolved > 0 {
		r.logger.Printf("Resolved %d secret references", resolved)
	}
	return nil
}

func (r *SecretResolver) lookup(ctx context.Context, ref string) (string, error) {
	arn, key, hasKey := strings.Cut(ref, "#")
	secret, err := r.source.GetSecret(ctx, arn)
	if err != nil {
		return "", err
	}
	if !hasKey {
		if v, ok := secret["password"]; ok {
			return v, nil
		}
		if v, ok := secret["value"]; ok {
			return v, nil
		}
		return "", fmt.Errorf("secret %s has no password or value key", maskARN(arn))
	}
	v, ok := secret[key]
	if !ok {
		return "", fmt.Errorf("secret %s has no key %q", maskARN(arn), key)
	}
	return v, nil
}
