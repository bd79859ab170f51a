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
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings are the process-level options of a worker
type Settings struct {
	// CatalogFile is a YAML catalog; CatalogURL a Postgres DSN. File wins.
	CatalogFile string
	CatalogURL  string

	ClusterID      string
	RedisURL       string
	ControlChannel string
	InvokeList     string

	Port      int
	JWTSecret string

	AWSRegion      string
	SecretCacheTTL time.Duration
	ConnectTimeout time.Duration
}

// Defaults
const (
	DefaultPort           = 8090
	DefaultControlChannel = "integrabus:worker:control"
	DefaultInvokeList     = "integrabus:worker:invoke"
)

// LoadSettingsFromEnv reads the worker settings from the environment:
//
//	WORKER_CATALOG_FILE / WORKER_CATALOG_URL  catalog source (one is required)
//	WORKER_CLUSTER_ID                          cluster id (default "1")
//	WORKER_REDIS_URL                           control feed and invoker
//	WORKER_CONTROL_CHANNEL, WORKER_INVOKE_LIST Redis names
//	WORKER_CONNECT_TIMEOUT                     per-build timeout (default 30s)
//	WORKER_SECRET_CACHE_TTL                    secret cache TTL (default 5m)
//	PORT, JWT_SECRET, AWS_REGION
func LoadSettingsFromEnv() (*Settings, error) {
	s := &Settings{
		CatalogFile:    os.Getenv("WORKER_CATALOG_FILE"),
		CatalogURL:     os.Getenv("WORKER_CATALOG_URL"),
		ClusterID:      getEnvOrDefault("WORKER_CLUSTER_ID", "1"),
		RedisURL:       os.Getenv("WORKER_REDIS_URL"),
		ControlChannel: getEnvOrDefault("WORKER_CONTROL_CHANNEL", DefaultControlChannel),
		InvokeList:     getEnvOrDefault("WORKER_INVOKE_LIST", DefaultInvokeList),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AWSRegion:      os.Getenv("AWS_REGION"),
		Port:           DefaultPort,
		SecretCacheTTL: 5 * time.Minute,
		ConnectTimeout: 30 * time.Second,
	}

	if s.CatalogFile == "" && s.CatalogURL == "" {
		return nil, fmt.Errorf("missing required environment variable: WORKER_CATALOG_FILE or WORKER_CATALOG_URL")
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT: %s", portStr)
		}
		s.Port = port
	}

	var err error
	if s.ConnectTimeout, err = durationFromEnv("WORKER_CONNECT_TIMEOUT", s.ConnectTimeout); err != nil {
		return nil, err
	}
	if s.SecretCacheTTL, err = durationFromEnv("WORKER_SECRET_CACHE_TTL", s.SecretCacheTTL); err != nil {
		return nil, err
	}
	return s, nil
}

func durationFromEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %s", key, v)
	}
	return d, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
