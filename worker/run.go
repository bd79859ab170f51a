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

package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"integrabus/worker/connectors/config"
	"integrabus/worker/control"
	"integrabus/worker/shared/logger"
)

// DeliveryInterval is how often callback consumers are pushed to
const DeliveryInterval = time.Second

// Run starts a worker from settings and blocks until ctx is cancelled.
//
// The admin server starts first so /health answers "starting" while the
// catalog loads. The control feed is subscribed before the catalog is read,
// and messages published while the store initializes are replayed once it
// is ready.
func Run(ctx context.Context, settings *config.Settings) error {
	var rdb *redis.Client
	var invoker Invoker = NewLogInvoker()
	if settings.RedisURL != "" {
		opts, err := redis.ParseURL(settings.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid WORKER_REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		invoker = NewRedisInvoker(rdb, settings.InvokeList)
	}

	audit := logger.New("worker")
	store, err := NewStore(Options{
		Invoker:        invoker,
		ConnectTimeout: settings.ConnectTimeout,
		Audit:          audit,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(settings.Port),
		Handler:           NewAPI(store, []byte(settings.JWTSecret)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Worker admin API starting on port %d (status: starting)", settings.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Admin server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var sub *control.Subscription
	if rdb != nil {
		sub, err = control.NewRedisFeed(rdb, settings.ControlChannel).Subscribe(ctx)
		if err != nil {
			return err
		}
		defer sub.Close()
	}

	snap, err := loadSnapshot(ctx, settings)
	if err != nil {
		return err
	}
	store.Init(ctx, snap)
	defer store.Close(context.Background())

	go store.RunDelivery(ctx, DeliveryInterval)

	if sub == nil {
		log.Println("WORKER_REDIS_URL not set, control messages are accepted on the admin API only")
		<-ctx.Done()
		return nil
	}
	return sub.Run(ctx, store)
}

func loadSnapshot(ctx context.Context, settings *config.Settings) (*config.Snapshot, error) {
	var catalog config.Catalog
	if settings.CatalogFile != "" {
		catalog = config.NewFileCatalog(settings.CatalogFile)
	} else {
		pg, err := config.OpenPostgresCatalog(ctx, settings.CatalogURL, settings.ClusterID)
		if err != nil {
			return nil, err
		}
		defer func() { _ = pg.Close() }()
		catalog = pg
	}

	snap, err := catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	var secrets config.SecretsManager = config.NewLocalSecretsManager()
	if settings.AWSRegion != "" {
		sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{
			Region:   settings.AWSRegion,
			CacheTTL: settings.SecretCacheTTL,
		})
		if err != nil {
			return nil, err
		}
		secrets = sm
	}
	if err := config.NewSecretResolver(secrets).Resolve(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to resolve catalog secrets: %w", err)
	}
	return snap, nil
}
