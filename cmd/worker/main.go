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

// Package main is the entry point for the integration-bus worker.
//
// The worker holds live connections to the outbound systems named in its
// catalog, an in-memory pub/sub broker, and applies configuration changes
// received on its control channel without restarting.
//
// Usage:
//
//	./worker
//	./worker -example-catalog > catalog.yaml
//
// Environment Variables:
//
//	WORKER_CATALOG_FILE - YAML catalog path
//	WORKER_CATALOG_URL - PostgreSQL catalog, used when no file is set
//	WORKER_CLUSTER_ID - Cluster whose catalog rows are loaded (default: 1)
//	WORKER_REDIS_URL - Redis for the control channel and service invocations
//	PORT - Admin API port (default: 8090)
//	JWT_SECRET - Secret for admin API tokens
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"integrabus/worker/connectors/config"
	"integrabus/worker/worker"
)

func main() {
	example := flag.Bool("example-catalog", false, "print an example catalog and exit")
	flag.Parse()

	if *example {
		fmt.Print(config.ExampleCatalog())
		return
	}

	settings, err := config.LoadSettingsFromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx, settings); err != nil {
		log.Fatalf("Worker stopped: %v", err)
	}
	log.Println("Worker stopped")
}
