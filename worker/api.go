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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"integrabus/worker/control"
	"integrabus/worker/pubsub"
)

const maxControlBody = 1 << 20

// API is the admin HTTP surface of a worker
type API struct {
	store     *Store
	jwtSecret []byte
	started   time.Time
}

// NewAPI creates the admin API. Control and publish endpoints require an
// HS256 bearer token signed with jwtSecret; with no secret they are disabled.
func NewAPI(store *Store, jwtSecret []byte) *API {
	return &API{store: store, jwtSecret: jwtSecret, started: time.Now()}
}

// Handler returns the router wrapped in CORS handling.
//
// Endpoints:
//   - GET /health
//   - GET /metrics
//   - GET /api/v1/resources
//   - GET /api/v1/pubsub/stats
//   - POST /api/v1/control
//   - POST /api/v1/pubsub/{topic}/messages
//   - GET /api/v1/pubsub/{topic}/messages?sub_key=&max=
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/resources", a.resourcesHandler).Methods("GET")
	r.HandleFunc("/api/v1/pubsub/stats", a.statsHandler).Methods("GET")
	r.HandleFunc("/api/v1/control", a.requireToken(a.controlHandler)).Methods("POST")
	r.HandleFunc("/api/v1/pubsub/{topic}/messages", a.requireToken(a.publishHandler)).Methods("POST")
	r.HandleFunc("/api/v1/pubsub/{topic}/messages", a.requireToken(a.consumeHandler)).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	code := http.StatusServiceUnavailable
	if a.store.IsReady() {
		status = "healthy"
		code = http.StatusOK
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"service":   "integrabus-worker",
		"uptime":    time.Since(a.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

func (a *API) resourcesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resources":     a.store.ResourceInfos(),
		"security":      a.store.Security().Count(),
		"xpaths":        a.store.Shapes().XPathNames(),
		"json_pointers": a.store.Shapes().JSONPointerNames(),
	})
}

func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topics": a.store.Broker().Stats(),
	})
}

func (a *API) controlHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	err = a.store.Handle(r.Context(), body)
	switch {
	case errors.Is(err, control.ErrMalformed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoHandler):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
	}
}

// publishRequest is the body of a publish call
type publishRequest struct {
	Data       string `json:"data"`
	MimeType   string `json:"mime_type,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	Expiration int    `json:"expiration,omitempty"` // seconds
	ClientID   int64  `json:"client_id,omitempty"`
}

func (a *API) publishHandler(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]

	var req publishRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := a.store.Broker().Publish(topic, pubsub.Message{
		Payload:    []byte(req.Data),
		MimeType:   req.MimeType,
		Priority:   req.Priority,
		Expiration: time.Duration(req.Expiration) * time.Second,
	}, req.ClientID)
	switch {
	case errors.Is(err, pubsub.ErrNotActive):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pubsub.ErrBacklogFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, map[string]interface{}{"msg_id": msg.ID, "priority": msg.Priority})
	}
}

func (a *API) consumeHandler(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	max := 100
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "max must be a positive integer")
			return
		}
		max = n
	}

	msgs, err := a.store.Broker().Consume(topic, r.URL.Query().Get("sub_key"), max)
	switch {
	case errors.Is(err, pubsub.ErrUnknownTopic), errors.Is(err, pubsub.ErrUnknownConsumer):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs, "count": len(msgs)})
	}
}

// requireToken validates an HS256 bearer token before calling next
func (a *API) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(a.jwtSecret) == 0 {
			writeError(w, http.StatusForbidden, "endpoint disabled: no JWT secret configured")
			return
		}
		tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return a.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]interface{}{"success": false, "error": message})
}
