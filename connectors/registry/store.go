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

package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"integrabus/worker/connectors/base"
	"integrabus/worker/security"
)

// DefaultConnectTimeout bounds a single build when the caller's context has no deadline
const DefaultConnectTimeout = 30 * time.Second

// Builder creates an unconnected connector for a configuration
type Builder[C base.Config] func(cfg C) base.Connector

// Observer receives store changes, typically to update metrics
type Observer interface {
	ResourcesChanged(kind base.Kind, connected, disconnected int)
	CascadeApplied(kind base.Kind, change security.Change)
}

// Wrapper pairs a configuration with the connection built from it
type Wrapper[C base.Config] struct {
	Config     C
	Conn       base.Connector
	Connected  bool
	BuildError string
	BuiltAt    time.Time
}

// Info is the read-only view of a wrapper returned to admin callers
type Info struct {
	Name       string    `json:"name"`
	Active     bool      `json:"is_active"`
	Connected  bool      `json:"connected"`
	BuildError string    `json:"build_error,omitempty"`
	BuiltAt    time.Time `json:"built_at,omitempty"`
}

// Store holds the live wrappers of one resource kind.
//
// Reads are lock-free. Mutations are expected to be serialized by the
// caller, which holds the worker's update lock while it runs a handler.
type Store[C base.Config] struct {
	kind           base.Kind
	build          Builder[C]
	wrappers       Map[*Wrapper[C]]
	observer       Observer
	connectTimeout time.Duration
	logger         *log.Logger
}

// NewStore creates an empty store for kind
func NewStore[C base.Config](kind base.Kind, build Builder[C]) *Store[C] {
	prefix := strings.ToUpper(strings.NewReplacer(".", "_").Replace(string(kind)))
	return &Store[C]{
		kind:           kind,
		build:          build,
		connectTimeout: DefaultConnectTimeout,
		logger:         log.New(os.Stdout, fmt.Sprintf("[STORE_%s] ", prefix), log.LstdFlags),
	}
}

// SetObserver installs the change observer
func (s *Store[C]) SetObserver(o Observer) {
	s.observer = o
}

// SetConnectTimeout overrides DefaultConnectTimeout
func (s *Store[C]) SetConnectTimeout(d time.Duration) {
	s.connectTimeout = d
}

// Kind returns the kind of resources held
func (s *Store[C]) Kind() base.Kind {
	return s.kind
}

// Create builds the connection for cfg and stores it under cfg's name,
// replacing any wrapper already stored there. A failed build is logged and
// the wrapper is still stored, disconnected, so an operator can see the error
// and fix the configuration.
func (s *Store[C]) Create(ctx context.Context, cfg C) {
	s.replace(ctx, cfg.ResourceName(), cfg)
}

// replace builds the wrapper for cfg, then publishes it and removes oldName
// in one map update, and only then closes the connections it displaced.
// Readers see either the old wrapper or the new one, never neither.
func (s *Store[C]) replace(ctx context.Context, oldName string, cfg C) {
	name := cfg.ResourceName()

	w := &Wrapper[C]{Config: cfg}
	if cfg.Active() {
		s.connect(ctx, w)
	} else {
		s.logger.Printf("Stored inactive %s '%s' without connecting", s.kind, name)
	}

	var displaced []*Wrapper[C]
	s.wrappers.Update(func(next map[string]*Wrapper[C]) {
		if old, ok := next[oldName]; ok {
			displaced = append(displaced, old)
			delete(next, oldName)
		}
		if old, ok := next[name]; ok && name != oldName {
			displaced = append(displaced, old)
		}
		next[name] = w
	})

	for _, old := range displaced {
		s.disconnect(ctx, old)
		if oldName != name && old.Config.ResourceName() == oldName {
			s.logger.Printf("Renamed %s '%s' to '%s'", s.kind, oldName, name)
		}
	}
	s.changed()
}

func (s *Store[C]) connect(ctx context.Context, w *Wrapper[C]) {
	name := w.Config.ResourceName()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
	}

	conn := s.build(w.Config)
	w.Conn = conn
	w.BuiltAt = time.Now()

	if err := conn.Connect(ctx); err != nil {
		w.BuildError = err.Error()
		s.logger.Printf("Failed to build %s '%s': %v (config: %+v)", s.kind, name, err, sanitized(w.Config))
		if cerr := conn.Disconnect(ctx); cerr != nil {
			s.logger.Printf("Cleanup after failed build of '%s': %v", name, cerr)
		}
		return
	}

	w.Connected = true
	s.logger.Printf("Built %s '%s'", s.kind, name)
}

// Edit replaces the wrapper stored under oldName with one built from cfg.
// An empty oldName means cfg's name. The connection is always rebuilt, and
// the old one stays readable until the new one is in place.
func (s *Store[C]) Edit(ctx context.Context, oldName string, cfg C) {
	if oldName == "" {
		oldName = cfg.ResourceName()
	}
	s.replace(ctx, oldName, cfg)
}

// Delete closes and removes the wrapper stored under name. Unknown names are ignored.
func (s *Store[C]) Delete(ctx context.Context, name string) {
	if s.delete(ctx, name) {
		s.changed()
	}
}

func (s *Store[C]) delete(ctx context.Context, name string) bool {
	w, exists := s.wrappers.Load(name)
	if !exists {
		return false
	}

	s.wrappers.Delete(name)
	s.disconnect(ctx, w)
	s.logger.Printf("Deleted %s '%s'", s.kind, name)
	return true
}

// disconnect closes a wrapper that is no longer published
func (s *Store[C]) disconnect(ctx context.Context, w *Wrapper[C]) {
	if w.Conn == nil {
		return
	}
	if err := w.Conn.Disconnect(ctx); err != nil {
		s.logger.Printf("Error closing %s '%s': %v", s.kind, w.Config.ResourceName(), err)
	}
}

// ChangePassword rebuilds the wrapper under name with a new secret.
// Unknown names and kinds without a password are ignored. So are wrappers
// that authenticate through a security definition.
func (s *Store[C]) ChangePassword(ctx context.Context, name, password string) {
	w, exists := s.wrappers.Load(name)
	if !exists {
		s.logger.Printf("Ignoring password change of unknown %s '%s'", s.kind, name)
		return
	}

	pw, ok := any(w.Config).(interface{ WithPassword(string) C })
	if !ok {
		s.logger.Printf("%s '%s' has no password to change", s.kind, name)
		return
	}
	if cf, ok := any(w.Config).(interface{ CredentialsFrom() string }); ok {
		if def := cf.CredentialsFrom(); def != "" {
			s.logger.Printf("Ignoring password change of %s '%s': credentials come from security definition '%s'", s.kind, name, def)
			return
		}
	}

	s.logger.Printf("Changing password of %s '%s'", s.kind, name)
	s.Edit(ctx, name, pw.WithPassword(password))
}

// CascadeSecurity applies a security event to every wrapper bound to the
// event's definition. Deletes remove the wrapper. Edits and password changes
// rebind the live connection in place; a failed rebind is logged and the
// cascade moves on. Creates bind only the wrappers still waiting for the
// definition. It returns the number of wrappers touched.
func (s *Store[C]) CascadeSecurity(ctx context.Context, ev security.Event) int {
	touched := 0
	target := ev.TargetName()

	for _, name := range s.wrappers.Keys() {
		w, ok := s.wrappers.Load(name)
		if !ok {
			continue
		}
		bound, ok := any(w.Config).(security.Target[C])
		if !ok {
			return 0
		}
		binding := bound.SecurityBinding()
		if !binding.Matches(ev.Type, target) {
			continue
		}
		if ev.Change == security.ChangeCreate {
			if waiter, ok := any(w.Config).(security.Waiter); !ok || !waiter.NeedsBinding() {
				continue
			}
		}
		touched++

		if ev.Change == security.ChangeDelete {
			s.logger.Printf("Security definition '%s' deleted, removing %s '%s'", target, s.kind, name)
			s.delete(ctx, name)
			continue
		}

		def := ev.Apply(binding)
		if w.Connected {
			if rb, ok := w.Conn.(security.Rebinder); ok {
				if err := rb.Rebind(def); err != nil {
					s.logger.Printf("Failed to rebind %s '%s' to '%s': %v", s.kind, name, def.Name, err)
				}
			}
		}

		s.wrappers.Store(name, &Wrapper[C]{
			Config:     bound.WithSecurity(def),
			Conn:       w.Conn,
			Connected:  w.Connected,
			BuildError: w.BuildError,
			BuiltAt:    w.BuiltAt,
		})
		s.logger.Printf("Applied security %s of '%s' to %s '%s'", ev.Change, target, s.kind, name)
	}

	if touched > 0 {
		if s.observer != nil {
			s.observer.CascadeApplied(s.kind, ev.Change)
		}
		s.changed()
	}
	return touched
}

// Get returns the live connection stored under name
func (s *Store[C]) Get(name string) (base.Connector, error) {
	w, exists := s.wrappers.Load(name)
	if !exists {
		return nil, base.NewConnectorError(name, "Get", string(s.kind)+" not found", base.ErrUnknownResource)
	}
	if !w.Config.Active() {
		return nil, base.NewConnectorError(name, "Get", string(s.kind)+" is inactive", base.ErrInactive)
	}
	if !w.Connected {
		return nil, base.NewConnectorError(name, "Get", w.BuildError, base.ErrNotConnected)
	}
	return w.Conn, nil
}

// Lookup returns the wrapper stored under name. The wrapper must not be modified.
func (s *Store[C]) Lookup(name string) (*Wrapper[C], bool) {
	return s.wrappers.Load(name)
}

// Config returns the configuration stored under name
func (s *Store[C]) Config(name string) (C, bool) {
	w, ok := s.wrappers.Load(name)
	if !ok {
		var zero C
		return zero, false
	}
	return w.Config, true
}

// Names returns the stored names in sorted order
func (s *Store[C]) Names() []string {
	return s.wrappers.Keys()
}

// Len returns the number of stored wrappers
func (s *Store[C]) Len() int {
	return s.wrappers.Len()
}

// Infos returns a view of every wrapper, sorted by name
func (s *Store[C]) Infos() []Info {
	snap := s.wrappers.Snapshot()
	out := make([]Info, 0, len(snap))
	for _, name := range s.wrappers.Keys() {
		w, ok := snap[name]
		if !ok {
			continue
		}
		out = append(out, Info{
			Name:       name,
			Active:     w.Config.Active(),
			Connected:  w.Connected,
			BuildError: w.BuildError,
			BuiltAt:    w.BuiltAt,
		})
	}
	return out
}

// Health checks every connected wrapper
func (s *Store[C]) Health(ctx context.Context) map[string]*base.HealthStatus {
	results := make(map[string]*base.HealthStatus)

	for name, w := range s.wrappers.Snapshot() {
		if !w.Connected {
			results[name] = &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: "not connected: " + w.BuildError}
			continue
		}
		status, err := w.Conn.HealthCheck(ctx)
		if err != nil {
			s.logger.Printf("Health check failed for %s '%s': %v", s.kind, name, err)
			status = &base.HealthStatus{Healthy: false, Timestamp: time.Now(), Error: err.Error()}
		}
		results[name] = status
	}
	return results
}

// CloseAll closes and removes every wrapper. Used at shutdown.
func (s *Store[C]) CloseAll(ctx context.Context) {
	for _, name := range s.wrappers.Keys() {
		s.delete(ctx, name)
	}
	s.changed()
}

func (s *Store[C]) changed() {
	if s.observer == nil {
		return
	}
	connected, disconnected := 0, 0
	for _, w := range s.wrappers.Snapshot() {
		if w.Connected {
			connected++
		} else {
			disconnected++
		}
	}
	s.observer.ResourcesChanged(s.kind, connected, disconnected)
}

func sanitized[C base.Config](cfg C) any {
	if sc, ok := any(cfg).(interface{ Sanitized() C }); ok {
		return sc.Sanitized()
	}
	return cfg
}
