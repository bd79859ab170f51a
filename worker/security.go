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
	"encoding/json"
	"fmt"

	"integrabus/worker/connectors/http"
	"integrabus/worker/control"
	"integrabus/worker/security"
)

// decodeDefinition reads a security definition of type typ from m. The
// type comes from the action, not from the body.
func decodeDefinition(m control.Message, typ security.Type) (security.Definition, error) {
	var def security.Definition
	if err := json.Unmarshal(m.Body, &def); err != nil {
		return def, fmt.Errorf("%w: %s: %v", control.ErrMalformed, m.Raw, err)
	}
	def.Type = typ
	if err := def.Validate(); err != nil {
		return def, fmt.Errorf("%w: %s: %v", control.ErrMalformed, m.Raw, err)
	}
	return def, nil
}

func (s *Store) addSecurity(t map[control.Action]handler, typ security.Type) {
	kind := control.SecurityKind(typ)

	t[control.Action{Kind: kind, Verb: control.VerbCreate}] = func(ctx context.Context, m control.Message) error {
		def, err := decodeDefinition(m, typ)
		if err != nil {
			return err
		}
		s.cascadeLocked(ctx, security.Event{
			Change:     security.ChangeCreate,
			Type:       typ,
			Name:       def.Name,
			Definition: def,
		})
		return nil
	}

	t[control.Action{Kind: kind, Verb: control.VerbEdit}] = func(ctx context.Context, m control.Message) error {
		def, err := decodeDefinition(m, typ)
		if err != nil {
			return err
		}
		s.cascadeLocked(ctx, security.Event{
			Change:     security.ChangeEdit,
			Type:       typ,
			Name:       def.Name,
			OldName:    m.OldName,
			Definition: def,
		})
		return nil
	}

	t[control.Action{Kind: kind, Verb: control.VerbDelete}] = func(ctx context.Context, m control.Message) error {
		ref, err := control.Payload[control.Ref](m)
		if err != nil {
			return err
		}
		s.cascadeLocked(ctx, security.Event{Change: security.ChangeDelete, Type: typ, Name: ref.Name})
		return nil
	}

	t[control.Action{Kind: kind, Verb: control.VerbChangePassword}] = func(ctx context.Context, m control.Message) error {
		pc, err := control.Payload[control.PasswordChange](m)
		if err != nil {
			return err
		}
		s.cascadeLocked(ctx, security.Event{Change: security.ChangePassword, Type: typ, Name: pc.Name, Password: pc.Password})
		return nil
	}
}

// cascadeLocked applies ev to the security registry, then to every
// outgoing HTTP and SOAP connection bound to the definition
func (s *Store) cascadeLocked(ctx context.Context, ev security.Event) {
	s.security.Apply(ev)
	if !ev.Type.Cascades() {
		return
	}

	touched := s.res.PlainHTTP.CascadeSecurity(ctx, ev)
	touched += s.res.SOAP.CascadeSecurity(ctx, ev)
	if touched > 0 {
		s.logger.Printf("Security %s of %s '%s' applied to %d connections", ev.Change, ev.Type, ev.TargetName(), touched)
	}
}

// bindLocked fills the security binding of cfg from the registry
func (s *Store) bindLocked(cfg http.Config) http.Config {
	if !cfg.NeedsBinding() {
		return cfg
	}
	def, ok := s.security.Get(cfg.SecType, cfg.SecurityName)
	if !ok {
		s.logger.Printf("Connection '%s' refers to unknown %s definition '%s'", cfg.Name, cfg.SecType, cfg.SecurityName)
		return cfg
	}
	return cfg.WithSecurity(def)
}
