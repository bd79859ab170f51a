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
	"errors"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/config"
	"integrabus/worker/control"
)

func (s *Store) sourceTable() map[control.Source]sourceHandler {
	return map[control.Source]sourceHandler{
		control.SourceScheduler:      s.invokeFrom(ChannelScheduler),
		control.SourceAMQP:           s.invokeFrom(ChannelAMQP),
		control.SourceJMSWMQ:         s.invokeFrom(ChannelJMSWMQ),
		control.SourceZMQ:            s.invokeFrom(ChannelZMQ),
		control.SourceServicePublish: s.invokeFrom(ChannelPublish),
		control.SourceRunNotifier:    s.invokeFrom(ChannelNotifier),
	}
}

// invokeFrom returns a handler that hands the message's service request to
// the invoker. Invocation failures are logged, not returned.
func (s *Store) invokeFrom(channel string) sourceHandler {
	return func(ctx context.Context, m control.Message) error {
		req, err := control.Payload[control.ServiceRequest](m)
		if err != nil {
			return err
		}
		if req, err = req.Unwrap(); err != nil {
			return err
		}

		inv := Invocation{
			Service:    req.Service,
			Payload:    req.Payload,
			Channel:    channel,
			CID:        req.CID,
			DataFormat: req.DataFormat,
			JobType:    req.JobType,
		}
		if channel == ChannelPublish && req.Transport != "" {
			inv.Channel = req.Transport
		}
		if inv.CID == "" {
			inv.CID = m.CID
		}
		s.invoke(ctx, inv)
		return nil
	}
}

func (s *Store) invoke(ctx context.Context, inv Invocation) {
	if err := s.invoker.Invoke(ctx, inv); err != nil {
		s.logger.Printf("Failed to invoke %s (cid=%s): %v", inv.Service, inv.CID, err)
	}
}

// Cloud notifiers

// notifierRun is the payload of a run-notifier invocation
type notifierRun struct {
	Name        string                   `json:"name"`
	DefKind     base.Kind                `json:"def_kind"`
	DefName     string                   `json:"def_name"`
	Containers  []config.ContainerPrefix `json:"containers"`
	Interval    int                      `json:"interval"`
	ServiceName string                   `json:"service_name"`
}

func (s *Store) onSaveNotifier(ctx context.Context, m control.Message) error {
	n, err := control.Payload[config.Notifier](m)
	if err != nil {
		return err
	}
	s.saveNotifierLocked(ctx, m.OldName, n, m.CID)
	return nil
}

func (s *Store) saveNotifierLocked(ctx context.Context, oldName string, n config.Notifier, cid string) {
	s.notifiers.Update(func(next map[string]config.Notifier) {
		if oldName != "" {
			delete(next, oldName)
		}
		next[n.Name] = n
	})
	s.logger.Printf("Stored notifier '%s' on %s '%s'", n.Name, n.DefKind, n.DefName)

	if n.IsActive {
		s.runNotifierLocked(ctx, n, cid)
	}
}

// runNotifierLocked starts the notifier through the service layer. A
// notifier whose cloud connection is missing is kept but not started.
func (s *Store) runNotifierLocked(ctx context.Context, n config.Notifier, cid string) {
	st, ok := s.res.byKind(n.DefKind)
	if !ok {
		s.logger.Printf("Notifier '%s' refers to unsupported kind %s", n.Name, n.DefKind)
		return
	}
	if _, err := st.Get(n.DefName); errors.Is(err, base.ErrUnknownResource) {
		s.logger.Printf("Notifier '%s' not started, %s '%s' does not exist", n.Name, n.DefKind, n.DefName)
		return
	}

	payload, err := json.Marshal(notifierRun{
		Name:        n.Name,
		DefKind:     n.DefKind,
		DefName:     n.DefName,
		Containers:  n.ContainerPrefixes(),
		Interval:    n.IntervalSeconds,
		ServiceName: n.ServiceName,
	})
	if err != nil {
		s.logger.Printf("Failed to encode notifier '%s': %v", n.Name, err)
		return
	}
	s.invoke(ctx, Invocation{
		Service:    RunNotifierService,
		Payload:    payload,
		Channel:    ChannelNotifier,
		CID:        cid,
		DataFormat: "json",
	})
}

func (s *Store) onDeleteNotifier(ctx context.Context, m control.Message) error {
	ref, err := control.Payload[control.Ref](m)
	if err != nil {
		return err
	}
	if s.notifiers.Delete(ref.Name) {
		s.logger.Printf("Deleted notifier '%s'", ref.Name)
	}
	return nil
}
