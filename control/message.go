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

package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"integrabus/worker/connectors/base"
	"integrabus/worker/security"
)

// ErrMalformed is returned for control messages that cannot be routed or decoded
var ErrMalformed = errors.New("malformed control message")

// Verb is the operation a configuration message applies
type Verb string

const (
	VerbCreate         Verb = "create"
	VerbCreateOrEdit   Verb = "create_or_edit"
	VerbEdit           Verb = "edit"
	VerbDelete         Verb = "delete"
	VerbChangePassword Verb = "change_password"
)

// Verbs lists every configuration verb
var Verbs = []Verb{VerbCreate, VerbCreateOrEdit, VerbEdit, VerbDelete, VerbChangePassword}

// Kinds of configuration that are not outbound resources
const (
	KindNamespace      = "msg.ns"
	KindXPath          = "msg.xpath"
	KindJSONPointer    = "msg.json_pointer"
	KindCassandraQuery = "query.cassandra"
	KindTopic          = "pubsub.topic"
	KindProducer       = "pubsub.producer"
	KindConsumer       = "pubsub.consumer"
	KindNotifier       = "notif.cloud"

	securityKindPrefix = "security."
)

// SecurityKind returns the action kind of a security definition type
func SecurityKind(t security.Type) string {
	return securityKindPrefix + string(t)
}

// SecurityType returns the definition type of a security kind
func SecurityType(kind string) (security.Type, bool) {
	if !strings.HasPrefix(kind, securityKindPrefix) {
		return "", false
	}
	t := security.Type(strings.TrimPrefix(kind, securityKindPrefix))
	return t, t.Valid()
}

// Action is the (kind, verb) pair a configuration message is routed by
type Action struct {
	Kind string
	Verb Verb
}

// For returns the action of a resource kind
func For(kind base.Kind, verb Verb) Action {
	return Action{Kind: string(kind), Verb: verb}
}

func (a Action) String() string {
	return a.Kind + "." + string(a.Verb)
}

// ParseAction splits s at its last dot into kind and verb
func ParseAction(s string) (Action, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return Action{}, fmt.Errorf("action %q: %w", s, ErrMalformed)
	}
	verb := Verb(s[i+1:])
	if verb == "create_edit" {
		verb = VerbCreateOrEdit
	}
	return Action{Kind: s[:i], Verb: verb}, nil
}

// Source names a service invocation message. Such messages carry a fired
// job or an inbound channel message and are handed to the invoker.
type Source string

const (
	SourceScheduler      Source = "scheduler.job_executed"
	SourceAMQP           Source = "channel.amqp.message_received"
	SourceJMSWMQ         Source = "channel.jms_wmq.message_received"
	SourceZMQ            Source = "channel.zmq.message_received"
	SourceServicePublish Source = "service.publish"
	SourceRunNotifier    Source = "notif.run_notifier"
)

// Sources lists every invocation source
var Sources = []Source{SourceScheduler, SourceAMQP, SourceJMSWMQ, SourceZMQ, SourceServicePublish, SourceRunNotifier}

// Message is a decoded control message. Body keeps the full JSON object so
// the handler for Action can decode its kind-specific fields.
type Message struct {
	Raw       string `json:"action"`
	Name      string `json:"name"`
	OldName   string `json:"old_name,omitempty"`
	ClusterID string `json:"cluster_id,omitempty"`
	CID       string `json:"cid,omitempty"`

	Action Action          `json:"-"`
	Body   json.RawMessage `json:"-"`
}

// IsRename reports whether the message renames its target
func (m Message) IsRename() bool {
	return m.OldName != "" && m.OldName != m.Name
}

// Source returns the invocation source of the message, if it is one
func (m Message) Source() (Source, bool) {
	for _, s := range Sources {
		if string(s) == m.Raw {
			return s, true
		}
	}
	return "", false
}

// Decode parses the envelope of a control message
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(m.Raw) == "" {
		return Message{}, fmt.Errorf("%w: action is required", ErrMalformed)
	}
	if _, ok := m.Source(); !ok {
		a, err := ParseAction(m.Raw)
		if err != nil {
			return Message{}, err
		}
		m.Action = a
	}
	m.Body = append(json.RawMessage(nil), data...)
	return m, nil
}

// Validator is implemented by every typed payload
type Validator interface {
	Validate() error
}

// Payload decodes the kind-specific fields of m into C and validates them
func Payload[C Validator](m Message) (C, error) {
	var cfg C
	if err := json.Unmarshal(m.Body, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Raw, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Raw, err)
	}
	return cfg, nil
}

// Ref identifies the target of a delete
type Ref struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

func (r Ref) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// PasswordChange carries a new secret. Some senders use password1/password2.
type PasswordChange struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name"`
	Password  string `json:"password"`
	Password1 string `json:"password1,omitempty"`
	Password2 string `json:"password2,omitempty"`
}

func (p *PasswordChange) UnmarshalJSON(data []byte) error {
	type plain PasswordChange
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Password == "" {
		v.Password = v.Password1
	}
	*p = PasswordChange(v)
	return nil
}

func (p PasswordChange) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.Password2 != "" && p.Password1 != p.Password2 {
		return fmt.Errorf("passwords do not match")
	}
	return nil
}

// ServiceRequest is the body of an invocation message
type ServiceRequest struct {
	Service    string          `json:"service"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DataFormat string          `json:"data_format,omitempty"`
	Transport  string          `json:"transport,omitempty"`
	JobType    string          `json:"job_type,omitempty"`
	CID        string          `json:"cid,omitempty"`
	// Request holds a nested, JSON-encoded request (run-notifier messages)
	Request string `json:"request,omitempty"`
}

// Validate checks that a service is named, unwrapping a nested request first
func (r ServiceRequest) Validate() error {
	if r.Service == "" && r.Request == "" {
		return fmt.Errorf("service is required")
	}
	return nil
}

// Unwrap returns the nested request of a run-notifier message, or r itself
func (r ServiceRequest) Unwrap() (ServiceRequest, error) {
	if r.Request == "" {
		return r, nil
	}
	var inner ServiceRequest
	if err := json.Unmarshal([]byte(r.Request), &inner); err != nil {
		return r, fmt.Errorf("%w: nested request: %v", ErrMalformed, err)
	}
	if inner.CID == "" {
		inner.CID = r.CID
	}
	if inner.Service == "" {
		return r, fmt.Errorf("%w: nested request names no service", ErrMalformed)
	}
	return inner, nil
}
