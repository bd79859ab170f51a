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

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/registry"
	"integrabus/worker/control"
	"integrabus/worker/security"
)

var (
	crud   = []control.Verb{control.VerbCreate, control.VerbEdit, control.VerbDelete}
	upsert = []control.Verb{control.VerbCreate, control.VerbCreateOrEdit, control.VerbEdit, control.VerbDelete}
	secret = []control.Verb{control.VerbCreate, control.VerbCreateOrEdit, control.VerbEdit, control.VerbDelete, control.VerbChangePassword}
)

// declaredActions lists every configuration action a worker accepts
func declaredActions() []control.Action {
	var out []control.Action
	add := func(kind string, verbs []control.Verb) {
		for _, v := range verbs {
			out = append(out, control.Action{Kind: kind, Verb: v})
		}
	}

	for _, k := range []base.Kind{
		base.KindSQL, base.KindFTP, base.KindPlainHTTP, base.KindSOAP,
		base.KindRedis, base.KindMongoDB, base.KindCassandra, base.KindElasticSearch,
		base.KindSMTP, base.KindIMAP, base.KindS3, base.KindAzureBlob, base.KindGCS,
	} {
		add(string(k), secret)
	}
	add(string(base.KindSolr), upsert)

	for _, t := range security.Types {
		add(control.SecurityKind(t), []control.Verb{control.VerbCreate, control.VerbEdit, control.VerbDelete, control.VerbChangePassword})
	}

	for _, k := range []string{
		control.KindNamespace, control.KindXPath, control.KindJSONPointer,
		control.KindCassandraQuery,
		control.KindTopic, control.KindProducer, control.KindConsumer,
		control.KindNotifier,
	} {
		add(k, crud)
	}
	return out
}

func (s *Store) handlerTable() map[control.Action]handler {
	t := make(map[control.Action]handler)

	addResource(t, s.res.SQL, nil)
	addResource(t, s.res.FTP, nil)
	addResource(t, s.res.PlainHTTP, s.bindLocked)
	addResource(t, s.res.SOAP, s.bindLocked)
	addResource(t, s.res.Redis, nil)
	addResource(t, s.res.MongoDB, nil)
	addResource(t, s.res.Cassandra, nil)
	addResource(t, s.res.Elasticsearch, nil)
	addResource(t, s.res.Solr, nil)
	addResource(t, s.res.SMTP, nil)
	addResource(t, s.res.IMAP, nil)
	addResource(t, s.res.S3, nil)
	addResource(t, s.res.AzureBlob, nil)
	addResource(t, s.res.GCS, nil)

	// Cassandra edits also re-point the queries of a renamed definition
	t[control.For(base.KindCassandra, control.VerbEdit)] = s.onEditCassandra
	t[control.For(base.KindCassandra, control.VerbCreateOrEdit)] = s.onEditCassandra

	for _, typ := range security.Types {
		s.addSecurity(t, typ)
	}

	t[control.Action{Kind: control.KindNamespace, Verb: control.VerbCreate}] = s.onCreateNamespace
	t[control.Action{Kind: control.KindNamespace, Verb: control.VerbEdit}] = s.onEditNamespace
	t[control.Action{Kind: control.KindNamespace, Verb: control.VerbDelete}] = s.onDeleteNamespace
	t[control.Action{Kind: control.KindXPath, Verb: control.VerbCreate}] = s.onCreateXPath
	t[control.Action{Kind: control.KindXPath, Verb: control.VerbEdit}] = s.onEditXPath
	t[control.Action{Kind: control.KindXPath, Verb: control.VerbDelete}] = s.onDeleteXPath
	t[control.Action{Kind: control.KindJSONPointer, Verb: control.VerbCreate}] = s.onCreateJSONPointer
	t[control.Action{Kind: control.KindJSONPointer, Verb: control.VerbEdit}] = s.onEditJSONPointer
	t[control.Action{Kind: control.KindJSONPointer, Verb: control.VerbDelete}] = s.onDeleteJSONPointer

	t[control.Action{Kind: control.KindCassandraQuery, Verb: control.VerbCreate}] = s.onSaveQuery
	t[control.Action{Kind: control.KindCassandraQuery, Verb: control.VerbEdit}] = s.onSaveQuery
	t[control.Action{Kind: control.KindCassandraQuery, Verb: control.VerbDelete}] = s.onDeleteQuery

	t[control.Action{Kind: control.KindTopic, Verb: control.VerbCreate}] = s.onCreateTopic
	t[control.Action{Kind: control.KindTopic, Verb: control.VerbEdit}] = s.onEditTopic
	t[control.Action{Kind: control.KindTopic, Verb: control.VerbDelete}] = s.onDeleteTopic
	t[control.Action{Kind: control.KindProducer, Verb: control.VerbCreate}] = s.onCreateProducer
	t[control.Action{Kind: control.KindProducer, Verb: control.VerbEdit}] = s.onEditProducer
	t[control.Action{Kind: control.KindProducer, Verb: control.VerbDelete}] = s.onDeleteProducer
	t[control.Action{Kind: control.KindConsumer, Verb: control.VerbCreate}] = s.onCreateConsumer
	t[control.Action{Kind: control.KindConsumer, Verb: control.VerbEdit}] = s.onEditConsumer
	t[control.Action{Kind: control.KindConsumer, Verb: control.VerbDelete}] = s.onDeleteConsumer

	t[control.Action{Kind: control.KindNotifier, Verb: control.VerbCreate}] = s.onSaveNotifier
	t[control.Action{Kind: control.KindNotifier, Verb: control.VerbEdit}] = s.onSaveNotifier
	t[control.Action{Kind: control.KindNotifier, Verb: control.VerbDelete}] = s.onDeleteNotifier

	return t
}

// addResource registers the handlers of one resource store. prepare, if
// set, completes a decoded config before it is built. change_password is
// registered only for kinds that carry a secret.
func addResource[C base.Config](t map[control.Action]handler, st *registry.Store[C], prepare func(C) C) {
	kind := st.Kind()
	if prepare == nil {
		prepare = func(cfg C) C { return cfg }
	}

	t[control.For(kind, control.VerbCreate)] = func(ctx context.Context, m control.Message) error {
		cfg, err := control.Payload[C](m)
		if err != nil {
			return err
		}
		st.Create(ctx, prepare(cfg))
		return nil
	}

	edit := func(ctx context.Context, m control.Message) error {
		cfg, err := control.Payload[C](m)
		if err != nil {
			return err
		}
		st.Edit(ctx, m.OldName, prepare(cfg))
		return nil
	}
	t[control.For(kind, control.VerbEdit)] = edit
	t[control.For(kind, control.VerbCreateOrEdit)] = edit

	t[control.For(kind, control.VerbDelete)] = func(ctx context.Context, m control.Message) error {
		ref, err := control.Payload[control.Ref](m)
		if err != nil {
			return err
		}
		st.Delete(ctx, ref.Name)
		return nil
	}

	var zero C
	if _, ok := any(zero).(interface{ WithPassword(string) C }); !ok {
		return
	}
	t[control.For(kind, control.VerbChangePassword)] = func(ctx context.Context, m control.Message) error {
		pc, err := control.Payload[control.PasswordChange](m)
		if err != nil {
			return err
		}
		st.ChangePassword(ctx, pc.Name, pc.Password)
		return nil
	}
}
