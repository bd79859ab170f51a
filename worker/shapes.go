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
	"fmt"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/cassandra"
	"integrabus/worker/control"
	"integrabus/worker/msgshape"
)

func (s *Store) onCreateNamespace(ctx context.Context, m control.Message) error {
	ns, err := control.Payload[msgshape.Namespace](m)
	if err != nil {
		return err
	}
	s.shapes.CreateNamespace(ns)
	return nil
}

func (s *Store) onEditNamespace(ctx context.Context, m control.Message) error {
	ns, err := control.Payload[msgshape.Namespace](m)
	if err != nil {
		return err
	}
	s.shapes.EditNamespace(m.OldName, ns)
	return nil
}

func (s *Store) onDeleteNamespace(ctx context.Context, m control.Message) error {
	ref, err := control.Payload[control.Ref](m)
	if err != nil {
		return err
	}
	s.shapes.DeleteNamespace(ref.Name)
	return nil
}

func (s *Store) onCreateXPath(ctx context.Context, m control.Message) error {
	e, err := control.Payload[msgshape.Expression](m)
	if err != nil {
		return err
	}
	if err := s.shapes.CreateXPath(e); err != nil {
		s.logger.Printf("Stored xpath '%s' that does not compile: %v", e.Name, err)
	}
	return nil
}

func (s *Store) onEditXPath(ctx context.Context, m control.Message) error {
	e, err := control.Payload[msgshape.Expression](m)
	if err != nil {
		return err
	}
	if err := s.shapes.EditXPath(m.OldName, e); err != nil {
		s.logger.Printf("Stored xpath '%s' that does not compile: %v", e.Name, err)
	}
	return nil
}

func (s *Store) onDeleteXPath(ctx context.Context, m control.Message) error {
	ref, err := control.Payload[control.Ref](m)
	if err != nil {
		return err
	}
	s.shapes.DeleteXPath(ref.Name)
	return nil
}

func (s *Store) onCreateJSONPointer(ctx context.Context, m control.Message) error {
	e, err := control.Payload[msgshape.Expression](m)
	if err != nil {
		return err
	}
	if err := s.shapes.CreateJSONPointer(e); err != nil {
		s.logger.Printf("Rejected json pointer '%s': %v", e.Name, err)
	}
	return nil
}

func (s *Store) onEditJSONPointer(ctx context.Context, m control.Message) error {
	e, err := control.Payload[msgshape.Expression](m)
	if err != nil {
		return err
	}
	if err := s.shapes.EditJSONPointer(m.OldName, e); err != nil {
		s.logger.Printf("Rejected json pointer '%s': %v", e.Name, err)
	}
	return nil
}

func (s *Store) onDeleteJSONPointer(ctx context.Context, m control.Message) error {
	ref, err := control.Payload[control.Ref](m)
	if err != nil {
		return err
	}
	s.shapes.DeleteJSONPointer(ref.Name)
	return nil
}

// Cassandra queries

func (s *Store) onEditCassandra(ctx context.Context, m control.Message) error {
	cfg, err := control.Payload[cassandra.Config](m)
	if err != nil {
		return err
	}
	s.res.Cassandra.Edit(ctx, m.OldName, cfg)
	if m.OldName != "" && m.OldName != cfg.Name {
		s.repointQueriesLocked(m.OldName, cfg.Name)
	}
	return nil
}

// repointQueriesLocked moves the queries of definition oldName to newName
func (s *Store) repointQueriesLocked(oldName, newName string) {
	moved := 0
	s.queries.Update(func(next map[string]cassandra.QueryConfig) {
		for name, q := range next {
			if q.DefName == oldName {
				q.DefName = newName
				next[name] = q
				moved++
			}
		}
	})
	if moved > 0 {
		s.logger.Printf("Moved %d cassandra queries from '%s' to '%s'", moved, oldName, newName)
	}
}

func (s *Store) onSaveQuery(ctx context.Context, m control.Message) error {
	q, err := control.Payload[cassandra.QueryConfig](m)
	if err != nil {
		return err
	}
	s.saveQueryLocked(m.OldName, q)
	return nil
}

func (s *Store) saveQueryLocked(oldName string, q cassandra.QueryConfig) {
	s.queries.Update(func(next map[string]cassandra.QueryConfig) {
		if oldName != "" {
			delete(next, oldName)
		}
		next[q.Name] = q
	})
	if _, err := s.res.Cassandra.Get(q.DefName); err != nil {
		s.logger.Printf("Stored cassandra query '%s' for unavailable definition '%s': %v", q.Name, q.DefName, err)
		return
	}
	s.logger.Printf("Stored cassandra query '%s' on '%s'", q.Name, q.DefName)
}

func (s *Store) onDeleteQuery(ctx context.Context, m control.Message) error {
	ref, err := control.Payload[control.Ref](m)
	if err != nil {
		return err
	}
	if s.queries.Delete(ref.Name) {
		s.logger.Printf("Deleted cassandra query '%s'", ref.Name)
	}
	return nil
}

// Query returns the cassandra query stored under name
func (s *Store) Query(name string) (cassandra.QueryConfig, bool) {
	return s.queries.Load(name)
}

// ExecuteQuery runs the named cassandra query through its definition's session
func (s *Store) ExecuteQuery(ctx context.Context, name string, args ...interface{}) (*base.QueryResult, error) {
	q, ok := s.queries.Load(name)
	if !ok {
		return nil, base.NewConnectorError(name, "ExecuteQuery", "cassandra query not found", base.ErrUnknownResource)
	}
	if !q.IsActive {
		return nil, base.NewConnectorError(name, "ExecuteQuery", "cassandra query is inactive", base.ErrInactive)
	}

	conn, err := s.res.Cassandra.Get(q.DefName)
	if err != nil {
		return nil, fmt.Errorf("cassandra query %s: %w", name, err)
	}
	querier, ok := conn.(base.Querier)
	if !ok {
		return nil, base.NewConnectorError(name, "ExecuteQuery", "definition does not run statements", nil)
	}
	return q.Run(ctx, querier, args...)
}
