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

package msgshape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/go-openapi/jsonpointer"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/registry"
)

// ErrUnknownExpression is returned when evaluating a name that is not stored
var ErrUnknownExpression = errors.New("unknown expression")

// Namespace maps an XML prefix (Name) to a namespace URI (Value)
type Namespace struct {
	base.Common `yaml:",inline"`
	Value       string `json:"value" yaml:"value"`
}

// Validate checks the prefix and URI
func (n Namespace) Validate() error {
	if err := n.Common.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(n.Value) == "" {
		return fmt.Errorf("namespace %s: value is required", n.Name)
	}
	return nil
}

// Expression is a named XPath or JSON pointer
type Expression struct {
	base.Common `yaml:",inline"`
	Value       string `json:"value" yaml:"value"`
}

// Validate checks the name and expression text
func (e Expression) Validate() error {
	if err := e.Common.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Value) == "" {
		return fmt.Errorf("expression %s: value is required", e.Name)
	}
	return nil
}

type compiledXPath struct {
	Expression
	expr *xpath.Expr
	err  error
}

type parsedPointer struct {
	Expression
	ptr jsonpointer.Pointer
}

// Store holds namespaces and the XPath and JSON pointer expressions compiled
// against them. Reads are lock-free; writes are serialized by the caller.
type Store struct {
	namespaces registry.Map[Namespace]
	xpaths     registry.Map[*compiledXPath]
	pointers   registry.Map[*parsedPointer]
	logger     *log.Logger
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		logger: log.New(os.Stdout, "[MSGSHAPE] ", log.LstdFlags),
	}
}

// nsMap returns prefix -> URI for the namespaces in effect
func (s *Store) nsMap() map[string]string {
	out := make(map[string]string)
	for prefix, ns := range s.namespaces.Snapshot() {
		out[prefix] = ns.Value
	}
	return out
}

// CreateNamespace stores ns and recompiles every XPath
func (s *Store) CreateNamespace(ns Namespace) {
	s.namespaces.Store(ns.Name, ns)
	s.logger.Printf("Stored namespace '%s' -> %s", ns.Name, ns.Value)
	s.recompile()
}

// EditNamespace replaces the namespace stored under oldName and recompiles every XPath
func (s *Store) EditNamespace(oldName string, ns Namespace) {
	if oldName == "" {
		oldName = ns.Name
	}
	s.namespaces.Update(func(next map[string]Namespace) {
		delete(next, oldName)
		next[ns.Name] = ns
	})
	s.logger.Printf("Updated namespace '%s' -> '%s' (%s)", oldName, ns.Name, ns.Value)
	s.recompile()
}

// DeleteNamespace removes a prefix and recompiles every XPath
func (s *Store) DeleteNamespace(name string) {
	if s.namespaces.Delete(name) {
		s.logger.Printf("Deleted namespace '%s'", name)
		s.recompile()
	}
}

// Namespaces returns prefix -> URI
func (s *Store) Namespaces() map[string]string {
	return s.nsMap()
}

// recompile rebuilds every XPath against the current namespaces. An
// expression that no longer compiles is kept with its error.
func (s *Store) recompile() {
	ns := s.nsMap()
	s.xpaths.Update(func(next map[string]*compiledXPath) {
		for name, cx := range next {
			rebuilt := compile(cx.Expression, ns)
			if rebuilt.err != nil {
				s.logger.Printf("XPath '%s' no longer compiles: %v", name, rebuilt.err)
			}
			next[name] = rebuilt
		}
	})
}

func compile(e Expression, ns map[string]string) *compiledXPath {
	expr, err := xpath.CompileWithNS(e.Value, ns)
	return &compiledXPath{Expression: e, expr: expr, err: err}
}

// CreateXPath compiles and stores an XPath expression. A compile error is
// returned and the expression is stored anyway so a later namespace change
// can fix it.
func (s *Store) CreateXPath(e Expression) error {
	cx := compile(e, s.nsMap())
	s.xpaths.Store(e.Name, cx)
	if cx.err != nil {
		return fmt.Errorf("compile xpath %s: %w", e.Name, cx.err)
	}
	s.logger.Printf("Stored xpath '%s'", e.Name)
	return nil
}

// EditXPath replaces the XPath stored under oldName
func (s *Store) EditXPath(oldName string, e Expression) error {
	if oldName != "" && oldName != e.Name {
		s.xpaths.Delete(oldName)
	}
	return s.CreateXPath(e)
}

// DeleteXPath removes an XPath. Unknown names are ignored.
func (s *Store) DeleteXPath(name string) {
	if s.xpaths.Delete(name) {
		s.logger.Printf("Deleted xpath '%s'", name)
	}
}

// XPathNames returns the stored XPath names in sorted order
func (s *Store) XPathNames() []string {
	return s.xpaths.Keys()
}

// EvalXPath runs the named expression over an XML document. Node-set results
// are returned as the string value of each node; scalar results as a single
// string.
func (s *Store) EvalXPath(name string, doc []byte) ([]string, error) {
	cx, ok := s.xpaths.Load(name)
	if !ok {
		return nil, fmt.Errorf("xpath %s: %w", name, ErrUnknownExpression)
	}
	if cx.err != nil {
		return nil, fmt.Errorf("xpath %s: %w", name, cx.err)
	}

	root, err := xmlquery.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse document for xpath %s: %w", name, err)
	}

	switch v := cx.expr.Evaluate(xmlquery.CreateXPathNavigator(root)).(type) {
	case *xpath.NodeIterator:
		var out []string
		for v.MoveNext() {
			out = append(out, v.Current().Value())
		}
		return out, nil
	case float64:
		return []string{fmt.Sprint(v)}, nil
	case bool:
		return []string{fmt.Sprint(v)}, nil
	case string:
		return []string{v}, nil
	default:
		return nil, fmt.Errorf("xpath %s: unsupported result %T", name, v)
	}
}

// CreateJSONPointer parses and stores a JSON pointer
func (s *Store) CreateJSONPointer(e Expression) error {
	ptr, err := jsonpointer.New(e.Value)
	if err != nil {
		return fmt.Errorf("parse json pointer %s: %w", e.Name, err)
	}
	s.pointers.Store(e.Name, &parsedPointer{Expression: e, ptr: ptr})
	s.logger.Printf("Stored json pointer '%s' (%s)", e.Name, e.Value)
	return nil
}

// EditJSONPointer replaces the pointer stored under oldName
func (s *Store) EditJSONPointer(oldName string, e Expression) error {
	ptr, err := jsonpointer.New(e.Value)
	if err != nil {
		return fmt.Errorf("parse json pointer %s: %w", e.Name, err)
	}
	if oldName == "" {
		oldName = e.Name
	}
	s.pointers.Update(func(next map[string]*parsedPointer) {
		delete(next, oldName)
		next[e.Name] = &parsedPointer{Expression: e, ptr: ptr}
	})
	s.logger.Printf("Updated json pointer '%s' -> '%s'", oldName, e.Name)
	return nil
}

// DeleteJSONPointer removes a pointer. Unknown names are ignored.
func (s *Store) DeleteJSONPointer(name string) {
	if s.pointers.Delete(name) {
		s.logger.Printf("Deleted json pointer '%s'", name)
	}
}

// JSONPointerNames returns the stored pointer names in sorted order
func (s *Store) JSONPointerNames() []string {
	return s.pointers.Keys()
}

// EvalJSONPointer resolves the named pointer against a JSON document
func (s *Store) EvalJSONPointer(name string, doc []byte) (any, error) {
	pp, ok := s.pointers.Load(name)
	if !ok {
		return nil, fmt.Errorf("json pointer %s: %w", name, ErrUnknownExpression)
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("decode document for json pointer %s: %w", name, err)
	}
	out, _, err := pp.ptr.Get(v)
	if err != nil {
		return nil, fmt.Errorf("json pointer %s: %w", name, err)
	}
	return out, nil
}
