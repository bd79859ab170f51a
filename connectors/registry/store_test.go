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
	"errors"
	"testing"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
	"integrabus/worker/security"
)

type testConfig struct {
	base.Common
	Host     string
	Password string
	Security security.Definition
	Waiting  bool
}

func (c testConfig) WithPassword(p string) testConfig {
	c.Password = p
	return c
}

func (c testConfig) Sanitized() testConfig {
	c.Password = base.Shadow(c.Password)
	c.Security = c.Security.Sanitized()
	return c
}

func (c testConfig) SecurityBinding() security.Definition {
	return c.Security
}

func (c testConfig) WithSecurity(def security.Definition) testConfig {
	c.Security = def
	c.Waiting = false
	return c
}

func (c testConfig) NeedsBinding() bool {
	return c.Waiting
}

// plainConfig carries no password and no security binding
type plainConfig struct {
	base.Common
}

func cfg(name string) testConfig {
	return testConfig{Common: base.Common{Name: name, IsActive: true}, Host: "db.local", Password: "pw"}
}

func newTestStore() (*Store[testConfig], *sdk.FakeFactory) {
	ff := sdk.NewFakeFactory("fake")
	s := NewStore[testConfig]("outgoing.fake", func(c testConfig) base.Connector {
		return ff.New(c.Name)
	})
	return s, ff
}

type recordingObserver struct {
	connected, disconnected int
	cascades                []security.Change
}

func (o *recordingObserver) ResourcesChanged(kind base.Kind, connected, disconnected int) {
	o.connected, o.disconnected = connected, disconnected
}

func (o *recordingObserver) CascadeApplied(kind base.Kind, change security.Change) {
	o.cascades = append(o.cascades, change)
}

func TestStore_AtMostOneLiveConnectionPerName(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()

	check := func(step string) {
		t.Helper()
		for _, name := range []string{"a", "b"} {
			if live := ff.Live(name); live != 0 && live != 1 {
				t.Fatalf("%s: %d live connections for %s", step, live, name)
			}
		}
	}

	s.Create(ctx, cfg("a"))
	check("create a")
	s.Create(ctx, cfg("a"))
	check("create a again")
	s.Edit(ctx, "a", cfg("a"))
	check("edit a")
	s.Edit(ctx, "a", cfg("b"))
	check("rename a to b")
	if ff.Live("a") != 0 || ff.Live("b") != 1 {
		t.Errorf("after rename expected a=0 b=1, got a=%d b=%d", ff.Live("a"), ff.Live("b"))
	}
	s.ChangePassword(ctx, "b", "new")
	check("change password b")
	s.Edit(ctx, "", cfg("b"))
	check("edit b without old name")
	s.Delete(ctx, "b")
	check("delete b")
	s.Delete(ctx, "b")
	check("delete b again")
	s.Create(ctx, cfg("a"))
	check("recreate a")

	if s.Len() != 1 {
		t.Errorf("expected 1 wrapper, got %d", s.Len())
	}
}

// readingConnector calls onConnect before connecting, while the store is
// mid-rebuild
type readingConnector struct {
	*sdk.FakeConnector
	onConnect func()
}

func (c *readingConnector) Connect(ctx context.Context) error {
	c.onConnect()
	return c.FakeConnector.Connect(ctx)
}

func TestStore_EditKeepsOldConnectionReadableWhileRebuilding(t *testing.T) {
	ctx := context.Background()
	ff := sdk.NewFakeFactory("fake")

	type read struct {
		conn base.Connector
		err  error
	}
	var (
		s     *Store[testConfig]
		reads []read
	)
	s = NewStore[testConfig]("outgoing.fake", func(c testConfig) base.Connector {
		return &readingConnector{FakeConnector: ff.New(c.Name), onConnect: func() {
			conn, err := s.Get("a")
			reads = append(reads, read{conn, err})
		}}
	})

	s.Create(ctx, cfg("a"))
	first, err := s.Get("a")
	if err != nil {
		t.Fatalf("get after create: %v", err)
	}

	s.Edit(ctx, "a", cfg("a"))
	second, err := s.Get("a")
	if err != nil {
		t.Fatalf("get after edit: %v", err)
	}
	if second == first {
		t.Error("edit must publish a rebuilt connection")
	}

	s.Edit(ctx, "a", cfg("b"))

	if len(reads) != 3 {
		t.Fatalf("expected 3 builds, got %d", len(reads))
	}
	if !errors.Is(reads[0].err, base.ErrUnknownResource) {
		t.Errorf("nothing to read before the first build, got %v", reads[0].err)
	}
	if reads[1].err != nil || reads[1].conn != first {
		t.Errorf("edit hid the old connection while rebuilding: %+v", reads[1])
	}
	if reads[2].err != nil || reads[2].conn != second {
		t.Errorf("rename hid the old connection while rebuilding: %+v", reads[2])
	}

	if _, err := s.Get("a"); !errors.Is(err, base.ErrUnknownResource) {
		t.Errorf("expected 'a' gone after rename, got %v", err)
	}
	if ff.Live("a") != 0 || ff.Live("b") != 1 {
		t.Errorf("expected a=0 b=1 live, got a=%d b=%d", ff.Live("a"), ff.Live("b"))
	}
}

func TestStore_CreateFailedBuildIsStored(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()
	ff.FailConnect("down", errors.New("connection refused"))

	s.Create(ctx, cfg("down"))

	w, ok := s.Lookup("down")
	if !ok {
		t.Fatal("failed build must still be stored")
	}
	if w.Connected {
		t.Error("failed build must not be connected")
	}
	if w.BuildError == "" {
		t.Error("expected build error to be recorded")
	}

	_, err := s.Get("down")
	if !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if ff.Live("down") != 0 {
		t.Errorf("failed build must not count a live connection")
	}
}

func TestStore_Get(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()

	s.Create(ctx, cfg("ok"))
	inactive := cfg("off")
	inactive.IsActive = false
	s.Create(ctx, inactive)

	conn, err := s.Get("ok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.Name() != "ok" {
		t.Errorf("expected connector ok, got %s", conn.Name())
	}

	if _, err := s.Get("off"); !errors.Is(err, base.ErrInactive) {
		t.Errorf("expected ErrInactive, got %v", err)
	}
	if ff.Opens("off") != 0 {
		t.Error("inactive resources must not be connected")
	}

	if _, err := s.Get("missing"); !errors.Is(err, base.ErrUnknownResource) {
		t.Errorf("expected ErrUnknownResource, got %v", err)
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()
	ff.FailClose(errors.New("already gone"))

	s.Create(ctx, cfg("x"))
	s.Delete(ctx, "x")
	s.Delete(ctx, "x")
	s.Delete(ctx, "never-existed")

	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d", s.Len())
	}
	if ff.Live("x") != 0 {
		t.Errorf("expected connection closed, got %d live", ff.Live("x"))
	}
}

func TestStore_ChangePasswordKeepsConnected(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	s.Create(ctx, cfg("db"))
	s.ChangePassword(ctx, "db", "rotated")

	w, ok := s.Lookup("db")
	if !ok {
		t.Fatal("wrapper disappeared")
	}
	if !w.Connected {
		t.Error("wrapper must stay connected after a password change")
	}
	if w.Config.Password != "rotated" {
		t.Errorf("expected new password, got %q", w.Config.Password)
	}
	if w.Config.Host != "db.local" {
		t.Errorf("other fields must be kept, host=%q", w.Config.Host)
	}

	// unknown names are ignored
	s.ChangePassword(ctx, "nope", "x")
	if s.Len() != 1 {
		t.Errorf("expected 1 wrapper, got %d", s.Len())
	}
}

func TestStore_ChangePasswordWithoutPassword(t *testing.T) {
	ctx := context.Background()
	ff := sdk.NewFakeFactory("fake")
	s := NewStore[plainConfig]("msg.fake", func(c plainConfig) base.Connector { return ff.New(c.Name) })

	s.Create(ctx, plainConfig{Common: base.Common{Name: "p", IsActive: true}})
	s.ChangePassword(ctx, "p", "x")

	if ff.Opens("p") != 1 {
		t.Errorf("kinds without a password must not be rebuilt, opens=%d", ff.Opens("p"))
	}
}

func bound(name, secName string) testConfig {
	c := cfg(name)
	c.Password = ""
	c.Security = security.Definition{Name: secName, Type: security.TypeBasicAuth, IsActive: true, Username: "u", Password: "old"}
	return c
}

func TestStore_CascadeEditRebindsInPlace(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()
	obs := &recordingObserver{}
	s.SetObserver(obs)

	s.Create(ctx, bound("w1", "S1"))
	s.Create(ctx, bound("w2", "S1"))
	s.Create(ctx, bound("w3", "S9"))

	before, _ := s.Lookup("w1")

	touched := s.CascadeSecurity(ctx, security.Event{
		Change:     security.ChangeEdit,
		Type:       security.TypeBasicAuth,
		Name:       "S2",
		OldName:    "S1",
		Definition: security.Definition{Name: "S2", IsActive: true, Username: "u2"},
	})
	if touched != 2 {
		t.Fatalf("expected 2 wrappers touched, got %d", touched)
	}

	after, _ := s.Lookup("w1")
	if after.Config.Security.Name != "S2" || after.Config.Security.Username != "u2" {
		t.Errorf("binding not updated: %+v", after.Config.Security)
	}
	if after.Config.Security.Password != "old" {
		t.Error("edit must keep the bound password")
	}
	if after.Conn != before.Conn {
		t.Error("cascade must keep the live connection")
	}
	if ff.Opens("w1") != 1 {
		t.Errorf("cascade must not reopen the connection, opens=%d", ff.Opens("w1"))
	}

	rebinds := after.Conn.(*sdk.FakeConnector).Rebinds()
	if len(rebinds) != 1 || rebinds[0].Name != "S2" {
		t.Errorf("expected one rebind to S2, got %v", rebinds)
	}

	untouched, _ := s.Lookup("w3")
	if untouched.Config.Security.Name != "S9" {
		t.Error("wrappers bound elsewhere must not change")
	}

	if len(obs.cascades) != 1 || obs.cascades[0] != security.ChangeEdit {
		t.Errorf("observer not notified: %v", obs.cascades)
	}
}

func TestStore_CascadePasswordAndDelete(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()

	s.Create(ctx, bound("w1", "S1"))
	s.CascadeSecurity(ctx, security.Event{Change: security.ChangePassword, Type: security.TypeBasicAuth, Name: "S1", Password: "new"})

	w, _ := s.Lookup("w1")
	if w.Config.Security.Password != "new" {
		t.Errorf("expected new password, got %q", w.Config.Security.Password)
	}
	if !w.Connected {
		t.Error("password change must keep the wrapper connected")
	}

	// wrong type does not match
	if n := s.CascadeSecurity(ctx, security.Event{Change: security.ChangeDelete, Type: security.TypeAPIKey, Name: "S1"}); n != 0 {
		t.Errorf("expected no match across types, got %d", n)
	}

	s.CascadeSecurity(ctx, security.Event{Change: security.ChangeDelete, Type: security.TypeBasicAuth, Name: "S1"})
	if _, ok := s.Lookup("w1"); ok {
		t.Error("delete cascade must remove the wrapper")
	}
	if ff.Live("w1") != 0 {
		t.Error("delete cascade must close the connection")
	}
}

func TestStore_CascadeContinuesAfterRebindFailure(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()
	ff.FailRebind(errors.New("bad credentials"))

	s.Create(ctx, bound("w1", "S1"))
	s.Create(ctx, bound("w2", "S1"))

	n := s.CascadeSecurity(ctx, security.Event{Change: security.ChangePassword, Type: security.TypeBasicAuth, Name: "S1", Password: "p2"})
	if n != 2 {
		t.Errorf("expected both wrappers visited, got %d", n)
	}
	for _, name := range []string{"w1", "w2"} {
		w, _ := s.Lookup(name)
		if w.Config.Security.Password != "p2" {
			t.Errorf("%s: config must be updated even when rebind fails", name)
		}
	}
}

func TestStore_CascadeCreateBindsWaitingWrappers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	waiting := cfg("w1")
	waiting.Security = security.Definition{Name: "S1", Type: security.TypeBasicAuth}
	waiting.Waiting = true
	s.Create(ctx, waiting)
	s.Create(ctx, bound("w2", "S1"))

	n := s.CascadeSecurity(ctx, security.Event{
		Change:     security.ChangeCreate,
		Type:       security.TypeBasicAuth,
		Name:       "S1",
		Definition: security.Definition{Name: "S1", IsActive: true, Username: "u1", Password: "p1"},
	})
	if n != 1 {
		t.Fatalf("expected only the waiting wrapper, got %d", n)
	}

	w, _ := s.Lookup("w1")
	if w.Config.Waiting || w.Config.Security.Username != "u1" || w.Config.Security.Password != "p1" {
		t.Errorf("waiting wrapper not bound: %+v", w.Config)
	}
	rebinds := w.Conn.(*sdk.FakeConnector).Rebinds()
	if len(rebinds) != 1 || rebinds[0].Type != security.TypeBasicAuth {
		t.Errorf("expected one rebind, got %v", rebinds)
	}

	other, _ := s.Lookup("w2")
	if other.Config.Security.Password != "old" {
		t.Error("already bound wrappers keep their definition on create")
	}
}

func TestStore_CascadeOnUnboundKind(t *testing.T) {
	ctx := context.Background()
	ff := sdk.NewFakeFactory("fake")
	s := NewStore[plainConfig]("msg.fake", func(c plainConfig) base.Connector { return ff.New(c.Name) })
	s.Create(ctx, plainConfig{Common: base.Common{Name: "p", IsActive: true}})

	if n := s.CascadeSecurity(ctx, security.Event{Change: security.ChangeDelete, Type: security.TypeBasicAuth, Name: "S1"}); n != 0 {
		t.Errorf("expected no effect, got %d", n)
	}
	if s.Len() != 1 {
		t.Error("unbound store must be untouched")
	}
}

func TestStore_InfosHealthAndCloseAll(t *testing.T) {
	ctx := context.Background()
	s, ff := newTestStore()
	obs := &recordingObserver{}
	s.SetObserver(obs)
	ff.FailConnect("bad", errors.New("nope"))

	s.Create(ctx, cfg("good"))
	s.Create(ctx, cfg("bad"))

	if obs.connected != 1 || obs.disconnected != 1 {
		t.Errorf("observer saw %d/%d, expected 1/1", obs.connected, obs.disconnected)
	}

	infos := s.Infos()
	if len(infos) != 2 || infos[0].Name != "bad" || infos[1].Name != "good" {
		t.Fatalf("unexpected infos %+v", infos)
	}
	if infos[0].Connected || infos[0].BuildError == "" {
		t.Errorf("bad wrapper info wrong: %+v", infos[0])
	}

	health := s.Health(ctx)
	if !health["good"].Healthy || health["bad"].Healthy {
		t.Errorf("unexpected health %v", health)
	}

	s.CloseAll(ctx)
	if s.Len() != 0 || ff.Live("good") != 0 {
		t.Error("CloseAll must close and remove everything")
	}
	if obs.connected != 0 || obs.disconnected != 0 {
		t.Errorf("observer not updated on CloseAll")
	}
}
