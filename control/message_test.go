// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package control

import (
	"errors"
	"testing"

	"integrabus/worker/connectors/base"
	"integrabus/worker/security"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"outgoing.sql.create", Action{Kind: "outgoing.sql", Verb: VerbCreate}, false},
		{"cloud.aws.s3.change_password", Action{Kind: "cloud.aws.s3", Verb: VerbChangePassword}, false},
		{"outgoing.ftp.create_edit", Action{Kind: "outgoing.ftp", Verb: VerbCreateOrEdit}, false},
		{"security.basic_auth.delete", Action{Kind: "security.basic_auth", Verb: VerbDelete}, false},
		{"nodot", Action{}, true},
		{".create", Action{}, true},
		{"outgoing.sql.", Action{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAction() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAction() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if s := For(base.KindSQL, VerbEdit).String(); s != "outgoing.sql.edit" {
		t.Errorf("unexpected action string %q", s)
	}
}

func TestSecurityKind(t *testing.T) {
	kind := SecurityKind(security.TypeWSS)
	if kind != "security.wss" {
		t.Errorf("unexpected kind %q", kind)
	}
	if typ, ok := SecurityType(kind); !ok || typ != security.TypeWSS {
		t.Errorf("SecurityType() = %q, %v", typ, ok)
	}
	if _, ok := SecurityType("security.kerberos"); ok {
		t.Error("unknown type must not parse")
	}
	if _, ok := SecurityType("outgoing.sql"); ok {
		t.Error("non-security kind must not parse")
	}
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"action": "outgoing.sql.edit", "name": "crm", "old_name": "crm-old", "cid": "c1", "cluster_id": "7", "host": "db"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Action != (Action{Kind: "outgoing.sql", Verb: VerbEdit}) {
		t.Errorf("unexpected action %+v", m.Action)
	}
	if !m.IsRename() || m.CID != "c1" || m.ClusterID != "7" {
		t.Errorf("unexpected envelope %+v", m)
	}

	m, _ = Decode([]byte(`{"action": "outgoing.sql.edit", "name": "crm", "old_name": "crm"}`))
	if m.IsRename() {
		t.Error("old_name equal to name is not a rename")
	}

	m, err = Decode([]byte(`{"action": "scheduler.job_executed", "service": "sync-orders"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if src, ok := m.Source(); !ok || src != SourceScheduler {
		t.Errorf("Source() = %q, %v", src, ok)
	}

	for _, bad := range []string{`not json`, `{"name": "x"}`, `{"action": "nodot"}`} {
		if _, err := Decode([]byte(bad)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s) error = %v, want ErrMalformed", bad, err)
		}
	}
}

type sample struct {
	Name string `json:"name"`
	Port int    `json:"port"`
}

func (s sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port is required")
	}
	return nil
}

func TestPayload(t *testing.T) {
	m, _ := Decode([]byte(`{"action": "x.create", "name": "a", "port": 21}`))
	got, err := Payload[sample](m)
	if err != nil || got.Name != "a" || got.Port != 21 {
		t.Errorf("Payload() = %+v, %v", got, err)
	}

	m, _ = Decode([]byte(`{"action": "x.create", "name": "a"}`))
	if _, err := Payload[sample](m); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected validation failure, got %v", err)
	}

	m, _ = Decode([]byte(`{"action": "x.create", "name": "a", "port": "21"}`))
	if _, err := Payload[sample](m); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected type failure, got %v", err)
	}
}

func TestPasswordChange(t *testing.T) {
	m, _ := Decode([]byte(`{"action": "outgoing.ftp.change_password", "name": "f", "password1": "s3", "password2": "s3"}`))
	pc, err := Payload[PasswordChange](m)
	if err != nil || pc.Password != "s3" {
		t.Errorf("Payload() = %+v, %v", pc, err)
	}

	m, _ = Decode([]byte(`{"action": "outgoing.ftp.change_password", "name": "f", "password1": "a", "password2": "b"}`))
	if _, err := Payload[PasswordChange](m); err == nil {
		t.Error("expected mismatch error")
	}
}

func TestServiceRequest_Unwrap(t *testing.T) {
	r := ServiceRequest{Request: `{"service": "run-notifier", "payload": {"name": "n1"}}`, CID: "c9"}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	inner, err := r.Unwrap()
	if err != nil || inner.Service != "run-notifier" || inner.CID != "c9" {
		t.Errorf("Unwrap() = %+v, %v", inner, err)
	}

	if _, err := (ServiceRequest{Request: `{}`}).Unwrap(); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
	if err := (ServiceRequest{}).Validate(); err == nil {
		t.Error("expected error for missing service")
	}
}
