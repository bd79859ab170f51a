// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package smtp

import (
	"context"
	"errors"
	"net"
	"testing"

	"integrabus/worker/connectors/base"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Common: base.Common{Name: "relay"}, Host: "mail"}, false},
		{"ssl", Config{Common: base.Common{Name: "relay"}, Host: "mail", Mode: ModeSSL}, false},
		{"no host", Config{Common: base.Common{Name: "relay"}}, true},
		{"no name", Config{Host: "mail"}, true},
		{"bad mode", Config{Common: base.Common{Name: "relay"}, Host: "mail", Mode: "tls13"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Sanitized(t *testing.T) {
	cfg := Config{Common: base.Common{Name: "relay"}, Host: "mail", Username: "u"}.WithPassword("secret")
	if cfg.Password != "secret" {
		t.Fatalf("WithPassword() did not set password")
	}
	if s := cfg.Sanitized(); s.Password != base.PasswordShadow {
		t.Errorf("Sanitized() password = %q", s.Password)
	}
	if cfg.Password != "secret" {
		t.Error("Sanitized() modified the original")
	}
}

func TestConnector_NotConnected(t *testing.T) {
	conn := NewConnector(Config{Common: base.Common{Name: "relay"}, Host: "mail", PingAddress: "bus@example.com"})
	err := conn.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "s", Body: "b"})
	if !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := conn.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}

func TestConnector_BuildRejectsBadMessages(t *testing.T) {
	conn := NewConnector(Config{Common: base.Common{Name: "relay"}, Host: "mail"})

	if _, err := conn.build(Message{Subject: "s"}); err == nil {
		t.Error("expected error without recipients")
	}
	if _, err := conn.build(Message{To: []string{"a@example.com"}}); err == nil {
		t.Error("expected error without sender")
	}
	if _, err := conn.build(Message{From: "bus@example.com", To: []string{"not an address"}}); err == nil {
		t.Error("expected error for invalid recipient")
	}

	m, err := conn.build(Message{
		From:    "bus@example.com",
		To:      []string{"a@example.com"},
		CC:      []string{"b@example.com"},
		Subject: "hello",
		Body:    "<p>hi</p>",
		HTML:    true,
		Headers: map[string]string{"X-Bus": "1"},
	})
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	rcpts, err := m.GetRecipients()
	if err != nil || len(rcpts) != 2 {
		t.Errorf("GetRecipients() = %v, %v", rcpts, err)
	}
}

func TestConnector_SendFailsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	conn := NewConnector(Config{
		Common:      base.Common{Name: "relay", IsActive: true},
		Host:        "127.0.0.1",
		Port:        port,
		Timeout:     1,
		PingAddress: "bus@example.com",
	})
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	if err := conn.Send(ctx, Message{To: []string{"a@example.com"}, Body: "b"}); err == nil {
		t.Error("expected send error")
	}
	status, _ := conn.HealthCheck(ctx)
	if status.Healthy {
		t.Error("expected unhealthy relay")
	}
	if status.Details["host"] != "127.0.0.1" {
		t.Errorf("unexpected details %v", status.Details)
	}
}
