// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"integrabus/worker/connectors/base"
	"integrabus/worker/security"
)

func plainConfig(host string) Config {
	return Config{
		Common:    base.Common{Name: "crm", IsActive: true},
		Transport: TransportPlain,
		Host:      host,
		URLPath:   "/api",
	}
}

func basicDef(name, user, pass string) security.Definition {
	return security.Definition{
		Name:     name,
		Type:     security.TypeBasicAuth,
		IsActive: true,
		Username: user,
		Password: pass,
	}
}

// basicAuthServer accepts only user/pass and counts requests
func basicAuthServer(t *testing.T, user, pass string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 1}, {"id": 2}]`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad transport", mutate: func(c *Config) { c.Transport = "ftp" }, wantErr: true},
		{name: "bad scheme", mutate: func(c *Config) { c.Host = "ftp://example.com" }, wantErr: true},
		{name: "security without type", mutate: func(c *Config) { c.SecurityName = "s1" }, wantErr: true},
		{name: "security with type", mutate: func(c *Config) {
			c.SecurityName = "s1"
			c.SecType = security.TypeBasicAuth
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := plainConfig("https://example.com")
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_SecurityBinding(t *testing.T) {
	cfg := plainConfig("https://example.com")
	if got := cfg.SecurityBinding(); got.Type != "" {
		t.Errorf("expected empty binding, got %+v", got)
	}

	cfg.Username, cfg.Password = "inline", "pw"
	if got := cfg.SecurityBinding(); got.Type != security.TypeBasicAuth || got.Username != "inline" {
		t.Errorf("expected inline basic binding, got %+v", got)
	}

	cfg.SecurityName, cfg.SecType = "s1", security.TypeAPIKey
	if !cfg.NeedsBinding() {
		t.Error("expected unresolved binding")
	}
	if got := cfg.SecurityBinding(); got.Name != "s1" || got.Type != security.TypeAPIKey {
		t.Errorf("expected named placeholder binding, got %+v", got)
	}

	bound := cfg.WithSecurity(basicDef("s2", "u", "p"))
	if bound.SecurityName != "s2" || bound.SecType != security.TypeBasicAuth || bound.NeedsBinding() {
		t.Errorf("unexpected bound config %+v", bound)
	}
	if bound.Sanitized().Security.Password != base.PasswordShadow {
		t.Error("expected sanitized binding password")
	}
	if bound.Security.Password != "p" {
		t.Error("Sanitized must not modify the receiver")
	}
}

func TestConfig_Endpoint(t *testing.T) {
	cfg := plainConfig("https://example.com/")
	cfg.URLPath = "v1/orders"
	if got := cfg.Endpoint(); got != "https://example.com/v1/orders" {
		t.Errorf("Endpoint() = %s", got)
	}
}

func TestConnector_NotConnected(t *testing.T) {
	conn := NewConnector(plainConfig("https://example.com"))
	ctx := context.Background()

	if conn.Name() != "crm" || conn.Type() != "plain_http" {
		t.Errorf("unexpected identity %s/%s", conn.Name(), conn.Type())
	}
	if _, err := conn.Do(ctx, &Request{}); !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := conn.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect() before Connect should not error: %v", err)
	}
	status, _ := conn.HealthCheck(ctx)
	if status.Healthy {
		t.Error("expected unhealthy")
	}
}

func TestConnector_QueryWithBoundCredentials(t *testing.T) {
	srv, _ := basicAuthServer(t, "alice", "pw1")
	cfg := plainConfig(srv.URL).WithSecurity(basicDef("s1", "alice", "pw1"))
	conn := NewConnector(cfg)
	ctx := context.Background()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	res, err := conn.Query(ctx, &base.Query{Statement: "/items", Args: []interface{}{"status", "open"}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.RowCount != 2 {
		t.Errorf("expected 2 rows, got %d", res.RowCount)
	}
}

func TestConnector_RebindUsesNewCredentials(t *testing.T) {
	srv, hits := basicAuthServer(t, "alice", "pw2")
	conn := NewConnector(plainConfig(srv.URL).WithSecurity(basicDef("s1", "alice", "pw1")))
	ctx := context.Background()

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	if _, err := conn.Query(ctx, &base.Query{Statement: "/items"}); err == nil {
		t.Fatal("expected 401 with the old password")
	}

	if err := conn.Rebind(basicDef("s2", "alice", "pw2")); err != nil {
		t.Fatalf("Rebind() error = %v", err)
	}
	if !conn.IsConnected() {
		t.Error("Rebind must keep the connection open")
	}
	if _, err := conn.Query(ctx, &base.Query{Statement: "/items"}); err != nil {
		t.Errorf("expected success after rebind, got %v", err)
	}
	if atomic.LoadInt32(hits) != 2 {
		t.Errorf("expected 2 requests, got %d", atomic.LoadInt32(hits))
	}
}

func TestConnector_InactiveSecuritySendsNoCredentials(t *testing.T) {
	var sawAuth int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			atomic.AddInt32(&sawAuth, 1)
		}
	}))
	defer srv.Close()

	def := basicDef("s1", "u", "p")
	def.IsActive = false
	conn := NewConnector(plainConfig(srv.URL).WithSecurity(def))
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if _, err := conn.Execute(ctx, &base.Command{Args: []interface{}{map[string]string{"a": "b"}}}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if atomic.LoadInt32(&sawAuth) != 0 {
		t.Error("inactive definition must not send credentials")
	}
}

func TestConnector_Deliver(t *testing.T) {
	var gotType, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("X-Message-Id")
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	conn := NewConnector(plainConfig(srv.URL))
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := conn.Deliver(ctx, []byte(`{"n":1}`), "application/vnd.test+json", map[string]string{"X-Message-Id": "m1"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if gotBody != `{"n":1}` || gotType != "application/vnd.test+json" || gotHeader != "m1" {
		t.Errorf("unexpected delivery body=%q type=%q header=%q", gotBody, gotType, gotHeader)
	}
}

func TestConnector_DeliverRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	conn := NewConnector(plainConfig(srv.URL))
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := conn.Deliver(context.Background(), []byte("x"), "", nil); err == nil {
		t.Error("expected error for HTTP 400")
	}
}

func TestConnector_RetriesIdempotentRequests(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	cfg := plainConfig(srv.URL)
	cfg.MaxRetries = 2
	conn := NewConnector(cfg)
	conn.retryDelay = 0
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	res, err := conn.Query(context.Background(), &base.Query{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.Rows[0]["ok"] != true || atomic.LoadInt32(&hits) != 2 {
		t.Errorf("unexpected result %v after %d hits", res.Rows, hits)
	}
}

func TestConnector_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	conn := NewConnector(plainConfig(srv.URL))
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	status, err := conn.HealthCheck(context.Background())
	if err != nil || !status.Healthy {
		t.Fatalf("expected healthy, got %+v %v", status, err)
	}
	if status.Details["status_code"] != "200" || status.Details["auth_type"] != "none" {
		t.Errorf("unexpected details %v", status.Details)
	}
}

func TestConvertToRows(t *testing.T) {
	if rows := convertToRows([]interface{}{map[string]interface{}{"a": 1}, "x"}); len(rows) != 2 || rows[1]["value"] != "x" {
		t.Errorf("unexpected rows %v", rows)
	}
	if rows := convertToRows(map[string]interface{}{"a": 1}); len(rows) != 1 {
		t.Errorf("unexpected rows %v", rows)
	}
	if rows := convertToRows(3.0); rows[0]["value"] != 3.0 {
		t.Errorf("unexpected rows %v", rows)
	}
}

func soapConfig(host string) Config {
	return Config{
		Common:      base.Common{Name: "billing", IsActive: true},
		Transport:   TransportSOAP,
		Host:        host,
		URLPath:     "/ws",
		SOAPAction:  "urn:charge",
		SOAPVersion: "1.1",
	}
}

func TestSOAP_PrefetchAndCall(t *testing.T) {
	var envelope, action string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.RawQuery == "wsdl" {
			_, _ = w.Write([]byte("<definitions/>"))
			return
		}
		body, _ := io.ReadAll(r.Body)
		envelope = string(body)
		action = r.Header.Get("SOAPAction")
		_, _ = w.Write([]byte("<ok/>"))
	}))
	defer srv.Close()

	def := security.Definition{Name: "w1", Type: security.TypeWSS, IsActive: true, Username: "svc", Password: "pw", PasswordType: "text"}
	conn := NewConnector(soapConfig(srv.URL).WithSecurity(def))
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if string(conn.WSDL()) != "<definitions/>" {
		t.Errorf("unexpected WSDL %q", conn.WSDL())
	}

	resp, err := conn.Call(ctx, []byte("<charge/>"))
	if err != nil || !resp.OK() {
		t.Fatalf("Call() = %+v, %v", resp, err)
	}
	if action != `"urn:charge"` {
		t.Errorf("unexpected SOAPAction %q", action)
	}
	for _, want := range []string{soap11NS, "<wsse:Username>svc</wsse:Username>", "<soap:Body><charge/></soap:Body>"} {
		if !strings.Contains(envelope, want) {
			t.Errorf("envelope missing %q: %s", want, envelope)
		}
	}
}

func TestSOAP_FailedPrefetchIsBuiltButEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	conn := NewConnector(soapConfig(srv.URL))
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() must not fail on WSDL prefetch: %v", err)
	}
	if !conn.IsConnected() {
		t.Error("expected connected")
	}
	if conn.WSDL() != nil {
		t.Error("expected empty WSDL")
	}
}

func TestSOAP_CallOnPlainConnection(t *testing.T) {
	conn := NewConnector(plainConfig("https://example.com"))
	if _, err := conn.Call(context.Background(), nil); err == nil {
		t.Error("expected error calling SOAP on a plain connection")
	}
}

func TestEnvelope_Version12(t *testing.T) {
	env := string(Envelope("1.2", "", []byte("<x/>")))
	if !strings.Contains(env, soap12NS) || strings.Contains(env, "soap:Header") {
		t.Errorf("unexpected envelope %s", env)
	}
}
