// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"integrabus/worker/connectors/base"
)

func newMiniredisConfig(t *testing.T) (Config, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	return Config{
		Common: base.Common{Name: "cache", IsActive: true},
		Host:   mr.Host(),
		Port:   port,
	}, mr
}

func TestConfig_Validate(t *testing.T) {
	ok := Config{Common: base.Common{Name: "c"}, Host: "localhost"}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Config{Common: base.Common{Name: "c"}}).Validate(); err == nil {
		t.Error("expected error without host")
	}
	if err := (Config{Common: base.Common{Name: "c"}, Host: "h", DB: -1}).Validate(); err == nil {
		t.Error("expected error for negative db")
	}
}

func TestConfig_Options(t *testing.T) {
	opts := Config{Common: base.Common{Name: "c"}, Host: "cache.local", Password: "pw"}.Options()
	if opts.Addr != "cache.local:6379" {
		t.Errorf("unexpected addr %s", opts.Addr)
	}
	if opts.PoolSize != 100 || opts.DialTimeout != 5*time.Second {
		t.Errorf("unexpected defaults %d %v", opts.PoolSize, opts.DialTimeout)
	}
	if opts.Password != "pw" {
		t.Error("password not passed")
	}
}

func TestConnector_ConnectFailure(t *testing.T) {
	cfg := Config{Common: base.Common{Name: "down", IsActive: true}, Host: "127.0.0.1", Port: 1, Timeout: 1}
	conn := NewConnector(cfg)

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if conn.Client() != nil {
		t.Error("client must not be kept after a failed connect")
	}
	if err := conn.Disconnect(context.Background()); err != nil {
		t.Errorf("disconnect after failed connect must succeed: %v", err)
	}
}

func TestConnector_Operations(t *testing.T) {
	cfg, mr := newMiniredisConfig(t)
	ctx := context.Background()
	conn := NewConnector(cfg)

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	if _, err := conn.Execute(ctx, &base.Command{Statement: "SET", Args: []interface{}{"k1", "v1", 60}}); err != nil {
		t.Fatalf("SET error = %v", err)
	}
	if got, _ := mr.Get("k1"); got != "v1" {
		t.Errorf("expected v1 stored, got %q", got)
	}

	res, err := conn.Query(ctx, &base.Query{Statement: "GET", Args: []interface{}{"k1"}})
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if res.Rows[0]["value"] != "v1" || res.Rows[0]["exists"] != true {
		t.Errorf("unexpected GET row %v", res.Rows[0])
	}

	res, err = conn.Query(ctx, &base.Query{Statement: "GET", Args: []interface{}{"missing"}})
	if err != nil || res.Rows[0]["exists"] != false {
		t.Errorf("unexpected GET of missing key %v %v", res, err)
	}

	res, err = conn.Query(ctx, &base.Query{Statement: "KEYS", Args: []interface{}{"k*"}})
	if err != nil || res.RowCount != 1 {
		t.Errorf("unexpected KEYS result %v %v", res, err)
	}

	del, err := conn.Execute(ctx, &base.Command{Statement: "DELETE", Args: []interface{}{"k1"}})
	if err != nil || del.RowsAffected != 1 {
		t.Errorf("unexpected DELETE result %v %v", del, err)
	}

	status, err := conn.HealthCheck(ctx)
	if err != nil || !status.Healthy {
		t.Errorf("expected healthy, got %+v %v", status, err)
	}
}

func TestConnector_InvalidOperations(t *testing.T) {
	cfg, _ := newMiniredisConfig(t)
	ctx := context.Background()
	conn := NewConnector(cfg)

	if _, err := conn.Query(ctx, &base.Query{Statement: "GET", Args: []interface{}{"k"}}); !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before Connect, got %v", err)
	}

	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	if _, err := conn.Query(ctx, &base.Query{Statement: "HGETALL", Args: []interface{}{"k"}}); err == nil {
		t.Error("expected error for unsupported operation")
	}
	if _, err := conn.Execute(ctx, &base.Command{Statement: "SET", Args: []interface{}{"k"}}); err == nil {
		t.Error("expected error for SET without value")
	}
	if _, err := conn.Execute(ctx, &base.Command{Statement: "EXPIRE", Args: []interface{}{"k"}}); err == nil {
		t.Error("expected error for EXPIRE without ttl")
	}
}

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   interface{}
		want time.Duration
	}{
		{5, 5 * time.Second},
		{int64(2), 2 * time.Second},
		{float64(3), 3 * time.Second},
		{"7", 7 * time.Second},
		{"x", 0},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := seconds(tt.in); got != tt.want {
			t.Errorf("seconds(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
