// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package solr

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"integrabus/worker/connectors/base"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		address string
		wantErr bool
	}{
		{"http://solr:8983/solr/books", false},
		{"https://solr/solr/books", false},
		{"solr:8983", true},
		{"", true},
	}

	for _, tt := range tests {
		cfg := Config{Common: base.Common{Name: "books"}, Address: tt.address}
		if err := cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
		}
	}
}

func TestConnector_NotConnected(t *testing.T) {
	conn := NewConnector(Config{Common: base.Common{Name: "books"}, Address: "http://solr/solr/books"})
	if _, err := conn.Select(context.Background(), "*:*", 1); !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := conn.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}

func TestConnector_BadOption(t *testing.T) {
	conn := NewConnector(Config{Common: base.Common{Name: "books"}, Address: "http://solr/solr/books", Options: "defType"})
	if err := conn.Connect(context.Background()); err == nil {
		t.Error("expected error for option without value")
	}
}

func TestConnector_Operations(t *testing.T) {
	var lastQuery, lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/solr/books/admin/ping":
			_, _ = w.Write([]byte(`{"status":"OK"}`))
		case "/solr/books/select":
			lastQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`{"response":{"numFound":1,"docs":[{"id":"1","title":"Go"}]}}`))
		case "/solr/books/update":
			body, _ := io.ReadAll(r.Body)
			lastBody = string(body)
			if r.URL.Query().Get("commit") != "true" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"responseHeader":{"status":0}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	conn := NewConnector(Config{
		Common:  base.Common{Name: "books", IsActive: true},
		Address: srv.URL + "/solr/books/",
		Options: "defType=edismax\n",
	})
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = conn.Disconnect(ctx) }()

	status, _ := conn.HealthCheck(ctx)
	if !status.Healthy {
		t.Errorf("expected healthy, got %+v", status)
	}

	docs, err := conn.Select(ctx, "title:Go", 5)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(docs) != 1 || docs[0]["title"] != "Go" {
		t.Errorf("unexpected docs %v", docs)
	}
	if lastQuery != "defType=edismax&q=title%3AGo&rows=5&wt=json" {
		t.Errorf("unexpected query string %s", lastQuery)
	}

	if err := conn.Add(ctx, []map[string]interface{}{{"id": "2"}}); err != nil {
		t.Errorf("Add() error = %v", err)
	}
	if lastBody != `[{"id":"2"}]` {
		t.Errorf("unexpected update body %s", lastBody)
	}

	if err := conn.DeleteByQuery(ctx, "id:2"); err != nil {
		t.Errorf("DeleteByQuery() error = %v", err)
	}
}

func TestConnector_PingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	conn := NewConnector(Config{Common: base.Common{Name: "books"}, Address: srv.URL})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	status, _ := conn.HealthCheck(context.Background())
	if status.Healthy || status.Error == "" {
		t.Errorf("expected unhealthy with error, got %+v", status)
	}
}
