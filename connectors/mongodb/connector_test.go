// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mongodb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"integrabus/worker/connectors/base"
)

func testConfig() Config {
	return Config{
		Common:     base.Common{Name: "orders", IsActive: true},
		Hosts:      "mongo-1\nmongo-2:27018\n",
		Database:   "orders",
		Collection: "events",
		Username:   "app",
		Password:   "secret",
		ReplicaSet: "rs0",
	}
}

// skipIfNoMongoDB connects to MONGODB_TEST_HOST when set
func skipIfNoMongoDB(t *testing.T) *Connector {
	host := os.Getenv("MONGODB_TEST_HOST")
	if host == "" {
		t.Skip("MONGODB_TEST_HOST not set")
	}

	c := NewConnector(Config{
		Common:     base.Common{Name: "test-mongodb", IsActive: true},
		Hosts:      host,
		Database:   "integrabus_test",
		Collection: "items",
		Timeout:    2,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no hosts", mutate: func(c *Config) { c.Hosts = "" }, wantErr: true},
		{name: "no database", mutate: func(c *Config) { c.Database = "" }, wantErr: true},
		{name: "no name", mutate: func(c *Config) { c.Name = " " }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_URI(t *testing.T) {
	uri := testConfig().URI()
	if uri != "mongodb://mongo-1:27017,mongo-2:27018/?replicaSet=rs0" {
		t.Errorf("unexpected URI %s", uri)
	}

	single := Config{Common: base.Common{Name: "m"}, Hosts: "localhost", Database: "d", TLS: true}
	if got := single.URI(); got != "mongodb://localhost:27017/?directConnection=true&tls=true" {
		t.Errorf("unexpected URI %s", got)
	}
}

func TestConfig_ClientOptions(t *testing.T) {
	opts := testConfig().ClientOptions()

	if opts.Auth == nil || opts.Auth.Username != "app" || opts.Auth.Password != "secret" {
		t.Fatalf("unexpected credentials %+v", opts.Auth)
	}
	if opts.Auth.AuthSource != "admin" {
		t.Errorf("expected admin auth source, got %s", opts.Auth.AuthSource)
	}
	if *opts.MaxPoolSize != DefaultMaxPoolSize {
		t.Errorf("unexpected pool size %d", *opts.MaxPoolSize)
	}
	if *opts.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("unexpected connect timeout %v", *opts.ConnectTimeout)
	}

	cfg := testConfig()
	cfg.Username = ""
	cfg.PoolSize = 4
	cfg.Timeout = 3
	opts = cfg.ClientOptions()
	if opts.Auth != nil {
		t.Error("expected no credentials")
	}
	if *opts.MaxPoolSize != 4 || *opts.MinPoolSize != 4 {
		t.Errorf("unexpected pool bounds %d/%d", *opts.MaxPoolSize, *opts.MinPoolSize)
	}
	if *opts.ConnectTimeout != 3*time.Second {
		t.Errorf("unexpected connect timeout %v", *opts.ConnectTimeout)
	}
}

func TestConfig_Sanitized(t *testing.T) {
	cfg := testConfig()
	if cfg.Sanitized().Password != base.PasswordShadow {
		t.Error("expected shadowed password")
	}
	if cfg.Password != "secret" {
		t.Error("Sanitized must not modify the receiver")
	}
	if cfg.WithPassword("new").Password != "new" {
		t.Error("expected new password")
	}
}

func TestConnector_NotConnected(t *testing.T) {
	c := NewConnector(testConfig())
	ctx := context.Background()

	if c.Name() != "orders" || c.Type() != "mongodb" {
		t.Errorf("unexpected identity %s/%s", c.Name(), c.Type())
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect() before Connect should not error: %v", err)
	}
	status, _ := c.HealthCheck(ctx)
	if status.Healthy {
		t.Error("expected unhealthy")
	}
	if _, err := c.Query(ctx, &base.Query{Statement: "find"}); !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if _, err := c.Execute(ctx, &base.Command{Statement: "insertone"}); !errors.Is(err, base.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnector_ParseStatement(t *testing.T) {
	c := NewConnector(testConfig())

	tests := []struct {
		statement  string
		operation  string
		collection string
		wantErr    bool
	}{
		{"find", "find", "events", false},
		{"FindOne:users", "findone", "users", false},
		{"count:", "", "", true},
	}

	for _, tt := range tests {
		op, coll, err := c.parseStatement(tt.statement)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseStatement(%q) error = %v", tt.statement, err)
			continue
		}
		if op != tt.operation || coll != tt.collection {
			t.Errorf("parseStatement(%q) = %s, %s", tt.statement, op, coll)
		}
	}
}

func TestToBSON(t *testing.T) {
	m, err := toBSON(`{"status": "open", "owner": {"$oid": "507f1f77bcf86cd799439011"}}`)
	if err != nil {
		t.Fatalf("toBSON() error = %v", err)
	}
	if m["status"] != "open" {
		t.Errorf("unexpected status %v", m["status"])
	}
	if _, ok := m["owner"].(primitive.ObjectID); !ok {
		t.Errorf("expected ObjectID, got %T", m["owner"])
	}

	if _, err := toBSON("not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := toBSON(42); err == nil {
		t.Error("expected error for unsupported type")
	}

	empty, err := argBSON(nil, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty filter, got %v %v", empty, err)
	}
}

func TestConvertFromBSON(t *testing.T) {
	oid := primitive.NewObjectID()
	doc := bson.M{
		"_id":  oid,
		"tags": bson.A{"a", primitive.D{{Key: "k", Value: 1}}},
	}

	out := bsonToMap(doc)
	if out["_id"] != oid.Hex() {
		t.Errorf("expected hex id, got %v", out["_id"])
	}
	tags := out["tags"].([]interface{})
	if inner, ok := tags[1].(map[string]interface{}); !ok || inner["k"] != 1 {
		t.Errorf("unexpected nested value %v", tags[1])
	}
}

func TestConnector_Integration(t *testing.T) {
	c := skipIfNoMongoDB(t)
	ctx := context.Background()

	if _, err := c.Execute(ctx, &base.Command{Statement: "deletemany", Args: []interface{}{map[string]interface{}{}}}); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if _, err := c.Execute(ctx, &base.Command{Statement: "insertone", Args: []interface{}{`{"sku": "A1", "qty": 2}`}}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	res, err := c.Query(ctx, &base.Query{Statement: "count", Args: []interface{}{`{"sku": "A1"}`}})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if res.Rows[0]["count"] != int64(1) {
		t.Errorf("expected count 1, got %v", res.Rows[0]["count"])
	}

	upd, err := c.Execute(ctx, &base.Command{Statement: "updateone", Args: []interface{}{`{"sku": "A1"}`, `{"$set": {"qty": 3}}`}})
	if err != nil || upd.RowsAffected != 1 {
		t.Errorf("unexpected update result %+v %v", upd, err)
	}
}
