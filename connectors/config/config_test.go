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

package config

import (
	"strings"
	"testing"
	"time"

	"integrabus/worker/connectors/base"
	"integrabus/worker/pubsub"
)

func TestLoadSettingsFromEnv_Defaults(t *testing.T) {
	t.Setenv("WORKER_CATALOG_FILE", "/etc/worker/catalog.yaml")
	t.Setenv("WORKER_CATALOG_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("WORKER_CONNECT_TIMEOUT", "")
	t.Setenv("WORKER_SECRET_CACHE_TTL", "")
	t.Setenv("WORKER_CLUSTER_ID", "")

	s, err := LoadSettingsFromEnv()
	if err != nil {
		t.Fatalf("LoadSettingsFromEnv() error = %v", err)
	}
	if s.CatalogFile != "/etc/worker/catalog.yaml" {
		t.Errorf("unexpected catalog file %q", s.CatalogFile)
	}
	if s.Port != DefaultPort || s.ClusterID != "1" {
		t.Errorf("unexpected defaults %+v", s)
	}
	if s.ControlChannel != DefaultControlChannel || s.InvokeList != DefaultInvokeList {
		t.Errorf("unexpected redis names %+v", s)
	}
	if s.ConnectTimeout != 30*time.Second || s.SecretCacheTTL != 5*time.Minute {
		t.Errorf("unexpected durations %+v", s)
	}
}

func TestLoadSettingsFromEnv_Overrides(t *testing.T) {
	t.Setenv("WORKER_CATALOG_FILE", "")
	t.Setenv("WORKER_CATALOG_URL", "postgres://catalog")
	t.Setenv("WORKER_CLUSTER_ID", "7")
	t.Setenv("PORT", "9100")
	t.Setenv("WORKER_CONNECT_TIMEOUT", "5s")
	t.Setenv("WORKER_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "shh")

	s, err := LoadSettingsFromEnv()
	if err != nil {
		t.Fatalf("LoadSettingsFromEnv() error = %v", err)
	}
	if s.Port != 9100 || s.ClusterID != "7" || s.ConnectTimeout != 5*time.Second {
		t.Errorf("unexpected settings %+v", s)
	}
	if s.RedisURL != "redis://localhost:6379/0" || s.JWTSecret != "shh" {
		t.Errorf("unexpected settings %+v", s)
	}
}

func TestLoadSettingsFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		errContains string
	}{
		{
			name:        "no catalog",
			env:         map[string]string{"WORKER_CATALOG_FILE": "", "WORKER_CATALOG_URL": ""},
			errContains: "WORKER_CATALOG_FILE",
		},
		{
			name:        "bad port",
			env:         map[string]string{"WORKER_CATALOG_FILE": "c.yaml", "PORT": "http"},
			errContains: "invalid PORT",
		},
		{
			name:        "bad timeout",
			env:         map[string]string{"WORKER_CATALOG_FILE": "c.yaml", "PORT": "", "WORKER_CONNECT_TIMEOUT": "soon"},
			errContains: "WORKER_CONNECT_TIMEOUT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadSettingsFromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}

func TestNotifier(t *testing.T) {
	n := Notifier{
		Common:      base.Common{Name: "inbox-scan", IsActive: true},
		DefKind:     base.KindS3,
		DefName:     "lake",
		Containers:  "inbox:incoming/\n# comment\narchive",
		ServiceName: "ingest",
	}
	if err := n.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	got := n.ContainerPrefixes()
	if len(got) != 2 || got[0] != (ContainerPrefix{Container: "inbox", Prefix: "incoming/"}) || got[1].Container != "archive" {
		t.Errorf("unexpected containers %+v", got)
	}

	n.DefKind = base.KindSQL
	if err := n.Validate(); err == nil {
		t.Error("expected error for a non-cloud kind")
	}
}

func TestSnapshot_Validate(t *testing.T) {
	s := &Snapshot{}
	if err := s.Validate(); err != nil {
		t.Errorf("empty snapshot must be valid: %v", err)
	}

	s.PubSub.Consumers = []ConsumerBinding{{
		Consumer:  pubsub.Consumer{SubKey: "k", DeliveryMode: pubsub.DeliveryCallback},
		TopicName: "orders",
	}}
	if err := s.Validate(); err == nil || !strings.Contains(err.Error(), "pubsub consumers") {
		t.Errorf("expected consumer error, got %v", err)
	}
}
