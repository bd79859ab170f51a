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

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Config describes one Google Cloud Storage project
type Config struct {
	base.Common `yaml:",inline"`

	ProjectID       string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"credentials_file,omitempty"`
	// CredentialsJSON is the resource's password
	CredentialsJSON string `json:"credentials_json,omitempty" yaml:"credentials_json,omitempty"`
	// Endpoint points the client at an emulator; requests are then unauthenticated
	// unless credentials are configured
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	DefaultBucket   string `json:"default_bucket,omitempty" yaml:"default_bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	PrefetchLimit   int    `json:"prefetch_limit,omitempty" yaml:"prefetch_limit,omitempty"`
	SignedURLExpiry int    `json:"signed_url_expiry,omitempty" yaml:"signed_url_expiry,omitempty"`
}

// Validate checks at most one credential source is set
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.CredentialsFile != "" && c.CredentialsJSON != "" {
		return fmt.Errorf("gcs %s: credentials_file and credentials_json are mutually exclusive", c.Name)
	}
	return nil
}

// WithPassword returns a copy with new credentials JSON
func (c Config) WithPassword(password string) Config {
	c.CredentialsJSON = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.CredentialsJSON = base.Shadow(c.CredentialsJSON)
	return c
}

// ClientOptions translates the config into client options
func (c Config) ClientOptions() []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	case c.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return opts
}

// Connector wraps a GCS client. When a default bucket is configured,
// Connect lists it into Pending.
type Connector struct {
	*sdk.BaseConnector
	config  Config
	client  *storage.Client
	pending sdk.ObjectQueue
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("gcs", cfg.Name),
		config:        cfg,
	}
}

// Connect builds the client and prefetches the default bucket listing
func (c *Connector) Connect(ctx context.Context) error {
	client, err := storage.NewClient(ctx, c.config.ClientOptions()...)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "failed to create GCS client", err)
	}
	c.client = client

	c.MarkConnected()
	c.Log("Connected to GCS: %s (project: %s, bucket: %s)", c.Name(), c.config.ProjectID, c.config.DefaultBucket)

	c.prefetch(ctx)
	return nil
}

func (c *Connector) prefetch(ctx context.Context) {
	if c.config.DefaultBucket == "" {
		return
	}
	limit := c.config.PrefetchLimit
	if limit <= 0 {
		limit = sdk.DefaultPrefetchLimit
	}

	objects, err := c.List(ctx, "", c.config.Prefix, limit)
	if err != nil {
		c.pending.Reset(nil)
		c.Log("Prefetch of %s failed, queue left empty: %v", c.config.DefaultBucket, err)
		return
	}
	c.pending.Reset(objects)
	c.Log("Prefetched %d objects from %s", len(objects), c.config.DefaultBucket)
}

// Disconnect closes the client
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		c.Log("Warning: error closing GCS client: %v", err)
	}
	c.client = nil
	c.pending.Reset(nil)
	if c.MarkDisconnected() {
		c.Log("Disconnected from GCS: %s", c.Name())
	}
	return nil
}

// HealthCheck reads the default bucket's attributes, or the first bucket of
// the project
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "GCS client not initialized", Timestamp: time.Now()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	var err error
	if c.config.DefaultBucket != "" {
		_, err = c.client.Bucket(c.config.DefaultBucket).Attrs(ctx)
	} else if c.config.ProjectID != "" {
		_, err = c.client.Buckets(ctx, c.config.ProjectID).Next()
		if errors.Is(err, iterator.Done) {
			err = nil
		}
	}

	status := c.Health(start, err)
	status.Details["project_id"] = c.config.ProjectID
	status.Details["default_bucket"] = c.config.DefaultBucket
	return status, nil
}

// Pending is the queue filled by the connect-time listing
func (c *Connector) Pending() *sdk.ObjectQueue {
	return &c.pending
}

// List returns up to max objects under prefix; an empty bucket means the
// default one
func (c *Connector) List(ctx context.Context, bucket, prefix string, max int) ([]sdk.Object, error) {
	if c.client == nil {
		return nil, c.NotConnected("List")
	}
	bucket = c.bucket(bucket)

	var objects []sdk.Object
	timer := sdk.NewTimer()
	it := c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			timer.RecordTo(c.GetMetrics(), err)
			return nil, base.NewConnectorError(c.Name(), "List", "failed to list objects", err)
		}
		objects = append(objects, sdk.Object{
			Bucket:       bucket,
			Key:          attrs.Name,
			Size:         attrs.Size,
			ETag:         attrs.Etag,
			ContentType:  attrs.ContentType,
			LastModified: attrs.Updated,
		})
		if max > 0 && len(objects) >= max {
			break
		}
	}
	timer.RecordTo(c.GetMetrics(), nil)
	return objects, nil
}

// Get reads an object's content
func (c *Connector) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if c.client == nil {
		return nil, c.NotConnected("Get")
	}

	timer := sdk.NewTimer()
	reader, err := c.client.Bucket(c.bucket(bucket)).Object(key).NewReader(ctx)
	if err != nil {
		timer.RecordTo(c.GetMetrics(), err)
		return nil, base.NewConnectorError(c.Name(), "Get", fmt.Sprintf("failed to read object: %s", key), err)
	}
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Get", "failed to read object content", err)
	}
	return content, nil
}

// Put uploads data
func (c *Connector) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if c.client == nil {
		return c.NotConnected("Put")
	}

	timer := sdk.NewTimer()
	writer := c.client.Bucket(c.bucket(bucket)).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	_, err := writer.Write(data)
	if closeErr := writer.Close(); err == nil {
		err = closeErr
	}
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Put", fmt.Sprintf("failed to write object: %s", key), err)
	}
	return nil
}

// Delete removes an object
func (c *Connector) Delete(ctx context.Context, bucket, key string) error {
	if c.client == nil {
		return c.NotConnected("Delete")
	}

	timer := sdk.NewTimer()
	err := c.client.Bucket(c.bucket(bucket)).Object(key).Delete(ctx)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Delete", fmt.Sprintf("failed to delete object: %s", key), err)
	}
	return nil
}

// SignedURL returns a time-limited download URL. It needs service account
// credentials.
func (c *Connector) SignedURL(bucket, key string) (string, error) {
	if c.client == nil {
		return "", c.NotConnected("SignedURL")
	}

	url, err := c.client.Bucket(c.bucket(bucket)).SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(base.Seconds(c.config.SignedURLExpiry, 15*time.Minute)),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", base.NewConnectorError(c.Name(), "SignedURL", "failed to sign URL", err)
	}
	return url, nil
}

func (c *Connector) bucket(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return c.config.DefaultBucket
}
