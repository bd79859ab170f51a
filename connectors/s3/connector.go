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

package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Config describes one S3 (or S3-compatible) account
type Config struct {
	base.Common `yaml:",inline"`

	Region         string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
	AccessKeyID    string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty"`
	// SecretAccessKey is the resource's password
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty" yaml:"session_token,omitempty"`
	DefaultBucket   string `json:"default_bucket,omitempty" yaml:"default_bucket,omitempty"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	PrefetchLimit   int    `json:"prefetch_limit,omitempty" yaml:"prefetch_limit,omitempty"`
	PresignExpiry   int    `json:"presign_expiry,omitempty" yaml:"presign_expiry,omitempty"`
	MaxRetries      int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Validate checks the credential pair is complete
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("s3 %s: access_key_id and secret_access_key must be set together", c.Name)
	}
	return nil
}

// WithPassword returns a copy with a new secret access key
func (c Config) WithPassword(password string) Config {
	c.SecretAccessKey = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.SecretAccessKey = base.Shadow(c.SecretAccessKey)
	c.SessionToken = base.Shadow(c.SessionToken)
	return c
}

func (c Config) region() string {
	if c.Region == "" {
		return "us-east-1"
	}
	return c.Region
}

// Connector wraps an S3 client. When a default bucket is configured, Connect
// lists it into Pending.
type Connector struct {
	*sdk.BaseConnector
	config        Config
	client        *s3.Client
	presignClient *s3.PresignClient
	pending       sdk.ObjectQueue
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("s3", cfg.Name),
		config:        cfg,
	}
}

// Connect builds the client and prefetches the default bucket listing
func (c *Connector) Connect(ctx context.Context) error {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(c.config.region()),
	}
	if c.config.MaxRetries > 0 {
		optFns = append(optFns, config.WithRetryMaxAttempts(c.config.MaxRetries))
	}
	// Explicit keys win, otherwise the default credential chain applies
	if c.config.AccessKeyID != "" {
		creds := credentials.NewStaticCredentialsProvider(c.config.AccessKeyID, c.config.SecretAccessKey, c.config.SessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Connect", "failed to load AWS config", err)
	}

	c.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.config.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.config.Endpoint)
		}
		o.UsePathStyle = c.config.ForcePathStyle
	})
	c.presignClient = s3.NewPresignClient(c.client)

	c.MarkConnected()
	c.Log("Connected to S3: %s (region: %s, bucket: %s)", c.Name(), c.config.region(), c.config.DefaultBucket)

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

// Disconnect drops the client
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	c.client = nil
	c.presignClient = nil
	c.pending.Reset(nil)
	if c.MarkDisconnected() {
		c.Log("Disconnected from S3: %s", c.Name())
	}
	return nil
}

// HealthCheck heads the default bucket, or lists buckets without one
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "S3 client not initialized", Timestamp: time.Now()}, nil
	}

	start := time.Now()
	var err error
	if c.config.DefaultBucket != "" {
		_, err = c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.config.DefaultBucket)})
	} else {
		_, err = c.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	}

	status := c.Health(start, err)
	status.Details["default_bucket"] = c.config.DefaultBucket
	status.Details["region"] = c.config.region()
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

	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if max > 0 && max < 1000 {
		input.MaxKeys = aws.Int32(int32(max))
	}

	var objects []sdk.Object
	paginator := s3.NewListObjectsV2Paginator(c.client, input)
	for paginator.HasMorePages() {
		timer := sdk.NewTimer()
		page, err := paginator.NextPage(ctx)
		timer.RecordTo(c.GetMetrics(), err)
		if err != nil {
			return nil, base.NewConnectorError(c.Name(), "List", "failed to list objects", err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, sdk.Object{
				Bucket:       bucket,
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), "\""),
				LastModified: aws.ToTime(obj.LastModified),
			})
			if max > 0 && len(objects) >= max {
				return objects, nil
			}
		}
	}
	return objects, nil
}

// Get reads an object's content
func (c *Connector) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if c.client == nil {
		return nil, c.NotConnected("Get")
	}

	timer := sdk.NewTimer()
	output, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		timer.RecordTo(c.GetMetrics(), err)
		return nil, base.NewConnectorError(c.Name(), "Get", fmt.Sprintf("failed to get object: %s", key), err)
	}
	defer func() { _ = output.Body.Close() }()

	content, err := io.ReadAll(output.Body)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Get", "failed to read object content", err)
	}
	return content, nil
}

// Put uploads data and returns the object's ETag
func (c *Connector) Put(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	if c.client == nil {
		return "", c.NotConnected("Put")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket(bucket)),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	timer := sdk.NewTimer()
	output, err := c.client.PutObject(ctx, input)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return "", base.NewConnectorError(c.Name(), "Put", fmt.Sprintf("failed to put object: %s", key), err)
	}
	return strings.Trim(aws.ToString(output.ETag), "\""), nil
}

// Delete removes an object
func (c *Connector) Delete(ctx context.Context, bucket, key string) error {
	if c.client == nil {
		return c.NotConnected("Delete")
	}

	timer := sdk.NewTimer()
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket(bucket)),
		Key:    aws.String(key),
	})
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Delete", fmt.Sprintf("failed to delete object: %s", key), err)
	}
	return nil
}

// PresignGet returns a time-limited download URL
func (c *Connector) PresignGet(ctx context.Context, bucket, key string) (string, error) {
	if c.presignClient == nil {
		return "", c.NotConnected("PresignGet")
	}

	expiry := base.Seconds(c.config.PresignExpiry, time.Hour)
	presigned, err := c.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket(bucket)),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", base.NewConnectorError(c.Name(), "PresignGet", "failed to presign get object", err)
	}
	return presigned.URL, nil
}

func (c *Connector) bucket(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return c.config.DefaultBucket
}
