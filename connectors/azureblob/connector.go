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

package azureblob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"integrabus/worker/connectors/base"
	"integrabus/worker/connectors/sdk"
)

// Config describes one storage account
type Config struct {
	base.Common `yaml:",inline"`

	AccountName string `json:"account_name,omitempty" yaml:"account_name,omitempty"`
	// AccountKey is the resource's password
	AccountKey         string `json:"account_key,omitempty" yaml:"account_key,omitempty"`
	ConnectionString   string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`
	UseManagedIdentity bool   `json:"use_managed_identity,omitempty" yaml:"use_managed_identity,omitempty"`
	// ServiceURL overrides https://<account>.blob.core.windows.net/
	ServiceURL       string `json:"service_url,omitempty" yaml:"service_url,omitempty"`
	DefaultContainer string `json:"default_container,omitempty" yaml:"default_container,omitempty"`
	Prefix           string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	PrefetchLimit    int    `json:"prefetch_limit,omitempty" yaml:"prefetch_limit,omitempty"`
	SASExpiry        int    `json:"sas_expiry,omitempty" yaml:"sas_expiry,omitempty"`
	// MaxRetries below zero disables retries
	MaxRetries int32 `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// Validate checks that one authentication method is usable
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.ConnectionString != "" {
		return nil
	}
	if c.AccountName == "" {
		return fmt.Errorf("azureblob %s: account_name is required", c.Name)
	}
	if c.AccountKey == "" && !c.UseManagedIdentity {
		return fmt.Errorf("azureblob %s: no authentication method provided", c.Name)
	}
	return nil
}

// WithPassword returns a copy with a new account key
func (c Config) WithPassword(password string) Config {
	c.AccountKey = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.AccountKey = base.Shadow(c.AccountKey)
	c.ConnectionString = base.Shadow(c.ConnectionString)
	return c
}

func (c Config) serviceURL() string {
	if c.ServiceURL != "" {
		return strings.TrimSuffix(c.ServiceURL, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", c.AccountName)
}

func (c Config) clientOptions() *azblob.ClientOptions {
	if c.MaxRetries == 0 {
		return nil
	}
	return &azblob.ClientOptions{ClientOptions: azcore.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: c.MaxRetries},
	}}
}

// Connector wraps an Azure Blob client. When a default container is
// configured, Connect lists it into Pending.
type Connector struct {
	*sdk.BaseConnector
	config  Config
	client  *azblob.Client
	pending sdk.ObjectQueue
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		BaseConnector: sdk.NewBaseConnector("azureblob", cfg.Name),
		config:        cfg,
	}
}

// Connect builds the client and prefetches the default container listing
func (c *Connector) Connect(ctx context.Context) error {
	var err error
	switch {
	case c.config.ConnectionString != "":
		c.client, err = azblob.NewClientFromConnectionString(c.config.ConnectionString, c.config.clientOptions())
	case c.config.AccountKey != "":
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(c.config.AccountName, c.config.AccountKey)
		if err == nil {
			c.client, err = azblob.NewClientWithSharedKeyCredential(c.config.serviceURL(), cred, c.config.clientOptions())
		}
	case c.config.UseManagedIdentity:
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			c.client, err = azblob.NewClient(c.config.serviceURL(), cred, c.config.clientOptions())
		}
	default:
		return base.NewConnectorError(c.Name(), "Connect", "no authentication method provided", nil)
	}
	if err != nil {
		c.client = nil
		return base.NewConnectorError(c.Name(), "Connect", "failed to create client", err)
	}

	c.MarkConnected()
	c.Log("Connected to Azure Blob Storage: %s (account: %s, container: %s)", c.Name(), c.config.AccountName, c.config.DefaultContainer)

	c.prefetch(ctx)
	return nil
}

func (c *Connector) prefetch(ctx context.Context) {
	if c.config.DefaultContainer == "" {
		return
	}
	limit := c.config.PrefetchLimit
	if limit <= 0 {
		limit = sdk.DefaultPrefetchLimit
	}

	objects, err := c.List(ctx, "", c.config.Prefix, limit)
	if err != nil {
		c.pending.Reset(nil)
		c.Log("Prefetch of %s failed, queue left empty: %v", c.config.DefaultContainer, err)
		return
	}
	c.pending.Reset(objects)
	c.Log("Prefetched %d blobs from %s", len(objects), c.config.DefaultContainer)
}

// Disconnect drops the client
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	c.client = nil
	c.pending.Reset(nil)
	if c.MarkDisconnected() {
		c.Log("Disconnected from Azure Blob Storage: %s", c.Name())
	}
	return nil
}

// HealthCheck reads the service properties
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "Azure Blob client not initialized", Timestamp: time.Now()}, nil
	}

	start := time.Now()
	_, err := c.client.ServiceClient().GetProperties(ctx, nil)
	status := c.Health(start, err)
	status.Details["account_name"] = c.config.AccountName
	status.Details["default_container"] = c.config.DefaultContainer
	return status, nil
}

// Pending is the queue filled by the connect-time listing
func (c *Connector) Pending() *sdk.ObjectQueue {
	return &c.pending
}

// List returns up to max blobs under prefix; an empty container means the
// default one
func (c *Connector) List(ctx context.Context, containerName, prefix string, max int) ([]sdk.Object, error) {
	if c.client == nil {
		return nil, c.NotConnected("List")
	}
	containerName = c.container(containerName)

	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}
	if max > 0 && max < 5000 {
		n := int32(max)
		opts.MaxResults = &n
	}

	var objects []sdk.Object
	pager := c.client.NewListBlobsFlatPager(containerName, opts)
	for pager.More() {
		timer := sdk.NewTimer()
		resp, err := pager.NextPage(ctx)
		timer.RecordTo(c.GetMetrics(), err)
		if err != nil {
			return nil, base.NewConnectorError(c.Name(), "List", "failed to list blobs", err)
		}

		for _, item := range resp.Segment.BlobItems {
			obj := sdk.Object{Bucket: containerName, Key: deref(item.Name)}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					obj.Size = *p.ContentLength
				}
				if p.ETag != nil {
					obj.ETag = string(*p.ETag)
				}
				if p.LastModified != nil {
					obj.LastModified = *p.LastModified
				}
				obj.ContentType = deref(p.ContentType)
			}
			objects = append(objects, obj)
			if max > 0 && len(objects) >= max {
				return objects, nil
			}
		}
	}
	return objects, nil
}

// Get downloads a blob
func (c *Connector) Get(ctx context.Context, containerName, blobName string) ([]byte, error) {
	if c.client == nil {
		return nil, c.NotConnected("Get")
	}

	timer := sdk.NewTimer()
	resp, err := c.client.DownloadStream(ctx, c.container(containerName), blobName, nil)
	if err != nil {
		timer.RecordTo(c.GetMetrics(), err)
		return nil, base.NewConnectorError(c.Name(), "Get", fmt.Sprintf("failed to download blob: %s", blobName), err)
	}
	defer func() { _ = resp.Body.Close() }()

	content, err := io.ReadAll(resp.Body)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return nil, base.NewConnectorError(c.Name(), "Get", "failed to read blob content", err)
	}
	return content, nil
}

// Put uploads data as a block blob
func (c *Connector) Put(ctx context.Context, containerName, blobName string, data []byte, contentType string) error {
	if c.client == nil {
		return c.NotConnected("Put")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	timer := sdk.NewTimer()
	_, err := c.client.UploadBuffer(ctx, c.container(containerName), blobName, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Put", fmt.Sprintf("failed to upload blob: %s", blobName), err)
	}
	return nil
}

// Delete removes a blob
func (c *Connector) Delete(ctx context.Context, containerName, blobName string) error {
	if c.client == nil {
		return c.NotConnected("Delete")
	}

	timer := sdk.NewTimer()
	_, err := c.client.DeleteBlob(ctx, c.container(containerName), blobName, nil)
	timer.RecordTo(c.GetMetrics(), err)
	if err != nil {
		return base.NewConnectorError(c.Name(), "Delete", fmt.Sprintf("failed to delete blob: %s", blobName), err)
	}
	return nil
}

// SignedURL returns a read-only SAS URL for a blob. It needs the account key.
func (c *Connector) SignedURL(containerName, blobName string) (string, error) {
	if c.config.AccountKey == "" {
		return "", base.NewConnectorError(c.Name(), "SignedURL", "account key required for SAS generation", nil)
	}
	cred, err := azblob.NewSharedKeyCredential(c.config.AccountName, c.config.AccountKey)
	if err != nil {
		return "", base.NewConnectorError(c.Name(), "SignedURL", "failed to create credential for SAS", err)
	}

	containerName = c.container(containerName)
	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPSandHTTP,
		StartTime:     time.Now().Add(-10 * time.Minute),
		ExpiryTime:    time.Now().Add(base.Seconds(c.config.SASExpiry, time.Hour)),
		Permissions:   (&sas.BlobPermissions{Read: true}).String(),
		ContainerName: containerName,
		BlobName:      blobName,
	}
	params, err := values.SignWithSharedKey(cred)
	if err != nil {
		return "", base.NewConnectorError(c.Name(), "SignedURL", "failed to generate SAS token", err)
	}
	return fmt.Sprintf("%s%s/%s?%s", c.config.serviceURL(), containerName, blobName, params.Encode()), nil
}

func (c *Connector) container(name string) string {
	if name != "" {
		return name
	}
	return c.config.DefaultContainer
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
