// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
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
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"integrabus/worker/connectors/base"
)

const (
	// DefaultConnectTimeout is the default connection timeout
	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxPoolSize is the default maximum connection pool size
	DefaultMaxPoolSize = 100
	// DefaultMinPoolSize is the default minimum connection pool size
	DefaultMinPoolSize = 10
)

// Config describes an outgoing MongoDB connection
type Config struct {
	base.Common `yaml:",inline"`

	// Hosts holds host[:port] entries, one per line
	Hosts          string `json:"hosts" yaml:"hosts"`
	Database       string `json:"database" yaml:"database"`
	Collection     string `json:"collection,omitempty" yaml:"collection,omitempty"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	AuthDatabase   string `json:"auth_database,omitempty" yaml:"auth_database,omitempty"`
	ReplicaSet     string `json:"replica_set,omitempty" yaml:"replica_set,omitempty"`
	TLS            bool   `json:"tls,omitempty" yaml:"tls,omitempty"`
	ReadPreference string `json:"read_preference,omitempty" yaml:"read_preference,omitempty"`
	PoolSize       int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty"`
	Timeout        int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	AppName        string `json:"app_name,omitempty" yaml:"app_name,omitempty"`
}

// Validate checks the fields required to connect
func (c Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if len(base.SplitLines(c.Hosts)) == 0 {
		return fmt.Errorf("mongodb %s: hosts is required", c.Name)
	}
	if c.Database == "" {
		return fmt.Errorf("mongodb %s: database is required", c.Name)
	}
	return nil
}

// WithPassword returns a copy with a new password
func (c Config) WithPassword(password string) Config {
	c.Password = password
	return c
}

// Sanitized returns a copy safe to log
func (c Config) Sanitized() Config {
	c.Password = base.Shadow(c.Password)
	return c
}

// URI builds the connection string. Credentials are applied through
// options, never embedded.
func (c Config) URI() string {
	hosts := base.SplitLines(c.Hosts)
	for i, h := range hosts {
		if !strings.Contains(h, ":") {
			hosts[i] = h + ":27017"
		}
	}

	params := url.Values{}
	if c.ReplicaSet != "" {
		params.Set("replicaSet", c.ReplicaSet)
	}
	if c.TLS {
		params.Set("tls", "true")
	}
	if len(hosts) == 1 && c.ReplicaSet == "" {
		params.Set("directConnection", "true")
	}

	uri := "mongodb://" + strings.Join(hosts, ",") + "/"
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	return uri
}

// ClientOptions translates the config into driver options
func (c Config) ClientOptions() *options.ClientOptions {
	opts := options.Client().ApplyURI(c.URI())

	maxPool := uint64(DefaultMaxPoolSize)
	if c.PoolSize > 0 {
		maxPool = uint64(c.PoolSize)
	}
	minPool := uint64(DefaultMinPoolSize)
	if minPool > maxPool {
		minPool = maxPool
	}
	opts.SetMaxPoolSize(maxPool)
	opts.SetMinPoolSize(minPool)

	timeout := base.Seconds(c.Timeout, DefaultConnectTimeout)
	opts.SetConnectTimeout(timeout)
	opts.SetServerSelectionTimeout(timeout)

	if rp := readPreference(c.ReadPreference); rp != nil {
		opts.SetReadPreference(rp)
	}

	appName := "integrabus-worker"
	if c.AppName != "" {
		appName = c.AppName
	}
	opts.SetAppName(appName)

	if c.Username != "" {
		authSource := c.AuthDatabase
		if authSource == "" {
			authSource = "admin"
		}
		opts.SetAuth(options.Credential{
			AuthSource: authSource,
			Username:   c.Username,
			Password:   c.Password,
		})
	}

	opts.SetRetryWrites(true)
	opts.SetRetryReads(true)
	return opts
}

// Connector is a pooled MongoDB client bound to one database
type Connector struct {
	config   Config
	client   *mongo.Client
	database *mongo.Database
	logger   *log.Logger
}

// NewConnector creates an unconnected client for cfg
func NewConnector(cfg Config) *Connector {
	return &Connector{
		config: cfg,
		logger: log.New(os.Stdout, "[CONN_MONGODB] ", log.LstdFlags),
	}
}

// Connect establishes the client pool and pings the primary
func (c *Connector) Connect(ctx context.Context) error {
	client, err := mongo.Connect(ctx, c.config.ClientOptions())
	if err != nil {
		return base.NewConnectorError(c.config.Name, "Connect", "failed to connect to MongoDB", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return base.NewConnectorError(c.config.Name, "Connect", "failed to ping MongoDB", err)
	}

	c.client = client
	c.database = client.Database(c.config.Database)
	c.logger.Printf("Connected to MongoDB: %s (database=%s)", c.config.Name, c.config.Database)
	return nil
}

// Disconnect closes the client pool
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}

	disconnectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := c.client
	c.client = nil
	c.database = nil
	if err := client.Disconnect(disconnectCtx); err != nil {
		return base.NewConnectorError(c.config.Name, "Disconnect", "failed to disconnect", err)
	}

	c.logger.Printf("Disconnected from MongoDB: %s", c.config.Name)
	return nil
}

// HealthCheck pings the primary and reports the server version
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	if c.client == nil {
		return &base.HealthStatus{Healthy: false, Error: "client not connected", Timestamp: time.Now()}, nil
	}

	start := time.Now()
	err := c.client.Ping(ctx, readpref.Primary())
	latency := time.Since(start)

	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	details := map[string]string{"database": c.config.Database}
	var buildInfo bson.M
	if err := c.database.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&buildInfo); err == nil {
		if version, ok := buildInfo["version"].(string); ok {
			details["mongodb_version"] = version
		}
	}

	return &base.HealthStatus{
		Healthy:   true,
		Latency:   latency,
		Details:   details,
		Timestamp: time.Now(),
	}, nil
}

// Query runs a read. Statement is "operation:collection" or a bare
// operation against the default collection; operation is find, findone,
// count or distinct. Args[0] is the filter, Args[1] the distinct field.
func (c *Connector) Query(ctx context.Context, query *base.Query) (*base.QueryResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "client not connected", base.ErrNotConnected)
	}

	operation, collectionName, err := c.parseStatement(query.Statement)
	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "invalid statement", err)
	}
	filter, err := argBSON(query.Args, 0)
	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "invalid filter", err)
	}
	collection := c.database.Collection(collectionName)

	start := time.Now()
	var results []map[string]interface{}

	switch operation {
	case "find":
		opts := options.Find()
		if query.Limit > 0 {
			opts.SetLimit(int64(query.Limit))
		}
		var cursor *mongo.Cursor
		cursor, err = collection.Find(ctx, filter, opts)
		if err == nil {
			results, err = decodeCursor(ctx, cursor)
			_ = cursor.Close(ctx)
		}
	case "findone":
		var doc bson.M
		err = collection.FindOne(ctx, filter).Decode(&doc)
		if err == mongo.ErrNoDocuments {
			err = nil
			results = []map[string]interface{}{}
		} else if err == nil {
			results = []map[string]interface{}{bsonToMap(doc)}
		}
	case "count":
		var n int64
		n, err = collection.CountDocuments(ctx, filter)
		results = []map[string]interface{}{{"count": n}}
	case "distinct":
		if len(query.Args) < 2 {
			return nil, base.NewConnectorError(c.config.Name, "Query", "distinct requires a field argument", nil)
		}
		var values []interface{}
		values, err = collection.Distinct(ctx, fmt.Sprint(query.Args[1]), filter)
		results = []map[string]interface{}{{"values": convertFromBSON(bson.A(values))}}
	default:
		return nil, base.NewConnectorError(c.config.Name, "Query",
			fmt.Sprintf("unsupported operation: %s", operation), nil)
	}

	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Query", "query execution failed", err)
	}

	return &base.QueryResult{
		Rows:      results,
		RowCount:  len(results),
		Duration:  time.Since(start),
		Connector: c.config.Name,
	}, nil
}

// Execute runs a write. Statement follows Query; operation is insertone,
// updateone, updatemany, deleteone or deletemany. Inserts take the document
// in Args[0]; updates take the filter in Args[0] and the update in Args[1].
func (c *Connector) Execute(ctx context.Context, cmd *base.Command) (*base.CommandResult, error) {
	if c.client == nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "client not connected", base.ErrNotConnected)
	}

	operation, collectionName, err := c.parseStatement(cmd.Statement)
	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "invalid statement", err)
	}
	first, err := argBSON(cmd.Args, 0)
	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "invalid document", err)
	}
	collection := c.database.Collection(collectionName)

	start := time.Now()
	var affected int64

	switch operation {
	case "insertone", "insert":
		if _, err = collection.InsertOne(ctx, first); err == nil {
			affected = 1
		}
	case "updateone", "updatemany":
		var update bson.M
		update, err = argBSON(cmd.Args, 1)
		if err != nil || len(update) == 0 {
			return nil, base.NewConnectorError(c.config.Name, "Execute", "update document required", err)
		}
		var res *mongo.UpdateResult
		if operation == "updateone" {
			res, err = collection.UpdateOne(ctx, first, update)
		} else {
			res, err = collection.UpdateMany(ctx, first, update)
		}
		if err == nil {
			affected = res.ModifiedCount
		}
	case "deleteone", "deletemany":
		var res *mongo.DeleteResult
		if operation == "deleteone" {
			res, err = collection.DeleteOne(ctx, first)
		} else {
			res, err = collection.DeleteMany(ctx, first)
		}
		if err == nil {
			affected = res.DeletedCount
		}
	default:
		return nil, base.NewConnectorError(c.config.Name, "Execute",
			fmt.Sprintf("unsupported action: %s", operation), nil)
	}

	if err != nil {
		return nil, base.NewConnectorError(c.config.Name, "Execute", "command execution failed", err)
	}

	return &base.CommandResult{
		RowsAffected: affected,
		Duration:     time.Since(start),
		Connector:    c.config.Name,
	}, nil
}

// Name returns the connection name
func (c *Connector) Name() string {
	return c.config.Name
}

// Type returns the connector type
func (c *Connector) Type() string {
	return "mongodb"
}

// parseStatement splits "operation:collection"
func (c *Connector) parseStatement(statement string) (string, string, error) {
	operation, collection := statement, c.config.Collection
	if parts := strings.SplitN(statement, ":", 2); len(parts) == 2 {
		operation, collection = parts[0], parts[1]
	}
	operation = strings.ToLower(strings.TrimSpace(operation))
	if collection == "" {
		return "", "", fmt.Errorf("no collection in %q and no default collection", statement)
	}
	return operation, collection, nil
}

func readPreference(name string) *readpref.ReadPref {
	switch strings.ToLower(name) {
	case "primary":
		return readpref.Primary()
	case "primarypreferred":
		return readpref.PrimaryPreferred()
	case "secondary":
		return readpref.Secondary()
	case "secondarypreferred":
		return readpref.SecondaryPreferred()
	case "nearest":
		return readpref.Nearest()
	default:
		return nil
	}
}

// argBSON converts args[i] to a filter or document; a missing arg is empty
func argBSON(args []interface{}, i int) (bson.M, error) {
	if i >= len(args) || args[i] == nil {
		return bson.M{}, nil
	}
	return toBSON(args[i])
}

func toBSON(v interface{}) (bson.M, error) {
	switch val := v.(type) {
	case bson.M:
		return val, nil
	case map[string]interface{}:
		result := bson.M{}
		for k, v := range val {
			result[k] = convertToBSONValue(v)
		}
		return result, nil
	case string:
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(val), &raw); err != nil {
			return nil, fmt.Errorf("invalid BSON/JSON: %w", err)
		}
		return toBSON(raw)
	default:
		return nil, fmt.Errorf("cannot convert %T to BSON", v)
	}
}

// convertToBSONValue resolves extended JSON $oid and $date values
func convertToBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if oid, ok := val["$oid"].(string); ok {
			if objectID, err := primitive.ObjectIDFromHex(oid); err == nil {
				return objectID
			}
		}
		if date, ok := val["$date"].(string); ok {
			if t, err := time.Parse(time.RFC3339, date); err == nil {
				return t
			}
		}
		result := bson.M{}
		for k, v := range val {
			result[k] = convertToBSONValue(v)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, v := range val {
			result[i] = convertToBSONValue(v)
		}
		return result
	default:
		return val
	}
}

func decodeCursor(ctx context.Context, cursor *mongo.Cursor) ([]map[string]interface{}, error) {
	results := []map[string]interface{}{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, bsonToMap(doc))
	}
	return results, cursor.Err()
}

func bsonToMap(doc bson.M) map[string]interface{} {
	result := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		result[k] = convertFromBSON(v)
	}
	return result
}

// convertFromBSON converts BSON types to JSON-serializable Go types
func convertFromBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time()
	case primitive.Binary:
		return val.Data
	case bson.M:
		return bsonToMap(val)
	case bson.A:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = convertFromBSON(item)
		}
		return result
	case primitive.D:
		result := make(map[string]interface{}, len(val))
		for _, elem := range val {
			result[elem.Key] = convertFromBSON(elem.Value)
		}
		return result
	default:
		return val
	}
}
