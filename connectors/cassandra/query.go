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

package cassandra

import (
	"context"
	"fmt"
	"strings"

	"integrabus/worker/connectors/base"
)

// QueryConfig is a named CQL statement run through a definition's session
type QueryConfig struct {
	base.Common `yaml:",inline"`

	DefName string `json:"def_name" yaml:"def_name"`
	Value   string `json:"value" yaml:"value"`
}

// Validate checks the query has a statement and a definition
func (q QueryConfig) Validate() error {
	if err := q.Common.Validate(); err != nil {
		return err
	}
	if q.DefName == "" {
		return fmt.Errorf("cassandra query %s: def_name is required", q.Name)
	}
	if strings.TrimSpace(q.Value) == "" {
		return fmt.Errorf("cassandra query %s: value is required", q.Name)
	}
	return nil
}

// IsSelect reports whether the statement returns rows
func (q QueryConfig) IsSelect() bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(q.Value)), "SELECT")
}

// Run executes the query through conn, which must be a connected definition
func (q QueryConfig) Run(ctx context.Context, conn base.Querier, args ...interface{}) (*base.QueryResult, error) {
	if q.IsSelect() {
		return conn.Query(ctx, &base.Query{Statement: q.Value, Args: args})
	}

	res, err := conn.Execute(ctx, &base.Command{Statement: q.Value, Args: args})
	if err != nil {
		return nil, err
	}
	return &base.QueryResult{
		Rows:      []map[string]interface{}{},
		Duration:  res.Duration,
		Connector: res.Connector,
	}, nil
}
