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

/*
Package logger writes single-line JSON log entries for the worker.

Each entry carries the component name, the deployment instance
(INSTANCE_ID) and the container hostname. Entries produced while applying
a control message also carry its cluster id and correlation id (cid).

	audit := logger.New("worker")
	audit.Audit(msg.ClusterID, msg.CID, "outgoing.sql.edit", "crm", time.Since(start), err)

produces

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"worker","instance_id":"i-abc123","container":"worker-0",
	 "cluster_id":"1","cid":"f3c1...","message":"control message applied",
	 "fields":{"action":"outgoing.sql.edit","duration_ms":1.5,"name":"crm"}}

Logger instances are safe for concurrent use.
*/
package logger
