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

package logger

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger writes structured JSON entries tagged with the worker's identity
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	mu  sync.Mutex
	out io.Writer
}

// LogEntry is one structured log line
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	ClusterID  string                 `json:"cluster_id,omitempty"`
	CID        string                 `json:"cid,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a Logger for component writing to stdout
func New(component string) *Logger {
	// Get instance ID from environment (set during deployment)
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		out:        os.Stdout,
	}
}

// SetOutput redirects the log lines, mainly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// Log writes one entry
func (l *Logger) Log(level LogLevel, clusterID, cid, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		ClusterID:  clusterID,
		CID:        cid,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.out
	if out == nil {
		out = os.Stdout
	}
	_, _ = out.Write(append(jsonBytes, '\n'))
}

// Info logs an informational message
func (l *Logger) Info(clusterID, cid, message string, fields map[string]interface{}) {
	l.Log(INFO, clusterID, cid, message, fields)
}

// Error logs an error message
func (l *Logger) Error(clusterID, cid, message string, fields map[string]interface{}) {
	l.Log(ERROR, clusterID, cid, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(clusterID, cid, message string, fields map[string]interface{}) {
	l.Log(WARN, clusterID, cid, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(clusterID, cid, message string, fields map[string]interface{}) {
	l.Log(DEBUG, clusterID, cid, message, fields)
}

// Audit records the outcome of one control message. A non-nil err makes
// the entry an ERROR.
func (l *Logger) Audit(clusterID, cid, action, name string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"action":      action,
		"name":        name,
		"duration_ms": float64(duration.Microseconds()) / 1000,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error(clusterID, cid, "control message failed", fields)
		return
	}
	l.Info(clusterID, cid, "control message applied", fields)
}
