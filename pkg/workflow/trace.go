// Copyright 2025 Kadir Pekel
//
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

package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Node trace statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NodeTrace captures one node execution.
type NodeTrace struct {
	Node        string          `json:"node"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at,omitempty"`
	DurationMS  int64           `json:"duration_ms"`
	StateBefore json.RawMessage `json:"state_before,omitempty"`
	StateAfter  json.RawMessage `json:"state_after,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Trace captures one graph invocation end to end.
type Trace struct {
	Graph       string       `json:"graph"`
	SessionID   string       `json:"session_id,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	DurationMS  int64        `json:"duration_ms"`
	Path        []string     `json:"path"`
	Nodes       []*NodeTrace `json:"nodes"`
}

func newTrace(graph, sessionID string) *Trace {
	return &Trace{
		Graph:     graph,
		SessionID: sessionID,
		StartedAt: time.Now(),
	}
}

func (t *Trace) startNode(node string, state any) *NodeTrace {
	nt := &NodeTrace{
		Node:        node,
		Status:      StatusStarted,
		StartedAt:   time.Now(),
		StateBefore: snapshot(state),
	}
	t.Nodes = append(t.Nodes, nt)
	t.Path = append(t.Path, node)
	return nt
}

func (t *Trace) completeNode(nt *NodeTrace, state any) {
	nt.Status = StatusCompleted
	nt.EndedAt = time.Now()
	nt.DurationMS = elapsedMS(nt.StartedAt, nt.EndedAt)
	nt.StateAfter = snapshot(state)
}

func (t *Trace) failNode(nt *NodeTrace, state any, err error) {
	nt.Status = StatusFailed
	nt.EndedAt = time.Now()
	nt.DurationMS = elapsedMS(nt.StartedAt, nt.EndedAt)
	nt.StateAfter = snapshot(state)
	nt.Error = err.Error()
}

func (t *Trace) finish() {
	t.CompletedAt = time.Now()
	t.DurationMS = elapsedMS(t.StartedAt, t.CompletedAt)
}

// snapshot serializes state for the trace; unserializable states degrade
// to a short marker instead of failing the run.
func snapshot(state any) json.RawMessage {
	data, err := json.Marshal(state)
	if err != nil {
		return json.RawMessage(`"<unserializable>"`)
	}
	return data
}

// Failed reports whether any node in the trace failed.
func (t *Trace) Failed() bool {
	for _, nt := range t.Nodes {
		if nt.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Save writes the trace as a JSON file under dir, named by graph,
// session, and timestamp. The directory is created if needed.
func (t *Trace) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create trace directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", t.Graph, t.StartedAt.Format("20060102_150405.000"))
	if t.SessionID != "" {
		name = fmt.Sprintf("%s_%s_%s.json", t.Graph, t.SessionID, t.StartedAt.Format("20060102_150405.000"))
	}
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write trace file: %w", err)
	}
	return path, nil
}
