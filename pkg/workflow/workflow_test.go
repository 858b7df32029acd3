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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Visited []string `json:"visited"`
	Count   int      `json:"count"`
	Errors  []string `json:"errors"`
}

func (s *testState) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func visit(name string) NodeFunc[*testState] {
	return func(ctx context.Context, s *testState) (*testState, error) {
		s.Visited = append(s.Visited, name)
		return s, nil
	}
}

func TestLinearGraph(t *testing.T) {
	g := New[*testState]("linear")
	require.NoError(t, g.AddNode("a", visit("a")))
	require.NoError(t, g.AddNode("b", visit("b")))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", End))

	r, err := g.Compile()
	require.NoError(t, err)

	final, err := r.Invoke(context.Background(), &testState{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, final.Visited)
	assert.Empty(t, final.Errors)
}

func TestConditionalRouting(t *testing.T) {
	build := func() *Graph[*testState] {
		g := New[*testState]("routing")
		require.NoError(t, g.AddNode("check", func(ctx context.Context, s *testState) (*testState, error) {
			s.Visited = append(s.Visited, "check")
			return s, nil
		}))
		require.NoError(t, g.AddNode("optimize", visit("optimize")))
		require.NoError(t, g.AddNode("answer", visit("answer")))
		require.NoError(t, g.AddEdge(Start, "check"))
		require.NoError(t, g.AddConditionalEdges("check", func(s *testState) string {
			if s.Count < 3 {
				return "optimize"
			}
			return "skip"
		}, map[string]string{"optimize": "optimize", "skip": "answer"}))
		require.NoError(t, g.AddEdge("optimize", "answer"))
		require.NoError(t, g.AddEdge("answer", End))
		return g
	}

	t.Run("low count routes through optimize", func(t *testing.T) {
		r, err := build().Compile()
		require.NoError(t, err)
		final, err := r.Invoke(context.Background(), &testState{Count: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"check", "optimize", "answer"}, final.Visited)
	})

	t.Run("high count skips optimize", func(t *testing.T) {
		r, err := build().Compile()
		require.NoError(t, err)
		final, err := r.Invoke(context.Background(), &testState{Count: 5})
		require.NoError(t, err)
		assert.Equal(t, []string{"check", "answer"}, final.Visited)
	})

	t.Run("unmapped label is fatal", func(t *testing.T) {
		g := New[*testState]("bad-route")
		require.NoError(t, g.AddNode("n", visit("n")))
		require.NoError(t, g.AddEdge(Start, "n"))
		require.NoError(t, g.AddConditionalEdges("n", func(s *testState) string {
			return "nowhere"
		}, map[string]string{"done": End}))
		r, err := g.Compile()
		require.NoError(t, err)
		_, err = r.Invoke(context.Background(), &testState{})
		assert.ErrorContains(t, err, "unmapped label")
	})
}

func TestNodeErrorsAccumulate(t *testing.T) {
	g := New[*testState]("errors")
	require.NoError(t, g.AddNode("boom", func(ctx context.Context, s *testState) (*testState, error) {
		return s, fmt.Errorf("embedding service unavailable")
	}))
	require.NoError(t, g.AddNode("after", visit("after")))
	require.NoError(t, g.AddEdge(Start, "boom"))
	require.NoError(t, g.AddEdge("boom", "after"))
	require.NoError(t, g.AddEdge("after", End))

	r, err := g.Compile()
	require.NoError(t, err)

	final, trace, err := r.InvokeTraced(context.Background(), &testState{}, "sess-1")
	require.NoError(t, err)

	// Execution continues past the failed node.
	assert.Equal(t, []string{"after"}, final.Visited)
	require.Len(t, final.Errors, 1)
	assert.Contains(t, final.Errors[0], "embedding service unavailable")

	assert.True(t, trace.Failed())
	assert.Equal(t, StatusFailed, trace.Nodes[0].Status)
	assert.Equal(t, StatusCompleted, trace.Nodes[1].Status)
}

func TestCompileValidation(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		_, err := New[*testState]("empty").Compile()
		assert.ErrorContains(t, err, "no nodes")
	})

	t.Run("no entry edge", func(t *testing.T) {
		g := New[*testState]("no-entry")
		require.NoError(t, g.AddNode("a", visit("a")))
		require.NoError(t, g.AddEdge("a", End))
		_, err := g.Compile()
		assert.ErrorContains(t, err, "no entry edge")
	})

	t.Run("unreachable node", func(t *testing.T) {
		g := New[*testState]("island")
		require.NoError(t, g.AddNode("a", visit("a")))
		require.NoError(t, g.AddNode("island", visit("island")))
		require.NoError(t, g.AddEdge(Start, "a"))
		require.NoError(t, g.AddEdge("a", End))
		require.NoError(t, g.AddEdge("island", End))
		_, err := g.Compile()
		assert.ErrorContains(t, err, "unreachable")
	})

	t.Run("dead end node", func(t *testing.T) {
		g := New[*testState]("dead-end")
		require.NoError(t, g.AddNode("a", visit("a")))
		require.NoError(t, g.AddNode("b", visit("b")))
		require.NoError(t, g.AddEdge(Start, "a"))
		require.NoError(t, g.AddConditionalEdges("a", func(s *testState) string { return "x" },
			map[string]string{"x": "b", "done": End}))
		// b has no outgoing edge
		_, err := g.Compile()
		assert.ErrorContains(t, err, "cannot reach")
	})

	t.Run("duplicate node", func(t *testing.T) {
		g := New[*testState]("dup")
		require.NoError(t, g.AddNode("a", visit("a")))
		assert.Error(t, g.AddNode("a", visit("a")))
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		g := New[*testState]("unknown")
		require.NoError(t, g.AddNode("a", visit("a")))
		assert.Error(t, g.AddEdge("a", "ghost"))
	})
}

func TestTracePersistence(t *testing.T) {
	g := New[*testState]("traced")
	require.NoError(t, g.AddNode("a", visit("a")))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddEdge("a", End))
	r, err := g.Compile()
	require.NoError(t, err)

	_, trace, err := r.InvokeTraced(context.Background(), &testState{}, "sess-42")
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := trace.Save(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"graph": "traced"`)
	assert.Contains(t, string(data), `"session_id": "sess-42"`)
	assert.Contains(t, filepath.Base(path), "sess-42")
}

func TestDiagram(t *testing.T) {
	g := New[*testState]("pipeline")
	require.NoError(t, g.AddNode("retrieve", visit("retrieve")))
	require.NoError(t, g.AddNode("answer", visit("answer")))
	require.NoError(t, g.AddEdge(Start, "retrieve"))
	require.NoError(t, g.AddConditionalEdges("retrieve", func(s *testState) string { return "ok" },
		map[string]string{"ok": "answer", "empty": End}))
	require.NoError(t, g.AddEdge("answer", End))

	d := g.Diagram()
	assert.Contains(t, d.Mermaid, "graph TD")
	assert.Contains(t, d.Mermaid, "START --> retrieve")
	assert.Contains(t, d.Mermaid, "retrieve -->|ok| answer")
	assert.Contains(t, d.ASCII, "retrieve --(ok)--> answer")

	t.Run("cached until recompile", func(t *testing.T) {
		again := g.Diagram()
		assert.Equal(t, d, again)
		_, err := g.Compile()
		require.NoError(t, err)
		rebuilt := g.Diagram()
		assert.Equal(t, d.Mermaid, rebuilt.Mermaid)
	})

	t.Run("save to disk", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, g.SaveDiagram(dir))
		for _, name := range []string{"pipeline.mmd", "pipeline.txt"} {
			_, err := os.Stat(filepath.Join(dir, name))
			assert.NoError(t, err)
		}
	})
}

func TestCancellation(t *testing.T) {
	g := New[*testState]("cancel")
	require.NoError(t, g.AddNode("a", visit("a")))
	require.NoError(t, g.AddNode("b", visit("b")))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", End))
	r, err := g.Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Invoke(ctx, &testState{})
	assert.ErrorContains(t, err, "cancelled")
}
