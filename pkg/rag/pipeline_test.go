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

package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kadirpekel/mend/pkg/guardrails"
	"github.com/kadirpekel/mend/pkg/healing"
	"github.com/kadirpekel/mend/pkg/store"
	"github.com/kadirpekel/mend/pkg/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLLM answers deterministically so graph behavior is testable
// without a model server. Embeddings project text onto two axes:
// geography-flavored content on the first, everything else on the
// second.
type stubLLM struct {
	answer string
}

func (s *stubLLM) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, 4)
	if strings.Contains(lower, "paris") || strings.Contains(lower, "capital") ||
		strings.Contains(lower, "france") {
		v[0] = 1
	} else {
		v[1] = 1
	}
	return v, nil
}

func (s *stubLLM) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	if s.answer != "" {
		return s.answer, nil
	}
	return "The capital of France is Paris. [Source 1]", nil
}

func (s *stubLLM) GenerateJSON(ctx context.Context, prompt string) (map[string]any, error) {
	switch {
	case strings.Contains(prompt, "access control"):
		return map[string]any{
			"intent":         "reference",
			"department":     "general",
			"required_roles": []any{"viewer"},
			"sensitivity":    "internal",
			"keywords":       []any{"geography"},
		}, nil
	case strings.Contains(prompt, "Extract metadata"):
		return map[string]any{
			"title":    "European Capitals",
			"summary":  "Facts about European capital cities.",
			"keywords": []any{"europe", "capitals"},
			"topics":   []any{"geography"},
			"doc_type": "report",
		}, nil
	default:
		answer := s.answer
		if answer == "" {
			answer = "Paris"
		}
		return map[string]any{"answer": answer}, nil
	}
}

func (s *stubLLM) Model() string          { return "stub" }
func (s *stubLLM) EmbeddingModel() string { return "stub-embed" }
func (s *stubLLM) Dimension() int         { return 4 }
func (s *stubLLM) Close() error           { return nil }

func newTestPipeline(t *testing.T, svc *stubLLM) (*Pipeline, *Engine, *store.Store, vector.Provider) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	vecs, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)

	pipeline, err := NewPipeline(PipelineConfig{
		LLM:        svc,
		Vectors:    vecs,
		Store:      st,
		Collection: "test_docs",
	})
	require.NoError(t, err)

	agent := healing.NewAgent(st, healing.WithEpsilon(0))
	engine, err := NewEngine(EngineConfig{
		LLM:        svc,
		Vectors:    vecs,
		Store:      st,
		Collection: "test_docs",
		Agent:      agent,
		Guards:     guardrails.NewEngine(nil),
	})
	require.NoError(t, err)

	return pipeline, engine, st, vecs
}

func TestIngestThenAsk(t *testing.T) {
	svc := &stubLLM{}
	pipeline, engine, st, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	result := pipeline.IngestText(ctx,
		"France is a country in Western Europe. The capital of France is Paris.",
		"", "sess-1")
	require.True(t, result.Success, "ingestion errors: %v", result.Errors)
	assert.NotEmpty(t, result.DocID)
	assert.Equal(t, 1, result.ChunksSaved)
	assert.Equal(t, "rbac:dept:general:role:viewer", result.RBACNamespace)

	// Relational mirror carries the document and its audit record.
	doc, err := st.GetDocument(ctx, result.DocID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "European Capitals", doc.Title)

	tracking, err := st.GetTracking(ctx, result.DocID)
	require.NoError(t, err)
	require.Len(t, tracking, 1)
	assert.Equal(t, "COMPLETED", tracking[0].Status)
	assert.Equal(t, 1, tracking[0].ChunksSaved)

	answer := engine.Ask(ctx, "What is the capital of France?", AskOptions{
		Mode:      ResponseConcise,
		SessionID: "sess-1",
	})
	assert.Equal(t, "Paris", answer.Answer)
	assert.Empty(t, answer.Sources, "concise mode hides sources")

	// The question was logged to the history ledger.
	queries, err := st.GetByEventType(ctx, store.EventQuery, 10)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	metrics := queries[0].Metrics()
	assert.Equal(t, float64(1), metrics["frequency"])
	assert.Equal(t, "cold", metrics["quality_category"])
}

func TestAskInternalModeExposesSources(t *testing.T) {
	svc := &stubLLM{answer: "Paris is the capital. [Source 1]"}
	pipeline, engine, _, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	result := pipeline.IngestText(ctx, "The capital of France is Paris.", "", "")
	require.True(t, result.Success)

	answer := engine.Ask(ctx, "What is the capital of France?", AskOptions{
		Mode: ResponseInternal,
	})
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, result.DocID, answer.Sources[0].DocID)
	assert.LessOrEqual(t, len(answer.Sources[0].Preview), 100)
	assert.True(t, answer.Safe)
}

func TestAskRoutesThroughOptimize(t *testing.T) {
	svc := &stubLLM{}
	pipeline, engine, st, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	// A single tiny document yields fewer than three sources, which
	// flags the retrieval as degraded.
	result := pipeline.IngestText(ctx, "The capital of France is Paris.", "", "")
	require.True(t, result.Success)

	answer := engine.Ask(ctx, "What is the capital of France?", AskOptions{
		Mode: ResponseConcise,
	})
	require.NotNil(t, answer.Trace)
	assert.Contains(t, answer.Trace.Path, "optimize")
	assert.Less(t, answer.RetrievalQuality, 0.6)

	// A SKIP decision leaves the optimize node as a pass-through; any
	// other action records a healing event.
	if answer.OptimizeRan {
		assert.NotEqual(t, healing.ActionSkip, answer.HealingAction)
		heals, err := st.GetByEventType(ctx, store.EventHeal, 10)
		require.NoError(t, err)
		assert.NotEmpty(t, heals)
	}
}

func TestAskHealthyPathSkipsOptimize(t *testing.T) {
	svc := &stubLLM{}
	pipeline, engine, _, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	// Five ingested documents saturate top-k retrieval.
	texts := []string{
		"The capital of France is Paris, a major European city.",
		"Paris hosts the government of France on the Seine.",
		"France designated Paris as its capital centuries ago.",
		"Among French cities the capital Paris is the largest.",
		"Paris, capital of France, is known for the Eiffel Tower.",
	}
	for _, text := range texts {
		result := pipeline.IngestText(ctx, text, "", "")
		require.True(t, result.Success)
	}

	answer := engine.Ask(ctx, "What is the capital of France?", AskOptions{
		Mode: ResponseConcise,
	})
	require.NotNil(t, answer.Trace)
	assert.NotContains(t, answer.Trace.Path, "optimize")
	assert.InDelta(t, 1.0, answer.RetrievalQuality, 0.001)
	assert.False(t, answer.OptimizeRan)
}

func TestAskGuardrailsRedactPII(t *testing.T) {
	svc := &stubLLM{answer: "Contact the admin at foo@bar.com with password hunter2 for access."}
	pipeline, engine, _, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	result := pipeline.IngestText(ctx, "The capital of France is Paris.", "", "")
	require.True(t, result.Success)

	answer := engine.Ask(ctx, "What is the capital of France?", AskOptions{
		Mode: ResponseInternal,
	})
	assert.NotContains(t, answer.Answer, "foo@bar.com")
	assert.NotContains(t, answer.Answer, "hunter2")
	// The rest of the answer survives with the matches masked in place.
	assert.Contains(t, answer.Answer, "[REDACTED]")
	assert.Contains(t, answer.Answer, "Contact the admin at")
}

func TestAskVerboseSkipsGuardrails(t *testing.T) {
	svc := &stubLLM{answer: "Raw diagnostic output with foo@bar.com left intact."}
	pipeline, engine, _, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	result := pipeline.IngestText(ctx, "The capital of France is Paris.", "", "")
	require.True(t, result.Success)

	answer := engine.Ask(ctx, "What is the capital of France?", AskOptions{
		Mode: ResponseVerbose,
	})
	assert.Contains(t, answer.Answer, "foo@bar.com")
	require.NotNil(t, answer.Trace)
	assert.NotContains(t, answer.Trace.Path, "guardrails_filtered")
}

func TestAskEmptyCorpus(t *testing.T) {
	svc := &stubLLM{}
	_, engine, _, _ := newTestPipeline(t, svc)

	answer := engine.Ask(context.Background(), "Anything at all?", AskOptions{
		Mode: ResponseConcise,
	})
	assert.Contains(t, answer.Answer, "could not find")
	assert.Zero(t, answer.RetrievalQuality)
}

func TestIngestTable(t *testing.T) {
	svc := &stubLLM{}
	pipeline, _, st, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	rows := []TableRow{
		{Index: 0, Columns: []string{"country", "capital"},
			Values: map[string]string{"country": "France", "capital": "Paris"}},
		{Index: 1, Columns: []string{"country", "capital"},
			Values: map[string]string{"country": "Germany", "capital": "Berlin"}},
	}
	result := pipeline.IngestTable(ctx, "capitals", rows, "", "")
	require.True(t, result.Success, "ingestion errors: %v", result.Errors)
	assert.True(t, strings.HasPrefix(result.DocID, "table_capitals_"))

	tracking, err := st.GetTracking(ctx, result.DocID)
	require.NoError(t, err)
	require.Len(t, tracking, 1)
	assert.True(t, tracking[0].IsTable)
}

func TestIngestEmptyText(t *testing.T) {
	svc := &stubLLM{}
	pipeline, _, _, _ := newTestPipeline(t, svc)

	result := pipeline.IngestText(context.Background(), "   ", "", "")
	assert.True(t, result.Success)
	assert.Zero(t, result.ChunksSaved)
}

func TestIngestPath(t *testing.T) {
	svc := &stubLLM{}
	pipeline, _, _, _ := newTestPipeline(t, svc)
	ctx := context.Background()

	dir := t.TempDir()
	files := map[string]string{
		"a.md":      "The capital of France is Paris.",
		"b.txt":     "Berlin is the capital of Germany.",
		"skip.webp": "not a document",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	results, err := pipeline.IngestPath(ctx, dir, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, "ingestion errors: %v", r.Errors)
	}
}
