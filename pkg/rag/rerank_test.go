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
	"strings"
	"testing"

	"github.com/kadirpekel/mend/pkg/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankEmpty(t *testing.T) {
	assert.Empty(t, Rerank(nil))
	assert.Empty(t, Rerank([]vector.Result{}))
}

func TestRerankOrdering(t *testing.T) {
	long := strings.Repeat("relevant text ", 40)
	results := []vector.Result{
		{ID: "doc1_chunk_0", Score: 0.2, Content: "short",
			Metadata: map[string]any{"doc_id": "doc1", "chunk_index": 0}},
		{ID: "doc1_chunk_1", Score: 0.95, Content: long,
			Metadata: map[string]any{"doc_id": "doc1", "chunk_index": 1}},
		{ID: "doc2_chunk_0", Score: 0.6, Content: long,
			Metadata: map[string]any{"doc_id": "doc2", "chunk_index": 0}},
	}

	ranked := Rerank(results)
	require.Len(t, ranked, 3)

	assert.Equal(t, "doc1_chunk_1", ranked[0].ChunkID)
	assert.Equal(t, "doc2_chunk_0", ranked[1].ChunkID)
	assert.Equal(t, "doc1_chunk_0", ranked[2].ChunkID)

	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Relevance, ranked[i].Relevance)
	}
}

func TestRerankScoreBlend(t *testing.T) {
	// Full similarity plus full length weight saturates at 1.0.
	results := []vector.Result{
		{ID: "c0", Score: 1.0, Content: strings.Repeat("x", 500),
			Metadata: map[string]any{"doc_id": "d", "chunk_index": 0}},
	}
	ranked := Rerank(results)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 1.0, ranked[0].Relevance, 0.001)

	// Zero similarity with a tiny chunk stays near zero but non-negative.
	results[0].Score = 0
	results[0].Content = "x"
	ranked = Rerank(results)
	assert.GreaterOrEqual(t, ranked[0].Relevance, 0.0)
	assert.Less(t, ranked[0].Relevance, 0.1)
}

func TestRerankMetadataEnrichment(t *testing.T) {
	results := []vector.Result{
		{ID: "doc1_chunk_2", Score: 0.8, Content: "some chunk text",
			Metadata: map[string]any{"doc_id": "doc1", "chunk_index": 2}},
	}

	ranked := Rerank(results)
	require.Len(t, ranked, 1)

	chunk := ranked[0]
	assert.Equal(t, "doc1", chunk.DocID)
	assert.Equal(t, 2, chunk.ChunkIndex)
	assert.Contains(t, chunk.Metadata, "similarity_score")
	assert.Contains(t, chunk.Metadata, "original_distance")
	assert.Contains(t, chunk.Metadata, "text_length")
	assert.InDelta(t, 0.2, chunk.Metadata["original_distance"].(float64), 0.001)
	assert.Equal(t, len("some chunk text"), chunk.Metadata["text_length"])
}
