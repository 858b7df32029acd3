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

package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) *ChromemProvider {
	t.Helper()
	p, err := NewChromemProvider(ChromemConfig{})
	require.NoError(t, err)
	return p
}

func TestChromemProviderUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	docs := []Document{
		{ID: "doc1_chunk_0", Content: "vacation policy details", Embedding: []float32{1, 0, 0}, Metadata: map[string]any{"doc_id": "doc1", "chunk_index": 0}},
		{ID: "doc1_chunk_1", Content: "expense reporting rules", Embedding: []float32{0, 1, 0}, Metadata: map[string]any{"doc_id": "doc1", "chunk_index": 1}},
		{ID: "doc2_chunk_0", Content: "quarterly revenue summary", Embedding: []float32{0, 0, 1}, Metadata: map[string]any{"doc_id": "doc2", "chunk_index": 0}},
	}
	require.NoError(t, p.UpsertBatch(ctx, "rag_embeddings", docs))

	t.Run("nearest neighbor first", func(t *testing.T) {
		results, err := p.Search(ctx, "rag_embeddings", []float32{0.9, 0.1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "doc1_chunk_0", results[0].ID)
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("distance complements similarity", func(t *testing.T) {
		results, err := p.Search(ctx, "rag_embeddings", []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 0.0, results[0].Distance(), 0.001)
	})

	t.Run("topK clamped to collection size", func(t *testing.T) {
		results, err := p.Search(ctx, "rag_embeddings", []float32{1, 0, 0}, 50)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("metadata filter", func(t *testing.T) {
		results, err := p.SearchWithFilter(ctx, "rag_embeddings", []float32{1, 1, 1}, 5,
			map[string]any{"doc_id": "doc2"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "doc2_chunk_0", results[0].ID)
	})

	t.Run("count", func(t *testing.T) {
		n, err := p.Count(ctx, "rag_embeddings")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestChromemProviderDelete(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	require.NoError(t, p.Upsert(ctx, "c", "a_chunk_0", []float32{1, 0}, "alpha", map[string]any{"doc_id": "a"}))
	require.NoError(t, p.Upsert(ctx, "c", "a_chunk_1", []float32{0, 1}, "beta", map[string]any{"doc_id": "a"}))
	require.NoError(t, p.Upsert(ctx, "c", "b_chunk_0", []float32{1, 1}, "gamma", map[string]any{"doc_id": "b"}))

	t.Run("delete by id", func(t *testing.T) {
		require.NoError(t, p.Delete(ctx, "c", "b_chunk_0"))
		n, err := p.Count(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("delete by filter removes all doc chunks", func(t *testing.T) {
		require.NoError(t, p.DeleteByFilter(ctx, "c", map[string]any{"doc_id": "a"}))
		n, err := p.Count(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestChromemProviderPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	require.NoError(t, p.Upsert(ctx, "c", "x_chunk_0", []float32{1, 0}, "persisted", map[string]any{"doc_id": "x"}))
	require.NoError(t, p.Close())

	// Reload from the same directory and verify the chunk survived.
	p2, err := NewChromemProvider(ChromemConfig{PersistPath: dir})
	require.NoError(t, err)
	results, err := p2.Search(ctx, "c", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted", results[0].Content)
}

func TestChromemProviderEmptyCollection(t *testing.T) {
	p := newTestProvider(t)
	results, err := p.Search(context.Background(), "empty", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
