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

// Package vector provides embedded vector storage for chunk embeddings.
// It is the authoritative store for retrieval: the relational mirror in
// pkg/store is best-effort and used for analytics only.
package vector

import "context"

// Result is a single similarity search hit.
type Result struct {
	// ID is the chunk identifier.
	ID string

	// Score is the cosine similarity in [0, 1]; higher is more similar.
	Score float32

	// Content is the stored chunk text.
	Content string

	// Metadata holds the chunk metadata stored at upsert time.
	Metadata map[string]any
}

// Distance converts the similarity score to a cosine distance.
func (r Result) Distance() float64 {
	return 1 - float64(r.Score)
}

// Provider is the vector storage interface.
type Provider interface {
	// Upsert adds or replaces a single chunk with its embedding.
	Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]any) error

	// UpsertBatch adds or replaces a batch of chunks in one call.
	UpsertBatch(ctx context.Context, collection string, docs []Document) error

	// Search finds the topK most similar chunks.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines similarity with exact-match metadata filtering.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes a chunk by ID.
	Delete(ctx context.Context, collection, id string) error

	// DeleteByFilter removes all chunks matching the metadata filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// Count returns the number of chunks in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Name returns the provider name.
	Name() string

	// Close persists pending state and releases resources.
	Close() error
}

// Document is one chunk to upsert.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]any
}
