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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DocumentMetadata is one row of the document_metadata table.
type DocumentMetadata struct {
	DocID         string
	Title         string
	Author        string
	Source        string
	Summary       string
	RBACNamespace string
	ChunkStrategy string
	ChunkSizeChar int
	OverlapChar   int
	MetadataJSON  string
	CreatedAt     time.Time
}

// ChunkEmbedding is one row of the chunk_embedding_data table.
type ChunkEmbedding struct {
	ChunkID            string
	DocID              string
	EmbeddingModel     string
	EmbeddingVersion   string
	QualityScore       float64
	ReindexCount       int
	HealingSuggestions string
	CreatedAt          time.Time
}

// ChunkStats aggregates chunk_embedding_data per document, consumed by the
// healing agent when it rebuilds system state.
type ChunkStats struct {
	ChunkCount   int
	AvgReindex   float64
	AvgQuality   float64
	ChunkSizeChr int
}

// TrackingRecord is one row of the document_tracking audit table.
type TrackingRecord struct {
	DocumentID    string
	SourcePath    string
	RBACNamespace string
	DocType       string
	ChunksSaved   int
	IsTable       bool
	IngestionDate time.Time
	Status        string
	MetadataTags  string
}

// SaveDocument inserts or replaces a document_metadata row.
func (s *Store) SaveDocument(ctx context.Context, doc DocumentMetadata) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO document_metadata
		(doc_id, title, author, source, summary, rbac_namespace,
		 chunk_strategy, chunk_size_char, overlap_char, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DocID, doc.Title, doc.Author, doc.Source, doc.Summary, doc.RBACNamespace,
		doc.ChunkStrategy, doc.ChunkSizeChar, doc.OverlapChar, doc.MetadataJSON, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save document metadata: %w", err)
	}
	return nil
}

// GetDocument fetches one document_metadata row, or nil when absent.
func (s *Store) GetDocument(ctx context.Context, docID string) (*DocumentMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, title, author, source, summary, rbac_namespace,
		       chunk_strategy, chunk_size_char, overlap_char, metadata_json, created_at
		FROM document_metadata WHERE doc_id = ?`, docID)

	var doc DocumentMetadata
	err := row.Scan(&doc.DocID, &doc.Title, &doc.Author, &doc.Source, &doc.Summary,
		&doc.RBACNamespace, &doc.ChunkStrategy, &doc.ChunkSizeChar, &doc.OverlapChar,
		&doc.MetadataJSON, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document metadata: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns all document_metadata rows, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, title, author, source, summary, rbac_namespace,
		       chunk_strategy, chunk_size_char, overlap_char, metadata_json, created_at
		FROM document_metadata ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []DocumentMetadata
	for rows.Next() {
		var doc DocumentMetadata
		if err := rows.Scan(&doc.DocID, &doc.Title, &doc.Author, &doc.Source, &doc.Summary,
			&doc.RBACNamespace, &doc.ChunkStrategy, &doc.ChunkSizeChar, &doc.OverlapChar,
			&doc.MetadataJSON, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SaveChunk inserts or replaces a chunk_embedding_data row.
func (s *Store) SaveChunk(ctx context.Context, chunk ChunkEmbedding) error {
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chunk_embedding_data
		(chunk_id, doc_id, embedding_model, embedding_version,
		 quality_score, reindex_count, healing_suggestions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ChunkID, chunk.DocID, chunk.EmbeddingModel, chunk.EmbeddingVersion,
		chunk.QualityScore, chunk.ReindexCount, chunk.HealingSuggestions, chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save chunk data: %w", err)
	}
	return nil
}

// GetChunkStats aggregates chunk counts, reindex averages, and the
// document's configured chunk size for one document.
func (s *Store) GetChunkStats(ctx context.Context, docID string) (ChunkStats, error) {
	var stats ChunkStats

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(reindex_count), 0), COALESCE(AVG(quality_score), 0)
		FROM chunk_embedding_data WHERE doc_id = ?`, docID)
	if err := row.Scan(&stats.ChunkCount, &stats.AvgReindex, &stats.AvgQuality); err != nil {
		return stats, fmt.Errorf("failed to get chunk stats: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT chunk_size_char FROM document_metadata WHERE doc_id = ?`, docID)
	if err := row.Scan(&stats.ChunkSizeChr); err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("failed to get chunk size: %w", err)
	}

	return stats, nil
}

// IncrementReindex bumps reindex_count for every chunk of a document.
func (s *Store) IncrementReindex(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunk_embedding_data SET reindex_count = reindex_count + 1
		WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to increment reindex count: %w", err)
	}
	return nil
}

// UpdateChunkQuality sets quality_score for every chunk of a document.
func (s *Store) UpdateChunkQuality(ctx context.Context, docID string, quality float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunk_embedding_data SET quality_score = ?
		WHERE doc_id = ?`, quality, docID)
	if err != nil {
		return fmt.Errorf("failed to update chunk quality: %w", err)
	}
	return nil
}

// UpdateEmbeddingModel records a model switch for every chunk of a document.
func (s *Store) UpdateEmbeddingModel(ctx context.Context, docID, model string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunk_embedding_data SET embedding_model = ?
		WHERE doc_id = ?`, model, docID)
	if err != nil {
		return fmt.Errorf("failed to update embedding model: %w", err)
	}
	return nil
}

// DeleteChunks removes all chunk_embedding_data rows for a document.
func (s *Store) DeleteChunks(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chunk_embedding_data WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// TrackIngestion appends a document_tracking audit row.
func (s *Store) TrackIngestion(ctx context.Context, rec TrackingRecord) error {
	if rec.IngestionDate.IsZero() {
		rec.IngestionDate = time.Now()
	}
	if rec.Status == "" {
		rec.Status = "COMPLETED"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_tracking
		(document_id, source_path, rbac_namespace, doc_type, chunks_saved,
		 is_table, ingestion_date, ingestion_status, metadata_tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DocumentID, rec.SourcePath, rec.RBACNamespace, rec.DocType, rec.ChunksSaved,
		rec.IsTable, rec.IngestionDate, rec.Status, rec.MetadataTags)
	if err != nil {
		return fmt.Errorf("failed to track ingestion: %w", err)
	}
	return nil
}

// GetTracking returns the audit rows for a document, newest first.
func (s *Store) GetTracking(ctx context.Context, docID string) ([]TrackingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, source_path, rbac_namespace, doc_type, chunks_saved,
		       is_table, ingestion_date, ingestion_status, metadata_tags
		FROM document_tracking WHERE document_id = ?
		ORDER BY ingestion_date DESC`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking records: %w", err)
	}
	defer rows.Close()

	var recs []TrackingRecord
	for rows.Next() {
		var rec TrackingRecord
		if err := rows.Scan(&rec.DocumentID, &rec.SourcePath, &rec.RBACNamespace, &rec.DocType,
			&rec.ChunksSaved, &rec.IsTable, &rec.IngestionDate, &rec.Status, &rec.MetadataTags); err != nil {
			return nil, fmt.Errorf("failed to scan tracking row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
