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

// Package store provides the relational tracking database: document and
// chunk metadata, ingestion audit records, and the unified append-only
// history log that queries, healing actions, synthetic tests, and
// guardrail checks all write to.
//
// The vector store is authoritative for retrieval; everything here is
// analytics and learning state. Writes are best-effort from the caller's
// point of view.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the tracking database connection.
// Concurrency is handled by database-level locking (transactions).
type Store struct {
	db *sql.DB
}

const createDocumentMetadataSQL = `
CREATE TABLE IF NOT EXISTS document_metadata (
    doc_id VARCHAR(255) PRIMARY KEY,
    title TEXT,
    author TEXT,
    source TEXT,
    summary TEXT,
    rbac_namespace VARCHAR(255),
    chunk_strategy VARCHAR(100),
    chunk_size_char INTEGER,
    overlap_char INTEGER,
    metadata_json TEXT,
    created_at TIMESTAMP NOT NULL
)`

const createChunkEmbeddingSQL = `
CREATE TABLE IF NOT EXISTS chunk_embedding_data (
    chunk_id VARCHAR(255) PRIMARY KEY,
    doc_id VARCHAR(255) NOT NULL,
    embedding_model VARCHAR(255),
    embedding_version VARCHAR(50),
    quality_score REAL,
    reindex_count INTEGER DEFAULT 0,
    healing_suggestions TEXT,
    created_at TIMESTAMP NOT NULL
)`

const createChunkDocIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_chunk_doc ON chunk_embedding_data(doc_id)`

const createDocumentTrackingSQL = `
CREATE TABLE IF NOT EXISTS document_tracking (
    document_id VARCHAR(255) NOT NULL,
    source_path TEXT,
    rbac_namespace VARCHAR(255),
    doc_type VARCHAR(100),
    chunks_saved INTEGER,
    is_table BOOLEAN DEFAULT FALSE,
    ingestion_date TIMESTAMP NOT NULL,
    ingestion_status VARCHAR(50) NOT NULL,
    metadata_tags TEXT
)`

const createHistorySQL = `
CREATE TABLE IF NOT EXISTS rag_history_and_optimization (
    history_id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type VARCHAR(50) NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    query_text TEXT,
    target_doc_id VARCHAR(255),
    target_chunk_id VARCHAR(255),
    metrics_json TEXT,
    context_json TEXT,
    reward_signal REAL,
    action_taken VARCHAR(50),
    state_before TEXT,
    state_after TEXT,
    agent_id VARCHAR(255),
    user_id VARCHAR(255),
    session_id VARCHAR(255)
)`

const createHistoryDocIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_history_doc ON rag_history_and_optimization(target_doc_id, event_type)`

const createHistorySessionIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_history_session ON rag_history_and_optimization(session_id)`

// Open opens (or creates) the tracking database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking database: %w", err)
	}

	// SQLite allows a single writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	slog.Info("Tracking database ready", "path", path)
	return s, nil
}

// initSchema creates the required tables if they don't exist.
func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Execute each statement separately for SQLite compatibility
	statements := []string{
		createDocumentMetadataSQL,
		createChunkEmbeddingSQL,
		createChunkDocIndexSQL,
		createDocumentTrackingSQL,
		createHistorySQL,
		createHistoryDocIndexSQL,
		createHistorySessionIndexSQL,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying connection for read-only analytics queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
