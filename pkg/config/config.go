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

// Package config provides environment-driven configuration for mend.
//
// Configuration sources, in priority order:
//  1. Explicit values set by the caller
//  2. Environment variables (MEND_* prefix)
//  3. Built-in defaults
//
// A .env file in the working directory or home directory is loaded on
// startup without overriding existing environment variables.
package config

import (
	"os"
	"path/filepath"
)

// Environment variable names.
const (
	// EnvLLMConfig points to the LLM provider configuration file (JSON).
	EnvLLMConfig = "MEND_LLM_CONFIG"

	// EnvTrackingDB points to the SQLite tracking database file.
	EnvTrackingDB = "MEND_TRACKING_DB"

	// EnvVectorDir points to the vector store persistence directory.
	EnvVectorDir = "MEND_VECTOR_DIR"

	// EnvCollection names the default vector store collection.
	EnvCollection = "MEND_COLLECTION"

	// EnvLogDir points to the directory for session trace files.
	EnvLogDir = "MEND_LOG_DIR"

	// EnvGraphDir points to the directory for workflow diagrams.
	EnvGraphDir = "MEND_GRAPH_DIR"
)

// Config holds the top-level engine configuration.
type Config struct {
	// LLMConfigPath is the path to the LLM provider config file (JSON).
	// If the file does not exist, a built-in Ollama fallback is used.
	LLMConfigPath string

	// TrackingDBPath is the SQLite file holding document metadata, chunk
	// records, the history log, and the ingestion audit trail.
	TrackingDBPath string

	// VectorDir is the persistence directory for the embedded vector store.
	VectorDir string

	// Collection is the default vector collection (RBAC namespace fallback).
	Collection string

	// LogDir receives per-session trace JSON files. Empty disables traces.
	LogDir string

	// GraphDir receives workflow diagram files. Empty disables diagrams.
	GraphDir string

	// TopK is the default number of retrieval results.
	TopK int

	// ChunkSize is the default chunk size in characters.
	ChunkSize int

	// ChunkOverlap is the default chunk overlap in characters.
	ChunkOverlap int
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() *Config {
	cfg := &Config{
		LLMConfigPath:  os.Getenv(EnvLLMConfig),
		TrackingDBPath: os.Getenv(EnvTrackingDB),
		VectorDir:      os.Getenv(EnvVectorDir),
		Collection:     os.Getenv(EnvCollection),
		LogDir:         os.Getenv(EnvLogDir),
		GraphDir:       os.Getenv(EnvGraphDir),
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults applies default values for unset fields.
func (c *Config) SetDefaults() {
	if c.LLMConfigPath == "" {
		c.LLMConfigPath = filepath.Join(".mend", "llm_config.json")
	}
	if c.TrackingDBPath == "" {
		c.TrackingDBPath = filepath.Join(".mend", "mend.db")
	}
	if c.VectorDir == "" {
		c.VectorDir = filepath.Join(".mend", "vectors")
	}
	if c.Collection == "" {
		c.Collection = "rag_embeddings"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.GraphDir == "" {
		c.GraphDir = "session_graph"
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 500
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 50
	}
}

// EnsureDirs creates the on-disk directories the engine writes to.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{filepath.Dir(c.TrackingDBPath), c.VectorDir, c.LogDir, c.GraphDir} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
