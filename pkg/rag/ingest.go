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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kadirpekel/mend/pkg/llm"
	"github.com/kadirpekel/mend/pkg/store"
	"github.com/kadirpekel/mend/pkg/vector"
	"github.com/kadirpekel/mend/pkg/workflow"
)

// IngestionState is carried through the ingestion graph.
type IngestionState struct {
	// Inputs: exactly one of SourcePath, RawText, or Markdown (table
	// rows pre-rendered by the caller) is set.
	SourcePath string `json:"source_path,omitempty"`
	RawText    string `json:"raw_text,omitempty"`
	IsTable    bool   `json:"is_table,omitempty"`
	TableName  string `json:"table_name,omitempty"`

	DocID     string `json:"doc_id"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`

	Markdown string `json:"markdown,omitempty"`
	Title    string `json:"title,omitempty"`

	Classification Classification   `json:"classification"`
	RBACNamespace  string           `json:"rbac_namespace"`
	RBACTags       []string         `json:"rbac_tags"`
	MetaTags       []string         `json:"meta_tags"`
	Metadata       DocumentMetadata `json:"metadata"`

	Chunks      []Chunk `json:"-"`
	ChunksSaved int     `json:"chunks_saved"`

	Errors []string `json:"errors"`
}

// RecordError appends a non-fatal error.
func (s *IngestionState) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// IngestResult is the outcome of one ingestion run. Success means the
// error list is empty.
type IngestResult struct {
	Success       bool     `json:"success"`
	DocID         string   `json:"doc_id"`
	ChunksSaved   int      `json:"chunks_saved"`
	RBACNamespace string   `json:"rbac_namespace"`
	Errors        []string `json:"errors,omitempty"`
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	LLM        llm.Service
	Vectors    vector.Provider
	Store      *store.Store
	Collection string
	Chunker    ChunkerConfig

	// LogDir receives execution traces; empty disables trace files.
	LogDir string
	// GraphDir receives graph diagrams; empty disables diagram files.
	GraphDir string
}

// Pipeline runs the ingestion graph: normalize, classify, extract
// metadata, chunk, embed and persist, audit.
type Pipeline struct {
	llm        llm.Service
	vectors    vector.Provider
	store      *store.Store
	collection string

	normalizer *Normalizer
	classifier *Classifier
	extractor  *MetadataExtractor
	chunker    *Chunker
	docIDs     *DocIDGenerator

	graph    *workflow.Graph[*IngestionState]
	runnable *workflow.Runnable[*IngestionState]
	logDir   string
	graphDir string
}

// NewPipeline builds and compiles the ingestion graph.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM service is required")
	}
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("vector provider is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	p := &Pipeline{
		llm:        cfg.LLM,
		vectors:    cfg.Vectors,
		store:      cfg.Store,
		collection: cfg.Collection,
		normalizer: NewNormalizer(),
		classifier: NewClassifier(cfg.LLM),
		extractor:  NewMetadataExtractor(cfg.LLM),
		chunker:    NewChunker(cfg.Chunker),
		docIDs:     NewDocIDGenerator(),
		logDir:     cfg.LogDir,
		graphDir:   cfg.GraphDir,
	}

	g := workflow.New[*IngestionState]("ingestion")
	nodes := []struct {
		name string
		fn   workflow.NodeFunc[*IngestionState]
	}{
		{"normalize", p.normalizeNode},
		{"classify", p.classifyNode},
		{"extract_metadata", p.extractMetadataNode},
		{"chunk", p.chunkNode},
		{"embed_persist", p.embedPersistNode},
		{"audit", p.auditNode},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.fn); err != nil {
			return nil, err
		}
	}
	edges := [][2]string{
		{workflow.Start, "normalize"},
		{"normalize", "classify"},
		{"classify", "extract_metadata"},
		{"extract_metadata", "chunk"},
		{"chunk", "embed_persist"},
		{"embed_persist", "audit"},
		{"audit", workflow.End},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	runnable, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile ingestion graph: %w", err)
	}
	p.graph = g
	p.runnable = runnable

	if cfg.GraphDir != "" {
		if err := g.SaveDiagram(cfg.GraphDir); err != nil {
			slog.Warn("Failed to save ingestion diagram", "error", err)
		}
	}

	return p, nil
}

// Chunker exposes the pipeline's chunker configuration.
func (p *Pipeline) Chunker() *Chunker { return p.chunker }

// GenerateDocID mints a unique doc id for a source.
func (p *Pipeline) GenerateDocID(prefix, source string) string {
	return p.docIDs.Generate(prefix, source)
}

// IngestFile runs the full ingestion graph on a file.
func (p *Pipeline) IngestFile(ctx context.Context, path, docID, sessionID string) IngestResult {
	if docID == "" {
		docID = p.docIDs.Generate(DocPrefixFile, path)
	}
	return p.run(ctx, &IngestionState{
		SourcePath: path,
		DocID:      docID,
		SessionID:  sessionID,
	})
}

// IngestText runs the full ingestion graph on raw text.
func (p *Pipeline) IngestText(ctx context.Context, text, docID, sessionID string) IngestResult {
	if docID == "" {
		docID = p.docIDs.Generate(DocPrefixText, "")
	}
	return p.run(ctx, &IngestionState{
		RawText:   text,
		DocID:     docID,
		SessionID: sessionID,
	})
}

// IngestTable ingests a relational row-set. Rows are rendered to
// markdown records and then follow the standard chunk/embed/audit path.
func (p *Pipeline) IngestTable(ctx context.Context, table string, rows []TableRow, docID, sessionID string) IngestResult {
	if docID == "" {
		docID = p.docIDs.Generate(DocPrefixTable, table)
	}
	return p.run(ctx, &IngestionState{
		Markdown:  RenderTableRows(table, rows),
		IsTable:   true,
		TableName: table,
		DocID:     docID,
		SessionID: sessionID,
	})
}

// IngestPath walks a directory (or accepts a single file) and ingests
// every supported file found.
func (p *Pipeline) IngestPath(ctx context.Context, root, sessionID string) ([]IngestResult, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return []IngestResult{p.IngestFile(ctx, root, "", sessionID)}, nil
	}

	var results []IngestResult
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !p.normalizer.CanNormalize(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		results = append(results, p.IngestFile(ctx, path, "", sessionID))
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("path ingestion stopped: %w", err)
	}
	return results, nil
}

func (p *Pipeline) run(ctx context.Context, state *IngestionState) IngestResult {
	final, trace, err := p.runnable.InvokeTraced(ctx, state, state.SessionID)
	if err != nil {
		final.RecordError(err.Error())
	}
	if p.logDir != "" && trace != nil {
		if _, err := trace.Save(p.logDir); err != nil {
			slog.Warn("Failed to save ingestion trace", "error", err)
		}
	}

	return IngestResult{
		Success:       len(final.Errors) == 0,
		DocID:         final.DocID,
		ChunksSaved:   final.ChunksSaved,
		RBACNamespace: final.RBACNamespace,
		Errors:        final.Errors,
	}
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

func (p *Pipeline) normalizeNode(ctx context.Context, s *IngestionState) (*IngestionState, error) {
	switch {
	case s.Markdown != "":
		// Table rows arrive pre-rendered.
		s.Title = s.TableName
	case s.SourcePath != "":
		doc, err := p.normalizer.NormalizeFile(ctx, s.SourcePath)
		if err != nil {
			s.Status = "normalize_failed"
			return s, err
		}
		s.Markdown = doc.Markdown
		s.Title = doc.Title
	default:
		doc := p.normalizer.NormalizeText(s.RawText, "user_input")
		s.Markdown = doc.Markdown
		s.Title = doc.Title
	}
	s.Status = "normalized"
	return s, nil
}

func (p *Pipeline) classifyNode(ctx context.Context, s *IngestionState) (*IngestionState, error) {
	cls, err := p.classifier.Classify(ctx, s.Markdown)
	s.Classification = cls
	s.RBACTags = cls.RBACTags()
	s.MetaTags = cls.MetaTags()
	s.RBACNamespace = cls.Namespace()
	if err != nil {
		// Fallback classification is already applied; record and continue.
		s.RecordError(fmt.Sprintf("classify: %v", err))
	}
	s.Status = "classified"
	return s, nil
}

func (p *Pipeline) extractMetadataNode(ctx context.Context, s *IngestionState) (*IngestionState, error) {
	md, err := p.extractor.Extract(ctx, s.Markdown)
	s.Metadata = md
	if err != nil {
		s.RecordError(fmt.Sprintf("extract_metadata: %v", err))
	}
	if s.Title == "" {
		s.Title = md.Title
	}
	s.Status = "metadata_extracted"
	return s, nil
}

func (p *Pipeline) chunkNode(ctx context.Context, s *IngestionState) (*IngestionState, error) {
	s.Chunks = p.chunker.ChunkDocument(s.DocID, s.Markdown)
	s.Status = "chunked"
	return s, nil
}

// embedPersistNode embeds each chunk and writes the vector store first
// (authoritative), then mirrors metadata into the relational store
// best-effort.
func (p *Pipeline) embedPersistNode(ctx context.Context, s *IngestionState) (*IngestionState, error) {
	if len(s.Chunks) == 0 {
		// Empty input is a successful no-op ingestion.
		s.Status = "persisted"
		return s, nil
	}

	ingestionDate := time.Now().Format(time.RFC3339)
	docs := make([]vector.Document, 0, len(s.Chunks))
	for _, chunk := range s.Chunks {
		embedding, err := p.llm.GenerateEmbedding(ctx, chunk.Text)
		if err != nil {
			s.Status = "embed_failed"
			return s, fmt.Errorf("embedding chunk %d: %w", chunk.Index, err)
		}
		docs = append(docs, vector.Document{
			ID:        chunk.ChunkID,
			Content:   chunk.Text,
			Embedding: embedding,
			Metadata: map[string]any{
				"doc_id":         s.DocID,
				"chunk_index":    chunk.Index,
				"ingestion_date": ingestionDate,
				"rbac_namespace": s.RBACNamespace,
				"rbac_tags":      strings.Join(s.RBACTags, ","),
				"meta_tags":      strings.Join(s.MetaTags, ","),
			},
		})
	}

	if err := p.vectors.UpsertBatch(ctx, p.collection, docs); err != nil {
		s.Status = "vector_write_failed"
		return s, fmt.Errorf("vector write: %w", err)
	}
	s.ChunksSaved = len(docs)

	// Relational mirror is best-effort; the vector store already holds
	// the authoritative copy.
	if p.store != nil {
		p.persistTracking(ctx, s)
	}

	s.Status = "persisted"
	return s, nil
}

func (p *Pipeline) persistTracking(ctx context.Context, s *IngestionState) {
	metadataJSON, _ := json.Marshal(map[string]any{
		"title":     s.Metadata.Title,
		"summary":   s.Metadata.Summary,
		"keywords":  s.Metadata.Keywords,
		"topics":    s.Metadata.Topics,
		"doc_type":  s.Metadata.DocType,
		"rbac_tags": s.RBACTags,
		"meta_tags": s.MetaTags,
	})

	cfg := p.chunker.Config()
	if err := p.store.SaveDocument(ctx, store.DocumentMetadata{
		DocID:         s.DocID,
		Title:         s.Metadata.Title,
		Author:        "Unknown",
		Source:        s.sourceRef(),
		Summary:       s.Metadata.Summary,
		RBACNamespace: s.RBACNamespace,
		ChunkStrategy: ChunkStrategy,
		ChunkSizeChar: cfg.Size,
		OverlapChar:   cfg.Overlap,
		MetadataJSON:  string(metadataJSON),
	}); err != nil {
		slog.Warn("Relational document write failed, vector store is authoritative",
			"doc_id", s.DocID, "error", err)
		return
	}

	for _, chunk := range s.Chunks {
		if err := p.store.SaveChunk(ctx, store.ChunkEmbedding{
			ChunkID:            chunk.ChunkID,
			DocID:              s.DocID,
			EmbeddingModel:     p.llm.EmbeddingModel(),
			EmbeddingVersion:   "1.0",
			QualityScore:       0.8,
			ReindexCount:       0,
			HealingSuggestions: "{}",
		}); err != nil {
			slog.Warn("Relational chunk write failed",
				"chunk_id", chunk.ChunkID, "error", err)
		}
	}
}

func (p *Pipeline) auditNode(ctx context.Context, s *IngestionState) (*IngestionState, error) {
	if p.store == nil {
		s.Status = "completed"
		return s, nil
	}

	tags, _ := json.Marshal(append(append([]string{}, s.RBACTags...), s.MetaTags...))
	if err := p.store.TrackIngestion(ctx, store.TrackingRecord{
		DocumentID:    s.DocID,
		SourcePath:    s.sourceRef(),
		RBACNamespace: s.RBACNamespace,
		DocType:       s.Metadata.DocType,
		ChunksSaved:   s.ChunksSaved,
		IsTable:       s.IsTable,
		Status:        "COMPLETED",
		MetadataTags:  string(tags),
	}); err != nil {
		slog.Warn("Audit record write failed", "doc_id", s.DocID, "error", err)
	}

	s.Status = "completed"
	return s, nil
}

func (s *IngestionState) sourceRef() string {
	switch {
	case s.SourcePath != "":
		return s.SourcePath
	case s.IsTable:
		return "table:" + s.TableName
	default:
		return "text:user_input"
	}
}
