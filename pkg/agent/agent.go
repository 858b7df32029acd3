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

// Package agent wires the ingestion, retrieval, and optimization graphs
// behind a single operation dispatch surface.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/kadirpekel/mend/pkg/guardrails"
	"github.com/kadirpekel/mend/pkg/healing"
	"github.com/kadirpekel/mend/pkg/llm"
	"github.com/kadirpekel/mend/pkg/rag"
	"github.com/kadirpekel/mend/pkg/session"
	"github.com/kadirpekel/mend/pkg/store"
	"github.com/kadirpekel/mend/pkg/vector"
)

// Supported Invoke operations.
const (
	OpIngestDocument    = "ingest_document"
	OpIngestSQLiteTable = "ingest_sqlite_table"
	OpIngestFromPath    = "ingest_from_path"
	OpAskQuestion       = "ask_question"
	OpOptimize          = "optimize"
	OpHeal              = "heal"
	OpCheckHealth       = "check_health"
	OpChat              = "chat"
)

// Config wires an Agent.
type Config struct {
	LLM        llm.Service
	Vectors    vector.Provider
	Store      *store.Store
	Collection string

	Healing *healing.Agent
	Guards  *guardrails.Engine
	Tokens  *rag.TokenCounter

	// TopK caps retrieval results; zero uses the engine default.
	TopK int

	// Chunker overrides the default chunking configuration.
	Chunker rag.ChunkerConfig

	// SourceDSN/SourceDriver locate the source database for table
	// ingestion; empty defers to the per-call database_path parameter.
	SourceDriver string
	SourceDSN    string

	LogDir   string
	GraphDir string
}

// Agent is the top-level operation surface over the three workflow
// graphs.
type Agent struct {
	llm      llm.Service
	store    *store.Store
	healing  *healing.Agent
	pipeline *rag.Pipeline
	engine   *rag.Engine

	sourceDriver string
	sourceDSN    string

	sessions  *session.Manager
	processor *session.Processor
	optimizer *optimizer
}

// New builds and compiles the agent's graphs.
func New(cfg Config) (*Agent, error) {
	pipeline, err := rag.NewPipeline(rag.PipelineConfig{
		LLM:        cfg.LLM,
		Vectors:    cfg.Vectors,
		Store:      cfg.Store,
		Collection: cfg.Collection,
		Chunker:    cfg.Chunker,
		LogDir:     cfg.LogDir,
		GraphDir:   cfg.GraphDir,
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion graph: %w", err)
	}

	engine, err := rag.NewEngine(rag.EngineConfig{
		LLM:        cfg.LLM,
		Vectors:    cfg.Vectors,
		Store:      cfg.Store,
		Collection: cfg.Collection,
		Agent:      cfg.Healing,
		Guards:     cfg.Guards,
		Tokens:     cfg.Tokens,
		TopK:       cfg.TopK,
		LogDir:     cfg.LogDir,
		GraphDir:   cfg.GraphDir,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval graph: %w", err)
	}

	a := &Agent{
		llm:          cfg.LLM,
		store:        cfg.Store,
		healing:      cfg.Healing,
		pipeline:     pipeline,
		engine:       engine,
		sourceDriver: cfg.SourceDriver,
		sourceDSN:    cfg.SourceDSN,
		sessions:     session.NewManager(),
	}
	a.processor = session.NewProcessor(a.sessions, a)

	a.optimizer, err = newOptimizer(cfg.Healing, cfg.Store, cfg.GraphDir)
	if err != nil {
		return nil, fmt.Errorf("optimization graph: %w", err)
	}

	return a, nil
}

// Sessions exposes the session manager for interactive frontends.
func (a *Agent) Sessions() *session.Manager { return a.sessions }

// Processor exposes the chat command processor.
func (a *Agent) Processor() *session.Processor { return a.processor }

// Pipeline exposes the ingestion pipeline.
func (a *Agent) Pipeline() *rag.Pipeline { return a.pipeline }

// Invoke dispatches one operation. Unknown operations return an error
// listing the supported set.
func (a *Agent) Invoke(ctx context.Context, operation string, params map[string]any) (map[string]any, error) {
	switch operation {
	case OpIngestDocument:
		return a.ingestDocument(ctx, params)
	case OpIngestSQLiteTable:
		return a.ingestTable(ctx, params)
	case OpIngestFromPath:
		return a.ingestFromPath(ctx, params)
	case OpAskQuestion:
		return a.askQuestion(ctx, params)
	case OpOptimize, OpHeal:
		return a.optimizeDocument(ctx, params)
	case OpCheckHealth:
		return a.checkHealth(ctx, params)
	case OpChat:
		return a.chat(ctx, params)
	}
	return nil, fmt.Errorf(
		"unknown operation: %s (available: %s, %s, %s, %s, %s, %s, %s, %s)",
		operation, OpIngestDocument, OpIngestSQLiteTable, OpIngestFromPath,
		OpAskQuestion, OpOptimize, OpHeal, OpCheckHealth, OpChat)
}

func (a *Agent) ingestDocument(ctx context.Context, params map[string]any) (map[string]any, error) {
	docID := stringParam(params, "doc_id")
	sessionID := stringParam(params, "session_id")

	var result rag.IngestResult
	switch {
	case stringParam(params, "path") != "":
		result = a.pipeline.IngestFile(ctx, stringParam(params, "path"), docID, sessionID)
	case stringParam(params, "text") != "":
		result = a.pipeline.IngestText(ctx, stringParam(params, "text"), docID, sessionID)
	default:
		return nil, fmt.Errorf("ingest_document requires a path or text parameter")
	}
	return ingestResultMap(result), nil
}

func (a *Agent) ingestTable(ctx context.Context, params map[string]any) (map[string]any, error) {
	table := stringParam(params, "table")
	if table == "" {
		return nil, fmt.Errorf("ingest_sqlite_table requires a table parameter")
	}

	driver, dsn := a.sourceDriver, a.sourceDSN
	if path := stringParam(params, "database_path"); path != "" {
		driver, dsn = "sqlite3", path
	}
	if dsn == "" {
		return nil, fmt.Errorf("no source database configured")
	}

	db, err := rag.OpenSource(driver, dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	src, err := rag.NewSQLSource(db, driver)
	if err != nil {
		return nil, err
	}
	rows, err := src.ReadTable(ctx, rag.SQLTableConfig{
		Table:           table,
		TextColumns:     stringSliceParam(params, "text_columns"),
		MetadataColumns: stringSliceParam(params, "metadata_columns"),
		Where:           stringParam(params, "where"),
	})
	if err != nil {
		return nil, err
	}

	result := a.pipeline.IngestTable(ctx, table, rows,
		stringParam(params, "doc_id"), stringParam(params, "session_id"))
	out := ingestResultMap(result)
	out["rows_read"] = len(rows)
	return out, nil
}

func (a *Agent) ingestFromPath(ctx context.Context, params map[string]any) (map[string]any, error) {
	path := stringParam(params, "path")
	if path == "" {
		return nil, fmt.Errorf("ingest_from_path requires a path parameter")
	}

	results, err := a.pipeline.IngestPath(ctx, path, stringParam(params, "session_id"))
	if err != nil {
		return nil, err
	}

	var ingested int
	var failures []map[string]any
	for _, r := range results {
		if r.Success {
			ingested++
			continue
		}
		failures = append(failures, map[string]any{
			"doc_id": r.DocID,
			"errors": r.Errors,
		})
	}
	return map[string]any{
		"success":              len(failures) == 0,
		"documents_discovered": len(results),
		"documents_ingested":   ingested,
		"documents_failed":     len(failures),
		"errors":               failures,
	}, nil
}

func (a *Agent) askQuestion(ctx context.Context, params map[string]any) (map[string]any, error) {
	question := stringParam(params, "question")
	if question == "" {
		return nil, fmt.Errorf("ask_question requires a question parameter")
	}

	mode := rag.ParseResponseMode(stringParam(params, "response_mode"))
	sessionID := stringParam(params, "session_id")
	start := time.Now()

	result := a.engine.Ask(ctx, question, rag.AskOptions{
		Mode:          mode,
		SessionID:     sessionID,
		UserID:        stringParam(params, "user_id"),
		RBACNamespace: stringParam(params, "rbac_namespace"),
	})

	out := map[string]any{
		"success":            len(result.Errors) == 0,
		"question":           question,
		"answer":             result.Answer,
		"session_id":         sessionID,
		"guardrails_applied": mode != rag.ResponseVerbose,
		"errors":             result.Errors,
	}
	if mode == rag.ResponseConcise {
		return out, nil
	}

	sourceDocs := make([]map[string]any, 0, len(result.Sources))
	docIDs := make([]string, 0, len(result.Sources))
	for _, src := range result.Sources {
		sourceDocs = append(sourceDocs, map[string]any{
			"doc_id":   src.DocID,
			"chunk_id": fmt.Sprintf("%s_chunk_%d", src.DocID, src.ChunkIndex),
		})
		docIDs = append(docIDs, src.DocID)
	}
	out["quality_score"] = result.RetrievalQuality
	out["sources_count"] = len(result.Sources)
	out["source_docs"] = sourceDocs
	out["metadata"] = map[string]any{
		"session_id":        sessionID,
		"timestamp":         time.Now().Format(time.RFC3339),
		"model":             a.llm.Model(),
		"execution_time_ms": time.Since(start).Milliseconds(),
	}
	if mode == rag.ResponseInternal {
		return out, nil
	}

	out["sources"] = result.Sources
	out["traceability"] = map[string]any{
		"question":      question,
		"sources_count": len(result.Sources),
		"source_docs":   docIDs,
	}
	out["optimization"] = map[string]any{
		"optimization_applied": result.OptimizeRan,
		"rl_action":            result.HealingAction,
	}
	if a.healing != nil {
		out["rl_info"] = a.healing.GetLearningStats()
	}
	if result.Trace != nil {
		out["execution_path"] = result.Trace.Path
	}
	return out, nil
}

func (a *Agent) checkHealth(ctx context.Context, params map[string]any) (map[string]any, error) {
	docID := stringParam(params, "doc_id")
	if docID == "" {
		return nil, fmt.Errorf("check_health requires a doc_id parameter")
	}
	if a.store == nil {
		return nil, fmt.Errorf("no tracking store configured")
	}

	stats, err := a.store.GetChunkStats(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("chunk statistics: %w", err)
	}
	queryStats, err := a.store.GetQueryStats(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	heals, err := a.store.GetByDocID(ctx, docID, 10)
	if err != nil {
		return nil, fmt.Errorf("healing history: %w", err)
	}

	healCount := 0
	for _, rec := range heals {
		if rec.EventType == store.EventHeal {
			healCount++
		}
	}
	return map[string]any{
		"doc_id":         docID,
		"chunk_count":    stats.ChunkCount,
		"avg_quality":    stats.AvgQuality,
		"avg_reindex":    stats.AvgReindex,
		"chunk_size":     stats.ChunkSizeChr,
		"query_count":    queryStats.QueryCount,
		"avg_accuracy":   nullToDefault(queryStats.AvgAccuracy.Float64, queryStats.AvgAccuracy.Valid, 0),
		"recent_events":  len(heals),
		"healing_events": healCount,
	}, nil
}

func (a *Agent) chat(ctx context.Context, params map[string]any) (map[string]any, error) {
	text := stringParam(params, "text")
	if text == "" {
		return nil, fmt.Errorf("chat requires a text parameter")
	}

	sessionID := stringParam(params, "session_id")
	if sessionID == "" || a.sessions.Get(sessionID) == nil {
		s := a.sessions.Create(
			stringParam(params, "user_id"),
			stringParam(params, "department"),
			stringParam(params, "role"),
			session.ChatMode(stringParam(params, "chat_mode")))
		sessionID = s.ID
	}

	resp := a.processor.Process(ctx, sessionID, text)
	return map[string]any{
		"session_id":   resp.SessionID,
		"status":       resp.Status,
		"content":      resp.Content,
		"command_type": string(resp.CommandType),
		"result":       resp.Result,
		"error":        resp.Error,
	}, nil
}

func ingestResultMap(result rag.IngestResult) map[string]any {
	return map[string]any{
		"success":        result.Success,
		"doc_id":         result.DocID,
		"chunks_saved":   result.ChunksSaved,
		"rbac_namespace": result.RBACNamespace,
		"errors":         result.Errors,
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func nullToDefault(v float64, valid bool, def float64) float64 {
	if valid {
		return v
	}
	return def
}
