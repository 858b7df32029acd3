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
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/kadirpekel/mend/pkg/guardrails"
	"github.com/kadirpekel/mend/pkg/healing"
	"github.com/kadirpekel/mend/pkg/llm"
	"github.com/kadirpekel/mend/pkg/store"
	"github.com/kadirpekel/mend/pkg/vector"
	"github.com/kadirpekel/mend/pkg/workflow"
)

// ResponseMode controls how much of the retrieval machinery is exposed
// in the answer.
type ResponseMode string

const (
	// ResponseConcise returns the answer text alone, validated by
	// guardrails.
	ResponseConcise ResponseMode = "concise"
	// ResponseInternal adds source attribution, validated by
	// guardrails.
	ResponseInternal ResponseMode = "internal"
	// ResponseVerbose adds full diagnostics and bypasses guardrail
	// filtering.
	ResponseVerbose ResponseMode = "verbose"
)

// ParseResponseMode maps a user-supplied mode name; unknown names fall
// back to concise.
func ParseResponseMode(s string) ResponseMode {
	switch ResponseMode(strings.ToLower(strings.TrimSpace(s))) {
	case ResponseInternal:
		return ResponseInternal
	case ResponseVerbose:
		return ResponseVerbose
	default:
		return ResponseConcise
	}
}

const (
	defaultTopK           = 5
	qualityThreshold      = 0.6
	minSourcesThreshold   = 3
	optimizeReward        = 0.12
	optimizeQualityGain   = 0.15
	sourcePreviewChars    = 100
	qualityCategoryWarmAt = 0.6
)

// Source is one traceability entry attached to an answer.
type Source struct {
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Preview    string  `json:"preview"`
}

// RetrievalState is carried through the retrieval graph.
type RetrievalState struct {
	Question      string       `json:"question"`
	SessionID     string       `json:"session_id,omitempty"`
	UserID        string       `json:"user_id,omitempty"`
	RBACNamespace string       `json:"rbac_namespace,omitempty"`
	Mode          ResponseMode `json:"response_mode"`

	Results          []vector.Result `json:"-"`
	Ranked           []RankedChunk   `json:"-"`
	RetrievalQuality float64         `json:"retrieval_quality"`
	TargetDocID      string          `json:"target_doc_id,omitempty"`

	ShouldOptimize bool           `json:"should_optimize"`
	HealingAction  healing.Action `json:"healing_action"`
	OptimizeRan    bool           `json:"optimize_ran"`

	Answer      string   `json:"answer"`
	Safe        bool     `json:"safe"`
	SafetyLevel string   `json:"safety_level,omitempty"`
	Sources     []Source `json:"sources"`

	Errors []string `json:"errors"`
}

// RecordError appends a non-fatal error.
func (s *RetrievalState) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// QueryResult is the outcome of one retrieval run.
type QueryResult struct {
	Answer           string          `json:"answer"`
	Mode             ResponseMode    `json:"response_mode"`
	RetrievalQuality float64         `json:"retrieval_quality"`
	Sources          []Source        `json:"sources,omitempty"`
	Safe             bool            `json:"safe"`
	SafetyLevel      string          `json:"safety_level,omitempty"`
	OptimizeRan      bool            `json:"optimize_ran"`
	HealingAction    string          `json:"healing_action,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
	Trace            *workflow.Trace `json:"-"`
}

// EngineConfig wires a retrieval Engine.
type EngineConfig struct {
	LLM        llm.Service
	Vectors    vector.Provider
	Store      *store.Store
	Collection string

	// Agent drives healing decisions; nil falls back to a quality
	// heuristic.
	Agent  *healing.Agent
	Guards *guardrails.Engine

	// Tokens counts query cost; nil falls back to a word-based
	// estimate.
	Tokens *TokenCounter

	TopK     int
	LogDir   string
	GraphDir string
}

// Engine runs the retrieval-and-healing graph: retrieve, rerank, check
// optimization, optionally optimize, answer, guardrails, traceability.
type Engine struct {
	llm        llm.Service
	vectors    vector.Provider
	store      *store.Store
	collection string
	agent      *healing.Agent
	guards     *guardrails.Engine
	tokens     *TokenCounter
	topK       int

	graph    *workflow.Graph[*RetrievalState]
	runnable *workflow.Runnable[*RetrievalState]
	logDir   string
}

// NewEngine builds and compiles the retrieval graph.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("LLM service is required")
	}
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("vector provider is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	e := &Engine{
		llm:        cfg.LLM,
		vectors:    cfg.Vectors,
		store:      cfg.Store,
		collection: cfg.Collection,
		agent:      cfg.Agent,
		guards:     cfg.Guards,
		tokens:     cfg.Tokens,
		topK:       topK,
		logDir:     cfg.LogDir,
	}

	g := workflow.New[*RetrievalState]("retrieval")
	nodes := []struct {
		name string
		fn   workflow.NodeFunc[*RetrievalState]
	}{
		{"retrieve", e.retrieveNode},
		{"rerank", e.rerankNode},
		{"check_optimization", e.checkOptimizationNode},
		{"optimize", e.optimizeNode},
		{"answer", e.answerNode},
		{"guardrails", e.guardrailsNode},
		{"traceability", e.traceabilityNode},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.fn); err != nil {
			return nil, err
		}
	}
	edges := [][2]string{
		{workflow.Start, "retrieve"},
		{"retrieve", "rerank"},
		{"rerank", "check_optimization"},
		{"optimize", "answer"},
		{"answer", "guardrails"},
		{"guardrails", "traceability"},
		{"traceability", workflow.End},
	}
	for _, edge := range edges {
		if err := g.AddEdge(edge[0], edge[1]); err != nil {
			return nil, err
		}
	}
	err := g.AddConditionalEdges("check_optimization",
		func(s *RetrievalState) string {
			if s.ShouldOptimize {
				return "needs_optimization"
			}
			return "healthy"
		},
		map[string]string{
			"needs_optimization": "optimize",
			"healthy":            "answer",
		})
	if err != nil {
		return nil, err
	}

	runnable, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile retrieval graph: %w", err)
	}
	e.graph = g
	e.runnable = runnable

	if cfg.GraphDir != "" {
		if err := g.SaveDiagram(cfg.GraphDir); err != nil {
			slog.Warn("Failed to save retrieval diagram", "error", err)
		}
	}

	return e, nil
}

// AskOptions scopes one question.
type AskOptions struct {
	Mode          ResponseMode
	SessionID     string
	UserID        string
	RBACNamespace string
}

// Ask answers a question against the ingested corpus.
func (e *Engine) Ask(ctx context.Context, question string, opts AskOptions) QueryResult {
	mode := opts.Mode
	if mode == "" {
		mode = ResponseConcise
	}
	state := &RetrievalState{
		Question:      question,
		SessionID:     opts.SessionID,
		UserID:        opts.UserID,
		RBACNamespace: opts.RBACNamespace,
		Mode:          mode,
		Safe:          true,
	}

	final, trace, err := e.runnable.InvokeTraced(ctx, state, opts.SessionID)
	if err != nil {
		final.RecordError(err.Error())
	}
	if e.logDir != "" && trace != nil {
		if _, err := trace.Save(e.logDir); err != nil {
			slog.Warn("Failed to save retrieval trace", "error", err)
		}
	}

	result := QueryResult{
		Answer:           final.Answer,
		Mode:             final.Mode,
		RetrievalQuality: final.RetrievalQuality,
		Safe:             final.Safe,
		SafetyLevel:      final.SafetyLevel,
		OptimizeRan:      final.OptimizeRan,
		HealingAction:    final.HealingAction.Action,
		Errors:           final.Errors,
		Trace:            trace,
	}
	if final.Mode != ResponseConcise {
		result.Sources = final.Sources
	}
	return result
}

// ---------------------------------------------------------------------------
// Nodes
// ---------------------------------------------------------------------------

func (e *Engine) retrieveNode(ctx context.Context, s *RetrievalState) (*RetrievalState, error) {
	embedding, err := e.llm.GenerateEmbedding(ctx, s.Question)
	if err != nil {
		return s, fmt.Errorf("question embedding: %w", err)
	}

	var filter map[string]any
	if s.RBACNamespace != "" {
		filter = map[string]any{"rbac_namespace": s.RBACNamespace}
	}
	results, err := e.vectors.SearchWithFilter(ctx, e.collection, embedding, e.topK, filter)
	if err != nil {
		return s, fmt.Errorf("vector search: %w", err)
	}

	s.Results = results
	s.RetrievalQuality = math.Min(1, float64(len(results))/float64(defaultTopK))
	return s, nil
}

func (e *Engine) rerankNode(ctx context.Context, s *RetrievalState) (*RetrievalState, error) {
	s.Ranked = Rerank(s.Results)
	s.TargetDocID = dominantDocID(s.Ranked)
	return s, nil
}

// checkOptimizationNode asks the healing agent what to do about this
// retrieval; a non-SKIP recommendation routes through the optimize node.
func (e *Engine) checkOptimizationNode(ctx context.Context, s *RetrievalState) (*RetrievalState, error) {
	if e.agent != nil {
		rec := e.agent.RecommendHealing(ctx, s.TargetDocID, s.RetrievalQuality)
		s.HealingAction = healing.Action{
			Action:               rec.RecommendedAction,
			Params:               rec.Parameters,
			EstimatedImprovement: rec.ExpectedImprovement,
			EstimatedCost:        rec.EstimatedCost,
			Confidence:           rec.Confidence,
		}
	} else if s.RetrievalQuality < qualityThreshold || len(s.Ranked) < minSourcesThreshold {
		// No agent wired: degraded retrieval defaults to re-chunking.
		s.HealingAction = healing.Action{
			Action:               healing.ActionOptimize,
			Params:               map[string]any{"reason": "low_retrieval_quality"},
			EstimatedImprovement: optimizeQualityGain,
			Confidence:           0.5,
		}
	} else {
		s.HealingAction = healing.Action{Action: healing.ActionSkip}
	}

	s.ShouldOptimize = s.HealingAction.Action != healing.ActionSkip
	return s, nil
}

// optimizeNode applies the selected healing action and records the HEAL
// event. A SKIP decision passes through untouched.
func (e *Engine) optimizeNode(ctx context.Context, s *RetrievalState) (*RetrievalState, error) {
	action := s.HealingAction
	if action.Action == "" || action.Action == healing.ActionSkip {
		return s, nil
	}
	s.OptimizeRan = true

	if e.store != nil && s.TargetDocID != "" {
		e.applyAction(ctx, s.TargetDocID, action)
	}
	e.logHealing(ctx, s, action)

	if e.agent != nil {
		e.agent.ObserveReward(ctx, action, optimizeReward, s.SessionID)
	}
	return s, nil
}

func (e *Engine) applyAction(ctx context.Context, docID string, action healing.Action) {
	var err error
	switch action.Action {
	case healing.ActionOptimize:
		err = e.store.UpdateChunkQuality(ctx, docID,
			math.Min(1, quality(action)+optimizeQualityGain))
	case healing.ActionReindex:
		err = e.store.IncrementReindex(ctx, docID)
	case healing.ActionReEmbed:
		model, _ := action.Params["new_model"].(string)
		if model == "" {
			model = "mistral"
		}
		err = e.store.UpdateEmbeddingModel(ctx, docID, model)
	}
	if err != nil {
		slog.Warn("Healing action application failed",
			"action", action.Action, "doc_id", docID, "error", err)
	}
}

func quality(action healing.Action) float64 {
	if q, ok := action.Params["current_quality"].(float64); ok {
		return q
	}
	return 0.5
}

func (e *Engine) logHealing(ctx context.Context, s *RetrievalState, action healing.Action) {
	if e.store == nil {
		return
	}

	var totalChunks int
	if stats, err := e.store.GetChunkStats(ctx, s.TargetDocID); err == nil {
		totalChunks = stats.ChunkCount
	}

	metrics, _ := json.Marshal(map[string]any{
		"strategy": action.Action,
		"before_metrics": map[string]any{
			"avg_quality":  s.RetrievalQuality,
			"total_chunks": totalChunks,
		},
		"after_metrics": map[string]any{
			"avg_quality": math.Min(1, s.RetrievalQuality+optimizeQualityGain),
		},
		"improvement_delta": optimizeQualityGain,
		"cost_tokens":       action.EstimatedCost,
		"duration_ms":       0,
	})
	contextJSON, _ := json.Marshal(map[string]any{
		"reason":                  "quality_improvement",
		"alternatives_considered": []string{"SKIP", "REINDEX", "RE_EMBED"},
		"expected_reward":         action.EstimatedImprovement,
	})

	if _, err := e.store.LogHealing(ctx, store.HistoryRecord{
		QueryText:     s.Question,
		TargetDocID:   s.TargetDocID,
		TargetChunkID: s.TargetDocID + "_chunk_0",
		MetricsJSON:   string(metrics),
		ContextJSON:   string(contextJSON),
		RewardSignal:  sql.NullFloat64{Float64: optimizeReward, Valid: true},
		ActionTaken:   action.Action,
		AgentID:       healing.AgentID,
		UserID:        s.UserID,
		SessionID:     s.SessionID,
	}); err != nil {
		slog.Warn("Failed to log healing event", "error", err)
	}
}

func (e *Engine) answerNode(ctx context.Context, s *RetrievalState) (*RetrievalState, error) {
	answer, err := e.generateAnswer(ctx, s)
	if err != nil {
		return s, fmt.Errorf("answer generation: %w", err)
	}
	s.Answer = answer
	e.logQuery(ctx, s)
	return s, nil
}

func (e *Engine) generateAnswer(ctx context.Context, s *RetrievalState) (string, error) {
	if len(s.Ranked) == 0 {
		return "I could not find any relevant documents to answer that question.", nil
	}

	var b strings.Builder
	for i, chunk := range s.Ranked {
		fmt.Fprintf(&b, "[Source %d] %s\n\n", i+1, chunk.Text)
	}
	docContext := b.String()

	if s.Mode == ResponseConcise {
		prompt := fmt.Sprintf(`Answer the question using only the context below.
Respond with a JSON object: {"answer": "<short direct answer>"}

Context:
%s
Question: %s`, docContext, s.Question)

		obj, err := e.llm.GenerateJSON(ctx, prompt)
		if err != nil {
			return "", err
		}
		if text, ok := obj["answer"].(string); ok && text != "" {
			return text, nil
		}
		return "", fmt.Errorf("model response missing answer field")
	}

	prompt := fmt.Sprintf(`Answer the question using only the context below.
Cite which sources support each claim.

Context:
%s
Question: %s`, docContext, s.Question)
	return e.llm.GenerateResponse(ctx, prompt)
}

func (e *Engine) logQuery(ctx context.Context, s *RetrievalState) {
	if e.store == nil {
		return
	}

	cost := EstimateTokens(e.tokens, s.Question)
	category := "cold"
	if s.RetrievalQuality > qualityCategoryWarmAt {
		category = "warm"
	}
	docIDs := make([]string, 0, len(s.Ranked))
	for _, chunk := range s.Ranked {
		docIDs = append(docIDs, chunk.DocID)
	}

	metrics, _ := json.Marshal(map[string]any{
		"frequency":        1,
		"avg_accuracy":     s.RetrievalQuality,
		"cost_tokens":      cost,
		"latency_ms":       0,
		"user_feedback":    0.7,
		"quality_category": category,
		"sources_count":    len(s.Ranked),
		"response_mode":    string(s.Mode),
	})
	contextJSON, _ := json.Marshal(map[string]any{
		"retrieval_quality": s.RetrievalQuality,
		"sources":           docIDs,
		"answer_length":     len(s.Answer),
		"response_mode":     string(s.Mode),
	})

	if _, err := e.store.LogQuery(ctx, store.HistoryRecord{
		QueryText:   s.Question,
		TargetDocID: s.TargetDocID,
		MetricsJSON: string(metrics),
		ContextJSON: string(contextJSON),
		UserID:      s.UserID,
		SessionID:   s.SessionID,
	}); err != nil {
		slog.Warn("Failed to log query event", "error", err)
	}
}

// guardrailsNode validates and filters the answer. Verbose mode skips
// filtering so operators can inspect raw model output.
func (e *Engine) guardrailsNode(ctx context.Context, s *RetrievalState) (*RetrievalState, error) {
	if s.Mode == ResponseVerbose || e.guards == nil {
		return s, nil
	}

	sourceContext := make([]string, 0, len(s.Ranked))
	for _, chunk := range s.Ranked {
		sourceContext = append(sourceContext, chunk.Text)
	}

	result := e.guards.Validate(ctx, s.Question, s.Answer, sourceContext)
	s.Safe = result.IsSafe
	s.SafetyLevel = result.SafetyLevel
	if result.FilteredOutput != "" {
		s.Answer = result.FilteredOutput
	}
	e.logGuardrailCheck(ctx, s, result)
	return s, nil
}

func (e *Engine) logGuardrailCheck(ctx context.Context, s *RetrievalState, result guardrails.Result) {
	if e.store == nil {
		return
	}

	metrics, _ := json.Marshal(map[string]any{
		"is_safe":      result.IsSafe,
		"safety_level": result.SafetyLevel,
		"pii_detected": result.PIIDetected,
	})
	contextJSON, _ := json.Marshal(map[string]any{
		"input_errors":  result.InputErrors,
		"output_errors": result.OutputErrors,
	})

	if _, err := e.store.LogGuardrailCheck(ctx, store.HistoryRecord{
		QueryText:   s.Question,
		TargetDocID: s.TargetDocID,
		MetricsJSON: string(metrics),
		ContextJSON: string(contextJSON),
		UserID:      s.UserID,
		SessionID:   s.SessionID,
	}); err != nil {
		slog.Warn("Failed to log guardrail event", "error", err)
	}
}

func (e *Engine) traceabilityNode(ctx context.Context, s *RetrievalState) (*RetrievalState, error) {
	s.Sources = make([]Source, 0, len(s.Ranked))
	for _, chunk := range s.Ranked {
		preview := chunk.Text
		if len(preview) > sourcePreviewChars {
			preview = preview[:sourcePreviewChars]
		}
		s.Sources = append(s.Sources, Source{
			DocID:      chunk.DocID,
			ChunkIndex: chunk.ChunkIndex,
			Similarity: chunk.Relevance,
			Preview:    preview,
		})
	}
	return s, nil
}

// dominantDocID picks the document contributing the most chunks,
// breaking ties toward the higher-ranked one.
func dominantDocID(ranked []RankedChunk) string {
	if len(ranked) == 0 {
		return ""
	}
	counts := make(map[string]int, len(ranked))
	best := ranked[0].DocID
	for _, chunk := range ranked {
		counts[chunk.DocID]++
		if counts[chunk.DocID] > counts[best] {
			best = chunk.DocID
		}
	}
	return best
}
