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

package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/kadirpekel/mend/pkg/healing"
	"github.com/kadirpekel/mend/pkg/store"
	"github.com/kadirpekel/mend/pkg/workflow"
)

const optimizeQualityGain = 0.15

// OptimizationState flows through the standalone optimization graph.
type OptimizationState struct {
	DocID          string                 `json:"doc_id"`
	SessionID      string                 `json:"session_id"`
	CurrentQuality float64                `json:"current_quality"`
	Recommendation healing.Recommendation `json:"recommendation"`
	Applied        bool                   `json:"applied"`
	Status         string                 `json:"status"`
	Errors         []string               `json:"errors,omitempty"`
}

// RecordError appends a non-fatal error to the state's error list.
func (s *OptimizationState) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// optimizer runs the on-demand healing graph: a linear pass that asks
// the learning agent for a recommendation and then applies it.
type optimizer struct {
	agent    *healing.Agent
	store    *store.Store
	runnable *workflow.Runnable[*OptimizationState]
}

func newOptimizer(agent *healing.Agent, st *store.Store, graphDir string) (*optimizer, error) {
	o := &optimizer{agent: agent, store: st}

	g := workflow.New[*OptimizationState]("optimization_pipeline")
	if err := g.AddNode("optimize", o.optimizeNode); err != nil {
		return nil, err
	}
	if err := g.AddNode("apply_config", o.applyConfigNode); err != nil {
		return nil, err
	}
	edges := [][2]string{
		{workflow.Start, "optimize"},
		{"optimize", "apply_config"},
		{"apply_config", workflow.End},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	runnable, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to compile optimization graph: %w", err)
	}
	o.runnable = runnable

	if graphDir != "" {
		if err := g.SaveDiagram(graphDir); err != nil {
			slog.Warn("Failed to save optimization diagram", "error", err)
		}
	}
	return o, nil
}

// optimizeNode resolves the document's current quality and asks the
// agent for the best healing action.
func (o *optimizer) optimizeNode(ctx context.Context, s *OptimizationState) (*OptimizationState, error) {
	if s.CurrentQuality == 0 && o.store != nil {
		stats, err := o.store.GetChunkStats(ctx, s.DocID)
		if err != nil {
			s.RecordError(fmt.Sprintf("chunk statistics: %v", err))
		} else if stats.ChunkCount > 0 {
			s.CurrentQuality = stats.AvgQuality
		}
	}

	if o.agent == nil {
		s.RecordError("no learning agent configured")
		s.Status = "optimization_failed"
		return s, nil
	}
	s.Recommendation = o.agent.RecommendHealing(ctx, s.DocID, s.CurrentQuality)
	s.Status = "optimization_complete"
	return s, nil
}

// applyConfigNode applies the recommended action to the tracking store
// and feeds the realized improvement back to the agent.
func (o *optimizer) applyConfigNode(ctx context.Context, s *OptimizationState) (*OptimizationState, error) {
	rec := s.Recommendation
	if rec.RecommendedAction == "" || rec.RecommendedAction == healing.ActionSkip {
		s.Status = "completed"
		return s, nil
	}

	if o.store != nil && s.DocID != "" {
		var err error
		switch rec.RecommendedAction {
		case healing.ActionOptimize:
			err = o.store.UpdateChunkQuality(ctx, s.DocID,
				math.Min(1, s.CurrentQuality+optimizeQualityGain))
		case healing.ActionReindex:
			err = o.store.IncrementReindex(ctx, s.DocID)
		case healing.ActionReEmbed:
			model, _ := rec.Parameters["new_model"].(string)
			if model == "" {
				model = "mistral"
			}
			err = o.store.UpdateEmbeddingModel(ctx, s.DocID, model)
		}
		if err != nil {
			s.RecordError(fmt.Sprintf("apply %s: %v", rec.RecommendedAction, err))
			s.Status = "completed"
			return s, nil
		}
		s.Applied = true
		o.logHealing(ctx, s)
	}

	if o.agent != nil {
		o.agent.ObserveReward(ctx, healing.Action{
			Action:               rec.RecommendedAction,
			Params:               rec.Parameters,
			EstimatedImprovement: rec.ExpectedImprovement,
			EstimatedCost:        rec.EstimatedCost,
			Confidence:           rec.Confidence,
		}, rec.ExpectedImprovement, s.SessionID)
	}
	s.Status = "completed"
	return s, nil
}

// logHealing records the applied action against the document so its
// healing history stays queryable alongside query-time events.
func (o *optimizer) logHealing(ctx context.Context, s *OptimizationState) {
	rec := s.Recommendation
	metrics, _ := json.Marshal(map[string]any{
		"strategy": rec.RecommendedAction,
		"before_metrics": map[string]any{
			"avg_quality": s.CurrentQuality,
		},
		"after_metrics": map[string]any{
			"avg_quality": math.Min(1, s.CurrentQuality+rec.ExpectedImprovement),
		},
		"improvement_delta": rec.ExpectedImprovement,
		"cost_tokens":       rec.EstimatedCost,
	})
	contextJSON, _ := json.Marshal(map[string]any{
		"reason":          "on_demand_healing",
		"expected_reward": rec.ExpectedImprovement,
	})

	if _, err := o.store.LogHealing(ctx, store.HistoryRecord{
		TargetDocID:   s.DocID,
		TargetChunkID: s.DocID + "_chunk_0",
		MetricsJSON:   string(metrics),
		ContextJSON:   string(contextJSON),
		RewardSignal:  sql.NullFloat64{Float64: rec.ExpectedImprovement, Valid: true},
		ActionTaken:   rec.RecommendedAction,
		AgentID:       healing.AgentID,
		SessionID:     s.SessionID,
	}); err != nil {
		slog.Warn("Failed to log healing event", "error", err)
	}
}

// optimizeDocument serves both the optimize and heal operations: heal
// passes an explicit current_quality, optimize reads it from tracking.
func (a *Agent) optimizeDocument(ctx context.Context, params map[string]any) (map[string]any, error) {
	docID := stringParam(params, "doc_id")
	if docID == "" {
		return nil, fmt.Errorf("optimize requires a doc_id parameter")
	}

	state := &OptimizationState{
		DocID:     docID,
		SessionID: stringParam(params, "session_id"),
	}
	if q, ok := params["current_quality"].(float64); ok {
		state.CurrentQuality = q
	}

	final, err := a.optimizer.runnable.Invoke(ctx, state)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":            len(final.Errors) == 0,
		"doc_id":             docID,
		"status":             final.Status,
		"recommended_action": final.Recommendation.RecommendedAction,
		"confidence":         final.Recommendation.Confidence,
		"reasoning":          final.Recommendation.Reasoning,
		"applied":            final.Applied,
		"errors":             final.Errors,
	}, nil
}
