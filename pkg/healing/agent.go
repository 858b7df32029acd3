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

// Package healing implements the reinforcement-learning controller that
// chooses corrective actions for low-quality retrieval. Selection is
// ε-greedy over four actions; observed rewards update per-action
// statistics and decay ε toward its floor.
package healing

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/kadirpekel/mend/pkg/store"
)

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// Healing actions.
const (
	ActionSkip     = "SKIP"
	ActionOptimize = "OPTIMIZE"
	ActionReindex  = "REINDEX"
	ActionReEmbed  = "RE_EMBED"
)

var allActions = []string{ActionSkip, ActionOptimize, ActionReindex, ActionReEmbed}

// Exploration parameters.
const (
	DefaultEpsilon = 0.3
	epsilonFloor   = 0.05
	epsilonDecay   = 0.995

	// coldStartScore is the neutral score for actions never tried.
	coldStartScore = 0.5
)

// AgentID identifies this agent in history-log records.
const AgentID = "rl_healing_agent"

// State is the system snapshot the agent conditions its decision on,
// rebuilt from the tracking database per recommendation request.
type State struct {
	QualityScore     float64 `json:"quality_score"`
	QueryAccuracy    float64 `json:"query_accuracy"`
	ChunkCount       int     `json:"chunk_count"`
	AvgTokenCost     float64 `json:"avg_token_cost"`
	ReindexCount     int     `json:"reindex_count"`
	LastHealingDelta float64 `json:"last_healing_delta"`
	QueryFrequency   int     `json:"query_frequency"`
	UserFeedback     float64 `json:"user_feedback"`
}

// Action is a chosen healing action with parameters and estimates.
type Action struct {
	Action               string         `json:"action"`
	Params               map[string]any `json:"params"`
	EstimatedImprovement float64        `json:"estimated_improvement"`
	EstimatedCost        float64        `json:"estimated_cost"`
	Confidence           float64        `json:"confidence"`
}

// ActionStats tracks learning state for one action.
type ActionStats struct {
	Count       int     `json:"count"`
	TotalReward float64 `json:"total_reward"`
	AvgReward   float64 `json:"avg_reward"`
}

// Recommendation is the agent's answer to "what should heal this doc".
type Recommendation struct {
	DocID               string         `json:"doc_id"`
	CurrentQuality      float64        `json:"current_quality"`
	RecommendedAction   string         `json:"recommended_action"`
	Parameters          map[string]any `json:"parameters"`
	ExpectedImprovement float64        `json:"expected_improvement"`
	EstimatedCost       float64        `json:"estimated_cost"`
	Confidence          float64        `json:"confidence"`
	Reasoning           string         `json:"reasoning"`
	LearningStats       LearningStats  `json:"learning_stats"`
}

// LearningStats summarizes the agent's learning progress.
type LearningStats struct {
	TotalDecisions int                      `json:"total_decisions"`
	Epsilon        float64                  `json:"epsilon"`
	Actions        map[string]ActionSummary `json:"actions"`
	BestAction     string                   `json:"best_action"`
}

// ActionSummary is one action's share of the learning history.
type ActionSummary struct {
	Count       int     `json:"count"`
	Percentage  float64 `json:"percentage"`
	AvgReward   float64 `json:"avg_reward"`
	TotalReward float64 `json:"total_reward"`
}

// Agent is the ε-greedy healing controller. Action history and ε are
// per-process; the history log is the only cross-process coordination
// point.
type Agent struct {
	store *store.Store

	mu      sync.Mutex
	epsilon float64
	history map[string]*ActionStats
	rng     *rand.Rand
}

// Option configures an Agent.
type Option func(*Agent)

// WithEpsilon overrides the initial exploration rate.
func WithEpsilon(epsilon float64) Option {
	return func(a *Agent) { a.epsilon = epsilon }
}

// WithSeed makes action selection deterministic for tests.
func WithSeed(seed int64) Option {
	return func(a *Agent) { a.rng = rand.New(rand.NewSource(seed)) }
}

// NewAgent creates a healing agent backed by the tracking store. The
// store may be nil, in which case state reconstruction uses defaults
// and decisions are not logged.
func NewAgent(st *store.Store, opts ...Option) *Agent {
	a := &Agent{
		store:   st,
		epsilon: DefaultEpsilon,
		history: make(map[string]*ActionStats, len(allActions)),
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}
	for _, action := range allActions {
		a.history[action] = &ActionStats{}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Epsilon returns the current exploration rate.
func (a *Agent) Epsilon() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epsilon
}

// DecideAction chooses the next healing action for the given state
// using the ε-greedy strategy.
func (a *Agent) DecideAction(state State, docID string) Action {
	a.mu.Lock()
	var name string
	explored := a.rng.Float64() < a.epsilon
	if explored {
		// Explore: uniform over the action space.
		name = allActions[a.rng.Intn(len(allActions))]
	} else {
		name = a.bestActionLocked(state)
	}
	a.mu.Unlock()

	slog.Debug("Healing action decided",
		"doc_id", docID,
		"action", name,
		"explored", explored,
		"quality", state.QualityScore)
	return actionDetails(name, state)
}

// bestActionLocked scores every action as historical average reward plus
// a state-conditional adjustment and returns the argmax. Caller holds mu.
func (a *Agent) bestActionLocked(state State) string {
	best := allActions[0]
	bestScore := -1e18

	for _, action := range allActions {
		stats := a.history[action]

		// Zero-count actions score from the neutral base; the
		// state-conditional adjustment still applies so a degraded
		// document is never answered with SKIP by default.
		base := coldStartScore
		if stats.Count > 0 {
			base = stats.AvgReward
		}
		score := base + adjustment(action, state)

		if score > bestScore {
			best = action
			bestScore = score
		}
	}
	return best
}

// adjustment encodes the state-conditional preference for each action.
func adjustment(action string, state State) float64 {
	switch action {
	case ActionSkip:
		// Only good if quality is already high.
		if state.QualityScore > 0.75 {
			return 1.0
		}
		return -1.0

	case ActionOptimize:
		// Good if quality is poor and cost is reasonable.
		if state.QualityScore < 0.6 && state.AvgTokenCost < 2000 {
			return 1.5
		}
		if state.QualityScore < 0.6 {
			return 0.8
		}
		return -0.5

	case ActionReindex:
		// Diminishing returns after repeated reindexing.
		if state.ReindexCount < 3 {
			if state.QualityScore < 0.65 {
				return 1.0
			}
			return -0.5
		}
		return -1.0

	case ActionReEmbed:
		// Fresh perspective, but costly.
		if state.QualityScore < 0.5 {
			return 2.0
		}
		if state.AvgTokenCost < 1000 {
			return 0.5
		}
		return -1.5
	}
	return 0
}

// actionDetails fills parameters and estimates for a chosen action.
func actionDetails(name string, state State) Action {
	switch name {
	case ActionOptimize:
		// Smaller chunks for low quality, balanced otherwise.
		size, improvement, confidence := 384, 0.08, 0.70
		if state.QualityScore < 0.6 {
			size, improvement, confidence = 256, 0.15, 0.82
		}
		return Action{
			Action: ActionOptimize,
			Params: map[string]any{
				"new_chunk_size": size,
				"new_overlap":    size / 10,
				"strategy":       "recursive_splitter",
			},
			EstimatedImprovement: improvement,
			EstimatedCost:        500,
			Confidence:           confidence,
		}

	case ActionReindex:
		improvement, confidence := 0.05, 0.55
		if state.ReindexCount < 2 {
			improvement, confidence = 0.12, 0.75
		}
		return Action{
			Action: ActionReindex,
			Params: map[string]any{
				"clear_cache":          true,
				"recompute_embeddings": true,
			},
			EstimatedImprovement: improvement,
			EstimatedCost:        300,
			Confidence:           confidence,
		}

	case ActionReEmbed:
		return Action{
			Action: ActionReEmbed,
			Params: map[string]any{
				"new_model":               "mistral",
				"preserve_old_embeddings": true,
			},
			EstimatedImprovement: 0.25,
			EstimatedCost:        800,
			Confidence:           0.68,
		}
	}

	confidence := 0.5
	if state.QualityScore > 0.75 {
		confidence = 0.95
	}
	return Action{
		Action:     ActionSkip,
		Params:     map[string]any{},
		Confidence: confidence,
	}
}

// ObserveReward folds an observed reward into the action's statistics,
// decays ε toward its floor, and appends a HEAL event to the history log.
func (a *Agent) ObserveReward(ctx context.Context, action Action, reward float64, sessionID string) {
	a.mu.Lock()
	stats := a.history[action.Action]
	stats.Count++
	stats.TotalReward += reward
	stats.AvgReward = stats.TotalReward / float64(stats.Count)

	a.epsilon *= epsilonDecay
	if a.epsilon < epsilonFloor {
		a.epsilon = epsilonFloor
	}

	epsilon := a.epsilon
	snapshot := a.historySnapshotLocked()
	a.mu.Unlock()

	if a.store == nil {
		return
	}

	stateJSON, _ := json.Marshal(map[string]any{
		"action":                action.Action,
		"params":                action.Params,
		"estimated_improvement": action.EstimatedImprovement,
		"confidence":            action.Confidence,
	})
	contextJSON, _ := json.Marshal(map[string]any{
		"reward_achieved": reward,
		"q_values":        snapshot,
		"epsilon":         epsilon,
	})

	if _, err := a.store.LogHealing(ctx, store.HistoryRecord{
		ActionTaken:  action.Action,
		RewardSignal: nullFloat(reward),
		StateBefore:  string(stateJSON),
		ContextJSON:  string(contextJSON),
		AgentID:      AgentID,
		SessionID:    sessionID,
	}); err != nil {
		slog.Warn("Failed to log RL decision", "action", action.Action, "error", err)
	}
}

func (a *Agent) historySnapshotLocked() map[string]ActionStats {
	snapshot := make(map[string]ActionStats, len(a.history))
	for name, stats := range a.history {
		snapshot[name] = *stats
	}
	return snapshot
}

// GetLearningStats reports the current learning progress.
func (a *Agent) GetLearningStats() LearningStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, stats := range a.history {
		total += stats.Count
	}

	out := LearningStats{
		TotalDecisions: total,
		Epsilon:        a.epsilon,
		Actions:        make(map[string]ActionSummary, len(allActions)),
		BestAction:     "N/A",
	}

	bestReward := 0.0
	for _, action := range allActions {
		stats := a.history[action]
		summary := ActionSummary{
			Count:       stats.Count,
			AvgReward:   stats.AvgReward,
			TotalReward: stats.TotalReward,
		}
		if total > 0 {
			summary.Percentage = float64(stats.Count) / float64(total) * 100
		}
		out.Actions[action] = summary

		if stats.Count > 0 && (out.BestAction == "N/A" || stats.AvgReward > bestReward) {
			out.BestAction = action
			bestReward = stats.AvgReward
		}
	}

	return out
}

// RecommendHealing builds the document's state from the tracking store
// and returns the agent's recommendation for it.
func (a *Agent) RecommendHealing(ctx context.Context, docID string, currentQuality float64) Recommendation {
	state := a.buildState(ctx, docID, currentQuality)
	action := a.DecideAction(state, docID)

	return Recommendation{
		DocID:               docID,
		CurrentQuality:      currentQuality,
		RecommendedAction:   action.Action,
		Parameters:          action.Params,
		ExpectedImprovement: action.EstimatedImprovement,
		EstimatedCost:       action.EstimatedCost,
		Confidence:          action.Confidence,
		Reasoning:           reasoning(action.Action),
		LearningStats:       a.GetLearningStats(),
	}
}

// buildState joins document, chunk, and query history for docID.
// Missing data falls back to neutral defaults.
func (a *Agent) buildState(ctx context.Context, docID string, currentQuality float64) State {
	state := State{
		QualityScore:     currentQuality,
		QueryAccuracy:    0.7,
		AvgTokenCost:     1000,
		LastHealingDelta: 0.1,
		UserFeedback:     0.7,
	}
	if a.store == nil {
		return state
	}

	if chunkStats, err := a.store.GetChunkStats(ctx, docID); err == nil {
		state.ChunkCount = chunkStats.ChunkCount
		state.ReindexCount = int(chunkStats.AvgReindex)
	} else {
		slog.Warn("Failed to load chunk stats", "doc_id", docID, "error", err)
	}

	queryStats, err := a.store.GetQueryStats(ctx, docID)
	if err != nil {
		slog.Warn("Failed to load query stats", "doc_id", docID, "error", err)
		return state
	}

	state.QueryFrequency = queryStats.QueryCount
	if queryStats.AvgAccuracy.Valid {
		state.QueryAccuracy = queryStats.AvgAccuracy.Float64
	}
	if queryStats.AvgCost.Valid {
		state.AvgTokenCost = queryStats.AvgCost.Float64
	}
	if queryStats.AvgFeedback.Valid {
		state.UserFeedback = queryStats.AvgFeedback.Float64
	}
	return state
}

func reasoning(action string) string {
	switch action {
	case ActionOptimize:
		return "Quality is below target. Optimizing chunk parameters for better retrieval."
	case ActionReindex:
		return "Regenerating embeddings to refresh semantic understanding."
	case ActionReEmbed:
		return "Switching embedding model for better quality understanding."
	}
	return "System quality is good. No action needed."
}
