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

package healing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mend/pkg/store"
)

func TestColdStartFollowsState(t *testing.T) {
	a := NewAgent(nil, WithEpsilon(0), WithSeed(1))

	// With no reward history the neutral base ties every action; the
	// state-conditional adjustment decides.
	action := a.DecideAction(State{QualityScore: 0.9}, "doc1")
	assert.Equal(t, ActionSkip, action.Action)
	assert.InDelta(t, 0.95, action.Confidence, 0.001)

	// A degraded document never gets SKIP cold.
	action = a.DecideAction(State{QualityScore: 0.4, AvgTokenCost: 1500}, "doc1")
	assert.Equal(t, ActionReEmbed, action.Action)
}

func TestGreedySelectionFollowsAdjustments(t *testing.T) {
	seed := func() *Agent {
		a := NewAgent(nil, WithEpsilon(0), WithSeed(1))
		// Give every action one neutral observation so adjustments decide.
		for _, name := range allActions {
			a.ObserveReward(context.Background(), Action{Action: name}, 0, "")
		}
		return a
	}

	t.Run("high quality skips", func(t *testing.T) {
		action := seed().DecideAction(State{QualityScore: 0.9, AvgTokenCost: 3000}, "d")
		assert.Equal(t, ActionSkip, action.Action)
	})

	t.Run("low quality cheap cost optimizes or re-embeds", func(t *testing.T) {
		action := seed().DecideAction(State{QualityScore: 0.55, AvgTokenCost: 1500}, "d")
		// OPTIMIZE scores 1.5; REINDEX 1.0; RE_EMBED -1.5 at this cost.
		assert.Equal(t, ActionOptimize, action.Action)
	})

	t.Run("very low quality re-embeds", func(t *testing.T) {
		action := seed().DecideAction(State{QualityScore: 0.4, AvgTokenCost: 2500}, "d")
		// RE_EMBED scores 2.0, beating OPTIMIZE's 0.8 at this cost.
		assert.Equal(t, ActionReEmbed, action.Action)
	})

	t.Run("exhausted reindex budget", func(t *testing.T) {
		adj := adjustment(ActionReindex, State{QualityScore: 0.3, ReindexCount: 5})
		assert.Equal(t, -1.0, adj)
	})
}

func TestActionDetails(t *testing.T) {
	t.Run("optimize low quality suggests small chunks", func(t *testing.T) {
		action := actionDetails(ActionOptimize, State{QualityScore: 0.5})
		assert.Equal(t, 256, action.Params["new_chunk_size"])
		assert.Equal(t, 25, action.Params["new_overlap"])
		assert.InDelta(t, 0.15, action.EstimatedImprovement, 0.001)
		assert.InDelta(t, 0.82, action.Confidence, 0.001)
	})

	t.Run("optimize moderate quality balances", func(t *testing.T) {
		action := actionDetails(ActionOptimize, State{QualityScore: 0.7})
		assert.Equal(t, 384, action.Params["new_chunk_size"])
		assert.InDelta(t, 0.08, action.EstimatedImprovement, 0.001)
	})

	t.Run("reindex estimates shrink with repetition", func(t *testing.T) {
		fresh := actionDetails(ActionReindex, State{ReindexCount: 0})
		worn := actionDetails(ActionReindex, State{ReindexCount: 4})
		assert.Greater(t, fresh.EstimatedImprovement, worn.EstimatedImprovement)
		assert.Greater(t, fresh.Confidence, worn.Confidence)
	})

	t.Run("re-embed switches model and preserves vectors", func(t *testing.T) {
		action := actionDetails(ActionReEmbed, State{})
		assert.Equal(t, "mistral", action.Params["new_model"])
		assert.Equal(t, true, action.Params["preserve_old_embeddings"])
		assert.InDelta(t, 800, action.EstimatedCost, 0.001)
	})
}

func TestEpsilonDecay(t *testing.T) {
	a := NewAgent(nil, WithEpsilon(DefaultEpsilon), WithSeed(1))
	ctx := context.Background()

	prev := a.Epsilon()
	for i := 0; i < 200; i++ {
		a.ObserveReward(ctx, Action{Action: ActionSkip}, 0, "")
		cur := a.Epsilon()
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}

	// Floored, never below 0.05.
	assert.GreaterOrEqual(t, a.Epsilon(), epsilonFloor)
	assert.InDelta(t, math.Max(epsilonFloor, DefaultEpsilon*math.Pow(epsilonDecay, 200)),
		a.Epsilon(), 0.001)
}

func TestRLConvergence(t *testing.T) {
	a := NewAgent(nil, WithEpsilon(DefaultEpsilon), WithSeed(7))
	ctx := context.Background()

	rewards := map[string]float64{
		ActionOptimize: 0.2,
		ActionReEmbed:  -0.1,
		ActionSkip:     0,
		ActionReindex:  -0.05,
	}
	for i := 0; i < 100; i++ {
		for _, name := range allActions {
			a.ObserveReward(ctx, Action{Action: name}, rewards[name], "")
		}
	}

	assert.GreaterOrEqual(t, a.Epsilon(), epsilonFloor)
	assert.LessOrEqual(t, a.Epsilon(), DefaultEpsilon)

	// Force greedy selection and verify the learned preference.
	a.mu.Lock()
	a.epsilon = 0
	a.mu.Unlock()
	action := a.DecideAction(State{QualityScore: 0.55, AvgTokenCost: 1500}, "doc1")
	assert.Equal(t, ActionOptimize, action.Action)

	stats := a.GetLearningStats()
	assert.Equal(t, ActionOptimize, stats.BestAction)
	assert.Equal(t, 400, stats.TotalDecisions)
	assert.InDelta(t, 0.2, stats.Actions[ActionOptimize].AvgReward, 0.001)
	assert.InDelta(t, 25.0, stats.Actions[ActionOptimize].Percentage, 0.001)
}

func TestObserveRewardLogsHealEvent(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	a := NewAgent(st, WithSeed(1))
	ctx := context.Background()

	action := actionDetails(ActionOptimize, State{QualityScore: 0.5})
	a.ObserveReward(ctx, action, 0.12, "sess-1")

	recs, err := st.GetByEventType(ctx, store.EventHeal, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ActionOptimize, recs[0].ActionTaken)
	assert.Equal(t, AgentID, recs[0].AgentID)
	require.True(t, recs[0].RewardSignal.Valid)
	assert.InDelta(t, 0.12, recs[0].RewardSignal.Float64, 0.001)
	assert.Contains(t, recs[0].Context(), "epsilon")
}

func TestRecommendHealingUsesTrackedState(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.SaveDocument(ctx, store.DocumentMetadata{DocID: "doc1", ChunkSizeChar: 500}))
	require.NoError(t, st.SaveChunk(ctx, store.ChunkEmbedding{ChunkID: "doc1_chunk_0", DocID: "doc1", QualityScore: 0.8}))
	_, err = st.LogQuery(ctx, store.HistoryRecord{
		TargetDocID: "doc1",
		MetricsJSON: `{"avg_accuracy": 0.55, "cost_tokens": 1500, "user_feedback": 0.6}`,
	})
	require.NoError(t, err)

	a := NewAgent(st, WithEpsilon(0), WithSeed(1))
	// One observation per action so the state adjustments decide.
	for _, name := range allActions {
		a.ObserveReward(ctx, Action{Action: name}, 0, "")
	}

	rec := a.RecommendHealing(ctx, "doc1", 0.55)
	assert.Equal(t, "doc1", rec.DocID)
	assert.Equal(t, ActionOptimize, rec.RecommendedAction)
	assert.NotEmpty(t, rec.Reasoning)
	assert.Equal(t, 256, rec.Parameters["new_chunk_size"])
	assert.Positive(t, rec.LearningStats.TotalDecisions)
}

func TestBuildStateDefaults(t *testing.T) {
	a := NewAgent(nil)
	state := a.buildState(context.Background(), "ghost", 0.42)
	assert.InDelta(t, 0.42, state.QualityScore, 0.001)
	assert.InDelta(t, 0.7, state.QueryAccuracy, 0.001)
	assert.InDelta(t, 1000, state.AvgTokenCost, 0.001)
	assert.InDelta(t, 0.1, state.LastHealingDelta, 0.001)
	assert.Zero(t, state.ChunkCount)
}
