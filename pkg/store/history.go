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
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the unified history log.
const (
	EventQuery          = "QUERY"
	EventHeal           = "HEAL"
	EventSyntheticTest  = "SYNTHETIC_TEST"
	EventGuardrailCheck = "GUARDRAIL_CHECK"
)

// HistoryRecord is one row of rag_history_and_optimization.
// The log is append-only: records are never updated or deleted.
type HistoryRecord struct {
	HistoryID     int64
	EventType     string
	Timestamp     time.Time
	QueryText     string
	TargetDocID   string
	TargetChunkID string
	MetricsJSON   string
	ContextJSON   string
	RewardSignal  sql.NullFloat64
	ActionTaken   string
	StateBefore   string
	StateAfter    string
	AgentID       string
	UserID        string
	SessionID     string
}

// Metrics parses the metrics_json payload; an empty payload yields an
// empty map.
func (r HistoryRecord) Metrics() map[string]any {
	return parseJSONMap(r.MetricsJSON)
}

// Context parses the context_json payload.
func (r HistoryRecord) Context() map[string]any {
	return parseJSONMap(r.ContextJSON)
}

func parseJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return map[string]any{}
	}
	return m
}

// QueryStats aggregates QUERY events for one document, feeding the
// healing agent's state reconstruction.
type QueryStats struct {
	QueryCount  int
	AvgAccuracy sql.NullFloat64
	AvgCost     sql.NullFloat64
	AvgFeedback sql.NullFloat64
}

const historyFields = `history_id, event_type, timestamp, query_text, target_doc_id,
	target_chunk_id, metrics_json, context_json, reward_signal,
	action_taken, state_before, state_after, agent_id, user_id, session_id`

// LogQuery appends a QUERY event and returns its history_id.
func (s *Store) LogQuery(ctx context.Context, rec HistoryRecord) (int64, error) {
	rec.EventType = EventQuery
	return s.appendHistory(ctx, rec)
}

// LogHealing appends a HEAL event and returns its history_id.
func (s *Store) LogHealing(ctx context.Context, rec HistoryRecord) (int64, error) {
	rec.EventType = EventHeal
	return s.appendHistory(ctx, rec)
}

// LogSyntheticTest appends a SYNTHETIC_TEST event and returns its history_id.
func (s *Store) LogSyntheticTest(ctx context.Context, rec HistoryRecord) (int64, error) {
	rec.EventType = EventSyntheticTest
	return s.appendHistory(ctx, rec)
}

// LogGuardrailCheck appends a GUARDRAIL_CHECK event and returns its history_id.
func (s *Store) LogGuardrailCheck(ctx context.Context, rec HistoryRecord) (int64, error) {
	rec.EventType = EventGuardrailCheck
	return s.appendHistory(ctx, rec)
}

func (s *Store) appendHistory(ctx context.Context, rec HistoryRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.MetricsJSON == "" {
		rec.MetricsJSON = "{}"
	}
	if rec.ContextJSON == "" {
		rec.ContextJSON = "{}"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rag_history_and_optimization
		(event_type, timestamp, query_text, target_doc_id, target_chunk_id,
		 metrics_json, context_json, reward_signal, action_taken,
		 state_before, state_after, agent_id, user_id, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventType, rec.Timestamp, rec.QueryText, rec.TargetDocID, rec.TargetChunkID,
		rec.MetricsJSON, rec.ContextJSON, rec.RewardSignal, rec.ActionTaken,
		rec.StateBefore, rec.StateAfter, rec.AgentID, rec.UserID, rec.SessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to log %s event: %w", rec.EventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get history id: %w", err)
	}
	return id, nil
}

// GetByID fetches one history record, or nil when absent.
func (s *Store) GetByID(ctx context.Context, historyID int64) (*HistoryRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM rag_history_and_optimization
		WHERE history_id = ?`, historyFields), historyID)

	rec, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	return &rec, nil
}

// GetByEventType returns records of one event type, newest first.
func (s *Store) GetByEventType(ctx context.Context, eventType string, limit int) ([]HistoryRecord, error) {
	return s.queryHistory(ctx, fmt.Sprintf(`
		SELECT %s FROM rag_history_and_optimization
		WHERE event_type = ?
		ORDER BY timestamp DESC, history_id DESC
		LIMIT ?`, historyFields), eventType, limit)
}

// GetByDocID returns all records targeting a document, newest first.
func (s *Store) GetByDocID(ctx context.Context, docID string, limit int) ([]HistoryRecord, error) {
	return s.queryHistory(ctx, fmt.Sprintf(`
		SELECT %s FROM rag_history_and_optimization
		WHERE target_doc_id = ?
		ORDER BY timestamp DESC, history_id DESC
		LIMIT ?`, historyFields), docID, limit)
}

// GetSessionHistory returns all records for a session in insertion order.
func (s *Store) GetSessionHistory(ctx context.Context, sessionID string) ([]HistoryRecord, error) {
	return s.queryHistory(ctx, fmt.Sprintf(`
		SELECT %s FROM rag_history_and_optimization
		WHERE session_id = ?
		ORDER BY timestamp ASC, history_id ASC`, historyFields), sessionID)
}

// GetMetrics returns every history record with parsed metrics and
// context, oldest first.
func (s *Store) GetMetrics(ctx context.Context) ([]HistoryRecord, error) {
	return s.queryHistory(ctx, fmt.Sprintf(`
		SELECT %s FROM rag_history_and_optimization
		ORDER BY history_id ASC`, historyFields))
}

// GetStatistics returns event counts keyed by event type plus "total".
func (s *Store) GetStatistics(ctx context.Context, eventType string) (map[string]int, error) {
	query := `SELECT event_type, COUNT(*) FROM rag_history_and_optimization`
	var args []any
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` GROUP BY event_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{"total": 0}
	for rows.Next() {
		var evt string
		var count int
		if err := rows.Scan(&evt, &count); err != nil {
			return nil, fmt.Errorf("failed to scan statistics row: %w", err)
		}
		stats[evt] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

// GetQueryStats aggregates QUERY event metrics for one document.
func (s *Store) GetQueryStats(ctx context.Context, docID string) (QueryStats, error) {
	var stats QueryStats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(CAST(json_extract(metrics_json, '$.avg_accuracy') AS FLOAT)),
			AVG(CAST(json_extract(metrics_json, '$.cost_tokens') AS FLOAT)),
			AVG(CAST(json_extract(metrics_json, '$.user_feedback') AS FLOAT))
		FROM rag_history_and_optimization
		WHERE target_doc_id = ? AND event_type = ?`, docID, EventQuery)
	if err := row.Scan(&stats.QueryCount, &stats.AvgAccuracy, &stats.AvgCost, &stats.AvgFeedback); err != nil {
		return stats, fmt.Errorf("failed to get query stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (HistoryRecord, error) {
	var rec HistoryRecord
	var queryText, targetDocID, targetChunkID sql.NullString
	var metricsJSON, contextJSON, actionTaken sql.NullString
	var stateBefore, stateAfter, agentID, userID, sessionID sql.NullString

	err := row.Scan(&rec.HistoryID, &rec.EventType, &rec.Timestamp,
		&queryText, &targetDocID, &targetChunkID, &metricsJSON, &contextJSON,
		&rec.RewardSignal, &actionTaken, &stateBefore, &stateAfter,
		&agentID, &userID, &sessionID)
	if err != nil {
		return rec, err
	}

	rec.QueryText = queryText.String
	rec.TargetDocID = targetDocID.String
	rec.TargetChunkID = targetChunkID.String
	rec.MetricsJSON = metricsJSON.String
	rec.ContextJSON = contextJSON.String
	rec.ActionTaken = actionTaken.String
	rec.StateBefore = stateBefore.String
	rec.StateAfter = stateAfter.String
	rec.AgentID = agentID.String
	rec.UserID = userID.String
	rec.SessionID = sessionID.String
	return rec, nil
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var recs []HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
