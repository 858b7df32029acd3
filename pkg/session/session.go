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

// Package session holds the chat session layer: per-conversation state,
// the prefix-matched command grammar, and privilege enforcement between
// user and admin chat modes.
package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/kadirpekel/mend/pkg/rag"
)

// ChatMode gates which commands a session may run.
type ChatMode string

const (
	// ModeUser permits queries and session control only.
	ModeUser ChatMode = "user"
	// ModeAdmin additionally permits ingestion, healing, and
	// optimization commands.
	ModeAdmin ChatMode = "admin"
)

// Message is one chat exchange entry in a session's history.
type Message struct {
	ID        string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// IngestedFile records one ingestion performed through a session.
type IngestedFile struct {
	Source     string    `json:"source"`
	DocID      string    `json:"doc_id"`
	IngestedAt time.Time `json:"ingested_at"`
}

// ContextCache holds the small cross-command memory of a session.
type ContextCache struct {
	LastDocID     string         `json:"last_doc_id,omitempty"`
	LastQuery     string         `json:"last_query,omitempty"`
	IngestedFiles []IngestedFile `json:"ingested_files"`
	HealedDocs    []string       `json:"healed_docs"`
}

// Session is one logical conversation. Sessions are not safe for
// concurrent use; the Manager serializes create/lookup and each session
// is driven by a single caller.
type Session struct {
	ID           string           `json:"session_id"`
	UserID       string           `json:"user_id"`
	Department   string           `json:"department"`
	Role         string           `json:"role"`
	Mode         ChatMode         `json:"mode"`
	ResponseMode rag.ResponseMode `json:"response_mode"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	Messages []Message    `json:"messages"`
	Commands []Command    `json:"commands"`
	Context  ContextCache `json:"context"`
}

// IsAdmin reports whether the session runs in admin mode.
func (s *Session) IsAdmin() bool { return s.Mode == ModeAdmin }

// AddMessage appends to the message history and bumps activity.
func (s *Session) AddMessage(msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.LastActivity = time.Now()
}

// AddCommand appends to the command history.
func (s *Session) AddCommand(cmd Command) {
	s.Commands = append(s.Commands, cmd)
}

// Clear resets histories and the context cache, keeping identity and
// modes.
func (s *Session) Clear() {
	s.Messages = nil
	s.Commands = nil
	s.Context = ContextCache{}
}

// RecordIngestion caches an ingestion outcome for later commands.
func (s *Session) RecordIngestion(source, docID string) {
	s.Context.IngestedFiles = append(s.Context.IngestedFiles, IngestedFile{
		Source:     source,
		DocID:      docID,
		IngestedAt: time.Now(),
	})
	s.Context.LastDocID = docID
}
