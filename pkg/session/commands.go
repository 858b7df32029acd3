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

package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kadirpekel/mend/pkg/rag"
)

// CommandType identifies a parsed chat command.
type CommandType string

const (
	CmdQuery       CommandType = "query"
	CmdRAGQuery    CommandType = "rag_query"
	CmdIngestFile  CommandType = "ingest_file"
	CmdIngestText  CommandType = "ingest_text"
	CmdIngestTable CommandType = "ingest_table"
	CmdHeal        CommandType = "heal"
	CmdOptimize    CommandType = "optimize"
	CmdCheckHealth CommandType = "check_health"
	CmdSetMode     CommandType = "set_mode"
	CmdSetChatMode CommandType = "set_chat_mode"
	CmdStatus      CommandType = "status"
	CmdHelp        CommandType = "help"
	CmdClear       CommandType = "clear"
)

// adminCommands require admin chat mode.
var adminCommands = map[CommandType]bool{
	CmdIngestFile:  true,
	CmdIngestText:  true,
	CmdIngestTable: true,
	CmdHeal:        true,
	CmdOptimize:    true,
	CmdCheckHealth: true,
}

// Command is one parsed chat input.
type Command struct {
	Type CommandType `json:"command_type"`
	Raw  string      `json:"raw_input"`
	Args []string    `json:"args"`
}

// prefixed multi-part commands; arguments split on "|".
var prefixCommands = []struct {
	prefix string
	typ    CommandType
}{
	{"ingest_file:", CmdIngestFile},
	{"ingest_text:", CmdIngestText},
	{"ingest_table:", CmdIngestTable},
	{"heal:", CmdHeal},
	{"optimize:", CmdOptimize},
	{"check_health:", CmdCheckHealth},
}

// ParseCommand parses chat input. The grammar is prefix-matched and
// case-insensitive on the prefix; bare text defaults to a RAG query.
func ParseCommand(text string) (Command, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	switch lower {
	case "help", "/help", "?":
		return Command{Type: CmdHelp, Raw: text}, nil
	case "status", "/status":
		return Command{Type: CmdStatus, Raw: text}, nil
	case "clear", "/clear":
		return Command{Type: CmdClear, Raw: text}, nil
	}

	if rest, ok := matchPrefix(lower, text, "set_mode:", "mode:"); ok {
		mode := strings.ToLower(rest)
		switch mode {
		case "concise", "verbose", "internal":
			return Command{Type: CmdSetMode, Raw: text, Args: []string{mode}}, nil
		}
		return Command{}, fmt.Errorf("invalid response mode: %s", rest)
	}

	if rest, ok := matchPrefix(lower, text, "set_chat_mode:", "chat_mode:"); ok {
		mode := strings.ToLower(rest)
		switch mode {
		case "admin", "user":
			return Command{Type: CmdSetChatMode, Raw: text, Args: []string{mode}}, nil
		}
		return Command{}, fmt.Errorf("invalid chat mode: %s", rest)
	}

	for _, pc := range prefixCommands {
		if strings.HasPrefix(lower, pc.prefix) {
			rest := strings.TrimSpace(text[len(pc.prefix):])
			var args []string
			if rest != "" {
				for _, arg := range strings.Split(rest, "|") {
					args = append(args, strings.TrimSpace(arg))
				}
			}
			return Command{Type: pc.typ, Raw: text, Args: args}, nil
		}
	}

	if rest, ok := matchPrefix(lower, text, "rag_query:", "rag:"); ok {
		return Command{Type: CmdRAGQuery, Raw: text, Args: []string{rest}}, nil
	}
	if rest, ok := matchPrefix(lower, text, "query:"); ok {
		return Command{Type: CmdQuery, Raw: text, Args: []string{rest}}, nil
	}

	// Bare text is a retrieval question.
	return Command{Type: CmdRAGQuery, Raw: text, Args: []string{text}}, nil
}

func matchPrefix(lower, text string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(text[len(p):]), true
		}
	}
	return "", false
}

// Invoker dispatches agent operations on behalf of the chat layer.
type Invoker interface {
	Invoke(ctx context.Context, operation string, params map[string]any) (map[string]any, error)
}

// Response is the unified chat response.
type Response struct {
	MessageID   string         `json:"message_id"`
	SessionID   string         `json:"session_id"`
	Status      string         `json:"status"`
	Content     string         `json:"content,omitempty"`
	CommandType CommandType    `json:"command_type,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SourceDocs  []string       `json:"source_docs,omitempty"`
	DurationMS  int64          `json:"processing_time_ms"`
}

// Processor routes parsed commands: session control is handled locally,
// everything else delegates to the agent.
type Processor struct {
	manager *Manager
	invoker Invoker
}

// NewProcessor creates a command processor over a session manager.
func NewProcessor(manager *Manager, invoker Invoker) *Processor {
	return &Processor{manager: manager, invoker: invoker}
}

// Process handles one chat input for the session.
func (p *Processor) Process(ctx context.Context, sessionID, text string) Response {
	start := time.Now()
	s := p.manager.Get(sessionID)
	if s == nil {
		return Response{
			MessageID: uuid.NewString(),
			Status:    "error",
			Error:     fmt.Sprintf("session not found: %s", sessionID),
		}
	}

	cmd, err := ParseCommand(text)
	if err != nil {
		return p.respond(s, Command{}, start, Response{Status: "error", Error: err.Error()})
	}

	s.AddMessage(Message{Sender: "user", Content: text, Status: "processing"})
	s.AddCommand(cmd)

	switch cmd.Type {
	case CmdHelp:
		return p.respond(s, cmd, start, Response{Status: "success", Content: helpText(s)})

	case CmdStatus:
		return p.respond(s, cmd, start, Response{Status: "success", Content: statusText(s)})

	case CmdClear:
		s.Clear()
		return p.respond(s, cmd, start, Response{Status: "success", Content: "Session cleared"})

	case CmdSetMode:
		s.ResponseMode = rag.ParseResponseMode(cmd.Args[0])
		return p.respond(s, cmd, start, Response{
			Status:  "success",
			Content: fmt.Sprintf("Response mode set to: %s", s.ResponseMode),
		})

	case CmdSetChatMode:
		requested := ChatMode(cmd.Args[0])
		if requested == ModeAdmin && !s.IsAdmin() {
			return p.respond(s, cmd, start, Response{
				Status: "error",
				Error:  "Permission denied: admin mode requires elevated privileges",
			})
		}
		s.Mode = requested
		return p.respond(s, cmd, start, Response{
			Status:  "success",
			Content: fmt.Sprintf("Chat mode set to: %s", s.Mode),
		})
	}

	if adminCommands[cmd.Type] && !s.IsAdmin() {
		return p.respond(s, cmd, start, Response{
			Status: "error",
			Error:  fmt.Sprintf("Permission denied: %s requires admin mode", cmd.Type),
		})
	}

	resp := p.invokeAgent(ctx, s, cmd)
	if (cmd.Type == CmdQuery || cmd.Type == CmdRAGQuery) && len(cmd.Args) > 0 {
		s.Context.LastQuery = cmd.Args[0]
	}
	return p.respond(s, cmd, start, resp)
}

func (p *Processor) respond(s *Session, cmd Command, start time.Time, resp Response) Response {
	resp.MessageID = uuid.NewString()
	resp.SessionID = s.ID
	resp.CommandType = cmd.Type
	resp.DurationMS = time.Since(start).Milliseconds()
	return resp
}

func (p *Processor) invokeAgent(ctx context.Context, s *Session, cmd Command) Response {
	if p.invoker == nil {
		return Response{Status: "error", Error: "no agent configured"}
	}

	base := map[string]any{
		"session_id":    s.ID,
		"user_id":       s.UserID,
		"department":    s.Department,
		"role":          s.Role,
		"response_mode": string(s.ResponseMode),
	}

	switch cmd.Type {
	case CmdQuery, CmdRAGQuery:
		base["question"] = cmd.Args[0]
		result, err := p.invoker.Invoke(ctx, "ask_question", base)
		if err != nil {
			return Response{Status: "error", Error: err.Error()}
		}
		answer, _ := result["answer"].(string)
		return Response{
			Status:     "success",
			Content:    answer,
			Result:     result,
			SourceDocs: stringList(result["source_docs"]),
		}

	case CmdIngestFile:
		if len(cmd.Args) == 0 || cmd.Args[0] == "" {
			return Response{Status: "error", Error: "file path required"}
		}
		base["path"] = cmd.Args[0]
		result, err := p.invoker.Invoke(ctx, "ingest_document", base)
		if err != nil {
			return Response{Status: "error", Error: err.Error()}
		}
		docID, _ := result["doc_id"].(string)
		s.RecordIngestion(cmd.Args[0], docID)
		return Response{
			Status:  "success",
			Content: fmt.Sprintf("Ingested: %s\n   doc_id: %s", cmd.Args[0], docID),
			Result:  result,
		}

	case CmdIngestText:
		if len(cmd.Args) == 0 || cmd.Args[0] == "" {
			return Response{Status: "error", Error: "text content required"}
		}
		base["text"] = cmd.Args[0]
		result, err := p.invoker.Invoke(ctx, "ingest_document", base)
		if err != nil {
			return Response{Status: "error", Error: err.Error()}
		}
		docID, _ := result["doc_id"].(string)
		s.RecordIngestion("text:user_input", docID)
		return Response{
			Status:  "success",
			Content: fmt.Sprintf("Ingested text content\n   doc_id: %s", docID),
			Result:  result,
		}

	case CmdIngestTable:
		if len(cmd.Args) == 0 || cmd.Args[0] == "" {
			return Response{Status: "error", Error: "table name required"}
		}
		base["table"] = cmd.Args[0]
		if len(cmd.Args) > 1 {
			base["database_path"] = cmd.Args[1]
		}
		result, err := p.invoker.Invoke(ctx, "ingest_sqlite_table", base)
		if err != nil {
			return Response{Status: "error", Error: err.Error()}
		}
		docID, _ := result["doc_id"].(string)
		s.RecordIngestion("table:"+cmd.Args[0], docID)
		return Response{
			Status:  "success",
			Content: fmt.Sprintf("Ingested table: %s\n   doc_id: %s", cmd.Args[0], docID),
			Result:  result,
		}

	case CmdHeal:
		if len(cmd.Args) < 2 {
			return Response{Status: "error", Error: "doc_id and quality_score required"}
		}
		quality, err := strconv.ParseFloat(cmd.Args[1], 64)
		if err != nil {
			return Response{Status: "error", Error: fmt.Sprintf("invalid quality score: %s", cmd.Args[1])}
		}
		base["doc_id"] = cmd.Args[0]
		base["current_quality"] = quality
		result, invokeErr := p.invoker.Invoke(ctx, "heal", base)
		if invokeErr != nil {
			return Response{Status: "error", Error: invokeErr.Error()}
		}
		s.Context.HealedDocs = append(s.Context.HealedDocs, cmd.Args[0])
		s.Context.LastDocID = cmd.Args[0]
		return Response{
			Status:  "success",
			Content: fmt.Sprintf("Healing started for %s", cmd.Args[0]),
			Result:  result,
		}

	case CmdOptimize:
		if len(cmd.Args) == 0 || cmd.Args[0] == "" {
			return Response{Status: "error", Error: "doc_id required"}
		}
		base["doc_id"] = cmd.Args[0]
		result, err := p.invoker.Invoke(ctx, "optimize", base)
		if err != nil {
			return Response{Status: "error", Error: err.Error()}
		}
		return Response{
			Status:  "success",
			Content: fmt.Sprintf("Optimization applied to %s", cmd.Args[0]),
			Result:  result,
		}

	case CmdCheckHealth:
		if len(cmd.Args) == 0 || cmd.Args[0] == "" {
			return Response{Status: "error", Error: "doc_id required"}
		}
		base["doc_id"] = cmd.Args[0]
		result, err := p.invoker.Invoke(ctx, "check_health", base)
		if err != nil {
			return Response{Status: "error", Error: err.Error()}
		}
		return Response{
			Status:  "success",
			Content: "Health check completed",
			Result:  result,
		}
	}

	return Response{Status: "error", Error: fmt.Sprintf("unknown command: %s", cmd.Type)}
}

func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func helpText(s *Session) string {
	base := `Commands:
  query: <question>          ask a question
  rag_query: <question>      ask a question (rag: works too)
  set_mode: concise|verbose|internal
  set_chat_mode: admin|user
  status                     show session status
  clear                      reset session history
  help                       show this help`

	admin := `

Admin commands:
  ingest_file: <path>        ingest a document file
  ingest_text: <content>     ingest raw text
  ingest_table: <table>|<db> ingest a database table
  heal: <doc_id>|<quality>   trigger healing (quality 0-1)
  optimize: <doc_id>         optimize a document
  check_health: <doc_id>     probe embedding health`

	if s.IsAdmin() {
		return base + admin
	}
	return base + "\n\nAdmin commands are not available in user mode."
}

func statusText(s *Session) string {
	return fmt.Sprintf(`Session %s
User:           %s (%s/%s)
Chat mode:      %s
Response mode:  %s
Messages:       %d
Commands:       %d
Last doc:       %s
Ingested files: %d
Healed docs:    %d`,
		s.ID, s.UserID, s.Department, s.Role,
		strings.ToUpper(string(s.Mode)), s.ResponseMode,
		len(s.Messages), len(s.Commands),
		orNone(s.Context.LastDocID),
		len(s.Context.IngestedFiles), len(s.Context.HealedDocs))
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
