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

// Command mend is the CLI for the self-optimizing retrieval engine.
//
// Usage:
//
//	mend chat
//	mend ask "what is the vacation policy" --mode internal
//	mend ingest ./docs --watch
//	mend ingest-table employees --db ./company.db
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/mend/pkg/agent"
	"github.com/kadirpekel/mend/pkg/config"
	"github.com/kadirpekel/mend/pkg/guardrails"
	"github.com/kadirpekel/mend/pkg/healing"
	"github.com/kadirpekel/mend/pkg/llm"
	"github.com/kadirpekel/mend/pkg/rag"
	"github.com/kadirpekel/mend/pkg/store"
	"github.com/kadirpekel/mend/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version     VersionCmd     `cmd:"" help:"Show version information."`
	Chat        ChatCmd        `cmd:"" help:"Start an interactive chat session."`
	Ask         AskCmd         `cmd:"" help:"Ask a single question."`
	Ingest      IngestCmd      `cmd:"" aliases:"ingest-path" help:"Ingest a file, a directory, or raw text."`
	IngestTable IngestTableCmd `cmd:"" name:"ingest-table" help:"Ingest a database table."`
	Heal        HealCmd        `cmd:"" help:"Run a healing pass on a document."`
	Health      HealthCmd      `cmd:"" help:"Show health statistics for a document."`

	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)."`
}

// engine bundles the wired components shared by the commands.
type engine struct {
	agent *agent.Agent
	store *store.Store
	llm   llm.Service
	cfg   *config.Config
}

func (e *engine) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.llm != nil {
		_ = e.llm.Close()
	}
}

func buildEngine() (*engine, error) {
	cfg := config.FromEnv()
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to prepare directories: %w", err)
	}

	svc, err := llm.LoadService(cfg.LLMConfigPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.TrackingDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking store: %w", err)
	}

	vecs, err := vector.NewChromemProvider(vector.ChromemConfig{
		PersistPath: cfg.VectorDir,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	// Token counting degrades to a word estimate when the encoding
	// cannot be fetched.
	var tokens *rag.TokenCounter
	if tc, err := rag.NewTokenCounter("gpt-3.5-turbo"); err == nil {
		tokens = tc
	} else {
		slog.Warn("Token encoding unavailable, falling back to word estimate", "error", err)
	}

	a, err := agent.New(agent.Config{
		LLM:        svc,
		Vectors:    vecs,
		Store:      st,
		Collection: cfg.Collection,
		Healing:    healing.NewAgent(st),
		Guards:     guardrails.NewEngine(guardrails.NewSemanticChecker(svc)),
		Tokens:     tokens,
		TopK:       cfg.TopK,
		Chunker:    rag.ChunkerConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		LogDir:     cfg.LogDir,
		GraphDir:   cfg.GraphDir,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &engine{agent: a, store: st, llm: svc, cfg: cfg}, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("mend version %s\n", version)
	return nil
}

// AskCmd asks a single question and prints the answer.
type AskCmd struct {
	Question string `arg:"" help:"Question to ask."`
	Concise  bool   `help:"Concise answer (default)." xor:"mode"`
	Internal bool   `help:"Add source attribution and quality data." xor:"mode"`
	Verbose  bool   `help:"Full diagnostics, guardrails bypassed." xor:"mode"`
	JSON     bool   `help:"Print the full response as JSON."`
}

func (c *AskCmd) mode() string {
	switch {
	case c.Internal:
		return "internal"
	case c.Verbose:
		return "verbose"
	}
	return "concise"
}

func (c *AskCmd) Run(ctx context.Context) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	mode := c.mode()
	result, err := eng.agent.Invoke(ctx, agent.OpAskQuestion, map[string]any{
		"question":      c.Question,
		"response_mode": mode,
	})
	if err != nil {
		return err
	}

	if c.JSON || mode != "concise" {
		return printJSON(result)
	}
	fmt.Println(result["answer"])
	return nil
}

// IngestCmd ingests a file, a directory tree, or raw text.
type IngestCmd struct {
	Path  string `arg:"" optional:"" help:"File or directory to ingest." type:"path"`
	Text  string `help:"Raw text to ingest instead of a path."`
	Watch bool   `help:"Keep watching the directory for changes."`
}

func (c *IngestCmd) Run(ctx context.Context) error {
	if c.Path == "" && c.Text == "" {
		return fmt.Errorf("a path argument or --text is required")
	}

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if c.Text != "" {
		result, err := eng.agent.Invoke(ctx, agent.OpIngestDocument, map[string]any{
			"text": c.Text,
		})
		if err != nil {
			return err
		}
		return printJSON(result)
	}

	info, err := os.Stat(c.Path)
	if err != nil {
		return err
	}

	operation := agent.OpIngestDocument
	if info.IsDir() {
		operation = agent.OpIngestFromPath
	}
	result, err := eng.agent.Invoke(ctx, operation, map[string]any{
		"path": c.Path,
	})
	if err != nil {
		return err
	}
	if err := printJSON(result); err != nil {
		return err
	}

	if c.Watch && info.IsDir() {
		watcher, err := rag.NewWatcher(eng.agent.Pipeline(), c.Path, 0)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()

		fmt.Println("\nWatching for changes. Press Ctrl+C to stop.")
		<-ctx.Done()
	}
	return nil
}

// IngestTableCmd ingests rows from a database table.
type IngestTableCmd struct {
	Table           string   `arg:"" help:"Table to ingest."`
	DB              string   `help:"SQLite database file." type:"path" required:""`
	TextColumns     []string `name:"text-columns" help:"Columns used as document text (default: all)."`
	MetadataColumns []string `name:"metadata-columns" help:"Columns stored as metadata."`
	Where           string   `help:"Optional SQL filter clause."`
}

func (c *IngestTableCmd) Run(ctx context.Context) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.agent.Invoke(ctx, agent.OpIngestSQLiteTable, map[string]any{
		"table":            c.Table,
		"database_path":    c.DB,
		"text_columns":     c.TextColumns,
		"metadata_columns": c.MetadataColumns,
		"where":            c.Where,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

// HealCmd runs a healing pass on one document.
type HealCmd struct {
	DocID   string  `arg:"" help:"Document to heal."`
	Quality float64 `help:"Observed quality score (0 = read from tracking)." default:"0"`
}

func (c *HealCmd) Run(ctx context.Context) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.agent.Invoke(ctx, agent.OpHeal, map[string]any{
		"doc_id":          c.DocID,
		"current_quality": c.Quality,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

// HealthCmd reports tracked statistics for one document.
type HealthCmd struct {
	DocID string `arg:"" help:"Document to inspect."`
}

func (c *HealthCmd) Run(ctx context.Context) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := eng.agent.Invoke(ctx, agent.OpCheckHealth, map[string]any{
		"doc_id": c.DocID,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	_ = config.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("mend"),
		kong.Description("mend - self-optimizing retrieval-augmented QA engine"),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = kctx.Run()
	if ctx.Err() != nil {
		stop()
		os.Exit(130)
	}
	kctx.FatalIfErrorf(err)
}
