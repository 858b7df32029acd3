// Package mend provides a self-optimizing retrieval-augmented QA engine.
//
// Documents are ingested through a staged workflow graph (normalize,
// classify, extract metadata, chunk, embed, audit) into an embedded vector
// store with a relational tracking mirror. Questions run through a retrieval
// graph that reranks results, consults an epsilon-greedy learning agent for
// healing decisions, and validates answers with guardrails before returning
// them. Every query, healing action, and guardrail check lands in an
// append-only history log that feeds the agent's future decisions.
//
// # Quick Start
//
// Install mend:
//
//	go install github.com/kadirpekel/mend/cmd/mend@latest
//
// Ingest some documents and ask a question:
//
//	mend ingest ./docs
//	mend ask "what is the vacation policy"
//
// Or start an interactive session:
//
//	mend chat
//
// # Using as a Go Library
//
// Wire the engine through the agent package:
//
//	import "github.com/kadirpekel/mend/pkg/agent"
//
// and dispatch operations with Agent.Invoke, or use the pkg/rag Pipeline
// and Engine directly for finer control.
//
// Configuration is environment-driven (MEND_LLM_CONFIG, MEND_TRACKING_DB,
// MEND_VECTOR_DIR, ...); see pkg/config.
package mend
