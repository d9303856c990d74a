// Package colony is an orchestration runtime for LLM agents that work
// through tools dispatched over a message bus.
//
// It provides the building blocks of a multi-agent system: a conversation
// engine that drives the model/tool loop, a runtime that spawns and tracks
// agents across a shared store, duplicate detection for tool calls, history
// summarisation, and a spawn graph of which agent started which.
//
// # Quick Start
//
// Wire a store, a model and a dispatcher, then run a task:
//
//	store := sqlite.New("agents.db")
//	model := openaichat.NewProvider(apiKey, "gpt-4o-mini", baseURL)
//	dispatch, _ := bus.NewDispatcher(nc)
//	reg := registry.NewClient("http://localhost:8080")
//	toolset := colony.NewToolset(reg)
//
//	engine := colony.NewEngine(store, model, dispatch, reg, toolset)
//	runtime := colony.NewRuntime(store, engine)
//
//	result, err := runtime.RunAgentTask(ctx, colony.Task{
//		Key:    colony.AgentKey{Role: "planner", Repo: "https://github.com/acme/app"},
//		Prompt: "Plan the release.",
//	})
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Model] — chat backend with tool calling
//   - [Dispatcher] — request/reply transport for tool execution
//   - [ConversationStore] — persistence for turns, messages and registered agents
//   - [RoleSource] — role configuration (system prompts, allowed tools)
//
// # Included Implementations
//
// Storage: store/sqlite (local), store/postgres (shared).
// Transport: bus (NATS JetStream dispatcher and worker service).
// Models: provider/openaichat (OpenAI-compatible chat APIs).
// Registry: registry (HTTP client for roles and tool specs).
//
// See the cmd/colonyd directory for a complete wired daemon.
package colony
