package colony

import "context"

// Model abstracts the LLM backend.
type Model interface {
	// Chat sends a request and returns a complete response. When req.Tools
	// is non-empty, the response may contain ToolCalls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
}

// Dispatcher runs one tool invocation out of process and blocks for the
// response. Transport faults are returned as errors; tool-level failures
// (including response timeouts) come back inside the ToolResponse so the
// engine can persist them as turns.
type Dispatcher interface {
	Execute(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// ToolRequest is the engine-side view of one dispatch.
type ToolRequest struct {
	Tool      string         `json:"tool_name"`
	Args      []byte         `json:"input_args"`
	RepoURL   string         `json:"repo_url"`
	RepoOwner string         `json:"repo_owner,omitempty"`
	RepoName  string         `json:"repo_name,omitempty"`
	TurnIndex int            `json:"turn_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToolResponse is the engine-side view of one dispatch outcome.
// Status is a dispatch envelope status (DispatchOK, DispatchError,
// DispatchFailure), not a ToolStatus.
type ToolResponse struct {
	Status   string     `json:"status"`
	Response []byte     `json:"response,omitempty"`
	Err      *ToolError `json:"error,omitempty"`
	ExecTime float64    `json:"exec_time"` // seconds
}

// ToolError is the error half of a dispatch envelope.
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoleSource resolves an agent role to its behavioural configuration.
type RoleSource interface {
	Role(ctx context.Context, role string) (RoleConfig, error)
}

// RoleConfig is the registry-supplied configuration for one agent role.
type RoleConfig struct {
	Role            string   `json:"agent_role"`
	Description     string   `json:"description"`
	AllowedTools    []string `json:"allowed_tools"`
	DeveloperPrompt string   `json:"developer_prompt"`
	Model           string   `json:"model"`
	ReasoningLevel  string   `json:"reasoning_level,omitempty"`
	ToolChoice      string   `json:"tool_choice,omitempty"`
}

// ToolSource lists the global tool registry. The Toolset refreshes its
// snapshot from a ToolSource on a bounded interval.
type ToolSource interface {
	Tools(ctx context.Context) ([]ToolSpec, error)
}
