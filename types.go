package colony

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// --- Agent identity ---

// AgentKey identifies one conversation: a role instance bound to a repository.
// The repo URL namespaces all state, so the same role+id can run concurrently
// against different repositories.
type AgentKey struct {
	Role string `json:"agent_role"`
	ID   string `json:"agent_id"`
	Repo string `json:"repo_url"`
}

// Validate reports whether the key has all three components.
func (k AgentKey) Validate() error {
	switch {
	case k.Role == "":
		return &ErrValidation{Field: "agent_role", Reason: "must not be empty"}
	case k.ID == "":
		return &ErrValidation{Field: "agent_id", Reason: "must not be empty"}
	case k.Repo == "":
		return &ErrValidation{Field: "repo_url", Reason: "must not be empty"}
	}
	return nil
}

func (k AgentKey) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Role, k.ID, k.Repo)
}

// AgentRecord is a registered live agent (durable row owned by the Runtime).
type AgentRecord struct {
	Key       AgentKey `json:"key"`
	CreatedAt int64    `json:"created_at"`
	// Status is the in-process activity mark ("running" or "idle").
	// It is not persisted; the Runtime fills it when listing.
	Status string `json:"status,omitempty"`
}

// --- Closed enumerations ---

// MessageRole tags a message with its conversational origin.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleDeveloper MessageRole = "developer"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Valid reports whether r is one of the five known roles.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleSystem, RoleDeveloper, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolStatus is the outcome recorded on a tool turn.
type ToolStatus string

const (
	StatusSuccess  ToolStatus = "success"
	StatusFailure  ToolStatus = "failure"
	StatusError    ToolStatus = "error"
	StatusRejected ToolStatus = "rejected"
)

// Valid reports whether s is one of the four known statuses.
func (s ToolStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusError, StatusRejected:
		return true
	}
	return false
}

// Policy declares how long a tool result stays valid for duplicate detection.
type Policy string

const (
	PolicyOneTime     Policy = "one-time"
	PolicyUntilBuild  Policy = "until-build"
	PolicyUntilUpdate Policy = "until-update"
	PolicyOneOf       Policy = "one-of"
	PolicyAlways      Policy = "always"
	PolicyBuild       Policy = "build"
)

// Valid reports whether p is one of the six known policies.
func (p Policy) Valid() bool {
	switch p {
	case PolicyOneTime, PolicyUntilBuild, PolicyUntilUpdate, PolicyOneOf, PolicyAlways, PolicyBuild:
		return true
	}
	return false
}

// Tool-choice modes the engine passes through to the model. Any other value
// is interpreted as an explicit tool name.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
)

// ToolRunBash is the shell escape hatch. It is treated as mutating
// unconditionally: a shell command can touch anything, so it breaks every
// keyed dedup window regardless of what the registry declares for it.
const ToolRunBash = "run_bash"

// Dispatch envelope statuses (transport edge, distinct from ToolStatus).
const (
	DispatchOK      = "ok"
	DispatchError   = "error"
	DispatchFailure = "failure"
)

// --- Conversation records (database) ---

// Turn is the atomic unit of conversation progress. A turn either carries the
// assistant's reply (Tool == nil) or the record of one tool invocation
// (Tool != nil, exactly one tool call per turn).
type Turn struct {
	Index            int       `json:"turn_idx"`
	TotalChars       int       `json:"total_char_count"`
	Finalized        bool      `json:"finalized"`
	InvocationReason string    `json:"invocation_reason,omitempty"`
	TurnsToPurge     string    `json:"turns_to_purge,omitempty"`
	Tool             *ToolMeta `json:"tool_meta,omitempty"`
	Messages         []Message `json:"messages"`
}

// Message is a role-tagged content block belonging to exactly one turn.
// OriginalID is allocated once per conversation and survives re-persistence.
type Message struct {
	Index      int            `json:"message_idx"`
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content"`
	Timestamp  int64          `json:"timestamp"`
	OriginalID int64          `json:"original_message_id"`
	CharCount  int            `json:"char_count"`
	Extra      map[string]any `json:"raw_extra,omitempty"` // provider-specific fields not modeled as columns
}

// ToolMeta is the tool-invocation record attached to a tool turn.
type ToolMeta struct {
	Name               string     `json:"tool_name"`
	ExecutionTime      float64    `json:"execution_time"` // seconds
	Status             ToolStatus `json:"status"`
	Rejection          string     `json:"rejection,omitempty"`
	PendingDeletion    bool       `json:"pending_deletion"`
	Deleted            bool       `json:"deleted"`
	Policy             Policy     `json:"preservation_policy"`
	ArgsHash           string     `json:"args_hash"`           // base64 MD5 of the normalised args, "" for empty args
	NormalizedFilename string     `json:"normalized_filename"` // lowercased canonical file key from args
	InputArgs          string     `json:"input_args"`
	NormalizedArgs     string     `json:"normalized_args"`
}

// SpawnEdge is one parent→child delegation recorded in the spawn graph.
type SpawnEdge struct {
	Parent AgentRef `json:"parent"`
	Child  AgentRef `json:"child"`
}

// AgentRef is the (role, id) half of an identity, repo-agnostic, used by the
// spawn graph.
type AgentRef struct {
	Role string `json:"role"`
	ID   string `json:"id"`
}

// --- LLM protocol types ---

// ChatMessage is one outbound or inbound message in model wire format.
type ChatMessage struct {
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"` // provider-specific passthrough
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ChatRequest is the provider-agnostic model request.
type ChatRequest struct {
	Model      string           `json:"model"`
	Messages   []ChatMessage    `json:"messages"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	ToolChoice string           `json:"tool_choice,omitempty"` // "auto", "required", or a tool name
	Reasoning  string           `json:"reasoning,omitempty"`   // effort hint: "low", "medium", "high"
	JSONOnly   bool             `json:"json_only,omitempty"`   // force a JSON-object response
}

// ChatResponse is the provider-agnostic model response.
type ChatResponse struct {
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Usage     Usage          `json:"usage"`
	Extra     map[string]any `json:"extra,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition is the projection of a tool handed to the model:
// name, description, and the JSON-Schema of its parameters.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolSpec is a registry-level tool description: the model-facing definition
// plus the dedup-relevant declarations.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Type        string          `json:"type,omitempty"` // "mutating" or "readonly" (default)
	Policy      Policy          `json:"preservation_policy,omitempty"`
}

// Mutating reports whether the tool declares itself as state-changing.
func (s ToolSpec) Mutating() bool { return s.Type == "mutating" }

// Definition projects the spec to its model-facing shape.
func (s ToolSpec) Definition() ToolDefinition {
	params := s.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return ToolDefinition{Name: s.Name, Description: s.Description, Parameters: params}
}

// --- Task results ---

// TaskResult is the outcome of running an agent to completion.
type TaskResult struct {
	Success    bool   `json:"success"`
	Output     string `json:"task_result"`
	Iterations int    `json:"iterations"`
}

// AppendResult reports the turn and message IDs created by AppendMessages.
type AppendResult struct {
	TurnIndex  int     `json:"turn_id"`
	MessageIDs []int64 `json:"message_ids"`
}

// BroadcastResult aggregates per-agent outcomes of a broadcast.
type BroadcastResult struct {
	SuccessCount int      `json:"success_count"`
	Errors       []string `json:"errors"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func DeveloperMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleDeveloper, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID}
}

// charCount counts runes, the unit used for total_char_count and char_count.
func charCount(s string) int { return utf8.RuneCountInString(s) }
