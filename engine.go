package colony

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	defaultMaxIterations   = 30
	defaultDispatchTimeout = 2 * time.Minute
)

// DefaultSystemPrompt seeds turn-zero when no prompt is configured.
// Providers running with a forced JSON response format require the word
// "json" to appear in the conversation, so the token is part of the
// protocol here.
const DefaultSystemPrompt = "You are an autonomous software agent operating on a repository. " +
	"Use the available tools to complete your task, then reply with your result. " +
	"When a structured reply is requested, respond with a single json object."

// Task describes one agent assignment handed to the engine or the runtime.
type Task struct {
	Key       AgentKey
	Prompt    string // initial user prompt, required for a fresh conversation
	RepoOwner string
	RepoName  string
	Reasoning string // overrides the role's reasoning level when set
}

// MetaFilter derives conversation-metadata entries from one successful tool
// response. The returned patch is merged into the conversation metadata and
// rides along on subsequent dispatches.
type MetaFilter func(args []byte, resp ToolResponse) map[string]any

// Engine owns one turn of one agent and, iterated, drives an agent to a
// finalized turn. Within a single conversation turns are strictly
// sequential; callers that want parallelism run distinct conversations on
// the Runtime's worker pool.
type Engine struct {
	store      ConversationStore
	model      Model
	dispatcher Dispatcher
	roles      RoleSource
	tools      *Toolset
	logger     *slog.Logger

	systemPrompt    string
	defaultModel    string
	toolChoice      string
	dispatchTimeout time.Duration
	maxIterations   int
	summarizer      *Summarizer
	filters         map[string]MetaFilter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithSystemPrompt replaces the default turn-zero system prompt. The prompt
// must mention the token "json" or Seed will refuse it.
func WithSystemPrompt(prompt string) EngineOption {
	return func(e *Engine) { e.systemPrompt = prompt }
}

// WithDefaultModel sets the model name used when the role config does not
// name one.
func WithDefaultModel(name string) EngineOption {
	return func(e *Engine) { e.defaultModel = name }
}

// WithToolChoice sets the engine-wide tool-choice mode ("auto", "required",
// or an explicit tool name). A role config's own tool choice wins over this.
func WithToolChoice(choice string) EngineOption {
	return func(e *Engine) { e.toolChoice = choice }
}

// WithDispatchTimeout bounds how long one tool dispatch may block a turn.
func WithDispatchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.dispatchTimeout = d
		}
	}
}

// WithMaxIterations caps RunToCompletion's loop.
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithSummarizer enables history compaction at the top of each iteration.
func WithSummarizer(s *Summarizer) EngineOption {
	return func(e *Engine) { e.summarizer = s }
}

// WithMetaFilter registers a metadata filter for a tool, replacing any
// previous filter for the same name.
func WithMetaFilter(tool string, f MetaFilter) EngineOption {
	return func(e *Engine) { e.filters[tool] = f }
}

// NewEngine wires an Engine over its collaborators. The fetch_issues
// metadata filter is registered out of the box.
func NewEngine(store ConversationStore, model Model, dispatcher Dispatcher, roles RoleSource, tools *Toolset, opts ...EngineOption) *Engine {
	e := &Engine{
		store:           store,
		model:           model,
		dispatcher:      dispatcher,
		roles:           roles,
		tools:           tools,
		logger:          nopLogger,
		systemPrompt:    DefaultSystemPrompt,
		dispatchTimeout: defaultDispatchTimeout,
		maxIterations:   defaultMaxIterations,
		filters:         map[string]MetaFilter{"fetch_issues": FetchIssuesTitle},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Seed creates turn-zero for a fresh conversation: the system prompt, the
// role's developer prompt, and the initial user prompt when provided.
// Seeding an already-seeded conversation is an error.
func (e *Engine) Seed(ctx context.Context, task Task) error {
	if err := task.Key.Validate(); err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(e.systemPrompt), "json") {
		return &ErrValidation{Field: "system_prompt", Reason: `must mention the token "json"`}
	}
	turns, err := e.store.LoadTurns(ctx, task.Key)
	if err != nil {
		return err
	}
	if len(turns) > 0 {
		return &ErrValidation{Field: "turn_zero", Reason: fmt.Sprintf("conversation already seeded with %d turns", len(turns))}
	}
	rc, err := e.roles.Role(ctx, task.Key.Role)
	if err != nil {
		return fmt.Errorf("resolve role %q: %w", task.Key.Role, err)
	}
	idx, err := e.store.NextTurnIndex(ctx, task.Key)
	if err != nil {
		return err
	}
	turn := Turn{Index: idx}
	if err := e.appendMessage(ctx, task.Key, &turn, RoleSystem, e.systemPrompt, nil); err != nil {
		return err
	}
	if rc.DeveloperPrompt != "" {
		if err := e.appendMessage(ctx, task.Key, &turn, RoleDeveloper, rc.DeveloperPrompt, nil); err != nil {
			return err
		}
	}
	if task.Prompt != "" {
		if err := e.appendMessage(ctx, task.Key, &turn, RoleUser, task.Prompt, nil); err != nil {
			return err
		}
	}
	if err := e.store.SaveTurns(ctx, task.Key, []Turn{turn}); err != nil {
		return err
	}
	e.logger.Debug("conversation seeded", "agent", task.Key.String(), "turn", idx)
	return nil
}

// RunSingleTurn executes one full cycle (history, model call, tool
// execution, persistence) and returns the turn index to use next.
func (e *Engine) RunSingleTurn(ctx context.Context, task Task) (int, error) {
	turns, err := e.runTurn(ctx, task)
	if err != nil {
		return 0, err
	}
	return turns[len(turns)-1].Index + 1, nil
}

// RunToCompletion iterates turns until the most recent one is finalized,
// the iteration cap is hit, or a fatal error escapes. A fresh conversation
// is seeded from task.Prompt first. Tool failures never abort the loop;
// they become turns the model can react to.
func (e *Engine) RunToCompletion(ctx context.Context, task Task) (TaskResult, error) {
	key := task.Key
	if err := key.Validate(); err != nil {
		return TaskResult{}, err
	}
	turns, err := e.store.LoadTurns(ctx, key)
	if err != nil {
		return TaskResult{}, err
	}
	if len(turns) == 0 {
		if task.Prompt == "" {
			return TaskResult{}, &ErrValidation{Field: "user_prompt", Reason: "must not be empty for a fresh conversation"}
		}
		if err := e.Seed(ctx, task); err != nil {
			return TaskResult{}, err
		}
	}

	e.logger.Info("agent started", "agent", key.String())
	for iter := 1; iter <= e.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return TaskResult{Success: false, Output: err.Error(), Iterations: iter - 1}, err
		}
		if e.summarizer != nil {
			e.summarizer.Compact(ctx, key)
		}
		turns, err := e.runTurn(ctx, task)
		if err != nil {
			e.logger.Error("agent failed", "agent", key.String(), "iteration", iter, "error", err)
			return TaskResult{Success: false, Output: err.Error(), Iterations: iter}, err
		}
		if last := turns[len(turns)-1]; last.Finalized {
			e.logger.Info("agent completed", "agent", key.String(), "iterations", iter)
			return TaskResult{Success: true, Output: finalContent(last), Iterations: iter}, nil
		}
	}
	e.logger.Warn("max iterations reached without a final turn", "agent", key.String(), "iterations", e.maxIterations)
	return TaskResult{
		Success:    false,
		Output:     "max iterations reached without a final turn",
		Iterations: e.maxIterations,
	}, nil
}

// runTurn is one full cycle over an already-seeded conversation. It returns
// the persisted conversation including the turns created by this cycle.
func (e *Engine) runTurn(ctx context.Context, task Task) ([]Turn, error) {
	key := task.Key
	turns, err := e.store.LoadTurns(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, &ErrValidation{Field: "turn_zero", Reason: "conversation has no turn-zero; seed it first"}
	}
	rc, err := e.roles.Role(ctx, key.Role)
	if err != nil {
		return nil, fmt.Errorf("resolve role %q: %w", key.Role, err)
	}

	req := ChatRequest{
		Model:      e.modelName(rc),
		Messages:   flattenTurns(turns),
		Tools:      e.tools.Definitions(rc.AllowedTools),
		ToolChoice: e.choiceFor(rc),
		Reasoning:  reasoningFor(task, rc),
	}
	start := time.Now()
	resp, err := e.model.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	e.logger.Debug("model responded", "agent", key.String(),
		"tool_calls", len(resp.ToolCalls), "duration", time.Since(start))

	convMeta, err := e.store.TurnsMetadata(ctx, key)
	if err != nil {
		return nil, err
	}
	if convMeta == nil {
		convMeta = map[string]any{}
	}

	idx, err := e.store.NextTurnIndex(ctx, key)
	if err != nil {
		return nil, err
	}
	assistant := Turn{Index: idx, Finalized: len(resp.ToolCalls) == 0}
	var extra map[string]any
	if len(resp.ToolCalls) > 0 {
		extra = map[string]any{"tool_calls": resp.ToolCalls}
	}
	if err := e.appendMessage(ctx, key, &assistant, RoleAssistant, resp.Content, extra); err != nil {
		return nil, err
	}
	turns = append(turns, assistant)

	// One tool call, one turn, in emission order.
	for _, tc := range resp.ToolCalls {
		turn, err := e.toolTurn(ctx, task, turns, convMeta, tc)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}

	if err := e.store.SaveTurns(ctx, key, turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// toolTurn records one tool call as its own turn: detect duplicates,
// dispatch over the bus, classify the outcome, run metadata filters.
// Dispatch faults do not escape; they are persisted as error turns so the
// agent can react.
func (e *Engine) toolTurn(ctx context.Context, task Task, turns []Turn, convMeta map[string]any, tc ToolCall) (Turn, error) {
	key := task.Key
	idx, err := e.store.NextTurnIndex(ctx, key)
	if err != nil {
		return Turn{}, err
	}
	policy := PolicyOneTime
	if spec, ok := e.tools.Spec(tc.Name); ok && spec.Policy.Valid() {
		policy = spec.Policy
	}
	meta := &ToolMeta{
		Name:               tc.Name,
		Policy:             policy,
		ArgsHash:           HashArgs(tc.Args),
		NormalizedFilename: NormalizeFileKey(tc.Args),
		InputArgs:          string(tc.Args),
		NormalizedArgs:     NormalizeArgs(tc.Args),
	}
	turn := Turn{Index: idx, Tool: meta}

	if match, dup := DetectDuplicate(turns, idx, tc.Name, tc.Args, policy, e.tools.Spec); dup {
		meta.Status = StatusRejected
		meta.Rejection = fmt.Sprintf("duplicate of turn %d: %s was already invoked with equivalent arguments", match.TurnIndex, match.Tool)
		e.logger.Info("tool call rejected as duplicate", "agent", key.String(),
			"tool", tc.Name, "turn", idx, "duplicate_of", match.TurnIndex)
		if err := e.appendMessage(ctx, key, &turn, RoleTool, "rejected: "+meta.Rejection, toolExtra(tc.ID)); err != nil {
			return Turn{}, err
		}
		return turn, nil
	}

	req := ToolRequest{
		Tool:      tc.Name,
		Args:      tc.Args,
		RepoURL:   key.Repo,
		RepoOwner: task.RepoOwner,
		RepoName:  task.RepoName,
		TurnIndex: idx,
		Metadata:  convMeta,
	}
	dctx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	resp, derr := e.dispatcher.Execute(dctx, req)
	cancel()

	var content string
	switch {
	case derr != nil:
		meta.Status = StatusError
		meta.Rejection = "dispatch failed: " + derr.Error()
		content = "error: " + derr.Error()
	case resp.Status == DispatchOK:
		meta.Status = StatusSuccess
		meta.ExecutionTime = resp.ExecTime
		content = string(resp.Response)
	case resp.Status == DispatchFailure:
		meta.Status = StatusFailure
		meta.ExecutionTime = resp.ExecTime
		content = "error: " + dispatchErrText(resp)
	default:
		meta.Status = StatusError
		meta.ExecutionTime = resp.ExecTime
		meta.Rejection = dispatchErrText(resp)
		content = "error: " + dispatchErrText(resp)
	}
	e.logger.Info("tool dispatched", "agent", key.String(), "tool", tc.Name,
		"turn", idx, "status", meta.Status, "exec_time", meta.ExecutionTime)

	if err := e.appendMessage(ctx, key, &turn, RoleTool, content, toolExtra(tc.ID)); err != nil {
		return Turn{}, err
	}

	if meta.Status == StatusSuccess {
		if f, ok := e.filters[tc.Name]; ok {
			if patch := f(tc.Args, resp); len(patch) > 0 {
				if err := e.store.UpdateTurnsMetadata(ctx, key, patch); err != nil {
					return Turn{}, err
				}
				for k, v := range patch {
					convMeta[k] = v
				}
			}
		}
	}
	return turn, nil
}

// appendMessage allocates the next message ID and appends a message to the
// turn. The allocator runs before the message is materialised so that
// original_message_id order equals request order.
func (e *Engine) appendMessage(ctx context.Context, key AgentKey, turn *Turn, role MessageRole, content string, extra map[string]any) error {
	id, err := e.store.NextMessageID(ctx, key)
	if err != nil {
		return err
	}
	turn.Messages = append(turn.Messages, Message{
		Index:      len(turn.Messages),
		Role:       role,
		Content:    content,
		Timestamp:  NowUnix(),
		OriginalID: id,
		CharCount:  charCount(content),
		Extra:      extra,
	})
	turn.TotalChars += charCount(content)
	return nil
}

func (e *Engine) modelName(rc RoleConfig) string {
	if rc.Model != "" {
		return rc.Model
	}
	return e.defaultModel
}

func (e *Engine) choiceFor(rc RoleConfig) string {
	if rc.ToolChoice != "" {
		return rc.ToolChoice
	}
	if e.toolChoice != "" {
		return e.toolChoice
	}
	return ToolChoiceAuto
}

func reasoningFor(task Task, rc RoleConfig) string {
	if task.Reasoning != "" {
		return task.Reasoning
	}
	return rc.ReasoningLevel
}

// flattenTurns projects the stored conversation onto the outbound message
// list: every message of every turn in order, roles untouched.
func flattenTurns(turns []Turn) []ChatMessage {
	var out []ChatMessage
	for _, t := range turns {
		for _, m := range t.Messages {
			out = append(out, chatMessage(m))
		}
	}
	return out
}

// chatMessage rebuilds a wire message from a stored one. The protocol
// fields the engine itself wrote (tool_call_id, tool_calls) are lifted out
// of raw extra; everything else rides along opaquely.
func chatMessage(m Message) ChatMessage {
	cm := ChatMessage{Role: m.Role, Content: m.Content}
	if len(m.Extra) == 0 {
		return cm
	}
	extra := make(map[string]any, len(m.Extra))
	for k, v := range m.Extra {
		extra[k] = v
	}
	if id, ok := extra["tool_call_id"].(string); ok {
		cm.ToolCallID = id
		delete(extra, "tool_call_id")
	}
	if raw, ok := extra["tool_calls"]; ok {
		if calls, ok := decodeToolCalls(raw); ok {
			cm.ToolCalls = calls
			delete(extra, "tool_calls")
		}
	}
	if len(extra) > 0 {
		cm.Extra = extra
	}
	return cm
}

// decodeToolCalls recovers []ToolCall from an extra value, which is either
// the in-memory slice or its JSON round-trip ([]any of maps) after reload.
func decodeToolCalls(v any) ([]ToolCall, bool) {
	if calls, ok := v.([]ToolCall); ok {
		return calls, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out []ToolCall
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

func toolExtra(callID string) map[string]any {
	if callID == "" {
		return nil
	}
	return map[string]any{"tool_call_id": callID}
}

func dispatchErrText(resp ToolResponse) string {
	if resp.Err != nil {
		return fmt.Sprintf("%s: %s", resp.Err.Code, resp.Err.Message)
	}
	return "tool execution failed"
}

// finalContent returns the assistant text of a finalized turn.
func finalContent(t Turn) string {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleAssistant {
			return t.Messages[i].Content
		}
	}
	return ""
}

// FetchIssuesTitle is the built-in metadata filter for the fetch_issues
// tool. It lifts the title of the first issue in the response into the
// conversation metadata under "issue_title".
func FetchIssuesTitle(_ []byte, resp ToolResponse) map[string]any {
	var v any
	if err := json.Unmarshal(resp.Response, &v); err != nil {
		return nil
	}
	if title := issueTitle(v); title != "" {
		return map[string]any{"issue_title": title}
	}
	return nil
}

func issueTitle(v any) string {
	switch x := v.(type) {
	case map[string]any:
		if s, ok := x["title"].(string); ok {
			return s
		}
		if list, ok := x["issues"]; ok {
			return issueTitle(list)
		}
	case []any:
		if len(x) > 0 {
			return issueTitle(x[0])
		}
	}
	return ""
}
