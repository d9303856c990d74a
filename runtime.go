package colony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const defaultMaxTasks = 8

// Activity marks reported by ListRunningAgents.
const (
	AgentRunning = "running"
	AgentIdle    = "idle"
)

// stackCtxKey carries a worker's call stack. The stack is a value, not
// ambient state: crossing a worker boundary never inherits it implicitly,
// the parent frame is re-installed by value on the other side.
type stackCtxKey struct{}

func stackFrom(ctx context.Context) []AgentKey {
	s, _ := ctx.Value(stackCtxKey{}).([]AgentKey)
	return s
}

func withStack(ctx context.Context, s []AgentKey) context.Context {
	return context.WithValue(ctx, stackCtxKey{}, s)
}

// CurrentAgent returns the top of the call stack carried by ctx.
func CurrentAgent(ctx context.Context) (AgentKey, bool) {
	s := stackFrom(ctx)
	if len(s) == 0 {
		return AgentKey{}, false
	}
	return s[len(s)-1], true
}

// AgentStack returns a copy of the call stack carried by ctx, root first.
func AgentStack(ctx context.Context) []AgentKey {
	s := stackFrom(ctx)
	out := make([]AgentKey, len(s))
	copy(out, s)
	return out
}

// Runtime manages live agents: the durable registry, per-worker call
// stacks, the spawn graph, and a bounded pool for concurrent agent tasks.
type Runtime struct {
	store  ConversationStore
	engine *Engine
	graph  *SpawnGraph
	logger *slog.Logger
	sem    chan struct{}

	mu      sync.Mutex
	onStack map[AgentKey]int // live frames per key, across every worker
	status  map[AgentKey]string
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// RuntimeLogger sets the structured logger.
func RuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = l }
}

// RuntimeMaxTasks bounds the number of concurrently executing agent tasks.
func RuntimeMaxTasks(n int) RuntimeOption {
	return func(r *Runtime) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

// NewRuntime wires a Runtime over the store and engine.
func NewRuntime(store ConversationStore, engine *Engine, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		store:   store,
		engine:  engine,
		graph:   NewSpawnGraph(),
		logger:  nopLogger,
		sem:     make(chan struct{}, defaultMaxTasks),
		onStack: map[AgentKey]int{},
		status:  map[AgentKey]string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Graph returns the process-wide spawn graph.
func (r *Runtime) Graph() *SpawnGraph { return r.graph }

// GraphEdges returns the spawn edges in insertion order.
func (r *Runtime) GraphEdges() []SpawnEdge { return r.graph.Snapshot() }

// SeedAgent idempotently registers the agent and pushes it onto the
// caller's stack; the returned context carries the new stack with the agent
// as current. The ID must be supplied; the runtime never fabricates one
// here.
func (r *Runtime) SeedAgent(ctx context.Context, key AgentKey) (context.Context, error) {
	if err := key.Validate(); err != nil {
		return ctx, err
	}
	if err := r.store.RegisterAgent(ctx, AgentRecord{Key: key, CreatedAt: NowUnix()}); err != nil {
		return ctx, err
	}
	return r.pushFrame(ctx, key), nil
}

// PopCurrentAgent releases the top frame. The previous frame, if any,
// becomes current in the returned context.
func (r *Runtime) PopCurrentAgent(ctx context.Context) context.Context {
	s := stackFrom(ctx)
	if len(s) == 0 {
		return ctx
	}
	r.releaseFrame(s[len(s)-1])
	next := make([]AgentKey, len(s)-1)
	copy(next, s[:len(s)-1])
	return withStack(ctx, next)
}

func (r *Runtime) pushFrame(ctx context.Context, key AgentKey) context.Context {
	s := stackFrom(ctx)
	next := make([]AgentKey, len(s)+1)
	copy(next, s)
	next[len(s)] = key
	r.mu.Lock()
	r.onStack[key]++
	r.mu.Unlock()
	return withStack(ctx, next)
}

func (r *Runtime) releaseFrame(key AgentKey) {
	r.mu.Lock()
	if r.onStack[key] > 1 {
		r.onStack[key]--
	} else {
		delete(r.onStack, key)
	}
	r.mu.Unlock()
}

func (r *Runtime) setStatus(key AgentKey, status string) {
	r.mu.Lock()
	r.status[key] = status
	r.mu.Unlock()
}

// RunAgentTask runs one agent to completion on the worker pool and blocks
// for its result. An empty task ID is derived from the prompt as
// hex(md5(prompt)). The caller's current agent, when present, becomes the
// spawn parent.
func (r *Runtime) RunAgentTask(ctx context.Context, task Task) (TaskResult, error) {
	if task.Prompt == "" {
		return TaskResult{}, &ErrValidation{Field: "user_prompt", Reason: "must not be empty"}
	}
	if task.Key.ID == "" {
		task.Key.ID = DeriveAgentID(task.Prompt)
	}
	if err := task.Key.Validate(); err != nil {
		return TaskResult{}, err
	}

	parent, hasParent := CurrentAgent(ctx)
	seeded, err := r.SeedAgent(ctx, task.Key)
	if err != nil {
		return TaskResult{}, err
	}

	type outcome struct {
		res TaskResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			ch <- outcome{err: ctx.Err()}
			return
		}
		defer func() { <-r.sem }()
		res, err := r.runWorker(ctx, task, parent, hasParent)
		ch <- outcome{res: res, err: err}
	}()
	out := <-ch
	r.PopCurrentAgent(seeded)
	return out.res, out.err
}

// runWorker executes the task on a pool slot. The worker does not inherit
// the caller's stack: the parent frame is re-installed by value, the agent
// re-seeded, and the spawn edge recorded before the loop runs.
func (r *Runtime) runWorker(ctx context.Context, task Task, parent AgentKey, hasParent bool) (res TaskResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("agent task panic: %v", p)
		}
	}()

	wctx := withStack(ctx, nil)
	if hasParent {
		wctx = r.pushFrame(wctx, parent)
		defer r.releaseFrame(parent)
	}
	wctx, err = r.SeedAgent(wctx, task.Key)
	if err != nil {
		return TaskResult{}, err
	}
	defer r.releaseFrame(task.Key)

	if hasParent {
		if r.graph.Record(AgentRef{Role: parent.Role, ID: parent.ID}, AgentRef{Role: task.Key.Role, ID: task.Key.ID}) {
			r.logger.Debug("spawn edge recorded",
				"parent", parent.Role+"/"+parent.ID, "child", task.Key.Role+"/"+task.Key.ID)
		}
	}

	r.setStatus(task.Key, AgentRunning)
	defer r.setStatus(task.Key, AgentIdle)
	return r.engine.RunToCompletion(wctx, task)
}

// ListRunningAgents returns registered agents, optionally filtered by repo,
// each annotated with its in-process activity mark.
func (r *Runtime) ListRunningAgents(ctx context.Context, repo string) ([]AgentRecord, error) {
	recs, err := r.store.ListAgents(ctx, repo)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for i := range recs {
		if s, ok := r.status[recs[i].Key]; ok {
			recs[i].Status = s
		} else {
			recs[i].Status = AgentIdle
		}
	}
	r.mu.Unlock()
	return recs, nil
}

// RemoveAgent deletes the agent's registry row and purges its entire
// conversation. Removal is refused while the key sits on any worker's
// stack.
func (r *Runtime) RemoveAgent(ctx context.Context, key AgentKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	busy := r.onStack[key] > 0
	r.mu.Unlock()
	if busy {
		return &ErrAgentBusy{Key: key}
	}
	if err := r.store.RemoveAgent(ctx, key); err != nil {
		return err
	}
	if err := r.store.DeleteConversation(ctx, key); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.status, key)
	r.mu.Unlock()
	r.logger.Info("agent removed", "agent", key.String())
	return nil
}

// AppendMessages appends one new turn holding the contents in order, each
// with a freshly allocated monotonic message ID.
func (r *Runtime) AppendMessages(ctx context.Context, key AgentKey, role MessageRole, contents []string) (AppendResult, error) {
	if err := key.Validate(); err != nil {
		return AppendResult{}, err
	}
	if !role.Valid() {
		return AppendResult{}, &ErrValidation{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	if len(contents) == 0 {
		return AppendResult{}, &ErrValidation{Field: "content", Reason: "must not be empty"}
	}

	turns, err := r.store.LoadTurns(ctx, key)
	if err != nil {
		return AppendResult{}, err
	}
	idx, err := r.store.NextTurnIndex(ctx, key)
	if err != nil {
		return AppendResult{}, err
	}
	turn := Turn{Index: idx}
	ids := make([]int64, 0, len(contents))
	for _, content := range contents {
		id, err := r.store.NextMessageID(ctx, key)
		if err != nil {
			return AppendResult{}, err
		}
		turn.Messages = append(turn.Messages, Message{
			Index:      len(turn.Messages),
			Role:       role,
			Content:    content,
			Timestamp:  NowUnix(),
			OriginalID: id,
			CharCount:  charCount(content),
		})
		turn.TotalChars += charCount(content)
		ids = append(ids, id)
	}
	if err := r.store.SaveTurns(ctx, key, append(turns, turn)); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{TurnIndex: idx, MessageIDs: ids}, nil
}

// Broadcast appends the contents as one user turn to every registered agent
// in repo whose role is in roles. An empty role set addresses every agent.
// Per-agent failures are collected, not propagated.
func (r *Runtime) Broadcast(ctx context.Context, roles []string, contents []string, repo string) (BroadcastResult, error) {
	if len(contents) == 0 {
		return BroadcastResult{}, &ErrValidation{Field: "content", Reason: "must not be empty"}
	}
	recs, err := r.store.ListAgents(ctx, repo)
	if err != nil {
		return BroadcastResult{}, err
	}
	all := len(roles) == 0
	want := make(map[string]bool, len(roles))
	for _, role := range roles {
		if role == "*" {
			all = true
		}
		want[role] = true
	}

	var out BroadcastResult
	for _, rec := range recs {
		if !all && !want[rec.Key.Role] {
			continue
		}
		if _, err := r.AppendMessages(ctx, rec.Key, RoleUser, contents); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", rec.Key.String(), err))
			continue
		}
		out.SuccessCount++
	}
	r.logger.Info("broadcast delivered", "repo", repo,
		"delivered", out.SuccessCount, "failed", len(out.Errors))
	return out, nil
}

var _ RoleSource = (RoleSourceFunc)(nil)

// RoleSourceFunc adapts a function to the RoleSource interface.
type RoleSourceFunc func(ctx context.Context, role string) (RoleConfig, error)

func (f RoleSourceFunc) Role(ctx context.Context, role string) (RoleConfig, error) {
	return f(ctx, role)
}
