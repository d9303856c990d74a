package colony

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

// Shared fakes for the root package tests. memStore is a functional
// in-memory ConversationStore so engine and runtime tests drive real
// load/save cycles; the model and dispatcher fakes replay scripted
// outcomes in order.

const testRepo = "https://github.com/acme/app"

// memStore is an in-memory ConversationStore. Methods are safe for
// concurrent use; runtime tests hit the store from worker goroutines.
type memStore struct {
	mu       sync.Mutex
	turns    map[AgentKey][]Turn
	meta     map[AgentKey]map[string]any
	lastTurn map[AgentKey]int
	lastMsg  map[AgentKey]int64
	reg      map[AgentKey]bool
	agents   []AgentRecord
}

func newMemStore() *memStore {
	return &memStore{
		turns:    map[AgentKey][]Turn{},
		meta:     map[AgentKey]map[string]any{},
		lastTurn: map[AgentKey]int{},
		lastMsg:  map[AgentKey]int64{},
		reg:      map[AgentKey]bool{},
	}
}

func (s *memStore) NextTurnIndex(_ context.Context, key AgentKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lastTurn[key]
	if !ok {
		v = -1
	}
	v++
	s.lastTurn[key] = v
	return v, nil
}

func (s *memStore) NextMessageID(_ context.Context, key AgentKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.lastMsg[key]
	if !ok {
		v = -1
	}
	v++
	s.lastMsg[key] = v
	return v, nil
}

func (s *memStore) LoadTurns(_ context.Context, key AgentKey) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns[key]...), nil
}

func (s *memStore) QueryTurns(_ context.Context, key AgentKey, q TurnQuery) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Turn
	for _, t := range s.turns[key] {
		if q.Status != "" && (t.Tool == nil || t.Tool.Status != q.Status) {
			continue
		}
		if q.ToolName != "" && (t.Tool == nil || t.Tool.Name != q.ToolName) {
			continue
		}
		if q.Deleted != nil && (t.Tool == nil || t.Tool.Deleted != *q.Deleted) {
			continue
		}
		out = append(out, t)
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) SaveTurns(_ context.Context, key AgentKey, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[key] = append([]Turn(nil), turns...)
	return nil
}

func (s *memStore) DeleteConversation(_ context.Context, key AgentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, key)
	delete(s.meta, key)
	delete(s.lastTurn, key)
	delete(s.lastMsg, key)
	return nil
}

func (s *memStore) TurnsMetadata(_ context.Context, key AgentKey) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.meta[key]))
	for k, v := range s.meta[key] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) UpdateTurnsMetadata(_ context.Context, key AgentKey, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[key]
	if !ok {
		m = map[string]any{}
		s.meta[key] = m
	}
	for k, v := range patch {
		m[k] = v
	}
	return nil
}

func (s *memStore) RegisterAgent(_ context.Context, rec AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg[rec.Key] {
		return nil
	}
	s.reg[rec.Key] = true
	s.agents = append(s.agents, rec)
	return nil
}

func (s *memStore) ListAgents(_ context.Context, repo string) ([]AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AgentRecord
	for _, rec := range s.agents {
		if repo != "" && rec.Key.Repo != repo {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStore) RemoveAgent(_ context.Context, key AgentKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reg[key] {
		return &ErrNotFound{Kind: "agent", Key: key.String()}
	}
	delete(s.reg, key)
	for i, rec := range s.agents {
		if rec.Key == key {
			s.agents = append(s.agents[:i], s.agents[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memStore) Init(_ context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

var _ ConversationStore = (*memStore)(nil)

// --- Model fakes ---

// scriptModel replays canned responses in order. Exhausting the script
// yields a finalizing text response so loops terminate.
type scriptModel struct {
	mu        sync.Mutex
	responses []ChatResponse
	idx       int
	reqs      []ChatRequest
}

func (m *scriptModel) Name() string { return "script" }

func (m *scriptModel) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.idx >= len(m.responses) {
		return ChatResponse{Content: "exhausted"}, nil
	}
	resp := m.responses[m.idx]
	m.idx++
	return resp, nil
}

func (m *scriptModel) requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.reqs...)
}

var _ Model = (*scriptModel)(nil)

// errModel fails every call with a fixed error.
type errModel struct{ err error }

func (m errModel) Name() string { return "err" }
func (m errModel) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	return ChatResponse{}, m.err
}

// blockModel blocks its first Chat call until released, then answers
// every call with a finalizing response.
type blockModel struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockModel() *blockModel {
	return &blockModel{started: make(chan struct{}), release: make(chan struct{})}
}

func (m *blockModel) Name() string { return "block" }

func (m *blockModel) Chat(ctx context.Context, _ ChatRequest) (ChatResponse, error) {
	m.once.Do(func() { close(m.started) })
	select {
	case <-m.release:
		return ChatResponse{Content: "done"}, nil
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	}
}

// --- Dispatcher fake ---

// scriptDispatcher records requests and answers through respond; the
// default response is a successful empty envelope.
type scriptDispatcher struct {
	mu      sync.Mutex
	reqs    []ToolRequest
	respond func(ToolRequest) (ToolResponse, error)
}

func (d *scriptDispatcher) Execute(_ context.Context, req ToolRequest) (ToolResponse, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	fn := d.respond
	d.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return ToolResponse{Status: DispatchOK, Response: []byte(`{"ok":true}`), ExecTime: 0.001}, nil
}

func (d *scriptDispatcher) requests() []ToolRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ToolRequest(nil), d.reqs...)
}

var _ Dispatcher = (*scriptDispatcher)(nil)

// --- Toolset and engine wiring ---

// staticTools serves a fixed spec list as a ToolSource.
type staticTools []ToolSpec

func (s staticTools) Tools(_ context.Context) ([]ToolSpec, error) {
	return []ToolSpec(s), nil
}

var testSpecs = []ToolSpec{
	{Name: "echo", Description: "Echo the input"},
	{Name: "read_file", Description: "Read a file"},
	{Name: "write_file", Description: "Write a file", Type: "mutating"},
	{Name: "fetch_issues", Description: "Fetch repository issues"},
	{Name: "build", Description: "Run the build", Policy: PolicyUntilBuild},
	{Name: "spawn_agent", Description: "Spawn a delegate agent"},
}

func newTestToolset(t *testing.T, specs []ToolSpec) *Toolset {
	t.Helper()
	ts := NewToolset(staticTools(specs))
	if err := ts.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh toolset: %v", err)
	}
	return ts
}

// newTestEngine wires an Engine whose role source hands every role a
// developer prompt and full tool access.
func newTestEngine(t *testing.T, store ConversationStore, model Model, d Dispatcher, opts ...EngineOption) *Engine {
	t.Helper()
	roles := RoleSourceFunc(func(_ context.Context, role string) (RoleConfig, error) {
		return RoleConfig{Role: role, DeveloperPrompt: "You are the " + role + " agent."}, nil
	})
	return NewEngine(store, model, d, roles, newTestToolset(t, testSpecs), opts...)
}

func call(id, name, args string) ToolCall {
	return ToolCall{ID: id, Name: name, Args: json.RawMessage(args)}
}

// toolTurns filters a conversation down to its tool turns.
func toolTurns(turns []Turn) []Turn {
	var out []Turn
	for _, t := range turns {
		if t.Tool != nil {
			out = append(out, t)
		}
	}
	return out
}
