package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hivegrid/colony"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey() colony.AgentKey {
	return colony.AgentKey{Repo: "github.com/acme/site", Role: "coder", ID: "abc123"}
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestCountersStartAtZero(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	idx, err := s.NextTurnIndex(ctx, key)
	if err != nil {
		t.Fatalf("NextTurnIndex: %v", err)
	}
	if idx != 0 {
		t.Errorf("first turn idx = %d, want 0", idx)
	}
	id, err := s.NextMessageID(ctx, key)
	if err != nil {
		t.Fatalf("NextMessageID: %v", err)
	}
	if id != 0 {
		t.Errorf("first message id = %d, want 0", id)
	}
}

func TestCountersIndependent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	// Interleave allocations; each counter advances on its own.
	s.NextMessageID(ctx, key)
	s.NextMessageID(ctx, key)
	idx, _ := s.NextTurnIndex(ctx, key)
	if idx != 0 {
		t.Errorf("turn idx = %d, want 0 after message allocations", idx)
	}
	id, _ := s.NextMessageID(ctx, key)
	if id != 2 {
		t.Errorf("message id = %d, want 2 after turn allocation", id)
	}
}

func TestCountersSurviveSaveTurns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	for i := 0; i < 5; i++ {
		s.NextTurnIndex(ctx, key)
	}
	// Replacing the history with fewer turns must not roll the counter back.
	if err := s.SaveTurns(ctx, key, []colony.Turn{{Index: 0}, {Index: 1}}); err != nil {
		t.Fatalf("SaveTurns: %v", err)
	}
	idx, err := s.NextTurnIndex(ctx, key)
	if err != nil {
		t.Fatalf("NextTurnIndex: %v", err)
	}
	if idx != 5 {
		t.Errorf("turn idx after save = %d, want 5", idx)
	}
}

func TestLoadTurnsEmpty(t *testing.T) {
	s := testStore(t)

	turns, err := s.LoadTurns(context.Background(), testKey())
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if turns != nil {
		t.Errorf("expected nil for unseeded conversation, got %v", turns)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	turns := []colony.Turn{
		{
			Index:            0,
			TotalChars:       11,
			InvocationReason: "seed",
			Messages: []colony.Message{
				{Index: 0, Role: colony.RoleSystem, Content: "sys", Timestamp: 100, OriginalID: 0, CharCount: 3},
				{Index: 1, Role: colony.RoleUser, Content: "hi there", Timestamp: 101, OriginalID: 1, CharCount: 8},
			},
		},
		{
			Index:      1,
			Finalized:  true,
			TotalChars: 4,
			Tool: &colony.ToolMeta{
				Name:               "write_file",
				ExecutionTime:      0.25,
				Status:             colony.StatusSuccess,
				ArgsHash:           "aGFzaA==",
				Policy:             colony.PolicyUntilBuild,
				NormalizedArgs:     `{"path":"main.go"}`,
				NormalizedFilename: "main.go",
				InputArgs:          `{"path": "main.go"}`,
			},
			Messages: []colony.Message{
				{Index: 0, Role: colony.RoleTool, Content: "done", Timestamp: 102, OriginalID: 2, CharCount: 4,
					Extra: map[string]any{"tool_call_id": "call_9"}},
			},
		},
	}
	if err := s.SaveTurns(ctx, key, turns); err != nil {
		t.Fatalf("SaveTurns: %v", err)
	}

	got, err := s.LoadTurns(ctx, key)
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got))
	}
	if got[0].InvocationReason != "seed" || len(got[0].Messages) != 2 {
		t.Errorf("turn 0 not restored: %+v", got[0])
	}
	if got[0].Messages[1].OriginalID != 1 {
		t.Errorf("original id = %d, want 1", got[0].Messages[1].OriginalID)
	}
	if !got[1].Finalized {
		t.Error("turn 1 should be finalized")
	}
	m := got[1].Tool
	if m == nil {
		t.Fatal("turn 1 tool meta missing")
	}
	if m.Name != "write_file" || m.Policy != colony.PolicyUntilBuild || m.NormalizedFilename != "main.go" {
		t.Errorf("tool meta not restored: %+v", m)
	}
	if m.ExecutionTime != 0.25 {
		t.Errorf("execution time = %v, want 0.25", m.ExecutionTime)
	}
	if got[1].Messages[0].Extra["tool_call_id"] != "call_9" {
		t.Errorf("extra not restored: %v", got[1].Messages[0].Extra)
	}
}

func TestSaveTurnsReplaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	s.SaveTurns(ctx, key, []colony.Turn{{Index: 0}, {Index: 1}, {Index: 2}})
	// A shorter save replaces the whole history, cascading the old rows.
	if err := s.SaveTurns(ctx, key, []colony.Turn{{Index: 0}}); err != nil {
		t.Fatalf("SaveTurns: %v", err)
	}
	got, _ := s.LoadTurns(ctx, key)
	if len(got) != 1 {
		t.Errorf("expected 1 turn after replace, got %d", len(got))
	}
}

func TestQueryTurnsFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()
	yes := true

	turns := []colony.Turn{
		{Index: 0, TotalChars: 10,
			Messages: []colony.Message{{Role: colony.RoleUser, Content: "a", Timestamp: 100}}},
		{Index: 1, TotalChars: 30,
			Tool: &colony.ToolMeta{Name: "echo", Status: colony.StatusSuccess},
			Messages: []colony.Message{{Role: colony.RoleTool, Content: "b", Timestamp: 200}}},
		{Index: 2, TotalChars: 20,
			Tool: &colony.ToolMeta{Name: "write_file", Status: colony.StatusRejected, Deleted: true},
			Messages: []colony.Message{{Role: colony.RoleTool, Content: "c", Timestamp: 300}}},
	}
	if err := s.SaveTurns(ctx, key, turns); err != nil {
		t.Fatalf("SaveTurns: %v", err)
	}

	got, err := s.QueryTurns(ctx, key, colony.TurnQuery{Status: colony.StatusSuccess})
	if err != nil {
		t.Fatalf("QueryTurns status: %v", err)
	}
	if len(got) != 1 || got[0].Index != 1 {
		t.Errorf("status filter: got %d turns, want turn 1", len(got))
	}

	got, _ = s.QueryTurns(ctx, key, colony.TurnQuery{ToolName: "write_file"})
	if len(got) != 1 || got[0].Index != 2 {
		t.Errorf("tool filter: got %d turns, want turn 2", len(got))
	}

	got, _ = s.QueryTurns(ctx, key, colony.TurnQuery{Deleted: &yes})
	if len(got) != 1 || got[0].Index != 2 {
		t.Errorf("deleted filter: got %d turns, want turn 2", len(got))
	}

	// Window matches any message timestamp inside it.
	got, _ = s.QueryTurns(ctx, key, colony.TurnQuery{Since: 150, Until: 250})
	if len(got) != 1 || got[0].Index != 1 {
		t.Errorf("window filter: got %d turns, want turn 1", len(got))
	}

	got, _ = s.QueryTurns(ctx, key, colony.TurnQuery{SortBy: "total_char_count", SortDesc: true})
	if len(got) != 3 || got[0].Index != 1 || got[2].Index != 0 {
		t.Errorf("sort by chars desc: got order %v", turnIndexes(got))
	}

	got, _ = s.QueryTurns(ctx, key, colony.TurnQuery{Limit: 1, Offset: 1})
	if len(got) != 1 || got[0].Index != 1 {
		t.Errorf("limit/offset: got %v", turnIndexes(got))
	}

	// Offset without limit still pages.
	got, _ = s.QueryTurns(ctx, key, colony.TurnQuery{Offset: 2})
	if len(got) != 1 || got[0].Index != 2 {
		t.Errorf("offset only: got %v", turnIndexes(got))
	}
}

func turnIndexes(turns []colony.Turn) []int {
	out := make([]int, len(turns))
	for i, t := range turns {
		out[i] = t.Index
	}
	return out
}

func TestDeleteConversationResetsCounters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	s.NextTurnIndex(ctx, key)
	s.NextTurnIndex(ctx, key)
	s.NextMessageID(ctx, key)
	s.SaveTurns(ctx, key, []colony.Turn{{Index: 0}})
	s.UpdateTurnsMetadata(ctx, key, map[string]any{"k": "v"})

	if err := s.DeleteConversation(ctx, key); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	turns, _ := s.LoadTurns(ctx, key)
	if turns != nil {
		t.Errorf("turns survived delete: %v", turns)
	}
	idx, _ := s.NextTurnIndex(ctx, key)
	if idx != 0 {
		t.Errorf("turn idx after delete = %d, want 0", idx)
	}
	meta, _ := s.TurnsMetadata(ctx, key)
	if len(meta) != 0 {
		t.Errorf("metadata survived delete: %v", meta)
	}
}

func TestMetadataMerge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	meta, err := s.TurnsMetadata(ctx, key)
	if err != nil {
		t.Fatalf("TurnsMetadata: %v", err)
	}
	if len(meta) != 0 {
		t.Errorf("expected empty metadata, got %v", meta)
	}

	s.UpdateTurnsMetadata(ctx, key, map[string]any{"a": "1", "b": "2"})
	s.UpdateTurnsMetadata(ctx, key, map[string]any{"b": "3", "c": "4"})

	meta, _ = s.TurnsMetadata(ctx, key)
	if meta["a"] != "1" || meta["b"] != "3" || meta["c"] != "4" {
		t.Errorf("merged metadata = %v", meta)
	}
}

func TestAgentRegistry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	rec := colony.AgentRecord{Key: key, CreatedAt: 1000}
	if err := s.RegisterAgent(ctx, rec); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	// Re-registering the same key is a no-op.
	if err := s.RegisterAgent(ctx, rec); err != nil {
		t.Fatalf("RegisterAgent repeat: %v", err)
	}
	other := colony.AgentRecord{Key: colony.AgentKey{Repo: "github.com/acme/other", Role: "tester", ID: "def456"}, CreatedAt: 2000}
	s.RegisterAgent(ctx, other)

	recs, err := s.ListAgents(ctx, "")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(recs))
	}
	if recs[0].Key != key {
		t.Errorf("oldest first: got %+v", recs[0].Key)
	}

	recs, _ = s.ListAgents(ctx, key.Repo)
	if len(recs) != 1 || recs[0].Key != key {
		t.Errorf("repo filter: got %+v", recs)
	}

	if err := s.RemoveAgent(ctx, key); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	var nf *colony.ErrNotFound
	if err := s.RemoveAgent(ctx, key); !errors.As(err, &nf) {
		t.Errorf("second RemoveAgent = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAllocations_Unique(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := testKey()

	const n = 20
	ids := make(chan int64, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.NextMessageID(ctx, key)
			ids <- id
			errs <- err
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent allocation failed: %v", err)
		}
	}
	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate message id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d unique ids, got %d", n, len(seen))
	}
}
