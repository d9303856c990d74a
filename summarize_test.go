package colony

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// storedTurn allocates a turn index and message ID from the store and
// returns the single-message turn they produce, keeping the counters
// true to the conversation.
func storedTurn(t *testing.T, store ConversationStore, key AgentKey, role MessageRole, content string) Turn {
	t.Helper()
	ctx := context.Background()
	idx, err := store.NextTurnIndex(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.NextMessageID(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	return Turn{
		Index:      idx,
		TotalChars: charCount(content),
		Messages: []Message{{
			Role:       role,
			Content:    content,
			Timestamp:  NowUnix(),
			OriginalID: id,
			CharCount:  charCount(content),
		}},
	}
}

// seedHistory persists a turn-zero plus n single-message body turns
// ("step 0" .. "step n-1", alternating assistant and tool roles).
func seedHistory(t *testing.T, store ConversationStore, key AgentKey, n int) {
	t.Helper()
	turns := []Turn{storedTurn(t, store, key, RoleSystem, "respond with a json object")}
	for i := 0; i < n; i++ {
		role := RoleAssistant
		if i%2 == 1 {
			role = RoleTool
		}
		turns = append(turns, storedTurn(t, store, key, role, fmt.Sprintf("step %d", i)))
	}
	if err := store.SaveTurns(context.Background(), key, turns); err != nil {
		t.Fatal(err)
	}
}

func TestCompactFoldsHistory(t *testing.T) {
	store := newMemStore()
	key := AgentKey{Role: "worker", ID: "w1", Repo: testRepo}
	seedHistory(t, store, key, 6)

	model := &scriptModel{responses: []ChatResponse{
		{Content: `{"summary":"steps 0 through 2 done"}`},
	}}
	s := NewSummarizer(store, model, 3, SummarizerModel("gpt-4o-mini"))
	s.Compact(context.Background(), key)

	turns, err := store.LoadTurns(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 5 {
		t.Fatalf("got %d turns, want 5 (zero, summary, last three)", len(turns))
	}
	for i, turn := range turns {
		if turn.Index != i {
			t.Errorf("turn %d re-indexed as %d", i, turn.Index)
		}
	}

	if got := turns[0].Messages[0].Content; got != "respond with a json object" {
		t.Errorf("turn zero = %q, want it preserved", got)
	}

	sum := turns[1].Messages[0]
	if sum.Role != RoleUser {
		t.Errorf("summary role = %q, want user", sum.Role)
	}
	if want := "[Summary of earlier turns]\nsteps 0 through 2 done"; sum.Content != want {
		t.Errorf("summary = %q, want %q", sum.Content, want)
	}
	// IDs 0..6 went to the original turns; the summary allocates the next.
	if sum.OriginalID != 7 {
		t.Errorf("summary message ID = %d, want 7", sum.OriginalID)
	}

	// The kept tail retains content and original message IDs.
	for i, want := range []string{"step 3", "step 4", "step 5"} {
		m := turns[2+i].Messages[0]
		if m.Content != want {
			t.Errorf("kept turn %d = %q, want %q", 2+i, m.Content, want)
		}
		if m.OriginalID != int64(4+i) {
			t.Errorf("kept turn %d message ID = %d, want %d", 2+i, m.OriginalID, 4+i)
		}
	}

	// The summarisation call is a JSON-mode request on the named model
	// carrying only the pruned turns.
	req := model.requests()[0]
	if !req.JSONOnly {
		t.Error("summary request should force a JSON response")
	}
	if req.Model != "gpt-4o-mini" {
		t.Errorf("summary model = %q, want %q", req.Model, "gpt-4o-mini")
	}
	digest := req.Messages[1].Content
	if !strings.Contains(digest, "[turn 1][assistant]: step 0") {
		t.Errorf("digest = %q, want it to carry the pruned turns", digest)
	}
	if strings.Contains(digest, "step 3") {
		t.Errorf("digest = %q, must not include kept turns", digest)
	}
}

func TestCompactUnderThresholdIsNoop(t *testing.T) {
	store := newMemStore()
	key := AgentKey{Role: "worker", ID: "w1", Repo: testRepo}
	seedHistory(t, store, key, 3)

	model := &scriptModel{}
	s := NewSummarizer(store, model, 3)
	s.Compact(context.Background(), key)

	turns, _ := store.LoadTurns(context.Background(), key)
	if len(turns) != 4 {
		t.Errorf("got %d turns, want 4 untouched", len(turns))
	}
	if len(model.requests()) != 0 {
		t.Error("no model call expected under the threshold")
	}
}

func TestCompactEmptyConversationIsNoop(t *testing.T) {
	store := newMemStore()
	model := &scriptModel{}
	s := NewSummarizer(store, model, 3)

	s.Compact(context.Background(), AgentKey{Role: "worker", ID: "w1", Repo: testRepo})
	if len(model.requests()) != 0 {
		t.Error("no model call expected for an empty conversation")
	}
}

func TestCompactModelFailureLeavesHistory(t *testing.T) {
	store := newMemStore()
	key := AgentKey{Role: "worker", ID: "w1", Repo: testRepo}
	seedHistory(t, store, key, 6)
	before, _ := store.LoadTurns(context.Background(), key)

	s := NewSummarizer(store, errModel{err: &ErrModel{Provider: "openai", Message: "boom"}}, 3)
	s.Compact(context.Background(), key)

	after, _ := store.LoadTurns(context.Background(), key)
	if len(after) != len(before) {
		t.Errorf("got %d turns, want %d unchanged after a failed summary", len(after), len(before))
	}
}

func TestCompactFallsBackToRawContent(t *testing.T) {
	store := newMemStore()
	key := AgentKey{Role: "worker", ID: "w1", Repo: testRepo}
	seedHistory(t, store, key, 6)

	model := &scriptModel{responses: []ChatResponse{{Content: "plain text summary"}}}
	s := NewSummarizer(store, model, 3)
	s.Compact(context.Background(), key)

	turns, _ := store.LoadTurns(context.Background(), key)
	if len(turns) != 5 {
		t.Fatalf("got %d turns, want 5", len(turns))
	}
	if want := "[Summary of earlier turns]\nplain text summary"; turns[1].Messages[0].Content != want {
		t.Errorf("summary = %q, want the raw model text", turns[1].Messages[0].Content)
	}
}

func TestNewSummarizerDefaultThreshold(t *testing.T) {
	s := NewSummarizer(newMemStore(), &scriptModel{}, 0)
	if s.threshold != defaultSummaryThreshold {
		t.Errorf("threshold = %d, want %d", s.threshold, defaultSummaryThreshold)
	}
}
