package colony

import "context"

// ConversationStore abstracts durable persistence of turns, messages,
// tool-invocation records, monotonic counters, and the live-agent registry.
type ConversationStore interface {
	// --- Counters ---
	// NextTurnIndex reads last_turn_idx (default -1), increments, writes back
	// atomically, and returns the new value. Preserves last_message_id.
	NextTurnIndex(ctx context.Context, key AgentKey) (int, error)
	// NextMessageID is symmetric to NextTurnIndex for last_message_id.
	NextMessageID(ctx context.Context, key AgentKey) (int64, error)

	// --- Turns ---
	// LoadTurns returns the conversation ascending by turn_idx, each turn
	// rehydrated with its tool metadata and messages (by message_idx).
	LoadTurns(ctx context.Context, key AgentKey) ([]Turn, error)
	// QueryTurns pages and filters over the denormalised join of turns and
	// tool metadata.
	QueryTurns(ctx context.Context, key AgentKey, q TurnQuery) ([]Turn, error)
	// SaveTurns transactionally replaces the conversation with the supplied
	// sequence, cascading to tool metadata and messages. Never re-allocates
	// IDs: a re-saved turn keeps its turn_idx and every message keeps its
	// original_message_id.
	SaveTurns(ctx context.Context, key AgentKey, turns []Turn) error
	// DeleteConversation cascades all rows and resets both counters.
	DeleteConversation(ctx context.Context, key AgentKey) error

	// --- Conversation metadata ---
	TurnsMetadata(ctx context.Context, key AgentKey) (map[string]any, error)
	UpdateTurnsMetadata(ctx context.Context, key AgentKey, patch map[string]any) error

	// --- Agent registry ---
	// RegisterAgent inserts the agents_running row; registering an existing
	// key is a no-op.
	RegisterAgent(ctx context.Context, rec AgentRecord) error
	// ListAgents returns registered agents, optionally filtered by repo.
	ListAgents(ctx context.Context, repo string) ([]AgentRecord, error)
	// RemoveAgent deletes the registry row. Returns ErrNotFound when absent.
	RemoveAgent(ctx context.Context, key AgentKey) error

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// TurnQuery filters and pages a QueryTurns call. Zero values mean "no
// constraint". Since/Until match any message timestamp inside the window.
type TurnQuery struct {
	Status   ToolStatus
	ToolName string
	Deleted  *bool
	Since    int64 // unix seconds, inclusive
	Until    int64 // unix seconds, inclusive
	SortBy   string // turn_idx, total_char_count, status, tool_name, execution_time
	SortDesc bool
	Limit    int
	Offset   int
}
