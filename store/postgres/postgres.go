// Package postgres implements colony.ConversationStore on PostgreSQL for
// deployments where several daemons share one conversation database.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivegrid/colony"
)

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements colony.ConversationStore backed by PostgreSQL.
// Counter allocation rides on upserts with RETURNING, so concurrent
// daemons sharing a database never hand out the same value twice.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ colony.ConversationStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			turn_idx INTEGER NOT NULL,
			total_char_count BIGINT NOT NULL DEFAULT 0,
			finalized BOOLEAN NOT NULL DEFAULT FALSE,
			invocation_reason TEXT NOT NULL DEFAULT '',
			turns_to_purge TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (repo_url, agent_role, agent_id, turn_idx)
		)`,

		`CREATE TABLE IF NOT EXISTS tool_meta (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			turn_idx INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			execution_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			pending_deletion BOOLEAN NOT NULL DEFAULT FALSE,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			rejection TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			args_hash TEXT NOT NULL DEFAULT '',
			preservation_policy TEXT NOT NULL DEFAULT 'one-time',
			normalized_args_json TEXT NOT NULL DEFAULT '',
			normalized_filename TEXT NOT NULL DEFAULT '',
			input_args_json TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (repo_url, agent_role, agent_id, turn_idx),
			FOREIGN KEY (repo_url, agent_role, agent_id, turn_idx)
				REFERENCES turns(repo_url, agent_role, agent_id, turn_idx)
				ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			turn_idx INTEGER NOT NULL,
			message_idx INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			original_message_id BIGINT NOT NULL,
			char_count INTEGER NOT NULL DEFAULT 0,
			raw_json JSONB,
			PRIMARY KEY (repo_url, agent_role, agent_id, turn_idx, message_idx),
			FOREIGN KEY (repo_url, agent_role, agent_id, turn_idx)
				REFERENCES turns(repo_url, agent_role, agent_id, turn_idx)
				ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS agent_state (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			last_turn_idx BIGINT NOT NULL DEFAULT -1,
			last_message_id BIGINT NOT NULL DEFAULT -1,
			PRIMARY KEY (repo_url, agent_role, agent_id)
		)`,

		`CREATE TABLE IF NOT EXISTS agents_running (
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (agent_role, agent_id, repo_url)
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_metadata (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (repo_url, agent_role, agent_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(repo_url, agent_role, agent_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_meta_name ON tool_meta(repo_url, agent_role, agent_id, tool_name)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_running_repo ON agents_running(repo_url)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	s.logger.Info("postgres: init completed")
	return nil
}

// Close is a no-op. The pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// NextTurnIndex increments last_turn_idx for the conversation and returns
// the new value. A single upsert keeps the allocation atomic across pooled
// connections and across processes.
func (s *Store) NextTurnIndex(ctx context.Context, key colony.AgentKey) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agent_state (repo_url, agent_role, agent_id, last_turn_idx, last_message_id)
		 VALUES ($1, $2, $3, 0, -1)
		 ON CONFLICT (repo_url, agent_role, agent_id)
		 DO UPDATE SET last_turn_idx = agent_state.last_turn_idx + 1
		 RETURNING last_turn_idx`,
		key.Repo, key.Role, key.ID,
	).Scan(&next)
	if err != nil {
		s.logger.Error("postgres: next turn idx failed", "agent", key.String(), "error", err)
		return 0, fmt.Errorf("postgres: next turn idx: %w", err)
	}
	return next, nil
}

// NextMessageID is symmetric to NextTurnIndex for last_message_id.
func (s *Store) NextMessageID(ctx context.Context, key colony.AgentKey) (int64, error) {
	var next int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agent_state (repo_url, agent_role, agent_id, last_turn_idx, last_message_id)
		 VALUES ($1, $2, $3, -1, 0)
		 ON CONFLICT (repo_url, agent_role, agent_id)
		 DO UPDATE SET last_message_id = agent_state.last_message_id + 1
		 RETURNING last_message_id`,
		key.Repo, key.Role, key.ID,
	).Scan(&next)
	if err != nil {
		s.logger.Error("postgres: next message id failed", "agent", key.String(), "error", err)
		return 0, fmt.Errorf("postgres: next message id: %w", err)
	}
	return next, nil
}

// LoadTurns returns the conversation ascending by turn_idx, each turn
// rehydrated with its tool metadata and messages.
func (s *Store) LoadTurns(ctx context.Context, key colony.AgentKey) ([]colony.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT turn_idx, total_char_count, finalized, invocation_reason, turns_to_purge
		 FROM turns
		 WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3
		 ORDER BY turn_idx ASC`,
		key.Repo, key.Role, key.ID,
	)
	if err != nil {
		s.logger.Error("postgres: load turns failed", "agent", key.String(), "error", err)
		return nil, fmt.Errorf("postgres: load turns: %w", err)
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, nil
	}
	if err := s.rehydrate(ctx, key, turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// QueryTurns pages and filters over the denormalised join of turns and tool
// metadata. Matching turns come back fully rehydrated.
func (s *Store) QueryTurns(ctx context.Context, key colony.AgentKey, q colony.TurnQuery) ([]colony.Turn, error) {
	var b strings.Builder
	b.WriteString(
		`SELECT t.turn_idx, t.total_char_count, t.finalized, t.invocation_reason, t.turns_to_purge
		 FROM turns t
		 LEFT JOIN tool_meta m ON t.repo_url=m.repo_url AND t.agent_role=m.agent_role
			AND t.agent_id=m.agent_id AND t.turn_idx=m.turn_idx
		 WHERE t.repo_url=$1 AND t.agent_role=$2 AND t.agent_id=$3`)
	args := []any{key.Repo, key.Role, key.ID}
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, clause, len(args))
	}

	if q.Status != "" {
		add(" AND m.status=$%d", string(q.Status))
	}
	if q.ToolName != "" {
		add(" AND m.tool_name=$%d", q.ToolName)
	}
	if q.Deleted != nil {
		add(" AND m.deleted=$%d", *q.Deleted)
	}
	if q.Since > 0 || q.Until > 0 {
		b.WriteString(` AND EXISTS (SELECT 1 FROM messages ms
			WHERE ms.repo_url=t.repo_url AND ms.agent_role=t.agent_role
			AND ms.agent_id=t.agent_id AND ms.turn_idx=t.turn_idx`)
		if q.Since > 0 {
			add(" AND ms.timestamp>=$%d", q.Since)
		}
		if q.Until > 0 {
			add(" AND ms.timestamp<=$%d", q.Until)
		}
		b.WriteString(")")
	}

	b.WriteString(" ORDER BY " + sortColumn(q.SortBy))
	if q.SortDesc {
		b.WriteString(" DESC")
	} else {
		b.WriteString(" ASC")
	}
	if q.Limit > 0 {
		add(" LIMIT $%d", q.Limit)
	}
	if q.Offset > 0 {
		add(" OFFSET $%d", q.Offset)
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		s.logger.Error("postgres: query turns failed", "agent", key.String(), "error", err)
		return nil, fmt.Errorf("postgres: query turns: %w", err)
	}
	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, nil
	}
	if err := s.rehydrate(ctx, key, turns); err != nil {
		return nil, err
	}
	return turns, nil
}

// sortColumn maps a TurnQuery sort key to its qualified column. Unknown
// keys fall back to turn order.
func sortColumn(key string) string {
	switch key {
	case "total_char_count":
		return "t.total_char_count"
	case "status":
		return "m.status"
	case "tool_name":
		return "m.tool_name"
	case "execution_time":
		return "m.execution_time"
	default:
		return "t.turn_idx"
	}
}

// SaveTurns replaces the conversation with the supplied sequence in a
// single transaction. Supplied turn_idx and original_message_id values are
// preserved, never re-allocated; counters are untouched.
func (s *Store) SaveTurns(ctx context.Context, key colony.AgentKey, turns []colony.Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Cascades to tool_meta and messages.
	if _, err := tx.Exec(ctx,
		`DELETE FROM turns WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3`,
		key.Repo, key.Role, key.ID,
	); err != nil {
		return fmt.Errorf("postgres: clear turns: %w", err)
	}

	for _, t := range turns {
		if _, err := tx.Exec(ctx,
			`INSERT INTO turns (repo_url, agent_role, agent_id, turn_idx, total_char_count, finalized, invocation_reason, turns_to_purge)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			key.Repo, key.Role, key.ID, t.Index, t.TotalChars, t.Finalized, t.InvocationReason, t.TurnsToPurge,
		); err != nil {
			return fmt.Errorf("postgres: insert turn %d: %w", t.Index, err)
		}
		if m := t.Tool; m != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO tool_meta (repo_url, agent_role, agent_id, turn_idx, tool_name, execution_time,
					pending_deletion, deleted, rejection, status, args_hash, preservation_policy,
					normalized_args_json, normalized_filename, input_args_json)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
				key.Repo, key.Role, key.ID, t.Index, m.Name, m.ExecutionTime,
				m.PendingDeletion, m.Deleted, m.Rejection, string(m.Status), m.ArgsHash,
				string(m.Policy), m.NormalizedArgs, m.NormalizedFilename, m.InputArgs,
			); err != nil {
				return fmt.Errorf("postgres: insert tool meta %d: %w", t.Index, err)
			}
		}
		for _, msg := range t.Messages {
			var rawJSON []byte
			if len(msg.Extra) > 0 {
				rawJSON, _ = json.Marshal(msg.Extra)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO messages (repo_url, agent_role, agent_id, turn_idx, message_idx, role, content,
					timestamp, original_message_id, char_count, raw_json)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				key.Repo, key.Role, key.ID, t.Index, msg.Index, string(msg.Role), msg.Content,
				msg.Timestamp, msg.OriginalID, msg.CharCount, rawJSON,
			); err != nil {
				return fmt.Errorf("postgres: insert message %d/%d: %w", t.Index, msg.Index, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	s.logger.Debug("postgres: save turns ok", "agent", key.String(), "count", len(turns))
	return nil
}

// DeleteConversation cascades all conversation rows and resets both
// counters. The agents_running registry row is untouched here.
func (s *Store) DeleteConversation(ctx context.Context, key colony.AgentKey) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM turns WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3`,
		`DELETE FROM agent_state WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3`,
		`DELETE FROM conversation_metadata WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3`,
	} {
		if _, err := tx.Exec(ctx, stmt, key.Repo, key.Role, key.ID); err != nil {
			return fmt.Errorf("postgres: delete conversation: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	s.logger.Debug("postgres: delete conversation ok", "agent", key.String())
	return nil
}

// TurnsMetadata returns the conversation metadata blob, empty when absent.
func (s *Store) TurnsMetadata(ctx context.Context, key colony.AgentKey) (map[string]any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT metadata FROM conversation_metadata WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3`,
		key.Repo, key.Role, key.ID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		s.logger.Error("postgres: get metadata failed", "agent", key.String(), "error", err)
		return nil, fmt.Errorf("postgres: get metadata: %w", err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("postgres: decode metadata: %w", err)
	}
	return meta, nil
}

// UpdateTurnsMetadata merges the patch into the conversation metadata blob.
// JSONB concatenation replaces top-level keys and keeps the rest, so the
// merge happens server-side in one statement.
func (s *Store) UpdateTurnsMetadata(ctx context.Context, key colony.AgentKey, patch map[string]any) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("postgres: encode metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversation_metadata (repo_url, agent_role, agent_id, metadata)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (repo_url, agent_role, agent_id)
		 DO UPDATE SET metadata = conversation_metadata.metadata || EXCLUDED.metadata`,
		key.Repo, key.Role, key.ID, data,
	)
	if err != nil {
		s.logger.Error("postgres: update metadata failed", "agent", key.String(), "error", err)
		return fmt.Errorf("postgres: update metadata: %w", err)
	}
	return nil
}

// RegisterAgent inserts the agents_running row. Registering an existing key
// is a no-op.
func (s *Store) RegisterAgent(ctx context.Context, rec colony.AgentRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents_running (agent_role, agent_id, repo_url, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_role, agent_id, repo_url) DO NOTHING`,
		rec.Key.Role, rec.Key.ID, rec.Key.Repo, rec.CreatedAt,
	)
	if err != nil {
		s.logger.Error("postgres: register agent failed", "agent", rec.Key.String(), "error", err)
		return fmt.Errorf("postgres: register agent: %w", err)
	}
	return nil
}

// ListAgents returns registered agents, oldest first, optionally filtered
// by repo.
func (s *Store) ListAgents(ctx context.Context, repo string) ([]colony.AgentRecord, error) {
	query := `SELECT agent_role, agent_id, repo_url, created_at FROM agents_running`
	var args []any
	if repo != "" {
		query += ` WHERE repo_url=$1`
		args = append(args, repo)
	}
	query += ` ORDER BY created_at ASC, agent_role ASC, agent_id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.logger.Error("postgres: list agents failed", "repo", repo, "error", err)
		return nil, fmt.Errorf("postgres: list agents: %w", err)
	}
	defer rows.Close()

	var recs []colony.AgentRecord
	for rows.Next() {
		var rec colony.AgentRecord
		if err := rows.Scan(&rec.Key.Role, &rec.Key.ID, &rec.Key.Repo, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan agent: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RemoveAgent deletes the registry row. Absent keys yield ErrNotFound.
func (s *Store) RemoveAgent(ctx context.Context, key colony.AgentKey) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM agents_running WHERE agent_role=$1 AND agent_id=$2 AND repo_url=$3`,
		key.Role, key.ID, key.Repo,
	)
	if err != nil {
		s.logger.Error("postgres: remove agent failed", "agent", key.String(), "error", err)
		return fmt.Errorf("postgres: remove agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &colony.ErrNotFound{Kind: "agent", Key: key.String()}
	}
	return nil
}

// --- row scanning ---

func scanTurns(rows pgx.Rows) ([]colony.Turn, error) {
	defer rows.Close()
	var turns []colony.Turn
	for rows.Next() {
		var t colony.Turn
		if err := rows.Scan(&t.Index, &t.TotalChars, &t.Finalized, &t.InvocationReason, &t.TurnsToPurge); err != nil {
			return nil, fmt.Errorf("postgres: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate turns: %w", err)
	}
	return turns, nil
}

// rehydrate attaches tool metadata and messages to already-scanned turns.
func (s *Store) rehydrate(ctx context.Context, key colony.AgentKey, turns []colony.Turn) error {
	metas, err := s.loadToolMeta(ctx, key)
	if err != nil {
		return err
	}
	msgs, err := s.loadMessages(ctx, key)
	if err != nil {
		return err
	}
	for i := range turns {
		turns[i].Tool = metas[turns[i].Index]
		turns[i].Messages = msgs[turns[i].Index]
	}
	return nil
}

func (s *Store) loadToolMeta(ctx context.Context, key colony.AgentKey) (map[int]*colony.ToolMeta, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT turn_idx, tool_name, execution_time, pending_deletion, deleted, rejection, status,
			args_hash, preservation_policy, normalized_args_json, normalized_filename, input_args_json
		 FROM tool_meta
		 WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3`,
		key.Repo, key.Role, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load tool meta: %w", err)
	}
	defer rows.Close()

	metas := map[int]*colony.ToolMeta{}
	for rows.Next() {
		var (
			idx            int
			m              colony.ToolMeta
			status, policy string
		)
		if err := rows.Scan(&idx, &m.Name, &m.ExecutionTime, &m.PendingDeletion, &m.Deleted, &m.Rejection,
			&status, &m.ArgsHash, &policy, &m.NormalizedArgs, &m.NormalizedFilename, &m.InputArgs); err != nil {
			return nil, fmt.Errorf("postgres: scan tool meta: %w", err)
		}
		m.Status = colony.ToolStatus(status)
		m.Policy = colony.Policy(policy)
		metas[idx] = &m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate tool meta: %w", err)
	}
	return metas, nil
}

func (s *Store) loadMessages(ctx context.Context, key colony.AgentKey) (map[int][]colony.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT turn_idx, message_idx, role, content, timestamp, original_message_id, char_count, raw_json
		 FROM messages
		 WHERE repo_url=$1 AND agent_role=$2 AND agent_id=$3
		 ORDER BY turn_idx ASC, message_idx ASC`,
		key.Repo, key.Role, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load messages: %w", err)
	}
	defer rows.Close()

	msgs := map[int][]colony.Message{}
	for rows.Next() {
		var (
			idx     int
			m       colony.Message
			role    string
			rawJSON []byte
		)
		if err := rows.Scan(&idx, &m.Index, &role, &m.Content, &m.Timestamp, &m.OriginalID, &m.CharCount, &rawJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.Role = colony.MessageRole(role)
		if len(rawJSON) > 0 {
			_ = json.Unmarshal(rawJSON, &m.Extra)
		}
		msgs[idx] = append(msgs[idx], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}
	return msgs, nil
}
