// Package sqlite implements colony.ConversationStore using pure-Go SQLite.
// Zero CGO required. All goroutines serialize through a single connection,
// and WAL mode keeps readers off the writer's back.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hivegrid/colony"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements colony.ConversationStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
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

// Bounded backoff for SQLITE_BUSY contention from writers in other
// processes. In-process writers already serialize through the single
// connection.
const (
	busyRetries  = 5
	busyBaseWait = 50 * time.Millisecond
)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
// Foreign keys and WAL mode are enabled on every connection via the DSN.
func New(dbPath string, opts ...StoreOption) *Store {
	dsn := dbPath
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			turn_idx INTEGER NOT NULL,
			total_char_count INTEGER NOT NULL DEFAULT 0,
			finalized INTEGER NOT NULL DEFAULT 0,
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
			execution_time REAL NOT NULL DEFAULT 0,
			pending_deletion INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
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
			timestamp INTEGER NOT NULL,
			original_message_id INTEGER NOT NULL,
			char_count INTEGER NOT NULL DEFAULT 0,
			raw_json TEXT,
			PRIMARY KEY (repo_url, agent_role, agent_id, turn_idx, message_idx),
			FOREIGN KEY (repo_url, agent_role, agent_id, turn_idx)
				REFERENCES turns(repo_url, agent_role, agent_id, turn_idx)
				ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS agent_state (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			last_turn_idx INTEGER NOT NULL DEFAULT -1,
			last_message_id INTEGER NOT NULL DEFAULT -1,
			PRIMARY KEY (repo_url, agent_role, agent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS agents_running (
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			repo_url TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (agent_role, agent_id, repo_url)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_metadata (
			repo_url TEXT NOT NULL,
			agent_role TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (repo_url, agent_role, agent_id)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(repo_url, agent_role, agent_id, timestamp)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tool_meta_name ON tool_meta(repo_url, agent_role, agent_id, tool_name)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_agents_running_repo ON agents_running(repo_url)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withBusyRetry runs fn, retrying with bounded backoff while SQLite reports
// a locked database. Exhausted retries surface a retryable storage error.
func (s *Store) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("sqlite: database busy, retrying", "op", op, "attempt", attempt)
			select {
			case <-time.After(busyBaseWait << (attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
	}
	return &colony.ErrStorage{Op: op, Retryable: true, Err: err}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// NextTurnIndex increments last_turn_idx for the conversation and returns
// the new value. The counter row is created at its defaults on first use.
func (s *Store) NextTurnIndex(ctx context.Context, key colony.AgentKey) (int, error) {
	var next int
	err := s.withBusyRetry(ctx, "next turn idx", func() error {
		n, err := s.bump(ctx, key, "last_turn_idx")
		next = int(n)
		return err
	})
	if err != nil {
		s.logger.Error("sqlite: next turn idx failed", "agent", key.String(), "error", err)
		return 0, err
	}
	s.logger.Debug("sqlite: next turn idx ok", "agent", key.String(), "turn_idx", next)
	return next, nil
}

// NextMessageID increments last_message_id for the conversation and returns
// the new value.
func (s *Store) NextMessageID(ctx context.Context, key colony.AgentKey) (int64, error) {
	var next int64
	err := s.withBusyRetry(ctx, "next message id", func() error {
		n, err := s.bump(ctx, key, "last_message_id")
		next = n
		return err
	})
	if err != nil {
		s.logger.Error("sqlite: next message id failed", "agent", key.String(), "error", err)
		return 0, err
	}
	s.logger.Debug("sqlite: next message id ok", "agent", key.String(), "message_id", next)
	return next, nil
}

// bump atomically increments one counter column, creating the state row at
// its defaults (-1) on first use, and returns the new value. The sibling
// counter is never touched.
func (s *Store) bump(ctx context.Context, key colony.AgentKey, column string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var cur int64
	err = tx.QueryRowContext(ctx,
		`SELECT `+column+` FROM agent_state WHERE repo_url=? AND agent_role=? AND agent_id=?`,
		key.Repo, key.Role, key.ID,
	).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cur = -1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_state (repo_url, agent_role, agent_id) VALUES (?, ?, ?)`,
			key.Repo, key.Role, key.ID,
		); err != nil {
			return 0, fmt.Errorf("insert state: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("read counter: %w", err)
	}

	next := cur + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE agent_state SET `+column+`=? WHERE repo_url=? AND agent_role=? AND agent_id=?`,
		next, key.Repo, key.Role, key.ID,
	); err != nil {
		return 0, fmt.Errorf("write counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return next, nil
}

// LoadTurns returns the conversation ascending by turn_idx, each turn
// rehydrated with its tool metadata and messages.
func (s *Store) LoadTurns(ctx context.Context, key colony.AgentKey) ([]colony.Turn, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load turns", "agent", key.String())

	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_idx, total_char_count, finalized, invocation_reason, turns_to_purge
		 FROM turns
		 WHERE repo_url=? AND agent_role=? AND agent_id=?
		 ORDER BY turn_idx ASC`,
		key.Repo, key.Role, key.ID,
	)
	if err != nil {
		s.logger.Error("sqlite: load turns failed", "agent", key.String(), "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load turns: %w", err)
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

	s.logger.Debug("sqlite: load turns ok", "agent", key.String(), "count", len(turns), "duration", time.Since(start))
	return turns, nil
}

// QueryTurns pages and filters over the denormalised join of turns and tool
// metadata. Matching turns come back fully rehydrated.
func (s *Store) QueryTurns(ctx context.Context, key colony.AgentKey, q colony.TurnQuery) ([]colony.Turn, error) {
	start := time.Now()
	s.logger.Debug("sqlite: query turns", "agent", key.String(),
		"status", q.Status, "tool", q.ToolName, "limit", q.Limit, "offset", q.Offset)

	var b strings.Builder
	b.WriteString(
		`SELECT t.turn_idx, t.total_char_count, t.finalized, t.invocation_reason, t.turns_to_purge
		 FROM turns t
		 LEFT JOIN tool_meta m ON t.repo_url=m.repo_url AND t.agent_role=m.agent_role
			AND t.agent_id=m.agent_id AND t.turn_idx=m.turn_idx
		 WHERE t.repo_url=? AND t.agent_role=? AND t.agent_id=?`)
	args := []any{key.Repo, key.Role, key.ID}

	if q.Status != "" {
		b.WriteString(" AND m.status=?")
		args = append(args, string(q.Status))
	}
	if q.ToolName != "" {
		b.WriteString(" AND m.tool_name=?")
		args = append(args, q.ToolName)
	}
	if q.Deleted != nil {
		b.WriteString(" AND m.deleted=?")
		args = append(args, boolToInt(*q.Deleted))
	}
	if q.Since > 0 || q.Until > 0 {
		b.WriteString(` AND EXISTS (SELECT 1 FROM messages ms
			WHERE ms.repo_url=t.repo_url AND ms.agent_role=t.agent_role
			AND ms.agent_id=t.agent_id AND ms.turn_idx=t.turn_idx`)
		if q.Since > 0 {
			b.WriteString(" AND ms.timestamp>=?")
			args = append(args, q.Since)
		}
		if q.Until > 0 {
			b.WriteString(" AND ms.timestamp<=?")
			args = append(args, q.Until)
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
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	} else if q.Offset > 0 {
		b.WriteString(" LIMIT -1")
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		s.logger.Error("sqlite: query turns failed", "agent", key.String(), "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("query turns: %w", err)
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

	s.logger.Debug("sqlite: query turns ok", "agent", key.String(), "count", len(turns), "duration", time.Since(start))
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

// SaveTurns transactionally replaces the conversation with the supplied
// sequence. Supplied turn_idx and original_message_id values are preserved,
// never re-allocated; counters are untouched.
func (s *Store) SaveTurns(ctx context.Context, key colony.AgentKey, turns []colony.Turn) error {
	start := time.Now()
	s.logger.Debug("sqlite: save turns", "agent", key.String(), "count", len(turns))

	err := s.withBusyRetry(ctx, "save turns", func() error {
		return s.saveTurnsTx(ctx, key, turns)
	})
	if err != nil {
		s.logger.Error("sqlite: save turns failed", "agent", key.String(), "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("sqlite: save turns ok", "agent", key.String(), "count", len(turns), "duration", time.Since(start))
	return nil
}

func (s *Store) saveTurnsTx(ctx context.Context, key colony.AgentKey, turns []colony.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Cascades to tool_meta and messages.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE repo_url=? AND agent_role=? AND agent_id=?`,
		key.Repo, key.Role, key.ID,
	); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}

	for _, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (repo_url, agent_role, agent_id, turn_idx, total_char_count, finalized, invocation_reason, turns_to_purge)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			key.Repo, key.Role, key.ID, t.Index, t.TotalChars, boolToInt(t.Finalized), t.InvocationReason, t.TurnsToPurge,
		); err != nil {
			return fmt.Errorf("insert turn %d: %w", t.Index, err)
		}
		if m := t.Tool; m != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tool_meta (repo_url, agent_role, agent_id, turn_idx, tool_name, execution_time,
					pending_deletion, deleted, rejection, status, args_hash, preservation_policy,
					normalized_args_json, normalized_filename, input_args_json)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				key.Repo, key.Role, key.ID, t.Index, m.Name, m.ExecutionTime,
				boolToInt(m.PendingDeletion), boolToInt(m.Deleted), m.Rejection, string(m.Status), m.ArgsHash,
				string(m.Policy), m.NormalizedArgs, m.NormalizedFilename, m.InputArgs,
			); err != nil {
				return fmt.Errorf("insert tool meta %d: %w", t.Index, err)
			}
		}
		for _, msg := range t.Messages {
			var rawJSON *string
			if len(msg.Extra) > 0 {
				data, _ := json.Marshal(msg.Extra)
				v := string(data)
				rawJSON = &v
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (repo_url, agent_role, agent_id, turn_idx, message_idx, role, content,
					timestamp, original_message_id, char_count, raw_json)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				key.Repo, key.Role, key.ID, t.Index, msg.Index, string(msg.Role), msg.Content,
				msg.Timestamp, msg.OriginalID, msg.CharCount, rawJSON,
			); err != nil {
				return fmt.Errorf("insert message %d/%d: %w", t.Index, msg.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteConversation cascades all conversation rows and resets both
// counters. The agents_running registry row is untouched here.
func (s *Store) DeleteConversation(ctx context.Context, key colony.AgentKey) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete conversation", "agent", key.String())

	err := s.withBusyRetry(ctx, "delete conversation", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for _, stmt := range []string{
			`DELETE FROM turns WHERE repo_url=? AND agent_role=? AND agent_id=?`,
			`DELETE FROM agent_state WHERE repo_url=? AND agent_role=? AND agent_id=?`,
			`DELETE FROM conversation_metadata WHERE repo_url=? AND agent_role=? AND agent_id=?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, key.Repo, key.Role, key.ID); err != nil {
				return fmt.Errorf("delete conversation: %w", err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		s.logger.Error("sqlite: delete conversation failed", "agent", key.String(), "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("sqlite: delete conversation ok", "agent", key.String(), "duration", time.Since(start))
	return nil
}

// TurnsMetadata returns the conversation metadata blob, empty when absent.
func (s *Store) TurnsMetadata(ctx context.Context, key colony.AgentKey) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM conversation_metadata WHERE repo_url=? AND agent_role=? AND agent_id=?`,
		key.Repo, key.Role, key.ID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		s.logger.Error("sqlite: get metadata failed", "agent", key.String(), "error", err)
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// UpdateTurnsMetadata merges the patch into the conversation metadata blob.
func (s *Store) UpdateTurnsMetadata(ctx context.Context, key colony.AgentKey, patch map[string]any) error {
	start := time.Now()
	s.logger.Debug("sqlite: update metadata", "agent", key.String(), "keys", len(patch))

	err := s.withBusyRetry(ctx, "update metadata", func() error {
		meta, err := s.TurnsMetadata(ctx, key)
		if err != nil {
			return err
		}
		for k, v := range patch {
			meta[k] = v
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO conversation_metadata (repo_url, agent_role, agent_id, metadata) VALUES (?, ?, ?, ?)
			 ON CONFLICT(repo_url, agent_role, agent_id) DO UPDATE SET metadata=excluded.metadata`,
			key.Repo, key.Role, key.ID, string(data),
		)
		if err != nil {
			return fmt.Errorf("update metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("sqlite: update metadata failed", "agent", key.String(), "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("sqlite: update metadata ok", "agent", key.String(), "duration", time.Since(start))
	return nil
}

// RegisterAgent inserts the agents_running row. Registering an existing key
// is a no-op.
func (s *Store) RegisterAgent(ctx context.Context, rec colony.AgentRecord) error {
	err := s.withBusyRetry(ctx, "register agent", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO agents_running (agent_role, agent_id, repo_url, created_at) VALUES (?, ?, ?, ?)`,
			rec.Key.Role, rec.Key.ID, rec.Key.Repo, rec.CreatedAt,
		)
		return err
	})
	if err != nil {
		s.logger.Error("sqlite: register agent failed", "agent", rec.Key.String(), "error", err)
		return fmt.Errorf("register agent: %w", err)
	}
	s.logger.Debug("sqlite: register agent ok", "agent", rec.Key.String())
	return nil
}

// ListAgents returns registered agents, oldest first, optionally filtered
// by repo.
func (s *Store) ListAgents(ctx context.Context, repo string) ([]colony.AgentRecord, error) {
	start := time.Now()
	query := `SELECT agent_role, agent_id, repo_url, created_at FROM agents_running`
	var args []any
	if repo != "" {
		query += ` WHERE repo_url=?`
		args = append(args, repo)
	}
	query += ` ORDER BY created_at ASC, agent_role ASC, agent_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list agents failed", "repo", repo, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var recs []colony.AgentRecord
	for rows.Next() {
		var rec colony.AgentRecord
		if err := rows.Scan(&rec.Key.Role, &rec.Key.ID, &rec.Key.Repo, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	s.logger.Debug("sqlite: list agents ok", "repo", repo, "count", len(recs), "duration", time.Since(start))
	return recs, nil
}

// RemoveAgent deletes the registry row. Absent keys yield ErrNotFound.
func (s *Store) RemoveAgent(ctx context.Context, key colony.AgentKey) error {
	var affected int64
	err := s.withBusyRetry(ctx, "remove agent", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM agents_running WHERE agent_role=? AND agent_id=? AND repo_url=?`,
			key.Role, key.ID, key.Repo,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.logger.Error("sqlite: remove agent failed", "agent", key.String(), "error", err)
		return fmt.Errorf("remove agent: %w", err)
	}
	if affected == 0 {
		return &colony.ErrNotFound{Kind: "agent", Key: key.String()}
	}
	s.logger.Debug("sqlite: remove agent ok", "agent", key.String())
	return nil
}

// --- row scanning ---

func scanTurns(rows *sql.Rows) ([]colony.Turn, error) {
	defer rows.Close()
	var turns []colony.Turn
	for rows.Next() {
		var t colony.Turn
		var finalized int
		if err := rows.Scan(&t.Index, &t.TotalChars, &finalized, &t.InvocationReason, &t.TurnsToPurge); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Finalized = finalized != 0
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_idx, tool_name, execution_time, pending_deletion, deleted, rejection, status,
			args_hash, preservation_policy, normalized_args_json, normalized_filename, input_args_json
		 FROM tool_meta
		 WHERE repo_url=? AND agent_role=? AND agent_id=?`,
		key.Repo, key.Role, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("load tool meta: %w", err)
	}
	defer rows.Close()

	metas := map[int]*colony.ToolMeta{}
	for rows.Next() {
		var (
			idx                      int
			m                        colony.ToolMeta
			pendingDeletion, deleted int
			status, policy           string
		)
		if err := rows.Scan(&idx, &m.Name, &m.ExecutionTime, &pendingDeletion, &deleted, &m.Rejection,
			&status, &m.ArgsHash, &policy, &m.NormalizedArgs, &m.NormalizedFilename, &m.InputArgs); err != nil {
			return nil, fmt.Errorf("scan tool meta: %w", err)
		}
		m.PendingDeletion = pendingDeletion != 0
		m.Deleted = deleted != 0
		m.Status = colony.ToolStatus(status)
		m.Policy = colony.Policy(policy)
		metas[idx] = &m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool meta: %w", err)
	}
	return metas, nil
}

func (s *Store) loadMessages(ctx context.Context, key colony.AgentKey) (map[int][]colony.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_idx, message_idx, role, content, timestamp, original_message_id, char_count, raw_json
		 FROM messages
		 WHERE repo_url=? AND agent_role=? AND agent_id=?
		 ORDER BY turn_idx ASC, message_idx ASC`,
		key.Repo, key.Role, key.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	msgs := map[int][]colony.Message{}
	for rows.Next() {
		var (
			idx     int
			m       colony.Message
			role    string
			rawJSON sql.NullString
		)
		if err := rows.Scan(&idx, &m.Index, &role, &m.Content, &m.Timestamp, &m.OriginalID, &m.CharCount, &rawJSON); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = colony.MessageRole(role)
		if rawJSON.Valid && rawJSON.String != "" {
			_ = json.Unmarshal([]byte(rawJSON.String), &m.Extra)
		}
		msgs[idx] = append(msgs[idx], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
