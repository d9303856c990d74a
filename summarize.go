package colony

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const defaultSummaryThreshold = 20

// summaryPrefix marks a compaction turn so later passes and readers can
// tell it apart from an ordinary user message.
const summaryPrefix = "[Summary of earlier turns]\n"

const summarySystemPrompt = "You condense agent conversation history. " +
	"Summarize the following turns concisely, preserving key facts, decisions, " +
	`file paths, and errors. Respond with a json object of the form {"summary": "..."}.`

// Summarizer keeps the outbound history bounded. When the number of body
// turns (everything after turn-zero) exceeds the threshold, the oldest ones
// are folded into a single user turn and the conversation is re-persisted as
// [turn-zero, summary, last N]. Counters are untouched; they track the
// highest allocated value, not the present length.
type Summarizer struct {
	store     ConversationStore
	model     Model
	modelName string
	threshold int
	logger    *slog.Logger
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// SummarizerLogger sets the structured logger.
func SummarizerLogger(l *slog.Logger) SummarizerOption {
	return func(s *Summarizer) { s.logger = l }
}

// SummarizerModel names the model used for the summarisation call.
func SummarizerModel(name string) SummarizerOption {
	return func(s *Summarizer) { s.modelName = name }
}

// NewSummarizer returns a Summarizer over store and model keeping at most
// threshold body turns. A non-positive threshold selects the default.
func NewSummarizer(store ConversationStore, model Model, threshold int, opts ...SummarizerOption) *Summarizer {
	if threshold <= 0 {
		threshold = defaultSummaryThreshold
	}
	s := &Summarizer{store: store, model: model, threshold: threshold, logger: nopLogger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compact folds history over the threshold into a summary turn. Any model,
// parse, or storage failure leaves the history unchanged; compaction is
// opportunistic and the loop proceeds either way.
func (s *Summarizer) Compact(ctx context.Context, key AgentKey) {
	turns, err := s.store.LoadTurns(ctx, key)
	if err != nil {
		s.logger.Warn("summary skipped, load failed", "agent", key.String(), "error", err)
		return
	}
	if len(turns) == 0 || len(turns)-1 <= s.threshold {
		return
	}

	zero := turns[0]
	body := turns[1:]
	keep := body[len(body)-s.threshold:]
	pruned := body[:len(body)-s.threshold]

	text, err := s.summarize(ctx, pruned)
	if err != nil {
		s.logger.Warn("summary failed, history unchanged", "agent", key.String(), "error", err)
		return
	}

	id, err := s.store.NextMessageID(ctx, key)
	if err != nil {
		s.logger.Warn("summary failed, history unchanged", "agent", key.String(), "error", err)
		return
	}
	content := summaryPrefix + text
	summary := Turn{
		TotalChars: charCount(content),
		Messages: []Message{{
			Role:       RoleUser,
			Content:    content,
			Timestamp:  NowUnix(),
			OriginalID: id,
			CharCount:  charCount(content),
		}},
	}

	// Rebuild as [turn-zero, summary, last N], re-indexed 0..M-1.
	next := make([]Turn, 0, len(keep)+2)
	next = append(next, zero, summary)
	next = append(next, keep...)
	for i := range next {
		next[i].Index = i
	}

	if err := s.store.SaveTurns(ctx, key, next); err != nil {
		s.logger.Warn("summary failed, history unchanged", "agent", key.String(), "error", err)
		return
	}
	s.logger.Info("history compacted", "agent", key.String(),
		"turns_before", len(turns), "turns_after", len(next), "pruned", len(pruned))
}

// summarize asks the model for a JSON summary of the pruned turns and falls
// back to the raw response text when the envelope does not parse.
func (s *Summarizer) summarize(ctx context.Context, pruned []Turn) (string, error) {
	var b strings.Builder
	for _, t := range pruned {
		for _, m := range t.Messages {
			if m.Role != RoleAssistant && m.Role != RoleTool {
				continue
			}
			fmt.Fprintf(&b, "[turn %d][%s]: %s\n", t.Index, m.Role, m.Content)
		}
	}
	resp, err := s.model.Chat(ctx, ChatRequest{
		Model: s.modelName,
		Messages: []ChatMessage{
			SystemMessage(summarySystemPrompt),
			UserMessage(b.String()),
		},
		JSONOnly: true,
	})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err == nil && parsed.Summary != "" {
		return parsed.Summary, nil
	}
	return resp.Content, nil
}
