package openaichat

import (
	"encoding/json"

	"github.com/hivegrid/colony"
)

// ParseResponse converts a chat completions response to a
// colony.ChatResponse. It extracts content, tool calls, and usage from
// choices[0].
func ParseResponse(resp ChatResponse) (colony.ChatResponse, error) {
	var out colony.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = colony.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// ParseToolCalls converts wire tool call requests to colony.ToolCalls.
// The API returns function.arguments as a JSON string; invalid argument
// blobs collapse to {} so a malformed call still round-trips.
func ParseToolCalls(tcs []ToolCallRequest) []colony.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]colony.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, colony.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
