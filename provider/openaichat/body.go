package openaichat

import (
	"encoding/json"

	"github.com/hivegrid/colony"
)

// BuildBody converts a colony.ChatRequest into the chat completions wire
// format. System and developer messages pass through with their roles
// intact; servers that predate the developer role treat it as system.
// fallbackModel is used when the request names no model.
func BuildBody(req colony.ChatRequest, fallbackModel string) ChatRequest {
	model := req.Model
	if model == "" {
		model = fallbackModel
	}

	var msgs []Message
	for _, m := range req.Messages {
		switch {
		case m.Role == colony.RoleAssistant && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msgs = append(msgs, Message{
				Role:      string(m.Role),
				Content:   m.Content,
				ToolCalls: tcs,
			})

		case m.Role == colony.RoleTool:
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})

		default:
			msgs = append(msgs, Message{
				Role:    string(m.Role),
				Content: m.Content,
			})
		}
	}

	out := ChatRequest{
		Model:           model,
		Messages:        msgs,
		ReasoningEffort: req.Reasoning,
	}
	if len(req.Tools) > 0 {
		out.Tools = BuildToolDefs(req.Tools)
		out.ToolChoice = buildToolChoice(req.ToolChoice)
	}
	if req.JSONOnly {
		out.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return out
}

// buildToolChoice maps the request-level choice to the wire form:
// "auto"/"required"/"none" pass through as strings, anything else is
// treated as a tool name and pinned.
func buildToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case colony.ToolChoiceAuto, colony.ToolChoiceRequired, "none":
		return choice
	default:
		return namedToolChoice{Type: "function", Function: namedToolChoiceName{Name: choice}}
	}
}

// BuildToolDefs converts colony.ToolDefinitions to the OpenAI tool format.
func BuildToolDefs(tools []colony.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
