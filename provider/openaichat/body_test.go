package openaichat

import (
	"encoding/json"
	"testing"

	"github.com/hivegrid/colony"
)

func TestBuildBody_Roles(t *testing.T) {
	req := colony.ChatRequest{
		Model: "gpt-4o",
		Messages: []colony.ChatMessage{
			colony.SystemMessage("be terse"),
			colony.DeveloperMessage("you are a coder"),
			colony.UserMessage("fix the build"),
			colony.AssistantMessage("done"),
		},
	}
	body := BuildBody(req, "")

	if body.Model != "gpt-4o" {
		t.Errorf("model = %q", body.Model)
	}
	want := []string{"system", "developer", "user", "assistant"}
	if len(body.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(body.Messages))
	}
	for i, role := range want {
		if body.Messages[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, body.Messages[i].Role, role)
		}
	}
}

func TestBuildBody_FallbackModel(t *testing.T) {
	body := BuildBody(colony.ChatRequest{Messages: []colony.ChatMessage{colony.UserMessage("hi")}}, "gpt-4o-mini")
	if body.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want fallback", body.Model)
	}
}

func TestBuildBody_AssistantToolCalls(t *testing.T) {
	req := colony.ChatRequest{
		Messages: []colony.ChatMessage{
			{
				Role:    colony.RoleAssistant,
				Content: "working on it",
				ToolCalls: []colony.ToolCall{
					{ID: "call_1", Name: "write_file", Args: json.RawMessage(`{"path":"a.go"}`)},
				},
			},
			colony.ToolResultMessage("call_1", "ok"),
		},
	}
	body := BuildBody(req, "m")

	if len(body.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(body.Messages))
	}
	am := body.Messages[0]
	if len(am.ToolCalls) != 1 || am.ToolCalls[0].ID != "call_1" || am.ToolCalls[0].Type != "function" {
		t.Errorf("assistant tool calls = %+v", am.ToolCalls)
	}
	if am.ToolCalls[0].Function.Arguments != `{"path":"a.go"}` {
		t.Errorf("arguments = %q", am.ToolCalls[0].Function.Arguments)
	}
	tm := body.Messages[1]
	if tm.Role != "tool" || tm.ToolCallID != "call_1" || tm.Content != "ok" {
		t.Errorf("tool message = %+v", tm)
	}
}

func TestBuildBody_Tools(t *testing.T) {
	req := colony.ChatRequest{
		Messages: []colony.ChatMessage{colony.UserMessage("hi")},
		Tools: []colony.ToolDefinition{
			{Name: "echo", Description: "echoes", Parameters: json.RawMessage(`{"type":"object"}`)},
			{Name: "noargs"},
		},
		ToolChoice: colony.ToolChoiceAuto,
	}
	body := BuildBody(req, "m")

	if len(body.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(body.Tools))
	}
	if body.Tools[0].Type != "function" || body.Tools[0].Function.Name != "echo" {
		t.Errorf("tool 0 = %+v", body.Tools[0])
	}
	// Empty parameters become an empty object, never null.
	if string(body.Tools[1].Function.Parameters) != `{}` {
		t.Errorf("noargs parameters = %s", body.Tools[1].Function.Parameters)
	}
	if body.ToolChoice != "auto" {
		t.Errorf("tool_choice = %v", body.ToolChoice)
	}
}

func TestBuildBody_NamedToolChoice(t *testing.T) {
	req := colony.ChatRequest{
		Messages:   []colony.ChatMessage{colony.UserMessage("hi")},
		Tools:      []colony.ToolDefinition{{Name: "echo"}},
		ToolChoice: "echo",
	}
	body := BuildBody(req, "m")

	data, err := json.Marshal(body.ToolChoice)
	if err != nil {
		t.Fatalf("marshal tool_choice: %v", err)
	}
	if string(data) != `{"type":"function","function":{"name":"echo"}}` {
		t.Errorf("tool_choice = %s", data)
	}
}

func TestBuildBody_NoToolsNoChoice(t *testing.T) {
	req := colony.ChatRequest{
		Messages:   []colony.ChatMessage{colony.UserMessage("hi")},
		ToolChoice: colony.ToolChoiceRequired,
	}
	body := BuildBody(req, "m")
	if body.ToolChoice != nil {
		t.Errorf("tool_choice without tools = %v", body.ToolChoice)
	}
}

func TestBuildBody_JSONOnly(t *testing.T) {
	req := colony.ChatRequest{
		Messages: []colony.ChatMessage{colony.UserMessage("summarise")},
		JSONOnly: true,
	}
	body := BuildBody(req, "m")
	if body.ResponseFormat == nil || body.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v", body.ResponseFormat)
	}
}

func TestBuildBody_Reasoning(t *testing.T) {
	req := colony.ChatRequest{
		Messages:  []colony.ChatMessage{colony.UserMessage("think")},
		Reasoning: "high",
	}
	body := BuildBody(req, "m")
	if body.ReasoningEffort != "high" {
		t.Errorf("reasoning_effort = %q", body.ReasoningEffort)
	}
}
