package colony

import (
	"errors"
	"testing"
	"time"
)

func TestErrValidationError(t *testing.T) {
	tests := []struct {
		field  string
		reason string
		want   string
	}{
		{"user_prompt", "must not be empty", "invalid user_prompt: must not be empty"},
		{"role", `unknown role "boss"`, `invalid role: unknown role "boss"`},
	}
	for _, tt := range tests {
		e := &ErrValidation{Field: tt.field, Reason: tt.reason}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrValidation{%q, %q}.Error() = %q, want %q", tt.field, tt.reason, got, tt.want)
		}
	}
}

func TestErrNotFoundError(t *testing.T) {
	e := &ErrNotFound{Kind: "agent", Key: "planner/p1@repo"}
	if got := e.Error(); got != "agent not found: planner/p1@repo" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "internal server error", "http 500: internal server error"},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrHTTP{%d, %q}.Error() = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestErrModelError(t *testing.T) {
	e := &ErrModel{Provider: "openai", Message: "malformed completion"}
	if got := e.Error(); got != "openai: malformed completion" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrAgentBusyError(t *testing.T) {
	key := AgentKey{Role: "builder", ID: "b1", Repo: testRepo}
	e := &ErrAgentBusy{Key: key}
	want := "Cannot remove agent still in call-stack: builder/b1@" + testRepo
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrStorageUnwrap(t *testing.T) {
	inner := errors.New("database is locked")
	e := &ErrStorage{Op: "save_turns", Retryable: true, Err: inner}
	if !errors.Is(e, inner) {
		t.Error("ErrStorage should unwrap to its cause")
	}
	if got := e.Error(); got != "storage save_turns: database is locked" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrBusUnwrap(t *testing.T) {
	inner := errors.New("no responders")
	e := &ErrBus{Op: "request", Err: inner}
	if !errors.Is(e, inner) {
		t.Error("ErrBus should unwrap to its cause")
	}
	if got := e.Error(); got != "bus request: no responders" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"120", 120 * time.Second},
		{"0", 0},
		{"", 0},
		{"-5", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second).UTC().Format(time.RFC1123)
	got := ParseRetryAfter(future)
	if got <= 0 || got > 91*time.Second {
		t.Errorf("ParseRetryAfter(%q) = %v, want roughly 90s", future, got)
	}

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC1123)
	if got := ParseRetryAfter(past); got != 0 {
		t.Errorf("ParseRetryAfter(past) = %v, want 0", got)
	}
}
