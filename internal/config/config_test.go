package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.NATS.SubjectExecReq != "EXEC_REQ" {
		t.Errorf("expected EXEC_REQ, got %s", cfg.NATS.SubjectExecReq)
	}
	if cfg.NATS.PublishAckTimeout.Duration != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.NATS.PublishAckTimeout.Duration)
	}
	if cfg.Engine.MaxIterations != 30 {
		t.Errorf("expected 30, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.Runtime.MaxTaskThreads != 8 {
		t.Errorf("expected 8, got %d", cfg.Runtime.MaxTaskThreads)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[database]
path = "/var/lib/colony/agents.db"

[nats]
url = "nats://nats.internal:4222"
ack_wait = "45s"

[engine]
max_iterations = 12
`), 0644)

	cfg := Load(path)
	if cfg.Database.Path != "/var/lib/colony/agents.db" {
		t.Errorf("expected /var/lib/colony/agents.db, got %s", cfg.Database.Path)
	}
	if cfg.NATS.URL != "nats://nats.internal:4222" {
		t.Errorf("expected nats.internal, got %s", cfg.NATS.URL)
	}
	if cfg.NATS.AckWait.Duration != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.NATS.AckWait.Duration)
	}
	if cfg.Engine.MaxIterations != 12 {
		t.Errorf("expected 12, got %d", cfg.Engine.MaxIterations)
	}
	// Defaults preserved
	if cfg.NATS.ConsumerName != "exec-workers" {
		t.Errorf("default should be preserved, got %s", cfg.NATS.ConsumerName)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AGENTS_DB_FILE", "/tmp/env-agents.db")
	t.Setenv("AGENT_MANAGER_API_URL", "http://registry.internal:9000")
	t.Setenv("NATS_PUBLISH_ACK_TIMEOUT", "10s")
	t.Setenv("MAX_ITERATIONS", "5")
	t.Setenv("TOOL_CHOICE", "required")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Database.Path != "/tmp/env-agents.db" {
		t.Errorf("expected /tmp/env-agents.db, got %s", cfg.Database.Path)
	}
	if cfg.Registry.URL != "http://registry.internal:9000" {
		t.Errorf("expected registry.internal, got %s", cfg.Registry.URL)
	}
	if cfg.NATS.PublishAckTimeout.Duration != 10*time.Second {
		t.Errorf("expected 10s, got %v", cfg.NATS.PublishAckTimeout.Duration)
	}
	if cfg.Engine.MaxIterations != 5 {
		t.Errorf("expected 5, got %d", cfg.Engine.MaxIterations)
	}
	if cfg.LLM.ToolChoice != "required" {
		t.Errorf("expected required, got %s", cfg.LLM.ToolChoice)
	}
}

func TestEnvOverrideBeatsTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[database]
path = "from-toml.db"
`), 0644)
	t.Setenv("AGENTS_DB_FILE", "from-env.db")

	cfg := Load(path)
	if cfg.Database.Path != "from-env.db" {
		t.Errorf("env should win over TOML, got %s", cfg.Database.Path)
	}
}

func TestDurationSeconds(t *testing.T) {
	// Bare numbers are read as seconds.
	t.Setenv("TURN_EXEC_TIMEOUT", "90")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Engine.TurnExecTimeout.Duration != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.Engine.TurnExecTimeout.Duration)
	}
}

func TestSummaryModelFallback(t *testing.T) {
	t.Setenv("LLM_MODEL", "gpt-4.1")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Summary.Model != "gpt-4.1" {
		t.Errorf("summary model should fall back to llm model, got %s", cfg.Summary.Model)
	}

	t.Setenv("SUMMARY_MODEL", "gpt-4o-mini")
	cfg = Load("/nonexistent/path.toml")
	if cfg.Summary.Model != "gpt-4o-mini" {
		t.Errorf("expected gpt-4o-mini, got %s", cfg.Summary.Model)
	}
}
