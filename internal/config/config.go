// Package config loads daemon configuration: defaults, then a TOML file,
// then environment variables (env wins).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Registry RegistryConfig `toml:"registry"`
	NATS     NATSConfig     `toml:"nats"`
	LLM      LLMConfig      `toml:"llm"`
	Engine   EngineConfig   `toml:"engine"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Summary  SummaryConfig  `toml:"summary"`
	Observer ObserverConfig `toml:"observer"`
}

type DatabaseConfig struct {
	// Driver selects the store backend: "sqlite" (default) or "postgres".
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

type RegistryConfig struct {
	URL      string   `toml:"url"`
	CacheTTL Duration `toml:"cache_ttl"`
}

type NATSConfig struct {
	URL               string   `toml:"url"`
	SubjectExecReq    string   `toml:"subject_exec_req"`
	SubjectExecResp   string   `toml:"subject_exec_resp"`
	StreamExecReq     string   `toml:"stream_exec_req"`
	PublishAckTimeout Duration `toml:"publish_ack_timeout"`
	AckWait           Duration `toml:"ack_wait"`
	ConsumerName      string   `toml:"consumer_name"`
	Workers           int      `toml:"workers"`
}

type LLMConfig struct {
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	Model        string `toml:"model"`
	SystemPrompt string `toml:"system_prompt"`
	ToolChoice   string `toml:"tool_choice"`
}

type EngineConfig struct {
	TurnExecTimeout Duration `toml:"turn_exec_timeout"`
	MaxIterations   int      `toml:"max_iterations"`
}

type RuntimeConfig struct {
	MaxTaskThreads int `toml:"max_task_threads"`
}

type SummaryConfig struct {
	TurnThreshold int    `toml:"turn_threshold"`
	Model         string `toml:"model"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Duration parses TOML and env values in time.ParseDuration form ("5s", "2m").
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite", Path: "agents.db"},
		Registry: RegistryConfig{URL: "http://localhost:8080", CacheTTL: Duration{5 * time.Minute}},
		NATS: NATSConfig{
			URL:               "nats://127.0.0.1:4222",
			SubjectExecReq:    "EXEC_REQ",
			SubjectExecResp:   "EXEC_RESP",
			StreamExecReq:     "EXEC_REQ",
			PublishAckTimeout: Duration{5 * time.Second},
			AckWait:           Duration{30 * time.Second},
			ConsumerName:      "exec-workers",
			Workers:           8,
		},
		LLM:     LLMConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		Engine:  EngineConfig{TurnExecTimeout: Duration{2 * time.Minute}, MaxIterations: 30},
		Runtime: RuntimeConfig{MaxTaskThreads: 8},
		Summary: SummaryConfig{TurnThreshold: 20},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "colony.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("AGENTS_DB_FILE"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("AGENT_MANAGER_API_URL"); v != "" {
		cfg.Registry.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("NATS_SUBJECT_EXEC_REQ"); v != "" {
		cfg.NATS.SubjectExecReq = v
	}
	if v := os.Getenv("NATS_SUBJECT_EXEC_RESP"); v != "" {
		cfg.NATS.SubjectExecResp = v
	}
	if v := os.Getenv("NATS_STREAM_EXEC_REQ"); v != "" {
		cfg.NATS.StreamExecReq = v
	}
	if v := envDuration("NATS_PUBLISH_ACK_TIMEOUT"); v > 0 {
		cfg.NATS.PublishAckTimeout = Duration{v}
	}
	if v := envDuration("NATS_ACK_WAIT"); v > 0 {
		cfg.NATS.AckWait = Duration{v}
	}
	if v := os.Getenv("NATS_CONSUMER_NAME"); v != "" {
		cfg.NATS.ConsumerName = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_SYSTEM_PROMPT"); v != "" {
		cfg.LLM.SystemPrompt = v
	}
	if v := os.Getenv("TOOL_CHOICE"); v != "" {
		cfg.LLM.ToolChoice = v
	}
	if v := envInt("MAX_AGENT_TASK_THREADS"); v > 0 {
		cfg.Runtime.MaxTaskThreads = v
	}
	if v := envDuration("TURN_EXEC_TIMEOUT"); v > 0 {
		cfg.Engine.TurnExecTimeout = Duration{v}
	}
	if v := envInt("MAX_ITERATIONS"); v > 0 {
		cfg.Engine.MaxIterations = v
	}
	if v := envInt("SUMMARY_TURN_THRESHOLD"); v > 0 {
		cfg.Summary.TurnThreshold = v
	}
	if v := os.Getenv("SUMMARY_MODEL"); v != "" {
		cfg.Summary.Model = v
	}
	if os.Getenv("OBSERVER_ENABLED") == "true" || os.Getenv("OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Summary.Model == "" {
		cfg.Summary.Model = cfg.LLM.Model
	}

	return cfg
}

// envDuration parses a duration env var, also accepting a bare number of
// seconds for compatibility with older deployments.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
