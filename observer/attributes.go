package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for colony observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrToolName      = attribute.Key("tool.name")
	AttrToolStatus    = attribute.Key("tool.status")
	AttrToolErrorCode = attribute.Key("tool.error_code")
	AttrToolTurn      = attribute.Key("tool.turn_idx")
	AttrToolRepo      = attribute.Key("tool.repo_url")

	AttrAgentRole       = attribute.Key("agent.role")
	AttrAgentID         = attribute.Key("agent.id")
	AttrAgentRepo       = attribute.Key("agent.repo_url")
	AttrAgentStatus     = attribute.Key("agent.status")
	AttrAgentIterations = attribute.Key("agent.iterations")
)
