package observability

import "context"

// Context keys for run correlation. The runtime stamps these at the top of
// each turn so every log line and trace span downstream can be tied back
// to the run, message, and tool call that produced it.
const (
	RunIDKey      ContextKey = "run_id"
	ToolCallIDKey ContextKey = "tool_call_id"
	AgentIDKey    ContextKey = "agent_id"
	MessageIDKey  ContextKey = "message_id"
)

// AddRunID stamps the run ID on the context.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID reads the run ID off the context, or "".
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// AddToolCallID stamps the tool call ID on the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

// GetToolCallID reads the tool call ID off the context, or "".
func GetToolCallID(ctx context.Context) string {
	if id, ok := ctx.Value(ToolCallIDKey).(string); ok {
		return id
	}
	return ""
}

// AddAgentID stamps the agent ID on the context.
func AddAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// GetAgentID reads the agent ID off the context, or "".
func GetAgentID(ctx context.Context) string {
	if id, ok := ctx.Value(AgentIDKey).(string); ok {
		return id
	}
	return ""
}

// AddMessageID stamps the message ID on the context.
func AddMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// GetMessageID reads the message ID off the context, or "".
func GetMessageID(ctx context.Context) string {
	if id, ok := ctx.Value(MessageIDKey).(string); ok {
		return id
	}
	return ""
}
