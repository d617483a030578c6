package hooks

import "encoding/json"

// HookInput is the JSON an agent host sends on stdin to hook handlers.
// All fields are optional; different events populate different subsets.
type HookInput struct {
	SessionID     string `json:"session_id"`
	CWD           string `json:"cwd"`
	HookEventName string `json:"hook_event_name"`

	// SessionStart
	Source string `json:"source,omitempty"`

	// UserPromptSubmit
	Prompt string `json:"prompt,omitempty"`

	// PreToolUse / PostToolUse
	ToolName     string          `json:"tool_name,omitempty"`
	ToolUseID    string          `json:"tool_use_id,omitempty"`
	ToolInput    json.RawMessage `json:"tool_input,omitempty"`
	ToolResponse json.RawMessage `json:"tool_response,omitempty"`
}

// agentTools launch sub-agents; their tool-use ID doubles as the agent ID.
var agentTools = map[string]bool{
	"Task":  true,
	"Agent": true,
}

// IsAgentLaunch reports whether the tool call starts a sub-agent.
func (h *HookInput) IsAgentLaunch() bool {
	return agentTools[h.ToolName] && h.ToolUseID != ""
}

// agentInput is the subset of a sub-agent tool call we record.
type agentInput struct {
	Description  string `json:"description"`
	SubagentType string `json:"subagent_type"`
}

func (h *HookInput) agent() agentInput {
	var in agentInput
	json.Unmarshal(h.ToolInput, &in)
	if in.SubagentType == "" {
		in.SubagentType = h.ToolName
	}
	return in
}
