package hooks

import (
	"encoding/json"
	"io"
)

// Output is the JSON structure the agent host expects on stdout from hooks
// that inject context.
type Output struct {
	HookSpecificOutput struct {
		HookEventName     string `json:"hookEventName"`
		AdditionalContext string `json:"additionalContext"`
	} `json:"hookSpecificOutput"`
}

// WriteOutput writes a context-injection response for eventName.
func WriteOutput(w io.Writer, eventName, context string) error {
	out := Output{}
	out.HookSpecificOutput.HookEventName = eventName
	out.HookSpecificOutput.AdditionalContext = context
	return json.NewEncoder(w).Encode(out)
}
