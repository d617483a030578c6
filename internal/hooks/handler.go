// Package hooks bridges agent-host lifecycle hooks to the ledger and the
// session record: context injection at start, associative recall on each
// prompt, and sub-agent tracking so a crash can report lost work.
package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

// Memory is what the hooks need from a backend. Both the daemon client and
// the local file backend satisfy it.
type Memory interface {
	Context() (string, error)
	Resume() (session.Report, error)
	Associate(text string) ([]ledger.Association, error)
	Agent(id, name, task string, status session.AgentStatus) error
	AgentDone(id, result string) error
}

// Events handled by Handle.
const (
	EventStart   = "start"
	EventSubmit  = "submit"
	EventPreTool = "pretool"
	EventTool    = "tool"
)

const maxResultLen = 200

// Handle reads HookInput from stdin and dispatches on event. Only start and
// submit write to stdout. An empty stdin is tolerated for start.
func Handle(event string, stdin io.Reader, stdout io.Writer, mem Memory) error {
	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil && !(errors.Is(err, io.EOF) && event == EventStart) {
		return fmt.Errorf("decode stdin: %w", err)
	}

	switch event {
	case EventStart:
		return handleStart(mem, stdout)
	case EventSubmit:
		return handleSubmit(mem, &input, stdout)
	case EventPreTool:
		return handlePreTool(mem, &input)
	case EventTool:
		return handleTool(mem, &input)
	default:
		return fmt.Errorf("unknown hook event: %s", event)
	}
}

func handleStart(mem Memory, stdout io.Writer) error {
	ctx, err := mem.Context()
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(ctx)

	if r, err := mem.Resume(); err == nil {
		fmt.Fprintf(&b, "\n\nResume: %s (%s)", r.Verdict, r.Reason)
		for _, rec := range r.Recommendations {
			b.WriteString("\n- " + rec)
		}
	}
	return WriteOutput(stdout, "SessionStart", b.String())
}

func handleSubmit(mem Memory, input *HookInput, stdout io.Writer) error {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil
	}
	hits, err := mem.Associate(input.Prompt)
	if err != nil || len(hits) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString("Related facts:")
	for _, h := range hits {
		fmt.Fprintf(&b, "\n- [%s] %s (%d%%)", h.Topic, h.Fact.Text, h.Fact.Confidence)
	}
	return WriteOutput(stdout, "UserPromptSubmit", b.String())
}

func handlePreTool(mem Memory, input *HookInput) error {
	if !input.IsAgentLaunch() {
		return nil
	}
	a := input.agent()
	return mem.Agent(input.ToolUseID, a.SubagentType, a.Description, session.AgentActive)
}

func handleTool(mem Memory, input *HookInput) error {
	if !input.IsAgentLaunch() {
		return nil
	}
	return mem.AgentDone(input.ToolUseID, truncate(string(input.ToolResponse), maxResultLen))
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
