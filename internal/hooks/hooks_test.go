package hooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

type agentCall struct {
	id, name, task string
	status         session.AgentStatus
}

type fakeMemory struct {
	context string
	report  session.Report
	hits    []ledger.Association
	agents  []agentCall
	done    map[string]string
	err     error
}

func (f *fakeMemory) Context() (string, error)        { return f.context, f.err }
func (f *fakeMemory) Resume() (session.Report, error) { return f.report, nil }

func (f *fakeMemory) Associate(text string) ([]ledger.Association, error) {
	return f.hits, f.err
}

func (f *fakeMemory) Agent(id, name, task string, status session.AgentStatus) error {
	f.agents = append(f.agents, agentCall{id, name, task, status})
	return nil
}

func (f *fakeMemory) AgentDone(id, result string) error {
	if f.done == nil {
		f.done = map[string]string{}
	}
	f.done[id] = result
	return nil
}

func decodeOutput(t *testing.T, buf *bytes.Buffer) Output {
	t.Helper()
	var out Output
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out), buf.String())
	return out
}

func TestHandleStartInjectsContextAndVerdict(t *testing.T) {
	mem := &fakeMemory{
		context: "<context>\n## neuraldrift\n</context>",
		report: session.Report{
			Verdict:         session.Partial,
			Reason:          "warm session",
			Recommendations: []string{"next up: push"},
		},
	}
	var out bytes.Buffer
	require.NoError(t, Handle(EventStart, strings.NewReader(`{"session_id":"s1"}`), &out, mem))

	got := decodeOutput(t, &out)
	assert.Equal(t, "SessionStart", got.HookSpecificOutput.HookEventName)
	assert.Contains(t, got.HookSpecificOutput.AdditionalContext, "## neuraldrift")
	assert.Contains(t, got.HookSpecificOutput.AdditionalContext, "Resume: PARTIAL (warm session)")
	assert.Contains(t, got.HookSpecificOutput.AdditionalContext, "- next up: push")
}

func TestHandleStartToleratesEmptyStdin(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Handle(EventStart, strings.NewReader(""), &out, &fakeMemory{context: "<context></context>"}))
	assert.Contains(t, out.String(), "hookSpecificOutput")
}

func TestHandleStartPropagatesBackendError(t *testing.T) {
	var out bytes.Buffer
	err := Handle(EventStart, strings.NewReader("{}"), &out, &fakeMemory{err: errors.New("down")})
	assert.Error(t, err)
	assert.Empty(t, out.String())
}

func TestHandleSubmit(t *testing.T) {
	mem := &fakeMemory{hits: []ledger.Association{{
		Entry: ledger.Entry{Topic: "kafka", Fact: ledger.Fact{Text: "partitions preserve ordering", Confidence: 90}},
		Score: 5.9,
	}}}

	var out bytes.Buffer
	require.NoError(t, Handle(EventSubmit, strings.NewReader(`{"prompt":"kafka ordering?"}`), &out, mem))
	got := decodeOutput(t, &out)
	assert.Equal(t, "UserPromptSubmit", got.HookSpecificOutput.HookEventName)
	assert.Equal(t, "Related facts:\n- [kafka] partitions preserve ordering (90%)", got.HookSpecificOutput.AdditionalContext)
}

func TestHandleSubmitSilentWithoutHits(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Handle(EventSubmit, strings.NewReader(`{"prompt":"hello"}`), &out, &fakeMemory{}))
	assert.Empty(t, out.String())

	require.NoError(t, Handle(EventSubmit, strings.NewReader(`{"prompt":"  "}`), &out, &fakeMemory{}))
	assert.Empty(t, out.String())
}

func TestAgentTracking(t *testing.T) {
	mem := &fakeMemory{}
	pre := `{"tool_name":"Task","tool_use_id":"tu_1","tool_input":{"description":"map the repo","subagent_type":"explorer"}}`
	require.NoError(t, Handle(EventPreTool, strings.NewReader(pre), &bytes.Buffer{}, mem))
	require.Len(t, mem.agents, 1)
	assert.Equal(t, agentCall{"tu_1", "explorer", "map the repo", session.AgentActive}, mem.agents[0])

	long := strings.Repeat("x", 500)
	post := `{"tool_name":"Task","tool_use_id":"tu_1","tool_response":"` + long + `"}`
	require.NoError(t, Handle(EventTool, strings.NewReader(post), &bytes.Buffer{}, mem))
	assert.Len(t, mem.done["tu_1"], maxResultLen+3)
}

func TestNonAgentToolsIgnored(t *testing.T) {
	mem := &fakeMemory{}
	in := `{"tool_name":"Bash","tool_use_id":"tu_2","tool_input":{"command":"ls"}}`
	require.NoError(t, Handle(EventPreTool, strings.NewReader(in), &bytes.Buffer{}, mem))
	require.NoError(t, Handle(EventTool, strings.NewReader(in), &bytes.Buffer{}, mem))
	assert.Empty(t, mem.agents)
	assert.Empty(t, mem.done)
}

func TestHandleRejectsBadInput(t *testing.T) {
	assert.Error(t, Handle(EventSubmit, strings.NewReader("{"), &bytes.Buffer{}, &fakeMemory{}))
	assert.Error(t, Handle("bogus", strings.NewReader("{}"), &bytes.Buffer{}, &fakeMemory{}))
}

func TestAgentResultCutOnRuneBoundary(t *testing.T) {
	mem := &fakeMemory{}
	// The opening quote and the x's fill all but one byte, so the cut lands
	// inside the first "é" and backs off before it.
	result := strings.Repeat("x", maxResultLen-2) + strings.Repeat("é", 10)
	post := `{"tool_name":"Agent","tool_use_id":"tu_3","tool_response":"` + result + `"}`
	require.NoError(t, Handle(EventTool, strings.NewReader(post), &bytes.Buffer{}, mem))

	got := mem.done["tu_3"]
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, `"`+strings.Repeat("x", maxResultLen-2)+"...", got)
}
