package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

func intp(n int) *int { return &n }

func TestLearnAndRecall(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/learn", LearnRequest{
		Topic:      "TCP",
		Fact:       "RFC 793 defines TCP",
		Confidence: intp(95),
		Source:     strp("RFC 793"),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[ledger.LearnResult](t, w)
	assert.Equal(t, ledger.Added, res.Outcome)
	assert.Equal(t, "tcp", res.Topic)
	assert.Equal(t, 20, res.XPGained)

	do(t, srv, "POST", "/api/learn", LearnRequest{Topic: "tcp", Fact: "segments carry sequence numbers", Confidence: intp(60)})

	w = do(t, srv, "GET", "/api/recall?topic=tcp&min=70", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeBody[[]ledger.Entry](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "RFC 793 defines TCP", entries[0].Fact.Text)
	assert.Equal(t, 1, entries[0].Fact.RecallCount)
	assert.Equal(t, "tcp", entries[0].Topic)

	w = do(t, srv, "GET", "/api/recall?topic=%20TCP%20&min=70", nil)
	entries = decodeBody[[]ledger.Entry](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, "tcp", entries[0].Topic, "entries carry the stored topic")

	w = do(t, srv, "GET", "/api/recall", nil)
	assert.Len(t, decodeBody[[]ledger.Entry](t, w), 2)
}

func strp(s string) *string { return &s }

func TestLearnRejectsBadInput(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing topic", LearnRequest{Fact: "x"}},
		{"blank fact", LearnRequest{Topic: "t", Fact: "  "}},
		{"confidence too high", LearnRequest{Topic: "t", Fact: "x", Confidence: intp(101)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, "POST", "/api/learn", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decodeBody[map[string]string](t, w)["error"])
		})
	}

	w := doRaw(srv, "POST", "/api/learn", strings.NewReader("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecallRejectsBadQuery(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv, "GET", "/api/recall?topic=x&limit=lots", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyAndForget(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/learn", LearnRequest{Topic: "dns", Fact: "port 53 over UDP", Confidence: intp(70)})

	w := do(t, srv, "POST", "/api/verify", MatchRequest{Topic: "dns", Fact: "PORT 53"})
	require.Equal(t, http.StatusOK, w.Code)
	f := decodeBody[ledger.Fact](t, w)
	assert.True(t, f.Verified)

	w = do(t, srv, "POST", "/api/verify", MatchRequest{Topic: "dns", Fact: "tcp fallback"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, "POST", "/api/forget", MatchRequest{Topic: "dns", Fact: "port 53"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/stats", nil)
	assert.Equal(t, 0, decodeBody[ledger.Stats](t, w).Facts)
}

func TestSearchAndStats(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/learn", LearnRequest{Topic: "http", Fact: "HTTP/2 multiplexes streams"})
	do(t, srv, "POST", "/api/learn", LearnRequest{Topic: "quic", Fact: "runs over UDP"})

	w := do(t, srv, "GET", "/api/search?q=multiplex", nil)
	hits := decodeBody[[]ledger.Entry](t, w)
	require.Len(t, hits, 1)
	assert.Equal(t, "http", hits[0].Topic)

	w = do(t, srv, "GET", "/api/stats", nil)
	st := decodeBody[ledger.Stats](t, w)
	assert.Equal(t, 2, st.Facts)
	assert.Equal(t, 2, st.Topics)
	assert.Equal(t, 20, st.XP)

	w = do(t, srv, "GET", "/api/level", nil)
	assert.Equal(t, "Blank Slate", decodeBody[ledger.LevelInfo](t, w).Title)
}

func TestTemperatureRoutes(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/learn", LearnRequest{Topic: "cache", Fact: "LRU evicts least recently used"})

	w := do(t, srv, "GET", "/api/heatmap", nil)
	heat := decodeBody[[]ledger.TopicHeat](t, w)
	require.Len(t, heat, 1)
	assert.Equal(t, "cache", heat[0].Topic)

	w = do(t, srv, "GET", "/api/coldspots?threshold=100", nil)
	assert.Len(t, decodeBody[[]ledger.ColdSpot](t, w), 1)

	w = do(t, srv, "GET", "/api/coldspots?threshold=warm", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/warmup", map[string]string{"topic": "cache"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "POST", "/api/warmup", map[string]string{"topic": "nothing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssociateAndMuse(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/learn", LearnRequest{Topic: "kafka", Fact: "partitions preserve ordering per key"})

	w := do(t, srv, "POST", "/api/associate", map[string]string{"text": "why does kafka lose ordering"})
	require.Equal(t, http.StatusOK, w.Code)
	hits := decodeBody[[]ledger.Association](t, w)
	require.NotEmpty(t, hits)
	assert.Equal(t, "kafka", hits[0].Topic)

	w = do(t, srv, "POST", "/api/muse", MuseRequest{Note: "maybe batch writes", Tags: []string{"idea"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/musings?tag=idea", nil)
	notes := decodeBody[[]ledger.SoftNote](t, w)
	require.Len(t, notes, 1)

	w = do(t, srv, "POST", "/api/muse", MuseRequest{Note: " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanLifecycle(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/plan", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, "POST", "/api/checkpoint", CheckpointRequest{Objective: "build", Status: session.Completed})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, "POST", "/api/plan", PlanRequest{Name: "deploy", Objectives: []string{"build", "test", "push"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "POST", "/api/checkpoint", CheckpointRequest{Objective: "build", Status: session.Completed})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, "POST", "/api/checkpoint", CheckpointRequest{Objective: "test", Data: []byte(`{"suite":"unit"}`)})
	require.Equal(t, http.StatusOK, w.Code)
	p := decodeBody[session.Plan](t, w)
	require.Len(t, p.Objectives, 3)
	assert.Equal(t, session.InProgress, p.Objectives[1].Status)
	assert.JSONEq(t, `{"suite":"unit"}`, string(p.Objectives[1].Data))

	w = do(t, srv, "POST", "/api/checkpoint", CheckpointRequest{Objective: "push", Status: "exploded"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "GET", "/api/session", nil)
	sum := decodeBody[session.Summary](t, w)
	assert.Equal(t, 1, sum.Done)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, []string{"test"}, sum.DirtyFlags)

	w = do(t, srv, "POST", "/api/plan/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[session.Plan](t, w).Completed)
}

func TestAgentsAndResume(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/agents", AgentRequest{Name: "nameless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/agents", AgentRequest{ID: "a1", Name: "scout", Task: "map the repo"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, "POST", "/api/agents", AgentRequest{ID: "a2", Name: "fixer", Task: "patch"})
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, srv, "POST", "/api/agents/a2/done", map[string]string{"result": "patched"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rep := decodeBody[session.Report](t, w)
	require.Len(t, rep.LostAgents, 1)
	assert.Equal(t, "a1", rep.LostAgents[0].ID)
}

func TestGetContext(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/learn", LearnRequest{Topic: "tcp", Fact: "RFC 793 defines TCP", Verified: true})
	do(t, srv, "POST", "/api/plan", PlanRequest{Name: "deploy", Objectives: []string{"build"}})

	w := do(t, srv, "GET", "/api/context", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ctx := decodeBody[map[string]string](t, w)["context"]
	assert.True(t, strings.HasPrefix(ctx, "<context>"))
	assert.Contains(t, ctx, "- [tcp] RFC 793 defines TCP (80% ✓)")
	assert.Contains(t, ctx, "### Active Plan: deploy")
	assert.Contains(t, ctx, "- [pending] build")
}

func TestFactScore(t *testing.T) {
	assert.Equal(t, 80.0, factScore(ledger.Fact{Confidence: 80}))
	assert.Equal(t, 80.0, factScore(ledger.Fact{Confidence: 80, RecallCount: 1}))
	assert.Equal(t, 240.0, factScore(ledger.Fact{Confidence: 80, RecallCount: 4}))
}
