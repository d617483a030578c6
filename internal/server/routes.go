package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/neuraldrift/neuraldrift/internal/journal"
	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, key)
	}
	return n, nil
}

// LearnRequest is the body of POST /api/learn. Nil fields take the ledger
// defaults.
type LearnRequest struct {
	Topic      string  `json:"topic"`
	Fact       string  `json:"fact"`
	Confidence *int    `json:"confidence,omitempty"`
	Source     *string `json:"source,omitempty"`
	Verified   bool    `json:"verified"`
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	var req LearnRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	claim := ledger.NewClaim(req.Topic, req.Fact)
	if req.Confidence != nil {
		claim.Confidence = *req.Confidence
	}
	if req.Source != nil {
		claim.Source = *req.Source
	}
	claim.Verified = req.Verified

	res, err := s.ledger.Learn(claim)
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterWrite()
	s.publish(journal.KindLearned, res.Topic, res)
	if res.LevelUp != nil {
		s.publish(journal.KindLevelUp, "", res.LevelUp)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	minConf, err := queryInt(r, "min")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	opts := ledger.RecallOpts{MinConfidence: minConf, Limit: limit}

	q := r.URL.Query()
	if !q.Has("topic") {
		writeJSON(w, http.StatusOK, s.ledger.RecallAll(opts))
		return
	}
	entries := s.ledger.RecallEntries(q.Get("topic"), opts)
	if len(entries) > 0 {
		s.afterWrite()
		s.publish(journal.KindRecalled, entries[0].Topic, map[string]int{"count": len(entries)})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Search(r.URL.Query().Get("q"), limit))
}

// MatchRequest names a fact by topic and a substring of its text.
type MatchRequest struct {
	Topic      string `json:"topic"`
	Fact       string `json:"fact"`
	Confidence *int   `json:"confidence,omitempty"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.ledger.Verify(req.Topic, req.Fact, req.Confidence)
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterWrite()
	s.publish(journal.KindVerified, req.Topic, f)
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	f, err := s.ledger.Forget(req.Topic, req.Fact)
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterWrite()
	s.publish(journal.KindForgot, req.Topic, f)
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleWarmUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.ledger.WarmUp(req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterWrite()
	s.publish(journal.KindWarmed, res.Topic, res)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	hits := s.ledger.Associate(req.Text)
	if len(hits) > 0 {
		s.afterWrite()
	}
	writeJSON(w, http.StatusOK, hits)
}

// MuseRequest is the body of POST /api/muse.
type MuseRequest struct {
	Note string   `json:"note"`
	Tags []string `json:"tags"`
}

func (s *Server) handleMuse(w http.ResponseWriter, r *http.Request) {
	var req MuseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ev, err := s.ledger.Muse(req.Note, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	s.afterWrite()
	s.publish(journal.KindMused, "", req)
	if ev != nil {
		s.publish(journal.KindLevelUp, "", ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "level_up": ev})
}

func (s *Server) handleMusings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Musings(r.URL.Query().Get("tag")))
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Heatmap())
}

func (s *Server) handleColdSpots(w http.ResponseWriter, r *http.Request) {
	threshold := 0.0
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: threshold must be a number", errBadRequest))
			return
		}
		threshold = f
	}
	writeJSON(w, http.StatusOK, s.ledger.ColdSpots(threshold))
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.LevelInfo())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Stats())
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Topics())
}

// PlanRequest is the body of POST /api/plan.
type PlanRequest struct {
	Name       string   `json:"name"`
	Objectives []string `json:"objectives"`
}

func (s *Server) handlePlanStart(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.session.PlanStart(req.Name, req.Objectives)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(journal.KindPlan, "", p.Summary())
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p := s.session.Plan()
	if p == nil {
		writeError(w, session.ErrNoPlan)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePlanComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.session.PlanComplete(); err != nil {
		writeError(w, err)
		return
	}
	p := s.session.Plan()
	s.publish(journal.KindPlan, "", p.Summary())
	writeJSON(w, http.StatusOK, p)
}

// CheckpointRequest is the body of POST /api/checkpoint.
type CheckpointRequest struct {
	Objective string          `json:"objective"`
	Status    session.Status  `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req CheckpointRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Status == "" {
		req.Status = session.InProgress
	}
	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}
	if err := s.session.Checkpoint(req.Objective, req.Status, data); err != nil {
		writeError(w, err)
		return
	}
	s.publish(journal.KindCheckpoint, "", map[string]any{
		"objective":   req.Objective,
		"status":      req.Status,
		"dirty_flags": s.session.DirtyFlags(),
	})
	writeJSON(w, http.StatusOK, s.session.Plan())
}

// AgentRequest is the body of POST /api/agents.
type AgentRequest struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Task   string              `json:"task"`
	Status session.AgentStatus `json:"status,omitempty"`
}

func (s *Server) handleAgentSnapshot(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ID == "" {
		writeError(w, fmt.Errorf("%w: agent id is required", errBadRequest))
		return
	}
	if err := s.session.AgentSnapshot(req.ID, req.Name, req.Task, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentDone(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Result string `json:"result"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := s.session.AgentDone(chi.URLParam(r, "agentID"), req.Result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.ResumeCheck())
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Summary())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.journal.Recent(r.URL.Query().Get("kind"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// afterWrite runs after the ledger saved. Callers hold mu.
func (s *Server) afterWrite() {
	s.rememberLedger()
	s.observe()
}
