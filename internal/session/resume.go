package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/neuraldrift/neuraldrift/internal/durable"
)

// IntegrityStatus is the result of checking one file against its baseline.
type IntegrityStatus string

const (
	IntegrityOK         IntegrityStatus = "ok"
	IntegrityChanged    IntegrityStatus = "changed"
	IntegrityMissing    IntegrityStatus = "missing"
	IntegrityNoBaseline IntegrityStatus = "no_baseline"
	IntegrityCorrupt    IntegrityStatus = "corrupt"
)

// LedgerKey names the ledger in integrity maps.
const LedgerKey = "brain_db"

// Usable reports whether a file in this state can be trusted to resume on.
func (s IntegrityStatus) Usable() bool {
	return s == IntegrityOK || s == IntegrityChanged || s == IntegrityNoBaseline
}

func checkFile(path, baseline string) IntegrityStatus {
	if path == "" {
		return IntegrityNoBaseline
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if baseline == "" {
			return IntegrityNoBaseline
		}
		return IntegrityMissing
	case err != nil:
		return IntegrityCorrupt
	case !json.Valid(data):
		return IntegrityCorrupt
	case baseline == "":
		return IntegrityNoBaseline
	}
	current, err := durable.Hash(path)
	if err != nil {
		return IntegrityMissing
	}
	if current == baseline {
		return IntegrityOK
	}
	return IntegrityChanged
}

func lostAgents(agents map[string]*Agent) []LostAgent {
	out := []LostAgent{}
	for id, a := range agents {
		if a.Status == AgentActive {
			out = append(out, LostAgent{ID: id, Name: a.Name, Task: a.Task})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Verdict is the outcome of a resume check.
type Verdict string

const (
	Resume  Verdict = "RESUME"
	Partial Verdict = "PARTIAL"
	Restart Verdict = "RESTART"
)

// Report explains a resume verdict.
type Report struct {
	Verdict         Verdict                    `json:"verdict"`
	Reason          string                     `json:"reason"`
	Plan            *PlanSummary               `json:"plan"`
	LostAgents      []LostAgent                `json:"lost_agents"`
	Integrity       map[string]IntegrityStatus `json:"integrity"`
	Age             time.Duration              `json:"age_ns"`
	Staleness       string                     `json:"staleness"`
	CrashLog        []CrashEntry               `json:"crash_log"`
	DirtyFlags      []string                   `json:"dirty_flags"`
	Recommendations []string                   `json:"recommendations"`
}

// ResumeCheck decides how to pick up after the previous run. The verdict
// depends only on the session record, the clock and the ledger file; lost
// agents and crashes add recommendations but never change it. ResumeCheck
// does not modify the session.
func (s *Session) ResumeCheck() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Report{
		Verdict:         Restart,
		CrashLog:        append([]CrashEntry{}, s.state.CrashLog...),
		LostAgents:      []LostAgent{},
		Integrity:       map[string]IntegrityStatus{},
		DirtyFlags:      append([]string{}, s.state.DirtyFlags...),
		Recommendations: []string{},
	}

	last := s.state.LastCheckpoint
	if last.IsZero() {
		r.Reason = "no previous session found"
		r.Recommendations = append(r.Recommendations, "start fresh: no state to recover")
		return r
	}

	r.Age = s.now().Sub(last.Time)
	if r.Age < 0 {
		r.Age = 0
	}
	r.Staleness = r.Age.Round(time.Second).String()
	r.Integrity[LedgerKey] = checkFile(s.ledgerPath, s.state.Integrity.Ledger)
	r.LostAgents = lostAgents(s.state.Agents)
	r.Plan = s.state.Plan.Summary()

	s.decide(&r)

	if len(r.LostAgents) > 0 {
		names := make([]string, 0, len(r.LostAgents))
		for _, a := range r.LostAgents {
			names = append(names, fmt.Sprintf("%s (%s)", a.Name, a.Task))
		}
		r.Recommendations = append(r.Recommendations, "lost agents (active at crash): "+strings.Join(names, ", "))
	}
	if n := len(r.CrashLog); n > 0 {
		c := r.CrashLog[n-1]
		r.Recommendations = append(r.Recommendations, fmt.Sprintf("last crash: signal %d (%s) at %s", c.Signal, c.SignalName, c.Time))
	}
	return r
}

func (s *Session) decide(r *Report) {
	add := func(format string, args ...any) {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(format, args...))
	}
	plan := r.Plan
	open := plan != nil && !plan.Completed
	dirty := r.DirtyFlags
	done := plan.Named(func(st Status) bool { return st == Completed })
	notDone := plan.Named(func(st Status) bool { return st != Completed })

	switch ig := r.Integrity[LedgerKey]; {
	case !ig.Usable():
		r.Verdict = Restart
		r.Reason = "ledger integrity: " + string(ig)
		add("ledger may be corrupted: check the .bak backup")
		add("reopen the ledger to recover from backup")

	case r.Age > s.cfg.Warm.Duration:
		r.Verdict = Restart
		r.Reason = fmt.Sprintf("session stale (%s old, threshold %s)", r.Staleness, s.cfg.Warm.Duration)
		add("start fresh: too much may have changed")
		if open {
			add("previous plan %q was incomplete: review before restarting", plan.Name)
		}

	case r.Age > s.cfg.Fresh.Duration:
		if !open {
			r.Verdict = Restart
			r.Reason = fmt.Sprintf("warm session (%s old), no active plan", r.Staleness)
			return
		}
		if len(done) == 0 || len(notDone) == 0 {
			r.Verdict = Restart
			r.Reason = "warm session but no partial progress to salvage"
			return
		}
		r.Verdict = Partial
		r.Reason = fmt.Sprintf("warm session (%s old): %d/%d objectives done", r.Staleness, len(done), len(plan.Objectives))
		add("completed: %s", strings.Join(done, ", "))
		add("remaining: %s", strings.Join(notDone, ", "))
		if len(dirty) > 0 {
			add("dirty (interrupted mid-work): %s: restart these", strings.Join(dirty, ", "))
		}

	default:
		r.Verdict = Resume
		if !open {
			r.Reason = fmt.Sprintf("fresh session (%s old), no active plan", r.Staleness)
			return
		}
		r.Reason = fmt.Sprintf("fresh session (%s old)", r.Staleness)
		inProgress := plan.Named(func(st Status) bool { return st == InProgress })
		pending := plan.Named(func(st Status) bool { return st == Pending })
		if len(done) > 0 {
			add("done: %s", strings.Join(done, ", "))
		}
		if len(inProgress) > 0 {
			add("in progress (may need re-check): %s", strings.Join(inProgress, ", "))
		}
		if len(dirty) > 0 {
			add("dirty (interrupted): %s: verify before continuing", strings.Join(dirty, ", "))
		}
		if len(pending) > 0 {
			add("next up: %s", strings.Join(pending, ", "))
		}
	}
}
