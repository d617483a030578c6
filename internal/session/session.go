// Package session tracks work-in-progress across process restarts: a plan of
// objectives, the agents working on it, integrity hashes and a crash log.
// On startup ResumeCheck turns that record into a RESUME, PARTIAL or
// RESTART verdict.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neuraldrift/neuraldrift/internal/config"
	"github.com/neuraldrift/neuraldrift/internal/durable"
)

var (
	// ErrNoPlan is returned by plan operations when no plan was started.
	ErrNoPlan = errors.New("no active plan")
	// ErrInvalidStatus is returned for an unknown objective status.
	ErrInvalidStatus = errors.New("invalid objective status")
)

// Options configures a Session. Zero values fall back to config.Default().
type Options struct {
	// LedgerPath is the ledger document whose integrity is tracked.
	LedgerPath string
	Config     *config.SessionConfig
	Now        func() time.Time
	Log        zerolog.Logger
	// Raise re-delivers a captured signal after the crash entry is saved.
	Raise func(os.Signal) error
}

// Session owns the session document. Its methods are safe for concurrent
// use; the crash handler runs on its own goroutine.
type Session struct {
	mu         sync.Mutex
	path       string
	ledgerPath string
	cfg        config.SessionConfig
	now        func() time.Time
	log        zerolog.Logger
	raise      func(os.Signal) error
	state      State
	source     durable.Source
}

// Open loads the session document at path, recovering from its backup or
// starting a fresh session. Open does not write.
func Open(path string, opts Options) *Session {
	cfg := config.Default().Session
	if opts.Config != nil {
		cfg = *opts.Config
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	raise := opts.Raise
	if raise == nil {
		raise = reraise
	}
	s := &Session{
		path:       path,
		ledgerPath: opts.LedgerPath,
		cfg:        cfg,
		now:        now,
		log:        opts.Log,
		raise:      raise,
	}
	st, src := durable.Load(path, s.fresh(), s.log)
	st.normalize()
	s.state = st
	s.source = src
	return s
}

func (s *Session) fresh() State {
	now := s.now()
	st := State{
		SessionID: fmt.Sprintf("s_%d", now.Unix()),
		Created:   durable.At(now),
	}
	st.normalize()
	return st
}

// Path returns the session document path.
func (s *Session) Path() string { return s.path }

// LoadedFrom reports how the document was obtained at Open.
func (s *Session) LoadedFrom() durable.Source { return s.source }

// save persists the state, stamping last_checkpoint. Callers hold s.mu.
func (s *Session) save() error {
	s.state.LastCheckpoint = durable.At(s.now())
	if err := durable.Save(s.path, s.state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// commit saves after a mutation. If the save fails the state is rolled back
// to snap, so a retry repeats the whole operation. Callers hold s.mu.
func (s *Session) commit(snap State) error {
	if err := s.save(); err != nil {
		s.state = snap
		return err
	}
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SessionID
}

// State returns a copy of the session record.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() State {
	st := s.state
	st.Plan = st.Plan.clone()
	st.Agents = make(map[string]*Agent, len(s.state.Agents))
	for id, a := range s.state.Agents {
		c := *a
		st.Agents[id] = &c
	}
	st.Checkpoints = append([]CheckpointEntry{}, s.state.Checkpoints...)
	st.DirtyFlags = append([]string{}, s.state.DirtyFlags...)
	st.CrashLog = append([]CrashEntry{}, s.state.CrashLog...)
	return st
}

// PlanStart begins a new plan with objectives in the given order, all
// pending. Any previous plan and its dirty flags are discarded.
func (s *Session) PlanStart(name string, objectives []string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()

	p := &Plan{Name: name, StartedAt: durable.At(s.now()), Objectives: Objectives{}}
	for _, o := range objectives {
		if p.Objectives.index(o) >= 0 {
			continue
		}
		p.Objectives = append(p.Objectives, Objective{Name: o, Status: Pending})
	}
	p.Completed = len(p.Objectives) > 0 && allTerminal(p.Objectives)
	s.state.Plan = p
	s.state.DirtyFlags = []string{}
	if err := s.commit(snap); err != nil {
		return nil, err
	}
	s.log.Info().Str("plan", name).Int("objectives", len(p.Objectives)).Msg("plan started")
	return p.clone(), nil
}

// Checkpoint records progress on an objective, adding it to the plan if it
// is new. data, when non-nil, replaces the objective's payload and must be
// JSON-serializable. The dirty flags and the plan's completed bit are
// updated in the same save.
func (s *Session) Checkpoint(objective string, status Status, data any) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("checkpoint data: %w", err)
		}
		raw = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.state.Plan
	if p == nil {
		return ErrNoPlan
	}
	snap := s.snapshot()
	i := p.Objectives.index(objective)
	if i < 0 {
		p.Objectives = append(p.Objectives, Objective{Name: objective, Status: Pending})
		i = len(p.Objectives) - 1
	}

	now := durable.At(s.now())
	obj := &p.Objectives[i]
	obj.Status = status
	obj.CheckpointedAt = now
	if raw != nil {
		obj.Data = raw
	}
	s.state.Checkpoints = append(s.state.Checkpoints, CheckpointEntry{Objective: objective, Status: status, Time: now})

	if status == InProgress {
		s.state.DirtyFlags = addFlag(s.state.DirtyFlags, objective)
	} else {
		s.state.DirtyFlags = removeFlag(s.state.DirtyFlags, objective)
	}
	p.Completed = allTerminal(p.Objectives)

	if err := s.commit(snap); err != nil {
		return err
	}
	s.log.Debug().Str("objective", objective).Str("status", string(status)).Msg("checkpoint")
	return nil
}

// PlanComplete closes the plan: every objective not yet completed or failed
// is marked completed and the dirty flags are cleared.
func (s *Session) PlanComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.state.Plan
	if p == nil {
		return ErrNoPlan
	}
	snap := s.snapshot()
	now := durable.At(s.now())
	for i := range p.Objectives {
		if !p.Objectives[i].Status.Terminal() {
			p.Objectives[i].Status = Completed
			p.Objectives[i].CheckpointedAt = now
		}
	}
	p.Completed = true
	s.state.DirtyFlags = []string{}
	return s.commit(snap)
}

// Plan returns a copy of the current plan, or nil.
func (s *Session) Plan() *Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Plan.clone()
}

// DirtyFlags returns the objectives currently in progress, in the order
// they entered that state.
func (s *Session) DirtyFlags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.state.DirtyFlags...)
}

func allTerminal(objs Objectives) bool {
	for _, o := range objs {
		if !o.Status.Terminal() {
			return false
		}
	}
	return true
}

func addFlag(flags []string, name string) []string {
	for _, f := range flags {
		if f == name {
			return flags
		}
	}
	return append(flags, name)
}

func removeFlag(flags []string, name string) []string {
	out := flags[:0]
	for _, f := range flags {
		if f != name {
			out = append(out, f)
		}
	}
	return out
}

// AgentSnapshot records an agent's current task. status defaults to active.
func (s *Session) AgentSnapshot(id, name, task string, status AgentStatus) error {
	if status == "" {
		status = AgentActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	s.state.Agents[id] = &Agent{
		Name:          name,
		Task:          task,
		Status:        status,
		SnapshottedAt: durable.At(s.now()),
	}
	return s.commit(snap)
}

// AgentDone marks an agent completed. Unknown ids are ignored.
func (s *Session) AgentDone(id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.Agents[id]
	if !ok {
		return nil
	}
	snap := s.snapshot()
	a.Status = AgentCompleted
	a.Result = result
	a.CompletedAt = durable.At(s.now())
	return s.commit(snap)
}

// LostAgent is an agent still marked active, presumably cut off by a crash.
type LostAgent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Task string `json:"task"`
}

// LostAgents returns agents still marked active, ordered by id.
func (s *Session) LostAgents() []LostAgent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lostAgents(s.state.Agents)
}

// SnapshotIntegrity records content hashes of the ledger and session files
// as the baseline for VerifyIntegrity.
func (s *Session) SnapshotIntegrity() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ig := Integrity{Timestamp: durable.At(s.now())}
	if s.ledgerPath != "" {
		ig.Ledger, _ = durable.Hash(s.ledgerPath)
	}
	ig.Session, _ = durable.Hash(s.path)
	snap := s.snapshot()
	s.state.Integrity = ig
	return s.commit(snap)
}

// VerifyIntegrity compares the ledger file with the recorded baseline.
func (s *Session) VerifyIntegrity() map[string]IntegrityStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]IntegrityStatus{LedgerKey: checkFile(s.ledgerPath, s.state.Integrity.Ledger)}
}

// Clear replaces the session with a fresh one and saves it.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	s.state = s.fresh()
	return s.commit(snap)
}

// Summary is a compact view of the session.
type Summary struct {
	SessionID      string            `json:"session_id"`
	LastCheckpoint durable.Timestamp `json:"last_checkpoint"`
	Plan           string            `json:"plan,omitempty"`
	Done           int               `json:"done"`
	Total          int               `json:"total"`
	Agents         int               `json:"agents"`
	Crashes        int               `json:"crashes"`
	DirtyFlags     []string          `json:"dirty_flags"`
}

// Summary returns counts describing the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		SessionID:      s.state.SessionID,
		LastCheckpoint: s.state.LastCheckpoint,
		Agents:         len(s.state.Agents),
		Crashes:        len(s.state.CrashLog),
		DirtyFlags:     append([]string{}, s.state.DirtyFlags...),
	}
	if p := s.state.Plan; p != nil {
		sum.Plan = p.Name
		sum.Total = len(p.Objectives)
		for _, o := range p.Objectives {
			if o.Status == Completed {
				sum.Done++
			}
		}
	}
	return sum
}
