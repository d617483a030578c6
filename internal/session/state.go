package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/neuraldrift/neuraldrift/internal/durable"
)

// Status is the progress of one objective.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case Pending, InProgress, Completed, Failed:
		return true
	}
	return false
}

// Terminal reports whether s ends an objective.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Objective is one named step of a plan.
type Objective struct {
	Name           string            `json:"-"`
	Status         Status            `json:"status"`
	Data           json.RawMessage   `json:"data"`
	CheckpointedAt durable.Timestamp `json:"checkpointed"`
}

// Objectives keeps plan objectives in declaration order. It is stored as a
// JSON object keyed by objective name.
type Objectives []Objective

func (o Objectives) index(name string) int {
	for i := range o {
		if o[i].Name == name {
			return i
		}
	}
	return -1
}

func (o Objectives) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, obj := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(obj.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *Objectives) UnmarshalJSON(data []byte) error {
	*o = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("objectives: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var obj Objective
		if err := dec.Decode(&obj); err != nil {
			return fmt.Errorf("objective %q: %w", name, err)
		}
		obj.Name = name
		*o = append(*o, obj)
	}
	_, err = dec.Token()
	return err
}

// Plan is a named set of objectives being worked through.
type Plan struct {
	Name       string            `json:"name"`
	StartedAt  durable.Timestamp `json:"started"`
	Objectives Objectives        `json:"objectives"`
	Completed  bool              `json:"completed"`
}

func (p *Plan) clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Objectives = append(Objectives(nil), p.Objectives...)
	return &c
}

// ObjectiveStatus is the name and status of one objective.
type ObjectiveStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// PlanSummary is the plan without objective payloads.
type PlanSummary struct {
	Name       string            `json:"name"`
	Completed  bool              `json:"completed"`
	Objectives []ObjectiveStatus `json:"objectives"`
}

// Summary returns p without payloads, or nil for no plan.
func (p *Plan) Summary() *PlanSummary {
	if p == nil {
		return nil
	}
	s := &PlanSummary{Name: p.Name, Completed: p.Completed, Objectives: make([]ObjectiveStatus, 0, len(p.Objectives))}
	for _, o := range p.Objectives {
		s.Objectives = append(s.Objectives, ObjectiveStatus{o.Name, o.Status})
	}
	return s
}

// Named returns the names of objectives whose status satisfies keep.
func (s *PlanSummary) Named(keep func(Status) bool) []string {
	out := []string{}
	if s == nil {
		return out
	}
	for _, o := range s.Objectives {
		if keep(o.Status) {
			out = append(out, o.Name)
		}
	}
	return out
}

// AgentStatus is the lifecycle state of a tracked agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentCompleted AgentStatus = "completed"
)

// Agent is a snapshot of a worker taking part in the session.
type Agent struct {
	Name          string            `json:"name"`
	Task          string            `json:"task"`
	Status        AgentStatus       `json:"status"`
	SnapshottedAt durable.Timestamp `json:"snapshotted"`
	Result        string            `json:"result,omitempty"`
	CompletedAt   durable.Timestamp `json:"completed_at"`
}

// CheckpointEntry is one line of the append-only checkpoint log.
type CheckpointEntry struct {
	Objective string            `json:"objective"`
	Status    Status            `json:"status"`
	Time      durable.Timestamp `json:"time"`
}

// Integrity holds content hashes captured at startup.
type Integrity struct {
	Ledger    string            `json:"brain_db,omitempty"`
	Session   string            `json:"session_state,omitempty"`
	Timestamp durable.Timestamp `json:"timestamp"`
}

// CrashEntry records an intercepted termination signal.
type CrashEntry struct {
	Signal     int               `json:"signal"`
	SignalName string            `json:"signal_name"`
	Time       durable.Timestamp `json:"time"`
	DirtyFlags []string          `json:"dirty_flags"`
	Plan       *PlanSummary      `json:"plan_status"`
}

// State is the on-disk session document.
type State struct {
	SessionID      string            `json:"session_id"`
	Created        durable.Timestamp `json:"created"`
	LastCheckpoint durable.Timestamp `json:"last_checkpoint"`
	Plan           *Plan             `json:"plan"`
	Agents         map[string]*Agent `json:"agents"`
	Checkpoints    []CheckpointEntry `json:"checkpoints"`
	Integrity      Integrity         `json:"integrity"`
	DirtyFlags     []string          `json:"dirty_flags"`
	CrashLog       []CrashEntry      `json:"crash_log"`
}

func (st *State) normalize() {
	if st.Agents == nil {
		st.Agents = map[string]*Agent{}
	}
	if st.Checkpoints == nil {
		st.Checkpoints = []CheckpointEntry{}
	}
	if st.DirtyFlags == nil {
		st.DirtyFlags = []string{}
	}
	if st.CrashLog == nil {
		st.CrashLog = []CrashEntry{}
	}
	for id, a := range st.Agents {
		if a == nil {
			delete(st.Agents, id)
		}
	}
}
