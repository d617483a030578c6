package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/neuraldrift/neuraldrift/internal/durable"
)

// Timestamps share the durable store's on-disk format.
type Timestamp = durable.Timestamp

const TimeLayout = durable.TimeLayout

// At wraps t, truncated to the second.
func At(t time.Time) Timestamp { return durable.At(t) }

// Fact is one claim filed under a topic.
type Fact struct {
	Text        string    `json:"fact"`
	Confidence  int       `json:"confidence"`
	Source      string    `json:"source"`
	Verified    bool      `json:"verified"`
	LearnedAt   Timestamp `json:"learned"`
	UpdatedAt   Timestamp `json:"updated"`
	RecallCount int       `json:"times_recalled"`
	Decayed     bool      `json:"_decayed,omitempty"`
}

// uncitedSources are the sources that carry no real provenance.
var uncitedSources = map[string]bool{
	"observation": true,
	"unknown":     true,
	"":            true,
	"none":        true,
	"unverified":  true,
}

// IsCited reports whether source names real provenance.
func IsCited(source string) bool {
	return !uncitedSources[strings.ToLower(source)]
}

// Cited reports whether the fact has a real citation.
func (f Fact) Cited() bool {
	return IsCited(f.Source)
}

// Entry pairs a fact with the topic it is filed under.
type Entry struct {
	Topic string `json:"topic"`
	Fact  Fact   `json:"fact"`
}

// LevelEvent records a level-up in the XP log.
type LevelEvent struct {
	Event     string    `json:"event"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Title     string    `json:"title"`
	Timestamp Timestamp `json:"timestamp"`
}

// Meta is the ledger-wide bookkeeping record.
type Meta struct {
	XP        int          `json:"xp"`
	Level     int          `json:"level"`
	Entries   int          `json:"entries"`
	XPLog     []LevelEvent `json:"xp_log"`
	MaxRecall *int         `json:"max_recall,omitempty"`
	Created   Timestamp    `json:"created"`
	LastSaved Timestamp    `json:"last_saved"`

	// hasXP is false for documents written before XP tracking existed.
	hasXP bool
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	type plain Meta
	aux := struct {
		*plain
		XP *int `json:"xp"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.XP != nil {
		m.XP = *aux.XP
		m.hasXP = true
	}
	return nil
}

// SoftNote is a non-critical idea kept apart from facts.
type SoftNote struct {
	Note  string    `json:"note"`
	Tags  []string  `json:"tags"`
	Added Timestamp `json:"added"`
}

// SoftPartition holds soft notes. They are never returned by recall or search.
type SoftPartition struct {
	Notes []SoftNote `json:"notes"`
}

// Document is the on-disk shape of the ledger.
type Document struct {
	Facts map[string][]Fact `json:"facts"`
	Meta  Meta              `json:"meta"`
	Soft  *SoftPartition    `json:"soft,omitempty"`
}

// clone returns a copy that shares no mutable state with d.
func (d Document) clone() Document {
	out := Document{Facts: make(map[string][]Fact, len(d.Facts)), Meta: d.Meta}
	for topic, facts := range d.Facts {
		out.Facts[topic] = append([]Fact(nil), facts...)
	}
	out.Meta.XPLog = append([]LevelEvent(nil), d.Meta.XPLog...)
	if d.Meta.MaxRecall != nil {
		n := *d.Meta.MaxRecall
		out.Meta.MaxRecall = &n
	}
	if d.Soft != nil {
		out.Soft = &SoftPartition{Notes: append([]SoftNote(nil), d.Soft.Notes...)}
	}
	return out
}
