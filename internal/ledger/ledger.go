// Package ledger is the persistent fact store: topics of facts with
// confidence and provenance, XP leveling, uncited-fact decay and the
// recency/frequency temperature model.
//
// A Ledger is not safe for concurrent use. It owns its file exclusively;
// two processes writing the same file get last-writer-wins.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/neuraldrift/neuraldrift/internal/config"
	"github.com/neuraldrift/neuraldrift/internal/durable"
)

const (
	DefaultConfidence = 80
	DefaultSource     = "observation"

	// unlimitedCap stands in for "no cap" when max_recall is 0.
	unlimitedCap = 1 << 30
)

var (
	// ErrInvalid marks caller misuse: missing topic or text, or an
	// out-of-range confidence.
	ErrInvalid = errors.New("invalid input")
	// ErrNotFound is returned when verify, forget or warm-up find nothing.
	ErrNotFound = errors.New("not found")
)

// Options configures a Ledger. Zero values fall back to config.Default().
type Options struct {
	Ledger      *config.LedgerConfig
	Temperature *config.TemperatureConfig
	Now         func() time.Time
	Log         zerolog.Logger
}

// Ledger is the in-memory fact store bound to one document on disk.
type Ledger struct {
	path   string
	doc    Document
	cfg    config.LedgerConfig
	thermo Thermometer
	now    func() time.Time
	log    zerolog.Logger
	source durable.Source
}

// Open loads the ledger at path, recovering from its backup or starting
// fresh if needed. It then migrates XP for documents that predate it and
// applies the one-time uncited decay sweep, saving if either changed anything.
func Open(path string, opts Options) (*Ledger, error) {
	def := config.Default()
	cfg := def.Ledger
	if opts.Ledger != nil {
		cfg = *opts.Ledger
	}
	tcfg := def.Temperature
	if opts.Temperature != nil {
		tcfg = *opts.Temperature
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	l := &Ledger{
		path:   path,
		cfg:    cfg,
		thermo: NewThermometer(tcfg),
		now:    now,
		log:    opts.Log,
	}
	l.load()

	changed := l.migrateXP()
	if n := l.applyDecay(); n > 0 {
		l.log.Warn().
			Int("facts", n).
			Int("xp", n*l.cfg.XPUncitedPenalty).
			Msg("xp decay: uncited facts penalized")
		changed = true
	}
	if changed {
		if err := l.Save(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) load() {
	fresh := l.freshDocument()
	doc, src := durable.Load(l.path, fresh, l.log)
	l.source = src
	l.doc = normalize(doc)
}

// Reload re-reads the document from disk, e.g. after another process
// rewrote it. The decay sweep is not repeated.
func (l *Ledger) Reload() durable.Source {
	l.load()
	return l.source
}

func (l *Ledger) freshDocument() Document {
	return Document{
		Facts: map[string][]Fact{},
		Meta: Meta{
			XPLog:   []LevelEvent{},
			Created: At(l.now()),
			hasXP:   true,
		},
	}
}

func normalize(doc Document) Document {
	if doc.Facts == nil {
		doc.Facts = map[string][]Fact{}
	}
	if doc.Meta.XPLog == nil {
		doc.Meta.XPLog = []LevelEvent{}
	}
	if doc.Meta.XP < 0 {
		doc.Meta.XP = 0
	}
	doc.Meta.Level = doc.Meta.XP / 100
	for topic, facts := range doc.Facts {
		for i := range facts {
			if facts[i].RecallCount < 0 {
				facts[i].RecallCount = 0
			}
		}
		doc.Facts[topic] = facts
	}
	return doc
}

// Path returns the ledger's document path.
func (l *Ledger) Path() string { return l.path }

// LoadedFrom reports how the document was obtained at the last load.
func (l *Ledger) LoadedFrom() durable.Source { return l.source }

// Save persists the ledger atomically, refreshing entries and last_saved.
func (l *Ledger) Save() error {
	l.doc.Meta.LastSaved = At(l.now())
	l.doc.Meta.Entries = l.countFacts()
	if err := durable.Save(l.path, l.doc); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	l.log.Debug().Int("facts", l.doc.Meta.Entries).Int("topics", len(l.doc.Facts)).Msg("ledger saved")
	return nil
}

// commit saves after a mutation. If the save fails the in-memory document
// is rolled back to snap, so a retry repeats the whole operation.
func (l *Ledger) commit(snap Document) error {
	if err := l.Save(); err != nil {
		l.doc = snap
		return err
	}
	return nil
}

// saveQuietly persists after a read-path side effect. Failure is logged,
// not returned, so reads keep working on a read-only disk.
func (l *Ledger) saveQuietly(op string) {
	if err := l.Save(); err != nil {
		l.log.Warn().Err(err).Str("op", op).Msg("could not persist access counters")
	}
}

func (l *Ledger) countFacts() int {
	n := 0
	for _, facts := range l.doc.Facts {
		n += len(facts)
	}
	return n
}

// sortedTopics returns topic names in a stable order.
func (l *Ledger) sortedTopics() []string {
	names := make([]string, 0, len(l.doc.Facts))
	for t := range l.doc.Facts {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// MaxRecall returns the effective result cap; 0 means unlimited.
func (l *Ledger) MaxRecall() int {
	if l.doc.Meta.MaxRecall != nil {
		return *l.doc.Meta.MaxRecall
	}
	return l.cfg.MaxRecall
}

// SetMaxRecall persists a new result cap. 0 means unlimited.
func (l *Ledger) SetMaxRecall(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: max_recall must be >= 0, got %d", ErrInvalid, n)
	}
	snap := l.doc.clone()
	l.doc.Meta.MaxRecall = &n
	return l.commit(snap)
}

func (l *Ledger) resultCap(limit int) int {
	if limit > 0 {
		return limit
	}
	if m := l.MaxRecall(); m > 0 {
		return m
	}
	return unlimitedCap
}

// Claim is the input to Learn. Use NewClaim for the documented defaults.
type Claim struct {
	Topic      string
	Text       string
	Confidence int
	Source     string
	Verified   bool
}

// NewClaim returns a claim with confidence 80 and source "observation".
func NewClaim(topic, text string) Claim {
	return Claim{Topic: topic, Text: text, Confidence: DefaultConfidence, Source: DefaultSource}
}

// Outcome says what Learn did with a claim.
type Outcome string

const (
	Added     Outcome = "added"
	Raised    Outcome = "raised"
	Unchanged Outcome = "unchanged"
)

// LearnResult describes the effect of a Learn call.
type LearnResult struct {
	Outcome  Outcome     `json:"outcome"`
	Topic    string      `json:"topic"`
	Fact     Fact        `json:"fact"`
	XPGained int         `json:"xp_gained"`
	LevelUp  *LevelEvent `json:"level_up,omitempty"`
}

// Learn files a claim under its topic. A case-insensitive duplicate only
// raises the stored confidence (refreshing source, verified and updated_at)
// when the new confidence is strictly higher; otherwise it is a no-op.
// New facts earn XP, with a bonus for a real citation. The ledger is saved
// after every call.
func (l *Ledger) Learn(c Claim) (LearnResult, error) {
	if c.Topic == "" {
		return LearnResult{}, fmt.Errorf("%w: topic is required", ErrInvalid)
	}
	if strings.TrimSpace(c.Text) == "" {
		return LearnResult{}, fmt.Errorf("%w: fact text is required", ErrInvalid)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return LearnResult{}, fmt.Errorf("%w: confidence %d outside [0,100]", ErrInvalid, c.Confidence)
	}

	topic := normalizeTopic(c.Topic)
	now := At(l.now())
	snap := l.doc.clone()
	res := LearnResult{Topic: topic, Outcome: Unchanged}

	facts := l.doc.Facts[topic]
	if facts == nil {
		facts = []Fact{}
	}
	idx := -1
	for i := range facts {
		if strings.EqualFold(facts[i].Text, c.Text) {
			idx = i
			break
		}
	}

	switch {
	case idx >= 0 && c.Confidence > facts[idx].Confidence:
		f := &facts[idx]
		f.Confidence = c.Confidence
		f.Source = c.Source
		f.Verified = c.Verified
		f.UpdatedAt = now
		res.Outcome = Raised
		res.Fact = *f
		l.log.Info().Str("topic", topic).Int("confidence", c.Confidence).Msg("raised existing fact confidence")
	case idx >= 0:
		res.Fact = facts[idx]
		l.log.Info().Str("topic", topic).Int("confidence", facts[idx].Confidence).Msg("fact already known")
	default:
		f := Fact{
			Text:       c.Text,
			Confidence: c.Confidence,
			Source:     c.Source,
			Verified:   c.Verified,
			LearnedAt:  now,
			UpdatedAt:  now,
		}
		facts = append(facts, f)
		res.Outcome = Added
		res.Fact = f

		before := l.doc.Meta.XP
		res.LevelUp = l.grant(l.cfg.XPPerFact, "learned ["+topic+"]", true)
		if f.Cited() {
			if ev := l.grant(l.cfg.XPCitedBonus, "cited source: "+clip(c.Source, 40), true); ev != nil {
				res.LevelUp = ev
			}
		}
		res.XPGained = l.doc.Meta.XP - before
		l.log.Info().Str("topic", topic).Int("confidence", c.Confidence).Int("xp", res.XPGained).Msg("learned")
	}
	l.doc.Facts[topic] = facts

	if err := l.commit(snap); err != nil {
		return res, err
	}
	return res, nil
}

// RecallOpts filters and caps recall results. Limit 0 uses max_recall.
type RecallOpts struct {
	MinConfidence int
	Limit         int
}

// Recall returns the facts of one topic with confidence >= MinConfidence,
// highest confidence first, capped. Every returned fact's recall count is
// incremented. An unknown topic yields an empty result.
func (l *Ledger) Recall(topic string, opts RecallOpts) []Fact {
	topic = normalizeTopic(topic)
	facts := l.doc.Facts[topic]
	if len(facts) == 0 {
		l.log.Debug().Str("topic", topic).Msg("no knowledge on topic")
		return []Fact{}
	}

	idx := make([]int, 0, len(facts))
	for i := range facts {
		if facts[i].Confidence >= opts.MinConfidence {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return facts[idx[a]].Confidence > facts[idx[b]].Confidence
	})
	if c := l.resultCap(opts.Limit); len(idx) > c {
		idx = idx[:c]
	}

	out := make([]Fact, 0, len(idx))
	for _, i := range idx {
		facts[i].RecallCount++
		out = append(out, facts[i])
	}
	if len(out) > 0 {
		l.saveQuietly("recall")
	}
	return out
}

// RecallEntries is Recall with each fact paired with the normalized topic
// it is stored under.
func (l *Ledger) RecallEntries(topic string, opts RecallOpts) []Entry {
	norm := normalizeTopic(topic)
	facts := l.Recall(norm, opts)
	out := make([]Entry, 0, len(facts))
	for _, f := range facts {
		out = append(out, Entry{Topic: norm, Fact: f})
	}
	return out
}

// RecallAll applies Recall's filter, sort and cap across every topic. It is
// a read-only scan: recall counts are not touched.
func (l *Ledger) RecallAll(opts RecallOpts) []Entry {
	var out []Entry
	for _, topic := range l.sortedTopics() {
		for _, f := range l.doc.Facts[topic] {
			if f.Confidence >= opts.MinConfidence {
				out = append(out, Entry{Topic: topic, Fact: f})
			}
		}
	}
	return l.rank(out, opts.Limit)
}

// Search matches keyword case-insensitively against fact text or topic name.
func (l *Ledger) Search(keyword string, limit int) []Entry {
	kw := strings.ToLower(keyword)
	var out []Entry
	for _, topic := range l.sortedTopics() {
		for _, f := range l.doc.Facts[topic] {
			if strings.Contains(strings.ToLower(f.Text), kw) || strings.Contains(topic, kw) {
				out = append(out, Entry{Topic: topic, Fact: f})
			}
		}
	}
	return l.rank(out, limit)
}

func (l *Ledger) rank(entries []Entry, limit int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Fact.Confidence > entries[j].Fact.Confidence
	})
	if c := l.resultCap(limit); len(entries) > c {
		entries = entries[:c]
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries
}

func (l *Ledger) find(topic, substring string) (string, int) {
	topic = normalizeTopic(topic)
	sub := strings.ToLower(substring)
	for i, f := range l.doc.Facts[topic] {
		if strings.Contains(strings.ToLower(f.Text), sub) {
			return topic, i
		}
	}
	return topic, -1
}

// Verify marks the first fact in topic containing substring as verified,
// optionally replacing its confidence.
func (l *Ledger) Verify(topic, substring string, confidence *int) (Fact, error) {
	if confidence != nil && (*confidence < 0 || *confidence > 100) {
		return Fact{}, fmt.Errorf("%w: confidence %d outside [0,100]", ErrInvalid, *confidence)
	}
	topic, i := l.find(topic, substring)
	if i < 0 {
		return Fact{}, fmt.Errorf("%w: no fact in [%s] matching %q", ErrNotFound, topic, substring)
	}
	snap := l.doc.clone()
	f := &l.doc.Facts[topic][i]
	f.Verified = true
	f.UpdatedAt = At(l.now())
	if confidence != nil {
		f.Confidence = *confidence
	}
	if err := l.commit(snap); err != nil {
		return *f, err
	}
	l.log.Info().Str("topic", topic).Str("fact", clip(f.Text, 60)).Msg("verified")
	return *f, nil
}

// Forget removes the first fact in topic containing substring. No XP is lost.
func (l *Ledger) Forget(topic, substring string) (Fact, error) {
	topic, i := l.find(topic, substring)
	if i < 0 {
		return Fact{}, fmt.Errorf("%w: no fact in [%s] matching %q", ErrNotFound, topic, substring)
	}
	snap := l.doc.clone()
	facts := l.doc.Facts[topic]
	removed := facts[i]
	l.doc.Facts[topic] = append(facts[:i:i], facts[i+1:]...)
	if err := l.commit(snap); err != nil {
		return removed, err
	}
	l.log.Warn().Str("topic", topic).Str("fact", clip(removed.Text, 60)).Msg("forgot")
	return removed, nil
}

// TopicSummary is one row of the topics view.
type TopicSummary struct {
	Topic         string  `json:"topic"`
	Facts         int     `json:"facts"`
	AvgConfidence float64 `json:"avg_confidence"`
	Verified      int     `json:"verified"`
}

// Topics lists every topic with its fact count, mean confidence and
// number of verified facts, sorted by name.
func (l *Ledger) Topics() []TopicSummary {
	out := make([]TopicSummary, 0, len(l.doc.Facts))
	for _, topic := range l.sortedTopics() {
		facts := l.doc.Facts[topic]
		s := TopicSummary{Topic: topic, Facts: len(facts)}
		sum := 0
		for _, f := range facts {
			sum += f.Confidence
			if f.Verified {
				s.Verified++
			}
		}
		if len(facts) > 0 {
			s.AvgConfidence = float64(sum) / float64(len(facts))
		}
		out = append(out, s)
	}
	return out
}

// Stats is an aggregate view of the whole ledger.
type Stats struct {
	Topics        int     `json:"topics"`
	Facts         int     `json:"facts"`
	Verified      int     `json:"verified"`
	Cited         int     `json:"cited"`
	Decayed       int     `json:"decayed"`
	SoftNotes     int     `json:"soft_notes"`
	AvgConfidence float64 `json:"avg_confidence"`
	XP            int     `json:"xp"`
	Level         int     `json:"level"`
}

// Stats aggregates counts across the ledger.
func (l *Ledger) Stats() Stats {
	s := Stats{
		Topics:    len(l.doc.Facts),
		SoftNotes: len(l.softNotes()),
		XP:        l.doc.Meta.XP,
		Level:     l.doc.Meta.Level,
	}
	sum := 0
	for _, facts := range l.doc.Facts {
		for _, f := range facts {
			s.Facts++
			sum += f.Confidence
			if f.Verified {
				s.Verified++
			}
			if f.Cited() {
				s.Cited++
			}
			if f.Decayed {
				s.Decayed++
			}
		}
	}
	if s.Facts > 0 {
		s.AvgConfidence = float64(sum) / float64(s.Facts)
	}
	return s
}

// clip shortens s to at most n bytes, cutting on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
