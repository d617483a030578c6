package ledger

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	tokenRE     = regexp.MustCompile(`[a-z0-9_./-]+`)
	softTokenRE = regexp.MustCompile(`[a-z0-9]+`)
)

var stopWords = toSet(strings.Fields(`
	the a an is are was were be been have has had do does did will would
	could should may might can shall to of in for on with at by from as
	into through during before after above below between out off over under
	again further then once here there when where why how all each every
	both few more most other some such no not only same so than too very
	just because but and or if while that this it i me my we our you your
	he she they what which who whom use using run make get`))

const minAssociation = 3.0

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func keywords(text string, re *regexp.Regexp, drop map[string]bool) map[string]bool {
	out := map[string]bool{}
	for _, w := range re.FindAllString(strings.ToLower(text), -1) {
		if !drop[w] {
			out[w] = true
		}
	}
	return out
}

// Association is a fact surfaced by Associate with its relevance score.
type Association struct {
	Entry
	Score float64 `json:"score"`
}

// Associate surfaces facts relevant to a free-form context such as a task
// description or an error message. Scoring: +3 when the topic and a keyword
// contain one another, +2 per keyword shared with the fact text, +1 when a
// keyword appears in the source, plus confidence/100. Facts scoring below 3
// are dropped. Returned facts have their recall count incremented.
func (l *Ledger) Associate(text string) []Association {
	kws := keywords(text, tokenRE, stopWords)
	if len(kws) == 0 {
		return []Association{}
	}

	type hit struct {
		Association
		idx int
	}
	var hits []hit
	for _, topic := range l.sortedTopics() {
		topicMatch := false
		if topic != "" {
			for kw := range kws {
				if strings.Contains(topic, kw) || strings.Contains(kw, topic) {
					topicMatch = true
					break
				}
			}
		}
		for i, f := range l.doc.Facts[topic] {
			score := 0.0
			if topicMatch {
				score += 3
			}
			for w := range keywords(f.Text, tokenRE, nil) {
				if kws[w] {
					score += 2
				}
			}
			src := strings.ToLower(f.Source)
			for kw := range kws {
				if strings.Contains(src, kw) {
					score++
					break
				}
			}
			score += float64(f.Confidence) / 100
			if score >= minAssociation {
				hits = append(hits, hit{Association{Entry{topic, f}, score}, i})
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if c := l.resultCap(0); len(hits) > c {
		hits = hits[:c]
	}

	out := make([]Association, 0, len(hits))
	for _, h := range hits {
		f := &l.doc.Facts[h.Topic][h.idx]
		f.RecallCount++
		h.Fact = *f
		out = append(out, h.Association)
	}
	if len(out) > 0 {
		l.saveQuietly("associate")
	}
	return out
}

// Muse stores a soft note. Soft notes live apart from facts and never show
// up in recall or search.
func (l *Ledger) Muse(note string, tags []string) (*LevelEvent, error) {
	if strings.TrimSpace(note) == "" {
		return nil, fmt.Errorf("%w: note is required", ErrInvalid)
	}
	snap := l.doc.clone()
	if l.doc.Soft == nil {
		l.doc.Soft = &SoftPartition{}
	}
	if tags == nil {
		tags = []string{}
	}
	l.doc.Soft.Notes = append(l.doc.Soft.Notes, SoftNote{Note: note, Tags: tags, Added: At(l.now())})
	ev := l.grant(l.cfg.XPPerMusing, "soft knowledge", true)
	if err := l.commit(snap); err != nil {
		return nil, err
	}
	return ev, nil
}

// Musings returns soft notes, optionally only those carrying tag.
func (l *Ledger) Musings(tag string) []SoftNote {
	out := []SoftNote{}
	for _, n := range l.softNotes() {
		if tag == "" || hasTag(n.Tags, tag) {
			out = append(out, n)
		}
	}
	return out
}

// SoftAssociate returns soft notes sharing at least two words with text
// (note words and tags both count), best match first.
func (l *Ledger) SoftAssociate(text string) []SoftNote {
	kws := keywords(text, softTokenRE, nil)
	type hit struct {
		n    int
		note SoftNote
	}
	var hits []hit
	for _, n := range l.softNotes() {
		words := keywords(n.Note, softTokenRE, nil)
		for _, t := range n.Tags {
			words[strings.ToLower(t)] = true
		}
		overlap := 0
		for w := range words {
			if kws[w] {
				overlap++
			}
		}
		if overlap >= 2 {
			hits = append(hits, hit{overlap, n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].n > hits[j].n })
	out := make([]SoftNote, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.note)
	}
	return out
}

func (l *Ledger) softNotes() []SoftNote {
	if l.doc.Soft == nil {
		return nil
	}
	return l.doc.Soft.Notes
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}
