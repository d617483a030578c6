package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/neuraldrift/neuraldrift/internal/config"
)

// unknownAge is the age assumed for a fact with no parseable timestamp.
const unknownAge = 999 * 24 * time.Hour

// Thermometer scores facts by recency and recall frequency. It is a pure
// function of its configuration, the fact and the current time.
type Thermometer struct {
	cfg config.TemperatureConfig
}

func NewThermometer(cfg config.TemperatureConfig) Thermometer {
	return Thermometer{cfg: cfg}
}

// Recency is the age component: weight * rate^hours.
func (t Thermometer) Recency(age time.Duration) float64 {
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return t.cfg.RecencyWeight * math.Pow(t.cfg.DecayRate, hours)
}

// RecallScore is the frequency component, capped.
func (t Thermometer) RecallScore(recalls int) float64 {
	if recalls < 0 {
		recalls = 0
	}
	return math.Min(t.cfg.RecallCap, t.cfg.RecallWeight*math.Log1p(float64(recalls)))
}

// Fact returns the temperature of f at now.
func (t Thermometer) Fact(f Fact, now time.Time) float64 {
	return t.Recency(factAge(f, now)) + t.RecallScore(f.RecallCount)
}

// Topic returns the mean temperature of facts, 0 when empty.
func (t Thermometer) Topic(facts []Fact, now time.Time) float64 {
	if len(facts) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range facts {
		sum += t.Fact(f, now)
	}
	return sum / float64(len(facts))
}

// factAge uses updated_at, falling back to learned_at.
func factAge(f Fact, now time.Time) time.Duration {
	ts := f.UpdatedAt
	if ts.IsZero() {
		ts = f.LearnedAt
	}
	if ts.IsZero() {
		return unknownAge
	}
	return now.Sub(ts.Time)
}

// TopicHeat is one row of the heatmap.
type TopicHeat struct {
	Topic       string  `json:"topic"`
	Temperature float64 `json:"temperature"`
	Facts       int     `json:"facts"`
	Hot         int     `json:"hot"`
	Cold        int     `json:"cold"`
}

// Heatmap ranks topics by temperature, hottest first.
func (l *Ledger) Heatmap() []TopicHeat {
	now := l.now()
	out := make([]TopicHeat, 0, len(l.doc.Facts))
	for _, topic := range l.sortedTopics() {
		facts := l.doc.Facts[topic]
		h := TopicHeat{Topic: topic, Facts: len(facts), Temperature: l.thermo.Topic(facts, now)}
		for _, f := range facts {
			temp := l.thermo.Fact(f, now)
			switch {
			case temp > l.thermo.cfg.Hot:
				h.Hot++
			case temp < l.thermo.cfg.Cold:
				h.Cold++
			}
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Temperature > out[j].Temperature
	})
	return out
}

// ColdState classifies a cold fact.
type ColdState string

const (
	Frozen  ColdState = "FROZEN"  // never recalled
	Cooling ColdState = "COOLING" // recalled, but not lately
)

// ColdSpot is a fact whose temperature fell below the threshold.
type ColdSpot struct {
	Topic       string    `json:"topic"`
	Fact        string    `json:"fact"`
	Temperature float64   `json:"temperature"`
	RecallCount int       `json:"times_recalled"`
	Confidence  int       `json:"confidence"`
	AgeDays     float64   `json:"age_days"`
	State       ColdState `json:"state"`
}

// ColdSpots lists facts below threshold, coldest first. A threshold <= 0
// uses the configured cold mark.
func (l *Ledger) ColdSpots(threshold float64) []ColdSpot {
	if threshold <= 0 {
		threshold = l.thermo.cfg.Cold
	}
	now := l.now()
	out := []ColdSpot{}
	for _, topic := range l.sortedTopics() {
		for _, f := range l.doc.Facts[topic] {
			temp := l.thermo.Fact(f, now)
			if temp >= threshold {
				continue
			}
			state := Frozen
			if f.RecallCount > 0 {
				state = Cooling
			}
			out = append(out, ColdSpot{
				Topic:       topic,
				Fact:        f.Text,
				Temperature: temp,
				RecallCount: f.RecallCount,
				Confidence:  f.Confidence,
				AgeDays:     factAge(f, now).Hours() / 24,
				State:       state,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Temperature < out[j].Temperature
	})
	return out
}

// WarmUpResult reports a topic's temperature before and after a warm-up.
type WarmUpResult struct {
	Topic  string  `json:"topic"`
	Facts  int     `json:"facts"`
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// WarmUp touches every fact in topic: recall count +1, updated_at = now.
func (l *Ledger) WarmUp(topic string) (WarmUpResult, error) {
	topic = normalizeTopic(topic)
	facts := l.doc.Facts[topic]
	if len(facts) == 0 {
		return WarmUpResult{}, fmt.Errorf("%w: no facts in [%s]", ErrNotFound, topic)
	}
	now := l.now()
	res := WarmUpResult{Topic: topic, Facts: len(facts), Before: l.thermo.Topic(facts, now)}
	ts := At(now)
	snap := l.doc.clone()
	for i := range facts {
		facts[i].RecallCount++
		facts[i].UpdatedAt = ts
	}
	res.After = l.thermo.Topic(facts, now)
	if err := l.commit(snap); err != nil {
		return res, err
	}
	l.log.Info().Str("topic", topic).Float64("before", res.Before).Float64("after", res.After).Msg("warmed up")
	return res, nil
}
