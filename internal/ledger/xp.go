package ledger

import (
	"github.com/neuraldrift/neuraldrift/internal/config"
)

const xpPerLevel = 100

// LevelFor returns the level reached with xp points.
func LevelFor(xp int) int {
	if xp < 0 {
		return 0
	}
	return xp / xpPerLevel
}

// TitleFor returns the title of the highest threshold <= level.
func TitleFor(titles []config.LevelTitle, level int) string {
	title := "Blank Slate"
	best := -1
	for _, t := range titles {
		if t.Level <= level && t.Level > best {
			best = t.Level
			title = t.Title
		}
	}
	return title
}

// Grant adds amount (possibly negative) to XP, clamping at zero, and
// recomputes the level. A level-up is appended to the XP log and returned.
// Grant does not save.
func (l *Ledger) Grant(amount int, reason string) *LevelEvent {
	return l.grant(amount, reason, true)
}

func (l *Ledger) grant(amount int, reason string, announce bool) *LevelEvent {
	m := &l.doc.Meta
	old := m.Level
	m.XP += amount
	if m.XP < 0 {
		m.XP = 0
	}
	m.Level = LevelFor(m.XP)

	if announce && amount != 0 {
		l.log.Debug().Int("amount", amount).Int("xp", m.XP).Str("reason", reason).Msg("xp")
	}
	if m.Level <= old {
		return nil
	}
	ev := LevelEvent{
		Event:     "level_up",
		From:      old,
		To:        m.Level,
		Title:     TitleFor(l.cfg.LevelTitles, m.Level),
		Timestamp: At(l.now()),
	}
	m.XPLog = append(m.XPLog, ev)
	if announce {
		l.log.Info().Int("level", ev.To).Str("title", ev.Title).Msg("level up")
	}
	return &ev
}

// migrateXP grants retroactive XP to a document written before XP existed.
func (l *Ledger) migrateXP() bool {
	if l.doc.Meta.hasXP {
		return false
	}
	l.doc.Meta.hasXP = true
	n, cited := 0, 0
	for _, facts := range l.doc.Facts {
		for _, f := range facts {
			n++
			if f.Cited() {
				cited++
			}
		}
	}
	l.grant(n*l.cfg.XPPerFact+cited*l.cfg.XPCitedBonus, "retroactive", false)
	l.log.Info().Int("facts", n).Int("xp", l.doc.Meta.XP).Msg("xp migrated for existing ledger")
	return true
}

// applyDecay penalizes every uncited fact older than the grace period that
// has not been penalized before. It returns the number of facts penalized.
func (l *Ledger) applyDecay() int {
	now := l.now()
	grace := l.cfg.UncitedGrace.Duration
	n := 0
	for _, topic := range l.sortedTopics() {
		facts := l.doc.Facts[topic]
		for i := range facts {
			f := &facts[i]
			if f.Cited() || f.Decayed || f.LearnedAt.IsZero() {
				continue
			}
			if now.Sub(f.LearnedAt.Time) <= grace {
				continue
			}
			f.Decayed = true
			l.grant(l.cfg.XPUncitedPenalty, "uncited: "+clip(f.Text, 40), false)
			n++
		}
	}
	return n
}

// LevelInfo is a snapshot of XP progress.
type LevelInfo struct {
	XP        int          `json:"xp"`
	Level     int          `json:"level"`
	Title     string       `json:"title"`
	Progress  int          `json:"progress"` // XP into the current level
	ToNext    int          `json:"to_next"`
	NextTitle string       `json:"next_title"`
	Cited     int          `json:"cited"`
	Uncited   int          `json:"uncited"`
	Decayed   int          `json:"decayed"`
	History   []LevelEvent `json:"history"`
}

// LevelInfo returns the current XP, level, title and progress.
func (l *Ledger) LevelInfo() LevelInfo {
	m := l.doc.Meta
	info := LevelInfo{
		XP:        m.XP,
		Level:     m.Level,
		Title:     TitleFor(l.cfg.LevelTitles, m.Level),
		Progress:  m.XP % xpPerLevel,
		ToNext:    xpPerLevel - m.XP%xpPerLevel,
		NextTitle: TitleFor(l.cfg.LevelTitles, m.Level+1),
		History:   append([]LevelEvent{}, m.XPLog...),
	}
	for _, facts := range l.doc.Facts {
		for _, f := range facts {
			if f.Cited() {
				info.Cited++
			} else {
				info.Uncited++
			}
			if f.Decayed {
				info.Decayed++
			}
		}
	}
	return info
}
