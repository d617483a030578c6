package server

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/preflight"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

// maxContextFacts caps the facts injected into a prompt.
const maxContextFacts = 15

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"context": BuildContext(s.ledger, s.session),
	})
}

// BuildContext renders a markdown block for prompt injection: session
// status, hottest topics and the strongest facts.
func BuildContext(l *ledger.Ledger, sess *session.Session) string {
	var b strings.Builder

	b.WriteString("<context>\n## neuraldrift\n")

	info := l.LevelInfo()
	fmt.Fprintf(&b, "Level %d (%s), %d XP\n", info.Level, info.Title, info.XP)
	if sess != nil {
		fmt.Fprintf(&b, "%s\n", preflight.QuickStatus(sess))
		if p := sess.Plan(); p != nil && !p.Completed {
			sum := p.Summary()
			b.WriteString("\n### Active Plan: " + p.Name + "\n")
			for _, o := range sum.Objectives {
				fmt.Fprintf(&b, "- [%s] %s\n", o.Status, o.Name)
			}
		}
	}

	var hot []string
	for _, h := range l.Heatmap() {
		if h.Hot == 0 || len(hot) == 5 {
			break
		}
		hot = append(hot, fmt.Sprintf("%s (%.0f°)", h.Topic, h.Temperature))
	}
	if len(hot) > 0 {
		b.WriteString("\n### Hot Topics\n")
		b.WriteString(strings.Join(hot, ", "))
		b.WriteString("\n")
	}

	entries := l.RecallAll(ledger.RecallOpts{Limit: math.MaxInt32})
	sort.SliceStable(entries, func(i, j int) bool {
		return factScore(entries[i].Fact) > factScore(entries[j].Fact)
	})
	if len(entries) > maxContextFacts {
		entries = entries[:maxContextFacts]
	}
	if len(entries) > 0 {
		b.WriteString("\n### Known Facts\n")
		for _, e := range entries {
			mark := ""
			if e.Fact.Verified {
				mark = " ✓"
			}
			fmt.Fprintf(&b, "- [%s] %s (%d%%%s)\n", e.Topic, e.Fact.Text, e.Fact.Confidence, mark)
		}
	}

	b.WriteString("</context>")
	return b.String()
}

// factScore ranks a fact for context injection. Confidence is boosted by
// recall frequency with diminishing returns: 1 recall is 1.0x, 2 is 2.0x,
// 4 is 3.0x.
func factScore(f ledger.Fact) float64 {
	boost := 1.0
	if f.RecallCount > 0 {
		boost = 1.0 + math.Log2(float64(f.RecallCount))
	}
	return float64(f.Confidence) * boost
}
