// Package preflight runs the startup protocol: decide whether to resume,
// sanity-check the ledger file, sweep temp files left by interrupted saves,
// probe the daemon and record a fresh integrity baseline.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/neuraldrift/neuraldrift/internal/durable"
	"github.com/neuraldrift/neuraldrift/internal/pidfile"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

// minLedgerSize is the smallest ledger file that can hold a valid document.
const minLedgerSize = 10

type Options struct {
	LedgerPath string
	PIDPath    string
	Log        zerolog.Logger
}

// LedgerFile describes the ledger document on disk.
type LedgerFile struct {
	Exists     bool   `json:"exists"`
	Size       int64  `json:"size"`
	Hash       string `json:"hash,omitempty"`
	Suspicious bool   `json:"suspicious"`
}

// Result is everything preflight learned.
type Result struct {
	session.Report
	Ledger       LedgerFile      `json:"ledger"`
	TempsRemoved []string        `json:"temps_removed"`
	Daemon       pidfile.State   `json:"daemon"`
	Summary      session.Summary `json:"summary"`
}

// Run performs the startup checks against s. The resume verdict is taken
// before anything is written; the integrity baseline is refreshed last.
func Run(s *session.Session, opts Options) (Result, error) {
	res := Result{Report: s.ResumeCheck(), TempsRemoved: []string{}}
	log := opts.Log

	if fi, err := os.Stat(opts.LedgerPath); err == nil {
		res.Ledger = LedgerFile{Exists: true, Size: fi.Size()}
		if fi.Size() < minLedgerSize {
			res.Ledger.Suspicious = true
			log.Error().Int64("size", fi.Size()).Str("file", opts.LedgerPath).Msg("ledger is suspiciously small")
			res.Recommendations = append(res.Recommendations,
				fmt.Sprintf("check %s: file may be truncated (%s)", filepath.Base(opts.LedgerPath), humanize.Bytes(uint64(fi.Size()))))
		} else {
			res.Ledger.Hash, _ = durable.Hash(opts.LedgerPath)
		}
	}

	for dir, targets := range tempTargets(opts.LedgerPath, s.Path()) {
		removed, err := durable.CleanTemps(dir, targets...)
		res.TempsRemoved = append(res.TempsRemoved, removed...)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("temp cleanup incomplete")
		}
	}
	if n := len(res.TempsRemoved); n > 0 {
		log.Warn().Int("count", n).Msg("removed orphaned temp files from an interrupted save")
	}

	if opts.PIDPath != "" {
		res.Daemon = pidfile.Check(opts.PIDPath)
		if res.Daemon.Stale() {
			log.Warn().Int("pid", res.Daemon.PID).Msg("removing stale daemon pid file")
			if err := pidfile.Remove(opts.PIDPath); err != nil {
				log.Warn().Err(err).Msg("remove pid file")
			}
		}
	}

	if err := s.SnapshotIntegrity(); err != nil {
		return res, fmt.Errorf("snapshot integrity: %w", err)
	}
	res.Summary = s.Summary()
	return res, nil
}

func tempTargets(paths ...string) map[string][]string {
	out := map[string][]string{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		out[dir] = append(out[dir], p)
	}
	return out
}

// QuickStatus is a one-line session status for prompts and banners.
func QuickStatus(s *session.Session) string {
	st := s.State()
	var parts []string
	if p := st.Plan; p != nil && !p.Completed {
		done := 0
		for _, o := range p.Objectives {
			if o.Status == session.Completed {
				done++
			}
		}
		parts = append(parts, fmt.Sprintf("Plan: %d/%d", done, len(p.Objectives)))
	}
	if n := len(st.DirtyFlags); n > 0 {
		parts = append(parts, fmt.Sprintf("DIRTY:%d", n))
	}
	last := "never"
	if !st.LastCheckpoint.IsZero() {
		last = st.LastCheckpoint.String()
	}
	parts = append(parts, "CP:"+last)
	return strings.Join(parts, " | ")
}
