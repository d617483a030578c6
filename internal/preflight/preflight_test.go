package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuraldrift/neuraldrift/internal/session"
)

type env struct {
	dir     string
	ledger  string
	pid     string
	now     time.Time
	session *session.Session
}

func testEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:    dir,
		ledger: filepath.Join(dir, "brain_db.json"),
		pid:    filepath.Join(dir, "braind.pid"),
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local),
	}
	e.session = session.Open(filepath.Join(dir, "session_state.json"), session.Options{
		LedgerPath: e.ledger,
		Now:        func() time.Time { return e.now },
		Log:        zerolog.Nop(),
	})
	return e
}

func (e *env) run(t *testing.T) Result {
	t.Helper()
	res, err := Run(e.session, Options{LedgerPath: e.ledger, PIDPath: e.pid, Log: zerolog.Nop()})
	require.NoError(t, err)
	return res
}

func TestRunFirstStart(t *testing.T) {
	e := testEnv(t)
	require.NoError(t, os.WriteFile(e.ledger, []byte(`{"facts": {}, "meta": {}}`), 0o644))

	res := e.run(t)
	assert.Equal(t, session.Restart, res.Verdict)
	assert.True(t, res.Ledger.Exists)
	assert.False(t, res.Ledger.Suspicious)
	assert.Len(t, res.Ledger.Hash, 16)
	assert.False(t, res.Daemon.Present)

	// The baseline taken now makes the next start's check meaningful.
	assert.Equal(t, session.IntegrityOK, e.session.VerifyIntegrity()[session.LedgerKey])
	assert.Equal(t, session.Resume, e.run(t).Verdict)
}

func TestRunFlagsTinyLedger(t *testing.T) {
	e := testEnv(t)
	require.NoError(t, os.WriteFile(e.ledger, []byte("{}"), 0o644))

	res := e.run(t)
	assert.True(t, res.Ledger.Suspicious)
	assert.Contains(t, res.Recommendations, "check brain_db.json: file may be truncated (2 B)")
}

func TestRunRemovesOrphanTemps(t *testing.T) {
	e := testEnv(t)
	for _, name := range []string{".brain_db_abc.tmp", ".session_state_1.tmp", "notes.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte("partial"), 0o644))
	}

	res := e.run(t)
	assert.ElementsMatch(t, []string{".brain_db_abc.tmp", ".session_state_1.tmp"}, res.TempsRemoved)
	assert.FileExists(t, filepath.Join(e.dir, "notes.tmp"))
}

func TestRunRemovesStalePIDFile(t *testing.T) {
	e := testEnv(t)
	require.NoError(t, os.WriteFile(e.pid, []byte("garbage"), 0o644))

	res := e.run(t)
	assert.True(t, res.Daemon.Stale())
	assert.NoFileExists(t, e.pid)
}

func TestQuickStatus(t *testing.T) {
	e := testEnv(t)
	assert.Equal(t, "CP:never", QuickStatus(e.session))

	_, err := e.session.PlanStart("deploy", []string{"build", "test", "push"})
	require.NoError(t, err)
	require.NoError(t, e.session.Checkpoint("build", session.Completed, nil))
	require.NoError(t, e.session.Checkpoint("test", session.InProgress, nil))

	assert.Equal(t, "Plan: 1/3 | DIRTY:1 | CP:2026-03-01 09:00:00", QuickStatus(e.session))
}
