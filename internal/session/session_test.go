package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	dir    string
	ledger string
	clock  *clock
	raised chan os.Signal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		dir:    dir,
		ledger: filepath.Join(dir, "brain_db.json"),
		clock:  &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)},
		raised: make(chan os.Signal, 1),
	}
}

func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	return Open(filepath.Join(f.dir, "session_state.json"), Options{
		LedgerPath: f.ledger,
		Now:        f.clock.Now,
		Log:        zerolog.Nop(),
		Raise: func(sig os.Signal) error {
			f.raised <- sig
			return nil
		},
	})
}

func (f *fixture) writeLedger(t *testing.T, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.ledger, []byte(body), 0o644))
}

// deploy sets up a three-step plan with build done and test interrupted.
func deploy(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.PlanStart("deploy", []string{"build", "test", "push"})
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint("build", Completed, map[string]string{"artifact": "app.tar"}))
	require.NoError(t, s.Checkpoint("test", InProgress, nil))
}

func TestResumeWithoutPreviousSession(t *testing.T) {
	f := newFixture(t)
	r := f.open(t).ResumeCheck()
	assert.Equal(t, Restart, r.Verdict)
	assert.Contains(t, r.Reason, "no previous session")
}

func TestResumeFreshDeploy(t *testing.T) {
	f := newFixture(t)
	f.writeLedger(t, `{"facts": {}}`)
	s := f.open(t)
	require.NoError(t, s.SnapshotIntegrity())
	deploy(t, s)

	f.clock.Advance(30 * time.Minute)
	r := f.open(t).ResumeCheck()

	assert.Equal(t, Resume, r.Verdict)
	assert.Equal(t, IntegrityOK, r.Integrity[LedgerKey])
	assert.Equal(t, []string{"test"}, r.DirtyFlags)
	assert.Equal(t, "30m0s", r.Staleness)
	assert.Contains(t, r.Recommendations, "done: build")
	assert.Contains(t, r.Recommendations, "dirty (interrupted): test: verify before continuing")
	assert.Contains(t, r.Recommendations, "next up: push")
}

func TestResumeWarmDeployIsPartial(t *testing.T) {
	f := newFixture(t)
	f.writeLedger(t, `{"facts": {}}`)
	s := f.open(t)
	require.NoError(t, s.SnapshotIntegrity())
	deploy(t, s)

	f.clock.Advance(6 * time.Hour)
	r := f.open(t).ResumeCheck()

	assert.Equal(t, Partial, r.Verdict)
	assert.Equal(t, []string{"test"}, r.DirtyFlags)
	assert.Contains(t, r.Reason, "1/3 objectives done")
	assert.Contains(t, r.Recommendations, "completed: build")
	assert.Contains(t, r.Recommendations, "remaining: test, push")
	assert.Contains(t, r.Recommendations, "dirty (interrupted mid-work): test: restart these")
}

func TestResumeWarmWithoutProgressRestarts(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	_, err := s.PlanStart("deploy", []string{"build", "test"})
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint("build", InProgress, nil))

	f.clock.Advance(3 * time.Hour)
	r := s.ResumeCheck()
	assert.Equal(t, Restart, r.Verdict)
	assert.Contains(t, r.Reason, "no partial progress")
}

func TestResumeWarmWithoutPlanRestarts(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.AgentSnapshot("a1", "scout", "read docs", ""))

	f.clock.Advance(3 * time.Hour)
	assert.Equal(t, Restart, s.ResumeCheck().Verdict)
}

func TestResumeStaleRestarts(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)

	f.clock.Advance(13 * time.Hour)
	r := s.ResumeCheck()
	assert.Equal(t, Restart, r.Verdict)
	assert.Contains(t, r.Reason, "stale")
	assert.Contains(t, r.Recommendations, `previous plan "deploy" was incomplete: review before restarting`)
}

func TestResumeBandEdges(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, Resume, s.ResumeCheck().Verdict, "exactly two hours is still fresh")

	f.clock.Advance(10 * time.Hour)
	assert.Equal(t, Partial, s.ResumeCheck().Verdict, "exactly twelve hours is still warm")

	f.clock.Advance(time.Second)
	assert.Equal(t, Restart, s.ResumeCheck().Verdict)
}

func TestResumeLedgerIntegrity(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, f *fixture)
		status  IntegrityStatus
		verdict Verdict
	}{
		{"unchanged", func(*testing.T, *fixture) {}, IntegrityOK, Resume},
		{"changed", func(t *testing.T, f *fixture) { f.writeLedger(t, `{"facts": {"x": []}}`) }, IntegrityChanged, Resume},
		{"missing", func(t *testing.T, f *fixture) { require.NoError(t, os.Remove(f.ledger)) }, IntegrityMissing, Restart},
		{"corrupt", func(t *testing.T, f *fixture) { f.writeLedger(t, `{"facts": {`) }, IntegrityCorrupt, Restart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.writeLedger(t, `{"facts": {}}`)
			s := f.open(t)
			require.NoError(t, s.SnapshotIntegrity())
			deploy(t, s)

			tt.mutate(t, f)
			f.clock.Advance(10 * time.Minute)

			assert.Equal(t, tt.status, s.VerifyIntegrity()[LedgerKey])
			r := s.ResumeCheck()
			assert.Equal(t, tt.verdict, r.Verdict)
			if tt.verdict == Restart {
				assert.Contains(t, r.Reason, "ledger integrity")
			}
		})
	}
}

func TestVerifyIntegrityWithoutBaseline(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	assert.Equal(t, IntegrityNoBaseline, s.VerifyIntegrity()[LedgerKey])

	// A snapshot taken before the ledger exists records no hash.
	require.NoError(t, s.SnapshotIntegrity())
	f.writeLedger(t, `{}`)
	assert.Equal(t, IntegrityNoBaseline, s.VerifyIntegrity()[LedgerKey])
}

func TestAdvisoriesDoNotChangeVerdict(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)
	f.clock.Advance(time.Hour)
	before := s.ResumeCheck()

	require.NoError(t, s.AgentSnapshot("b", "tester", "run suite", AgentActive))
	require.NoError(t, s.AgentSnapshot("a", "builder", "compile", AgentActive))
	require.NoError(t, s.AgentSnapshot("c", "pusher", "upload", AgentActive))
	require.NoError(t, s.AgentDone("c", "uploaded"))
	require.NoError(t, s.RecordCrash(syscall.SIGTERM))

	after := s.ResumeCheck()
	assert.Equal(t, before.Verdict, after.Verdict)
	require.Len(t, after.LostAgents, 2)
	assert.Equal(t, "a", after.LostAgents[0].ID)
	assert.Equal(t, "b", after.LostAgents[1].ID)
	assert.Contains(t, after.Recommendations, "lost agents (active at crash): builder (compile), tester (run suite)")
	assert.Contains(t, after.Recommendations[len(after.Recommendations)-1], "last crash: signal 15")
}

func TestResumeCheckIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.writeLedger(t, `{"facts": {}}`)
	s := f.open(t)
	require.NoError(t, s.SnapshotIntegrity())
	deploy(t, s)
	for _, id := range []string{"z", "m", "a", "q"} {
		require.NoError(t, s.AgentSnapshot(id, "agent-"+id, "task", AgentActive))
	}
	f.clock.Advance(4 * time.Hour)

	first := s.ResumeCheck()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.ResumeCheck())
	}
	assert.Equal(t, first, f.open(t).ResumeCheck(), "same verdict after reload")
}

func TestResumeCheckDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	s.ResumeCheck()

	after, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, data, after)
}

func inProgress(p *Plan) []string {
	out := []string{}
	for _, o := range p.Objectives {
		if o.Status == InProgress {
			out = append(out, o.Name)
		}
	}
	return out
}

func TestDirtyFlagsTrackInProgress(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	_, err := s.PlanStart("migrate", []string{"a", "b", "c"})
	require.NoError(t, err)

	steps := []struct {
		obj    string
		status Status
	}{
		{"a", InProgress},
		{"b", InProgress},
		{"a", InProgress},
		{"a", Completed},
		{"c", InProgress},
		{"b", Failed},
		{"b", InProgress}, // a failed objective can be retried
		{"d", InProgress}, // unknown objectives join the plan
		{"c", Pending},
		{"b", Completed},
		{"d", Failed},
		{"c", Completed},
	}
	for i, st := range steps {
		require.NoError(t, s.Checkpoint(st.obj, st.status, nil))
		p := s.Plan()

		flags := s.DirtyFlags()
		want := inProgress(p)
		sort.Strings(flags)
		sort.Strings(want)
		assert.Equal(t, want, flags, "step %d", i)
		assert.Equal(t, allTerminal(p.Objectives), p.Completed, "step %d", i)
	}

	p := s.Plan()
	assert.True(t, p.Completed)
	assert.Empty(t, s.DirtyFlags())
	assert.Len(t, s.State().Checkpoints, len(steps))

	names := make([]string, 0, len(p.Objectives))
	for _, o := range p.Objectives {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}

func TestCheckpointErrors(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	assert.ErrorIs(t, s.Checkpoint("x", InProgress, nil), ErrNoPlan)
	assert.ErrorIs(t, s.PlanComplete(), ErrNoPlan)

	_, err := s.PlanStart("p", []string{"x"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Checkpoint("x", Status("done"), nil), ErrInvalidStatus)
	assert.Error(t, s.Checkpoint("x", InProgress, make(chan int)))
	assert.Empty(t, s.DirtyFlags())
}

func TestPlanComplete(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)

	require.NoError(t, s.PlanComplete())
	p := s.Plan()
	assert.True(t, p.Completed)
	for _, o := range p.Objectives {
		assert.True(t, o.Status.Terminal(), o.Name)
	}
	assert.Empty(t, s.DirtyFlags())

	f.clock.Advance(3 * time.Hour)
	r := s.ResumeCheck()
	assert.Equal(t, Restart, r.Verdict)
	assert.Contains(t, r.Reason, "no active plan")
}

func TestPlanStateSurvivesReopen(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	_, err := s.PlanStart("order", []string{"zeta", "alpha", "mid", "alpha"})
	require.NoError(t, err)
	require.NoError(t, s.Checkpoint("mid", Completed, map[string]int{"rows": 42}))

	p := f.open(t).Plan()
	require.NotNil(t, p)
	require.Len(t, p.Objectives, 3)
	assert.Equal(t, "zeta", p.Objectives[0].Name)
	assert.Equal(t, "alpha", p.Objectives[1].Name)
	assert.Equal(t, "mid", p.Objectives[2].Name)
	assert.JSONEq(t, `{"rows": 42}`, string(p.Objectives[2].Data))
	assert.Equal(t, s.ID(), f.open(t).ID())
}

func TestRecordCrash(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)

	require.NoError(t, s.RecordCrash(syscall.SIGTERM))

	st := f.open(t).State()
	require.Len(t, st.CrashLog, 1)
	c := st.CrashLog[0]
	assert.Equal(t, int(syscall.SIGTERM), c.Signal)
	assert.Equal(t, []string{"test"}, c.DirtyFlags)
	require.NotNil(t, c.Plan)
	assert.Equal(t, "deploy", c.Plan.Name)
}

func TestCaptureCrashesSavesAndReraises(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)

	stop := s.CaptureCrashes(syscall.SIGUSR1)
	t.Cleanup(stop)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-f.raised:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("signal was not re-raised")
	}

	st := f.open(t).State()
	require.Len(t, st.CrashLog, 1)
	assert.Equal(t, int(syscall.SIGUSR1), st.CrashLog[0].Signal)
}

func TestClearAndSummary(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)
	require.NoError(t, s.AgentSnapshot("a", "builder", "compile", ""))

	sum := s.Summary()
	assert.Equal(t, "deploy", sum.Plan)
	assert.Equal(t, 1, sum.Done)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 1, sum.Agents)
	assert.Equal(t, []string{"test"}, sum.DirtyFlags)

	f.clock.Advance(time.Minute)
	require.NoError(t, s.Clear())
	assert.Nil(t, s.Plan())
	assert.Empty(t, s.LostAgents())
	assert.Equal(t, "s_"+strconv.FormatInt(f.clock.Now().Unix(), 10), s.ID())
}

func TestOpenRecoversCorruptSession(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)
	require.NoError(t, s.Checkpoint("push", InProgress, nil))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{"), 0o644))

	p := f.open(t).Plan()
	require.NotNil(t, p)
	assert.Equal(t, "deploy", p.Name)
}

func waitDone(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown context was not cancelled")
	}
}

func TestShutdownOnRecordsInFlightWork(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)
	require.True(t, s.InFlight())

	ctx, stop := s.ShutdownOn(context.Background(), syscall.SIGTERM)
	t.Cleanup(stop)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitDone(t, ctx)

	st := f.open(t).State()
	require.Len(t, st.CrashLog, 1)
	assert.Equal(t, int(syscall.SIGTERM), st.CrashLog[0].Signal)
	assert.Equal(t, []string{"test"}, st.CrashLog[0].DirtyFlags)
	assert.Empty(t, f.raised, "an orderly stop does not re-raise")
}

func TestShutdownOnIdleSessionRecordsNothing(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	_, err := s.PlanStart("release", []string{"tag"})
	require.NoError(t, err)
	require.NoError(t, s.PlanComplete())
	require.False(t, s.InFlight())

	ctx, stop := s.ShutdownOn(context.Background(), syscall.SIGTERM)
	t.Cleanup(stop)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitDone(t, ctx)

	assert.Empty(t, f.open(t).State().CrashLog)
}

func TestFailedSaveRollsBackCheckpoint(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	deploy(t, s)

	path := s.Path()
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "in-the-way"), 0o755))

	require.Error(t, s.Checkpoint("test", Completed, nil))
	assert.Equal(t, []string{"test"}, s.DirtyFlags())
	assert.Equal(t, InProgress, s.Plan().Objectives[1].Status)
	require.Error(t, s.AgentSnapshot("a", "builder", "compile", ""))
	assert.Empty(t, s.LostAgents())

	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, s.Checkpoint("test", Completed, nil))
	assert.Empty(t, s.DirtyFlags())
	assert.Len(t, f.open(t).State().Checkpoints, 3)
}
