package durable

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain_db.json")

	require.NoError(t, Save(path, doc{Name: "net", Count: 3}))

	got, src := Load(path, doc{}, zerolog.Nop())
	assert.Equal(t, Primary, src)
	assert.Equal(t, doc{Name: "net", Count: 3}, got)
}

func TestSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.json")
	require.NoError(t, Save(path, doc{Name: "x"}))
	assert.FileExists(t, path)
}

func TestSaveKeepsBackupOfPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain_db.json")

	require.NoError(t, Save(path, doc{Name: "first"}))
	assert.NoFileExists(t, BackupPath(path), "no backup before the first overwrite")

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, Save(path, doc{Name: "second"}))
	bak, err := os.ReadFile(BackupPath(path))
	require.NoError(t, err)
	assert.Equal(t, first, bak)
}

func TestSaveFailureBeforeRenameLeavesTargetIntact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brain_db.json")
	require.NoError(t, Save(path, doc{Name: "good", Count: 1}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	rename = func(string, string) error { return errors.New("power cut") }
	t.Cleanup(func() { rename = os.Rename })

	err = Save(path, doc{Name: "half-written", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "power cut")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "target must be byte-identical after a failed save")

	temps, err := filepath.Glob(filepath.Join(dir, TempPattern(path)))
	require.NoError(t, err)
	assert.Empty(t, temps, "temp file must be cleaned up")
}

func TestSaveMarshalErrorTouchesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain_db.json")
	err := Save(path, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.NoFileExists(t, path)
}

func TestLoadMissingReturnsFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	got, src := Load(path, doc{Name: "fresh"}, zerolog.Nop())
	assert.Equal(t, Fallback, src)
	assert.Equal(t, "fresh", got.Name)
}

func TestLoadCorruptSelfHealsFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain_db.json")
	require.NoError(t, Save(path, doc{Name: "good", Count: 7}))
	require.NoError(t, Save(path, doc{Name: "good", Count: 8}))
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "trunc`), 0o644))

	got, src := Load(path, doc{}, zerolog.Nop())
	assert.Equal(t, Backup, src)
	assert.Equal(t, doc{Name: "good", Count: 7}, got)

	healed, err := os.ReadFile(path)
	require.NoError(t, err)
	bak, err := os.ReadFile(BackupPath(path))
	require.NoError(t, err)
	assert.Equal(t, bak, healed, "primary is rewritten from the backup")
}

func TestLoadMissingPrimaryWithBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_state.json")
	require.NoError(t, Save(BackupPath(path), doc{Name: "from-bak"}))

	got, src := Load(path, doc{}, zerolog.Nop())
	assert.Equal(t, Backup, src)
	assert.Equal(t, "from-bak", got.Name)
	assert.FileExists(t, path)
}

func TestLoadBothCorruptFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brain_db.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))
	require.NoError(t, os.WriteFile(BackupPath(path), []byte("not json"), 0o644))

	got, src := Load(path, doc{Name: "fresh"}, zerolog.Nop())
	assert.Equal(t, Fallback, src)
	assert.Equal(t, "fresh", got.Name)
}

func TestHash(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o644))

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Len(t, ha, 16)
	assert.Equal(t, ha, hb)

	require.NoError(t, os.WriteFile(b, []byte("different"), 0o644))
	hb, err = Hash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	_, err = Hash(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCleanTemps(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "brain_db.json")
	session := filepath.Join(dir, "session_state.json")

	for _, name := range []string{".brain_db_123.tmp", ".session_state_9.tmp", "keep.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	removed, err := CleanTemps(dir, ledger, session)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".brain_db_123.tmp", ".session_state_9.tmp"}, removed)
	assert.FileExists(t, filepath.Join(dir, "keep.tmp"))
}
