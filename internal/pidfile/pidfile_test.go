package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "braind.pid")

	assert.Equal(t, State{}, Check(path))

	require.NoError(t, Write(path))
	pid, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	st := Check(path)
	assert.True(t, st.Running)
	assert.False(t, st.Stale())

	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))
	assert.NoFileExists(t, path)
}

func TestReadBadContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "braind.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := Read(path)
	assert.Error(t, err)

	st := Check(path)
	assert.True(t, st.Stale())
}

func TestAliveRejectsNonPositive(t *testing.T) {
	assert.False(t, Alive(0))
	assert.False(t, Alive(-4))
}
