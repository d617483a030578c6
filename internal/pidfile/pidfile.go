// Package pidfile records the daemon's process id and checks whether the
// recorded process is still alive.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Write records the current process id at path.
func Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Read returns the process id stored at path. The error wraps
// os.ErrNotExist when there is no pid file.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: bad contents %q", filepath.Base(path), strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Remove deletes the pid file if present.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Alive reports whether pid names a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, _ := proc.IsRunning()
	return running
}

// State describes the pid file at a path.
type State struct {
	PID     int  `json:"pid"`
	Present bool `json:"present"`
	Running bool `json:"running"`
}

// Stale reports a pid file left behind by a dead process.
func (s State) Stale() bool { return s.Present && !s.Running }

// Check reads path and probes the recorded process. A missing or
// unreadable file yields a zero State.
func Check(path string) State {
	pid, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}
		}
		return State{Present: true}
	}
	return State{PID: pid, Present: true, Running: Alive(pid)}
}
