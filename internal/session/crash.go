package session

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/neuraldrift/neuraldrift/internal/durable"
)

// DefaultCrashSignals are the termination signals captured when none are
// given to CaptureCrashes.
var DefaultCrashSignals = []os.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP}

func reraise(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return fmt.Errorf("cannot re-raise %v", sig)
	}
	return unix.Kill(os.Getpid(), s)
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}
	return -1
}

// RecordCrash appends a crash entry with the current dirty flags and plan
// status and saves synchronously.
func (s *Session) RecordCrash(sig os.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CrashLog = append(s.state.CrashLog, CrashEntry{
		Signal:     signalNumber(sig),
		SignalName: sig.String(),
		Time:       durable.At(s.now()),
		DirtyFlags: append([]string{}, s.state.DirtyFlags...),
		Plan:       s.state.Plan.Summary(),
	})
	return s.save()
}

// CaptureCrashes installs a handler for sigs (DefaultCrashSignals if none).
// On the first signal it records a crash entry, restores default handling
// and re-raises the signal. The returned function uninstalls the handler.
// Call it once per process.
func (s *Session) CaptureCrashes(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = DefaultCrashSignals
	}
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, sigs...)

	go func() {
		select {
		case sig := <-ch:
			if err := s.RecordCrash(sig); err != nil {
				s.log.Error().Err(err).Str("signal", sig.String()).Msg("crash save failed")
			} else {
				s.log.Warn().Str("signal", sig.String()).Msg("crash state saved")
			}
			signal.Reset(sigs...)
			if err := s.raise(sig); err != nil {
				s.log.Error().Err(err).Msg("re-raise signal")
			}
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

// InFlight reports whether stopping now would interrupt work: an objective
// still in progress or a plan not yet completed.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.DirtyFlags) > 0 || (s.state.Plan != nil && !s.state.Plan.Completed)
}

// ShutdownOn returns a context cancelled by the first of sigs, for a
// process that stops in an orderly way instead of dying. If work is in
// flight when the signal arrives a crash entry is saved before the context
// is cancelled. The signal is not re-raised.
func (s *Session) ShutdownOn(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		select {
		case sig := <-ch:
			if s.InFlight() {
				if err := s.RecordCrash(sig); err != nil {
					s.log.Error().Err(err).Str("signal", sig.String()).Msg("crash save failed")
				} else {
					s.log.Warn().Str("signal", sig.String()).Strs("dirty", s.DirtyFlags()).Msg("stopped with work in flight")
				}
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(ch)
		cancel()
	}
}
