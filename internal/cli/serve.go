package cli

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neuraldrift/neuraldrift/internal/journal"
	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/pidfile"
	"github.com/neuraldrift/neuraldrift/internal/preflight"
	"github.com/neuraldrift/neuraldrift/internal/server"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon on a unix socket",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if st := pidfile.Check(cfg.PIDPath()); st.Running {
		return fmt.Errorf("daemon already running (pid %d)", st.PID)
	}

	l, err := ledger.Open(cfg.LedgerPath(), ledger.Options{
		Ledger:      &cfg.Ledger,
		Temperature: &cfg.Temperature,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	sess := session.Open(cfg.SessionPath(), session.Options{
		LedgerPath: cfg.LedgerPath(),
		Config:     &cfg.Session,
		Log:        log,
	})

	pre, err := preflight.Run(sess, preflight.Options{
		LedgerPath: cfg.LedgerPath(),
		PIDPath:    cfg.PIDPath(),
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	log.Info().Str("verdict", string(pre.Verdict)).Str("reason", pre.Reason).Msg("resume check")

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	if err := pidfile.Write(cfg.PIDPath()); err != nil {
		return err
	}
	defer pidfile.Remove(cfg.PIDPath())

	// INT and TERM stop the daemon in order, recording a crash entry first
	// when a plan is still open. HUP and QUIT are recorded and re-raised.
	stopCapture := sess.CaptureCrashes(syscall.SIGHUP, syscall.SIGQUIT)
	defer stopCapture()

	ctx, stop := sess.ShutdownOn(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Deps{
		Ledger:  l,
		Session: sess,
		Journal: j,
		Config:  cfg,
		Version: VersionString(),
		Log:     log,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	ln, err := server.Listen(cfg.SocketPath())
	if err != nil {
		return err
	}
	defer os.Remove(cfg.SocketPath())

	log.Info().
		Str("socket", cfg.SocketPath()).
		Str("ledger", cfg.LedgerPath()).
		Str("journal", cfg.JournalPath()).
		Int("pid", os.Getpid()).
		Msg("neuraldrift serving")

	err = srv.Serve(ctx, ln)
	log.Info().Msg("shut down")
	return err
}
