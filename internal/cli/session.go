package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neuraldrift/neuraldrift/internal/pidfile"
	"github.com/neuraldrift/neuraldrift/internal/preflight"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

func printPlan(p *session.Plan) {
	if p == nil {
		fmt.Println("No active plan.")
		return
	}
	state := "in progress"
	if p.Completed {
		state = "completed"
	}
	fmt.Printf("Plan: %s (%s, started %s)\n", p.Name, state, p.StartedAt)
	for _, o := range p.Objectives {
		when := ""
		if !o.CheckpointedAt.IsZero() {
			when = "  " + humanize.Time(o.CheckpointedAt.Time)
		}
		fmt.Printf("  %-12s %s%s\n", o.Status, o.Name, when)
	}
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage the current plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlanShow()
	},
}

var planStartCmd = &cobra.Command{
	Use:   "start <name> <objective...>",
	Short: "Start a plan, replacing any previous one",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			p, err := b.PlanStart(args[0], args[1:])
			if err != nil {
				return err
			}
			return emit(p, func() { printPlan(p) })
		})
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlanShow()
	},
}

func runPlanShow() error {
	return withBackend(func(b backend) error {
		p, err := b.Plan()
		if err != nil {
			return err
		}
		return emit(p, func() { printPlan(p) })
	})
}

var planCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark every remaining objective completed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			p, err := b.PlanComplete()
			if err != nil {
				return err
			}
			return emit(p, func() { printPlan(p) })
		})
	},
}

// --- checkpoint ---

var checkpointData string

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <objective> [status]",
	Short: "Record progress on an objective (status defaults to in_progress)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := session.InProgress
		if len(args) == 2 {
			status = session.Status(args[1])
		}
		var data json.RawMessage
		if checkpointData != "" {
			if !json.Valid([]byte(checkpointData)) {
				return fmt.Errorf("--data must be valid JSON")
			}
			data = json.RawMessage(checkpointData)
		}
		return withBackend(func(b backend) error {
			p, err := b.Checkpoint(args[0], status, data)
			if err != nil {
				return err
			}
			return emit(p, func() { printPlan(p) })
		})
	},
}

// --- agents ---

var (
	agentName   string
	agentTask   string
	agentResult string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Track sub-agents so a crash can report them",
}

var agentStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Record an agent as active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			return b.Agent(args[0], agentName, agentTask, session.AgentActive)
		})
	},
}

var agentDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Record an agent as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			return b.AgentDone(args[0], agentResult)
		})
	},
}

// --- resume / preflight / status ---

func printReport(r session.Report) {
	fmt.Printf("%s: %s\n", r.Verdict, r.Reason)
	if r.Staleness != "" {
		fmt.Printf("  last checkpoint %s ago\n", r.Staleness)
	}
	for k, v := range r.Integrity {
		fmt.Printf("  integrity %s: %s\n", k, v)
	}
	for _, rec := range r.Recommendations {
		fmt.Printf("  - %s\n", rec)
	}
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Decide whether the previous session can be resumed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(b backend) error {
			r, err := b.Resume()
			if err != nil {
				return err
			}
			return emit(r, func() { printReport(r) })
		})
	},
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Run the startup checks and record a fresh integrity baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := session.Open(cfg.SessionPath(), session.Options{
			LedgerPath: cfg.LedgerPath(),
			Config:     &cfg.Session,
			Log:        log,
		})
		res, err := preflight.Run(s, preflight.Options{
			LedgerPath: cfg.LedgerPath(),
			PIDPath:    cfg.PIDPath(),
			Log:        log,
		})
		if err != nil {
			return err
		}
		if res.Daemon.Running {
			log.Warn().Int("pid", res.Daemon.PID).Msg("daemon is running; its next save will overwrite this baseline")
		}
		return emit(res, func() {
			printReport(res.Report)
			if res.Ledger.Exists {
				fmt.Printf("  ledger: %s, hash %s\n", humanize.Bytes(uint64(res.Ledger.Size)), res.Ledger.Hash)
			} else {
				fmt.Println("  ledger: not created yet")
			}
			if len(res.TempsRemoved) > 0 {
				fmt.Printf("  removed temp files: %s\n", strings.Join(res.TempsRemoved, ", "))
			}
			fmt.Printf("  session %s: %d/%d done, %d agents, %d crashes\n",
				res.Summary.SessionID, res.Summary.Done, res.Summary.Total, res.Summary.Agents, res.Summary.Crashes)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "One-line session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := session.Open(cfg.SessionPath(), session.Options{
			LedgerPath: cfg.LedgerPath(),
			Config:     &cfg.Session,
			Log:        log,
		})
		line := preflight.QuickStatus(s)
		return emit(map[string]string{"status": line}, func() { fmt.Println(line) })
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Start a new session record (the ledger is untouched)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if st := pidfile.Check(cfg.PIDPath()); st.Running {
			return fmt.Errorf("daemon is running (pid %d); stop it before clearing the session", st.PID)
		}
		s := session.Open(cfg.SessionPath(), session.Options{
			LedgerPath: cfg.LedgerPath(),
			Config:     &cfg.Session,
			Log:        log,
		})
		if err := s.Clear(); err != nil {
			return err
		}
		id := s.ID()
		return emit(map[string]string{"session_id": id}, func() { fmt.Printf("New session %s\n", id) })
	},
}

func init() {
	planCmd.AddCommand(planStartCmd, planShowCmd, planCompleteCmd)

	checkpointCmd.Flags().StringVar(&checkpointData, "data", "", "JSON payload to store with the objective")

	agentStartCmd.Flags().StringVar(&agentName, "name", "", "Agent name")
	agentStartCmd.Flags().StringVar(&agentTask, "task", "", "What the agent is doing")
	agentDoneCmd.Flags().StringVar(&agentResult, "result", "", "Outcome summary")
	agentCmd.AddCommand(agentStartCmd, agentDoneCmd)

	rootCmd.AddCommand(planCmd, checkpointCmd, agentCmd, resumeCmd, clearCmd)
}
