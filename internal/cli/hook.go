package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuraldrift/neuraldrift/internal/hooks"
)

var hookCmd = &cobra.Command{
	Use:   "hook <start|submit|pretool|tool>",
	Short: "Handle an agent-host hook event read from stdin",
	Long: "Hook handlers never fail the host: errors are reported on stderr " +
		"and the command still exits 0.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{hooks.EventStart, hooks.EventSubmit, hooks.EventPreTool, hooks.EventTool},
	Run: func(cmd *cobra.Command, args []string) {
		b, err := openBackend()
		if err != nil {
			fmt.Fprintf(os.Stderr, "neuraldrift hook: %v\n", err)
			if args[0] == hooks.EventStart {
				hooks.WriteOutput(os.Stdout, "SessionStart", "")
			}
			return
		}
		defer b.Close()
		if err := hooks.Handle(args[0], os.Stdin, os.Stdout, b); err != nil {
			fmt.Fprintf(os.Stderr, "neuraldrift hook: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}
