package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/neuraldrift/neuraldrift/internal/config"
	"github.com/neuraldrift/neuraldrift/internal/logging"
)

var (
	cfg config.Config
	log zerolog.Logger

	flagHome  string
	flagLocal bool
	flagJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "neuraldrift",
	Short: "Local-first knowledge ledger and session memory for agents",
	Long: "neuraldrift keeps a confidence-scored fact ledger with temperature and XP, " +
		"and a crash-safe session record that decides whether work can resume.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagHome != "" {
			os.Setenv("NEURALDRIFT_HOME", flagHome)
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log = logging.Stderr(cfg.LogLevel)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "State directory (default ~/.neuraldrift, or $NEURALDRIFT_HOME)")
	rootCmd.PersistentFlags().BoolVar(&flagLocal, "local", false, "Open the files directly even if the daemon is running")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(preflightCmd)
	rootCmd.AddCommand(statusCmd)
}

// emit prints v as JSON under --json, otherwise calls human.
func emit(v any, human func()) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human()
	return nil
}
