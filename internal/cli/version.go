package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build metadata, stamped with -ldflags "-X .../internal/cli.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
	Go      string `json:"go"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildInfo{Version: Version, Commit: Commit, Built: BuildDate, Go: runtime.Version()}
		return emit(info, func() {
			fmt.Printf("neuraldrift %s (commit %s, built %s, %s)\n", info.Version, info.Commit, info.Built, info.Go)
		})
	},
}

// VersionString is the short form reported by the daemon's health route.
func VersionString() string {
	return Version + "+" + Commit
}
