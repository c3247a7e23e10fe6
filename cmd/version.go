package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/kozaktomas/facecheck/cmd.Version=..." at build time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), versionInfo())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionInfo() string {
	return fmt.Sprintf("facecheck %s\n  commit:   %s\n  built:    %s\n  go:       %s %s/%s\n",
		Version, CommitSHA, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
