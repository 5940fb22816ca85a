package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

// exitCode is the process exit code, set by subcommands that map
// deployment outcomes to specific codes (0 succeeded, 1 failed,
// 2 timed out, 3 configuration error).
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "gitship",
	Short: "Push-to-deploy over SSH",
	Long: `Gitship deploys a git repository onto a remote host over SSH.

It connects to a configured target, fast-forwards the remote working tree
with git fetch + git reset --hard, and runs optional post-deploy commands,
either on demand or triggered by a push webhook.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func init() {
	// Register subcommands
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(versionCmd)
}
