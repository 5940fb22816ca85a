package main

import (
	"fmt"
	"sort"

	"gitship/internal/target"

	"github.com/spf13/cobra"
)

var targetsConfigFile string

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List configured deployment targets",
	RunE:  runTargets,
}

func init() {
	targetsCmd.Flags().StringVarP(&targetsConfigFile, "config", "c", getEnvOrDefault("GITSHIP_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
}

func runTargets(cmd *cobra.Command, args []string) error {
	configFile := targetsConfigFile
	if configFile == "" {
		found, err := findConfigFile()
		if err != nil {
			exitCode = 3
			return err
		}
		configFile = found
	}

	_, targets, err := target.LoadConfig(configFile)
	if err != nil {
		exitCode = exitCodeForError(err)
		return err
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := targets[name]
		fmt.Printf("%s\t%s@%s\t%s\t%s\n", name, t.Username, t.Addr(), t.Branch, t.RemotePath)
	}

	return nil
}
