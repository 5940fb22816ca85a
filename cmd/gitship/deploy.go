package main

import (
	"errors"
	"fmt"
	"time"

	"gitship/internal/deploy"
	"gitship/internal/history"
	"gitship/internal/report"
	"gitship/internal/sshconn"
	"gitship/internal/target"

	"github.com/spf13/cobra"
)

var (
	deployConfigFile string
	deployLogFile    string
	deployDBPath     string
	deployTargetName string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run one deployment against a target",
	Long: `Run a single deployment attempt against a named target.

The exit code reflects the outcome: 0 succeeded, 1 failed,
2 timed out, 3 configuration error.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployConfigFile, "config", "c", getEnvOrDefault("GITSHIP_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
	deployCmd.Flags().StringVar(&deployLogFile, "log", getEnvOrDefault("GITSHIP_LOG_FILE", "./gitship.log"), "Path to log file")
	deployCmd.Flags().StringVar(&deployDBPath, "db", getEnvOrDefault("GITSHIP_DB_PATH", "./gitship.db"), "Path to SQLite history database (empty disables history)")
	deployCmd.Flags().StringVarP(&deployTargetName, "target", "t", "", "Name of the target to deploy")
	deployCmd.MarkFlagRequired("target")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	configFile := deployConfigFile
	if configFile == "" {
		found, err := findConfigFile()
		if err != nil {
			exitCode = 3
			return err
		}
		configFile = found
	}

	logger, logFileHandle, err := setupLogging(deployLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	_, targets, err := target.LoadConfig(configFile)
	if err != nil {
		exitCode = exitCodeForError(err)
		return err
	}

	registry := target.NewRegistry(targets)

	var store *history.Store
	if deployDBPath != "" {
		store, err = history.NewStore(deployDBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer store.Close()
	}

	orch := deploy.NewOrchestrator(
		target.NewResolver(registry),
		deploy.SSHConnector{Manager: sshconn.NewManager(logger)},
		report.NewReporter(logger, store),
		logger,
	)

	attempt, err := orch.Deploy(cmd.Context(), deployTargetName)
	if err != nil {
		exitCode = exitCodeForError(err)
		return err
	}

	printAttempt(attempt)

	switch attempt.Status {
	case deploy.StatusSucceeded:
		exitCode = 0
		return nil
	case deploy.StatusTimedOut:
		exitCode = 2
	default:
		exitCode = exitCodeForError(attempt.Err)
	}
	return fmt.Errorf("deployment %s: %v", attempt.Status, attempt.Err)
}

// exitCodeForError maps the error taxonomy onto process exit codes.
func exitCodeForError(err error) int {
	var configErr *target.ConfigError
	if errors.As(err, &configErr) {
		return 3
	}
	return 1
}

// printAttempt writes a human-readable step summary to stdout.
func printAttempt(attempt *deploy.Attempt) {
	fmt.Printf("Target:   %s\n", attempt.Target)
	fmt.Printf("Branch:   %s\n", attempt.Branch)
	fmt.Printf("Status:   %s\n", attempt.Status)
	fmt.Printf("Duration: %s\n", attempt.Duration().Round(time.Millisecond))
	for i, step := range attempt.Steps {
		fmt.Printf("  [%d] %s (exit %d, %s)\n", i, step.Command, step.ExitCode, step.Duration.Round(time.Millisecond))
	}
}
