package main

import (
	"fmt"

	"gitship/internal/deploy"
	"gitship/internal/history"
	"gitship/internal/report"
	"gitship/internal/server"
	"gitship/internal/sshconn"
	"gitship/internal/target"

	"github.com/spf13/cobra"
)

var (
	serveConfigFile string
	serveLogFile    string
	serveDBPath     string
	serveHost       string
	servePort       int
	serveTestMode   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server that receives push webhook requests.

The server listens for push events and triggers deployments over SSH
based on your target configuration.`,
	RunE: runServe,
}

func init() {
	// Flags for serve command
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", getEnvOrDefault("GITSHIP_CONFIG_FILE", ""), "Path to targets.yaml configuration file")
	serveCmd.Flags().StringVar(&serveLogFile, "log", getEnvOrDefault("GITSHIP_LOG_FILE", "./gitship.log"), "Path to log file")
	serveCmd.Flags().StringVar(&serveDBPath, "db", getEnvOrDefault("GITSHIP_DB_PATH", "./gitship.db"), "Path to SQLite history database")
	serveCmd.Flags().StringVar(&serveHost, "host", getEnvOrDefault("GITSHIP_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvOrDefaultInt("GITSHIP_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&serveTestMode, "test-mode", false, "Enable test mode (no rate limiting, no history)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile := serveConfigFile
	if configFile == "" {
		found, err := findConfigFile()
		if err != nil {
			return err
		}
		configFile = found
	}

	// Set up logging
	logger, logFileHandle, err := setupLogging(serveLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting gitship")

	// Load configuration
	logger.Info("Loading configuration", "config", configFile)
	_, targets, err := target.LoadConfig(configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("Configuration validated successfully", "count", len(targets))

	// Warn if no targets are configured
	if len(targets) == 0 {
		logger.Warn("No targets configured in config file", "config", configFile)
		logger.Warn("The server will start but won't handle any deployments until targets are added")
	}

	// Create target registry
	registry := target.NewRegistry(targets)

	// Initialize history database
	var store *history.Store
	if !serveTestMode {
		logger.Info("Initializing history database", "db", serveDBPath)
		store, err = history.NewStore(serveDBPath)
		if err != nil {
			logger.Error("Failed to initialize history database", "error", err)
			return fmt.Errorf("failed to initialize history database: %w", err)
		}
		defer store.Close()
	}

	reporter := report.NewReporter(logger, store)
	orch := deploy.NewOrchestrator(
		target.NewResolver(registry),
		deploy.SSHConnector{Manager: sshconn.NewManager(logger)},
		reporter,
		logger,
	)

	// Create and start server
	srv := server.NewServer(registry, orch, reporter, store, logger, serveTestMode)

	logger.Info("Starting HTTP server", "host", serveHost, "port", servePort)
	if err := srv.Start(serveHost, servePort); err != nil {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}
