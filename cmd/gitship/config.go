package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// defaultConfigPaths lists the locations searched for the targets
// file when --config is not given.
func defaultConfigPaths() []string {
	paths := []string{
		"./targets.yaml",
		"/etc/gitship/targets.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gitship", "targets.yaml"))
	}
	return paths
}

// findConfigFile returns the first existing path from the default
// search list, or an error naming every location tried.
func findConfigFile() (string, error) {
	paths := defaultConfigPaths()
	for _, path := range paths {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
	for _, path := range paths {
		fmt.Fprintf(os.Stderr, "  - %s\n", path)
	}
	fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
	return "", fmt.Errorf("configuration file not found")
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	// Create log directory if needed
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file with secure permissions
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	logger := slog.New(handler)

	return logger, file, nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
