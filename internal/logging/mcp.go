package logging

import (
	"log/slog"
)

// SetupServerMode initializes logging for the stdio MCP server.
//
// stdout carries JSON-RPC exclusively and clients treat stray stderr output
// as a crash, so records go to the log file only.
func SetupServerMode(level string) (func(), error) {
	if level == "" {
		level = "info"
	}
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	cleanup, err := SetupDefault(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("server_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))

	return cleanup, nil
}
