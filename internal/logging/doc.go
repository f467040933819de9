// Package logging configures structured slog output with file rotation.
//
// The stdio server must never write to stdout or stderr outside the MCP
// protocol stream, so serve mode logs to ~/.rust-lang-mcp/logs/server.log
// only. CLI commands log to stderr and, with --debug, to the file as well.
package logging
