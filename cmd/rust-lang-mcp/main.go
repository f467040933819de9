// Package main provides the entry point for the rust-lang-mcp CLI.
package main

import (
	"os"

	"github.com/tauanbinato/rust-lang-mcp/cmd/rust-lang-mcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
