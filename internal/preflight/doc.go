// Package preflight checks that the host can fetch, index and search the
// documentation before any work starts.
//
// The checks cover:
//   - free disk space in the data directory
//   - write access to the data directory
//   - the open file descriptor limit
//   - a git executable for cloning sources
//   - which documentation sources are checked out
//   - the embedding model
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(dataDir, preflight.WithSources(srcs, fetcher))
//	results := checker.RunAll(ctx)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
