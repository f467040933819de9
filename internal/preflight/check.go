package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/tauanbinato/rust-lang-mcp/internal/sources"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// ModelProbe reports on the local embedding model.
type ModelProbe interface {
	Exists() bool
	Size() int64
	Dir() string
}

// SourceProbe reports whether a source is checked out.
type SourceProbe interface {
	Available(src sources.Source) bool
}

// Checker performs preflight validation checks.
type Checker struct {
	dataDir  string
	verbose  bool
	output   io.Writer
	sources  []sources.Source
	fetched  SourceProbe
	model    ModelProbe
	semantic bool
	lookPath func(string) (string, error)
	freeFn   func(string) (uint64, error)
	fdFn     func() (uint64, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// WithSources checks which of srcs probe reports as checked out.
func WithSources(srcs []sources.Source, probe SourceProbe) Option {
	return func(c *Checker) {
		c.sources = srcs
		c.fetched = probe
	}
}

// WithModel checks the embedding model. enabled is false when semantic
// search is turned off in the configuration.
func WithModel(probe ModelProbe, enabled bool) Option {
	return func(c *Checker) {
		c.model = probe
		c.semantic = enabled
	}
}

// New creates a new Checker for dataDir with the given options.
func New(dataDir string, opts ...Option) *Checker {
	c := &Checker{
		dataDir:  dataDir,
		output:   os.Stdout,
		lookPath: exec.LookPath,
		freeFn:   freeBytes,
		fdFn:     fileLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks and returns the results.
func (c *Checker) RunAll(_ context.Context) []CheckResult {
	var results []CheckResult

	results = append(results, c.CheckDiskSpace())
	results = append(results, c.CheckWritePermissions())
	results = append(results, c.CheckFileDescriptors())
	results = append(results, c.CheckGit())

	if c.fetched != nil {
		results = append(results, c.CheckSources())
	}

	// Non-critical: search falls back to keyword-only
	if c.model != nil {
		results = append(results, c.CheckEmbedderModel())
	}

	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "rust-lang-mcp system check")
	_, _ = fmt.Fprintln(c.output, "==========================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckWritePermissions checks that the data directory can be created and
// written to.
func (c *Checker) CheckWritePermissions() CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.dataDir, err)
		return result
	}

	f, err := os.CreateTemp(c.dataDir, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = c.dataDir
	return result
}

// CheckGit checks that git is on PATH. Sources are cloned with it.
func (c *Checker) CheckGit() CheckResult {
	result := CheckResult{
		Name:     "git",
		Required: true,
	}

	path, err := c.lookPath("git")
	if err != nil {
		result.Status = StatusFail
		result.Message = "git not found on PATH"
		result.Details = "Install git to fetch the documentation sources"
		return result
	}

	result.Status = StatusPass
	result.Message = path
	return result
}

// CheckSources reports which documentation sources are checked out.
func (c *Checker) CheckSources() CheckResult {
	result := CheckResult{
		Name:     "sources",
		Required: false,
	}

	var missing []string
	for _, src := range c.sources {
		if !c.fetched.Available(src) {
			missing = append(missing, src.ID)
		}
	}

	if len(missing) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d of %d fetched (missing: %s)",
			len(c.sources)-len(missing), len(c.sources), strings.Join(missing, ", "))
		result.Details = "Run 'rust-lang-mcp sources fetch'"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d of %d fetched", len(c.sources), len(c.sources))
	return result
}
