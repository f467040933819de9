// Package output formats CLI output: status lines, progress bars and
// search result listings.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out         io.Writer
	interactive bool
}

// New creates a Writer. Icons and in-place progress are only used when out
// is a terminal.
func New(out io.Writer) *Writer {
	return &Writer{out: out, interactive: isTerminal(out)}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Interactive reports whether the writer targets a terminal.
func (w *Writer) Interactive() bool {
	return w.interactive
}

// Status prints a status message with an icon. Plain "label:" prefixes
// replace icons when not writing to a terminal.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon == "" {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

func (w *Writer) icon(tty, plain string) string {
	if w.interactive {
		return tty
	}
	return plain
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.icon("✅", "ok:"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.icon("⚠️ ", "warning:"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.icon("❌", "error:"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints a code block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress prints a progress bar with message. On a terminal the line is
// redrawn in place; otherwise only completion is printed.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}
	if !w.interactive {
		if current >= total {
			_, _ = fmt.Fprintf(w.out, "%s: %s/%s\n", msg, humanize.Comma(int64(current)), humanize.Comma(int64(total)))
		}
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// ProgressDone completes a progress line with newline.
func (w *Writer) ProgressDone() {
	if w.interactive {
		_, _ = fmt.Fprintln(w.out)
	}
}

// KeyValue prints an aligned "key: value" line.
func (w *Writer) KeyValue(key string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %-14s %v\n", key+":", value)
}

// Results prints search results as a numbered listing.
func (w *Writer) Results(results []store.SearchResult) {
	if len(results) == 0 {
		w.Warning("No results found. Try different keywords.")
		return
	}
	for i, r := range results {
		_, _ = fmt.Fprintf(w.out, "%d. %s  [%s, %.4f]\n", i+1, r.Title, r.Source, r.Score)
		_, _ = fmt.Fprintf(w.out, "   %s\n", r.Path)
		if snippet := strings.TrimSpace(r.Snippet); snippet != "" {
			for _, line := range strings.Split(snippet, "\n") {
				_, _ = fmt.Fprintf(w.out, "   | %s\n", line)
			}
		}
		_, _ = fmt.Fprintln(w.out)
	}
}

// Bytes formats a size for display, e.g. "87 MB".
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// Count formats an integer with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}

// renderProgressBar creates a text progress bar.
func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	filled = max(0, min(filled, width))

	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
