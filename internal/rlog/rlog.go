// Package rlog provides the thin line-oriented logging used across
// Ralph-Gold. It has no structured-logging dependency: iteration logs are
// plain text files and terminal output is colorized only when attached to a
// TTY.
package rlog

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Verbosity mirrors the output.verbosity config enum.
type Verbosity string

const (
	Quiet   Verbosity = "quiet"
	Normal  Verbosity = "normal"
	Verbose Verbosity = "verbose"
)

// Logger writes status lines to stdout/stderr, honoring verbosity and TTY
// detection. It is intentionally small: Ralph-Gold's ambient logging need is
// "print a line, sometimes in color, sometimes not at all" rather than a
// structured logging framework.
type Logger struct {
	Out       io.Writer
	Err       io.Writer
	Verbosity Verbosity
	color     bool
}

// New builds a Logger for the given verbosity, auto-detecting color support.
func New(v Verbosity) *Logger {
	return &Logger{
		Out:       os.Stdout,
		Err:       os.Stderr,
		Verbosity: v,
		color:     isatty.IsTerminal(os.Stdout.Fd()),
	}
}

func (l *Logger) enabled(min Verbosity) bool {
	rank := map[Verbosity]int{Quiet: 0, Normal: 1, Verbose: 2}
	return rank[l.Verbosity] >= rank[min]
}

// Status prints a normal-verbosity status line.
func (l *Logger) Status(format string, args ...any) {
	if !l.enabled(Normal) {
		return
	}
	fmt.Fprintf(l.Out, format+"\n", args...)
}

// Verbosef prints only in verbose mode.
func (l *Logger) Verbosef(format string, args ...any) {
	if !l.enabled(Verbose) {
		return
	}
	line := fmt.Sprintf(format, args...)
	if l.color {
		line = color.New(color.FgHiBlack).Sprint(line)
	}
	fmt.Fprintln(l.Out, line)
}

// Warn prints a warning line, colorized yellow on a TTY, to stderr. Warnings
// print regardless of verbosity: they indicate a degraded but non-fatal
// condition the operator should see.
func (l *Logger) Warn(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if l.color {
		line = color.New(color.FgYellow).Sprint(line)
	}
	fmt.Fprintln(l.Err, line)
}

// Error prints an error line, red on a TTY, to stderr.
func (l *Logger) Error(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if l.color {
		line = color.New(color.FgRed).Sprint(line)
	}
	fmt.Fprintln(l.Err, line)
}
