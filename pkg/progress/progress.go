// Package progress provides timestamped logging to stdout and an optional file, with phase colours.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/umputun/trafficlight/pkg/status"
)

// colours using fatih/color.
var (
	redColor       = color.New(color.FgRed, color.Bold)
	greenColor     = color.New(color.FgGreen, color.Bold)
	infoColor      = color.New(color.FgCyan)
	warnColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	timestampColor = color.New(color.FgWhite)
)

// phaseColors maps phases to their colour.
var phaseColors = map[status.Phase]*color.Color{
	status.PhaseRed:   redColor,
	status.PhaseGreen: greenColor,
}

// timestampFormat is the format for timestamps: YY-MM-DD HH:MM:SS
const timestampFormat = "06-01-02 15:04:05"

// Config holds logger configuration.
type Config struct {
	LogFile string // optional path of a log file, stdout only if empty
	NoColor bool   // disable color output (sets color.NoColor globally)
	Debug   bool   // print Debug messages
}

// Logger writes timestamped output to stdout and, when configured, to a file.
// safe for concurrent use.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	stdout    io.Writer
	startTime time.Time
	debug     bool
}

// NewLogger creates a logger. colours are disabled when requested or when stdout is not a terminal.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.NoColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}

	l := &Logger{
		stdout:    os.Stdout,
		startTime: time.Now(),
		debug:     cfg.Debug,
	}

	if cfg.LogFile == "" {
		return l, nil
	}

	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // path from cli flag
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.file = f

	l.writeFile("# trafficlight log\n")
	l.writeFile("Started: %s\n", l.startTime.Format("2006-01-02 15:04:05"))
	l.writeFile("%s\n\n", strings.Repeat("-", 60))

	return l, nil
}

// Path returns the log file path, empty when logging to stdout only.
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Print writes a timestamped informational message.
func (l *Logger) Print(format string, args ...any) {
	l.print(infoColor, "", format, args...)
}

// PrintPhase writes a timestamped message in the colour of phase.
func (l *Logger) PrintPhase(phase status.Phase, format string, args ...any) {
	c, ok := phaseColors[phase]
	if !ok {
		c = infoColor
	}
	l.print(c, "", format, args...)
}

// Debug writes a message only when debug output is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	l.print(timestampColor, "DEBUG: ", format, args...)
}

// Warn writes a warning message in yellow.
func (l *Logger) Warn(format string, args ...any) {
	l.print(warnColor, "WARN: ", format, args...)
}

// Error writes an error message in red.
func (l *Logger) Error(format string, args ...any) {
	l.print(errorColor, "ERROR: ", format, args...)
}

// Elapsed returns formatted elapsed time since the logger was created.
func (l *Logger) Elapsed() string {
	return humanize.RelTime(l.startTime, time.Now(), "", "")
}

// Close writes a footer and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	l.writeFile("\n%s\n", strings.Repeat("-", 60))
	l.writeFile("Completed: %s (%s)\n", time.Now().Format("2006-01-02 15:04:05"), l.Elapsed())

	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

func (l *Logger) print(c *color.Color, prefix, format string, args ...any) {
	msg := prefix + fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(timestampFormat)

	l.mu.Lock()
	defer l.mu.Unlock()

	// file output without colour
	l.writeFile("[%s] %s\n", timestamp, msg)

	tsStr := timestampColor.Sprintf("[%s]", timestamp)
	fmt.Fprintf(l.stdout, "%s %s\n", tsStr, c.Sprint(msg))
}

// writeFile must be called with the lock held, or before the logger is shared.
func (l *Logger) writeFile(format string, args ...any) {
	if l.file != nil {
		fmt.Fprintf(l.file, format, args...)
	}
}
