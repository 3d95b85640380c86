// logger.go - Structured logging for the shielded ledger
//
// Events go to the console and an optional log file. When an audit file is configured,
// WARN and above are copied there along with explicit Audit records.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options selects the log sinks.
type Options struct {
	Level     string
	File      string
	AuditFile string
	Console   bool
	// ConsoleWriter overrides os.Stdout for console output.
	ConsoleWriter io.Writer
}

// Logger embeds the main zerolog.Logger and owns its files.
type Logger struct {
	zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// ParseLevel maps debug/info/warn/error/fatal to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a new logger instance
func New(opts Options) (*Logger, error) {
	l := &Logger{audit: zerolog.Nop()}

	var sinks []io.Writer
	if opts.Console {
		w := opts.ConsoleWriter
		if w == nil {
			w = os.Stdout
		}
		sinks = append(sinks, zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05", NoColor: opts.ConsoleWriter != nil})
	}
	if opts.File != "" {
		f, err := openAppend(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		sinks = append(sinks, f)
	}
	if opts.AuditFile != "" {
		f, err := openAppend(opts.AuditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		l.audit = zerolog.New(f).With().Timestamp().Str("log", "audit").Logger()
		sinks = append(sinks, &levelFilter{w: f, min: zerolog.WarnLevel})
	}

	var out io.Writer = io.Discard
	if len(sinks) > 0 {
		out = zerolog.MultiLevelWriter(sinks...)
	}
	l.Logger = zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), audit: zerolog.Nop()}
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
}

// Audit logs an audit event
func (l *Logger) Audit(event string, details map[string]any) {
	l.audit.Log().Str("event", event).Fields(details).Msg("AUDIT")
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *zerolog.Logger {
	child := l.With().Str("component", name).Logger()
	return &child
}

// Close closes the logger and its files
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// levelFilter forwards only events at or above min.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f *levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}
