// Package logging adapts charmbracelet/log to the pv.Logger interface.
//
// Basic usage:
//
//	logger, err := logging.New(os.Stderr, logging.Config{Level: "info"})
//	if err != nil {
//	    return err
//	}
//	store := pv.NewStore(pv.WithLogger(logger))
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	pv "github.com/goliatone/go-pvscan"
)

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ErrInvalidFormat is returned for an unknown output format.
var ErrInvalidFormat = errors.New("invalid log format")

// ParseLevel parses a level name.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error":
		return log.ErrorLevel, nil
	default:
		return log.InfoLevel, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// ParseFormat parses "text", "json" or "logfmt".
func ParseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("%w: %s", ErrInvalidFormat, s)
	}
}

// Config configures a Logger.
type Config struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string
	// Format is text, json or logfmt.
	Format string
	// Prefix is prepended to every line, e.g. the instrument namespace.
	Prefix string
	// Timestamps enables the time field.
	Timestamps bool
}

// Logger writes pv.LogEvent records through charmbracelet/log.
type Logger struct {
	log *log.Logger
}

// New builds a Logger writing to w. A nil writer means stderr.
func New(w io.Writer, cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	formatter, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	return &Logger{log: log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          cfg.Prefix,
		ReportTimestamp: cfg.Timestamps,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})}, nil
}

// Charm exposes the underlying logger for callers that log outside pv.
func (l *Logger) Charm() *log.Logger {
	return l.log
}

// Log implements pv.Logger. Failed operations log at error level, except
// computation failures, which leave the store consistent and log at warn.
// Per-parameter traffic logs at debug; snapshot and restore summaries at
// info.
func (l *Logger) Log(event pv.LogEvent) {
	keyvals := make([]any, 0, 14)
	if event.Namespace != "" {
		keyvals = append(keyvals, "namespace", event.Namespace)
	}
	if event.Name != "" {
		keyvals = append(keyvals, "name", event.Name)
	}
	if event.Engine != "" {
		keyvals = append(keyvals, "engine", event.Engine)
	}
	if event.Expr != "" {
		keyvals = append(keyvals, "expr", event.Expr)
	}
	if event.Value != nil {
		keyvals = append(keyvals, "value", event.Value)
	}
	if event.Duration > 0 {
		keyvals = append(keyvals, "duration", event.Duration)
	}
	if event.Err != nil {
		keyvals = append(keyvals, "err", event.Err)
	}

	switch {
	case errors.Is(event.Err, pv.ErrComputation):
		l.log.Warn(event.Op, keyvals...)
	case event.Err != nil:
		l.log.Error(event.Op, keyvals...)
	case isSummary(event.Op):
		l.log.Info(event.Op, keyvals...)
	default:
		l.log.Debug(event.Op, keyvals...)
	}
}

func isSummary(op string) bool {
	switch op {
	case "snapshot", "restore", "save", "autosave", "watch":
		return true
	}
	return false
}

var _ pv.Logger = (*Logger)(nil)
