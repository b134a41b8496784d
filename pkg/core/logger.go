package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message. The first argument is the message,
	// the rest are key/value pairs.
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields map[string]interface{}) Logger

	// WithContext returns a logger carrying the request ID found in ctx, if any
	WithContext(ctx context.Context) Logger
}

// LoggerConfig configures the default logger
type LoggerConfig struct {
	// Level is one of debug, info, warn, error (default: info)
	Level string `yaml:"level" json:"level"`

	// Format is one of text, json, logfmt (default: text)
	Format string `yaml:"format" json:"format"`

	// Prefix is prepended to every message (e.g. the component name)
	Prefix string `yaml:"prefix" json:"prefix"`

	// Output defaults to os.Stderr
	Output io.Writer `yaml:"-" json:"-"`
}

// charmLogger implements Logger on top of charmbracelet/log
type charmLogger struct {
	l *charmlog.Logger
}

// NewDefaultLogger creates a text logger at info level writing to stderr
func NewDefaultLogger() Logger {
	return NewLogger(LoggerConfig{})
}

// NewJSONLogger creates a JSON logger at info level writing to stderr
func NewJSONLogger() Logger {
	return NewLogger(LoggerConfig{Format: "json"})
}

// NewLogger creates a logger from config. Unknown levels fall back to info.
func NewLogger(config LoggerConfig) Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := charmlog.ParseLevel(strings.ToLower(config.Level))
	if err != nil || config.Level == "" {
		level = charmlog.InfoLevel
	}

	formatter := charmlog.TextFormatter
	switch strings.ToLower(config.Format) {
	case "json":
		formatter = charmlog.JSONFormatter
	case "logfmt":
		formatter = charmlog.LogfmtFormatter
	}

	return &charmLogger{
		l: charmlog.NewWithOptions(out, charmlog.Options{
			Level:           level,
			Prefix:          config.Prefix,
			Formatter:       formatter,
			ReportTimestamp: true,
		}),
	}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() Logger {
	return NewLogger(LoggerConfig{Output: io.Discard, Level: "error"})
}

// split turns variadic args into a message and key/value pairs.
// A trailing odd key is kept by pairing it with "(missing)".
func split(args []interface{}) (interface{}, []interface{}) {
	if len(args) == 0 {
		return "", nil
	}
	kv := args[1:]
	if len(kv)%2 != 0 {
		kv = append(kv[:len(kv):len(kv)], "(missing)")
	}
	return args[0], kv
}

func (c *charmLogger) Error(args ...interface{}) {
	msg, kv := split(args)
	c.l.Error(msg, kv...)
}

func (c *charmLogger) Errorf(format string, args ...interface{}) {
	c.l.Error(fmt.Sprintf(format, args...))
}

func (c *charmLogger) Warn(args ...interface{}) {
	msg, kv := split(args)
	c.l.Warn(msg, kv...)
}

func (c *charmLogger) Warnf(format string, args ...interface{}) {
	c.l.Warn(fmt.Sprintf(format, args...))
}

func (c *charmLogger) Info(args ...interface{}) {
	msg, kv := split(args)
	c.l.Info(msg, kv...)
}

func (c *charmLogger) Infof(format string, args ...interface{}) {
	c.l.Info(fmt.Sprintf(format, args...))
}

func (c *charmLogger) Debug(args ...interface{}) {
	msg, kv := split(args)
	c.l.Debug(msg, kv...)
}

func (c *charmLogger) Debugf(format string, args ...interface{}) {
	c.l.Debug(fmt.Sprintf(format, args...))
}

// WithFields attaches fields in key order so output is stable
func (c *charmLogger) WithFields(fields map[string]interface{}) Logger {
	if len(fields) == 0 {
		return c
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return &charmLogger{l: c.l.With(kv...)}
}

func (c *charmLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return c
	}
	if id := GetRequestID(ctx); id != "" {
		return &charmLogger{l: c.l.With("request_id", id)}
	}
	return c
}
