// Package logging provides structured logging with trace ID propagation,
// modeled on the reference service platform's infrastructure/logging
// package but trimmed to what a single-process embedded controller needs.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	UIDKey     ContextKey = "uid"
)

// Logger wraps logrus.Logger with FuelFlux-specific structured helpers.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the named component.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL / LOG_FORMAT, defaulting to
// info/json the way the reference platform's NewFromEnv does.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns an entry carrying the component name and any trace
// ID / UID found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if traceID := GetTraceID(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if uid := GetUID(ctx); uid != "" {
		entry = entry.WithField("uid", uid)
	}
	return entry
}

// WithFields returns an entry carrying the component name plus fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// NewTraceID generates a new trace identifier for correlating a single
// session's log lines end-to-end.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from ctx, or "" if absent.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUID returns a context carrying the cardholder UID.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, UIDKey, uid)
}

// GetUID extracts the cardholder UID from ctx, or "" if absent.
func GetUID(ctx context.Context) string {
	if v, ok := ctx.Value(UIDKey).(string); ok {
		return v
	}
	return ""
}

// LogBackendCall logs a call to the remote backend API.
func (l *Logger) LogBackendCall(ctx context.Context, endpoint string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("backend call failed")
		return
	}
	entry.Debug("backend call succeeded")
}

// LogTransition logs a state machine transition.
func (l *Logger) LogTransition(ctx context.Context, from, to, event string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"from":  from,
		"to":    to,
		"event": event,
	}).Info("state transition")
}

// LogSecurityEvent logs a security-relevant anomaly (e.g. a checksum
// mismatch on a durable store row).
func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, details logrus.Fields) {
	fields := logrus.Fields{"event_type": eventType, "severity": "security"}
	for k, v := range details {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Warn("security event")
}

var defaultLogger *Logger

// InitDefault initializes the package-level default logger.
func InitDefault(component, level, format string) {
	defaultLogger = New(component, level, format)
}

// Default returns the default logger, initializing a fallback if needed.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("fuelflux", "info", "json")
	}
	return defaultLogger
}
